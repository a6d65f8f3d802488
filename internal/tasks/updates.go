package tasks

import (
	"fmt"
	"time"

	"github.com/desertthunder/vibetag/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase (0 when unknown)
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	PullPage Phase = iota
	HydratePage
	PushSong
	AnalyzeChunk
)

func (p Phase) String() string {
	switch p {
	case PullPage:
		return "pull_page"
	case HydratePage:
		return "hydrate_page"
	case PushSong:
		return "push_song"
	case AnalyzeChunk:
		return "analyze_chunk"
	default:
		return ""
	}
}

// SyncStats is a snapshot of the engine and the library it syncs.
type SyncStats struct {
	Library   models.LibraryStats `json:"library"`
	IsPulling bool                `json:"isPulling"`
	IsPushing bool                `json:"isPushing"`
	LastPull  time.Time           `json:"lastPull,omitzero"`
	LastPush  time.Time           `json:"lastPush,omitzero"`
	LastError string              `json:"lastError,omitempty"`
}

// PushResult summarizes one push cycle.
type PushResult struct {
	Attempted    int `json:"attempted"`
	Synced       int `json:"synced"`
	StillPending int `json:"stillPending"`
	Failed       int `json:"failed"`
}

func pullPageUpdate(page int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PullPage,
		Step:    page,
		Message: fmt.Sprintf("Fetching library page %d...", page),
	}
}

func hydratePageUpdate(page, count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   HydratePage,
		Step:    page,
		Message: fmt.Sprintf("Applying %d songs from page %d", count, page),
		Data:    count,
	}
}

func pushSongUpdate(step, total int, song *models.Song) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PushSong,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s - %s", step, total, song.Artist, song.Title),
		Data:    song.ID,
	}
}

func analyzeChunkUpdate(processed, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   AnalyzeChunk,
		Step:    processed,
		Total:   total,
		Message: fmt.Sprintf("Analyzed %d of %d songs", processed, total),
	}
}
