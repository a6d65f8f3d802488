package tasks

import (
	"context"

	"github.com/desertthunder/vibetag/internal/models"
)

// Session reports whether the user is signed in.
type Session interface {
	IsAuthenticated() bool
}

// Network observes connectivity. Subscribe returns a function that cancels the subscription.
type Network interface {
	IsConnected() bool
	Subscribe(fn func(connected bool)) (unsubscribe func())
}

// TagSyncTransport reaches the remote tag authority.
type TagSyncTransport interface {
	FetchLibraryPage(ctx context.Context, page, limit int) ([]models.RemoteSong, error)
	PushSongUpdate(ctx context.Context, id string, update models.SongUpdate) error
}

// Analyzer is the remote AI tagging service.
type Analyzer interface {
	AnalyzeOne(ctx context.Context, song *models.Song) ([]models.TagInput, error)
	AnalyzeBatch(ctx context.Context, songs []*models.Song) ([]models.AnalysisResult, error)
}

// Store is the subset of the local store the engine and pipeline use.
type Store interface {
	FetchSong(ctx context.Context, id string) (*models.Song, error)
	FetchPendingUploads(ctx context.Context) ([]*models.Song, error)
	MarkAsSyncedIfUnchanged(ctx context.Context, id string, sent []string) (bool, error)
	HydrateRemoteTags(ctx context.Context, items []models.RemoteSong) error
	SaveTags(ctx context.Context, songID string, tags []models.TagInput, status models.SyncStatus) error
	Stats(ctx context.Context) (models.LibraryStats, error)
}

// sendProgress sends a progress update through the channel without blocking.
//
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}
