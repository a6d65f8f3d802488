// package models defines the data model for the tag sync core
package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultTagColor is applied to AI-generated tags and hydrated tags without a color.
const DefaultTagColor = "#8E8E93"

// Model defines the base interface for persisted library entities.
type Model interface {
	Key() string     // Key returns the identity of the entity within the store
	Validate() error // Validate checks if the model's data is valid and returns an error if not
}

// SyncStatus marks whether a song's local state has been confirmed by the remote authority.
type SyncStatus string

const (
	// Synced songs may be overwritten by remote hydration.
	Synced SyncStatus = "synced"
	// PendingUpload songs carry local edits; hydration never touches them.
	PendingUpload SyncStatus = "pending_upload"
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	return s == Synced || s == PendingUpload
}

// ParseSyncStatus accepts the stored form and the camel-cased form used by the remote API.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch s {
	case "synced":
		return Synced, nil
	case "pending_upload", "pendingUpload":
		return PendingUpload, nil
	default:
		return "", fmt.Errorf("unknown sync status %q", s)
	}
}

// Tag is a named label. Exactly one Tag exists per distinct name.
type Tag struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	HexColor    string    `json:"hexColor"`
	IsSystemTag bool      `json:"isSystemTag"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

func (t *Tag) Key() string { return NormalizeTagName(t.Name) }

func (t *Tag) Validate() error {
	if NormalizeTagName(t.Name) == "" {
		return fmt.Errorf("tag name is required")
	}
	if t.HexColor != "" && !ValidHexColor(t.HexColor) {
		return fmt.Errorf("invalid tag color %q", t.HexColor)
	}
	return nil
}

// Song is a track in the local library.
type Song struct {
	ID           string     `json:"id"`
	Sequence     int        `json:"-"`
	Title        string     `json:"title"`
	Artist       string     `json:"artist"`
	AppleMusicID string     `json:"appleMusicId,omitempty"`
	ArtworkURL   string     `json:"artworkUrl,omitempty"`
	Tags         []Tag      `json:"tags"`
	SyncStatus   SyncStatus `json:"syncStatus"`
	CreatedAt    time.Time  `json:"-"`
	UpdatedAt    time.Time  `json:"-"`
}

// NewSong creates a synced song with no tags.
func NewSong(id, title, artist string) *Song {
	return &Song{ID: id, Title: title, Artist: artist, SyncStatus: Synced}
}

func (s *Song) Key() string { return s.ID }

func (s *Song) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("song id is required")
	}
	if s.SyncStatus != "" && !s.SyncStatus.Valid() {
		return fmt.Errorf("invalid sync status %q", s.SyncStatus)
	}
	return nil
}

// SystemTags returns the AI-derived tags attached to the song.
func (s *Song) SystemTags() []Tag {
	var out []Tag
	for _, t := range s.Tags {
		if t.IsSystemTag {
			out = append(out, t)
		}
	}
	return out
}

// HasSystemTag reports whether the song has already been analyzed.
func (s *Song) HasSystemTag() bool {
	return slices.ContainsFunc(s.Tags, func(t Tag) bool { return t.IsSystemTag })
}

// SortedTagNames returns the song's tag names in ascending order.
func (s *Song) SortedTagNames() []string {
	names := make([]string, 0, len(s.Tags))
	for _, t := range s.Tags {
		names = append(names, t.Name)
	}
	slices.Sort(names)
	return names
}

// Update builds the push payload for the song.
func (s *Song) Update() SongUpdate {
	return SongUpdate{
		Title:        s.Title,
		Artist:       s.Artist,
		AppleMusicID: s.AppleMusicID,
		ArtworkURL:   s.ArtworkURL,
		Tags:         s.SortedTagNames(),
	}
}

// TagInput is a tag as produced by the analyzer.
type TagInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AnalysisResult pairs a song with the tags the analyzer produced for it.
type AnalysisResult struct {
	SongID string     `json:"songId"`
	Tags   []TagInput `json:"tags"`
}

// RemoteTagType is the origin of a tag as reported by the remote authority.
type RemoteTagType string

const (
	RemoteTagSystem RemoteTagType = "SYSTEM"
	RemoteTagUser   RemoteTagType = "USER"
)

// RemoteTag is a tag entry inside a [RemoteSong].
type RemoteTag struct {
	Name  string        `json:"name"`
	Color string        `json:"color,omitempty"`
	Type  RemoteTagType `json:"type"`
}

// RemoteSong is a single entry of a library sync page.
type RemoteSong struct {
	ID           string      `json:"id"`
	AppleMusicID string      `json:"appleMusicId,omitempty"`
	ArtworkURL   string      `json:"artworkUrl,omitempty"`
	Tags         []RemoteTag `json:"tags"`
}

// SongUpdate is the payload pushed for a pending song.
type SongUpdate struct {
	Title        string   `json:"title"`
	Artist       string   `json:"artist"`
	AppleMusicID string   `json:"appleMusicId,omitempty"`
	ArtworkURL   string   `json:"artworkUrl,omitempty"`
	Tags         []string `json:"tags"`
}

// LibraryStats summarizes the local library.
type LibraryStats struct {
	Songs   int `json:"songs"`
	Pending int `json:"pending"`
	Tags    int `json:"tags"`
}

// NormalizeTagName returns the matching key for a tag name: exact match after trimming whitespace.
func NormalizeTagName(name string) string {
	return strings.TrimSpace(name)
}

// ValidHexColor reports whether c has the form #RRGGBB.
func ValidHexColor(c string) bool {
	if len(c) != 7 || c[0] != '#' {
		return false
	}
	for _, r := range c[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
