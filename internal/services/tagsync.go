package services

import (
	"context"
	"net/url"
	"strconv"

	"github.com/desertthunder/vibetag/internal/models"
)

// TagSyncService talks to the tag authority's library endpoints.
type TagSyncService struct {
	client *APIClient
}

// NewTagSyncService creates a [TagSyncService] using client.
func NewTagSyncService(client *APIClient) *TagSyncService {
	return &TagSyncService{client: client}
}

// FetchLibraryPage returns one page of the remote library. Pages start at 1.
func (s *TagSyncService) FetchLibraryPage(ctx context.Context, page, limit int) ([]models.RemoteSong, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	var items []models.RemoteSong
	if err := s.client.Get(ctx, "/songs/sync", query, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// PushSongUpdate sends the song's tags and metadata to the authority.
func (s *TagSyncService) PushSongUpdate(ctx context.Context, id string, update models.SongUpdate) error {
	if update.Tags == nil {
		update.Tags = []string{}
	}
	return s.client.Put(ctx, "/songs/"+url.PathEscape(id), update, nil)
}
