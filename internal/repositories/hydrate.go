package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/vibetag/internal/models"
)

// HydrateRemoteTags applies a page of remote library state, then commits once.
//
// Unknown songs are skipped. Songs with pending local edits are skipped entirely. Otherwise missing
// artwork and Apple Music ids are filled in, the tag set is rebuilt from the remote list and the song
// is marked synced. A failing item is rolled back on its own and logged; the rest still apply.
// The returned error only reports a failed commit.
func (s *LibraryStore) HydrateRemoteTags(ctx context.Context, items []models.RemoteSong) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied, skipped, failed := 0, 0, 0
	for _, item := range items {
		var ok bool
		err := s.atomically(ctx, "hydrate_item", func(q Querier) error {
			var err error
			ok, err = hydrateSong(ctx, q, item)
			return err
		})
		switch {
		case err != nil:
			failed++
			s.logger.Warn("failed to hydrate song", "id", item.ID, "err", err)
		case ok:
			applied++
		default:
			skipped++
		}
	}

	s.logger.Debug("hydrated remote page", "applied", applied, "skipped", skipped, "failed", failed)
	return s.commit()
}

// hydrateSong reports false when the item was skipped.
func hydrateSong(ctx context.Context, q Querier, item models.RemoteSong) (bool, error) {
	var status string
	err := q.QueryRowContext(ctx, "SELECT sync_status FROM songs WHERE id = ?", item.ID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read song: %w", err)
	}
	if models.SyncStatus(status) == models.PendingUpload {
		return false, nil
	}

	query := `
		UPDATE songs SET
			apple_music_id = COALESCE(NULLIF(apple_music_id, ''), ?),
			artwork_url = COALESCE(NULLIF(artwork_url, ''), ?),
			sync_status = ?,
			updated_at = ?
		WHERE id = ?
	`
	_, err = q.ExecContext(ctx, query,
		nullString(item.AppleMusicID),
		nullString(item.ArtworkURL),
		string(models.Synced),
		time.Now().UTC(),
		item.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update song: %w", err)
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM song_tags WHERE song_id = ?", item.ID); err != nil {
		return false, fmt.Errorf("failed to clear song tags: %w", err)
	}

	for _, rt := range item.Tags {
		if models.NormalizeTagName(rt.Name) == "" {
			continue
		}
		color := rt.Color
		if !models.ValidHexColor(color) {
			color = ""
		}
		tag, err := upsertTag(ctx, q, TagUpsert{
			Name:         rt.Name,
			HexColor:     color,
			IsSystem:     rt.Type == models.RemoteTagSystem,
			AssertOrigin: true,
		})
		if err != nil {
			return false, err
		}
		if err := linkTag(ctx, q, item.ID, tag.ID); err != nil {
			return false, err
		}
	}

	return true, nil
}
