package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/vibetag/internal/models"
	"github.com/desertthunder/vibetag/internal/shared"
)

const tagColumns = `id, name, description, hex_color, is_system, created_at, updated_at`

// TagUpsert describes a find-or-create-by-name request.
type TagUpsert struct {
	Name string
	// Description replaces the stored one only when non-empty.
	Description string
	// HexColor is applied when non-empty. New tags without a color get [models.DefaultTagColor].
	HexColor string
	// IsSystem is the origin given to a newly created tag.
	IsSystem bool
	// AssertOrigin also applies IsSystem to an existing tag.
	AssertOrigin bool
}

// UpsertTag finds the tag named u.Name or creates it, then commits.
func (s *LibraryStore) UpsertTag(ctx context.Context, u TagUpsert) (*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tag *models.Tag
	err := s.atomically(ctx, "upsert_tag", func(q Querier) error {
		var err error
		tag, err = upsertTag(ctx, q, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tag, s.commit()
}

// upsertTag is the single place tags are created or reused. Names match exactly after trimming.
func upsertTag(ctx context.Context, q Querier, u TagUpsert) (*models.Tag, error) {
	name := models.NormalizeTagName(u.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: tag name is required", shared.ErrInvalidInput)
	}
	if u.HexColor != "" && !models.ValidHexColor(u.HexColor) {
		return nil, fmt.Errorf("%w: tag color %q", shared.ErrInvalidInput, u.HexColor)
	}

	now := time.Now().UTC()
	existing, err := fetchTag(ctx, q, name)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		tag := &models.Tag{
			ID:          shared.GenerateID(),
			Name:        name,
			Description: u.Description,
			HexColor:    u.HexColor,
			IsSystemTag: u.IsSystem,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if tag.HexColor == "" {
			tag.HexColor = models.DefaultTagColor
		}

		query := `
			INSERT INTO tags (id, name, description, hex_color, is_system, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := q.ExecContext(ctx, query, tag.ID, tag.Name, nullString(tag.Description), tag.HexColor, tag.IsSystemTag, now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert tag: %w", err)
		}
		return tag, nil
	}

	changed := false
	if u.Description != "" && u.Description != existing.Description {
		existing.Description = u.Description
		changed = true
	}
	if u.HexColor != "" && u.HexColor != existing.HexColor {
		existing.HexColor = u.HexColor
		changed = true
	}
	if u.AssertOrigin && u.IsSystem != existing.IsSystemTag {
		existing.IsSystemTag = u.IsSystem
		changed = true
	}
	if !changed {
		return existing, nil
	}

	existing.UpdatedAt = now
	query := `UPDATE tags SET description = ?, hex_color = ?, is_system = ?, updated_at = ? WHERE id = ?`
	_, err = q.ExecContext(ctx, query, nullString(existing.Description), existing.HexColor, existing.IsSystemTag, now, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update tag: %w", err)
	}
	return existing, nil
}

// FetchTag returns the tag with the given name, or nil when it does not exist.
func (s *LibraryStore) FetchTag(ctx context.Context, name string) (*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fetchTag(ctx, s.conn(), models.NormalizeTagName(name))
}

// FetchAllTags returns every tag ordered by name.
func (s *LibraryStore) FetchAllTags(ctx context.Context) ([]*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn().QueryContext(ctx, "SELECT "+tagColumns+" FROM tags ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tags, nil
}

// SaveTags replaces the song's system tags with tags, keeps its user tags, sets status and commits.
func (s *LibraryStore) SaveTags(ctx context.Context, songID string, tags []models.TagInput, status models.SyncStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: sync status %q", shared.ErrInvalidInput, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.atomically(ctx, "save_tags", func(q Querier) error {
		exists, err := songExists(ctx, q, songID)
		if err != nil {
			return err
		}
		if !exists {
			return shared.NotFoundError("save tags", "song "+songID)
		}

		unlink := `
			DELETE FROM song_tags
			WHERE song_id = ? AND tag_id IN (SELECT id FROM tags WHERE is_system = 1)
		`
		if _, err := q.ExecContext(ctx, unlink, songID); err != nil {
			return fmt.Errorf("failed to clear system tags: %w", err)
		}

		for _, in := range tags {
			if models.NormalizeTagName(in.Name) == "" {
				continue
			}
			tag, err := upsertTag(ctx, q, TagUpsert{Name: in.Name, Description: in.Description, IsSystem: true})
			if err != nil {
				return err
			}
			if err := linkTag(ctx, q, songID, tag.ID); err != nil {
				return err
			}
		}

		return setSyncStatus(ctx, q, "save tags", songID, status)
	})
	if err != nil {
		return err
	}
	return s.commit()
}

// CreateUserTag creates a user tag, or updates the description and color of an existing tag with that name.
func (s *LibraryStore) CreateUserTag(ctx context.Context, name, description, hexColor string) (*models.Tag, error) {
	return s.UpsertTag(ctx, TagUpsert{Name: name, Description: description, HexColor: hexColor})
}

// AssignTag links the named tag to the song, creating a user tag when none exists, and marks the song pending.
func (s *LibraryStore) AssignTag(ctx context.Context, songID, tagName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.atomically(ctx, "assign_tag", func(q Querier) error {
		exists, err := songExists(ctx, q, songID)
		if err != nil {
			return err
		}
		if !exists {
			return shared.NotFoundError("assign tag", "song "+songID)
		}

		tag, err := upsertTag(ctx, q, TagUpsert{Name: tagName})
		if err != nil {
			return err
		}
		if err := linkTag(ctx, q, songID, tag.ID); err != nil {
			return err
		}
		return setSyncStatus(ctx, q, "assign tag", songID, models.PendingUpload)
	})
	if err != nil {
		return err
	}
	return s.commit()
}

// RemoveTag unlinks the named tag from the song and marks the song pending. The tag entity is kept.
func (s *LibraryStore) RemoveTag(ctx context.Context, songID, tagName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.atomically(ctx, "remove_tag", func(q Querier) error {
		exists, err := songExists(ctx, q, songID)
		if err != nil {
			return err
		}
		if !exists {
			return shared.NotFoundError("remove tag", "song "+songID)
		}

		tag, err := fetchTag(ctx, q, models.NormalizeTagName(tagName))
		if err != nil {
			return err
		}
		if tag == nil {
			return shared.NotFoundError("remove tag", "tag "+tagName)
		}

		if _, err := q.ExecContext(ctx, "DELETE FROM song_tags WHERE song_id = ? AND tag_id = ?", songID, tag.ID); err != nil {
			return fmt.Errorf("failed to unlink tag: %w", err)
		}
		return setSyncStatus(ctx, q, "remove tag", songID, models.PendingUpload)
	})
	if err != nil {
		return err
	}
	return s.commit()
}

// DeleteTag removes the tag from the store and marks every song that carried it pending.
func (s *LibraryStore) DeleteTag(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.atomically(ctx, "delete_tag", func(q Querier) error {
		tag, err := fetchTag(ctx, q, models.NormalizeTagName(name))
		if err != nil {
			return err
		}
		if tag == nil {
			return shared.NotFoundError("delete tag", "tag "+name)
		}

		mark := `
			UPDATE songs SET sync_status = ?, updated_at = ?
			WHERE id IN (SELECT song_id FROM song_tags WHERE tag_id = ?)
		`
		if _, err := q.ExecContext(ctx, mark, string(models.PendingUpload), time.Now().UTC(), tag.ID); err != nil {
			return fmt.Errorf("failed to mark songs pending: %w", err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", tag.ID); err != nil {
			return fmt.Errorf("failed to delete tag: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.commit()
}

// ClearAllTags deletes every tag and song link and sets every song synced, then commits.
func (s *LibraryStore) ClearAllTags(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.atomically(ctx, "clear_tags", func(q Querier) error {
		if _, err := q.ExecContext(ctx, "DELETE FROM song_tags"); err != nil {
			return fmt.Errorf("failed to clear song tags: %w", err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM tags"); err != nil {
			return fmt.Errorf("failed to delete tags: %w", err)
		}
		if _, err := q.ExecContext(ctx, "UPDATE songs SET sync_status = ?, updated_at = ?", string(models.Synced), time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to reset sync status: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.commit()
}

func linkTag(ctx context.Context, q Querier, songID, tagID string) error {
	_, err := q.ExecContext(ctx, "INSERT OR IGNORE INTO song_tags (song_id, tag_id) VALUES (?, ?)", songID, tagID)
	if err != nil {
		return fmt.Errorf("failed to link tag: %w", err)
	}
	return nil
}

func fetchTag(ctx context.Context, q Querier, name string) (*models.Tag, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+tagColumns+" FROM tags WHERE name = ?", name)
	if err != nil {
		return nil, fmt.Errorf("failed to query tag: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query tag: %w", err)
		}
		return nil, nil
	}
	return scanTag(rows)
}

// scanTag scans a tag row. lead receives any columns selected before the tag columns.
func scanTag(rows *sql.Rows, lead ...any) (*models.Tag, error) {
	var (
		tag         models.Tag
		description sql.NullString
	)

	dest := append(lead, &tag.ID, &tag.Name, &description, &tag.HexColor, &tag.IsSystemTag, &tag.CreatedAt, &tag.UpdatedAt)
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan tag: %w", err)
	}
	tag.Description = description.String
	return &tag, nil
}
