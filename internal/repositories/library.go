package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vibetag/internal/models"
	"github.com/desertthunder/vibetag/internal/shared"
)

const songColumns = `id, sequence, title, artist, apple_music_id, artwork_url, sync_status, created_at, updated_at`

// LibraryStore is the local durable store for songs and tags.
//
// All methods are safe for concurrent use; they are executed one at a time.
type LibraryStore struct {
	db     *sql.DB
	logger *log.Logger

	mu sync.Mutex
	tx *sql.Tx
}

// NewLibraryStore creates a [LibraryStore] over a migrated database.
func NewLibraryStore(db *sql.DB, logger *log.Logger) *LibraryStore {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &LibraryStore{db: db, logger: shared.WithLogger(logger, "component", "store")}
}

// conn returns the open unit of work, or the database when none is open.
func (s *LibraryStore) conn() Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// begin opens the unit of work if needed.
//
// The transaction outlives the request that opened it, so it is not bound to ctx cancellation.
func (s *LibraryStore) begin(ctx context.Context) (*sql.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

func (s *LibraryStore) commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit changes: %w", err)
	}
	return nil
}

// atomically runs fn inside a savepoint of the unit of work. A failing fn leaves no partial writes
// while earlier uncommitted work is kept.
func (s *LibraryStore) atomically(ctx context.Context, name string, fn func(q Querier) error) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}
	if err := fn(tx); err != nil {
		bg := context.WithoutCancel(ctx)
		if _, rbErr := tx.ExecContext(bg, "ROLLBACK TO "+name); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		if _, rbErr := tx.ExecContext(bg, "RELEASE "+name); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// SaveChanges commits the open unit of work, if any.
func (s *LibraryStore) SaveChanges(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit()
}

// DiscardChanges rolls back the open unit of work, if any.
func (s *LibraryStore) DiscardChanges() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Rollback()
}

// FetchAllSongs returns every song with its tags in insertion order.
func (s *LibraryStore) FetchAllSongs(ctx context.Context) ([]*models.Song, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSongs(ctx, s.conn(), "")
}

// FetchPendingUploads returns songs whose local state has not been confirmed remotely, in insertion order.
func (s *LibraryStore) FetchPendingUploads(ctx context.Context) ([]*models.Song, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSongs(ctx, s.conn(), "WHERE sync_status = ?", string(models.PendingUpload))
}

// FetchSong returns the song with the given id, or nil when it does not exist.
func (s *LibraryStore) FetchSong(ctx context.Context, id string) (*models.Song, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchSong(ctx, s.conn(), id)
}

// SongExists reports whether a song with the given id is stored.
func (s *LibraryStore) SongExists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return songExists(ctx, s.conn(), id)
}

// SaveSong inserts the song or replaces its fields. Tag links are left untouched.
//
// The write joins the unit of work and is persisted by the next commit.
func (s *LibraryStore) SaveSong(ctx context.Context, song *models.Song) error {
	if song.SyncStatus == "" {
		song.SyncStatus = models.Synced
	}
	if err := song.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.atomically(ctx, "save_song", func(q Querier) error {
		exists, err := songExists(ctx, q, song.ID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if !exists {
			sequence, err := NextSequence(ctx, q, "songs")
			if err != nil {
				return fmt.Errorf("failed to generate sequence: %w", err)
			}
			song.Sequence = sequence
			song.CreatedAt = now
		}
		song.UpdatedAt = now

		query := `
			INSERT INTO songs (id, sequence, title, artist, apple_music_id, artwork_url, sync_status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				artist = excluded.artist,
				apple_music_id = excluded.apple_music_id,
				artwork_url = excluded.artwork_url,
				sync_status = excluded.sync_status,
				updated_at = excluded.updated_at
		`
		_, err = q.ExecContext(ctx, query,
			song.ID,
			song.Sequence,
			song.Title,
			song.Artist,
			nullString(song.AppleMusicID),
			nullString(song.ArtworkURL),
			string(song.SyncStatus),
			song.CreatedAt,
			song.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save song: %w", err)
		}
		return nil
	})
}

// DeleteSong removes the song and its tag links. Tag entities are kept.
//
// The write joins the unit of work and is persisted by the next commit.
func (s *LibraryStore) DeleteSong(ctx context.Context, song *models.Song) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM songs WHERE id = ?", song.ID); err != nil {
		return fmt.Errorf("failed to delete song: %w", err)
	}
	return nil
}

// MarkAsSynced sets the song's status to synced and commits.
func (s *LibraryStore) MarkAsSynced(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.atomically(ctx, "mark_synced", func(q Querier) error {
		return setSyncStatus(ctx, q, "mark as synced", id, models.Synced)
	})
	if err != nil {
		return err
	}
	return s.commit()
}

// MarkAsSyncedIfUnchanged sets the song synced only when its sorted tag names still equal sent,
// then commits. It reports whether the song was marked.
//
// The read and the update share one savepoint under the store lock, and the write transaction is
// taken immediately (see [shared.NewDatabase]), so an edit from this or another process either
// lands before the comparison or after the update.
func (s *LibraryStore) MarkAsSyncedIfUnchanged(ctx context.Context, id string, sent []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := false
	err := s.atomically(ctx, "mark_synced_if_unchanged", func(q Querier) error {
		song, err := s.fetchSong(ctx, q, id)
		if err != nil {
			return err
		}
		if song == nil {
			return shared.NotFoundError("mark as synced", "song "+id)
		}
		if !slices.Equal(song.SortedTagNames(), sent) {
			return nil
		}
		marked = true
		return setSyncStatus(ctx, q, "mark as synced", id, models.Synced)
	})
	if err != nil {
		return false, err
	}
	return marked, s.commit()
}

// Stats counts songs, pending songs and tags.
func (s *LibraryStore) Stats(ctx context.Context) (models.LibraryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats models.LibraryStats
	query := `
		SELECT
			(SELECT COUNT(*) FROM songs),
			(SELECT COUNT(*) FROM songs WHERE sync_status = ?),
			(SELECT COUNT(*) FROM tags)
	`
	err := s.conn().QueryRowContext(ctx, query, string(models.PendingUpload)).Scan(&stats.Songs, &stats.Pending, &stats.Tags)
	if err != nil {
		return stats, fmt.Errorf("failed to count library: %w", err)
	}
	return stats, nil
}

func songExists(ctx context.Context, q Querier, id string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM songs WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check song: %w", err)
	}
	return exists, nil
}

// setSyncStatus fails with a not-found error when the song is absent.
func setSyncStatus(ctx context.Context, q Querier, op, id string, status models.SyncStatus) error {
	result, err := q.ExecContext(ctx,
		"UPDATE songs SET sync_status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return shared.NotFoundError(op, "song "+id)
	}
	return nil
}

func (s *LibraryStore) fetchSong(ctx context.Context, q Querier, id string) (*models.Song, error) {
	songs, err := s.loadSongs(ctx, q, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(songs) == 0 {
		return nil, nil
	}
	return songs[0], nil
}

// loadSongs reads songs matching where, ordered by sequence, and attaches their tags.
func (s *LibraryStore) loadSongs(ctx context.Context, q Querier, where string, args ...any) ([]*models.Song, error) {
	query := "SELECT " + songColumns + " FROM songs " + where + " ORDER BY sequence ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	var songs []*models.Song
	byID := make(map[string]*models.Song)
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		songs = append(songs, song)
		byID[song.ID] = song
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	if len(songs) == 0 {
		return songs, nil
	}

	tagQuery := `
		SELECT st.song_id, ` + prefixed("t", tagColumns) + `
		FROM song_tags st
		JOIN tags t ON t.id = st.tag_id
		WHERE st.song_id IN (SELECT id FROM songs ` + where + `)
		ORDER BY t.name ASC
	`
	tagRows, err := q.QueryContext(ctx, tagQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query song tags: %w", err)
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var songID string
		tag, err := scanTag(tagRows, &songID)
		if err != nil {
			return nil, err
		}
		if song := byID[songID]; song != nil {
			song.Tags = append(song.Tags, *tag)
		}
	}
	if err := tagRows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return songs, nil
}

// scanSong scans a row from [sql.Rows] into a [models.Song]
func scanSong(rows *sql.Rows) (*models.Song, error) {
	var (
		song         models.Song
		appleMusicID sql.NullString
		artworkURL   sql.NullString
		status       string
	)

	err := rows.Scan(&song.ID, &song.Sequence, &song.Title, &song.Artist, &appleMusicID, &artworkURL, &status, &song.CreatedAt, &song.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan song: %w", err)
	}

	song.AppleMusicID = appleMusicID.String
	song.ArtworkURL = artworkURL.String
	song.SyncStatus, err = models.ParseSyncStatus(status)
	if err != nil {
		return nil, fmt.Errorf("failed to scan song %s: %w", song.ID, err)
	}
	return &song, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
