package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/vibetag/internal/models"
	"github.com/desertthunder/vibetag/internal/repositories"
	"github.com/desertthunder/vibetag/internal/shared"
	tu "github.com/desertthunder/vibetag/internal/testing"
)

// countingStore records calls to the mutating primitives of the wrapped store.
type countingStore struct {
	*repositories.LibraryStore
	hydrates atomic.Int32
	saves    atomic.Int32
	synced   atomic.Int32
}

func (s *countingStore) HydrateRemoteTags(ctx context.Context, items []models.RemoteSong) error {
	s.hydrates.Add(1)
	return s.LibraryStore.HydrateRemoteTags(ctx, items)
}

func (s *countingStore) SaveTags(ctx context.Context, id string, tags []models.TagInput, status models.SyncStatus) error {
	s.saves.Add(1)
	return s.LibraryStore.SaveTags(ctx, id, tags, status)
}

func (s *countingStore) MarkAsSyncedIfUnchanged(ctx context.Context, id string, sent []string) (bool, error) {
	marked, err := s.LibraryStore.MarkAsSyncedIfUnchanged(ctx, id, sent)
	if marked {
		s.synced.Add(1)
	}
	return marked, err
}

// editingStore assigns a tag to the song just before the engine tries to mark it synced.
type editingStore struct {
	*countingStore
	tag string
}

func (s *editingStore) MarkAsSyncedIfUnchanged(ctx context.Context, id string, sent []string) (bool, error) {
	if err := s.AssignTag(ctx, id, s.tag); err != nil {
		return false, err
	}
	return s.countingStore.MarkAsSyncedIfUnchanged(ctx, id, sent)
}

func setupStore(t *testing.T) *countingStore {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &countingStore{LibraryStore: repositories.NewLibraryStore(db, shared.NewLogger(io.Discard))}
}

func seedSongs(t *testing.T, store *countingStore, n int) []string {
	t.Helper()
	ctx := context.Background()

	ids := make([]string, 0, n)
	for i := range n {
		id := fmt.Sprintf("song-%03d", i)
		if err := store.SaveSong(ctx, models.NewSong(id, "Title "+id, "Artist")); err != nil {
			t.Fatalf("failed to save song: %v", err)
		}
		ids = append(ids, id)
	}
	if err := store.SaveChanges(ctx); err != nil {
		t.Fatalf("failed to commit songs: %v", err)
	}
	return ids
}

func fetchAll(t *testing.T, store *countingStore) []*models.Song {
	t.Helper()
	songs, err := store.FetchAllSongs(context.Background())
	if err != nil {
		t.Fatalf("failed to fetch songs: %v", err)
	}
	return songs
}

func remotePage(n int) []models.RemoteSong {
	page := make([]models.RemoteSong, 0, n)
	for i := range n {
		page = append(page, models.RemoteSong{ID: fmt.Sprintf("remote-%d", i)})
	}
	return page
}

func newEngine(t *testing.T, store Store, transport *tu.FakeTransport, session *tu.FakeSession, network *tu.FakeNetwork, opts SyncEngineOpts) *SyncEngine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}
	engine := NewSyncEngine(store, transport, session, network, opts)
	t.Cleanup(engine.Close)
	return engine
}

func newPipeline(store Store, analyzer Analyzer, opts PipelineOpts) *AnalysisPipeline {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}
	return NewAnalysisPipeline(store, analyzer, opts)
}

type progressCall struct{ processed, total int }

func recordProgress(calls *[]progressCall) func(int, int) {
	return func(processed, total int) {
		*calls = append(*calls, progressCall{processed, total})
	}
}

func TestSyncEngine_Pull(t *testing.T) {
	ctx := context.Background()

	t.Run("Full Page Then Short Page", func(t *testing.T) {
		store := setupStore(t)
		transport := &tu.FakeTransport{Pages: map[int][]models.RemoteSong{
			1: remotePage(PageSize),
			2: remotePage(1),
			3: remotePage(5),
		}}
		engine := newEngine(t, store, transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{})

		if err := engine.PullRemoteData(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if calls := transport.FetchCalls(); !slices.Equal(calls, []int{1, 2}) {
			t.Errorf("expected pages [1 2], got %v", calls)
		}
		if got := store.hydrates.Load(); got != 2 {
			t.Errorf("expected 2 hydrate calls, got %d", got)
		}
	})

	t.Run("Empty First Page", func(t *testing.T) {
		store := setupStore(t)
		transport := &tu.FakeTransport{}
		engine := newEngine(t, store, transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{})

		if err := engine.PullRemoteData(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if calls := transport.FetchCalls(); len(calls) != 1 {
			t.Errorf("expected 1 fetch call, got %d", len(calls))
		}
		if got := store.hydrates.Load(); got != 0 {
			t.Errorf("expected 0 hydrate calls, got %d", got)
		}
	})

	t.Run("Page Error Propagates", func(t *testing.T) {
		store := setupStore(t)
		transport := &tu.FakeTransport{
			FetchFunc: func(_ context.Context, page, _ int) ([]models.RemoteSong, error) {
				if page == 2 {
					return nil, shared.ServerError("GET /songs/sync", 502, nil)
				}
				return remotePage(PageSize), nil
			},
		}
		engine := newEngine(t, store, transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{})

		err := engine.PullRemoteData(ctx)
		if !errors.Is(err, shared.ErrServer) {
			t.Fatalf("expected server error, got %v", err)
		}
		if got := store.hydrates.Load(); got != 1 {
			t.Errorf("expected 1 hydrate call, got %d", got)
		}
		if engine.IsPulling() {
			t.Error("expected pulling guard to be cleared after error")
		}

		stats, err := engine.Stats(ctx)
		if err != nil {
			t.Fatalf("failed to get stats: %v", err)
		}
		if stats.LastError == "" {
			t.Error("expected last error to be recorded")
		}
	})

	t.Run("Hydrates Known Songs", func(t *testing.T) {
		store := setupStore(t)
		seedSongs(t, store, 1)
		transport := &tu.FakeTransport{Pages: map[int][]models.RemoteSong{
			1: {{
				ID:         "song-000",
				ArtworkURL: "https://example.com/art.jpg",
				Tags: []models.RemoteTag{
					{Name: "Chill", Type: models.RemoteTagSystem},
					{Name: "Mine", Color: "#FF0000", Type: models.RemoteTagUser},
				},
			}},
		}}
		engine := newEngine(t, store, transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{})

		if err := engine.PullRemoteData(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		song, err := store.FetchSong(ctx, "song-000")
		if err != nil || song == nil {
			t.Fatalf("failed to fetch song: %v", err)
		}
		if names := song.SortedTagNames(); !slices.Equal(names, []string{"Chill", "Mine"}) {
			t.Errorf("expected tags [Chill Mine], got %v", names)
		}
		if song.ArtworkURL != "https://example.com/art.jpg" {
			t.Errorf("expected artwork to be filled, got %q", song.ArtworkURL)
		}
		if song.SyncStatus != models.Synced {
			t.Errorf("expected synced, got %s", song.SyncStatus)
		}
	})
}

func TestSyncEngine_Guards(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		connected     bool
		authenticated bool
	}{
		{"Offline", false, true},
		{"Signed Out", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupStore(t)
			ids := seedSongs(t, store, 1)
			if err := store.AssignTag(ctx, ids[0], "Mine"); err != nil {
				t.Fatalf("failed to assign tag: %v", err)
			}

			transport := &tu.FakeTransport{}
			engine := newEngine(t, store, transport, tu.NewFakeSession(tt.authenticated), tu.NewFakeNetwork(tt.connected), SyncEngineOpts{})

			if err := engine.PullRemoteData(ctx); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			result := engine.SyncPendingChanges(ctx)

			if len(transport.FetchCalls()) != 0 {
				t.Errorf("expected no fetch calls, got %d", len(transport.FetchCalls()))
			}
			if len(transport.PushCalls()) != 0 || result.Attempted != 0 {
				t.Errorf("expected no push calls, got %d", len(transport.PushCalls()))
			}
		})
	}

	t.Run("Single Flight Pull", func(t *testing.T) {
		store := setupStore(t)
		started := make(chan struct{})
		release := make(chan struct{})
		transport := &tu.FakeTransport{
			FetchFunc: func(context.Context, int, int) ([]models.RemoteSong, error) {
				close(started)
				<-release
				return nil, nil
			},
		}
		engine := newEngine(t, store, transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{})

		done := make(chan error, 1)
		go func() { done <- engine.PullRemoteData(ctx) }()
		<-started

		if !engine.IsPulling() {
			t.Error("expected engine to report pulling")
		}
		if err := engine.PullRemoteData(ctx); err != nil {
			t.Errorf("expected overlapping pull to be a no-op, got %v", err)
		}

		close(release)
		if err := <-done; err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if calls := transport.FetchCalls(); len(calls) != 1 {
			t.Errorf("expected 1 fetch call, got %d", len(calls))
		}
		if engine.IsPulling() {
			t.Error("expected pulling guard to be cleared")
		}
	})

	t.Run("Guard Cleared After Panic", func(t *testing.T) {
		transport := &tu.FakeTransport{
			FetchFunc: func(context.Context, int, int) ([]models.RemoteSong, error) { panic("transport crashed") },
		}
		engine := newEngine(t, setupStore(t), transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{})

		func() {
			defer func() {
				if recover() == nil {
					t.Error("expected the panic to propagate")
				}
			}()
			engine.PullRemoteData(ctx)
		}()

		if engine.IsPulling() {
			t.Error("expected pulling guard to be cleared")
		}
	})

	t.Run("Pull And Push Overlap", func(t *testing.T) {
		store := setupStore(t)
		ids := seedSongs(t, store, 1)
		if err := store.AssignTag(ctx, ids[0], "Mine"); err != nil {
			t.Fatalf("failed to assign tag: %v", err)
		}

		started := make(chan struct{})
		release := make(chan struct{})
		transport := &tu.FakeTransport{
			FetchFunc: func(context.Context, int, int) ([]models.RemoteSong, error) {
				close(started)
				<-release
				return nil, nil
			},
		}
		engine := newEngine(t, store, transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{})

		done := make(chan error, 1)
		go func() { done <- engine.PullRemoteData(ctx) }()
		<-started

		result := engine.SyncPendingChanges(ctx)
		close(release)
		<-done

		if result.Synced != 1 {
			t.Errorf("expected push to run during pull, got %+v", result)
		}
	})
}

func TestSyncEngine_Push(t *testing.T) {
	ctx := context.Background()

	t.Run("Marks Pushed Songs Synced", func(t *testing.T) {
		store := setupStore(t)
		ids := seedSongs(t, store, 3)
		for _, id := range ids[:2] {
			if err := store.AssignTag(ctx, id, "Mine"); err != nil {
				t.Fatalf("failed to assign tag: %v", err)
			}
		}

		transport := &tu.FakeTransport{}
		var stats []SyncStats
		engine := newEngine(t, store, transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{
			OnStatsChanged: func(s SyncStats) { stats = append(stats, s) },
		})

		result := engine.SyncPendingChanges(ctx)
		if result.Attempted != 2 || result.Synced != 2 {
			t.Errorf("expected 2 attempted and synced, got %+v", result)
		}

		calls := transport.PushCalls()
		if len(calls) != 2 {
			t.Fatalf("expected 2 push calls, got %d", len(calls))
		}
		if !slices.Equal(calls[0].Update.Tags, []string{"Mine"}) {
			t.Errorf("expected tags [Mine], got %v", calls[0].Update.Tags)
		}
		if calls[0].Update.Title != "Title "+ids[0] {
			t.Errorf("expected title to be sent, got %q", calls[0].Update.Title)
		}

		pending, _ := store.FetchPendingUploads(ctx)
		if len(pending) != 0 {
			t.Errorf("expected no pending songs, got %d", len(pending))
		}
		if len(stats) != 1 || stats[0].Library.Pending != 0 || stats[0].LastPush.IsZero() {
			t.Errorf("expected one stats notification after push, got %+v", stats)
		}
	})

	t.Run("Concurrent Edit Stays Pending", func(t *testing.T) {
		store := setupStore(t)
		ids := seedSongs(t, store, 1)
		if err := store.AssignTag(ctx, ids[0], "Mine"); err != nil {
			t.Fatalf("failed to assign tag: %v", err)
		}

		transport := &tu.FakeTransport{
			PushFunc: func(ctx context.Context, id string, _ models.SongUpdate) error {
				return store.AssignTag(ctx, id, "Late Edit")
			},
		}
		engine := newEngine(t, store, transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{})

		result := engine.SyncPendingChanges(ctx)
		if result.StillPending != 1 {
			t.Errorf("expected 1 still pending, got %+v", result)
		}
		if got := store.synced.Load(); got != 0 {
			t.Errorf("expected song not to be marked synced, got %d marks", got)
		}

		song, _ := store.FetchSong(ctx, ids[0])
		if song.SyncStatus != models.PendingUpload {
			t.Errorf("expected song to stay pending, got %s", song.SyncStatus)
		}
	})

	t.Run("Edit Before Mark Stays Pending", func(t *testing.T) {
		base := setupStore(t)
		ids := seedSongs(t, base, 1)
		if err := base.AssignTag(ctx, ids[0], "Mine"); err != nil {
			t.Fatalf("failed to assign tag: %v", err)
		}
		store := &editingStore{countingStore: base, tag: "Late Edit"}

		transport := &tu.FakeTransport{}
		engine := newEngine(t, store, transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{})

		result := engine.SyncPendingChanges(ctx)
		if result.StillPending != 1 || result.Synced != 0 {
			t.Errorf("expected 1 still pending and 0 synced, got %+v", result)
		}

		song, _ := base.FetchSong(ctx, ids[0])
		if song.SyncStatus != models.PendingUpload {
			t.Errorf("expected song to stay pending, got %s", song.SyncStatus)
		}
		if got := song.SortedTagNames(); !slices.Equal(got, []string{"Late Edit", "Mine"}) {
			t.Errorf("expected both tags kept, got %v", got)
		}
		if calls := transport.PushCalls(); len(calls) != 1 || !slices.Equal(calls[0].Update.Tags, []string{"Mine"}) {
			t.Errorf("expected one push of [Mine], got %v", calls)
		}
	})

	t.Run("Deleted During Push", func(t *testing.T) {
		store := setupStore(t)
		ids := seedSongs(t, store, 1)
		if err := store.AssignTag(ctx, ids[0], "Mine"); err != nil {
			t.Fatalf("failed to assign tag: %v", err)
		}

		transport := &tu.FakeTransport{
			PushFunc: func(ctx context.Context, id string, _ models.SongUpdate) error {
				if err := store.DeleteSong(ctx, &models.Song{ID: id}); err != nil {
					return err
				}
				return store.SaveChanges(ctx)
			},
		}
		engine := newEngine(t, store, transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{})

		result := engine.SyncPendingChanges(ctx)
		if result.Attempted != 1 || result.Synced != 0 || result.StillPending != 0 || result.Failed != 0 {
			t.Errorf("expected the deleted song to be skipped, got %+v", result)
		}
	})

	t.Run("Guard Cleared After Panic", func(t *testing.T) {
		store := setupStore(t)
		ids := seedSongs(t, store, 1)
		if err := store.AssignTag(ctx, ids[0], "Mine"); err != nil {
			t.Fatalf("failed to assign tag: %v", err)
		}

		transport := &tu.FakeTransport{
			PushFunc: func(context.Context, string, models.SongUpdate) error { panic("transport crashed") },
		}
		engine := newEngine(t, store, transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{})

		func() {
			defer func() {
				if recover() == nil {
					t.Error("expected the panic to propagate")
				}
			}()
			engine.SyncPendingChanges(ctx)
		}()

		if engine.IsPushing() {
			t.Error("expected pushing guard to be cleared")
		}
	})

	t.Run("Failures Are Skipped", func(t *testing.T) {
		store := setupStore(t)
		ids := seedSongs(t, store, 3)
		for _, id := range ids {
			if err := store.AssignTag(ctx, id, "Mine"); err != nil {
				t.Fatalf("failed to assign tag: %v", err)
			}
		}

		transport := &tu.FakeTransport{
			PushFunc: func(_ context.Context, id string, _ models.SongUpdate) error {
				if id == ids[1] {
					return shared.NewError(shared.KindNetwork, "PUT /songs", errors.New("connection reset"))
				}
				return nil
			},
		}
		engine := newEngine(t, store, transport, tu.NewFakeSession(true), tu.NewFakeNetwork(true), SyncEngineOpts{})

		result := engine.SyncPendingChanges(ctx)
		if result.Attempted != 3 || result.Synced != 2 || result.Failed != 1 {
			t.Errorf("expected 3 attempted, 2 synced, 1 failed, got %+v", result)
		}

		pending, _ := store.FetchPendingUploads(ctx)
		if len(pending) != 1 || pending[0].ID != ids[1] {
			t.Errorf("expected only %s pending, got %d songs", ids[1], len(pending))
		}
		if engine.IsPushing() {
			t.Error("expected pushing guard to be cleared")
		}
	})
}

func TestSyncEngine_Reconnect(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	ids := seedSongs(t, store, 1)
	if err := store.AssignTag(ctx, ids[0], "Mine"); err != nil {
		t.Fatalf("failed to assign tag: %v", err)
	}

	pushed := make(chan string, 1)
	transport := &tu.FakeTransport{
		PushFunc: func(_ context.Context, id string, _ models.SongUpdate) error {
			pushed <- id
			return nil
		},
	}
	network := tu.NewFakeNetwork(false)
	engine := newEngine(t, store, transport, tu.NewFakeSession(true), network, SyncEngineOpts{})

	if network.Subscribers() != 1 {
		t.Fatalf("expected engine to subscribe, got %d subscribers", network.Subscribers())
	}

	network.SetConnected(true)

	select {
	case id := <-pushed:
		if id != ids[0] {
			t.Errorf("expected %s to be pushed, got %s", ids[0], id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected reconnection to trigger a push")
	}

	if calls := transport.FetchCalls(); len(calls) != 1 {
		t.Errorf("expected pull before push, got %d fetch calls", len(calls))
	}

	engine.Close()
	if network.Subscribers() != 0 {
		t.Errorf("expected engine to unsubscribe on close, got %d", network.Subscribers())
	}

	network.SetConnected(false)
	network.SetConnected(true)
	if calls := transport.FetchCalls(); len(calls) != 1 {
		t.Errorf("expected no sync after close, got %d fetch calls", len(calls))
	}
}

func TestAnalysisPipeline_Analyze(t *testing.T) {
	ctx := context.Background()

	t.Run("Cache Hit", func(t *testing.T) {
		store := setupStore(t)
		ids := seedSongs(t, store, 1)
		if err := store.LibraryStore.SaveTags(ctx, ids[0], []models.TagInput{{Name: "Upbeat", Description: "Fast"}}, models.Synced); err != nil {
			t.Fatalf("failed to save tags: %v", err)
		}
		song, _ := store.FetchSong(ctx, ids[0])

		analyzer := &tu.FakeAnalyzer{}
		pipeline := newPipeline(store, analyzer, PipelineOpts{})

		tags, err := pipeline.Analyze(ctx, song)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(tags) != 1 || tags[0].Name != "Upbeat" || tags[0].Description != "Fast" {
			t.Errorf("expected cached tag Upbeat, got %+v", tags)
		}
		if calls := analyzer.OneCalls(); len(calls) != 0 {
			t.Errorf("expected 0 analyzer calls, got %d", len(calls))
		}
		if got := store.saves.Load(); got != 0 {
			t.Errorf("expected 0 store writes, got %d", got)
		}
	})

	t.Run("Cache Miss", func(t *testing.T) {
		store := setupStore(t)
		ids := seedSongs(t, store, 1)
		if err := store.AssignTag(ctx, ids[0], "Mine"); err != nil {
			t.Fatalf("failed to assign tag: %v", err)
		}
		song, _ := store.FetchSong(ctx, ids[0])

		analyzer := &tu.FakeAnalyzer{
			OneFunc: func(context.Context, *models.Song) ([]models.TagInput, error) {
				return []models.TagInput{{Name: "Dreamy"}}, nil
			},
		}
		pipeline := newPipeline(store, analyzer, PipelineOpts{})

		tags, err := pipeline.Analyze(ctx, song)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(tags) != 1 || tags[0].Name != "Dreamy" {
			t.Errorf("expected returned tags [Dreamy], got %+v", tags)
		}

		saved, _ := store.FetchSong(ctx, ids[0])
		if names := saved.SortedTagNames(); !slices.Equal(names, []string{"Dreamy", "Mine"}) {
			t.Errorf("expected stored tags [Dreamy Mine], got %v", names)
		}
		if saved.SyncStatus != models.Synced {
			t.Errorf("expected synced, got %s", saved.SyncStatus)
		}
	})

	t.Run("Analyzer Error", func(t *testing.T) {
		store := setupStore(t)
		ids := seedSongs(t, store, 1)
		song, _ := store.FetchSong(ctx, ids[0])

		analyzer := &tu.FakeAnalyzer{
			OneFunc: func(context.Context, *models.Song) ([]models.TagInput, error) {
				return nil, shared.NewError(shared.KindUnauthorized, "POST /analyze/song", nil)
			},
		}
		pipeline := newPipeline(store, analyzer, PipelineOpts{})

		if _, err := pipeline.Analyze(ctx, song); !errors.Is(err, shared.ErrUnauthorized) {
			t.Errorf("expected unauthorized error, got %v", err)
		}
		if got := store.saves.Load(); got != 0 {
			t.Errorf("expected 0 store writes, got %d", got)
		}
	})
}

func TestAnalysisPipeline_ExecuteBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Chunking", func(t *testing.T) {
		tests := []struct {
			songs int
			sizes []int
		}{
			{20, []int{20}},
			{21, []int{20, 1}},
		}

		for _, tt := range tests {
			t.Run(fmt.Sprintf("%d Songs", tt.songs), func(t *testing.T) {
				store := setupStore(t)
				seedSongs(t, store, tt.songs)
				analyzer := &tu.FakeAnalyzer{}
				pipeline := newPipeline(store, analyzer, PipelineOpts{})

				if err := pipeline.ExecuteBatch(ctx, fetchAll(t, store), nil); err != nil {
					t.Fatalf("expected no error, got %v", err)
				}

				calls := analyzer.BatchCalls()
				if len(calls) != len(tt.sizes) {
					t.Fatalf("expected %d batch calls, got %d", len(tt.sizes), len(calls))
				}
				for i, size := range tt.sizes {
					if len(calls[i]) != size {
						t.Errorf("expected chunk %d to hold %d songs, got %d", i, size, len(calls[i]))
					}
				}
			})
		}
	})

	t.Run("Progress", func(t *testing.T) {
		store := setupStore(t)
		seedSongs(t, store, 25)
		progress := make(chan ProgressUpdate, 10)
		pipeline := newPipeline(store, &tu.FakeAnalyzer{}, PipelineOpts{Progress: progress})

		var calls []progressCall
		if err := pipeline.ExecuteBatch(ctx, fetchAll(t, store), recordProgress(&calls)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		want := []progressCall{{20, 25}, {25, 25}}
		if !slices.Equal(calls, want) {
			t.Errorf("expected progress %v, got %v", want, calls)
		}
		if len(progress) != 2 {
			t.Errorf("expected 2 progress updates, got %d", len(progress))
		}

		for _, song := range fetchAll(t, store) {
			if !song.HasSystemTag() || song.SyncStatus != models.Synced {
				t.Errorf("expected %s to be analyzed and synced", song.ID)
			}
		}
	})

	t.Run("Nothing To Analyze", func(t *testing.T) {
		store := setupStore(t)
		ids := seedSongs(t, store, 2)
		for _, id := range ids {
			if err := store.LibraryStore.SaveTags(ctx, id, []models.TagInput{{Name: "Done"}}, models.Synced); err != nil {
				t.Fatalf("failed to save tags: %v", err)
			}
		}
		analyzer := &tu.FakeAnalyzer{}
		pipeline := newPipeline(store, analyzer, PipelineOpts{})

		var calls []progressCall
		if err := pipeline.ExecuteBatch(ctx, fetchAll(t, store), recordProgress(&calls)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !slices.Equal(calls, []progressCall{{0, 0}}) {
			t.Errorf("expected a single (0, 0) progress call, got %v", calls)
		}
		if len(analyzer.BatchCalls()) != 0 {
			t.Errorf("expected no batch calls, got %d", len(analyzer.BatchCalls()))
		}
	})

	t.Run("Unauthorized Short Circuit", func(t *testing.T) {
		store := setupStore(t)
		seedSongs(t, store, 25)
		analyzer := &tu.FakeAnalyzer{
			BatchFunc: func(context.Context, []*models.Song) ([]models.AnalysisResult, error) {
				return nil, shared.NewError(shared.KindUnauthorized, "POST /analyze/batch", nil)
			},
		}
		pipeline := newPipeline(store, analyzer, PipelineOpts{})

		err := pipeline.ExecuteBatch(ctx, fetchAll(t, store), nil)
		if !errors.Is(err, shared.ErrUnauthorized) {
			t.Fatalf("expected unauthorized error, got %v", err)
		}
		if calls := analyzer.BatchCalls(); len(calls) != 1 {
			t.Errorf("expected 1 batch call, got %d", len(calls))
		}
	})

	t.Run("Partial Failure", func(t *testing.T) {
		store := setupStore(t)
		seedSongs(t, store, 25)
		var n atomic.Int32
		completed := 0
		analyzer := &tu.FakeAnalyzer{
			BatchFunc: func(_ context.Context, songs []*models.Song) ([]models.AnalysisResult, error) {
				if n.Add(1) == 1 {
					return nil, shared.ServerError("POST /analyze/batch", 500, nil)
				}
				results := make([]models.AnalysisResult, 0, len(songs))
				for _, s := range songs {
					results = append(results, models.AnalysisResult{SongID: s.ID, Tags: []models.TagInput{{Name: "Late"}}})
				}
				return results, nil
			},
		}
		pipeline := newPipeline(store, analyzer, PipelineOpts{
			OnBatchComplete: func(context.Context) { completed++ },
		})

		var calls []progressCall
		if err := pipeline.ExecuteBatch(ctx, fetchAll(t, store), recordProgress(&calls)); err != nil {
			t.Fatalf("expected no error when a chunk succeeds, got %v", err)
		}
		if len(analyzer.BatchCalls()) != 2 {
			t.Errorf("expected 2 batch calls, got %d", len(analyzer.BatchCalls()))
		}
		if !slices.Equal(calls, []progressCall{{5, 25}}) {
			t.Errorf("expected progress [(5, 25)], got %v", calls)
		}
		if completed != 1 {
			t.Errorf("expected batch completion hook to run once, got %d", completed)
		}
	})

	t.Run("All Chunks Fail", func(t *testing.T) {
		store := setupStore(t)
		seedSongs(t, store, 25)
		var n atomic.Int32
		completed := 0
		analyzer := &tu.FakeAnalyzer{
			BatchFunc: func(context.Context, []*models.Song) ([]models.AnalysisResult, error) {
				return nil, shared.ServerError("POST /analyze/batch", 500+int(n.Add(1)), nil)
			},
		}
		pipeline := newPipeline(store, analyzer, PipelineOpts{
			OnBatchComplete: func(context.Context) { completed++ },
		})

		err := pipeline.ExecuteBatch(ctx, fetchAll(t, store), nil)
		var serr *shared.Error
		if !errors.As(err, &serr) {
			t.Fatalf("expected *shared.Error, got %v", err)
		}
		if serr.Code != 501 {
			t.Errorf("expected first error (code 501), got code %d", serr.Code)
		}
		if completed != 0 {
			t.Errorf("expected completion hook not to run, got %d", completed)
		}
	})

	t.Run("Cancellation Between Chunks", func(t *testing.T) {
		store := setupStore(t)
		seedSongs(t, store, 45)
		analyzer := &tu.FakeAnalyzer{}
		pipeline := newPipeline(store, analyzer, PipelineOpts{})

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var calls []progressCall
		onProgress := func(processed, total int) {
			calls = append(calls, progressCall{processed, total})
			cancel()
		}

		err := pipeline.ExecuteBatch(cctx, fetchAll(t, store), onProgress)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if len(analyzer.BatchCalls()) != 1 {
			t.Errorf("expected 1 batch call, got %d", len(analyzer.BatchCalls()))
		}

		analyzed := 0
		for _, song := range fetchAll(t, store) {
			if song.HasSystemTag() {
				analyzed++
			}
		}
		if analyzed != ChunkSize {
			t.Errorf("expected dispatched chunk to be persisted (%d songs), got %d", ChunkSize, analyzed)
		}
	})
}

func TestProgressUpdate_NonBlocking(t *testing.T) {
	progress := make(chan ProgressUpdate, 1)
	progress <- ProgressUpdate{Phase: PullPage}

	done := make(chan struct{})
	go func() {
		sendProgress(progress, analyzeChunkUpdate(20, 25))
		sendProgress(nil, analyzeChunkUpdate(25, 25))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sendProgress blocked on a full channel")
	}
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PullPage, "pull_page"},
		{HydratePage, "hydrate_page"},
		{PushSong, "push_song"},
		{AnalyzeChunk, "analyze_chunk"},
		{Phase(99), ""},
	}

	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}
