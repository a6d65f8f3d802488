package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vibetag/internal/shared"
)

// PageSize is the number of songs requested per pull page.
const PageSize = 100

// SyncEngineOpts configures a [SyncEngine].
type SyncEngineOpts struct {
	Logger         *log.Logger
	Progress       chan<- ProgressUpdate
	OnStatsChanged func(SyncStats)
}

// SyncEngine reconciles the local store with the remote tag authority.
//
// Pull and push each run single-flight; the two directions may overlap. A transition of the
// network observer to connected triggers a pull followed by a push in the background.
type SyncEngine struct {
	store     Store
	transport TagSyncTransport
	session   Session
	network   Network
	logger    *log.Logger
	progress  chan<- ProgressUpdate
	onStats   func(SyncStats)

	pulling atomic.Bool
	pushing atomic.Bool

	mu        sync.Mutex
	lastPull  time.Time
	lastPush  time.Time
	lastError string
	closed    bool

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewSyncEngine creates an engine and subscribes it to network transitions. Call [SyncEngine.Close]
// to stop listening.
func NewSyncEngine(store Store, transport TagSyncTransport, session Session, network Network, opts SyncEngineOpts) *SyncEngine {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &SyncEngine{
		store:     store,
		transport: transport,
		session:   session,
		network:   network,
		logger:    shared.WithLogger(logger, "component", "sync"),
		progress:  opts.Progress,
		onStats:   opts.OnStatsChanged,
		ctx:       ctx,
		cancel:    cancel,
	}
	e.unsubscribe = network.Subscribe(e.onNetworkChange)
	return e
}

// IsPulling reports whether a pull cycle is in flight.
func (e *SyncEngine) IsPulling() bool { return e.pulling.Load() }

// IsPushing reports whether a push cycle is in flight.
func (e *SyncEngine) IsPushing() bool { return e.pushing.Load() }

// ready checks the connectivity and session preconditions shared by pull and push.
func (e *SyncEngine) ready(op string) bool {
	if !e.network.IsConnected() {
		e.logger.Debug("skipping, offline", "op", op)
		return false
	}
	if !e.session.IsAuthenticated() {
		e.logger.Debug("skipping, not authenticated", "op", op)
		return false
	}
	return true
}

// PullRemoteData pages through the remote library and hydrates local songs.
//
// It is a no-op while offline, signed out or when a pull is already running. A page error aborts
// pagination and is returned; pages already hydrated stay applied.
func (e *SyncEngine) PullRemoteData(ctx context.Context) error {
	if !e.ready("pull") {
		return nil
	}
	if !e.pulling.CompareAndSwap(false, true) {
		e.logger.Debug("pull already in flight")
		return nil
	}

	err := func() error {
		defer e.pulling.Store(false)
		return e.pull(ctx)
	}()

	e.mu.Lock()
	if err != nil {
		e.lastError = err.Error()
	} else {
		e.lastPull = time.Now()
		e.lastError = ""
	}
	e.mu.Unlock()

	e.notify(ctx)
	return err
}

func (e *SyncEngine) pull(ctx context.Context) error {
	for page := 1; ; page++ {
		sendProgress(e.progress, pullPageUpdate(page))

		items, err := e.transport.FetchLibraryPage(ctx, page, PageSize)
		if err != nil {
			e.logger.Error("failed to fetch library page", "page", page, "err", err)
			return fmt.Errorf("failed to fetch library page %d: %w", page, err)
		}
		if len(items) == 0 {
			break
		}

		if err := e.store.HydrateRemoteTags(ctx, items); err != nil {
			return fmt.Errorf("failed to hydrate page %d: %w", page, err)
		}
		sendProgress(e.progress, hydratePageUpdate(page, len(items)))
		e.logger.Debug("hydrated page", "page", page, "songs", len(items))

		if len(items) < PageSize {
			break
		}
	}
	return nil
}

// SyncPendingChanges uploads every pending song. It never fails: per-song errors are logged and
// counted in the result.
//
// A song is only marked synced when its tag names are unchanged since the payload was built, so a
// local edit that lands during the round trip is retried on the next cycle.
func (e *SyncEngine) SyncPendingChanges(ctx context.Context) PushResult {
	var result PushResult
	if !e.ready("push") {
		return result
	}
	if !e.pushing.CompareAndSwap(false, true) {
		e.logger.Debug("push already in flight")
		return result
	}

	result = func() PushResult {
		defer e.pushing.Store(false)
		return e.push(ctx)
	}()

	e.mu.Lock()
	e.lastPush = time.Now()
	e.mu.Unlock()

	e.notify(ctx)
	return result
}

func (e *SyncEngine) push(ctx context.Context) PushResult {
	var result PushResult

	songs, err := e.store.FetchPendingUploads(ctx)
	if err != nil {
		e.logger.Error("failed to fetch pending uploads", "err", err)
		return result
	}

	for i, song := range songs {
		result.Attempted++
		sendProgress(e.progress, pushSongUpdate(i+1, len(songs), song))

		update := song.Update()
		if err := e.transport.PushSongUpdate(ctx, song.ID, update); err != nil {
			e.logger.Warn("failed to push song", "id", song.ID, "kind", shared.KindOf(err), "err", err)
			result.Failed++
			continue
		}

		marked, err := e.store.MarkAsSyncedIfUnchanged(ctx, song.ID, update.Tags)
		if errors.Is(err, shared.ErrNotFound) {
			e.logger.Debug("pushed song was deleted locally", "id", song.ID)
			continue
		}
		if err != nil {
			e.logger.Warn("failed to mark song synced", "id", song.ID, "err", err)
			result.Failed++
			continue
		}
		if !marked {
			e.logger.Info("tags changed during push, leaving pending", "id", song.ID)
			result.StillPending++
			continue
		}
		result.Synced++
	}

	e.logger.Info("push complete", "attempted", result.Attempted, "synced", result.Synced,
		"pending", result.StillPending, "failed", result.Failed)
	return result
}

// Sync runs a pull followed by a push and returns the pull error, if any. The push runs either way.
func (e *SyncEngine) Sync(ctx context.Context) error {
	err := e.PullRemoteData(ctx)
	if err != nil {
		e.logger.Warn("pull failed", "err", err)
	}
	e.SyncPendingChanges(ctx)
	return err
}

// Stats returns a snapshot of the engine state and library counts.
func (e *SyncEngine) Stats(ctx context.Context) (SyncStats, error) {
	library, err := e.store.Stats(ctx)
	if err != nil {
		return SyncStats{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return SyncStats{
		Library:   library,
		IsPulling: e.IsPulling(),
		IsPushing: e.IsPushing(),
		LastPull:  e.lastPull,
		LastPush:  e.lastPush,
		LastError: e.lastError,
	}, nil
}

func (e *SyncEngine) notify(ctx context.Context) {
	if e.onStats == nil {
		return
	}
	stats, err := e.Stats(context.WithoutCancel(ctx))
	if err != nil {
		e.logger.Warn("failed to collect stats", "err", err)
		return
	}
	e.onStats(stats)
}

func (e *SyncEngine) onNetworkChange(connected bool) {
	if !connected {
		e.logger.Info("connection lost")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.logger.Info("connection regained, syncing")
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.Sync(e.ctx); err != nil {
			e.logger.Error("reconnection sync failed", "err", err)
		}
	}()
}

// Close unsubscribes from the network observer, cancels background cycles and waits for them.
func (e *SyncEngine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.unsubscribe()
	e.cancel()
	e.wg.Wait()
}
