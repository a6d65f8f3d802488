package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/vibetag/internal/server"
	"github.com/desertthunder/vibetag/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// ready opens the runner and checks the preconditions the engine would otherwise skip silently.
func (r *Runner) ready(ctx context.Context) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	if !r.session.IsAuthenticated() {
		return fmt.Errorf("%w: run 'vibetag auth login' first", shared.ErrNotAuthenticated)
	}
	if !r.probe(ctx) {
		return fmt.Errorf("%w: %s is unreachable", shared.ErrServiceUnavailable, r.config.Remote.BaseURL)
	}
	return nil
}

// SyncPull downloads remote tags into the local library.
func (r *Runner) SyncPull(ctx context.Context, cmd *cli.Command) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	if err := r.engine.PullRemoteData(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Pull complete\n")
}

// SyncPush uploads songs with pending local changes.
func (r *Runner) SyncPush(ctx context.Context, cmd *cli.Command) error {
	if err := r.ready(ctx); err != nil {
		return err
	}

	result := r.engine.SyncPendingChanges(ctx)
	if cmd.Bool("json") {
		return r.writeJSON(result, false)
	}
	return r.writePlain("✓ Pushed %d songs: %d synced, %d still pending, %d failed\n",
		result.Attempted, result.Synced, result.StillPending, result.Failed)
}

// SyncRun pulls then pushes.
func (r *Runner) SyncRun(ctx context.Context, cmd *cli.Command) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	if err := r.engine.Sync(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Sync complete\n")
}

// SyncStatus prints the engine snapshot.
func (r *Runner) SyncStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	stats, err := r.engine.Stats(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(stats, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Sync Status")
	r.writePlain("Songs:   %d\n", stats.Library.Songs)
	r.writePlain("Pending: %d\n", stats.Library.Pending)
	r.writePlain("Tags:    %d\n", stats.Library.Tags)
	return nil
}

// Watch runs the connectivity monitor, token watcher, periodic sync and status server until interrupted.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if r.monitor != nil {
		g.Go(func() error { return r.monitor.Run(ctx) })
	}
	g.Go(func() error { return r.session.Watch(ctx) })
	g.Go(func() error { return r.syncLoop(ctx) })

	if !cmd.Bool("no-server") {
		router := server.NewBasicRouter()
		router.Use(server.Recover(r.logger), server.Logging(r.logger))
		router.Handler(server.NewStatusHandler(r.engine, r.logger))
		router.Handle(http.MethodPost, "/sync", server.SyncTrigger(r.engine, r.logger))

		r.logger.Debug("status routes", "patterns", router.Patterns())

		srv := server.NewServer(r.config.Server.Addr(), router, r.logger)
		g.Go(func() error { return srv.Run(ctx) })
		r.writePlain("→ Status at http://%s/status\n", srv.Addr())
	}

	r.writePlain("→ Watching %s (Ctrl+C to stop)\n", r.config.Remote.BaseURL)
	return g.Wait()
}

// syncLoop runs a full sync on every configured interval.
func (r *Runner) syncLoop(ctx context.Context) error {
	interval := r.config.Sync.Interval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.engine.Sync(ctx); err != nil {
				r.logger.Warn("periodic sync failed", "err", err)
			}
		}
	}
}
