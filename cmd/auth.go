package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/vibetag/internal/server"
	"github.com/desertthunder/vibetag/internal/shared"
	"github.com/urfave/cli/v3"
)

const defaultLoginTimeout = 2 * time.Minute

// AuthLogin runs the OAuth authorization code flow with a local callback server.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	session, err := r.tokenSession()
	if err != nil {
		return err
	}

	state, err := shared.GenerateState()
	if err != nil {
		return fmt.Errorf("failed to generate state token: %w", err)
	}

	handler := server.NewOAuthHandler(session, state)
	router := server.NewBasicRouter()
	router.Handler(handler)
	srv := server.NewServer(r.config.Server.Addr(), router, r.logger)

	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	serverErrors := make(chan error, 1)
	go func() { serverErrors <- srv.Run(ctx) }()

	authURL := session.AuthCodeURL(state)
	r.writePlain("→ Opening browser to sign in...\n")
	if err := shared.OpenBrowser(ctx, authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	var result server.OAuthResult
	select {
	case result = <-handler.Result():
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
		}
		return ctx.Err()
	}

	cancel()
	<-serverErrors

	if result.Error() != nil {
		return fmt.Errorf("%w: %w", shared.ErrAuthFailed, result.Error())
	}
	if result.Token == nil {
		return fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}

	r.logger.Info("signed in", "token_file", session.Path())
	return r.writePlain("✓ Signed in\n")
}

// AuthStatus prints whether a session is held and whether the remote is reachable.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	r.writePlainHeader("Authentication")
	if r.session.IsAuthenticated() {
		r.writePlain("Session:  ✓ Authenticated (%s)\n", r.session.Path())
	} else {
		r.writePlain("Session:  ✗ Not authenticated\n")
	}

	if r.probe(ctx) {
		r.writePlain("Remote:   ✓ %s reachable\n", r.config.Remote.BaseURL)
	} else {
		r.writePlain("Remote:   ✗ %s unreachable\n", r.config.Remote.BaseURL)
	}
	return nil
}

// AuthLogout clears every tag from the library and forgets the session.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	if err := r.store.ClearAllTags(ctx); err != nil {
		return fmt.Errorf("failed to clear tags: %w", err)
	}
	if err := r.session.Clear(); err != nil {
		return err
	}

	r.logger.Info("signed out")
	return r.writePlain("✓ Signed out and cleared local tags\n")
}
