package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vibetag/internal/shared"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/oauth2"
)

// TokenSession holds the OAuth2 token for the tag authority.
//
// The token is persisted as JSON at the configured path. Refreshed tokens are written back, and
// [TokenSession.Watch] reloads the file when another process logs in or out.
type TokenSession struct {
	config *oauth2.Config
	path   string
	logger *log.Logger

	mu     sync.RWMutex
	token  *oauth2.Token
	source oauth2.TokenSource
}

// NewTokenSession creates a session from auth settings. Call [TokenSession.Load] to read a saved token.
func NewTokenSession(cfg shared.AuthConfig, logger *log.Logger) *TokenSession {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
	}

	return &TokenSession{
		config: config,
		path:   cfg.TokenFile,
		logger: shared.WithLogger(logger, "component", "session"),
	}
}

// OAuthConfig returns the client configuration used for login and refresh.
func (s *TokenSession) OAuthConfig() *oauth2.Config { return s.config }

// Path returns the token file location.
func (s *TokenSession) Path() string { return s.path }

// IsAuthenticated reports whether a usable token is held: valid now, or refreshable.
func (s *TokenSession) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return false
	}
	return s.token.Valid() || s.token.RefreshToken != ""
}

// Token implements [oauth2.TokenSource], refreshing through the token endpoint when needed.
func (s *TokenSession) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	current, source := s.token, s.source
	s.mu.RUnlock()

	if source == nil {
		return nil, shared.ErrNotAuthenticated
	}

	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrAuthFailed, err)
	}

	if current == nil || token.AccessToken != current.AccessToken {
		s.logger.Debug("token refreshed", "expiry", token.Expiry)
		if err := s.SetToken(token); err != nil {
			s.logger.Warn("failed to persist refreshed token", "err", err)
		}
	}
	return token, nil
}

// AuthCodeURL returns the authorization URL for a browser login.
func (s *TokenSession) AuthCodeURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and saves it.
func (s *TokenSession) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange auth code: %w", shared.ErrAuthFailed, err)
	}
	if err := s.SetToken(token); err != nil {
		return nil, err
	}
	return token, nil
}

// SetToken replaces the held token and writes it to disk.
func (s *TokenSession) SetToken(token *oauth2.Token) error {
	s.setToken(token)
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Load reads the token file. A missing file leaves the session signed out.
func (s *TokenSession) Load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.setToken(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return fmt.Errorf("failed to parse token file: %w", err)
	}
	s.setToken(&token)
	return nil
}

// Clear forgets the token and deletes the token file.
func (s *TokenSession) Clear() error {
	s.setToken(nil)
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

func (s *TokenSession) setToken(token *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	if token == nil {
		s.source = nil
		return
	}
	s.source = s.config.TokenSource(context.Background(), token)
}

// Watch reloads the token whenever the file changes, until ctx is done.
//
// The parent directory is watched so editors and atomic renames are observed.
func (s *TokenSession) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Load(); err != nil {
				s.logger.Warn("failed to reload token", "err", err)
				continue
			}
			s.logger.Info("token file changed", "authenticated", s.IsAuthenticated())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("token watcher error", "err", err)
		}
	}
}
