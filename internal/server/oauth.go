package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"
)

// Exchanger trades an authorization code for a token. [services.TokenSession] persists the token
// as part of the exchange.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// OAuthResult is the outcome of one browser login.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

func (o *OAuthResult) Error() error {
	return o.err
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>VibeTag</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
           display: flex; align-items: center; justify-content: center; height: 100vh;
           margin: 0; background: #f5f5f5; }
    main { text-align: center; background: white; padding: 2rem; border-radius: 12px; }
    h1 { color: {{.Color}}; margin: 0 0 1rem 0; }
    p { color: #8E8E93; margin: 0; }
  </style>
</head>
<body>
  <main>
    <h1>{{.Heading}}</h1>
    <p>{{.Detail}}</p>
  </main>
</body>
</html>
`))

type callbackView struct {
	Heading string
	Detail  string
	Color   string
}

// OAuthHandler serves /callback for a single browser login and reports the outcome on [OAuthHandler.Result].
type OAuthHandler struct {
	exchanger Exchanger
	state     string
	results   chan OAuthResult
	once      sync.Once
	hit       atomic.Bool
}

// NewOAuthHandler creates a handler that accepts codes carrying state and exchanges them through exchanger.
func NewOAuthHandler(exchanger Exchanger, state string) *OAuthHandler {
	return &OAuthHandler{
		exchanger: exchanger,
		state:     state,
		results:   make(chan OAuthResult, 1),
	}
}

func (h *OAuthHandler) Routes() []string {
	return []string{"/callback"}
}

// ServeHTTP handles the redirect from the authorization server. Only the first request is processed.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.hit.CompareAndSwap(false, true) {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}

	token, status, err := h.complete(r)
	h.Send(OAuthResult{Token: token, err: err})

	view := callbackView{Heading: "Signed in to VibeTag", Detail: "You can close this window and return to the terminal.", Color: "#AF52DE"}
	if err != nil {
		view = callbackView{Heading: "Sign in failed", Detail: err.Error(), Color: "#FF3B30"}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	callbackPage.Execute(w, view)
}

func (h *OAuthHandler) complete(r *http.Request) (*oauth2.Token, int, error) {
	query := r.URL.Query()
	if query.Get("state") != h.state {
		return nil, http.StatusBadRequest, errors.New("invalid state parameter")
	}

	code := query.Get("code")
	if code == "" {
		return nil, http.StatusBadRequest, fmt.Errorf("authorization failed: %s - %s", query.Get("error"), query.Get("error_description"))
	}

	token, err := h.exchanger.Exchange(r.Context(), code)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("token exchange failed: %w", err)
	}
	return token, http.StatusOK, nil
}

// Send delivers result once. Later calls are ignored.
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.results <- result
		close(h.results)
	})
}

// Result yields exactly one [OAuthResult] and is then closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}
