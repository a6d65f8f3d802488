// Shared HTTP client for the tag authority and the analyzer
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/vibetag/internal/shared"
	"golang.org/x/oauth2"
)

// maxErrorBody bounds how much of a failed response is kept in the error message.
const maxErrorBody = 512

// APIClient performs authenticated JSON requests and classifies failures into [shared.Kind]s.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
}

// NewAPIClient creates a client for baseURL. A nil tokens source sends unauthenticated requests.
func NewAPIClient(baseURL string, client *http.Client, tokens oauth2.TokenSource) *APIClient {
	if baseURL == "" {
		baseURL = "http://localhost:3000/api"
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		tokens:     tokens,
	}
}

// BaseURL returns the root every request path is appended to.
func (a *APIClient) BaseURL() string { return a.baseURL }

// Get performs a GET request and decodes the JSON response into result.
func (a *APIClient) Get(ctx context.Context, path string, query url.Values, result any) error {
	return a.Do(ctx, http.MethodGet, path, query, nil, result)
}

// Post performs a POST request with a JSON body and decodes the JSON response into result.
func (a *APIClient) Post(ctx context.Context, path string, body, result any) error {
	return a.Do(ctx, http.MethodPost, path, nil, body, result)
}

// Put performs a PUT request with a JSON body and decodes the JSON response into result.
func (a *APIClient) Put(ctx context.Context, path string, body, result any) error {
	return a.Do(ctx, http.MethodPut, path, nil, body, result)
}

// Do performs a request against the API.
//
// Failures are reported as [*shared.Error]: 401 and 403 as unauthorized, other non-2xx statuses as
// server errors carrying the code, transport failures as network errors and undecodable bodies as
// decoding errors.
func (a *APIClient) Do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	op := method + " " + path

	fullURL := a.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if a.tokens != nil {
		token, err := a.tokens.Token()
		if err != nil {
			return shared.NewError(shared.KindUnauthorized, op, err)
		}
		token.SetAuthHeader(req)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return shared.NewError(shared.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return shared.NewError(shared.KindUnauthorized, op, fmt.Errorf("status %d", resp.StatusCode))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var cause error
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			cause = errors.New(msg)
		}
		return shared.ServerError(op, resp.StatusCode, cause)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return shared.NewError(shared.KindNetwork, op, fmt.Errorf("failed to read response: %w", err))
	}
	if err := json.Unmarshal(data, result); err != nil {
		return shared.NewError(shared.KindDecoding, op, err)
	}

	return nil
}
