// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/desertthunder/vibetag/internal/models"
	"golang.org/x/oauth2"
)

// PushCall records one [FakeTransport.PushSongUpdate] call.
type PushCall struct {
	ID     string
	Update models.SongUpdate
}

// FakeTransport is a test double for the remote tag-sync transport.
//
// FetchFunc and PushFunc override the default behaviour of serving Pages and accepting every push.
type FakeTransport struct {
	Pages     map[int][]models.RemoteSong
	FetchFunc func(ctx context.Context, page, limit int) ([]models.RemoteSong, error)
	PushFunc  func(ctx context.Context, id string, update models.SongUpdate) error

	mu         sync.Mutex
	fetchCalls []int
	pushCalls  []PushCall
}

func (f *FakeTransport) FetchLibraryPage(ctx context.Context, page, limit int) ([]models.RemoteSong, error) {
	f.mu.Lock()
	f.fetchCalls = append(f.fetchCalls, page)
	f.mu.Unlock()

	if f.FetchFunc != nil {
		return f.FetchFunc(ctx, page, limit)
	}
	return f.Pages[page], nil
}

func (f *FakeTransport) PushSongUpdate(ctx context.Context, id string, update models.SongUpdate) error {
	f.mu.Lock()
	f.pushCalls = append(f.pushCalls, PushCall{ID: id, Update: update})
	f.mu.Unlock()

	if f.PushFunc != nil {
		return f.PushFunc(ctx, id, update)
	}
	return nil
}

// FetchCalls returns the pages requested so far.
func (f *FakeTransport) FetchCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.fetchCalls...)
}

// PushCalls returns the pushes made so far.
func (f *FakeTransport) PushCalls() []PushCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PushCall(nil), f.pushCalls...)
}

// FakeAnalyzer is a test double for the AI analyzer.
type FakeAnalyzer struct {
	OneFunc   func(ctx context.Context, song *models.Song) ([]models.TagInput, error)
	BatchFunc func(ctx context.Context, songs []*models.Song) ([]models.AnalysisResult, error)

	mu         sync.Mutex
	oneCalls   []string
	batchCalls [][]string
}

func (f *FakeAnalyzer) AnalyzeOne(ctx context.Context, song *models.Song) ([]models.TagInput, error) {
	f.mu.Lock()
	f.oneCalls = append(f.oneCalls, song.ID)
	f.mu.Unlock()

	if f.OneFunc != nil {
		return f.OneFunc(ctx, song)
	}
	return []models.TagInput{{Name: "Analyzed"}}, nil
}

func (f *FakeAnalyzer) AnalyzeBatch(ctx context.Context, songs []*models.Song) ([]models.AnalysisResult, error) {
	ids := make([]string, 0, len(songs))
	for _, s := range songs {
		ids = append(ids, s.ID)
	}
	f.mu.Lock()
	f.batchCalls = append(f.batchCalls, ids)
	f.mu.Unlock()

	if f.BatchFunc != nil {
		return f.BatchFunc(ctx, songs)
	}
	results := make([]models.AnalysisResult, 0, len(songs))
	for _, id := range ids {
		results = append(results, models.AnalysisResult{SongID: id, Tags: []models.TagInput{{Name: "Analyzed"}}})
	}
	return results, nil
}

// OneCalls returns the song ids passed to AnalyzeOne.
func (f *FakeAnalyzer) OneCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.oneCalls...)
}

// BatchCalls returns the song ids of every AnalyzeBatch chunk.
func (f *FakeAnalyzer) BatchCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.batchCalls...)
}

// FakeSession is a test double for the auth session.
type FakeSession struct {
	authenticated atomic.Bool
}

func NewFakeSession(authenticated bool) *FakeSession {
	s := &FakeSession{}
	s.authenticated.Store(authenticated)
	return s
}

func (s *FakeSession) IsAuthenticated() bool       { return s.authenticated.Load() }
func (s *FakeSession) SetAuthenticated(value bool) { s.authenticated.Store(value) }

// FakeNetwork is a test double for the connectivity observer.
type FakeNetwork struct {
	mu          sync.Mutex
	connected   bool
	nextID      int
	subscribers map[int]func(bool)
}

func NewFakeNetwork(connected bool) *FakeNetwork {
	return &FakeNetwork{connected: connected, subscribers: make(map[int]func(bool))}
}

func (n *FakeNetwork) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

func (n *FakeNetwork) Subscribe(fn func(connected bool)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.subscribers[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subscribers, id)
	}
}

// SetConnected changes the state and notifies subscribers on a transition.
func (n *FakeNetwork) SetConnected(connected bool) {
	n.mu.Lock()
	changed := n.connected != connected
	n.connected = connected
	subs := make([]func(bool), 0, len(n.subscribers))
	for _, fn := range n.subscribers {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range subs {
		fn(connected)
	}
}

// Subscribers returns the number of active subscriptions.
func (n *FakeNetwork) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers)
}

// FailingTokenSource always fails with Err
type FailingTokenSource struct {
	Err error
}

func (f *FailingTokenSource) Token() (*oauth2.Token, error) { return nil, f.Err }

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
