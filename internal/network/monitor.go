// Package network observes connectivity to the remote tag authority.
package network

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vibetag/internal/shared"
)

// Monitor probes a health endpoint and notifies subscribers when reachability changes.
//
// Any response below 500 counts as connected: the server answered, even if it refused the request.
type Monitor struct {
	url      string
	client   *http.Client
	interval time.Duration
	logger   *log.Logger

	// emitMu orders transitions and their notifications; it is taken before mu.
	emitMu sync.Mutex

	mu          sync.Mutex
	connected   bool
	seq         uint64
	applied     uint64
	nextID      int
	subscribers map[int]func(bool)
}

// NewMonitor creates a monitor for baseURL+healthPath. The monitor starts disconnected until
// the first probe; call [Monitor.Run] or [Monitor.Probe] to update it.
func NewMonitor(baseURL, healthPath string, interval time.Duration, client *http.Client, logger *log.Logger) *Monitor {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &Monitor{
		url:         strings.TrimRight(baseURL, "/") + healthPath,
		client:      client,
		interval:    interval,
		logger:      shared.WithLogger(logger, "component", "network"),
		subscribers: make(map[int]func(bool)),
	}
}

// URL returns the probed endpoint.
func (m *Monitor) URL() string { return m.url }

// IsConnected reports the result of the most recent probe.
func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Subscribe registers fn for state transitions and returns a function that removes it.
func (m *Monitor) Subscribe(fn func(connected bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Probe checks the endpoint once, updates the state and returns it.
//
// Probes may overlap. A result is dropped when a probe started later has already been applied,
// in which case the newer state is returned.
func (m *Monitor) Probe(ctx context.Context) bool {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	return m.set(seq, m.check(ctx))
}

func (m *Monitor) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		m.logger.Warn("invalid health url", "url", m.url, "err", err)
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("probe failed", "url", m.url, "err", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode < http.StatusInternalServerError
}

// set applies the result of probe seq and notifies subscribers when the state changed. Results
// older than the last applied probe are ignored. It returns the current state.
func (m *Monitor) set(seq uint64, connected bool) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if seq < m.applied {
		current, applied := m.connected, m.applied
		m.mu.Unlock()
		m.logger.Debug("dropping stale probe result", "seq", seq, "applied", applied)
		return current
	}
	m.applied = seq
	changed := m.connected != connected
	m.connected = connected
	subs := make([]func(bool), 0, len(m.subscribers))
	if changed {
		for _, fn := range m.subscribers {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	if !changed {
		return connected
	}
	m.logger.Info("connectivity changed", "connected", connected)
	for _, fn := range subs {
		fn(connected)
	}
	return connected
}

// Run probes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
