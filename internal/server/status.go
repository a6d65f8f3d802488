package server

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vibetag/internal/shared"
	"github.com/desertthunder/vibetag/internal/tasks"
)

// StatsSource reports the sync engine state. Implemented by [tasks.SyncEngine].
type StatsSource interface {
	Stats(ctx context.Context) (tasks.SyncStats, error)
}

// Syncer runs a full sync cycle. Implemented by [tasks.SyncEngine].
type Syncer interface {
	Sync(ctx context.Context) error
}

// StatusHandler serves liveness and sync state as JSON.
type StatusHandler struct {
	stats  StatsSource
	logger *log.Logger
}

func NewStatusHandler(stats StatsSource, logger *log.Logger) *StatusHandler {
	return &StatusHandler{stats: stats, logger: logger}
}

// Routes returns the HTTP routes this handler serves.
func (h *StatusHandler) Routes() []string {
	return []string{"/health", "/status"}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, h.logger)
		return
	}

	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to collect stats", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()}, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, stats, h.logger)
}

// SyncTrigger starts a sync cycle in the background and answers 202.
//
// The cycle outlives the request; its outcome shows up in /status.
func SyncTrigger(syncer Syncer, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if err := syncer.Sync(ctx); err != nil {
				logger.Warn("triggered sync failed", "err", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"}, logger)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *log.Logger) {
	data, err := shared.MarshalJSON(v, false)
	if err != nil {
		logger.Error("failed to encode response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
