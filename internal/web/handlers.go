package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/justestif/go-spotify-reverse-sync/internal/cycle"
	"github.com/justestif/go-spotify-reverse-sync/internal/sync"
)

// recentRuns is how many runs /status reports.
const recentRuns = 10

// Scheduler is the part of the scheduler the handlers need.
type Scheduler interface {
	Trigger() bool
	Busy() bool
	Next() time.Time
	Schedule() string
}

// RunSource reports the current stage and past runs.
type RunSource interface {
	Stage() sync.Stage
	History() *cycle.History
}

// RunStore lists runs persisted across restarts.
type RunStore interface {
	Recent(ctx context.Context, limit int) ([]cycle.Run, error)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	Schedule    string      `json:"schedule"`
	Next        *time.Time  `json:"next,omitempty"`
	Busy        bool        `json:"busy"`
	Stage       sync.Stage  `json:"stage"`
	LastRun     *cycle.Run  `json:"last_run,omitempty"`
	Recent      []cycle.Run `json:"recent"`
}

// Handlers contains the HTTP handlers.
type Handlers struct {
	source      string
	destination string
	scheduler   Scheduler
	runs        RunSource
	store       RunStore
	logger      *zap.Logger
}

// NewHandlers creates a new Handlers instance. store may be nil, in which
// case /status reports the in-memory history only.
func NewHandlers(source, destination string, scheduler Scheduler, runs RunSource, store RunStore, logger *zap.Logger) *Handlers {
	return &Handlers{
		source:      source,
		destination: destination,
		scheduler:   scheduler,
		runs:        runs,
		store:       store,
		logger:      logger,
	}
}

// Health reports liveness (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Status reports the schedule, the cycle in progress and recent runs (GET /status).
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Source:      h.source,
		Destination: h.destination,
		Schedule:    h.scheduler.Schedule(),
		Busy:        h.scheduler.Busy(),
		Stage:       h.runs.Stage(),
		Recent:      h.recent(r.Context()),
	}
	if next := h.scheduler.Next(); !next.IsZero() {
		resp.Next = &next
	}
	if len(resp.Recent) > 0 {
		resp.LastRun = &resp.Recent[0]
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) recent(ctx context.Context) []cycle.Run {
	if h.store != nil {
		runs, err := h.store.Recent(ctx, recentRuns)
		if err == nil {
			return runs
		}
		h.logger.Warn("Reading run history failed, using in-memory history", zap.Error(err))
	}
	return h.runs.History().Recent(recentRuns)
}

// Sync starts a cycle now (POST /sync). Responds 409 if one is running.
func (h *Handlers) Sync(w http.ResponseWriter, r *http.Request) {
	if !h.scheduler.Trigger() {
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "a sync cycle is already running"})
		return
	}

	h.logger.Info("Sync cycle triggered over HTTP",
		zap.String("remote_addr", r.RemoteAddr))
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
