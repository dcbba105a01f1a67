// Package cycle runs one authenticate-then-sync pass and keeps a record of it.
package cycle

import (
	"context"
	"errors"
	"net/http"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-reverse-sync/internal/auth"
	"github.com/justestif/go-spotify-reverse-sync/internal/sync"
)

// Status is the outcome of a cycle.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run describes a single cycle.
type Run struct {
	ID         uuid.UUID     `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Status     Status        `json:"status"`
	Stage      sync.Stage    `json:"stage,omitempty"` // Where a failed run stopped
	Tracks     int           `json:"tracks"`
	Skipped    int           `json:"skipped"`
	Batches    int           `json:"batches"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Authenticator issues access tokens.
type Authenticator interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	Client(ctx context.Context, token *oauth2.Token) *http.Client
}

// ClientFactory builds a playlist client from an authorized HTTP client.
type ClientFactory func(httpClient *http.Client) sync.PlaylistClient

// Synchronizer performs the fetch, sort and write steps.
type Synchronizer interface {
	Sync(ctx context.Context, client sync.PlaylistClient) (*sync.Result, error)
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, run Run) error
}

// Runner executes cycles. Cycles must not overlap; the scheduler guarantees it.
type Runner struct {
	auth      Authenticator
	newClient ClientFactory
	sync      Synchronizer
	logger    *zap.Logger
	recorder  Recorder
	history   *History

	mu    gosync.Mutex
	stage sync.Stage
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder forwards every finished run to r.
func WithRecorder(r Recorder) Option {
	return func(rn *Runner) {
		rn.recorder = r
	}
}

// WithHistorySize sets how many runs are kept in memory.
func WithHistorySize(n int) Option {
	return func(rn *Runner) {
		rn.history = NewHistory(n)
	}
}

// New creates a Runner.
func New(a Authenticator, newClient ClientFactory, s Synchronizer, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		auth:      a,
		newClient: newClient,
		sync:      s,
		logger:    logger,
		history:   NewHistory(DefaultHistorySize),
		stage:     sync.StageIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetStage records the current stage. It is meant to be passed to
// sync.WithStageHook.
func (r *Runner) SetStage(s sync.Stage) {
	r.mu.Lock()
	r.stage = s
	r.mu.Unlock()
}

// Stage reports the stage of the cycle in progress, or StageIdle.
func (r *Runner) Stage() sync.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// History returns the in-memory run history.
func (r *Runner) History() *History {
	return r.history
}

// Run executes one cycle. The returned error is the *auth.Error or
// *sync.Error that ended it, so callers can classify it with errors.As.
func (r *Runner) Run(ctx context.Context) (Run, error) {
	run := Run{
		ID:        uuid.New(),
		StartedAt: time.Now().UTC(),
		Status:    StatusRunning,
	}
	logger := r.logger.With(zap.String("run_id", run.ID.String()))
	logger.Info("Cycle started")

	result, err := r.run(ctx)
	r.SetStage(sync.StageIdle)

	run.FinishedAt = time.Now().UTC()
	run.Duration = run.FinishedAt.Sub(run.StartedAt)
	if result != nil {
		run.Tracks = result.Written
		run.Skipped = result.Skipped
		run.Batches = result.Batches
	}

	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		run.Stage = failedStage(err)
		logger.Error("Cycle failed",
			zap.String("stage", string(run.Stage)),
			zap.Duration("duration", run.Duration),
			zap.Error(err))
	} else {
		run.Status = StatusSucceeded
		logger.Info("Cycle finished",
			zap.Int("tracks", run.Tracks),
			zap.Int("skipped", run.Skipped),
			zap.Int("batches", run.Batches),
			zap.Duration("duration", run.Duration))
	}

	r.history.Add(run)
	if r.recorder != nil {
		// The cycle context may already be cancelled or expired.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if rerr := r.recorder.Record(recordCtx, run); rerr != nil {
			logger.Warn("Recording run failed", zap.Error(rerr))
		}
		cancel()
	}

	return run, err
}

func (r *Runner) run(ctx context.Context) (*sync.Result, error) {
	r.SetStage(sync.StageAuthenticating)
	token, err := r.auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	client := r.newClient(r.auth.Client(ctx, token))
	return r.sync.Sync(ctx, client)
}

func failedStage(err error) sync.Stage {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return sync.StageAuthenticating
	}
	var syncErr *sync.Error
	if errors.As(err, &syncErr) {
		return syncErr.Stage
	}
	return ""
}
