package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/go-spotify-reverse-sync/internal/cycle"
	"github.com/justestif/go-spotify-reverse-sync/internal/sync"
)

// RunRepository handles sync run database operations.
// It satisfies cycle.Recorder.
type RunRepository struct {
	pool *pgxpool.Pool
}

// Record inserts a finished run. Recording the same run twice is a no-op.
func (r *RunRepository) Record(ctx context.Context, run cycle.Run) error {
	query := `
		INSERT INTO sync_runs (id, started_at, finished_at, status, stage, tracks, skipped, batches, error, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.StartedAt,
		run.FinishedAt,
		string(run.Status),
		string(run.Stage),
		run.Tracks,
		run.Skipped,
		run.Batches,
		run.Error,
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting sync run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (r *RunRepository) Recent(ctx context.Context, limit int) ([]cycle.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, stage, tracks, skipped, batches, error, duration_ms
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("scanning sync runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.CollectableRow) (cycle.Run, error) {
	var (
		run        cycle.Run
		status     string
		stage      string
		durationMs int64
	)
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&stage,
		&run.Tracks,
		&run.Skipped,
		&run.Batches,
		&run.Error,
		&durationMs,
	)
	if err != nil {
		return cycle.Run{}, err
	}
	run.Status = cycle.Status(status)
	run.Stage = sync.Stage(stage)
	run.Duration = time.Duration(durationMs) * time.Millisecond
	return run, nil
}
