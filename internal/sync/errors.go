package sync

import "fmt"

// Stage is a step of a synchronization cycle.
type Stage string

// Cycle stages in the order they are entered. Any failure goes straight back
// to StageIdle.
const (
	StageIdle                Stage = "idle"
	StageAuthenticating      Stage = "authenticating"
	StageFetchingSource      Stage = "fetching_source"
	StageFetchingDestination Stage = "fetching_destination"
	StageSorting             Stage = "sorting"
	StageWriting             Stage = "writing"
)

// Error is returned when a fetch or write fails during a cycle.
type Error struct {
	Stage   Stage
	Batch   int // 1-based batch that failed; only set for StageWriting
	Batches int
	Err     error
}

func (e *Error) Error() string {
	if e.Stage == StageWriting {
		return fmt.Sprintf("sync failed writing batch %d of %d: %v", e.Batch, e.Batches, e.Err)
	}
	return fmt.Sprintf("sync failed while %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
