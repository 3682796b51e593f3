package ports

import (
	"context"
	"time"

	"mediafetch/internal/domain"
)

// JobStore is the single write path for job lifecycle state.
// Transition is the only mutator of Status; nothing else may change it.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) (domain.JobID, error)
	Load(ctx context.Context, id domain.JobID) (*domain.Job, error)
	List(ctx context.Context, filter domain.Filter, page domain.Page) (domain.PageResult, error)

	// Transition atomically moves id from one of fromStates to toState,
	// applying patch. It returns domain.ErrConflict if the job's current
	// status is not in fromStates. Repeating an already-applied transition
	// is a no-op success, not a Conflict.
	Transition(ctx context.Context, id domain.JobID, fromStates []domain.Status, toState domain.Status, patch TransitionPatch) error

	// TouchProgress accepts a monotone-increasing percent while the job is
	// running; lower or equal values are silently ignored.
	TouchProgress(ctx context.Context, id domain.JobID, percent float64) error

	// Probe performs a lightweight round trip (e.g. a bounded List) to
	// confirm the backing store is reachable, for the operator health check.
	Probe(ctx context.Context) HealthStatus
}

// TransitionPatch carries the optional field updates that accompany a
// transition; nil/zero means "leave unchanged" except ClearError.
type TransitionPatch struct {
	IncrementAttempts bool
	StartedAt         *time.Time
	FinishedAt        *time.Time
	ClearError        bool
	Error             *domain.JobError
	Metadata          *domain.Metadata
	Artifacts         *domain.Artifacts
}
