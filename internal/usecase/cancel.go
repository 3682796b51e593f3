package usecase

import (
	"context"
	"errors"

	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
	"mediafetch/internal/metrics"
)

type CancelOutcome string

const (
	CancelCancelled CancelOutcome = "cancelled"
	CancelAccepted  CancelOutcome = "accepted"
)

type CancelJob struct {
	Store    ports.JobStore
	Registry ports.CancelRegistry
}

// Execute implements cancel(id): a queued job is cancelled
// immediately; a running job has its cancel flag set and the caller is told
// the request was accepted, with the actual status change observable once
// the Worker reaches its next checkpoint.
func (uc CancelJob) Execute(ctx context.Context, id domain.JobID) (CancelOutcome, error) {
	err := uc.Store.Transition(ctx, id, []domain.Status{domain.StatusQueued}, domain.StatusCancelled, ports.TransitionPatch{})
	if err == nil {
		metrics.JobCancellationsTotal.Inc()
		return CancelCancelled, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return "", wrapStore(err)
	}

	job, loadErr := uc.Store.Load(ctx, id)
	if loadErr != nil {
		return "", wrapStore(loadErr)
	}
	if job.Status != domain.StatusRunning {
		return "", domain.ErrConflict
	}

	uc.Registry.Set(id)
	metrics.JobCancellationsTotal.Inc()
	return CancelAccepted, nil
}
