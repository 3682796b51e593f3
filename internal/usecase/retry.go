package usecase

import (
	"context"

	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
	"mediafetch/internal/metrics"
)

type RetryJob struct {
	Store ports.JobStore
	Queue ports.Queue
}

// Execute implements retry(id): allowed only when the job is
// failed and attempts < max_attempts; preserves the attempts counter rather
// than resetting it, so max_attempts remains a hard ceiling across retries.
func (uc RetryJob) Execute(ctx context.Context, id domain.JobID) (domain.Job, error) {
	job, err := uc.Store.Load(ctx, id)
	if err != nil {
		return domain.Job{}, wrapStore(err)
	}
	if job.Status != domain.StatusFailed {
		return domain.Job{}, domain.ErrConflict
	}
	if job.Attempts >= job.MaxAttempts {
		return domain.Job{}, domain.NewError(domain.ErrConflictKind, "attempts exhausted")
	}

	patch := ports.TransitionPatch{ClearError: true}
	if err := uc.Store.Transition(ctx, id, []domain.Status{domain.StatusFailed}, domain.StatusQueued, patch); err != nil {
		return domain.Job{}, wrapStore(err)
	}

	if err := uc.Queue.Enqueue(ctx, ports.Payload{JobID: id, Attempt: job.Attempts}, 0); err != nil {
		return domain.Job{}, wrapQueue(err)
	}

	metrics.JobRetriesTotal.Inc()
	job.Status = domain.StatusQueued
	job.Error = nil
	return *job, nil
}
