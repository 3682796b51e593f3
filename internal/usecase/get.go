package usecase

import (
	"context"
	"errors"

	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
)

type GetJob struct {
	Store ports.JobStore
}

func (uc GetJob) Execute(ctx context.Context, id domain.JobID) (domain.Job, error) {
	job, err := uc.Store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Job{}, err
		}
		return domain.Job{}, wrapStore(err)
	}
	return *job, nil
}

type ListJobs struct {
	Store ports.JobStore
}

func (uc ListJobs) Execute(ctx context.Context, filter domain.Filter, page domain.Page) (domain.PageResult, error) {
	result, err := uc.Store.List(ctx, filter, page)
	if err != nil {
		return domain.PageResult{}, wrapStore(err)
	}
	return result, nil
}
