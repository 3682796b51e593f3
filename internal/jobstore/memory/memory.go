// Package memory is a mutex-guarded in-memory ports.JobStore, used by the
// "memory" backend and by unit tests that don't want a live MongoDB.
package memory

import (
	"context"
	"sort"
	"sync"

	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
)

type Store struct {
	mu   sync.Mutex
	jobs map[domain.JobID]domain.Job
}

func New() *Store {
	return &Store{jobs: make(map[domain.JobID]domain.Job)}
}

func (s *Store) Create(_ context.Context, job *domain.Job) (domain.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return "", domain.ErrConflict
	}
	s.jobs[job.ID] = *job
	return job.ID, nil
}

func (s *Store) Load(_ context.Context, id domain.JobID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := job
	return &clone, nil
}

func (s *Store) List(_ context.Context, filter domain.Filter, page domain.Page) (domain.PageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		all = append(all, job)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamps.CreatedAt.After(all[j].Timestamps.CreatedAt)
	})

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	start := 0
	if page.Cursor != "" {
		for i, job := range all {
			if string(job.ID) == page.Cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	if start > len(all) {
		start = len(all)
	}

	result := domain.PageResult{Jobs: append([]domain.Job{}, all[start:end]...)}
	if end < len(all) {
		result.NextCursor = string(all[end-1].ID)
	}
	return result, nil
}

func (s *Store) Transition(_ context.Context, id domain.JobID, fromStates []domain.Status, toState domain.Status, patch ports.TransitionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status == toState {
		return nil // already applied; idempotent no-op
	}
	if !statusIn(job.Status, fromStates) {
		return domain.ErrConflict
	}

	job.Status = toState
	if patch.IncrementAttempts {
		job.Attempts++
	}
	if patch.StartedAt != nil {
		job.Timestamps.StartedAt = patch.StartedAt
	}
	if patch.FinishedAt != nil {
		job.Timestamps.FinishedAt = patch.FinishedAt
	}
	if patch.ClearError {
		job.Error = nil
	} else if patch.Error != nil {
		job.Error = patch.Error
	}
	if patch.Metadata != nil {
		job.Metadata = patch.Metadata
	}
	if patch.Artifacts != nil {
		job.Artifacts = *patch.Artifacts
	}

	s.jobs[id] = job
	return nil
}

func (s *Store) TouchProgress(_ context.Context, id domain.JobID, percent float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.StatusRunning {
		return nil
	}
	if percent > job.Progress {
		job.Progress = percent
		s.jobs[id] = job
	}
	return nil
}

func (s *Store) Probe(_ context.Context) ports.HealthStatus {
	return ports.HealthHealthy
}

func statusIn(status domain.Status, states []domain.Status) bool {
	for _, s := range states {
		if s == status {
			return true
		}
	}
	return false
}
