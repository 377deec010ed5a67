package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mediadash/orchestrator/internal/orchestrator/domain"
)

// MemoryStore is an in-memory Store with the same optimistic-concurrency
// semantics as PostgresStore. Used by tests and local development; not
// durable.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]domain.Job)}
}

func (s *MemoryStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status, ownerID string, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []domain.Job
	for _, job := range s.jobs {
		if job.Status != status {
			continue
		}
		if ownerID != "" && job.OwnerID != ownerID {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].UpdatedAt.Before(jobs[j].UpdatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []domain.Job
	for _, job := range s.jobs {
		if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})

	if filter.Cursor != nil {
		cut := 0
		for i, job := range jobs {
			if job.CreatedAt.Before(filter.Cursor.CreatedAt) ||
				(job.CreatedAt.Equal(filter.Cursor.CreatedAt) && job.ID < filter.Cursor.JobID) {
				cut = i
				break
			}
			cut = i + 1
		}
		jobs = jobs[cut:]
	}

	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}
	return jobs, nil
}

func (s *MemoryStore) Transition(_ context.Context, id, fromStatus string, patch Patch) (*domain.Job, error) {
	if !domain.CanTransition(fromStatus, patch.Status) {
		return nil, fmt.Errorf("transition %s -> %s not allowed: %w", fromStatus, patch.Status, domain.ErrConflict)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != fromStatus {
		return nil, domain.ErrConflict
	}
	if patch.ExpectedRetryCount != nil && job.RetryCount != *patch.ExpectedRetryCount {
		return nil, domain.ErrConflict
	}

	job.Status = patch.Status
	job.UpdatedAt = time.Now()
	if patch.RemoteHandle != nil {
		job.RemoteHandle = *patch.RemoteHandle
	}
	if patch.Progress != nil {
		job.Progress = *patch.Progress
	}
	if patch.ResultRef != nil {
		job.ResultRef = *patch.ResultRef
	}
	if patch.ErrorKind != nil {
		job.ErrorKind = *patch.ErrorKind
	}
	if patch.ErrorMessage != nil {
		job.ErrorMessage = *patch.ErrorMessage
	}
	if patch.RetryCount != nil {
		job.RetryCount = *patch.RetryCount
	}
	if patch.MarkCompleted {
		now := time.Now()
		job.CompletedAt = &now
	}

	s.jobs[id] = job
	return &job, nil
}
