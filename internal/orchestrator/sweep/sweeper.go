// Package sweep drains the retry queue on a schedule, independent of any
// connected client. Each queued job is claimed with an optimistic
// retry-count check before re-dispatch so overlapping sweeps never
// double-submit.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediadash/orchestrator/internal/orchestrator/domain"
	"github.com/mediadash/orchestrator/internal/orchestrator/notify"
	"github.com/mediadash/orchestrator/internal/orchestrator/storage"
)

// Redispatcher re-submits a claimed job to its provider; implemented by
// the dispatcher so submit-time and sweep-time outcomes are handled by
// the same code.
type Redispatcher interface {
	Redispatch(ctx context.Context, job *domain.Job) (*domain.Job, error)
}

// Config holds sweeper dependencies
type Config struct {
	Store        storage.Store
	Redispatcher Redispatcher
	Notifier     notify.Notifier
	BatchSize    int

	// PendingStaleAfter is how long a job may sit in PENDING before the
	// sweep treats its dispatch as interrupted and requeues it.
	PendingStaleAfter time.Duration

	Logger *slog.Logger
}

// Sweeper re-dispatches QUEUED_RETRY jobs, bounded by each job's retry
// budget.
type Sweeper struct {
	store             storage.Store
	redispatcher      Redispatcher
	notifier          notify.Notifier
	batchSize         int
	pendingStaleAfter time.Duration
	logger            *slog.Logger
}

// NewSweeper creates a new Sweeper instance
func NewSweeper(cfg *Config) *Sweeper {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	staleAfter := cfg.PendingStaleAfter
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}
	return &Sweeper{
		store:             cfg.Store,
		redispatcher:      cfg.Redispatcher,
		notifier:          cfg.Notifier,
		batchSize:         batch,
		pendingStaleAfter: staleAfter,
		logger:            cfg.Logger,
	}
}

// RunSweep performs one sweep across the retry queue. Idempotent: a job
// the sweep advances is no longer claimable by an immediately following
// run, and a lost claim means another actor already handled the job.
func (s *Sweeper) RunSweep(ctx context.Context) error {
	// Requeue first so a row recovered from an interrupted dispatch is
	// picked up by this same pass.
	s.recoverStalePending(ctx)

	jobs, err := s.store.ListByStatus(ctx, domain.JobStatusQueuedRetry, "", s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list queued jobs: %w", err)
	}

	if len(jobs) == 0 {
		s.logger.Debug("Sweep found no queued jobs")
		return nil
	}

	s.logger.Info("Sweep started",
		slog.Int("queued_jobs", len(jobs)),
	)

	var redispatched, exhausted, skipped int
	for i := range jobs {
		job := jobs[i]

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch s.sweepOne(ctx, &job) {
		case outcomeRedispatched:
			redispatched++
		case outcomeExhausted:
			exhausted++
		case outcomeSkipped:
			skipped++
		}
	}

	s.logger.Info("Sweep finished",
		slog.Int("redispatched", redispatched),
		slog.Int("exhausted", exhausted),
		slog.Int("skipped", skipped),
	)
	return nil
}

// recoverStalePending requeues jobs stranded in PENDING. The dispatcher
// runs synchronously, so a row still PENDING after the stale window means
// the process died between creating the record and recording the dispatch
// outcome.
func (s *Sweeper) recoverStalePending(ctx context.Context) {
	jobs, err := s.store.ListByStatus(ctx, domain.JobStatusPending, "", s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list pending jobs",
			slog.Any("error", err),
		)
		return
	}

	for i := range jobs {
		job := jobs[i]
		if time.Since(job.UpdatedAt) < s.pendingStaleAfter {
			continue
		}

		_, err := s.store.Transition(ctx, job.ID, domain.JobStatusPending, storage.Patch{
			Status:       domain.JobStatusQueuedRetry,
			ErrorKind:    storage.String(domain.ErrorKindTransientNetwork),
			ErrorMessage: storage.String("dispatch interrupted before recording an outcome"),
		})
		if err != nil {
			if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrJobNotFound) {
				continue
			}
			s.logger.Error("Failed to requeue stale pending job",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			continue
		}

		s.logger.Warn("Requeued job stranded in pending",
			slog.String("job_id", job.ID),
			slog.Duration("stale_for", time.Since(job.UpdatedAt)),
		)
	}
}

type outcome int

const (
	outcomeRedispatched outcome = iota
	outcomeExhausted
	outcomeSkipped
)

func (s *Sweeper) sweepOne(ctx context.Context, job *domain.Job) outcome {
	if job.RetriesExhausted() {
		s.finalizeExhausted(ctx, job)
		return outcomeExhausted
	}

	// Claim the job by bumping retry_count with the observed count as
	// the optimistic check. Losing the claim means a concurrent sweep or
	// the poller already moved this job.
	expected := job.RetryCount
	claimed, err := s.store.Transition(ctx, job.ID, domain.JobStatusQueuedRetry, storage.Patch{
		Status:             domain.JobStatusQueuedRetry,
		RetryCount:         storage.Int(job.RetryCount + 1),
		ExpectedRetryCount: &expected,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrJobNotFound) {
			s.logger.Info("Skipping queued job claimed by another actor",
				slog.String("job_id", job.ID),
			)
			return outcomeSkipped
		}
		s.logger.Error("Failed to claim queued job",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return outcomeSkipped
	}

	updated, err := s.redispatcher.Redispatch(ctx, claimed)
	if err != nil {
		s.logger.Error("Failed to re-dispatch job",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return outcomeSkipped
	}

	s.logger.Info("Job re-dispatched",
		slog.String("job_id", job.ID),
		slog.String("status", updated.Status),
		slog.Int("retry_count", updated.RetryCount),
		slog.Int("max_retries", updated.MaxRetries),
	)
	return outcomeRedispatched
}

// finalizeExhausted moves a job whose budget is spent to FAILED without
// touching the provider, preserving the last recorded error. An unknown
// error kind becomes provider_fatal at this point: it got its one
// precautionary retry and recurred.
func (s *Sweeper) finalizeExhausted(ctx context.Context, job *domain.Job) {
	patch := storage.Patch{
		Status:        domain.JobStatusFailed,
		MarkCompleted: true,
	}
	if job.ErrorKind == domain.ErrorKindUnknown {
		patch.ErrorKind = storage.String(domain.ErrorKindProviderFatal)
	}

	updated, err := s.store.Transition(ctx, job.ID, domain.JobStatusQueuedRetry, patch)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Info("Exhausted job already moved by another actor",
				slog.String("job_id", job.ID),
			)
			return
		}
		s.logger.Error("Failed to finalize exhausted job",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	s.logger.Warn("Job exhausted its retry budget",
		slog.String("job_id", job.ID),
		slog.Int("retry_count", updated.RetryCount),
		slog.Int("max_retries", updated.MaxRetries),
		slog.String("error_kind", updated.ErrorKind),
	)

	s.notifier.Publish(updated)
}
