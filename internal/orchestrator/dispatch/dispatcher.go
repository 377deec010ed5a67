// Package dispatch owns job creation and the synchronous submit path:
// validate, persist, hand the input to the provider, and record the
// outcome. Re-dispatch from the retry queue funnels through the same
// outcome handling so submit-time and sweep-time failures behave alike.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mediadash/orchestrator/internal/config"
	"github.com/mediadash/orchestrator/internal/orchestrator/classify"
	"github.com/mediadash/orchestrator/internal/orchestrator/domain"
	"github.com/mediadash/orchestrator/internal/orchestrator/notify"
	"github.com/mediadash/orchestrator/internal/orchestrator/storage"
	"github.com/mediadash/orchestrator/internal/provider"
)

// Handoff tells the tracking side about a job that just entered
// PROCESSING, so polling starts without waiting for a store scan.
// Best-effort: the worker's startup scan recovers anything lost here.
type Handoff interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Config holds dispatcher dependencies
type Config struct {
	Store     storage.Store
	Providers *provider.Registry
	Kinds     map[string]config.KindConfig
	Notifier  notify.Notifier
	Handoff   Handoff // optional
	Logger    *slog.Logger
}

// Dispatcher creates jobs and performs the initial provider submit.
type Dispatcher struct {
	store     storage.Store
	providers *provider.Registry
	kinds     map[string]config.KindConfig
	notifier  notify.Notifier
	handoff   Handoff
	logger    *slog.Logger
}

// NewDispatcher creates a new Dispatcher instance
func NewDispatcher(cfg *Config) *Dispatcher {
	return &Dispatcher{
		store:     cfg.Store,
		providers: cfg.Providers,
		kinds:     cfg.Kinds,
		notifier:  cfg.Notifier,
		handoff:   cfg.Handoff,
		logger:    cfg.Logger,
	}
}

// SubmitJob validates the submission, creates the job record and
// dispatches it to the provider before returning. Invalid input is
// rejected synchronously with no record created.
func (d *Dispatcher) SubmitJob(ctx context.Context, ownerID, kind, inputRef string) (*domain.Job, error) {
	if inputRef == "" {
		return nil, fmt.Errorf("%w: input_ref is required", domain.ErrInvalidInput)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner_id is required", domain.ErrInvalidInput)
	}

	kindCfg, ok := d.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidInput, kind)
	}
	adapter, ok := d.providers.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: no provider registered for kind %q", domain.ErrInvalidInput, kind)
	}

	now := time.Now()
	job := &domain.Job{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		Kind:       kind,
		InputRef:   inputRef,
		Status:     domain.JobStatusPending,
		Progress:   -1,
		MaxRetries: kindCfg.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := d.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}

	d.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("kind", kind),
		slog.String("owner_id", ownerID),
	)

	submitCtx, cancel := context.WithTimeout(ctx, kindCfg.RequestTimeout)
	defer cancel()

	handle, submitErr := adapter.Submit(submitCtx, inputRef)

	return d.recordDispatchOutcome(ctx, job, domain.JobStatusPending, handle, submitErr)
}

// Redispatch re-submits a job the sweeper has already claimed from the
// retry queue (status QUEUED_RETRY, retry_count incremented).
func (d *Dispatcher) Redispatch(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	kindCfg, ok := d.kinds[job.Kind]
	if !ok {
		return d.failJob(ctx, job, domain.JobStatusQueuedRetry, domain.ErrorKindAuthConfig,
			fmt.Sprintf("kind %q is no longer configured", job.Kind))
	}
	adapter, ok := d.providers.Lookup(job.Kind)
	if !ok {
		return d.failJob(ctx, job, domain.JobStatusQueuedRetry, domain.ErrorKindAuthConfig,
			fmt.Sprintf("no provider registered for kind %q", job.Kind))
	}

	submitCtx, cancel := context.WithTimeout(ctx, kindCfg.RequestTimeout)
	defer cancel()

	handle, submitErr := adapter.Submit(submitCtx, job.InputRef)

	return d.recordDispatchOutcome(ctx, job, domain.JobStatusQueuedRetry, handle, submitErr)
}

// recordDispatchOutcome applies the submit result to the job record:
// PROCESSING with the remote handle on success, QUEUED_RETRY or FAILED
// depending on classification otherwise.
func (d *Dispatcher) recordDispatchOutcome(ctx context.Context, job *domain.Job, fromStatus, handle string, submitErr error) (*domain.Job, error) {
	if submitErr == nil {
		updated, err := d.store.Transition(ctx, job.ID, fromStatus, storage.Patch{
			Status:       domain.JobStatusProcessing,
			RemoteHandle: storage.String(handle),
			ErrorKind:    storage.String(""),
			ErrorMessage: storage.String(""),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record dispatch: %w", err)
		}

		d.logger.Info("Job dispatched to provider",
			slog.String("job_id", job.ID),
			slog.String("kind", job.Kind),
			slog.String("remote_handle", handle),
		)

		d.notifier.Publish(updated)

		if d.handoff != nil {
			if err := d.handoff.Enqueue(ctx, job.ID); err != nil {
				d.logger.Warn("Failed to hand job off to tracker, startup scan will recover it",
					slog.String("job_id", job.ID),
					slog.Any("error", err),
				)
			}
		}

		return updated, nil
	}

	kind := classify.Classify(submitErr)

	d.logger.Warn("Provider submit failed",
		slog.String("job_id", job.ID),
		slog.String("error_kind", kind),
		slog.Any("error", submitErr),
	)

	if domain.Retryable(kind) {
		updated, err := d.store.Transition(ctx, job.ID, fromStatus, storage.Patch{
			Status:       domain.JobStatusQueuedRetry,
			ErrorKind:    storage.String(kind),
			ErrorMessage: storage.String(submitErr.Error()),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to queue job for retry: %w", err)
		}
		return updated, nil
	}

	return d.failJob(ctx, job, fromStatus, kind, submitErr.Error())
}

// failJob moves a job to FAILED and emits the terminal notification.
func (d *Dispatcher) failJob(ctx context.Context, job *domain.Job, fromStatus, kind, message string) (*domain.Job, error) {
	updated, err := d.store.Transition(ctx, job.ID, fromStatus, storage.Patch{
		Status:        domain.JobStatusFailed,
		ErrorKind:     storage.String(kind),
		ErrorMessage:  storage.String(message),
		MarkCompleted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark job failed: %w", err)
	}

	d.notifier.Publish(updated)
	return updated, nil
}

// CancelJob marks a PENDING/PROCESSING job failed with a cancelled error
// kind and forwards a best-effort cancel to the provider. Polling and
// sweeping stop touching the job once the terminal state is stored.
func (d *Dispatcher) CancelJob(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	job, err := d.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// Owners can only cancel their own jobs; respond as if the job does
	// not exist on a mismatch.
	if ownerID != "" && job.OwnerID != ownerID {
		return nil, domain.ErrJobNotFound
	}

	if domain.IsTerminal(job.Status) {
		return nil, domain.ErrJobTerminal
	}

	if job.RemoteHandle != "" {
		if adapter, ok := d.providers.Lookup(job.Kind); ok {
			if err := adapter.Cancel(ctx, job.RemoteHandle); err != nil && !errors.Is(err, provider.ErrCancelNotSupported) {
				d.logger.Warn("Provider cancel failed",
					slog.String("job_id", job.ID),
					slog.Any("error", err),
				)
			}
		}
	}

	updated, err := d.store.Transition(ctx, job.ID, job.Status, storage.Patch{
		Status:        domain.JobStatusFailed,
		ErrorKind:     storage.String(domain.ErrorKindCancelled),
		ErrorMessage:  storage.String("cancelled by caller"),
		MarkCompleted: true,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// The job moved while we were cancelling; report its current
			// state instead of clobbering it.
			return d.store.Get(ctx, jobID)
		}
		return nil, err
	}

	d.notifier.Publish(updated)
	return updated, nil
}
