// Package poll tracks PROCESSING jobs to a terminal remote state. One
// goroutine per in-flight job; all state lives in the job store, so a
// restarted process resumes by re-querying PROCESSING rows.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mediadash/orchestrator/internal/config"
	"github.com/mediadash/orchestrator/internal/orchestrator/classify"
	"github.com/mediadash/orchestrator/internal/orchestrator/domain"
	"github.com/mediadash/orchestrator/internal/orchestrator/notify"
	"github.com/mediadash/orchestrator/internal/orchestrator/storage"
	"github.com/mediadash/orchestrator/internal/provider"
)

// Config holds poller dependencies
type Config struct {
	Store           storage.Store
	Providers       *provider.Registry
	Kinds           map[string]config.KindConfig
	Notifier        notify.Notifier
	ResumeBatchSize int
	Logger          *slog.Logger
}

// Poller runs one tracking loop per PROCESSING job.
type Poller struct {
	store           storage.Store
	providers       *provider.Registry
	kinds           map[string]config.KindConfig
	notifier        notify.Notifier
	resumeBatchSize int
	logger          *slog.Logger

	mu       sync.Mutex
	tracking map[string]struct{}
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewPoller creates a new Poller instance
func NewPoller(cfg *Config) *Poller {
	batch := cfg.ResumeBatchSize
	if batch <= 0 {
		batch = 500
	}
	return &Poller{
		store:           cfg.Store,
		providers:       cfg.Providers,
		kinds:           cfg.Kinds,
		notifier:        cfg.Notifier,
		resumeBatchSize: batch,
		logger:          cfg.Logger,
		tracking:        make(map[string]struct{}),
		stopChan:        make(chan struct{}),
	}
}

// Resume re-derives the in-flight set from the store and starts tracking
// each job. Called on worker startup; polling needs no other state.
func (p *Poller) Resume(ctx context.Context) error {
	jobs, err := p.store.ListByStatus(ctx, domain.JobStatusProcessing, "", p.resumeBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list in-flight jobs: %w", err)
	}

	for _, job := range jobs {
		p.Track(ctx, job.ID)
	}

	p.logger.Info("Resumed tracking in-flight jobs",
		slog.Int("count", len(jobs)),
	)
	return nil
}

// Track starts a tracking goroutine for the job unless one is already
// running. Safe to call for the same job from the handoff consumer and
// the startup scan.
func (p *Poller) Track(ctx context.Context, jobID string) {
	p.mu.Lock()
	if _, ok := p.tracking[jobID]; ok {
		p.mu.Unlock()
		return
	}
	p.tracking[jobID] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.tracking, jobID)
			p.mu.Unlock()
		}()
		p.trackLoop(ctx, jobID)
	}()
}

// Stop waits for all tracking goroutines to exit
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
	p.logger.Info("Poller stopped")
}

func (p *Poller) trackLoop(ctx context.Context, jobID string) {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		p.logger.Error("Cannot track job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}
	if job.Status != domain.JobStatusProcessing {
		return
	}

	kindCfg, ok := p.kinds[job.Kind]
	if !ok {
		p.failJob(ctx, job, domain.ErrorKindAuthConfig, fmt.Sprintf("kind %q is no longer configured", job.Kind))
		return
	}
	adapter, ok := p.providers.Lookup(job.Kind)
	if !ok {
		p.failJob(ctx, job, domain.ErrorKindAuthConfig, fmt.Sprintf("no provider registered for kind %q", job.Kind))
		return
	}

	p.logger.Info("Tracking job",
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.Duration("poll_interval", kindCfg.PollInterval),
	)

	// A job that exceeds the ceiling without reaching a terminal remote
	// state is treated as orphaned and handed to the sweeper.
	deadline := time.Now().Add(kindCfg.TimeoutCeiling)

	ticker := time.NewTicker(kindCfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			if done := p.tick(ctx, jobID, adapter, kindCfg, deadline); done {
				return
			}
		}
	}
}

// tick performs one poll cycle. Returns true when tracking should stop.
func (p *Poller) tick(ctx context.Context, jobID string, adapter provider.Adapter, kindCfg config.KindConfig, deadline time.Time) bool {
	// Re-read before every tick: cancellation or a sweeper transition may
	// have moved the job, and a terminal state must never be overwritten.
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		p.logger.Error("Failed to re-read tracked job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return true
	}
	if job.Status != domain.JobStatusProcessing {
		p.logger.Info("Job moved while tracking, stopping",
			slog.String("job_id", jobID),
			slog.String("status", job.Status),
		)
		return true
	}

	if time.Now().After(deadline) {
		p.logger.Warn("Job exceeded tracking ceiling, queueing for retry",
			slog.String("job_id", jobID),
			slog.Duration("ceiling", kindCfg.TimeoutCeiling),
		)
		p.queueRetry(ctx, job, domain.ErrorKindTransientNetwork, "tracking timeout ceiling exceeded")
		return true
	}

	pollCtx, cancel := context.WithTimeout(ctx, kindCfg.RequestTimeout)
	status, err := adapter.Poll(pollCtx, job.RemoteHandle)
	cancel()

	if err != nil {
		kind := classify.Classify(err)
		if domain.Retryable(kind) {
			// Transient poll failure: keep ticking, the ceiling bounds us.
			p.logger.Warn("Poll failed, will retry next tick",
				slog.String("job_id", jobID),
				slog.String("error_kind", kind),
				slog.Any("error", err),
			)
			return false
		}
		p.failJob(ctx, job, kind, err.Error())
		return true
	}

	switch status.State {
	case provider.RemotePending, provider.RemoteRunning:
		p.recordProgress(ctx, job, status.Progress)
		return false

	case provider.RemoteDone:
		return p.completeJob(ctx, job, adapter, kindCfg, status)

	case provider.RemoteFailed:
		failure := status.FailureError()
		kind := classify.Classify(failure)
		if domain.Retryable(kind) {
			// Post-dispatch transient failure: park for the sweeper
			// rather than hammering an overloaded provider right away.
			p.queueRetry(ctx, job, kind, failure.Error())
		} else {
			p.failJob(ctx, job, kind, failure.Error())
		}
		return true

	default:
		p.logger.Error("Provider returned unexpected remote state",
			slog.String("job_id", jobID),
			slog.String("state", string(status.State)),
		)
		return false
	}
}

// recordProgress writes advisory progress and notifies only when the
// value actually changed, to avoid notification storms.
func (p *Poller) recordProgress(ctx context.Context, job *domain.Job, progress int) {
	if progress < 0 || progress == job.Progress {
		return
	}

	updated, err := p.store.Transition(ctx, job.ID, domain.JobStatusProcessing, storage.Patch{
		Status:   domain.JobStatusProcessing,
		Progress: storage.Int(progress),
	})
	if err != nil {
		p.observeConflict(ctx, job.ID, "progress update", err)
		return
	}

	p.notifier.Publish(updated)
}

func (p *Poller) completeJob(ctx context.Context, job *domain.Job, adapter provider.Adapter, kindCfg config.KindConfig, status *provider.PollStatus) bool {
	resultRef := status.ResultRef
	if resultRef == "" {
		fetchCtx, cancel := context.WithTimeout(ctx, kindCfg.RequestTimeout)
		ref, err := adapter.FetchResult(fetchCtx, job.RemoteHandle)
		cancel()
		if err != nil {
			kind := classify.Classify(err)
			if domain.Retryable(kind) {
				p.logger.Warn("Result fetch failed, will retry next tick",
					slog.String("job_id", job.ID),
					slog.Any("error", err),
				)
				return false
			}
			p.failJob(ctx, job, kind, err.Error())
			return true
		}
		resultRef = ref
	}

	updated, err := p.store.Transition(ctx, job.ID, domain.JobStatusProcessing, storage.Patch{
		Status:        domain.JobStatusCompleted,
		ResultRef:     storage.String(resultRef),
		Progress:      storage.Int(100),
		MarkCompleted: true,
	})
	if err != nil {
		p.observeConflict(ctx, job.ID, "completion", err)
		return true
	}

	p.logger.Info("Job completed",
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
	)

	p.notifier.Publish(updated)
	return true
}

// queueRetry parks the job for the sweeper. retry_count is left
// unchanged: this failure happened after a successful dispatch, so the
// re-dispatch itself is what consumes a retry.
func (p *Poller) queueRetry(ctx context.Context, job *domain.Job, kind, message string) {
	_, err := p.store.Transition(ctx, job.ID, domain.JobStatusProcessing, storage.Patch{
		Status:       domain.JobStatusQueuedRetry,
		ErrorKind:    storage.String(kind),
		ErrorMessage: storage.String(message),
	})
	if err != nil {
		p.observeConflict(ctx, job.ID, "retry queueing", err)
	}
}

func (p *Poller) failJob(ctx context.Context, job *domain.Job, kind, message string) {
	updated, err := p.store.Transition(ctx, job.ID, domain.JobStatusProcessing, storage.Patch{
		Status:        domain.JobStatusFailed,
		ErrorKind:     storage.String(kind),
		ErrorMessage:  storage.String(message),
		MarkCompleted: true,
	})
	if err != nil {
		p.observeConflict(ctx, job.ID, "failure", err)
		return
	}

	p.logger.Warn("Job failed",
		slog.String("job_id", job.ID),
		slog.String("error_kind", kind),
		slog.String("error", message),
	)

	p.notifier.Publish(updated)
}

// observeConflict handles a lost optimistic race: re-read and no-op if
// the job legitimately moved on, log an anomaly otherwise.
func (p *Poller) observeConflict(ctx context.Context, jobID, action string, cause error) {
	if !errors.Is(cause, domain.ErrConflict) {
		p.logger.Error("Job transition failed",
			slog.String("job_id", jobID),
			slog.String("action", action),
			slog.Any("error", cause),
		)
		return
	}

	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		p.logger.Error("Failed to re-read job after conflict",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}

	if domain.IsTerminal(job.Status) || job.Status == domain.JobStatusQueuedRetry {
		p.logger.Info("Another actor won the transition, no-op",
			slog.String("job_id", jobID),
			slog.String("action", action),
			slog.String("status", job.Status),
		)
		return
	}

	p.logger.Error("Job in unexpected status after conflict",
		slog.String("job_id", jobID),
		slog.String("action", action),
		slog.String("status", job.Status),
	)
}
