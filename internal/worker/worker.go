// Package worker runs the tracking side of the orchestrator: it consumes
// dispatch handoffs, keeps one poll loop per in-flight job, and sweeps
// the retry queue on a schedule.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mediadash/orchestrator/shared/rabbitmq"
)

// Tracker is the polling side consumed by the worker; implemented by
// poll.Poller.
type Tracker interface {
	Resume(ctx context.Context) error
	Track(ctx context.Context, jobID string)
	Stop()
}

// SweepRunner performs one pass over the retry queue; implemented by
// sweep.Sweeper.
type SweepRunner interface {
	RunSweep(ctx context.Context) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Tracker       Tracker
	Sweeper       SweepRunner
	SweepInterval time.Duration
	PrefetchCount int
}

// Worker represents the background tracking worker
type Worker struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	tracker       Tracker
	sweeper       SweepRunner
	sweepInterval time.Duration
	prefetchCount int
	workerID      string
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 10
	}
	return &Worker{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		tracker:       cfg.Tracker,
		sweeper:       cfg.Sweeper,
		sweepInterval: interval,
		prefetchCount: prefetch,
		workerID:      fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		stopChan:      make(chan struct{}),
	}
}

// Start resumes tracking of in-flight jobs, then runs the dispatch
// consumer and the sweep scheduler until the context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Duration("sweep_interval", w.sweepInterval),
	)

	// One catch-up sweep at startup drains anything queued while no
	// worker was running.
	if err := w.sweeper.RunSweep(ctx); err != nil {
		w.logger.Error("Startup sweep failed",
			slog.Any("error", err),
		)
	}

	if err := w.tracker.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume in-flight jobs: %w", err)
	}

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up dispatch consumer: %w", err)
	}

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.runConsumer(ctx, deliveries)
	}()
	go func() {
		defer w.wg.Done()
		w.runSweepSchedule(ctx)
	}()

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.tracker.Stop()
	w.logger.Info("Worker stopped")
}

// setupConsumer applies QoS and starts consuming the dispatch queue
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	if err := channel.Qos(w.prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return w.rabbitClient.ConsumeDispatch(w.workerID)
}

// runSweepSchedule triggers a sweep every sweepInterval. Broker-delivered
// sweep triggers run through the consumer instead.
func (w *Worker) runSweepSchedule(ctx context.Context) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			if err := w.sweeper.RunSweep(ctx); err != nil {
				w.logger.Error("Scheduled sweep failed",
					slog.Any("error", err),
				)
			}
		}
	}
}
