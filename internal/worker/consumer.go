package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mediadash/orchestrator/internal/orchestrator/dispatch"
)

// runConsumer drains the dispatch queue: track messages start a poll
// loop for the named job, sweep messages run a retry sweep immediately.
func (w *Worker) runConsumer(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Dispatch consumer started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Dispatch consumer stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Dispatch consumer stopped")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}
			w.handleDelivery(ctx, delivery)
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var msg dispatch.Message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		w.logger.Error("Failed to parse dispatch message",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// NACK without requeue - malformed messages should go to DLQ
		w.nack(delivery, false)
		return
	}

	switch msg.Type {
	case dispatch.MessageTypeTrack:
		if _, err := uuid.Parse(msg.JobID); err != nil {
			w.logger.Error("Invalid job_id in track message",
				slog.String("job_id", msg.JobID),
				slog.String("error", err.Error()),
			)
			w.nack(delivery, false)
			return
		}

		w.tracker.Track(ctx, msg.JobID)
		w.logger.Debug("Tracking started from handoff",
			slog.String("job_id", msg.JobID),
		)

	case dispatch.MessageTypeSweep:
		if err := w.sweeper.RunSweep(ctx); err != nil {
			w.logger.Error("Triggered sweep failed",
				slog.Any("error", err),
			)
		}

	default:
		w.logger.Error("Unknown dispatch message type",
			slog.String("type", msg.Type),
		)
		w.nack(delivery, false)
		return
	}

	if err := delivery.Ack(false); err != nil {
		w.logger.Error("Failed to ACK dispatch message",
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK dispatch message",
			slog.String("error", err.Error()),
		)
	}
}
