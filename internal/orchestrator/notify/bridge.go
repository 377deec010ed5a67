package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mediadash/orchestrator/internal/orchestrator/domain"
)

// EventSink is the broker side of the bridge; satisfied by the shared
// rabbitmq client.
type EventSink interface {
	PublishEvent(ctx context.Context, body []byte, contentType string) error
}

// AMQPNotifier publishes job events to the events exchange so that the
// API process can fan them out to its connected clients. Used by the
// worker service, which has no local subscribers.
type AMQPNotifier struct {
	sink   EventSink
	logger *slog.Logger
}

func NewAMQPNotifier(sink EventSink, logger *slog.Logger) *AMQPNotifier {
	return &AMQPNotifier{sink: sink, logger: logger}
}

func (n *AMQPNotifier) Publish(job *domain.Job) {
	event := domain.EventFromJob(job)

	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("Failed to marshal job event",
			slog.String("job_id", event.JobID),
			slog.Any("error", err),
		)
		return
	}

	// Best-effort: a lost event is reconciled by the client re-reading
	// the job, so a publish failure is logged and dropped.
	if err := n.sink.PublishEvent(context.Background(), body, "application/json"); err != nil {
		n.logger.Error("Failed to publish job event",
			slog.String("job_id", event.JobID),
			slog.Any("error", err),
		)
	}
}

// RunEventBridge consumes broker-delivered job events into the hub until
// the context is canceled or the delivery channel closes.
func RunEventBridge(ctx context.Context, deliveries <-chan amqp.Delivery, hub *Hub, logger *slog.Logger) {
	logger.Info("Job event bridge started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Job event bridge stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				logger.Warn("Job event delivery channel closed")
				return
			}

			var event domain.JobEvent
			if err := json.Unmarshal(delivery.Body, &event); err != nil {
				logger.Error("Failed to parse job event",
					slog.Any("error", err),
					slog.String("body", string(delivery.Body)),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					logger.Error("Failed to NACK malformed job event",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			hub.PublishEvent(event)

			if ackErr := delivery.Ack(false); ackErr != nil {
				logger.Error("Failed to ACK job event",
					slog.String("job_id", event.JobID),
					slog.Any("error", ackErr),
				)
			}
		}
	}
}
