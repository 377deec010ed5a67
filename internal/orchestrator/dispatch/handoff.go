package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
)

// Control message types carried on the dispatch queue.
const (
	MessageTypeTrack = "track"
	MessageTypeSweep = "sweep"
)

// Message is the dispatch-queue envelope. A track message carries the id
// of a job that just entered PROCESSING; a sweep message asks the worker
// to run a retry sweep now (external-scheduler trigger).
type Message struct {
	Type  string `json:"type"`
	JobID string `json:"job_id,omitempty"`
}

// DispatchSink is the broker side of the handoff; satisfied by the
// shared rabbitmq client.
type DispatchSink interface {
	PublishDispatch(ctx context.Context, body []byte, contentType string) error
}

// AMQPHandoff publishes track/sweep messages to the dispatch queue.
type AMQPHandoff struct {
	sink DispatchSink
}

func NewAMQPHandoff(sink DispatchSink) *AMQPHandoff {
	return &AMQPHandoff{sink: sink}
}

func (h *AMQPHandoff) Enqueue(ctx context.Context, jobID string) error {
	return h.publish(ctx, Message{Type: MessageTypeTrack, JobID: jobID})
}

// TriggerSweep asks the worker service to run a retry sweep.
func (h *AMQPHandoff) TriggerSweep(ctx context.Context) error {
	return h.publish(ctx, Message{Type: MessageTypeSweep})
}

func (h *AMQPHandoff) publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch message: %w", err)
	}
	return h.sink.PublishDispatch(ctx, body, "application/json")
}
