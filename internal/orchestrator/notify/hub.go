// Package notify fans job-state transitions out to subscribed clients.
// Delivery is at-most-once per subscriber per transition and best-effort:
// a missed event is recovered by re-reading the job, never replayed here.
package notify

import (
	"log/slog"
	"sync"

	"github.com/mediadash/orchestrator/internal/orchestrator/domain"
)

// Notifier is the publishing side used by the dispatcher, poller and
// sweeper.
type Notifier interface {
	Publish(job *domain.Job)
}

// subscriberBuffer bounds each subscriber channel; events beyond it are
// dropped rather than blocking a transition.
const subscriberBuffer = 16

// Hub is the in-memory per-owner subscription registry.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan domain.JobEvent
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[int]chan domain.JobEvent),
		logger: logger,
	}
}

// Subscribe registers a listener for one owner's job events. The returned
// cancel function must be called when the client disconnects.
func (h *Hub) Subscribe(ownerID string) (<-chan domain.JobEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan domain.JobEvent, subscriberBuffer)

	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[int]chan domain.JobEvent)
	}
	h.subs[ownerID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if owners, ok := h.subs[ownerID]; ok {
			if sub, ok := owners[id]; ok {
				delete(owners, id)
				close(sub)
			}
			if len(owners) == 0 {
				delete(h.subs, ownerID)
			}
		}
	}

	return ch, cancel
}

// Publish delivers a job's current state to its owner's subscribers.
// Slow subscribers with full buffers are skipped.
func (h *Hub) Publish(job *domain.Job) {
	h.PublishEvent(domain.EventFromJob(job))
}

// PublishEvent delivers an already-projected event; the AMQP bridge uses
// this path for events produced in another process.
func (h *Hub) PublishEvent(event domain.JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[event.OwnerID] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("Dropping job event for slow subscriber",
				slog.String("job_id", event.JobID),
				slog.String("owner_id", event.OwnerID),
			)
		}
	}
}

// SubscriberCount reports active subscriptions for an owner.
func (h *Hub) SubscriberCount(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[ownerID])
}
