package worker

import "context"

// LocalHandoff satisfies dispatch.Handoff inside the worker process:
// re-dispatched jobs go straight to the tracker instead of taking a
// round-trip through the broker.
type LocalHandoff struct {
	tracker Tracker
}

func NewLocalHandoff(tracker Tracker) *LocalHandoff {
	return &LocalHandoff{tracker: tracker}
}

func (h *LocalHandoff) Enqueue(ctx context.Context, jobID string) error {
	h.tracker.Track(ctx, jobID)
	return nil
}
