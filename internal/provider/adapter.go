// Package provider isolates the remote task APIs behind a uniform
// adapter interface. The orchestrator's state machine only ever sees
// submit/poll/fetch-result; request and response shapes stay in here.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// RemoteState is the provider-side lifecycle of a dispatched task.
type RemoteState string

const (
	RemotePending RemoteState = "remote_pending"
	RemoteRunning RemoteState = "remote_running"
	RemoteDone    RemoteState = "remote_done"
	RemoteFailed  RemoteState = "remote_failed"
)

// PollStatus is one observation of a remote task.
type PollStatus struct {
	State RemoteState

	// Progress is 0-100, or -1 when the provider does not report one.
	Progress int

	// ResultRef is set when the provider delivers the result inline with
	// the done signal; otherwise FetchResult must be called.
	ResultRef string

	// Failure fields describe a RemoteFailed state for classification.
	FailureStatus  int
	FailureMessage string
}

// FailureError converts a RemoteFailed observation into an error the
// classifier understands.
func (p *PollStatus) FailureError() error {
	return &Error{StatusCode: p.FailureStatus, Message: p.FailureMessage}
}

// Adapter is implemented once per external task API.
type Adapter interface {
	// Submit dispatches the input and returns the provider's task handle.
	Submit(ctx context.Context, inputRef string) (string, error)
	Poll(ctx context.Context, remoteHandle string) (*PollStatus, error)
	// FetchResult retrieves the output reference for a task whose done
	// signal did not carry it.
	FetchResult(ctx context.Context, remoteHandle string) (string, error)
	// Cancel is best-effort; adapters without a cancel endpoint return
	// ErrCancelNotSupported.
	Cancel(ctx context.Context, remoteHandle string) error
}

// ErrCancelNotSupported is returned by adapters whose provider has no
// cancellation endpoint. Callers treat it as a no-op.
var ErrCancelNotSupported = errors.New("provider does not support cancellation")

// Error is a failure reported by a provider API, carrying the HTTP status
// for the classifier.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("provider error: %s", e.Message)
	}
	return fmt.Sprintf("provider error: status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus exposes the status code to the error classifier.
func (e *Error) HTTPStatus() int {
	return e.StatusCode
}

// Registry maps a job kind to the adapter that serves it. Registration
// happens once at startup; lookups are read-only after that.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(kind string, adapter Adapter) {
	r.adapters[kind] = adapter
}

// Lookup returns the adapter for a kind, or false for an unknown kind.
func (r *Registry) Lookup(kind string) (Adapter, bool) {
	adapter, ok := r.adapters[kind]
	return adapter, ok
}

// Kinds returns the registered job kinds.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, kind)
	}
	return kinds
}
