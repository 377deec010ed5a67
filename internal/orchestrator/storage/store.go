package storage

import (
	"context"
	"time"

	"github.com/mediadash/orchestrator/internal/orchestrator/domain"
)

// Store is the durable job store. It is the single source of truth for
// job state; the dispatcher, poller and sweeper coordinate exclusively
// through its optimistic-concurrency transitions.
type Store interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	// ListByStatus returns jobs in the given status, oldest update first.
	// ownerID narrows the result when non-empty.
	ListByStatus(ctx context.Context, status, ownerID string, limit int) ([]domain.Job, error)
	List(ctx context.Context, filter Filter) ([]domain.Job, error)
	// Transition atomically moves a job from fromStatus to patch.Status,
	// applying the patch fields. It returns domain.ErrConflict when the
	// stored status (or, if set, the expected retry count) no longer
	// matches, which means another actor won the race.
	Transition(ctx context.Context, id, fromStatus string, patch Patch) (*domain.Job, error)
}

// Patch is the set of fields a transition may change. Nil pointer fields
// are left untouched so concurrent readers never observe partial writes.
type Patch struct {
	Status       string
	RemoteHandle *string
	Progress     *int
	ResultRef    *string
	ErrorKind    *string
	ErrorMessage *string
	RetryCount   *int

	// MarkCompleted sets completed_at; valid only for terminal statuses
	// and set exactly once per job.
	MarkCompleted bool

	// ExpectedRetryCount adds retry_count to the optimistic check. The
	// sweeper uses it to claim a queued job so two overlapping sweeps
	// cannot both re-dispatch it.
	ExpectedRetryCount *int
}

// Filter selects jobs for the public list endpoint.
type Filter struct {
	OwnerID  string
	Kind     string
	Status   string
	PageSize int
	Cursor   *Cursor
}

// Cursor is a (created_at, job_id) keyset-pagination position.
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// helpers for building patches

func String(s string) *string { return &s }
func Int(i int) *int          { return &i }
