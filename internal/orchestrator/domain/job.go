package domain

import (
	"strings"
	"time"
)

// Job status constants
const (
	JobStatusPending     = "PENDING"
	JobStatusProcessing  = "PROCESSING"
	JobStatusQueuedRetry = "QUEUED_RETRY"
	JobStatusCompleted   = "COMPLETED"
	JobStatusFailed      = "FAILED"
)

// Job is the durable record of one external task, from submission to
// terminal state. Rows in the jobs table are the only shared state between
// the API service, the poller and the sweeper.
type Job struct {
	ID           string     `db:"job_id"`
	OwnerID      string     `db:"owner_id"`
	Kind         string     `db:"kind"`
	InputRef     string     `db:"input_ref"`
	Status       string     `db:"status"`
	RemoteHandle string     `db:"remote_handle"`
	Progress     int        `db:"progress"`
	ResultRef    string     `db:"result_ref"`
	ErrorKind    string     `db:"error_kind"`
	ErrorMessage string     `db:"error_message"`
	RetryCount   int        `db:"retry_count"`
	MaxRetries   int        `db:"max_retries"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

// PublicStatus maps a stored status to its lowercase public form. Stored
// values stay uppercase; everything that leaves the service (DTOs, job
// events) goes through this.
func PublicStatus(status string) string {
	return strings.ToLower(status)
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// transitions is the allowed status graph. Anything not listed is rejected
// by the store before it hits the database.
var transitions = map[string][]string{
	JobStatusPending:     {JobStatusProcessing, JobStatusQueuedRetry, JobStatusFailed},
	JobStatusProcessing:  {JobStatusProcessing, JobStatusQueuedRetry, JobStatusCompleted, JobStatusFailed},
	JobStatusQueuedRetry: {JobStatusQueuedRetry, JobStatusProcessing, JobStatusFailed},
}

// CanTransition reports whether moving a job from one status to another is
// allowed by the status graph. Same-status "transitions" are allowed for
// PROCESSING (progress updates) and QUEUED_RETRY (retry bookkeeping).
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RetriesExhausted reports whether the next re-dispatch attempt would
// exceed the job's retry budget. Jobs parked with an unknown error kind get
// a single attempt regardless of budget, so an unclassifiable provider
// failure cannot loop.
func (j *Job) RetriesExhausted() bool {
	if j.ErrorKind == ErrorKindUnknown && j.RetryCount >= 1 {
		return true
	}
	return j.RetryCount+1 > j.MaxRetries
}
