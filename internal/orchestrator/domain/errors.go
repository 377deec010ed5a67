package domain

import "errors"

// Error taxonomy for provider failures. The classifier assigns exactly one
// of these to every failure; the policy table below decides what happens to
// the job.
const (
	ErrorKindRateLimit        = "rate_limit"
	ErrorKindAuthConfig       = "auth_config"
	ErrorKindTransientNetwork = "transient_network"
	ErrorKindInvalidInput     = "invalid_input"
	ErrorKindProviderFatal    = "provider_fatal"
	ErrorKindUnknown          = "unknown"

	// ErrorKindCancelled marks caller-initiated cancellation. Terminal and
	// never retried, like invalid_input.
	ErrorKindCancelled = "cancelled"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrConflict is returned when a status transition loses an
	// optimistic-concurrency race; the caller must re-read and decide
	// whether to retry or no-op.
	ErrConflict = errors.New("job transition conflict")

	// ErrInvalidInput is returned synchronously at submission time for a
	// bad input_ref or unknown kind; no job record exists in that case.
	ErrInvalidInput = errors.New("invalid job input")

	// ErrJobTerminal is returned when an operation targets a job that has
	// already reached COMPLETED or FAILED.
	ErrJobTerminal = errors.New("job already in a terminal state")
)

// Retryable reports whether a failure of the given kind should park the
// job in QUEUED_RETRY for the sweeper instead of failing it outright.
// unknown is retryable here; the single-attempt cap lives in
// Job.RetriesExhausted.
func Retryable(kind string) bool {
	switch kind {
	case ErrorKindRateLimit, ErrorKindTransientNetwork, ErrorKindUnknown:
		return true
	default:
		return false
	}
}
