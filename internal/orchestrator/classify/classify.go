// Package classify assigns an error-taxonomy kind to provider failures.
// Keeping the rules in one pure function makes the retry policy testable
// instead of scattering message checks across call sites.
package classify

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/mediadash/orchestrator/internal/orchestrator/domain"
)

// statusCarrier is implemented by provider errors that carry an HTTP
// status code. Declared locally so the classifier stays free of provider
// imports.
type statusCarrier interface {
	HTTPStatus() int
}

var rateLimitMarkers = []string{
	"rate limit",
	"rate-limit",
	"too many requests",
	"quota exceeded",
}

var authMarkers = []string{
	"not configured",
	"invalid key",
	"invalid api key",
	"unauthorized",
	"forbidden",
}

var networkMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
}

// Classify inspects a failure and assigns a taxonomy kind. HTTP status
// wins over message markers; everything unrecognized is unknown.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var sc statusCarrier
	if errors.As(err, &sc) {
		if kind := classifyStatus(sc.HTTPStatus()); kind != "" {
			return kind
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.ErrorKindTransientNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrorKindTransientNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, rateLimitMarkers):
		return domain.ErrorKindRateLimit
	case containsAny(msg, authMarkers):
		return domain.ErrorKindAuthConfig
	case containsAny(msg, networkMarkers):
		return domain.ErrorKindTransientNetwork
	default:
		return domain.ErrorKindUnknown
	}
}

func classifyStatus(status int) string {
	switch {
	case status == 429:
		return domain.ErrorKindRateLimit
	case status == 401 || status == 403:
		return domain.ErrorKindAuthConfig
	case status >= 500:
		return domain.ErrorKindTransientNetwork
	case status == 400 || status == 422:
		return domain.ErrorKindInvalidInput
	default:
		return ""
	}
}

func containsAny(msg string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
