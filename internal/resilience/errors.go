// Package resilience provides retry, circuit-breaking, and failure
// classification for calls to external logistics data providers.
package resilience

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/freightwise/logistics-cli/internal/model"
)

// StatusError carries an HTTP status code from a provider so callers can map
// it onto the typed failure taxonomy.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := "provider status " + strconv.Itoa(e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// HTTPStatus returns the carried status code.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// Classify maps an error from a provider call onto the typed failure
// taxonomy. Returns nil for a nil error.
func Classify(err error) *model.Failure {
	if err == nil {
		return nil
	}

	var mf *model.Failure
	if errors.As(err, &mf) {
		return mf
	}

	if errors.Is(err, ErrCircuitOpen) {
		return model.NewFailure(model.FailureUnavailable, "circuit breaker open")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewFailure(model.FailureTimeout, err.Error())
	}

	// Provider clients surface HTTP status via the HTTPStatus method
	// (resilience.StatusError or the clients' own error types).
	var sc interface{ HTTPStatus() int }
	if errors.As(err, &sc) {
		switch code := sc.HTTPStatus(); {
		case code == 401 || code == 403:
			return model.NewFailure(model.FailureAuth, err.Error())
		case code == 404:
			return model.NewFailure(model.FailureNotFound, err.Error())
		case code == 429:
			return model.NewFailure(model.FailureRateLimited, err.Error())
		case code == 408 || code == 504:
			return model.NewFailure(model.FailureTimeout, err.Error())
		default:
			return model.NewFailure(model.FailureProvider, err.Error())
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewFailure(model.FailureTimeout, err.Error())
	}

	if isConnFailure(err) {
		return model.NewFailure(model.FailureUnavailable, err.Error())
	}

	return model.NewFailure(model.FailureProvider, err.Error())
}

// Retryable reports whether a failure kind is safe to retry: transient
// server-side or network trouble, never authoritative answers.
func Retryable(kind model.FailureKind) bool {
	switch kind {
	case model.FailureRateLimited, model.FailureProvider,
		model.FailureUnavailable, model.FailureTimeout:
		return true
	default:
		// not_found, unauthorized, malformed, no_data are authoritative.
		return false
	}
}

// ShouldRetry is the retry predicate used by provider callers. A call
// rejected by an open circuit is not retried; the breaker owns the cool-down.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return Retryable(Classify(err).Kind)
}

func isConnFailure(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
