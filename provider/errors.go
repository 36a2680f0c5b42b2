package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrUnavailable is returned when a provider lacks what it needs to run.
var ErrUnavailable = errors.New("provider unavailable")

// Error represents a failure reported by a provider.
type Error struct {
	// Provider is the name of the provider that encountered the error.
	Provider string

	// StatusCode is the HTTP status for API providers, zero otherwise.
	StatusCode int

	// Message is a human-readable error message.
	Message string

	// Err is the underlying error (if any).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s provider error: %s: %v", e.Provider, msg, e.Err)
	}
	return fmt.Sprintf("%s provider error: %s", e.Provider, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether err is worth another attempt: deadlines,
// network errors, HTTP 408/429/5xx, and messages that read as transient.
func IsRetriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var perr *Error
	if !errors.As(err, &perr) {
		return false
	}

	switch {
	case perr.StatusCode == http.StatusRequestTimeout,
		perr.StatusCode == http.StatusTooManyRequests,
		perr.StatusCode >= 500:
		return true
	case perr.StatusCode != 0:
		return false
	}

	msg := strings.ToLower(perr.Message)
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "network") ||
		strings.Contains(msg, "temporary") ||
		strings.Contains(msg, "unavailable")
}
