package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ConnectionError classifies a transport failure as retryable or fatal.
// Retryable failures (timeouts, resets, server-side 5xx) get bounded
// backoff; fatal failures (authentication, malformed request) terminate
// the turn immediately.
type ConnectionError struct {
	Retryable bool
	Err       error
}

func (e *ConnectionError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("connection error (%s): %v", kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Retryable wraps err as a retryable connection error.
func Retryable(err error) error {
	return &ConnectionError{Retryable: true, Err: err}
}

// Fatal wraps err as a fatal connection error.
func Fatal(err error) error {
	return &ConnectionError{Retryable: false, Err: err}
}

var fatalMarkers = []string{
	"401", "403", "unauthorized", "forbidden", "invalid api key",
	"authentication", "400", "bad request", "malformed",
}

var retryableMarkers = []string{
	"timeout", "timed out", "connection reset", "connection refused",
	"broken pipe", "502", "503", "504", "500", "overloaded",
	"rate limit", "429", "temporarily unavailable", "eof",
}

// Classify maps an arbitrary transport error onto the taxonomy. Already
// classified errors pass through; context cancellation is fatal (the turn
// was cancelled, retrying is wrong).
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable(err)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return Fatal(err)
		}
	}
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return Retryable(err)
		}
	}

	// Unknown transport failures default to retryable: one more attempt
	// is cheaper than losing the turn.
	return Retryable(err)
}

// IsRetryable reports whether err is a retryable connection error.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Retryable
	}
	return false
}
