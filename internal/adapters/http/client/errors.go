package client

import (
	"errors"
)

// Outbound call failures.
var (
	// ErrNetworkFailure covers transport errors, 5xx, 408 and 429
	// responses and unreadable bodies.
	ErrNetworkFailure = errors.New("network failure")
	// ErrServerRejected is returned when the backend answers success:false
	// or a 4xx status.
	ErrServerRejected = errors.New("server rejected request")
	ErrInvalidBaseURL = errors.New("invalid base url")
)

// Kind returns a short label for err, used in logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrServerRejected):
		return "rejected"
	case errors.Is(err, ErrNetworkFailure):
		return "network"
	default:
		return "error"
	}
}
