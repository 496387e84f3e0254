package positioning

import (
	"errors"
	"fmt"
	"strings"
)

// Positioning failures. None of them is fatal: dead reckoning continues.
var (
	ErrPermissionDenied = errors.New("positioning permission denied")
	ErrUnavailable      = errors.New("positioning unavailable")
	ErrTimeout          = errors.New("positioning acquisition timeout")

	ErrInvalidFix   = errors.New("invalid fix")
	ErrNoSubscriber = errors.New("no active positioning subscriber")
	ErrUnknownKind  = errors.New("unknown positioning error kind")
)

// ParseKind maps a device error kind such as "permission_denied" to its
// sentinel.
func ParseKind(kind string) (error, bool) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "permission_denied", "permissiondenied":
		return ErrPermissionDenied, true
	case "unavailable", "position_unavailable":
		return ErrUnavailable, true
	case "timeout":
		return ErrTimeout, true
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind), false
	}
}

// Kind returns a short label for err, used in logs and metrics.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "other"
	}
}
