package attendance

import "errors"

// Sentinel error kinds for this package.
var (
	ErrInvalidWindow     = errors.New("invalid attendance window")
	ErrIllegalTransition = errors.New("illegal registration state transition")
	ErrResetInFlight     = errors.New("cannot reset while a registration is in flight")
)
