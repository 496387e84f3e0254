package service

import "errors"

// Sentinel kinds returned by the engine entry points.
var (
	ErrNotRunning    = errors.New("engine is not running")
	ErrStopped       = errors.New("engine was stopped")
	ErrInvalidSample = errors.New("invalid sensor sample")
)
