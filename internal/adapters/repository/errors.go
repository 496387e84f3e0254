package repository

import "errors"

// Sentinel kinds for colleague lookups.
var (
	ErrNotFound     = errors.New("colleague not found")
	ErrInvalidLimit = errors.New("invalid colleague limit")
)
