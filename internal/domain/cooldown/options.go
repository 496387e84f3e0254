// Package cooldown tracks per-key alert timestamps so an alert fires at
// most once per window.
package cooldown

import "time"

// Option applies a configuration option to the in-memory tracker.
type Option func(*inMemoryTracker)

// WithWindow sets how long a key stays suppressed after firing.
func WithWindow(window time.Duration) Option {
	return func(t *inMemoryTracker) {
		if window > 0 {
			t.window = window
		}
	}
}

// WithMaxSize bounds the number of keys kept in memory.
// If maxSize > 0: bounded mode, the key with the oldest alert is evicted.
// If maxSize <= 0: unbounded mode.
func WithMaxSize(maxSize int) Option {
	return func(t *inMemoryTracker) {
		t.maxSize = maxSize
	}
}
