// Package cooldown tracks per-key alert timestamps so an alert fires at
// most once per window.
package cooldown

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWindow is the AWOL alert cooldown.
const DefaultWindow = 5 * time.Minute

const defaultMaxSize = 10000

// Tracker records when each key last fired.
type Tracker interface {
	// Allow atomically checks whether key is outside its cooldown at now and,
	// if so, records now as its last alert. Returns true when the caller may
	// fire.
	Allow(ctx context.Context, key string, now time.Time) bool

	// Last returns the last recorded alert time for key.
	Last(ctx context.Context, key string) (time.Time, bool)

	// Forget drops key, letting its next alert fire immediately.
	Forget(ctx context.Context, key string)

	// Window returns the configured cooldown.
	Window() time.Duration

	Size() int64
}

// inMemoryTracker implements Tracker with a map guarded by a mutex.
type inMemoryTracker struct {
	mu      sync.Mutex
	last    map[string]time.Time
	window  time.Duration
	maxSize int
	size    atomic.Int64
}

// NewInMemoryTracker creates a tracker with configuration options.
func NewInMemoryTracker(opts ...Option) Tracker {
	t := &inMemoryTracker{
		window:  DefaultWindow,
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.last = make(map[string]time.Time)
	return t
}

func (t *inMemoryTracker) Allow(_ context.Context, key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.last[key]; ok {
		if now.Sub(prev) < t.window {
			return false
		}
		t.last[key] = now
		return true
	}

	if t.maxSize > 0 && len(t.last) >= t.maxSize {
		t.evictOldest()
	}
	t.last[key] = now
	t.size.Add(1)
	return true
}

func (t *inMemoryTracker) Last(_ context.Context, key string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.last[key]
	return ts, ok
}

func (t *inMemoryTracker) Forget(_ context.Context, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.last[key]; ok {
		delete(t.last, key)
		t.size.Add(-1)
	}
}

func (t *inMemoryTracker) Window() time.Duration { return t.window }

func (t *inMemoryTracker) Size() int64 { return t.size.Load() }

// evictOldest removes the key whose last alert is oldest.
// Must be called with t.mu held.
func (t *inMemoryTracker) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, ts := range t.last {
		if !found || ts.Before(oldest) {
			oldestKey, oldest, found = k, ts, true
		}
	}
	if found {
		delete(t.last, oldestKey)
		t.size.Add(-1)
	}
}
