package simulator

import "sync"

const defaultReplaySize = 4096

// replayCache remembers the attendance id issued for each idempotency key.
// When full it evicts the oldest key.
type replayCache struct {
	mu      sync.Mutex
	ids     map[string]string
	order   []string // insertion order, oldest first
	maxSize int
}

func newReplayCache(maxSize int) *replayCache {
	if maxSize <= 0 {
		maxSize = defaultReplaySize
	}
	return &replayCache{ids: make(map[string]string), maxSize: maxSize}
}

// LoadOrStore returns the id recorded for key, recording id first if the
// key is new. seen reports whether the key was already present.
func (c *replayCache) LoadOrStore(key, id string) (stored string, seen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.ids[key]; ok {
		return prev, true
	}
	if len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.ids, oldest)
	}
	c.ids[key] = id
	c.order = append(c.order, key)
	return id, false
}

// Len returns the number of remembered keys.
func (c *replayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}
