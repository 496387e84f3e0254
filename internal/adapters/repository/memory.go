package repository

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/okian/fieldpresence/internal/domain/model"
)

// snapshot is immutable once published.
type snapshot struct {
	ordered []model.Colleague
	index   map[string]int
	at      time.Time
}

// MemoryStore is a copy-on-write Store. Writers build a new snapshot and
// publish it atomically; readers never block.
type MemoryStore struct {
	snap atomic.Pointer[snapshot]
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.snap.Store(&snapshot{index: map[string]int{}})
	return s
}

// Replace implements Store. Duplicate user ids keep the last entry.
func (s *MemoryStore) Replace(_ context.Context, colleagues []model.Colleague, at time.Time) {
	byID := make(map[string]model.Colleague, len(colleagues))
	for _, c := range colleagues {
		byID[c.UserID] = c
	}
	ordered := make([]model.Colleague, 0, len(byID))
	for _, c := range byID {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].UserID < ordered[j].UserID })

	index := make(map[string]int, len(ordered))
	for i, c := range ordered {
		index[c.UserID] = i
	}
	s.snap.Store(&snapshot{ordered: ordered, index: index, at: at})
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, userID string) (model.Colleague, error) {
	snap := s.snap.Load()
	i, ok := snap.index[userID]
	if !ok {
		return model.Colleague{}, ErrNotFound
	}
	return snap.ordered[i], nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, limit int) ([]model.Colleague, time.Time, error) {
	if limit < 0 {
		return nil, time.Time{}, ErrInvalidLimit
	}
	snap := s.snap.Load()
	n := len(snap.ordered)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.Colleague, n)
	copy(out, snap.ordered[:n])
	return out, snap.at, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) int {
	return len(s.snap.Load().ordered)
}
