package usage

import (
	"context"
	"sync"
	"time"

	"github.com/courseloop/courseloop/pkg/plan"
)

type recordKey struct {
	userID  string
	feature plan.Feature
	month   time.Time
}

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[recordKey]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[recordKey]int64)}
}

func (s *MemoryStore) Increment(ctx context.Context, userID string, feature plan.Feature, month time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey{userID: userID, feature: feature, month: month}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *MemoryStore) Count(ctx context.Context, userID string, feature plan.Feature, month time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[recordKey{userID: userID, feature: feature, month: month}], nil
}

func (s *MemoryStore) DeleteBefore(ctx context.Context, month time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for key := range s.counts {
		if key.month.Before(month) {
			delete(s.counts, key)
			deleted++
		}
	}
	return deleted, nil
}
