package capacity

import (
	"context"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// MemoryCounterStore is a mutex-guarded CounterStore for tests and single
// process deployments. Old buckets are never read again once the clock moves.
type MemoryCounterStore struct {
	mu          sync.Mutex
	counts      map[string]int
	unavailable map[string]map[string]bool
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counts:      make(map[string]int),
		unavailable: make(map[string]map[string]bool),
	}
}

func (s *MemoryCounterStore) Increment(_ context.Context, tenant, agentID string, now time.Time) (store.AssignmentCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c store.AssignmentCounts
	for _, p := range periods {
		key := counterKey(tenant, agentID, Bucket(p, now))
		s.counts[key]++
		setCount(&c, p, s.counts[key])
	}
	return c, nil
}

func (s *MemoryCounterStore) Counts(_ context.Context, tenant string, agentIDs []string, now time.Time) (map[string]store.AssignmentCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]store.AssignmentCounts, len(agentIDs))
	for _, id := range agentIDs {
		var c store.AssignmentCounts
		for _, p := range periods {
			setCount(&c, p, s.counts[counterKey(tenant, id, Bucket(p, now))])
		}
		out[id] = c
	}
	return out, nil
}

func (s *MemoryCounterStore) Reset(_ context.Context, tenant, agentID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range periods {
		delete(s.counts, counterKey(tenant, agentID, Bucket(p, now)))
	}
	return nil
}

func (s *MemoryCounterStore) SetAvailability(_ context.Context, tenant, agentID string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if available {
		delete(s.unavailable[tenant], agentID)
		return nil
	}
	if s.unavailable[tenant] == nil {
		s.unavailable[tenant] = make(map[string]bool)
	}
	s.unavailable[tenant][agentID] = true
	return nil
}

func (s *MemoryCounterStore) Unavailable(_ context.Context, tenant string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.unavailable[tenant]))
	for id := range s.unavailable[tenant] {
		out[id] = true
	}
	return out, nil
}
