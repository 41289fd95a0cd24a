package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and by serve --memory.
type MemoryStore struct {
	mu        sync.RWMutex
	proposals map[uuid.UUID]*Proposal
	events    map[uuid.UUID][]*ProposalEvent
	configs   map[string]*RoutingConfig
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proposals: make(map[uuid.UUID]*Proposal),
		events:    make(map[uuid.UUID][]*ProposalEvent),
		configs:   make(map[string]*RoutingConfig),
		now:       time.Now,
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateProposal(_ context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openForLeadLocked(p.Tenant, p.LeadID) != nil {
		return ErrOpenProposalExists
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Version = 1
	s.proposals[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) GetProposal(_ context.Context, id uuid.UUID) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proposals[id].Clone(), nil
}

func (s *MemoryStore) GetOpenProposalForLead(_ context.Context, tenant, leadID string) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openForLeadLocked(tenant, leadID).Clone(), nil
}

func (s *MemoryStore) openForLeadLocked(tenant, leadID string) *Proposal {
	for _, p := range s.proposals {
		if p.Tenant == tenant && p.LeadID == leadID && p.Status.Open() {
			return p
		}
	}
	return nil
}

func (s *MemoryStore) ListProposals(_ context.Context, filter ProposalFilter) ([]*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Proposal
	for _, p := range s.proposals {
		if filter.Tenant != "" && p.Tenant != filter.Tenant {
			continue
		}
		if filter.LeadID != "" && p.LeadID != filter.LeadID {
			continue
		}
		if filter.AgentID != "" && p.AgentID != filter.AgentID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, p.Status) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateProposal(_ context.Context, p *Proposal, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.proposals[p.ID]
	if !ok || cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	p.UpdatedAt = s.now().UTC()
	s.proposals[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) CreateProposalEvent(_ context.Context, event *ProposalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = s.now().UTC()
	e := *event
	s.events[event.ProposalID] = append(s.events[event.ProposalID], &e)
	return nil
}

func (s *MemoryStore) GetProposalEvents(_ context.Context, proposalID uuid.UUID) ([]*ProposalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[proposalID]
	out := make([]*ProposalEvent, 0, len(src))
	for _, e := range src {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) GetProposalStats(_ context.Context, tenant string) (*ProposalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &ProposalStats{}
	for _, p := range s.proposals {
		if tenant != "" && p.Tenant != tenant {
			continue
		}
		switch p.Status {
		case StatusPending:
			stats.TotalPending++
		case StatusApproved:
			stats.TotalApproved++
		case StatusApplied:
			stats.TotalApplied++
		case StatusRejected:
			stats.TotalRejected++
		}
		if p.WasRescored {
			stats.TotalRescored++
		}
	}
	return stats, nil
}

func (s *MemoryStore) GetRoutingConfig(_ context.Context, tenant string) (*RoutingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[tenant]
	if !ok {
		return nil, nil
	}
	c := *cfg
	c.KPI.FieldMapping = copyMapping(cfg.KPI.FieldMapping)
	return &c, nil
}

func (s *MemoryStore) SaveRoutingConfig(_ context.Context, cfg *RoutingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := 1
	if cur, ok := s.configs[cfg.Tenant]; ok {
		version = cur.Version + 1
	}
	cfg.Version = version
	cfg.UpdatedAt = s.now().UTC()
	c := *cfg
	c.KPI.FieldMapping = copyMapping(cfg.KPI.FieldMapping)
	s.configs[cfg.Tenant] = &c
	return nil
}

func containsStatus(list []ProposalStatus, s ProposalStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func copyMapping(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
