package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// Snapshot is the on-disk fixture format for MemoryProvider.
type Snapshot struct {
	Leads  []*store.Lead  `json:"leads"`
	Agents []*store.Agent `json:"agents"`
}

// LoadSnapshot decodes a JSON fixture.
func LoadSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// MemoryProvider serves a fixed snapshot for one or more tenants and records
// write-backs by setting the lead's assignee.
type MemoryProvider struct {
	mu     sync.RWMutex
	leads  map[string]map[string]*store.Lead
	agents map[string][]*store.Agent
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		leads:  make(map[string]map[string]*store.Lead),
		agents: make(map[string][]*store.Agent),
	}
}

// Load replaces a tenant's leads and agents.
func (m *MemoryProvider) Load(tenant string, snap *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	leads := make(map[string]*store.Lead, len(snap.Leads))
	for _, l := range snap.Leads {
		c := *l
		c.Tenant = tenant
		leads[l.ID] = &c
	}
	m.leads[tenant] = leads
	m.agents[tenant] = append([]*store.Agent(nil), snap.Agents...)
}

// UpsertLead sets a single lead, as a CRM edit would.
func (m *MemoryProvider) UpsertLead(tenant string, lead *store.Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leads[tenant] == nil {
		m.leads[tenant] = make(map[string]*store.Lead)
	}
	c := *lead
	c.Tenant = tenant
	m.leads[tenant][lead.ID] = &c
}

func (m *MemoryProvider) ListLeads(_ context.Context, tenant, boardID string) ([]*store.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*store.Lead
	for _, l := range m.leads[tenant] {
		if !l.Unassigned() || (boardID != "" && l.BoardID != boardID) {
			continue
		}
		c := *l
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryProvider) GetLead(_ context.Context, tenant, leadID string) (*store.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leads[tenant][leadID]
	if !ok {
		return nil, nil
	}
	c := *l
	return &c, nil
}

func (m *MemoryProvider) ListAgents(_ context.Context, tenant string) ([]*store.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*store.Agent(nil), m.agents[tenant]...), nil
}

func (m *MemoryProvider) LeadChangedSince(_ context.Context, tenant, leadID string, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leads[tenant][leadID]
	if !ok {
		return true, nil
	}
	return l.UpdatedAt.After(since), nil
}

func (m *MemoryProvider) AssignLead(_ context.Context, tenant, leadID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[tenant][leadID]
	if !ok {
		return fmt.Errorf("crm: lead %s not found", leadID)
	}
	l.AssignedAgentID = agentID
	l.UpdatedAt = time.Now().UTC()
	return nil
}
