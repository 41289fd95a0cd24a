package capacity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// WarningRatio is the utilization at which an agent is flagged as nearing a limit.
const WarningRatio = 0.8

// Snapshot is the tracker state read once per pipeline run.
type Snapshot struct {
	Counts      map[string]store.AssignmentCounts
	Unavailable map[string]bool
}

// CountsFor returns zero counts for unknown agents.
func (s *Snapshot) CountsFor(agentID string) store.AssignmentCounts {
	if s == nil {
		return store.AssignmentCounts{}
	}
	return s.Counts[agentID]
}

func (s *Snapshot) IsUnavailable(agentID string) bool {
	return s != nil && s.Unavailable[agentID]
}

// AgentStatus is one row of the capacity report.
type AgentStatus struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Available bool   `json:"available"`
	store.AssignmentCounts
	HasCapacityIssue bool   `json:"has_capacity_issue"`
	Warning          string `json:"warning,omitempty"`
}

type Tracker struct {
	counters CounterStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewTracker(counters CounterStore, logger *slog.Logger) *Tracker {
	return &Tracker{counters: counters, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

func (t *Tracker) Snapshot(ctx context.Context, tenant string, agentIDs []string) (*Snapshot, error) {
	counts, err := t.counters.Counts(ctx, tenant, agentIDs, t.now())
	if err != nil {
		return nil, err
	}
	unavailable, err := t.counters.Unavailable(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Counts: counts, Unavailable: unavailable}, nil
}

// RecordAssignment counts one applied assignment in every bucket.
func (t *Tracker) RecordAssignment(ctx context.Context, tenant, agentID string) (store.AssignmentCounts, error) {
	counts, err := t.counters.Increment(ctx, tenant, agentID, t.now())
	if err != nil {
		return counts, err
	}
	t.logger.Debug("assignment recorded", "tenant", tenant, "agent_id", agentID,
		"daily", counts.Daily, "weekly", counts.Weekly, "monthly", counts.Monthly)
	return counts, nil
}

func (t *Tracker) SetAvailability(ctx context.Context, tenant, agentID string, available bool) error {
	if err := t.counters.SetAvailability(ctx, tenant, agentID, available); err != nil {
		return err
	}
	t.logger.Info("agent availability changed", "tenant", tenant, "agent_id", agentID, "available", available)
	return nil
}

// Reset clears the agent's current buckets.
func (t *Tracker) Reset(ctx context.Context, tenant, agentID string) error {
	if err := t.counters.Reset(ctx, tenant, agentID, t.now()); err != nil {
		return err
	}
	t.logger.Info("capacity counters reset", "tenant", tenant, "agent_id", agentID)
	return nil
}

// Status builds the per-agent capacity report, sorted by agent ID.
func (t *Tracker) Status(ctx context.Context, tenant string, agents []*store.Agent, limits store.CapacitySettings) ([]AgentStatus, error) {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	snap, err := t.Snapshot(ctx, tenant, ids)
	if err != nil {
		return nil, err
	}

	out := make([]AgentStatus, 0, len(agents))
	for _, a := range agents {
		counts := snap.CountsFor(a.ID)
		st := AgentStatus{
			AgentID:          a.ID,
			AgentName:        a.Name,
			Available:        a.Available && !snap.IsUnavailable(a.ID),
			AssignmentCounts: counts,
		}
		if over, reason := AtCapacity(counts, limits); over {
			st.HasCapacityIssue = true
			st.Warning = reason
		} else {
			st.Warning = nearLimit(counts, limits)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

type limitCheck struct {
	name  string
	count int
	limit *int
}

func checks(c store.AssignmentCounts, l store.CapacitySettings) []limitCheck {
	return []limitCheck{
		{"daily", c.Daily, l.DailyLimit},
		{"weekly", c.Weekly, l.WeeklyLimit},
		{"monthly", c.Monthly, l.MonthlyLimit},
	}
}

// AtCapacity reports whether any configured limit is met or exceeded.
func AtCapacity(c store.AssignmentCounts, l store.CapacitySettings) (bool, string) {
	for _, chk := range checks(c, l) {
		if chk.limit != nil && chk.count >= *chk.limit {
			return true, fmt.Sprintf("%s limit reached (%d/%d)", chk.name, chk.count, *chk.limit)
		}
	}
	return false, ""
}

func nearLimit(c store.AssignmentCounts, l store.CapacitySettings) string {
	for _, chk := range checks(c, l) {
		if chk.limit != nil && *chk.limit > 0 && float64(chk.count) >= WarningRatio*float64(*chk.limit) {
			return fmt.Sprintf("approaching %s limit (%d/%d)", chk.name, chk.count, *chk.limit)
		}
	}
	return ""
}
