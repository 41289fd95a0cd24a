//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func setupTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, "TRUNCATE routing_proposal_events CASCADE")
		_, _ = s.pool.Exec(ctx, "TRUNCATE routing_proposals CASCADE")
		_, _ = s.pool.Exec(ctx, "TRUNCATE routing_configs")
		s.Close()
	})

	return s
}

func TestCreateAndGetProposal(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	p := &Proposal{
		Tenant:    "acme",
		LeadID:    "lead-1",
		BoardID:   "board-1",
		Status:    StatusPending,
		Score:     64.25,
		AgentID:   "agent-1",
		AgentName: "Ann",
		Summary:   "Ann recommended",
		Reasons:   []Reason{{Key: KPIDomain, Category: "expertise", Value: 24, IsWeighted: true, Primary: true}},
		Breakdown: ScoreBreakdown{Version: KPIConfigVersion, Entries: []BreakdownEntry{
			{Key: KPIDomain, Category: "expertise", RawScore: 80, Weight: 30, HasData: true},
		}},
		Alternatives: []Alternative{{AgentID: "agent-2", AgentName: "Bob", Score: 50, ScoreDifference: 14.25}},
		LeadSnapshot: map[string]string{"industry": "solar"},
		EvaluatedAt:  time.Now().UTC(),
	}
	if err := s.CreateProposal(ctx, p); err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}
	if p.ID == uuid.Nil || p.Version != 1 {
		t.Fatalf("expected id and version 1, got %s v%d", p.ID, p.Version)
	}

	got, err := s.GetProposal(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProposal failed: %v", err)
	}
	if got.AgentID != "agent-1" || got.Score != 64.25 {
		t.Errorf("unexpected proposal: %+v", got)
	}
	if len(got.Breakdown.Entries) != 1 || got.Breakdown.Entries[0].Weight != 30 {
		t.Errorf("breakdown not round-tripped: %+v", got.Breakdown)
	}
	if got.LeadSnapshot["industry"] != "solar" {
		t.Errorf("lead snapshot not round-tripped: %v", got.LeadSnapshot)
	}

	missing, err := s.GetProposal(ctx, uuid.New())
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil) for missing proposal, got %v, %v", missing, err)
	}
}

func TestOpenProposalUniqueness(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	first := &Proposal{Tenant: "acme", LeadID: "lead-1", Status: StatusPending, AgentID: "a1", EvaluatedAt: time.Now()}
	if err := s.CreateProposal(ctx, first); err != nil {
		t.Fatal(err)
	}
	dup := &Proposal{Tenant: "acme", LeadID: "lead-1", Status: StatusPending, AgentID: "a2", EvaluatedAt: time.Now()}
	if err := s.CreateProposal(ctx, dup); !errors.Is(err, ErrOpenProposalExists) {
		t.Fatalf("expected ErrOpenProposalExists, got %v", err)
	}

	first.Status = StatusRejected
	if err := s.UpdateProposal(ctx, first, 1); err != nil {
		t.Fatal(err)
	}
	again := &Proposal{Tenant: "acme", LeadID: "lead-1", Status: StatusPending, AgentID: "a2", EvaluatedAt: time.Now()}
	if err := s.CreateProposal(ctx, again); err != nil {
		t.Fatalf("expected new proposal after terminal, got %v", err)
	}
}

func TestUpdateProposalVersionCheck(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	p := &Proposal{Tenant: "acme", LeadID: "lead-9", Status: StatusPending, AgentID: "a1", EvaluatedAt: time.Now()}
	if err := s.CreateProposal(ctx, p); err != nil {
		t.Fatal(err)
	}

	p.Status = StatusApproved
	if err := s.UpdateProposal(ctx, p, 1); err != nil {
		t.Fatal(err)
	}
	if p.Version != 2 {
		t.Errorf("expected version 2, got %d", p.Version)
	}

	p.Status = StatusRejected
	if err := s.UpdateProposal(ctx, p, 1); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

func TestListProposalsByStatus(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	for _, lead := range []string{"a", "b", "c"} {
		p := &Proposal{Tenant: "acme", LeadID: lead, Status: StatusPending, AgentID: "a1", EvaluatedAt: time.Now()}
		if err := s.CreateProposal(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.ListProposals(ctx, ProposalFilter{Tenant: "acme", Statuses: []ProposalStatus{StatusPending}, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 proposals, got %d", len(list))
	}

	stats, err := s.GetProposalStats(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalPending != 3 {
		t.Errorf("expected 3 pending, got %d", stats.TotalPending)
	}
}

func TestProposalEvents(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	p := &Proposal{Tenant: "acme", LeadID: "lead-e", Status: StatusPending, AgentID: "a1", EvaluatedAt: time.Now()}
	if err := s.CreateProposal(ctx, p); err != nil {
		t.Fatal(err)
	}
	ev := &ProposalEvent{ProposalID: p.ID, Event: "created", Actor: "system", Payload: map[string]interface{}{"score": 50.0}}
	if err := s.CreateProposalEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	events, err := s.GetProposalEvents(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Payload["score"] != 50.0 {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestRoutingConfigUpsert(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	limit := 5
	cfg := &RoutingConfig{Tenant: "acme", Capacity: CapacitySettings{DailyLimit: &limit}}
	cfg.KPI.Domain.Enabled = true
	cfg.KPI.Domain.Weight = 40
	if err := s.SaveRoutingConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRoutingConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRoutingConfig(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 || got.KPI.Domain.Weight != 40 || *got.Capacity.DailyLimit != 5 {
		t.Errorf("unexpected config: %+v", got)
	}
}
