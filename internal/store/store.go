package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrOpenProposalExists is returned when a lead already has a PENDING or
	// APPROVED proposal.
	ErrOpenProposalExists = errors.New("lead already has an open proposal")
	// ErrVersionConflict is returned when an update's expected version is stale.
	ErrVersionConflict = errors.New("proposal version conflict")
)

type ProposalStatus string

const (
	StatusPending  ProposalStatus = "PENDING"
	StatusApproved ProposalStatus = "APPROVED"
	StatusApplied  ProposalStatus = "APPLIED"
	StatusRejected ProposalStatus = "REJECTED"
)

// ParseProposalStatus accepts any casing and the legacy PROPOSED alias.
func ParseProposalStatus(s string) (ProposalStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING", "PROPOSED":
		return StatusPending, nil
	case "APPROVED":
		return StatusApproved, nil
	case "APPLIED":
		return StatusApplied, nil
	case "REJECTED":
		return StatusRejected, nil
	}
	return "", fmt.Errorf("unknown proposal status %q", s)
}

// Open reports whether the status still blocks a new proposal for the lead.
func (s ProposalStatus) Open() bool {
	return s == StatusPending || s == StatusApproved
}

// Terminal statuses never change again.
func (s ProposalStatus) Terminal() bool {
	return s == StatusApplied || s == StatusRejected
}

type Proposal struct {
	ID      uuid.UUID      `json:"id"`
	Tenant  string         `json:"tenant"`
	LeadID  string         `json:"lead_id"`
	BoardID string         `json:"board_id"`
	Status  ProposalStatus `json:"status"`
	Version int            `json:"version"`

	// Recommendation
	Score        float64        `json:"score"`
	AgentID      string         `json:"agent_id"`
	AgentName    string         `json:"agent_name"`
	Summary      string         `json:"summary"`
	Reasons      []Reason       `json:"reasons"`
	Breakdown    ScoreBreakdown `json:"breakdown"`
	Alternatives []Alternative  `json:"alternatives"`

	// LeadSnapshot holds the mapped lead fields as they were when last scored.
	LeadSnapshot map[string]string `json:"lead_snapshot,omitempty"`

	// Override / actions
	OriginalAgentID string `json:"original_agent_id,omitempty"`
	ActedBy         string `json:"acted_by,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	EvaluatedAt time.Time  `json:"evaluated_at"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`

	AppliedValue string `json:"applied_value,omitempty"`

	// Rescoring
	WasRescored   bool          `json:"was_rescored"`
	DataChanges   []FieldChange `json:"data_changes,omitempty"`
	DataChangedAt *time.Time    `json:"data_changed_at,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// Clone returns a deep copy so callers never share slices with a store.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	c := *p
	c.Reasons = append([]Reason(nil), p.Reasons...)
	c.Alternatives = append([]Alternative(nil), p.Alternatives...)
	c.DataChanges = append([]FieldChange(nil), p.DataChanges...)
	c.Breakdown.Entries = append([]BreakdownEntry(nil), p.Breakdown.Entries...)
	if p.LeadSnapshot != nil {
		c.LeadSnapshot = make(map[string]string, len(p.LeadSnapshot))
		for k, v := range p.LeadSnapshot {
			c.LeadSnapshot[k] = v
		}
	}
	if p.AppliedAt != nil {
		t := *p.AppliedAt
		c.AppliedAt = &t
	}
	if p.DataChangedAt != nil {
		t := *p.DataChangedAt
		c.DataChangedAt = &t
	}
	return &c
}

type ProposalFilter struct {
	Tenant   string
	Statuses []ProposalStatus
	LeadID   string
	AgentID  string
	Limit    int
	Offset   int
}

type ProposalEvent struct {
	ID         uuid.UUID              `json:"id"`
	ProposalID uuid.UUID              `json:"proposal_id"`
	Event      string                 `json:"event"`
	Actor      string                 `json:"actor,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

type ProposalStats struct {
	TotalPending  int `json:"total_pending"`
	TotalApproved int `json:"total_approved"`
	TotalApplied  int `json:"total_applied"`
	TotalRejected int `json:"total_rejected"`
	TotalRescored int `json:"total_rescored"`
}

type Store interface {
	// CreateProposal returns ErrOpenProposalExists when the lead already has
	// an open proposal.
	CreateProposal(ctx context.Context, p *Proposal) error
	// GetProposal returns (nil, nil) when the proposal does not exist.
	GetProposal(ctx context.Context, id uuid.UUID) (*Proposal, error)
	GetOpenProposalForLead(ctx context.Context, tenant, leadID string) (*Proposal, error)
	ListProposals(ctx context.Context, filter ProposalFilter) ([]*Proposal, error)
	// UpdateProposal writes p only if the stored version equals expectedVersion,
	// then bumps p.Version. Otherwise it returns ErrVersionConflict.
	UpdateProposal(ctx context.Context, p *Proposal, expectedVersion int) error

	CreateProposalEvent(ctx context.Context, event *ProposalEvent) error
	GetProposalEvents(ctx context.Context, proposalID uuid.UUID) ([]*ProposalEvent, error)

	GetProposalStats(ctx context.Context, tenant string) (*ProposalStats, error)

	// Routing configuration; GetRoutingConfig returns (nil, nil) when the
	// tenant has none stored.
	GetRoutingConfig(ctx context.Context, tenant string) (*RoutingConfig, error)
	SaveRoutingConfig(ctx context.Context, cfg *RoutingConfig) error

	Close() error
}
