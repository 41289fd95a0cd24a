// Package proposal owns the routing proposal state machine:
// PENDING -> APPROVED -> APPLIED, with REJECTED reachable from either open
// state. Every mutation is serialized per lead and version-checked in the
// store.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/LeadRouter/internal/apperr"
	"github.com/MikeSquared-Agency/LeadRouter/internal/capacity"
	"github.com/MikeSquared-Agency/LeadRouter/internal/crm"
	"github.com/MikeSquared-Agency/LeadRouter/internal/hermes"
	"github.com/MikeSquared-Agency/LeadRouter/internal/metrics"
	"github.com/MikeSquared-Agency/LeadRouter/internal/scoring"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

var (
	// ErrTerminal is wrapped by every operation on an APPLIED or REJECTED proposal.
	ErrTerminal = errors.New("proposal is terminal")
	// ErrNotPending is returned when rescoring a proposal a human already acted on.
	ErrNotPending = errors.New("proposal is not pending")
)

// Audit event names.
const (
	EventCreated         = "created"
	EventRescored        = "rescored"
	EventApproved        = "approved"
	EventOverridden      = "overridden"
	EventApplied         = "applied"
	EventRejected        = "rejected"
	EventWriteBackFailed = "writeback_failed"
)

const defaultWriteBackTimeout = 15 * time.Second

// ActionRequest carries the caller of a manager action.
type ActionRequest struct {
	Actor string
	// ExpectedVersion, when set, must match the stored version.
	ExpectedVersion *int
	Reason          string
}

type Manager struct {
	store            store.Store
	sink             crm.WriteBackSink
	tracker          *capacity.Tracker
	hermes           hermes.Client
	writeBackTimeout time.Duration
	logger           *slog.Logger
	locks            *keyedMutex
	now              func() time.Time
}

func NewManager(s store.Store, sink crm.WriteBackSink, tracker *capacity.Tracker, h hermes.Client, writeBackTimeout time.Duration, logger *slog.Logger) *Manager {
	if h == nil {
		h = hermes.NopClient{}
	}
	if writeBackTimeout <= 0 {
		writeBackTimeout = defaultWriteBackTimeout
	}
	return &Manager{
		store:            s,
		sink:             sink,
		tracker:          tracker,
		hermes:           h,
		writeBackTimeout: writeBackTimeout,
		logger:           logger.With("component", "proposal"),
		locks:            newKeyedMutex(),
		now:              time.Now,
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Get returns the proposal or a NotFound error.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*store.Proposal, error) {
	p, err := m.store.GetProposal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	if p == nil {
		return nil, apperr.NotFound("proposal not found").WithOp("proposal.Get")
	}
	return p, nil
}

// Propose creates a PENDING proposal for the evaluation's winner. It returns
// store.ErrOpenProposalExists when the lead already has an open proposal.
func (m *Manager) Propose(ctx context.Context, eval *Evaluation) (*store.Proposal, error) {
	winner, ok := eval.Winner()
	if !ok {
		return nil, apperr.NoEligibleAgents("no eligible agents for lead " + eval.Lead.ID).WithOp("proposal.Propose")
	}

	unlock := m.locks.Lock(leadKey(eval.Tenant, eval.Lead.ID))
	defer unlock()

	exp := scoring.Explain(winner, eval.Ranked, eval.TopN)
	now := m.now().UTC()
	p := &store.Proposal{
		Tenant:       eval.Tenant,
		LeadID:       eval.Lead.ID,
		BoardID:      eval.Lead.BoardID,
		Status:       store.StatusPending,
		LeadSnapshot: eval.Lead.MappedFields(),
		CreatedAt:    now,
		EvaluatedAt:  evaluatedAt(eval, now),
	}
	applyWinner(p, winner, exp)

	if err := m.store.CreateProposal(ctx, p); err != nil {
		if errors.Is(err, store.ErrOpenProposalExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create proposal: %w", err)
	}

	m.record(ctx, p, EventCreated, "system", map[string]interface{}{
		"agent_id": p.AgentID,
		"score":    p.Score,
	})
	m.publish(hermes.SubjectProposalCreated(p.ID.String()), m.event(p, "system"))
	metrics.ProposalsCreated.WithLabelValues(p.Tenant).Inc()

	m.logger.Info("proposal created", "proposal_id", p.ID, "tenant", p.Tenant, "lead_id", p.LeadID,
		"agent_id", p.AgentID, "score", p.Score)
	return p, nil
}

// Rescore updates a PENDING proposal in place when the lead's mapped fields
// differ from its snapshot and the fresh evaluation picks a different winner
// or score. A changed lead with the same outcome only refreshes the snapshot
// and EvaluatedAt. It reports whether the proposal was rescored.
func (m *Manager) Rescore(ctx context.Context, id uuid.UUID, expectedVersion int, eval *Evaluation) (*store.Proposal, bool, error) {
	p, unlock, err := m.lockProposal(ctx, id)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	switch {
	case p.Status.Terminal():
		return p, false, apperr.Wrap(apperr.KindTerminal, "cannot rescore "+string(p.Status)+" proposal", ErrTerminal)
	case p.Status != store.StatusPending:
		return p, false, apperr.Wrap(apperr.KindConflict, "cannot rescore "+string(p.Status)+" proposal", ErrNotPending)
	}
	if expectedVersion > 0 && p.Version != expectedVersion {
		return p, false, conflict(p.Version, expectedVersion)
	}

	snapshot := eval.Lead.MappedFields()
	changes := Diff(p.LeadSnapshot, snapshot)
	if len(changes) == 0 {
		return p, false, nil
	}

	winner, ok := eval.Winner()
	if !ok {
		return p, false, apperr.NoEligibleAgents("no eligible agents for lead " + p.LeadID).WithOp("proposal.Rescore")
	}
	now := m.now().UTC()

	if winner.AgentID == p.AgentID && math.Abs(winner.Score-p.Score) <= scoring.ScoreEpsilon {
		p.LeadSnapshot = snapshot
		p.EvaluatedAt = evaluatedAt(eval, now)
		if err := m.update(ctx, p); err != nil {
			return nil, false, err
		}
		m.logger.Debug("lead changed without moving the proposal", "proposal_id", p.ID, "lead_id", p.LeadID,
			"changes", len(changes))
		return p, false, nil
	}

	prevAgent, prevScore := p.AgentID, p.Score

	applyWinner(p, winner, scoring.Explain(winner, eval.Ranked, eval.TopN))
	p.WasRescored = true
	p.DataChanges = changes
	p.DataChangedAt = &now
	p.LeadSnapshot = snapshot
	p.EvaluatedAt = evaluatedAt(eval, now)

	if err := m.update(ctx, p); err != nil {
		return nil, false, err
	}

	m.record(ctx, p, EventRescored, "system", map[string]interface{}{
		"previous_agent_id": prevAgent,
		"previous_score":    prevScore,
		"agent_id":          p.AgentID,
		"score":             p.Score,
		"changes":           p.DataChanges,
	})
	m.publish(hermes.SubjectProposalRescored(p.ID.String()), m.event(p, "system"))
	metrics.ProposalsRescored.WithLabelValues(p.Tenant).Inc()

	m.logger.Info("proposal rescored", "proposal_id", p.ID, "lead_id", p.LeadID,
		"previous_agent_id", prevAgent, "agent_id", p.AgentID, "score", p.Score)
	return p, true, nil
}

// Approve moves a PENDING proposal to APPROVED and writes the assignment back.
// Approving an APPROVED proposal retries the write-back.
func (m *Manager) Approve(ctx context.Context, id uuid.UUID, req ActionRequest) (*store.Proposal, error) {
	p, unlock, err := m.lockProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := checkActionable(p, req); err != nil {
		return p, err
	}

	if p.Status == store.StatusPending {
		p.Status = store.StatusApproved
		p.ActedBy = req.Actor
		if err := m.update(ctx, p); err != nil {
			return nil, err
		}
		m.record(ctx, p, EventApproved, req.Actor, nil)
		m.publish(hermes.SubjectProposalApproved(p.ID.String()), m.event(p, req.Actor))
		metrics.ProposalTransitions.WithLabelValues(p.Tenant, string(store.StatusApproved)).Inc()
	}

	return m.apply(ctx, p, req.Actor)
}

// Reject closes an open proposal.
func (m *Manager) Reject(ctx context.Context, id uuid.UUID, req ActionRequest) (*store.Proposal, error) {
	p, unlock, err := m.lockProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := checkActionable(p, req); err != nil {
		return p, err
	}

	p.Status = store.StatusRejected
	p.ActedBy = req.Actor
	if err := m.update(ctx, p); err != nil {
		return nil, err
	}

	var payload map[string]interface{}
	if req.Reason != "" {
		payload = map[string]interface{}{"reason": req.Reason}
	}
	m.record(ctx, p, EventRejected, req.Actor, payload)
	m.publish(hermes.SubjectProposalRejected(p.ID.String()), m.event(p, req.Actor))
	metrics.ProposalTransitions.WithLabelValues(p.Tenant, string(store.StatusRejected)).Inc()

	m.logger.Info("proposal rejected", "proposal_id", p.ID, "lead_id", p.LeadID, "actor", req.Actor)
	return p, nil
}

// Override reassigns an open proposal to agentID, rebuilds its explanation
// against the fresh evaluation and writes the assignment back.
func (m *Manager) Override(ctx context.Context, id uuid.UUID, agentID string, req ActionRequest, eval *Evaluation) (*store.Proposal, error) {
	p, unlock, err := m.lockProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := checkActionable(p, req); err != nil {
		return p, err
	}

	target, ok := eval.Result(agentID)
	if !ok {
		return p, apperr.Validation("agent " + agentID + " is not in the roster").WithOp("proposal.Override")
	}

	if agentID != p.AgentID {
		original := p.AgentID
		if p.OriginalAgentID == "" {
			p.OriginalAgentID = original
		}
		applyWinner(p, target, scoring.Explain(target, eval.Ranked, eval.TopN))
		p.EvaluatedAt = evaluatedAt(eval, m.now().UTC())
		p.Status = store.StatusApproved
		p.ActedBy = req.Actor
		if err := m.update(ctx, p); err != nil {
			return nil, err
		}

		m.record(ctx, p, EventOverridden, req.Actor, map[string]interface{}{
			"previous_agent_id": original,
			"agent_id":          p.AgentID,
			"score":             p.Score,
		})
		m.publish(hermes.SubjectProposalOverridden(p.ID.String()), hermes.ProposalOverriddenEvent{
			ProposalEvent:   m.event(p, req.Actor),
			OriginalAgentID: p.OriginalAgentID,
		})
		metrics.ProposalOverrides.WithLabelValues(p.Tenant).Inc()
		metrics.ProposalTransitions.WithLabelValues(p.Tenant, string(store.StatusApproved)).Inc()
		m.logger.Info("proposal overridden", "proposal_id", p.ID, "lead_id", p.LeadID,
			"previous_agent_id", original, "agent_id", p.AgentID, "actor", req.Actor)
	} else if p.Status == store.StatusPending {
		p.Status = store.StatusApproved
		p.ActedBy = req.Actor
		if err := m.update(ctx, p); err != nil {
			return nil, err
		}
		m.record(ctx, p, EventApproved, req.Actor, nil)
		metrics.ProposalTransitions.WithLabelValues(p.Tenant, string(store.StatusApproved)).Inc()
	}

	return m.apply(ctx, p, req.Actor)
}

// apply writes an APPROVED proposal back to the CRM and marks it APPLIED. A
// failed write-back leaves the proposal APPROVED with LastError set.
func (m *Manager) apply(ctx context.Context, p *store.Proposal, actor string) (*store.Proposal, error) {
	wbCtx, cancel := context.WithTimeout(ctx, m.writeBackTimeout)
	wbErr := m.sink.AssignLead(wbCtx, p.Tenant, p.LeadID, p.AgentID)
	cancel()

	if wbErr != nil {
		p.LastError = wbErr.Error()
		if err := m.update(ctx, p); err != nil {
			m.logger.Warn("failed to record write-back error", "proposal_id", p.ID, "error", err)
		}
		m.record(ctx, p, EventWriteBackFailed, actor, map[string]interface{}{"error": wbErr.Error()})
		m.publish(hermes.SubjectProposalWriteBackFailed(p.ID.String()), hermes.ProposalWriteBackFailedEvent{
			ProposalEvent: m.event(p, actor),
			Error:         wbErr.Error(),
		})
		metrics.WriteBackFailures.WithLabelValues(p.Tenant).Inc()
		m.logger.Warn("write-back failed", "proposal_id", p.ID, "lead_id", p.LeadID, "agent_id", p.AgentID, "error", wbErr)
		return p, apperr.WriteBack(wbErr).WithOp("proposal.apply")
	}

	now := m.now().UTC()
	p.Status = store.StatusApplied
	p.AppliedAt = &now
	p.AppliedValue = p.AgentID
	p.LastError = ""
	if err := m.update(ctx, p); err != nil {
		return nil, err
	}

	if m.tracker != nil {
		if _, err := m.tracker.RecordAssignment(ctx, p.Tenant, p.AgentID); err != nil {
			m.logger.Error("failed to record assignment", "proposal_id", p.ID, "agent_id", p.AgentID, "error", err)
		}
	}

	m.record(ctx, p, EventApplied, actor, map[string]interface{}{"agent_id": p.AgentID})
	m.publish(hermes.SubjectProposalApplied(p.ID.String()), m.event(p, actor))
	metrics.ProposalTransitions.WithLabelValues(p.Tenant, string(store.StatusApplied)).Inc()

	m.logger.Info("proposal applied", "proposal_id", p.ID, "lead_id", p.LeadID, "agent_id", p.AgentID)
	return p, nil
}

// lockProposal loads the proposal, takes its lead lock and re-reads it so the
// caller sees the state as of lock acquisition.
func (m *Manager) lockProposal(ctx context.Context, id uuid.UUID) (*store.Proposal, func(), error) {
	p, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock := m.locks.Lock(leadKey(p.Tenant, p.LeadID))
	p, err = m.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return p, unlock, nil
}

func (m *Manager) update(ctx context.Context, p *store.Proposal) error {
	expected := p.Version
	if err := m.store.UpdateProposal(ctx, p, expected); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return apperr.Wrap(apperr.KindConflict, "proposal changed concurrently", err)
		}
		return fmt.Errorf("update proposal: %w", err)
	}
	return nil
}

func (m *Manager) record(ctx context.Context, p *store.Proposal, event, actor string, payload map[string]interface{}) {
	if err := m.store.CreateProposalEvent(ctx, &store.ProposalEvent{
		ProposalID: p.ID,
		Event:      event,
		Actor:      actor,
		Payload:    payload,
	}); err != nil {
		m.logger.Warn("failed to record proposal event", "proposal_id", p.ID, "event", event, "error", err)
	}
}

func (m *Manager) publish(subject string, data interface{}) {
	if err := m.hermes.Publish(subject, data); err != nil {
		m.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

func (m *Manager) event(p *store.Proposal, actor string) hermes.ProposalEvent {
	return hermes.ProposalEvent{
		ProposalID: p.ID.String(),
		Tenant:     p.Tenant,
		LeadID:     p.LeadID,
		Status:     string(p.Status),
		AgentID:    p.AgentID,
		Score:      p.Score,
		Version:    p.Version,
		Actor:      actor,
	}
}

func checkActionable(p *store.Proposal, req ActionRequest) error {
	if p.Status.Terminal() {
		return apperr.Wrap(apperr.KindTerminal, "proposal is "+string(p.Status), ErrTerminal)
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != p.Version {
		return conflict(p.Version, *req.ExpectedVersion)
	}
	return nil
}

func conflict(current, expected int) error {
	return apperr.Conflict(fmt.Sprintf("proposal is at version %d, expected %d", current, expected)).
		WithDetails(map[string]int{"current_version": current, "expected_version": expected})
}

func applyWinner(p *store.Proposal, r scoring.Result, exp scoring.Explanation) {
	p.AgentID = r.AgentID
	p.AgentName = r.AgentName
	p.Score = r.Score
	p.Breakdown = r.Breakdown
	p.Summary = exp.Summary
	p.Reasons = exp.Reasons
	p.Alternatives = exp.Alternatives
}

func evaluatedAt(eval *Evaluation, fallback time.Time) time.Time {
	if eval.EvaluatedAt.IsZero() {
		return fallback
	}
	return eval.EvaluatedAt.UTC()
}
