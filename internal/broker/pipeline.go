package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/LeadRouter/internal/apperr"
	"github.com/MikeSquared-Agency/LeadRouter/internal/hermes"
	"github.com/MikeSquared-Agency/LeadRouter/internal/metrics"
	"github.com/MikeSquared-Agency/LeadRouter/internal/proposal"
	"github.com/MikeSquared-Agency/LeadRouter/internal/scoring"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// ItemError is a per-lead failure inside a batch run.
type ItemError struct {
	LeadID     string      `json:"lead_id"`
	ProposalID string      `json:"proposal_id,omitempty"`
	Kind       apperr.Kind `json:"kind"`
	Error      string      `json:"error"`
}

// CommitReport summarizes a commit or rescore run. Errors never abort the run.
type CommitReport struct {
	Tenant   string      `json:"tenant"`
	Created  int         `json:"created"`
	Rescored int         `json:"rescored"`
	Skipped  int         `json:"skipped"`
	Closed   int         `json:"closed"`
	Errors   []ItemError `json:"errors"`
}

type RankedAgent struct {
	AgentID   string               `json:"agent_id"`
	AgentName string               `json:"agent_name"`
	Score     float64              `json:"score"`
	Breakdown store.ScoreBreakdown `json:"breakdown"`
}

// PreviewRow is one ephemeral pipeline result.
type PreviewRow struct {
	Lead         *store.Lead         `json:"lead"`
	RankedAgents []RankedAgent       `json:"ranked_agents"`
	Winner       *RankedAgent        `json:"winner,omitempty"`
	Summary      string              `json:"summary,omitempty"`
	Reasons      []store.Reason      `json:"reasons,omitempty"`
	Alternatives []store.Alternative `json:"alternatives,omitempty"`
	Excluded     []Exclusion         `json:"excluded,omitempty"`
	NoEligible   bool                `json:"no_eligible"`
}

// runContext is the consistent snapshot one pipeline run reads from.
type runContext struct {
	tenant     string
	config     *store.RoutingConfig
	candidates []scoring.Candidate
	population *scoring.Population
	now        time.Time
}

// leadEvaluation is the pipeline output for one lead.
type leadEvaluation struct {
	eval     *proposal.Evaluation
	excluded []Exclusion
}

// prepare resolves and validates the tenant config, then snapshots the
// roster and its capacity counters.
func (b *Broker) prepare(ctx context.Context, tenant string) (*runContext, error) {
	rc, err := b.RoutingConfig(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if err := scoring.ValidateConfig(&rc.KPI); err != nil {
		return nil, err
	}

	agents, err := b.provider.ListAgents(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	snap, err := b.tracker.Snapshot(ctx, tenant, ids)
	if err != nil {
		return nil, fmt.Errorf("capacity snapshot: %w", err)
	}

	now := b.now().UTC()
	candidates := make([]scoring.Candidate, len(agents))
	for i, a := range agents {
		candidates[i] = scoring.Candidate{
			Agent:    a,
			Counts:   snap.CountsFor(a.ID),
			Excluded: snap.IsUnavailable(a.ID),
		}
	}
	return &runContext{
		tenant:     tenant,
		config:     rc,
		candidates: candidates,
		population: scoring.NewPopulation(agents, &rc.KPI, now),
		now:        now,
	}, nil
}

// evaluate runs filter, scoring and ranking for one lead. Excluded agents
// are scored only when withIneligible is set, for overrides.
func (b *Broker) evaluate(rc *runContext, lead *store.Lead, withIneligible bool) *leadEvaluation {
	eligible, excluded := Filter(rc.candidates, rc.config.Capacity)

	results := make([]scoring.Result, 0, len(eligible))
	for _, c := range eligible {
		results = append(results, b.scorer.ScoreCandidate(b.scoringContext(rc, lead, c)))
	}

	eval := &proposal.Evaluation{
		Tenant:      rc.tenant,
		Lead:        lead,
		Ranked:      scoring.Rank(results),
		TopN:        b.cfg.Routing.AlternativesTopN,
		EvaluatedAt: rc.now,
	}
	if withIneligible && len(excluded) > 0 {
		skip := make(map[string]bool, len(excluded))
		for _, e := range excluded {
			skip[e.AgentID] = true
		}
		for _, c := range rc.candidates {
			if skip[c.Agent.ID] {
				eval.Ineligible = append(eval.Ineligible, b.scorer.ScoreCandidate(b.scoringContext(rc, lead, c)))
			}
		}
	}
	return &leadEvaluation{eval: eval, excluded: excluded}
}

func (b *Broker) scoringContext(rc *runContext, lead *store.Lead, c scoring.Candidate) *scoring.ScoringContext {
	return &scoring.ScoringContext{
		Lead:       lead,
		Candidate:  c,
		Config:     &rc.config.KPI,
		Limits:     rc.config.Capacity,
		Population: rc.population,
		Now:        rc.now,
	}
}

// RunCommit creates proposals for unassigned leads and rescores pending ones
// whose inputs changed. Configuration and infrastructure errors abort the
// run; per-lead failures land in the report.
func (b *Broker) RunCommit(ctx context.Context, tenant string) (*CommitReport, error) {
	start := time.Now()
	defer func() { metrics.PipelineDuration.WithLabelValues(metrics.ModeCommit).Observe(time.Since(start).Seconds()) }()

	rc, err := b.prepare(ctx, tenant)
	if err != nil {
		return nil, err
	}
	leads, err := b.provider.ListLeads(ctx, tenant, b.cfg.Routing.BoardID)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}

	report := &CommitReport{Tenant: tenant, Errors: []ItemError{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers())
	for _, lead := range leads {
		g.Go(func() error {
			outcome, itemErr, err := b.commitLead(gctx, rc, lead)
			if err != nil {
				return err
			}
			mu.Lock()
			report.add(outcome, itemErr)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Errors, func(i, j int) bool { return report.Errors[i].LeadID < report.Errors[j].LeadID })
	b.logger.Info("commit run finished", "tenant", tenant, "leads", len(leads), "created", report.Created,
		"rescored", report.Rescored, "skipped", report.Skipped, "errors", len(report.Errors))
	return report, nil
}

type leadOutcome int

const (
	outcomeNone leadOutcome = iota
	outcomeCreated
	outcomeRescored
	outcomeSkipped
	outcomeClosed
)

// SweepActor is recorded when the rescore sweep closes a proposal whose lead
// was assigned outside the engine or deleted.
const SweepActor = "system:rescore"

func (r *CommitReport) add(outcome leadOutcome, itemErr *ItemError) {
	switch outcome {
	case outcomeCreated:
		r.Created++
	case outcomeRescored:
		r.Rescored++
	case outcomeSkipped:
		r.Skipped++
	case outcomeClosed:
		r.Closed++
	}
	if itemErr != nil {
		r.Errors = append(r.Errors, *itemErr)
	}
}

func (b *Broker) commitLead(ctx context.Context, rc *runContext, lead *store.Lead) (leadOutcome, *ItemError, error) {
	existing, err := b.store.GetOpenProposalForLead(ctx, rc.tenant, lead.ID)
	if err != nil {
		return outcomeNone, nil, fmt.Errorf("get open proposal: %w", err)
	}

	if existing != nil {
		// Only mapped-field changes move a pending proposal; scores drifting
		// with the clock do not.
		if existing.Status != store.StatusPending || len(proposal.Diff(existing.LeadSnapshot, lead.MappedFields())) == 0 {
			return outcomeSkipped, nil, nil
		}
		le := b.evaluate(rc, lead, false)
		_, changed, err := b.manager.Rescore(ctx, existing.ID, existing.Version, le.eval)
		if err != nil {
			return b.leadFailure(rc, lead, existing.ID.String(), le, err)
		}
		if changed {
			return outcomeRescored, nil, nil
		}
		return outcomeSkipped, nil, nil
	}

	le := b.evaluate(rc, lead, false)
	if _, err := b.manager.Propose(ctx, le.eval); err != nil {
		if errors.Is(err, store.ErrOpenProposalExists) {
			return outcomeSkipped, nil, nil
		}
		return b.leadFailure(rc, lead, "", le, err)
	}
	return outcomeCreated, nil, nil
}

// leadFailure turns a typed per-lead error into a report item and passes
// anything else up as fatal.
func (b *Broker) leadFailure(rc *runContext, lead *store.Lead, proposalID string, le *leadEvaluation, err error) (leadOutcome, *ItemError, error) {
	kind := apperr.GetKind(err)
	if kind == apperr.KindUnknown || kind == apperr.KindInternal {
		return outcomeNone, nil, err
	}
	if kind == apperr.KindNoEligibleAgents {
		b.unmatched(rc.tenant, lead, le.excluded)
	}
	return outcomeNone, &ItemError{LeadID: lead.ID, ProposalID: proposalID, Kind: kind, Error: err.Error()}, nil
}

func (b *Broker) unmatched(tenant string, lead *store.Lead, excluded []Exclusion) {
	metrics.LeadsUnmatched.WithLabelValues(tenant).Inc()
	ids := make([]string, len(excluded))
	for i, e := range excluded {
		ids[i] = e.AgentID
	}
	if err := b.hermes.Publish(hermes.SubjectLeadUnmatched(lead.ID), hermes.LeadUnmatchedEvent{
		Tenant:   tenant,
		LeadID:   lead.ID,
		Reason:   apperr.KindNoEligibleAgents.String(),
		Excluded: ids,
	}); err != nil {
		b.logger.Warn("failed to publish unmatched lead", "lead_id", lead.ID, "error", err)
	}
	b.logger.Warn("no eligible agents", "tenant", tenant, "lead_id", lead.ID, "excluded", len(excluded))
}

// RunPreview evaluates up to limit leads without touching proposals,
// counters or the CRM. Cancelling ctx stops the run and returns ctx.Err().
func (b *Broker) RunPreview(ctx context.Context, tenant string, limit int) ([]PreviewRow, error) {
	start := time.Now()
	defer func() { metrics.PipelineDuration.WithLabelValues(metrics.ModePreview).Observe(time.Since(start).Seconds()) }()

	limit = b.previewLimit(limit)
	rc, err := b.prepare(ctx, tenant)
	if err != nil {
		return nil, err
	}
	leads, err := b.provider.ListLeads(ctx, tenant, b.cfg.Routing.BoardID)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	if len(leads) > limit {
		leads = leads[:limit]
	}

	rows := make([]PreviewRow, len(leads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers())
	for i, lead := range leads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i] = previewRow(b.evaluate(rc, lead, false))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metrics.PreviewRows.WithLabelValues(tenant).Add(float64(len(rows)))
	return rows, nil
}

func previewRow(le *leadEvaluation) PreviewRow {
	row := PreviewRow{
		Lead:         le.eval.Lead,
		RankedAgents: make([]RankedAgent, len(le.eval.Ranked)),
		Excluded:     le.excluded,
	}
	for i, r := range le.eval.Ranked {
		row.RankedAgents[i] = RankedAgent{AgentID: r.AgentID, AgentName: r.AgentName, Score: r.Score, Breakdown: r.Breakdown}
	}
	winner, ok := le.eval.Winner()
	if !ok {
		row.NoEligible = true
		return row
	}
	exp := scoring.Explain(winner, le.eval.Ranked, le.eval.TopN)
	row.Winner = &row.RankedAgents[0]
	row.Summary = exp.Summary
	row.Reasons = exp.Reasons
	row.Alternatives = exp.Alternatives
	return row
}

// RescorePending re-evaluates PENDING proposals whose lead changed since
// they were last scored.
func (b *Broker) RescorePending(ctx context.Context, tenant string) (*CommitReport, error) {
	start := time.Now()
	defer func() { metrics.PipelineDuration.WithLabelValues(metrics.ModeRescore).Observe(time.Since(start).Seconds()) }()

	pending, err := b.store.ListProposals(ctx, store.ProposalFilter{
		Tenant:   tenant,
		Statuses: []store.ProposalStatus{store.StatusPending},
		Limit:    maxSweep,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending proposals: %w", err)
	}
	report := &CommitReport{Tenant: tenant, Errors: []ItemError{}}
	if len(pending) == 0 {
		return report, nil
	}

	rc, err := b.prepare(ctx, tenant)
	if err != nil {
		return nil, err
	}

	for _, p := range pending {
		changed, err := b.provider.LeadChangedSince(ctx, tenant, p.LeadID, p.EvaluatedAt)
		if err != nil {
			return nil, fmt.Errorf("lead changed since: %w", err)
		}
		if !changed {
			report.Skipped++
			continue
		}
		outcome, itemErr, err := b.rescoreProposal(ctx, rc, p)
		if err != nil {
			return nil, err
		}
		report.add(outcome, itemErr)
	}

	if report.Rescored > 0 || report.Closed > 0 || len(report.Errors) > 0 {
		b.logger.Info("rescore sweep finished", "tenant", tenant, "pending", len(pending),
			"rescored", report.Rescored, "closed", report.Closed, "errors", len(report.Errors))
	}
	return report, nil
}

// RescoreLead re-evaluates the lead's PENDING proposal, if any.
func (b *Broker) RescoreLead(ctx context.Context, tenant, leadID string) (bool, error) {
	p, err := b.store.GetOpenProposalForLead(ctx, tenant, leadID)
	if err != nil {
		return false, fmt.Errorf("get open proposal: %w", err)
	}
	if p == nil || p.Status != store.StatusPending {
		return false, nil
	}
	rc, err := b.prepare(ctx, tenant)
	if err != nil {
		return false, err
	}
	outcome, itemErr, err := b.rescoreProposal(ctx, rc, p)
	if err != nil {
		return false, err
	}
	if itemErr != nil {
		return false, apperr.New(itemErr.Kind, itemErr.Error)
	}
	return outcome == outcomeRescored, nil
}

func (b *Broker) rescoreProposal(ctx context.Context, rc *runContext, p *store.Proposal) (leadOutcome, *ItemError, error) {
	lead, err := b.provider.GetLead(ctx, rc.tenant, p.LeadID)
	if err != nil {
		return outcomeNone, nil, fmt.Errorf("get lead: %w", err)
	}
	if lead == nil || !lead.Unassigned() {
		return b.closeOrphan(ctx, p, lead)
	}
	le := b.evaluate(rc, lead, false)
	_, changed, err := b.manager.Rescore(ctx, p.ID, p.Version, le.eval)
	if err != nil {
		return b.leadFailure(rc, lead, p.ID.String(), le, err)
	}
	if changed {
		return outcomeRescored, nil, nil
	}
	return outcomeSkipped, nil, nil
}

// closeOrphan rejects a pending proposal whose lead was deleted or assigned
// outside the engine, freeing the lead for a future proposal.
func (b *Broker) closeOrphan(ctx context.Context, p *store.Proposal, lead *store.Lead) (leadOutcome, *ItemError, error) {
	reason := "lead no longer exists"
	if lead != nil {
		reason = "lead assigned to " + lead.AssignedAgentID + " outside routing"
	}
	version := p.Version
	_, err := b.manager.Reject(ctx, p.ID, proposal.ActionRequest{Actor: SweepActor, ExpectedVersion: &version, Reason: reason})
	if err != nil {
		kind := apperr.GetKind(err)
		if kind == apperr.KindUnknown || kind == apperr.KindInternal {
			return outcomeNone, nil, err
		}
		return outcomeNone, &ItemError{LeadID: p.LeadID, ProposalID: p.ID.String(), Kind: kind, Error: err.Error()}, nil
	}
	b.logger.Info("closed orphaned proposal", "proposal_id", p.ID, "lead_id", p.LeadID, "reason", reason)
	return outcomeClosed, nil, nil
}

func (b *Broker) workers() int {
	if b.cfg.Routing.Workers <= 0 {
		return 1
	}
	return b.cfg.Routing.Workers
}

func (b *Broker) previewLimit(limit int) int {
	if limit <= 0 {
		limit = b.cfg.Routing.PreviewLimit
	}
	if max := b.cfg.Routing.MaxPreviewLimit; max > 0 && limit > max {
		limit = max
	}
	return limit
}
