// Package broker runs the routing pipeline: it reads CRM snapshots, filters
// and scores agents, and hands the ranking to the proposal manager.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/LeadRouter/internal/apperr"
	"github.com/MikeSquared-Agency/LeadRouter/internal/capacity"
	"github.com/MikeSquared-Agency/LeadRouter/internal/config"
	"github.com/MikeSquared-Agency/LeadRouter/internal/crm"
	"github.com/MikeSquared-Agency/LeadRouter/internal/hermes"
	"github.com/MikeSquared-Agency/LeadRouter/internal/proposal"
	"github.com/MikeSquared-Agency/LeadRouter/internal/scoring"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
	"github.com/MikeSquared-Agency/LeadRouter/internal/validate"
)

// maxSweep bounds how many proposals one background sweep touches.
const maxSweep = 1000

type Broker struct {
	store    store.Store
	provider crm.SnapshotProvider
	manager  *proposal.Manager
	tracker  *capacity.Tracker
	hermes   hermes.Client
	scorer   *scoring.Scorer
	cfg      *config.Config
	logger   *slog.Logger
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(s store.Store, provider crm.SnapshotProvider, mgr *proposal.Manager, tracker *capacity.Tracker, h hermes.Client, cfg *config.Config, logger *slog.Logger) *Broker {
	if h == nil {
		h = hermes.NopClient{}
	}
	return &Broker{
		store:    s,
		provider: provider,
		manager:  mgr,
		tracker:  tracker,
		hermes:   h,
		scorer:   scoring.NewScorer(logger),
		cfg:      cfg,
		logger:   logger.With("component", "broker"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// SetClock overrides the time source used for evaluation timestamps.
func (b *Broker) SetClock(now func() time.Time) {
	b.now = now
}

// Manager exposes the proposal manager for handlers that act on proposals directly.
func (b *Broker) Manager() *proposal.Manager {
	return b.manager
}

// Start launches the background loops. The commit loop only runs when
// auto-commit is enabled.
func (b *Broker) Start(ctx context.Context) {
	b.wg.Add(2)
	go b.loop(ctx, "rescore", b.cfg.RescoreInterval(), b.rescoreTick)
	go b.loop(ctx, "retry", b.cfg.RetryInterval(), b.retryTick)
	if b.cfg.Routing.AutoCommit {
		b.wg.Add(1)
		go b.loop(ctx, "commit", b.cfg.TickInterval(), b.commitTick)
	}
}

func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

func (b *Broker) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.logger.Info("loop started", "loop", name, "interval", interval)
	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (b *Broker) commitTick(ctx context.Context) {
	for _, tenant := range b.cfg.Routing.Tenants {
		if _, err := b.RunCommit(ctx, tenant); err != nil {
			b.logger.Error("commit run failed", "tenant", tenant, "error", err)
			continue
		}
		b.publishStats(ctx, tenant)
	}
}

func (b *Broker) rescoreTick(ctx context.Context) {
	for _, tenant := range b.cfg.Routing.Tenants {
		if _, err := b.RescorePending(ctx, tenant); err != nil {
			b.logger.Error("rescore sweep failed", "tenant", tenant, "error", err)
		}
	}
}

func (b *Broker) publishStats(ctx context.Context, tenant string) {
	stats, err := b.store.GetProposalStats(ctx, tenant)
	if err != nil {
		b.logger.Warn("failed to load proposal stats", "tenant", tenant, "error", err)
		return
	}
	if err := b.hermes.Publish(hermes.SubjectRoutingStats, hermes.StatsEvent{
		Tenant:    tenant,
		Pending:   stats.TotalPending,
		Approved:  stats.TotalApproved,
		Applied:   stats.TotalApplied,
		Rejected:  stats.TotalRejected,
		Rescored:  stats.TotalRescored,
		Timestamp: b.now().UTC(),
	}); err != nil {
		b.logger.Warn("failed to publish routing stats", "tenant", tenant, "error", err)
	}
}

// RoutingConfig returns the tenant's stored config, or the configured
// default when none is stored.
func (b *Broker) RoutingConfig(ctx context.Context, tenant string) (*store.RoutingConfig, error) {
	rc, err := b.store.GetRoutingConfig(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("get routing config: %w", err)
	}
	if rc == nil {
		return b.cfg.DefaultRoutingConfig(tenant), nil
	}
	return rc, nil
}

// SaveRoutingConfig validates and persists a tenant's routing config.
func (b *Broker) SaveRoutingConfig(ctx context.Context, rc *store.RoutingConfig) error {
	fieldErrs, err := validate.Struct(rc)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "validate routing config", err)
	}
	if len(fieldErrs) > 0 {
		return apperr.Validation(validate.Summary(fieldErrs)).WithDetails(fieldErrs)
	}
	if err := scoring.ValidateConfig(&rc.KPI); err != nil {
		return err
	}
	if err := b.store.SaveRoutingConfig(ctx, rc); err != nil {
		return fmt.Errorf("save routing config: %w", err)
	}
	b.logger.Info("routing config saved", "tenant", rc.Tenant, "version", rc.Version)
	return nil
}

// SetupSubscriptions rescores pending proposals when the CRM reports a lead change.
func (b *Broker) SetupSubscriptions() error {
	return b.hermes.QueueSubscribe(hermes.SubjectLeadChanged, b.cfg.Hermes.Queue, func(subject string, data []byte) {
		tenant, leadID, ok := hermes.ParseLeadChangedSubject(subject)
		if !ok {
			var evt hermes.LeadChangedEvent
			if err := json.Unmarshal(data, &evt); err != nil || evt.LeadID == "" {
				b.logger.Warn("invalid lead changed event", "subject", subject)
				return
			}
			tenant, leadID = evt.Tenant, evt.LeadID
		}
		changed, err := b.RescoreLead(context.Background(), tenant, leadID)
		if err != nil {
			b.logger.Warn("rescore on lead change failed", "tenant", tenant, "lead_id", leadID, "error", err)
			return
		}
		if changed {
			b.logger.Info("lead change rescored proposal", "tenant", tenant, "lead_id", leadID)
		}
	})
}

// Override reassigns a proposal after checking the target is neither
// unavailable nor manually excluded. Capacity limits do not block an override.
func (b *Broker) Override(ctx context.Context, id uuid.UUID, agentID string, req proposal.ActionRequest) (*store.Proposal, error) {
	p, err := b.manager.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return p, apperr.Wrap(apperr.KindTerminal, "proposal is "+string(p.Status), proposal.ErrTerminal)
	}

	rc, err := b.prepare(ctx, p.Tenant)
	if err != nil {
		return nil, err
	}
	var target *scoring.Candidate
	for i := range rc.candidates {
		if rc.candidates[i].Agent.ID == agentID {
			target = &rc.candidates[i]
			break
		}
	}
	if target == nil {
		return nil, apperr.Validation("agent " + agentID + " is not in the roster").WithOp("broker.Override")
	}
	if !target.Agent.Available {
		return nil, apperr.Validation("agent " + agentID + " is unavailable").WithOp("broker.Override")
	}
	if target.Excluded {
		return nil, apperr.Validation("agent " + agentID + " is manually excluded").WithOp("broker.Override")
	}

	lead, err := b.provider.GetLead(ctx, p.Tenant, p.LeadID)
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	if lead == nil {
		return nil, apperr.NotFound("lead " + p.LeadID + " not found").WithOp("broker.Override")
	}

	le := b.evaluate(rc, lead, true)
	return b.manager.Override(ctx, id, agentID, req, le.eval)
}

// CapacityStatus reports counts and limits for every agent in the tenant.
func (b *Broker) CapacityStatus(ctx context.Context, tenant string) ([]capacity.AgentStatus, error) {
	rc, err := b.RoutingConfig(ctx, tenant)
	if err != nil {
		return nil, err
	}
	agents, err := b.provider.ListAgents(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return b.tracker.Status(ctx, tenant, agents, rc.Capacity)
}

func (b *Broker) SetAvailability(ctx context.Context, tenant, agentID string, available bool) error {
	return b.tracker.SetAvailability(ctx, tenant, agentID, available)
}

func (b *Broker) ResetCapacity(ctx context.Context, tenant, agentID string) error {
	return b.tracker.Reset(ctx, tenant, agentID)
}
