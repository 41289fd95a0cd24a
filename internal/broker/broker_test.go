package broker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/LeadRouter/internal/apperr"
	"github.com/MikeSquared-Agency/LeadRouter/internal/capacity"
	"github.com/MikeSquared-Agency/LeadRouter/internal/config"
	"github.com/MikeSquared-Agency/LeadRouter/internal/crm"
	"github.com/MikeSquared-Agency/LeadRouter/internal/hermes"
	"github.com/MikeSquared-Agency/LeadRouter/internal/proposal"
	"github.com/MikeSquared-Agency/LeadRouter/internal/scoring"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// Mock implementations

type mockHermes struct {
	mu       sync.Mutex
	subjects []string
	handlers map[string]hermes.Handler
	err      error
}

func (h *mockHermes) Publish(subject string, _ interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subjects = append(h.subjects, subject)
	return h.err
}

func (h *mockHermes) QueueSubscribe(subject, _ string, handler hermes.Handler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handlers == nil {
		h.handlers = make(map[string]hermes.Handler)
	}
	h.handlers[subject] = handler
	return nil
}

func (h *mockHermes) Close() {}

func (h *mockHermes) published(suffix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.subjects {
		if strings.HasSuffix(s, suffix) {
			n++
		}
	}
	return n
}

// flakySink fails write-backs until healed.
type flakySink struct {
	mu      sync.Mutex
	next    crm.WriteBackSink
	failing bool
	calls   int
}

func (s *flakySink) AssignLead(ctx context.Context, tenant, leadID, agentID string) error {
	s.mu.Lock()
	s.calls++
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return errors.New("crm unavailable")
	}
	return s.next.AssignLead(ctx, tenant, leadID, agentID)
}

type fixture struct {
	broker   *Broker
	store    *store.MemoryStore
	provider *crm.MemoryProvider
	sink     *flakySink
	tracker  *capacity.Tracker
	hermes   *mockHermes
	cfg      *config.Config
}

func disableAll(kpi *store.KPIConfig) {
	kpi.Domain.Enabled = false
	kpi.Conversion.Enabled = false
	kpi.RecentPerformance.Enabled = false
	kpi.DealSize.Enabled = false
	kpi.HotStreak.Enabled = false
	kpi.ResponseSpeed.Enabled = false
	kpi.Burnout.Enabled = false
	kpi.Availability.Enabled = false
	kpi.Workload.Enabled = false
}

func domainOnly() store.KPIConfig {
	kpi := scoring.DefaultKPIConfig()
	disableAll(&kpi)
	kpi.Domain.Enabled = true
	kpi.Domain.Weight = 100
	kpi.Domain.MinSampleSize = 0
	return kpi
}

func newFixture(t *testing.T, kpi store.KPIConfig, limits store.CapacitySettings) *fixture {
	t.Helper()
	cfg := &config.Config{
		Hermes: config.HermesConfig{Queue: "leadrouter"},
		Routing: config.RoutingConfig{
			Tenants:          []string{"acme"},
			Workers:          4,
			PreviewLimit:     50,
			MaxPreviewLimit:  500,
			AlternativesTopN: 3,
		},
		Scoring: config.ScoringConfig{KPI: kpi, Capacity: limits},
	}
	require.NoError(t, scoring.ValidateConfig(&cfg.Scoring.KPI))

	st := store.NewMemoryStore()
	provider := crm.NewMemoryProvider()
	sink := &flakySink{next: provider}
	h := &mockHermes{}
	tracker := capacity.NewTracker(capacity.NewMemoryCounterStore(), discardLogger())
	tracker.SetClock(func() time.Time { return testNow })
	mgr := proposal.NewManager(st, sink, tracker, h, time.Second, discardLogger())
	mgr.SetClock(func() time.Time { return testNow })

	b := New(st, provider, mgr, tracker, h, cfg, discardLogger())
	b.SetClock(func() time.Time { return testNow })
	return &fixture{broker: b, store: st, provider: provider, sink: sink, tracker: tracker, hermes: h, cfg: cfg}
}

func expert(id, industry string, rate float64, samples int) *store.Agent {
	return &store.Agent{
		ID:        id,
		Name:      "Agent " + id,
		Available: true,
		Expertise: map[string]store.IndustryStats{industry: {ConversionRate: rate, SampleSize: samples}},
	}
}

func lead(id, industry string) *store.Lead {
	return &store.Lead{ID: id, BoardID: "b1", Industry: industry, Status: "new", CreatedAt: testNow.Add(-time.Hour), UpdatedAt: testNow.Add(-time.Hour)}
}

func (f *fixture) assign(t *testing.T, agentID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.tracker.RecordAssignment(context.Background(), "acme", agentID)
		require.NoError(t, err)
	}
}

func intPtr(n int) *int { return &n }

func (f *fixture) setClock(now time.Time) {
	clock := func() time.Time { return now }
	f.broker.SetClock(clock)
	f.broker.Manager().SetClock(clock)
	f.tracker.SetClock(clock)
}

func TestCapacityExcludesAgentAtLimit(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{DailyLimit: intPtr(10)})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L1", "Tech")},
		Agents: []*store.Agent{expert("A", "Tech", 0.6, 10), expert("B", "Tech", 0.3, 10)},
	})
	f.assign(t, "A", 2)
	f.assign(t, "B", 10)

	rows, err := f.broker.RunPreview(context.Background(), "acme", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	require.NotNil(t, row.Winner)
	assert.Equal(t, "A", row.Winner.AgentID)
	require.Len(t, row.RankedAgents, 1, "B must not be scored")
	require.Len(t, row.Excluded, 1)
	assert.Equal(t, "B", row.Excluded[0].AgentID)
	assert.Equal(t, "daily limit reached (10/10)", row.Excluded[0].Reason)
}

func TestConversionOnlyCompositeIsWeightedRaw(t *testing.T) {
	kpi := scoring.DefaultKPIConfig()
	disableAll(&kpi)
	kpi.Conversion.Enabled = true
	kpi.Conversion.Weight = 40

	history := func(won, total int) []store.Outcome {
		out := make([]store.Outcome, total)
		for i := range out {
			out[i] = store.Outcome{LeadID: "h", AssignedAt: testNow.AddDate(0, -1, 0), Won: i < won}
		}
		return out
	}
	f := newFixture(t, kpi, store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads: []*store.Lead{lead("L1", "Tech")},
		Agents: []*store.Agent{
			{ID: "A", Name: "Agent A", Available: true, History: history(3, 5)},
			{ID: "B", Name: "Agent B", Available: true, History: history(1, 5)},
		},
	})

	rows, err := f.broker.RunPreview(context.Background(), "acme", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, rows[0].RankedAgents, 2)

	for _, ra := range rows[0].RankedAgents {
		require.Len(t, ra.Breakdown.Entries, 1)
		entry := ra.Breakdown.Entries[0]
		assert.Equal(t, store.KPIConversion, entry.Key)
		assert.InDelta(t, 0.4*entry.RawScore, ra.Score, 1e-6)
		assert.LessOrEqual(t, ra.Score, 40.0)
	}
	assert.InDelta(t, 40.0, rows[0].RankedAgents[0].Score, 1e-6)
}

func TestRescoreUpdatesPendingInPlace(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L2", "Retail")},
		Agents: []*store.Agent{expert("A", "Retail", 0.8, 10), expert("C", "Tech", 0.9, 10)},
	})
	ctx := context.Background()

	report, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)

	before, err := f.store.GetOpenProposalForLead(ctx, "acme", "L2")
	require.NoError(t, err)
	require.NotNil(t, before)
	assert.Equal(t, "A", before.AgentID)

	changed := lead("L2", "Tech")
	changed.UpdatedAt = testNow.Add(time.Minute)
	f.provider.UpsertLead("acme", changed)

	report, err = f.broker.RescorePending(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rescored)
	assert.Empty(t, report.Errors)

	after, err := f.store.GetProposal(ctx, before.ID)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, store.StatusPending, after.Status)
	assert.Equal(t, "C", after.AgentID)
	assert.True(t, after.WasRescored)
	require.Len(t, after.DataChanges, 1)
	assert.Equal(t, store.FieldChange{Field: "industry", Old: "Retail", New: "Tech"}, after.DataChanges[0])
	assert.Equal(t, 1, f.hermes.published(".rescored"))
}

func TestRescorePendingSkipsUnchangedLeads(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L1", "Tech")},
		Agents: []*store.Agent{expert("A", "Tech", 0.8, 10)},
	})
	ctx := context.Background()
	_, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)

	report, err := f.broker.RescorePending(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Rescored)
	assert.Equal(t, 1, report.Skipped)
}

func TestCommitIsIdempotent(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L1", "Tech"), lead("L2", "Tech"), lead("L3", "Retail")},
		Agents: []*store.Agent{expert("A", "Tech", 0.8, 10), expert("B", "Retail", 0.5, 4)},
	})
	ctx := context.Background()

	first, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, first.Created)

	second, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, second.Skipped)

	all, err := f.store.ListProposals(ctx, store.ProposalFilter{Tenant: "acme"})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, 0, f.sink.calls, "commit must not write back")
}

func TestCommitDoesNotRescoreAsTimePasses(t *testing.T) {
	kpi := scoring.DefaultKPIConfig()
	disableAll(&kpi)
	kpi.Burnout.Enabled = true
	kpi.Burnout.Weight = 100

	active := testNow.Add(-48 * time.Hour)
	agent := expert("A", "Tech", 0.8, 10)
	agent.LastActivityAt = &active

	f := newFixture(t, kpi, store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L1", "Tech")},
		Agents: []*store.Agent{agent},
	})
	ctx := context.Background()

	first, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)
	before, err := f.store.GetOpenProposalForLead(ctx, "acme", "L1")
	require.NoError(t, err)

	f.setClock(testNow.Add(time.Hour))
	rows, err := f.broker.RunPreview(ctx, "acme", 0)
	require.NoError(t, err)
	require.NotNil(t, rows[0].Winner)
	require.NotEqual(t, before.Score, rows[0].Winner.Score, "burnout should decay with the clock")

	second, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Rescored)
	assert.Equal(t, 1, second.Skipped)

	after, err := f.store.GetProposal(ctx, before.ID)
	require.NoError(t, err)
	assert.False(t, after.WasRescored)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Score, after.Score)
}

func TestCommitRescoresChangedLead(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L2", "Retail")},
		Agents: []*store.Agent{expert("A", "Retail", 0.8, 10), expert("C", "Tech", 0.9, 10)},
	})
	ctx := context.Background()
	_, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)

	f.provider.UpsertLead("acme", lead("L2", "Tech"))
	report, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rescored)

	p, err := f.store.GetOpenProposalForLead(ctx, "acme", "L2")
	require.NoError(t, err)
	assert.Equal(t, "C", p.AgentID)
	assert.Equal(t, []store.FieldChange{{Field: "industry", Old: "Retail", New: "Tech"}}, p.DataChanges)
}

func TestRescorePendingClosesOrphanedProposals(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L1", "Tech"), lead("L2", "Tech")},
		Agents: []*store.Agent{expert("A", "Tech", 0.8, 10)},
	})
	ctx := context.Background()
	_, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)

	// L1 was assigned by hand in the CRM and L2 was deleted.
	assigned := lead("L1", "Tech")
	assigned.AssignedAgentID = "Z"
	assigned.UpdatedAt = testNow.Add(time.Minute)
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{assigned},
		Agents: []*store.Agent{expert("A", "Tech", 0.8, 10)},
	})

	report, err := f.broker.RescorePending(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Closed)
	assert.Empty(t, report.Errors)

	closed, err := f.store.ListProposals(ctx, store.ProposalFilter{Tenant: "acme", Statuses: []store.ProposalStatus{store.StatusRejected}})
	require.NoError(t, err)
	require.Len(t, closed, 2)
	for _, p := range closed {
		assert.Equal(t, SweepActor, p.ActedBy)
	}
	assert.Equal(t, 0, f.sink.calls)
}

func TestCommitSkipsApprovedProposals(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L1", "Tech")},
		Agents: []*store.Agent{expert("A", "Tech", 0.8, 10)},
	})
	f.sink.failing = true
	ctx := context.Background()

	_, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)
	p, err := f.store.GetOpenProposalForLead(ctx, "acme", "L1")
	require.NoError(t, err)
	_, err = f.broker.Manager().Approve(ctx, p.ID, proposal.ActionRequest{Actor: "u1"})
	require.True(t, apperr.Is(err, apperr.KindWriteBack))

	report, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Created)
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L1", "Tech"), lead("L2", "Tech"), lead("L3", "Tech")},
		Agents: []*store.Agent{expert("A", "Tech", 0.8, 10), expert("B", "Tech", 0.4, 10)},
	})
	ctx := context.Background()

	rows, err := f.broker.RunPreview(ctx, "acme", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "L1", rows[0].Lead.ID)
	assert.NotEmpty(t, rows[0].Summary)
	require.Len(t, rows[0].Alternatives, 1)
	assert.Equal(t, "B", rows[0].Alternatives[0].AgentID)

	all, err := f.store.ListProposals(ctx, store.ProposalFilter{Tenant: "acme"})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 0, f.sink.calls)
	assert.Empty(t, f.hermes.subjects)

	counts, err := f.broker.CapacityStatus(ctx, "acme")
	require.NoError(t, err)
	for _, c := range counts {
		assert.Zero(t, c.Daily)
	}
}

func TestPreviewCancelled(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L1", "Tech")},
		Agents: []*store.Agent{expert("A", "Tech", 0.8, 10)},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.broker.RunPreview(ctx, "acme", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCommitReportsUnmatchedLeads(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	unavailable := expert("A", "Tech", 0.8, 10)
	unavailable.Available = false
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L1", "Tech")},
		Agents: []*store.Agent{unavailable, expert("B", "Tech", 0.5, 10)},
	})
	ctx := context.Background()
	require.NoError(t, f.broker.SetAvailability(ctx, "acme", "B", false))

	report, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "L1", report.Errors[0].LeadID)
	assert.Equal(t, apperr.KindNoEligibleAgents, report.Errors[0].Kind)
	assert.Equal(t, 1, f.hermes.published(".unmatched"))
}

func TestCommitRefusesInvalidConfig(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L1", "Tech")},
		Agents: []*store.Agent{expert("A", "Tech", 0.8, 10)},
	})
	ctx := context.Background()

	rc := f.cfg.DefaultRoutingConfig("acme")
	delete(rc.KPI.FieldMapping, "industry")
	require.NoError(t, f.store.SaveRoutingConfig(ctx, rc))

	_, err := f.broker.RunCommit(ctx, "acme")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))

	all, err := f.store.ListProposals(ctx, store.ProposalFilter{Tenant: "acme"})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSaveRoutingConfigValidates(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	ctx := context.Background()

	rc := f.cfg.DefaultRoutingConfig("acme")
	rc.KPI.Workload.Enabled = true
	rc.KPI.Workload.Weight = 10
	err := f.broker.SaveRoutingConfig(ctx, rc)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))

	rc = f.cfg.DefaultRoutingConfig("acme")
	rc.Capacity.DailyLimit = intPtr(5)
	require.NoError(t, f.broker.SaveRoutingConfig(ctx, rc))

	got, err := f.broker.RoutingConfig(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, got.Capacity.DailyLimit)
	assert.Equal(t, 5, *got.Capacity.DailyLimit)
}

func TestOverrideEligibility(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{DailyLimit: intPtr(1)})
	off := expert("D", "Tech", 0.9, 10)
	off.Available = false
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L1", "Tech")},
		Agents: []*store.Agent{expert("A", "Tech", 0.8, 10), expert("B", "Tech", 0.5, 10), expert("C", "Tech", 0.4, 10), off},
	})
	ctx := context.Background()
	f.assign(t, "B", 1)
	require.NoError(t, f.broker.SetAvailability(ctx, "acme", "C", false))

	_, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)
	p, err := f.store.GetOpenProposalForLead(ctx, "acme", "L1")
	require.NoError(t, err)
	require.Equal(t, "A", p.AgentID)

	_, err = f.broker.Override(ctx, p.ID, "D", proposal.ActionRequest{Actor: "u1"})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "unavailable agent")
	_, err = f.broker.Override(ctx, p.ID, "C", proposal.ActionRequest{Actor: "u1"})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "manually excluded agent")
	_, err = f.broker.Override(ctx, p.ID, "Z", proposal.ActionRequest{Actor: "u1"})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "unknown agent")

	// capacity does not block a manual override
	got, err := f.broker.Override(ctx, p.ID, "B", proposal.ActionRequest{Actor: "u1", Reason: "account owner"})
	require.NoError(t, err)
	assert.Equal(t, store.StatusApplied, got.Status)
	assert.Equal(t, "B", got.AgentID)
	assert.Equal(t, "A", got.OriginalAgentID)

	l, err := f.provider.GetLead(ctx, "acme", "L1")
	require.NoError(t, err)
	assert.Equal(t, "B", l.AssignedAgentID)
}

func TestRetryWriteBacks(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L1", "Tech")},
		Agents: []*store.Agent{expert("A", "Tech", 0.8, 10)},
	})
	ctx := context.Background()
	f.sink.failing = true

	_, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)
	p, err := f.store.GetOpenProposalForLead(ctx, "acme", "L1")
	require.NoError(t, err)
	_, err = f.broker.Manager().Approve(ctx, p.ID, proposal.ActionRequest{Actor: "u1"})
	require.Error(t, err)

	// still failing: proposal stays APPROVED
	f.broker.SetClock(func() time.Time { return time.Now().Add(time.Minute) })
	applied, err := f.broker.RetryWriteBacks(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	f.sink.failing = false
	applied, err = f.broker.RetryWriteBacks(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	got, err := f.store.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusApplied, got.Status)
	assert.Empty(t, got.LastError)
}

func TestLeadChangedSubscription(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	f.provider.Load("acme", &crm.Snapshot{
		Leads:  []*store.Lead{lead("L2", "Retail")},
		Agents: []*store.Agent{expert("A", "Retail", 0.8, 10), expert("C", "Tech", 0.9, 10)},
	})
	ctx := context.Background()
	require.NoError(t, f.broker.SetupSubscriptions())
	_, err := f.broker.RunCommit(ctx, "acme")
	require.NoError(t, err)

	f.provider.UpsertLead("acme", lead("L2", "Tech"))
	handler := f.hermes.handlers[hermes.SubjectLeadChanged]
	require.NotNil(t, handler)
	handler(hermes.SubjectLeadChangedFor("acme", "L2"), nil)

	p, err := f.store.GetOpenProposalForLead(ctx, "acme", "L2")
	require.NoError(t, err)
	assert.Equal(t, "C", p.AgentID)
	assert.True(t, p.WasRescored)
}

func TestPublishStatsLogsFailures(t *testing.T) {
	f := newFixture(t, domainOnly(), store.CapacitySettings{})
	var buf bytes.Buffer
	f.broker.logger = slog.New(slog.NewTextHandler(&buf, nil))
	f.hermes.err = errors.New("nats down")

	f.broker.publishStats(context.Background(), "acme")

	assert.Equal(t, 1, f.hermes.published(hermes.SubjectRoutingStats))
	assert.Contains(t, buf.String(), "failed to publish routing stats")
	assert.Contains(t, buf.String(), "nats down")
}
