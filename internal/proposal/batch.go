package proposal

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/LeadRouter/internal/apperr"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

const (
	defaultBatchSize = 100
	maxBatchSize     = 1000
)

// Batch item outcomes.
const (
	OutcomeApplied = "APPLIED"
	OutcomeFailed  = "FAILED"
)

type BatchItem struct {
	ID      uuid.UUID   `json:"id"`
	LeadID  string      `json:"lead_id"`
	Outcome string      `json:"outcome"`
	Kind    apperr.Kind `json:"error_kind,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// BatchResult reports every item of an approve-all run. Item failures never
// abort the batch.
type BatchResult struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failures  int         `json:"failures"`
	Items     []BatchItem `json:"items"`
}

// ApproveAll approves up to maxTotal proposals in the given status, oldest
// first, each at the version it was listed with. status defaults to PENDING;
// APPROVED retries stuck write-backs.
func (m *Manager) ApproveAll(ctx context.Context, tenant string, status store.ProposalStatus, maxTotal int, actor string) (*BatchResult, error) {
	if status == "" {
		status = store.StatusPending
	}
	if !status.Open() {
		return nil, apperr.Validation(fmt.Sprintf("cannot approve proposals in status %s", status))
	}
	if maxTotal <= 0 {
		maxTotal = defaultBatchSize
	}
	if maxTotal > maxBatchSize {
		maxTotal = maxBatchSize
	}

	proposals, err := m.store.ListProposals(ctx, store.ProposalFilter{
		Tenant:   tenant,
		Statuses: []store.ProposalStatus{status},
		Limit:    maxTotal,
	})
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}

	result := &BatchResult{Items: make([]BatchItem, 0, len(proposals))}
	for _, p := range proposals {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		item := BatchItem{ID: p.ID, LeadID: p.LeadID, Outcome: OutcomeApplied}
		version := p.Version
		if _, err := m.Approve(ctx, p.ID, ActionRequest{Actor: actor, ExpectedVersion: &version}); err != nil {
			item.Outcome = OutcomeFailed
			item.Kind = apperr.GetKind(err)
			item.Error = err.Error()
			result.Failures++
		} else {
			result.Succeeded++
		}
		result.Processed++
		result.Items = append(result.Items, item)
	}

	m.logger.Info("approve-all finished", "tenant", tenant, "processed", result.Processed,
		"succeeded", result.Succeeded, "failures", result.Failures)
	return result, nil
}
