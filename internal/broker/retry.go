package broker

import (
	"context"

	"github.com/MikeSquared-Agency/LeadRouter/internal/apperr"
	"github.com/MikeSquared-Agency/LeadRouter/internal/proposal"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// RetryActor is recorded on events produced by the write-back retry loop.
const RetryActor = "system:retry"

func (b *Broker) retryTick(ctx context.Context) {
	for _, tenant := range b.cfg.Routing.Tenants {
		if _, err := b.RetryWriteBacks(ctx, tenant); err != nil {
			b.logger.Error("write-back retry failed", "tenant", tenant, "error", err)
		}
	}
}

// RetryWriteBacks repeats the write-back for APPROVED proposals that have
// been waiting longer than the configured retry delay. It returns how many
// were applied.
func (b *Broker) RetryWriteBacks(ctx context.Context, tenant string) (int, error) {
	approved, err := b.store.ListProposals(ctx, store.ProposalFilter{
		Tenant:   tenant,
		Statuses: []store.ProposalStatus{store.StatusApproved},
		Limit:    maxSweep,
	})
	if err != nil {
		return 0, err
	}

	cutoff := b.now().Add(-b.cfg.RetryAfter())
	applied := 0
	for _, p := range approved {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		if p.UpdatedAt.After(cutoff) {
			continue
		}
		version := p.Version
		_, err := b.manager.Approve(ctx, p.ID, proposal.ActionRequest{Actor: RetryActor, ExpectedVersion: &version})
		switch {
		case err == nil:
			applied++
		case apperr.Is(err, apperr.KindWriteBack):
			b.logger.Warn("write-back still failing", "proposal_id", p.ID, "lead_id", p.LeadID, "error", err)
		case apperr.Is(err, apperr.KindConflict), apperr.Is(err, apperr.KindTerminal):
			// a user acted on it since the listing
		default:
			return applied, err
		}
	}
	if applied > 0 {
		b.logger.Info("write-back retries applied", "tenant", tenant, "applied", applied)
	}
	return applied, nil
}
