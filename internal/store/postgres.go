package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const proposalColumns = `id, tenant, lead_id, board_id, status, version,
	score, agent_id, agent_name, summary, reasons, breakdown, alternatives,
	lead_snapshot, original_agent_id, acted_by,
	created_at, updated_at, evaluated_at, applied_at, applied_value,
	was_rescored, data_changes, data_changed_at, last_error`

func (s *PostgresStore) CreateProposal(ctx context.Context, p *Proposal) error {
	enc, err := encodeProposal(p)
	if err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO routing_proposals (id, tenant, lead_id, board_id, status, version,
			score, agent_id, agent_name, summary, reasons, breakdown, alternatives,
			lead_snapshot, original_agent_id, acted_by, evaluated_at,
			was_rescored, data_changes, data_changed_at, last_error)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING version, created_at, updated_at`,
		p.ID, p.Tenant, p.LeadID, p.BoardID, p.Status,
		p.Score, p.AgentID, p.AgentName, p.Summary, enc.reasons, enc.breakdown, enc.alternatives,
		enc.snapshot, nullString(p.OriginalAgentID), nullString(p.ActedBy), p.EvaluatedAt,
		p.WasRescored, enc.changes, p.DataChangedAt, nullString(p.LastError),
	).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrOpenProposalExists
	}
	return err
}

func (s *PostgresStore) GetProposal(ctx context.Context, id uuid.UUID) (*Proposal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM routing_proposals WHERE id = $1`, id)
	p, err := scanProposal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *PostgresStore) GetOpenProposalForLead(ctx context.Context, tenant, leadID string) (*Proposal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+proposalColumns+` FROM routing_proposals
		WHERE tenant = $1 AND lead_id = $2 AND status IN ('PENDING', 'APPROVED')`, tenant, leadID)
	p, err := scanProposal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *PostgresStore) ListProposals(ctx context.Context, filter ProposalFilter) ([]*Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM routing_proposals WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.Tenant != "" {
		n++
		query += fmt.Sprintf(" AND tenant = $%d", n)
		args = append(args, filter.Tenant)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		n++
		query += fmt.Sprintf(" AND status = ANY($%d)", n)
		args = append(args, statuses)
	}
	if filter.LeadID != "" {
		n++
		query += fmt.Sprintf(" AND lead_id = $%d", n)
		args = append(args, filter.LeadID)
	}
	if filter.AgentID != "" {
		n++
		query += fmt.Sprintf(" AND agent_id = $%d", n)
		args = append(args, filter.AgentID)
	}

	query += " ORDER BY created_at ASC, id ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateProposal(ctx context.Context, p *Proposal, expectedVersion int) error {
	enc, err := encodeProposal(p)
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx, `
		UPDATE routing_proposals SET
			status = $3, version = version + 1,
			score = $4, agent_id = $5, agent_name = $6, summary = $7,
			reasons = $8, breakdown = $9, alternatives = $10, lead_snapshot = $11,
			original_agent_id = $12, acted_by = $13,
			evaluated_at = $14, applied_at = $15, applied_value = $16,
			was_rescored = $17, data_changes = $18, data_changed_at = $19,
			last_error = $20, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		p.ID, expectedVersion,
		p.Status,
		p.Score, p.AgentID, p.AgentName, p.Summary,
		enc.reasons, enc.breakdown, enc.alternatives, enc.snapshot,
		nullString(p.OriginalAgentID), nullString(p.ActedBy),
		p.EvaluatedAt, p.AppliedAt, nullString(p.AppliedValue),
		p.WasRescored, enc.changes, p.DataChangedAt,
		nullString(p.LastError),
	).Scan(&p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	return err
}

func (s *PostgresStore) CreateProposalEvent(ctx context.Context, event *ProposalEvent) error {
	payloadJSON, _ := json.Marshal(event.Payload)
	return s.pool.QueryRow(ctx, `
		INSERT INTO routing_proposal_events (proposal_id, event, actor, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		event.ProposalID, event.Event, event.Actor, payloadJSON,
	).Scan(&event.ID, &event.CreatedAt)
}

func (s *PostgresStore) GetProposalEvents(ctx context.Context, proposalID uuid.UUID) ([]*ProposalEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, proposal_id, event, actor, payload, created_at
		FROM routing_proposal_events WHERE proposal_id = $1
		ORDER BY created_at ASC, id ASC`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ProposalEvent
	for rows.Next() {
		e := &ProposalEvent{}
		var payloadJSON []byte
		if err := rows.Scan(&e.ID, &e.ProposalID, &e.Event, &e.Actor, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if payloadJSON != nil {
			_ = json.Unmarshal(payloadJSON, &e.Payload)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) GetProposalStats(ctx context.Context, tenant string) (*ProposalStats, error) {
	stats := &ProposalStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'PENDING' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'APPROVED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'APPLIED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'REJECTED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN was_rescored THEN 1 ELSE 0 END), 0)
		FROM routing_proposals WHERE ($1 = '' OR tenant = $1)`, tenant,
	).Scan(&stats.TotalPending, &stats.TotalApproved, &stats.TotalApplied, &stats.TotalRejected, &stats.TotalRescored)
	return stats, err
}

func (s *PostgresStore) GetRoutingConfig(ctx context.Context, tenant string) (*RoutingConfig, error) {
	cfg := &RoutingConfig{Tenant: tenant}
	var kpiJSON, capacityJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT kpi, capacity, version, updated_at
		FROM routing_configs WHERE tenant = $1`, tenant,
	).Scan(&kpiJSON, &capacityJSON, &cfg.Version, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(kpiJSON, &cfg.KPI); err != nil {
		return nil, fmt.Errorf("decode kpi config: %w", err)
	}
	if err := json.Unmarshal(capacityJSON, &cfg.Capacity); err != nil {
		return nil, fmt.Errorf("decode capacity settings: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) SaveRoutingConfig(ctx context.Context, cfg *RoutingConfig) error {
	kpiJSON, err := json.Marshal(cfg.KPI)
	if err != nil {
		return fmt.Errorf("encode kpi config: %w", err)
	}
	capacityJSON, err := json.Marshal(cfg.Capacity)
	if err != nil {
		return fmt.Errorf("encode capacity settings: %w", err)
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO routing_configs (tenant, kpi, capacity, version, updated_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (tenant) DO UPDATE SET
			kpi = EXCLUDED.kpi,
			capacity = EXCLUDED.capacity,
			version = routing_configs.version + 1,
			updated_at = now()
		RETURNING version, updated_at`,
		cfg.Tenant, kpiJSON, capacityJSON,
	).Scan(&cfg.Version, &cfg.UpdatedAt)
}

type encodedProposal struct {
	reasons, breakdown, alternatives, snapshot, changes []byte
}

func encodeProposal(p *Proposal) (encodedProposal, error) {
	var enc encodedProposal
	var err error
	if enc.reasons, err = json.Marshal(p.Reasons); err != nil {
		return enc, fmt.Errorf("encode reasons: %w", err)
	}
	if enc.breakdown, err = json.Marshal(p.Breakdown); err != nil {
		return enc, fmt.Errorf("encode breakdown: %w", err)
	}
	if enc.alternatives, err = json.Marshal(p.Alternatives); err != nil {
		return enc, fmt.Errorf("encode alternatives: %w", err)
	}
	if enc.snapshot, err = json.Marshal(p.LeadSnapshot); err != nil {
		return enc, fmt.Errorf("encode lead snapshot: %w", err)
	}
	if enc.changes, err = json.Marshal(p.DataChanges); err != nil {
		return enc, fmt.Errorf("encode data changes: %w", err)
	}
	return enc, nil
}

func scanProposal(row pgx.Row) (*Proposal, error) {
	p := &Proposal{}
	var reasons, breakdown, alternatives, snapshot, changes []byte
	var original, actedBy, appliedValue, lastError sql.NullString
	if err := row.Scan(
		&p.ID, &p.Tenant, &p.LeadID, &p.BoardID, &p.Status, &p.Version,
		&p.Score, &p.AgentID, &p.AgentName, &p.Summary, &reasons, &breakdown, &alternatives,
		&snapshot, &original, &actedBy,
		&p.CreatedAt, &p.UpdatedAt, &p.EvaluatedAt, &p.AppliedAt, &appliedValue,
		&p.WasRescored, &changes, &p.DataChangedAt, &lastError,
	); err != nil {
		return nil, err
	}
	p.OriginalAgentID = original.String
	p.ActedBy = actedBy.String
	p.AppliedValue = appliedValue.String
	p.LastError = lastError.String

	if reasons != nil {
		_ = json.Unmarshal(reasons, &p.Reasons)
	}
	if breakdown != nil {
		_ = json.Unmarshal(breakdown, &p.Breakdown)
	}
	if alternatives != nil {
		_ = json.Unmarshal(alternatives, &p.Alternatives)
	}
	if snapshot != nil {
		_ = json.Unmarshal(snapshot, &p.LeadSnapshot)
	}
	if changes != nil {
		_ = json.Unmarshal(changes, &p.DataChanges)
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
