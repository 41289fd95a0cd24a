package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/MikeSquared-Agency/LeadRouter/internal/apperr"
	"github.com/MikeSquared-Agency/LeadRouter/internal/broker"
	"github.com/MikeSquared-Agency/LeadRouter/internal/proposal"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type ProposalsHandler struct {
	store  store.Store
	broker *broker.Broker
	logger *slog.Logger
}

func NewProposalsHandler(s store.Store, b *broker.Broker, logger *slog.Logger) *ProposalsHandler {
	return &ProposalsHandler{store: s, broker: b, logger: logger}
}

type ActionRequest struct {
	ExpectedVersion *int   `json:"expected_version,omitempty" validate:"omitempty,gte=1"`
	Reason          string `json:"reason,omitempty" validate:"max=500"`
}

type OverrideRequest struct {
	AgentID         string `json:"agent_id" validate:"required"`
	ExpectedVersion *int   `json:"expected_version,omitempty" validate:"omitempty,gte=1"`
	Reason          string `json:"reason,omitempty" validate:"max=500"`
}

type ApproveAllRequest struct {
	Status   string `json:"status,omitempty"`
	MaxTotal int    `json:"max_total,omitempty" validate:"gte=0"`
}

// List returns proposals for the tenant.
// GET /api/v1/proposals?status=PENDING,APPROVED&lead_id=&agent_id=&limit=&offset=
func (h *ProposalsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ProposalFilter{
		Tenant:  tenantFrom(r),
		LeadID:  q.Get("lead_id"),
		AgentID: q.Get("agent_id"),
	}
	if s := q.Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			status, err := store.ParseProposalStatus(part)
			if err != nil {
				writeError(w, h.logger, apperr.Validation(err.Error()))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit", defaultListLimit); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if filter.Limit == 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, h.logger, err)
		return
	}

	proposals, err := h.store.ListProposals(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if proposals == nil {
		proposals = []*store.Proposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

// Get returns the proposal with its version as the ETag, for use in If-Match.
// GET /api/v1/proposals/{id}
func (h *ProposalsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := h.load(w, r)
	if !ok {
		return
	}
	w.Header().Set("ETag", versionETag(p.Version))
	writeJSON(w, http.StatusOK, p)
}

// Events returns the proposal's audit trail.
// GET /api/v1/proposals/{id}/events
func (h *ProposalsHandler) Events(w http.ResponseWriter, r *http.Request) {
	p, ok := h.load(w, r)
	if !ok {
		return
	}
	events, err := h.store.GetProposalEvents(r.Context(), p.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if events == nil {
		events = []*store.ProposalEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Explain returns the stored explanation for a proposal.
// GET /api/v1/proposals/{id}/explain
func (h *ProposalsHandler) Explain(w http.ResponseWriter, r *http.Request) {
	p, ok := h.load(w, r)
	if !ok {
		return
	}
	resp := map[string]interface{}{
		"proposal_id":  p.ID,
		"lead_id":      p.LeadID,
		"agent_id":     p.AgentID,
		"agent_name":   p.AgentName,
		"score":        p.Score,
		"summary":      p.Summary,
		"reasons":      p.Reasons,
		"breakdown":    p.Breakdown,
		"alternatives": p.Alternatives,
		"was_rescored": p.WasRescored,
	}
	if p.OriginalAgentID != "" {
		resp["original_agent_id"] = p.OriginalAgentID
	}
	if len(p.DataChanges) > 0 {
		resp["data_changes"] = p.DataChanges
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/v1/proposals/{id}/approve
func (h *ProposalsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	p, req, ok := h.action(w, r)
	if !ok {
		return
	}
	updated, err := h.broker.Manager().Approve(r.Context(), p.ID, req)
	h.respond(w, updated, err)
}

// POST /api/v1/proposals/{id}/reject
func (h *ProposalsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	p, req, ok := h.action(w, r)
	if !ok {
		return
	}
	updated, err := h.broker.Manager().Reject(r.Context(), p.ID, req)
	h.respond(w, updated, err)
}

// POST /api/v1/proposals/{id}/override
func (h *ProposalsHandler) Override(w http.ResponseWriter, r *http.Request) {
	p, ok := h.load(w, r)
	if !ok {
		return
	}
	var body OverrideRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	version, err := expectedVersion(r, body.ExpectedVersion)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	req := proposal.ActionRequest{Actor: actorFrom(r), ExpectedVersion: version, Reason: body.Reason}
	updated, err := h.broker.Override(r.Context(), p.ID, body.AgentID, req)
	h.respond(w, updated, err)
}

// ApproveAll approves open proposals in bulk, reporting per-item outcomes.
// POST /api/v1/proposals/approve-all
func (h *ProposalsHandler) ApproveAll(w http.ResponseWriter, r *http.Request) {
	var body ApproveAllRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	var status store.ProposalStatus
	if body.Status != "" {
		s, err := store.ParseProposalStatus(body.Status)
		if err != nil {
			writeError(w, h.logger, apperr.Validation(err.Error()))
			return
		}
		status = s
	}
	result, err := h.broker.Manager().ApproveAll(r.Context(), tenantFrom(r), status, body.MaxTotal, actorFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /api/v1/proposals/stats
func (h *ProposalsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetProposalStats(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// load fetches the proposal named in the path, hiding other tenants' proposals.
func (h *ProposalsHandler) load(w http.ResponseWriter, r *http.Request) (*store.Proposal, bool) {
	id, err := proposalID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	p, err := h.broker.Manager().Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	if p.Tenant != tenantFrom(r) {
		writeError(w, h.logger, apperr.NotFound("proposal not found"))
		return nil, false
	}
	return p, true
}

func (h *ProposalsHandler) action(w http.ResponseWriter, r *http.Request) (*store.Proposal, proposal.ActionRequest, bool) {
	p, ok := h.load(w, r)
	if !ok {
		return nil, proposal.ActionRequest{}, false
	}
	var body ActionRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.logger, err)
		return nil, proposal.ActionRequest{}, false
	}
	version, err := expectedVersion(r, body.ExpectedVersion)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, proposal.ActionRequest{}, false
	}
	return p, proposal.ActionRequest{Actor: actorFrom(r), ExpectedVersion: version, Reason: body.Reason}, true
}

// respond writes the proposal, or the error with the proposal's current
// state attached when the action left it readable.
func (h *ProposalsHandler) respond(w http.ResponseWriter, p *store.Proposal, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, p)
		return
	}
	if apperr.Is(err, apperr.KindWriteBack) && p != nil {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":    err.Error(),
			"kind":     apperr.KindWriteBack.String(),
			"proposal": p,
		})
		return
	}
	writeError(w, h.logger, err)
}
