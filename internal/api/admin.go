package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/LeadRouter/internal/broker"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// AdminHandler manages tenant routing config and agent capacity.
type AdminHandler struct {
	broker *broker.Broker
	logger *slog.Logger
}

func NewAdminHandler(b *broker.Broker, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{broker: b, logger: logger}
}

type ConfigRequest struct {
	KPI      store.KPIConfig        `json:"kpi"`
	Capacity store.CapacitySettings `json:"capacity"`
}

type AvailabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}

// GET /api/v1/admin/config
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	rc, err := h.broker.RoutingConfig(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// PutConfig replaces the tenant's routing config. Invalid weights or
// missing field mappings are rejected with 422.
// PUT /api/v1/admin/config
func (h *AdminHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var body ConfigRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if body.KPI.Version == 0 {
		body.KPI.Version = store.KPIConfigVersion
	}
	rc := &store.RoutingConfig{
		Tenant:   tenantFrom(r),
		KPI:      body.KPI,
		Capacity: body.Capacity,
	}
	if err := h.broker.SaveRoutingConfig(r.Context(), rc); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// Capacity is readable by any tenant user; only changes need the admin token.
// GET /api/v1/capacity
func (h *AdminHandler) Capacity(w http.ResponseWriter, r *http.Request) {
	status, err := h.broker.CapacityStatus(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SetAvailability manually includes or excludes an agent from routing.
// PUT /api/v1/admin/agents/{id}/availability
func (h *AdminHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	var body AvailabilityRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	agentID := chi.URLParam(r, "id")
	if err := h.broker.SetAvailability(r.Context(), tenantFrom(r), agentID, *body.Available); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agent_id": agentID, "available": *body.Available})
}

// POST /api/v1/admin/agents/{id}/capacity/reset
func (h *AdminHandler) ResetCapacity(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if err := h.broker.ResetCapacity(r.Context(), tenantFrom(r), agentID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "agent_id": agentID})
}
