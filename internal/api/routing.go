package api

import (
	"log/slog"
	"net/http"

	"github.com/MikeSquared-Agency/LeadRouter/internal/broker"
)

// RoutingHandler runs the pipeline on demand.
type RoutingHandler struct {
	broker *broker.Broker
	logger *slog.Logger
}

func NewRoutingHandler(b *broker.Broker, logger *slog.Logger) *RoutingHandler {
	return &RoutingHandler{broker: b, logger: logger}
}

// Preview scores leads without persisting anything.
// GET /api/v1/routing/preview?limit=N
func (h *RoutingHandler) Preview(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	rows, err := h.broker.RunPreview(r.Context(), tenantFrom(r), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"count": len(rows), "rows": rows})
}

// POST /api/v1/routing/commit
func (h *RoutingHandler) Commit(w http.ResponseWriter, r *http.Request) {
	report, err := h.broker.RunCommit(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /api/v1/routing/rescore
func (h *RoutingHandler) Rescore(w http.ResponseWriter, r *http.Request) {
	report, err := h.broker.RescorePending(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
