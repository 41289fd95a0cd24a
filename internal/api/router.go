package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/LeadRouter/internal/broker"
	"github.com/MikeSquared-Agency/LeadRouter/internal/config"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

func NewRouter(s store.Store, b *broker.Broker, cfg config.ServerConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(cfg.RateLimitPerMinute))

	routing := NewRoutingHandler(b, logger)
	proposals := NewProposalsHandler(s, b, logger)
	admin := NewAdminHandler(b, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Get("/routing/preview", routing.Preview)
		r.Post("/routing/commit", routing.Commit)
		r.Post("/routing/rescore", routing.Rescore)

		r.Get("/proposals", proposals.List)
		r.Get("/proposals/stats", proposals.Stats)
		r.Post("/proposals/approve-all", proposals.ApproveAll)
		r.Get("/proposals/{id}", proposals.Get)
		r.Get("/proposals/{id}/events", proposals.Events)
		r.Get("/proposals/{id}/explain", proposals.Explain)
		r.Post("/proposals/{id}/approve", proposals.Approve)
		r.Post("/proposals/{id}/reject", proposals.Reject)
		r.Post("/proposals/{id}/override", proposals.Override)

		r.Get("/capacity", admin.Capacity)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminToken))
			r.Get("/admin/config", admin.GetConfig)
			r.Put("/admin/config", admin.PutConfig)
			r.Put("/admin/agents/{id}/availability", admin.SetAvailability)
			r.Post("/admin/agents/{id}/capacity/reset", admin.ResetCapacity)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
