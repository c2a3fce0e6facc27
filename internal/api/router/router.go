// Package router assembles the admin/ops HTTP surface: health,
// Prometheus metrics, and JWT-protected triage administration.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanebird/inbox-ai-platform/internal/http/handlers"
	"github.com/lanebird/inbox-ai-platform/internal/http/middleware"
	"github.com/lanebird/inbox-ai-platform/pkg/logging"
)

// Config carries the wired dependencies for the HTTP API.
type Config struct {
	AdminAuthSecret string
	Triage          *handlers.AdminTriageHandler
	MetricsHandler  http.Handler
	Logger          *logging.Logger
}

// New builds the chi router. Public routes are /health and /metrics;
// everything under /admin requires an HMAC-signed admin JWT.
func New(cfg Config) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	if cfg.Triage != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.AdminJWT(cfg.AdminAuthSecret))

			admin.Route("/deadletters", func(dl chi.Router) {
				dl.Get("/", cfg.Triage.ListDeadLetters)
				dl.Get("/{letterID}", cfg.Triage.GetDeadLetter)
				dl.Post("/{letterID}/requeue", cfg.Triage.RequeueDeadLetter)
				dl.Delete("/{letterID}", cfg.Triage.DeleteDeadLetter)
			})

			admin.Route("/workspaces/{workspaceID}", func(ws chi.Router) {
				ws.Get("/conversations/{conversationID}", cfg.Triage.GetConversation)
				ws.Get("/audit", cfg.Triage.QueryAuditTrail)
				ws.Post("/cache/invalidate", cfg.Triage.InvalidateWorkspaceCache)
			})
		})
	}

	return r
}
