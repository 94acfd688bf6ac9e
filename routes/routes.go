package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upb/agent-governance/app"
	"github.com/upb/agent-governance/handlers"
	"github.com/upb/agent-governance/internal/auth"
	govmw "github.com/upb/agent-governance/middleware"
	"github.com/upb/agent-governance/utils"
)

// RequestTimeout bounds ordinary API calls. Task dispatch waits on subagents
// and approvals, so it runs under DispatchTimeout instead.
const (
	RequestTimeout  = 60 * time.Second
	DispatchTimeout = 30 * time.Minute
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(govmw.RequestContext)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", govmw.RequestIDHeader},
		ExposedHeaders:   []string{govmw.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.SQLDB(), deps.Logger)
	for name, check := range deps.ReadinessChecks() {
		health.WithCheck(name, check)
	}
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)
	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	sessions := handlers.NewSessionHandler(deps.Sessions, deps.Logger)
	tasks := handlers.NewTaskHandler(deps.Orchestrator, deps.Sessions, deps.Logger)
	permissions := handlers.NewPermissionHandler(deps.Permissions, deps.Logger)
	auditLogs := handlers.NewAuditHandler(deps.Audit, deps.Sessions, deps.Logger)
	authn := deps.AuthMiddleware

	timeout := middleware.Timeout(RequestTimeout)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authn.RequireAuth)

		r.Route("/sessions", func(r chi.Router) {
			r.With(timeout, authn.RequireCapability(auth.CapSessionCreate)).Post("/", sessions.HandleCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.With(timeout, authn.RequireCapability(auth.CapSessionView)).Get("/", sessions.HandleGet)
				r.With(timeout, authn.RequireCapability(auth.CapSessionDelete)).Delete("/", sessions.HandleDelete)
				r.With(timeout, authn.RequireCapability(auth.CapSessionView)).Get("/children", sessions.HandleChildren)
				r.With(timeout, authn.RequireCapability(auth.CapSessionView)).Get("/audit", auditLogs.HandleSessionAudit)
				r.With(middleware.Timeout(DispatchTimeout), authn.RequireCapability(auth.CapAgentSpawn)).
					Post("/tasks", tasks.HandleDispatch)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(timeout)

			r.With(authn.RequireCapability(auth.CapAuditRead)).Get("/audit/logs", auditLogs.HandleList)

			r.Route("/permissions", func(r chi.Router) {
				r.Use(authn.RequireCapability(auth.CapPermissionReply))
				r.Get("/", permissions.HandleList)
				r.Post("/{id}/reply", permissions.HandleReply)
			})

			r.With(authn.RequireCapability(auth.CapSessionView)).Get("/agents", handlers.HandleListAgents(deps.Agents))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found", nil)
	})

	return r
}
