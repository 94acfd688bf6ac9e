package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/upb/agent-governance/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check probes one dependency.
type Check func(ctx context.Context) error

type namedCheck struct {
	name  string
	check Check
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db     *sql.DB
	checks []namedCheck
	logger *zap.Logger
}

// NewHealthHandler creates a HealthHandler. db may be nil when the in-memory
// store is used.
func NewHealthHandler(db *sql.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		logger: logger,
	}
}

// WithCheck adds a named readiness probe, for example the redis bus.
func (h *HealthHandler) WithCheck(name string, check Check) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
	sort.Slice(h.checks, func(i, j int) bool { return h.checks[i].name < h.checks[j].name })
	return h
}

// HandleHealth handles GET /healthz. It reports healthy while the process is up.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db != nil {
		if err := h.checkDatabase(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = "unhealthy"
			allHealthy = false
		} else {
			checks["database"] = "healthy"
		}
	}

	for _, c := range h.checks {
		if err := c.check(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", c.name), zap.Error(err))
			checks[c.name] = "unhealthy"
			allHealthy = false
			continue
		}
		checks[c.name] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
