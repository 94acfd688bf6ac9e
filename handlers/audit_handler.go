package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/auth"
	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/repositories"
	"github.com/upb/agent-governance/utils"
)

// AuditReader queries the audit trail.
type AuditReader interface {
	List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditEntry, error)
}

// SessionLookup resolves a session for ownership checks.
type SessionLookup interface {
	Get(ctx context.Context, id string) (*models.Session, error)
}

// AuditHandler serves audit log queries
type AuditHandler struct {
	audit    AuditReader
	sessions SessionLookup
	logger   *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit AuditReader, sessions SessionLookup, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		audit:    audit,
		sessions: sessions,
		logger:   logger,
	}
}

// HandleList handles GET /api/v1/audit/logs with optional session_id,
// user_id, action, start, end and limit query parameters.
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context(), h.logger)

	filter, err := parseAuditFilter(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	h.list(w, r, filter, log)
}

// HandleSessionAudit handles GET /api/v1/sessions/{id}/audit. The session
// owner may read its trail; anyone else needs audit.read.
func (h *AuditHandler) HandleSessionAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observability.FromContext(ctx, h.logger)

	s, err := h.sessions.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, log)
		return
	}
	if !ownsSession(ctx, s) {
		if err := auth.AssertCan(ctx, auth.CapAuditRead); err != nil {
			HandleServiceError(w, err, log)
			return
		}
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	filter.SessionID = s.ID
	h.list(w, r, filter, log)
}

func (h *AuditHandler) list(w http.ResponseWriter, r *http.Request, filter repositories.AuditFilter, log *zap.Logger) {
	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		HandleServiceError(w, err, log)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	_ = utils.WriteOK(w, entries)
}

func parseAuditFilter(r *http.Request) (repositories.AuditFilter, error) {
	q := r.URL.Query()
	filter := repositories.AuditFilter{
		SessionID: q.Get("session_id"),
		UserID:    q.Get("user_id"),
		Action:    models.AuditAction(q.Get("action")),
	}

	var err error
	if filter.Start, err = utils.QueryTime(q, "start"); err != nil {
		return filter, err
	}
	if filter.End, err = utils.QueryTime(q, "end"); err != nil {
		return filter, err
	}
	if filter.Limit, err = utils.QueryInt(q, "limit"); err != nil {
		return filter, err
	}
	return filter, nil
}

func ownsSession(ctx context.Context, s *models.Session) bool {
	p, ok := auth.PrincipalFromContext(ctx)
	return ok && s.UserID != nil && *s.UserID == p.ID
}
