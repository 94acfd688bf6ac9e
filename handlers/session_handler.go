package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/auth"
	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/services/session"
	"github.com/upb/agent-governance/utils"
)

// SessionService is the session surface used by the HTTP layer.
type SessionService interface {
	Create(ctx context.Context, in session.CreateInput) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Children(ctx context.Context, id string) ([]*models.Session, error)
	Remove(ctx context.Context, id string) error
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Title    string `json:"title" validate:"required,max=200"`
	ParentID string `json:"parent_id,omitempty" validate:"omitempty,uuid"`
}

// SessionHandler handles session HTTP requests
type SessionHandler struct {
	service SessionService
	logger  *zap.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		service: service,
		logger:  logger,
	}
}

// HandleCreate handles POST /api/v1/sessions
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observability.FromContext(ctx, h.logger)

	var req CreateSessionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		log.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, log)
		return
	}

	if req.ParentID != "" {
		if _, err := authorizedSession(ctx, h.service, req.ParentID); err != nil {
			HandleServiceError(w, err, log)
			return
		}
	}

	s, err := h.service.Create(ctx, session.CreateInput{
		Title:    req.Title,
		ParentID: req.ParentID,
	})
	if err != nil {
		HandleServiceError(w, err, log)
		return
	}

	if err := utils.WriteCreated(w, s); err != nil {
		log.Error("failed to write response", zap.Error(err))
	}
}

// HandleGet handles GET /api/v1/sessions/{id}
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context(), h.logger)

	s, err := authorizedSession(r.Context(), h.service, chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, log)
		return
	}
	_ = utils.WriteOK(w, s)
}

// HandleChildren handles GET /api/v1/sessions/{id}/children
func (h *SessionHandler) HandleChildren(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observability.FromContext(ctx, h.logger)
	id := chi.URLParam(r, "id")
	if _, err := authorizedSession(ctx, h.service, id); err != nil {
		HandleServiceError(w, err, log)
		return
	}

	children, err := h.service.Children(ctx, id)
	if err != nil {
		HandleServiceError(w, err, log)
		return
	}
	if children == nil {
		children = []*models.Session{}
	}
	_ = utils.WriteOK(w, children)
}

// HandleDelete handles DELETE /api/v1/sessions/{id}. Children are removed with
// their parent.
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observability.FromContext(ctx, h.logger)
	id := chi.URLParam(r, "id")
	if _, err := authorizedSession(ctx, h.service, id); err != nil {
		HandleServiceError(w, err, log)
		return
	}

	if err := h.service.Remove(ctx, id); err != nil {
		HandleServiceError(w, err, log)
		return
	}
	utils.WriteNoContent(w)
}

// authorizedSession loads id and lets it through when the caller owns it or
// holds session.any_owner.
func authorizedSession(ctx context.Context, sessions SessionLookup, id string) (*models.Session, error) {
	s, err := sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ownsSession(ctx, s) {
		if err := auth.AssertCan(ctx, auth.CapSessionAnyOwner); err != nil {
			return nil, err
		}
	}
	return s, nil
}
