package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/utils"
)

// PermissionService lists and decides pending permission requests.
type PermissionService interface {
	List() []*models.PermissionRequest
	Reply(ctx context.Context, id string, allow bool, reason string) (*models.PermissionRequest, error)
}

// ReplyRequest is the body of POST /permissions/{id}/reply.
type ReplyRequest struct {
	Decision string `json:"decision" validate:"required,oneof=allow deny"`
	Reason   string `json:"reason,omitempty" validate:"max=500"`
}

type PermissionHandler struct {
	service PermissionService
	logger  *zap.Logger
}

func NewPermissionHandler(service PermissionService, logger *zap.Logger) *PermissionHandler {
	return &PermissionHandler{
		service: service,
		logger:  logger,
	}
}

// HandleList handles GET /api/v1/permissions. Only pending requests are listed.
func (h *PermissionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	pending := h.service.List()
	if pending == nil {
		pending = []*models.PermissionRequest{}
	}
	_ = utils.WriteOK(w, pending)
}

// HandleReply handles POST /api/v1/permissions/{id}/reply
func (h *PermissionHandler) HandleReply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observability.FromContext(ctx, h.logger)

	var req ReplyRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, log)
		return
	}

	decided, err := h.service.Reply(ctx, chi.URLParam(r, "id"), req.Decision == "allow", req.Reason)
	if err != nil {
		HandleServiceError(w, err, log)
		return
	}
	_ = utils.WriteOK(w, decided)
}
