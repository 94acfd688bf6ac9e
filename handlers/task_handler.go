package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/services/subagent"
	"github.com/upb/agent-governance/utils"
)

// TaskDispatcher runs a batch of subagent tasks under a parent session.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, parentID string, batch subagent.Batch) (*subagent.Summary, error)
}

// TaskHandler handles subagent task HTTP requests
type TaskHandler struct {
	dispatcher TaskDispatcher
	sessions   SessionLookup
	logger     *zap.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(dispatcher TaskDispatcher, sessions SessionLookup, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		dispatcher: dispatcher,
		sessions:   sessions,
		logger:     logger,
	}
}

// HandleDispatch handles POST /api/v1/sessions/{id}/tasks.
// The caller must own the parent session or hold session.any_owner. Failed
// tasks are reported inside the summary; only a batch rejected before
// dispatch produces an error status.
func (h *TaskHandler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observability.FromContext(ctx, h.logger)
	parentID := chi.URLParam(r, "id")

	var batch subagent.Batch
	if err := utils.DecodeJSON(r, &batch); err != nil {
		log.Warn("failed to parse task batch", zap.Error(err))
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if err := utils.ValidateStruct(&batch); err != nil {
		HandleValidationError(w, err, log)
		return
	}

	if _, err := authorizedSession(ctx, h.sessions, parentID); err != nil {
		HandleServiceError(w, err, log)
		return
	}

	summary, err := h.dispatcher.Dispatch(ctx, parentID, batch)
	if err != nil {
		log.Warn("task batch rejected", zap.String("parent_id", parentID), zap.Error(err))
		HandleServiceError(w, err, log)
		return
	}

	if err := utils.WriteOK(w, summary); err != nil {
		log.Error("failed to write response", zap.Error(err))
	}
}
