package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/agent-governance/services"
	"github.com/upb/agent-governance/utils"
)

// HandleServiceError maps domain errors to HTTP responses.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	msg := services.GetErrorMessage(err)
	details := services.GetErrorDetails(err)

	var writeErr error
	switch services.GetErrorType(err) {
	case services.ErrorTypeNotFound:
		writeErr = utils.WriteNotFound(w, msg, details)

	case services.ErrorTypeValidation:
		writeErr = utils.WriteBadRequest(w, msg, details)

	case services.ErrorTypeUnauthorized:
		writeErr = utils.WriteUnauthorized(w, msg)

	case services.ErrorTypeForbidden:
		writeErr = utils.WriteForbidden(w, msg, details)

	case services.ErrorTypePolicyViolation:
		writeErr = utils.WritePolicyViolation(w, msg, details)

	case services.ErrorTypeBudget:
		writeErr = utils.WriteBudgetExceeded(w, msg, details)

	case services.ErrorTypeConflict:
		writeErr = utils.WriteConflict(w, msg, details)

	case services.ErrorTypeInternal:
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var details map[string]interface{}
	msg := err.Error()
	if utils.IsValidationError(err) {
		details = make(map[string]interface{})
		for k, v := range utils.GetValidationFields(err) {
			details[k] = v
		}
	}
	if err := utils.WriteBadRequest(w, msg, details); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
