package models

import (
	"time"

	"github.com/google/uuid"
)

// PermissionStatus tracks a permission request from pending to its one decision.
type PermissionStatus string

const (
	PermissionPending PermissionStatus = "pending"
	PermissionAllowed PermissionStatus = "allowed"
	PermissionDenied  PermissionStatus = "denied"
)

// PermissionRequest asks whether an action may proceed.
type PermissionRequest struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Action    string                 `json:"action"`
	Patterns  []string               `json:"patterns"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Status    PermissionStatus       `json:"status"`
	Reason    string                 `json:"reason,omitempty"`
	DecidedBy string                 `json:"decided_by,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	DecidedAt *time.Time             `json:"decided_at,omitempty"`
}

// NewPermissionRequest creates a pending request
func NewPermissionRequest(sessionID, action string, patterns []string, metadata map[string]interface{}) *PermissionRequest {
	return &PermissionRequest{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Action:    action,
		Patterns:  patterns,
		Metadata:  metadata,
		Status:    PermissionPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Decided reports whether the request has left the pending state.
func (p *PermissionRequest) Decided() bool {
	return p.Status != PermissionPending
}
