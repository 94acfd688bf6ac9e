package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction names what an audit entry records.
type AuditAction string

const (
	AuditActionPolicyDeny        AuditAction = "policy.deny"
	AuditActionPolicyPending     AuditAction = "policy.pending"
	AuditActionRedaction         AuditAction = "redaction"
	AuditActionSubagentFailed    AuditAction = "subagent.failed"
	AuditActionSessionCreated    AuditAction = "session.created"
	AuditActionSessionError      AuditAction = "session.error"
	AuditActionPermissionAsked   AuditAction = "permission.asked"
	AuditActionPermissionReplied AuditAction = "permission.replied"
)

// Resource types referenced by audit entries.
const (
	ResourceTool       = "tool"
	ResourceSession    = "session"
	ResourcePermission = "permission"
	ResourceSubagent   = "subagent"
)

// Decision values stored on audit entries.
const (
	DecisionAllow   = "allow"
	DecisionDeny    = "deny"
	DecisionPending = "pending"
)

// AuditEntry is one immutable row of the audit trail.
type AuditEntry struct {
	ID            uuid.UUID              `json:"id" db:"id"`
	SessionID     *string                `json:"session_id,omitempty" db:"session_id"`
	UserID        *string                `json:"user_id,omitempty" db:"user_id"`
	Action        AuditAction            `json:"action" db:"action"`
	ResourceType  string                 `json:"resource_type" db:"resource_type"`
	ResourceID    *string                `json:"resource_id,omitempty" db:"resource_id"`
	Tool          *string                `json:"tool,omitempty" db:"tool"`
	InputSummary  *string                `json:"input_summary,omitempty" db:"input_summary"`
	OutputSummary *string                `json:"output_summary,omitempty" db:"output_summary"`
	Decision      *string                `json:"decision,omitempty" db:"decision"`
	Metadata      map[string]interface{} `json:"metadata" db:"metadata"` // JSONB
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AuditEntry model
func (AuditEntry) TableName() string {
	return "audit_logs"
}

// NewAuditEntry starts an entry. ID and CreatedAt are assigned when it is recorded.
func NewAuditEntry(action AuditAction, resourceType string) *AuditEntry {
	return &AuditEntry{
		Action:       action,
		ResourceType: resourceType,
		Metadata:     make(map[string]interface{}),
	}
}

// WithSession sets the session ID
func (a *AuditEntry) WithSession(sessionID string) *AuditEntry {
	if sessionID != "" {
		a.SessionID = &sessionID
	}
	return a
}

// WithUser sets the user ID
func (a *AuditEntry) WithUser(userID string) *AuditEntry {
	if userID != "" {
		a.UserID = &userID
	}
	return a
}

// WithResource sets the resource ID
func (a *AuditEntry) WithResource(resourceID string) *AuditEntry {
	a.ResourceID = &resourceID
	return a
}

// WithTool sets the tool name
func (a *AuditEntry) WithTool(tool string) *AuditEntry {
	a.Tool = &tool
	return a
}

// WithInput stores a summary of v. Non-string values are serialized as JSON.
func (a *AuditEntry) WithInput(v interface{}) *AuditEntry {
	s := Summarize(v)
	a.InputSummary = &s
	return a
}

// WithOutput stores a summary of v. Non-string values are serialized as JSON.
func (a *AuditEntry) WithOutput(v interface{}) *AuditEntry {
	s := Summarize(v)
	a.OutputSummary = &s
	return a
}

// WithDecision sets the decision
func (a *AuditEntry) WithDecision(decision string) *AuditEntry {
	a.Decision = &decision
	return a
}

// WithMetadata sets one metadata key
func (a *AuditEntry) WithMetadata(key string, value interface{}) *AuditEntry {
	if a.Metadata == nil {
		a.Metadata = make(map[string]interface{})
	}
	a.Metadata[key] = value
	return a
}

// Summarize renders v for a summary column.
func Summarize(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
