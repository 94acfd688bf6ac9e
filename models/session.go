package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents where a session is in its lifecycle
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusError  SessionStatus = "error"
)

// Session is one agent conversation. Subagent sessions point at their caller
// through ParentID.
type Session struct {
	ID          string        `json:"id" db:"id"`
	ParentID    *string       `json:"parent_id,omitempty" db:"parent_id"`
	UserID      *string       `json:"user_id,omitempty" db:"user_id"`
	Title       string        `json:"title" db:"title"`
	AgentType   string        `json:"agent_type,omitempty" db:"agent_type"`
	Model       string        `json:"model,omitempty" db:"model"`
	DeniedTools []string      `json:"denied_tools,omitempty" db:"denied_tools"` // JSONB
	Status      SessionStatus `json:"status" db:"status"`
	Error       *string       `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Session model
func (Session) TableName() string {
	return "sessions"
}

// NewSession creates an active session with a fresh ID.
func NewSession(title string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    SessionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithParent links the session to its caller
func (s *Session) WithParent(parentID string) *Session {
	if parentID != "" {
		s.ParentID = &parentID
	}
	return s
}

// WithUser sets the owning user
func (s *Session) WithUser(userID string) *Session {
	if userID != "" {
		s.UserID = &userID
	}
	return s
}

// IsToolDenied reports whether tool is on the session's deny list.
func (s *Session) IsToolDenied(tool string) bool {
	for _, t := range s.DeniedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// MarkError records a failure on the session
func (s *Session) MarkError(message string) {
	s.Status = SessionStatusError
	s.Error = &message
	s.UpdatedAt = time.Now().UTC()
}
