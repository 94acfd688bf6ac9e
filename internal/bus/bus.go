// Package bus carries lifecycle events between the governance services.
//
// Publishers never block on slow consumers. The in-process bus drops an event
// for any subscriber whose buffer is full; the Redis bus fans events out to
// other replicas over a pub/sub channel.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names an event kind.
type Type string

const (
	SessionCreated    Type = "session.created"
	SessionError      Type = "session.error"
	SessionDeleted    Type = "session.deleted"
	PermissionAsked   Type = "permission.asked"
	PermissionReplied Type = "permission.replied"
	AuditRecorded     Type = "audit.recorded"
)

// Event is one published fact. Properties must be JSON serializable.
type Event struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	SessionID  string                 `json:"session_id,omitempty"`
	Time       time.Time              `json:"time"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// NewEvent stamps an event with an ID and the current time.
func NewEvent(t Type, sessionID string, props map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		SessionID:  sessionID,
		Time:       time.Now().UTC(),
		Properties: props,
	}
}

// String returns a property as a string, or "" when absent or not a string.
func (e Event) String(key string) string {
	s, _ := e.Properties[key].(string)
	return s
}

// Bus is implemented by MemoryBus and RedisBus.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	// Subscribe returns a channel of events published after the call. The
	// channel is closed once ctx is done.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Publisher is the narrow side used by services that only emit events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
