package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/upb/agent-governance/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// MaxAuditPageSize caps every audit query.
const MaxAuditPageSize = 100

// AuditFilter selects audit entries. Zero values do not filter.
type AuditFilter struct {
	SessionID string
	UserID    string
	Action    models.AuditAction
	Start     *time.Time
	End       *time.Time
	Limit     int
}

// NormalizedLimit returns Limit clamped to 1..MaxAuditPageSize, defaulting
// to MaxAuditPageSize.
func (f AuditFilter) NormalizedLimit() int {
	if f.Limit <= 0 || f.Limit > MaxAuditPageSize {
		return MaxAuditPageSize
	}
	return f.Limit
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, entry *models.AuditEntry) error

	// List returns entries matching filter, newest first
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// DeleteOlderThan removes entries created at or before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionRepository handles session data operations
type SessionRepository interface {
	// Create inserts a new session
	Create(ctx context.Context, session *models.Session) error

	// GetByID retrieves a session by ID
	GetByID(ctx context.Context, id string) (*models.Session, error)

	// GetChildren retrieves the direct children of a session
	GetChildren(ctx context.Context, parentID string) ([]*models.Session, error)

	// Update persists status and error changes
	Update(ctx context.Context, session *models.Session) error

	// Delete removes one session. Descendants go with it through the
	// parent_id cascade.
	Delete(ctx context.Context, id string) error

	// DeleteOlderThan removes sessions last updated at or before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) SessionRepository
}

// UserRepository handles user data operations
type UserRepository interface {
	// Upsert inserts the user or refreshes its profile fields
	Upsert(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*models.User, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) UserRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users     UserRepository
	Sessions  SessionRepository
	AuditLogs AuditRepository
	Tx        TransactionManager
}
