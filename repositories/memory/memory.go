// Package memory provides in-process repositories for development and tests.
// Transactions are accepted but not isolated; writes apply immediately.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/repositories"
)

// NewRepositories returns an empty in-memory store.
func NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users:     NewUserRepository(),
		Sessions:  NewSessionRepository(),
		AuditLogs: NewAuditRepository(),
		Tx:        TransactionManager{},
	}
}

// AuditRepository keeps audit entries in a slice.
type AuditRepository struct {
	mu      sync.RWMutex
	entries []*models.AuditEntry
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Insert(_ context.Context, entry *models.AuditEntry) error {
	cp := *entry
	r.mu.Lock()
	r.entries = append(r.entries, &cp)
	r.mu.Unlock()
	return nil
}

func (r *AuditRepository) List(_ context.Context, filter repositories.AuditFilter) ([]*models.AuditEntry, error) {
	r.mu.RLock()
	matched := make([]*models.AuditEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if matchesAudit(e, filter) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() > matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if limit := filter.NormalizedLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *AuditRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	var deleted int64
	for _, e := range r.entries {
		if !e.CreatedAt.After(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return deleted, nil
}

func matchesAudit(e *models.AuditEntry, f repositories.AuditFilter) bool {
	if f.SessionID != "" && (e.SessionID == nil || *e.SessionID != f.SessionID) {
		return false
	}
	if f.UserID != "" && (e.UserID == nil || *e.UserID != f.UserID) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Start != nil && e.CreatedAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && e.CreatedAt.After(*f.End) {
		return false
	}
	return true
}

// SessionRepository keeps sessions in a map. Delete cascades to descendants
// the way the parent_id foreign key does in postgres.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*models.Session)}
}

func (r *SessionRepository) Create(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	if s.ParentID != nil {
		if _, ok := r.sessions[*s.ParentID]; !ok {
			return fmt.Errorf("parent session %s: %w", *s.ParentID, repositories.ErrNotFound)
		}
	}
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *SessionRepository) GetByID(_ context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, repositories.ErrNotFound)
	}
	return cloneSession(s), nil
}

func (r *SessionRepository) GetChildren(_ context.Context, parentID string) ([]*models.Session, error) {
	r.mu.RLock()
	children := make([]*models.Session, 0)
	for _, s := range r.sessions {
		if s.ParentID != nil && *s.ParentID == parentID {
			children = append(children, cloneSession(s))
		}
	}
	r.mu.RUnlock()

	sort.Slice(children, func(i, j int) bool {
		return children[i].CreatedAt.Before(children[j].CreatedAt)
	})
	return children, nil
}

func (r *SessionRepository) Update(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok {
		return fmt.Errorf("session %s: %w", s.ID, repositories.ErrNotFound)
	}
	cur.Status = s.Status
	cur.Error = s.Error
	cur.UpdatedAt = s.UpdatedAt
	return nil
}

func (r *SessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, repositories.ErrNotFound)
	}
	r.deleteTree(id)
	return nil
}

func (r *SessionRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for id, s := range r.sessions {
		if !s.UpdatedAt.After(cutoff) {
			stale = append(stale, id)
		}
	}
	before := len(r.sessions)
	for _, id := range stale {
		r.deleteTree(id)
	}
	return int64(before - len(r.sessions)), nil
}

func (r *SessionRepository) WithTx(repositories.Transaction) repositories.SessionRepository {
	return r
}

// deleteTree removes id and everything below it. Caller holds mu.
func (r *SessionRepository) deleteTree(id string) {
	delete(r.sessions, id)
	for childID, s := range r.sessions {
		if s.ParentID != nil && *s.ParentID == id {
			r.deleteTree(childID)
		}
	}
}

func cloneSession(s *models.Session) *models.Session {
	cp := *s
	if s.DeniedTools != nil {
		cp.DeniedTools = append([]string(nil), s.DeniedTools...)
	}
	return &cp
}

// UserRepository keeps users in a map.
type UserRepository struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]*models.User)}
}

func (r *UserRepository) Upsert(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	if cur, ok := r.users[u.ID]; ok {
		cp.CreatedAt = cur.CreatedAt
	}
	r.users[u.ID] = &cp
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepository) WithTx(repositories.Transaction) repositories.UserRepository {
	return r
}

// TransactionManager runs fn directly.
type TransactionManager struct{}

func (TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return tx{ctx: ctx}, nil
}

func (m TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	t, _ := m.Begin(ctx)
	return fn(ctx, t)
}

type tx struct{ ctx context.Context }

func (tx) Commit() error              { return nil }
func (tx) Rollback() error            { return nil }
func (t tx) Context() context.Context { return t.ctx }
