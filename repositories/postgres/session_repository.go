package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/repositories"
)

const sessionColumns = `id, parent_id, user_id, title, agent_type, model, denied_tools, status, error, created_at, updated_at`

// SessionRepository implements the repositories.SessionRepository interface
type SessionRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB, logger *zap.Logger) repositories.SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new session
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	denied, err := json.Marshal(nonNil(s.DeniedTools))
	if err != nil {
		return fmt.Errorf("failed to encode denied tools: %w", err)
	}

	query := `INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = executor(ctx, r.db, r.tx).ExecContext(ctx, query,
		s.ID,
		s.ParentID,
		s.UserID,
		s.Title,
		s.AgentType,
		s.Model,
		denied,
		s.Status,
		s.Error,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Debug("session created", zap.String("id", s.ID))
	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(executor(ctx, r.db, r.tx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetChildren retrieves the direct children of a session, oldest first
func (r *SessionRepository) GetChildren(ctx context.Context, parentID string) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE parent_id = $1 ORDER BY created_at ASC`

	rows, err := executor(ctx, r.db, r.tx).QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// Update persists status and error changes
func (r *SessionRepository) Update(ctx context.Context, s *models.Session) error {
	query := `UPDATE sessions SET status = $2, error = $3, updated_at = $4 WHERE id = $1`

	res, err := executor(ctx, r.db, r.tx).ExecContext(ctx, query, s.ID, s.Status, s.Error, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return requireRow(res, s.ID)
}

// Delete removes one session
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	res, err := executor(ctx, r.db, r.tx).ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return requireRow(res, id)
}

// DeleteOlderThan removes sessions last updated at or before cutoff
func (r *SessionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := executor(ctx, r.db, r.tx).ExecContext(ctx, `DELETE FROM sessions WHERE updated_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	return n, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *SessionRepository) WithTx(tx repositories.Transaction) repositories.SessionRepository {
	return &SessionRepository{db: r.db, tx: asTx(tx), logger: r.logger}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	s := &models.Session{}
	var (
		agentType, model sql.NullString
		denied           []byte
	)
	err := row.Scan(
		&s.ID,
		&s.ParentID,
		&s.UserID,
		&s.Title,
		&agentType,
		&model,
		&denied,
		&s.Status,
		&s.Error,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.AgentType = agentType.String
	s.Model = model.String
	if len(denied) > 0 {
		if err := json.Unmarshal(denied, &s.DeniedTools); err != nil {
			return nil, fmt.Errorf("failed to decode denied tools: %w", err)
		}
	}
	return s, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, repositories.ErrNotFound)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
