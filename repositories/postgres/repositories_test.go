package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/repositories"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return Wrap(sqlDB, zap.NewNop()), mock
}

var auditRowColumns = []string{
	"id", "session_id", "user_id", "action", "resource_type", "resource_id",
	"tool", "input_summary", "output_summary", "decision", "metadata", "created_at",
}

func TestAuditRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	t.Run("nil metadata is stored as an empty object", func(t *testing.T) {
		entry := models.NewAuditEntry(models.AuditActionPolicyDeny, models.ResourceTool).WithTool("bash")
		entry.ID = uuid.Must(uuid.NewV7())
		entry.Metadata = nil
		entry.CreatedAt = time.Now()

		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs(sqlmock.AnyArg(), nil, nil, "policy.deny", "tool", nil, "bash", nil, nil, nil, []byte("{}"), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Insert(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error is wrapped", func(t *testing.T) {
		entry := models.NewAuditEntry(models.AuditActionRedaction, models.ResourceTool)
		entry.ID = uuid.Must(uuid.NewV7())

		mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("disk full"))

		err := repo.Insert(context.Background(), entry)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestAuditRepository_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())
	ctx := context.Background()

	t.Run("filters become numbered placeholders", func(t *testing.T) {
		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		id := uuid.Must(uuid.NewV7())
		rows := sqlmock.NewRows(auditRowColumns).AddRow(
			id.String(), "s1", "u1", "policy.deny", "tool", nil,
			"bash", nil, nil, "deny", []byte(`{"rule":"global_deny"}`), start,
		)

		mock.ExpectQuery(`WHERE session_id = \$1 AND action = \$2 AND created_at >= \$3 ORDER BY created_at DESC, id DESC LIMIT \$4`).
			WithArgs("s1", "policy.deny", start, 10).
			WillReturnRows(rows)

		entries, err := repo.List(ctx, repositories.AuditFilter{
			SessionID: "s1",
			Action:    models.AuditActionPolicyDeny,
			Start:     &start,
			Limit:     10,
		})

		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, id, entries[0].ID)
		assert.Equal(t, "s1", *entries[0].SessionID)
		assert.Nil(t, entries[0].ResourceID)
		assert.Equal(t, "global_deny", entries[0].Metadata["rule"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("limit is capped", func(t *testing.T) {
		mock.ExpectQuery(`FROM audit_logs ORDER BY created_at DESC, id DESC LIMIT \$1`).
			WithArgs(repositories.MaxAuditPageSize).
			WillReturnRows(sqlmock.NewRows(auditRowColumns))

		entries, err := repo.List(ctx, repositories.AuditFilter{Limit: 5000})

		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditRepository_DeleteOlderThan(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())
	cutoff := time.Now().Add(-90 * 24 * time.Hour)

	mock.ExpectExec(`DELETE FROM audit_logs WHERE created_at <= \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM audit_logs WHERE created_at <= \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := repo.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repo.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var sessionRowColumns = []string{
	"id", "parent_id", "user_id", "title", "agent_type", "model",
	"denied_tools", "status", "error", "created_at", "updated_at",
}

func TestSessionRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db, zap.NewNop())

	s := models.NewSession("explore the repo").WithParent("parent-1")
	s.DeniedTools = []string{"task"}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(s.ID, "parent-1", nil, "explore the repo", "", "", []byte(`["task"]`), "active", nil, s.CreatedAt, s.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db, zap.NewNop())
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("FROM sessions WHERE id = \\$1").
			WithArgs("s1").
			WillReturnRows(sqlmock.NewRows(sessionRowColumns).AddRow(
				"s1", "p1", nil, "title", "explore", "model-x", []byte(`["todowrite","todoread"]`), "active", nil, now, now,
			))

		s, err := repo.GetByID(context.Background(), "s1")

		require.NoError(t, err)
		assert.Equal(t, "p1", *s.ParentID)
		assert.Nil(t, s.UserID)
		assert.Equal(t, "explore", s.AgentType)
		assert.Equal(t, []string{"todowrite", "todoread"}, s.DeniedTools)
		assert.Equal(t, models.SessionStatusActive, s.Status)
	})

	t.Run("missing", func(t *testing.T) {
		mock.ExpectQuery("FROM sessions WHERE id = \\$1").
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByID(context.Background(), "nope")
		assert.True(t, errors.Is(err, repositories.ErrNotFound))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_GetChildren(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db, zap.NewNop())
	now := time.Now()

	mock.ExpectQuery("WHERE parent_id = \\$1 ORDER BY created_at ASC").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).
			AddRow("c1", "p1", nil, "a", "general", nil, []byte(`[]`), "active", nil, now, now).
			AddRow("c2", "p1", nil, "b", "explore", nil, []byte(`[]`), "error", "boom", now, now))

	children, err := repo.GetChildren(context.Background(), "p1")

	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "c1", children[0].ID)
	assert.Equal(t, models.SessionStatusError, children[1].Status)
	assert.Equal(t, "boom", *children[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_UpdateAndDelete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db, zap.NewNop())
	ctx := context.Background()

	s := models.NewSession("t")
	s.MarkError("timeout")

	mock.ExpectExec("UPDATE sessions SET status").
		WithArgs(s.ID, "error", "timeout", s.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(ctx, s))

	mock.ExpectExec("UPDATE sessions SET status").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.True(t, errors.Is(repo.Update(ctx, s), repositories.ErrNotFound))

	mock.ExpectExec("DELETE FROM sessions WHERE id = \\$1").
		WithArgs(s.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(ctx, s.ID))

	cutoff := time.Now()
	mock.ExpectExec("DELETE FROM sessions WHERE updated_at <= \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := repo.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, zap.NewNop())
	ctx := context.Background()

	u := models.NewUser("u1", "a@example.com", "Ada", "employee")

	mock.ExpectExec("ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs("u1", "a@example.com", "Ada", "employee", u.CreatedAt, u.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Upsert(ctx, u))

	mock.ExpectQuery("FROM users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "role", "created_at", "updated_at"}).
			AddRow("u1", nil, "Ada", "employee", u.CreatedAt, u.UpdatedAt))
	got, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "", got.Email)
	assert.Equal(t, "Ada", got.Name)

	mock.ExpectQuery("FROM users").WithArgs("u2").WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByID(ctx, "u2")
	assert.True(t, errors.Is(err, repositories.ErrNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager(t *testing.T) {
	ctx := context.Background()

	t.Run("commits and routes repository calls through the tx", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		sessions := NewSessionRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM sessions").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := tm.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
			return sessions.WithTx(tx).Delete(ctx, "s1")
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := tm.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
			return errors.New("boom")
		})

		assert.EqualError(t, err, "boom")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested calls join the outer transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectCommit()

		err := tm.InTransaction(ctx, func(ctx context.Context, outer repositories.Transaction) error {
			return tm.InTransaction(ctx, func(ctx context.Context, inner repositories.Transaction) error {
				assert.Same(t, outer, inner)
				return nil
			})
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("panic rolls back and re-panics", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.Panics(t, func() {
			_ = tm.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
				panic("kaboom")
			})
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDB_HealthCheck(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	assert.NoError(t, db.HealthCheck(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err := db.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database health check failed")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryFactory_NewRepositories(t *testing.T) {
	db, _ := newMockDB(t)
	auditDB, auditMock := newMockDB(t)
	f := NewRepositoryFactoryFromDB(db, auditDB, zap.NewNop())

	repos := f.NewRepositories()
	require.NotNil(t, repos.Users)
	require.NotNil(t, repos.Sessions)
	require.NotNil(t, repos.Tx)

	auditMock.ExpectExec("DELETE FROM audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	_, err := repos.AuditLogs.DeleteOlderThan(context.Background(), time.Now())
	require.NoError(t, err)
	assert.NoError(t, auditMock.ExpectationsWereMet())
}
