// Package session owns the session lifecycle: creation under an owning user,
// parent/child links for subagents, error marking and cascading removal.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/auth"
	"github.com/upb/agent-governance/internal/bus"
	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/repositories"
	"github.com/upb/agent-governance/services"
)

// CreateInput describes a new session. ParentID links a subagent session to
// its caller.
type CreateInput struct {
	Title       string
	ParentID    string
	AgentType   string
	Model       string
	DeniedTools []string
}

// Service implements session operations on top of the repositories.
type Service struct {
	repos  *repositories.Repositories
	pub    bus.Publisher
	logger *zap.Logger
}

// NewService creates a session service. pub may be nil.
func NewService(repos *repositories.Repositories, pub bus.Publisher, logger *zap.Logger) *Service {
	return &Service{repos: repos, pub: pub, logger: logger}
}

// Create stores a new session owned by the principal on ctx, if any. The
// user row is upserted in the same transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Session, error) {
	if in.ParentID != "" {
		if _, err := s.Get(ctx, in.ParentID); err != nil {
			return nil, err
		}
	}

	sess := models.NewSession(in.Title).WithParent(in.ParentID)
	sess.AgentType = in.AgentType
	sess.Model = in.Model
	sess.DeniedTools = in.DeniedTools

	p, hasPrincipal := auth.PrincipalFromContext(ctx)
	if hasPrincipal {
		sess.WithUser(p.ID)
	}

	err := s.repos.Tx.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		if hasPrincipal {
			user := models.NewUser(p.ID, p.Email, p.Name, string(p.Role))
			if err := s.repos.Users.WithTx(tx).Upsert(ctx, user); err != nil {
				return fmt.Errorf("upsert user: %w", err)
			}
		}
		return s.repos.Sessions.WithTx(tx).Create(ctx, sess)
	})
	if err != nil {
		return nil, services.WrapInternal("failed to create session", err)
	}

	props := map[string]interface{}{"title": sess.Title}
	if sess.UserID != nil {
		props["user_id"] = *sess.UserID
	}
	if sess.ParentID != nil {
		props["parent_id"] = *sess.ParentID
	}
	if sess.AgentType != "" {
		props["agent_type"] = sess.AgentType
	}
	s.publish(ctx, bus.NewEvent(bus.SessionCreated, sess.ID, props))

	observability.FromContext(ctx, s.logger).Debug("session created",
		zap.String("session_id", sess.ID),
		zap.String("agent_type", sess.AgentType))
	return sess, nil
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.repos.Sessions.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "failed to get session")
	}
	return sess, nil
}

// Children returns the direct subagent sessions of id, oldest first.
func (s *Service) Children(ctx context.Context, id string) ([]*models.Session, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	children, err := s.repos.Sessions.GetChildren(ctx, id)
	if err != nil {
		return nil, services.WrapInternal("failed to list child sessions", err)
	}
	return children, nil
}

// Remove deletes a session and its descendants in one transaction.
func (s *Service) Remove(ctx context.Context, id string) error {
	err := s.repos.Tx.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		sessions := s.repos.Sessions.WithTx(tx)
		if _, err := sessions.GetByID(ctx, id); err != nil {
			return err
		}
		return sessions.Delete(ctx, id)
	})
	if err != nil {
		return mapNotFound(err, "failed to remove session")
	}

	s.publish(ctx, bus.NewEvent(bus.SessionDeleted, id, nil))
	return nil
}

// MarkError moves the session to the error state and announces it.
func (s *Service) MarkError(ctx context.Context, id, message string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.MarkError(message)
	if err := s.repos.Sessions.Update(ctx, sess); err != nil {
		return mapNotFound(err, "failed to update session")
	}

	props := map[string]interface{}{"error": message}
	if sess.UserID != nil {
		props["user_id"] = *sess.UserID
	}
	if sess.AgentType != "" {
		props["agent_type"] = sess.AgentType
	}
	s.publish(ctx, bus.NewEvent(bus.SessionError, id, props))
	return nil
}

// DeleteOlderThan prunes sessions idle since cutoff. It lets the service act
// as a retention target.
func (s *Service) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repos.Sessions.DeleteOlderThan(ctx, cutoff)
}

func (s *Service) publish(ctx context.Context, ev bus.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish session event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func mapNotFound(err error, msg string) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrSessionNotFound
	}
	return services.WrapInternal(msg, err)
}
