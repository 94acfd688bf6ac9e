// Package audit records governance decisions and lifecycle events.
//
// Writes never fail the caller: a store error is logged and counted, and the
// operation that produced the entry carries on.
package audit

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/auth"
	"github.com/upb/agent-governance/internal/bus"
	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/internal/shared"
	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/repositories"
)

// MaxFieldLength is the longest string stored in any audit field, in runes.
const MaxFieldLength = 1024

const writeTimeout = 5 * time.Second

// Recorder is the write side used by the policy, redaction and subagent
// services.
type Recorder interface {
	Record(ctx context.Context, entry *models.AuditEntry)
}

// Trail persists audit entries through a circuit breaker and announces each
// one on the bus.
type Trail struct {
	repo    repositories.AuditRepository
	pub     bus.Publisher
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewTrail creates a Trail. pub may be nil.
func NewTrail(repo repositories.AuditRepository, pub bus.Publisher, metrics *observability.Metrics, logger *zap.Logger) *Trail {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit-store",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("audit store breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Trail{
		repo:    repo,
		pub:     pub,
		breaker: breaker,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record stamps, truncates and stores entry, then publishes audit.recorded.
// The session and user default to the ones bound to ctx.
func (t *Trail) Record(ctx context.Context, entry *models.AuditEntry) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	entry.ID = id
	entry.CreatedAt = t.now()
	if entry.SessionID == nil {
		entry.WithSession(shared.SessionID(ctx))
	}
	if entry.UserID == nil {
		if p, ok := auth.PrincipalFromContext(ctx); ok {
			entry.WithUser(p.ID)
		}
	}
	truncateEntry(entry)

	// The entry outlives a cancelled caller: a timed out subagent still gets
	// its failure row.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	_, err = t.breaker.Execute(func() (interface{}, error) {
		return nil, t.repo.Insert(writeCtx, entry)
	})
	if err != nil {
		status := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "circuit_open"
		}
		t.metrics.AuditWrites.WithLabelValues(status).Inc()
		observability.FromContext(ctx, t.logger).Error("failed to record audit entry",
			zap.Error(err),
			zap.String("action", string(entry.Action)),
			zap.String("audit_id", entry.ID.String()))
		return
	}
	t.metrics.AuditWrites.WithLabelValues("ok").Inc()

	if t.pub == nil {
		return
	}
	ev := bus.NewEvent(bus.AuditRecorded, deref(entry.SessionID), map[string]interface{}{
		"audit_id": entry.ID.String(),
		"action":   string(entry.Action),
	})
	if err := t.pub.Publish(writeCtx, ev); err != nil {
		t.logger.Warn("failed to publish audit event", zap.Error(err), zap.String("audit_id", entry.ID.String()))
	}
}

// List returns entries newest first, at most repositories.MaxAuditPageSize.
func (t *Trail) List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditEntry, error) {
	filter.Limit = filter.NormalizedLimit()
	return t.repo.List(ctx, filter)
}

// Truncate cuts s to limit runes and marks the cut with an ellipsis.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}

func truncateEntry(e *models.AuditEntry) {
	for _, f := range []*string{e.SessionID, e.UserID, e.ResourceID, e.Tool, e.InputSummary, e.OutputSummary} {
		if f != nil {
			*f = Truncate(*f, MaxFieldLength)
		}
	}
	// Structured metadata stays structured unless its encoding is too long.
	for k, v := range e.Metadata {
		if s, ok := v.(string); ok {
			e.Metadata[k] = Truncate(s, MaxFieldLength)
			continue
		}
		if s := models.Summarize(v); utf8.RuneCountInString(s) > MaxFieldLength {
			e.Metadata[k] = Truncate(s, MaxFieldLength)
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
