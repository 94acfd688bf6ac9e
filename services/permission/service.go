// Package permission tracks approval requests from pending to their one
// decision.
package permission

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/auth"
	"github.com/upb/agent-governance/internal/bus"
	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/services"
	"github.com/upb/agent-governance/services/policy"
)

// Default decides an unresolved policy outcome.
type Default string

const (
	DefaultAllow Default = "allow"
	DefaultAsk   Default = "ask"
)

// decidedRetention is how long a decided request is remembered so a late
// reply gets a conflict instead of not found.
const decidedRetention = time.Hour

// Evaluator is the policy side consulted by Ask.
type Evaluator interface {
	Evaluate(ctx context.Context, req policy.Request) (policy.Decision, error)
}

// AskInput describes an action that may need approval.
type AskInput struct {
	SessionID string
	Action    string
	Patterns  []string
	Metadata  map[string]interface{}
	Default   Default
}

type entry struct {
	req  *models.PermissionRequest
	done chan struct{}
}

// Service holds pending requests in memory. Replies wake the waiting caller.
type Service struct {
	eval    Evaluator
	pub     bus.Publisher
	metrics *observability.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	requests map[string]*entry
}

// NewService creates a Service. pub may be nil.
func NewService(eval Evaluator, pub bus.Publisher, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Service{
		eval:     eval,
		pub:      pub,
		metrics:  metrics,
		logger:   logger,
		requests: make(map[string]*entry),
	}
}

// Ask evaluates the policy at the ask phase. A deny fails at once; an allow,
// or an unresolved outcome under DefaultAllow, succeeds at once. Anything else
// waits for Reply or ctx.
func (s *Service) Ask(ctx context.Context, in AskInput) (*models.PermissionRequest, error) {
	req := models.NewPermissionRequest(in.SessionID, in.Action, in.Patterns, in.Metadata)

	meta := make(map[string]interface{}, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	if len(in.Patterns) > 0 {
		meta["patterns"] = in.Patterns
	}

	d, err := s.eval.Evaluate(ctx, policy.Request{
		Phase:     policy.PhaseAsk,
		Tool:      in.Action,
		SessionID: in.SessionID,
		Metadata:  meta,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case d.Outcome == policy.OutcomeDeny:
		s.decide(req, models.PermissionDenied, d.Reason, "policy")
		return req, d.Err()
	case d.Outcome == policy.OutcomeAllow,
		d.Outcome == policy.OutcomeUnresolved && in.Default != DefaultAsk:
		s.decide(req, models.PermissionAllowed, d.Rule, "policy")
		return req, nil
	}
	return s.Await(ctx, req)
}

// Await registers req as pending, announces it and blocks until it is decided
// or ctx is done. A denied request returns a policy violation error.
func (s *Service) Await(ctx context.Context, req *models.PermissionRequest) (*models.PermissionRequest, error) {
	e := &entry{req: req, done: make(chan struct{})}

	s.mu.Lock()
	s.requests[req.ID] = e
	s.mu.Unlock()
	s.metrics.PendingApprovals.Inc()

	s.publish(ctx, bus.NewEvent(bus.PermissionAsked, req.SessionID, map[string]interface{}{
		"permission_id": req.ID,
		"action":        req.Action,
		"patterns":      req.Patterns,
	}))

	select {
	case <-e.done:
	case <-ctx.Done():
		s.mu.Lock()
		if !req.Decided() {
			delete(s.requests, req.ID)
			s.mu.Unlock()
			s.metrics.PendingApprovals.Dec()
			return nil, ctx.Err()
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	cp := *req
	s.mu.Unlock()

	if cp.Status == models.PermissionDenied {
		reason := cp.Reason
		if reason == "" {
			reason = "permission denied"
		}
		return &cp, services.NewPolicyDeniedError(reason, "reviewer")
	}
	return &cp, nil
}

// Reply records the decision for a pending request. The deciding principal is
// taken from ctx.
func (s *Service) Reply(ctx context.Context, id string, allow bool, reason string) (*models.PermissionRequest, error) {
	decidedBy := ""
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		decidedBy = p.ID
	}

	s.mu.Lock()
	s.pruneLocked()
	e, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return nil, services.ErrPermissionNotFound
	}
	if e.req.Decided() {
		s.mu.Unlock()
		return nil, services.NewDomainError(services.ErrorTypeConflict, "permission request already decided", nil).
			WithDetail("status", string(e.req.Status))
	}

	status := models.PermissionDenied
	if allow {
		status = models.PermissionAllowed
	}
	s.decideLocked(e.req, status, reason, decidedBy)
	cp := *e.req
	close(e.done)
	s.mu.Unlock()

	s.metrics.PendingApprovals.Dec()
	s.publish(ctx, bus.NewEvent(bus.PermissionReplied, cp.SessionID, map[string]interface{}{
		"permission_id": cp.ID,
		"action":        cp.Action,
		"patterns":      cp.Patterns,
		"decision":      string(cp.Status),
		"decided_by":    decidedBy,
		"reason":        reason,
	}))
	observability.FromContext(ctx, s.logger).Info("permission decided",
		zap.String("permission_id", cp.ID),
		zap.String("decision", string(cp.Status)))

	return &cp, nil
}

// Get returns one request, pending or recently decided.
func (s *Service) Get(id string) (*models.PermissionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.requests[id]
	if !ok {
		return nil, services.ErrPermissionNotFound
	}
	cp := *e.req
	return &cp, nil
}

// List returns the pending requests, oldest first.
func (s *Service) List() []*models.PermissionRequest {
	s.mu.Lock()
	out := make([]*models.PermissionRequest, 0, len(s.requests))
	for _, e := range s.requests {
		if !e.req.Decided() {
			cp := *e.req
			out = append(out, &cp)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Service) decide(req *models.PermissionRequest, status models.PermissionStatus, reason, by string) {
	s.mu.Lock()
	s.decideLocked(req, status, reason, by)
	s.mu.Unlock()
}

func (s *Service) decideLocked(req *models.PermissionRequest, status models.PermissionStatus, reason, by string) {
	now := time.Now().UTC()
	req.Status = status
	req.Reason = reason
	req.DecidedBy = by
	req.DecidedAt = &now
}

// pruneLocked forgets requests decided more than decidedRetention ago.
func (s *Service) pruneLocked() {
	cutoff := time.Now().Add(-decidedRetention)
	for id, e := range s.requests {
		if e.req.DecidedAt != nil && e.req.DecidedAt.Before(cutoff) {
			delete(s.requests, id)
		}
	}
}

func (s *Service) publish(ctx context.Context, ev bus.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish permission event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
