// Package policy evaluates tool invocations against the configured deny and
// approval rules.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/auth"
	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/services"
	"github.com/upb/agent-governance/services/audit"
)

// Phase is the point in a tool call's life at which the chain runs.
type Phase string

const (
	// PhaseAsk runs before an action is surfaced for approval.
	PhaseAsk Phase = "ask"
	// PhaseExecute runs immediately before the tool executes.
	PhaseExecute Phase = "execute"
)

// Outcome is the result of one evaluation.
type Outcome string

const (
	OutcomeAllow   Outcome = "allow"
	OutcomeDeny    Outcome = "deny"
	OutcomePending Outcome = "pending"
	// OutcomeUnresolved leaves the decision to the caller's default.
	OutcomeUnresolved Outcome = "unresolved"
)

// Rule names reported on decisions, audit rows and metrics.
const (
	RuleViewerNoExecute  = "viewer_no_execute"
	RuleGlobalDeny       = "global_deny"
	RuleRoleDeny         = "role_deny"
	RuleDenyPattern      = "deny_pattern"
	RuleApprovalRequired = "approval_required"
	RuleAdminAllow       = "admin_allow"
)

// Source supplies the current policy. It is consulted on every evaluation.
type Source interface {
	LoadPolicy(ctx context.Context) (*models.PolicyConfig, error)
}

// StaticSource serves a fixed policy.
type StaticSource struct {
	Policy models.PolicyConfig
}

func (s StaticSource) LoadPolicy(context.Context) (*models.PolicyConfig, error) {
	p := s.Policy
	return &p, nil
}

// Request describes one tool invocation.
type Request struct {
	Phase     Phase
	Tool      string
	SessionID string
	Metadata  map[string]interface{}
}

// Decision is the tagged result of the chain.
type Decision struct {
	Outcome Outcome
	Reason  string
	Rule    string
}

// Err converts a deny into a policy violation error; other outcomes give nil.
func (d Decision) Err() error {
	if d.Outcome != OutcomeDeny {
		return nil
	}
	return services.NewPolicyDeniedError(d.Reason, d.Rule)
}

// Evaluator runs the rule chain.
type Evaluator struct {
	source  Source
	caps    auth.CapabilityMap
	rec     audit.Recorder
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewEvaluator creates an evaluator that checks capabilities against
// auth.DefaultCapabilities.
func NewEvaluator(source Source, rec audit.Recorder, metrics *observability.Metrics, logger *zap.Logger) *Evaluator {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Evaluator{
		source:  source,
		caps:    auth.DefaultCapabilities,
		rec:     rec,
		metrics: metrics,
		logger:  logger,
	}
}

// WithCapabilities returns a copy that consults caps instead of the defaults.
func (e *Evaluator) WithCapabilities(caps auth.CapabilityMap) *Evaluator {
	cp := *e
	cp.caps = caps
	return &cp
}

// Evaluate runs the chain for req. The first matching rule decides. Deny and
// pending outcomes are audited before Evaluate returns. An error means the
// policy could not be loaded.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Decision, error) {
	cfg, err := e.source.LoadPolicy(ctx)
	if err != nil {
		return Decision{}, services.NewDomainError(services.ErrorTypeInternal, "failed to load policy", err)
	}

	d := e.decide(ctx, cfg, req)
	e.metrics.PolicyDecisions.WithLabelValues(string(req.Phase), string(d.Outcome), d.Rule).Inc()

	if d.Outcome == OutcomeDeny || d.Outcome == OutcomePending {
		e.record(ctx, req, d)
		observability.FromContext(ctx, e.logger).Info("policy decision",
			zap.String("phase", string(req.Phase)),
			zap.String("tool", req.Tool),
			zap.String("outcome", string(d.Outcome)),
			zap.String("rule", d.Rule))
	}
	return d, nil
}

func (e *Evaluator) decide(ctx context.Context, cfg *models.PolicyConfig, req Request) Decision {
	p, hasPrincipal := auth.PrincipalFromContext(ctx)

	if hasPrincipal && p.Role == auth.RoleViewer && !e.caps.Can(ctx, auth.CapToolExecute) {
		return Decision{
			Outcome: OutcomeDeny,
			Reason:  fmt.Sprintf("role %s may not execute tools", p.Role),
			Rule:    RuleViewerNoExecute,
		}
	}

	if slices.Contains(cfg.GlobalDenyTools, req.Tool) {
		return Decision{
			Outcome: OutcomeDeny,
			Reason:  fmt.Sprintf("tool %s is denied by policy", req.Tool),
			Rule:    RuleGlobalDeny,
		}
	}

	if hasPrincipal && slices.Contains(cfg.DenyToolsByRole[string(p.Role)], req.Tool) {
		return Decision{
			Outcome: OutcomeDeny,
			Reason:  fmt.Sprintf("tool %s is denied for role %s", req.Tool, p.Role),
			Rule:    RuleRoleDeny,
		}
	}

	if len(cfg.DenyPatterns) > 0 {
		haystack := strings.ToLower(serialize(req.Metadata))
		for _, pattern := range cfg.DenyPatterns {
			if pattern != "" && strings.Contains(haystack, strings.ToLower(pattern)) {
				return Decision{
					Outcome: OutcomeDeny,
					Reason:  fmt.Sprintf("request matches denied pattern %q", pattern),
					Rule:    RuleDenyPattern,
				}
			}
		}
	}

	if slices.Contains(cfg.ApprovalRequiredTools, req.Tool) {
		return Decision{
			Outcome: OutcomePending,
			Reason:  fmt.Sprintf("tool %s requires approval", req.Tool),
			Rule:    RuleApprovalRequired,
		}
	}

	if hasPrincipal && p.Role == auth.RoleAdmin {
		return Decision{Outcome: OutcomeAllow, Rule: RuleAdminAllow}
	}
	return Decision{Outcome: OutcomeUnresolved}
}

func (e *Evaluator) record(ctx context.Context, req Request, d Decision) {
	if e.rec == nil {
		return
	}
	action := models.AuditActionPolicyDeny
	decision := models.DecisionDeny
	if d.Outcome == OutcomePending {
		action = models.AuditActionPolicyPending
		decision = models.DecisionPending
	}
	e.rec.Record(ctx, models.NewAuditEntry(action, models.ResourceTool).
		WithSession(req.SessionID).
		WithTool(req.Tool).
		WithInput(req.Metadata).
		WithDecision(decision).
		WithMetadata("phase", string(req.Phase)).
		WithMetadata("rule", d.Rule).
		WithMetadata("reason", d.Reason))
}

func serialize(v map[string]interface{}) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
