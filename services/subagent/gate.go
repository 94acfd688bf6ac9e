package subagent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/services"
	"github.com/upb/agent-governance/services/budget"
	"github.com/upb/agent-governance/services/policy"
)

// RuleSessionDenied names denials from the session's own tool deny list.
const RuleSessionDenied = "session_denied_tool"

// PolicyEvaluator runs the policy chain.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, req policy.Request) (policy.Decision, error)
}

// Approver blocks on a pending permission request until it is decided.
type Approver interface {
	Await(ctx context.Context, req *models.PermissionRequest) (*models.PermissionRequest, error)
}

// OutputRedactor scrubs tool output.
type OutputRedactor interface {
	Redact(ctx context.Context, sessionID, tool, output string) string
}

// ToolCall is one tool invocation proposed by the execution loop.
type ToolCall struct {
	Tool  string
	Input map[string]interface{}
}

// Gate guards the tool calls of one child session. It is handed to the
// Executor and must be consulted around every tool call.
type Gate struct {
	session  *models.Session
	tracker  *budget.Tracker
	policy   PolicyEvaluator
	approver Approver
	redactor OutputRedactor
	cancel   context.CancelCauseFunc
	logger   *zap.Logger
}

// Before admits a tool call. The budget is checked first, then the session's
// deny list and the execute phase policy. An admitted call is counted.
func (g *Gate) Before(ctx context.Context, call ToolCall) error {
	if err := g.tracker.Err(); err != nil {
		g.exhaust(err)
		return err
	}

	if g.session.IsToolDenied(call.Tool) {
		return services.NewPolicyDeniedError(
			fmt.Sprintf("tool %q is not available in this session", call.Tool), RuleSessionDenied)
	}

	d, err := g.policy.Evaluate(ctx, policy.Request{
		Phase:     policy.PhaseExecute,
		Tool:      call.Tool,
		SessionID: g.session.ID,
		Metadata:  call.Input,
	})
	if err != nil {
		return err
	}

	switch d.Outcome {
	case policy.OutcomeDeny:
		return d.Err()
	case policy.OutcomePending:
		if g.approver == nil {
			return services.NewPolicyDeniedError("approval required but no approver is available", d.Rule)
		}
		req := models.NewPermissionRequest(g.session.ID, call.Tool, []string{call.Tool}, call.Input)
		if _, err := g.approver.Await(ctx, req); err != nil {
			return err
		}
	}

	g.tracker.RecordToolCall()
	return nil
}

// After returns output with secrets redacted.
func (g *Gate) After(ctx context.Context, call ToolCall, output string) string {
	if g.redactor == nil {
		return output
	}
	return g.redactor.Redact(ctx, g.session.ID, call.Tool, output)
}

// RecordTokens adds model usage. Crossing the token ceiling cancels the
// session.
func (g *Gate) RecordTokens(n int) {
	g.tracker.RecordTokens(n)
	if err := g.tracker.Err(); err != nil {
		g.exhaust(err)
	}
}

// Budget returns the current counters.
func (g *Gate) Budget() budget.State {
	return g.tracker.Snapshot()
}

// Session returns the child session the gate guards.
func (g *Gate) Session() *models.Session {
	return g.session
}

func (g *Gate) exhaust(err error) {
	if g.cancel == nil {
		return
	}
	g.logger.Info("subagent budget exhausted",
		zap.String("session_id", g.session.ID),
		zap.String("violation", services.GetErrorMessage(err)))
	g.cancel(err)
}
