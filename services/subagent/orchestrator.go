// Package subagent dispatches batches of subagent tasks into isolated child
// sessions.
//
// A batch is validated, authorized once for the union of its agent types and
// resolved against the Registry before any session exists. Each task then
// runs in its own goroutine with its own cancellation scope, budget and Gate,
// so a timeout, budget overrun or panic in one task never touches another.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/internal/shared"
	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/services"
	"github.com/upb/agent-governance/services/audit"
	"github.com/upb/agent-governance/services/budget"
	"github.com/upb/agent-governance/services/permission"
	"github.com/upb/agent-governance/services/policy"
	"github.com/upb/agent-governance/services/session"
)

// MaxBatchSize is the largest number of tasks one batch may carry.
const MaxBatchSize = 5

// BatchAction is the permission action asked for every batch.
const BatchAction = "task"

var validate = validator.New()

// Task is one unit of delegated work.
type Task struct {
	Description  string `json:"description" validate:"required"`
	Prompt       string `json:"prompt" validate:"required"`
	SubagentType string `json:"subagent_type" validate:"required"`
}

// Batch is the input of one dispatch.
type Batch struct {
	Tasks []Task `json:"tasks" validate:"required,min=1,max=5,dive"`
}

// Result is the outcome of one task. Text is the last text fragment on
// success and the error message on failure.
type Result struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Success bool   `json:"success"`
}

// Summary aggregates a batch in input order.
type Summary struct {
	Results   []Result `json:"results"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
}

// SessionService is the session lifecycle the orchestrator drives.
type SessionService interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Create(ctx context.Context, in session.CreateInput) (*models.Session, error)
	MarkError(ctx context.Context, id, message string) error
}

// Permissions asks for batch authorization and awaits tool approvals.
type Permissions interface {
	Approver
	Ask(ctx context.Context, in permission.AskInput) (*models.PermissionRequest, error)
}

// Config wires an Orchestrator.
type Config struct {
	Sessions    SessionService
	Agents      *Registry
	Executor    Executor
	Permissions Permissions
	Policy      PolicyEvaluator
	// PolicySource supplies the default per-session tool call ceiling. Optional.
	PolicySource policy.Source
	Redactor     OutputRedactor
	Recorder     audit.Recorder
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	// AskDefault decides a batch the policy leaves unresolved. Defaults to allow.
	AskDefault permission.Default
}

// Orchestrator fans a batch out to subagents.
type Orchestrator struct {
	cfg    Config
	tracer trace.Tracer
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.AskDefault == "" {
		cfg.AskDefault = permission.DefaultAllow
	}
	return &Orchestrator{cfg: cfg, tracer: observability.Tracer()}
}

// Dispatch runs batch on behalf of the session parentID. It fails as a whole
// only before dispatch: on validation, a missing caller session, a denied
// batch or an unknown agent type. After that every task failure is reported
// in its own Result.
func (o *Orchestrator) Dispatch(ctx context.Context, parentID string, batch Batch) (*Summary, error) {
	ctx, span := o.tracer.Start(ctx, "subagent.batch", trace.WithAttributes(
		attribute.String("session.id", parentID),
		attribute.Int("batch.size", len(batch.Tasks)),
	))
	defer span.End()

	summary, err := o.dispatch(ctx, parentID, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("batch.succeeded", summary.Succeeded),
		attribute.Int("batch.failed", summary.Failed),
	)
	return summary, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, parentID string, batch Batch) (*Summary, error) {
	if err := validate.Struct(batch); err != nil {
		return nil, services.NewValidationError(fmt.Sprintf("invalid task batch: %d tasks, 1 to %d required with description, prompt and subagent_type", len(batch.Tasks), MaxBatchSize), err)
	}

	parent, err := o.cfg.Sessions.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}

	types := agentTypes(batch.Tasks)
	if _, err := o.cfg.Permissions.Ask(ctx, permission.AskInput{
		SessionID: parentID,
		Action:    BatchAction,
		Patterns:  types,
		Metadata:  map[string]interface{}{"descriptions": descriptions(batch.Tasks)},
		Default:   o.cfg.AskDefault,
	}); err != nil {
		return nil, err
	}

	names := make([]string, len(batch.Tasks))
	for i, t := range batch.Tasks {
		names[i] = t.SubagentType
	}
	agents, err := o.cfg.Agents.Resolve(names)
	if err != nil {
		return nil, err
	}

	defaultCalls := o.defaultToolCalls(ctx)

	results := make([]Result, len(batch.Tasks))
	var wg sync.WaitGroup
	for i := range batch.Tasks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.runTask(ctx, parent, batch.Tasks[i], agents[i], defaultCalls)
		}(i)
	}
	wg.Wait()

	summary := &Summary{Results: results}
	for _, r := range results {
		if r.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	observability.FromContext(ctx, o.cfg.Logger).Info("subagent batch finished",
		zap.String("session_id", parentID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (o *Orchestrator) runTask(ctx context.Context, parent *models.Session, task Task, agent *models.Agent, defaultCalls *int) Result {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "subagent.task", trace.WithAttributes(
		attribute.String("agent.name", agent.Name),
		attribute.String("task.description", task.Description),
	))
	defer span.End()

	model := agent.Model
	if model == "" {
		model = parent.Model
	}

	child, err := o.cfg.Sessions.Create(ctx, session.CreateInput{
		Title:       task.Description,
		ParentID:    parent.ID,
		AgentType:   agent.Name,
		Model:       model,
		DeniedTools: agent.DeniedTools(),
	})
	if err != nil {
		return o.fail(ctx, span, start, parent.ID, "", task, err)
	}
	span.SetAttributes(attribute.String("session.id", child.ID))

	taskCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if agent.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		taskCtx, cancelTimeout = context.WithTimeout(taskCtx, agent.Timeout)
		defer cancelTimeout()
	}
	taskCtx = shared.WithSessionID(taskCtx, child.ID)

	gate := &Gate{
		session:  child,
		tracker:  budget.NewTracker(taskLimits(agent, defaultCalls)),
		policy:   o.cfg.Policy,
		approver: o.cfg.Permissions,
		redactor: o.cfg.Redactor,
		cancel:   cancel,
		logger:   o.cfg.Logger,
	}

	fragments, err := o.execute(taskCtx, Run{
		Session: child,
		Agent:   agent,
		Prompt:  task.Prompt,
		Model:   model,
		Gate:    gate,
	})
	// A loop that stops cooperatively after a budget or timeout cancel still
	// fails the task.
	if err = taskError(ctx, taskCtx, agent, err); err != nil {
		if markErr := o.cfg.Sessions.MarkError(context.WithoutCancel(ctx), child.ID, services.GetErrorMessage(err)); markErr != nil {
			o.cfg.Logger.Warn("failed to mark subagent session", zap.String("session_id", child.ID), zap.Error(markErr))
		}
		return o.fail(ctx, span, start, parent.ID, child.ID, task, err)
	}

	o.cfg.Metrics.SubagentTasks.WithLabelValues(agent.Name, "succeeded").Inc()
	o.cfg.Metrics.SubagentDuration.WithLabelValues(agent.Name).Observe(time.Since(start).Seconds())
	return Result{ID: child.ID, Text: lastText(fragments), Success: true}
}

// execute calls the executor and turns a panic into an error.
func (o *Orchestrator) execute(ctx context.Context, run Run) (fragments []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.cfg.Logger.Error("subagent panicked",
				zap.String("session_id", run.Session.ID),
				zap.Any("panic", r))
			err = fmt.Errorf("subagent panicked: %v", r)
		}
	}()
	return o.cfg.Executor.Execute(ctx, run)
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, start time.Time, parentID, childID string, task Task, err error) Result {
	msg := services.GetErrorMessage(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)

	o.cfg.Metrics.SubagentTasks.WithLabelValues(task.SubagentType, "failed").Inc()
	o.cfg.Metrics.SubagentDuration.WithLabelValues(task.SubagentType).Observe(time.Since(start).Seconds())

	if o.cfg.Recorder != nil {
		entry := models.NewAuditEntry(models.AuditActionSubagentFailed, models.ResourceSubagent).
			WithSession(parentID).
			WithTool(BatchAction).
			WithInput(task.Description).
			WithOutput(msg).
			WithMetadata("description", task.Description).
			WithMetadata("subagent_type", task.SubagentType)
		if childID != "" {
			entry.WithResource(childID)
		}
		o.cfg.Recorder.Record(ctx, entry)
	}

	observability.FromContext(ctx, o.cfg.Logger).Warn("subagent task failed",
		zap.String("subagent_type", task.SubagentType),
		zap.String("child_session_id", childID),
		zap.Error(err))
	return Result{ID: childID, Text: msg, Success: false}
}

func (o *Orchestrator) defaultToolCalls(ctx context.Context) *int {
	if o.cfg.PolicySource == nil {
		return nil
	}
	cfg, err := o.cfg.PolicySource.LoadPolicy(ctx)
	if err != nil {
		o.cfg.Logger.Warn("failed to load session tool call ceiling", zap.Error(err))
		return nil
	}
	return cfg.MaxToolCallsPerSession
}

// taskError prefers the budget violation that cancelled the task, then names
// the agent timeout, over the executor's own error. It returns nil only when
// the executor succeeded and the task was not cut short.
func taskError(parent, taskCtx context.Context, agent *models.Agent, err error) error {
	cause := context.Cause(taskCtx)
	if services.IsBudgetError(cause) {
		return cause
	}
	if errors.Is(cause, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("subagent %s timed out after %s", agent.Name, agent.Timeout)
	}
	return err
}

func taskLimits(agent *models.Agent, defaultCalls *int) models.BudgetLimits {
	limits := agent.Budget
	if limits.MaxToolCalls == nil {
		limits.MaxToolCalls = defaultCalls
	}
	if agent.Timeout > 0 {
		timeout := agent.Timeout
		limits.Timeout = &timeout
	}
	return limits
}

// agentTypes returns the distinct agent types in first-seen order.
func agentTypes(tasks []Task) []string {
	seen := make(map[string]bool, len(tasks))
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if !seen[t.SubagentType] {
			seen[t.SubagentType] = true
			out = append(out, t.SubagentType)
		}
	}
	return out
}

func descriptions(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Description
	}
	return out
}

func lastText(fragments []string) string {
	for i := len(fragments) - 1; i >= 0; i-- {
		if strings.TrimSpace(fragments[i]) != "" {
			return fragments[i]
		}
	}
	return ""
}
