package subagent

import (
	"context"

	"github.com/upb/agent-governance/models"
)

// Run is everything an execution loop needs for one task.
type Run struct {
	Session *models.Session
	Agent   *models.Agent
	Prompt  string
	Model   string
	Gate    *Gate
}

// Executor drives one subagent conversation to completion. It must call
// Gate.Before ahead of every tool call, pass tool output through Gate.After
// and report model usage through Gate.RecordTokens. It returns the text
// fragments produced, in order.
type Executor interface {
	Execute(ctx context.Context, run Run) ([]string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, run Run) ([]string, error)

func (f ExecutorFunc) Execute(ctx context.Context, run Run) ([]string, error) {
	return f(ctx, run)
}
