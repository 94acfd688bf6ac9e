// Package budget tracks per-session resource use against configured ceilings.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/services"
)

// State is a point-in-time copy of a tracker's counters.
type State struct {
	ToolCalls   int                 `json:"tool_calls"`
	TotalTokens int                 `json:"total_tokens"`
	StartTime   time.Time           `json:"start_time"`
	Elapsed     time.Duration       `json:"elapsed"`
	Limits      models.BudgetLimits `json:"limits"`
}

// Tracker counts tool calls and tokens for one session. Counters only grow.
type Tracker struct {
	mu          sync.Mutex
	toolCalls   int
	totalTokens int
	start       time.Time
	limits      models.BudgetLimits
	now         func() time.Time
}

// NewTracker starts the clock now. Nil limits disable the matching check.
func NewTracker(limits models.BudgetLimits) *Tracker {
	return newTrackerAt(limits, time.Now)
}

func newTrackerAt(limits models.BudgetLimits, now func() time.Time) *Tracker {
	return &Tracker{
		start:  now(),
		limits: limits,
		now:    now,
	}
}

func (t *Tracker) RecordToolCall() {
	t.mu.Lock()
	t.toolCalls++
	t.mu.Unlock()
}

// RecordTokens adds n tokens. Non-positive n is ignored.
func (t *Tracker) RecordTokens(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.totalTokens += n
	t.mu.Unlock()
}

// Check reports the first violated ceiling in the order tool calls, tokens,
// elapsed time. exceeded is false when nothing is violated.
func (t *Tracker) Check() (violation string, exceeded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit := t.limits.MaxToolCalls; limit != nil && t.toolCalls >= *limit {
		return fmt.Sprintf("tool call limit reached (%d/%d)", t.toolCalls, *limit), true
	}
	if limit := t.limits.MaxTokens; limit != nil && t.totalTokens >= *limit {
		return fmt.Sprintf("token limit reached (%d/%d)", t.totalTokens, *limit), true
	}
	if timeout := t.limits.Timeout; timeout != nil {
		if elapsed := t.now().Sub(t.start); elapsed >= *timeout {
			return fmt.Sprintf("time limit reached (%s/%s)", elapsed.Round(time.Millisecond), *timeout), true
		}
	}
	return "", false
}

// Err returns a budget error for the current violation, or nil.
func (t *Tracker) Err() error {
	if v, exceeded := t.Check(); exceeded {
		return services.NewBudgetExceededError(v)
	}
	return nil
}

// Snapshot copies the current counters.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		ToolCalls:   t.toolCalls,
		TotalTokens: t.totalTokens,
		StartTime:   t.start,
		Elapsed:     t.now().Sub(t.start),
		Limits:      t.limits,
	}
}
