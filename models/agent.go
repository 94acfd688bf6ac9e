package models

import "time"

// Tools a subagent session may not use unless its definition grants them.
var RestrictedSubagentTools = []string{"todowrite", "todoread", "task"}

// BudgetLimits bounds one subagent's resource use. Nil fields are unlimited.
type BudgetLimits struct {
	MaxToolCalls *int           `json:"max_tool_calls,omitempty" yaml:"max_tool_calls"`
	MaxTokens    *int           `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Timeout      *time.Duration `json:"timeout,omitempty" yaml:"-"` // taken from Agent.Timeout
}

// Agent is a subagent definition.
type Agent struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Model       string          `json:"model,omitempty" yaml:"model"`
	Prompt      string          `json:"prompt,omitempty" yaml:"prompt"`
	Timeout     time.Duration   `json:"timeout,omitempty" yaml:"timeout"`
	Tools       map[string]bool `json:"tools,omitempty" yaml:"tools"`
	Budget      BudgetLimits    `json:"budget" yaml:"budget"`
}

// DeniedTools returns the restricted tools the agent has not been granted.
func (a *Agent) DeniedTools() []string {
	denied := make([]string, 0, len(RestrictedSubagentTools))
	for _, t := range RestrictedSubagentTools {
		if !a.Tools[t] {
			denied = append(denied, t)
		}
	}
	return denied
}
