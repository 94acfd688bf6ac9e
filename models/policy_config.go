package models

import "time"

// PolicyConfig is the deny/approval rule set read by the policy evaluator.
// Empty fields impose no restriction.
type PolicyConfig struct {
	GlobalDenyTools        []string            `json:"deny_tools,omitempty" yaml:"deny_tools" mapstructure:"deny_tools"`
	DenyToolsByRole        map[string][]string `json:"deny_tools_by_role,omitempty" yaml:"deny_tools_by_role" mapstructure:"deny_tools_by_role"`
	DenyPatterns           []string            `json:"deny_patterns,omitempty" yaml:"deny_patterns" mapstructure:"deny_patterns"`
	ApprovalRequiredTools  []string            `json:"approval_required_tools,omitempty" yaml:"approval_required_tools" mapstructure:"approval_required_tools"`
	MaxToolCallsPerSession *int                `json:"max_tool_calls_per_session,omitempty" yaml:"max_tool_calls_per_session" mapstructure:"max_tool_calls_per_session"`
}

// RetentionConfig holds retention windows in days. A nil window means the
// default applies; zero disables the sweep for that table.
type RetentionConfig struct {
	AuditDays          *int `json:"audit_days,omitempty" yaml:"audit_days" mapstructure:"audit_days"`
	SessionDays        *int `json:"session_days,omitempty" yaml:"session_days" mapstructure:"session_days"`
	SweepIntervalHours *int `json:"sweep_interval_hours,omitempty" yaml:"sweep_interval_hours" mapstructure:"sweep_interval_hours"`
}

// DefaultRetentionDays applies when a retention window is not configured.
const DefaultRetentionDays = 90

// DefaultSweepInterval is the retention sweep cadence when none is configured.
const DefaultSweepInterval = 24 * time.Hour

// AuditRetention returns the audit window and whether the sweep is enabled.
func (r RetentionConfig) AuditRetention() (time.Duration, bool) {
	return retentionWindow(r.AuditDays)
}

// SessionRetention returns the session window and whether the sweep is enabled.
func (r RetentionConfig) SessionRetention() (time.Duration, bool) {
	return retentionWindow(r.SessionDays)
}

// SweepInterval returns how often retention sweeps run.
func (r RetentionConfig) SweepInterval() time.Duration {
	if r.SweepIntervalHours == nil || *r.SweepIntervalHours <= 0 {
		return DefaultSweepInterval
	}
	return time.Duration(*r.SweepIntervalHours) * time.Hour
}

func retentionWindow(days *int) (time.Duration, bool) {
	if days == nil {
		return DefaultRetentionDays * 24 * time.Hour, true
	}
	if *days <= 0 {
		return 0, false
	}
	return time.Duration(*days) * 24 * time.Hour, true
}
