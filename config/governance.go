package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/auth"
	"github.com/upb/agent-governance/models"
)

// Governance is the merged content of the governance files.
type Governance struct {
	Policy    models.PolicyConfig    `mapstructure:"policy"`
	Retention models.RetentionConfig `mapstructure:"retention"`
	Auth      AuthSettings           `mapstructure:"auth"`
}

// AuthSettings maps identity provider claims to principals.
type AuthSettings struct {
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
	RoleClaim string `mapstructure:"role_claim"`
	// RoleMap keys are lower-cased by the loader.
	RoleMap    map[string]string `mapstructure:"role_map"`
	StaticKeys []auth.StaticKey  `mapstructure:"static_keys"`
}

// envBound lists keys that may be overridden with GOVERNANCE_* variables
// even when no file sets them.
var envBound = []string{
	"policy.max_tool_calls_per_session",
	"retention.audit_days",
	"retention.session_days",
	"retention.sweep_interval_hours",
	"auth.issuer",
	"auth.audience",
	"auth.role_claim",
}

// GovernanceLoader reads the layered governance files. Later layers override
// earlier ones: global, then project, then managed.
type GovernanceLoader struct {
	layers []string
	logger *zap.Logger
}

func NewGovernanceLoader(paths GovernancePaths, logger *zap.Logger) *GovernanceLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GovernanceLoader{
		layers: []string{paths.GlobalFile, paths.ProjectFile, paths.ManagedFile},
		logger: logger,
	}
}

// Load reads every layer from disk. Nothing is cached, so edits take effect
// on the next call.
func (l *GovernanceLoader) Load(ctx context.Context) (*Governance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GOVERNANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envBound {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	for _, path := range l.layers {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat governance file %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read governance file %s: %w", path, err)
		}
		l.logger.Debug("governance layer merged", zap.String("path", path))
	}

	var g Governance
	if err := v.Unmarshal(&g); err != nil {
		return nil, fmt.Errorf("decode governance config: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadPolicy returns a freshly read policy.
func (l *GovernanceLoader) LoadPolicy(ctx context.Context) (*models.PolicyConfig, error) {
	g, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &g.Policy, nil
}

// Layers returns the configured layer paths, lowest precedence first.
func (l *GovernanceLoader) Layers() []string {
	return append([]string(nil), l.layers...)
}

// Validate rejects settings that cannot be applied.
func (g *Governance) Validate() error {
	for role := range g.Policy.DenyToolsByRole {
		if !auth.Role(role).Valid() {
			return fmt.Errorf("deny_tools_by_role: unknown role %q", role)
		}
	}
	for from, to := range g.Auth.RoleMap {
		if !auth.Role(strings.ToLower(to)).Valid() {
			return fmt.Errorf("role_map: %q maps to unknown role %q", from, to)
		}
	}
	// Omit the key for no limit.
	if n := g.Policy.MaxToolCallsPerSession; n != nil && *n <= 0 {
		return fmt.Errorf("max_tool_calls_per_session must be positive, got %d", *n)
	}
	for name, days := range map[string]*int{
		"audit_days":   g.Retention.AuditDays,
		"session_days": g.Retention.SessionDays,
	} {
		if days != nil && *days < 0 {
			return fmt.Errorf("retention.%s must not be negative", name)
		}
	}
	return nil
}

// LogRetention warns about disabled sweeps so an explicit zero is visible at startup.
func (g *Governance) LogRetention(logger *zap.Logger) {
	if _, ok := g.Retention.AuditRetention(); !ok {
		logger.Warn("audit log retention disabled (retention.audit_days = 0); audit rows are kept forever")
	}
	if _, ok := g.Retention.SessionRetention(); !ok {
		logger.Warn("session retention disabled (retention.session_days = 0); sessions are kept forever")
	}
}
