package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/upb/agent-governance/internal/auth"
	"github.com/upb/agent-governance/internal/shared"
)

// Field represents a structured log field.
type Field = zap.Field

// NewLogger builds a zap logger. format is "json" or "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// FromContext returns base annotated with the request, session and principal
// bound to ctx.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	fields := make([]zap.Field, 0, 4)
	if id := shared.RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id := shared.SessionID(ctx); id != "" {
		fields = append(fields, zap.String("session_id", id))
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		fields = append(fields, zap.String("principal_id", p.ID), zap.String("role", string(p.Role)))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
