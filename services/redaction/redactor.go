package redaction

import (
	"context"

	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/auth"
	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/services/audit"
)

// Redactor applies an Engine to tool output on behalf of the bound principal
// and audits every pass that found something.
type Redactor struct {
	engine  *Engine
	caps    auth.CapabilityMap
	rec     audit.Recorder
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRedactor creates a Redactor. rec may be nil.
func NewRedactor(engine *Engine, rec audit.Recorder, metrics *observability.Metrics, logger *zap.Logger) *Redactor {
	if engine == nil {
		engine = NewEngine()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Redactor{
		engine:  engine,
		caps:    auth.DefaultCapabilities,
		rec:     rec,
		metrics: metrics,
		logger:  logger,
	}
}

// Redact scrubs output produced by tool in sessionID. Principals holding
// redaction.bypass get the output unchanged.
func (r *Redactor) Redact(ctx context.Context, sessionID, tool, output string) string {
	if r.caps.Can(ctx, auth.CapRedactionBypass) {
		return output
	}

	redacted, findings := r.engine.Scan(output)
	if len(findings) == 0 {
		return output
	}

	types := DistinctTypes(findings)
	for _, f := range findings {
		r.metrics.RedactionFindings.WithLabelValues(f.Type).Inc()
	}
	observability.FromContext(ctx, r.logger).Info("redacted tool output",
		zap.String("tool", tool),
		zap.Int("count", len(findings)),
		zap.Strings("types", types))

	if r.rec != nil {
		r.rec.Record(ctx, models.NewAuditEntry(models.AuditActionRedaction, models.ResourceTool).
			WithSession(sessionID).
			WithTool(tool).
			WithMetadata("count", len(findings)).
			WithMetadata("types", types))
	}
	return redacted
}
