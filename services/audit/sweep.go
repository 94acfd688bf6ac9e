package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/models"
)

// Pruner deletes rows at or before a cutoff. Audit and session repositories
// both satisfy it.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionTarget is one table swept by age.
type RetentionTarget struct {
	Table   string
	Pruner  Pruner
	Window  time.Duration
	Enabled bool
}

// RetentionWorker deletes rows older than each target's window.
type RetentionWorker struct {
	targets  []RetentionTarget
	interval time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewRetentionWorker builds the audit_logs and sessions targets from cfg.
// sessions may be nil.
func NewRetentionWorker(cfg models.RetentionConfig, auditLogs, sessions Pruner, metrics *observability.Metrics, logger *zap.Logger) *RetentionWorker {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	w := &RetentionWorker{
		interval: cfg.SweepInterval(),
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
	window, enabled := cfg.AuditRetention()
	w.targets = append(w.targets, RetentionTarget{Table: "audit_logs", Pruner: auditLogs, Window: window, Enabled: enabled})
	if sessions != nil {
		window, enabled = cfg.SessionRetention()
		w.targets = append(w.targets, RetentionTarget{Table: "sessions", Pruner: sessions, Window: window, Enabled: enabled})
	}
	return w
}

// Targets returns the configured targets.
func (w *RetentionWorker) Targets() []RetentionTarget {
	return w.targets
}

// SweepOnce runs every enabled target once and returns rows deleted per table.
// A failing target does not stop the others; the first error is returned.
func (w *RetentionWorker) SweepOnce(ctx context.Context) (map[string]int64, error) {
	deleted := make(map[string]int64, len(w.targets))
	var firstErr error

	for _, t := range w.targets {
		if !t.Enabled {
			continue
		}
		cutoff := w.now().Add(-t.Window)
		n, err := t.Pruner.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			w.logger.Error("retention sweep failed", zap.String("table", t.Table), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("sweep %s: %w", t.Table, err)
			}
			continue
		}
		deleted[t.Table] = n
		w.metrics.RetentionDeleted.WithLabelValues(t.Table).Add(float64(n))
		w.logger.Info("retention sweep complete",
			zap.String("table", t.Table),
			zap.Time("cutoff", cutoff),
			zap.Int64("deleted", n))
	}
	return deleted, firstErr
}

// Run sweeps immediately and then every interval until ctx is done. It
// returns at once when every target is disabled.
func (w *RetentionWorker) Run(ctx context.Context) {
	active := false
	for _, t := range w.targets {
		active = active || t.Enabled
	}
	if !active {
		w.logger.Info("retention sweeps disabled for all tables")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		_, _ = w.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
