package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/bus"
	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/models"
)

// SubscriberConfig sizes the subscriber's queue and worker pool.
type SubscriberConfig struct {
	BufferSize  int
	WorkerCount int
}

// DefaultSubscriberConfig returns the default configuration
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// Subscriber turns lifecycle events from the bus into audit entries. Events
// are queued in a bounded buffer and dropped with a warning when it is full.
type Subscriber struct {
	source  bus.Bus
	rec     Recorder
	metrics *observability.Metrics
	logger  *zap.Logger

	events      chan bus.Event
	workerCount int
	bufferSize  int

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
	stopped bool
	dropped int64
	mu      sync.Mutex
}

// NewSubscriber creates a subscriber; call Start to begin consuming.
func NewSubscriber(source bus.Bus, rec Recorder, metrics *observability.Metrics, logger *zap.Logger, cfg SubscriberConfig) *Subscriber {
	def := DefaultSubscriberConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Subscriber{
		source:      source,
		rec:         rec,
		metrics:     metrics,
		logger:      logger,
		events:      make(chan bus.Event, cfg.BufferSize),
		workerCount: cfg.WorkerCount,
		bufferSize:  cfg.BufferSize,
	}
}

// Start subscribes to the bus and starts the workers.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit subscriber already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	feed, err := s.source.Subscribe(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}
	s.cancel = cancel

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	go s.pump(feed)

	s.started = true
	s.logger.Info("started audit subscriber",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// pump moves events from the bus into the work queue without blocking the bus.
// It closes the queue once the bus subscription ends.
func (s *Subscriber) pump(feed <-chan bus.Event) {
	defer close(s.events)

	for ev := range feed {
		if _, ok := actionFor(ev.Type); !ok {
			continue
		}
		select {
		case s.events <- ev:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			s.metrics.BusEventsDropped.WithLabelValues("audit").Inc()
			s.logger.Warn("audit event queue full, dropping event",
				zap.String("type", string(ev.Type)),
				zap.String("session_id", ev.SessionID))
		}
	}
}

// Stop ends the subscription and waits for queued events to be recorded.
func (s *Subscriber) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit subscriber not running")
	}
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("stopping audit subscriber", zap.Int("pending_events", len(s.events)))
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit subscriber stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit subscriber stop timeout after %v", timeout)
	}
}

func (s *Subscriber) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))
	for ev := range s.events {
		if entry := entryFor(ev); entry != nil {
			s.rec.Record(context.Background(), entry)
		}
	}
	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// Stats returns statistics about the subscriber
func (s *Subscriber) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.events),
		WorkerCount:   s.workerCount,
		Dropped:       s.dropped,
		Started:       s.started,
	}
}

// Stats represents subscriber statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Dropped       int64
	Started       bool
}

func actionFor(t bus.Type) (models.AuditAction, bool) {
	switch t {
	case bus.SessionCreated:
		return models.AuditActionSessionCreated, true
	case bus.SessionError:
		return models.AuditActionSessionError, true
	case bus.PermissionAsked:
		return models.AuditActionPermissionAsked, true
	case bus.PermissionReplied:
		return models.AuditActionPermissionReplied, true
	}
	return "", false
}

// entryFor maps a lifecycle event to its audit entry, or nil for events the
// trail does not record.
func entryFor(ev bus.Event) *models.AuditEntry {
	action, ok := actionFor(ev.Type)
	if !ok {
		return nil
	}

	switch ev.Type {
	case bus.SessionCreated, bus.SessionError:
		e := models.NewAuditEntry(action, models.ResourceSession).
			WithSession(ev.SessionID).
			WithUser(ev.String("user_id")).
			WithResource(ev.SessionID)
		for _, key := range []string{"parent_id", "agent_type", "title", "error"} {
			if v := ev.String(key); v != "" {
				e.WithMetadata(key, v)
			}
		}
		if ev.Type == bus.SessionError {
			e.WithOutput(ev.String("error"))
		}
		return e

	default:
		e := models.NewAuditEntry(action, models.ResourcePermission).
			WithSession(ev.SessionID).
			WithResource(ev.String("permission_id")).
			WithTool(ev.String("action")).
			WithInput(ev.Properties["patterns"])
		if ev.Type == bus.PermissionReplied {
			e.WithUser(ev.String("decided_by")).
				WithDecision(ev.String("decision"))
			if reason := ev.String("reason"); reason != "" {
				e.WithMetadata("reason", reason)
			}
		}
		return e
	}
}
