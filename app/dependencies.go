package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/agent-governance/config"
	"github.com/upb/agent-governance/internal/auth"
	"github.com/upb/agent-governance/internal/bus"
	"github.com/upb/agent-governance/internal/observability"
	"github.com/upb/agent-governance/middleware"
	"github.com/upb/agent-governance/repositories"
	"github.com/upb/agent-governance/repositories/memory"
	"github.com/upb/agent-governance/repositories/postgres"
	"github.com/upb/agent-governance/services/audit"
	"github.com/upb/agent-governance/services/permission"
	"github.com/upb/agent-governance/services/policy"
	"github.com/upb/agent-governance/services/redaction"
	"github.com/upb/agent-governance/services/session"
	"github.com/upb/agent-governance/services/subagent"
)

// ErrNoRuntime is reported by every task when no agent runtime was wired in.
var ErrNoRuntime = errors.New("no agent runtime configured")

// Dependencies holds every long-lived component of the governance server.
type Dependencies struct {
	// Infrastructure
	Config      *config.Config
	Logger      *zap.Logger
	RepoFactory *postgres.RepositoryFactory // nil with the memory store
	Repos       *repositories.Repositories
	Redis       *redis.Client // nil when the bus is in process
	Bus         bus.Bus

	// Observability
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	// Governance
	Governance *config.Governance
	Loader     *config.GovernanceLoader

	// Services
	Audit        *audit.Trail
	Subscriber   *audit.Subscriber
	Retention    *audit.RetentionWorker
	Policy       *policy.Evaluator
	Redactor     *redaction.Redactor
	Permissions  *permission.Service
	Sessions     *session.Service
	Agents       *subagent.Registry
	Orchestrator *subagent.Orchestrator

	AuthMiddleware *middleware.AuthMiddleware
}

type options struct {
	executor subagent.Executor
	repos    *repositories.Repositories
}

// Option customizes NewDependencies.
type Option func(*options)

// WithExecutor plugs in the agent runtime that drives subagent conversations.
func WithExecutor(e subagent.Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithRepositories skips store setup and uses repos instead.
func WithRepositories(repos *repositories.Repositories) Option {
	return func(o *options) { o.repos = repos }
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	o := options{executor: subagent.ExecutorFunc(unconfiguredExecutor)}
	for _, opt := range opts {
		opt(&o)
	}

	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	deps.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Metrics = observability.NewMetrics(deps.Registry)

	if err := deps.initGovernance(ctx); err != nil {
		return nil, fmt.Errorf("failed to load governance config: %w", err)
	}

	if o.repos != nil {
		deps.Repos = o.repos
	} else if err := deps.initStore(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := deps.initBus(ctx); err != nil {
		deps.closeStore()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}

	if err := deps.initAuth(); err != nil {
		deps.closeStore()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	if err := deps.initServices(o.executor); err != nil {
		deps.closeStore()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.Store),
		zap.Bool("redis_bus", deps.Redis != nil))
	return deps, nil
}

func (d *Dependencies) initGovernance(ctx context.Context) error {
	d.Loader = config.NewGovernanceLoader(d.Config.Governance, d.Logger)
	gov, err := d.Loader.Load(ctx)
	if err != nil {
		return err
	}
	gov.LogRetention(d.Logger)
	d.Governance = gov
	return nil
}

func (d *Dependencies) initStore(ctx context.Context) error {
	if d.Config.Store == "memory" {
		d.Repos = memory.NewRepositories()
		d.Logger.Warn("using in-memory store; sessions and audit rows are lost on restart")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(d.Config, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	if err := factory.InitSchema(ctx); err != nil {
		factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	d.RepoFactory = factory
	d.Repos = factory.NewRepositories()
	return nil
}

func (d *Dependencies) initBus(ctx context.Context) error {
	onDrop := func(e bus.Event) {
		d.Metrics.BusEventsDropped.WithLabelValues("bus").Inc()
	}

	if !d.Config.Redis.Enabled() {
		d.Bus = bus.NewMemoryBus(d.Config.Audit.BufferSize, d.Logger, onDrop)
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     d.Config.Redis.Addr,
		Password: d.Config.Redis.Password,
		DB:       d.Config.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}
	d.Redis = rdb
	d.Bus = bus.NewRedisBus(rdb, d.Config.Redis.Channel, d.Logger, onDrop)
	return nil
}

// initAuth chains the JWKS validator for bearer JWTs with the static key
// table for API keys. With neither configured every request is rejected.
func (d *Dependencies) initAuth() error {
	settings := d.Governance.Auth
	var chain auth.Chain

	if d.Config.Auth.JWKSURL != "" {
		chain.JWT = auth.NewJWKSValidator(auth.JWKSConfig{
			JWKSURL:     d.Config.Auth.JWKSURL,
			Issuer:      settings.Issuer,
			Audience:    settings.Audience,
			RoleClaim:   settings.RoleClaim,
			RoleMap:     settings.RoleMap,
			HTTPTimeout: d.Config.Auth.HTTPTimeout,
		})
	}
	if len(settings.StaticKeys) > 0 {
		table, err := auth.NewStaticKeyTable(settings.StaticKeys)
		if err != nil {
			return err
		}
		chain.Keys = table
	}

	var authenticator auth.Authenticator = chain
	if chain.JWT == nil && chain.Keys == nil {
		d.Logger.Warn("no authenticator configured; protected routes will return 401")
		authenticator = auth.RejectAll{}
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(authenticator, d.Logger)
	return nil
}

func (d *Dependencies) initServices(executor subagent.Executor) error {
	d.Audit = audit.NewTrail(d.Repos.AuditLogs, d.Bus, d.Metrics, d.Logger)
	d.Subscriber = audit.NewSubscriber(d.Bus, d.Audit, d.Metrics, d.Logger, audit.SubscriberConfig{
		BufferSize:  d.Config.Audit.BufferSize,
		WorkerCount: d.Config.Audit.Workers,
	})

	d.Policy = policy.NewEvaluator(d.Loader, d.Audit, d.Metrics, d.Logger)
	d.Redactor = redaction.NewRedactor(redaction.NewEngine(redaction.DefaultMatchers()...), d.Audit, d.Metrics, d.Logger)
	d.Permissions = permission.NewService(d.Policy, d.Bus, d.Metrics, d.Logger)
	d.Sessions = session.NewService(d.Repos, d.Bus, d.Logger)
	d.Retention = audit.NewRetentionWorker(d.Governance.Retention, d.Repos.AuditLogs, d.Sessions, d.Metrics, d.Logger)

	agents, err := subagent.LoadRegistry(d.Config.Governance.AgentsFile)
	if err != nil {
		return err
	}
	d.Agents = agents

	d.Orchestrator = subagent.NewOrchestrator(subagent.Config{
		Sessions:     d.Sessions,
		Agents:       d.Agents,
		Executor:     executor,
		Permissions:  d.Permissions,
		Policy:       d.Policy,
		PolicySource: d.Loader,
		Redactor:     d.Redactor,
		Recorder:     d.Audit,
		Metrics:      d.Metrics,
		Logger:       d.Logger,
	})
	return nil
}

// SQLDB returns the main pool, or nil with the memory store.
func (d *Dependencies) SQLDB() *sql.DB {
	if d.RepoFactory == nil {
		return nil
	}
	return d.RepoFactory.GetDB().DB
}

// ReadinessChecks returns probes beyond the main database.
func (d *Dependencies) ReadinessChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"governance_config": func(ctx context.Context) error {
			_, err := d.Loader.Load(ctx)
			return err
		},
	}
	if d.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		}
	}
	if d.RepoFactory != nil {
		checks["store"] = d.RepoFactory.HealthCheck
	}
	return checks
}

func unconfiguredExecutor(context.Context, subagent.Run) ([]string, error) {
	return nil, ErrNoRuntime
}

func (d *Dependencies) closeStore() {
	if d.RepoFactory != nil {
		_ = d.RepoFactory.Close()
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
