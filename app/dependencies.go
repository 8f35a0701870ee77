package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/upb/risk-enforcer/config"
	"github.com/upb/risk-enforcer/internal/observability"
	"github.com/upb/risk-enforcer/repositories"
	"github.com/upb/risk-enforcer/repositories/postgres"
	"github.com/upb/risk-enforcer/services/audit"
	"github.com/upb/risk-enforcer/services/enforcement"
	"github.com/upb/risk-enforcer/services/evaluator"
	"github.com/upb/risk-enforcer/services/executor"
	"github.com/upb/risk-enforcer/services/platform"
	"github.com/upb/risk-enforcer/services/platform/agentdir"
	"github.com/upb/risk-enforcer/services/platform/entitlements"
	"github.com/upb/risk-enforcer/services/platform/usagemetrics"
	"github.com/upb/risk-enforcer/services/platform/webhook"
	"github.com/upb/risk-enforcer/services/policy"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config          *config.Config
	Logger          *zap.Logger
	DB              *sql.DB
	AuditDB         *sql.DB // nil when the audit trail shares the primary database
	MetricsRegistry *prometheus.Registry
	Metrics         *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Platform collaborators
	MetricSource platform.MetricSource
	Agents       platform.AgentDirectory
	Entitlements platform.EntitlementChecker
	Registry     *platform.DispatcherRegistry
	Dispatcher   platform.NotificationDispatcher

	// Services
	PolicyService *policy.Service
	AuditService  *audit.Service
	Evaluator     *evaluator.Service
	Executor      *executor.Service
	Worker        *enforcement.Worker
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize PostgreSQL
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize repositories
	deps.initRepositories()

	// Initialize metrics
	deps.initObservability()

	// Initialize platform collaborators
	if err := deps.initPlatform(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize platform collaborators: %w", err)
	}

	// Initialize services
	deps.initServices(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connections and the repository factory
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB().DB
	if auditDB := factory.GetAuditDB(); auditDB != nil {
		d.AuditDB = auditDB.DB
	}

	// Test the connection
	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Production schemas are managed by migrations; development creates them
	// on startup
	if cfg.IsDevelopment() {
		if err := factory.GetDB().InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	// Initialize audit schema when using separate audit DB
	if err := factory.InitAuditSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.Repos = d.RepoFactory.NewRepositories()
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initObservability initializes the metrics registry
func (d *Dependencies) initObservability() {
	d.MetricsRegistry = prometheus.NewRegistry()
	d.Metrics = observability.NewMetrics(d.MetricsRegistry)
}

// initPlatform initializes the adapters onto platform-owned state and the
// notification dispatchers
func (d *Dependencies) initPlatform(cfg *config.Config) error {
	d.MetricSource = usagemetrics.NewSource(d.DB, d.Logger)
	d.Agents = agentdir.NewDirectory(d.DB, d.Logger)
	d.Entitlements = entitlements.NewChecker(d.DB, entitlements.PlanLimits{
		Free:       cfg.Entitlements.FreePolicyLimit,
		Pro:        cfg.Entitlements.ProPolicyLimit,
		Enterprise: cfg.Entitlements.EnterprisePolicyLimit,
	}, d.Logger)

	registry := platform.NewDispatcherRegistry()

	if err := registry.Register(platform.NewLogDispatcher(d.Logger)); err != nil {
		return fmt.Errorf("failed to register log dispatcher: %w", err)
	}

	// Register webhook delivery if configured
	if cfg.Notifier.WebhookURL != "" {
		dispatcher := webhook.NewDispatcher(webhook.Config{
			URL:         cfg.Notifier.WebhookURL,
			Secret:      cfg.Notifier.WebhookSecret,
			Timeout:     cfg.Notifier.Timeout,
			MaxAttempts: uint(cfg.Notifier.MaxAttempts),
			RateLimit:   cfg.Notifier.RateLimit,
			RateBurst:   cfg.Notifier.RateBurst,
		}, d.Logger)
		if err := registry.Register(dispatcher); err != nil {
			return fmt.Errorf("failed to register webhook dispatcher: %w", err)
		}
		d.Logger.Info("registered webhook dispatcher")
	}

	d.Registry = registry
	d.Dispatcher = registry
	return nil
}

// initServices initializes the domain services and the enforcement worker
func (d *Dependencies) initServices(cfg *config.Config) {
	d.PolicyService = policy.NewService(d.Repos.Policies, d.Entitlements, d.Logger)
	d.AuditService = audit.NewService(d.Repos.AuditEntries, d.Logger)
	d.Evaluator = evaluator.NewService(d.Repos.Policies, d.Repos.Breaches, d.MetricSource, d.Metrics, d.Logger)
	d.Executor = executor.NewService(d.Repos.Breaches, d.Repos.AuditEntries, d.TxManager, d.Agents, d.Dispatcher, d.Metrics, d.Logger)
	d.Worker = enforcement.NewWorker(d.Evaluator, d.Executor, cfg.Enforcement.CycleBudget, cfg.Enforcement.MaxBatch, d.Metrics, d.Logger)

	d.Logger.Info("services initialized")
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
