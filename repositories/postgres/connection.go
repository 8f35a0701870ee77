package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/risk-enforcer/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema. Tables owned by this service
// are policies, breach_records and audit_entries. The workspaces, agents and
// usage_events tables belong to the wider platform and are only ensured here
// so a local deployment can run standalone.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Workspaces table (platform-owned)
		CREATE TABLE IF NOT EXISTS workspaces (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			slug VARCHAR(100) NOT NULL UNIQUE,
			plan VARCHAR(50) NOT NULL DEFAULT 'free',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Agents table (platform-owned; enforcement touches active and model only)
		CREATE TABLE IF NOT EXISTS agents (
			id UUID PRIMARY KEY,
			workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			model VARCHAR(100) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Usage events table (platform-owned; enforcement reads summed cost)
		CREATE TABLE IF NOT EXISTS usage_events (
			id UUID PRIMARY KEY,
			workspace_id UUID NOT NULL,
			agent_id UUID,
			cost DECIMAL(18, 6) NOT NULL DEFAULT 0,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Policies table
		CREATE TABLE IF NOT EXISTS policies (
			id UUID PRIMARY KEY,
			workspace_id UUID NOT NULL,
			agent_id UUID,
			kind VARCHAR(50) NOT NULL,
			threshold DECIMAL(18, 6) NOT NULL,
			action VARCHAR(50) NOT NULL,
			action_params JSONB NOT NULL DEFAULT '{}',
			cooldown_seconds BIGINT NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Breach records table
		CREATE TABLE IF NOT EXISTS breach_records (
			id UUID PRIMARY KEY,
			policy_id UUID NOT NULL,
			workspace_id UUID NOT NULL,
			agent_id UUID,
			breach_value DECIMAL(18, 6) NOT NULL,
			threshold_at_detection DECIMAL(18, 6) NOT NULL,
			action_at_detection VARCHAR(50) NOT NULL,
			action_params_at_detection JSONB NOT NULL DEFAULT '{}',
			dedupe_key VARCHAR(100) NOT NULL UNIQUE,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			detected_at TIMESTAMPTZ NOT NULL,
			executed_at TIMESTAMPTZ,
			result TEXT
		);

		-- Audit entries table (insert-only; the data-access layer exposes no
		-- update or delete)
		CREATE TABLE IF NOT EXISTS audit_entries (
			id UUID PRIMARY KEY,
			breach_id UUID NOT NULL,
			workspace_id UUID NOT NULL,
			agent_id UUID,
			action VARCHAR(50) NOT NULL,
			previous_state JSONB NOT NULL DEFAULT '{}',
			new_state JSONB NOT NULL DEFAULT '{}',
			result VARCHAR(20) NOT NULL,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- At most one policy per (workspace, agent-scope, kind)
		CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_scope_kind
			ON policies (workspace_id, COALESCE(agent_id, '00000000-0000-0000-0000-000000000000'::uuid), kind);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_agents_workspace_id ON agents(workspace_id);
		CREATE INDEX IF NOT EXISTS idx_usage_events_workspace_recorded ON usage_events(workspace_id, recorded_at);
		CREATE INDEX IF NOT EXISTS idx_usage_events_agent_recorded ON usage_events(agent_id, recorded_at);

		CREATE INDEX IF NOT EXISTS idx_policies_workspace_id ON policies(workspace_id);
		CREATE INDEX IF NOT EXISTS idx_policies_enabled ON policies(enabled);

		CREATE INDEX IF NOT EXISTS idx_breach_records_status_detected ON breach_records(status, detected_at);
		CREATE INDEX IF NOT EXISTS idx_breach_records_policy_detected ON breach_records(policy_id, detected_at DESC);
		CREATE INDEX IF NOT EXISTS idx_breach_records_workspace_detected ON breach_records(workspace_id, detected_at DESC);

		CREATE INDEX IF NOT EXISTS idx_audit_entries_workspace_created ON audit_entries(workspace_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_breach_id ON audit_entries(breach_id);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_agent_id ON audit_entries(agent_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitAuditSchema initializes the audit database schema (audit_entries only,
// no FK). Use for the separate audit database when DATABASE_URL_AUDIT is set.
func (db *DB) InitAuditSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id UUID PRIMARY KEY,
			breach_id UUID NOT NULL,
			workspace_id UUID NOT NULL,
			agent_id UUID,
			action VARCHAR(50) NOT NULL,
			previous_state JSONB NOT NULL DEFAULT '{}',
			new_state JSONB NOT NULL DEFAULT '{}',
			result VARCHAR(20) NOT NULL,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_workspace_created ON audit_entries(workspace_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_breach_id ON audit_entries(breach_id);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_agent_id ON audit_entries(agent_id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}
