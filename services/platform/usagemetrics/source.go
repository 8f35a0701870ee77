// Package usagemetrics adapts the platform's usage_events table to the
// MetricSource interface.
package usagemetrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/upb/risk-enforcer/services/platform"
	"go.uber.org/zap"
)

// Source sums recorded usage cost straight from the database. The events
// table is owned by the ingestion pipeline; this adapter only ever reads.
type Source struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSource creates a new database-backed metric source
func NewSource(db *sql.DB, logger *zap.Logger) platform.MetricSource {
	return &Source{
		db:     db,
		logger: logger,
	}
}

// SumCost returns the total cost recorded for the scope since the given
// instant. COALESCE keeps a scope with no events at exactly zero rather
// than NULL.
func (s *Source) SumCost(ctx context.Context, scope platform.Scope, since time.Time) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(cost), 0) FROM usage_events WHERE workspace_id = $1 AND recorded_at >= $2`
	args := []interface{}{scope.WorkspaceID, since}

	if scope.AgentID != nil {
		query += ` AND agent_id = $3`
		args = append(args, *scope.AgentID)
	}

	var total decimal.Decimal
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum usage cost: %w", err)
	}

	return total, nil
}
