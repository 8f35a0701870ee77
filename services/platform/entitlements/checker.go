// Package entitlements answers plan-entitlement questions from the
// workspaces table. Only the policy administration path consults it; the
// enforcement cycle itself never does.
package entitlements

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/services/platform"
	"go.uber.org/zap"
)

// PlanLimits maps billing plans to the maximum number of enabled policies.
// A negative limit means unlimited.
type PlanLimits struct {
	Free       int
	Pro        int
	Enterprise int
}

// DefaultPlanLimits returns the built-in plan limits
func DefaultPlanLimits() PlanLimits {
	return PlanLimits{
		Free:       3,
		Pro:        25,
		Enterprise: -1,
	}
}

// Checker is a database-backed entitlement checker
type Checker struct {
	db     *sql.DB
	limits PlanLimits
	logger *zap.Logger
}

// NewChecker creates a new entitlement checker
func NewChecker(db *sql.DB, limits PlanLimits, logger *zap.Logger) platform.EntitlementChecker {
	return &Checker{
		db:     db,
		limits: limits,
		logger: logger,
	}
}

// PolicyAllowance returns the enabled-policy limit for the workspace's plan
func (c *Checker) PolicyAllowance(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	query := `SELECT plan FROM workspaces WHERE id = $1`

	var plan string
	err := c.db.QueryRowContext(ctx, query, workspaceID).Scan(&plan)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("workspace %s: %w", workspaceID, platform.ErrWorkspaceNotFound)
		}
		return 0, fmt.Errorf("failed to get workspace plan: %w", err)
	}

	switch plan {
	case models.PlanFree:
		return c.limits.Free, nil
	case models.PlanPro:
		return c.limits.Pro, nil
	case models.PlanEnterprise:
		return c.limits.Enterprise, nil
	default:
		// Unknown plans get the free allowance rather than failing closed
		c.logger.Warn("unknown workspace plan, using free allowance",
			zap.String("workspace_id", workspaceID.String()),
			zap.String("plan", plan))
		return c.limits.Free, nil
	}
}
