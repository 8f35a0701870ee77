package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/repositories"
	"go.uber.org/zap"
)

// uniqueViolation is the Postgres error code for unique constraint violations
const uniqueViolation = pq.ErrorCode("23505")

// isUniqueViolation reports whether the error is a Postgres unique
// constraint violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PolicyRepository implements the repositories.PolicyRepository interface
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new policy
func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	query := `
		INSERT INTO policies (id, workspace_id, agent_id, kind, threshold, action, action_params, cooldown_seconds, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		policy.ID,
		policy.WorkspaceID,
		policy.AgentID,
		policy.Kind,
		policy.Threshold,
		policy.Action,
		actionParamsOrEmpty(policy.ActionParams),
		policy.CooldownSeconds,
		policy.Enabled,
		policy.CreatedAt,
		policy.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create policy: %w", repositories.ErrDuplicatePolicy)
		}
		return fmt.Errorf("failed to create policy: %w", err)
	}

	r.logger.Debug("policy created", zap.String("id", policy.ID.String()))
	return nil
}

// GetByID retrieves a policy by ID
func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	query := `
		SELECT id, workspace_id, agent_id, kind, threshold, action, action_params, cooldown_seconds, enabled, created_at, updated_at
		FROM policies
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	policy := &models.Policy{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&policy.ID,
		&policy.WorkspaceID,
		&policy.AgentID,
		&policy.Kind,
		&policy.Threshold,
		&policy.Action,
		&policy.ActionParams,
		&policy.CooldownSeconds,
		&policy.Enabled,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", repositories.ErrPolicyNotFound, id)
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	return policy, nil
}

// ListByWorkspace retrieves all policies for a workspace
func (r *PolicyRepository) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.Policy, error) {
	query := `
		SELECT id, workspace_id, agent_id, kind, threshold, action, action_params, cooldown_seconds, enabled, created_at, updated_at
		FROM policies
		WHERE workspace_id = $1
		ORDER BY created_at DESC
	`

	return r.queryPolicies(ctx, query, workspaceID)
}

// ListEnabled retrieves all enabled policies, optionally filtered to one
// workspace. Ordered by creation time so evaluation sweeps are deterministic.
func (r *PolicyRepository) ListEnabled(ctx context.Context, workspaceID *uuid.UUID) ([]*models.Policy, error) {
	query := `
		SELECT id, workspace_id, agent_id, kind, threshold, action, action_params, cooldown_seconds, enabled, created_at, updated_at
		FROM policies
		WHERE enabled = true
	`
	args := []interface{}{}

	if workspaceID != nil {
		query += ` AND workspace_id = $1`
		args = append(args, *workspaceID)
	}

	query += ` ORDER BY created_at ASC, id ASC`

	return r.queryPolicies(ctx, query, args...)
}

// CountEnabledByWorkspace counts the enabled policies in a workspace
func (r *PolicyRepository) CountEnabledByWorkspace(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM policies WHERE workspace_id = $1 AND enabled = true`

	executor := GetExecutor(ctx, r.db)
	var count int
	if err := executor.QueryRowContext(ctx, query, workspaceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count enabled policies: %w", err)
	}

	return count, nil
}

// Update updates a policy
func (r *PolicyRepository) Update(ctx context.Context, policy *models.Policy) error {
	query := `
		UPDATE policies
		SET agent_id = $2,
		    kind = $3,
		    threshold = $4,
		    action = $5,
		    action_params = $6,
		    cooldown_seconds = $7,
		    enabled = $8,
		    updated_at = $9
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		policy.ID,
		policy.AgentID,
		policy.Kind,
		policy.Threshold,
		policy.Action,
		actionParamsOrEmpty(policy.ActionParams),
		policy.CooldownSeconds,
		policy.Enabled,
		policy.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to update policy: %w", repositories.ErrDuplicatePolicy)
		}
		return fmt.Errorf("failed to update policy: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", repositories.ErrPolicyNotFound, policy.ID)
	}

	r.logger.Debug("policy updated", zap.String("id", policy.ID.String()))
	return nil
}

// Delete deletes a policy
func (r *PolicyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM policies WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", repositories.ErrPolicyNotFound, id)
	}

	r.logger.Debug("policy deleted", zap.String("id", id.String()))
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *PolicyRepository) WithTx(tx repositories.Transaction) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// queryPolicies is a helper method to query multiple policies
func (r *PolicyRepository) queryPolicies(ctx context.Context, query string, args ...interface{}) ([]*models.Policy, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.Policy
	for rows.Next() {
		policy := &models.Policy{}
		err := rows.Scan(
			&policy.ID,
			&policy.WorkspaceID,
			&policy.AgentID,
			&policy.Kind,
			&policy.Threshold,
			&policy.Action,
			&policy.ActionParams,
			&policy.CooldownSeconds,
			&policy.Enabled,
			&policy.CreatedAt,
			&policy.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, policy)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy rows: %w", err)
	}

	return policies, nil
}

// actionParamsOrEmpty normalizes nil action params to an empty JSON object
// so the JSONB column's NOT NULL constraint holds
func actionParamsOrEmpty(params []byte) []byte {
	if len(params) == 0 {
		return []byte(`{}`)
	}
	return params
}
