package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/repositories"
	"go.uber.org/zap"
)

// BreachRepository implements the repositories.BreachRepository interface
type BreachRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewBreachRepository creates a new breach repository
func NewBreachRepository(db *DB, logger *zap.Logger) repositories.BreachRepository {
	return &BreachRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new breach record. The dedupe_key column carries a unique
// constraint, so a concurrent insert for the same policy and day surfaces as
// repositories.ErrDuplicateBreach.
func (r *BreachRepository) Create(ctx context.Context, breach *models.BreachRecord) error {
	query := `
		INSERT INTO breach_records (id, policy_id, workspace_id, agent_id, breach_value, threshold_at_detection, action_at_detection, action_params_at_detection, dedupe_key, status, detected_at, executed_at, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		breach.ID,
		breach.PolicyID,
		breach.WorkspaceID,
		breach.AgentID,
		breach.BreachValue,
		breach.ThresholdAtDetection,
		breach.ActionAtDetection,
		actionParamsOrEmpty(breach.ActionParamsAtDetection),
		breach.DedupeKey,
		breach.Status,
		breach.DetectedAt,
		breach.ExecutedAt,
		breach.Result,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create breach record: %w", repositories.ErrDuplicateBreach)
		}
		return fmt.Errorf("failed to create breach record: %w", err)
	}

	r.logger.Debug("breach record created",
		zap.String("id", breach.ID.String()),
		zap.String("dedupe_key", breach.DedupeKey))
	return nil
}

// GetByID retrieves a breach record by ID
func (r *BreachRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BreachRecord, error) {
	query := `
		SELECT id, policy_id, workspace_id, agent_id, breach_value, threshold_at_detection, action_at_detection, action_params_at_detection, dedupe_key, status, detected_at, executed_at, result
		FROM breach_records
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	breach := &models.BreachRecord{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&breach.ID,
		&breach.PolicyID,
		&breach.WorkspaceID,
		&breach.AgentID,
		&breach.BreachValue,
		&breach.ThresholdAtDetection,
		&breach.ActionAtDetection,
		&breach.ActionParamsAtDetection,
		&breach.DedupeKey,
		&breach.Status,
		&breach.DetectedAt,
		&breach.ExecutedAt,
		&breach.Result,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", repositories.ErrBreachNotFound, id)
		}
		return nil, fmt.Errorf("failed to get breach record: %w", err)
	}

	return breach, nil
}

// ExistsByDedupeKey reports whether a breach record with the given dedupe key
// already exists, regardless of its status
func (r *BreachRepository) ExistsByDedupeKey(ctx context.Context, key string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM breach_records WHERE dedupe_key = $1)`

	executor := GetExecutor(ctx, r.db)
	var exists bool
	if err := executor.QueryRowContext(ctx, query, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check dedupe key: %w", err)
	}

	return exists, nil
}

// LatestByPolicy retrieves the most recent breach record for a policy.
// Returns nil without error when the policy has never breached.
func (r *BreachRepository) LatestByPolicy(ctx context.Context, policyID uuid.UUID) (*models.BreachRecord, error) {
	query := `
		SELECT id, policy_id, workspace_id, agent_id, breach_value, threshold_at_detection, action_at_detection, action_params_at_detection, dedupe_key, status, detected_at, executed_at, result
		FROM breach_records
		WHERE policy_id = $1
		ORDER BY detected_at DESC
		LIMIT 1
	`

	executor := GetExecutor(ctx, r.db)
	breach := &models.BreachRecord{}

	err := executor.QueryRowContext(ctx, query, policyID).Scan(
		&breach.ID,
		&breach.PolicyID,
		&breach.WorkspaceID,
		&breach.AgentID,
		&breach.BreachValue,
		&breach.ThresholdAtDetection,
		&breach.ActionAtDetection,
		&breach.ActionParamsAtDetection,
		&breach.DedupeKey,
		&breach.Status,
		&breach.DetectedAt,
		&breach.ExecutedAt,
		&breach.Result,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest breach record: %w", err)
	}

	return breach, nil
}

// ListPending retrieves pending breach records oldest first so interventions
// run in detection order
func (r *BreachRepository) ListPending(ctx context.Context, limit int) ([]*models.BreachRecord, error) {
	query := `
		SELECT id, policy_id, workspace_id, agent_id, breach_value, threshold_at_detection, action_at_detection, action_params_at_detection, dedupe_key, status, detected_at, executed_at, result
		FROM breach_records
		WHERE status = $1
		ORDER BY detected_at ASC, id ASC
		LIMIT $2
	`

	return r.queryBreaches(ctx, query, models.BreachStatusPending, limit)
}

// Claim transitions a breach record from pending to in_progress. The status
// predicate makes the update a compare-and-swap: when two workers race on the
// same record exactly one sees rows affected.
func (r *BreachRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE breach_records
		SET status = $2
		WHERE id = $1 AND status = $3
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, models.BreachStatusInProgress, models.BreachStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim breach record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// Finalize moves an in_progress breach record to a terminal status and stamps
// the execution outcome
func (r *BreachRepository) Finalize(ctx context.Context, id uuid.UUID, status models.BreachStatus, result string, executedAt time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot finalize breach record %s to non-terminal status %s", id, status)
	}

	query := `
		UPDATE breach_records
		SET status = $2, result = $3, executed_at = $4
		WHERE id = $1 AND status = $5
	`

	executor := GetExecutor(ctx, r.db)
	res, err := executor.ExecContext(ctx, query, id, status, result, executedAt, models.BreachStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to finalize breach record: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("breach record %s is not in progress", id)
	}

	r.logger.Debug("breach record finalized",
		zap.String("id", id.String()),
		zap.String("status", string(status)))
	return nil
}

// ListByWorkspace retrieves breach records for a workspace, newest first,
// optionally filtered by status
func (r *BreachRepository) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, status *models.BreachStatus, limit int) ([]*models.BreachRecord, error) {
	query := `
		SELECT id, policy_id, workspace_id, agent_id, breach_value, threshold_at_detection, action_at_detection, action_params_at_detection, dedupe_key, status, detected_at, executed_at, result
		FROM breach_records
		WHERE workspace_id = $1
	`
	args := []interface{}{workspaceID}

	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}

	query += fmt.Sprintf(` ORDER BY detected_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	return r.queryBreaches(ctx, query, args...)
}

// WithTx returns a new repository instance bound to the transaction
func (r *BreachRepository) WithTx(tx repositories.Transaction) repositories.BreachRepository {
	return &BreachRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// queryBreaches is a helper method to query multiple breach records
func (r *BreachRepository) queryBreaches(ctx context.Context, query string, args ...interface{}) ([]*models.BreachRecord, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query breach records: %w", err)
	}
	defer rows.Close()

	var breaches []*models.BreachRecord
	for rows.Next() {
		breach := &models.BreachRecord{}
		err := rows.Scan(
			&breach.ID,
			&breach.PolicyID,
			&breach.WorkspaceID,
			&breach.AgentID,
			&breach.BreachValue,
			&breach.ThresholdAtDetection,
			&breach.ActionAtDetection,
			&breach.ActionParamsAtDetection,
			&breach.DedupeKey,
			&breach.Status,
			&breach.DetectedAt,
			&breach.ExecutedAt,
			&breach.Result,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan breach record: %w", err)
		}
		breaches = append(breaches, breach)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating breach record rows: %w", err)
	}

	return breaches, nil
}
