package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/repositories"
	"go.uber.org/zap"
)

// AuditRepository implements the repositories.AuditRepository interface.
// The audit trail is append only, so the contract exposes no update or
// delete operations.
type AuditRepository struct {
	db       *DB
	primary  *DB // Where breach_records lives; differs from db when detached
	logger   *zap.Logger
	detached bool
}

// NewAuditRepository creates a new audit repository on the primary database
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:      db,
		primary: db,
		logger:  logger,
	}
}

// NewDetachedAuditRepository creates an audit repository on a dedicated audit
// database. Primary-database transactions cannot span it, so the repository
// ignores any transaction in the context and always uses its own connection.
// Inserts run before the primary transaction commits: a failed insert still
// rolls back the caller's transaction, while a failed commit leaves at most
// one entry describing an action that did run. The primary handle stays
// around for policy filtering, which resolves breach IDs where the breach
// records actually live.
func NewDetachedAuditRepository(db, primary *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:       db,
		primary:  primary,
		logger:   logger,
		detached: true,
	}
}

// executor resolves the connection for a call. Detached repositories stay on
// their own database even when the context carries a transaction.
func (r *AuditRepository) executor(ctx context.Context) Executor {
	if r.detached {
		return r.db.DB
	}
	return GetExecutor(ctx, r.db)
}

// Insert inserts a new audit entry
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (id, breach_id, workspace_id, agent_id, action, previous_state, new_state, result, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := r.executor(ctx)
	_, err := executor.ExecContext(ctx, query,
		entry.ID,
		entry.BreachID,
		entry.WorkspaceID,
		entry.AgentID,
		entry.Action,
		stateOrEmpty(entry.PreviousState),
		stateOrEmpty(entry.NewState),
		entry.Result,
		entry.Error,
		entry.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	r.logger.Debug("audit entry inserted",
		zap.String("id", entry.ID.String()),
		zap.String("action", string(entry.Action)))
	return nil
}

// Query retrieves audit entries matching the filter, newest first. Policy
// filtering goes through breach_records since entries reference the breach
// that produced them, not the policy directly: a join on the shared
// database, a breach-ID lookup against the primary when the trail is
// detached.
func (r *AuditRepository) Query(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditEntry, error) {
	query := `
		SELECT a.id, a.breach_id, a.workspace_id, a.agent_id, a.action, a.previous_state, a.new_state, a.result, a.error, a.created_at
		FROM audit_entries a
	`
	args := []interface{}{filter.WorkspaceID}

	if filter.PolicyID != nil && !r.detached {
		query += ` JOIN breach_records b ON b.id = a.breach_id`
	}

	query += ` WHERE a.workspace_id = $1`

	if filter.PolicyID != nil {
		if r.detached {
			breachIDs, err := r.breachIDsForPolicy(ctx, *filter.PolicyID)
			if err != nil {
				return nil, err
			}
			if len(breachIDs) == 0 {
				return nil, nil
			}
			args = append(args, pq.Array(breachIDs))
			query += fmt.Sprintf(` AND a.breach_id = ANY($%d::uuid[])`, len(args))
		} else {
			args = append(args, *filter.PolicyID)
			query += fmt.Sprintf(` AND b.policy_id = $%d`, len(args))
		}
	}

	if filter.AgentID != nil {
		args = append(args, *filter.AgentID)
		query += fmt.Sprintf(` AND a.agent_id = $%d`, len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(` ORDER BY a.created_at DESC, a.id DESC LIMIT $%d`, len(args))

	return r.queryEntries(ctx, query, args...)
}

// breachIDsForPolicy resolves the breach records behind a policy on the
// primary database
func (r *AuditRepository) breachIDsForPolicy(ctx context.Context, policyID uuid.UUID) ([]string, error) {
	rows, err := r.primary.QueryContext(ctx, `SELECT id FROM breach_records WHERE policy_id = $1`, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve breach records for policy: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan breach id: %w", err)
		}
		ids = append(ids, id.String())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating breach id rows: %w", err)
	}

	return ids, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *AuditRepository) WithTx(tx repositories.Transaction) repositories.AuditRepository {
	return &AuditRepository{
		db:       r.db,
		primary:  r.primary,
		logger:   r.logger,
		detached: r.detached,
	}
}

// queryEntries is a helper method to query multiple audit entries
func (r *AuditRepository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*models.AuditEntry, error) {
	executor := r.executor(ctx)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry := &models.AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.BreachID,
			&entry.WorkspaceID,
			&entry.AgentID,
			&entry.Action,
			&entry.PreviousState,
			&entry.NewState,
			&entry.Result,
			&entry.Error,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entry rows: %w", err)
	}

	return entries, nil
}

// stateOrEmpty normalizes nil state snapshots to an empty JSON object
func stateOrEmpty(state []byte) []byte {
	if len(state) == 0 {
		return []byte(`{}`)
	}
	return state
}
