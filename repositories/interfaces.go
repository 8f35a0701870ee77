package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/risk-enforcer/models"
)

// Sentinel errors surfaced by repository implementations so callers can
// branch on storage-level outcomes without matching error strings
var (
	// ErrDuplicateBreach is returned when a breach record insert collides
	// with an existing dedupe key
	ErrDuplicateBreach = errors.New("breach record already exists for dedupe key")

	// ErrDuplicatePolicy is returned when a policy insert or update collides
	// with an existing (workspace, agent-scope, kind) tuple
	ErrDuplicatePolicy = errors.New("policy already exists for workspace scope and kind")

	// ErrPolicyNotFound is wrapped by policy lookups and writes that match
	// no row
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrBreachNotFound is wrapped by breach record lookups that match no row
	ErrBreachNotFound = errors.New("breach record not found")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// PolicyRepository handles policy data operations. The enforcement loop only
// reads policies; writes come from the administrative API.
type PolicyRepository interface {
	// Create creates a new policy
	Create(ctx context.Context, policy *models.Policy) error

	// GetByID retrieves a policy by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error)

	// ListByWorkspace retrieves all policies for a workspace
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*models.Policy, error)

	// ListEnabled retrieves all enabled policies, optionally filtered to one
	// workspace, in a deterministic order
	ListEnabled(ctx context.Context, workspaceID *uuid.UUID) ([]*models.Policy, error)

	// CountEnabledByWorkspace counts the enabled policies in a workspace
	CountEnabledByWorkspace(ctx context.Context, workspaceID uuid.UUID) (int, error)

	// Update updates a policy
	Update(ctx context.Context, policy *models.Policy) error

	// Delete deletes a policy
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) PolicyRepository
}

// BreachRepository handles breach record data operations. All coordination
// between concurrent enforcement cycles happens through this table: the
// unique dedupe key on insert and the compare-and-set claim.
type BreachRepository interface {
	// Create inserts a new breach record. Returns ErrDuplicateBreach when a
	// record with the same dedupe key already exists.
	Create(ctx context.Context, breach *models.BreachRecord) error

	// GetByID retrieves a breach record by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.BreachRecord, error)

	// ExistsByDedupeKey reports whether any record carries the dedupe key
	ExistsByDedupeKey(ctx context.Context, key string) (bool, error)

	// LatestByPolicy retrieves the most recently detected breach record for
	// a policy regardless of status. Returns nil when none exists.
	LatestByPolicy(ctx context.Context, policyID uuid.UUID) (*models.BreachRecord, error)

	// ListPending retrieves pending breach records, oldest detection first
	ListPending(ctx context.Context, limit int) ([]*models.BreachRecord, error)

	// Claim transitions a record from pending to in_progress with a
	// compare-and-set update. Returns false when the record was no longer
	// pending, meaning another executor owns it.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)

	// Finalize transitions an in_progress record to a terminal status with
	// the execution timestamp and result text. Records already terminal are
	// never touched.
	Finalize(ctx context.Context, id uuid.UUID, status models.BreachStatus, result string, executedAt time.Time) error

	// ListByWorkspace retrieves breach records for a workspace, newest
	// first, optionally filtered by status
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, status *models.BreachStatus, limit int) ([]*models.BreachRecord, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) BreachRepository
}

// AuditFilter narrows an audit query. WorkspaceID is required; the rest are
// optional.
type AuditFilter struct {
	WorkspaceID uuid.UUID
	PolicyID    *uuid.UUID
	AgentID     *uuid.UUID
	Limit       int
}

// AuditRepository handles audit entry data operations. The contract is
// append-only: there is no update or delete, which is what preserves the
// previous_state snapshots that make interventions reversible.
type AuditRepository interface {
	// Insert appends a new audit entry
	Insert(ctx context.Context, entry *models.AuditEntry) error

	// Query retrieves audit entries matching the filter, newest first
	Query(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) AuditRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Policies     PolicyRepository
	Breaches     BreachRepository
	AuditEntries AuditRepository
}
