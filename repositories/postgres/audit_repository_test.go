package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/repositories"
	"go.uber.org/zap"
)

func auditRows(entries ...*models.AuditEntry) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "breach_id", "workspace_id", "agent_id", "action",
		"previous_state", "new_state", "result", "error", "created_at",
	})
	for _, e := range entries {
		rows.AddRow(
			e.ID, e.BreachID, e.WorkspaceID, e.AgentID, e.Action,
			[]byte(e.PreviousState), []byte(e.NewState), e.Result, e.Error, e.CreatedAt,
		)
	}
	return rows
}

func TestAuditRepository_Insert(t *testing.T) {
	t.Run("inserts entry", func(t *testing.T) {
		db, mock := newTestDB(t)
		repo := NewAuditRepository(db, zap.NewNop())

		entry := models.NewAuditEntry(uuid.New(), uuid.New(), models.ActionPauseAgent, models.AuditResultSuccess)

		mock.ExpectExec(`INSERT INTO audit_entries`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Insert(context.Background(), entry)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("defaults nil state snapshots to empty objects", func(t *testing.T) {
		db, mock := newTestDB(t)
		repo := NewAuditRepository(db, zap.NewNop())

		entry := models.NewAuditEntry(uuid.New(), uuid.New(), models.ActionAlertOnly, models.AuditResultSkipped)
		entry.PreviousState = nil
		entry.NewState = nil

		mock.ExpectExec(`INSERT INTO audit_entries`).
			WithArgs(
				entry.ID, entry.BreachID, entry.WorkspaceID, nil, entry.Action,
				[]byte(`{}`), []byte(`{}`), entry.Result, nil, entry.CreatedAt,
			).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Insert(context.Background(), entry)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("joins the transaction carried in the context", func(t *testing.T) {
		db, mock := newTestDB(t)
		repo := NewAuditRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO audit_entries`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		tm := NewTransactionManager(db, zap.NewNop())
		tx, err := tm.Begin(context.Background())
		require.NoError(t, err)
		txCtx := context.WithValue(context.Background(), txContextKey{}, tx)

		entry := models.NewAuditEntry(uuid.New(), uuid.New(), models.ActionThrottle, models.AuditResultSuccess)
		err = repo.Insert(txCtx, entry)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("detached repository ignores the primary transaction", func(t *testing.T) {
		primary, primaryMock := newTestDB(t)
		auditDB, auditMock := newTestDB(t)
		repo := NewDetachedAuditRepository(auditDB, primary, zap.NewNop())

		// The transaction lives on the primary; the insert must land on the
		// audit connection.
		primaryMock.ExpectBegin()
		auditMock.ExpectExec(`INSERT INTO audit_entries`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		tm := NewTransactionManager(primary, zap.NewNop())
		tx, err := tm.Begin(context.Background())
		require.NoError(t, err)
		txCtx := context.WithValue(context.Background(), txContextKey{}, tx)

		entry := models.NewAuditEntry(uuid.New(), uuid.New(), models.ActionPauseAgent, models.AuditResultSuccess)
		err = repo.Insert(txCtx, entry)
		assert.NoError(t, err)
		assert.NoError(t, primaryMock.ExpectationsWereMet())
		assert.NoError(t, auditMock.ExpectationsWereMet())
	})
}

func TestAuditRepository_Query(t *testing.T) {
	workspaceID := uuid.New()

	newEntry := func() *models.AuditEntry {
		e := models.NewAuditEntry(uuid.New(), workspaceID, models.ActionModelDowngrade, models.AuditResultSuccess)
		e.CreatedAt = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
		return e
	}

	t.Run("workspace filter only", func(t *testing.T) {
		db, mock := newTestDB(t)
		repo := NewAuditRepository(db, zap.NewNop())

		entry := newEntry()
		mock.ExpectQuery(`WHERE a\.workspace_id = \$1 ORDER BY a\.created_at DESC`).
			WithArgs(workspaceID, 50).
			WillReturnRows(auditRows(entry))

		got, err := repo.Query(context.Background(), repositories.AuditFilter{
			WorkspaceID: workspaceID,
			Limit:       50,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, entry.ID, got[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("policy filter joins through breach records", func(t *testing.T) {
		db, mock := newTestDB(t)
		repo := NewAuditRepository(db, zap.NewNop())

		policyID := uuid.New()
		mock.ExpectQuery(`JOIN breach_records b ON b\.id = a\.breach_id WHERE a\.workspace_id = \$1 AND b\.policy_id = \$2`).
			WithArgs(workspaceID, policyID, 50).
			WillReturnRows(auditRows())

		got, err := repo.Query(context.Background(), repositories.AuditFilter{
			WorkspaceID: workspaceID,
			PolicyID:    &policyID,
			Limit:       50,
		})
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("detached policy filter resolves breach ids on the primary", func(t *testing.T) {
		primary, primaryMock := newTestDB(t)
		auditDB, auditMock := newTestDB(t)
		repo := NewDetachedAuditRepository(auditDB, primary, zap.NewNop())

		policyID := uuid.New()
		breachID := uuid.New()
		entry := newEntry()
		entry.BreachID = breachID

		primaryMock.ExpectQuery(`SELECT id FROM breach_records WHERE policy_id = \$1`).
			WithArgs(policyID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(breachID))
		auditMock.ExpectQuery(`AND a\.breach_id = ANY\(\$2::uuid\[\]\)`).
			WillReturnRows(auditRows(entry))

		got, err := repo.Query(context.Background(), repositories.AuditFilter{
			WorkspaceID: workspaceID,
			PolicyID:    &policyID,
			Limit:       50,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, breachID, got[0].BreachID)
		assert.NoError(t, primaryMock.ExpectationsWereMet())
		assert.NoError(t, auditMock.ExpectationsWereMet())
	})

	t.Run("detached policy filter with no breaches skips the audit query", func(t *testing.T) {
		primary, primaryMock := newTestDB(t)
		auditDB, auditMock := newTestDB(t)
		repo := NewDetachedAuditRepository(auditDB, primary, zap.NewNop())

		policyID := uuid.New()
		primaryMock.ExpectQuery(`SELECT id FROM breach_records WHERE policy_id = \$1`).
			WithArgs(policyID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		got, err := repo.Query(context.Background(), repositories.AuditFilter{
			WorkspaceID: workspaceID,
			PolicyID:    &policyID,
			Limit:       50,
		})
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, primaryMock.ExpectationsWereMet())
		assert.NoError(t, auditMock.ExpectationsWereMet())
	})

	t.Run("agent filter", func(t *testing.T) {
		db, mock := newTestDB(t)
		repo := NewAuditRepository(db, zap.NewNop())

		agentID := uuid.New()
		entry := newEntry()
		entry.AgentID = &agentID

		mock.ExpectQuery(`WHERE a\.workspace_id = \$1 AND a\.agent_id = \$2`).
			WithArgs(workspaceID, agentID, 10).
			WillReturnRows(auditRows(entry))

		got, err := repo.Query(context.Background(), repositories.AuditFilter{
			WorkspaceID: workspaceID,
			AgentID:     &agentID,
			Limit:       10,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.NotNil(t, got[0].AgentID)
		assert.Equal(t, agentID, *got[0].AgentID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
