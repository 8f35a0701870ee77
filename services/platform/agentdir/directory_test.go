package agentdir

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/services/platform"
	"go.uber.org/zap"
)

func newTestDirectory(t *testing.T) (*Directory, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &Directory{
		db:     db,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) },
	}, mock
}

func TestDirectory_GetAgentState(t *testing.T) {
	t.Run("returns state", func(t *testing.T) {
		dir, mock := newTestDirectory(t)

		agentID := uuid.New()
		mock.ExpectQuery(`SELECT active, model FROM agents WHERE id = \$1`).
			WithArgs(agentID).
			WillReturnRows(sqlmock.NewRows([]string{"active", "model"}).AddRow(true, "gpt-4o"))

		state, err := dir.GetAgentState(context.Background(), agentID)
		require.NoError(t, err)
		assert.True(t, state.Active)
		assert.Equal(t, "gpt-4o", state.Model)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown agent", func(t *testing.T) {
		dir, mock := newTestDirectory(t)

		agentID := uuid.New()
		mock.ExpectQuery(`SELECT active, model FROM agents`).
			WithArgs(agentID).
			WillReturnError(sql.ErrNoRows)

		_, err := dir.GetAgentState(context.Background(), agentID)
		assert.ErrorIs(t, err, platform.ErrAgentNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDirectory_SetAgentState(t *testing.T) {
	t.Run("pauses agent", func(t *testing.T) {
		dir, mock := newTestDirectory(t)

		agentID := uuid.New()
		inactive := false
		mock.ExpectQuery(`UPDATE agents`).
			WithArgs(agentID, &inactive, nil, dir.now()).
			WillReturnRows(sqlmock.NewRows([]string{"active", "model"}).AddRow(false, "gpt-4o"))

		state, err := dir.SetAgentState(context.Background(), agentID, models.AgentStatePatch{Active: &inactive})
		require.NoError(t, err)
		assert.False(t, state.Active)
		assert.Equal(t, "gpt-4o", state.Model)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("downgrades model keeping active flag", func(t *testing.T) {
		dir, mock := newTestDirectory(t)

		agentID := uuid.New()
		target := "gpt-4o-mini"
		mock.ExpectQuery(`UPDATE agents`).
			WithArgs(agentID, nil, &target, dir.now()).
			WillReturnRows(sqlmock.NewRows([]string{"active", "model"}).AddRow(true, "gpt-4o-mini"))

		state, err := dir.SetAgentState(context.Background(), agentID, models.AgentStatePatch{Model: &target})
		require.NoError(t, err)
		assert.True(t, state.Active)
		assert.Equal(t, "gpt-4o-mini", state.Model)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown agent", func(t *testing.T) {
		dir, mock := newTestDirectory(t)

		agentID := uuid.New()
		active := true
		mock.ExpectQuery(`UPDATE agents`).
			WillReturnError(sql.ErrNoRows)

		_, err := dir.SetAgentState(context.Background(), agentID, models.AgentStatePatch{Active: &active})
		assert.ErrorIs(t, err, platform.ErrAgentNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
