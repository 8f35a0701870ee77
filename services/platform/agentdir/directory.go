// Package agentdir adapts the platform's agents table to the AgentDirectory
// interface. Enforcement only ever touches the active flag and the model
// identifier; the rest of the agent row is none of its business.
package agentdir

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/services/platform"
	"go.uber.org/zap"
)

// Directory is a database-backed agent directory
type Directory struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewDirectory creates a new database-backed agent directory
func NewDirectory(db *sql.DB, logger *zap.Logger) platform.AgentDirectory {
	return &Directory{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// GetAgentState returns the agent's current active flag and model
func (d *Directory) GetAgentState(ctx context.Context, agentID uuid.UUID) (models.AgentState, error) {
	query := `SELECT active, model FROM agents WHERE id = $1`

	var state models.AgentState
	err := d.db.QueryRowContext(ctx, query, agentID).Scan(&state.Active, &state.Model)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.AgentState{}, fmt.Errorf("agent %s: %w", agentID, platform.ErrAgentNotFound)
		}
		return models.AgentState{}, fmt.Errorf("failed to get agent state: %w", err)
	}

	return state, nil
}

// SetAgentState applies the patch in a single statement. COALESCE keeps
// unset fields at their current value, and RETURNING gives back the state
// as stored so callers snapshot what actually happened.
func (d *Directory) SetAgentState(ctx context.Context, agentID uuid.UUID, patch models.AgentStatePatch) (models.AgentState, error) {
	query := `
		UPDATE agents
		SET active = COALESCE($2, active),
		    model = COALESCE($3, model),
		    updated_at = $4
		WHERE id = $1
		RETURNING active, model
	`

	var state models.AgentState
	err := d.db.QueryRowContext(ctx, query, agentID, patch.Active, patch.Model, d.now().UTC()).
		Scan(&state.Active, &state.Model)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.AgentState{}, fmt.Errorf("agent %s: %w", agentID, platform.ErrAgentNotFound)
		}
		return models.AgentState{}, fmt.Errorf("failed to set agent state: %w", err)
	}

	d.logger.Info("agent state updated",
		zap.String("agent_id", agentID.String()),
		zap.Bool("active", state.Active),
		zap.String("model", state.Model))

	return state, nil
}
