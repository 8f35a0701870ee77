package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditResult classifies the outcome of an intervention attempt
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailed  AuditResult = "failed"
	AuditResultSkipped AuditResult = "skipped"
)

// AuditEntry represents an append-only record of one intervention attempt.
// PreviousState holds everything needed to manually reverse the intervention
// by reapplying it to the target.
type AuditEntry struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	BreachID      uuid.UUID       `json:"breach_id" db:"breach_id"`
	WorkspaceID   uuid.UUID       `json:"workspace_id" db:"workspace_id"`
	AgentID       *uuid.UUID      `json:"agent_id,omitempty" db:"agent_id"`
	Action        ActionKind      `json:"action" db:"action"`
	PreviousState json.RawMessage `json:"previous_state" db:"previous_state"`
	NewState      json.RawMessage `json:"new_state" db:"new_state"`
	Result        AuditResult     `json:"result" db:"result"`
	Error         *string         `json:"error,omitempty" db:"error"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AuditEntry model
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// NewAuditEntry creates a new AuditEntry instance with empty state snapshots
func NewAuditEntry(breachID, workspaceID uuid.UUID, action ActionKind, result AuditResult) *AuditEntry {
	return &AuditEntry{
		ID:            uuid.New(),
		BreachID:      breachID,
		WorkspaceID:   workspaceID,
		Action:        action,
		PreviousState: json.RawMessage(`{}`),
		NewState:      json.RawMessage(`{}`),
		Result:        result,
		CreatedAt:     time.Now(),
	}
}

// WithAgent sets the agent the intervention targeted
func (e *AuditEntry) WithAgent(agentID uuid.UUID) *AuditEntry {
	e.AgentID = &agentID
	return e
}

// WithStates sets the before and after snapshots of the target's state
func (e *AuditEntry) WithStates(previous, next json.RawMessage) *AuditEntry {
	if len(previous) > 0 {
		e.PreviousState = previous
	}
	if len(next) > 0 {
		e.NewState = next
	}
	return e
}

// WithError records the error that caused a failed or skipped attempt
func (e *AuditEntry) WithError(message string) *AuditEntry {
	e.Error = &message
	return e
}
