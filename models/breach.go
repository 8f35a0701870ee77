package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BreachStatus represents the lifecycle state of a breach record
type BreachStatus string

const (
	BreachStatusPending    BreachStatus = "pending"
	BreachStatusInProgress BreachStatus = "in_progress"
	BreachStatusExecuted   BreachStatus = "executed"
	BreachStatusFailed     BreachStatus = "failed"
	BreachStatusSkipped    BreachStatus = "skipped"
)

// IsTerminal reports whether the status admits no further transition
func (s BreachStatus) IsTerminal() bool {
	switch s {
	case BreachStatusExecuted, BreachStatusFailed, BreachStatusSkipped:
		return true
	}
	return false
}

// BreachDedupeKey derives the deterministic dedupe key for a policy and a
// point in time. The key is unique per policy per UTC calendar day, which is
// what caps detection at one breach record per policy per day.
func BreachDedupeKey(policyID uuid.UUID, t time.Time) string {
	return policyID.String() + ":" + t.UTC().Format("2006-01-02")
}

// BreachRecord represents one detected threshold crossing. The threshold and
// action are snapshotted at detection time so later policy edits cannot
// retroactively change what was enforced.
type BreachRecord struct {
	ID                      uuid.UUID       `json:"id" db:"id"`
	PolicyID                uuid.UUID       `json:"policy_id" db:"policy_id"`
	WorkspaceID             uuid.UUID       `json:"workspace_id" db:"workspace_id"`
	AgentID                 *uuid.UUID      `json:"agent_id,omitempty" db:"agent_id"`
	BreachValue             decimal.Decimal `json:"breach_value" db:"breach_value"`
	ThresholdAtDetection    decimal.Decimal `json:"threshold_at_detection" db:"threshold_at_detection"`
	ActionAtDetection       ActionKind      `json:"action_at_detection" db:"action_at_detection"`
	ActionParamsAtDetection json.RawMessage `json:"action_params_at_detection,omitempty" db:"action_params_at_detection"`
	DedupeKey               string          `json:"dedupe_key" db:"dedupe_key"`
	Status                  BreachStatus    `json:"status" db:"status"`
	DetectedAt              time.Time       `json:"detected_at" db:"detected_at"`
	ExecutedAt              *time.Time      `json:"executed_at,omitempty" db:"executed_at"`
	Result                  *string         `json:"result,omitempty" db:"result"`
}

// TableName returns the table name for the BreachRecord model
func (BreachRecord) TableName() string {
	return "breach_records"
}

// DowngradeParams parses the action parameters snapshotted at detection time.
// Execution reads the snapshot, not the live policy, so a later edit to the
// policy's parameters does not change what a claimed breach will do.
func (b *BreachRecord) DowngradeParams() (DowngradeParams, error) {
	return parseDowngradeParams(b.ActionParamsAtDetection)
}

// NewBreachRecord creates a pending breach record for a policy, snapshotting
// the threshold and action as they stand at detection time
func NewBreachRecord(policy *Policy, value decimal.Decimal, detectedAt time.Time) *BreachRecord {
	return &BreachRecord{
		ID:                      uuid.New(),
		PolicyID:                policy.ID,
		WorkspaceID:             policy.WorkspaceID,
		AgentID:                 policy.AgentID,
		BreachValue:             value,
		ThresholdAtDetection:    policy.Threshold,
		ActionAtDetection:       policy.Action,
		ActionParamsAtDetection: policy.ActionParams,
		DedupeKey:               BreachDedupeKey(policy.ID, detectedAt),
		Status:                  BreachStatusPending,
		DetectedAt:              detectedAt,
	}
}
