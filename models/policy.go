package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PolicyKind represents the metric window a policy monitors
type PolicyKind string

const (
	PolicyKindDailySpendCap PolicyKind = "daily_spend_cap"
)

// ActionKind represents the corrective action taken when a policy is breached
type ActionKind string

const (
	ActionAlertOnly      ActionKind = "alert_only"
	ActionThrottle       ActionKind = "throttle"
	ActionModelDowngrade ActionKind = "model_downgrade"
	ActionPauseAgent     ActionKind = "pause_agent"
)

// Validation errors for policy fields
var (
	ErrInvalidPolicyKind  = errors.New("invalid policy kind")
	ErrInvalidActionKind  = errors.New("invalid action kind")
	ErrInvalidThreshold   = errors.New("threshold must be greater than zero")
	ErrInvalidCooldown    = errors.New("cooldown cannot be negative")
	ErrAgentScopeRequired = errors.New("action requires an agent-scoped policy")
	ErrMissingTargetModel = errors.New("model_downgrade requires a target_model parameter")
)

// IsValid reports whether the policy kind is a known kind
func (k PolicyKind) IsValid() bool {
	switch k {
	case PolicyKindDailySpendCap:
		return true
	}
	return false
}

// IsValid reports whether the action kind is a known kind
func (a ActionKind) IsValid() bool {
	switch a {
	case ActionAlertOnly, ActionThrottle, ActionModelDowngrade, ActionPauseAgent:
		return true
	}
	return false
}

// Severity ranks action kinds from least to most disruptive.
// The ranking is not consulted during execution; every breach runs its own
// policy's action independently.
func (a ActionKind) Severity() int {
	switch a {
	case ActionAlertOnly:
		return 1
	case ActionThrottle:
		return 2
	case ActionModelDowngrade:
		return 3
	case ActionPauseAgent:
		return 4
	}
	return 0
}

// RequiresAgentScope reports whether the action mutates a single agent and
// therefore needs the policy to name one
func (a ActionKind) RequiresAgentScope() bool {
	return a == ActionModelDowngrade || a == ActionPauseAgent
}

// DowngradeParams carries the parameters for the model_downgrade action
type DowngradeParams struct {
	TargetModel string `json:"target_model"`
}

// ThrottleParams carries the parameters for the throttle action.
// The rate field is reserved; throttle is currently an audited no-op.
type ThrottleParams struct {
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
}

// Policy represents a monitored spend threshold and its corrective action
type Policy struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	WorkspaceID     uuid.UUID       `json:"workspace_id" db:"workspace_id"`
	AgentID         *uuid.UUID      `json:"agent_id,omitempty" db:"agent_id"` // Null if workspace-wide
	Kind            PolicyKind      `json:"kind" db:"kind"`
	Threshold       decimal.Decimal `json:"threshold" db:"threshold"`
	Action          ActionKind      `json:"action" db:"action"`
	ActionParams    json.RawMessage `json:"action_params,omitempty" db:"action_params"` // JSONB, shape depends on Action
	CooldownSeconds int64           `json:"cooldown_seconds" db:"cooldown_seconds"`
	Enabled         bool            `json:"enabled" db:"enabled"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Policy model
func (Policy) TableName() string {
	return "policies"
}

// NewPolicy creates a new Policy instance
func NewPolicy(workspaceID uuid.UUID, kind PolicyKind, threshold decimal.Decimal, action ActionKind) *Policy {
	now := time.Now()
	return &Policy{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Kind:        kind,
		Threshold:   threshold,
		Action:      action,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Cooldown returns the cooldown as a duration
func (p *Policy) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

// DowngradeParams parses the action parameters for a model_downgrade policy
func (p *Policy) DowngradeParams() (DowngradeParams, error) {
	return parseDowngradeParams(p.ActionParams)
}

func parseDowngradeParams(raw json.RawMessage) (DowngradeParams, error) {
	var params DowngradeParams
	if len(raw) == 0 {
		return params, ErrMissingTargetModel
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, err
	}
	if params.TargetModel == "" {
		return params, ErrMissingTargetModel
	}
	return params, nil
}

// Validate checks the policy's fields against the constraints enforced at
// creation time
func (p *Policy) Validate() error {
	if !p.Kind.IsValid() {
		return ErrInvalidPolicyKind
	}
	if !p.Action.IsValid() {
		return ErrInvalidActionKind
	}
	if !p.Threshold.IsPositive() {
		return ErrInvalidThreshold
	}
	if p.CooldownSeconds < 0 {
		return ErrInvalidCooldown
	}
	if p.Action.RequiresAgentScope() && p.AgentID == nil {
		return ErrAgentScopeRequired
	}
	if p.Action == ActionModelDowngrade {
		if _, err := p.DowngradeParams(); err != nil {
			return err
		}
	}
	return nil
}
