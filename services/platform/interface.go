// Package platform defines the interfaces through which the enforcement core
// talks to the surrounding product: usage metrics, the agent directory,
// notification delivery and plan entitlements. The core never reaches past
// these interfaces; adapters live in the subpackages.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/upb/risk-enforcer/models"
)

var (
	// ErrAgentNotFound is returned when the agent directory has no record
	// of the requested agent
	ErrAgentNotFound = errors.New("agent not found")

	// ErrWorkspaceNotFound is returned when entitlement lookup finds no
	// such workspace
	ErrWorkspaceNotFound = errors.New("workspace not found")
)

// Scope identifies the aggregation target of a metric query: a whole
// workspace, or a single agent within it
type Scope struct {
	WorkspaceID uuid.UUID
	AgentID     *uuid.UUID
}

// MetricSource reads aggregated usage spend. Implementations must return
// exact decimals; threshold comparisons never go through binary floats.
type MetricSource interface {
	// SumCost returns the total cost attributed to the scope since the
	// given instant
	SumCost(ctx context.Context, scope Scope, since time.Time) (decimal.Decimal, error)
}

// AgentDirectory reads and writes the two agent fields enforcement touches.
// Everything else about an agent is opaque to this service.
type AgentDirectory interface {
	// GetAgentState returns the agent's current active flag and model
	GetAgentState(ctx context.Context, agentID uuid.UUID) (models.AgentState, error)

	// SetAgentState applies the patch and returns the resulting state.
	// Unset patch fields keep their current value.
	SetAgentState(ctx context.Context, agentID uuid.UUID, patch models.AgentStatePatch) (models.AgentState, error)
}

// BreachNotification carries everything a dispatcher needs to describe a
// breach to the outside world
type BreachNotification struct {
	BreachID    uuid.UUID         `json:"breach_id"`
	PolicyID    uuid.UUID         `json:"policy_id"`
	WorkspaceID uuid.UUID         `json:"workspace_id"`
	AgentID     *uuid.UUID        `json:"agent_id,omitempty"`
	Action      models.ActionKind `json:"action"`
	BreachValue decimal.Decimal   `json:"breach_value"`
	Threshold   decimal.Decimal   `json:"threshold"`
	DetectedAt  time.Time         `json:"detected_at"`
	Message     string            `json:"message"`
}

// NotificationDispatcher delivers breach notifications
type NotificationDispatcher interface {
	// Name returns the dispatcher name (e.g., "log", "webhook")
	Name() string

	// Dispatch delivers the notification, returning an error when delivery
	// could not be confirmed
	Dispatch(ctx context.Context, notification BreachNotification) error
}

// EntitlementChecker answers plan questions at policy-administration time.
// It is never consulted inside the enforcement cycle.
type EntitlementChecker interface {
	// PolicyAllowance returns the maximum number of enabled policies the
	// workspace's plan permits. A negative allowance means unlimited.
	PolicyAllowance(ctx context.Context, workspaceID uuid.UUID) (int, error)
}
