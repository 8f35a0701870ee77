package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/repositories"
	"github.com/upb/risk-enforcer/services"
	"github.com/upb/risk-enforcer/services/platform"
	"go.uber.org/zap"
)

// CreateRequest carries the fields of a new policy
type CreateRequest struct {
	WorkspaceID     uuid.UUID
	AgentID         *uuid.UUID
	Kind            models.PolicyKind
	Threshold       decimal.Decimal
	Action          models.ActionKind
	ActionParams    json.RawMessage
	CooldownSeconds int64
	Enabled         *bool // nil means enabled
}

// UpdateRequest carries the mutable fields of a policy. Nil fields keep
// their current value. The workspace and agent scope are immutable; a
// different scope is a different policy.
type UpdateRequest struct {
	Threshold       *decimal.Decimal
	Action          *models.ActionKind
	ActionParams    json.RawMessage
	CooldownSeconds *int64
	Enabled         *bool
}

// Service manages policy administration: validation, the plan entitlement
// gate and the one-policy-per-scope-and-kind uniqueness rule. The
// enforcement loop never goes through this service; it reads enabled
// policies straight from the repository so a disable takes effect on the
// next cycle.
type Service struct {
	policyRepo   repositories.PolicyRepository
	entitlements platform.EntitlementChecker
	logger       *zap.Logger
}

// NewService creates a new policy Service instance
func NewService(policyRepo repositories.PolicyRepository, entitlements platform.EntitlementChecker, logger *zap.Logger) *Service {
	return &Service{
		policyRepo:   policyRepo,
		entitlements: entitlements,
		logger:       logger,
	}
}

// Create validates and stores a new policy. The entitlement gate runs here,
// at administration time, never inside the enforcement cycle.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Policy, error) {
	if req.WorkspaceID == uuid.Nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "workspace_id is required", nil)
	}

	policy := models.NewPolicy(req.WorkspaceID, req.Kind, req.Threshold, req.Action)
	policy.AgentID = req.AgentID
	policy.ActionParams = req.ActionParams
	policy.CooldownSeconds = req.CooldownSeconds
	if req.Enabled != nil {
		policy.Enabled = *req.Enabled
	}

	if err := policy.Validate(); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, err.Error(), err)
	}

	if policy.Enabled {
		if err := s.checkAllowance(ctx, policy.WorkspaceID); err != nil {
			return nil, err
		}
	}

	if err := s.policyRepo.Create(ctx, policy); err != nil {
		if errors.Is(err, repositories.ErrDuplicatePolicy) {
			return nil, services.ErrDuplicatePolicy
		}
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}

	s.logger.Info("policy created",
		zap.String("policy_id", policy.ID.String()),
		zap.String("workspace_id", policy.WorkspaceID.String()),
		zap.String("kind", string(policy.Kind)),
		zap.String("action", string(policy.Action)),
		zap.String("threshold", policy.Threshold.String()))

	return policy, nil
}

// Get retrieves a policy by ID
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	policy, err := s.policyRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrPolicyNotFound) {
			return nil, services.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return policy, nil
}

// List retrieves all policies for a workspace, newest first
func (s *Service) List(ctx context.Context, workspaceID uuid.UUID) ([]*models.Policy, error) {
	if workspaceID == uuid.Nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "workspace_id is required", nil)
	}

	policies, err := s.policyRepo.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	return policies, nil
}

// Update applies the patch to an existing policy and revalidates it. A
// policy going from disabled to enabled passes back through the
// entitlement gate.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*models.Policy, error) {
	policy, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	wasEnabled := policy.Enabled

	if req.Threshold != nil {
		policy.Threshold = *req.Threshold
	}
	if req.Action != nil {
		policy.Action = *req.Action
	}
	if req.ActionParams != nil {
		policy.ActionParams = req.ActionParams
	}
	if req.CooldownSeconds != nil {
		policy.CooldownSeconds = *req.CooldownSeconds
	}
	if req.Enabled != nil {
		policy.Enabled = *req.Enabled
	}

	if err := policy.Validate(); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, err.Error(), err)
	}

	if policy.Enabled && !wasEnabled {
		if err := s.checkAllowance(ctx, policy.WorkspaceID); err != nil {
			return nil, err
		}
	}

	if err := s.policyRepo.Update(ctx, policy); err != nil {
		switch {
		case errors.Is(err, repositories.ErrPolicyNotFound):
			return nil, services.ErrPolicyNotFound
		case errors.Is(err, repositories.ErrDuplicatePolicy):
			return nil, services.ErrDuplicatePolicy
		}
		return nil, fmt.Errorf("failed to update policy: %w", err)
	}

	s.logger.Info("policy updated",
		zap.String("policy_id", policy.ID.String()),
		zap.Bool("enabled", policy.Enabled))

	return policy, nil
}

// Delete removes a policy. Its breach records and audit entries survive:
// they carry the threshold and action snapshotted at detection time.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.policyRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrPolicyNotFound) {
			return services.ErrPolicyNotFound
		}
		return fmt.Errorf("failed to delete policy: %w", err)
	}

	s.logger.Info("policy deleted", zap.String("policy_id", id.String()))
	return nil
}

// checkAllowance enforces the workspace plan's enabled-policy limit
func (s *Service) checkAllowance(ctx context.Context, workspaceID uuid.UUID) error {
	allowance, err := s.entitlements.PolicyAllowance(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, platform.ErrWorkspaceNotFound) {
			return services.ErrWorkspaceNotFound
		}
		return fmt.Errorf("failed to check policy allowance: %w", err)
	}

	// Negative allowance means the plan is unlimited
	if allowance < 0 {
		return nil
	}

	count, err := s.policyRepo.CountEnabledByWorkspace(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to count enabled policies: %w", err)
	}

	if count >= allowance {
		s.logger.Debug("policy allowance exhausted",
			zap.String("workspace_id", workspaceID.String()),
			zap.Int("allowance", allowance),
			zap.Int("enabled", count))
		return services.ErrPolicyLimitReached
	}

	return nil
}
