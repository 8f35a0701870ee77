package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/upb/risk-enforcer/middleware"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/services/policy"
	"github.com/upb/risk-enforcer/utils"
)

// CreatePolicyRequest represents a request to create a policy
type CreatePolicyRequest struct {
	WorkspaceID     string          `json:"workspace_id" validate:"required,uuid"`
	AgentID         *uuid.UUID      `json:"agent_id,omitempty"`
	Kind            string          `json:"kind" validate:"required,oneof=daily_spend_cap"`
	Threshold       decimal.Decimal `json:"threshold" validate:"required"`
	Action          string          `json:"action" validate:"required,oneof=alert_only throttle model_downgrade pause_agent"`
	ActionParams    json.RawMessage `json:"action_params,omitempty"`
	CooldownSeconds int64           `json:"cooldown_seconds" validate:"gte=0"`
	Enabled         *bool           `json:"enabled,omitempty"`
}

// UpdatePolicyRequest represents a request to update a policy. Nil fields
// keep their current value.
type UpdatePolicyRequest struct {
	Threshold       *decimal.Decimal `json:"threshold,omitempty"`
	Action          *string          `json:"action,omitempty" validate:"omitempty,oneof=alert_only throttle model_downgrade pause_agent"`
	ActionParams    json.RawMessage  `json:"action_params,omitempty"`
	CooldownSeconds *int64           `json:"cooldown_seconds,omitempty" validate:"omitempty,gte=0"`
	Enabled         *bool            `json:"enabled,omitempty"`
}

// PolicyResponse represents a policy in API responses
type PolicyResponse struct {
	ID              uuid.UUID         `json:"id"`
	WorkspaceID     uuid.UUID         `json:"workspace_id"`
	AgentID         *uuid.UUID        `json:"agent_id,omitempty"`
	Kind            models.PolicyKind `json:"kind"`
	Threshold       decimal.Decimal   `json:"threshold"`
	Action          models.ActionKind `json:"action"`
	ActionParams    json.RawMessage   `json:"action_params,omitempty"`
	CooldownSeconds int64             `json:"cooldown_seconds"`
	Enabled         bool              `json:"enabled"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

// PolicyService defines the interface for policy administration
type PolicyService interface {
	// Create validates and stores a new policy
	Create(ctx context.Context, req policy.CreateRequest) (*models.Policy, error)

	// Get retrieves a policy by ID
	Get(ctx context.Context, id uuid.UUID) (*models.Policy, error)

	// List retrieves all policies for a workspace
	List(ctx context.Context, workspaceID uuid.UUID) ([]*models.Policy, error)

	// Update applies a patch to an existing policy
	Update(ctx context.Context, id uuid.UUID, req policy.UpdateRequest) (*models.Policy, error)

	// Delete removes a policy
	Delete(ctx context.Context, id uuid.UUID) error
}

// PolicyHandler handles policy-related HTTP requests
type PolicyHandler struct {
	policyService PolicyService
	logger        *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(policyService PolicyService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		policyService: policyService,
		logger:        logger,
	}
}

// HandleListPolicies handles GET /api/v1/policies
func (h *PolicyHandler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	workspaceIDStr := r.URL.Query().Get("workspace_id")
	if workspaceIDStr == "" {
		_ = utils.WriteBadRequest(w, "workspace_id query parameter is required", nil)
		return
	}
	workspaceID, err := uuid.Parse(workspaceIDStr)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid workspace_id format", nil)
		return
	}

	h.logger.Debug("listing policies",
		zap.String("request_id", requestID),
		zap.String("workspace_id", workspaceID.String()))

	policies, err := h.policyService.List(ctx, workspaceID)
	if err != nil {
		h.logger.Error("failed to list policies",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	responses := make([]PolicyResponse, len(policies))
	for i, p := range policies {
		responses[i] = policyToResponse(p)
	}

	h.logger.Info("listed policies",
		zap.String("request_id", requestID),
		zap.Int("count", len(responses)))

	_ = utils.WriteOK(w, responses)
}

// HandleGetPolicy handles GET /api/v1/policies/{id}
func (h *PolicyHandler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid policy ID format", nil)
		return
	}

	p, err := h.policyService.Get(ctx, policyID)
	if err != nil {
		h.logger.Debug("failed to get policy",
			zap.String("request_id", requestID),
			zap.String("policy_id", policyID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, policyToResponse(p))
}

// HandleCreatePolicy handles POST /api/v1/policies
func (h *PolicyHandler) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	workspaceID, err := uuid.Parse(req.WorkspaceID)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid workspace_id format", nil)
		return
	}

	h.logger.Debug("creating policy",
		zap.String("request_id", requestID),
		zap.String("workspace_id", workspaceID.String()),
		zap.String("kind", req.Kind),
		zap.String("action", req.Action))

	p, err := h.policyService.Create(ctx, policy.CreateRequest{
		WorkspaceID:     workspaceID,
		AgentID:         req.AgentID,
		Kind:            models.PolicyKind(req.Kind),
		Threshold:       req.Threshold,
		Action:          models.ActionKind(req.Action),
		ActionParams:    req.ActionParams,
		CooldownSeconds: req.CooldownSeconds,
		Enabled:         req.Enabled,
	})
	if err != nil {
		h.logger.Error("failed to create policy",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy created",
		zap.String("request_id", requestID),
		zap.String("policy_id", p.ID.String()),
		zap.String("kind", string(p.Kind)))

	_ = utils.WriteCreated(w, policyToResponse(p))
}

// HandleUpdatePolicy handles PUT /api/v1/policies/{id}
func (h *PolicyHandler) HandleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid policy ID format", nil)
		return
	}

	var req UpdatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	var action *models.ActionKind
	if req.Action != nil {
		a := models.ActionKind(*req.Action)
		action = &a
	}

	h.logger.Debug("updating policy",
		zap.String("request_id", requestID),
		zap.String("policy_id", policyID.String()))

	p, err := h.policyService.Update(ctx, policyID, policy.UpdateRequest{
		Threshold:       req.Threshold,
		Action:          action,
		ActionParams:    req.ActionParams,
		CooldownSeconds: req.CooldownSeconds,
		Enabled:         req.Enabled,
	})
	if err != nil {
		h.logger.Error("failed to update policy",
			zap.String("request_id", requestID),
			zap.String("policy_id", policyID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy updated",
		zap.String("request_id", requestID),
		zap.String("policy_id", policyID.String()))

	_ = utils.WriteOK(w, policyToResponse(p))
}

// HandleDeletePolicy handles DELETE /api/v1/policies/{id}
func (h *PolicyHandler) HandleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid policy ID format", nil)
		return
	}

	h.logger.Debug("deleting policy",
		zap.String("request_id", requestID),
		zap.String("policy_id", policyID.String()))

	if err := h.policyService.Delete(ctx, policyID); err != nil {
		h.logger.Error("failed to delete policy",
			zap.String("request_id", requestID),
			zap.String("policy_id", policyID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy deleted",
		zap.String("request_id", requestID),
		zap.String("policy_id", policyID.String()))

	utils.WriteNoContent(w)
}

// policyToResponse converts a Policy model to a PolicyResponse
func policyToResponse(p *models.Policy) PolicyResponse {
	return PolicyResponse{
		ID:              p.ID,
		WorkspaceID:     p.WorkspaceID,
		AgentID:         p.AgentID,
		Kind:            p.Kind,
		Threshold:       p.Threshold,
		Action:          p.Action,
		ActionParams:    p.ActionParams,
		CooldownSeconds: p.CooldownSeconds,
		Enabled:         p.Enabled,
		CreatedAt:       p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:       p.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
