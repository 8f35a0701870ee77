package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/upb/risk-enforcer/middleware"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/repositories"
	"github.com/upb/risk-enforcer/utils"
)

const (
	defaultBreachListLimit = 50
	maxBreachListLimit     = 200
)

// BreachResponse represents a breach record in API responses
type BreachResponse struct {
	ID                   uuid.UUID           `json:"id"`
	PolicyID             uuid.UUID           `json:"policy_id"`
	WorkspaceID          uuid.UUID           `json:"workspace_id"`
	AgentID              *uuid.UUID          `json:"agent_id,omitempty"`
	BreachValue          decimal.Decimal     `json:"breach_value"`
	ThresholdAtDetection decimal.Decimal     `json:"threshold_at_detection"`
	ActionAtDetection    models.ActionKind   `json:"action_at_detection"`
	Status               models.BreachStatus `json:"status"`
	DetectedAt           string              `json:"detected_at"`
	ExecutedAt           *string             `json:"executed_at,omitempty"`
	Result               *string             `json:"result,omitempty"`
}

// BreachHandler serves the read side of breach records. Writes only ever
// happen through the evaluator and the executor.
type BreachHandler struct {
	breachRepo repositories.BreachRepository
	logger     *zap.Logger
}

// NewBreachHandler creates a new BreachHandler
func NewBreachHandler(breachRepo repositories.BreachRepository, logger *zap.Logger) *BreachHandler {
	return &BreachHandler{
		breachRepo: breachRepo,
		logger:     logger,
	}
}

// HandleListBreaches handles GET /api/v1/breaches
func (h *BreachHandler) HandleListBreaches(w http.ResponseWriter, r *http.Request) {
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

	var status *models.BreachStatus
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		parsed, ok := parseBreachStatus(statusStr)
		if !ok {
			_ = utils.WriteBadRequest(w, "Invalid status filter", map[string]interface{}{
				"status": "must be one of: pending, in_progress, executed, failed, skipped",
			})
			return
		}
		status = &parsed
	}

	limit := defaultBreachListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			_ = utils.WriteBadRequest(w, "Invalid limit", nil)
			return
		}
		if parsed > maxBreachListLimit {
			parsed = maxBreachListLimit
		}
		limit = parsed
	}

	h.logger.Debug("listing breach records",
		zap.String("request_id", requestID),
		zap.String("workspace_id", workspaceID.String()))

	breaches, err := h.breachRepo.ListByWorkspace(ctx, workspaceID, status, limit)
	if err != nil {
		h.logger.Error("failed to list breach records",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve breach records")
		return
	}

	responses := make([]BreachResponse, len(breaches))
	for i, b := range breaches {
		responses[i] = breachToResponse(b)
	}

	_ = utils.WriteOK(w, responses)
}

// HandleGetBreach handles GET /api/v1/breaches/{id}
func (h *BreachHandler) HandleGetBreach(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	breachID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid breach ID format", nil)
		return
	}

	breach, err := h.breachRepo.GetByID(ctx, breachID)
	if err != nil {
		if errors.Is(err, repositories.ErrBreachNotFound) {
			_ = utils.WriteNotFound(w, "Breach record not found")
			return
		}
		h.logger.Error("failed to get breach record",
			zap.String("request_id", requestID),
			zap.String("breach_id", breachID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve breach record")
		return
	}

	_ = utils.WriteOK(w, breachToResponse(breach))
}

// parseBreachStatus maps a query string value onto a breach status
func parseBreachStatus(s string) (models.BreachStatus, bool) {
	status := models.BreachStatus(s)
	switch status {
	case models.BreachStatusPending,
		models.BreachStatusInProgress,
		models.BreachStatusExecuted,
		models.BreachStatusFailed,
		models.BreachStatusSkipped:
		return status, true
	}
	return "", false
}

// breachToResponse converts a BreachRecord model to a BreachResponse
func breachToResponse(b *models.BreachRecord) BreachResponse {
	resp := BreachResponse{
		ID:                   b.ID,
		PolicyID:             b.PolicyID,
		WorkspaceID:          b.WorkspaceID,
		AgentID:              b.AgentID,
		BreachValue:          b.BreachValue,
		ThresholdAtDetection: b.ThresholdAtDetection,
		ActionAtDetection:    b.ActionAtDetection,
		Status:               b.Status,
		DetectedAt:           b.DetectedAt.Format("2006-01-02T15:04:05Z07:00"),
		Result:               b.Result,
	}
	if b.ExecutedAt != nil {
		executedAt := b.ExecutedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.ExecutedAt = &executedAt
	}
	return resp
}
