package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/risk-enforcer/middleware"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/repositories"
	"github.com/upb/risk-enforcer/utils"
)

const (
	defaultAuditListLimit = 100
	maxAuditListLimit     = 500
)

// AuditEntryResponse represents an audit entry in API responses
type AuditEntryResponse struct {
	ID            uuid.UUID          `json:"id"`
	BreachID      uuid.UUID          `json:"breach_id"`
	WorkspaceID   uuid.UUID          `json:"workspace_id"`
	AgentID       *uuid.UUID         `json:"agent_id,omitempty"`
	Action        models.ActionKind  `json:"action"`
	PreviousState json.RawMessage    `json:"previous_state"`
	NewState      json.RawMessage    `json:"new_state"`
	Result        models.AuditResult `json:"result"`
	Error         *string            `json:"error,omitempty"`
	CreatedAt     string             `json:"created_at"`
}

// AuditService defines the interface for audit trail queries
type AuditService interface {
	// Query retrieves audit entries matching the filter, newest first
	Query(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditEntry, error)
}

// AuditHandler serves the audit trail. The trail is append-only; this
// handler only ever reads it.
type AuditHandler struct {
	auditService AuditService
	logger       *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(auditService AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		auditService: auditService,
		logger:       logger,
	}
}

// HandleListAuditEntries handles GET /api/v1/audit/entries
func (h *AuditHandler) HandleListAuditEntries(w http.ResponseWriter, r *http.Request) {
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

	filter := repositories.AuditFilter{
		WorkspaceID: workspaceID,
		Limit:       defaultAuditListLimit,
	}

	if policyIDStr := r.URL.Query().Get("policy_id"); policyIDStr != "" {
		parsed, err := uuid.Parse(policyIDStr)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid policy_id format", nil)
			return
		}
		filter.PolicyID = &parsed
	}

	if agentIDStr := r.URL.Query().Get("agent_id"); agentIDStr != "" {
		parsed, err := uuid.Parse(agentIDStr)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid agent_id format", nil)
			return
		}
		filter.AgentID = &parsed
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			_ = utils.WriteBadRequest(w, "Invalid limit", nil)
			return
		}
		if parsed > maxAuditListLimit {
			parsed = maxAuditListLimit
		}
		filter.Limit = parsed
	}

	h.logger.Debug("querying audit trail",
		zap.String("request_id", requestID),
		zap.String("workspace_id", workspaceID.String()))

	entries, err := h.auditService.Query(ctx, filter)
	if err != nil {
		h.logger.Error("failed to query audit trail",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	responses := make([]AuditEntryResponse, len(entries))
	for i, entry := range entries {
		responses[i] = auditEntryToResponse(entry)
	}

	_ = utils.WriteOK(w, responses)
}

// auditEntryToResponse converts an AuditEntry model to an AuditEntryResponse
func auditEntryToResponse(entry *models.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:            entry.ID,
		BreachID:      entry.BreachID,
		WorkspaceID:   entry.WorkspaceID,
		AgentID:       entry.AgentID,
		Action:        entry.Action,
		PreviousState: entry.PreviousState,
		NewState:      entry.NewState,
		Result:        entry.Result,
		Error:         entry.Error,
		CreatedAt:     entry.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
