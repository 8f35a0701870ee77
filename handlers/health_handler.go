package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/risk-enforcer/services/platform"
	"github.com/upb/risk-enforcer/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db         *sql.DB
	auditDB    *sql.DB
	dispatcher platform.NotificationDispatcher
	logger     *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. auditDB is nil when audit
// entries share the primary database.
func NewHealthHandler(db, auditDB *sql.DB, dispatcher platform.NotificationDispatcher, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:         db,
		auditDB:    auditDB,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - validates that all dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	// Check database connectivity
	if err := checkDatabase(ctx, h.db); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	// Check the audit database when it is separate
	if h.auditDB != nil {
		if err := checkDatabase(ctx, h.auditDB); err != nil {
			h.logger.Warn("audit database health check failed", zap.Error(err))
			checks["audit_database"] = "unhealthy"
			allHealthy = false
		} else {
			checks["audit_database"] = "healthy"
		}
	}

	// A cycle without a dispatcher could not deliver alerts
	if h.dispatcher == nil {
		checks["dispatcher"] = "unconfigured"
		allHealthy = false
	} else {
		checks["dispatcher"] = h.dispatcher.Name()
	}

	// Determine overall status
	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func checkDatabase(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return nil // No database configured
	}

	// Ping database with timeout
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	// Check if we can execute a simple query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}

	return nil
}
