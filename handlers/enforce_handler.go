package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/risk-enforcer/middleware"
	"github.com/upb/risk-enforcer/services/enforcement"
	"github.com/upb/risk-enforcer/utils"
)

// EnforceResponse is the cycle summary returned to the scheduler. The two
// keys are the contract; schedulers alert on them.
type EnforceResponse struct {
	BreachesCreated       int `json:"breachesCreated"`
	InterventionsExecuted int `json:"interventionsExecuted"`
}

// CycleRunner defines the interface for running one enforcement cycle
type CycleRunner interface {
	// RunCycle performs one evaluate-then-execute pass
	RunCycle(ctx context.Context) (enforcement.CycleSummary, error)
}

// EnforceHandler exposes the enforcement trigger to the scheduler
type EnforceHandler struct {
	worker CycleRunner
	logger *zap.Logger
}

// NewEnforceHandler creates a new EnforceHandler
func NewEnforceHandler(worker CycleRunner, logger *zap.Logger) *EnforceHandler {
	return &EnforceHandler{
		worker: worker,
		logger: logger,
	}
}

// HandleEnforce handles POST /internal/enforce-risk. A time-boxed cycle
// that stops early still returns 200: the scheduler's next tick picks up
// the remainder, so partial completion is not a failure.
func (h *EnforceHandler) HandleEnforce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	h.logger.Debug("enforcement cycle requested",
		zap.String("request_id", requestID))

	summary, err := h.worker.RunCycle(ctx)
	if err != nil {
		h.logger.Error("enforcement cycle failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Enforcement cycle failed")
		return
	}

	h.logger.Info("enforcement cycle completed",
		zap.String("request_id", requestID),
		zap.Int("breaches_created", summary.BreachesCreated),
		zap.Int("interventions_executed", summary.InterventionsExecuted),
		zap.Bool("partial", summary.Partial),
		zap.Duration("elapsed", summary.Elapsed))

	_ = utils.WriteJSON(w, http.StatusOK, EnforceResponse{
		BreachesCreated:       summary.BreachesCreated,
		InterventionsExecuted: summary.InterventionsExecuted,
	})
}
