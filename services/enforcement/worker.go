// Package enforcement drives the control loop. One cycle evaluates every
// enabled policy and then executes the pending interventions, all inside a
// single wall-clock budget. The worker holds no state between cycles; all
// coordination lives in the breach record table, which is why overlapping
// invocations are safe.
package enforcement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/risk-enforcer/internal/observability"
)

// DefaultBudget leaves headroom under a typical 60s scheduler timeout
const DefaultBudget = 45 * time.Second

// Evaluator detects threshold crossings for enabled policies
type Evaluator interface {
	Evaluate(ctx context.Context, workspaceID *uuid.UUID) (int, error)
}

// Executor drives pending breach records to a terminal status
type Executor interface {
	ExecutePending(ctx context.Context, maxCount int) (int, error)
}

// CycleSummary reports what one enforcement cycle accomplished. Partial means
// the time budget ran out before all work was claimed; the remainder is
// picked up by the next cycle.
type CycleSummary struct {
	BreachesCreated       int           `json:"breaches_created"`
	InterventionsExecuted int           `json:"interventions_executed"`
	Elapsed               time.Duration `json:"elapsed"`
	Partial               bool          `json:"partial"`
}

// Worker runs enforcement cycles
type Worker struct {
	evaluator Evaluator
	executor  Executor
	budget    time.Duration
	batchSize int
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewWorker creates a new enforcement worker. A non-positive budget falls back
// to DefaultBudget; a non-positive batch size defers to the executor's own
// default.
func NewWorker(
	evaluator Evaluator,
	executor Executor,
	budget time.Duration,
	batchSize int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Worker {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Worker{
		evaluator: evaluator,
		executor:  executor,
		budget:    budget,
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// RunCycle runs one evaluation pass over all workspaces followed by one
// execution batch, bounded by the worker's time budget. Budget exhaustion is
// not an error: the summary is marked partial and the error is nil. An error
// is returned only when a phase fails outright, such as the policy or pending
// listing failing at the database.
func (w *Worker) RunCycle(ctx context.Context) (CycleSummary, error) {
	start := time.Now()
	cycleCtx, cancel := context.WithTimeout(ctx, w.budget)
	defer cancel()

	var summary CycleSummary

	created, err := w.evaluator.Evaluate(cycleCtx, nil)
	summary.BreachesCreated = created
	if err != nil {
		// An error caused by budget expiry is still a partial cycle, not a
		// failed one.
		if cycleCtx.Err() != nil {
			summary.Partial = true
			return w.finish(summary, start, nil)
		}
		return w.finish(summary, start, fmt.Errorf("failed to evaluate policies: %w", err))
	}

	if cycleCtx.Err() == nil {
		executed, execErr := w.executor.ExecutePending(cycleCtx, w.batchSize)
		summary.InterventionsExecuted = executed
		if execErr != nil && cycleCtx.Err() == nil {
			return w.finish(summary, start, fmt.Errorf("failed to execute interventions: %w", execErr))
		}
	}

	summary.Partial = cycleCtx.Err() != nil
	return w.finish(summary, start, nil)
}

// finish stamps the elapsed time, records the cycle metrics and writes the
// one summary log line every cycle gets
func (w *Worker) finish(summary CycleSummary, start time.Time, err error) (CycleSummary, error) {
	summary.Elapsed = time.Since(start)

	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case summary.Partial:
		result = "partial"
	}

	w.metrics.CyclesTotal.WithLabelValues(result).Inc()
	w.metrics.CycleDuration.Observe(summary.Elapsed.Seconds())

	w.logger.Info("enforcement cycle finished",
		zap.String("result", result),
		zap.Int("breaches_created", summary.BreachesCreated),
		zap.Int("interventions_executed", summary.InterventionsExecuted),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Bool("partial", summary.Partial))

	return summary, err
}

// RunInterval runs a cycle every interval until the context is canceled. It
// blocks, so callers wanting a background loop run it in a goroutine.
// Deployments triggered by an external scheduler skip this entirely.
func (w *Worker) RunInterval(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("started enforcement interval runner",
		zap.Duration("interval", interval),
		zap.Duration("budget", w.budget))

	for {
		select {
		case <-ticker.C:
			if _, err := w.RunCycle(ctx); err != nil {
				w.logger.Error("enforcement cycle failed", zap.Error(err))
			}
		case <-ctx.Done():
			w.logger.Info("stopping enforcement interval runner")
			return
		}
	}
}
