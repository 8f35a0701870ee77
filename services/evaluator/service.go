// Package evaluator detects policy breaches. A sweep reads the current
// spend for every enabled policy, compares it to the threshold with exact
// decimal arithmetic, and inserts a pending breach record for each new
// crossing. Detection is idempotent per policy per UTC day; execution is
// the executor's job.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/risk-enforcer/internal/observability"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/repositories"
	"github.com/upb/risk-enforcer/services/platform"
	"go.uber.org/zap"
)

// Service sweeps enabled policies and records threshold crossings
type Service struct {
	policyRepo   repositories.PolicyRepository
	breachRepo   repositories.BreachRepository
	metricSource platform.MetricSource
	metrics      *observability.Metrics
	logger       *zap.Logger

	// now is swapped out in tests
	now func() time.Time
}

// NewService creates a new evaluator Service instance
func NewService(
	policyRepo repositories.PolicyRepository,
	breachRepo repositories.BreachRepository,
	metricSource platform.MetricSource,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		policyRepo:   policyRepo,
		breachRepo:   breachRepo,
		metricSource: metricSource,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// Evaluate runs one detection sweep over the enabled policies, optionally
// restricted to a single workspace, and returns the number of breach
// records it created. A metric source failure skips that policy and the
// sweep continues. When the context expires mid-sweep the partial count is
// returned with a nil error; the remaining policies are picked up by the
// next cycle.
func (s *Service) Evaluate(ctx context.Context, workspaceID *uuid.UUID) (int, error) {
	policies, err := s.policyRepo.ListEnabled(ctx, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to list enabled policies: %w", err)
	}

	created := 0
	for i, policy := range policies {
		if ctx.Err() != nil {
			s.logger.Info("evaluation stopped early",
				zap.Int("breaches_created", created),
				zap.Int("policies_seen", i),
				zap.Int("policies_total", len(policies)))
			return created, nil
		}

		breached, err := s.evaluatePolicy(ctx, policy)
		if err != nil && ctx.Err() != nil {
			return created, nil
		}
		if breached {
			created++
		}
	}

	return created, nil
}

// evaluatePolicy decides one policy. Failures are logged here and reported
// back only so the caller can notice budget expiry; they never abort the
// sweep.
func (s *Service) evaluatePolicy(ctx context.Context, policy *models.Policy) (bool, error) {
	s.metrics.PoliciesEvaluated.Inc()
	now := s.now().UTC()

	scope := platform.Scope{WorkspaceID: policy.WorkspaceID, AgentID: policy.AgentID}
	value, err := s.metricSource.SumCost(ctx, scope, startOfDay(now))
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.MetricSourceErrors.Inc()
			s.logger.Warn("metric source unavailable, skipping policy",
				zap.String("policy_id", policy.ID.String()),
				zap.String("workspace_id", policy.WorkspaceID.String()),
				zap.Error(err))
		}
		return false, err
	}

	// Exact decimal comparison; crossing includes equality
	if value.LessThan(policy.Threshold) {
		return false, nil
	}

	dedupeKey := models.BreachDedupeKey(policy.ID, now)
	exists, err := s.breachRepo.ExistsByDedupeKey(ctx, dedupeKey)
	if err != nil {
		s.logger.Error("failed to check dedupe key",
			zap.String("policy_id", policy.ID.String()),
			zap.Error(err))
		return false, err
	}
	if exists {
		s.logger.Debug("breach already recorded today",
			zap.String("policy_id", policy.ID.String()),
			zap.String("dedupe_key", dedupeKey))
		return false, nil
	}

	// Cooldown runs from the last detection regardless of calendar day
	latest, err := s.breachRepo.LatestByPolicy(ctx, policy.ID)
	if err != nil {
		s.logger.Error("failed to look up latest breach",
			zap.String("policy_id", policy.ID.String()),
			zap.Error(err))
		return false, err
	}
	if latest != nil && now.Sub(latest.DetectedAt) < policy.Cooldown() {
		s.logger.Debug("policy in cooldown",
			zap.String("policy_id", policy.ID.String()),
			zap.Time("last_detected_at", latest.DetectedAt),
			zap.Duration("cooldown", policy.Cooldown()))
		return false, nil
	}

	record := models.NewBreachRecord(policy, value, now)
	if err := s.breachRepo.Create(ctx, record); err != nil {
		if errors.Is(err, repositories.ErrDuplicateBreach) {
			// A concurrent sweep won the insert; same outcome either way
			s.logger.Debug("breach already recorded by concurrent sweep",
				zap.String("policy_id", policy.ID.String()),
				zap.String("dedupe_key", dedupeKey))
			return false, nil
		}
		s.logger.Error("failed to create breach record",
			zap.String("policy_id", policy.ID.String()),
			zap.Error(err))
		return false, err
	}

	s.metrics.BreachesCreated.Inc()
	s.logger.Info("breach detected",
		zap.String("breach_id", record.ID.String()),
		zap.String("policy_id", policy.ID.String()),
		zap.String("workspace_id", policy.WorkspaceID.String()),
		zap.String("breach_value", value.String()),
		zap.String("threshold", policy.Threshold.String()),
		zap.String("action", string(policy.Action)))

	return true, nil
}

// startOfDay returns midnight UTC of the instant's calendar day. The same
// boundary feeds the dedupe key, so a value summed since midnight can
// never produce two records for one day.
func startOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
