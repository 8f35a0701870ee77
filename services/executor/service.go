// Package executor applies the corrective action recorded on pending breach
// records. Each record is claimed with a compare-and-set update so overlapping
// cycles never run the same intervention twice, and every attempt is finalized
// together with its audit entry in one transaction. Terminal records are
// immutable; a failed intervention is recovered by the next day's evaluation,
// not by retrying the record.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/risk-enforcer/internal/observability"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/repositories"
	"github.com/upb/risk-enforcer/services"
	"github.com/upb/risk-enforcer/services/platform"
)

// DefaultBatchSize bounds one invocation when the caller does not
const DefaultBatchSize = 50

// Service executes the interventions for claimed breach records
type Service struct {
	breachRepo repositories.BreachRepository
	auditRepo  repositories.AuditRepository
	txManager  repositories.TransactionManager
	agents     platform.AgentDirectory
	dispatcher platform.NotificationDispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a new executor service
func NewService(
	breachRepo repositories.BreachRepository,
	auditRepo repositories.AuditRepository,
	txManager repositories.TransactionManager,
	agents platform.AgentDirectory,
	dispatcher platform.NotificationDispatcher,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		breachRepo: breachRepo,
		auditRepo:  auditRepo,
		txManager:  txManager,
		agents:     agents,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// ExecutePending claims up to maxCount pending breach records, oldest first,
// and runs each one's intervention to a terminal status. It returns the number
// of records it claimed and drove to a terminal state. The context carries the
// cycle's time budget; on expiry the partial count is returned with a nil
// error and the remaining records stay pending for the next cycle.
func (s *Service) ExecutePending(ctx context.Context, maxCount int) (int, error) {
	if maxCount <= 0 {
		maxCount = DefaultBatchSize
	}

	pending, err := s.breachRepo.ListPending(ctx, maxCount)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending breach records: %w", err)
	}

	processed := 0
	for i, breach := range pending {
		if ctx.Err() != nil {
			s.logger.Info("execution stopped early",
				zap.Int("interventions_executed", processed),
				zap.Int("breaches_seen", i),
				zap.Int("breaches_total", len(pending)))
			return processed, nil
		}

		claimed, err := s.breachRepo.Claim(ctx, breach.ID)
		if err != nil {
			s.logger.Error("failed to claim breach record",
				zap.String("breach_id", breach.ID.String()),
				zap.Error(err))
			continue
		}
		if !claimed {
			// Another executor won the compare-and-set.
			s.logger.Debug("breach record already claimed",
				zap.String("breach_id", breach.ID.String()))
			continue
		}

		if s.execute(ctx, breach) {
			processed++
		}
	}

	return processed, nil
}

// outcome is the in-memory result of one intervention attempt before it is
// made durable
type outcome struct {
	status        models.BreachStatus
	result        string
	err           error
	previousState json.RawMessage
	newState      json.RawMessage
}

func (o outcome) auditResult() models.AuditResult {
	switch o.status {
	case models.BreachStatusExecuted:
		return models.AuditResultSuccess
	case models.BreachStatusFailed:
		return models.AuditResultFailed
	default:
		return models.AuditResultSkipped
	}
}

// execute runs one claimed breach record to a terminal status and reports
// whether it got there. The audit entry and the terminal transition commit in
// the same transaction: an intervention that happened but was not recorded is
// worse than one left in_progress for an operator.
func (s *Service) execute(ctx context.Context, breach *models.BreachRecord) bool {
	out := s.perform(ctx, breach)

	entry := models.NewAuditEntry(breach.ID, breach.WorkspaceID, breach.ActionAtDetection, out.auditResult())
	if breach.AgentID != nil {
		entry.WithAgent(*breach.AgentID)
	}
	entry.WithStates(out.previousState, out.newState)
	if out.err != nil {
		entry.WithError(out.err.Error())
	}

	executedAt := s.now().UTC()
	txErr := services.WithTransaction(ctx, s.txManager, func(txCtx context.Context, tx repositories.Transaction) error {
		if err := s.auditRepo.WithTx(tx).Insert(txCtx, entry); err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
		return s.breachRepo.WithTx(tx).Finalize(txCtx, breach.ID, out.status, out.result, executedAt)
	})
	if txErr != nil {
		// The record stays in_progress and needs an operator; later cycles
		// only claim pending records.
		s.logger.Error("failed to finalize breach record",
			zap.String("breach_id", breach.ID.String()),
			zap.String("action", string(breach.ActionAtDetection)),
			zap.String("status", string(out.status)),
			zap.Error(txErr))
		return false
	}

	s.metrics.InterventionsTotal.WithLabelValues(string(breach.ActionAtDetection), string(out.status)).Inc()

	switch out.status {
	case models.BreachStatusExecuted:
		s.logger.Info("intervention executed",
			zap.String("breach_id", breach.ID.String()),
			zap.String("action", string(breach.ActionAtDetection)),
			zap.String("result", out.result))
	case models.BreachStatusSkipped:
		s.logger.Warn("intervention skipped",
			zap.String("breach_id", breach.ID.String()),
			zap.String("action", string(breach.ActionAtDetection)),
			zap.String("result", out.result))
	default:
		s.logger.Error("intervention failed",
			zap.String("breach_id", breach.ID.String()),
			zap.String("action", string(breach.ActionAtDetection)),
			zap.Error(out.err))
	}

	return true
}

// perform applies the action snapshotted on the breach record and returns the
// terminal status it earned. It never touches the breach record itself.
func (s *Service) perform(ctx context.Context, breach *models.BreachRecord) outcome {
	var prev models.AgentState
	agentScoped := breach.AgentID != nil

	if agentScoped {
		state, err := s.agents.GetAgentState(ctx, *breach.AgentID)
		if err != nil {
			if errors.Is(err, platform.ErrAgentNotFound) {
				return outcome{
					status: models.BreachStatusSkipped,
					result: "agent no longer exists",
					err:    err,
				}
			}
			return outcome{
				status: models.BreachStatusFailed,
				result: fmt.Sprintf("failed to read agent state: %v", err),
				err:    err,
			}
		}
		prev = state
	}

	switch breach.ActionAtDetection {
	case models.ActionAlertOnly:
		return s.performAlert(ctx, breach, prev, agentScoped)
	case models.ActionThrottle:
		return s.performThrottle(prev, agentScoped)
	case models.ActionModelDowngrade:
		if !agentScoped {
			return outcome{
				status: models.BreachStatusSkipped,
				result: "model_downgrade requires an agent-scoped policy",
				err:    models.ErrAgentScopeRequired,
			}
		}
		return s.performDowngrade(ctx, breach, prev)
	case models.ActionPauseAgent:
		if !agentScoped {
			return outcome{
				status: models.BreachStatusSkipped,
				result: "pause_agent requires an agent-scoped policy",
				err:    models.ErrAgentScopeRequired,
			}
		}
		return s.performPause(ctx, breach, prev)
	default:
		err := fmt.Errorf("unknown action kind %q", breach.ActionAtDetection)
		return outcome{
			status: models.BreachStatusFailed,
			result: err.Error(),
			err:    err,
		}
	}
}

// performAlert delivers the breach notification. Nothing is mutated, so the
// before and after snapshots are identical.
func (s *Service) performAlert(ctx context.Context, breach *models.BreachRecord, prev models.AgentState, agentScoped bool) outcome {
	var snapshot json.RawMessage
	if agentScoped {
		snapshot = prev.Snapshot()
	}

	notification := platform.BreachNotification{
		BreachID:    breach.ID,
		PolicyID:    breach.PolicyID,
		WorkspaceID: breach.WorkspaceID,
		AgentID:     breach.AgentID,
		Action:      breach.ActionAtDetection,
		BreachValue: breach.BreachValue,
		Threshold:   breach.ThresholdAtDetection,
		DetectedAt:  breach.DetectedAt,
		Message: fmt.Sprintf("daily spend %s crossed threshold %s",
			breach.BreachValue.String(), breach.ThresholdAtDetection.String()),
	}

	if err := s.dispatcher.Dispatch(ctx, notification); err != nil {
		s.metrics.NotificationsTotal.WithLabelValues(s.dispatcher.Name(), "error").Inc()
		return outcome{
			status:        models.BreachStatusFailed,
			result:        fmt.Sprintf("notification dispatch failed: %v", err),
			err:           err,
			previousState: snapshot,
			newState:      snapshot,
		}
	}

	s.metrics.NotificationsTotal.WithLabelValues(s.dispatcher.Name(), "ok").Inc()
	return outcome{
		status:        models.BreachStatusExecuted,
		result:        fmt.Sprintf("alert dispatched via %s", s.dispatcher.Name()),
		previousState: snapshot,
		newState:      snapshot,
	}
}

// performThrottle records the throttle without applying one. The rate field on
// the policy parameters is reserved; the audit trail still shows the breach
// was acted on.
func (s *Service) performThrottle(prev models.AgentState, agentScoped bool) outcome {
	var snapshot json.RawMessage
	if agentScoped {
		snapshot = prev.Snapshot()
	}
	return outcome{
		status:        models.BreachStatusExecuted,
		result:        "throttle recorded (advisory)",
		previousState: snapshot,
		newState:      snapshot,
	}
}

func (s *Service) performDowngrade(ctx context.Context, breach *models.BreachRecord, prev models.AgentState) outcome {
	params, err := breach.DowngradeParams()
	if err != nil {
		return outcome{
			status:        models.BreachStatusFailed,
			result:        fmt.Sprintf("invalid downgrade parameters: %v", err),
			err:           err,
			previousState: prev.Snapshot(),
			newState:      prev.Snapshot(),
		}
	}

	next, err := s.agents.SetAgentState(ctx, *breach.AgentID, models.AgentStatePatch{Model: &params.TargetModel})
	if err != nil {
		return outcome{
			status:        models.BreachStatusFailed,
			result:        fmt.Sprintf("failed to downgrade model: %v", err),
			err:           err,
			previousState: prev.Snapshot(),
			newState:      prev.Snapshot(),
		}
	}

	return outcome{
		status:        models.BreachStatusExecuted,
		result:        fmt.Sprintf("model downgraded from %s to %s", prev.Model, next.Model),
		previousState: prev.Snapshot(),
		newState:      next.Snapshot(),
	}
}

func (s *Service) performPause(ctx context.Context, breach *models.BreachRecord, prev models.AgentState) outcome {
	inactive := false
	next, err := s.agents.SetAgentState(ctx, *breach.AgentID, models.AgentStatePatch{Active: &inactive})
	if err != nil {
		return outcome{
			status:        models.BreachStatusFailed,
			result:        fmt.Sprintf("failed to pause agent: %v", err),
			err:           err,
			previousState: prev.Snapshot(),
			newState:      prev.Snapshot(),
		}
	}

	return outcome{
		status:        models.BreachStatusExecuted,
		result:        "agent paused",
		previousState: prev.Snapshot(),
		newState:      next.Snapshot(),
	}
}
