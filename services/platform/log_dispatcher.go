package platform

import (
	"context"

	"go.uber.org/zap"
)

// LogDispatcher delivers breach notifications to the service log. It is the
// default channel so alert-only policies remain observable even when no
// webhook is configured.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a new log dispatcher
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Name implements NotificationDispatcher
func (d *LogDispatcher) Name() string {
	return "log"
}

// Dispatch implements NotificationDispatcher
func (d *LogDispatcher) Dispatch(ctx context.Context, notification BreachNotification) error {
	fields := []zap.Field{
		zap.String("breach_id", notification.BreachID.String()),
		zap.String("policy_id", notification.PolicyID.String()),
		zap.String("workspace_id", notification.WorkspaceID.String()),
		zap.String("action", string(notification.Action)),
		zap.String("breach_value", notification.BreachValue.String()),
		zap.String("threshold", notification.Threshold.String()),
		zap.Time("detected_at", notification.DetectedAt),
	}
	if notification.AgentID != nil {
		fields = append(fields, zap.String("agent_id", notification.AgentID.String()))
	}

	d.logger.Warn(notification.Message, fields...)
	return nil
}
