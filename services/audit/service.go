package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/risk-enforcer/models"
	"github.com/upb/risk-enforcer/repositories"
	"github.com/upb/risk-enforcer/services"
	"go.uber.org/zap"
)

const (
	// DefaultQueryLimit is applied when a query does not specify a limit
	DefaultQueryLimit = 50

	// MaxQueryLimit caps the number of entries a single query may return
	MaxQueryLimit = 500
)

// Service records intervention outcomes and serves audit queries. Recording
// is synchronous: an intervention is not complete until its entry is durable,
// so there is no buffering between the caller and the repository.
type Service struct {
	auditRepo repositories.AuditRepository
	logger    *zap.Logger
}

// NewService creates a new audit Service instance
func NewService(auditRepo repositories.AuditRepository, logger *zap.Logger) *Service {
	return &Service{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// Record appends an audit entry
func (s *Service) Record(ctx context.Context, entry *models.AuditEntry) error {
	if entry == nil {
		return services.NewDomainError(services.ErrorTypeValidation, "audit entry is required", nil)
	}
	if entry.BreachID == uuid.Nil {
		return services.NewDomainError(services.ErrorTypeValidation, "audit entry requires a breach reference", nil)
	}
	if entry.WorkspaceID == uuid.Nil {
		return services.NewDomainError(services.ErrorTypeValidation, "audit entry requires a workspace", nil)
	}

	if err := s.auditRepo.Insert(ctx, entry); err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	s.logger.Debug("audit entry recorded",
		zap.String("entry_id", entry.ID.String()),
		zap.String("breach_id", entry.BreachID.String()),
		zap.String("action", string(entry.Action)),
		zap.String("result", string(entry.Result)))

	return nil
}

// Query returns audit entries matching the filter, newest first. The limit
// defaults to DefaultQueryLimit and is capped at MaxQueryLimit.
func (s *Service) Query(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditEntry, error) {
	if filter.WorkspaceID == uuid.Nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "workspace_id is required", nil)
	}

	filter.Limit = clampLimit(filter.Limit)

	entries, err := s.auditRepo.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	return entries, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
