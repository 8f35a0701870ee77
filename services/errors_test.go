package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeNotFound,
				Message: "policy not found",
				Err:     errors.New("db error"),
			},
			wantMsg: "not_found: policy not found (db error)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
				Err:     nil,
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	unwrapped := errors.Unwrap(domainErr)
	assert.Equal(t, baseErr, unwrapped)
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same error type",
			err:    NewDomainError(ErrorTypeNotFound, "not found", nil),
			target: ErrPolicyNotFound,
			want:   true,
		},
		{
			name:   "different error type",
			err:    NewDomainError(ErrorTypeValidation, "validation", nil),
			target: ErrPolicyNotFound,
			want:   false,
		},
		{
			name:   "not a domain error",
			err:    NewDomainError(ErrorTypeNotFound, "not found", nil),
			target: errors.New("regular error"),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)

	err.WithDetail("field", "threshold").WithDetail("value", "-5")

	assert.Equal(t, "threshold", err.Details["field"])
	assert.Equal(t, "-5", err.Details["value"])
}

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not found error", ErrPolicyNotFound, true},
		{"wrapped not found", fmt.Errorf("wrapped: %w", ErrAgentNotFound), true},
		{"validation error", ErrInvalidInput, false},
		{"regular error", errors.New("regular"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNotFoundError(tt.err))
		})
	}
}

func TestIsValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation error", ErrInvalidInput, true},
		{"wrapped validation", fmt.Errorf("wrapped: %w", ErrInvalidThreshold), true},
		{"not found error", ErrPolicyNotFound, false},
		{"regular error", errors.New("regular"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidationError(tt.err))
		})
	}
}

func TestIsConflictError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"duplicate policy", ErrDuplicatePolicy, true},
		{"duplicate breach", ErrDuplicateBreach, true},
		{"validation error", ErrInvalidInput, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConflictError(tt.err))
		})
	}
}

func TestIsEntitlementError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"policy limit", ErrPolicyLimitReached, true},
		{"action not entitled", ErrActionNotEntitled, true},
		{"conflict error", ErrDuplicatePolicy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEntitlementError(tt.err))
		})
	}
}

func TestIsInternalError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"internal error", ErrInternal, true},
		{"database error", ErrDatabaseError, true},
		{"external error", ErrMetricSourceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInternalError(tt.err))
		})
	}
}

func TestIsExternalError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"metric source unavailable", ErrMetricSourceUnavailable, true},
		{"dispatcher unavailable", ErrDispatcherUnavailable, true},
		{"internal error", ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExternalError(tt.err))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"not found", ErrPolicyNotFound, ErrorTypeNotFound},
		{"validation", ErrInvalidInput, ErrorTypeValidation},
		{"entitlement", ErrPolicyLimitReached, ErrorTypeEntitlement},
		{"conflict", ErrDuplicateBreach, ErrorTypeConflict},
		{"regular error", errors.New("regular"), ErrorType("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorType(tt.err))
		})
	}
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)
	err.WithDetail("field", "action").WithDetail("reason", "unknown action kind")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "action", details["field"])
	assert.Equal(t, "unknown action kind", details["reason"])

	regularErr := errors.New("regular error")
	assert.Nil(t, GetErrorDetails(regularErr))
}

func TestWrapError(t *testing.T) {
	baseErr := errors.New("base error")
	wrapped := WrapError(ErrorTypeInternal, "wrapped message", baseErr)

	var domainErr *DomainError
	require.True(t, errors.As(wrapped, &domainErr))
	assert.Equal(t, ErrorTypeInternal, domainErr.Type)
	assert.Equal(t, "wrapped message", domainErr.Message)
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestWrapInternal(t *testing.T) {
	baseErr := errors.New("database connection failed")
	wrapped := WrapInternal("failed to connect", baseErr)

	assert.True(t, IsInternalError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestWrapExternal(t *testing.T) {
	baseErr := errors.New("webhook endpoint error")
	wrapped := WrapExternal("notification dispatch failed", baseErr)

	assert.True(t, IsExternalError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestAllErrorVariablesAreDefined(t *testing.T) {
	// Test that all predefined error variables are properly initialized
	errorVars := []error{
		// Not Found
		ErrPolicyNotFound,
		ErrBreachNotFound,
		ErrAgentNotFound,
		ErrWorkspaceNotFound,

		// Validation
		ErrInvalidInput,
		ErrInvalidPolicyConfig,
		ErrInvalidThreshold,
		ErrInvalidAction,

		// Conflict
		ErrDuplicatePolicy,
		ErrDuplicateBreach,

		// Entitlement
		ErrPolicyLimitReached,
		ErrActionNotEntitled,

		// Internal
		ErrInternal,
		ErrDatabaseError,
		ErrTransactionFailed,

		// External
		ErrMetricSourceUnavailable,
		ErrDispatcherUnavailable,
	}

	for _, err := range errorVars {
		assert.NotNil(t, err, "error variable should not be nil")
		assert.NotEmpty(t, err.Error(), "error should have a message")
	}
}

func TestErrorTypeCheckersCoverage(t *testing.T) {
	// Ensure all error types have corresponding checker functions
	typeCheckers := map[ErrorType]func(error) bool{
		ErrorTypeNotFound:    IsNotFoundError,
		ErrorTypeValidation:  IsValidationError,
		ErrorTypeForbidden:   IsForbiddenError,
		ErrorTypeConflict:    IsConflictError,
		ErrorTypeEntitlement: IsEntitlementError,
		ErrorTypeInternal:    IsInternalError,
		ErrorTypeExternal:    IsExternalError,
	}

	for errType, checker := range typeCheckers {
		t.Run(string(errType), func(t *testing.T) {
			err := NewDomainError(errType, "test error", nil)
			assert.True(t, checker(err), "checker should return true for %s", errType)
		})
	}
}
