package enforcement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/risk-enforcer/internal/observability"
)

// MockEvaluator is a mock implementation of Evaluator
type MockEvaluator struct {
	mock.Mock
}

func (m *MockEvaluator) Evaluate(ctx context.Context, workspaceID *uuid.UUID) (int, error) {
	args := m.Called(ctx, workspaceID)
	return args.Int(0), args.Error(1)
}

// MockExecutor is a mock implementation of Executor
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) ExecutePending(ctx context.Context, maxCount int) (int, error) {
	args := m.Called(ctx, maxCount)
	return args.Int(0), args.Error(1)
}

func newTestWorker() (*Worker, *MockEvaluator, *MockExecutor) {
	mockEvaluator := new(MockEvaluator)
	mockExecutor := new(MockExecutor)
	worker := NewWorker(mockEvaluator, mockExecutor, 0, 25, observability.NewMetrics(nil), zap.NewNop())
	return worker, mockEvaluator, mockExecutor
}

func TestWorker_RunCycle_Summary(t *testing.T) {
	worker, mockEvaluator, mockExecutor := newTestWorker()

	mockEvaluator.On("Evaluate", mock.Anything, (*uuid.UUID)(nil)).Return(2, nil)
	mockExecutor.On("ExecutePending", mock.Anything, 25).Return(3, nil)

	summary, err := worker.RunCycle(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 2, summary.BreachesCreated)
	assert.Equal(t, 3, summary.InterventionsExecuted)
	assert.False(t, summary.Partial)
	assert.GreaterOrEqual(t, summary.Elapsed, time.Duration(0))
	mockEvaluator.AssertExpectations(t)
	mockExecutor.AssertExpectations(t)
}

func TestWorker_RunCycle_DefaultBudget(t *testing.T) {
	worker, _, _ := newTestWorker()
	assert.Equal(t, DefaultBudget, worker.budget)
}

func TestWorker_RunCycle_EvaluationFailure(t *testing.T) {
	worker, mockEvaluator, mockExecutor := newTestWorker()

	mockEvaluator.On("Evaluate", mock.Anything, (*uuid.UUID)(nil)).
		Return(0, errors.New("connection refused"))

	summary, err := worker.RunCycle(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to evaluate policies")
	assert.Equal(t, 0, summary.BreachesCreated)
	mockExecutor.AssertNotCalled(t, "ExecutePending", mock.Anything, mock.Anything)
}

func TestWorker_RunCycle_ExecutionFailure(t *testing.T) {
	worker, mockEvaluator, mockExecutor := newTestWorker()

	mockEvaluator.On("Evaluate", mock.Anything, (*uuid.UUID)(nil)).Return(1, nil)
	mockExecutor.On("ExecutePending", mock.Anything, 25).
		Return(0, errors.New("connection refused"))

	summary, err := worker.RunCycle(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute interventions")
	// The evaluation phase's work is still reported.
	assert.Equal(t, 1, summary.BreachesCreated)
}

func TestWorker_RunCycle_PartialWhenBudgetExpiresAfterEvaluation(t *testing.T) {
	worker, mockEvaluator, mockExecutor := newTestWorker()

	ctx, cancel := context.WithCancel(context.Background())
	mockEvaluator.On("Evaluate", mock.Anything, (*uuid.UUID)(nil)).
		Run(func(mock.Arguments) { cancel() }).
		Return(2, nil)

	summary, err := worker.RunCycle(ctx)

	assert.NoError(t, err)
	assert.True(t, summary.Partial)
	assert.Equal(t, 2, summary.BreachesCreated)
	assert.Equal(t, 0, summary.InterventionsExecuted)
	mockExecutor.AssertNotCalled(t, "ExecutePending", mock.Anything, mock.Anything)
}

func TestWorker_RunCycle_PartialWhenBudgetExpiresDuringExecution(t *testing.T) {
	worker, mockEvaluator, mockExecutor := newTestWorker()

	ctx, cancel := context.WithCancel(context.Background())
	mockEvaluator.On("Evaluate", mock.Anything, (*uuid.UUID)(nil)).Return(2, nil)
	mockExecutor.On("ExecutePending", mock.Anything, 25).
		Run(func(mock.Arguments) { cancel() }).
		Return(1, nil)

	summary, err := worker.RunCycle(ctx)

	assert.NoError(t, err)
	assert.True(t, summary.Partial)
	assert.Equal(t, 2, summary.BreachesCreated)
	assert.Equal(t, 1, summary.InterventionsExecuted)
}

func TestWorker_RunCycle_ExpiryTurnsPhaseErrorIntoPartial(t *testing.T) {
	worker, mockEvaluator, mockExecutor := newTestWorker()

	ctx, cancel := context.WithCancel(context.Background())
	mockEvaluator.On("Evaluate", mock.Anything, (*uuid.UUID)(nil)).Return(2, nil)
	// The budget dies mid-call and the phase surfaces the context error; the
	// cycle must still report a partial summary, not a failure.
	mockExecutor.On("ExecutePending", mock.Anything, 25).
		Run(func(mock.Arguments) { cancel() }).
		Return(0, context.Canceled)

	summary, err := worker.RunCycle(ctx)

	assert.NoError(t, err)
	assert.True(t, summary.Partial)
	assert.Equal(t, 2, summary.BreachesCreated)
}

func TestWorker_RunCycle_RecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	mockEvaluator := new(MockEvaluator)
	mockExecutor := new(MockExecutor)
	worker := NewWorker(mockEvaluator, mockExecutor, 0, 25, metrics, zap.NewNop())

	mockEvaluator.On("Evaluate", mock.Anything, (*uuid.UUID)(nil)).Return(1, nil)
	mockExecutor.On("ExecutePending", mock.Anything, 25).Return(1, nil)

	_, err := worker.RunCycle(context.Background())
	require.NoError(t, err)

	families, err := registry.Gather()
	require.NoError(t, err)

	var cycleCount float64
	var durationSamples uint64
	for _, family := range families {
		switch family.GetName() {
		case "enforcer_cycles_total":
			for _, metric := range family.GetMetric() {
				for _, label := range metric.GetLabel() {
					if label.GetName() == "result" && label.GetValue() == "ok" {
						cycleCount = metric.GetCounter().GetValue()
					}
				}
			}
		case "enforcer_cycle_duration_seconds":
			durationSamples = family.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}

	assert.Equal(t, float64(1), cycleCount)
	assert.Equal(t, uint64(1), durationSamples)
}

func TestWorker_RunInterval_StopsOnContextCancel(t *testing.T) {
	worker, mockEvaluator, mockExecutor := newTestWorker()

	var once sync.Once
	firstCycle := make(chan struct{})
	mockEvaluator.On("Evaluate", mock.Anything, (*uuid.UUID)(nil)).
		Run(func(mock.Arguments) { once.Do(func() { close(firstCycle) }) }).
		Return(0, nil)
	mockExecutor.On("ExecutePending", mock.Anything, 25).Return(0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.RunInterval(ctx, 2*time.Millisecond)
		close(done)
	}()

	select {
	case <-firstCycle:
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle ran before the timeout")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("interval runner did not stop after cancellation")
	}
}
