package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/upb/risk-enforcer/repositories"
)

type txCtxMarker struct{}

// fakeTxManager invokes the callback inline the way the real manager does,
// handing it a context derived from the caller's.
type fakeTxManager struct {
	inTxErr error
	calls   int
}

func (f *fakeTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return nil, errors.New("begin is not used by WithTransaction")
}

func (f *fakeTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if f.inTxErr != nil {
		return f.inTxErr
	}
	f.calls++
	txCtx := context.WithValue(ctx, txCtxMarker{}, true)
	return fn(txCtx, &fakeTx{})
}

type fakeTx struct{}

func (*fakeTx) Commit() error            { return nil }
func (*fakeTx) Rollback() error          { return nil }
func (*fakeTx) Context() context.Context { return context.Background() }

func TestWithTransaction_RunsCallbackOnTransactionContext(t *testing.T) {
	mgr := &fakeTxManager{}

	var gotCtx context.Context
	var gotTx repositories.Transaction
	err := WithTransaction(context.Background(), mgr, func(ctx context.Context, tx repositories.Transaction) error {
		gotCtx = ctx
		gotTx = tx
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, mgr.calls)
	assert.NotNil(t, gotTx)
	assert.Equal(t, true, gotCtx.Value(txCtxMarker{}), "callback should see the context the manager built")
}

func TestWithTransaction_PropagatesCallbackError(t *testing.T) {
	mgr := &fakeTxManager{}
	callbackErr := errors.New("operation failed")

	err := WithTransaction(context.Background(), mgr, func(ctx context.Context, tx repositories.Transaction) error {
		return callbackErr
	})

	assert.ErrorIs(t, err, callbackErr)
}

func TestWithTransaction_PropagatesManagerError(t *testing.T) {
	mgr := &fakeTxManager{inTxErr: errors.New("failed to begin transaction")}

	called := false
	err := WithTransaction(context.Background(), mgr, func(ctx context.Context, tx repositories.Transaction) error {
		called = true
		return nil
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")
	assert.False(t, called)
}
