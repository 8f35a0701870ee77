package services

import (
	"context"

	"github.com/upb/risk-enforcer/repositories"
)

// WithTransaction executes fn within a single database transaction.
// The context passed to fn carries the transaction, so repository calls made
// with that context are routed to the transaction rather than the pool.
// Commits when fn returns nil, rolls back otherwise.
func WithTransaction(ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return txMgr.InTransaction(ctx, fn)
}
