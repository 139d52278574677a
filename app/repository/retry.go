package repository

import (
	"context"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
)

// TransactionWithRetry runs fn in a transaction and retries the whole
// transaction on entitlements.ErrConcurrencyConflict. fn must not keep state
// across attempts.
func TransactionWithRetry(ctx context.Context, store Store, attempts int, fn func(tx Tx) error) error {
	return entitlements.WithRetry(ctx, attempts, func() error {
		return store.Transaction(ctx, fn)
	})
}
