package entitlements

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassifiers(t *testing.T) {
	wrapped := fmt.Errorf("%w: set abc full", ErrCapacityExceeded)
	assert.True(t, IsCapacityError(wrapped))
	assert.True(t, IsCapacityError(ErrInsufficientCredits))
	assert.False(t, IsCapacityError(ErrNotAssigned))

	assert.True(t, IsEntitlementError(ErrExpiredEntitlement))
	assert.True(t, IsEntitlementError(fmt.Errorf("%w: seller s1", ErrNotEntitled)))
	assert.False(t, IsEntitlementError(ErrCapacityExceeded))

	assert.True(t, IsRetryable(fmt.Errorf("wallet: %w", ErrConcurrencyConflict)))
	assert.False(t, IsRetryable(ErrNotFound))
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after conflicts", func(t *testing.T) {
		calls := 0
		err := WithRetry(ctx, 3, func() error {
			calls++
			if calls < 3 {
				return ErrConcurrencyConflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up and keeps the sentinel", func(t *testing.T) {
		calls := 0
		err := WithRetry(ctx, 2, func() error {
			calls++
			return ErrConcurrencyConflict
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConcurrencyConflict))
		assert.Equal(t, 2, calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		err := WithRetry(ctx, 5, func() error {
			calls++
			return ErrInsufficientCredits
		})
		assert.ErrorIs(t, err, ErrInsufficientCredits)
		assert.Equal(t, 1, calls)
	})
}
