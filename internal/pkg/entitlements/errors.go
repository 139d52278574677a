package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the entitlement engine. Callers match them with
// errors.Is; the engine wraps them with detail via fmt.Errorf("%w: ...").
var (
	// Capacity and credit errors
	ErrCapacityExceeded    = errors.New("entitlements: capacity exceeded")
	ErrInsufficientCredits = errors.New("entitlements: insufficient bump credits")

	// Entitlement errors
	ErrNotEntitled        = errors.New("entitlements: no active subscription")
	ErrExpiredEntitlement = errors.New("entitlements: entitlement expired")

	// Assignment errors
	ErrAlreadyAssigned = errors.New("entitlements: already assigned")
	ErrNotAssigned     = errors.New("entitlements: not assigned")

	// Concurrency errors
	ErrConcurrencyConflict = errors.New("entitlements: concurrency conflict")

	// General errors
	ErrNotFound          = errors.New("entitlements: not found")
	ErrInvalidInput      = errors.New("entitlements: invalid input")
	ErrInvalidTransition = errors.New("entitlements: invalid status transition")
	ErrReadOnly          = errors.New("entitlements: write in read-only view")
)

// DefaultRetryAttempts bounds internal retries of ErrConcurrencyConflict.
const DefaultRetryAttempts = 3

// IsCapacityError returns true if the caller should be prompted to buy more
// slots or credits.
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrInsufficientCredits)
}

// IsEntitlementError returns true if the seller has to (re)subscribe.
func IsEntitlementError(err error) bool {
	return errors.Is(err, ErrNotEntitled) || errors.Is(err, ErrExpiredEntitlement)
}

// IsRetryable returns true if the error is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// WithRetry runs fn until it succeeds, fails with a non-conflict error, or
// attempts are exhausted. The final conflict is returned wrapped so that it
// still matches ErrConcurrencyConflict.
func WithRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 5 * time.Millisecond):
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
