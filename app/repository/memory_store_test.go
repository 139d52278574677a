package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedListing(t *testing.T, s Store, id, seller, status string) {
	t.Helper()
	require.NoError(t, s.Transaction(context.Background(), func(tx Tx) error {
		return tx.CreateListing(context.Background(), &models.Listing{
			ID:        id,
			SellerID:  seller,
			Status:    status,
			CreatedAt: baseTime,
		})
	}))
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedListing(t, s, "l1", "s1", models.ListingStatusDraft)

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx Tx) error {
		l, err := tx.GetListing(ctx, "l1", false)
		require.NoError(t, err)
		l.Status = models.ListingStatusActive
		require.NoError(t, tx.SaveListingState(ctx, l))
		_, err = tx.CompareAndSwapWallet(ctx, "s1", 0, 10)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		l, err := tx.GetListing(ctx, "l1", false)
		require.NoError(t, err)
		assert.Equal(t, models.ListingStatusDraft, l.Status)

		w, err := tx.GetWallet(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), w.Balance)
		assert.Equal(t, int64(0), w.Version)
		return nil
	}))
}

func TestMemoryStoreViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.View(ctx, func(tx Tx) error {
		return tx.SaveEntitlement(ctx, &models.SubscriptionEntitlement{SellerID: "s1"})
	})
	assert.ErrorIs(t, err, entitlements.ErrReadOnly)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedListing(t, s, "l1", "s1", models.ListingStatusActive)

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		l, err := tx.GetListing(ctx, "l1", false)
		require.NoError(t, err)
		l.Status = models.ListingStatusRejected
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		l, err := tx.GetListing(ctx, "l1", false)
		require.NoError(t, err)
		assert.Equal(t, models.ListingStatusActive, l.Status)
		return nil
	}))
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		_, err := tx.GetListing(ctx, "missing", false)
		assert.ErrorIs(t, err, entitlements.ErrNotFound)
		_, err = tx.GetEntitlement(ctx, "missing", false)
		assert.ErrorIs(t, err, entitlements.ErrNotFound)
		_, err = tx.GetTierSet(ctx, "missing", false)
		assert.ErrorIs(t, err, entitlements.ErrNotFound)

		w, err := tx.GetWallet(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, "missing", w.SellerID)
		return nil
	}))
}

func TestMemoryStoreWalletCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Transaction(ctx, func(tx Tx) error {
		ok, err := tx.CompareAndSwapWallet(ctx, "s1", 0, 5)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.CompareAndSwapWallet(ctx, "s1", 0, 7)
		require.NoError(t, err)
		assert.False(t, ok, "stale version must not win")

		ok, err = tx.CompareAndSwapWallet(ctx, "s1", 1, 4)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = tx.CompareAndSwapWallet(ctx, "s1", 2, -1)
		assert.ErrorIs(t, err, entitlements.ErrInvalidInput)
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		w, err := tx.GetWallet(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(4), w.Balance)
		assert.Equal(t, int64(2), w.Version)
		return nil
	}))
}

func TestMemoryStoreTierOccupants(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Transaction(ctx, func(tx Tx) error {
		require.NoError(t, tx.CreateTierSet(ctx, &models.TierSlotSet{ID: "a", SellerID: "s1", TierID: "gold", Capacity: 2, Status: models.TierSetStatusActive, ExpiresAt: baseTime}))
		require.NoError(t, tx.CreateTierSet(ctx, &models.TierSlotSet{ID: "b", SellerID: "s1", TierID: "gold", Capacity: 2, Status: models.TierSetStatusActive, ExpiresAt: baseTime}))
		require.NoError(t, tx.AddTierOccupant(ctx, "a", "l1"))

		err := tx.AddTierOccupant(ctx, "b", "l1")
		assert.ErrorIs(t, err, entitlements.ErrAlreadyAssigned)

		removed, err := tx.RemoveTierOccupant(ctx, "b", "l1")
		require.NoError(t, err)
		assert.False(t, removed)

		removed, err = tx.RemoveTierOccupant(ctx, "a", "l1")
		require.NoError(t, err)
		assert.True(t, removed)

		require.NoError(t, tx.AddTierOccupant(ctx, "b", "l1"))
		set, err := tx.GetTierSet(ctx, "b", true)
		require.NoError(t, err)
		assert.Equal(t, []string{"l1"}, set.Occupied)
		return nil
	}))
}

func TestMemoryStoreSellersDueForReconcile(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := baseTime

	require.NoError(t, s.Transaction(ctx, func(tx Tx) error {
		// lapsed subscription
		require.NoError(t, tx.SaveEntitlement(ctx, &models.SubscriptionEntitlement{
			SellerID: "lapsed", Status: models.EntitlementStatusActive, ExpiresAt: now.Add(-time.Hour),
		}))
		// renewed, not yet reconciled
		require.NoError(t, tx.SaveEntitlement(ctx, &models.SubscriptionEntitlement{
			SellerID: "renewed", Status: models.EntitlementStatusActive, ExpiresAt: now.Add(time.Hour), Revision: 2, ReconciledRevision: 1,
		}))
		// settled
		require.NoError(t, tx.SaveEntitlement(ctx, &models.SubscriptionEntitlement{
			SellerID: "settled", Status: models.EntitlementStatusActive, ExpiresAt: now.Add(time.Hour), Revision: 1, ReconciledRevision: 1,
		}))
		require.NoError(t, tx.CreateTierSet(ctx, &models.TierSlotSet{
			ID: "set", SellerID: "tiered", Capacity: 1, Status: models.TierSetStatusActive, ExpiresAt: now.Add(-time.Minute),
		}))
		require.NoError(t, tx.CreateReservation(ctx, &models.PromotionReservation{
			ID: "r", Placement: "homepage_top", ListingID: "l", SellerID: "promoted", ExpiresAt: now,
		}))
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		due, err := tx.ListSellersDueForReconcile(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, []string{"lapsed", "promoted", "renewed", "tiered"}, due)
		return nil
	}))
}

func TestMemoryStoreRecordPurchaseEventOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i, want := range []bool{true, false} {
		require.NoError(t, s.Transaction(ctx, func(tx Tx) error {
			created, err := tx.RecordPurchaseEvent(ctx, &models.PurchaseEvent{ID: "evt-1", SellerID: "s1", Kind: models.PurchaseKindPlan, ReferenceID: "pro", Amount: 1})
			require.NoError(t, err)
			assert.Equal(t, want, created, "attempt %d", i)
			return nil
		}))
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()

	called := false
	err := s.Transaction(ctx, func(tx Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestTransactionWithRetry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	calls := 0
	err := TransactionWithRetry(ctx, s, 3, func(tx Tx) error {
		calls++
		if calls < 3 {
			return entitlements.ErrConcurrencyConflict
		}
		_, err := tx.CompareAndSwapWallet(ctx, "s1", 0, 1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = TransactionWithRetry(ctx, s, 2, func(tx Tx) error {
		calls++
		return entitlements.ErrConcurrencyConflict
	})
	assert.ErrorIs(t, err, entitlements.ErrConcurrencyConflict)
	assert.Equal(t, 2, calls)
}

func TestMemoryStoreCreateEntitlementConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	e := &models.SubscriptionEntitlement{SellerID: "s1", Status: models.EntitlementStatusActive, ExpiresAt: baseTime}

	require.NoError(t, s.Transaction(ctx, func(tx Tx) error { return tx.CreateEntitlement(ctx, e) }))
	err := s.Transaction(ctx, func(tx Tx) error { return tx.CreateEntitlement(ctx, e) })
	assert.ErrorIs(t, err, entitlements.ErrConcurrencyConflict)
}

func TestMemoryStoreOneReservationPerListing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Transaction(ctx, func(tx Tx) error {
		return tx.CreateReservation(ctx, &models.PromotionReservation{ID: "r1", Placement: "homepage_top", ListingID: "l1", ExpiresAt: baseTime})
	}))
	err := s.Transaction(ctx, func(tx Tx) error {
		return tx.CreateReservation(ctx, &models.PromotionReservation{ID: "r2", Placement: "category_top", ListingID: "l1", ExpiresAt: baseTime})
	})
	assert.ErrorIs(t, err, entitlements.ErrAlreadyAssigned)
}
