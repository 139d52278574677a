package promotion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/app/repository"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/clock"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T, n int) (*Manager, repository.Store, *clock.Fake) {
	t.Helper()
	return setupOn(t, repository.NewMemoryStore(), n)
}

// setupSQL runs on MySQL or Postgres and skips when neither is reachable.
func setupSQL(t *testing.T, n int) (*Manager, repository.Store, *clock.Fake) {
	t.Helper()
	m, store, clk := setupOn(t, repository.NewGormStore(testutil.GormDB(t, "promotion")), n)
	m.SetRetryAttempts(50)
	return m, store, clk
}

func setupOn(t *testing.T, store repository.Store, n int) (*Manager, repository.Store, *clock.Fake) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Transaction(ctx, func(tx repository.Tx) error {
		for i := 0; i < n; i++ {
			if err := tx.CreateListing(ctx, &models.Listing{
				ID:        fmt.Sprintf("l%02d", i),
				SellerID:  fmt.Sprintf("s%d", i%3),
				Status:    models.ListingStatusActive,
				CreatedAt: start,
			}); err != nil {
				return err
			}
		}
		return nil
	}))
	clk := clock.NewFake(start)
	return NewManager(store, entitlements.DefaultCatalog(), clk, nil), store, clk
}

func getListing(t *testing.T, store repository.Store, id string) *models.Listing {
	t.Helper()
	var l *models.Listing
	require.NoError(t, store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		l, err = tx.GetListing(context.Background(), id, false)
		return err
	}))
	return l
}

func TestReserveUpdatesListing(t *testing.T) {
	m, store, _ := setup(t, 1)

	r, err := m.Reserve(context.Background(), "Homepage_Top", "l00", 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "homepage_top", r.Placement)
	assert.Equal(t, "s0", r.SellerID)
	assert.Equal(t, start.Add(48*time.Hour), r.ExpiresAt)

	l := getListing(t, store, "l00")
	require.NotNil(t, l.PromotionRef)
	assert.Equal(t, r.ID, *l.PromotionRef)
	assert.Equal(t, "homepage_top", l.PromotionPlacement)
	assert.Equal(t, r.ExpiresAt, *l.PromotionExpiresAt)
}

func TestReserveDefaultsAndValidation(t *testing.T) {
	m, _, _ := setup(t, 1)
	ctx := context.Background()

	r, err := m.Reserve(ctx, "search_top", "l00", 0)
	require.NoError(t, err)
	assert.Equal(t, start.Add(3*24*time.Hour), r.ExpiresAt)

	_, err = m.Reserve(ctx, "sidebar", "l00", time.Hour)
	assert.ErrorIs(t, err, entitlements.ErrInvalidInput)
	_, err = m.Reserve(ctx, "search_top", "missing", time.Hour)
	assert.ErrorIs(t, err, entitlements.ErrNotFound)
}

func TestReserveOnePromotionPerListing(t *testing.T) {
	m, _, clk := setup(t, 1)
	ctx := context.Background()

	_, err := m.Reserve(ctx, "homepage_top", "l00", time.Hour)
	require.NoError(t, err)
	_, err = m.Reserve(ctx, "category_top", "l00", time.Hour)
	assert.ErrorIs(t, err, entitlements.ErrAlreadyAssigned)

	clk.Advance(2 * time.Hour)
	r, err := m.Reserve(ctx, "category_top", "l00", time.Hour)
	require.NoError(t, err, "a lapsed promotion is replaced")
	assert.Equal(t, "category_top", r.Placement)
}

func TestReserveCapacity(t *testing.T) {
	m, _, clk := setup(t, 6)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := m.Reserve(ctx, "homepage_top", fmt.Sprintf("l%02d", i), time.Hour)
		require.NoError(t, err)
	}
	_, err := m.Reserve(ctx, "homepage_top", "l04", time.Hour)
	assert.ErrorIs(t, err, entitlements.ErrCapacityExceeded)

	// other placements are independent
	_, err = m.Reserve(ctx, "category_top", "l04", time.Hour)
	require.NoError(t, err)

	// lapsed reservations no longer count, even before the sweep
	clk.Advance(time.Hour)
	_, err = m.Reserve(ctx, "homepage_top", "l05", time.Hour)
	require.NoError(t, err)
}

func TestConcurrentReserve(t *testing.T) {
	m, _, _ := setup(t, 12)
	assertConcurrentReserve(t, m)
}

func TestConcurrentReserveSQL(t *testing.T) {
	m, _, _ := setupSQL(t, 12)
	assertConcurrentReserve(t, m)
}

func assertConcurrentReserve(t *testing.T, m *Manager) {
	t.Helper()
	ctx := context.Background()

	var ok, full atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := m.Reserve(ctx, "category_top", id, time.Hour)
			switch {
			case err == nil:
				ok.Add(1)
			case entitlements.IsCapacityError(err):
				full.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("l%02d", i))
	}
	wg.Wait()

	assert.Equal(t, int32(8), ok.Load())
	assert.Equal(t, int32(4), full.Load())
}

func TestConcurrentReserveOneListingTwoPlacements(t *testing.T) {
	m, store, _ := setup(t, 1)
	assertOnePromotionPerListing(t, m, store)
}

func TestConcurrentReserveOneListingTwoPlacementsSQL(t *testing.T) {
	m, store, _ := setupSQL(t, 1)
	assertOnePromotionPerListing(t, m, store)
}

func assertOnePromotionPerListing(t *testing.T, m *Manager, store repository.Store) {
	t.Helper()
	ctx := context.Background()

	var ok, taken atomic.Int32
	var wg sync.WaitGroup
	for _, placement := range []string{"homepage_top", "category_top", "homepage_top", "category_top"} {
		wg.Add(1)
		go func(placement string) {
			defer wg.Done()
			_, err := m.Reserve(ctx, placement, "l00", time.Hour)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, entitlements.ErrAlreadyAssigned):
				taken.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(placement)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(3), taken.Load())

	var reservations []models.PromotionReservation
	require.NoError(t, store.View(ctx, func(tx repository.Tx) error {
		var err error
		reservations, err = tx.ListExpiredReservations(ctx, "", start.Add(24*time.Hour))
		return err
	}))
	require.Len(t, reservations, 1)
	l := getListing(t, store, "l00")
	require.NotNil(t, l.PromotionRef)
	assert.Equal(t, reservations[0].ID, *l.PromotionRef)
	assert.Equal(t, reservations[0].Placement, l.PromotionPlacement)
}

func TestExpireReservations(t *testing.T) {
	m, store, clk := setup(t, 3)
	ctx := context.Background()

	_, err := m.Reserve(ctx, "homepage_top", "l00", time.Hour)
	require.NoError(t, err)
	_, err = m.Reserve(ctx, "homepage_top", "l01", 5*time.Hour)
	require.NoError(t, err)

	n, err := m.ExpireReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clk.Advance(2 * time.Hour)
	n, err = m.ExpireReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	l0 := getListing(t, store, "l00")
	assert.Nil(t, l0.PromotionRef)
	assert.Empty(t, l0.PromotionPlacement)
	assert.Nil(t, l0.PromotionExpiresAt)
	assert.NotNil(t, getListing(t, store, "l01").PromotionRef)

	n, err = m.ExpireReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
