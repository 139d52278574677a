package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/app/repository"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/clock"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/notify"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store     repository.Store
	clock     *clock.Fake
	recorder  *notify.Recorder
	lifecycle *Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, repository.NewMemoryStore())
}

// newSQLFixture runs on MySQL or Postgres and skips when neither is reachable.
func newSQLFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixtureOn(t, repository.NewGormStore(testutil.GormDB(t, "subscription")))
	f.lifecycle.SetRetryAttempts(50)
	return f
}

func newFixtureOn(t *testing.T, store repository.Store) *fixture {
	t.Helper()
	f := &fixture{
		store:    store,
		clock:    clock.NewFake(start),
		recorder: notify.NewRecorder(0),
	}
	f.lifecycle = NewLifecycle(f.store, entitlements.DefaultCatalog(), f.clock, f.recorder, nil)
	return f
}

func (f *fixture) seed(t *testing.T, listings ...models.Listing) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Transaction(ctx, func(tx repository.Tx) error {
		for i := range listings {
			if err := tx.CreateListing(ctx, &listings[i]); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (f *fixture) entitlement(t *testing.T, sellerID string) *models.SubscriptionEntitlement {
	t.Helper()
	e, err := f.lifecycle.Entitlement(context.Background(), sellerID)
	require.NoError(t, err)
	return e
}

func (f *fixture) listings(t *testing.T, sellerID string, statuses ...string) []models.Listing {
	t.Helper()
	var out []models.Listing
	require.NoError(t, f.store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		out, err = tx.ListListings(context.Background(), sellerID, statuses...)
		return err
	}))
	return out
}

func drafts(seller string, n int) []models.Listing {
	out := make([]models.Listing, n)
	for i := range out {
		out[i] = models.Listing{
			ID:        fmt.Sprintf("%s-l%02d", seller, i),
			SellerID:  seller,
			Status:    models.ListingStatusDraft,
			CreatedAt: start.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestActivateOpensWindow(t *testing.T) {
	f := newFixture(t)

	e, err := f.lifecycle.Activate(context.Background(), "s1", "PRO")
	require.NoError(t, err)

	assert.Equal(t, "pro", e.PlanID)
	assert.Equal(t, start, e.ActivatedAt)
	assert.Equal(t, start.Add(30*24*time.Hour), e.ExpiresAt)
	assert.Equal(t, 25, e.MaxAds)
	assert.Equal(t, 0, e.AdsUsed)
	assert.Equal(t, int64(1), e.Revision)
	assert.True(t, e.NeedsReactivation())

	_, err = f.lifecycle.Activate(context.Background(), "s1", "platinum")
	assert.ErrorIs(t, err, entitlements.ErrInvalidInput)
}

func TestPublishAutoAssignsFreePlanAndEnforcesQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, drafts("s1", 4)...)

	for i := 0; i < 3; i++ {
		l, err := f.lifecycle.Publish(ctx, fmt.Sprintf("s1-l%02d", i))
		require.NoError(t, err)
		assert.Equal(t, models.ListingStatusPending, l.Status)
	}

	e := f.entitlement(t, "s1")
	assert.Equal(t, string(entitlements.PlanFree), e.PlanID)
	assert.Equal(t, 3, e.AdsUsed)
	assert.False(t, e.NeedsReactivation(), "free plan is not a purchase")

	_, err := f.lifecycle.Publish(ctx, "s1-l03")
	assert.ErrorIs(t, err, entitlements.ErrCapacityExceeded)
	assert.Equal(t, 3, f.entitlement(t, "s1").AdsUsed)

	_, err = f.lifecycle.Publish(ctx, "s1-l00")
	assert.ErrorIs(t, err, entitlements.ErrInvalidTransition)
}

func TestConcurrentPublishNeverExceedsQuota(t *testing.T) {
	assertConcurrentPublish(t, newFixture(t), true)
}

func TestConcurrentPublishNeverExceedsQuotaSQL(t *testing.T) {
	assertConcurrentPublish(t, newSQLFixture(t), true)
}

func TestConcurrentFirstPublishCreatesOneEntitlementSQL(t *testing.T) {
	assertConcurrentPublish(t, newSQLFixture(t), false)
}

// assertConcurrentPublish races ten publishes against the free plan's quota
// of three. Without activate the entitlement is created by the first publish.
func assertConcurrentPublish(t *testing.T, f *fixture, activate bool) {
	t.Helper()
	ctx := context.Background()
	f.seed(t, drafts("s1", 10)...)
	if activate {
		_, err := f.lifecycle.Activate(ctx, "s1", "free")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, capacity := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.lifecycle.Publish(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case entitlements.IsCapacityError(err):
				capacity++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("s1-l%02d", i))
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, capacity)
	assert.Equal(t, 3, f.entitlement(t, "s1").AdsUsed)
	assert.Len(t, f.listings(t, "s1", models.ListingStatusPending), 3)
}

func TestExpireWinsOverConcurrentPublishSQL(t *testing.T) {
	f := newSQLFixture(t)
	ctx := context.Background()
	f.seed(t, drafts("s1", 3)...)
	_, err := f.lifecycle.Activate(ctx, "s1", "free")
	require.NoError(t, err)
	_, err = f.lifecycle.Publish(ctx, "s1-l00")
	require.NoError(t, err)
	_, err = f.lifecycle.Approve(ctx, "s1-l00")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.lifecycle.Publish(ctx, "s1-l01")
		if err != nil && !errors.Is(err, entitlements.ErrExpiredEntitlement) {
			t.Errorf("publish: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		_, err := f.lifecycle.Expire(ctx, "s1")
		assert.NoError(t, err)
	}()
	wg.Wait()

	// whichever ran first, the expiry is never overwritten
	e := f.entitlement(t, "s1")
	assert.Equal(t, models.EntitlementStatusExpired, e.Status)
	assert.LessOrEqual(t, e.AdsUsed, e.MaxAds)
	assert.Empty(t, f.listings(t, "s1", models.ListingStatusActive))
}

func TestModerationTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, drafts("s1", 2)...)

	_, err := f.lifecycle.Approve(ctx, "s1-l00")
	assert.ErrorIs(t, err, entitlements.ErrInvalidTransition)

	_, err = f.lifecycle.Publish(ctx, "s1-l00")
	require.NoError(t, err)
	l, err := f.lifecycle.Approve(ctx, "s1-l00")
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusActive, l.Status)
	assert.Equal(t, 1, f.entitlement(t, "s1").AdsUsed)

	l, err = f.lifecycle.Reject(ctx, "s1-l00")
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusRejected, l.Status)
	assert.Equal(t, 0, f.entitlement(t, "s1").AdsUsed)

	_, err = f.lifecycle.Reject(ctx, "s1-l00")
	assert.ErrorIs(t, err, entitlements.ErrInvalidTransition)

	l, err = f.lifecycle.Resubmit(ctx, "s1-l00")
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusPending, l.Status)
	assert.Equal(t, 1, f.entitlement(t, "s1").AdsUsed)
}

func TestApproveRequiresLiveEntitlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, drafts("s1", 1)...)

	_, err := f.lifecycle.Publish(ctx, "s1-l00")
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.lifecycle.Approve(ctx, "s1-l00")
	assert.ErrorIs(t, err, entitlements.ErrExpiredEntitlement)
	assert.True(t, entitlements.IsEntitlementError(err))
}

func TestExpireDraftsActiveListingsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tierRef := "set-1"
	tierExpiry := start.Add(60 * 24 * time.Hour)
	listings := drafts("s1", 5)
	for i := 0; i < 4; i++ {
		listings[i].Status = models.ListingStatusActive
	}
	listings[0].TierSetRef = &tierRef
	listings[0].TierPriority = 30
	listings[0].TierExpiresAt = &tierExpiry
	listings[4].Status = models.ListingStatusPending
	f.seed(t, listings...)

	_, err := f.lifecycle.Activate(ctx, "s1", "pro")
	require.NoError(t, err)
	assert.Equal(t, 5, f.entitlement(t, "s1").AdsUsed)

	drafted, err := f.lifecycle.Expire(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, drafted, 4)

	e := f.entitlement(t, "s1")
	assert.Equal(t, models.EntitlementStatusExpired, e.Status)
	assert.Equal(t, 1, e.AdsUsed)
	assert.Len(t, f.listings(t, "s1", models.ListingStatusDraft), 4)
	assert.Len(t, f.listings(t, "s1", models.ListingStatusPending), 1)

	kept, err := f.lifecycle.Listing(ctx, "s1-l00")
	require.NoError(t, err)
	require.NotNil(t, kept.TierSetRef)
	assert.Equal(t, 30, kept.TierPriority, "expiry does not touch tier state")

	events := f.recorder.OfKind(notify.KindSubscriptionExpired)
	require.Len(t, events, 1)
	assert.ElementsMatch(t, drafted, events[0].ListingIDs)

	again, err := f.lifecycle.Expire(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Len(t, f.recorder.OfKind(notify.KindSubscriptionExpired), 1)
}

func TestReactivateSelectsByTierPriorityThenAge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	listings := drafts("s1", 10)
	listings[7].TierPriority = 20
	listings[9].TierPriority = 10
	f.seed(t, listings...)

	_, err := f.lifecycle.Activate(ctx, "s1", "free")
	require.NoError(t, err)

	reactivated, err := f.lifecycle.Reactivate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1-l07", "s1-l09", "s1-l00"}, reactivated)

	e := f.entitlement(t, "s1")
	assert.Equal(t, 3, e.AdsUsed)
	assert.LessOrEqual(t, e.AdsUsed, e.MaxAds)
	assert.False(t, e.NeedsReactivation())
	assert.Len(t, f.listings(t, "s1", models.ListingStatusActive), 3)
	assert.Len(t, f.listings(t, "s1", models.ListingStatusDraft), 7)

	events := f.recorder.OfKind(notify.KindListingsReactivated)
	require.Len(t, events, 1)
	assert.Equal(t, reactivated, events[0].ListingIDs)

	more, err := f.lifecycle.Reactivate(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, more, "quota is exhausted")
}

func TestReactivateFewerDraftsThanQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, drafts("s1", 2)...)

	_, err := f.lifecycle.Activate(ctx, "s1", "pro")
	require.NoError(t, err)
	reactivated, err := f.lifecycle.Reactivate(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, reactivated, 2)
}

func TestReactivateRejectsExpiredEntitlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, drafts("s1", 1)...)

	_, err := f.lifecycle.Activate(ctx, "s1", "free")
	require.NoError(t, err)
	f.clock.Advance(31 * 24 * time.Hour)

	_, err = f.lifecycle.Reactivate(ctx, "s1")
	assert.ErrorIs(t, err, entitlements.ErrExpiredEntitlement)
}

func TestRenewAfterExpiryRestoresListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	listings := drafts("s1", 4)
	for i := range listings {
		listings[i].Status = models.ListingStatusActive
	}
	f.seed(t, listings...)
	_, err := f.lifecycle.Activate(ctx, "s1", "pro")
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.lifecycle.Expire(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, f.listings(t, "s1", models.ListingStatusActive), 0)

	e, err := f.lifecycle.Renew(ctx, "s1", "pro")
	require.NoError(t, err)
	assert.Equal(t, models.EntitlementStatusActive, e.Status)
	assert.Equal(t, 4, e.AdsUsed)
	assert.Equal(t, e.Revision, e.ReconciledRevision)
	assert.Len(t, f.listings(t, "s1", models.ListingStatusActive), 4)
}

func TestActivateDowngradeDemotesLowestRanked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	listings := drafts("s1", 5)
	for i := range listings {
		listings[i].Status = models.ListingStatusActive
	}
	ref := "set-x"
	listings[0].TierSetRef = &ref
	listings[0].TierPriority = 30
	f.seed(t, listings...)

	e, err := f.lifecycle.Activate(ctx, "s1", "free")
	require.NoError(t, err)
	assert.Equal(t, 3, e.AdsUsed)

	active := f.listings(t, "s1", models.ListingStatusActive)
	ids := make([]string, len(active))
	for i := range active {
		ids[i] = active[i].ID
	}
	// tiered first, then newest
	assert.ElementsMatch(t, []string{"s1-l00", "s1-l04", "s1-l03"}, ids)
}

func TestCreateDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.lifecycle.CreateDraft(ctx, "s1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, l.ID)
	assert.Equal(t, models.ListingStatusDraft, l.Status)
	assert.Equal(t, start, l.CreatedAt)

	_, err = f.lifecycle.CreateDraft(ctx, "s1", l.ID)
	assert.ErrorIs(t, err, entitlements.ErrInvalidInput)

	_, err = f.lifecycle.CreateDraft(ctx, " ", "")
	assert.ErrorIs(t, err, entitlements.ErrInvalidInput)
}
