package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/app/repository"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/clock"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/metrics"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/notify"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/ranking"
	"github.com/gofiber/fiber/v2/log"
)

// Lifecycle owns seller entitlements and the visibility-relevant listing
// status machine.
type Lifecycle struct {
	store    repository.Store
	catalog  entitlements.Catalog
	clock    clock.Clock
	notifier notify.Notifier
	metrics  *metrics.EngineMetrics
	retries  int
}

// NewLifecycle creates the subscription lifecycle. notifier and m may be nil.
func NewLifecycle(store repository.Store, catalog entitlements.Catalog, clk clock.Clock, notifier notify.Notifier, m *metrics.EngineMetrics) *Lifecycle {
	if clk == nil {
		clk = clock.Real{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Lifecycle{
		store:    store,
		catalog:  catalog,
		clock:    clk,
		notifier: notifier,
		metrics:  m,
		retries:  entitlements.DefaultRetryAttempts,
	}
}

// SetRetryAttempts overrides how often a conflicting transaction is retried.
func (l *Lifecycle) SetRetryAttempts(n int) {
	if n > 0 {
		l.retries = n
	}
}

// Clock returns the clock the lifecycle reads.
func (l *Lifecycle) Clock() clock.Clock {
	return l.clock
}

func (l *Lifecycle) run(ctx context.Context, op string, fn func(tx repository.Tx, out *notify.Outbox) error) error {
	var out *notify.Outbox
	err := repository.TransactionWithRetry(ctx, l.store, l.retries, func(tx repository.Tx) error {
		out = &notify.Outbox{}
		return fn(tx, out)
	})
	l.metrics.RecordOperation(op, err)
	if err != nil {
		return err
	}
	out.Flush(ctx, l.notifier)
	return nil
}

// Entitlement returns the seller's current entitlement.
func (l *Lifecycle) Entitlement(ctx context.Context, sellerID string) (*models.SubscriptionEntitlement, error) {
	var e *models.SubscriptionEntitlement
	err := l.store.View(ctx, func(tx repository.Tx) error {
		var err error
		e, err = tx.GetEntitlement(ctx, sellerID, false)
		return err
	})
	return e, err
}

// Activate creates or replaces the seller's entitlement for planID.
func (l *Lifecycle) Activate(ctx context.Context, sellerID, planID string) (*models.SubscriptionEntitlement, error) {
	plan, err := l.catalog.Plan(planID)
	if err != nil {
		return nil, err
	}
	var e *models.SubscriptionEntitlement
	err = l.run(ctx, "activate", func(tx repository.Tx, _ *notify.Outbox) error {
		var err error
		e, err = l.ActivateTx(ctx, tx, sellerID, plan, l.clock.Now())
		return err
	})
	return e, err
}

// ActivateTx replaces the entitlement with a fresh window [now, now+duration].
// ads_used is recounted from listings still consuming quota; listings beyond
// the new max_ads are demoted to draft, lowest ranked first.
func (l *Lifecycle) ActivateTx(ctx context.Context, tx repository.Tx, sellerID string, plan entitlements.Plan, now time.Time) (*models.SubscriptionEntitlement, error) {
	if sellerID == "" {
		return nil, fmt.Errorf("%w: seller id is required", entitlements.ErrInvalidInput)
	}

	var revision, reconciled int64
	prev, err := tx.GetEntitlement(ctx, sellerID, true)
	switch {
	case err == nil:
		revision, reconciled = prev.Revision, prev.ReconciledRevision
	case !errors.Is(err, entitlements.ErrNotFound):
		return nil, err
	}

	live, err := tx.ListListings(ctx, sellerID, models.ListingStatusPending, models.ListingStatusActive)
	if err != nil {
		return nil, err
	}
	if len(live) > plan.MaxAds {
		ordered := ranking.Sort(live, ranking.Context{Now: now})
		for i := plan.MaxAds; i < len(ordered); i++ {
			demoted := ordered[i]
			demoted.Status = models.ListingStatusDraft
			if err := tx.SaveListingState(ctx, &demoted); err != nil {
				return nil, err
			}
		}
		log.Infof("[Lifecycle] Seller %s: %d listings over the %s quota moved to draft", sellerID, len(ordered)-plan.MaxAds, plan.ID)
		live = ordered[:plan.MaxAds]
	}

	e := &models.SubscriptionEntitlement{
		SellerID:           sellerID,
		PlanID:             string(plan.ID),
		ActivatedAt:        now,
		ExpiresAt:          now.Add(plan.Duration),
		MaxAds:             plan.MaxAds,
		AdsUsed:            len(live),
		Status:             models.EntitlementStatusActive,
		Revision:           revision + 1,
		ReconciledRevision: reconciled,
	}
	save := tx.SaveEntitlement
	if prev == nil {
		// two first activations race on the insert; the loser retries and
		// then sees the winner's row
		save = tx.CreateEntitlement
	}
	if err := save(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Expire marks the entitlement expired and moves the seller's active
// listings to draft.
func (l *Lifecycle) Expire(ctx context.Context, sellerID string) ([]string, error) {
	var drafted []string
	err := l.run(ctx, "expire", func(tx repository.Tx, out *notify.Outbox) error {
		var err error
		drafted, err = l.ExpireTx(ctx, tx, sellerID, l.clock.Now(), out)
		return err
	})
	return drafted, err
}

// ExpireTx is Expire inside tx. Tier, promotion and bump state is left alone.
// An already expired entitlement is a no-op.
func (l *Lifecycle) ExpireTx(ctx context.Context, tx repository.Tx, sellerID string, now time.Time, out *notify.Outbox) ([]string, error) {
	e, err := tx.GetEntitlement(ctx, sellerID, true)
	if err != nil {
		return nil, err
	}
	if e.Status == models.EntitlementStatusExpired {
		return nil, nil
	}

	listings, err := tx.ListListings(ctx, sellerID, models.ListingStatusActive, models.ListingStatusPending)
	if err != nil {
		return nil, err
	}

	var drafted []string
	pending := 0
	for i := range listings {
		if listings[i].Status == models.ListingStatusPending {
			pending++
			continue
		}
		listings[i].Status = models.ListingStatusDraft
		if err := tx.SaveListingState(ctx, &listings[i]); err != nil {
			return nil, err
		}
		drafted = append(drafted, listings[i].ID)
	}

	e.Status = models.EntitlementStatusExpired
	e.AdsUsed = min(pending, e.MaxAds)
	if err := tx.SaveEntitlement(ctx, e); err != nil {
		return nil, err
	}

	out.Add(notify.Event{
		Kind:       notify.KindSubscriptionExpired,
		SellerID:   sellerID,
		ListingIDs: drafted,
		OccurredAt: now,
	})
	return drafted, nil
}

// Reactivate moves eligible drafts back to active.
func (l *Lifecycle) Reactivate(ctx context.Context, sellerID string) ([]string, error) {
	var reactivated []string
	err := l.run(ctx, "reactivate", func(tx repository.Tx, out *notify.Outbox) error {
		var err error
		reactivated, err = l.ReactivateTx(ctx, tx, sellerID, l.clock.Now(), out)
		return err
	})
	return reactivated, err
}

// ReactivateTx selects up to the remaining quota of drafts, ordered by
// tier_priority desc, created_at asc, id asc, and sets them active. The
// entitlement is marked reconciled.
func (l *Lifecycle) ReactivateTx(ctx context.Context, tx repository.Tx, sellerID string, now time.Time, out *notify.Outbox) ([]string, error) {
	e, err := tx.GetEntitlement(ctx, sellerID, true)
	if err != nil {
		return nil, err
	}
	if !e.IsLive(now) {
		return nil, fmt.Errorf("%w: seller %s cannot reactivate listings", entitlements.ErrExpiredEntitlement, sellerID)
	}

	drafts, err := tx.ListListings(ctx, sellerID, models.ListingStatusDraft)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(drafts, func(i, j int) bool {
		a, b := drafts[i], drafts[j]
		if a.TierPriority != b.TierPriority {
			return a.TierPriority > b.TierPriority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	n := min(e.FreeAds(), len(drafts))
	reactivated := make([]string, 0, n)
	for i := 0; i < n; i++ {
		drafts[i].Status = models.ListingStatusActive
		if err := tx.SaveListingState(ctx, &drafts[i]); err != nil {
			return nil, err
		}
		reactivated = append(reactivated, drafts[i].ID)
	}

	e.AdsUsed += n
	e.ReconciledRevision = e.Revision
	if err := tx.SaveEntitlement(ctx, e); err != nil {
		return nil, err
	}

	if n > 0 {
		out.Add(notify.Event{
			Kind:       notify.KindListingsReactivated,
			SellerID:   sellerID,
			ListingIDs: reactivated,
			OccurredAt: now,
		})
	}
	return reactivated, nil
}

// Renew activates planID and immediately reactivates drafts.
func (l *Lifecycle) Renew(ctx context.Context, sellerID, planID string) (*models.SubscriptionEntitlement, error) {
	plan, err := l.catalog.Plan(planID)
	if err != nil {
		return nil, err
	}
	var e *models.SubscriptionEntitlement
	err = l.run(ctx, "renew", func(tx repository.Tx, out *notify.Outbox) error {
		var err error
		e, err = l.RenewTx(ctx, tx, sellerID, plan, l.clock.Now(), out)
		return err
	})
	return e, err
}

// RenewTx is the purchase path: Activate followed by Reactivate in tx.
func (l *Lifecycle) RenewTx(ctx context.Context, tx repository.Tx, sellerID string, plan entitlements.Plan, now time.Time, out *notify.Outbox) (*models.SubscriptionEntitlement, error) {
	if _, err := l.ActivateTx(ctx, tx, sellerID, plan, now); err != nil {
		return nil, err
	}
	if _, err := l.ReactivateTx(ctx, tx, sellerID, now, out); err != nil {
		return nil, err
	}
	return tx.GetEntitlement(ctx, sellerID, true)
}

// EnsureEntitlement assigns the free plan to a seller without an entitlement.
func (l *Lifecycle) EnsureEntitlement(ctx context.Context, sellerID string) (*models.SubscriptionEntitlement, error) {
	var e *models.SubscriptionEntitlement
	err := l.run(ctx, "ensure_entitlement", func(tx repository.Tx, _ *notify.Outbox) error {
		var err error
		e, err = l.ensureTx(ctx, tx, sellerID, l.clock.Now())
		return err
	})
	return e, err
}

// ensureTx returns the existing entitlement or activates the free plan. The
// free plan is not a purchase, so it is recorded as already reconciled.
func (l *Lifecycle) ensureTx(ctx context.Context, tx repository.Tx, sellerID string, now time.Time) (*models.SubscriptionEntitlement, error) {
	e, err := tx.GetEntitlement(ctx, sellerID, true)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, entitlements.ErrNotFound) {
		return nil, err
	}

	plan, err := l.catalog.Plan(string(entitlements.PlanFree))
	if err != nil {
		return nil, err
	}
	e, err = l.ActivateTx(ctx, tx, sellerID, plan, now)
	if err != nil {
		return nil, err
	}
	e.ReconciledRevision = e.Revision
	if err := tx.SaveEntitlement(ctx, e); err != nil {
		return nil, err
	}
	log.Infof("[Lifecycle] Assigned free plan to seller %s", sellerID)
	return e, nil
}
