package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/app/repository"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/notify"
	"github.com/google/uuid"
)

// CreateDraft registers the engine state of a new listing. An empty
// listingID gets a generated one.
func (l *Lifecycle) CreateDraft(ctx context.Context, sellerID, listingID string) (*models.Listing, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return nil, fmt.Errorf("%w: seller id is required", entitlements.ErrInvalidInput)
	}
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		listingID = uuid.NewString()
	}

	listing := &models.Listing{
		ID:        listingID,
		SellerID:  sellerID,
		Status:    models.ListingStatusDraft,
		CreatedAt: l.clock.Now(),
	}
	err := l.run(ctx, "create_draft", func(tx repository.Tx, _ *notify.Outbox) error {
		return tx.CreateListing(ctx, listing)
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// Listing returns the current engine state of a listing.
func (l *Lifecycle) Listing(ctx context.Context, listingID string) (*models.Listing, error) {
	var listing *models.Listing
	err := l.store.View(ctx, func(tx repository.Tx) error {
		var err error
		listing, err = tx.GetListing(ctx, listingID, false)
		return err
	})
	return listing, err
}

// Publish moves a draft to pending moderation, consuming one unit of quota.
// Sellers without an entitlement get the free plan first.
func (l *Lifecycle) Publish(ctx context.Context, listingID string) (*models.Listing, error) {
	return l.transition(ctx, "publish", listingID, func(tx repository.Tx, listing *models.Listing, now time.Time) error {
		if listing.Status != models.ListingStatusDraft {
			return invalidTransition(listing, models.ListingStatusPending)
		}
		e, err := l.ensureTx(ctx, tx, listing.SellerID, now)
		if err != nil {
			return err
		}
		return l.consumeQuota(ctx, tx, e, listing, now)
	})
}

// Resubmit moves a rejected listing back to pending with the same quota
// check as Publish.
func (l *Lifecycle) Resubmit(ctx context.Context, listingID string) (*models.Listing, error) {
	return l.transition(ctx, "resubmit", listingID, func(tx repository.Tx, listing *models.Listing, now time.Time) error {
		if listing.Status != models.ListingStatusRejected {
			return invalidTransition(listing, models.ListingStatusPending)
		}
		e, err := l.ensureTx(ctx, tx, listing.SellerID, now)
		if err != nil {
			return err
		}
		return l.consumeQuota(ctx, tx, e, listing, now)
	})
}

// Approve is the moderation approval: pending to active.
func (l *Lifecycle) Approve(ctx context.Context, listingID string) (*models.Listing, error) {
	return l.transition(ctx, "approve", listingID, func(tx repository.Tx, listing *models.Listing, now time.Time) error {
		if listing.Status != models.ListingStatusPending {
			return invalidTransition(listing, models.ListingStatusActive)
		}
		e, err := tx.GetEntitlement(ctx, listing.SellerID, true)
		if errors.Is(err, entitlements.ErrNotFound) {
			return fmt.Errorf("%w: seller %s", entitlements.ErrNotEntitled, listing.SellerID)
		}
		if err != nil {
			return err
		}
		if !e.IsLive(now) {
			return fmt.Errorf("%w: renew to reactivate listing %s", entitlements.ErrExpiredEntitlement, listing.ID)
		}
		listing.Status = models.ListingStatusActive
		return tx.SaveListingState(ctx, listing)
	})
}

// Reject is the moderation rejection of a pending or active listing. The
// quota unit is given back.
func (l *Lifecycle) Reject(ctx context.Context, listingID string) (*models.Listing, error) {
	return l.transition(ctx, "reject", listingID, func(tx repository.Tx, listing *models.Listing, _ time.Time) error {
		if !listing.ConsumesQuota() {
			return invalidTransition(listing, models.ListingStatusRejected)
		}
		listing.Status = models.ListingStatusRejected
		if err := tx.SaveListingState(ctx, listing); err != nil {
			return err
		}

		e, err := tx.GetEntitlement(ctx, listing.SellerID, true)
		if errors.Is(err, entitlements.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.AdsUsed > 0 {
			e.AdsUsed--
		}
		return tx.SaveEntitlement(ctx, e)
	})
}

func (l *Lifecycle) transition(ctx context.Context, op, listingID string, fn func(tx repository.Tx, listing *models.Listing, now time.Time) error) (*models.Listing, error) {
	var listing *models.Listing
	err := l.run(ctx, op, func(tx repository.Tx, _ *notify.Outbox) error {
		var err error
		listing, err = tx.GetListing(ctx, listingID, true)
		if err != nil {
			return err
		}
		return fn(tx, listing, l.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

func (l *Lifecycle) consumeQuota(ctx context.Context, tx repository.Tx, e *models.SubscriptionEntitlement, listing *models.Listing, now time.Time) error {
	if !e.IsLive(now) {
		return fmt.Errorf("%w: renew to publish listing %s", entitlements.ErrExpiredEntitlement, listing.ID)
	}
	if e.AdsUsed >= e.MaxAds {
		return fmt.Errorf("%w: ad quota of %d reached on plan %s", entitlements.ErrCapacityExceeded, e.MaxAds, e.PlanID)
	}

	listing.Status = models.ListingStatusPending
	if err := tx.SaveListingState(ctx, listing); err != nil {
		return err
	}
	e.AdsUsed++
	return tx.SaveEntitlement(ctx, e)
}

func invalidTransition(listing *models.Listing, to string) error {
	return fmt.Errorf("%w: listing %s is %s, cannot move to %s", entitlements.ErrInvalidTransition, listing.ID, listing.Status, to)
}
