package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/app/repository"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/clock"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// Manager reserves capacity-bounded, time-boxed display positions.
type Manager struct {
	store   repository.Store
	catalog entitlements.Catalog
	clock   clock.Clock
	metrics *metrics.EngineMetrics
	retries int
}

// NewManager creates a promotion slot manager. m may be nil.
func NewManager(store repository.Store, catalog entitlements.Catalog, clk clock.Clock, m *metrics.EngineMetrics) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		store:   store,
		catalog: catalog,
		clock:   clk,
		metrics: m,
		retries: entitlements.DefaultRetryAttempts,
	}
}

// SetRetryAttempts overrides how often a conflicting transaction is retried.
func (m *Manager) SetRetryAttempts(n int) {
	if n > 0 {
		m.retries = n
	}
}

// Reserve books listingID into placement for duration. A zero duration uses
// the placement default.
func (m *Manager) Reserve(ctx context.Context, placement, listingID string, duration time.Duration) (*models.PromotionReservation, error) {
	var r *models.PromotionReservation
	err := repository.TransactionWithRetry(ctx, m.store, m.retries, func(tx repository.Tx) error {
		var err error
		r, err = m.ReserveTx(ctx, tx, placement, listingID, duration, m.clock.Now())
		return err
	})
	m.metrics.RecordOperation("reserve", err)
	return r, err
}

// ReserveTx is Reserve inside tx. Capacity checks on one placement are
// serialized through LockPlacement.
func (m *Manager) ReserveTx(ctx context.Context, tx repository.Tx, placementID, listingID string, duration time.Duration, now time.Time) (*models.PromotionReservation, error) {
	placement, err := m.catalog.Placement(placementID)
	if err != nil {
		return nil, err
	}
	if duration < 0 {
		return nil, fmt.Errorf("%w: negative duration", entitlements.ErrInvalidInput)
	}
	if duration == 0 {
		duration = placement.DefaultDuration
	}

	listing, err := tx.GetListing(ctx, listingID, true)
	if err != nil {
		return nil, err
	}
	if listing.HasActivePromotion(now) {
		return nil, fmt.Errorf("%w: listing %s is promoted in %s until %s", entitlements.ErrAlreadyAssigned,
			listing.ID, listing.PromotionPlacement, listing.PromotionExpiresAt.Format(time.RFC3339))
	}

	if err := tx.LockPlacement(ctx, placement.ID); err != nil {
		return nil, err
	}
	active, err := tx.CountActiveReservations(ctx, placement.ID, now)
	if err != nil {
		return nil, err
	}
	if active >= int64(placement.MaxAds) {
		return nil, fmt.Errorf("%w: all %d %s positions are booked", entitlements.ErrCapacityExceeded, placement.MaxAds, placement.ID)
	}

	// a lapsed reservation the sweep has not collected yet is replaced
	if listing.PromotionRef != nil && *listing.PromotionRef != "" {
		if err := tx.DeleteReservation(ctx, *listing.PromotionRef); err != nil {
			return nil, err
		}
	}

	r := &models.PromotionReservation{
		ID:        uuid.NewString(),
		Placement: placement.ID,
		ListingID: listing.ID,
		SellerID:  listing.SellerID,
		ExpiresAt: now.Add(duration),
	}
	if err := tx.CreateReservation(ctx, r); err != nil {
		return nil, err
	}

	ref, expires := r.ID, r.ExpiresAt
	listing.PromotionRef = &ref
	listing.PromotionPlacement = r.Placement
	listing.PromotionExpiresAt = &expires
	if err := tx.SaveListingState(ctx, listing); err != nil {
		return nil, err
	}

	log.Infof("[Promotion] Listing %s reserved %s until %s", listing.ID, placement.ID, expires.Format(time.RFC3339))
	return r, nil
}

// ExpireReservations releases every lapsed reservation and returns how many
// were released.
func (m *Manager) ExpireReservations(ctx context.Context) (int, error) {
	var n int
	err := repository.TransactionWithRetry(ctx, m.store, m.retries, func(tx repository.Tx) error {
		var err error
		n, err = m.ExpireReservationsTx(ctx, tx, "", m.clock.Now())
		return err
	})
	m.metrics.RecordOperation("expire_reservations", err)
	return n, err
}

// ExpireReservationsTx releases lapsed reservations of one seller, or of
// every seller when sellerID is empty. Listing fields are cleared only while
// they still point at the released reservation.
func (m *Manager) ExpireReservationsTx(ctx context.Context, tx repository.Tx, sellerID string, now time.Time) (int, error) {
	expired, err := tx.ListExpiredReservations(ctx, sellerID, now)
	if err != nil {
		return 0, err
	}

	for _, r := range expired {
		if err := tx.DeleteReservation(ctx, r.ID); err != nil {
			return 0, err
		}
		listing, err := tx.GetListing(ctx, r.ListingID, true)
		if errors.Is(err, entitlements.ErrNotFound) {
			log.Warnf("[Promotion] Reservation %s references missing listing %s", r.ID, r.ListingID)
			continue
		}
		if err != nil {
			return 0, err
		}
		if listing.PromotionRef == nil || *listing.PromotionRef != r.ID {
			continue
		}
		listing.ClearPromotion()
		if err := tx.SaveListingState(ctx, listing); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}
