package tierslots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/app/repository"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/clock"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// Allocator manages purchased tier slot sets and the listings occupying them.
type Allocator struct {
	store   repository.Store
	catalog entitlements.Catalog
	clock   clock.Clock
	metrics *metrics.EngineMetrics
	retries int
}

// NewAllocator creates a tier slot allocator. m may be nil.
func NewAllocator(store repository.Store, catalog entitlements.Catalog, clk clock.Clock, m *metrics.EngineMetrics) *Allocator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Allocator{
		store:   store,
		catalog: catalog,
		clock:   clk,
		metrics: m,
		retries: entitlements.DefaultRetryAttempts,
	}
}

// SetRetryAttempts overrides how often a conflicting transaction is retried.
func (a *Allocator) SetRetryAttempts(n int) {
	if n > 0 {
		a.retries = n
	}
}

func (a *Allocator) run(ctx context.Context, op string, fn func(tx repository.Tx) error) error {
	err := repository.TransactionWithRetry(ctx, a.store, a.retries, fn)
	a.metrics.RecordOperation(op, err)
	return err
}

// PurchaseSet creates a set with capacity free slots expiring after the
// tier's duration.
func (a *Allocator) PurchaseSet(ctx context.Context, sellerID, tierID string, capacity int) (*models.TierSlotSet, error) {
	tier, err := a.catalog.Tier(tierID)
	if err != nil {
		return nil, err
	}
	var set *models.TierSlotSet
	err = a.run(ctx, "purchase_set", func(tx repository.Tx) error {
		var err error
		set, err = a.PurchaseSetTx(ctx, tx, sellerID, tier, capacity, a.clock.Now())
		return err
	})
	return set, err
}

// PurchaseSetTx is PurchaseSet inside tx.
func (a *Allocator) PurchaseSetTx(ctx context.Context, tx repository.Tx, sellerID string, tier entitlements.Tier, capacity int, now time.Time) (*models.TierSlotSet, error) {
	if strings.TrimSpace(sellerID) == "" {
		return nil, fmt.Errorf("%w: seller id is required", entitlements.ErrInvalidInput)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", entitlements.ErrInvalidInput, capacity)
	}

	set := &models.TierSlotSet{
		ID:        uuid.NewString(),
		SellerID:  sellerID,
		TierID:    tier.ID,
		Capacity:  capacity,
		ExpiresAt: now.Add(tier.Duration),
		Status:    models.TierSetStatusActive,
	}
	if err := tx.CreateTierSet(ctx, set); err != nil {
		return nil, err
	}
	log.Infof("[TierSlots] Seller %s bought %d %s slots until %s", sellerID, capacity, tier.ID, set.ExpiresAt.Format(time.RFC3339))
	return set, nil
}

// Assign puts a listing into a free slot of the set.
func (a *Allocator) Assign(ctx context.Context, setID, listingID string) (*models.Listing, error) {
	var listing *models.Listing
	err := a.run(ctx, "assign", func(tx repository.Tx) error {
		set, err := tx.GetTierSet(ctx, setID, true)
		if err != nil {
			return err
		}
		now := a.clock.Now()
		if set.Status != models.TierSetStatusActive || set.IsLapsed(now) {
			return fmt.Errorf("%w: tier set %s expired at %s", entitlements.ErrExpiredEntitlement, set.ID, set.ExpiresAt.Format(time.RFC3339))
		}

		listing, err = tx.GetListing(ctx, listingID, true)
		if err != nil {
			return err
		}
		if listing.SellerID != set.SellerID {
			return fmt.Errorf("%w: listing %s does not belong to seller %s", entitlements.ErrNotEntitled, listing.ID, set.SellerID)
		}
		if listing.HasTier() || set.Contains(listing.ID) {
			return fmt.Errorf("%w: listing %s already holds a tier slot", entitlements.ErrAlreadyAssigned, listing.ID)
		}
		if set.IsFull() {
			return fmt.Errorf("%w: all %d %s slots are taken", entitlements.ErrCapacityExceeded, set.Capacity, set.TierID)
		}

		tier, err := a.catalog.Tier(set.TierID)
		if err != nil {
			return err
		}
		if err := tx.AddTierOccupant(ctx, set.ID, listing.ID); err != nil {
			return err
		}
		ref, expires := set.ID, set.ExpiresAt
		listing.TierSetRef = &ref
		listing.TierPriority = tier.Weight
		listing.TierExpiresAt = &expires
		return tx.SaveListingState(ctx, listing)
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// Release frees the listing's slot and clears its tier fields. Releasing a
// listing that is not a member returns ErrNotAssigned and changes nothing.
func (a *Allocator) Release(ctx context.Context, setID, listingID string) error {
	return a.run(ctx, "release", func(tx repository.Tx) error {
		if _, err := tx.GetTierSet(ctx, setID, true); err != nil {
			return err
		}
		removed, err := tx.RemoveTierOccupant(ctx, setID, listingID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: listing %s is not in tier set %s", entitlements.ErrNotAssigned, listingID, setID)
		}

		listing, err := tx.GetListing(ctx, listingID, true)
		if err != nil {
			return err
		}
		if listing.TierSetRef == nil || *listing.TierSetRef != setID {
			return nil
		}
		listing.ClearTier()
		return tx.SaveListingState(ctx, listing)
	})
}

// ExpireSets releases every occupant of every lapsed set and marks the sets
// expired. It returns the number of sets expired.
func (a *Allocator) ExpireSets(ctx context.Context) (int, error) {
	var expired int
	err := a.run(ctx, "expire_sets", func(tx repository.Tx) error {
		var err error
		expired, _, err = a.ExpireSetsTx(ctx, tx, "", a.clock.Now())
		return err
	})
	return expired, err
}

// ExpireSetsTx expires lapsed sets of one seller, or of every seller when
// sellerID is empty. It returns the number of sets and released listings.
func (a *Allocator) ExpireSetsTx(ctx context.Context, tx repository.Tx, sellerID string, now time.Time) (int, int, error) {
	sets, err := tx.ListExpiredTierSets(ctx, sellerID, now)
	if err != nil {
		return 0, 0, err
	}

	released := 0
	for _, set := range sets {
		for _, listingID := range set.Occupied {
			if _, err := tx.RemoveTierOccupant(ctx, set.ID, listingID); err != nil {
				return 0, 0, err
			}
			listing, err := tx.GetListing(ctx, listingID, true)
			if err != nil {
				return 0, 0, err
			}
			if listing.TierSetRef != nil && *listing.TierSetRef == set.ID {
				listing.ClearTier()
				if err := tx.SaveListingState(ctx, listing); err != nil {
					return 0, 0, err
				}
			}
			released++
		}
		if err := tx.SetTierSetStatus(ctx, set.ID, models.TierSetStatusExpired); err != nil {
			return 0, 0, err
		}
	}
	return len(sets), released, nil
}

// Sets lists a seller's tier sets with their occupants.
func (a *Allocator) Sets(ctx context.Context, sellerID string) ([]models.TierSlotSet, error) {
	var sets []models.TierSlotSet
	err := a.store.View(ctx, func(tx repository.Tx) error {
		var err error
		sets, err = tx.ListTierSets(ctx, sellerID)
		return err
	})
	return sets, err
}
