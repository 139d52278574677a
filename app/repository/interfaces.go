package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
)

// Store is the durable record of entitlements, tier sets, wallets and
// promotion reservations.
type Store interface {
	// Transaction runs fn atomically. Any error returned by fn rolls back
	// every write made through tx.
	Transaction(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against the latest committed state. Writes return
	// entitlements.ErrReadOnly in backends that can detect them.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside a transaction or view.
// Lookups of missing rows return entitlements.ErrNotFound.
type Tx interface {
	EntitlementRepository
	ListingRepository
	TierSlotRepository
	WalletRepository
	PromotionRepository
	PurchaseRepository

	// ListSellersDueForReconcile returns, sorted, every seller with a lapsed
	// active entitlement, an unreconciled entitlement revision, a lapsed
	// active tier set or a lapsed promotion reservation.
	ListSellersDueForReconcile(ctx context.Context, now time.Time) ([]string, error)
}

// EntitlementRepository stores one subscription entitlement per seller.
type EntitlementRepository interface {
	// GetEntitlement loads the seller's entitlement. forUpdate takes a row lock
	// in SQL backends; every path that writes the entitlement back passes true.
	GetEntitlement(ctx context.Context, sellerID string, forUpdate bool) (*models.SubscriptionEntitlement, error)
	// CreateEntitlement inserts a first entitlement. A concurrent insert for the
	// same seller returns entitlements.ErrConcurrencyConflict.
	CreateEntitlement(ctx context.Context, e *models.SubscriptionEntitlement) error
	SaveEntitlement(ctx context.Context, e *models.SubscriptionEntitlement) error
}

// ListingRepository reads listings and writes only their engine-owned state.
type ListingRepository interface {
	CreateListing(ctx context.Context, l *models.Listing) error
	// GetListing loads one listing. forUpdate takes a row lock in SQL backends.
	GetListing(ctx context.Context, id string, forUpdate bool) (*models.Listing, error)
	// GetListings returns the listings found for ids, in no particular order.
	GetListings(ctx context.Context, ids []string) ([]models.Listing, error)
	// ListListings returns a seller's listings, optionally filtered by status.
	ListListings(ctx context.Context, sellerID string, statuses ...string) ([]models.Listing, error)
	SaveListingState(ctx context.Context, l *models.Listing) error
}

// TierSlotRepository stores tier slot sets and their occupants.
type TierSlotRepository interface {
	CreateTierSet(ctx context.Context, s *models.TierSlotSet) error
	// GetTierSet loads a set with its occupants. forUpdate takes a row lock
	// in SQL backends.
	GetTierSet(ctx context.Context, id string, forUpdate bool) (*models.TierSlotSet, error)
	ListTierSets(ctx context.Context, sellerID string) ([]models.TierSlotSet, error)
	// ListExpiredTierSets returns active sets with expires_at < now. An empty
	// sellerID matches every seller.
	ListExpiredTierSets(ctx context.Context, sellerID string, now time.Time) ([]models.TierSlotSet, error)
	SetTierSetStatus(ctx context.Context, id, status string) error
	AddTierOccupant(ctx context.Context, setID, listingID string) error
	// RemoveTierOccupant reports whether the listing was a member.
	RemoveTierOccupant(ctx context.Context, setID, listingID string) (bool, error)
}

// WalletRepository stores bump wallets with optimistic versioning.
type WalletRepository interface {
	// GetWallet returns the seller's wallet, or an empty wallet with version 0
	// when none exists yet.
	GetWallet(ctx context.Context, sellerID string) (*models.BumpWallet, error)
	// CompareAndSwapWallet writes balance and version expectedVersion+1 only
	// if the stored version still equals expectedVersion.
	CompareAndSwapWallet(ctx context.Context, sellerID string, expectedVersion, balance int64) (bool, error)
}

// PromotionRepository stores promotion reservations.
type PromotionRepository interface {
	// LockPlacement serializes capacity checks for one placement.
	LockPlacement(ctx context.Context, placement string) error
	CountActiveReservations(ctx context.Context, placement string, now time.Time) (int64, error)
	CreateReservation(ctx context.Context, r *models.PromotionReservation) error
	GetReservation(ctx context.Context, id string) (*models.PromotionReservation, error)
	DeleteReservation(ctx context.Context, id string) error
	// ListExpiredReservations returns reservations with expires_at <= now. An
	// empty sellerID matches every seller.
	ListExpiredReservations(ctx context.Context, sellerID string, now time.Time) ([]models.PromotionReservation, error)
}

// PurchaseRepository records confirmed purchases.
type PurchaseRepository interface {
	// RecordPurchaseEvent stores ev and reports false when an event with the
	// same id already exists.
	RecordPurchaseEvent(ctx context.Context, ev *models.PurchaseEvent) (bool, error)
}
