package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormStore implements Store on MySQL or Postgres. Entitlements, listings,
// tier sets and placements are locked with SELECT ... FOR UPDATE, wallets use
// a version compare-and-swap.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store backed by db.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
	return classifyError(err)
}

func (s *gormStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return classifyError(fn(&gormTx{db: s.db.WithContext(ctx), readOnly: true}))
}

type gormTx struct {
	db       *gorm.DB
	readOnly bool
}

func (t *gormTx) writable() error {
	if t.readOnly {
		return entitlements.ErrReadOnly
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %s", entitlements.ErrNotFound, what, id)
	}
	return classifyError(err)
}

// Entitlements

// locking adds FOR UPDATE when requested inside a write transaction.
func (t *gormTx) locking(forUpdate bool) *gorm.DB {
	if forUpdate && !t.readOnly {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

func (t *gormTx) GetEntitlement(_ context.Context, sellerID string, forUpdate bool) (*models.SubscriptionEntitlement, error) {
	var e models.SubscriptionEntitlement
	if err := t.locking(forUpdate).Where("seller_id = ?", sellerID).First(&e).Error; err != nil {
		return nil, notFound(err, "entitlement for seller", sellerID)
	}
	return &e, nil
}

func (t *gormTx) CreateEntitlement(_ context.Context, e *models.SubscriptionEntitlement) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := t.db.Create(e).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: entitlement for seller %s created concurrently", entitlements.ErrConcurrencyConflict, e.SellerID)
		}
		return classifyError(err)
	}
	return nil
}

func (t *gormTx) SaveEntitlement(_ context.Context, e *models.SubscriptionEntitlement) error {
	if err := t.writable(); err != nil {
		return err
	}
	return classifyError(t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "seller_id"}},
		UpdateAll: true,
	}).Create(e).Error)
}

// Listings

func (t *gormTx) CreateListing(_ context.Context, l *models.Listing) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := t.db.Create(l).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: listing %s already exists", entitlements.ErrInvalidInput, l.ID)
		}
		return classifyError(err)
	}
	return nil
}

func (t *gormTx) GetListing(_ context.Context, id string, forUpdate bool) (*models.Listing, error) {
	var l models.Listing
	if err := t.locking(forUpdate).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, notFound(err, "listing", id)
	}
	return &l, nil
}

func (t *gormTx) GetListings(_ context.Context, ids []string) ([]models.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var listings []models.Listing
	err := t.db.Where("id IN ?", ids).Find(&listings).Error
	return listings, classifyError(err)
}

func (t *gormTx) ListListings(_ context.Context, sellerID string, statuses ...string) ([]models.Listing, error) {
	q := t.db.Where("seller_id = ?", sellerID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var listings []models.Listing
	err := q.Order("created_at ASC, id ASC").Find(&listings).Error
	return listings, classifyError(err)
}

// SaveListingState writes only the engine-owned columns; content columns are
// never part of the UPDATE.
func (t *gormTx) SaveListingState(_ context.Context, l *models.Listing) error {
	if err := t.writable(); err != nil {
		return err
	}
	return classifyError(t.db.Model(l).Select(models.ListingStateColumns).Updates(l).Error)
}

// Tier slot sets

func (t *gormTx) CreateTierSet(_ context.Context, s *models.TierSlotSet) error {
	if err := t.writable(); err != nil {
		return err
	}
	return classifyError(t.db.Create(s).Error)
}

func (t *gormTx) GetTierSet(_ context.Context, id string, forUpdate bool) (*models.TierSlotSet, error) {
	var s models.TierSlotSet
	if err := t.locking(forUpdate).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, notFound(err, "tier set", id)
	}
	if err := t.db.Model(&models.TierSlotOccupant{}).
		Where("set_id = ?", id).
		Order("id ASC").
		Pluck("listing_id", &s.Occupied).Error; err != nil {
		return nil, classifyError(err)
	}
	return &s, nil
}

func (t *gormTx) ListTierSets(_ context.Context, sellerID string) ([]models.TierSlotSet, error) {
	var sets []models.TierSlotSet
	if err := t.db.Where("seller_id = ?", sellerID).
		Order("expires_at ASC, id ASC").
		Find(&sets).Error; err != nil {
		return nil, classifyError(err)
	}
	return sets, t.loadOccupants(sets)
}

func (t *gormTx) ListExpiredTierSets(_ context.Context, sellerID string, now time.Time) ([]models.TierSlotSet, error) {
	q := t.db.Where("status = ? AND expires_at < ?", models.TierSetStatusActive, now)
	if sellerID != "" {
		q = q.Where("seller_id = ?", sellerID)
	}
	var sets []models.TierSlotSet
	if err := q.Order("expires_at ASC, id ASC").Find(&sets).Error; err != nil {
		return nil, classifyError(err)
	}
	return sets, t.loadOccupants(sets)
}

func (t *gormTx) loadOccupants(sets []models.TierSlotSet) error {
	if len(sets) == 0 {
		return nil
	}
	ids := make([]string, len(sets))
	for i := range sets {
		ids[i] = sets[i].ID
	}
	var occupants []models.TierSlotOccupant
	if err := t.db.Where("set_id IN ?", ids).Order("id ASC").Find(&occupants).Error; err != nil {
		return classifyError(err)
	}
	bySet := make(map[string][]string, len(sets))
	for _, o := range occupants {
		bySet[o.SetID] = append(bySet[o.SetID], o.ListingID)
	}
	for i := range sets {
		sets[i].Occupied = bySet[sets[i].ID]
	}
	return nil
}

func (t *gormTx) SetTierSetStatus(_ context.Context, id, status string) error {
	if err := t.writable(); err != nil {
		return err
	}
	res := t.db.Model(&models.TierSlotSet{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return classifyError(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: tier set %s", entitlements.ErrNotFound, id)
	}
	return nil
}

func (t *gormTx) AddTierOccupant(_ context.Context, setID, listingID string) error {
	if err := t.writable(); err != nil {
		return err
	}
	err := t.db.Create(&models.TierSlotOccupant{SetID: setID, ListingID: listingID}).Error
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: listing %s already holds a tier slot", entitlements.ErrAlreadyAssigned, listingID)
	}
	return classifyError(err)
}

func (t *gormTx) RemoveTierOccupant(_ context.Context, setID, listingID string) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	res := t.db.Where("set_id = ? AND listing_id = ?", setID, listingID).Delete(&models.TierSlotOccupant{})
	if res.Error != nil {
		return false, classifyError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Wallets

func (t *gormTx) GetWallet(_ context.Context, sellerID string) (*models.BumpWallet, error) {
	var w models.BumpWallet
	err := t.db.Where("seller_id = ?", sellerID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.BumpWallet{SellerID: sellerID}, nil
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return &w, nil
}

// CompareAndSwapWallet inserts the wallet on version 0 and otherwise updates
// it guarded by the version column.
func (t *gormTx) CompareAndSwapWallet(_ context.Context, sellerID string, expectedVersion, balance int64) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if balance < 0 {
		return false, fmt.Errorf("%w: negative balance", entitlements.ErrInvalidInput)
	}
	if expectedVersion == 0 {
		res := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.BumpWallet{
			SellerID: sellerID,
			Balance:  balance,
			Version:  1,
		})
		if res.Error != nil {
			return false, classifyError(res.Error)
		}
		return res.RowsAffected == 1, nil
	}

	res := t.db.Model(&models.BumpWallet{}).
		Where("seller_id = ? AND version = ?", sellerID, expectedVersion).
		Updates(map[string]interface{}{
			"balance":    balance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, classifyError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Promotions

func (t *gormTx) LockPlacement(_ context.Context, placement string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := t.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.PromotionPlacement{Placement: placement}).Error; err != nil {
		return classifyError(err)
	}
	var p models.PromotionPlacement
	return classifyError(t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("placement = ?", placement).
		First(&p).Error)
}

func (t *gormTx) CountActiveReservations(_ context.Context, placement string, now time.Time) (int64, error) {
	var n int64
	err := t.db.Model(&models.PromotionReservation{}).
		Where("placement = ? AND expires_at > ?", placement, now).
		Count(&n).Error
	return n, classifyError(err)
}

func (t *gormTx) CreateReservation(_ context.Context, r *models.PromotionReservation) error {
	if err := t.writable(); err != nil {
		return err
	}
	err := t.db.Create(r).Error
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: listing %s already holds a promotion", entitlements.ErrAlreadyAssigned, r.ListingID)
	}
	return classifyError(err)
}

func (t *gormTx) GetReservation(_ context.Context, id string) (*models.PromotionReservation, error) {
	var r models.PromotionReservation
	if err := t.db.Where("id = ?", id).First(&r).Error; err != nil {
		return nil, notFound(err, "reservation", id)
	}
	return &r, nil
}

func (t *gormTx) DeleteReservation(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	return classifyError(t.db.Where("id = ?", id).Delete(&models.PromotionReservation{}).Error)
}

func (t *gormTx) ListExpiredReservations(_ context.Context, sellerID string, now time.Time) ([]models.PromotionReservation, error) {
	q := t.db.Where("expires_at <= ?", now)
	if sellerID != "" {
		q = q.Where("seller_id = ?", sellerID)
	}
	var out []models.PromotionReservation
	err := q.Order("expires_at ASC, id ASC").Find(&out).Error
	return out, classifyError(err)
}

// Purchases

func (t *gormTx) RecordPurchaseEvent(_ context.Context, ev *models.PurchaseEvent) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	res := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(ev)
	if res.Error != nil {
		return false, classifyError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Reconciliation

const dueSellersQuery = `
SELECT seller_id FROM entitlements
 WHERE status = ? AND (expires_at < ? OR revision <> reconciled_revision)
UNION
SELECT seller_id FROM tier_slot_sets WHERE status = ? AND expires_at < ?
UNION
SELECT seller_id FROM promotion_reservations WHERE expires_at <= ?
ORDER BY seller_id`

func (t *gormTx) ListSellersDueForReconcile(_ context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := t.db.Raw(dueSellersQuery,
		models.EntitlementStatusActive, now,
		models.TierSetStatusActive, now,
		now,
	).Scan(&ids).Error
	return ids, classifyError(err)
}
