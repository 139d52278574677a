package models

import "time"

// Listing status constants (visibility-relevant subset of the listing lifecycle).
const (
	ListingStatusDraft    = "draft"
	ListingStatusPending  = "pending"
	ListingStatusActive   = "active"
	ListingStatusRejected = "rejected"
)

// Listing holds the entitlement and ranking state of a marketplace listing.
// Content columns (title, price, images, ...) live in the same table but are
// owned by the listing service; this core only ever writes the columns listed
// in ListingStateColumns.
type Listing struct {
	ID                 string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SellerID           string     `gorm:"type:varchar(64);not null;index:idx_listings_seller_status,priority:1" json:"seller_id"`
	Status             string     `gorm:"type:varchar(16);not null;default:'draft';index:idx_listings_seller_status,priority:2" json:"status"`
	TierSetRef         *string    `gorm:"type:varchar(36);default:null;index" json:"tier_set_ref,omitempty"`
	TierPriority       int        `gorm:"not null;default:0" json:"tier_priority"`
	TierExpiresAt      *time.Time `gorm:"default:null" json:"tier_expires_at,omitempty"`
	PromotionRef       *string    `gorm:"type:varchar(36);default:null;index" json:"promotion_ref,omitempty"`
	PromotionPlacement string     `gorm:"type:varchar(50);default:''" json:"promotion_placement,omitempty"`
	PromotionExpiresAt *time.Time `gorm:"default:null" json:"promotion_expires_at,omitempty"`
	BumpedAt           *time.Time `gorm:"default:null" json:"bumped_at,omitempty"`
	CreatedAt          time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ListingStateColumns are the only listing columns written by the engine.
var ListingStateColumns = []string{
	"status",
	"tier_set_ref",
	"tier_priority",
	"tier_expires_at",
	"promotion_ref",
	"promotion_placement",
	"promotion_expires_at",
	"bumped_at",
	"updated_at",
}

// ConsumesQuota reports whether the listing counts against the seller's ad quota.
func (l *Listing) ConsumesQuota() bool {
	return l.Status == ListingStatusPending || l.Status == ListingStatusActive
}

// HasTier reports whether the listing currently occupies a tier slot.
func (l *Listing) HasTier() bool {
	return l.TierSetRef != nil && *l.TierSetRef != ""
}

// EffectiveTierPriority is the tier weight used for ranking, 0 when unassigned.
func (l *Listing) EffectiveTierPriority() int {
	if !l.HasTier() {
		return 0
	}
	return l.TierPriority
}

// HasActivePromotion reports whether the listing holds a reservation that is
// still running at now. A zero now skips the time check.
func (l *Listing) HasActivePromotion(now time.Time) bool {
	if l.PromotionRef == nil || *l.PromotionRef == "" {
		return false
	}
	if now.IsZero() {
		return true
	}
	return l.PromotionExpiresAt != nil && l.PromotionExpiresAt.After(now)
}

// ClearTier removes the tier assignment fields.
func (l *Listing) ClearTier() {
	l.TierSetRef = nil
	l.TierPriority = 0
	l.TierExpiresAt = nil
}

// ClearPromotion removes the promotion assignment fields.
func (l *Listing) ClearPromotion() {
	l.PromotionRef = nil
	l.PromotionPlacement = ""
	l.PromotionExpiresAt = nil
}
