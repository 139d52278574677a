package models

import "time"

// PromotionReservation holds a dedicated display position for a listing in a
// placement until ExpiresAt.
type PromotionReservation struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Placement string    `gorm:"type:varchar(50);not null;index:idx_promotion_reservations_placement_expiry,priority:1" json:"placement"`
	ListingID string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"listing_id"`
	SellerID  string    `gorm:"type:varchar(64);not null;index" json:"seller_id"`
	ExpiresAt time.Time `gorm:"not null;index:idx_promotion_reservations_placement_expiry,priority:2" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// PromotionPlacement is a lock row; Reserve selects it FOR UPDATE so capacity
// checks on one placement serialize.
type PromotionPlacement struct {
	Placement string    `gorm:"primaryKey;type:varchar(50)" json:"placement"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// IsActive reports whether the reservation still runs at now.
func (r *PromotionReservation) IsActive(now time.Time) bool {
	return r.ExpiresAt.After(now)
}
