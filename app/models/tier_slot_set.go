package models

import "time"

const (
	TierSetStatusActive  = "active"
	TierSetStatusExpired = "expired"
)

// TierSlotSet is a purchased, capacity-bounded set of priority slots.
// Occupied is loaded from tier_slot_occupants by the repository.
type TierSlotSet struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SellerID  string    `gorm:"type:varchar(64);not null;index" json:"seller_id"`
	TierID    string    `gorm:"type:varchar(50);not null" json:"tier_id"`
	Capacity  int       `gorm:"not null" json:"capacity"`
	ExpiresAt time.Time `gorm:"not null;index:idx_tier_slot_sets_status_expiry,priority:2" json:"expires_at"`
	Status    string    `gorm:"type:varchar(16);not null;default:'active';index:idx_tier_slot_sets_status_expiry,priority:1" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Occupied []string `gorm:"-" json:"occupied"`
}

// TierSlotOccupant is one occupied slot. The unique listing index guarantees a
// listing holds at most one tier assignment.
type TierSlotOccupant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SetID     string    `gorm:"type:varchar(36);not null;index" json:"set_id"`
	ListingID string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"listing_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// IsFull reports whether every slot is taken.
func (s *TierSlotSet) IsFull() bool {
	return len(s.Occupied) >= s.Capacity
}

// Contains reports whether listingID occupies a slot of this set.
func (s *TierSlotSet) Contains(listingID string) bool {
	for _, id := range s.Occupied {
		if id == listingID {
			return true
		}
	}
	return false
}

// IsLapsed reports whether an active set has passed its window.
func (s *TierSlotSet) IsLapsed(now time.Time) bool {
	return s.Status == TierSetStatusActive && now.After(s.ExpiresAt)
}
