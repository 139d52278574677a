package models

import "time"

const (
	EntitlementStatusActive  = "active"
	EntitlementStatusExpired = "expired"
)

// SubscriptionEntitlement is the posting allowance granted by a seller's
// current plan. There is at most one row per seller; a purchase replaces it.
//
// Revision is bumped on every activation. The reconciliation sweep reactivates
// drafts for sellers whose Revision differs from ReconciledRevision.
type SubscriptionEntitlement struct {
	SellerID           string    `gorm:"primaryKey;type:varchar(64)" json:"seller_id"`
	PlanID             string    `gorm:"type:varchar(50);not null;default:'free'" json:"plan_id"`
	ActivatedAt        time.Time `gorm:"not null" json:"activated_at"`
	ExpiresAt          time.Time `gorm:"not null;index" json:"expires_at"`
	MaxAds             int       `gorm:"not null;default:0" json:"max_ads"`
	AdsUsed            int       `gorm:"not null;default:0" json:"ads_used"`
	Status             string    `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	Revision           int64     `gorm:"not null;default:0" json:"revision"`
	ReconciledRevision int64     `gorm:"not null;default:0" json:"reconciled_revision"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName keeps the table name short and stable.
func (SubscriptionEntitlement) TableName() string {
	return "entitlements"
}

// IsLive reports whether the entitlement is active and inside its window at now.
func (e *SubscriptionEntitlement) IsLive(now time.Time) bool {
	return e.Status == EntitlementStatusActive && !now.After(e.ExpiresAt)
}

// IsLapsed reports whether an active entitlement has passed its window.
func (e *SubscriptionEntitlement) IsLapsed(now time.Time) bool {
	return e.Status == EntitlementStatusActive && now.After(e.ExpiresAt)
}

// NeedsReactivation reports whether the entitlement changed since the last sweep.
func (e *SubscriptionEntitlement) NeedsReactivation() bool {
	return e.Status == EntitlementStatusActive && e.Revision != e.ReconciledRevision
}

// FreeAds returns the remaining ad quota.
func (e *SubscriptionEntitlement) FreeAds() int {
	if e.AdsUsed >= e.MaxAds {
		return 0
	}
	return e.MaxAds - e.AdsUsed
}
