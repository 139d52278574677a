package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Purchase kinds routed by the payment confirmation handler.
const (
	PurchaseKindPlan          = "plan"
	PurchaseKindTier          = "tier"
	PurchaseKindBumpPackage   = "bump_package"
	PurchaseKindPromotionType = "promotion_type"
)

// PurchaseEvent records a confirmed payment so that redelivered confirmations
// are applied exactly once.
type PurchaseEvent struct {
	ID          string    `gorm:"primaryKey;type:varchar(191)" json:"id" validate:"required,max=191"`
	SellerID    string    `gorm:"type:varchar(64);not null;index" json:"seller_id" validate:"required,max=64"`
	Kind        string    `gorm:"type:varchar(32);not null;index" json:"kind" validate:"required,oneof=plan tier bump_package promotion_type"`
	ReferenceID string    `gorm:"type:varchar(100);not null" json:"reference_id" validate:"required,max=100"`
	Amount      int       `gorm:"not null;default:1" json:"amount" validate:"gte=0,lte=10000"`
	ListingID   string    `gorm:"type:varchar(36);default:''" json:"listing_id,omitempty" validate:"required_if=Kind promotion_type,max=36"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (p *PurchaseEvent) Validate() error {
	v := validator.New()
	return v.Struct(p)
}
