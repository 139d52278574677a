package models

import "time"

// BumpWallet is a seller's consumable bump credit balance. Version is
// incremented on every write and used for compare-and-swap updates.
type BumpWallet struct {
	SellerID  string    `gorm:"primaryKey;type:varchar(64)" json:"seller_id"`
	Balance   int64     `gorm:"not null;default:0;check:chk_bump_wallets_balance,balance >= 0" json:"balance"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
