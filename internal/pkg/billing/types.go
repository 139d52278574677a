package billing

import "github.com/ManuelReschke/MarktBoost/app/models"

// PurchaseResult describes what a confirmed purchase changed. Exactly one of
// the resource fields is set unless Duplicate is true.
type PurchaseResult struct {
	EventID     string                          `json:"event_id"`
	Kind        string                          `json:"kind"`
	Duplicate   bool                            `json:"duplicate"`
	Entitlement *models.SubscriptionEntitlement `json:"entitlement,omitempty"`
	TierSet     *models.TierSlotSet             `json:"tier_set,omitempty"`
	Wallet      *models.BumpWallet              `json:"wallet,omitempty"`
	Reservation *models.PromotionReservation    `json:"reservation,omitempty"`
}
