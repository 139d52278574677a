package controllers

import (
	"github.com/ManuelReschke/MarktBoost/internal/pkg/billing"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/bumpwallet"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/notify"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/promotion"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/ranking"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/reconcile"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/subscription"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/tierslots"
)

// Services are the engine components the HTTP handlers call into.
type Services struct {
	Lifecycle  *subscription.Lifecycle
	Allocator  *tierslots.Allocator
	Wallet     *bumpwallet.Wallet
	Promotions *promotion.Manager
	Ranking    *ranking.Engine
	Purchases  *billing.Service
	Scheduler  *reconcile.Scheduler
	// Recorder keeps recent notifications for the admin endpoint. Optional.
	Recorder *notify.Recorder
	// WebhookSecret enables signature checks on purchase confirmations.
	WebhookSecret string
}
