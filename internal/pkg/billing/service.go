package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/app/repository"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/bumpwallet"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/clock"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/metrics"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/notify"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/promotion"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/subscription"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/tierslots"
	"github.com/gofiber/fiber/v2/log"
)

// Service applies confirmed purchases to the engine. The core never calls the
// payment provider; it only consumes confirmations.
type Service struct {
	store      repository.Store
	catalog    entitlements.Catalog
	lifecycle  *subscription.Lifecycle
	allocator  *tierslots.Allocator
	wallet     *bumpwallet.Wallet
	promotions *promotion.Manager
	clock      clock.Clock
	notifier   notify.Notifier
	metrics    *metrics.EngineMetrics
	retries    int
}

// Services bundles the engine services a purchase can be routed to.
type Services struct {
	Lifecycle  *subscription.Lifecycle
	Allocator  *tierslots.Allocator
	Wallet     *bumpwallet.Wallet
	Promotions *promotion.Manager
}

// NewService creates the purchase handler. notifier and m may be nil.
func NewService(store repository.Store, catalog entitlements.Catalog, svc Services, clk clock.Clock, notifier notify.Notifier, m *metrics.EngineMetrics) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		store:      store,
		catalog:    catalog,
		lifecycle:  svc.Lifecycle,
		allocator:  svc.Allocator,
		wallet:     svc.Wallet,
		promotions: svc.Promotions,
		clock:      clk,
		notifier:   notifier,
		metrics:    m,
		retries:    entitlements.DefaultRetryAttempts,
	}
}

// SetRetryAttempts overrides how often a conflicting transaction is retried.
func (s *Service) SetRetryAttempts(n int) {
	if n > 0 {
		s.retries = n
	}
}

// OnPurchaseConfirmed records the event and applies it in one transaction.
// A redelivered event id is acknowledged without applying it again; a failed
// application is rolled back together with the event record so the
// confirmation can be redelivered.
func (s *Service) OnPurchaseConfirmed(ctx context.Context, event models.PurchaseEvent) (*PurchaseResult, error) {
	ev := normalizeEvent(event)
	if err := ev.Validate(); err != nil {
		s.metrics.RecordOperation("purchase", entitlements.ErrInvalidInput)
		return nil, fmt.Errorf("%w: %v", entitlements.ErrInvalidInput, err)
	}

	var (
		result *PurchaseResult
		out    *notify.Outbox
	)
	err := repository.TransactionWithRetry(ctx, s.store, s.retries, func(tx repository.Tx) error {
		out = &notify.Outbox{}
		result = &PurchaseResult{EventID: ev.ID, Kind: ev.Kind}

		record := ev
		created, err := tx.RecordPurchaseEvent(ctx, &record)
		if err != nil {
			return err
		}
		if !created {
			result.Duplicate = true
			return nil
		}
		return s.apply(ctx, tx, ev, s.clock.Now(), result, out)
	})
	s.metrics.RecordOperation("purchase", err)
	if err != nil {
		log.Errorf("[Purchase] Event %s (%s/%s) for seller %s failed: %v", ev.ID, ev.Kind, ev.ReferenceID, ev.SellerID, err)
		return nil, err
	}

	if result.Duplicate {
		log.Infof("[Purchase] Event %s already applied, skipping", ev.ID)
		return result, nil
	}
	out.Flush(ctx, s.notifier)
	log.Infof("[Purchase] Applied %s/%s x%d for seller %s", ev.Kind, ev.ReferenceID, ev.Amount, ev.SellerID)
	return result, nil
}

func (s *Service) apply(ctx context.Context, tx repository.Tx, ev models.PurchaseEvent, now time.Time, result *PurchaseResult, out *notify.Outbox) error {
	switch ev.Kind {
	case models.PurchaseKindPlan:
		plan, err := s.catalog.Plan(ev.ReferenceID)
		if err != nil {
			return err
		}
		result.Entitlement, err = s.lifecycle.RenewTx(ctx, tx, ev.SellerID, plan, now, out)
		return err

	case models.PurchaseKindTier:
		tier, err := s.catalog.Tier(ev.ReferenceID)
		if err != nil {
			return err
		}
		result.TierSet, err = s.allocator.PurchaseSetTx(ctx, tx, ev.SellerID, tier, quantity(ev.Amount), now)
		return err

	case models.PurchaseKindBumpPackage:
		pkg, err := s.catalog.BumpPackage(ev.ReferenceID)
		if err != nil {
			return err
		}
		result.Wallet, err = s.wallet.CreditTx(ctx, tx, ev.SellerID, pkg.Credits*int64(quantity(ev.Amount)))
		return err

	case models.PurchaseKindPromotionType:
		placement, err := s.catalog.Placement(ev.ReferenceID)
		if err != nil {
			return err
		}
		listing, err := tx.GetListing(ctx, ev.ListingID, false)
		if err != nil {
			return err
		}
		if listing.SellerID != ev.SellerID {
			return fmt.Errorf("%w: listing %s does not belong to seller %s", entitlements.ErrNotEntitled, listing.ID, ev.SellerID)
		}
		duration := placement.DefaultDuration * time.Duration(quantity(ev.Amount))
		result.Reservation, err = s.promotions.ReserveTx(ctx, tx, placement.ID, listing.ID, duration, now)
		return err
	}
	return fmt.Errorf("%w: unknown purchase kind %q", entitlements.ErrInvalidInput, ev.Kind)
}

func normalizeEvent(ev models.PurchaseEvent) models.PurchaseEvent {
	ev.ID = strings.TrimSpace(ev.ID)
	ev.SellerID = strings.TrimSpace(ev.SellerID)
	ev.Kind = entitlements.NormalizeID(ev.Kind)
	ev.ReferenceID = entitlements.NormalizeID(ev.ReferenceID)
	ev.ListingID = strings.TrimSpace(ev.ListingID)
	return ev
}

// quantity treats a missing amount as a single unit.
func quantity(amount int) int {
	if amount < 1 {
		return 1
	}
	return amount
}
