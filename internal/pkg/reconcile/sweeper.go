package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/repository"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/clock"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/metrics"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/notify"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/promotion"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/subscription"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/tierslots"
	"github.com/gofiber/fiber/v2/log"
)

// SellerFailure records a seller whose sweep transaction was rolled back.
type SellerFailure struct {
	SellerID string `json:"seller_id"`
	Error    string `json:"error"`
}

// Report summarizes one sweep.
type Report struct {
	StartedAt            time.Time       `json:"started_at"`
	FinishedAt           time.Time       `json:"finished_at"`
	SellersProcessed     int             `json:"sellers_processed"`
	SellersFailed        int             `json:"sellers_failed"`
	SubscriptionsExpired int             `json:"subscriptions_expired"`
	ListingsDrafted      int             `json:"listings_drafted"`
	TierSetsExpired      int             `json:"tier_sets_expired"`
	TierSlotsReleased    int             `json:"tier_slots_released"`
	ReservationsExpired  int             `json:"reservations_expired"`
	ListingsReactivated  int             `json:"listings_reactivated"`
	Failures             []SellerFailure `json:"failures,omitempty"`
}

// Changed reports whether the sweep applied any transition.
func (r *Report) Changed() bool {
	return r.SubscriptionsExpired+r.ListingsDrafted+r.TierSetsExpired+r.TierSlotsReleased+
		r.ReservationsExpired+r.ListingsReactivated > 0
}

type sellerResult struct {
	subscriptionExpired bool
	drafted             int
	tierSets            int
	tierSlots           int
	reservations        int
	reactivated         int
}

// Sweeper applies lapsed-resource transitions seller by seller. Each seller
// is one transaction; a failing seller is logged and skipped.
type Sweeper struct {
	store      repository.Store
	lifecycle  *subscription.Lifecycle
	allocator  *tierslots.Allocator
	promotions *promotion.Manager
	clock      clock.Clock
	notifier   notify.Notifier
	metrics    *metrics.EngineMetrics
}

// NewSweeper wires the sweep over the engine services. notifier and m may be nil.
func NewSweeper(
	store repository.Store,
	lifecycle *subscription.Lifecycle,
	allocator *tierslots.Allocator,
	promotions *promotion.Manager,
	clk clock.Clock,
	notifier notify.Notifier,
	m *metrics.EngineMetrics,
) *Sweeper {
	if clk == nil {
		clk = clock.Real{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Sweeper{
		store:      store,
		lifecycle:  lifecycle,
		allocator:  allocator,
		promotions: promotions,
		clock:      clk,
		notifier:   notifier,
		metrics:    m,
	}
}

// RunOnce sweeps every seller with lapsed or changed resources. Only a
// failure to list sellers is returned; per-seller failures are in the report.
func (s *Sweeper) RunOnce(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: s.clock.Now()}
	began := time.Now()

	var sellers []string
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		sellers, err = tx.ListSellersDueForReconcile(ctx, report.StartedAt)
		return err
	})
	if err != nil {
		s.metrics.RecordReconcileRun("error", time.Since(began))
		return nil, fmt.Errorf("list sellers due for reconcile: %w", err)
	}

	for _, sellerID := range sellers {
		if ctx.Err() != nil {
			log.Warnf("[Reconcile] Sweep cancelled after %d of %d sellers", report.SellersProcessed+report.SellersFailed, len(sellers))
			break
		}

		res, err := s.sweepSeller(ctx, sellerID)
		if err != nil {
			report.SellersFailed++
			report.Failures = append(report.Failures, SellerFailure{SellerID: sellerID, Error: err.Error()})
			log.Errorf("[Reconcile] Seller %s failed: %v", sellerID, err)
			continue
		}
		report.SellersProcessed++
		if res.subscriptionExpired {
			report.SubscriptionsExpired++
		}
		report.ListingsDrafted += res.drafted
		report.TierSetsExpired += res.tierSets
		report.TierSlotsReleased += res.tierSlots
		report.ReservationsExpired += res.reservations
		report.ListingsReactivated += res.reactivated
	}

	report.FinishedAt = s.clock.Now()
	s.record(report, time.Since(began))

	log.Infof("[Reconcile] Sweep done: sellers=%d failed=%d expired=%d drafted=%d tier_sets=%d reservations=%d reactivated=%d",
		report.SellersProcessed, report.SellersFailed, report.SubscriptionsExpired, report.ListingsDrafted,
		report.TierSetsExpired, report.ReservationsExpired, report.ListingsReactivated)
	return report, nil
}

func (s *Sweeper) record(r *Report, took time.Duration) {
	result := "ok"
	if r.SellersFailed > 0 {
		result = "partial"
	}
	s.metrics.RecordReconcileRun(result, took)
	s.metrics.RecordTransitions("subscription_expired", r.SubscriptionsExpired)
	s.metrics.RecordTransitions("listing_drafted", r.ListingsDrafted)
	s.metrics.RecordTransitions("tier_set_expired", r.TierSetsExpired)
	s.metrics.RecordTransitions("reservation_expired", r.ReservationsExpired)
	s.metrics.RecordTransitions("listing_reactivated", r.ListingsReactivated)
}

// sweepSeller runs the four reconciliation steps for one seller in a single
// transaction. Panics are turned into errors so one seller cannot stop the run.
func (s *Sweeper) sweepSeller(ctx context.Context, sellerID string) (res sellerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	now := s.clock.Now()
	var out *notify.Outbox
	err = s.store.Transaction(ctx, func(tx repository.Tx) error {
		out = &notify.Outbox{}
		res = sellerResult{}

		e, err := tx.GetEntitlement(ctx, sellerID, true)
		if err != nil && !isNotFound(err) {
			return err
		}

		if e != nil && e.IsLapsed(now) {
			drafted, err := s.lifecycle.ExpireTx(ctx, tx, sellerID, now, out)
			if err != nil {
				return fmt.Errorf("expire subscription: %w", err)
			}
			res.subscriptionExpired = true
			res.drafted = len(drafted)
		}

		res.tierSets, res.tierSlots, err = s.allocator.ExpireSetsTx(ctx, tx, sellerID, now)
		if err != nil {
			return fmt.Errorf("expire tier sets: %w", err)
		}

		res.reservations, err = s.promotions.ExpireReservationsTx(ctx, tx, sellerID, now)
		if err != nil {
			return fmt.Errorf("expire reservations: %w", err)
		}

		if e != nil {
			// reload: ExpireTx may have changed it
			e, err = tx.GetEntitlement(ctx, sellerID, true)
			if err != nil {
				return err
			}
			if e.NeedsReactivation() && e.IsLive(now) {
				reactivated, err := s.lifecycle.ReactivateTx(ctx, tx, sellerID, now, out)
				if err != nil {
					return fmt.Errorf("reactivate: %w", err)
				}
				res.reactivated = len(reactivated)
			}
		}
		return nil
	})
	if err != nil {
		return sellerResult{}, err
	}

	out.Flush(ctx, s.notifier)
	return res, nil
}
