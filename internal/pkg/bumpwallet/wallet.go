package bumpwallet

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/app/repository"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/clock"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/metrics"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/notify"
	"github.com/gofiber/fiber/v2/log"
)

// DefaultLowBalanceThreshold is the balance at or below which a debit emits
// a LowBumpBalance notification.
const DefaultLowBalanceThreshold int64 = 2

// Wallet is the consumable bump credit ledger.
type Wallet struct {
	store        repository.Store
	clock        clock.Clock
	notifier     notify.Notifier
	metrics      *metrics.EngineMetrics
	retries      int
	lowThreshold int64
}

// NewWallet creates a bump wallet service. notifier and m may be nil.
func NewWallet(store repository.Store, clk clock.Clock, notifier notify.Notifier, m *metrics.EngineMetrics) *Wallet {
	if clk == nil {
		clk = clock.Real{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Wallet{
		store:        store,
		clock:        clk,
		notifier:     notifier,
		metrics:      m,
		retries:      entitlements.DefaultRetryAttempts,
		lowThreshold: DefaultLowBalanceThreshold,
	}
}

// SetRetryAttempts overrides how often a conflicting debit is retried.
func (w *Wallet) SetRetryAttempts(n int) {
	if n > 0 {
		w.retries = n
	}
}

// SetLowBalanceThreshold overrides the LowBumpBalance threshold.
func (w *Wallet) SetLowBalanceThreshold(n int64) {
	if n >= 0 {
		w.lowThreshold = n
	}
}

// Balance returns the seller's wallet.
func (w *Wallet) Balance(ctx context.Context, sellerID string) (*models.BumpWallet, error) {
	var wallet *models.BumpWallet
	err := w.store.View(ctx, func(tx repository.Tx) error {
		var err error
		wallet, err = tx.GetWallet(ctx, sellerID)
		return err
	})
	return wallet, err
}

// Credit adds n credits. It is called from confirmed purchases only.
func (w *Wallet) Credit(ctx context.Context, sellerID string, n int64) (*models.BumpWallet, error) {
	var wallet *models.BumpWallet
	err := repository.TransactionWithRetry(ctx, w.store, w.retries, func(tx repository.Tx) error {
		var err error
		wallet, err = w.CreditTx(ctx, tx, sellerID, n)
		return err
	})
	w.metrics.RecordOperation("credit", err)
	return wallet, err
}

// CreditTx is Credit inside tx.
func (w *Wallet) CreditTx(ctx context.Context, tx repository.Tx, sellerID string, n int64) (*models.BumpWallet, error) {
	if sellerID == "" {
		return nil, fmt.Errorf("%w: seller id is required", entitlements.ErrInvalidInput)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: credit amount must be positive, got %d", entitlements.ErrInvalidInput, n)
	}
	wallet, err := tx.GetWallet(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	ok, err := tx.CompareAndSwapWallet(ctx, sellerID, wallet.Version, wallet.Balance+n)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: wallet of seller %s changed", entitlements.ErrConcurrencyConflict, sellerID)
	}
	wallet.Balance += n
	wallet.Version++
	return wallet, nil
}

// Debit spends one credit on listingID and refreshes its bumped_at in the
// same transaction.
func (w *Wallet) Debit(ctx context.Context, sellerID, listingID string) (*models.BumpWallet, error) {
	var (
		wallet *models.BumpWallet
		out    *notify.Outbox
	)
	err := repository.TransactionWithRetry(ctx, w.store, w.retries, func(tx repository.Tx) error {
		out = &notify.Outbox{}
		var err error
		wallet, err = w.debitTx(ctx, tx, sellerID, listingID, w.clock.Now(), out)
		return err
	})
	w.metrics.RecordOperation("debit", err)
	if err != nil {
		return nil, err
	}
	out.Flush(ctx, w.notifier)
	return wallet, nil
}

func (w *Wallet) debitTx(ctx context.Context, tx repository.Tx, sellerID, listingID string, now time.Time, out *notify.Outbox) (*models.BumpWallet, error) {
	listing, err := tx.GetListing(ctx, listingID, true)
	if err != nil {
		return nil, err
	}
	if listing.SellerID != sellerID {
		return nil, fmt.Errorf("%w: listing %s does not belong to seller %s", entitlements.ErrNotEntitled, listingID, sellerID)
	}

	wallet, err := tx.GetWallet(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance <= 0 {
		return nil, fmt.Errorf("%w: seller %s has no bump credits left", entitlements.ErrInsufficientCredits, sellerID)
	}

	ok, err := tx.CompareAndSwapWallet(ctx, sellerID, wallet.Version, wallet.Balance-1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: wallet of seller %s changed", entitlements.ErrConcurrencyConflict, sellerID)
	}
	wallet.Balance--
	wallet.Version++

	bumped := now
	listing.BumpedAt = &bumped
	if err := tx.SaveListingState(ctx, listing); err != nil {
		return nil, err
	}

	if wallet.Balance <= w.lowThreshold {
		balance := wallet.Balance
		out.Add(notify.Event{
			Kind:       notify.KindLowBumpBalance,
			SellerID:   sellerID,
			ListingIDs: []string{listingID},
			Balance:    &balance,
			OccurredAt: now,
		})
		log.Debugf("[BumpWallet] Seller %s is low on credits (%d)", sellerID, balance)
	}
	return wallet, nil
}
