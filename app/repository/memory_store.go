package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
)

// memoryData is one immutable snapshot of the store. Write transactions work
// on a private clone and publish it on commit.
type memoryData struct {
	entitlements map[string]models.SubscriptionEntitlement
	listings     map[string]models.Listing
	tierSets     map[string]models.TierSlotSet
	occupants    map[string]string // listing id -> set id
	wallets      map[string]models.BumpWallet
	reservations map[string]models.PromotionReservation
	purchases    map[string]models.PurchaseEvent
}

func newMemoryData() *memoryData {
	return &memoryData{
		entitlements: map[string]models.SubscriptionEntitlement{},
		listings:     map[string]models.Listing{},
		tierSets:     map[string]models.TierSlotSet{},
		occupants:    map[string]string{},
		wallets:      map[string]models.BumpWallet{},
		reservations: map[string]models.PromotionReservation{},
		purchases:    map[string]models.PurchaseEvent{},
	}
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		entitlements: make(map[string]models.SubscriptionEntitlement, len(d.entitlements)),
		listings:     make(map[string]models.Listing, len(d.listings)),
		tierSets:     make(map[string]models.TierSlotSet, len(d.tierSets)),
		occupants:    make(map[string]string, len(d.occupants)),
		wallets:      make(map[string]models.BumpWallet, len(d.wallets)),
		reservations: make(map[string]models.PromotionReservation, len(d.reservations)),
		purchases:    make(map[string]models.PurchaseEvent, len(d.purchases)),
	}
	for k, v := range d.entitlements {
		c.entitlements[k] = v
	}
	for k, v := range d.listings {
		c.listings[k] = copyListing(v)
	}
	for k, v := range d.tierSets {
		v.Occupied = slices.Clone(v.Occupied)
		c.tierSets[k] = v
	}
	for k, v := range d.occupants {
		c.occupants[k] = v
	}
	for k, v := range d.wallets {
		c.wallets[k] = v
	}
	for k, v := range d.reservations {
		c.reservations[k] = v
	}
	for k, v := range d.purchases {
		c.purchases[k] = v
	}
	return c
}

// MemoryStore is an in-process Store. Writers are serialized; readers see the
// last committed snapshot and never block writers.
type MemoryStore struct {
	txMu   sync.Mutex
	dataMu sync.RWMutex
	data   *memoryData
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

// Transaction runs fn on a private copy of the data and publishes it only if
// fn returns nil.
func (m *MemoryStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.dataMu.RLock()
	working := m.data.clone()
	m.dataMu.RUnlock()

	if err := fn(&memTx{data: working}); err != nil {
		return err
	}

	m.dataMu.Lock()
	m.data = working
	m.dataMu.Unlock()
	return nil
}

// View runs fn against the latest committed snapshot.
func (m *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.dataMu.RLock()
	snapshot := m.data
	m.dataMu.RUnlock()
	return fn(&memTx{data: snapshot, readOnly: true})
}

type memTx struct {
	data     *memoryData
	readOnly bool
}

func (t *memTx) writable() error {
	if t.readOnly {
		return entitlements.ErrReadOnly
	}
	return nil
}

func copyListing(l models.Listing) models.Listing {
	l.TierSetRef = copyString(l.TierSetRef)
	l.TierExpiresAt = copyTime(l.TierExpiresAt)
	l.PromotionRef = copyString(l.PromotionRef)
	l.PromotionExpiresAt = copyTime(l.PromotionExpiresAt)
	l.BumpedAt = copyTime(l.BumpedAt)
	return l
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Entitlements

func (t *memTx) GetEntitlement(_ context.Context, sellerID string, _ bool) (*models.SubscriptionEntitlement, error) {
	e, ok := t.data.entitlements[sellerID]
	if !ok {
		return nil, fmt.Errorf("%w: entitlement for seller %s", entitlements.ErrNotFound, sellerID)
	}
	return &e, nil
}

func (t *memTx) CreateEntitlement(_ context.Context, e *models.SubscriptionEntitlement) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.data.entitlements[e.SellerID]; exists {
		return fmt.Errorf("%w: entitlement for seller %s created concurrently", entitlements.ErrConcurrencyConflict, e.SellerID)
	}
	e.UpdatedAt = time.Now().UTC()
	t.data.entitlements[e.SellerID] = *e
	return nil
}

func (t *memTx) SaveEntitlement(_ context.Context, e *models.SubscriptionEntitlement) error {
	if err := t.writable(); err != nil {
		return err
	}
	e.UpdatedAt = time.Now().UTC()
	t.data.entitlements[e.SellerID] = *e
	return nil
}

// Listings

func (t *memTx) CreateListing(_ context.Context, l *models.Listing) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.data.listings[l.ID]; exists {
		return fmt.Errorf("%w: listing %s already exists", entitlements.ErrInvalidInput, l.ID)
	}
	l.UpdatedAt = time.Now().UTC()
	t.data.listings[l.ID] = copyListing(*l)
	return nil
}

func (t *memTx) GetListing(_ context.Context, id string, _ bool) (*models.Listing, error) {
	l, ok := t.data.listings[id]
	if !ok {
		return nil, fmt.Errorf("%w: listing %s", entitlements.ErrNotFound, id)
	}
	l = copyListing(l)
	return &l, nil
}

func (t *memTx) GetListings(_ context.Context, ids []string) ([]models.Listing, error) {
	out := make([]models.Listing, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if l, ok := t.data.listings[id]; ok {
			out = append(out, copyListing(l))
		}
	}
	return out, nil
}

func (t *memTx) ListListings(_ context.Context, sellerID string, statuses ...string) ([]models.Listing, error) {
	var out []models.Listing
	for _, l := range t.data.listings {
		if l.SellerID != sellerID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, l.Status) {
			continue
		}
		out = append(out, copyListing(l))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) SaveListingState(_ context.Context, l *models.Listing) error {
	if err := t.writable(); err != nil {
		return err
	}
	stored, ok := t.data.listings[l.ID]
	if !ok {
		return fmt.Errorf("%w: listing %s", entitlements.ErrNotFound, l.ID)
	}
	stored.Status = l.Status
	stored.TierSetRef = copyString(l.TierSetRef)
	stored.TierPriority = l.TierPriority
	stored.TierExpiresAt = copyTime(l.TierExpiresAt)
	stored.PromotionRef = copyString(l.PromotionRef)
	stored.PromotionPlacement = l.PromotionPlacement
	stored.PromotionExpiresAt = copyTime(l.PromotionExpiresAt)
	stored.BumpedAt = copyTime(l.BumpedAt)
	stored.UpdatedAt = time.Now().UTC()
	t.data.listings[l.ID] = stored
	return nil
}

// Tier slot sets

func (t *memTx) CreateTierSet(_ context.Context, s *models.TierSlotSet) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.data.tierSets[s.ID]; exists {
		return fmt.Errorf("%w: tier set %s already exists", entitlements.ErrInvalidInput, s.ID)
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	stored := *s
	stored.Occupied = nil
	t.data.tierSets[s.ID] = stored
	return nil
}

func (t *memTx) GetTierSet(_ context.Context, id string, _ bool) (*models.TierSlotSet, error) {
	s, ok := t.data.tierSets[id]
	if !ok {
		return nil, fmt.Errorf("%w: tier set %s", entitlements.ErrNotFound, id)
	}
	s.Occupied = slices.Clone(s.Occupied)
	return &s, nil
}

func (t *memTx) ListTierSets(_ context.Context, sellerID string) ([]models.TierSlotSet, error) {
	var out []models.TierSlotSet
	for _, s := range t.data.tierSets {
		if s.SellerID == sellerID {
			s.Occupied = slices.Clone(s.Occupied)
			out = append(out, s)
		}
	}
	sortTierSets(out)
	return out, nil
}

func (t *memTx) ListExpiredTierSets(_ context.Context, sellerID string, now time.Time) ([]models.TierSlotSet, error) {
	var out []models.TierSlotSet
	for _, s := range t.data.tierSets {
		if sellerID != "" && s.SellerID != sellerID {
			continue
		}
		if s.IsLapsed(now) {
			s.Occupied = slices.Clone(s.Occupied)
			out = append(out, s)
		}
	}
	sortTierSets(out)
	return out, nil
}

func sortTierSets(sets []models.TierSlotSet) {
	sort.Slice(sets, func(i, j int) bool {
		if !sets[i].ExpiresAt.Equal(sets[j].ExpiresAt) {
			return sets[i].ExpiresAt.Before(sets[j].ExpiresAt)
		}
		return sets[i].ID < sets[j].ID
	})
}

func (t *memTx) SetTierSetStatus(_ context.Context, id, status string) error {
	if err := t.writable(); err != nil {
		return err
	}
	s, ok := t.data.tierSets[id]
	if !ok {
		return fmt.Errorf("%w: tier set %s", entitlements.ErrNotFound, id)
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	t.data.tierSets[id] = s
	return nil
}

func (t *memTx) AddTierOccupant(_ context.Context, setID, listingID string) error {
	if err := t.writable(); err != nil {
		return err
	}
	s, ok := t.data.tierSets[setID]
	if !ok {
		return fmt.Errorf("%w: tier set %s", entitlements.ErrNotFound, setID)
	}
	if other, taken := t.data.occupants[listingID]; taken {
		return fmt.Errorf("%w: listing %s occupies tier set %s", entitlements.ErrAlreadyAssigned, listingID, other)
	}
	s.Occupied = append(s.Occupied, listingID)
	t.data.tierSets[setID] = s
	t.data.occupants[listingID] = setID
	return nil
}

func (t *memTx) RemoveTierOccupant(_ context.Context, setID, listingID string) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	s, ok := t.data.tierSets[setID]
	if !ok {
		return false, fmt.Errorf("%w: tier set %s", entitlements.ErrNotFound, setID)
	}
	idx := slices.Index(s.Occupied, listingID)
	if idx < 0 {
		return false, nil
	}
	s.Occupied = slices.Delete(s.Occupied, idx, idx+1)
	t.data.tierSets[setID] = s
	delete(t.data.occupants, listingID)
	return true, nil
}

// Wallets

func (t *memTx) GetWallet(_ context.Context, sellerID string) (*models.BumpWallet, error) {
	w, ok := t.data.wallets[sellerID]
	if !ok {
		return &models.BumpWallet{SellerID: sellerID}, nil
	}
	return &w, nil
}

func (t *memTx) CompareAndSwapWallet(_ context.Context, sellerID string, expectedVersion, balance int64) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if balance < 0 {
		return false, fmt.Errorf("%w: negative balance", entitlements.ErrInvalidInput)
	}
	w := t.data.wallets[sellerID]
	if w.Version != expectedVersion {
		return false, nil
	}
	t.data.wallets[sellerID] = models.BumpWallet{
		SellerID:  sellerID,
		Balance:   balance,
		Version:   expectedVersion + 1,
		UpdatedAt: time.Now().UTC(),
	}
	return true, nil
}

// Promotions

// LockPlacement is a no-op; memory transactions are already serialized.
func (t *memTx) LockPlacement(_ context.Context, _ string) error {
	return t.writable()
}

func (t *memTx) CountActiveReservations(_ context.Context, placement string, now time.Time) (int64, error) {
	var n int64
	for _, r := range t.data.reservations {
		if r.Placement == placement && r.IsActive(now) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreateReservation(_ context.Context, r *models.PromotionReservation) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.data.reservations[r.ID]; exists {
		return fmt.Errorf("%w: reservation %s already exists", entitlements.ErrInvalidInput, r.ID)
	}
	for _, other := range t.data.reservations {
		if other.ListingID == r.ListingID {
			return fmt.Errorf("%w: listing %s already holds a promotion", entitlements.ErrAlreadyAssigned, r.ListingID)
		}
	}
	r.CreatedAt = time.Now().UTC()
	t.data.reservations[r.ID] = *r
	return nil
}

func (t *memTx) GetReservation(_ context.Context, id string) (*models.PromotionReservation, error) {
	r, ok := t.data.reservations[id]
	if !ok {
		return nil, fmt.Errorf("%w: reservation %s", entitlements.ErrNotFound, id)
	}
	return &r, nil
}

func (t *memTx) DeleteReservation(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	delete(t.data.reservations, id)
	return nil
}

func (t *memTx) ListExpiredReservations(_ context.Context, sellerID string, now time.Time) ([]models.PromotionReservation, error) {
	var out []models.PromotionReservation
	for _, r := range t.data.reservations {
		if sellerID != "" && r.SellerID != sellerID {
			continue
		}
		if !r.IsActive(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Purchases

func (t *memTx) RecordPurchaseEvent(_ context.Context, ev *models.PurchaseEvent) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if _, exists := t.data.purchases[ev.ID]; exists {
		return false, nil
	}
	ev.CreatedAt = time.Now().UTC()
	t.data.purchases[ev.ID] = *ev
	return true, nil
}

// Reconciliation

func (t *memTx) ListSellersDueForReconcile(_ context.Context, now time.Time) ([]string, error) {
	due := map[string]struct{}{}
	for id, e := range t.data.entitlements {
		if e.IsLapsed(now) || e.NeedsReactivation() {
			due[id] = struct{}{}
		}
	}
	for _, s := range t.data.tierSets {
		if s.IsLapsed(now) {
			due[s.SellerID] = struct{}{}
		}
	}
	for _, r := range t.data.reservations {
		if !r.IsActive(now) {
			due[r.SellerID] = struct{}{}
		}
	}
	out := make([]string, 0, len(due))
	for id := range due {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
