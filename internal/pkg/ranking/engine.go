package ranking

import (
	"context"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/app/repository"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/clock"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
)

// Engine ranks candidate listings against the latest committed state. It
// keeps no cache.
type Engine struct {
	store repository.Store
	clock clock.Clock
}

// NewEngine creates a ranking engine reading from store.
func NewEngine(store repository.Store, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{store: store, clock: clk}
}

// Order loads the candidate listings, drops everything that is not active
// and returns them in feed order. Unknown ids are ignored.
func (e *Engine) Order(ctx context.Context, candidateIDs []string, placement string) ([]models.Listing, error) {
	if placement != "" {
		placement = entitlements.NormalizeID(placement)
	}

	var listings []models.Listing
	err := e.store.View(ctx, func(tx repository.Tx) error {
		var err error
		listings, err = tx.GetListings(ctx, candidateIDs)
		return err
	})
	if err != nil {
		return nil, err
	}

	active := listings[:0]
	for _, l := range listings {
		if l.Status == models.ListingStatusActive {
			active = append(active, l)
		}
	}

	return Sort(active, Context{Placement: placement, Now: e.clock.Now()}), nil
}
