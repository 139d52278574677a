// Package ranking orders listing feeds. Ordering is a pure function of the
// listings' persisted tier, promotion, bump and creation state.
package ranking

import (
	"slices"
	"strings"
	"time"

	"github.com/ManuelReschke/MarktBoost/app/models"
)

// Context carries the feed being rendered.
type Context struct {
	// Placement is the promotion placement of the feed, empty for plain feeds.
	Placement string
	// Now decides whether a promotion is still running. A zero Now treats
	// every referenced promotion as running.
	Now time.Time
}

// Compare orders a before b when it returns a negative number. The key is
// tier priority desc, matching promotion first, bumped_at desc with nulls
// last, created_at desc, id asc.
func Compare(a, b *models.Listing, rc Context) int {
	if pa, pb := a.EffectiveTierPriority(), b.EffectiveTierPriority(); pa != pb {
		if pa > pb {
			return -1
		}
		return 1
	}

	if ma, mb := promotionMatches(a, rc), promotionMatches(b, rc); ma != mb {
		if ma {
			return -1
		}
		return 1
	}

	switch {
	case a.BumpedAt != nil && b.BumpedAt == nil:
		return -1
	case a.BumpedAt == nil && b.BumpedAt != nil:
		return 1
	case a.BumpedAt != nil && b.BumpedAt != nil && !a.BumpedAt.Equal(*b.BumpedAt):
		if a.BumpedAt.After(*b.BumpedAt) {
			return -1
		}
		return 1
	}

	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	}

	return strings.Compare(a.ID, b.ID)
}

func promotionMatches(l *models.Listing, rc Context) bool {
	if rc.Placement == "" || l.PromotionPlacement != rc.Placement {
		return false
	}
	return l.HasActivePromotion(rc.Now)
}

// Sort returns a new slice with listings in feed order. The input is not
// modified.
func Sort(listings []models.Listing, rc Context) []models.Listing {
	out := slices.Clone(listings)
	slices.SortFunc(out, func(a, b models.Listing) int {
		return Compare(&a, &b, rc)
	})
	return out
}

// IDs returns the ids of listings in order.
func IDs(listings []models.Listing) []string {
	ids := make([]string, len(listings))
	for i := range listings {
		ids[i] = listings[i].ID
	}
	return ids
}
