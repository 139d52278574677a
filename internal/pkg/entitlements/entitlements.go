package entitlements

import (
	"fmt"
	"strings"
	"time"
)

type PlanID string

const (
	PlanFree  PlanID = "free"
	PlanPro   PlanID = "pro"
	PlanElite PlanID = "elite"
)

const day = 24 * time.Hour

// Plan is a purchasable posting allowance.
type Plan struct {
	ID       PlanID
	MaxAds   int
	Duration time.Duration
}

// Tier is a purchasable priority class. Weight becomes the listing's tier_priority.
type Tier struct {
	ID       string
	Weight   int
	Duration time.Duration
}

// Placement is a dedicated display position with a bounded number of reservations.
type Placement struct {
	ID              string
	MaxAds          int
	DefaultDuration time.Duration
}

// BumpPackage is a purchasable bundle of bump credits.
type BumpPackage struct {
	ID      string
	Credits int64
}

// Catalog holds everything a seller can buy.
type Catalog struct {
	Plans        map[PlanID]Plan
	Tiers        map[string]Tier
	Placements   map[string]Placement
	BumpPackages map[string]BumpPackage
}

// DefaultCatalog returns the production catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		Plans: map[PlanID]Plan{
			PlanFree:  {ID: PlanFree, MaxAds: 3, Duration: 30 * day},
			PlanPro:   {ID: PlanPro, MaxAds: 25, Duration: 30 * day},
			PlanElite: {ID: PlanElite, MaxAds: 100, Duration: 30 * day},
		},
		Tiers: map[string]Tier{
			"gold":   {ID: "gold", Weight: 30, Duration: 30 * day},
			"silver": {ID: "silver", Weight: 20, Duration: 30 * day},
			"bronze": {ID: "bronze", Weight: 10, Duration: 14 * day},
		},
		Placements: map[string]Placement{
			"homepage_top": {ID: "homepage_top", MaxAds: 4, DefaultDuration: 7 * day},
			"category_top": {ID: "category_top", MaxAds: 8, DefaultDuration: 7 * day},
			"search_top":   {ID: "search_top", MaxAds: 6, DefaultDuration: 3 * day},
		},
		BumpPackages: map[string]BumpPackage{
			"bump_5":  {ID: "bump_5", Credits: 5},
			"bump_20": {ID: "bump_20", Credits: 20},
			"bump_50": {ID: "bump_50", Credits: 50},
		},
	}
}

// NormalizeID trims and lower-cases catalog identifiers.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Plan looks up a plan by id.
func (c Catalog) Plan(id string) (Plan, error) {
	p, ok := c.Plans[PlanID(NormalizeID(id))]
	if !ok {
		return Plan{}, fmt.Errorf("%w: unknown plan %q", ErrInvalidInput, id)
	}
	return p, nil
}

// Tier looks up a tier by id.
func (c Catalog) Tier(id string) (Tier, error) {
	t, ok := c.Tiers[NormalizeID(id)]
	if !ok {
		return Tier{}, fmt.Errorf("%w: unknown tier %q", ErrInvalidInput, id)
	}
	return t, nil
}

// Placement looks up a placement by id.
func (c Catalog) Placement(id string) (Placement, error) {
	p, ok := c.Placements[NormalizeID(id)]
	if !ok {
		return Placement{}, fmt.Errorf("%w: unknown placement %q", ErrInvalidInput, id)
	}
	return p, nil
}

// BumpPackage looks up a bump package by id.
func (c Catalog) BumpPackage(id string) (BumpPackage, error) {
	p, ok := c.BumpPackages[NormalizeID(id)]
	if !ok {
		return BumpPackage{}, fmt.Errorf("%w: unknown bump package %q", ErrInvalidInput, id)
	}
	return p, nil
}
