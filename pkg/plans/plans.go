// Package plans maps external product identifiers from the payment
// processor to internal plan tiers and billing durations.
//
// The mapping is configuration, not runtime data: it is loaded once at
// service construction and resolution is a pure lookup. An unknown
// product id is a hard processing error because retrying the event can
// never change the mapping.
package plans

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
)

var (
	// ErrUnknownProduct indicates an external product id with no catalog entry.
	ErrUnknownProduct = errors.New("plans: unknown external product id")
	// ErrFailedToLoad indicates the plan source failed.
	ErrFailedToLoad = errors.New("plans: failed to load plan catalog")
	// ErrInvalidPlan indicates an inconsistent catalog entry.
	ErrInvalidPlan = errors.New("plans: invalid plan configuration")
)

// Tier is one of the fixed commercial service levels.
type Tier string

const (
	TierFree     Tier = "free"
	TierStarter  Tier = "starter"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierStarter, TierPro, TierBusiness:
		return true
	}
	return false
}

// Plan describes one purchasable catalog entry.
type Plan struct {
	ProductID      string // payment processor's product identifier
	Tier           Tier
	Name           string
	DurationMonths int   // billing period granted per payment
	PriceAmount    int64 // minor units, informational
	PriceCurrency  string
}

// Source loads catalog entries keyed by external product id.
type Source interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// Catalog resolves external product ids to plans.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog loads and validates the catalog from src. Panics on a nil
// source to fail fast during initialization.
func NewCatalog(ctx context.Context, src Source) (*Catalog, error) {
	if src == nil {
		panic("plans: source is required")
	}

	loaded, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoad, err)
	}

	for productID, plan := range loaded {
		if plan.ProductID != productID {
			return nil, errors.Join(ErrInvalidPlan,
				fmt.Errorf("product id mismatch: map key %s != plan.ProductID %s", productID, plan.ProductID))
		}
		if !plan.Tier.Valid() {
			return nil, errors.Join(ErrInvalidPlan,
				fmt.Errorf("product %s has unknown tier %q", productID, plan.Tier))
		}
		if plan.DurationMonths < 1 {
			return nil, errors.Join(ErrInvalidPlan,
				fmt.Errorf("product %s has non-positive duration: %d", productID, plan.DurationMonths))
		}
	}

	return &Catalog{plans: maps.Clone(loaded)}, nil
}

// Resolve returns the plan for an external product id.
func (c *Catalog) Resolve(productID string) (Plan, error) {
	plan, exists := c.plans[productID]
	if !exists {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	return plan, nil
}

// Len reports the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.plans)
}

type staticSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewStaticSource returns an in-memory Source over the given plans.
// Panics if no plans are provided so a service never starts with an
// empty catalog.
func NewStaticSource(plans ...Plan) Source {
	if len(plans) == 0 {
		panic("plans: at least one plan is required")
	}
	byProduct := make(map[string]Plan, len(plans))
	for _, p := range plans {
		byProduct[p.ProductID] = p
	}
	return &staticSource{plans: byProduct}
}

func (s *staticSource) Load(ctx context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.plans), nil
}
