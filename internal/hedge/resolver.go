// Package hedge implements hedge eligibility resolution and the
// allocation engine that fixes physical quantities against open hedge
// executions.
package hedge

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/metaldesk/hedge-engine/internal/model"
	"github.com/metaldesk/hedge-engine/internal/store"
)

// ResolvedRef is a physical reference resolved against the store:
// its total quantity, commodity, and parent in the physical hierarchy
// (shipment → order).
type ResolvedRef struct {
	Ref           model.PhysicalRef
	TotalQuantity decimal.Decimal
	Commodity     string
	Parent        *model.PhysicalRef
}

// RefResolver looks up physical references through the store. It is
// the only way references are resolved — no ambient field probing.
type RefResolver struct {
	store store.Store
}

// NewRefResolver creates a resolver over the given store.
func NewRefResolver(st store.Store) *RefResolver {
	return &RefResolver{store: st}
}

// Resolve returns the referenced entity's total physical quantity,
// commodity, and parent reference (shipments resolve to their order).
func (r *RefResolver) Resolve(ctx context.Context, ref model.PhysicalRef) (*ResolvedRef, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	switch ref.Level {
	case model.LevelOrder:
		o, err := r.store.GetOrder(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return &ResolvedRef{Ref: ref, TotalQuantity: o.Quantity, Commodity: o.Commodity}, nil

	case model.LevelShipment:
		sh, err := r.store.GetShipment(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		parent := &model.PhysicalRef{Level: model.LevelOrder, ID: sh.OrderID}
		return &ResolvedRef{Ref: ref, TotalQuantity: sh.Quantity, Commodity: sh.Commodity, Parent: parent}, nil

	case model.LevelTicket:
		t, err := r.store.GetTicket(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return &ResolvedRef{Ref: ref, TotalQuantity: t.TotalQuantity, Commodity: t.Commodity}, nil

	default:
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidRefLevel, ref.Level)
	}
}

// AvailableUnfixed returns the reference's total physical quantity
// minus the sum of its prior non-deleted fixings.
func (r *RefResolver) AvailableUnfixed(ctx context.Context, resolved *ResolvedRef) (decimal.Decimal, error) {
	fixings, err := r.store.ListFixings(ctx, resolved.Ref)
	if err != nil {
		return decimal.Zero, err
	}
	fixed := decimal.Zero
	for _, f := range fixings {
		fixed = fixed.Add(f.Quantity)
	}
	return resolved.TotalQuantity.Sub(fixed), nil
}
