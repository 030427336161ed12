// Package exposure computes net long/short hedge cover for an order
// and its child shipments. The aggregation is a pure read-time
// computation over currently persisted links and executions; it holds
// no state and is recomputed on every query.
package exposure

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/metaldesk/hedge-engine/internal/model"
	"github.com/metaldesk/hedge-engine/internal/store"
)

// Epsilon is the magnitude below which a net position reports flat.
var Epsilon = decimal.NewFromFloat(0.01)

// Net computes the net position from hedge links and the current state
// of the executions they reference: each distinct linked execution
// contributes its open quantity, signed by direction (buy positive,
// sell negative).
func Net(links []model.HedgeLink, hedges map[string]model.HedgeExecution) model.NetPosition {
	seen := make(map[string]bool, len(links))
	net := decimal.Zero
	for _, l := range links {
		if seen[l.HedgeID] {
			continue
		}
		seen[l.HedgeID] = true
		h, ok := hedges[l.HedgeID]
		if !ok {
			continue
		}
		if h.Direction == model.SideBuy {
			net = net.Add(h.OpenQuantity)
		} else {
			net = net.Sub(h.OpenQuantity)
		}
	}

	if net.Abs().LessThan(Epsilon) {
		return model.NetPosition{State: model.PositionFlat, Quantity: decimal.Zero}
	}
	if net.IsPositive() {
		return model.NetPosition{State: model.PositionLong, Quantity: net}
	}
	return model.NetPosition{State: model.PositionShort, Quantity: net.Neg()}
}

// Aggregator fetches the facts Net needs from the store.
type Aggregator struct {
	store store.Store
}

// NewAggregator creates an exposure aggregator over the given store.
func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// OrderExposure reports the net hedge position for an order, counting
// links addressed to the order directly or to any of its shipments.
func (a *Aggregator) OrderExposure(ctx context.Context, orderID string) (*model.NetPosition, error) {
	order, err := a.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	refs := []model.PhysicalRef{{Level: model.LevelOrder, ID: order.ID}}
	shipments, err := a.store.ListShipmentsByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	for _, sh := range shipments {
		refs = append(refs, model.PhysicalRef{Level: model.LevelShipment, ID: sh.ID})
	}

	links, err := a.store.ListHedgeLinks(ctx, refs)
	if err != nil {
		return nil, err
	}

	hedges := make(map[string]model.HedgeExecution)
	for _, l := range links {
		if _, ok := hedges[l.HedgeID]; ok {
			continue
		}
		h, err := a.store.GetHedgeExecution(ctx, l.HedgeID)
		if err != nil {
			return nil, err
		}
		hedges[l.HedgeID] = *h
	}

	net := Net(links, hedges)
	return &net, nil
}
