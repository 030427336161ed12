package hedge_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/metaldesk/hedge-engine/internal/hedge"
	"github.com/metaldesk/hedge-engine/internal/model"
)

// Whatever sequence of fix attempts a caller throws at the allocator,
// the persisted state never over-consumes a hedge's trade quantity or
// a reference's physical quantity.
func TestFix_Invariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := newEnv()
		ctx := context.Background()

		orderQty := rapid.Int64Range(10, 200).Draw(t, "order_qty")
		e.store.CreateOrder(ctx, &model.Order{
			ID: "ord-1", OrderNo: "no-1", Commodity: "copper",
			Quantity: decimal.NewFromInt(orderQty), Status: "proposed",
		}, nil)

		nHedges := rapid.IntRange(1, 4).Draw(t, "n_hedges")
		trades := make(map[string]decimal.Decimal, nHedges)
		for i := 0; i < nHedges; i++ {
			id := fmt.Sprintf("h%d", i)
			trade := decimal.NewFromInt(rapid.Int64Range(1, 100).Draw(t, fmt.Sprintf("trade_%d", i)))
			trades[id] = trade
			e.store.CreateHedgeExecution(ctx, &model.HedgeExecution{
				ID: id, Direction: model.SideBuy, Commodity: "copper",
				TradeQuantity: trade, OpenQuantity: trade,
				ExecutedPrice: decimal.NewFromInt(950), Status: model.HedgeOpen,
			})
		}

		nFixes := rapid.IntRange(1, 6).Draw(t, "n_fixes")
		for i := 0; i < nFixes; i++ {
			nItems := rapid.IntRange(1, nHedges).Draw(t, fmt.Sprintf("fix_%d_items", i))
			items := make([]hedge.AllocationItem, 0, nItems)
			for j := 0; j < nItems; j++ {
				items = append(items, hedge.AllocationItem{
					HedgeID:  fmt.Sprintf("h%d", j),
					Quantity: decimal.NewFromInt(rapid.Int64Range(1, 80).Draw(t, fmt.Sprintf("fix_%d_qty_%d", i, j))),
				})
			}
			// Errors are expected for over-allocations; only the
			// resulting state matters here.
			e.allocator.Fix(ctx, hedge.FixRequest{
				Ref:         orderRef("ord-1"),
				Side:        model.SideSell,
				Allocations: items,
				Price:       decimal.NewFromInt(rapid.Int64Range(1, 2000).Draw(t, fmt.Sprintf("fix_%d_price", i))),
				Currency:    "USD",
			})
		}

		// Reference invariant: sum of surviving fixings never exceeds
		// the order's physical quantity.
		fixings, err := e.store.ListFixings(ctx, orderRef("ord-1"))
		if err != nil {
			t.Fatalf("list fixings: %v", err)
		}
		fixed := decimal.Zero
		for _, f := range fixings {
			fixed = fixed.Add(f.Quantity)
		}
		if fixed.GreaterThan(decimal.NewFromInt(orderQty)) {
			t.Fatalf("fixed %s exceeds order quantity %d", fixed, orderQty)
		}

		// Hedge invariant: per-hedge link totals never exceed trade
		// quantity, and open quantity equals trade minus links.
		links, err := e.store.ListHedgeLinks(ctx, []model.PhysicalRef{orderRef("ord-1")})
		if err != nil {
			t.Fatalf("list links: %v", err)
		}
		consumed := map[string]decimal.Decimal{}
		for _, l := range links {
			consumed[l.HedgeID] = consumed[l.HedgeID].Add(l.Quantity)
		}
		for id, trade := range trades {
			if consumed[id].GreaterThan(trade) {
				t.Fatalf("hedge %s consumed %s over trade %s", id, consumed[id], trade)
			}
			h, err := e.store.GetHedgeExecution(ctx, id)
			if err != nil {
				t.Fatalf("get hedge %s: %v", id, err)
			}
			if !h.OpenQuantity.Equal(trade.Sub(consumed[id])) {
				t.Fatalf("hedge %s open %s != trade %s - consumed %s", id, h.OpenQuantity, trade, consumed[id])
			}
			if h.Status != model.DeriveHedgeStatus(h.OpenQuantity, h.TradeQuantity) {
				t.Fatalf("hedge %s status %s inconsistent with open %s", id, h.Status, h.OpenQuantity)
			}
		}
	})
}
