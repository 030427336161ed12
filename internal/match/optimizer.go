// Package match implements the ticket matching optimizer: given a
// target quantity and commodity, select a combination of buy-side and
// sell-side tickets that exactly covers the quantity while maximizing
// margin, subject to per-ticket remaining capacity and computed prices.
//
// The default implementation is a two-sided greedy heuristic: best
// price first on each side, splitting the last ticket as needed. It
// makes no global-optimality guarantee. The Matcher interface exists
// so an exact solver can be substituted without changing callers.
package match

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/metaldesk/hedge-engine/internal/model"
	"github.com/metaldesk/hedge-engine/internal/pricing"
)

// Matcher proposes an order covering the target quantity from the
// given candidate pools. Implementations must not mutate the tickets;
// consumption is persisted by the store when the order is created.
type Matcher interface {
	Match(commodity string, target decimal.Decimal, buys, sells []model.Ticket) (*model.Order, error)
}

// Greedy is the default price-greedy matcher.
type Greedy struct {
	calc    *pricing.Calculator
	now     func() time.Time
	orderNo func() string
}

// NewGreedy creates a greedy matcher using the given pricing calculator.
func NewGreedy(calc *pricing.Calculator) *Greedy {
	return &Greedy{
		calc:    calc,
		now:     func() time.Time { return time.Now().UTC() },
		orderNo: newOrderNo,
	}
}

// newOrderNo generates a short numeric order number. Uniqueness is
// enforced by the persistence layer on insert.
func newOrderNo() string {
	return fmt.Sprintf("%08d", rand.Intn(100_000_000))
}

// Match selects sell tickets (best price first, descending) and buy
// tickets (cheapest first, ascending) until each side covers the
// target, splitting the final ticket when it exceeds what is still
// needed. Equal-priced tickets keep their pool discovery order.
func (g *Greedy) Match(commodity string, target decimal.Decimal, buys, sells []model.Ticket) (*model.Order, error) {
	if commodity == "" {
		return nil, fmt.Errorf("%w: commodity is required", ErrInvalidInput)
	}
	if target.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: target quantity must be positive", ErrInvalidInput)
	}

	sellAllocs, avgSell, err := g.selectSide(sells, target, model.SideSell)
	if err != nil {
		return nil, err
	}
	buyAllocs, avgBuy, err := g.selectSide(buys, target, model.SideBuy)
	if err != nil {
		return nil, err
	}

	// A zero average (lenient pricing of unpriceable tickets) makes
	// margin undefined; reject rather than divide by zero.
	if avgBuy.LessThanOrEqual(decimal.Zero) || avgBuy.GreaterThanOrEqual(avgSell) {
		return nil, &MarginError{AvgBuy: avgBuy, AvgSell: avgSell}
	}
	margin := avgSell.Sub(avgBuy).Div(avgBuy)

	return &model.Order{
		OrderNo:         g.orderNo(),
		Commodity:       commodity,
		Quantity:        target,
		BuyAllocations:  buyAllocs,
		SellAllocations: sellAllocs,
		AvgBuyPrice:     avgBuy,
		AvgSellPrice:    avgSell,
		Margin:          margin,
		Status:          "proposed",
		CreatedAt:       g.now(),
	}, nil
}

// candidate pairs a ticket with its computed unit price for sorting.
type candidate struct {
	ticket model.Ticket
	price  decimal.Decimal
}

// selectSide prices, sorts, and greedily accumulates one side of the
// pool into the target, returning the allocations and the
// quantity-weighted average price.
func (g *Greedy) selectSide(pool []model.Ticket, target decimal.Decimal, side string) ([]model.Allocation, decimal.Decimal, error) {
	candidates := make([]candidate, 0, len(pool))
	available := decimal.Zero
	for _, t := range pool {
		if t.RemainingQuantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		price, err := g.calc.UnitPrice(t)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("pricing ticket %s: %w", t.ID, err)
		}
		candidates = append(candidates, candidate{ticket: t, price: price})
		available = available.Add(t.RemainingQuantity)
	}

	if available.LessThan(target) {
		return nil, decimal.Zero, &LiquidityError{Side: side, Requested: target, Available: available}
	}

	// Sells: best (highest) price first. Buys: cheapest first.
	// Stable sort keeps pool discovery order for equal prices.
	if side == model.SideSell {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].price.GreaterThan(candidates[j].price)
		})
	} else {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].price.LessThan(candidates[j].price)
		})
	}

	var allocs []model.Allocation
	remaining := target
	weighted := decimal.Zero
	for _, c := range candidates {
		if remaining.IsZero() {
			break
		}
		take := c.ticket.RemainingQuantity
		if take.GreaterThan(remaining) {
			take = remaining
		}
		allocs = append(allocs, model.Allocation{
			TicketID:  c.ticket.ID,
			Quantity:  take,
			UnitPrice: c.price,
		})
		weighted = weighted.Add(c.price.Mul(take))
		remaining = remaining.Sub(take)
	}

	return allocs, weighted.Div(target), nil
}
