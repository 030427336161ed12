package match_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/metaldesk/hedge-engine/internal/match"
	"github.com/metaldesk/hedge-engine/internal/model"
	"github.com/metaldesk/hedge-engine/internal/pricing"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func fixedTicket(id, side string, price, qty float64) model.Ticket {
	return model.Ticket{
		ID:                id,
		Side:              side,
		Commodity:         "copper",
		TotalQuantity:     d(qty),
		RemainingQuantity: d(qty),
		PricingMode:       model.PricingFixed,
		FixedPrice:        d(price),
		Status:            model.TicketApproved,
	}
}

func newMatcher() *match.Greedy {
	return match.NewGreedy(pricing.NewCalculator(pricing.PolicyLenient))
}

func TestMatch_TwoSellsOneBuy(t *testing.T) {
	// Sell pool 520/30 + 500/20 against buy 450/40 for a 40 MT target:
	// best sell first, splitting the second ticket at 10 MT.
	sells := []model.Ticket{
		fixedTicket("s1", model.SideSell, 520, 30),
		fixedTicket("s2", model.SideSell, 500, 20),
	}
	buys := []model.Ticket{
		fixedTicket("b1", model.SideBuy, 450, 40),
	}

	order, err := newMatcher().Match("copper", d(40), buys, sells)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !order.Quantity.Equal(d(40)) {
		t.Errorf("expected quantity 40, got %s", order.Quantity)
	}
	if len(order.SellAllocations) != 2 {
		t.Fatalf("expected 2 sell allocations, got %d", len(order.SellAllocations))
	}
	if order.SellAllocations[0].TicketID != "s1" || !order.SellAllocations[0].Quantity.Equal(d(30)) {
		t.Errorf("expected s1 fully taken first, got %+v", order.SellAllocations[0])
	}
	if order.SellAllocations[1].TicketID != "s2" || !order.SellAllocations[1].Quantity.Equal(d(10)) {
		t.Errorf("expected s2 split at 10, got %+v", order.SellAllocations[1])
	}

	// Quantity-weighted avg sell: (520*30 + 500*10) / 40 = 515.
	if !order.AvgSellPrice.Equal(d(515)) {
		t.Errorf("expected avg sell 515, got %s", order.AvgSellPrice)
	}
	if !order.AvgBuyPrice.Equal(d(450)) {
		t.Errorf("expected avg buy 450, got %s", order.AvgBuyPrice)
	}

	// Margin = (515 - 450) / 450 ≈ 0.14444.
	wantMargin := d(65).Div(d(450))
	if !order.Margin.Sub(wantMargin).Abs().LessThan(d(0.0000001)) {
		t.Errorf("expected margin ≈ %s, got %s", wantMargin, order.Margin)
	}

	if order.OrderNo == "" {
		t.Error("expected non-empty order number")
	}
}

func TestMatch_InsufficientSellLiquidity(t *testing.T) {
	sells := []model.Ticket{fixedTicket("s1", model.SideSell, 520, 25)}
	buys := []model.Ticket{fixedTicket("b1", model.SideBuy, 450, 40)}

	_, err := newMatcher().Match("copper", d(40), buys, sells)

	var liqErr *match.LiquidityError
	if !errors.As(err, &liqErr) {
		t.Fatalf("expected LiquidityError, got %v", err)
	}
	if liqErr.Side != model.SideSell {
		t.Errorf("expected sell-side shortfall, got %s", liqErr.Side)
	}
	if !liqErr.Shortfall().Equal(d(15)) {
		t.Errorf("expected shortfall 15, got %s", liqErr.Shortfall())
	}
}

func TestMatch_InsufficientBuyLiquidity(t *testing.T) {
	sells := []model.Ticket{fixedTicket("s1", model.SideSell, 520, 40)}
	buys := []model.Ticket{fixedTicket("b1", model.SideBuy, 450, 10)}

	_, err := newMatcher().Match("copper", d(40), buys, sells)

	var liqErr *match.LiquidityError
	if !errors.As(err, &liqErr) {
		t.Fatalf("expected LiquidityError, got %v", err)
	}
	if liqErr.Side != model.SideBuy {
		t.Errorf("expected buy-side shortfall, got %s", liqErr.Side)
	}
}

func TestMatch_EmptyPoolsFailImmediately(t *testing.T) {
	_, err := newMatcher().Match("copper", d(40), nil, nil)

	var liqErr *match.LiquidityError
	if !errors.As(err, &liqErr) {
		t.Fatalf("expected LiquidityError for empty pools, got %v", err)
	}
}

func TestMatch_NonPositiveMargin(t *testing.T) {
	sells := []model.Ticket{fixedTicket("s1", model.SideSell, 450, 40)}
	buys := []model.Ticket{fixedTicket("b1", model.SideBuy, 450, 40)}

	_, err := newMatcher().Match("copper", d(40), buys, sells)

	var marginErr *match.MarginError
	if !errors.As(err, &marginErr) {
		t.Fatalf("expected MarginError, got %v", err)
	}
	if !marginErr.AvgBuy.Equal(d(450)) || !marginErr.AvgSell.Equal(d(450)) {
		t.Errorf("unexpected averages in margin error: %+v", marginErr)
	}
}

func TestMatch_ZeroPricedBuyPoolRejected(t *testing.T) {
	// Lenient pricing yields zero for unpriceable tickets; a zero
	// average buy makes margin undefined and must reject, not panic.
	unpriced := fixedTicket("b1", model.SideBuy, 0, 40)
	sells := []model.Ticket{fixedTicket("s1", model.SideSell, 520, 40)}

	_, err := newMatcher().Match("copper", d(40), []model.Ticket{unpriced}, sells)

	var marginErr *match.MarginError
	if !errors.As(err, &marginErr) {
		t.Fatalf("expected MarginError for zero-priced buy pool, got %v", err)
	}
}

func TestMatch_SkipsZeroRemainingTickets(t *testing.T) {
	depleted := fixedTicket("s0", model.SideSell, 600, 40)
	depleted.RemainingQuantity = decimal.Zero

	sells := []model.Ticket{depleted, fixedTicket("s1", model.SideSell, 520, 40)}
	buys := []model.Ticket{fixedTicket("b1", model.SideBuy, 450, 40)}

	order, err := newMatcher().Match("copper", d(40), buys, sells)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, a := range order.SellAllocations {
		if a.TicketID == "s0" {
			t.Error("depleted ticket must never be selected")
		}
	}
}

func TestMatch_EqualPricesKeepDiscoveryOrder(t *testing.T) {
	sells := []model.Ticket{
		fixedTicket("s1", model.SideSell, 500, 30),
		fixedTicket("s2", model.SideSell, 500, 30),
	}
	buys := []model.Ticket{fixedTicket("b1", model.SideBuy, 450, 40)}

	order, err := newMatcher().Match("copper", d(40), buys, sells)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.SellAllocations[0].TicketID != "s1" {
		t.Errorf("expected s1 first (discovery order), got %s", order.SellAllocations[0].TicketID)
	}
	if order.SellAllocations[1].TicketID != "s2" {
		t.Errorf("expected s2 second, got %s", order.SellAllocations[1].TicketID)
	}
}

func TestMatch_InvalidInput(t *testing.T) {
	m := newMatcher()

	if _, err := m.Match("", d(40), nil, nil); !errors.Is(err, match.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing commodity, got %v", err)
	}
	if _, err := m.Match("copper", decimal.Zero, nil, nil); !errors.Is(err, match.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero target, got %v", err)
	}
	if _, err := m.Match("copper", d(-5), nil, nil); !errors.Is(err, match.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for negative target, got %v", err)
	}
}

func TestMatch_DoesNotMutateTickets(t *testing.T) {
	sells := []model.Ticket{fixedTicket("s1", model.SideSell, 520, 40)}
	buys := []model.Ticket{fixedTicket("b1", model.SideBuy, 450, 40)}

	_, err := newMatcher().Match("copper", d(40), buys, sells)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sells[0].RemainingQuantity.Equal(d(40)) || !buys[0].RemainingQuantity.Equal(d(40)) {
		t.Error("matcher must not decrement ticket remaining quantity")
	}
}
