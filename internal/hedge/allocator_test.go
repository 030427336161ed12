package hedge_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/metaldesk/hedge-engine/internal/hedge"
	"github.com/metaldesk/hedge-engine/internal/model"
	"github.com/metaldesk/hedge-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type env struct {
	store     *store.MemoryStore
	allocator *hedge.Allocator
	resolver  *hedge.RefResolver
}

func newEnv() *env {
	st := store.NewMemoryStore()
	resolver := hedge.NewRefResolver(st)
	return &env{
		store:     st,
		allocator: hedge.NewAllocator(st, resolver),
		resolver:  hedge.NewRefResolver(st),
	}
}

func (e *env) seedOrder(t *testing.T, id string, qty float64) {
	t.Helper()
	err := e.store.CreateOrder(context.Background(), &model.Order{
		ID:        id,
		OrderNo:   "no-" + id,
		Commodity: "copper",
		Quantity:  d(qty),
		Status:    "proposed",
		CreatedAt: time.Now().UTC(),
	}, nil)
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func (e *env) seedHedge(t *testing.T, id, direction string, trade, open float64) {
	t.Helper()
	err := e.store.CreateHedgeExecution(context.Background(), &model.HedgeExecution{
		ID:            id,
		Direction:     direction,
		Commodity:     "copper",
		TradeQuantity: d(trade),
		OpenQuantity:  d(open),
		ExecutedPrice: d(950),
		Status:        model.DeriveHedgeStatus(d(open), d(trade)),
		ExecutedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed hedge: %v", err)
	}
}

func orderRef(id string) model.PhysicalRef {
	return model.PhysicalRef{Level: model.LevelOrder, ID: id}
}

func TestFix_OverAllocationReportsEveryViolation(t *testing.T) {
	e := newEnv()
	e.seedOrder(t, "ord-1", 40)
	e.seedHedge(t, "h1", model.SideBuy, 30, 30)

	_, err := e.allocator.Fix(context.Background(), hedge.FixRequest{
		Ref:         orderRef("ord-1"),
		Side:        model.SideSell,
		Allocations: []hedge.AllocationItem{{HedgeID: "h1", Quantity: d(50)}},
		Price:       d(980),
		Currency:    "USD",
	})

	var capErr *hedge.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if len(capErr.Violations) != 2 {
		t.Fatalf("expected 2 violations (reference and hedge), got %d: %v", len(capErr.Violations), capErr)
	}
	byResource := map[string]hedge.CapacityViolation{}
	for _, v := range capErr.Violations {
		byResource[v.Resource] = v
	}
	if v, ok := byResource["order:ord-1"]; !ok || !v.Available.Equal(d(40)) {
		t.Errorf("missing or wrong reference violation: %v", capErr)
	}
	if v, ok := byResource["hedge:h1"]; !ok || !v.Available.Equal(d(30)) {
		t.Errorf("missing or wrong hedge violation: %v", capErr)
	}

	// Rejection must leave everything untouched.
	h, _ := e.store.GetHedgeExecution(context.Background(), "h1")
	if !h.OpenQuantity.Equal(d(30)) {
		t.Errorf("hedge open quantity mutated on rejection: %s", h.OpenQuantity)
	}
	fixings, _ := e.store.ListFixings(context.Background(), orderRef("ord-1"))
	if len(fixings) != 0 {
		t.Errorf("fixing persisted despite rejection: %d", len(fixings))
	}
}

func TestFix_FullCloseRecordsClosingPrice(t *testing.T) {
	e := newEnv()
	e.seedOrder(t, "ord-1", 40)
	e.seedHedge(t, "h1", model.SideBuy, 40, 40)

	fixing, err := e.allocator.Fix(context.Background(), hedge.FixRequest{
		Ref:         orderRef("ord-1"),
		Side:        model.SideSell,
		Allocations: []hedge.AllocationItem{{HedgeID: "h1", Quantity: d(40)}},
		Price:       d(980),
		Currency:    "USD",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fixing.Quantity.Equal(d(40)) {
		t.Errorf("expected fixing quantity 40, got %s", fixing.Quantity)
	}

	h, err := e.store.GetHedgeExecution(context.Background(), "h1")
	if err != nil {
		t.Fatalf("get hedge: %v", err)
	}
	if h.Status != model.HedgeClosed {
		t.Errorf("expected closed, got %s", h.Status)
	}
	if !h.OpenQuantity.IsZero() {
		t.Errorf("expected open 0, got %s", h.OpenQuantity)
	}
	if !h.ClosedPrice.Equal(d(980)) {
		t.Errorf("expected closed price 980, got %s", h.ClosedPrice)
	}
	if h.ClosedAt == nil {
		t.Error("expected closed_at to be set")
	}

	links, err := e.store.ListHedgeLinks(context.Background(), []model.PhysicalRef{orderRef("ord-1")})
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}
	if links[0].FixingID != fixing.ID || links[0].HedgeID != "h1" {
		t.Errorf("link not attached correctly: %+v", links[0])
	}
	if !links[0].ExecutionPrice.Equal(d(950)) || !links[0].FixingPrice.Equal(d(980)) {
		t.Errorf("link prices wrong: %+v", links[0])
	}
}

func TestFix_PartialCloseLeavesClosedFieldsUnset(t *testing.T) {
	e := newEnv()
	e.seedOrder(t, "ord-1", 40)
	e.seedHedge(t, "h1", model.SideBuy, 40, 40)

	_, err := e.allocator.Fix(context.Background(), hedge.FixRequest{
		Ref:         orderRef("ord-1"),
		Side:        model.SideSell,
		Allocations: []hedge.AllocationItem{{HedgeID: "h1", Quantity: d(15)}},
		Price:       d(980),
		Currency:    "USD",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h, _ := e.store.GetHedgeExecution(context.Background(), "h1")
	if h.Status != model.HedgePartiallyClosed {
		t.Errorf("expected partially_closed, got %s", h.Status)
	}
	if !h.OpenQuantity.Equal(d(25)) {
		t.Errorf("expected open 25, got %s", h.OpenQuantity)
	}
	if !h.ClosedPrice.IsZero() || h.ClosedAt != nil {
		t.Errorf("closed fields must stay unset on partial close: %+v", h)
	}
}

func TestFix_SecondFixingRespectsRemainingUnfixed(t *testing.T) {
	e := newEnv()
	e.seedOrder(t, "ord-1", 40)
	e.seedHedge(t, "h1", model.SideBuy, 100, 100)

	ctx := context.Background()
	if _, err := e.allocator.Fix(ctx, hedge.FixRequest{
		Ref:         orderRef("ord-1"),
		Side:        model.SideSell,
		Allocations: []hedge.AllocationItem{{HedgeID: "h1", Quantity: d(30)}},
		Price:       d(980),
		Currency:    "USD",
	}); err != nil {
		t.Fatalf("first fixing: %v", err)
	}

	_, err := e.allocator.Fix(ctx, hedge.FixRequest{
		Ref:         orderRef("ord-1"),
		Side:        model.SideSell,
		Allocations: []hedge.AllocationItem{{HedgeID: "h1", Quantity: d(15)}},
		Price:       d(990),
		Currency:    "USD",
	})
	var capErr *hedge.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError on second fixing, got %v", err)
	}
	if len(capErr.Violations) != 1 || !capErr.Violations[0].Available.Equal(d(10)) {
		t.Errorf("expected single reference violation with available 10, got %v", capErr)
	}
	if !strings.HasPrefix(capErr.Violations[0].Resource, "order:") {
		t.Errorf("expected reference violation, got %s", capErr.Violations[0].Resource)
	}
}

func TestFix_DirectionMismatchRejected(t *testing.T) {
	e := newEnv()
	e.seedOrder(t, "ord-1", 40)
	e.seedHedge(t, "h1", model.SideSell, 40, 40)

	_, err := e.allocator.Fix(context.Background(), hedge.FixRequest{
		Ref:         orderRef("ord-1"),
		Side:        model.SideSell, // needs buy-direction hedges
		Allocations: []hedge.AllocationItem{{HedgeID: "h1", Quantity: d(10)}},
		Price:       d(980),
		Currency:    "USD",
	})
	if !errors.Is(err, hedge.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for direction mismatch, got %v", err)
	}
}

func TestFix_CommodityMismatchRejected(t *testing.T) {
	e := newEnv()
	e.seedOrder(t, "ord-1", 40)
	err := e.store.CreateHedgeExecution(context.Background(), &model.HedgeExecution{
		ID:            "h1",
		Direction:     model.SideBuy,
		Commodity:     "zinc",
		TradeQuantity: d(40),
		OpenQuantity:  d(40),
		ExecutedPrice: d(950),
		Status:        model.HedgeOpen,
	})
	if err != nil {
		t.Fatalf("seed hedge: %v", err)
	}

	_, err = e.allocator.Fix(context.Background(), hedge.FixRequest{
		Ref:         orderRef("ord-1"),
		Side:        model.SideSell,
		Allocations: []hedge.AllocationItem{{HedgeID: "h1", Quantity: d(10)}},
		Price:       d(980),
		Currency:    "USD",
	})
	if !errors.Is(err, hedge.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for commodity mismatch, got %v", err)
	}
}

func TestFix_InputValidation(t *testing.T) {
	e := newEnv()
	e.seedOrder(t, "ord-1", 40)
	e.seedHedge(t, "h1", model.SideBuy, 40, 40)
	ctx := context.Background()

	cases := []struct {
		name string
		req  hedge.FixRequest
	}{
		{"missing ref", hedge.FixRequest{
			Side:        model.SideSell,
			Allocations: []hedge.AllocationItem{{HedgeID: "h1", Quantity: d(10)}},
			Price:       d(980),
		}},
		{"zero price", hedge.FixRequest{
			Ref:         orderRef("ord-1"),
			Side:        model.SideSell,
			Allocations: []hedge.AllocationItem{{HedgeID: "h1", Quantity: d(10)}},
		}},
		{"negative price", hedge.FixRequest{
			Ref:         orderRef("ord-1"),
			Side:        model.SideSell,
			Allocations: []hedge.AllocationItem{{HedgeID: "h1", Quantity: d(10)}},
			Price:       d(-5),
		}},
		{"no allocations", hedge.FixRequest{
			Ref:   orderRef("ord-1"),
			Side:  model.SideSell,
			Price: d(980),
		}},
		{"non-positive allocation", hedge.FixRequest{
			Ref:         orderRef("ord-1"),
			Side:        model.SideSell,
			Allocations: []hedge.AllocationItem{{HedgeID: "h1", Quantity: decimal.Zero}},
			Price:       d(980),
		}},
		{"bad side", hedge.FixRequest{
			Ref:         orderRef("ord-1"),
			Side:        "short",
			Allocations: []hedge.AllocationItem{{HedgeID: "h1", Quantity: d(10)}},
			Price:       d(980),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.allocator.Fix(ctx, tc.req)
			if !errors.Is(err, hedge.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestFix_UnknownHedge(t *testing.T) {
	e := newEnv()
	e.seedOrder(t, "ord-1", 40)

	_, err := e.allocator.Fix(context.Background(), hedge.FixRequest{
		Ref:         orderRef("ord-1"),
		Side:        model.SideSell,
		Allocations: []hedge.AllocationItem{{HedgeID: "nope", Quantity: d(10)}},
		Price:       d(980),
		Currency:    "USD",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFix_SplitsAcrossHedges(t *testing.T) {
	e := newEnv()
	e.seedOrder(t, "ord-1", 100)
	e.seedHedge(t, "h1", model.SideBuy, 30, 30)
	e.seedHedge(t, "h2", model.SideBuy, 50, 50)

	_, err := e.allocator.Fix(context.Background(), hedge.FixRequest{
		Ref:  orderRef("ord-1"),
		Side: model.SideSell,
		Allocations: []hedge.AllocationItem{
			{HedgeID: "h1", Quantity: d(30)},
			{HedgeID: "h2", Quantity: d(20)},
		},
		Price:    d(980),
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h1, _ := e.store.GetHedgeExecution(context.Background(), "h1")
	h2, _ := e.store.GetHedgeExecution(context.Background(), "h2")
	if h1.Status != model.HedgeClosed {
		t.Errorf("h1: expected closed, got %s", h1.Status)
	}
	if h2.Status != model.HedgePartiallyClosed || !h2.OpenQuantity.Equal(d(30)) {
		t.Errorf("h2: expected partially_closed with open 30, got %s open %s", h2.Status, h2.OpenQuantity)
	}
}
