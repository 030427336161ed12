package hedge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/metaldesk/hedge-engine/internal/metrics"
	"github.com/metaldesk/hedge-engine/internal/model"
	"github.com/metaldesk/hedge-engine/internal/store"
)

// AllocationItem is one caller-chosen allocation: how much of a
// specific hedge execution's open quantity this fixing consumes. The
// caller controls the split across equally eligible hedges; the
// engine does not reorder it.
type AllocationItem struct {
	HedgeID  string          `json:"hedge_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// FixRequest asks the allocation engine to fix a quantity of a
// physical reference at a price against the given hedge executions.
type FixRequest struct {
	Ref         model.PhysicalRef `json:"ref"`
	Side        string            `json:"side"` // physical side being hedged
	Allocations []AllocationItem  `json:"allocations"`
	Price       decimal.Decimal   `json:"price"`
	Currency    string            `json:"currency"`
	FixedAt     time.Time         `json:"fixed_at"`
}

// Allocator validates and commits price fixings. All mutation of
// hedge open quantities and per-reference fixed sums passes through
// its Fix method; the store re-validates both inside the commit
// transaction, so a concurrent overlapping allocation surfaces as
// store.ErrConflict with zero persisted effect.
type Allocator struct {
	store    store.Store
	resolver *RefResolver
	now      func() time.Time
	newID    func() string
}

// NewAllocator creates an allocation engine over the given store.
func NewAllocator(st store.Store, resolver *RefResolver) *Allocator {
	return &Allocator{
		store:    st,
		resolver: resolver,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
}

// Fix validates the request against the reference's available unfixed
// quantity and each hedge's open quantity, then atomically inserts
// one PricingFixing, one HedgeLink per execution, and the hedge
// open-quantity updates. Any validation failure or commit conflict
// leaves every entity unchanged.
func (a *Allocator) Fix(ctx context.Context, req FixRequest) (*model.PricingFixing, error) {
	if err := req.Ref.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: fixing price must be positive", ErrInvalidInput)
	}
	if len(req.Allocations) == 0 {
		return nil, fmt.Errorf("%w: at least one allocation is required", ErrInvalidInput)
	}
	for _, item := range req.Allocations {
		if item.Quantity.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("%w: allocation for hedge %s must be positive", ErrInvalidInput, item.HedgeID)
		}
	}
	direction, err := DirectionFor(req.Side)
	if err != nil {
		return nil, err
	}

	resolved, err := a.resolver.Resolve(ctx, req.Ref)
	if err != nil {
		return nil, err
	}
	available, err := a.resolver.AvailableUnfixed(ctx, resolved)
	if err != nil {
		return nil, err
	}

	requested := decimal.Zero
	for _, item := range req.Allocations {
		requested = requested.Add(item.Quantity)
	}

	var violations []CapacityViolation
	if requested.GreaterThan(available) {
		violations = append(violations, CapacityViolation{
			Resource:  req.Ref.String(),
			Requested: requested,
			Available: available,
		})
	}

	// Validate every hedge before building any write.
	hedges := make(map[string]*model.HedgeExecution, len(req.Allocations))
	for _, item := range req.Allocations {
		h, err := a.store.GetHedgeExecution(ctx, item.HedgeID)
		if err != nil {
			return nil, err
		}
		if h.Commodity != resolved.Commodity {
			return nil, fmt.Errorf("%w: hedge %s commodity %s does not match reference commodity %s",
				ErrInvalidInput, h.ID, h.Commodity, resolved.Commodity)
		}
		if h.Direction != direction {
			return nil, fmt.Errorf("%w: hedge %s direction %s cannot cover %s-side exposure",
				ErrInvalidInput, h.ID, h.Direction, req.Side)
		}
		if item.Quantity.GreaterThan(h.OpenQuantity) {
			violations = append(violations, CapacityViolation{
				Resource:  "hedge:" + h.ID,
				Requested: item.Quantity,
				Available: h.OpenQuantity,
			})
		}
		hedges[item.HedgeID] = h
	}
	if len(violations) > 0 {
		return nil, &CapacityError{Violations: violations}
	}

	fixedAt := req.FixedAt
	if fixedAt.IsZero() {
		fixedAt = a.now()
	}
	fixing := &model.PricingFixing{
		ID:        a.newID(),
		RefLevel:  req.Ref.Level,
		RefID:     req.Ref.ID,
		Commodity: resolved.Commodity,
		Quantity:  requested,
		Price:     req.Price,
		Currency:  req.Currency,
		FixedAt:   fixedAt,
	}

	links := make([]model.HedgeLink, 0, len(req.Allocations))
	updates := make([]model.HedgeUpdate, 0, len(req.Allocations))
	for _, item := range req.Allocations {
		h := hedges[item.HedgeID]

		links = append(links, model.HedgeLink{
			ID:             a.newID(),
			FixingID:       fixing.ID,
			HedgeID:        h.ID,
			RefLevel:       req.Ref.Level,
			RefID:          req.Ref.ID,
			Quantity:       item.Quantity,
			Side:           req.Side,
			Direction:      h.Direction,
			ExecutionPrice: h.ExecutedPrice,
			FixingPrice:    req.Price,
			Commodity:      h.Commodity,
			CreatedAt:      fixedAt,
		})

		newOpen := h.OpenQuantity.Sub(item.Quantity)
		if newOpen.IsNegative() {
			newOpen = decimal.Zero
		}
		update := model.HedgeUpdate{
			HedgeID:  h.ID,
			PrevOpen: h.OpenQuantity,
			NewOpen:  newOpen,
			Status:   model.DeriveHedgeStatus(newOpen, h.TradeQuantity),
		}
		if newOpen.IsZero() {
			closedAt := fixedAt
			update.ClosedPrice = req.Price
			update.ClosedAt = &closedAt
		}
		updates = append(updates, update)
	}

	if err := a.store.CommitFixing(ctx, fixing, links, updates); err != nil {
		return nil, err
	}
	for _, u := range updates {
		if u.Status == model.HedgeClosed {
			metrics.HedgesClosed.Inc()
		}
	}
	return fixing, nil
}
