package hedge

import (
	"context"
	"fmt"

	"github.com/metaldesk/hedge-engine/internal/model"
	"github.com/metaldesk/hedge-engine/internal/store"
)

// DirectionFor returns the eligible hedge direction for a physical
// side: a sell-side physical exposure is hedged by buy-direction
// executions and vice versa.
func DirectionFor(physicalSide string) (string, error) {
	switch physicalSide {
	case model.SideSell:
		return model.SideBuy, nil
	case model.SideBuy:
		return model.SideSell, nil
	default:
		return "", fmt.Errorf("%w: unknown physical side %q", ErrInvalidInput, physicalSide)
	}
}

// Eligibility resolves which hedge executions may be allocated against
// a physical exposure.
type Eligibility struct {
	store    store.Store
	resolver *RefResolver
}

// NewEligibility creates an eligibility resolver.
func NewEligibility(st store.Store, resolver *RefResolver) *Eligibility {
	return &Eligibility{store: st, resolver: resolver}
}

// EligibleHedges returns open or partially closed executions of the
// opposite direction for the commodity, each carrying its current open
// quantity. With a scope, an execution qualifies only if its own
// physical reference traces back — directly or through the shipment →
// order hierarchy — to the scope; pass a nil scope for the unscoped
// view.
func (e *Eligibility) EligibleHedges(ctx context.Context, commodity, physicalSide string, scope *model.PhysicalRef) ([]model.HedgeExecution, error) {
	if commodity == "" {
		return nil, fmt.Errorf("%w: commodity is required", ErrInvalidInput)
	}
	direction, err := DirectionFor(physicalSide)
	if err != nil {
		return nil, err
	}

	candidates, err := e.store.ListOpenHedges(ctx, commodity, direction)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		return candidates, nil
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var eligible []model.HedgeExecution
	for _, h := range candidates {
		ok, err := e.tracesTo(ctx, h, *scope)
		if err != nil {
			return nil, err
		}
		if ok {
			eligible = append(eligible, h)
		}
	}
	return eligible, nil
}

// tracesTo reports whether the execution's physical reference equals
// the scope or reaches it by walking parent references upward.
func (e *Eligibility) tracesTo(ctx context.Context, h model.HedgeExecution, scope model.PhysicalRef) (bool, error) {
	if h.RefLevel == "" {
		return false, nil
	}
	ref := model.PhysicalRef{Level: h.RefLevel, ID: h.RefID}
	for {
		if ref == scope {
			return true, nil
		}
		resolved, err := e.resolver.Resolve(ctx, ref)
		if err != nil {
			return false, err
		}
		if resolved.Parent == nil {
			return false, nil
		}
		ref = *resolved.Parent
	}
}
