package match

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput is returned when a match request is rejected before
// any candidate is examined (missing commodity, non-positive target).
var ErrInvalidInput = errors.New("match: invalid input")

// LiquidityError reports that one side of the ticket pool cannot cover
// the requested quantity. Available is the total remaining quantity on
// the short side.
type LiquidityError struct {
	Side      string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *LiquidityError) Error() string {
	return fmt.Sprintf("match: insufficient %s liquidity: requested %s, available %s (short %s)",
		e.Side, e.Requested, e.Available, e.Requested.Sub(e.Available))
}

// Shortfall returns how much quantity the short side is missing.
func (e *LiquidityError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// MarginError reports that the selected allocations produce a
// non-positive margin; no order is created.
type MarginError struct {
	AvgBuy  decimal.Decimal
	AvgSell decimal.Decimal
}

func (e *MarginError) Error() string {
	return fmt.Sprintf("match: non-positive margin: avg buy %s >= avg sell %s", e.AvgBuy, e.AvgSell)
}
