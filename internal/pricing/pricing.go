// Package pricing computes per-ticket unit prices from a ticket's
// pricing mode and mode-specific inputs.
//
// The calculator is stateless and pure: ticket fields go in, a decimal
// unit price comes out. All values use shopspring/decimal — never
// float64 for money.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/metaldesk/hedge-engine/internal/model"
)

// Policy controls how missing pricing inputs are handled.
type Policy string

const (
	// PolicyLenient yields a zero price when required inputs are
	// missing. Mirrors the historical back-office behaviour.
	PolicyLenient Policy = "lenient"

	// PolicyStrict returns ErrUnpriceable when required inputs are
	// missing, so a zero price can never leak into margin math.
	PolicyStrict Policy = "strict"
)

var (
	// ErrUnpriceable is returned under PolicyStrict when a ticket's
	// selected mode is missing a required input.
	ErrUnpriceable = errors.New("pricing: missing required input for pricing mode")

	// ErrUnknownMode is returned for a pricing mode the calculator
	// does not recognise.
	ErrUnknownMode = errors.New("pricing: unknown pricing mode")
)

// payableThreshold separates fractions from percentages: a payable
// value above 1.5 is treated as a percentage and divided by 100.
var payableThreshold = decimal.NewFromFloat(1.5)

var oneHundred = decimal.NewFromInt(100)

// Calculator computes unit prices for tickets.
type Calculator struct {
	policy Policy
}

// NewCalculator returns a calculator with the given missing-input
// policy. An empty policy defaults to lenient.
func NewCalculator(policy Policy) *Calculator {
	if policy == "" {
		policy = PolicyLenient
	}
	return &Calculator{policy: policy}
}

// Policy returns the calculator's missing-input policy.
func (c *Calculator) Policy() Policy {
	return c.policy
}

// UnitPrice returns the unit price for a ticket according to its
// pricing mode:
//
//	fixed   → the stored signed price
//	formula → reference price × payable fraction (normalised)
//	index   → reference price + premium/discount (signed)
//
// Under PolicyLenient, missing inputs yield a zero price and nil
// error. Under PolicyStrict they yield ErrUnpriceable.
func (c *Calculator) UnitPrice(t model.Ticket) (decimal.Decimal, error) {
	switch t.PricingMode {
	case model.PricingFixed:
		if t.FixedPrice.IsZero() {
			return c.missing("fixed price")
		}
		return t.FixedPrice, nil

	case model.PricingFormula:
		if t.ReferencePrice.IsZero() || t.PayablePercent.IsZero() {
			return c.missing("reference price or payable percent")
		}
		payable := t.PayablePercent
		if payable.GreaterThan(payableThreshold) {
			payable = payable.Div(oneHundred)
		}
		return t.ReferencePrice.Mul(payable), nil

	case model.PricingIndex:
		if t.ReferencePrice.IsZero() {
			return c.missing("reference price")
		}
		return t.ReferencePrice.Add(t.Premium), nil

	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownMode, t.PricingMode)
	}
}

func (c *Calculator) missing(field string) (decimal.Decimal, error) {
	if c.policy == PolicyStrict {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnpriceable, field)
	}
	return decimal.Zero, nil
}
