package pricing_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/metaldesk/hedge-engine/internal/model"
	"github.com/metaldesk/hedge-engine/internal/pricing"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestUnitPrice_Lenient(t *testing.T) {
	calc := pricing.NewCalculator(pricing.PolicyLenient)

	tests := []struct {
		name   string
		ticket model.Ticket
		want   decimal.Decimal
	}{
		{
			name:   "fixed price",
			ticket: model.Ticket{PricingMode: model.PricingFixed, FixedPrice: d(520)},
			want:   d(520),
		},
		{
			name: "formula with fraction payable",
			ticket: model.Ticket{
				PricingMode:    model.PricingFormula,
				ReferencePrice: d(1000),
				PayablePercent: d(0.97),
			},
			want: d(970),
		},
		{
			name: "formula with percentage payable above threshold",
			ticket: model.Ticket{
				PricingMode:    model.PricingFormula,
				ReferencePrice: d(1000),
				PayablePercent: d(97), // treated as 97%
			},
			want: d(970),
		},
		{
			name: "formula payable exactly at threshold stays a fraction",
			ticket: model.Ticket{
				PricingMode:    model.PricingFormula,
				ReferencePrice: d(100),
				PayablePercent: d(1.5),
			},
			want: d(150),
		},
		{
			name: "index with positive premium",
			ticket: model.Ticket{
				PricingMode:    model.PricingIndex,
				ReferencePrice: d(500),
				Premium:        d(12.5),
			},
			want: d(512.5),
		},
		{
			name: "index with discount",
			ticket: model.Ticket{
				PricingMode:    model.PricingIndex,
				ReferencePrice: d(500),
				Premium:        d(-20),
			},
			want: d(480),
		},
		{
			name:   "fixed missing price yields zero",
			ticket: model.Ticket{PricingMode: model.PricingFixed},
			want:   decimal.Zero,
		},
		{
			name: "formula missing payable yields zero",
			ticket: model.Ticket{
				PricingMode:    model.PricingFormula,
				ReferencePrice: d(1000),
			},
			want: decimal.Zero,
		},
		{
			name:   "index missing reference yields zero",
			ticket: model.Ticket{PricingMode: model.PricingIndex, Premium: d(10)},
			want:   decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.UnitPrice(tt.ticket)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestUnitPrice_StrictRejectsMissingInputs(t *testing.T) {
	calc := pricing.NewCalculator(pricing.PolicyStrict)

	tickets := []model.Ticket{
		{PricingMode: model.PricingFixed},
		{PricingMode: model.PricingFormula, ReferencePrice: d(1000)},
		{PricingMode: model.PricingFormula, PayablePercent: d(0.97)},
		{PricingMode: model.PricingIndex, Premium: d(10)},
	}

	for _, ticket := range tickets {
		if _, err := calc.UnitPrice(ticket); !errors.Is(err, pricing.ErrUnpriceable) {
			t.Errorf("mode %s: expected ErrUnpriceable, got %v", ticket.PricingMode, err)
		}
	}
}

func TestUnitPrice_UnknownMode(t *testing.T) {
	calc := pricing.NewCalculator(pricing.PolicyLenient)

	if _, err := calc.UnitPrice(model.Ticket{PricingMode: "provisional"}); !errors.Is(err, pricing.ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
}

func TestNewCalculator_DefaultsToLenient(t *testing.T) {
	calc := pricing.NewCalculator("")
	if calc.Policy() != pricing.PolicyLenient {
		t.Errorf("expected lenient default, got %s", calc.Policy())
	}
}
