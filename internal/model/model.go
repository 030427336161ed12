// Package model defines the core domain types shared across the hedge engine.
// All monetary values and quantities use shopspring/decimal — never float64
// for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of a physical trade ticket or exposure.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Pricing modes for tickets.
const (
	PricingFixed   = "fixed"   // stored signed price
	PricingFormula = "formula" // reference price × payable fraction
	PricingIndex   = "index"   // reference price + premium/discount
)

// Ticket statuses. Only approved tickets are eligible for matching.
const (
	TicketApproved = "approved"
	TicketDraft    = "draft"
	TicketMatched  = "matched"
)

// Hedge execution statuses, derived from open quantity.
const (
	HedgeOpen            = "open"
	HedgePartiallyClosed = "partially_closed"
	HedgeClosed          = "closed"
)

// Ticket is a standing offer to buy or sell a quantity of a commodity.
// RemainingQuantity is decremented only when an order consuming the
// ticket is persisted, never by the optimizer itself.
type Ticket struct {
	ID                string          `json:"id" db:"id"`
	Side              string          `json:"side" db:"side"` // "buy" or "sell"
	Commodity         string          `json:"commodity" db:"commodity"`
	TotalQuantity     decimal.Decimal `json:"total_quantity" db:"total_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity" db:"remaining_quantity"`
	PricingMode       string          `json:"pricing_mode" db:"pricing_mode"`
	FixedPrice        decimal.Decimal `json:"fixed_price" db:"fixed_price"`
	ReferencePrice    decimal.Decimal `json:"reference_price" db:"reference_price"`
	PayablePercent    decimal.Decimal `json:"payable_percent" db:"payable_percent"` // fraction or percentage
	Premium           decimal.Decimal `json:"premium" db:"premium"`                 // signed premium/discount
	Status            string          `json:"status" db:"status"`
	Incoterms         string          `json:"incoterms" db:"incoterms"`
	ShipFrom          string          `json:"ship_from" db:"ship_from"`
	ShipTo            string          `json:"ship_to" db:"ship_to"`
	ProductForm       string          `json:"product_form" db:"product_form"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// Allocation records how much of one ticket an order consumed, and at
// what computed unit price.
type Allocation struct {
	TicketID  string          `json:"ticket_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Order is the result of matching buy tickets against sell tickets for
// a fixed quantity. Orders are created once by the optimizer and are
// read-only afterwards.
type Order struct {
	ID              string          `json:"id" db:"id"`
	OrderNo         string          `json:"order_no" db:"order_no"` // short numeric, optimizer-assigned
	Commodity       string          `json:"commodity" db:"commodity"`
	Quantity        decimal.Decimal `json:"quantity" db:"quantity"`
	BuyAllocations  []Allocation    `json:"buy_allocations"`
	SellAllocations []Allocation    `json:"sell_allocations"`
	AvgBuyPrice     decimal.Decimal `json:"avg_buy_price" db:"avg_buy_price"`
	AvgSellPrice    decimal.Decimal `json:"avg_sell_price" db:"avg_sell_price"`
	Margin          decimal.Decimal `json:"margin" db:"margin"` // (avgSell - avgBuy) / avgBuy
	Status          string          `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Shipment is a physical delivery under an order. Shipments carry part
// of the order's quantity and can be priced/fixed independently.
type Shipment struct {
	ID        string          `json:"id" db:"id"`
	OrderID   string          `json:"order_id" db:"order_id"`
	Commodity string          `json:"commodity" db:"commodity"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// HedgeExecution is a financial trade taken to hedge physical exposure.
// OpenQuantity is the portion not yet consumed by any fixing; status is
// a pure function of it (see DeriveHedgeStatus).
type HedgeExecution struct {
	ID            string          `json:"id" db:"id"`
	Direction     string          `json:"direction" db:"direction"` // "buy" or "sell"
	Commodity     string          `json:"commodity" db:"commodity"`
	TradeQuantity decimal.Decimal `json:"trade_quantity" db:"trade_quantity"`
	OpenQuantity  decimal.Decimal `json:"open_quantity" db:"open_quantity"`
	ExecutedPrice decimal.Decimal `json:"executed_price" db:"executed_price"`
	Broker        string          `json:"broker" db:"broker"`
	ExecutedAt    time.Time       `json:"executed_at" db:"executed_at"`
	Status        string          `json:"status" db:"status"`
	ClosedPrice   decimal.Decimal `json:"closed_price" db:"closed_price"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
	// Optional physical scope: the order or shipment this execution
	// was taken against. Empty level means unscoped.
	RefLevel string `json:"ref_level,omitempty" db:"ref_level"`
	RefID    string `json:"ref_id,omitempty" db:"ref_id"`
}

// DeriveHedgeStatus returns the status implied by open vs trade quantity.
func DeriveHedgeStatus(open, trade decimal.Decimal) string {
	switch {
	case open.IsZero():
		return HedgeClosed
	case open.Equal(trade):
		return HedgeOpen
	default:
		return HedgePartiallyClosed
	}
}

// PricingFixing is an immutable record that a physical reference had a
// quantity priced at a price on a date. Soft-deleted fixings are
// excluded from all remaining-quantity sums.
type PricingFixing struct {
	ID        string          `json:"id" db:"id"`
	RefLevel  string          `json:"ref_level" db:"ref_level"`
	RefID     string          `json:"ref_id" db:"ref_id"`
	Commodity string          `json:"commodity" db:"commodity"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Currency  string          `json:"currency" db:"currency"`
	FixedAt   time.Time       `json:"fixed_at" db:"fixed_at"`
	Deleted   bool            `json:"deleted" db:"deleted"`
}

// HedgeLink joins a PricingFixing to one hedge execution it consumed.
// Links are created only inside the transaction that updates the
// execution's open quantity, and are never mutated.
type HedgeLink struct {
	ID             string          `json:"id" db:"id"`
	FixingID       string          `json:"fixing_id" db:"fixing_id"`
	HedgeID        string          `json:"hedge_id" db:"hedge_id"`
	RefLevel       string          `json:"ref_level" db:"ref_level"`
	RefID          string          `json:"ref_id" db:"ref_id"`
	Quantity       decimal.Decimal `json:"quantity" db:"quantity"`
	Side           string          `json:"side" db:"side"`           // physical side being hedged
	Direction      string          `json:"direction" db:"direction"` // hedge direction at allocation time
	ExecutionPrice decimal.Decimal `json:"execution_price" db:"execution_price"`
	FixingPrice    decimal.Decimal `json:"fixing_price" db:"fixing_price"`
	Commodity      string          `json:"commodity" db:"commodity"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// HedgeUpdate carries the open-quantity transition the allocation
// engine computed for one execution, applied atomically with the
// fixing and link inserts. PrevOpen is the open quantity observed at
// validation time; the store rejects the commit if the row has moved.
type HedgeUpdate struct {
	HedgeID     string          `json:"hedge_id"`
	PrevOpen    decimal.Decimal `json:"prev_open"`
	NewOpen     decimal.Decimal `json:"new_open"`
	Status      string          `json:"status"`
	ClosedPrice decimal.Decimal `json:"closed_price"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
}

// Net position states reported by the exposure aggregator.
const (
	PositionLong  = "long"
	PositionShort = "short"
	PositionFlat  = "flat"
)

// NetPosition is the read-time aggregate of hedge cover for an order
// and its child shipments.
type NetPosition struct {
	State    string          `json:"state"`
	Quantity decimal.Decimal `json:"quantity"` // magnitude, zero when flat
}
