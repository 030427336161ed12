// Package store defines the persistence interface for the hedge engine.
// Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/metaldesk/hedge-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a commit's re-validation detects
	// that a contended resource (hedge open quantity, per-reference
	// fixed-quantity sum, ticket remaining quantity) changed since it
	// was read. Retryable; nothing is persisted.
	ErrConflict = errors.New("store: concurrent modification detected")
)

// TicketConsumption records how much of one ticket an order commit
// must decrement.
type TicketConsumption struct {
	TicketID string
	Quantity decimal.Decimal
}

// Store is the persistence interface. PostgreSQL is the source of
// truth; Redis provides a read-through cache layer. CreateOrder and
// CommitFixing are atomic: every write applies or none does, and both
// re-validate the contended quantities inside the transaction.
type Store interface {
	// --- Tickets ---

	// CreateTicket persists a new ticket.
	CreateTicket(ctx context.Context, t *model.Ticket) error

	// GetTicket retrieves a ticket by ID.
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)

	// ListApprovedTickets returns approved tickets for a commodity and
	// side, in creation order.
	ListApprovedTickets(ctx context.Context, commodity, side string) ([]model.Ticket, error)

	// --- Orders ---

	// CreateOrder persists an order and decrements the remaining
	// quantity of every consumed ticket in the same transaction.
	// Returns ErrConflict if any ticket's remaining quantity no longer
	// covers its consumption.
	CreateOrder(ctx context.Context, o *model.Order, consumptions []TicketConsumption) error

	// GetOrder retrieves an order by ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrders returns all orders, newest first.
	ListOrders(ctx context.Context) ([]model.Order, error)

	// --- Shipments ---

	// CreateShipment persists a shipment under an order.
	CreateShipment(ctx context.Context, s *model.Shipment) error

	// GetShipment retrieves a shipment by ID.
	GetShipment(ctx context.Context, id string) (*model.Shipment, error)

	// ListShipmentsByOrder returns the shipments under an order.
	ListShipmentsByOrder(ctx context.Context, orderID string) ([]model.Shipment, error)

	// --- Hedge executions ---

	// CreateHedgeExecution persists a new execution
	// (open quantity = trade quantity, status open).
	CreateHedgeExecution(ctx context.Context, h *model.HedgeExecution) error

	// GetHedgeExecution retrieves an execution by ID.
	GetHedgeExecution(ctx context.Context, id string) (*model.HedgeExecution, error)

	// ListOpenHedges returns executions with status open or
	// partially_closed for a commodity and direction, oldest first.
	ListOpenHedges(ctx context.Context, commodity, direction string) ([]model.HedgeExecution, error)

	// --- Fixings and links ---

	// ListFixings returns all non-deleted fixings for a physical
	// reference.
	ListFixings(ctx context.Context, ref model.PhysicalRef) ([]model.PricingFixing, error)

	// SoftDeleteFixing marks a fixing deleted. Deleted fixings are
	// excluded from all remaining-quantity sums.
	SoftDeleteFixing(ctx context.Context, id string) error

	// CommitFixing atomically inserts one fixing, its hedge links, and
	// applies the hedge open-quantity updates. Inside the transaction
	// it re-validates each update's PrevOpen against the current row
	// and the per-reference fixed-quantity sum against the reference's
	// total quantity, returning ErrConflict if either moved.
	CommitFixing(ctx context.Context, f *model.PricingFixing, links []model.HedgeLink, updates []model.HedgeUpdate) error

	// ListHedgeLinks returns all links addressed to any of the given
	// physical references.
	ListHedgeLinks(ctx context.Context, refs []model.PhysicalRef) ([]model.HedgeLink, error)
}
