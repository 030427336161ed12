package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/metaldesk/hedge-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	tickets   map[string]*model.Ticket
	orders    map[string]*model.Order
	shipments map[string]*model.Shipment
	hedges    map[string]*model.HedgeExecution
	fixings   map[string]*model.PricingFixing
	links     []model.HedgeLink

	seq int // insertion counter for stable list ordering
	ord map[string]int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:   make(map[string]*model.Ticket),
		orders:    make(map[string]*model.Order),
		shipments: make(map[string]*model.Shipment),
		hedges:    make(map[string]*model.HedgeExecution),
		fixings:   make(map[string]*model.PricingFixing),
		ord:       make(map[string]int),
	}
}

func (s *MemoryStore) track(id string) {
	s.seq++
	s.ord[id] = s.seq
}

// --- Tickets ---

func (s *MemoryStore) CreateTicket(_ context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if _, exists := s.tickets[t.ID]; exists {
		return fmt.Errorf("ticket %s already exists", t.ID)
	}
	cp := *t
	s.tickets[t.ID] = &cp
	s.track(t.ID)
	return nil
}

func (s *MemoryStore) GetTicket(_ context.Context, id string) (*model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListApprovedTickets(_ context.Context, commodity, side string) ([]model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Ticket
	for _, t := range s.tickets {
		if t.Status == model.TicketApproved && t.Commodity == commodity && t.Side == side {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return s.ord[result[i].ID] < s.ord[result[j].ID]
	})
	return result, nil
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order, consumptions []TicketConsumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	for _, other := range s.orders {
		if other.OrderNo == o.OrderNo {
			return fmt.Errorf("order no %s already exists", o.OrderNo)
		}
	}

	// Re-validate every consumption before touching anything.
	for _, c := range consumptions {
		t, ok := s.tickets[c.TicketID]
		if !ok {
			return fmt.Errorf("ticket %s: %w", c.TicketID, ErrNotFound)
		}
		if t.RemainingQuantity.LessThan(c.Quantity) {
			return fmt.Errorf("ticket %s remaining %s < consumption %s: %w",
				c.TicketID, t.RemainingQuantity, c.Quantity, ErrConflict)
		}
	}

	for _, c := range consumptions {
		t := s.tickets[c.TicketID]
		t.RemainingQuantity = t.RemainingQuantity.Sub(c.Quantity)
	}
	cp := *o
	s.orders[o.ID] = &cp
	s.track(o.ID)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool {
		return s.ord[orders[i].ID] > s.ord[orders[j].ID]
	})
	return orders, nil
}

// --- Shipments ---

func (s *MemoryStore) CreateShipment(_ context.Context, sh *model.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sh.ID == "" {
		sh.ID = uuid.New().String()
	}
	if _, ok := s.orders[sh.OrderID]; !ok {
		return fmt.Errorf("order %s: %w", sh.OrderID, ErrNotFound)
	}
	cp := *sh
	s.shipments[sh.ID] = &cp
	s.track(sh.ID)
	return nil
}

func (s *MemoryStore) GetShipment(_ context.Context, id string) (*model.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.shipments[id]
	if !ok {
		return nil, fmt.Errorf("shipment %s: %w", id, ErrNotFound)
	}
	cp := *sh
	return &cp, nil
}

func (s *MemoryStore) ListShipmentsByOrder(_ context.Context, orderID string) ([]model.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Shipment
	for _, sh := range s.shipments {
		if sh.OrderID == orderID {
			result = append(result, *sh)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return s.ord[result[i].ID] < s.ord[result[j].ID]
	})
	return result, nil
}

// --- Hedge executions ---

func (s *MemoryStore) CreateHedgeExecution(_ context.Context, h *model.HedgeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if _, exists := s.hedges[h.ID]; exists {
		return fmt.Errorf("hedge execution %s already exists", h.ID)
	}
	cp := *h
	s.hedges[h.ID] = &cp
	s.track(h.ID)
	return nil
}

func (s *MemoryStore) GetHedgeExecution(_ context.Context, id string) (*model.HedgeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.hedges[id]
	if !ok {
		return nil, fmt.Errorf("hedge execution %s: %w", id, ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) ListOpenHedges(_ context.Context, commodity, direction string) ([]model.HedgeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.HedgeExecution
	for _, h := range s.hedges {
		if h.Commodity != commodity || h.Direction != direction {
			continue
		}
		if h.Status != model.HedgeOpen && h.Status != model.HedgePartiallyClosed {
			continue
		}
		result = append(result, *h)
	}
	sort.Slice(result, func(i, j int) bool {
		return s.ord[result[i].ID] < s.ord[result[j].ID]
	})
	return result, nil
}

// --- Fixings and links ---

func (s *MemoryStore) ListFixings(_ context.Context, ref model.PhysicalRef) ([]model.PricingFixing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listFixingsLocked(ref), nil
}

func (s *MemoryStore) listFixingsLocked(ref model.PhysicalRef) []model.PricingFixing {
	var result []model.PricingFixing
	for _, f := range s.fixings {
		if !f.Deleted && f.RefLevel == ref.Level && f.RefID == ref.ID {
			result = append(result, *f)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return s.ord[result[i].ID] < s.ord[result[j].ID]
	})
	return result
}

func (s *MemoryStore) SoftDeleteFixing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.fixings[id]
	if !ok {
		return fmt.Errorf("fixing %s: %w", id, ErrNotFound)
	}
	f.Deleted = true
	return nil
}

// refTotalQuantityLocked returns the total physical quantity of the
// referenced order, shipment, or ticket.
func (s *MemoryStore) refTotalQuantityLocked(level, id string) (decimal.Decimal, error) {
	switch level {
	case model.LevelOrder:
		if o, ok := s.orders[id]; ok {
			return o.Quantity, nil
		}
	case model.LevelShipment:
		if sh, ok := s.shipments[id]; ok {
			return sh.Quantity, nil
		}
	case model.LevelTicket:
		if t, ok := s.tickets[id]; ok {
			return t.TotalQuantity, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%s %s: %w", level, id, ErrNotFound)
}

func (s *MemoryStore) CommitFixing(_ context.Context, f *model.PricingFixing, links []model.HedgeLink, updates []model.HedgeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if _, exists := s.fixings[f.ID]; exists {
		return fmt.Errorf("fixing %s already exists", f.ID)
	}

	// Re-validate the per-reference fixed-quantity sum.
	total, err := s.refTotalQuantityLocked(f.RefLevel, f.RefID)
	if err != nil {
		return err
	}
	fixed := decimal.Zero
	for _, prior := range s.listFixingsLocked(model.PhysicalRef{Level: f.RefLevel, ID: f.RefID}) {
		fixed = fixed.Add(prior.Quantity)
	}
	if fixed.Add(f.Quantity).GreaterThan(total) {
		return fmt.Errorf("fixing %s for %s:%s exceeds unfixed quantity (%s fixed of %s): %w",
			f.Quantity, f.RefLevel, f.RefID, fixed, total, ErrConflict)
	}

	// Re-validate every hedge row against the open quantity observed
	// at validation time.
	for _, u := range updates {
		h, ok := s.hedges[u.HedgeID]
		if !ok {
			return fmt.Errorf("hedge execution %s: %w", u.HedgeID, ErrNotFound)
		}
		if !h.OpenQuantity.Equal(u.PrevOpen) {
			return fmt.Errorf("hedge execution %s open quantity moved from %s to %s: %w",
				u.HedgeID, u.PrevOpen, h.OpenQuantity, ErrConflict)
		}
	}

	// All checks passed: apply every write.
	cp := *f
	s.fixings[f.ID] = &cp
	s.track(f.ID)
	for i := range links {
		if links[i].ID == "" {
			links[i].ID = uuid.New().String()
		}
		links[i].FixingID = f.ID
		s.links = append(s.links, links[i])
	}
	for _, u := range updates {
		h := s.hedges[u.HedgeID]
		h.OpenQuantity = u.NewOpen
		h.Status = u.Status
		if u.ClosedAt != nil {
			h.ClosedPrice = u.ClosedPrice
			closedAt := *u.ClosedAt
			h.ClosedAt = &closedAt
		}
	}
	return nil
}

func (s *MemoryStore) ListHedgeLinks(_ context.Context, refs []model.PhysicalRef) ([]model.HedgeLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(refs))
	for _, r := range refs {
		want[r.String()] = true
	}
	var result []model.HedgeLink
	for _, l := range s.links {
		if want[l.RefLevel+":"+l.RefID] {
			result = append(result, l)
		}
	}
	return result, nil
}
