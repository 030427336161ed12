package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metaldesk/hedge-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache for entity-by-ID reads. Every commit path
// (CreateOrder, CommitFixing, SoftDeleteFixing) invalidates the keys
// it may have changed; aggregation reads (fixings, links, candidate
// pools) always go to the primary so remaining-quantity sums are
// never served stale.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	if err := s.primary.CreateTicket(ctx, t); err != nil {
		return err
	}
	s.cache(ctx, ticketKey(t.ID), t)
	return nil
}

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order, consumptions []TicketConsumption) error {
	if err := s.primary.CreateOrder(ctx, o, consumptions); err != nil {
		return err
	}
	// Consumed tickets changed remaining quantity; drop their keys.
	for _, c := range consumptions {
		s.rdb.Del(ctx, ticketKey(c.TicketID))
	}
	s.cache(ctx, orderKey(o.ID), o)
	return nil
}

func (s *CachedStore) CreateShipment(ctx context.Context, sh *model.Shipment) error {
	return s.primary.CreateShipment(ctx, sh)
}

func (s *CachedStore) CreateHedgeExecution(ctx context.Context, h *model.HedgeExecution) error {
	if err := s.primary.CreateHedgeExecution(ctx, h); err != nil {
		return err
	}
	s.cache(ctx, hedgeKey(h.ID), h)
	return nil
}

func (s *CachedStore) CommitFixing(ctx context.Context, f *model.PricingFixing, links []model.HedgeLink, updates []model.HedgeUpdate) error {
	if err := s.primary.CommitFixing(ctx, f, links, updates); err != nil {
		return err
	}
	// Every updated hedge row is stale; next read re-populates.
	for _, u := range updates {
		s.rdb.Del(ctx, hedgeKey(u.HedgeID))
	}
	return nil
}

func (s *CachedStore) SoftDeleteFixing(ctx context.Context, id string) error {
	return s.primary.SoftDeleteFixing(ctx, id)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	var t model.Ticket
	if s.lookup(ctx, ticketKey(id), &t) {
		return &t, nil
	}
	fresh, err := s.primary.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, ticketKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	if s.lookup(ctx, orderKey(id), &o) {
		return &o, nil
	}
	fresh, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, orderKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) GetHedgeExecution(ctx context.Context, id string) (*model.HedgeExecution, error) {
	var h model.HedgeExecution
	if s.lookup(ctx, hedgeKey(id), &h) {
		return &h, nil
	}
	fresh, err := s.primary.GetHedgeExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, hedgeKey(id), fresh)
	return fresh, nil
}

// --- Passthrough (not cached: quantity sums must be live) ---

func (s *CachedStore) ListApprovedTickets(ctx context.Context, commodity, side string) ([]model.Ticket, error) {
	return s.primary.ListApprovedTickets(ctx, commodity, side)
}

func (s *CachedStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	return s.primary.ListOrders(ctx)
}

func (s *CachedStore) GetShipment(ctx context.Context, id string) (*model.Shipment, error) {
	return s.primary.GetShipment(ctx, id)
}

func (s *CachedStore) ListShipmentsByOrder(ctx context.Context, orderID string) ([]model.Shipment, error) {
	return s.primary.ListShipmentsByOrder(ctx, orderID)
}

func (s *CachedStore) ListOpenHedges(ctx context.Context, commodity, direction string) ([]model.HedgeExecution, error) {
	return s.primary.ListOpenHedges(ctx, commodity, direction)
}

func (s *CachedStore) ListFixings(ctx context.Context, ref model.PhysicalRef) ([]model.PricingFixing, error) {
	return s.primary.ListFixings(ctx, ref)
}

func (s *CachedStore) ListHedgeLinks(ctx context.Context, refs []model.PhysicalRef) ([]model.HedgeLink, error) {
	return s.primary.ListHedgeLinks(ctx, refs)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) lookup(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func ticketKey(id string) string { return fmt.Sprintf("ticket:%s", id) }
func orderKey(id string) string  { return fmt.Sprintf("order:%s", id) }
func hedgeKey(id string) string  { return fmt.Sprintf("hedge:%s", id) }
