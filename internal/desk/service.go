// Package desk provides the HTTP handlers and request wiring for the
// matching and allocation engine: ticket intake, order matching, hedge
// allocation and price fixing, and exposure queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package desk

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/metaldesk/hedge-engine/internal/exposure"
	"github.com/metaldesk/hedge-engine/internal/hedge"
	"github.com/metaldesk/hedge-engine/internal/match"
	"github.com/metaldesk/hedge-engine/internal/metrics"
	"github.com/metaldesk/hedge-engine/internal/model"
	"github.com/metaldesk/hedge-engine/internal/pricing"
	"github.com/metaldesk/hedge-engine/internal/store"
)

// Service handles desk operations. Matching and fixing are serialized
// with a mutex (single-instance); the store re-validates contended
// quantities inside each commit transaction, so a second instance
// surfaces overlap as a retryable conflict instead of corrupting state.
type Service struct {
	store       store.Store
	matcher     match.Matcher
	eligibility *hedge.Eligibility
	allocator   *hedge.Allocator
	aggregator  *exposure.Aggregator
	wsHub       *WSHub // optional WebSocket hub for dashboard broadcasts
	mu          sync.Mutex
}

// NewService creates a desk service over the given store and pricing
// policy. Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, policy pricing.Policy, hub *WSHub) *Service {
	resolver := hedge.NewRefResolver(st)
	return &Service{
		store:       st,
		matcher:     match.NewGreedy(pricing.NewCalculator(policy)),
		eligibility: hedge.NewEligibility(st, resolver),
		allocator:   hedge.NewAllocator(st, resolver),
		aggregator:  exposure.NewAggregator(st),
		wsHub:       hub,
	}
}

// --- Request types ---

// CreateTicketRequest is the JSON body for POST /tickets.
type CreateTicketRequest struct {
	Side           string          `json:"side"`
	Commodity      string          `json:"commodity"`
	TotalQuantity  decimal.Decimal `json:"total_quantity"`
	PricingMode    string          `json:"pricing_mode"`
	FixedPrice     decimal.Decimal `json:"fixed_price"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	PayablePercent decimal.Decimal `json:"payable_percent"`
	Premium        decimal.Decimal `json:"premium"`
	Incoterms      string          `json:"incoterms"`
	ShipFrom       string          `json:"ship_from"`
	ShipTo         string          `json:"ship_to"`
	ProductForm    string          `json:"product_form"`
}

// MatchRequest is the JSON body for POST /orders/match.
type MatchRequest struct {
	Commodity string          `json:"commodity"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// CreateShipmentRequest is the JSON body for POST /orders/{orderID}/shipments.
type CreateShipmentRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

// CreateHedgeRequest is the JSON body for POST /hedges.
type CreateHedgeRequest struct {
	Direction     string          `json:"direction"`
	Commodity     string          `json:"commodity"`
	TradeQuantity decimal.Decimal `json:"trade_quantity"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	Broker        string          `json:"broker"`
	ExecutedAt    time.Time       `json:"executed_at"`
	Ref           string          `json:"ref,omitempty"` // optional "{level}:{id}" physical scope
}

// FixRequest is the JSON body for POST /fixings.
type FixRequest struct {
	Ref         string                 `json:"ref"` // "{level}:{id}"
	Side        string                 `json:"side"`
	Allocations []hedge.AllocationItem `json:"allocations"`
	Price       decimal.Decimal        `json:"price"`
	Currency    string                 `json:"currency"`
	FixedAt     time.Time              `json:"fixed_at"`
}

// --- Ticket handlers ---

// CreateTicket handles POST /api/v1/tickets.
func (s *Service) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var req CreateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Side != model.SideBuy && req.Side != model.SideSell {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	if req.Commodity == "" {
		writeError(w, "commodity is required", http.StatusBadRequest)
		return
	}
	if req.TotalQuantity.LessThanOrEqual(decimal.Zero) {
		writeError(w, "total_quantity must be positive", http.StatusBadRequest)
		return
	}
	switch req.PricingMode {
	case model.PricingFixed, model.PricingFormula, model.PricingIndex:
	default:
		writeError(w, "pricing_mode must be fixed, formula, or index", http.StatusBadRequest)
		return
	}

	ticket := &model.Ticket{
		Side:              req.Side,
		Commodity:         req.Commodity,
		TotalQuantity:     req.TotalQuantity,
		RemainingQuantity: req.TotalQuantity,
		PricingMode:       req.PricingMode,
		FixedPrice:        req.FixedPrice,
		ReferencePrice:    req.ReferencePrice,
		PayablePercent:    req.PayablePercent,
		Premium:           req.Premium,
		Status:            model.TicketApproved,
		Incoterms:         req.Incoterms,
		ShipFrom:          req.ShipFrom,
		ShipTo:            req.ShipTo,
		ProductForm:       req.ProductForm,
		CreatedAt:         time.Now().UTC(),
	}

	if err := s.store.CreateTicket(r.Context(), ticket); err != nil {
		s.writeStoreError(w, err)
		return
	}

	slog.Info("ticket created",
		"id", ticket.ID,
		"side", ticket.Side,
		"commodity", ticket.Commodity,
		"quantity", ticket.TotalQuantity.String(),
		"pricing_mode", ticket.PricingMode,
	)

	writeJSON(w, http.StatusCreated, ticket)
}

// ListTickets handles GET /api/v1/tickets?commodity=X&side=buy.
func (s *Service) ListTickets(w http.ResponseWriter, r *http.Request) {
	commodity := r.URL.Query().Get("commodity")
	side := r.URL.Query().Get("side")
	if commodity == "" || (side != model.SideBuy && side != model.SideSell) {
		writeError(w, "commodity and side (buy|sell) are required", http.StatusBadRequest)
		return
	}

	tickets, err := s.store.ListApprovedTickets(r.Context(), commodity, side)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

// --- Order handlers ---

// MatchOrder handles POST /api/v1/orders/match.
// Runs the greedy optimizer over the approved ticket pools and
// persists the resulting order, consuming ticket remaining quantity.
func (s *Service) MatchOrder(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Serialize match-and-persist.
	s.mu.Lock()
	defer s.mu.Unlock()

	buys, err := s.store.ListApprovedTickets(ctx, req.Commodity, model.SideBuy)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	sells, err := s.store.ListApprovedTickets(ctx, req.Commodity, model.SideSell)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	order, err := s.matcher.Match(req.Commodity, req.Quantity, buys, sells)
	if err != nil {
		s.writeMatchError(w, err)
		return
	}

	consumptions := make([]store.TicketConsumption, 0, len(order.BuyAllocations)+len(order.SellAllocations))
	for _, a := range order.BuyAllocations {
		consumptions = append(consumptions, store.TicketConsumption{TicketID: a.TicketID, Quantity: a.Quantity})
	}
	for _, a := range order.SellAllocations {
		consumptions = append(consumptions, store.TicketConsumption{TicketID: a.TicketID, Quantity: a.Quantity})
	}

	if err := s.store.CreateOrder(ctx, order, consumptions); err != nil {
		s.writeStoreError(w, err)
		return
	}
	metrics.OrdersMatched.Inc()

	slog.Info("order matched",
		"id", order.ID,
		"order_no", order.OrderNo,
		"commodity", order.Commodity,
		"quantity", order.Quantity.String(),
		"avg_buy", order.AvgBuyPrice.String(),
		"avg_sell", order.AvgSellPrice.String(),
		"margin", order.Margin.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "order_created",
			OrderID:   order.ID,
			OrderNo:   order.OrderNo,
			Commodity: order.Commodity,
			Quantity:  order.Quantity.String(),
			Margin:    order.Margin.String(),
		})
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /api/v1/orders/{orderID}.
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListOrders handles GET /api/v1/orders.
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CreateShipment handles POST /api/v1/orders/{orderID}/shipments.
func (s *Service) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var req CreateShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		writeError(w, "quantity must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	order, err := s.store.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if req.Quantity.GreaterThan(order.Quantity) {
		writeError(w, "shipment quantity exceeds order quantity", http.StatusConflict)
		return
	}

	shipment := &model.Shipment{
		OrderID:   order.ID,
		Commodity: order.Commodity,
		Quantity:  req.Quantity,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateShipment(ctx, shipment); err != nil {
		s.writeStoreError(w, err)
		return
	}

	slog.Info("shipment created", "id", shipment.ID, "order", order.ID, "quantity", shipment.Quantity.String())
	writeJSON(w, http.StatusCreated, shipment)
}

// --- Hedge handlers ---

// CreateHedge handles POST /api/v1/hedges.
func (s *Service) CreateHedge(w http.ResponseWriter, r *http.Request) {
	var req CreateHedgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Direction != model.SideBuy && req.Direction != model.SideSell {
		writeError(w, "direction must be buy or sell", http.StatusBadRequest)
		return
	}
	if req.Commodity == "" {
		writeError(w, "commodity is required", http.StatusBadRequest)
		return
	}
	if req.TradeQuantity.LessThanOrEqual(decimal.Zero) {
		writeError(w, "trade_quantity must be positive", http.StatusBadRequest)
		return
	}

	h := &model.HedgeExecution{
		Direction:     req.Direction,
		Commodity:     req.Commodity,
		TradeQuantity: req.TradeQuantity,
		OpenQuantity:  req.TradeQuantity,
		ExecutedPrice: req.ExecutedPrice,
		Broker:        req.Broker,
		ExecutedAt:    req.ExecutedAt,
		Status:        model.HedgeOpen,
	}
	if h.ExecutedAt.IsZero() {
		h.ExecutedAt = time.Now().UTC()
	}
	if req.Ref != "" {
		ref, err := model.ParseRef(req.Ref)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.RefLevel = ref.Level
		h.RefID = ref.ID
	}

	if err := s.store.CreateHedgeExecution(r.Context(), h); err != nil {
		s.writeStoreError(w, err)
		return
	}

	slog.Info("hedge execution created",
		"id", h.ID,
		"direction", h.Direction,
		"commodity", h.Commodity,
		"quantity", h.TradeQuantity.String(),
		"price", h.ExecutedPrice.String(),
		"broker", h.Broker,
	)

	writeJSON(w, http.StatusCreated, h)
}

// EligibleHedges handles GET /api/v1/hedges/eligible?commodity=X&side=sell&scope=order:ID.
func (s *Service) EligibleHedges(w http.ResponseWriter, r *http.Request) {
	commodity := r.URL.Query().Get("commodity")
	side := r.URL.Query().Get("side")

	var scope *model.PhysicalRef
	if raw := r.URL.Query().Get("scope"); raw != "" {
		ref, err := model.ParseRef(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		scope = &ref
	}

	hedges, err := s.eligibility.EligibleHedges(r.Context(), commodity, side, scope)
	if err != nil {
		s.writeAllocError(w, err)
		return
	}
	if hedges == nil {
		hedges = []model.HedgeExecution{}
	}
	writeJSON(w, http.StatusOK, hedges)
}

// --- Fixing handlers ---

// CommitFixing handles POST /api/v1/fixings.
// Validates and atomically commits a price fixing against the chosen
// hedge executions.
func (s *Service) CommitFixing(w http.ResponseWriter, r *http.Request) {
	var req FixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ref, err := model.ParseRef(req.Ref)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Serialize allocation commits.
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	fixing, err := s.allocator.Fix(r.Context(), hedge.FixRequest{
		Ref:         ref,
		Side:        req.Side,
		Allocations: req.Allocations,
		Price:       req.Price,
		Currency:    req.Currency,
		FixedAt:     req.FixedAt,
	})
	metrics.AllocationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.writeAllocError(w, err)
		return
	}
	metrics.FixingsCommitted.WithLabelValues(fixing.RefLevel).Inc()

	slog.Info("fixing committed",
		"id", fixing.ID,
		"ref", ref.String(),
		"commodity", fixing.Commodity,
		"quantity", fixing.Quantity.String(),
		"price", fixing.Price.String(),
		"hedges", len(req.Allocations),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "fixing_committed",
			FixingID:  fixing.ID,
			RefLevel:  fixing.RefLevel,
			RefID:     fixing.RefID,
			Commodity: fixing.Commodity,
			Quantity:  fixing.Quantity.String(),
			Price:     fixing.Price.String(),
		})
	}

	writeJSON(w, http.StatusCreated, fixing)
}

// ListFixings handles GET /api/v1/fixings?ref=order:ID.
func (s *Service) ListFixings(w http.ResponseWriter, r *http.Request) {
	ref, err := model.ParseRef(r.URL.Query().Get("ref"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	fixings, err := s.store.ListFixings(r.Context(), ref)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if fixings == nil {
		fixings = []model.PricingFixing{}
	}
	writeJSON(w, http.StatusOK, fixings)
}

// DeleteFixing handles DELETE /api/v1/fixings/{fixingID}.
// Soft-deletes the fixing; deleted fixings no longer count against the
// reference's unfixed quantity.
func (s *Service) DeleteFixing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fixingID")
	if err := s.store.SoftDeleteFixing(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	slog.Info("fixing soft-deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// --- Exposure handler ---

// OrderExposure handles GET /api/v1/orders/{orderID}/exposure.
func (s *Service) OrderExposure(w http.ResponseWriter, r *http.Request) {
	net, err := s.aggregator.OrderExposure(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, net)
}

// --- Error mapping ---

func (s *Service) writeMatchError(w http.ResponseWriter, err error) {
	var liqErr *match.LiquidityError
	var marginErr *match.MarginError
	switch {
	case errors.Is(err, match.ErrInvalidInput):
		metrics.MatchRejections.WithLabelValues("input").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &liqErr):
		metrics.MatchRejections.WithLabelValues("liquidity").Inc()
		writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &marginErr):
		metrics.MatchRejections.WithLabelValues("margin").Inc()
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pricing.ErrUnpriceable), errors.Is(err, pricing.ErrUnknownMode):
		metrics.MatchRejections.WithLabelValues("pricing").Inc()
		writeError(w, err.Error(), http.StatusConflict)
	default:
		s.writeStoreError(w, err)
	}
}

func (s *Service) writeAllocError(w http.ResponseWriter, err error) {
	var capErr *hedge.CapacityError
	switch {
	case errors.Is(err, hedge.ErrInvalidInput),
		errors.Is(err, model.ErrInvalidRef),
		errors.Is(err, model.ErrInvalidRefLevel):
		metrics.FixingRejections.WithLabelValues("input").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &capErr):
		metrics.FixingRejections.WithLabelValues("capacity").Inc()
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrConflict):
		metrics.FixingRejections.WithLabelValues("conflict").Inc()
		writeError(w, err.Error(), http.StatusConflict)
	default:
		s.writeStoreError(w, err)
	}
}

func (s *Service) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
