package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/metaldesk/hedge-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// CreateOrder and CommitFixing run in explicit transactions with row
// locks on the contended quantities.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Tickets ---

func (s *PostgresStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tickets (id, side, commodity, total_quantity, remaining_quantity,
		                      pricing_mode, fixed_price, reference_price, payable_percent, premium,
		                      status, incoterms, ship_from, ship_to, product_form, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11, $12, $13, $14, $15, $16)`,
		t.ID, t.Side, t.Commodity,
		t.TotalQuantity.String(), t.RemainingQuantity.String(),
		t.PricingMode, t.FixedPrice.String(), t.ReferencePrice.String(),
		t.PayablePercent.String(), t.Premium.String(),
		t.Status, t.Incoterms, t.ShipFrom, t.ShipTo, t.ProductForm, t.CreatedAt,
	)
	return err
}

const ticketColumns = `id, side, commodity,
       total_quantity::TEXT, remaining_quantity::TEXT,
       pricing_mode, fixed_price::TEXT, reference_price::TEXT,
       payable_percent::TEXT, premium::TEXT,
       status, incoterms, ship_from, ship_to, product_form, created_at`

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var t model.Ticket
	var total, remaining, fixed, ref, payable, premium string

	err := row.Scan(&t.ID, &t.Side, &t.Commodity,
		&total, &remaining,
		&t.PricingMode, &fixed, &ref, &payable, &premium,
		&t.Status, &t.Incoterms, &t.ShipFrom, &t.ShipTo, &t.ProductForm, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	t.TotalQuantity, _ = decimal.NewFromString(total)
	t.RemainingQuantity, _ = decimal.NewFromString(remaining)
	t.FixedPrice, _ = decimal.NewFromString(fixed)
	t.ReferencePrice, _ = decimal.NewFromString(ref)
	t.PayablePercent, _ = decimal.NewFromString(payable)
	t.Premium, _ = decimal.NewFromString(premium)
	return &t, nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListApprovedTickets(ctx context.Context, commodity, side string) ([]model.Ticket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ticketColumns+`
		 FROM tickets
		 WHERE status = $1 AND commodity = $2 AND side = $3
		 ORDER BY created_at, id`,
		model.TicketApproved, commodity, side)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// --- Orders ---

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order, consumptions []TicketConsumption) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, order_no, commodity, quantity,
		                     avg_buy_price, avg_sell_price, margin, status, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		o.ID, o.OrderNo, o.Commodity, o.Quantity.String(),
		o.AvgBuyPrice.String(), o.AvgSellPrice.String(), o.Margin.String(),
		o.Status, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.OrderNo, err)
	}

	insertAlloc := func(side string, a model.Allocation) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO order_allocations (order_id, ticket_id, side, quantity, unit_price)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)`,
			o.ID, a.TicketID, side, a.Quantity.String(), a.UnitPrice.String())
		return err
	}
	for _, a := range o.BuyAllocations {
		if err := insertAlloc(model.SideBuy, a); err != nil {
			return err
		}
	}
	for _, a := range o.SellAllocations {
		if err := insertAlloc(model.SideSell, a); err != nil {
			return err
		}
	}

	// Decrement ticket remaining quantities; the WHERE clause rejects
	// the commit if a concurrent order consumed the ticket first.
	for _, c := range consumptions {
		tag, err := tx.Exec(ctx,
			`UPDATE tickets
			 SET remaining_quantity = remaining_quantity - $2::NUMERIC
			 WHERE id = $1 AND remaining_quantity >= $2::NUMERIC`,
			c.TicketID, c.Quantity.String())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("ticket %s consumption %s: %w", c.TicketID, c.Quantity, ErrConflict)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	var qty, avgBuy, avgSell, margin string

	err := s.pool.QueryRow(ctx,
		`SELECT id, order_no, commodity, quantity::TEXT,
		        avg_buy_price::TEXT, avg_sell_price::TEXT, margin::TEXT,
		        status, created_at
		 FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.OrderNo, &o.Commodity, &qty,
			&avgBuy, &avgSell, &margin, &o.Status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}

	o.Quantity, _ = decimal.NewFromString(qty)
	o.AvgBuyPrice, _ = decimal.NewFromString(avgBuy)
	o.AvgSellPrice, _ = decimal.NewFromString(avgSell)
	o.Margin, _ = decimal.NewFromString(margin)

	rows, err := s.pool.Query(ctx,
		`SELECT ticket_id, side, quantity::TEXT, unit_price::TEXT
		 FROM order_allocations WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a model.Allocation
		var side, q, p string
		if err := rows.Scan(&a.TicketID, &side, &q, &p); err != nil {
			return nil, err
		}
		a.Quantity, _ = decimal.NewFromString(q)
		a.UnitPrice, _ = decimal.NewFromString(p)
		if side == model.SideBuy {
			o.BuyAllocations = append(o.BuyAllocations, a)
		} else {
			o.SellAllocations = append(o.SellAllocations, a)
		}
	}
	return &o, rows.Err()
}

func (s *PostgresStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_no, commodity, quantity::TEXT,
		        avg_buy_price::TEXT, avg_sell_price::TEXT, margin::TEXT,
		        status, created_at
		 FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var qty, avgBuy, avgSell, margin string
		if err := rows.Scan(&o.ID, &o.OrderNo, &o.Commodity, &qty,
			&avgBuy, &avgSell, &margin, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Quantity, _ = decimal.NewFromString(qty)
		o.AvgBuyPrice, _ = decimal.NewFromString(avgBuy)
		o.AvgSellPrice, _ = decimal.NewFromString(avgSell)
		o.Margin, _ = decimal.NewFromString(margin)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// --- Shipments ---

func (s *PostgresStore) CreateShipment(ctx context.Context, sh *model.Shipment) error {
	if sh.ID == "" {
		sh.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO shipments (id, order_id, commodity, quantity, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		sh.ID, sh.OrderID, sh.Commodity, sh.Quantity.String(), sh.CreatedAt)
	return err
}

func (s *PostgresStore) GetShipment(ctx context.Context, id string) (*model.Shipment, error) {
	var sh model.Shipment
	var qty string

	err := s.pool.QueryRow(ctx,
		`SELECT id, order_id, commodity, quantity::TEXT, created_at
		 FROM shipments WHERE id = $1`, id).
		Scan(&sh.ID, &sh.OrderID, &sh.Commodity, &qty, &sh.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("shipment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get shipment %s: %w", id, err)
	}
	sh.Quantity, _ = decimal.NewFromString(qty)
	return &sh, nil
}

func (s *PostgresStore) ListShipmentsByOrder(ctx context.Context, orderID string) ([]model.Shipment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, commodity, quantity::TEXT, created_at
		 FROM shipments WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shipments []model.Shipment
	for rows.Next() {
		var sh model.Shipment
		var qty string
		if err := rows.Scan(&sh.ID, &sh.OrderID, &sh.Commodity, &qty, &sh.CreatedAt); err != nil {
			return nil, err
		}
		sh.Quantity, _ = decimal.NewFromString(qty)
		shipments = append(shipments, sh)
	}
	return shipments, rows.Err()
}

// --- Hedge executions ---

const hedgeColumns = `id, direction, commodity,
       trade_quantity::TEXT, open_quantity::TEXT, executed_price::TEXT,
       broker, executed_at, status, closed_price::TEXT, closed_at,
       COALESCE(ref_level, ''), COALESCE(ref_id, '')`

func scanHedge(row pgx.Row) (*model.HedgeExecution, error) {
	var h model.HedgeExecution
	var trade, open, execPrice, closedPrice string

	err := row.Scan(&h.ID, &h.Direction, &h.Commodity,
		&trade, &open, &execPrice,
		&h.Broker, &h.ExecutedAt, &h.Status, &closedPrice, &h.ClosedAt,
		&h.RefLevel, &h.RefID)
	if err != nil {
		return nil, err
	}

	h.TradeQuantity, _ = decimal.NewFromString(trade)
	h.OpenQuantity, _ = decimal.NewFromString(open)
	h.ExecutedPrice, _ = decimal.NewFromString(execPrice)
	h.ClosedPrice, _ = decimal.NewFromString(closedPrice)
	return &h, nil
}

func (s *PostgresStore) CreateHedgeExecution(ctx context.Context, h *model.HedgeExecution) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO hedge_executions (id, direction, commodity,
		                               trade_quantity, open_quantity, executed_price,
		                               broker, executed_at, status, closed_price, ref_level, ref_id)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10::NUMERIC, NULLIF($11, ''), NULLIF($12, ''))`,
		h.ID, h.Direction, h.Commodity,
		h.TradeQuantity.String(), h.OpenQuantity.String(), h.ExecutedPrice.String(),
		h.Broker, h.ExecutedAt, h.Status, h.ClosedPrice.String(), h.RefLevel, h.RefID,
	)
	return err
}

func (s *PostgresStore) GetHedgeExecution(ctx context.Context, id string) (*model.HedgeExecution, error) {
	h, err := scanHedge(s.pool.QueryRow(ctx,
		`SELECT `+hedgeColumns+` FROM hedge_executions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("hedge execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get hedge execution %s: %w", id, err)
	}
	return h, nil
}

func (s *PostgresStore) ListOpenHedges(ctx context.Context, commodity, direction string) ([]model.HedgeExecution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+hedgeColumns+`
		 FROM hedge_executions
		 WHERE commodity = $1 AND direction = $2 AND status IN ($3, $4)
		 ORDER BY executed_at, id`,
		commodity, direction, model.HedgeOpen, model.HedgePartiallyClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hedges []model.HedgeExecution
	for rows.Next() {
		h, err := scanHedge(rows)
		if err != nil {
			return nil, err
		}
		hedges = append(hedges, *h)
	}
	return hedges, rows.Err()
}

// --- Fixings and links ---

func (s *PostgresStore) ListFixings(ctx context.Context, ref model.PhysicalRef) ([]model.PricingFixing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ref_level, ref_id, commodity, quantity::TEXT, price::TEXT, currency, fixed_at, deleted
		 FROM pricing_fixings
		 WHERE ref_level = $1 AND ref_id = $2 AND NOT deleted
		 ORDER BY fixed_at, id`,
		ref.Level, ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fixings []model.PricingFixing
	for rows.Next() {
		var f model.PricingFixing
		var qty, price string
		if err := rows.Scan(&f.ID, &f.RefLevel, &f.RefID, &f.Commodity,
			&qty, &price, &f.Currency, &f.FixedAt, &f.Deleted); err != nil {
			return nil, err
		}
		f.Quantity, _ = decimal.NewFromString(qty)
		f.Price, _ = decimal.NewFromString(price)
		fixings = append(fixings, f)
	}
	return fixings, rows.Err()
}

func (s *PostgresStore) SoftDeleteFixing(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pricing_fixings SET deleted = TRUE WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fixing %s: %w", id, ErrNotFound)
	}
	return nil
}

// refTotalQuantity locks the referenced row and returns its total
// physical quantity. The FOR UPDATE lock serializes concurrent
// fixing commits against the same reference.
func refTotalQuantity(ctx context.Context, tx pgx.Tx, level, id string) (decimal.Decimal, error) {
	var table, column string
	switch level {
	case model.LevelOrder:
		table, column = "orders", "quantity"
	case model.LevelShipment:
		table, column = "shipments", "quantity"
	case model.LevelTicket:
		table, column = "tickets", "total_quantity"
	default:
		return decimal.Zero, fmt.Errorf("%w: %s", model.ErrInvalidRefLevel, level)
	}

	var qty string
	err := tx.QueryRow(ctx,
		`SELECT `+column+`::TEXT FROM `+table+` WHERE id = $1 FOR UPDATE`, id).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%s %s: %w", level, id, ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, err
	}
	total, _ := decimal.NewFromString(qty)
	return total, nil
}

func (s *PostgresStore) CommitFixing(ctx context.Context, f *model.PricingFixing, links []model.HedgeLink, updates []model.HedgeUpdate) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	for i := range links {
		if links[i].ID == "" {
			links[i].ID = uuid.New().String()
		}
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Lock the physical reference and re-validate the fixed-quantity sum.
	total, err := refTotalQuantity(ctx, tx, f.RefLevel, f.RefID)
	if err != nil {
		return err
	}
	var fixedStr string
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0)::TEXT
		 FROM pricing_fixings
		 WHERE ref_level = $1 AND ref_id = $2 AND NOT deleted`,
		f.RefLevel, f.RefID).Scan(&fixedStr)
	if err != nil {
		return err
	}
	fixed, _ := decimal.NewFromString(fixedStr)
	if fixed.Add(f.Quantity).GreaterThan(total) {
		return fmt.Errorf("fixing %s for %s:%s exceeds unfixed quantity (%s fixed of %s): %w",
			f.Quantity, f.RefLevel, f.RefID, fixed, total, ErrConflict)
	}

	// Lock every targeted hedge row and re-validate its open quantity.
	for _, u := range updates {
		var openStr string
		err := tx.QueryRow(ctx,
			`SELECT open_quantity::TEXT FROM hedge_executions WHERE id = $1 FOR UPDATE`,
			u.HedgeID).Scan(&openStr)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("hedge execution %s: %w", u.HedgeID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		open, _ := decimal.NewFromString(openStr)
		if !open.Equal(u.PrevOpen) {
			return fmt.Errorf("hedge execution %s open quantity moved from %s to %s: %w",
				u.HedgeID, u.PrevOpen, open, ErrConflict)
		}
	}

	// The fixing precedes its links so a reader never observes links
	// without their fixing.
	_, err = tx.Exec(ctx,
		`INSERT INTO pricing_fixings (id, ref_level, ref_id, commodity, quantity, price, currency, fixed_at, deleted)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, FALSE)`,
		f.ID, f.RefLevel, f.RefID, f.Commodity,
		f.Quantity.String(), f.Price.String(), f.Currency, f.FixedAt)
	if err != nil {
		return fmt.Errorf("insert fixing: %w", err)
	}

	for _, l := range links {
		_, err = tx.Exec(ctx,
			`INSERT INTO hedge_links (id, fixing_id, hedge_id, ref_level, ref_id,
			                          quantity, side, direction, execution_price, fixing_price, commodity, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9::NUMERIC, $10::NUMERIC, $11, $12)`,
			l.ID, f.ID, l.HedgeID, l.RefLevel, l.RefID,
			l.Quantity.String(), l.Side, l.Direction,
			l.ExecutionPrice.String(), l.FixingPrice.String(), l.Commodity, l.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert hedge link: %w", err)
		}
	}

	for _, u := range updates {
		_, err = tx.Exec(ctx,
			`UPDATE hedge_executions
			 SET open_quantity = $2::NUMERIC, status = $3,
			     closed_price = COALESCE($4::NUMERIC, closed_price),
			     closed_at = COALESCE($5, closed_at)
			 WHERE id = $1`,
			u.HedgeID, u.NewOpen.String(), u.Status,
			nullableDecimal(u), u.ClosedAt)
		if err != nil {
			return fmt.Errorf("update hedge execution %s: %w", u.HedgeID, err)
		}
	}

	return tx.Commit(ctx)
}

// nullableDecimal renders the closing price only when the update
// actually closes the execution.
func nullableDecimal(u model.HedgeUpdate) *string {
	if u.ClosedAt == nil {
		return nil
	}
	s := u.ClosedPrice.String()
	return &s
}

func (s *PostgresStore) ListHedgeLinks(ctx context.Context, refs []model.PhysicalRef) ([]model.HedgeLink, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		keys = append(keys, r.String())
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, fixing_id, hedge_id, ref_level, ref_id,
		        quantity::TEXT, side, direction, execution_price::TEXT, fixing_price::TEXT,
		        commodity, created_at
		 FROM hedge_links
		 WHERE ref_level || ':' || ref_id = ANY($1)
		 ORDER BY created_at, id`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []model.HedgeLink
	for rows.Next() {
		var l model.HedgeLink
		var qty, execPrice, fixPrice string
		if err := rows.Scan(&l.ID, &l.FixingID, &l.HedgeID, &l.RefLevel, &l.RefID,
			&qty, &l.Side, &l.Direction, &execPrice, &fixPrice,
			&l.Commodity, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Quantity, _ = decimal.NewFromString(qty)
		l.ExecutionPrice, _ = decimal.NewFromString(execPrice)
		l.FixingPrice, _ = decimal.NewFromString(fixPrice)
		links = append(links, l)
	}
	return links, rows.Err()
}
