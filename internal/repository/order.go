package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmart/orders-api/internal/domain/order"
	"github.com/openmart/orders-api/internal/domain/product"
	"github.com/openmart/orders-api/internal/domain/promo"
)

const orderColumns = `id, order_number, user_id, status, payment_method, payment_status,
	subtotal, shipping_fee, discount_amount, total_amount, currency,
	billing_address, shipping_address, customer_name, customer_email, customer_phone,
	notes, promo_code, tracking_number, shipped_at, delivered_at, created_at, updated_at`

const (
	// The order number embeds a database sequence, which makes it unique by
	// construction even under bursty concurrent checkouts.
	insertOrderSQL = `INSERT INTO orders (id, order_number, user_id, status,
		payment_method, payment_status, subtotal, shipping_fee, discount_amount,
		total_amount, currency, billing_address, shipping_address,
		customer_name, customer_email, customer_phone, notes, promo_code)
	VALUES ($1,
		'ORD-' || to_char(now(), 'YYYYMMDD') || '-' || lpad(nextval('order_number_seq')::text, 6, '0'),
		$2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	RETURNING order_number, created_at, updated_at`

	// Check-and-decrement as a single atomic step. Zero rows affected means
	// the condition failed; a separate read followed by a write would oversell
	// under concurrent demand for the same product.
	reserveStockSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`

	restoreStockSQL = `UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1`

	// Same check-and-mutate shape as the stock reservation: the cap is
	// enforced in the condition, so concurrent checkouts cannot overshoot it.
	consumePromoSQL = `UPDATE promo_codes SET uses = uses + 1
		WHERE UPPER(code) = UPPER($1) AND (max_uses = 0 OR uses < max_uses)`

	insertItemSQL = `INSERT INTO order_items (id, order_id, product_id, product_name,
		product_sku, quantity, unit_price, total_price, product_image, stock_managed)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	insertHistorySQL = `INSERT INTO order_status_history (id, order_id, status, comment, created_by)
	VALUES ($1, $2, $3, $4, $5)`

	lockOrderStatusSQL = `SELECT status FROM orders WHERE id = $1 FOR UPDATE`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Every
// mutating method is a single transaction; either all of its effects commit
// or none do.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order: stock reservation for every stock-managed
// line, promo usage consumption when a code is attached, the header, the item
// snapshots, and the seed "pending" history entry, all in one transaction. A
// failed reservation aborts the whole attempt and surfaces the offending line
// as an *order.InsufficientStockError; an exhausted promo cap aborts it with
// promo.ErrUsageLimitReached.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range o.Items {
		it := &o.Items[i]
		if !it.StockManaged {
			continue
		}
		tag, err := tx.Exec(ctx, reserveStockSQL, it.ProductID, it.Quantity)
		if err != nil {
			return errors.Wrapf(err, "reserve stock for product %s", it.ProductID)
		}
		if tag.RowsAffected() == 0 {
			var available int
			err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, it.ProductID).Scan(&available)
			if errors.Is(err, pgx.ErrNoRows) {
				return errors.Wrapf(product.ErrNotFound, "product %s", it.ProductID)
			}
			if err != nil {
				return errors.Wrapf(err, "read stock for product %s", it.ProductID)
			}
			return &order.InsufficientStockError{
				ProductID: it.ProductID,
				Requested: it.Quantity,
				Available: available,
			}
		}
	}

	if o.PromoCode != "" {
		tag, err := tx.Exec(ctx, consumePromoSQL, o.PromoCode)
		if err != nil {
			return errors.Wrapf(err, "consume promo code %s", o.PromoCode)
		}
		if tag.RowsAffected() == 0 {
			return promo.ErrUsageLimitReached
		}
	}

	o.ID = uuid.New().String()
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return errors.Wrap(err, "marshal billing address")
	}
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "marshal shipping address")
	}

	err = tx.QueryRow(ctx, insertOrderSQL,
		o.ID, nullable(o.UserID), o.Status, o.PaymentMethod, o.PaymentStatus,
		o.Subtotal, o.ShippingFee, o.DiscountAmount, o.TotalAmount, o.Currency,
		billing, shipping, o.CustomerName, o.CustomerEmail, o.CustomerPhone,
		o.Notes, o.PromoCode,
	).Scan(&o.OrderNumber, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.ID = uuid.New().String()
		it.OrderID = o.ID
		_, err := tx.Exec(ctx, insertItemSQL,
			it.ID, o.ID, it.ProductID, it.ProductName, it.ProductSKU,
			it.Quantity, it.UnitPrice, it.TotalPrice, it.Image, it.StockManaged,
		)
		if err != nil {
			return errors.Wrapf(err, "insert item for product %s", it.ProductID)
		}
	}

	seed := order.HistoryEntry{
		ID:        uuid.New().String(),
		OrderID:   o.ID,
		Status:    string(order.StatusPending),
		CreatedBy: o.UserID,
		CreatedAt: o.CreatedAt,
	}
	if _, err := tx.Exec(ctx, insertHistorySQL,
		seed.ID, o.ID, seed.Status, seed.Comment, nullable(seed.CreatedBy)); err != nil {
		return errors.Wrap(err, "insert seed history")
	}
	o.History = []order.HistoryEntry{seed}

	return errors.Wrap(tx.Commit(ctx), "commit")
}

// GetByID returns an order with its items and history.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// GetByNumber returns an order by its human-readable order number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.get(ctx, `WHERE order_number = $1`, number)
}

func (r *OrderRepository) get(ctx context.Context, where, arg string) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// List returns one page of orders matching the filter plus the unpaged total.
// Items and history are not loaded for listings.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) (*order.Page, error) {
	where, args := buildListWhere(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, errors.Wrap(err, "count orders")
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	page := &order.Page{Total: total}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		page.Orders = append(page.Orders, *o)
	}
	return page, rows.Err()
}

// UpdateStatus applies a shipment-status transition: the order row is locked,
// the transition checked against the state machine, the row updated, and the
// audit entry appended, all in one transaction. Racing transitions resolve
// deterministically: the loser observes the committed state and is rejected.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, upd order.StatusUpdate) (*order.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := lockStatus(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !current.CanTransitionTo(upd.Status) {
		return nil, &order.IllegalTransitionError{From: string(current), To: string(upd.Status)}
	}

	switch upd.Status {
	case order.StatusShipped:
		_, err = tx.Exec(ctx, `UPDATE orders SET status = $2, tracking_number = $3,
			shipped_at = now(), updated_at = now() WHERE id = $1`,
			id, upd.Status, upd.TrackingNumber)
	case order.StatusDelivered:
		_, err = tx.Exec(ctx, `UPDATE orders SET status = $2,
			delivered_at = now(), updated_at = now() WHERE id = $1`, id, upd.Status)
	default:
		_, err = tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
			id, upd.Status)
	}
	if err != nil {
		return nil, errors.Wrap(err, "update status")
	}

	if _, err := tx.Exec(ctx, insertHistorySQL,
		uuid.New().String(), id, string(upd.Status), upd.Comment, nullable(upd.ActorID)); err != nil {
		return nil, errors.Wrap(err, "insert history")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return r.GetByID(ctx, id)
}

// UpdatePaymentStatus applies a payment-status transition. The payment
// dimension is audited in the shared history table under a "payment_" label.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, id string, upd order.PaymentUpdate) (*order.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current order.PaymentStatus
	err = tx.QueryRow(ctx, `SELECT payment_status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock order")
	}
	if !current.CanTransitionTo(upd.Status) {
		return nil, &order.IllegalTransitionError{From: current.HistoryLabel(), To: upd.Status.HistoryLabel()}
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`,
		id, upd.Status); err != nil {
		return nil, errors.Wrap(err, "update payment status")
	}
	if _, err := tx.Exec(ctx, insertHistorySQL,
		uuid.New().String(), id, upd.Status.HistoryLabel(), upd.Comment, nullable(upd.ActorID)); err != nil {
		return nil, errors.Wrap(err, "insert history")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return r.GetByID(ctx, id)
}

// Cancel sets the terminal cancelled status and restores the stock recorded
// in the order's item snapshots. The precondition check, the restock, and the
// history append share one transaction, so a concurrent second cancel cannot
// double-restock: it blocks on the row lock, then observes "cancelled" and is
// rejected.
func (r *OrderRepository) Cancel(ctx context.Context, id, reason, actorID string) (*order.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := lockStatus(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !current.Cancellable() {
		return nil, &order.IllegalTransitionError{From: string(current), To: string(order.StatusCancelled)}
	}

	// Restock by the captured snapshot, not the product's current flag.
	rows, err := tx.Query(ctx,
		`SELECT product_id, quantity FROM order_items WHERE order_id = $1 AND stock_managed`, id)
	if err != nil {
		return nil, errors.Wrap(err, "load managed items")
	}
	type restock struct {
		productID string
		quantity  int
	}
	var restocks []restock
	for rows.Next() {
		var rs restock
		if err := rows.Scan(&rs.productID, &rs.quantity); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan item")
		}
		restocks = append(restocks, rs)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "load managed items")
	}

	for _, rs := range restocks {
		if _, err := tx.Exec(ctx, restoreStockSQL, rs.productID, rs.quantity); err != nil {
			return nil, errors.Wrapf(err, "restore stock for product %s", rs.productID)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
		id, order.StatusCancelled); err != nil {
		return nil, errors.Wrap(err, "update status")
	}
	if _, err := tx.Exec(ctx, insertHistorySQL,
		uuid.New().String(), id, string(order.StatusCancelled), reason, nullable(actorID)); err != nil {
		return nil, errors.Wrap(err, "insert history")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return r.GetByID(ctx, id)
}

func (r *OrderRepository) loadItems(ctx context.Context, o *order.Order) error {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, product_id, product_name,
		product_sku, quantity, unit_price, total_price, product_image, stock_managed
		FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return errors.Wrap(err, "load items")
	}
	defer rows.Close()

	for rows.Next() {
		var it order.Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName,
			&it.ProductSKU, &it.Quantity, &it.UnitPrice, &it.TotalPrice,
			&it.Image, &it.StockManaged); err != nil {
			return errors.Wrap(err, "scan item")
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (r *OrderRepository) loadHistory(ctx context.Context, o *order.Order) error {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, status, comment, created_by, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY created_at, id`, o.ID)
	if err != nil {
		return errors.Wrap(err, "load history")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			h         order.HistoryEntry
			createdBy *string
		)
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Status, &h.Comment, &createdBy, &h.CreatedAt); err != nil {
			return errors.Wrap(err, "scan history")
		}
		if createdBy != nil {
			h.CreatedBy = *createdBy
		}
		o.History = append(o.History, h)
	}
	return rows.Err()
}

func lockStatus(ctx context.Context, tx pgx.Tx, id string) (order.Status, error) {
	var current order.Status
	err := tx.QueryRow(ctx, lockOrderStatusSQL, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", order.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "lock order")
	}
	return current, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o        order.Order
		userID   *string
		billing  []byte
		shipping []byte
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &userID, &o.Status, &o.PaymentMethod,
		&o.PaymentStatus, &o.Subtotal, &o.ShippingFee, &o.DiscountAmount,
		&o.TotalAmount, &o.Currency, &billing, &shipping,
		&o.CustomerName, &o.CustomerEmail, &o.CustomerPhone,
		&o.Notes, &o.PromoCode, &o.TrackingNumber,
		&o.ShippedAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		o.UserID = *userID
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return nil, errors.Wrap(err, "unmarshal billing address")
	}
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return nil, errors.Wrap(err, "unmarshal shipping address")
	}
	return &o, nil
}

// buildListWhere turns the typed filter into a WHERE clause. Every field is
// enumerated here; nothing request-shaped reaches the SQL.
func buildListWhere(f order.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add(`user_id = $%d`, f.UserID)
	}
	if f.Status != "" {
		add(`status = $%d`, f.Status)
	}
	if f.PaymentStatus != "" {
		add(`payment_status = $%d`, f.PaymentStatus)
	}
	if f.Search != "" {
		add(`(order_number ILIKE $%d OR customer_name ILIKE $%[1]d OR customer_email ILIKE $%[1]d)`,
			"%"+f.Search+"%")
	}
	if !f.CreatedFrom.IsZero() {
		add(`created_at >= $%d`, f.CreatedFrom)
	}
	if !f.CreatedTo.IsZero() {
		add(`created_at <= $%d`, f.CreatedTo)
	}

	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
