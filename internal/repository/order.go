package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/harvest-fulfillment/internal/domain/order"
	"github.com/xenking/harvest-fulfillment/internal/domain/product"
)

const (
	orderColumns = `id, buyer_id, vendor_id, status, total_amount, delivery_fee, delivery_address,
		payment_status, payment_ref_id, notes, version, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders`

	getOrderItemsSQL = `SELECT id, order_id, product_id, quantity, price_at_order
		FROM order_items WHERE order_id = $1 ORDER BY position`

	updateOrderSQL = `UPDATE orders
		SET status = $2, payment_status = $3, payment_ref_id = $4, notes = $5,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $6
		RETURNING version, updated_at`

	// lockStockSQL locks the product rows in id order before reserving, so
	// concurrent carts touching the same products queue instead of deadlocking.
	lockStockSQL = `SELECT id, status, quantity_available FROM products
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	reserveStockSQL = `UPDATE products p
		SET quantity_available = p.quantity_available - r.qty, updated_at = now()
		FROM unnest($1::text[], $2::int[]) AS r(id, qty)
		WHERE p.id = r.id AND p.status = 'ACTIVE' AND p.quantity_available >= r.qty`

	restockOrderSQL = `UPDATE products p
		SET quantity_available = p.quantity_available + i.qty, updated_at = now()
		FROM (
			SELECT product_id, SUM(quantity)::int AS qty
			FROM order_items WHERE order_id = $1 GROUP BY product_id
		) AS i
		WHERE p.id = i.product_id`
)

var orderItemColumns = []string{"id", "order_id", "product_id", "position", "quantity", "price_at_order"}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create reserves stock for every item and persists the orders with their
// items in a single transaction.
func (r *OrderRepository) Create(ctx context.Context, orders ...*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, r.pool, readCommitted, func(tx pgx.Tx) error {
		if err := reserveStock(ctx, tx, orders); err != nil {
			return err
		}
		for _, o := range orders {
			if err := insertOrder(ctx, tx, o); err != nil {
				return err
			}
		}
		return nil
	})
}

type stockRow struct {
	ID                string
	Status            string
	QuantityAvailable int
}

// reserveStock decrements stock for all items with one guarded statement.
// Products are locked first so a shortfall can be attributed to a line.
func reserveStock(ctx context.Context, tx pgx.Tx, orders []*order.Order) error {
	need := make(map[string]int)
	for _, o := range orders {
		for _, it := range o.Items {
			need[it.ProductID] += it.Quantity
		}
	}
	ids, qtys, err := flattenQuantities(need)
	if err != nil {
		return err
	}

	rows, err := tx.Query(ctx, lockStockSQL, ids)
	if err != nil {
		return fmt.Errorf("locking products: %w", err)
	}
	locked, err := pgx.CollectRows(rows, pgx.RowToStructByPos[stockRow])
	if err != nil {
		return fmt.Errorf("locking products: %w", err)
	}
	byID := make(map[string]stockRow, len(locked))
	for _, s := range locked {
		byID[s.ID] = s
	}
	for i, id := range ids {
		s, ok := byID[id]
		switch {
		case !ok:
			return &order.LineError{ProductID: id, Err: order.ErrProductNotFound}
		case product.Status(s.Status) != product.StatusActive:
			return &order.LineError{ProductID: id, Err: order.ErrProductUnavailable}
		case s.QuantityAvailable < int(qtys[i]):
			return &order.LineError{ProductID: id, Err: order.ErrInsufficientStock}
		}
	}

	tag, err := tx.Exec(ctx, reserveStockSQL, ids, qtys)
	if err != nil {
		return fmt.Errorf("reserving stock: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return errors.Errorf("reserved %d of %d products", tag.RowsAffected(), len(ids))
	}
	return nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	if _, err := tx.Exec(ctx, insertOrderSQL,
		o.ID, o.BuyerID, o.VendorID, string(o.Status), o.TotalAmount, o.DeliveryFee, o.DeliveryAddress,
		string(o.PaymentStatus), o.PaymentRefID, o.Notes, o.Version, o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	_, err := tx.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns,
		pgx.CopyFromSlice(len(o.Items), func(i int) ([]any, error) {
			it := o.Items[i]
			return []any{it.ID, o.ID, it.ProductID, i, it.Quantity, it.PriceAtOrder}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("creating items of order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return loadOrder(ctx, r.pool, getOrderSQL, id)
}

// List returns orders matching f, newest first. Items are not loaded.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	sql, args := buildListQuery(f)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// Update locks the order row, lets fn decide the change and persists it,
// restocking the order items when requested. The version column is bumped on
// every change.
func (r *OrderRepository) Update(ctx context.Context, id string, fn order.Mutation) (*order.Order, error) {
	var updated *order.Order
	err := pgx.BeginTxFunc(ctx, r.pool, readCommitted, func(tx pgx.Tx) error {
		o, err := loadOrder(ctx, tx, lockOrderSQL, id)
		if err != nil {
			return err
		}

		change, err := fn(o)
		if err != nil {
			return err
		}
		o.Apply(change)

		if err := tx.QueryRow(ctx, updateOrderSQL,
			o.ID, string(o.Status), string(o.PaymentStatus), o.PaymentRefID, o.Notes, o.Version,
		).Scan(&o.Version, &o.UpdatedAt); err != nil {
			return fmt.Errorf("updating order %q: %w", id, err)
		}

		if change.Restock {
			if _, err := tx.Exec(ctx, restockOrderSQL, id); err != nil {
				return fmt.Errorf("restocking order %q: %w", id, err)
			}
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func loadOrder(ctx context.Context, q querier, sql, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = q.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	if o.Items, err = pgx.CollectRows(rows, scanOrderItem); err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	return &o, nil
}

// buildListQuery renders f into a parameterised query.
func buildListQuery(f order.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.BuyerID != "" {
		add("buyer_id = $%d", f.BuyerID)
	}
	if f.VendorID != "" {
		add("vendor_id = $%d", f.VendorID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", string(f.PaymentStatus))
	}

	var sb strings.Builder
	sb.WriteString(listOrdersSQL)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, f.Limit, f.Offset)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return sb.String(), args
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		paymentStatus string
		total, fee    decimal.Decimal
		created, upd  time.Time
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.VendorID, &status, &total, &fee, &o.DeliveryAddress,
		&paymentStatus, &o.PaymentRefID, &o.Notes, &o.Version, &created, &upd,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.TotalAmount = total
	o.DeliveryFee = fee
	o.CreatedAt = created
	o.UpdatedAt = upd
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it    order.Item
		price decimal.Decimal
	)
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price)
	it.PriceAtOrder = price
	return it, err
}
