package repository

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/harvest-fulfillment/internal/domain/product"
)

const (
	productColumns = `id, vendor_id, name, unit_price, quantity_available, minimum_order_quantity, status`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	listProductIDsSQL = `SELECT id FROM products ORDER BY id`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			vendor_id = EXCLUDED.vendor_id,
			name = EXCLUDED.name,
			unit_price = EXCLUDED.unit_price,
			quantity_available = EXCLUDED.quantity_available,
			minimum_order_quantity = EXCLUDED.minimum_order_quantity,
			status = EXCLUDED.status,
			updated_at = now()`

	restockProductsSQL = `UPDATE products p
		SET quantity_available = p.quantity_available + r.qty, updated_at = now()
		FROM unnest($1::text[], $2::int[]) AS r(id, qty)
		WHERE p.id = r.id`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ListIDs returns every product id in the catalog.
func (r *ProductRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listProductIDsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing product ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Upsert inserts or replaces the given products in a single batch.
func (r *ProductRepository) Upsert(ctx context.Context, products []product.Product) error {
	b := &pgx.Batch{}
	for _, p := range products {
		b.Queue(upsertProductSQL,
			p.ID, p.VendorID, p.Name, p.UnitPrice,
			p.QuantityAvailable, p.MinimumOrderQuantity, string(p.Status),
		)
	}
	if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting products: %w", err)
	}
	return nil
}

// Restock adds the given quantities to product stock in one statement and
// returns the number of products updated. Unknown ids are ignored.
func (r *ProductRepository) Restock(ctx context.Context, quantities map[string]int) (int64, error) {
	if len(quantities) == 0 {
		return 0, nil
	}
	ids, qtys, err := flattenQuantities(quantities)
	if err != nil {
		return 0, fmt.Errorf("restocking products: %w", err)
	}
	tag, err := r.pool.Exec(ctx, restockProductsSQL, ids, qtys)
	if err != nil {
		return 0, fmt.Errorf("restocking products: %w", err)
	}
	return tag.RowsAffected(), nil
}

// flattenQuantities turns a quantity map into parallel arrays sorted by id,
// so concurrent statements lock product rows in the same order. Quantities
// must fit the int4 stock column.
func flattenQuantities(quantities map[string]int) ([]string, []int32, error) {
	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	qtys := make([]int32, len(ids))
	for i, id := range ids {
		q := quantities[id]
		if q < math.MinInt32 || q > math.MaxInt32 {
			return nil, nil, fmt.Errorf("quantity %d for product %s out of range", q, id)
		}
		qtys[i] = int32(q)
	}
	return ids, qtys, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p      product.Product
		price  decimal.Decimal
		status string
	)
	err := row.Scan(
		&p.ID, &p.VendorID, &p.Name, &price,
		&p.QuantityAvailable, &p.MinimumOrderQuantity, &status,
	)
	p.UnitPrice = price
	p.Status = product.Status(status)
	return p, err
}
