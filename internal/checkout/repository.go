package checkout

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// ProductSnapshot carries the locked product state a checkout prices against.
type ProductSnapshot struct {
	ID         int64
	Name       string
	PriceCents int64
}

// TxRepository exposes the writes that must share the checkout transaction.
type TxRepository interface {
	// LockProducts locks the product rows FOR UPDATE in id order and returns
	// their pricing snapshots. Products missing from the result do not exist
	// in the store.
	LockProducts(ctx context.Context, storeID int64, productIDs []int64) ([]ProductSnapshot, error)
	SumOnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error)
	InsertSale(ctx context.Context, sale Sale) (Sale, error)
	InsertSaleItem(ctx context.Context, item SaleItem) (SaleItem, error)
	// InsertSaleMovement appends the negative SALE ledger entry linked to the sale.
	InsertSaleMovement(ctx context.Context, storeID, productID, saleID, delta int64) error
}

// RepositoryPort is the persistence contract the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, storeID, saleID int64) (Sale, error)
	ListSales(ctx context.Context, storeID int64, limit int) ([]Sale, error)
}

// Repository persists sales in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a single ReadCommitted transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetSale loads a sale with its items.
func (r *Repository) GetSale(ctx context.Context, storeID, saleID int64) (Sale, error) {
	var s Sale
	err := r.pool.QueryRow(ctx, `SELECT id, store_id, cashier_id, subtotal_cents, tax_cents, total_cents, created_at
FROM sales WHERE store_id=$1 AND id=$2`, storeID, saleID).
		Scan(&s.ID, &s.StoreID, &s.CashierID, &s.SubtotalCents, &s.TaxCents, &s.TotalCents, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	if err != nil {
		return Sale{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, product_id, product_name, unit_price_cents, quantity, line_total_cents
FROM sale_items WHERE sale_id=$1 ORDER BY id ASC`, saleID)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var item SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.UnitPriceCents, &item.Quantity, &item.LineTotalCents); err != nil {
			return Sale{}, err
		}
		s.Items = append(s.Items, item)
	}
	return s, rows.Err()
}

// ListSales returns the store's most recent sales without items.
func (r *Repository) ListSales(ctx context.Context, storeID int64, limit int) ([]Sale, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, store_id, cashier_id, subtotal_cents, tax_cents, total_cents, created_at
FROM sales WHERE store_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := []Sale{}
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ID, &s.StoreID, &s.CashierID, &s.SubtotalCents, &s.TaxCents, &s.TotalCents, &s.CreatedAt); err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

func (r *txRepository) LockProducts(ctx context.Context, storeID int64, productIDs []int64) ([]ProductSnapshot, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, name, price_cents FROM products WHERE store_id=$1 AND id = ANY($2) ORDER BY id FOR UPDATE`, storeID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := make([]ProductSnapshot, 0, len(productIDs))
	for rows.Next() {
		var p ProductSnapshot
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, p)
	}
	return snapshots, rows.Err()
}

func (r *txRepository) SumOnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT product_id, COALESCE(SUM(quantity_delta), 0)
FROM stock_movements WHERE store_id=$1 AND product_id = ANY($2) GROUP BY product_id`, storeID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[int64]int64, len(productIDs))
	for rows.Next() {
		var productID, total int64
		if err := rows.Scan(&productID, &total); err != nil {
			return nil, err
		}
		sums[productID] = total
	}
	return sums, rows.Err()
}

func (r *txRepository) InsertSale(ctx context.Context, sale Sale) (Sale, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (store_id, cashier_id, subtotal_cents, tax_cents, total_cents, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id, created_at`,
		sale.StoreID, sale.CashierID, sale.SubtotalCents, sale.TaxCents, sale.TotalCents).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

func (r *txRepository) InsertSaleItem(ctx context.Context, item SaleItem) (SaleItem, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_items (sale_id, product_id, product_name, unit_price_cents, quantity, line_total_cents)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		item.SaleID, item.ProductID, item.ProductName, item.UnitPriceCents, item.Quantity, item.LineTotalCents).Scan(&item.ID)
	if err != nil {
		return SaleItem{}, err
	}
	return item, nil
}

func (r *txRepository) InsertSaleMovement(ctx context.Context, storeID, productID, saleID, delta int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_movements (store_id, product_id, kind, quantity_delta, sale_id, created_at)
VALUES ($1,$2,'SALE',$3,$4,NOW())`, storeID, productID, delta, saleID)
	return err
}
