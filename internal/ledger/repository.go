package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// TxRepository exposes the ledger operations that participate in a caller's
// transaction. Checkout and stock-count finalize use the same contract so
// their read-then-append sequences stay inside one atomic unit.
type TxRepository interface {
	// LockProducts locks the product rows FOR UPDATE in id order and returns
	// the ids found in the store. Locking before summing serializes
	// concurrent read-then-append sequences per product.
	LockProducts(ctx context.Context, storeID int64, productIDs []int64) ([]int64, error)
	// SumOnHand sums ledger deltas per product; products without movements
	// are absent from the map and read as zero.
	SumOnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error)
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
}

// Repository persists ledger data in PostgreSQL.
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

// NewTxRepository wraps an open transaction with the ledger contract so other
// modules can append movements atomically with their own writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a single ReadCommitted transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// SumOnHand is the pool-backed read path used outside transactions.
func (r *Repository) SumOnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error) {
	return sumOnHand(ctx, r.pool, storeID, productIDs)
}

// ListMovements returns the most recent movements for the store.
func (r *Repository) ListMovements(ctx context.Context, storeID int64, limit int) ([]Movement, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, store_id, product_id, kind, quantity_delta, note, reference, sale_id, count_session_id, created_at
FROM stock_movements WHERE store_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.StoreID, &m.ProductID, &m.Kind, &m.QuantityDelta, &m.Note, &m.Reference, &m.SaleID, &m.CountSessionID, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// LowStock lists products whose reorder level is set and whose on-hand is at
// or below it.
func (r *Repository) LowStock(ctx context.Context, storeID int64) ([]LowStockItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.name, p.sku, p.barcode, p.reorder_level, COALESCE(SUM(m.quantity_delta), 0) AS on_hand
FROM products p
LEFT JOIN stock_movements m ON m.store_id = p.store_id AND m.product_id = p.id
WHERE p.store_id=$1 AND p.reorder_level > 0
GROUP BY p.id, p.name, p.sku, p.barcode, p.reorder_level
HAVING COALESCE(SUM(m.quantity_delta), 0) <= p.reorder_level
ORDER BY p.name ASC`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []LowStockItem{}
	for rows.Next() {
		var item LowStockItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.SKU, &item.Barcode, &item.ReorderLevel, &item.OnHand); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ProductExists reports whether the product belongs to the store.
func (r *Repository) ProductExists(ctx context.Context, storeID, productID int64) (bool, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM products WHERE store_id=$1 AND id=$2`, storeID, productID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *txRepository) LockProducts(ctx context.Context, storeID int64, productIDs []int64) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT id FROM products WHERE store_id=$1 AND id = ANY($2) ORDER BY id FOR UPDATE`, storeID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make([]int64, 0, len(productIDs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found = append(found, id)
	}
	return found, rows.Err()
}

func (r *txRepository) SumOnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error) {
	return sumOnHand(ctx, r.tx, storeID, productIDs)
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	return insertMovement(ctx, r.tx, m)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func sumOnHand(ctx context.Context, q querier, storeID int64, productIDs []int64) (map[int64]int64, error) {
	rows, err := q.Query(ctx, `SELECT product_id, COALESCE(SUM(quantity_delta), 0)
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

func insertMovement(ctx context.Context, q querier, m Movement) (Movement, error) {
	err := q.QueryRow(ctx, `INSERT INTO stock_movements (store_id, product_id, kind, quantity_delta, note, reference, sale_id, count_session_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id, created_at`,
		m.StoreID, m.ProductID, string(m.Kind), m.QuantityDelta, m.Note, m.Reference, m.SaleID, m.CountSessionID).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}
