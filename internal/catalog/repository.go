package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists products in PostgreSQL. Every query filters by store
// id so a leaked product id from another tenant resolves to not-found.
type Repository interface {
	List(ctx context.Context, storeID int64, limit int) ([]Product, error)
	Get(ctx context.Context, storeID, id int64) (Product, error)
	FindByCode(ctx context.Context, storeID int64, code string) (Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, product Product) error
	Delete(ctx context.Context, storeID, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const productColumns = `id, store_id, name, sku, barcode, price_cents, reorder_level, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.StoreID, &p.Name, &p.SKU, &p.Barcode, &p.PriceCents, &p.ReorderLevel, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *repository) List(ctx context.Context, storeID int64, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE store_id=$1 ORDER BY created_at DESC LIMIT $2`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *repository) Get(ctx context.Context, storeID, id int64) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE store_id=$1 AND id=$2`, storeID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *repository) FindByCode(ctx context.Context, storeID int64, code string) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE store_id=$1 AND (sku=$2 OR barcode=$2) LIMIT 1`, storeID, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *repository) Create(ctx context.Context, product Product) (Product, error) {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `INSERT INTO products (store_id, name, sku, barcode, price_cents, reorder_level, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7) RETURNING id`,
		product.StoreID, product.Name, product.SKU, product.Barcode, product.PriceCents, product.ReorderLevel, now).Scan(&product.ID)
	if err != nil {
		return Product{}, mapUniqueViolation(err)
	}
	product.CreatedAt = now
	product.UpdatedAt = now
	return product, nil
}

func (r *repository) Update(ctx context.Context, product Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET name=$1, sku=$2, barcode=$3, price_cents=$4, reorder_level=$5, updated_at=NOW()
WHERE store_id=$6 AND id=$7`,
		product.Name, product.SKU, product.Barcode, product.PriceCents, product.ReorderLevel, product.StoreID, product.ID)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, storeID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE store_id=$1 AND id=$2`, storeID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrSKUTaken
	}
	return err
}
