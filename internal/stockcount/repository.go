package stockcount

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// TxRepository exposes the writes that must share the finalize transaction.
type TxRepository interface {
	// GetSessionForUpdate locks the session row so concurrent finalizes
	// serialize; the loser observes FINALIZED and aborts.
	GetSessionForUpdate(ctx context.Context, storeID, sessionID int64) (Session, error)
	ListLines(ctx context.Context, sessionID int64) ([]Line, error)
	LockProducts(ctx context.Context, storeID int64, productIDs []int64) ([]int64, error)
	SumOnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error)
	// InsertAdjustment appends an ADJUST movement linked to the session.
	InsertAdjustment(ctx context.Context, storeID, productID, sessionID, delta int64, note string, reference *string) error
	MarkFinalized(ctx context.Context, sessionID int64, at time.Time) error
}

// RepositoryPort is the persistence contract the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateSession(ctx context.Context, session Session) (Session, error)
	GetSession(ctx context.Context, storeID, sessionID int64) (Session, error)
	ListSessions(ctx context.Context, storeID int64, limit int) ([]Session, error)
	ListLines(ctx context.Context, sessionID int64) ([]Line, error)
	UpsertLine(ctx context.Context, sessionID, productID, countedQty int64) (Line, error)
	ProductExists(ctx context.Context, storeID, productID int64) (bool, error)
	SumOnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error)
}

// Repository persists stock counts in PostgreSQL.
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

const sessionColumns = `id, store_id, status, note, reference, created_by, created_at, finalized_at`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.StoreID, &s.Status, &s.Note, &s.Reference, &s.CreatedBy, &s.CreatedAt, &s.FinalizedAt)
	return s, err
}

// CreateSession inserts a new OPEN session.
func (r *Repository) CreateSession(ctx context.Context, session Session) (Session, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO stock_count_sessions (store_id, status, note, reference, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id, created_at`,
		session.StoreID, string(StatusOpen), session.Note, session.Reference, session.CreatedBy).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	session.Status = StatusOpen
	return session, nil
}

// GetSession loads a session without lines.
func (r *Repository) GetSession(ctx context.Context, storeID, sessionID int64) (Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM stock_count_sessions WHERE store_id=$1 AND id=$2`, storeID, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

// ListSessions returns the store's sessions, newest first.
func (r *Repository) ListSessions(ctx context.Context, storeID int64, limit int) ([]Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM stock_count_sessions WHERE store_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListLines returns the session's lines with product names.
func (r *Repository) ListLines(ctx context.Context, sessionID int64) ([]Line, error) {
	return listLines(ctx, r.pool, sessionID)
}

// UpsertLine inserts or replaces the counted quantity for a product. The
// status guard lives in the statement itself: it locks the session row and
// only writes while the session is still OPEN, so a count racing a finalize
// either lands before the freeze or fails with ErrSessionFinalized.
func (r *Repository) UpsertLine(ctx context.Context, sessionID, productID, countedQty int64) (Line, error) {
	var line Line
	err := r.pool.QueryRow(ctx, `INSERT INTO stock_count_lines (session_id, product_id, counted_qty, updated_at)
SELECT s.id, $2::bigint, $3::bigint, NOW()
FROM stock_count_sessions s
WHERE s.id=$1 AND s.status='OPEN'
FOR UPDATE
ON CONFLICT (session_id, product_id) DO UPDATE SET counted_qty=EXCLUDED.counted_qty, updated_at=NOW()
RETURNING id, session_id, product_id, counted_qty, updated_at`, sessionID, productID, countedQty).
		Scan(&line.ID, &line.SessionID, &line.ProductID, &line.CountedQty, &line.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Line{}, ErrSessionFinalized
	}
	if err != nil {
		return Line{}, err
	}
	return line, nil
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

// SumOnHand derives stock levels for the requested products.
func (r *Repository) SumOnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error) {
	return sumOnHand(ctx, r.pool, storeID, productIDs)
}

func (r *txRepository) GetSessionForUpdate(ctx context.Context, storeID, sessionID int64) (Session, error) {
	s, err := scanSession(r.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM stock_count_sessions WHERE store_id=$1 AND id=$2 FOR UPDATE`, storeID, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

func (r *txRepository) ListLines(ctx context.Context, sessionID int64) ([]Line, error) {
	return listLines(ctx, r.tx, sessionID)
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

func (r *txRepository) InsertAdjustment(ctx context.Context, storeID, productID, sessionID, delta int64, note string, reference *string) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_movements (store_id, product_id, kind, quantity_delta, note, reference, count_session_id, created_at)
VALUES ($1,$2,'ADJUST',$3,$4,$5,$6,NOW())`, storeID, productID, delta, note, reference, sessionID)
	return err
}

func (r *txRepository) MarkFinalized(ctx context.Context, sessionID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_count_sessions SET status=$1, finalized_at=$2 WHERE id=$3`, string(StatusFinalized), at, sessionID)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func listLines(ctx context.Context, q querier, sessionID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT l.id, l.session_id, l.product_id, p.name, l.counted_qty, l.updated_at
FROM stock_count_lines l
JOIN products p ON p.id = l.product_id
WHERE l.session_id=$1 ORDER BY l.product_id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.SessionID, &line.ProductID, &line.ProductName, &line.CountedQty, &line.UpdatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
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
