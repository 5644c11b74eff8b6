package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// RepositoryPort is the persistence contract the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	SumOnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error)
	ListMovements(ctx context.Context, storeID int64, limit int) ([]Movement, error)
	LowStock(ctx context.Context, storeID int64) ([]LowStockItem, error)
	ProductExists(ctx context.Context, storeID, productID int64) (bool, error)
}

// Service coordinates ledger operations.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	cache  *OnHandCache
	audit  *shared.AuditLogger
}

// NewService builds Service. Cache and audit may be nil in tests.
func NewService(logger *slog.Logger, repo RepositoryPort, cache *OnHandCache, audit *shared.AuditLogger) *Service {
	return &Service{logger: logger, repo: repo, cache: cache, audit: audit}
}

// Append records a manual RECEIVE or ADJUST movement. SALE movements are only
// written by checkout inside its own transaction, never through this path.
func (s *Service) Append(ctx context.Context, in AppendInput) (Movement, error) {
	if in.Kind == MovementSale {
		return Movement{}, ErrInvalidKind
	}
	delta, err := NormalizeDelta(in.Kind, in.Quantity)
	if err != nil {
		return Movement{}, err
	}
	exists, err := s.repo.ProductExists(ctx, in.StoreID, in.ProductID)
	if err != nil {
		return Movement{}, fmt.Errorf("ledger: check product: %w", err)
	}
	if !exists {
		return Movement{}, ErrProductNotFound
	}

	var appended Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockProducts(ctx, in.StoreID, []int64{in.ProductID}); err != nil {
			return err
		}
		appended, err = tx.InsertMovement(ctx, Movement{
			StoreID:       in.StoreID,
			ProductID:     in.ProductID,
			Kind:          in.Kind,
			QuantityDelta: delta,
			Note:          in.Note,
			Reference:     in.Reference,
		})
		return err
	})
	if err != nil {
		return Movement{}, fmt.Errorf("ledger: append movement: %w", err)
	}

	if err := s.cache.Bump(ctx, in.StoreID); err != nil {
		s.logger.Warn("bump on-hand cache", slog.Any("error", err), slog.Int64("store_id", in.StoreID))
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			StoreID:  in.StoreID,
			ActorID:  in.ActorID,
			Action:   "ledger.append",
			Entity:   "stock_movement",
			EntityID: strconv.FormatInt(appended.ID, 10),
			Meta: map[string]any{
				"product_id":     appended.ProductID,
				"kind":           appended.Kind,
				"quantity_delta": appended.QuantityDelta,
			},
		}); err != nil {
			s.logger.Warn("record audit log", slog.Any("error", err))
		}
	}
	return appended, nil
}

// OnHand returns derived stock levels for the requested products. Products
// without movements report zero. Reads go through the versioned cache.
func (s *Service) OnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error) {
	if len(productIDs) == 0 {
		return map[int64]int64{}, nil
	}
	load := func(ctx context.Context) (any, error) {
		sums, err := s.repo.SumOnHand(ctx, storeID, productIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range productIDs {
			if _, ok := sums[id]; !ok {
				sums[id] = 0
			}
		}
		return sums, nil
	}

	key, err := s.cache.BuildKey(ctx, storeID, "onhand", joinIDs(productIDs))
	if err != nil {
		s.logger.Warn("build cache key", slog.Any("error", err))
		raw, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return raw.(map[int64]int64), nil
	}
	sums := map[int64]int64{}
	if err := s.cache.Fetch(ctx, key, &sums, load); err != nil {
		return nil, fmt.Errorf("ledger: on-hand: %w", err)
	}
	return sums, nil
}

// ListMovements returns the store's recent movements, newest first.
func (s *Service) ListMovements(ctx context.Context, storeID int64, limit int) ([]Movement, error) {
	return s.repo.ListMovements(ctx, storeID, limit)
}

// LowStock lists products at or below their reorder level. Products with a
// zero reorder level never alert.
func (s *Service) LowStock(ctx context.Context, storeID int64) ([]LowStockItem, error) {
	return s.repo.LowStock(ctx, storeID)
}

// InvalidateStore bumps the store's cache version. Checkout and stock-count
// call this after committing transactions that wrote movements.
func (s *Service) InvalidateStore(ctx context.Context, storeID int64) {
	if err := s.cache.Bump(ctx, storeID); err != nil {
		s.logger.Warn("bump on-hand cache", slog.Any("error", err), slog.Int64("store_id", storeID))
	}
}

// joinIDs renders a sorted id list so equivalent requests share a cache key.
func joinIDs(ids []int64) string {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	slices.Sort(sorted)
	out := make([]byte, 0, len(sorted)*4)
	for i, id := range sorted {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendInt(out, id, 10)
	}
	return string(out)
}
