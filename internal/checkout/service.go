package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

const idempotencyModule = "checkout"

// StockInvalidator bumps cached on-hand projections after a committed sale.
type StockInvalidator interface {
	InvalidateStore(ctx context.Context, storeID int64)
}

// IdempotencyGuard deduplicates retried checkouts by key.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates checkout processing.
type Service struct {
	logger      *slog.Logger
	repo        RepositoryPort
	tax         TaxPolicy
	invalidator StockInvalidator
	idempotency IdempotencyGuard
	audit       *shared.AuditLogger
}

// NewService builds Service. Invalidator, idempotency guard and audit may be
// nil in tests; a nil tax policy charges no tax.
func NewService(logger *slog.Logger, repo RepositoryPort, tax TaxPolicy, invalidator StockInvalidator, idempotency IdempotencyGuard, audit *shared.AuditLogger) *Service {
	if tax == nil {
		tax = ZeroTax
	}
	return &Service{logger: logger, repo: repo, tax: tax, invalidator: invalidator, idempotency: idempotency, audit: audit}
}

// Checkout processes a cart atomically. Every product row is locked in id
// order before on-hand is derived, so two concurrent carts competing for the
// last unit serialize and exactly one succeeds.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (Sale, error) {
	lines, err := mergeLines(in.Lines)
	if err != nil {
		return Sale{}, err
	}

	if in.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Sale{}, ErrDuplicateCheckout
			}
			return Sale{}, fmt.Errorf("checkout: idempotency: %w", err)
		}
	}

	var sale Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		productIDs := make([]int64, 0, len(lines))
		for _, line := range lines {
			productIDs = append(productIDs, line.ProductID)
		}

		snapshots, err := tx.LockProducts(ctx, in.StoreID, productIDs)
		if err != nil {
			return err
		}
		if len(snapshots) != len(productIDs) {
			return ErrProductNotFound
		}
		byID := make(map[int64]ProductSnapshot, len(snapshots))
		for _, snap := range snapshots {
			byID[snap.ID] = snap
		}

		onHand, err := tx.SumOnHand(ctx, in.StoreID, productIDs)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if onHand[line.ProductID] < line.Quantity {
				return &InsufficientStockError{
					ProductID: line.ProductID,
					Requested: line.Quantity,
					OnHand:    onHand[line.ProductID],
				}
			}
		}

		var subtotal int64
		for _, line := range lines {
			subtotal += byID[line.ProductID].PriceCents * line.Quantity
		}
		tax := s.tax(subtotal)

		sale, err = tx.InsertSale(ctx, Sale{
			StoreID:       in.StoreID,
			CashierID:     in.CashierID,
			SubtotalCents: subtotal,
			TaxCents:      tax,
			TotalCents:    subtotal + tax,
		})
		if err != nil {
			return err
		}
		for _, line := range lines {
			snap := byID[line.ProductID]
			item, err := tx.InsertSaleItem(ctx, SaleItem{
				SaleID:         sale.ID,
				ProductID:      line.ProductID,
				ProductName:    snap.Name,
				UnitPriceCents: snap.PriceCents,
				Quantity:       line.Quantity,
				LineTotalCents: snap.PriceCents * line.Quantity,
			})
			if err != nil {
				return err
			}
			sale.Items = append(sale.Items, item)
			if err := tx.InsertSaleMovement(ctx, in.StoreID, line.ProductID, sale.ID, -line.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// A failed checkout releases its key so the client can retry.
		if in.IdempotencyKey != "" && s.idempotency != nil && !errors.Is(err, ErrDuplicateCheckout) {
			if delErr := s.idempotency.Delete(ctx, in.IdempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		return Sale{}, err
	}

	if s.invalidator != nil {
		s.invalidator.InvalidateStore(ctx, in.StoreID)
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			StoreID:  in.StoreID,
			ActorID:  in.CashierID,
			Action:   "checkout.complete",
			Entity:   "sale",
			EntityID: strconv.FormatInt(sale.ID, 10),
			Meta: map[string]any{
				"total_cents": sale.TotalCents,
				"line_count":  len(sale.Items),
			},
		}); err != nil {
			s.logger.Warn("record audit log", slog.Any("error", err))
		}
	}
	return sale, nil
}

// GetSale loads one sale with its items.
func (s *Service) GetSale(ctx context.Context, storeID, saleID int64) (Sale, error) {
	return s.repo.GetSale(ctx, storeID, saleID)
}

// ListSales returns the store's recent sales.
func (s *Service) ListSales(ctx context.Context, storeID int64, limit int) ([]Sale, error) {
	return s.repo.ListSales(ctx, storeID, limit)
}

// mergeLines validates quantities and folds duplicate product lines into one,
// preserving first-seen order so receipts read in the order items were rung
// up. Lock ordering is handled by the repository, which locks in id order
// regardless of cart order.
func mergeLines(lines []CartLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	merged := make([]CartLine, 0, len(lines))
	index := map[int64]int{}
	for _, line := range lines {
		if line.ProductID <= 0 || line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}
