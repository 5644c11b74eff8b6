package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewLowStockScanHandler returns the handler for TaskLowStockScan. It derives
// on-hand from the movement ledger per product and logs every product at or
// below its reorder level so operators can restock.
func NewLowStockScanHandler(logger *slog.Logger, pool *pgxpool.Pool) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LowStockScanPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}

		query := `SELECT p.store_id, p.id, p.name, p.reorder_level, COALESCE(SUM(m.quantity_delta), 0) AS on_hand
FROM products p
LEFT JOIN stock_movements m ON m.store_id = p.store_id AND m.product_id = p.id
WHERE p.reorder_level > 0 AND ($1 = 0 OR p.store_id = $1)
GROUP BY p.store_id, p.id, p.name, p.reorder_level
HAVING COALESCE(SUM(m.quantity_delta), 0) <= p.reorder_level
ORDER BY p.store_id, p.name`
		rows, err := pool.Query(ctx, query, payload.StoreID)
		if err != nil {
			return err
		}
		defer rows.Close()

		flagged := 0
		for rows.Next() {
			var storeID, productID, reorderLevel, onHand int64
			var name string
			if err := rows.Scan(&storeID, &productID, &name, &reorderLevel, &onHand); err != nil {
				return err
			}
			flagged++
			logger.Warn("low stock",
				slog.Int64("store_id", storeID),
				slog.Int64("product_id", productID),
				slog.String("product", name),
				slog.Int64("on_hand", onHand),
				slog.Int64("reorder_level", reorderLevel))
		}
		if err := rows.Err(); err != nil {
			return err
		}
		logger.Info("low stock scan complete", slog.Int64("store_id", payload.StoreID), slog.Int("flagged", flagged))
		return nil
	}
}
