// Package ledger is the source of truth for stock. On-hand quantity is never
// stored; it is derived by summing signed deltas from the append-only
// movement ledger. Nothing updates or deletes a movement once written.
package ledger

import (
	"time"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// MovementReceive represents inbound stock; deltas are always positive.
	MovementReceive MovementKind = "RECEIVE"
	// MovementAdjust represents a manual correction; deltas may be any non-zero integer.
	MovementAdjust MovementKind = "ADJUST"
	// MovementSale represents stock sold at checkout; deltas are always negative.
	MovementSale MovementKind = "SALE"
)

// Movement is one immutable ledger entry.
type Movement struct {
	ID             int64        `json:"id"`
	StoreID        int64        `json:"store_id"`
	ProductID      int64        `json:"product_id"`
	Kind           MovementKind `json:"kind"`
	QuantityDelta  int64        `json:"quantity_delta"`
	Note           *string      `json:"note,omitempty"`
	Reference      *string      `json:"reference,omitempty"`
	SaleID         *int64       `json:"sale_id,omitempty"`
	CountSessionID *int64       `json:"count_session_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// AppendInput describes a manual RECEIVE or ADJUST request. The quantity for
// RECEIVE is sign-normalized at entry; ADJUST keeps its sign.
type AppendInput struct {
	StoreID   int64
	ProductID int64
	Kind      MovementKind
	Quantity  int64
	Note      *string
	Reference *string
	ActorID   int64
}

// LowStockItem annotates a product whose on-hand fell to its reorder level.
type LowStockItem struct {
	ProductID    int64   `json:"product_id"`
	Name         string  `json:"name"`
	SKU          *string `json:"sku,omitempty"`
	Barcode      *string `json:"barcode,omitempty"`
	ReorderLevel int64   `json:"reorder_level"`
	OnHand       int64   `json:"on_hand"`
}

var (
	// ErrInvalidQuantity indicates a zero delta or a sign that violates the kind policy.
	ErrInvalidQuantity = httpx.Err(httpx.ErrValidation, "quantity must be a non-zero integer matching the movement kind")
	// ErrInvalidKind indicates an unsupported movement kind.
	ErrInvalidKind = httpx.Err(httpx.ErrValidation, "movement kind must be RECEIVE, ADJUST or SALE")
	// ErrProductNotFound indicates the product does not exist in the caller's store.
	ErrProductNotFound = httpx.Err(httpx.ErrNotFound, "product not found")
)

// NormalizeDelta applies the sign policy for a kind: RECEIVE is forced
// positive, SALE must already be negative, ADJUST passes through.
func NormalizeDelta(kind MovementKind, quantity int64) (int64, error) {
	if quantity == 0 {
		return 0, ErrInvalidQuantity
	}
	switch kind {
	case MovementReceive:
		if quantity < 0 {
			quantity = -quantity
		}
		return quantity, nil
	case MovementAdjust:
		return quantity, nil
	case MovementSale:
		if quantity >= 0 {
			return 0, ErrInvalidQuantity
		}
		return quantity, nil
	default:
		return 0, ErrInvalidKind
	}
}
