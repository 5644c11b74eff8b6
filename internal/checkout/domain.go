// Package checkout processes point-of-sale transactions. A checkout is one
// atomic unit: the sale record, its line items and the negative SALE
// movements commit together or not at all, so stock can never go below zero
// under concurrent carts.
package checkout

import (
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// CartLine is one requested product and quantity.
type CartLine struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

// SaleItem snapshots the product name and unit price at sale time. Later
// catalog edits or deletes never change a past receipt.
type SaleItem struct {
	ID             int64  `json:"id"`
	SaleID         int64  `json:"sale_id"`
	ProductID      int64  `json:"product_id"`
	ProductName    string `json:"product_name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int64  `json:"quantity"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// Sale is a completed checkout.
type Sale struct {
	ID            int64      `json:"id"`
	StoreID       int64      `json:"store_id"`
	CashierID     int64      `json:"cashier_id"`
	SubtotalCents int64      `json:"subtotal_cents"`
	TaxCents      int64      `json:"tax_cents"`
	TotalCents    int64      `json:"total_cents"`
	CreatedAt     time.Time  `json:"created_at"`
	Items         []SaleItem `json:"items,omitempty"`
}

// CheckoutInput describes one checkout request.
type CheckoutInput struct {
	StoreID        int64
	CashierID      int64
	Lines          []CartLine
	IdempotencyKey string
}

// TaxPolicy computes tax in cents from a subtotal in cents. The default
// policy charges no tax; stores with a flat rate plug in their own.
type TaxPolicy func(subtotalCents int64) int64

// ZeroTax charges no tax.
func ZeroTax(int64) int64 { return 0 }

// FlatRateTax returns a policy charging the given basis-point rate, rounded
// down to whole cents.
func FlatRateTax(basisPoints int64) TaxPolicy {
	return func(subtotalCents int64) int64 {
		return subtotalCents * basisPoints / 10000
	}
}

var (
	// ErrEmptyCart indicates a checkout with no lines.
	ErrEmptyCart = httpx.Err(httpx.ErrValidation, "cart must contain at least one line")
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = httpx.Err(httpx.ErrValidation, "line quantity must be a positive integer")
	// ErrProductNotFound indicates a cart line references a product outside the caller's store.
	ErrProductNotFound = httpx.Err(httpx.ErrNotFound, "product not found")
	// ErrSaleNotFound indicates the sale does not exist in the caller's store.
	ErrSaleNotFound = httpx.Err(httpx.ErrNotFound, "sale not found")
	// ErrDuplicateCheckout indicates the idempotency key was already processed.
	ErrDuplicateCheckout = httpx.Err(httpx.ErrConflict, "checkout already processed")
)

// InsufficientStockError reports the first cart line whose requested quantity
// exceeded derived on-hand. The whole checkout is rejected; no partial sale
// is written.
type InsufficientStockError struct {
	ProductID int64
	Requested int64
	OnHand    int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, on hand %d", e.ProductID, e.Requested, e.OnHand)
}

// Is matches the conflict kind so handlers respond 409.
func (e *InsufficientStockError) Is(target error) bool {
	return target == httpx.ErrConflict
}

// Details returns the structured payload for the problem response.
func (e *InsufficientStockError) Details() map[string]any {
	return map[string]any{
		"product_id": e.ProductID,
		"requested":  e.Requested,
		"on_hand":    e.OnHand,
	}
}
