// Package catalog manages the per-store product list.
package catalog

import (
	"time"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Product belongs to exactly one store. Prices are integer minor currency
// units; a reorder level of 0 means the product is never flagged low.
type Product struct {
	ID           int64     `json:"id"`
	StoreID      int64     `json:"store_id"`
	Name         string    `json:"name"`
	SKU          *string   `json:"sku,omitempty"`
	Barcode      *string   `json:"barcode,omitempty"`
	PriceCents   int64     `json:"price_cents"`
	ReorderLevel int64     `json:"reorder_level"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateProductRequest is the payload for creating a product.
type CreateProductRequest struct {
	Name         string  `json:"name" validate:"required,max=200"`
	SKU          *string `json:"sku,omitempty" validate:"omitempty,max=64"`
	Barcode      *string `json:"barcode,omitempty" validate:"omitempty,max=64"`
	PriceCents   int64   `json:"price_cents" validate:"gte=0"`
	ReorderLevel int64   `json:"reorder_level" validate:"gte=0"`
}

// UpdateProductRequest carries optional field updates.
type UpdateProductRequest struct {
	Name         *string `json:"name,omitempty" validate:"omitempty,max=200"`
	SKU          *string `json:"sku,omitempty" validate:"omitempty,max=64"`
	Barcode      *string `json:"barcode,omitempty" validate:"omitempty,max=64"`
	PriceCents   *int64  `json:"price_cents,omitempty" validate:"omitempty,gte=0"`
	ReorderLevel *int64  `json:"reorder_level,omitempty" validate:"omitempty,gte=0"`
}

var (
	// ErrProductNotFound indicates the product does not exist in the caller's store.
	ErrProductNotFound = httpx.Err(httpx.ErrNotFound, "product not found")
	// ErrSKUTaken indicates another product in the store already uses the SKU.
	ErrSKUTaken = httpx.Err(httpx.ErrConflict, "sku already in use")
	// ErrNameRequired indicates a missing product name.
	ErrNameRequired = httpx.Err(httpx.ErrValidation, "product name is required")
)
