package catalog

import (
	"context"
	"fmt"
	"strings"
)

// Service coordinates product operations.
type Service struct {
	repo Repository
}

// NewService builds Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns the store's products, newest first.
func (s *Service) List(ctx context.Context, storeID int64, limit int) ([]Product, error) {
	return s.repo.List(ctx, storeID, limit)
}

// Get retrieves a single product scoped to the store.
func (s *Service) Get(ctx context.Context, storeID, id int64) (Product, error) {
	return s.repo.Get(ctx, storeID, id)
}

// Lookup resolves a product by SKU or barcode, the POS scan path.
func (s *Service) Lookup(ctx context.Context, storeID int64, code string) (Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Product{}, ErrProductNotFound
	}
	return s.repo.FindByCode(ctx, storeID, code)
}

// Create adds a product to the store.
func (s *Service) Create(ctx context.Context, storeID int64, req CreateProductRequest) (Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Product{}, ErrNameRequired
	}
	product := Product{
		StoreID:      storeID,
		Name:         name,
		SKU:          normalizeCode(req.SKU),
		Barcode:      normalizeCode(req.Barcode),
		PriceCents:   req.PriceCents,
		ReorderLevel: req.ReorderLevel,
	}
	created, err := s.repo.Create(ctx, product)
	if err != nil {
		return Product{}, fmt.Errorf("catalog: create product: %w", err)
	}
	return created, nil
}

// Update applies the provided fields to an existing product.
func (s *Service) Update(ctx context.Context, storeID, id int64, req UpdateProductRequest) (Product, error) {
	existing, err := s.repo.Get(ctx, storeID, id)
	if err != nil {
		return Product{}, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return Product{}, ErrNameRequired
		}
		existing.Name = name
	}
	if req.SKU != nil {
		existing.SKU = normalizeCode(req.SKU)
	}
	if req.Barcode != nil {
		existing.Barcode = normalizeCode(req.Barcode)
	}
	if req.PriceCents != nil {
		existing.PriceCents = *req.PriceCents
	}
	if req.ReorderLevel != nil {
		existing.ReorderLevel = *req.ReorderLevel
	}
	if err := s.repo.Update(ctx, existing); err != nil {
		return Product{}, fmt.Errorf("catalog: update product: %w", err)
	}
	return existing, nil
}

// Delete removes a product. Historical movements and sale items survive the
// delete: movements keep their deltas and sale items snapshot price at sale
// time, so reports stay consistent.
func (s *Service) Delete(ctx context.Context, storeID, id int64) error {
	return s.repo.Delete(ctx, storeID, id)
}

func normalizeCode(code *string) *string {
	if code == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*code)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
