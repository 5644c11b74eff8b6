package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	nextID   int64
	products map[int64]Product
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, products: map[int64]Product{}}
}

func (r *memoryRepo) List(ctx context.Context, storeID int64, limit int) ([]Product, error) {
	out := []Product{}
	for _, p := range r.products {
		if p.StoreID == storeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) Get(ctx context.Context, storeID, id int64) (Product, error) {
	p, ok := r.products[id]
	if !ok || p.StoreID != storeID {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *memoryRepo) FindByCode(ctx context.Context, storeID int64, code string) (Product, error) {
	for _, p := range r.products {
		if p.StoreID != storeID {
			continue
		}
		if (p.SKU != nil && *p.SKU == code) || (p.Barcode != nil && *p.Barcode == code) {
			return p, nil
		}
	}
	return Product{}, ErrProductNotFound
}

func (r *memoryRepo) Create(ctx context.Context, product Product) (Product, error) {
	for _, existing := range r.products {
		if existing.StoreID == product.StoreID && existing.SKU != nil && product.SKU != nil && *existing.SKU == *product.SKU {
			return Product{}, ErrSKUTaken
		}
	}
	product.ID = r.nextID
	r.nextID++
	product.CreatedAt = time.Now().UTC()
	product.UpdatedAt = product.CreatedAt
	r.products[product.ID] = product
	return product, nil
}

func (r *memoryRepo) Update(ctx context.Context, product Product) error {
	existing, ok := r.products[product.ID]
	if !ok || existing.StoreID != product.StoreID {
		return ErrProductNotFound
	}
	r.products[product.ID] = product
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, storeID, id int64) error {
	p, ok := r.products[id]
	if !ok || p.StoreID != storeID {
		return ErrProductNotFound
	}
	delete(r.products, id)
	return nil
}

func strptr(s string) *string { return &s }

func TestCreateProduct(t *testing.T) {
	svc := NewService(newMemoryRepo())

	created, err := svc.Create(context.Background(), 1, CreateProductRequest{
		Name:       "  Americano  ",
		SKU:        strptr(" AMR-01 "),
		PriceCents: 600,
	})
	require.NoError(t, err)
	assert.Equal(t, "Americano", created.Name)
	require.NotNil(t, created.SKU)
	assert.Equal(t, "AMR-01", *created.SKU)
	assert.Nil(t, created.Barcode)

	_, err = svc.Create(context.Background(), 1, CreateProductRequest{Name: "   "})
	require.ErrorIs(t, err, ErrNameRequired)

	// Blank codes normalize to absent rather than empty string.
	blank, err := svc.Create(context.Background(), 1, CreateProductRequest{Name: "Bagel", SKU: strptr("  ")})
	require.NoError(t, err)
	assert.Nil(t, blank.SKU)
}

func TestCreateProductDuplicateSKU(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Create(context.Background(), 1, CreateProductRequest{Name: "Americano", SKU: strptr("AMR-01")})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), 1, CreateProductRequest{Name: "Another", SKU: strptr("AMR-01")})
	require.ErrorIs(t, err, ErrSKUTaken)
}

func TestUpdateProductPartial(t *testing.T) {
	svc := NewService(newMemoryRepo())

	created, err := svc.Create(context.Background(), 1, CreateProductRequest{Name: "Americano", PriceCents: 600, ReorderLevel: 5})
	require.NoError(t, err)

	price := int64(650)
	updated, err := svc.Update(context.Background(), 1, created.ID, UpdateProductRequest{PriceCents: &price})
	require.NoError(t, err)
	assert.Equal(t, int64(650), updated.PriceCents)
	assert.Equal(t, "Americano", updated.Name)
	assert.Equal(t, int64(5), updated.ReorderLevel)

	empty := ""
	_, err = svc.Update(context.Background(), 1, created.ID, UpdateProductRequest{Name: &empty})
	require.ErrorIs(t, err, ErrNameRequired)
}

func TestLookupByCode(t *testing.T) {
	svc := NewService(newMemoryRepo())

	created, err := svc.Create(context.Background(), 1, CreateProductRequest{
		Name:    "Americano",
		SKU:     strptr("AMR-01"),
		Barcode: strptr("4006381333931"),
	})
	require.NoError(t, err)

	bySKU, err := svc.Lookup(context.Background(), 1, "AMR-01")
	require.NoError(t, err)
	assert.Equal(t, created.ID, bySKU.ID)

	byBarcode, err := svc.Lookup(context.Background(), 1, "4006381333931")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byBarcode.ID)

	_, err = svc.Lookup(context.Background(), 1, "")
	require.ErrorIs(t, err, ErrProductNotFound)

	// Lookups never cross store boundaries.
	_, err = svc.Lookup(context.Background(), 2, "AMR-01")
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestDeleteProduct(t *testing.T) {
	svc := NewService(newMemoryRepo())

	created, err := svc.Create(context.Background(), 1, CreateProductRequest{Name: "Americano"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(context.Background(), 2, created.ID), ErrProductNotFound)
	require.NoError(t, svc.Delete(context.Background(), 1, created.ID))
	_, err = svc.Get(context.Background(), 1, created.ID)
	require.ErrorIs(t, err, ErrProductNotFound)
}
