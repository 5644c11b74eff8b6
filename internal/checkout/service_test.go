package checkout

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	nextID    int64
	products  map[int64]map[int64]ProductSnapshot
	onHand    map[int64]map[int64]int64
	sales     []Sale
	saleItems []SaleItem
	saleMoves int
	txCalls   []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextID:   1,
		products: map[int64]map[int64]ProductSnapshot{},
		onHand:   map[int64]map[int64]int64{},
	}
}

func (r *memoryRepo) addProduct(storeID int64, snap ProductSnapshot, onHand int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.products[storeID] == nil {
		r.products[storeID] = map[int64]ProductSnapshot{}
		r.onHand[storeID] = map[int64]int64{}
	}
	r.products[storeID][snap.ID] = snap
	r.onHand[storeID][snap.ID] = onHand
}

// WithTx serializes callbacks under one mutex, mirroring the row locks the
// SQL implementation takes.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, (*memoryTx)(r))
}

func (r *memoryRepo) GetSale(ctx context.Context, storeID, saleID int64) (Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sales {
		if s.StoreID == storeID && s.ID == saleID {
			for _, item := range r.saleItems {
				if item.SaleID == saleID {
					s.Items = append(s.Items, item)
				}
			}
			return s, nil
		}
	}
	return Sale{}, ErrSaleNotFound
}

func (r *memoryRepo) ListSales(ctx context.Context, storeID int64, limit int) ([]Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Sale{}
	for i := len(r.sales) - 1; i >= 0; i-- {
		if r.sales[i].StoreID == storeID {
			out = append(out, r.sales[i])
		}
	}
	return out, nil
}

type memoryTx memoryRepo

func (t *memoryTx) LockProducts(ctx context.Context, storeID int64, productIDs []int64) ([]ProductSnapshot, error) {
	t.txCalls = append(t.txCalls, "lock")
	snapshots := []ProductSnapshot{}
	for _, id := range productIDs {
		if snap, ok := t.products[storeID][id]; ok {
			snapshots = append(snapshots, snap)
		}
	}
	return snapshots, nil
}

func (t *memoryTx) SumOnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error) {
	t.txCalls = append(t.txCalls, "sum")
	sums := map[int64]int64{}
	for _, id := range productIDs {
		if qty, ok := t.onHand[storeID][id]; ok {
			sums[id] = qty
		}
	}
	return sums, nil
}

func (t *memoryTx) InsertSale(ctx context.Context, sale Sale) (Sale, error) {
	sale.ID = t.nextID
	t.nextID++
	sale.CreatedAt = time.Now().UTC()
	t.sales = append(t.sales, sale)
	return sale, nil
}

func (t *memoryTx) InsertSaleItem(ctx context.Context, item SaleItem) (SaleItem, error) {
	item.ID = t.nextID
	t.nextID++
	t.saleItems = append(t.saleItems, item)
	return item, nil
}

func (t *memoryTx) InsertSaleMovement(ctx context.Context, storeID, productID, saleID, delta int64) error {
	t.onHand[storeID][productID] += delta
	t.saleMoves++
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: map[string]bool{}}
}

func (s *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *memoryIdempotency) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestCheckoutTotals(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, ProductSnapshot{ID: 10, Name: "Americano", PriceCents: 600}, 5)
	repo.addProduct(1, ProductSnapshot{ID: 11, Name: "Croissant", PriceCents: 900}, 5)
	svc := NewService(testLogger(), repo, nil, nil, nil, nil)

	sale, err := svc.Checkout(context.Background(), CheckoutInput{
		StoreID:   1,
		CashierID: 7,
		Lines:     []CartLine{{ProductID: 10, Quantity: 2}, {ProductID: 11, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2100), sale.SubtotalCents)
	assert.Equal(t, int64(0), sale.TaxCents)
	assert.Equal(t, int64(2100), sale.TotalCents)
	require.Len(t, sale.Items, 2)
	assert.Equal(t, "Americano", sale.Items[0].ProductName)
	assert.Equal(t, int64(1200), sale.Items[0].LineTotalCents)

	// Stock was decremented by the SALE movements.
	assert.Equal(t, int64(3), repo.onHand[1][10])
	assert.Equal(t, int64(4), repo.onHand[1][11])
}

func TestCheckoutFlatRateTax(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, ProductSnapshot{ID: 10, Name: "Americano", PriceCents: 600}, 5)
	svc := NewService(testLogger(), repo, FlatRateTax(825), nil, nil, nil)

	sale, err := svc.Checkout(context.Background(), CheckoutInput{
		StoreID:   1,
		CashierID: 7,
		Lines:     []CartLine{{ProductID: 10, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1200), sale.SubtotalCents)
	assert.Equal(t, int64(99), sale.TaxCents)
	assert.Equal(t, int64(1299), sale.TotalCents)
}

func TestCheckoutInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, ProductSnapshot{ID: 10, Name: "Americano", PriceCents: 600}, 1)
	svc := NewService(testLogger(), repo, nil, nil, nil, nil)

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		StoreID:   1,
		CashierID: 7,
		Lines:     []CartLine{{ProductID: 10, Quantity: 2}},
	})
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(10), stockErr.ProductID)
	assert.Equal(t, int64(2), stockErr.Requested)
	assert.Equal(t, int64(1), stockErr.OnHand)

	// Nothing was written.
	assert.Empty(t, repo.sales)
	assert.Zero(t, repo.saleMoves)
	assert.Equal(t, int64(1), repo.onHand[1][10])
}

func TestCheckoutDuplicateLinesMerged(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, ProductSnapshot{ID: 10, Name: "Americano", PriceCents: 600}, 5)
	svc := NewService(testLogger(), repo, nil, nil, nil, nil)

	sale, err := svc.Checkout(context.Background(), CheckoutInput{
		StoreID:   1,
		CashierID: 7,
		Lines:     []CartLine{{ProductID: 10, Quantity: 2}, {ProductID: 10, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, int64(3), sale.Items[0].Quantity)
	assert.Equal(t, int64(1800), sale.SubtotalCents)
}

func TestCheckoutKeepsCartOrder(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, ProductSnapshot{ID: 10, Name: "Americano", PriceCents: 600}, 5)
	repo.addProduct(1, ProductSnapshot{ID: 11, Name: "Croissant", PriceCents: 900}, 5)
	svc := NewService(testLogger(), repo, nil, nil, nil, nil)

	// Items come back in the order they were rung up, not in id order.
	sale, err := svc.Checkout(context.Background(), CheckoutInput{
		StoreID:   1,
		CashierID: 7,
		Lines:     []CartLine{{ProductID: 11, Quantity: 1}, {ProductID: 10, Quantity: 2}},
	})
	require.NoError(t, err)
	require.Len(t, sale.Items, 2)
	assert.Equal(t, int64(11), sale.Items[0].ProductID)
	assert.Equal(t, "Croissant", sale.Items[0].ProductName)
	assert.Equal(t, int64(10), sale.Items[1].ProductID)
}

func TestCheckoutReadsOnHandUnderLock(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, ProductSnapshot{ID: 10, Name: "Americano", PriceCents: 600}, 5)
	svc := NewService(testLogger(), repo, nil, nil, nil, nil)

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		StoreID:   1,
		CashierID: 7,
		Lines:     []CartLine{{ProductID: 10, Quantity: 1}},
	})
	require.NoError(t, err)

	// The on-hand sum must happen after the product rows are locked, or a
	// concurrent sale could slip between the read and the write.
	require.Equal(t, []string{"lock", "sum"}, repo.txCalls)
}

func TestCheckoutValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(testLogger(), repo, nil, nil, nil, nil)

	_, err := svc.Checkout(context.Background(), CheckoutInput{StoreID: 1})
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = svc.Checkout(context.Background(), CheckoutInput{
		StoreID: 1,
		Lines:   []CartLine{{ProductID: 10, Quantity: 0}},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Checkout(context.Background(), CheckoutInput{
		StoreID: 1,
		Lines:   []CartLine{{ProductID: 10, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestCheckoutIdempotency(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, ProductSnapshot{ID: 10, Name: "Americano", PriceCents: 600}, 5)
	guard := newMemoryIdempotency()
	svc := NewService(testLogger(), repo, nil, nil, guard, nil)

	in := CheckoutInput{
		StoreID:        1,
		CashierID:      7,
		Lines:          []CartLine{{ProductID: 10, Quantity: 1}},
		IdempotencyKey: "key-1",
	}
	_, err := svc.Checkout(context.Background(), in)
	require.NoError(t, err)

	_, err = svc.Checkout(context.Background(), in)
	require.ErrorIs(t, err, ErrDuplicateCheckout)
	require.Len(t, repo.sales, 1)
}

func TestCheckoutFailureReleasesIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, ProductSnapshot{ID: 10, Name: "Americano", PriceCents: 600}, 0)
	guard := newMemoryIdempotency()
	svc := NewService(testLogger(), repo, nil, nil, guard, nil)

	in := CheckoutInput{
		StoreID:        1,
		CashierID:      7,
		Lines:          []CartLine{{ProductID: 10, Quantity: 1}},
		IdempotencyKey: "key-1",
	}
	_, err := svc.Checkout(context.Background(), in)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)

	// After restock the same key works again.
	repo.addProduct(1, ProductSnapshot{ID: 10, Name: "Americano", PriceCents: 600}, 1)
	_, err = svc.Checkout(context.Background(), in)
	require.NoError(t, err)
}

func TestConcurrentCheckoutsOversellSafe(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, ProductSnapshot{ID: 10, Name: "Americano", PriceCents: 600}, 1)
	svc := NewService(testLogger(), repo, nil, nil, nil, nil)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(context.Background(), CheckoutInput{
				StoreID:   1,
				CashierID: 7,
				Lines:     []CartLine{{ProductID: 10, Quantity: 1}},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var stockErr *InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		rejected++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, rejected)
	assert.Equal(t, int64(0), repo.onHand[1][10])
}
