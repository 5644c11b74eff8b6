package stockcount

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu       sync.Mutex
	nextID   int64
	products map[int64]map[int64]string
	onHand   map[int64]map[int64]int64
	sessions map[int64]*Session
	lines    map[int64][]Line
	adjusts  []adjustment

	// afterGetSession runs after GetSession returns, outside the lock.
	afterGetSession func()
}

type adjustment struct {
	storeID   int64
	productID int64
	sessionID int64
	delta     int64
	note      string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextID:   1,
		products: map[int64]map[int64]string{},
		onHand:   map[int64]map[int64]int64{},
		sessions: map[int64]*Session{},
		lines:    map[int64][]Line{},
	}
}

func (r *memoryRepo) addProduct(storeID, productID int64, name string, onHand int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.products[storeID] == nil {
		r.products[storeID] = map[int64]string{}
		r.onHand[storeID] = map[int64]int64{}
	}
	r.products[storeID][productID] = name
	r.onHand[storeID][productID] = onHand
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, (*memoryTx)(r))
}

func (r *memoryRepo) CreateSession(ctx context.Context, session Session) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session.ID = r.nextID
	r.nextID++
	session.Status = StatusOpen
	session.CreatedAt = time.Now().UTC()
	stored := session
	r.sessions[session.ID] = &stored
	return session, nil
}

func (r *memoryRepo) GetSession(ctx context.Context, storeID, sessionID int64) (Session, error) {
	r.mu.Lock()
	s, err := r.getSessionLocked(storeID, sessionID)
	r.mu.Unlock()
	if r.afterGetSession != nil {
		r.afterGetSession()
	}
	return s, err
}

func (r *memoryRepo) getSessionLocked(storeID, sessionID int64) (Session, error) {
	s, ok := r.sessions[sessionID]
	if !ok || s.StoreID != storeID {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

func (r *memoryRepo) ListSessions(ctx context.Context, storeID int64, limit int) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Session{}
	for _, s := range r.sessions {
		if s.StoreID == storeID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListLines(ctx context.Context, sessionID int64) ([]Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Line{}, r.lines[sessionID]...), nil
}

func (r *memoryRepo) UpsertLine(ctx context.Context, sessionID, productID, countedQty int64) (Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; !ok || s.Status != StatusOpen {
		return Line{}, ErrSessionFinalized
	}
	existing := r.lines[sessionID]
	for i := range existing {
		if existing[i].ProductID == productID {
			existing[i].CountedQty = countedQty
			existing[i].UpdatedAt = time.Now().UTC()
			return existing[i], nil
		}
	}
	line := Line{ID: r.nextID, SessionID: sessionID, ProductID: productID, CountedQty: countedQty, UpdatedAt: time.Now().UTC()}
	r.nextID++
	r.lines[sessionID] = append(existing, line)
	return line, nil
}

func (r *memoryRepo) ProductExists(ctx context.Context, storeID, productID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.products[storeID][productID]
	return ok, nil
}

func (r *memoryRepo) SumOnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sumLocked(storeID, productIDs), nil
}

func (r *memoryRepo) sumLocked(storeID int64, productIDs []int64) map[int64]int64 {
	sums := map[int64]int64{}
	for _, id := range productIDs {
		if qty, ok := r.onHand[storeID][id]; ok {
			sums[id] = qty
		}
	}
	return sums
}

type memoryTx memoryRepo

func (t *memoryTx) GetSessionForUpdate(ctx context.Context, storeID, sessionID int64) (Session, error) {
	return (*memoryRepo)(t).getSessionLocked(storeID, sessionID)
}

func (t *memoryTx) ListLines(ctx context.Context, sessionID int64) ([]Line, error) {
	return append([]Line{}, t.lines[sessionID]...), nil
}

func (t *memoryTx) LockProducts(ctx context.Context, storeID int64, productIDs []int64) ([]int64, error) {
	found := []int64{}
	for _, id := range productIDs {
		if _, ok := t.products[storeID][id]; ok {
			found = append(found, id)
		}
	}
	return found, nil
}

func (t *memoryTx) SumOnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error) {
	return (*memoryRepo)(t).sumLocked(storeID, productIDs), nil
}

func (t *memoryTx) InsertAdjustment(ctx context.Context, storeID, productID, sessionID, delta int64, note string, reference *string) error {
	t.onHand[storeID][productID] += delta
	t.adjusts = append(t.adjusts, adjustment{storeID: storeID, productID: productID, sessionID: sessionID, delta: delta, note: note})
	return nil
}

func (t *memoryTx) MarkFinalized(ctx context.Context, sessionID int64, at time.Time) error {
	s := t.sessions[sessionID]
	s.Status = StatusFinalized
	s.FinalizedAt = &at
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSetCountAndGetSessionDiffs(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 10, "Americano", 8)
	repo.addProduct(1, 11, "Croissant", 3)
	svc := NewService(testLogger(), repo, nil, nil)

	session, err := svc.CreateSession(context.Background(), 1, 7, nil, nil)
	require.NoError(t, err)

	_, err = svc.SetCount(context.Background(), 1, session.ID, 10, 6)
	require.NoError(t, err)
	_, err = svc.SetCount(context.Background(), 1, session.ID, 11, 3)
	require.NoError(t, err)

	// Recounting the same product replaces the earlier value.
	_, err = svc.SetCount(context.Background(), 1, session.ID, 10, 5)
	require.NoError(t, err)

	loaded, err := svc.GetSession(context.Background(), 1, session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 2)
	assert.Equal(t, int64(5), loaded.Lines[0].CountedQty)
	assert.Equal(t, int64(8), loaded.Lines[0].OnHand)
	assert.Equal(t, int64(-3), loaded.Lines[0].Diff)
	assert.Equal(t, int64(0), loaded.Lines[1].Diff)
}

func TestSetCountValidation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 10, "Americano", 8)
	svc := NewService(testLogger(), repo, nil, nil)

	session, err := svc.CreateSession(context.Background(), 1, 7, nil, nil)
	require.NoError(t, err)

	_, err = svc.SetCount(context.Background(), 1, session.ID, 10, -1)
	require.ErrorIs(t, err, ErrInvalidCount)

	_, err = svc.SetCount(context.Background(), 1, session.ID, 99, 1)
	require.ErrorIs(t, err, ErrProductNotFound)

	_, err = svc.SetCount(context.Background(), 1, 999, 10, 1)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFinalizePostsAdjustments(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 10, "Americano", 8)
	repo.addProduct(1, 11, "Croissant", 3)
	repo.addProduct(1, 12, "Bagel", 5)
	svc := NewService(testLogger(), repo, nil, nil)

	session, err := svc.CreateSession(context.Background(), 1, 7, nil, nil)
	require.NoError(t, err)

	_, err = svc.SetCount(context.Background(), 1, session.ID, 10, 5)
	require.NoError(t, err)
	_, err = svc.SetCount(context.Background(), 1, session.ID, 11, 4)
	require.NoError(t, err)
	_, err = svc.SetCount(context.Background(), 1, session.ID, 12, 5)
	require.NoError(t, err)

	result, err := svc.Finalize(context.Background(), 1, session.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, result.Session.Status)
	require.NotNil(t, result.Session.FinalizedAt)

	// Only the two discrepant products get adjustments.
	assert.Equal(t, 2, result.AdjustmentCount)
	require.Len(t, repo.adjusts, 2)
	assert.Equal(t, int64(-3), repo.adjusts[0].delta)
	assert.Equal(t, "Stock count", repo.adjusts[0].note)
	assert.Equal(t, int64(1), repo.adjusts[1].delta)

	// On-hand now matches the counted quantities.
	assert.Equal(t, int64(5), repo.onHand[1][10])
	assert.Equal(t, int64(4), repo.onHand[1][11])
	assert.Equal(t, int64(5), repo.onHand[1][12])
}

func TestFinalizeUsesSessionNote(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 10, "Americano", 8)
	svc := NewService(testLogger(), repo, nil, nil)

	note := "Quarterly count"
	session, err := svc.CreateSession(context.Background(), 1, 7, &note, nil)
	require.NoError(t, err)

	_, err = svc.SetCount(context.Background(), 1, session.ID, 10, 6)
	require.NoError(t, err)

	_, err = svc.Finalize(context.Background(), 1, session.ID, 7)
	require.NoError(t, err)
	require.Len(t, repo.adjusts, 1)
	assert.Equal(t, "Quarterly count", repo.adjusts[0].note)
}

func TestFinalizeGuards(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 10, "Americano", 8)
	svc := NewService(testLogger(), repo, nil, nil)

	session, err := svc.CreateSession(context.Background(), 1, 7, nil, nil)
	require.NoError(t, err)

	// Empty session cannot finalize.
	_, err = svc.Finalize(context.Background(), 1, session.ID, 7)
	require.ErrorIs(t, err, ErrNoCountedItems)

	_, err = svc.SetCount(context.Background(), 1, session.ID, 10, 8)
	require.NoError(t, err)
	_, err = svc.Finalize(context.Background(), 1, session.ID, 7)
	require.NoError(t, err)

	// Second finalize and further counts are rejected.
	_, err = svc.Finalize(context.Background(), 1, session.ID, 7)
	require.ErrorIs(t, err, ErrSessionFinalized)
	_, err = svc.SetCount(context.Background(), 1, session.ID, 10, 9)
	require.ErrorIs(t, err, ErrSessionFinalized)
}

func TestSetCountLosesRaceWithFinalize(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 10, "Americano", 8)
	svc := NewService(testLogger(), repo, nil, nil)

	session, err := svc.CreateSession(context.Background(), 1, 7, nil, nil)
	require.NoError(t, err)

	_, err = svc.SetCount(context.Background(), 1, session.ID, 10, 6)
	require.NoError(t, err)

	// Finalize lands after SetCount's status check but before the line write.
	repo.afterGetSession = func() {
		repo.afterGetSession = nil
		_, err := svc.Finalize(context.Background(), 1, session.ID, 7)
		require.NoError(t, err)
	}
	_, err = svc.SetCount(context.Background(), 1, session.ID, 10, 9)
	require.ErrorIs(t, err, ErrSessionFinalized)

	// The frozen session keeps the quantity it was finalized with.
	lines, err := repo.ListLines(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(6), lines[0].CountedQty)
}

func TestFinalizeScopedToStore(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(1, 10, "Americano", 8)
	svc := NewService(testLogger(), repo, nil, nil)

	session, err := svc.CreateSession(context.Background(), 1, 7, nil, nil)
	require.NoError(t, err)

	_, err = svc.Finalize(context.Background(), 2, session.ID, 7)
	require.ErrorIs(t, err, ErrSessionNotFound)
}
