package review

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/dedup"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/reconcile"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository/memstore"
	"github.com/joseph-ayodele/receipt-reconciler/internal/utils"
)

const owner = "user-1"

// seedDuplicates stores n settled receipts that share a key and flags all
// but the first with the scanner, leaving n-1 pending pairs.
func seedDuplicates(t *testing.T, store *memstore.Receipts, merchant string, n int) {
	t.Helper()
	ctx := context.Background()
	d, err := utils.ParseYMD("2024-03-01")
	require.NoError(t, err)
	start := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := store.Create(ctx, &entity.Receipt{
			OwnerID: owner, MerchantName: merchant, TxDate: &d, Total: utils.Ptr(10.0),
			Status: constants.StatusSettled, CreatedAt: start.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err = dedup.NewScanner(store, 0, nil, nil).Scan(ctx, owner, dedup.ScanModeFlag)
	require.NoError(t, err)
}

func newSession(t *testing.T, store *memstore.Receipts) *Session {
	t.Helper()
	s := NewSession(reconcile.NewService(store, nil, nil), owner)
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestSession_NavigationDoesNotMutate(t *testing.T) {
	store := memstore.NewReceipts()
	seedDuplicates(t, store, "Costco", 4)
	before := store.All()
	s := newSession(t, store)

	require.Equal(t, 3, s.Len())
	assert.Equal(t, 0, s.Position())
	assert.False(t, s.Prev())
	assert.True(t, s.Next())
	assert.True(t, s.Next())
	assert.False(t, s.Next())
	assert.Equal(t, 2, s.Position())
	assert.True(t, s.Prev())
	assert.Equal(t, 1, s.Position())

	assert.Equal(t, before, store.All())
}

func TestSession_ResolveAdvancesAndClamps(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewReceipts()
	seedDuplicates(t, store, "Costco", 4)
	s := newSession(t, store)

	s.Next()
	s.Next()
	last, ok := s.Current()
	require.True(t, ok)

	require.NoError(t, s.Resolve(ctx, reconcile.Keep))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.Position(), "cursor clamps to the new last item")

	got, err := store.Get(ctx, owner, last.Duplicate.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusSettled, got.Status)

	require.NoError(t, s.Resolve(ctx, reconcile.Delete))
	require.NoError(t, s.Resolve(ctx, reconcile.Delete))
	assert.True(t, s.Done())
	_, ok = s.Current()
	assert.False(t, ok)

	err = s.Resolve(ctx, reconcile.Keep)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestSession_ResolveOrphanedPair(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewReceipts()
	seedDuplicates(t, store, "Costco", 2)
	s := newSession(t, store)

	pair, ok := s.Current()
	require.True(t, ok)
	require.NoError(t, store.ApplyPatches(ctx, owner, []entity.ReceiptPatch{entity.DiscardPatch(pair.Original.ID)}))
	require.NoError(t, s.Load(ctx))

	pair, ok = s.Current()
	require.True(t, ok)
	assert.Nil(t, pair.Original)

	require.NoError(t, s.Resolve(ctx, reconcile.Merge))
	assert.True(t, s.Done())
	got, err := store.Get(ctx, owner, pair.Duplicate.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusSettled, got.Status)
}

func TestSession_ResolveAllUsesLiveSet(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewReceipts()
	seedDuplicates(t, store, "Costco", 3)
	s := newSession(t, store)
	require.Equal(t, 2, s.Len())

	// more duplicates arrive after the session loaded
	seedDuplicates(t, store, "Target", 3)

	res, err := s.ResolveAll(ctx, reconcile.Delete)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Attempted)
	assert.Equal(t, 4, res.Resolved)
	assert.True(t, s.Done())
}

func TestSession_ConcurrentNavigation(t *testing.T) {
	store := memstore.NewReceipts()
	seedDuplicates(t, store, "Costco", 6)
	s := newSession(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(forward bool) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if forward {
					s.Next()
				} else {
					s.Prev()
				}
				_, _ = s.Current()
			}
		}(i%2 == 0)
	}
	wg.Wait()
	assert.GreaterOrEqual(t, s.Position(), 0)
	assert.Less(t, s.Position(), s.Len())
}
