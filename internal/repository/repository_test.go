package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/quota"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository"
	"github.com/joseph-ayodele/receipt-reconciler/internal/utils"
)

func openTestDB(t *testing.T) *repository.DB {
	t.Helper()
	db, err := repository.OpenSQLite(":memory:", discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(discardLogger()) })
	require.NoError(t, db.HealthCheck(context.Background(), time.Second, discardLogger()))
	require.NoError(t, db.Migrate(context.Background(), discardLogger()))
	// applying the schema twice is harmless
	require.NoError(t, db.Migrate(context.Background(), discardLogger()))
	return db
}

func day(t *testing.T, s string) *time.Time {
	t.Helper()
	d, err := utils.ParseYMD(s)
	require.NoError(t, err)
	return &d
}

func TestReceiptRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewReceiptRepository(openTestDB(t), discardLogger())

	key := "costco|2024-03-01|54.20"
	created, err := repo.Create(ctx, &entity.Receipt{
		OwnerID: "u1", MerchantName: "Costco", TxDate: day(t, "2024-03-01"), TxType: constants.TxRefund,
		Total: utils.Ptr(54.2), CurrencyCode: "USD", Category: "Groceries", Source: constants.SourceCSV,
		CanonicalKey: &key,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, constants.StatusSettled, created.Status)

	got, err := repo.Get(ctx, "u1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "2024-03-01", got.TxDate.Format(utils.DateLayout))
	assert.Equal(t, constants.TxRefund, got.TxType)
	assert.Equal(t, 54.2, *got.Total)
	assert.Equal(t, key, *got.CanonicalKey)
	assert.Nil(t, got.OriginalReceiptID)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

	// nullable columns round-trip as nil
	bare, err := repo.Create(ctx, &entity.Receipt{OwnerID: "u1", MerchantName: "Cafe"})
	require.NoError(t, err)
	got, err = repo.Get(ctx, "u1", bare.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TxDate)
	assert.Nil(t, got.Total)
	assert.Nil(t, got.CanonicalKey)

	_, err = repo.Get(ctx, "u2", created.ID)
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
	_, err = repo.Get(ctx, "u1", uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReceiptRepository_UpdateAndDiscard(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewReceiptRepository(openTestDB(t), discardLogger())

	rec, err := repo.Create(ctx, &entity.Receipt{OwnerID: "u1", MerchantName: "Costco", Total: utils.Ptr(1.0)})
	require.NoError(t, err)

	rec.MerchantName = "Costco Wholesale"
	rec.Total = nil
	require.NoError(t, repo.Update(ctx, rec))
	got, err := repo.Get(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Costco Wholesale", got.MerchantName)
	assert.Nil(t, got.Total)

	require.NoError(t, repo.ApplyPatches(ctx, "u1", []entity.ReceiptPatch{entity.DiscardPatch(rec.ID)}))
	_, err = repo.Get(ctx, "u1", rec.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = repo.Get(ctx, "u2", rec.ID)
	assert.ErrorIs(t, err, common.ErrPermissionDenied, "owner is checked before status")
	assert.ErrorIs(t, repo.Update(ctx, rec), common.ErrNotFound)

	missing := &entity.Receipt{ID: uuid.New(), OwnerID: "u1"}
	assert.ErrorIs(t, repo.Update(ctx, missing), common.ErrNotFound)
}

func TestReceiptRepository_Lists(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewReceiptRepository(openTestDB(t), discardLogger())
	base := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	key := "k"

	mk := func(i int, date string, status constants.ReceiptStatus) *entity.Receipt {
		r := &entity.Receipt{OwnerID: "u1", MerchantName: "m", Status: status, CanonicalKey: &key, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if date != "" {
			r.TxDate = day(t, date)
		}
		out, err := repo.Create(ctx, r)
		require.NoError(t, err)
		return out
	}
	late := mk(3, "2024-03-01", constants.StatusSettled)
	early := mk(1, "2024-03-10", constants.StatusSettled)
	review := mk(2, "2024-03-05", constants.StatusUnderReview)
	gone := mk(0, "2024-03-02", constants.StatusDiscarded)
	mk(4, "", constants.StatusSettled)
	_, err := repo.Create(ctx, &entity.Receipt{OwnerID: "u2", MerchantName: "m", Status: constants.StatusSettled, CanonicalKey: &key})
	require.NoError(t, err)

	recs, err := repo.ListByStatus(ctx, "u1", constants.StatusUnderReview)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, review.ID, recs[0].ID)

	recs, err = repo.ListByStatus(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, early.ID, recs[0].ID, "ordered by creation")

	recs, err = repo.ListByStatus(ctx, "u1", constants.StatusDiscarded)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = repo.ListReceipts(ctx, "u1", day(t, "2024-03-01"), day(t, "2024-03-05"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, late.ID, recs[0].ID, "ordered by date")
	assert.Equal(t, review.ID, recs[1].ID)
	for _, r := range recs {
		assert.NotEqual(t, gone.ID, r.ID)
	}

	match, err := repo.FindSettledByKey(ctx, "u1", key, uuid.Nil)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, early.ID, match.ID, "earliest settled receipt wins")

	match, err = repo.FindSettledByKey(ctx, "u1", key, early.ID)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, late.ID, match.ID, "the excluded receipt is skipped")

	match, err = repo.FindSettledByKey(ctx, "u1", "other", uuid.Nil)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestReceiptRepository_ApplyPatches(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewReceiptRepository(openTestDB(t), discardLogger())

	a, err := repo.Create(ctx, &entity.Receipt{OwnerID: "u1", MerchantName: "a"})
	require.NoError(t, err)
	b, err := repo.Create(ctx, &entity.Receipt{OwnerID: "u1", MerchantName: "b"})
	require.NoError(t, err)
	foreign, err := repo.Create(ctx, &entity.Receipt{OwnerID: "u2", MerchantName: "c"})
	require.NoError(t, err)

	newKey := "b|2024-01-01|1.00"
	require.NoError(t, repo.ApplyPatches(ctx, "u1", []entity.ReceiptPatch{
		entity.FlagPatch(b.ID, a.ID),
		entity.KeyPatch(b.ID, &newKey),
		entity.DiscardPatch(foreign.ID),
	}))

	got, err := repo.Get(ctx, "u1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusUnderReview, got.Status)
	assert.Equal(t, a.ID, *got.OriginalReceiptID)
	assert.Equal(t, newKey, *got.CanonicalKey)

	_, err = repo.Get(ctx, "u2", foreign.ID)
	assert.NoError(t, err, "patches never cross owners")

	require.NoError(t, repo.ApplyPatches(ctx, "u1", []entity.ReceiptPatch{entity.SettlePatch(b.ID), entity.KeyPatch(b.ID, nil)}))
	got, err = repo.Get(ctx, "u1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusSettled, got.Status)
	assert.Nil(t, got.OriginalReceiptID)
	assert.Nil(t, got.CanonicalKey)
}

func TestUsageRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewUsageRepository(openTestDB(t), 3, discardLogger())
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	cur, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, cur)

	incr := func(c *entity.UsageCounter) (*entity.UsageCounter, error) {
		next := &entity.UsageCounter{Plan: constants.PlanFree, DailyWindowStart: now, MonthlyWindowStart: now, UpdatedAt: now}
		if c != nil {
			copied := *c
			next = &copied
		}
		next.DailyCount++
		next.MonthlyCount++
		return next, nil
	}
	require.NoError(t, repo.Update(ctx, "u1", incr))
	require.NoError(t, repo.Update(ctx, "u1", incr))

	cur, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.DailyCount)
	assert.Equal(t, int64(2), cur.Version)
	assert.True(t, now.Equal(cur.DailyWindowStart))

	require.NoError(t, repo.Update(ctx, "u1", func(*entity.UsageCounter) (*entity.UsageCounter, error) { return nil, nil }))
	cur, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.Version, "nil next writes nothing")

	err = repo.Update(ctx, "u1", func(*entity.UsageCounter) (*entity.UsageCounter, error) { return nil, common.ErrQuotaExceeded })
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)
}

func TestQuotaOverSQLStore_ConcurrentReservations(t *testing.T) {
	ctx := context.Background()
	store := repository.NewUsageRepository(openTestDB(t), 5, discardLogger())
	svc := quota.NewService(store, quota.Config{
		Limits: map[constants.Plan]quota.Limits{constants.PlanFree: {Daily: 20, Monthly: 300}},
		Now:    func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) },
	}, nil, discardLogger())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, deny int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(ctx, "u1", constants.PlanFree)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, common.ErrQuotaExceeded):
				deny++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, ok)
	assert.Equal(t, 30, deny)

	snap, err := svc.Usage(ctx, "u1", constants.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, int64(20), snap.DailyCount)
}
