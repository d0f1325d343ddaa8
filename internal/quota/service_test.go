package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/metrics"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository/memstore"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestService(t *testing.T, store repository.UsageRepository, clock *fakeClock, loc *time.Location) (*Service, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	svc := NewService(store, Config{
		Limits:   map[constants.Plan]Limits{constants.PlanFree: {Daily: 20, Monthly: 300}, constants.PlanPro: {Daily: 500}},
		Location: loc,
		Now:      clock.Now,
	}, metrics.New(reg), nil)
	return svc, reg
}

func TestReserve_TwentyFirstFreeCallFails(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewUsage()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	svc, reg := newTestService(t, store, clock, time.UTC)

	for i := 1; i <= 20; i++ {
		res, err := svc.Reserve(ctx, "u1", constants.PlanFree)
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, int64(i), res.DailyCount)
	}

	_, err := svc.Reserve(ctx, "u1", constants.PlanFree)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrQuotaExceeded))
	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, WindowDaily, exceeded.Window)
	assert.Equal(t, int64(20), exceeded.Limit)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), exceeded.ResetsAt)

	c, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), c.DailyCount)
	assert.Equal(t, int64(20), c.MonthlyCount)

	assert.Equal(t, 20.0, counterValue(t, reg, "free", metrics.OutcomeOK))
	assert.Equal(t, 1.0, counterValue(t, reg, "free", metrics.OutcomeDenied))
}

func counterValue(t *testing.T, reg *prometheus.Registry, plan, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "receipts_quota_reservations_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["plan"] == plan && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestReserve_DailyWindowResets(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewUsage()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)}
	svc, _ := newTestService(t, store, clock, time.UTC)

	for i := 0; i < 20; i++ {
		_, err := svc.Reserve(ctx, "u1", constants.PlanFree)
		require.NoError(t, err)
	}
	_, err := svc.Reserve(ctx, "u1", constants.PlanFree)
	require.ErrorIs(t, err, common.ErrQuotaExceeded)

	clock.Set(time.Date(2024, 3, 2, 0, 0, 1, 0, time.UTC))
	res, err := svc.Reserve(ctx, "u1", constants.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DailyCount)
	assert.Equal(t, int64(21), res.MonthlyCount)
}

func TestReserve_MonthlyLimit(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewUsage()
	clock := &fakeClock{t: time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)}
	svc, _ := newTestService(t, store, clock, time.UTC)

	require.NoError(t, store.Update(ctx, "u1", func(*entity.UsageCounter) (*entity.UsageCounter, error) {
		return &entity.UsageCounter{
			Plan:               constants.PlanFree,
			DailyCount:         0,
			MonthlyCount:       300,
			DailyWindowStart:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
			MonthlyWindowStart: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		}, nil
	}))

	_, err := svc.Reserve(ctx, "u1", constants.PlanFree)
	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, WindowMonthly, exceeded.Window)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), exceeded.ResetsAt)

	clock.Set(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	res, err := svc.Reserve(ctx, "u1", constants.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MonthlyCount)
}

func TestReserve_WindowsFollowLocation(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("UTC-5", -5*3600)
	store := memstore.NewUsage()
	// 03:00 UTC on the 2nd is still the 1st at UTC-5
	clock := &fakeClock{t: time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC)}
	svc, _ := newTestService(t, store, clock, loc)

	_, err := svc.Reserve(ctx, "u1", constants.PlanFree)
	require.NoError(t, err)

	c, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.DailyWindowStart.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, loc)))

	clock.Set(time.Date(2024, 3, 2, 4, 59, 0, 0, time.UTC))
	res, err := svc.Reserve(ctx, "u1", constants.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.DailyCount)

	clock.Set(time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC))
	res, err = svc.Reserve(ctx, "u1", constants.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DailyCount)
}

func TestReserve_EffectivePlan(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}

	t.Run("defaults to free", func(t *testing.T) {
		svc, _ := newTestService(t, memstore.NewUsage(), clock, time.UTC)
		res, err := svc.Reserve(ctx, "u1", "")
		require.NoError(t, err)
		assert.Equal(t, constants.PlanFree, res.Plan)
	})

	t.Run("hint is recorded", func(t *testing.T) {
		store := memstore.NewUsage()
		svc, _ := newTestService(t, store, clock, time.UTC)
		_, err := svc.Reserve(ctx, "u1", constants.PlanPro)
		require.NoError(t, err)
		c, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, constants.PlanPro, c.Plan)
	})

	t.Run("stored plan beats hint", func(t *testing.T) {
		store := memstore.NewUsage()
		svc, _ := newTestService(t, store, clock, time.UTC)
		require.NoError(t, svc.SetPlan(ctx, "u1", constants.PlanPro))
		for i := 0; i < 25; i++ {
			res, err := svc.Reserve(ctx, "u1", constants.PlanFree)
			require.NoError(t, err)
			assert.Equal(t, constants.PlanPro, res.Plan)
		}
	})

	t.Run("unknown stored plan uses free limits", func(t *testing.T) {
		store := memstore.NewUsage()
		svc, _ := newTestService(t, store, clock, time.UTC)
		require.NoError(t, store.Update(ctx, "u1", func(*entity.UsageCounter) (*entity.UsageCounter, error) {
			return &entity.UsageCounter{
				Plan:               "legacy",
				DailyCount:         20,
				MonthlyCount:       20,
				DailyWindowStart:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				MonthlyWindowStart: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			}, nil
		}))
		_, err := svc.Reserve(ctx, "u1", constants.PlanPro)
		require.ErrorIs(t, err, common.ErrQuotaExceeded)
	})
}

func TestReserve_ConcurrentCallersNeverOvershoot(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewUsage()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	svc, _ := newTestService(t, store, clock, time.UTC)

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
			if err == nil {
				ok++
			} else if errors.Is(err, common.ErrQuotaExceeded) {
				deny++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, ok)
	assert.Equal(t, 30, deny)
	c, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), c.DailyCount)
}

func TestUsage_DoesNotWrite(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewUsage()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	svc, _ := newTestService(t, store, clock, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := svc.Reserve(ctx, "u1", constants.PlanFree)
		require.NoError(t, err)
	}

	clock.Set(time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))
	snap, err := svc.Usage(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.DailyCount)
	assert.Equal(t, int64(3), snap.MonthlyCount)
	assert.Equal(t, int64(20), snap.DailyLimit)
	assert.Equal(t, int64(300), snap.MonthlyLimit)

	c, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.DailyCount, "stored count is untouched by Usage")

	snap, err = svc.Usage(ctx, "nobody", constants.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, constants.PlanPro, snap.Plan)
	assert.Equal(t, int64(0), snap.MonthlyLimit)
}

func TestReserve_RequiresUser(t *testing.T) {
	svc, _ := newTestService(t, memstore.NewUsage(), &fakeClock{t: time.Now()}, time.UTC)
	_, err := svc.Reserve(context.Background(), "", constants.PlanFree)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
