package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
)

// UsageTxFunc decides the next counter state from the current one (nil when
// the user has no counter yet). Returning a nil counter writes nothing.
type UsageTxFunc func(cur *entity.UsageCounter) (*entity.UsageCounter, error)

// UsageRepository stores per-user usage counters. Update must run fn and
// its write as one atomic unit: if another writer commits in between, the
// attempt is discarded and fn runs again against the fresh state.
type UsageRepository interface {
	Get(ctx context.Context, ownerID string) (*entity.UsageCounter, error)
	Update(ctx context.Context, ownerID string, fn UsageTxFunc) error
}

const usageTable = "usage_counters"

var usageColumns = []string{
	"owner_id", "plan", "daily_count", "monthly_count",
	"daily_window_start", "monthly_window_start", "updated_at", "version",
}

type usageRepository struct {
	db          *DB
	maxAttempts int
	logger      *slog.Logger
}

// NewUsageRepository returns the SQL-backed counter store. maxAttempts bounds
// the optimistic retries before common.ErrContention is returned.
func NewUsageRepository(db *DB, maxAttempts int, logger *slog.Logger) UsageRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &usageRepository{db: db, maxAttempts: maxAttempts, logger: logger}
}

func (r *usageRepository) Get(ctx context.Context, ownerID string) (*entity.UsageCounter, error) {
	query, args := r.selectCounter(ownerID, false)
	c, err := scanUsage(r.db.SQL().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to read usage counter", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("%w: get usage: %v", common.ErrDatabase, err)
	}
	return c, nil
}

func (r *usageRepository) Update(ctx context.Context, ownerID string, fn UsageTxFunc) error {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		done, err := r.attempt(ctx, ownerID, fn)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		r.logger.Warn("usage counter write lost a race, retrying", "owner_id", ownerID, "attempt", attempt)
	}
	return fmt.Errorf("usage counter %s: %w", ownerID, common.ErrContention)
}

// attempt runs one read-decide-write cycle. done is false only when a
// concurrent writer changed the row first and the cycle must be retried.
func (r *usageRepository) attempt(ctx context.Context, ownerID string, fn UsageTxFunc) (done bool, err error) {
	tx, err := r.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin usage txn: %v", common.ErrDatabase, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query, args := r.selectCounter(ownerID, isPostgres(r.db))
	cur, err := scanUsage(tx.QueryRowContext(ctx, query, args...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cur = nil
	case err != nil:
		return false, fmt.Errorf("%w: read usage: %v", common.ErrDatabase, err)
	}

	next, err := fn(cur)
	if err != nil {
		return false, err
	}
	if next == nil {
		return true, nil
	}
	next.OwnerID = ownerID

	var res sql.Result
	if cur == nil {
		next.Version = 1
		q, a := r.db.Builder().Insert(usageTable).
			Columns(usageColumns...).
			Values(usageValues(next)...).
			OnConflict(entsql.ConflictColumns("owner_id"), entsql.DoNothing()).
			Query()
		res, err = tx.ExecContext(ctx, q, a...)
	} else {
		next.Version = cur.Version + 1
		q, a := r.db.Builder().Update(usageTable).
			Set("plan", string(next.Plan)).
			Set("daily_count", next.DailyCount).
			Set("monthly_count", next.MonthlyCount).
			Set("daily_window_start", next.DailyWindowStart.UnixMicro()).
			Set("monthly_window_start", next.MonthlyWindowStart.UnixMicro()).
			Set("updated_at", next.UpdatedAt.UnixMicro()).
			Set("version", next.Version).
			Where(entsql.And(
				entsql.EQ("owner_id", ownerID),
				entsql.EQ("version", cur.Version),
			)).
			Query()
		res, err = tx.ExecContext(ctx, q, a...)
	}
	if err != nil {
		return false, fmt.Errorf("%w: write usage: %v", common.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit usage: %v", common.ErrDatabase, err)
	}
	committed = true
	return true, nil
}

func (r *usageRepository) selectCounter(ownerID string, lock bool) (string, []any) {
	sel := r.db.Builder().Select(usageColumns...).
		From(entsql.Table(usageTable)).
		Where(entsql.EQ("owner_id", ownerID))
	if lock {
		sel = sel.ForUpdate()
	}
	return sel.Query()
}

func scanUsage(row rowScanner) (*entity.UsageCounter, error) {
	var (
		c                    entity.UsageCounter
		plan                 string
		dayStart, monthStart int64
		updatedAt            int64
	)
	if err := row.Scan(&c.OwnerID, &plan, &c.DailyCount, &c.MonthlyCount,
		&dayStart, &monthStart, &updatedAt, &c.Version); err != nil {
		return nil, err
	}
	c.Plan = constants.Plan(plan)
	c.DailyWindowStart = time.UnixMicro(dayStart).UTC()
	c.MonthlyWindowStart = time.UnixMicro(monthStart).UTC()
	c.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return &c, nil
}

// usageValues lines up with usageColumns.
func usageValues(c *entity.UsageCounter) []any {
	return []any{
		c.OwnerID, string(c.Plan), c.DailyCount, c.MonthlyCount,
		c.DailyWindowStart.UnixMicro(), c.MonthlyWindowStart.UnixMicro(),
		c.UpdatedAt.UnixMicro(), c.Version,
	}
}
