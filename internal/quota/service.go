// Package quota meters AI extraction calls per user against daily and
// monthly ceilings.
//
// Reserve charges an attempt, not a success: the count is taken before the
// guarded call runs and is not refunded if that call fails.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/metrics"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository"
)

// Limits are the ceilings of one plan. A non-positive value is unbounded.
type Limits struct {
	Daily   int64
	Monthly int64
}

// DefaultLimits are used for plans missing from Config.Limits.
var DefaultLimits = map[constants.Plan]Limits{
	constants.PlanFree: {Daily: 20, Monthly: 300},
	constants.PlanPro:  {Daily: 500},
}

// LimitsFromConfig builds the plan table from environment configuration.
func LimitsFromConfig(cfg common.QuotaConfig) map[constants.Plan]Limits {
	return map[constants.Plan]Limits{
		constants.PlanFree: {Daily: cfg.FreeDaily, Monthly: cfg.FreeMonthly},
		constants.PlanPro:  {Daily: cfg.ProDaily, Monthly: cfg.ProMonthly},
	}
}

type Window string

const (
	WindowDaily   Window = "daily"
	WindowMonthly Window = "monthly"
)

// ExceededError reports which window tripped. It unwraps to
// common.ErrQuotaExceeded.
type ExceededError struct {
	Plan     constants.Plan
	Window   Window
	Limit    int64
	ResetsAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s %s limit of %d reached, resets at %s",
		e.Plan, e.Window, e.Limit, e.ResetsAt.Format(time.RFC3339))
}

func (e *ExceededError) Unwrap() error {
	return common.ErrQuotaExceeded
}

// Reservation is the counter state right after a successful Reserve.
type Reservation struct {
	Plan         constants.Plan
	DailyCount   int64
	MonthlyCount int64
}

// Snapshot is a read-only view of a user's usage with stale windows
// already reset.
type Snapshot struct {
	Plan            constants.Plan
	DailyCount      int64
	MonthlyCount    int64
	DailyLimit      int64
	MonthlyLimit    int64
	DailyResetsAt   time.Time
	MonthlyResetsAt time.Time
}

type Config struct {
	Limits map[constants.Plan]Limits
	// Location sets the day and month boundaries. Defaults to UTC.
	Location *time.Location
	// Now is the wall clock. Defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store   repository.UsageRepository
	limits  map[constants.Plan]Limits
	loc     *time.Location
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewService(store repository.UsageRepository, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	limits := make(map[constants.Plan]Limits, len(DefaultLimits))
	for p, l := range DefaultLimits {
		limits[p] = l
	}
	for p, l := range cfg.Limits {
		limits[p] = l
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, limits: limits, loc: loc, now: now, metrics: m, logger: logger}
}

// Reserve charges one metered call to userID, or fails with an
// *ExceededError when the effective plan's daily or monthly ceiling is
// already met. The whole read-decide-write runs as one store transaction.
func (s *Service) Reserve(ctx context.Context, userID string, planHint constants.Plan) (Reservation, error) {
	if userID == "" {
		return Reservation{}, common.Invalidf("user id is required")
	}
	var res Reservation
	err := s.store.Update(ctx, userID, func(cur *entity.UsageCounter) (*entity.UsageCounter, error) {
		now := s.now()
		next := s.rollWindows(cur, planHint, now)
		lim := s.limitsFor(next.Plan)
		if lim.Daily > 0 && next.DailyCount >= lim.Daily {
			return nil, &ExceededError{Plan: next.Plan, Window: WindowDaily, Limit: lim.Daily, ResetsAt: s.nextDay(now)}
		}
		if lim.Monthly > 0 && next.MonthlyCount >= lim.Monthly {
			return nil, &ExceededError{Plan: next.Plan, Window: WindowMonthly, Limit: lim.Monthly, ResetsAt: s.nextMonth(now)}
		}
		next.DailyCount++
		next.MonthlyCount++
		next.UpdatedAt = now.UTC()
		res = Reservation{Plan: next.Plan, DailyCount: next.DailyCount, MonthlyCount: next.MonthlyCount}
		return next, nil
	})

	plan := res.Plan
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		plan = exceeded.Plan
	}
	if plan == "" {
		plan = s.effectivePlan(nil, planHint)
	}
	s.metrics.ObserveReservation(string(plan), err)

	if err != nil {
		if exceeded != nil {
			s.logger.Info("quota.reserve.denied", "user_id", userID, "plan", exceeded.Plan, "window", exceeded.Window, "limit", exceeded.Limit)
		} else {
			s.logger.Error("quota.reserve.failed", "user_id", userID, "error", err)
		}
		return Reservation{}, err
	}
	s.logger.Debug("quota.reserve.ok", "user_id", userID, "plan", res.Plan, "daily", res.DailyCount, "monthly", res.MonthlyCount)
	return res, nil
}

// Usage reports current counts and limits without writing.
func (s *Service) Usage(ctx context.Context, userID string, planHint constants.Plan) (Snapshot, error) {
	if userID == "" {
		return Snapshot{}, common.Invalidf("user id is required")
	}
	cur, err := s.store.Get(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	now := s.now()
	c := s.rollWindows(cur, planHint, now)
	lim := s.limitsFor(c.Plan)
	return Snapshot{
		Plan:            c.Plan,
		DailyCount:      c.DailyCount,
		MonthlyCount:    c.MonthlyCount,
		DailyLimit:      lim.Daily,
		MonthlyLimit:    lim.Monthly,
		DailyResetsAt:   s.nextDay(now),
		MonthlyResetsAt: s.nextMonth(now),
	}, nil
}

// SetPlan records plan as the user's tier. The stored plan takes
// precedence over any hint passed to Reserve afterwards.
func (s *Service) SetPlan(ctx context.Context, userID string, plan constants.Plan) error {
	if userID == "" {
		return common.Invalidf("user id is required")
	}
	if _, ok := s.limits[plan]; !ok {
		return common.Invalidf("unknown plan %q", plan)
	}
	return s.store.Update(ctx, userID, func(cur *entity.UsageCounter) (*entity.UsageCounter, error) {
		now := s.now()
		next := s.rollWindows(cur, plan, now)
		next.Plan = plan
		next.UpdatedAt = now.UTC()
		return next, nil
	})
}

// rollWindows returns a copy of cur (or a zero counter) with the plan
// resolved and counts reset for windows that started before the current one.
func (s *Service) rollWindows(cur *entity.UsageCounter, planHint constants.Plan, now time.Time) *entity.UsageCounter {
	day, month := s.windowStarts(now)
	next := &entity.UsageCounter{
		Plan:               s.effectivePlan(cur, planHint),
		DailyWindowStart:   day,
		MonthlyWindowStart: month,
	}
	if cur == nil {
		return next
	}
	next.OwnerID = cur.OwnerID
	next.Version = cur.Version
	next.UpdatedAt = cur.UpdatedAt
	if !cur.DailyWindowStart.Before(day) {
		next.DailyCount = cur.DailyCount
		next.DailyWindowStart = cur.DailyWindowStart
	}
	if !cur.MonthlyWindowStart.Before(month) {
		next.MonthlyCount = cur.MonthlyCount
		next.MonthlyWindowStart = cur.MonthlyWindowStart
	}
	return next
}

// effectivePlan is counter.plan, then the hint, then free.
func (s *Service) effectivePlan(cur *entity.UsageCounter, hint constants.Plan) constants.Plan {
	if cur != nil && cur.Plan != "" {
		return cur.Plan
	}
	if hint != "" {
		return hint
	}
	return constants.PlanFree
}

// limitsFor falls back to the free tier for plans it does not know.
func (s *Service) limitsFor(plan constants.Plan) Limits {
	if l, ok := s.limits[plan]; ok {
		return l
	}
	return s.limits[constants.PlanFree]
}

func (s *Service) windowStarts(now time.Time) (day, month time.Time) {
	t := now.In(s.loc)
	day = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc).UTC()
	month = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, s.loc).UTC()
	return day, month
}

func (s *Service) nextDay(now time.Time) time.Time {
	t := now.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, s.loc)
}

func (s *Service) nextMonth(now time.Time) time.Time {
	t := now.In(s.loc)
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, s.loc)
}
