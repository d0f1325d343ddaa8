package server

import (
	"context"
	"errors"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
)

// ReserveUsage charges one metered call. The optional plan field is only a
// hint; a plan stored on the counter wins.
func (s *ReconcileServer) ReserveUsage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.deps.Quota.Reserve(ctx, common.UserIDFromContext(ctx), constants.ParsePlan(str(req, "plan")))
	if errors.Is(err, common.ErrQuotaExceeded) {
		return nil, common.ToStatus(err)
	}
	if err != nil {
		return nil, s.fail(ctx, "reserve usage", err)
	}
	return reply(map[string]any{
		"plan":          string(res.Plan),
		"daily_count":   res.DailyCount,
		"monthly_count": res.MonthlyCount,
	})
}

func (s *ReconcileServer) GetUsage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	snap, err := s.deps.Quota.Usage(ctx, common.UserIDFromContext(ctx), constants.ParsePlan(str(req, "plan")))
	if err != nil {
		return nil, s.fail(ctx, "get usage", err)
	}
	return reply(map[string]any{
		"plan":              string(snap.Plan),
		"daily_count":       snap.DailyCount,
		"monthly_count":     snap.MonthlyCount,
		"daily_limit":       snap.DailyLimit,
		"monthly_limit":     snap.MonthlyLimit,
		"daily_resets_at":   snap.DailyResetsAt.UTC().Format(time.RFC3339),
		"monthly_resets_at": snap.MonthlyResetsAt.UTC().Format(time.RFC3339),
	})
}
