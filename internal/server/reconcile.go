package server

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/dedup"
	"github.com/joseph-ayodele/receipt-reconciler/internal/export"
	"github.com/joseph-ayodele/receipt-reconciler/internal/ingest"
	"github.com/joseph-ayodele/receipt-reconciler/internal/pipeline"
	"github.com/joseph-ayodele/receipt-reconciler/internal/quota"
	"github.com/joseph-ayodele/receipt-reconciler/internal/receipts"
	"github.com/joseph-ayodele/receipt-reconciler/internal/reconcile"
)

// Deps are the services behind the RPCs. Scan may be nil when no extractor
// is configured; ScanReceipt then reports Unavailable.
type Deps struct {
	Probe     *dedup.Probe
	Scanner   *dedup.Scanner
	Reconcile *reconcile.Service
	Quota     *quota.Service
	Receipts  *receipts.Service
	Importer  *ingest.Importer
	Scan      *pipeline.ScanStage
	Export    *export.Service
}

type ReconcileServer struct {
	deps   Deps
	logger *slog.Logger
}

var _ ReconcileServiceServer = (*ReconcileServer)(nil)

func NewReconcileServer(deps Deps, logger *slog.Logger) *ReconcileServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileServer{deps: deps, logger: logger}
}

func (s *ReconcileServer) fail(ctx context.Context, op string, err error) error {
	s.logger.Error(op+" failed",
		"user_id", common.UserIDFromContext(ctx),
		"request_id", common.RequestIDFromContext(ctx),
		"error", err,
	)
	return common.ToStatus(err)
}

// CheckDuplicate reports whether the payload receipt matches a settled one.
func (s *ReconcileServer) CheckDuplicate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := common.UserIDFromContext(ctx)
	candidate, err := receiptDraft(req)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	match, err := s.deps.Probe.Check(ctx, userID, candidate)
	if err != nil {
		return nil, s.fail(ctx, "check duplicate", err)
	}
	out := map[string]any{"found": match != nil, "receipt": nil}
	if match != nil {
		out["receipt"] = receiptMap(match)
	}
	return reply(out)
}

// FindAndFlagDuplicates runs a full scan; mode is "flag" (default) or "delete".
func (s *ReconcileServer) FindAndFlagDuplicates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := common.UserIDFromContext(ctx)
	mode := dedup.ScanModeFlag
	if raw := str(req, "mode"); raw != "" {
		m, err := dedup.ParseScanMode(raw)
		if err != nil {
			return nil, common.ToStatus(err)
		}
		mode = m
	}
	res, err := s.deps.Scanner.Scan(ctx, userID, mode)
	if err != nil {
		return nil, s.fail(ctx, "find duplicates", fmt.Errorf("scan stopped after %d transitions: %w", res.Found, err))
	}
	return reply(map[string]any{"found": res.Found})
}

func (s *ReconcileServer) BackfillHashes(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.deps.Scanner.Backfill(ctx, common.UserIDFromContext(ctx))
	if err != nil {
		return nil, s.fail(ctx, "backfill", fmt.Errorf("backfill stopped after %d updates: %w", res.Updated, err))
	}
	return reply(map[string]any{"scanned": res.Scanned, "updated": res.Updated})
}

// ResolveDuplicate takes original_id, duplicate_id and action. Both records
// are re-read from the store.
func (s *ReconcileServer) ResolveDuplicate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	action, err := reconcile.ParseAction(str(req, "action"))
	if err != nil {
		return nil, common.ToStatus(err)
	}
	originalID, err := uuidField(req, "original_id")
	if err != nil {
		return nil, common.ToStatus(err)
	}
	duplicateID, err := uuidField(req, "duplicate_id")
	if err != nil {
		return nil, common.ToStatus(err)
	}
	if err := s.deps.Reconcile.ResolveByID(ctx, common.UserIDFromContext(ctx), action, originalID, duplicateID); err != nil {
		return nil, s.fail(ctx, "resolve duplicate", err)
	}
	return reply(map[string]any{"action": action.String()})
}

// ResolveAllDuplicates applies keep or delete to every pending pair.
// Per-pair failures come back in errors; the call itself still succeeds.
func (s *ReconcileServer) ResolveAllDuplicates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	action, err := reconcile.ParseAction(str(req, "action"))
	if err != nil {
		return nil, common.ToStatus(err)
	}
	res, err := s.deps.Reconcile.ResolveAll(ctx, common.UserIDFromContext(ctx), action)
	if err != nil && res.Attempted == 0 {
		return nil, s.fail(ctx, "resolve all", err)
	}
	out := map[string]any{
		"attempted": res.Attempted,
		"resolved":  res.Resolved,
		"failed":    res.Failed,
	}
	if err != nil {
		s.logger.Warn("resolve all partially failed", "user_id", common.UserIDFromContext(ctx), "failed", res.Failed, "error", err)
		out["errors"] = []any{err.Error()}
	}
	return reply(out)
}

func (s *ReconcileServer) ListPendingReviews(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	pairs, err := s.deps.Reconcile.Pending(ctx, common.UserIDFromContext(ctx))
	if err != nil {
		return nil, s.fail(ctx, "list pending reviews", err)
	}
	items := make([]any, 0, len(pairs))
	for _, p := range pairs {
		item := map[string]any{"duplicate": receiptMap(p.Duplicate), "original": nil}
		if p.Original != nil {
			item["original"] = receiptMap(p.Original)
		}
		items = append(items, item)
	}
	return reply(map[string]any{"pairs": items, "count": len(items)})
}
