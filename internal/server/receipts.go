package server

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
)

// SaveReceipt stores a manually entered receipt.
func (s *ReconcileServer) SaveReceipt(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := common.UserIDFromContext(ctx)
	draft, err := receiptDraft(req)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	rec, err := s.deps.Receipts.Save(ctx, userID, draft, constants.SourceManual)
	if err != nil {
		return nil, s.fail(ctx, "save receipt", err)
	}
	s.logger.Info("receipt saved via rpc", "user_id", userID, "receipt_id", rec.ID, "status", rec.Status)
	return reply(map[string]any{"receipt": receiptMap(rec)})
}

// ListReceipts returns settled and under-review receipts, optionally
// bounded by from_date and to_date (YYYY-MM-DD).
func (s *ReconcileServer) ListReceipts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	from, err := dateField(req, "from_date")
	if err != nil {
		return nil, common.ToStatus(err)
	}
	to, err := dateField(req, "to_date")
	if err != nil {
		return nil, common.ToStatus(err)
	}
	recs, err := s.deps.Receipts.List(ctx, common.UserIDFromContext(ctx), from, to)
	if err != nil {
		return nil, s.fail(ctx, "list receipts", err)
	}
	return reply(map[string]any{"receipts": receiptList(recs), "count": len(recs)})
}
