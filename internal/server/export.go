package server

import (
	"context"
	"encoding/base64"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
)

// ExportReceipts returns the settled receipts workbook as xlsx_base64.
// - only from -> from..today (inclusive)
// - only to   -> beginning..to (inclusive)
// - none      -> all.
func (s *ReconcileServer) ExportReceipts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	from, err := dateField(req, "from_date")
	if err != nil {
		return nil, common.ToStatus(err)
	}
	to, err := dateField(req, "to_date")
	if err != nil {
		return nil, common.ToStatus(err)
	}
	xlsx, err := s.deps.Export.ExportReceiptsXLSX(ctx, common.UserIDFromContext(ctx), from, to)
	if err != nil {
		return nil, s.fail(ctx, "export.xlsx", err)
	}
	return reply(map[string]any{"xlsx_base64": base64.StdEncoding.EncodeToString(xlsx), "bytes": len(xlsx)})
}
