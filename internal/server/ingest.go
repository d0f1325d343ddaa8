package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/ingest"
	"github.com/joseph-ayodele/receipt-reconciler/internal/pipeline"
)

// ScanReceipt extracts a receipt from image_base64 (with optional
// mime_type and name) through the metered pipeline.
func (s *ReconcileServer) ScanReceipt(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Scan == nil {
		return nil, status.Error(codes.Unavailable, "receipt scanning is not configured")
	}
	data, err := base64.StdEncoding.DecodeString(str(req, "image_base64"))
	if err != nil {
		return nil, common.InvalidArgumentError("image_base64 must be base64")
	}
	img := pipeline.Image{Name: str(req, "name"), Data: data, MimeType: str(req, "mime_type")}
	rec, err := s.deps.Scan.Run(ctx, common.UserIDFromContext(ctx), constants.ParsePlan(str(req, "plan")), img)
	if err != nil {
		return nil, s.fail(ctx, "scan receipt", err)
	}
	return reply(map[string]any{"receipt": receiptMap(rec)})
}

// ImportReceipts imports a spreadsheet sent inline: format is csv (content
// as text) or xlsx (content_base64).
func (s *ReconcileServer) ImportReceipts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := common.UserIDFromContext(ctx)
	format := constants.NormalizeExt(str(req, "format"))
	if format == "" {
		format = "csv"
	}

	var (
		res ingest.ImportResult
		err error
	)
	switch format {
	case "csv":
		content := str(req, "content")
		if content == "" {
			if b, derr := base64.StdEncoding.DecodeString(str(req, "content_base64")); derr == nil {
				content = string(b)
			}
		}
		res, err = s.deps.Importer.ImportCSV(ctx, userID, strings.NewReader(content))
	case "xlsx":
		b, derr := base64.StdEncoding.DecodeString(str(req, "content_base64"))
		if derr != nil {
			return nil, common.InvalidArgumentError("content_base64 must be base64")
		}
		res, err = s.deps.Importer.ImportXLSX(ctx, userID, bytes.NewReader(b))
	default:
		return nil, common.InvalidArgumentError("format must be csv or xlsx")
	}
	if err != nil {
		return nil, s.fail(ctx, "import receipts", err)
	}

	rowErrors := make([]any, 0, len(res.Errors))
	for _, e := range res.Errors {
		rowErrors = append(rowErrors, map[string]any{"row": e.Row, "error": e.Err.Error()})
	}
	return reply(map[string]any{
		"rows":    res.Rows,
		"saved":   res.Saved,
		"flagged": res.Flagged,
		"skipped": res.Skipped,
		"errors":  rowErrors,
	})
}
