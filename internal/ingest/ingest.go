// Package ingest imports receipts from spreadsheets.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/receipts"
	"github.com/joseph-ayodele/receipt-reconciler/internal/utils"
)

// ImportResult summarizes one file import. Rows counts data rows, excluding
// the header; Flagged rows were saved under review.
type ImportResult struct {
	Rows    int
	Saved   int
	Flagged int
	Skipped int
	Errors  []RowError
}

// RowError is a skipped row, numbered as in the source file (header is row 1).
type RowError struct {
	Row int
	Err error
}

type column int

const (
	colMerchant column = iota
	colDate
	colTotal
	colType
	colCurrency
	colCategory
	colPayment
	colDescription
)

var headerAliases = map[string]column{
	"merchant":         colMerchant,
	"merchant_name":    colMerchant,
	"store":            colMerchant,
	"payee":            colMerchant,
	"date":             colDate,
	"tx_date":          colDate,
	"transaction_date": colDate,
	"total":            colTotal,
	"amount":           colTotal,
	"type":             colType,
	"tx_type":          colType,
	"currency":         colCurrency,
	"currency_code":    colCurrency,
	"category":         colCategory,
	"payment_method":   colPayment,
	"payment":          colPayment,
	"description":      colDescription,
	"notes":            colDescription,
	"memo":             colDescription,
}

// Importer saves spreadsheet rows through the receipt service with source csv.
type Importer struct {
	receipts *receipts.Service
	logger   *slog.Logger
}

func NewImporter(svc *receipts.Service, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{receipts: svc, logger: logger}
}

// AllowedExt checks if a file extension is an accepted spreadsheet format.
func AllowedExt(ext string) bool {
	_, ok := constants.ImportExtensions[constants.NormalizeExt(ext)]
	return ok
}

// ImportFile picks the reader from the file extension.
func (im *Importer) ImportFile(ctx context.Context, ownerID, path string) (ImportResult, error) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	if !AllowedExt(ext) {
		return ImportResult{}, common.Invalidf("unsupported import format %q", ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			im.logger.Warn("import file close error", "path", path, "error", cerr)
		}
	}()
	if ext == "xlsx" {
		return im.ImportXLSX(ctx, ownerID, f)
	}
	return im.ImportCSV(ctx, ownerID, f)
}

// ImportCSV reads a comma separated file whose first row is a header.
func (im *Importer) ImportCSV(ctx context.Context, ownerID string, r io.Reader) (ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return ImportResult{}, common.NewAppError("INVALID_ARGUMENT", "malformed csv", errors.Join(common.ErrInvalidInput, err))
	}
	return im.importRows(ctx, ownerID, rows)
}

// ImportXLSX reads the first sheet of a workbook whose first row is a header.
func (im *Importer) ImportXLSX(ctx context.Context, ownerID string, r io.Reader) (ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return ImportResult{}, common.NewAppError("INVALID_ARGUMENT", "malformed xlsx", errors.Join(common.ErrInvalidInput, err))
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ImportResult{}, common.Invalidf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return ImportResult{}, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return im.importRows(ctx, ownerID, rows)
}

func (im *Importer) importRows(ctx context.Context, ownerID string, rows [][]string) (ImportResult, error) {
	var res ImportResult
	if len(rows) == 0 {
		return res, common.Invalidf("import file is empty")
	}
	cols, err := mapHeader(rows[0])
	if err != nil {
		return res, err
	}

	for i, row := range rows[1:] {
		line := i + 2
		if blank(row) {
			continue
		}
		res.Rows++
		draft, err := im.toDraft(row, cols)
		if err == nil {
			var rec *entity.Receipt
			rec, err = im.receipts.Save(ctx, ownerID, draft, constants.SourceCSV)
			if err == nil {
				res.Saved++
				if rec.Status == constants.StatusUnderReview {
					res.Flagged++
				}
				continue
			}
		}
		im.logger.Warn("import.row.skipped", "owner_id", ownerID, "row", line, "error", err)
		res.Skipped++
		res.Errors = append(res.Errors, RowError{Row: line, Err: err})
	}

	im.logger.Info("import.ok",
		"owner_id", ownerID, "rows", res.Rows,
		"saved", res.Saved, "flagged", res.Flagged, "skipped", res.Skipped,
	)
	return res, nil
}

// mapHeader resolves each known column to its index. Merchant and total
// are required; everything else is optional.
func mapHeader(header []string) (map[column]int, error) {
	cols := make(map[column]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		key = strings.ReplaceAll(key, " ", "_")
		if c, ok := headerAliases[key]; ok {
			if _, seen := cols[c]; !seen {
				cols[c] = i
			}
		}
	}
	if _, ok := cols[colMerchant]; !ok {
		return nil, common.Invalidf("header has no merchant column")
	}
	if _, ok := cols[colTotal]; !ok {
		return nil, common.Invalidf("header has no total or amount column")
	}
	return cols, nil
}

// toDraft fails only when the row has neither a merchant nor a usable
// amount. Other bad cells are dropped so the receipt is kept unkeyed.
func (im *Importer) toDraft(row []string, cols map[column]int) (*entity.Receipt, error) {
	cell := func(c column) string {
		i, ok := cols[c]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	draft := &entity.Receipt{
		MerchantName:  cell(colMerchant),
		TxType:        constants.ParseTxType(cell(colType)),
		CurrencyCode:  cell(colCurrency),
		Category:      cell(colCategory),
		PaymentMethod: cell(colPayment),
		Description:   cell(colDescription),
	}
	if s := cell(colDate); s != "" {
		if d, err := utils.ParseLooseDate(s); err == nil {
			draft.TxDate = &d
		}
	}
	if s := cell(colTotal); s != "" {
		if t, err := utils.ParseAmount(s); err == nil {
			draft.Total = &t
		}
	}
	if draft.MerchantName == "" && draft.Total == nil {
		return nil, common.Invalidf("row has no merchant and no amount")
	}
	return draft, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
