package export

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository"
	"github.com/joseph-ayodele/receipt-reconciler/internal/utils"
)

const sheet = "Receipts"

// Service is a tiny façade over the receipt repository that produces XLSX bytes for exports.
type Service struct {
	receiptsRepo repository.ReceiptRepository
	logger       *slog.Logger
}

func NewService(repo repository.ReceiptRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{receiptsRepo: repo, logger: logger}
}

// ExportReceiptsXLSX returns an XLSX workbook (as bytes) of the owner's
// settled receipts in the date window. Receipts waiting on review are left
// out so a duplicate never shows up twice. Amounts are signed: refunds are
// negative, and the last row carries the net total.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all receipts for the owner.
func (s *Service) ExportReceiptsXLSX(ctx context.Context, ownerID string, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	// Normalize dates (date-only, UTC)
	var fromDate, toDate *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		today := time.Now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}
	if fromDate != nil && toDate != nil && fromDate.After(*toDate) {
		return nil, common.Invalidf("from date is after to date")
	}

	recs, err := s.receiptsRepo.ListReceipts(ctx, ownerID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}

	headers := []string{
		"Transaction Date",
		"Merchant",
		"Expense Category",
		"Type",
		"Net Amount",
		"Currency",
		"Payment Method",
		"Purpose/Notes",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	written := 0
	var net float64
	for _, r := range recs {
		if r.Status != constants.StatusSettled {
			continue
		}
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		// 1) Transaction Date
		if r.TxDate != nil {
			write(1, r.TxDate.Format(utils.DateLayout))
		} else {
			write(1, "")
		}
		write(2, r.MerchantName)
		write(3, r.Category)
		write(4, string(r.TxType))

		// 5) Net Amount, left blank when the total is unknown
		if r.Total != nil {
			write(5, r.NetAmount())
			net += r.NetAmount()
		}
		write(6, r.CurrencyCode)
		write(7, r.PaymentMethod)
		write(8, truncate(r.Description, 140))

		row++
		written++
	}

	totalLabel, _ := excelize.CoordinatesToCellName(4, row)
	totalCell, _ := excelize.CoordinatesToCellName(5, row)
	_ = f.SetCellValue(sheet, totalLabel, "Net Total")
	_ = f.SetCellValue(sheet, totalCell, round2(net))

	// Widen a few columns
	_ = f.SetColWidth(sheet, "A", "A", 14) // date
	_ = f.SetColWidth(sheet, "B", "B", 28) // merchant
	_ = f.SetColWidth(sheet, "C", "C", 22) // category
	_ = f.SetColWidth(sheet, "D", "F", 12) // type, amount, currency
	_ = f.SetColWidth(sheet, "G", "G", 16) // payment
	_ = f.SetColWidth(sheet, "H", "H", 48) // notes

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"owner_id", ownerID,
		"rows", written,
		"net", round2(net),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
