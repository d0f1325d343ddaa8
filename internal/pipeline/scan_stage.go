// Package pipeline turns receipt images into stored receipts through the
// metered AI extractor.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/llm"
	"github.com/joseph-ayodele/receipt-reconciler/internal/metrics"
	"github.com/joseph-ayodele/receipt-reconciler/internal/quota"
	"github.com/joseph-ayodele/receipt-reconciler/internal/receipts"
	"github.com/joseph-ayodele/receipt-reconciler/internal/utils"
)

// Config holds thresholds and behavior flags for the scan stage.
type Config struct {
	MinConfidence   float32 // below this the extraction is logged for review; default 0.60
	DefaultCurrency string  // default constants.DefaultCurrency
}

// Image is one receipt picture to extract.
type Image struct {
	Name     string
	Data     []byte
	MimeType string
}

type ScanStage struct {
	Logger    *slog.Logger
	Cfg       Config
	Quota     *quota.Service
	Extractor llm.Extractor
	Receipts  *receipts.Service
	Metrics   *metrics.Metrics
}

func NewScanStage(
	logger *slog.Logger,
	cfg Config,
	q *quota.Service,
	ex llm.Extractor,
	recs *receipts.Service,
	m *metrics.Metrics,
) *ScanStage {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.60
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = constants.DefaultCurrency
	}
	return &ScanStage{
		Logger:    logger,
		Cfg:       cfg,
		Quota:     q,
		Extractor: ex,
		Receipts:  recs,
		Metrics:   m,
	}
}

// Run reserves one metered call, extracts fields from the image and saves
// the result as a scanned receipt. The reservation is made before the
// extractor is called and is kept even if extraction fails.
func (p *ScanStage) Run(ctx context.Context, ownerID string, plan constants.Plan, img Image) (*entity.Receipt, error) {
	if len(img.Data) == 0 {
		return nil, common.Invalidf("image %q is empty", img.Name)
	}

	res, err := p.Quota.Reserve(ctx, ownerID, plan)
	if err != nil {
		return nil, err
	}
	p.Logger.Info("scan.reserved",
		"owner_id", ownerID, "image", img.Name,
		"plan", res.Plan, "daily_count", res.DailyCount, "monthly_count", res.MonthlyCount,
	)

	fields, _, err := p.Extractor.ExtractImage(ctx, img.Data, img.MimeType, llm.ExtractOptions{
		AllowedCategories: constants.AsStringSlice(),
		DefaultCurrency:   p.Cfg.DefaultCurrency,
	})
	p.Metrics.ObserveExtraction(err)
	if err != nil {
		p.Logger.Error("scan.extract.failed", "owner_id", ownerID, "image", img.Name, "err", err)
		return nil, fmt.Errorf("extract %s: %w", img.Name, err)
	}

	if fields.ModelConfidence > 0 && fields.ModelConfidence < p.Cfg.MinConfidence {
		p.Logger.Warn("scan.extract.low_confidence",
			"owner_id", ownerID, "image", img.Name, "confidence", fields.ModelConfidence)
	}

	draft := p.toDraft(fields)
	rec, err := p.Receipts.Save(ctx, ownerID, draft, constants.SourceScan)
	if err != nil {
		p.Logger.Error("scan.save.failed", "owner_id", ownerID, "image", img.Name, "err", err)
		return nil, err
	}

	p.Logger.Info("scan.saved",
		"owner_id", ownerID, "image", img.Name, "receipt_id", rec.ID,
		"merchant", rec.MerchantName, "status", rec.Status,
		"confidence", fields.ModelConfidence,
	)
	return rec, nil
}

// toDraft maps extractor output onto a receipt draft. Fields that do not
// parse are left empty; the receipt is still kept but cannot be matched.
func (p *ScanStage) toDraft(f llm.ReceiptFields) *entity.Receipt {
	draft := &entity.Receipt{
		MerchantName:  strings.TrimSpace(f.MerchantName),
		TxType:        constants.ParseTxType(f.TxType),
		CurrencyCode:  f.CurrencyCode,
		Category:      f.Category,
		PaymentMethod: f.PaymentMethod,
		Description:   f.Description,
	}
	if f.TxDate != "" {
		if d, err := utils.ParseLooseDate(f.TxDate); err == nil {
			draft.TxDate = &d
		} else {
			p.Logger.Warn("scan.extract.bad_date", "value", f.TxDate)
		}
	}
	if f.Total != "" {
		if t, err := utils.ParseAmount(f.Total); err == nil {
			draft.Total = &t
		} else {
			p.Logger.Warn("scan.extract.bad_total", "value", f.Total)
		}
	}
	return draft
}
