package receipts

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/dedup"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository"
)

// Service handles receipt business logic.
type Service struct {
	receiptRepo repository.ReceiptRepository
	probe       *dedup.Probe
	logger      *slog.Logger
}

// NewService creates a new receipt service.
func NewService(receiptRepo repository.ReceiptRepository, probe *dedup.Probe, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if probe == nil {
		probe = dedup.NewProbe(receiptRepo, logger)
	}
	return &Service{
		receiptRepo: receiptRepo,
		probe:       probe,
		logger:      logger,
	}
}

// Save persists a new receipt owned by ownerID. Manual entries are checked
// strictly; imports and scans are kept even when fields are missing, they
// just get no canonical key. A draft matching a settled receipt is stored
// under_review pointing at it.
func (s *Service) Save(ctx context.Context, ownerID string, draft *entity.Receipt, source constants.Source) (*entity.Receipt, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, common.Invalidf("owner id is required")
	}
	if draft == nil {
		return nil, common.Invalidf("receipt is required")
	}

	rec := draft.Clone()
	rec.ID = uuid.Nil
	rec.OwnerID = ownerID
	rec.Source = source
	rec.Status = constants.StatusSettled
	rec.OriginalReceiptID = nil
	rec.CreatedAt = time.Time{}
	normalize(rec)

	if err := s.validate(rec, source); err != nil {
		s.logger.Warn("receipt rejected", "owner_id", ownerID, "source", source, "error", err)
		return nil, err
	}
	rec.CanonicalKey = dedup.ReceiptKey(rec)

	match, err := s.probe.Check(ctx, ownerID, rec)
	if err != nil {
		s.logger.Error("duplicate probe failed", "owner_id", ownerID, "error", err)
		return nil, err
	}
	if match != nil {
		rec.Status = constants.StatusUnderReview
		rec.OriginalReceiptID = &match.ID
	}

	out, err := s.receiptRepo.Create(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.logger.Info("receipt saved", "owner_id", ownerID, "receipt_id", out.ID, "source", source, "status", out.Status, "keyed", out.CanonicalKey != nil)
	return out, nil
}

// Edit changes user-visible fields of an existing receipt and recomputes
// its canonical key. Reconciliation state is left alone.
type Edit struct {
	MerchantName  *string
	TxDate        *time.Time
	ClearTxDate   bool
	TxType        *constants.TxType
	Total         *float64
	CurrencyCode  *string
	Category      *string
	PaymentMethod *string
	Description   *string
}

func (s *Service) Edit(ctx context.Context, ownerID string, id uuid.UUID, e Edit) (*entity.Receipt, error) {
	rec, err := s.receiptRepo.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if e.MerchantName != nil {
		rec.MerchantName = *e.MerchantName
	}
	if e.ClearTxDate {
		rec.TxDate = nil
	} else if e.TxDate != nil {
		d := *e.TxDate
		rec.TxDate = &d
	}
	if e.TxType != nil {
		rec.TxType = *e.TxType
	}
	if e.Total != nil {
		t := *e.Total
		rec.Total = &t
	}
	if e.CurrencyCode != nil {
		rec.CurrencyCode = *e.CurrencyCode
	}
	if e.Category != nil {
		rec.Category = *e.Category
	}
	if e.PaymentMethod != nil {
		rec.PaymentMethod = *e.PaymentMethod
	}
	if e.Description != nil {
		rec.Description = *e.Description
	}
	normalize(rec)

	v := common.NewValidator()
	v.Field("total", rec.Total, common.NonNegative)
	v.Field("currency_code", rec.CurrencyCode, common.CurrencyCode)
	if err := v.Error(); err != nil {
		return nil, err
	}
	rec.CanonicalKey = dedup.ReceiptKey(rec)

	if err := s.receiptRepo.Update(ctx, rec); err != nil {
		s.logger.Error("failed to edit receipt", "owner_id", ownerID, "receipt_id", id, "error", err)
		return nil, err
	}
	return s.receiptRepo.Get(ctx, ownerID, id)
}

// List returns settled and under-review receipts in the date window.
func (s *Service) List(ctx context.Context, ownerID string, from, to *time.Time) ([]*entity.Receipt, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, common.Invalidf("owner id is required")
	}
	from, to = dateOnly(from), dateOnly(to)
	if from != nil && to != nil && from.After(*to) {
		return nil, common.Invalidf("from date %s is after to date %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	s.logger.Info("listing receipts", "owner_id", ownerID, "from_date", from, "to_date", to)
	recs, err := s.receiptRepo.ListReceipts(ctx, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Summary is net spend over settled receipts. Under-review receipts are
// left out until resolved so a duplicate is never counted twice.
type Summary struct {
	Count      int
	Purchases  float64
	Refunds    float64
	Net        float64
	ByCategory map[string]float64
}

func (s *Service) Summary(ctx context.Context, ownerID string, from, to *time.Time) (Summary, error) {
	recs, err := s.List(ctx, ownerID, from, to)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{ByCategory: map[string]float64{}}
	for _, r := range recs {
		if r.Status != constants.StatusSettled || r.Total == nil {
			continue
		}
		sum.Count++
		net := r.NetAmount()
		if net < 0 {
			sum.Refunds += -net
		} else {
			sum.Purchases += net
		}
		sum.Net += net
		cat := r.Category
		if cat == "" {
			cat = string(constants.Other)
		}
		sum.ByCategory[cat] += net
	}
	sum.Purchases = round2(sum.Purchases)
	sum.Refunds = round2(sum.Refunds)
	sum.Net = round2(sum.Net)
	for k, v := range sum.ByCategory {
		sum.ByCategory[k] = round2(v)
	}
	return sum, nil
}

// validate rejects manual entries that cannot be keyed. Other sources only
// have their amounts sanity checked; a record missing fields is still
// stored, just never matched.
func (s *Service) validate(rec *entity.Receipt, source constants.Source) error {
	v := common.NewValidator()
	switch source {
	case constants.SourceManual:
		v.Field("merchant_name", rec.MerchantName, common.Required)
		v.Field("tx_date", rec.TxDate, common.Required)
		v.Field("total", rec.Total, common.Required, common.NonNegative)
		v.Field("currency_code", rec.CurrencyCode, common.CurrencyCode)
	case constants.SourceCSV, constants.SourceScan:
		if rec.Total != nil && (math.IsNaN(*rec.Total) || math.IsInf(*rec.Total, 0)) {
			rec.Total = nil
		}
		if !validCurrency(rec.CurrencyCode) {
			rec.CurrencyCode = constants.DefaultCurrency
		}
		// imports carry credits as negative amounts
		if rec.Total != nil && *rec.Total < 0 {
			t := -*rec.Total
			rec.Total = &t
			rec.TxType = constants.TxRefund
		}
	default:
		return common.Invalidf("unknown receipt source %q", source)
	}
	return v.Error()
}

func normalize(rec *entity.Receipt) {
	rec.MerchantName = strings.TrimSpace(rec.MerchantName)
	rec.CurrencyCode = strings.ToUpper(strings.TrimSpace(rec.CurrencyCode))
	if rec.CurrencyCode == "" {
		rec.CurrencyCode = constants.DefaultCurrency
	}
	if rec.TxType == "" {
		rec.TxType = constants.TxPurchase
	}
	if rec.Category != "" {
		cat, _ := constants.Canonicalize(rec.Category)
		rec.Category = string(cat)
	}
	rec.TxDate = dateOnly(rec.TxDate)
	if rec.TxDate != nil && rec.TxDate.IsZero() {
		rec.TxDate = nil
	}
}

func validCurrency(code string) bool {
	return common.CurrencyCode("currency_code", code) == nil
}

// dateOnly drops the clock part, keeping the calendar date as written.
func dateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Format renders a one-line description used by the CLI.
func Format(r *entity.Receipt) string {
	date := "----------"
	if r.TxDate != nil {
		date = r.TxDate.Format(time.DateOnly)
	}
	total := "?"
	if r.Total != nil {
		total = fmt.Sprintf("%.2f", r.NetAmount())
	}
	return fmt.Sprintf("%s  %-28s %10s %s  [%s]", date, r.MerchantName, total, r.CurrencyCode, r.Status)
}
