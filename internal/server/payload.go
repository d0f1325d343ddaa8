package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/utils"
)

// Requests and responses are google.protobuf.Struct values; these helpers
// read and build them.

func str(req *structpb.Struct, key string) string {
	if v, ok := req.GetFields()[key]; ok {
		if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			return strings.TrimSpace(s.StringValue)
		}
	}
	return ""
}

func uuidField(req *structpb.Struct, key string) (uuid.UUID, error) {
	raw := str(req, key)
	if raw == "" {
		return uuid.Nil, common.Invalidf("%s is required", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.Invalidf("%s must be a UUID", key)
	}
	return id, nil
}

func dateField(req *structpb.Struct, key string) (*time.Time, error) {
	raw := str(req, key)
	if raw == "" {
		return nil, nil
	}
	d, err := utils.ParseYMD(raw)
	if err != nil {
		return nil, common.Invalidf("%s invalid (YYYY-MM-DD): %v", key, err)
	}
	return &d, nil
}

// amountField accepts a number or a money string. ok is false when absent.
func amountField(req *structpb.Struct, key string) (v float64, ok bool, err error) {
	val, present := req.GetFields()[key]
	if !present {
		return 0, false, nil
	}
	switch k := val.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return k.NumberValue, true, nil
	case *structpb.Value_StringValue:
		if strings.TrimSpace(k.StringValue) == "" {
			return 0, false, nil
		}
		f, err := utils.ParseAmount(k.StringValue)
		if err != nil {
			return 0, false, common.Invalidf("%s: %v", key, err)
		}
		return f, true, nil
	case *structpb.Value_NullValue:
		return 0, false, nil
	}
	return 0, false, common.Invalidf("%s must be a number", key)
}

// receiptDraft reads the user-editable fields of a receipt payload.
func receiptDraft(req *structpb.Struct) (*entity.Receipt, error) {
	if req == nil {
		return nil, common.Invalidf("receipt is required")
	}
	draft := &entity.Receipt{
		MerchantName:  str(req, "merchant_name"),
		TxType:        constants.ParseTxType(str(req, "tx_type")),
		CurrencyCode:  str(req, "currency_code"),
		Category:      str(req, "category"),
		PaymentMethod: str(req, "payment_method"),
		Description:   str(req, "description"),
	}
	d, err := dateField(req, "tx_date")
	if err != nil {
		return nil, err
	}
	draft.TxDate = d
	total, ok, err := amountField(req, "total")
	if err != nil {
		return nil, err
	}
	if ok {
		draft.Total = &total
	}
	if raw := str(req, "id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, common.Invalidf("id must be a UUID")
		}
		draft.ID = id
	}
	return draft, nil
}

// receiptMap renders a receipt as Struct-compatible values.
func receiptMap(r *entity.Receipt) map[string]any {
	if r == nil {
		return nil
	}
	m := map[string]any{
		"id":            r.ID.String(),
		"merchant_name": r.MerchantName,
		"tx_type":       string(r.TxType),
		"currency_code": r.CurrencyCode,
		"category":      r.Category,
		"source":        string(r.Source),
		"status":        string(r.Status),
		"created_at":    r.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if r.TxDate != nil {
		m["tx_date"] = r.TxDate.Format(utils.DateLayout)
	}
	if r.Total != nil {
		m["total"] = *r.Total
	}
	if r.PaymentMethod != "" {
		m["payment_method"] = r.PaymentMethod
	}
	if r.Description != "" {
		m["description"] = r.Description
	}
	if r.CanonicalKey != nil {
		m["canonical_key"] = *r.CanonicalKey
	}
	if r.OriginalReceiptID != nil {
		m["original_receipt_id"] = r.OriginalReceiptID.String()
	}
	return m
}

func receiptList(recs []*entity.Receipt) []any {
	out := make([]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, receiptMap(r))
	}
	return out
}

func reply(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("%w: encode response: %v", common.ErrInternal, err)
	}
	return s, nil
}
