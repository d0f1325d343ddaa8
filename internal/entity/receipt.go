package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
)

// Receipt represents a receipt for data transfer between layers.
type Receipt struct {
	ID                uuid.UUID               `json:"id"`
	OwnerID           string                  `json:"owner_id"`
	MerchantName      string                  `json:"merchant_name"`
	TxDate            *time.Time              `json:"tx_date,omitempty"`
	TxType            constants.TxType        `json:"tx_type"`
	Total             *float64                `json:"total,omitempty"`
	CurrencyCode      string                  `json:"currency_code"`
	Category          string                  `json:"category"`
	PaymentMethod     string                  `json:"payment_method,omitempty"`
	Description       string                  `json:"description,omitempty"`
	Source            constants.Source        `json:"source"`
	CanonicalKey      *string                 `json:"canonical_key,omitempty"`
	Status            constants.ReceiptStatus `json:"status"`
	OriginalReceiptID *uuid.UUID              `json:"original_receipt_id,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// NetAmount is the signed effect of the receipt: refunds count negative.
func (r *Receipt) NetAmount() float64 {
	if r.Total == nil {
		return 0
	}
	if r.TxType == constants.TxRefund {
		return -*r.Total
	}
	return *r.Total
}

// Clone returns a deep copy so callers never share pointer fields.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	c := *r
	if r.TxDate != nil {
		d := *r.TxDate
		c.TxDate = &d
	}
	if r.Total != nil {
		t := *r.Total
		c.Total = &t
	}
	if r.CanonicalKey != nil {
		k := *r.CanonicalKey
		c.CanonicalKey = &k
	}
	if r.OriginalReceiptID != nil {
		o := *r.OriginalReceiptID
		c.OriginalReceiptID = &o
	}
	return &c
}

// CopyFieldsFrom overwrites the user-visible fields of r with those of src.
// Identity (ID, OwnerID, CreatedAt) and reconciliation state (Status,
// OriginalReceiptID) are left alone.
func (r *Receipt) CopyFieldsFrom(src *Receipt) {
	s := src.Clone()
	r.MerchantName = s.MerchantName
	r.TxDate = s.TxDate
	r.TxType = s.TxType
	r.Total = s.Total
	r.CurrencyCode = s.CurrencyCode
	r.Category = s.Category
	r.PaymentMethod = s.PaymentMethod
	r.Description = s.Description
	r.Source = s.Source
	r.CanonicalKey = s.CanonicalKey
}

// ReceiptPatch is a partial update applied inside a batch write.
// Zero-valued Status leaves the status untouched; the Set* flags gate the
// nullable columns so that nil can mean "clear".
type ReceiptPatch struct {
	ID                uuid.UUID
	Status            constants.ReceiptStatus
	SetOriginal       bool
	OriginalReceiptID *uuid.UUID
	SetCanonicalKey   bool
	CanonicalKey      *string
}

// FlagPatch moves a receipt to under_review pointing at original.
func FlagPatch(id, original uuid.UUID) ReceiptPatch {
	return ReceiptPatch{ID: id, Status: constants.StatusUnderReview, SetOriginal: true, OriginalReceiptID: &original}
}

// SettlePatch marks a receipt settled and clears its review pointer.
func SettlePatch(id uuid.UUID) ReceiptPatch {
	return ReceiptPatch{ID: id, Status: constants.StatusSettled, SetOriginal: true}
}

// DiscardPatch soft-deletes a receipt.
func DiscardPatch(id uuid.UUID) ReceiptPatch {
	return ReceiptPatch{ID: id, Status: constants.StatusDiscarded}
}

// KeyPatch replaces the stored canonical key.
func KeyPatch(id uuid.UUID, key *string) ReceiptPatch {
	return ReceiptPatch{ID: id, SetCanonicalKey: true, CanonicalKey: key}
}

// Apply mutates r in place according to p.
func (p ReceiptPatch) Apply(r *Receipt, now time.Time) {
	if p.Status != "" {
		r.Status = p.Status
	}
	if p.SetOriginal {
		r.OriginalReceiptID = nil
		if p.OriginalReceiptID != nil {
			o := *p.OriginalReceiptID
			r.OriginalReceiptID = &o
		}
	}
	if p.SetCanonicalKey {
		r.CanonicalKey = nil
		if p.CanonicalKey != nil {
			k := *p.CanonicalKey
			r.CanonicalKey = &k
		}
	}
	r.UpdatedAt = now
}
