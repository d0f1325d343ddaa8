package llm

import "context"

// ReceiptFields is the normalized shape we want from the LLM.
type ReceiptFields struct {
	MerchantName    string  `json:"merchant_name"`
	TxDate          string  `json:"tx_date,omitempty"` // YYYY-MM-DD
	TxType          string  `json:"tx_type,omitempty"` // purchase | refund
	Total           string  `json:"total,omitempty"`   // decimal magnitude
	CurrencyCode    string  `json:"currency_code"`     // ISO 4217
	Category        string  `json:"category,omitempty"`
	PaymentMethod   string  `json:"payment_method,omitempty"`
	Description     string  `json:"description,omitempty"`
	ModelConfidence float32 `json:"confidence,omitempty"` // optional (0..1)
}

// ExtractOptions tune a single extraction call.
type ExtractOptions struct {
	AllowedCategories []string
	DefaultCurrency   string
}

// Extractor turns a receipt image into best-guess fields. Errors that mean
// the provider is out of capacity or credit wrap common.ErrExtractionExhausted.
type Extractor interface {
	ExtractImage(ctx context.Context, image []byte, mimeType string, opts ExtractOptions) (ReceiptFields, []byte /*rawJSON*/, error)
}
