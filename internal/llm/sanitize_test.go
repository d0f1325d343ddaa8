package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAndSanitizeJSON(t *testing.T) {
	raw := []byte(`{
		"merchant": "  Costco ",
		"date": "2024-03-01",
		"total": -12.5,
		"currency_code": "usd",
		"payment_method": "credit card",
		"description": "",
		"address": "1 Main St",
		"confidence": 7
	}`)

	out, dropped, err := NormalizeAndSanitizeJSON(raw, nil)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, map[string]any{
		"merchant_name":  "Costco",
		"tx_date":        "2024-03-01",
		"tx_type":        "refund",
		"total":          "12.50",
		"currency_code":  "USD",
		"payment_method": "CREDIT_CARD",
	}, m)
	assert.Contains(t, dropped, "address(unknown)")
	assert.Contains(t, dropped, "description(empty)")
	assert.Contains(t, dropped, "confidence(range)")
}

func TestNormalizeAndSanitizeJSON_StringTotal(t *testing.T) {
	out, _, err := NormalizeAndSanitizeJSON([]byte(`{"merchant_name":"A","currency_code":"EUR","total":"$1,204.10"}`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"merchant_name":"A","currency_code":"EUR","total":"1204.10"}`, string(out))
}

func TestNormalizeAndSanitizeJSON_BadInput(t *testing.T) {
	_, _, err := NormalizeAndSanitizeJSON([]byte(`not json`), nil)
	assert.Error(t, err)
}

func TestValidateJSONAgainstSchema(t *testing.T) {
	schema := BuildReceiptJSONSchema([]string{"Groceries", "Other"})

	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"minimal", `{"merchant_name":"Costco","currency_code":"USD"}`, false},
		{"full", `{"merchant_name":"Costco","tx_date":"2024-03-01","tx_type":"purchase","total":"10.00","currency_code":"USD","category":"Groceries","confidence":0.9}`, false},
		{"missing merchant", `{"currency_code":"USD"}`, true},
		{"bad date", `{"merchant_name":"Costco","currency_code":"USD","tx_date":"03/01/2024"}`, true},
		{"category outside enum", `{"merchant_name":"Costco","currency_code":"USD","category":"Toys"}`, true},
		{"unknown key", `{"merchant_name":"Costco","currency_code":"USD","tip":"1.00"}`, true},
		{"numeric total", `{"merchant_name":"Costco","currency_code":"USD","total":10}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJSONAgainstSchema(schema, []byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
