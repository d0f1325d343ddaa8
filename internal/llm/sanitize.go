package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
)

var allowedKeys = map[string]struct{}{
	"merchant_name": {}, "tx_date": {}, "tx_type": {}, "total": {},
	"currency_code": {}, "category": {}, "payment_method": {},
	"description": {}, "confidence": {},
}

// NormalizeAndSanitizeJSON
// - Renames known synonyms (merchant -> merchant_name, date -> tx_date)
// - Drops null/empty values
// - Coerces numeric -> string for the total, keeping the magnitude
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->"+to)
		}
	}

	// 1) rename synonyms to the schema
	renamed("merchant", "merchant_name")
	renamed("store", "merchant_name")
	renamed("date", "tx_date")
	renamed("amount", "total")
	renamed("currency", "currency_code")

	// 2) total: numbers become fixed-point strings, negatives become refunds
	if v, ok := m["total"]; ok {
		switch t := v.(type) {
		case float64:
			if t < 0 {
				t = -t
				m["tx_type"] = "refund"
			}
			m["total"] = fmt.Sprintf("%.2f", t)
		case string:
			s := strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(t))
			if strings.HasPrefix(s, "-") {
				s = strings.TrimPrefix(s, "-")
				m["tx_type"] = "refund"
			}
			if s == "" {
				delete(m, "total")
				dropped = append(dropped, "total(empty)")
			} else {
				m["total"] = s
			}
		case nil:
			delete(m, "total")
			dropped = append(dropped, "total(null)")
		default:
			// unexpected type -> drop
			delete(m, "total")
			dropped = append(dropped, "total(type)")
		}
	}

	// 3) normalize enums lightly
	if v, ok := m["payment_method"].(string); ok {
		pm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), " ", "_"))
		if pm != "" {
			m["payment_method"] = pm
		} else {
			delete(m, "payment_method")
			dropped = append(dropped, "payment_method(empty)")
		}
	}
	if v, ok := m["tx_type"].(string); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "refund", "return", "credit":
			m["tx_type"] = "refund"
		case "purchase", "sale", "":
			m["tx_type"] = "purchase"
		default:
			delete(m, "tx_type")
			dropped = append(dropped, "tx_type(unknown)")
		}
	}
	if v, ok := m["currency_code"].(string); ok {
		m["currency_code"] = strings.ToUpper(strings.TrimSpace(v))
	}
	if v, ok := m["confidence"]; ok {
		if f, isNum := v.(float64); !isNum || f < 0 || f > 1 {
			delete(m, "confidence")
			dropped = append(dropped, "confidence(range)")
		}
	}

	// 4) remove unknown keys
	for k := range maps.Clone(m) {
		if _, ok := allowedKeys[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	// 5) trim strings, drop empties and nulls
	for k, v := range maps.Clone(m) {
		switch s := v.(type) {
		case string:
			s = strings.TrimSpace(s)
			if s == "" {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				m[k] = s
			}
		case nil:
			delete(m, k)
			dropped = append(dropped, k+"(null)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}
