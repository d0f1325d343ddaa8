// Package dedup finds receipts that look like the same purchase: the
// canonical key, the save-time probe and the full-collection scanner.
package dedup

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
)

var (
	// store numbers such as "#123" or "# 0045"
	reStoreNumber = regexp.MustCompile(`#\s*\d+`)
	reSuffix      = regexp.MustCompile(`\b(wholesale|inc|llc|corp|ltd|co|store|market|supermarket|grocery)\b`)
	reNonAlnum    = regexp.MustCompile(`[^a-z0-9]+`)
)

// NormalizeMerchant lower-cases the name, strips store numbers and common
// legal or retail suffixes, and drops every non-alphanumeric rune.
func NormalizeMerchant(name string) string {
	s := strings.ToLower(name)
	s = reStoreNumber.ReplaceAllString(s, " ")
	// apostrophes join words ("joe's" -> "joes") instead of splitting them
	s = strings.NewReplacer("'", "", "’", "").Replace(s)
	s = reSuffix.ReplaceAllString(s, " ")
	return reNonAlnum.ReplaceAllString(s, "")
}

// Key derives the canonical identity of a purchase. ok is false when any
// input is missing or the total is not a finite number; such receipts are
// never matched.
func Key(merchant string, date *time.Time, total *float64) (key string, ok bool) {
	if date == nil || date.IsZero() || total == nil {
		return "", false
	}
	t := *total
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return "", false
	}
	m := NormalizeMerchant(merchant)
	if m == "" {
		return "", false
	}
	rounded := math.Round(math.Abs(t)*100) / 100
	return m + "|" + date.Format("2006-01-02") + "|" + strconv.FormatFloat(rounded, 'f', 2, 64), true
}

// ReceiptKey returns the key for r, or nil when r cannot be keyed.
func ReceiptKey(r *entity.Receipt) *string {
	k, ok := Key(r.MerchantName, r.TxDate, r.Total)
	if !ok {
		return nil
	}
	return &k
}
