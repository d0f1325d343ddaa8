package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for storage and the wire.
const DateLayout = "2006-01-02"

// loose date layouts accepted from imports, tried in order after DateLayout
var importDateLayouts = []string{
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	time.RFC3339,
}

func ParseYMD(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	// strip time to midnight UTC to match DATE semantics
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// ParseLooseDate accepts ISO dates plus the common spreadsheet layouts.
func ParseLooseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := ParseYMD(s); err == nil {
		return t, nil
	}
	for _, layout := range importDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ParseAmount reads a money string such as "$1,234.56", "-12.00" or the
// accounting form "(12.00)". The sign is preserved.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if neg {
		v = -v
	}
	return v, nil
}

func FormatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func StrOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func Ptr[T any](v T) *T {
	return &v
}
