package constants

import (
	"strings"
)

type Category string

const (
	Groceries     Category = "Groceries"
	Dining        Category = "Dining"
	Transport     Category = "Transport"
	Utilities     Category = "Utilities"
	Housing       Category = "Housing"
	Health        Category = "Health"
	Shopping      Category = "Shopping"
	Entertainment Category = "Entertainment"
	Travel        Category = "Travel"
	Subscriptions Category = "Subscriptions"
	Other         Category = "Other"
)

var allCategories = []Category{
	Groceries,
	Dining,
	Transport,
	Utilities,
	Housing,
	Health,
	Shopping,
	Entertainment,
	Travel,
	Subscriptions,
	Other,
}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Canonicalize maps a free-form label onto a known category.
// The bool is false when the label had to fall back to Other.
func Canonicalize(input string) (Category, bool) {
	if input == "" {
		return Other, false
	}

	normalized := normalizeLabel(input)

	synonyms := map[string]Category{
		"grocery":     Groceries,
		"supermarket": Groceries,
		"restaurant":  Dining,
		"food":        Dining,
		"coffee":      Dining,
		"fuel":        Transport,
		"gas":         Transport,
		"uber":        Transport,
		"lyft":        Transport,
		"taxi":        Transport,
		"rent":        Housing,
		"pharmacy":    Health,
		"medical":     Health,
		"airline":     Travel,
		"hotel":       Travel,
		"streaming":   Subscriptions,
		"saas":        Subscriptions,
	}

	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	for _, cat := range allCategories {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}

	return Other, false
}
