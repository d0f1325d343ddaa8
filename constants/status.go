package constants

// ReceiptStatus is the reconciliation lifecycle state of a receipt row.
type ReceiptStatus string

// Stable values (store these exact strings in DB).
const (
	StatusSettled     ReceiptStatus = "settled"      // final, counted in reads and aggregates
	StatusUnderReview ReceiptStatus = "under_review" // possible duplicate, waiting on the user
	StatusDiscarded   ReceiptStatus = "discarded"    // soft-deleted, excluded from all reads
)

// Valid reports whether s is one of the known lifecycle states.
func (s ReceiptStatus) Valid() bool {
	switch s {
	case StatusSettled, StatusUnderReview, StatusDiscarded:
		return true
	}
	return false
}

// TxType is the direction of a transaction. Totals are always stored as magnitudes.
type TxType string

const (
	TxPurchase TxType = "purchase"
	TxRefund   TxType = "refund"
)

// ParseTxType maps loose labels to a TxType; unknown or empty input is a purchase.
func ParseTxType(s string) TxType {
	switch normalizeLabel(s) {
	case "refund", "return", "credit":
		return TxRefund
	}
	return TxPurchase
}

// Source records how a receipt entered the system.
type Source string

const (
	SourceManual Source = "manual" // direct save, strict validation
	SourceCSV    Source = "csv"    // spreadsheet import
	SourceScan   Source = "scan"   // AI extraction from an image
)

// Plan is the usage tier that selects quota limits.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// ParsePlan returns the plan for s, or "" when s is not a known tier.
func ParsePlan(s string) Plan {
	switch normalizeLabel(s) {
	case string(PlanFree):
		return PlanFree
	case string(PlanPro):
		return PlanPro
	}
	return ""
}
