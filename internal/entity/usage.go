package entity

import (
	"time"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
)

// UsageCounter is the per-user metered-call record for the current period.
type UsageCounter struct {
	OwnerID            string         `json:"owner_id"`
	Plan               constants.Plan `json:"plan"`
	DailyCount         int64          `json:"daily_count"`
	MonthlyCount       int64          `json:"monthly_count"`
	DailyWindowStart   time.Time      `json:"daily_window_start"`
	MonthlyWindowStart time.Time      `json:"monthly_window_start"`
	UpdatedAt          time.Time      `json:"updated_at"`
	// Version is bumped on every write; SQL stores use it for compare-and-swap.
	Version int64 `json:"version"`
}
