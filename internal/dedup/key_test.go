package dedup

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-reconciler/internal/utils"
)

func date(t *testing.T, s string) *time.Time {
	t.Helper()
	d, err := utils.ParseYMD(s)
	require.NoError(t, err)
	return &d
}

func TestNormalizeMerchant(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Trader Joe's #123", "traderjoes"},
		{"TRADER JOES", "traderjoes"},
		{"Trader Joe’s Inc.", "traderjoes"},
		{"Costco Wholesale", "costco"},
		{"COSTCO", "costco"},
		{"Acme Corp, LLC", "acme"},
		{"Whole Foods Market", "wholefoods"},
		{"Store # 0045 Cornerstone", "cornerstone"},
		{"7-Eleven", "7eleven"},
		{"", ""},
		{"Inc.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMerchant(tt.in))
		})
	}
}

func TestKey_InsensitiveToCasePunctuationAndSuffix(t *testing.T) {
	d := date(t, "2024-01-01")

	a, ok := Key("Trader Joe's Inc", d, utils.Ptr(20.00))
	require.True(t, ok)
	b, ok := Key("TRADER JOES", d, utils.Ptr(20.001))
	require.True(t, ok)
	assert.Equal(t, a, b, "totals that round to the same cents collide")
	assert.Equal(t, "traderjoes|2024-01-01|20.00", a)

	c, ok := Key("TRADER JOES", d, utils.Ptr(20.01))
	require.True(t, ok)
	assert.NotEqual(t, a, c, "different cents never collide")

	e, ok := Key("Trader Joe's #123", d, utils.Ptr(19.9999999))
	require.True(t, ok)
	assert.Equal(t, a, e)
}

func TestKey_Deterministic(t *testing.T) {
	d := date(t, "2024-03-01")
	first, _ := Key("Costco", d, utils.Ptr(54.20))
	for i := 0; i < 100; i++ {
		k, ok := Key("Costco", d, utils.Ptr(54.20))
		require.True(t, ok)
		require.Equal(t, first, k)
	}
}

func TestKey_UsesMagnitude(t *testing.T) {
	d := date(t, "2024-03-01")
	pos, _ := Key("Costco", d, utils.Ptr(54.20))
	neg, _ := Key("Costco", d, utils.Ptr(-54.20))
	assert.Equal(t, pos, neg)
}

func TestKey_UndefinedWhenInputMissing(t *testing.T) {
	d := date(t, "2024-03-01")
	tests := []struct {
		name     string
		merchant string
		date     *time.Time
		total    *float64
	}{
		{"no date", "Costco", nil, utils.Ptr(1.0)},
		{"zero date", "Costco", &time.Time{}, utils.Ptr(1.0)},
		{"no total", "Costco", d, nil},
		{"nan total", "Costco", d, utils.Ptr(math.NaN())},
		{"inf total", "Costco", d, utils.Ptr(math.Inf(1))},
		{"blank merchant", "  ", d, utils.Ptr(1.0)},
		{"suffix only merchant", "LLC", d, utils.Ptr(1.0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, ok := Key(tt.merchant, tt.date, tt.total)
			assert.False(t, ok)
			assert.Empty(t, k)
		})
	}
}
