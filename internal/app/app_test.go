package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/llm"
	"github.com/joseph-ayodele/receipt-reconciler/internal/pipeline"
	"github.com/joseph-ayodele/receipt-reconciler/internal/utils"
)

type stubExtractor struct{}

func (stubExtractor) ExtractImage(context.Context, []byte, string, llm.ExtractOptions) (llm.ReceiptFields, []byte, error) {
	return llm.ReceiptFields{MerchantName: "Costco", TxDate: "2024-03-01", Total: "12.00", CurrencyCode: "USD", ModelConfidence: 0.9}, []byte(`{}`), nil
}

func testConfig(backend string) *common.Config {
	return &common.Config{
		Database: common.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
		Quota: common.QuotaConfig{
			Backend: backend, Timezone: "UTC",
			FreeDaily: 2, FreeMonthly: 10, ProDaily: 50,
			MaxTxnAttempts: 3,
		},
		Dedup: common.DedupConfig{BatchSize: 100},
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_WiresServices(t *testing.T) {
	for _, backend := range []string{"sql", "memory"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			a, err := New(ctx, testConfig(backend), discard(), Options{
				Registerer: prometheus.NewRegistry(),
				Extractor:  stubExtractor{},
			})
			require.NoError(t, err)
			t.Cleanup(a.Close)
			require.NotNil(t, a.Scan)
			require.NotNil(t, a.Processor)

			d, err := utils.ParseYMD("2024-03-01")
			require.NoError(t, err)
			_, err = a.Receipts.Save(ctx, "u1", &entity.Receipt{MerchantName: "Costco", TxDate: &d, Total: utils.Ptr(12.0)}, constants.SourceManual)
			require.NoError(t, err)

			rec, err := a.Scan.Run(ctx, "u1", constants.PlanFree, pipeline.Image{Name: "r.png", Data: []byte{1}, MimeType: "image/png"})
			require.NoError(t, err)
			assert.Equal(t, constants.StatusUnderReview, rec.Status)

			pending, err := a.Reconcile.Pending(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, pending, 1)

			_, err = a.Quota.Reserve(ctx, "u1", constants.PlanFree)
			require.NoError(t, err)
			_, err = a.Quota.Reserve(ctx, "u1", constants.PlanFree)
			assert.ErrorIs(t, err, common.ErrQuotaExceeded)

			deps := a.ServerDeps()
			assert.Same(t, a.Scan, deps.Scan)
			assert.Same(t, a.Reconcile, deps.Reconcile)
		})
	}
}

func TestNew_ScanningDisabledWithoutKey(t *testing.T) {
	a, err := New(context.Background(), testConfig("memory"), discard(), Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Scan)
	assert.Nil(t, a.Processor)
	assert.NotNil(t, a.Importer)
}

func TestNew_RejectsUnknownBackends(t *testing.T) {
	cfg := testConfig("memory")
	cfg.Database.Driver = "mysql"
	_, err := New(context.Background(), cfg, discard(), Options{Registerer: prometheus.NewRegistry()})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	cfg = testConfig("etcd")
	_, err = New(context.Background(), cfg, discard(), Options{Registerer: prometheus.NewRegistry()})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	cfg = testConfig("memory")
	cfg.Quota.Timezone = "Mars/Olympus"
	_, err = New(context.Background(), cfg, discard(), Options{Registerer: prometheus.NewRegistry()})
	assert.Error(t, err)
}
