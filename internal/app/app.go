// Package app wires configuration into the repositories and services
// shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/dedup"
	"github.com/joseph-ayodele/receipt-reconciler/internal/export"
	"github.com/joseph-ayodele/receipt-reconciler/internal/ingest"
	"github.com/joseph-ayodele/receipt-reconciler/internal/llm"
	"github.com/joseph-ayodele/receipt-reconciler/internal/llm/openai"
	"github.com/joseph-ayodele/receipt-reconciler/internal/metrics"
	"github.com/joseph-ayodele/receipt-reconciler/internal/pipeline"
	"github.com/joseph-ayodele/receipt-reconciler/internal/quota"
	"github.com/joseph-ayodele/receipt-reconciler/internal/receipts"
	"github.com/joseph-ayodele/receipt-reconciler/internal/reconcile"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository/memstore"
	"github.com/joseph-ayodele/receipt-reconciler/internal/server"
)

// App holds the wired services. Close releases the database and the quota
// store.
type App struct {
	DB        *repository.DB
	Metrics   *metrics.Metrics
	Receipts  *receipts.Service
	Probe     *dedup.Probe
	Scanner   *dedup.Scanner
	Reconcile *reconcile.Service
	Quota     *quota.Service
	Importer  *ingest.Importer
	Export    *export.Service
	// Scan and Processor are nil when no OpenAI key is configured.
	Scan      *pipeline.ScanStage
	Processor *pipeline.Processor

	closers []func()
}

// Options override pieces of the default wiring.
type Options struct {
	// Registerer receives the collectors; nil means the default registerer.
	Registerer prometheus.Registerer
	// Extractor replaces the OpenAI client.
	Extractor llm.Extractor
}

// New opens the database, applies the schema and builds every service.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}

	db, err := openDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, func() { db.Close(logger) })

	if err := db.HealthCheck(ctx, 5*time.Second, logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("database health: %w", err)
	}
	if err := db.Migrate(ctx, logger); err != nil {
		a.Close()
		return nil, err
	}

	usage, err := a.usageStore(ctx, cfg.Quota, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Quota.Timezone)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("quota timezone: %w", err)
	}

	a.Metrics = metrics.New(opts.Registerer)
	receiptRepo := repository.NewReceiptRepository(db, logger)

	a.Probe = dedup.NewProbe(receiptRepo, logger)
	a.Scanner = dedup.NewScanner(receiptRepo, cfg.Dedup.BatchSize, a.Metrics, logger)
	a.Reconcile = reconcile.NewService(receiptRepo, a.Metrics, logger)
	a.Receipts = receipts.NewService(receiptRepo, a.Probe, logger)
	a.Quota = quota.NewService(usage, quota.Config{
		Limits:   quota.LimitsFromConfig(cfg.Quota),
		Location: loc,
	}, a.Metrics, logger)
	a.Importer = ingest.NewImporter(a.Receipts, logger)
	a.Export = export.NewService(receiptRepo, logger)

	extractor := opts.Extractor
	if extractor == nil && cfg.LLM.APIKey != "" {
		extractor = openai.NewClient(openai.Config{
			APIKey:          cfg.LLM.APIKey,
			BaseURL:         cfg.LLM.BaseURL,
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			Timeout:         cfg.LLM.Timeout,
			LenientOptional: true,
		}, logger)
	}
	if extractor != nil {
		a.Scan = pipeline.NewScanStage(logger, pipeline.Config{}, a.Quota, extractor, a.Receipts, a.Metrics)
		a.Processor = pipeline.NewProcessor(logger, a.Scan)
	} else {
		logger.Warn("OPENAI_API_KEY not set, receipt scanning disabled")
	}
	return a, nil
}

// ServerDeps exposes the services the gRPC server needs.
func (a *App) ServerDeps() server.Deps {
	return server.Deps{
		Probe:     a.Probe,
		Scanner:   a.Scanner,
		Reconcile: a.Reconcile,
		Quota:     a.Quota,
		Receipts:  a.Receipts,
		Importer:  a.Importer,
		Scan:      a.Scan,
		Export:    a.Export,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repository.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return repository.OpenSQLite(cfg.DSN, logger)
	case "postgres", "":
		return repository.Open(ctx, repository.Config{
			DSN:              cfg.DSN,
			MaxConns:         cfg.MaxConns,
			MinConns:         cfg.MinConns,
			MaxConnLifetime:  cfg.MaxConnLifetime,
			MaxConnIdleTime:  cfg.MaxConnIdleTime,
			DialTimeout:      cfg.DialTimeout,
			StatementTimeout: cfg.StatementTimeout,
		}, logger)
	}
	return nil, common.Invalidf("unknown database driver %q", cfg.Driver)
}

func (a *App) usageStore(ctx context.Context, cfg common.QuotaConfig, logger *slog.Logger) (repository.UsageRepository, error) {
	switch cfg.Backend {
	case "redis":
		rs, err := quota.NewRedisStore(cfg.RedisURL, cfg.MaxTxnAttempts, logger)
		if err != nil {
			return nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := rs.Close(); err != nil {
				logger.Warn("redis close error", "error", err)
			}
		})
		return rs, nil
	case "memory":
		return memstore.NewUsage(), nil
	case "sql", "":
		return repository.NewUsageRepository(a.DB, cfg.MaxTxnAttempts, logger), nil
	}
	return nil, common.Invalidf("unknown quota backend %q", cfg.Backend)
}
