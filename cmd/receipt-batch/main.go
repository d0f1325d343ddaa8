// Command receipt-batch runs reconciliation jobs against a local or remote
// receipts database without going through the gRPC server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/app"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
)

var (
	userID   string
	planFlag string
	inmem    bool
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "receipt-batch",
	Short: "Batch duplicate detection, review and quota jobs",
	Long: `receipt-batch runs the reconciliation engine directly against the database
configured by DB_DRIVER and DB_URL (a .env file is honoured).

Examples:
  # Flag every duplicate for a user
  receipt-batch find --user alice

  # Walk the review queue interactively
  receipt-batch review --user alice

  # Scan a folder of receipt photos against a throwaway database
  receipt-batch scan ./photos --user alice --inmem`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "owner id to operate on (required)")
	rootCmd.PersistentFlags().StringVar(&planFlag, "plan", string(constants.PlanFree), "plan hint used for metered calls")
	rootCmd.PersistentFlags().BoolVar(&inmem, "inmem", false, "use an in-memory SQLite database")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	_ = rootCmd.MarkPersistentFlagRequired("user")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// openApp loads configuration and wires the services. The caller closes it.
func openApp(ctx context.Context) (*app.App, *slog.Logger, error) {
	logger := newLogger()
	cfg := common.LoadConfig()
	if inmem {
		cfg.Database.Driver = "sqlite"
		cfg.Database.DSN = ":memory:"
		if cfg.Quota.Backend == "sql" {
			cfg.Quota.Backend = "memory"
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize services: %w", err)
	}
	return a, logger, nil
}

func plan() (constants.Plan, error) {
	p := constants.ParsePlan(planFlag)
	if p == "" {
		return "", common.Invalidf("unknown plan %q", planFlag)
	}
	return p, nil
}
