package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipt-reconciler/internal/utils"
)

var (
	exportOut string
	fromStr   string
	toStr     string
)

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "receipts.xlsx", "output XLSX file path")
	exportCmd.Flags().StringVar(&fromStr, "from", "", "from date YYYY-MM-DD")
	exportCmd.Flags().StringVar(&toStr, "to", "", "to date YYYY-MM-DD")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <file.csv|file.xlsx>...",
	Short: "Import receipts from spreadsheets",
	Long: `Import one or more CSV or XLSX files. Rows matching an existing settled
receipt are stored flagged for review instead of settled.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, logger, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		for _, path := range args {
			res, err := a.Importer.ImportFile(cmd.Context(), userID, path)
			if err != nil {
				logger.Error("import failed", "file", path, "error", err)
				return err
			}
			fmt.Printf("%s: %d row(s), %d saved, %d flagged, %d skipped\n",
				filepath.Base(path), res.Rows, res.Saved, res.Flagged, res.Skipped)
			for _, re := range res.Errors {
				fmt.Printf("    row %d: %v\n", re.Row, re.Err)
			}
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write settled receipts to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseDateFlag("from", fromStr)
		if err != nil {
			return err
		}
		to, err := parseDateFlag("to", toStr)
		if err != nil {
			return err
		}
		a, logger, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		logger.Info("exporting to XLSX", "output", exportOut)
		xlsxBytes, err := a.Export.ExportReceiptsXLSX(cmd.Context(), userID, from, to)
		if err != nil {
			return err
		}
		if err := os.WriteFile(exportOut, xlsxBytes, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOut, err)
		}
		fmt.Printf("- Output: %s\n", exportOut)
		return nil
	},
}

func parseDateFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	d, err := utils.ParseYMD(v)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s date format, use YYYY-MM-DD: %w", name, err)
	}
	return &d, nil
}
