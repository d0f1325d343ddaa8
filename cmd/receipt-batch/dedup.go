package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipt-reconciler/internal/dedup"
	"github.com/joseph-ayodele/receipt-reconciler/internal/reconcile"
)

var (
	scanMode      string
	resolveAction string
)

func init() {
	findCmd.Flags().StringVar(&scanMode, "mode", "flag", "flag duplicates for review, or delete them outright")
	resolveAllCmd.Flags().StringVar(&resolveAction, "action", "", "merge, keep or delete (required)")
	_ = resolveAllCmd.MarkFlagRequired("action")

	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(resolveAllCmd)
}

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Sweep settled receipts for duplicates",
	Long: `Group the user's settled receipts by canonical key and, for every group
with more than one receipt, keep the oldest and flag (or delete) the rest.

Examples:
  receipt-batch find --user alice
  receipt-batch find --user alice --mode delete`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := dedup.ParseScanMode(scanMode)
		if err != nil {
			return err
		}
		a, _, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := a.Scanner.Scan(cmd.Context(), userID, mode)
		if err != nil {
			return err
		}
		fmt.Printf("%d duplicate(s) %s\n", res.Found, map[dedup.ScanMode]string{dedup.ScanModeFlag: "flagged", dedup.ScanModeDelete: "deleted"}[mode])
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Recompute canonical keys for every live receipt",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := a.Scanner.Backfill(cmd.Context(), userID)
		if err != nil {
			return err
		}
		fmt.Printf("scanned %d receipt(s), updated %d key(s)\n", res.Scanned, res.Updated)
		return nil
	},
}

var resolveAllCmd = &cobra.Command{
	Use:   "resolve-all",
	Short: "Apply one decision to every pending duplicate",
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := reconcile.ParseAction(resolveAction)
		if err != nil {
			return err
		}
		a, _, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := a.Reconcile.ResolveAll(cmd.Context(), userID, action)
		fmt.Printf("attempted %d, resolved %d, failed %d\n", res.Attempted, res.Resolved, res.Failed)
		return err
	},
}
