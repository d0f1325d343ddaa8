package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
)

func init() {
	usageCmd.AddCommand(setPlanCmd)
	rootCmd.AddCommand(usageCmd)
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show metered extraction usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan()
		if err != nil {
			return err
		}
		a, _, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		snap, err := a.Quota.Usage(cmd.Context(), userID, p)
		if err != nil {
			return err
		}
		fmt.Printf("plan:    %s\n", snap.Plan)
		fmt.Printf("daily:   %d / %s (resets %s)\n", snap.DailyCount, limit(snap.DailyLimit), snap.DailyResetsAt.Format(time.RFC3339))
		fmt.Printf("monthly: %d / %s (resets %s)\n", snap.MonthlyCount, limit(snap.MonthlyLimit), snap.MonthlyResetsAt.Format(time.RFC3339))
		return nil
	},
}

var setPlanCmd = &cobra.Command{
	Use:   "set-plan <free|pro>",
	Short: "Record the user's plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := constants.ParsePlan(args[0])
		if p == "" {
			return common.Invalidf("unknown plan %q", args[0])
		}
		a, _, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Quota.SetPlan(cmd.Context(), userID, p); err != nil {
			return err
		}
		fmt.Printf("%s is now on the %s plan\n", userID, p)
		return nil
	},
}

func limit(n int64) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}
