package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipt-reconciler/internal/receipts"
	"github.com/joseph-ayodele/receipt-reconciler/internal/reconcile"
	"github.com/joseph-ayodele/receipt-reconciler/internal/review"
)

func init() {
	rootCmd.AddCommand(reviewCmd)
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Step through pending duplicates one pair at a time",
	Long: `Interactive review of the user's pending duplicates.

Keys:
  n / p   next / previous pair
  m       merge the duplicate into the original
  k       keep both
  d       delete the duplicate
  x       keep the duplicate, delete the original
  q       quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		s := review.NewSession(a.Reconcile, userID)
		if err := s.Load(cmd.Context()); err != nil {
			return err
		}
		return runReview(cmd, s, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var reviewKeys = map[string]reconcile.Action{
	"m": reconcile.Merge,
	"k": reconcile.Keep,
	"d": reconcile.Delete,
	"x": reconcile.KeepNew,
}

func runReview(cmd *cobra.Command, s *review.Session, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for {
		pair, ok := s.Current()
		if !ok {
			fmt.Fprintln(out, "No pending duplicates.")
			return nil
		}
		fmt.Fprintf(out, "\n[%d/%d]\n", s.Position()+1, s.Len())
		if pair.Original != nil {
			fmt.Fprintf(out, "  original:  %s\n", receipts.Format(pair.Original))
		} else {
			fmt.Fprintln(out, "  original:  (no longer exists)")
		}
		fmt.Fprintf(out, "  duplicate: %s\n", receipts.Format(pair.Duplicate))
		fmt.Fprint(out, "[n]ext [p]rev [m]erge [k]eep [d]elete keep-ne[x] [q]uit > ")

		if !sc.Scan() {
			return sc.Err()
		}
		key := strings.ToLower(strings.TrimSpace(sc.Text()))
		switch key {
		case "q":
			return nil
		case "n":
			if !s.Next() {
				fmt.Fprintln(out, "already at the last pair")
			}
		case "p":
			if !s.Prev() {
				fmt.Fprintln(out, "already at the first pair")
			}
		default:
			action, ok := reviewKeys[key]
			if !ok {
				fmt.Fprintf(out, "unknown key %q\n", key)
				continue
			}
			if err := s.Resolve(cmd.Context(), action); err != nil {
				fmt.Fprintf(out, "could not %s: %v\n", action, err)
			}
		}
	}
}
