package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
)

// newDecisionsCmd creates the decision inspection command: the latest N
// decisions, newest first, with their audit trail summarized.
func newDecisionsCmd() *cobra.Command {
	decisionsCmd := &cobra.Command{
		Use:   "decisions",
		Short: "Lists the most recent decisions with their audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return err
			}

			dbStore, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			decisions, err := dbStore.LatestDecisions(ctx, limit)
			if err != nil {
				return err
			}
			printDecisions(cmd.OutOrStdout(), decisions)
			return nil
		},
	}
	decisionsCmd.Flags().Int("limit", 10, "How many decisions to show.")
	return decisionsCmd
}

// printDecisions renders one block per decision: a header line, then the
// verdict, producer reports and debate rounds behind it.
func printDecisions(w io.Writer, decisions []schemas.Decision) {
	if len(decisions) == 0 {
		fmt.Fprintln(w, "No decisions recorded yet.")
		return
	}
	for _, d := range decisions {
		fmt.Fprintf(w, "%s  %s  %-14s  %-9s  trigger=%s  confidence=%.2f\n",
			d.CreatedAt.Format("2006-01-02 15:04:05"), d.ID, d.Action, d.Status, d.Trigger, d.Confidence)
		if d.Reason != "" {
			fmt.Fprintf(w, "    reason: %s\n", d.Reason)
		}
		if d.Verdict != nil && !d.Verdict.Approved {
			fmt.Fprintf(w, "    veto: %s\n", strings.Join(d.Verdict.Violations, "; "))
		}
		for _, r := range d.Reports {
			if r.Failed() {
				fmt.Fprintf(w, "    %-10s failed: %s\n", r.Producer, r.Error)
				continue
			}
			fmt.Fprintf(w, "    %-10s %-8s confidence=%.2f\n", r.Producer, r.Signal, r.Confidence)
		}
		for _, th := range d.Theses {
			fmt.Fprintf(w, "    round %d  %-19s confidence=%.2f\n", th.Round, th.Position, th.Confidence)
		}
		if d.TxRef != "" {
			fmt.Fprintf(w, "    tx: %s\n", d.TxRef)
		}
	}
}
