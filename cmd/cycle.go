package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/observability"
)

// newCycleCmd creates the one-shot command: run a single decision cycle and
// exit. Useful for cron-style deployment and manual triggers.
func newCycleCmd() *cobra.Command {
	cycleCmd := &cobra.Command{
		Use:   "cycle",
		Short: "Runs a single decision cycle and exits",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			defer observability.Sync()

			trigger := schemas.TriggerReason(viper.GetString("trigger"))
			switch trigger {
			case schemas.TriggerScheduled, schemas.TriggerLossEvent, schemas.TriggerSentimentEvent:
			default:
				return fmt.Errorf("unknown trigger %q", trigger)
			}

			components, err := initializeComponents(ctx, appCfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			d, err := components.Orchestrator.RunCycle(ctx, trigger)
			if err != nil {
				return err
			}
			logger.Info("Cycle finished",
				zap.String("decision_id", d.ID.String()),
				zap.String("action", string(d.Action)),
				zap.String("status", string(d.Status)),
			)

			fmt.Printf("Decision %s: %s (%s)\n", d.ID, d.Action, d.Status)
			if d.Reason != "" {
				fmt.Printf("Reason: %s\n", d.Reason)
			}
			if d.TxRef != "" {
				fmt.Printf("Tx: %s\n", d.TxRef)
			}
			return nil
		},
	}

	cycleCmd.Flags().String("trigger", string(schemas.TriggerScheduled), "Trigger reason: scheduled, loss-event or sentiment-event.")
	cycleCmd.Flags().Bool("paper", true, "Run against the in-memory paper market and chain adapters.")
	return cycleCmd
}
