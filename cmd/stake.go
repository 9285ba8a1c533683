package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStakeCmd creates the reward-pool inspection command. It reads the last
// persisted pool snapshot; live pool state belongs to the daemon.
func newStakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stake",
		Short: "Shows the latest reward pool snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dbStore, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			ps, ok, err := dbStore.LatestPoolState(ctx)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("No pool snapshot recorded yet.")
				return nil
			}

			fmt.Printf("Total principal:      %d\n", ps.TotalPrincipal)
			fmt.Printf("Total weighted stake: %d\n", ps.TotalWeightedStake)
			fmt.Printf("Accumulator:          %s\n", ps.Accumulator)
			fmt.Printf("Participants:         %d\n", ps.Participants)
			fmt.Printf("As of:                %s\n", ps.LastUpdate.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
}
