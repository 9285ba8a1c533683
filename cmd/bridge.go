package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/observability"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/store"
)

// newBridgeCmd creates the settlement inspection command group. Read-only:
// driving jobs is the daemon's business.
func newBridgeCmd() *cobra.Command {
	bridgeCmd := &cobra.Command{
		Use:   "bridge",
		Short: "Inspects settlement jobs and their transition history",
	}
	bridgeCmd.AddCommand(newBridgeJobsCmd())
	bridgeCmd.AddCommand(newBridgeEventsCmd())
	return bridgeCmd
}

func newBridgeJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "Lists every in-flight settlement job",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dbStore, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			jobs, err := dbStore.PendingJobs(ctx)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No in-flight settlement jobs.")
				return nil
			}
			for _, job := range jobs {
				fmt.Printf("%s  %-22s  amount=%d  retries=%d  updated=%s\n",
					job.ID, job.State, job.AmountRaw, job.RetryCount,
					job.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newBridgeEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <job-id>",
		Short: "Shows the transition history of one settlement job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}

			dbStore, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			events, err := dbStore.JobEvents(ctx, jobID)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No events recorded for this job.")
				return nil
			}
			for _, e := range events {
				fmt.Printf("%s  %-22s  %s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.State, e.Detail)
			}
			return nil
		},
	}
}

// openStore connects to the database for read-only inspection commands.
func openStore(ctx context.Context) (*store.Store, func(), error) {
	logger := observability.GetLogger()
	if appCfg.DatabaseCfg.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (JARVIS_DATABASE_URL)")
	}
	dbPool, err := pgxpool.New(ctx, appCfg.DatabaseCfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	dbStore, err := store.New(ctx, dbPool, logger)
	if err != nil {
		dbPool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return dbStore, dbPool.Close, nil
}
