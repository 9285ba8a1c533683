package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/analyst"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/bridge"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/config"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/debate"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/decision"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/llmclient"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/observability"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/orchestrator"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/paper"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/reflection"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/risk"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/safety"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/staking"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/store"
)

// newRunCmd creates the long-running daemon command: the cycle scheduler,
// the reflection loop and bridge job recovery.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the decision engine daemon: scheduled cycles, reflection and settlement",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			defer observability.Sync()

			components, err := initializeComponents(ctx, appCfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			scheduler := orchestrator.NewScheduler(
				components.Orchestrator,
				components.Reflector,
				components.BridgeCtl,
				appCfg.EngineCfg.CycleInterval,
				appCfg.EngineCfg.ReflectionInterval,
				logger,
			)

			logger.Info("Engine daemon started",
				zap.Duration("cycle_interval", appCfg.EngineCfg.CycleInterval),
				zap.Bool("paper", viper.GetBool("paper")),
			)
			return scheduler.Run(ctx)
		},
	}

	runCmd.Flags().Bool("paper", true, "Run against the in-memory paper market and chain adapters.")
	return runCmd
}

// components holds the initialized service graph.
type components struct {
	DBPool       *pgxpool.Pool
	Store        *store.Store
	Market       *paper.Market
	Orchestrator *orchestrator.Orchestrator
	BridgeCtl    *bridge.Controller
	Reflector    *reflection.Engine
	Pool         *staking.Pool
}

// Shutdown releases held resources.
func (c *components) Shutdown() {
	if c.DBPool != nil {
		c.DBPool.Close()
	}
}

// rewardAccount credits the in-process distributor and snapshots pool state
// for the query surface after every deposit.
type rewardAccount struct {
	pool   *staking.Pool
	store  *store.Store
	logger *zap.Logger
}

func (r *rewardAccount) DepositReward(amount uint64) error {
	if err := r.pool.DepositReward(amount); err != nil {
		return err
	}
	if err := r.store.SavePoolState(context.Background(), r.pool.State()); err != nil {
		r.logger.Warn("Failed to snapshot pool state", zap.Error(err))
	}
	return nil
}

// initializeComponents handles dependency injection for run and cycle.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{}

	// 1. Database and store.
	if cfg.DatabaseCfg.URL == "" {
		return nil, fmt.Errorf("database URL is not configured (JARVIS_DATABASE_URL)")
	}
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DBPool = dbPool

	dbStore, err := store.New(ctx, dbPool, logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := dbStore.EnsureSchema(ctx); err != nil {
		return c, err
	}
	c.Store = dbStore

	// 2. LLM router.
	router, err := llmclient.NewRouterFromConfig(cfg.LLMCfg, logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize LLM router: %w", err)
	}

	// 3. Market and chain collaborators. Only the paper adapters ship in
	// this binary; production chain adapters are deployed separately and
	// plug in behind the same interfaces.
	if !viper.GetBool("paper") {
		return c, fmt.Errorf("live chain adapters are not configured in this build; run with --paper")
	}
	market := paper.NewMarket(
		map[string]float64{"USDC": 0.20, "SOL": 0.30, "ETH": 0.30, "BTC": 0.20},
		1_000_000,
		map[string]float64{"USDC": 50_000_000, "SOL": 8_000_000, "ETH": 20_000_000, "BTC": 30_000_000},
	)
	chain := paper.NewChain(market, 3)
	c.Market = market

	// 4. Safety, staking, settlement.
	notifier := schemas.NopNotifier{}
	guards := safety.New(cfg.SafetyCfg, notifier, logger)
	pool := staking.NewPool(cfg.StakingCfg, logger)
	c.Pool = pool

	rewards := &rewardAccount{pool: pool, store: dbStore, logger: logger}
	bridgeCtl := bridge.NewController(cfg.BridgeCfg, dbStore, chain, chain, chain, rewards, notifier, logger)
	trigger := bridge.NewTriggerPolicy(cfg.BridgeCfg, dbStore, chain, logger)
	c.BridgeCtl = bridgeCtl

	// 5. Decision pipeline.
	producers := analyst.DefaultProducers(router, logger)
	debater := debate.New(router, logger, cfg.EngineCfg.MaxDebateRounds, cfg.EngineCfg.ConvergenceGap, cfg.EngineCfg.DebateRoundTimeout)
	gate := risk.New(cfg.RiskCfg, router, logger)
	maker := decision.New(router, logger, cfg.EngineCfg.CostBenefitRatio, cfg.EngineCfg.DebateRoundTimeout)

	c.Orchestrator = orchestrator.New(
		cfg, dbStore, market, market, producers, debater, gate, maker,
		guards, bridgeCtl, trigger, notifier, logger,
	)
	c.Reflector = reflection.New(dbStore, market, cfg.EngineCfg.ReflectionDelay, logger)

	return c, nil
}
