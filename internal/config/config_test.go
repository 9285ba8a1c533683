package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.EngineCfg.MaxDebateRounds)
	assert.Equal(t, "USDC", cfg.RiskCfg.AnchorToken)
	assert.Equal(t, uint64(500_000_000), cfg.BridgeCfg.TriggerThreshold)
	assert.Equal(t, 168*time.Hour, cfg.BridgeCfg.WeeklyFallback)
	assert.Equal(t, uint64(100), cfg.StakingCfg.BaseMultiplier)
	assert.False(t, cfg.BridgeCfg.DryRun)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"zero debate rounds",
			func(c *Config) { c.EngineCfg.MaxDebateRounds = 0 },
			"max_debate_rounds",
		},
		{
			"convergence gap above one",
			func(c *Config) { c.EngineCfg.ConvergenceGap = 1.2 },
			"convergence_gap",
		},
		{
			"negative history window",
			func(c *Config) { c.EngineCfg.HistoryWindow = -1 },
			"history_window",
		},
		{
			"token weight ceiling above one",
			func(c *Config) { c.RiskCfg.MaxTokenWeight = 1.5 },
			"max_token_weight",
		},
		{
			"missing anchor token",
			func(c *Config) { c.RiskCfg.AnchorToken = "" },
			"anchor_token",
		},
		{
			"anchor floor at the weight ceiling",
			func(c *Config) { c.RiskCfg.AnchorFloor = c.RiskCfg.MaxTokenWeight },
			"anchor_floor",
		},
		{
			"zero max change",
			func(c *Config) { c.RiskCfg.MaxChange = 0 },
			"max_change",
		},
		{
			"zero token churn",
			func(c *Config) { c.RiskCfg.MaxTokenChurn = 0 },
			"max_token_churn",
		},
		{
			"attestation timeout below poll interval",
			func(c *Config) { c.BridgeCfg.AttestationTimeout = c.BridgeCfg.AttestationPollInterval / 2 },
			"attestation_timeout",
		},
		{
			"zero bridge retries",
			func(c *Config) { c.BridgeCfg.MaxRetriesPerStep = 0 },
			"max_retries_per_step",
		},
		{
			"per-job ceiling above rolling limit",
			func(c *Config) { c.BridgeCfg.PerJobCeiling = c.BridgeCfg.RollingWindowLimit + 1 },
			"per_job_ceiling",
		},
		{
			"decreasing stake multipliers",
			func(c *Config) { c.StakingCfg.LongMultiplier = c.StakingCfg.MediumMultiplier - 1 },
			"multipliers",
		},
		{
			"long tier before medium tier",
			func(c *Config) { c.StakingCfg.LongTierAfter = c.StakingCfg.MediumTierAfter - time.Hour },
			"tier thresholds",
		},
		{
			"loss halt threshold of one",
			func(c *Config) { c.SafetyCfg.LossHaltThreshold = 1.0 },
			"loss_halt_threshold",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewDefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	t.Parallel()

	v := viper.New()
	SetDefaults(v)
	v.Set("engine.max_debate_rounds", 0)

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	t.Parallel()

	v := viper.New()
	SetDefaults(v)
	v.Set("bridge.dry_run", true)
	v.Set("risk.anchor_token", "USDT")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.True(t, cfg.BridgeCfg.DryRun)
	assert.Equal(t, "USDT", cfg.RiskCfg.AnchorToken)
}

func TestGettersExposeSections(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	var iface Interface = cfg

	assert.Equal(t, cfg.RiskCfg, iface.Risk())
	assert.Equal(t, cfg.BridgeCfg, iface.Bridge())
	assert.Equal(t, cfg.StakingCfg, iface.Staking())
	assert.Equal(t, cfg.SafetyCfg, iface.Safety())
}
