// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	LLM() LLMRouterConfig
	Risk() RiskConfig
	Bridge() BridgeConfig
	Staking() StakingConfig
	Safety() SafetyConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig  `mapstructure:"database" yaml:"database"`
	EngineCfg   EngineConfig    `mapstructure:"engine" yaml:"engine"`
	LLMCfg      LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	RiskCfg     RiskConfig      `mapstructure:"risk" yaml:"risk"`
	BridgeCfg   BridgeConfig    `mapstructure:"bridge" yaml:"bridge"`
	StakingCfg  StakingConfig   `mapstructure:"staking" yaml:"staking"`
	SafetyCfg   SafetyConfig    `mapstructure:"safety" yaml:"safety"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) LLM() LLMRouterConfig     { return c.LLMCfg }
func (c *Config) Risk() RiskConfig         { return c.RiskCfg }
func (c *Config) Bridge() BridgeConfig     { return c.BridgeCfg }
func (c *Config) Staking() StakingConfig   { return c.StakingCfg }
func (c *Config) Safety() SafetyConfig     { return c.SafetyCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures the decision cycle engine.
type EngineConfig struct {
	CycleInterval      time.Duration `mapstructure:"cycle_interval" yaml:"cycle_interval"`
	ProducerTimeout    time.Duration `mapstructure:"producer_timeout" yaml:"producer_timeout"`
	DebateRoundTimeout time.Duration `mapstructure:"debate_round_timeout" yaml:"debate_round_timeout"`
	MaxDebateRounds    int           `mapstructure:"max_debate_rounds" yaml:"max_debate_rounds"`
	ConvergenceGap     float64       `mapstructure:"convergence_gap" yaml:"convergence_gap"`
	HistoryWindow      int           `mapstructure:"history_window" yaml:"history_window"`
	SubmitTimeout      time.Duration `mapstructure:"submit_timeout" yaml:"submit_timeout"`
	ReflectionDelay    time.Duration `mapstructure:"reflection_delay" yaml:"reflection_delay"`
	ReflectionInterval time.Duration `mapstructure:"reflection_interval" yaml:"reflection_interval"`
	// CostBenefitRatio biases toward HOLD when the estimated settlement fee
	// exceeds this fraction of the expected benefit.
	CostBenefitRatio float64 `mapstructure:"cost_benefit_ratio" yaml:"cost_benefit_ratio"`
}

// RiskConfig holds the hard limits enforced by the risk gate. These are
// checked deterministically before any soft judgment runs.
type RiskConfig struct {
	MaxTokenWeight   float64 `mapstructure:"max_token_weight" yaml:"max_token_weight"`
	AnchorToken      string  `mapstructure:"anchor_token" yaml:"anchor_token"`
	AnchorFloor      float64 `mapstructure:"anchor_floor" yaml:"anchor_floor"`
	MaxChange        float64 `mapstructure:"max_change" yaml:"max_change"`
	MaxTokenChurn    int     `mapstructure:"max_token_churn" yaml:"max_token_churn"`
	MinLiquidity     float64 `mapstructure:"min_liquidity" yaml:"min_liquidity"`
	TrivialWeight    float64 `mapstructure:"trivial_weight" yaml:"trivial_weight"`
	Rolling24hChange float64 `mapstructure:"rolling_24h_change" yaml:"rolling_24h_change"`
}

// BridgeConfig tunes the settlement state machine and its trigger policy.
type BridgeConfig struct {
	AttestationPollInterval time.Duration `mapstructure:"attestation_poll_interval" yaml:"attestation_poll_interval"`
	AttestationTimeout      time.Duration `mapstructure:"attestation_timeout" yaml:"attestation_timeout"`
	ConfirmTimeout          time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	MaxRetriesPerStep       int           `mapstructure:"max_retries_per_step" yaml:"max_retries_per_step"`
	RetryBaseDelay          time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	DryRun                  bool          `mapstructure:"dry_run" yaml:"dry_run"`

	// Trigger policy.
	TriggerThreshold   uint64        `mapstructure:"trigger_threshold" yaml:"trigger_threshold"` // micro-units
	WeeklyFallback     time.Duration `mapstructure:"weekly_fallback" yaml:"weekly_fallback"`
	CongestionCeiling  float64       `mapstructure:"congestion_ceiling" yaml:"congestion_ceiling"`
	PerJobCeiling      uint64        `mapstructure:"per_job_ceiling" yaml:"per_job_ceiling"`
	RollingWindowLimit uint64        `mapstructure:"rolling_window_limit" yaml:"rolling_window_limit"`
}

// StakingConfig tunes the reward distributor. Multipliers are expressed in
// basis points of 100 (100 = 1.0x) so the money math stays integral.
type StakingConfig struct {
	MediumTierAfter    time.Duration `mapstructure:"medium_tier_after" yaml:"medium_tier_after"`
	LongTierAfter      time.Duration `mapstructure:"long_tier_after" yaml:"long_tier_after"`
	BaseMultiplier     uint64        `mapstructure:"base_multiplier" yaml:"base_multiplier"`
	MediumMultiplier   uint64        `mapstructure:"medium_multiplier" yaml:"medium_multiplier"`
	LongMultiplier     uint64        `mapstructure:"long_multiplier" yaml:"long_multiplier"`
	UnstakeCooldown    time.Duration `mapstructure:"unstake_cooldown" yaml:"unstake_cooldown"`
}

// SafetyConfig tunes the five safety guards.
type SafetyConfig struct {
	LossHaltThreshold float64       `mapstructure:"loss_halt_threshold" yaml:"loss_halt_threshold"`
	LossHaltWindow    time.Duration `mapstructure:"loss_halt_window" yaml:"loss_halt_window"`
	IdempotencyTTL    time.Duration `mapstructure:"idempotency_ttl" yaml:"idempotency_ttl"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "jarvis-engine")
	v.SetDefault("logger.log_file", "jarvis.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.cycle_interval", "1h")
	v.SetDefault("engine.producer_timeout", "45s")
	v.SetDefault("engine.debate_round_timeout", "60s")
	v.SetDefault("engine.max_debate_rounds", 3)
	v.SetDefault("engine.convergence_gap", 0.15)
	v.SetDefault("engine.history_window", 30)
	v.SetDefault("engine.submit_timeout", "3m")
	v.SetDefault("engine.reflection_delay", "24h")
	v.SetDefault("engine.reflection_interval", "1h")
	v.SetDefault("engine.cost_benefit_ratio", 0.5)

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")

	// -- Risk --
	v.SetDefault("risk.max_token_weight", 0.30)
	v.SetDefault("risk.anchor_token", "USDC")
	v.SetDefault("risk.anchor_floor", 0.05)
	v.SetDefault("risk.max_change", 0.25)
	v.SetDefault("risk.max_token_churn", 4)
	v.SetDefault("risk.min_liquidity", 250_000.0)
	v.SetDefault("risk.trivial_weight", 0.01)
	v.SetDefault("risk.rolling_24h_change", 0.40)

	// -- Bridge --
	v.SetDefault("bridge.attestation_poll_interval", "15s")
	v.SetDefault("bridge.attestation_timeout", "30m")
	v.SetDefault("bridge.confirm_timeout", "2m")
	v.SetDefault("bridge.max_retries_per_step", 3)
	v.SetDefault("bridge.retry_base_delay", "5s")
	v.SetDefault("bridge.dry_run", false)
	v.SetDefault("bridge.trigger_threshold", 500_000_000) // 500 units
	v.SetDefault("bridge.weekly_fallback", "168h")
	v.SetDefault("bridge.congestion_ceiling", 0.8)
	v.SetDefault("bridge.per_job_ceiling", 5_000_000_000)
	v.SetDefault("bridge.rolling_window_limit", 10_000_000_000)

	// -- Staking --
	v.SetDefault("staking.medium_tier_after", "168h")  // 7 days
	v.SetDefault("staking.long_tier_after", "720h")    // 30 days
	v.SetDefault("staking.base_multiplier", 100)       // 1.0x
	v.SetDefault("staking.medium_multiplier", 125)     // 1.25x
	v.SetDefault("staking.long_multiplier", 150)       // 1.5x
	v.SetDefault("staking.unstake_cooldown", "72h")

	// -- Safety --
	v.SetDefault("safety.loss_halt_threshold", 0.15)
	v.SetDefault("safety.loss_halt_window", "24h")
	v.SetDefault("safety.idempotency_ttl", "10m")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("database.url", "JARVIS_DATABASE_URL")
	v.BindEnv("llm.api_key", "JARVIS_LLM_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.MaxDebateRounds <= 0 {
		return fmt.Errorf("engine.max_debate_rounds must be a positive integer")
	}
	if c.EngineCfg.ConvergenceGap < 0 || c.EngineCfg.ConvergenceGap > 1 {
		return fmt.Errorf("engine.convergence_gap must be between 0.0 and 1.0")
	}
	if c.EngineCfg.HistoryWindow <= 0 {
		return fmt.Errorf("engine.history_window must be a positive integer")
	}
	if err := c.RiskCfg.Validate(); err != nil {
		return fmt.Errorf("risk configuration invalid: %w", err)
	}
	if err := c.BridgeCfg.Validate(); err != nil {
		return fmt.Errorf("bridge configuration invalid: %w", err)
	}
	if err := c.StakingCfg.Validate(); err != nil {
		return fmt.Errorf("staking configuration invalid: %w", err)
	}
	if c.SafetyCfg.LossHaltThreshold <= 0 || c.SafetyCfg.LossHaltThreshold >= 1 {
		return fmt.Errorf("safety.loss_halt_threshold must be between 0.0 and 1.0 exclusive")
	}
	return nil
}

// Validate checks the risk gate limits.
func (r *RiskConfig) Validate() error {
	if r.MaxTokenWeight <= 0 || r.MaxTokenWeight > 1 {
		return fmt.Errorf("max_token_weight must be in (0.0, 1.0]")
	}
	if r.AnchorToken == "" {
		return fmt.Errorf("anchor_token is required")
	}
	if r.AnchorFloor < 0 || r.AnchorFloor >= r.MaxTokenWeight {
		return fmt.Errorf("anchor_floor must be non-negative and below max_token_weight")
	}
	if r.MaxChange <= 0 || r.MaxChange > 1 {
		return fmt.Errorf("max_change must be in (0.0, 1.0]")
	}
	if r.MaxTokenChurn <= 0 {
		return fmt.Errorf("max_token_churn must be a positive integer")
	}
	return nil
}

// Validate checks the bridge settings.
func (b *BridgeConfig) Validate() error {
	if b.AttestationPollInterval <= 0 {
		return fmt.Errorf("attestation_poll_interval must be a positive duration")
	}
	if b.AttestationTimeout <= b.AttestationPollInterval {
		return fmt.Errorf("attestation_timeout must exceed attestation_poll_interval")
	}
	if b.MaxRetriesPerStep <= 0 {
		return fmt.Errorf("max_retries_per_step must be a positive integer")
	}
	if b.PerJobCeiling == 0 || b.RollingWindowLimit < b.PerJobCeiling {
		return fmt.Errorf("per_job_ceiling must be positive and no greater than rolling_window_limit")
	}
	return nil
}

// Validate checks the staking settings.
func (s *StakingConfig) Validate() error {
	if s.BaseMultiplier == 0 || s.MediumMultiplier < s.BaseMultiplier || s.LongMultiplier < s.MediumMultiplier {
		return fmt.Errorf("multipliers must be positive and non-decreasing across tiers")
	}
	if s.MediumTierAfter <= 0 || s.LongTierAfter <= s.MediumTierAfter {
		return fmt.Errorf("tier thresholds must be positive and increasing")
	}
	return nil
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	APIKey               string                    `mapstructure:"api_key" yaml:"-"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}
