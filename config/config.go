package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full agent configuration.
type Config struct {
	Trading   TradingConfig   `yaml:"trading"`
	Risk      RiskConfig      `yaml:"risk"`
	Rebalance RebalanceConfig `yaml:"rebalance"`
	Adaptive  AdaptiveConfig  `yaml:"adaptive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`

	PaperTrading bool `yaml:"paper_trading"`
	Devnet       bool `yaml:"devnet"`
}

// TradingConfig controls entry and exit thresholds.
type TradingConfig struct {
	MinBasisSpreadPct      float64 `yaml:"min_basis_spread_pct"`
	MinFundingAPRPct       float64 `yaml:"min_funding_apr_pct"`
	MaxLeverage            float64 `yaml:"max_leverage"`
	MaxPositionSizeSOL     float64 `yaml:"max_position_size_sol"`
	MaxTotalExposureUSD    float64 `yaml:"max_total_exposure_usd"`
	SlippageTolerancePct   float64 `yaml:"slippage_tolerance_pct"`
	BasisCloseThresholdPct float64 `yaml:"basis_close_threshold_pct"`
	MaxHoldTimeHours       int     `yaml:"max_hold_time_hours"`
}

// RiskConfig controls the circuit breakers.
type RiskConfig struct {
	MaxDrawdownPct         float64 `yaml:"max_drawdown_pct"`
	StopLossPct            float64 `yaml:"stop_loss_pct"`
	HedgeDriftThresholdPct float64 `yaml:"hedge_drift_threshold_pct"`
	MaxFundingReversalLoss float64 `yaml:"max_funding_reversal_loss"`
	MaxOpenPositions       int     `yaml:"max_open_positions"`
	MinTradeIntervalSecs   int     `yaml:"min_trade_interval_secs"`
	// StartingCapitalUSD seeds equity tracking when no balance source exists.
	StartingCapitalUSD float64 `yaml:"starting_capital_usd"`
}

// RebalanceConfig controls the hedge-drift controller.
type RebalanceConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs"`
	MinRebalanceSizeSOL  float64 `yaml:"min_rebalance_size_sol"`
	MaxRebalancesPerHour int     `yaml:"max_rebalances_per_hour"`
}

// AdaptiveConfig controls the learning features.
type AdaptiveConfig struct {
	EnableAdaptiveSizing         bool    `yaml:"enable_adaptive_sizing"`
	EnableReversalDetection      bool    `yaml:"enable_reversal_detection"`
	EnablePerformanceTracking    bool    `yaml:"enable_performance_tracking"`
	PerformanceDBPath            string  `yaml:"performance_db_path"`
	MinTradesForAdaptation       int     `yaml:"min_trades_for_adaptation"`
	MaxKellyFraction             float64 `yaml:"max_kelly_fraction"`
	UseHalfKelly                 bool    `yaml:"use_half_kelly"`
	MinPositionMultiplier        float64 `yaml:"min_position_multiplier"`
	ReversalAlertCooldownSecs    int     `yaml:"reversal_alert_cooldown_secs"`
	ForceCloseOnCriticalReversal bool    `yaml:"force_close_on_critical_reversal"`
}

// TelemetryConfig controls metrics export and the trade archive.
type TelemetryConfig struct {
	MetricsPort   int    `yaml:"metrics_port"`
	EnableMetrics bool   `yaml:"enable_metrics"`
	ArchiveDSN    string `yaml:"archive_dsn"` // SQLite path, or ":memory:"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the fully-defaulted configuration. Load unmarshals the
// user's YAML over this value, so keys absent from the file keep their
// defaults and an explicit `false` on a boolean wins.
func Default() *Config {
	return &Config{
		Trading: TradingConfig{
			MinBasisSpreadPct:      0.10,
			MinFundingAPRPct:       15.0,
			MaxLeverage:            2.0,
			MaxPositionSizeSOL:     100.0,
			MaxTotalExposureUSD:    50_000,
			SlippageTolerancePct:   0.5,
			BasisCloseThresholdPct: 0.05,
			MaxHoldTimeHours:       168,
		},
		Risk: RiskConfig{
			MaxDrawdownPct:         10.0,
			StopLossPct:            5.0,
			HedgeDriftThresholdPct: 2.0,
			MaxFundingReversalLoss: 100.0,
			MaxOpenPositions:       5,
			MinTradeIntervalSecs:   60,
			StartingCapitalUSD:     10_000,
		},
		Rebalance: RebalanceConfig{
			CheckIntervalSecs:    300,
			MinRebalanceSizeSOL:  0.1,
			MaxRebalancesPerHour: 10,
		},
		Adaptive: AdaptiveConfig{
			EnableAdaptiveSizing:         true,
			EnableReversalDetection:      true,
			EnablePerformanceTracking:    true,
			PerformanceDBPath:            "data/performance.json",
			MinTradesForAdaptation:       10,
			MaxKellyFraction:             0.25,
			UseHalfKelly:                 true,
			MinPositionMultiplier:        0.5,
			ReversalAlertCooldownSecs:    300,
			ForceCloseOnCriticalReversal: true,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
			ArchiveDSN:    "data/trades.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML config over the defaults and applies .env overrides if
// present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// MinTradeInterval returns the minimum spacing between opens.
func (c *Config) MinTradeInterval() time.Duration {
	return time.Duration(c.Risk.MinTradeIntervalSecs) * time.Second
}

// RebalanceInterval returns the minimum spacing between rebalances.
func (c *Config) RebalanceInterval() time.Duration {
	return time.Duration(c.Rebalance.CheckIntervalSecs) * time.Second
}

// ReversalCooldown returns the alert suppression window.
func (c *Config) ReversalCooldown() time.Duration {
	return time.Duration(c.Adaptive.ReversalAlertCooldownSecs) * time.Second
}

// Validate rejects out-of-range values before the agent starts.
func (c *Config) Validate() error {
	if c.Trading.MinBasisSpreadPct <= 0 {
		return fmt.Errorf("min_basis_spread_pct must be positive, got %v", c.Trading.MinBasisSpreadPct)
	}
	if c.Trading.MinFundingAPRPct <= 0 {
		return fmt.Errorf("min_funding_apr_pct must be positive, got %v", c.Trading.MinFundingAPRPct)
	}
	if c.Trading.MaxLeverage <= 0 || c.Trading.MaxLeverage > 10 {
		return fmt.Errorf("max_leverage must be in (0, 10], got %v", c.Trading.MaxLeverage)
	}
	if c.Trading.MaxPositionSizeSOL <= 0 {
		return fmt.Errorf("max_position_size_sol must be positive, got %v", c.Trading.MaxPositionSizeSOL)
	}
	if c.Trading.SlippageTolerancePct <= 0 || c.Trading.SlippageTolerancePct > 5 {
		return fmt.Errorf("slippage_tolerance_pct must be in (0, 5], got %v", c.Trading.SlippageTolerancePct)
	}
	if c.Trading.BasisCloseThresholdPct <= 0 {
		return fmt.Errorf("basis_close_threshold_pct must be positive, got %v", c.Trading.BasisCloseThresholdPct)
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		return fmt.Errorf("max_drawdown_pct must be in (0, 100], got %v", c.Risk.MaxDrawdownPct)
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct > 50 {
		return fmt.Errorf("stop_loss_pct must be in (0, 50], got %v", c.Risk.StopLossPct)
	}
	if c.Risk.HedgeDriftThresholdPct <= 0 {
		return fmt.Errorf("hedge_drift_threshold_pct must be positive, got %v", c.Risk.HedgeDriftThresholdPct)
	}
	if c.Adaptive.MaxKellyFraction <= 0 || c.Adaptive.MaxKellyFraction > 1 {
		return fmt.Errorf("max_kelly_fraction must be in (0, 1], got %v", c.Adaptive.MaxKellyFraction)
	}
	if c.Adaptive.MinPositionMultiplier <= 0 || c.Adaptive.MinPositionMultiplier > 1 {
		return fmt.Errorf("min_position_multiplier must be in (0, 1], got %v", c.Adaptive.MinPositionMultiplier)
	}
	if c.Adaptive.ReversalAlertCooldownSecs <= 0 {
		return fmt.Errorf("reversal_alert_cooldown_secs must be positive, got %v", c.Adaptive.ReversalAlertCooldownSecs)
	}
	if c.Rebalance.MaxRebalancesPerHour <= 0 {
		return fmt.Errorf("max_rebalances_per_hour must be positive, got %v", c.Rebalance.MaxRebalancesPerHour)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("PERFORMANCE_DB_PATH"); v != "" {
		cfg.Adaptive.PerformanceDBPath = v
	}
}
