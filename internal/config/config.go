// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via KALSHI_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	LiveOrders bool            `mapstructure:"live_orders"`
	Exchange   ExchangeConfig  `mapstructure:"exchange"`
	Odds       OddsConfig      `mapstructure:"odds"`
	Engine     EngineConfig    `mapstructure:"engine"`
	Pricing    PricingConfig   `mapstructure:"pricing"`
	Risk       RiskConfig      `mapstructure:"risk"`
	Hedge      HedgeConfig     `mapstructure:"hedge"`
	Protect    ProtectConfig   `mapstructure:"protect"`
	Store      StoreConfig     `mapstructure:"store"`
	Logging    LoggingConfig   `mapstructure:"logging"`
	Dashboard  DashboardConfig `mapstructure:"dashboard"`
}

// ExchangeConfig holds Kalshi API endpoints and credentials.
// APIKeyID identifies the RSA key registered with the exchange; the private
// key is loaded from PrivateKeyPath (or KALSHI_PRIVATE_KEY with the PEM
// content directly, for deployments without a key file).
type ExchangeConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	WSURL          string        `mapstructure:"ws_url"`
	APIKeyID       string        `mapstructure:"api_key_id"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	PrivateKeyPEM  string        `mapstructure:"-"` // env only, never from file
	StaleQuoteSecs time.Duration `mapstructure:"stale_quote_secs"` // quote cache staleness cutoff
	OrderWait      time.Duration `mapstructure:"order_wait"`       // aggressive-order fill wait
	LimitWait      time.Duration `mapstructure:"limit_wait"`       // passive-order fill wait
}

// OddsConfig holds the sportsbook aggregator endpoint and fetch pacing.
type OddsConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Sports      []string      `mapstructure:"sports"`       // e.g. ["nba", "ncaam", "ncaaw"]
	MinInterval time.Duration `mapstructure:"min_interval"` // spacing between requests, ≥100ms
}

// EngineConfig tunes the worker loops.
type EngineConfig struct {
	StrategyTick      time.Duration `mapstructure:"strategy_tick"`      // strategy worker interval
	StopLossTick      time.Duration `mapstructure:"stop_loss_tick"`     // stop-loss worker interval
	UITick            time.Duration `mapstructure:"ui_tick"`            // dashboard snapshot interval
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"` // how often to re-match events
	ErrorPause        time.Duration `mapstructure:"error_pause"`        // worker pause after a tick-level failure
}

// PricingConfig selects the de-vig method and tunes the fill-probability and
// maker-vs-taker models.
//
//   - Devig: "logit" (default), "shin", or "proportional".
//   - FillExponent: curvature of the inside-spread fill estimate.
//   - WideSpreadCutoff: spreads above this take a fill-probability penalty.
//   - NearEndMinutes: remaining regulation minutes below which passive fills
//     are penalized (end-of-game liquidity collapse).
//   - MakerFillFloor / MakerForceTakerBelow: maker is preferred only above
//     the floor and forced to taker below the lower bound.
//   - MakerEVRatio: maker must retain this share of taker EV to win ties.
type PricingConfig struct {
	Devig                string  `mapstructure:"devig"`
	FillExponent         float64 `mapstructure:"fill_exponent"`
	WideSpreadCutoff     float64 `mapstructure:"wide_spread_cutoff"`
	WideSpreadPenalty    float64 `mapstructure:"wide_spread_penalty"`
	NearEndMinutes       float64 `mapstructure:"near_end_minutes"`
	NearEndPenalty       float64 `mapstructure:"near_end_penalty"`
	MakerFillFloor       float64 `mapstructure:"maker_fill_floor"`
	MakerForceTakerBelow float64 `mapstructure:"maker_force_taker_below"`
	MakerEVRatio         float64 `mapstructure:"maker_ev_ratio"`
}

// RiskConfig sets the entry gates and stop-loss thresholds. All *_pct values
// are fractions of trading capital (balance + open cost basis).
type RiskConfig struct {
	MaxSpreadAbsolute float64 `mapstructure:"max_spread_absolute"`
	MaxSpreadEVRatio  float64 `mapstructure:"max_spread_ev_ratio"`
	MinPrice          float64 `mapstructure:"min_price"`
	MaxPrice          float64 `mapstructure:"max_price"`
	MinVolume         float64 `mapstructure:"min_volume"`
	MinKelly          float64 `mapstructure:"min_kelly"`
	KellyScaler       float64 `mapstructure:"kelly_scaler"` // fractional Kelly multiplier
	MinEV             float64 `mapstructure:"min_ev"`

	MaxStakePct              float64 `mapstructure:"max_stake_pct"`
	HedgeMaxStakePct         float64 `mapstructure:"hedge_max_stake_pct"`
	MaxExposurePerGamePct    float64 `mapstructure:"max_exposure_per_game_pct"`
	MaxTotalExposurePct      float64 `mapstructure:"max_total_exposure_pct"`
	MaxTotalExposureHedgePct float64 `mapstructure:"max_total_exposure_hedge_pct"`

	FirstEntryMinQty int           `mapstructure:"first_entry_min_qty"`
	FirstTradeWindow time.Duration `mapstructure:"first_trade_window"`

	StopLossCooldown time.Duration `mapstructure:"stop_loss_cooldown"`
	HardStopPct      float64       `mapstructure:"hard_stop_pct"`
	SoftStopPct      float64       `mapstructure:"soft_stop_pct"`
	OddsDiffThresh   float64       `mapstructure:"odds_diff_threshold"`
	MinHoldTime      time.Duration `mapstructure:"min_hold_time"`
	ClosingReapAfter time.Duration `mapstructure:"closing_reap_after"` // stale closing-flag reaper

	// Game-clock entry gates, per sport: entries are blocked before
	// MinElapsedP1 minutes have elapsed in period 1 and inside
	// FinalBlockMinutes of the final period.
	ClockGates map[string]ClockGate `mapstructure:"clock_gates"`

	PyramidEnabled     bool    `mapstructure:"pyramid_enabled"`
	PyramidMinIncrease float64 `mapstructure:"pyramid_min_increase"`

	EnableNBATrading bool `mapstructure:"enable_nba_trading"`
}

// ClockGate bounds the in-game window during which entries are allowed.
type ClockGate struct {
	MinElapsedP1      float64 `mapstructure:"min_elapsed_p1"`      // minutes into period 1
	FinalBlockMinutes float64 `mapstructure:"final_block_minutes"` // blocked inside this remaining time
}

// HedgeConfig tunes the ROI-band hedge planner.
type HedgeConfig struct {
	TargetROI       float64 `mapstructure:"target_roi"`       // minimum ROI on both outcomes
	ImbalanceRatio  float64 `mapstructure:"imbalance_ratio"`  // under-levered threshold for the fallback
	BalanceFraction float64 `mapstructure:"balance_fraction"` // fallback order size vs opposite exposure
}

// ProtectConfig tunes the profit protector.
type ProtectConfig struct {
	ExitMin             float64       `mapstructure:"exit_min"`  // absolute-exit bid band, lower
	ExitMax             float64       `mapstructure:"exit_max"`  // absolute-exit bid band, upper
	ExitTimeMin         float64       `mapstructure:"exit_time_min"` // minutes left in final period
	HedgeBalanceFloor   float64       `mapstructure:"hedge_balance_floor"`
	PyramidingWindow    time.Duration `mapstructure:"pyramiding_window"`
	MaxProfitThreshold  float64       `mapstructure:"max_profit_threshold"`
	ReducedMargin       float64       `mapstructure:"reduced_margin"`
	AbsoluteMinProfit   float64       `mapstructure:"absolute_min_profit"`
	MinProfitForTrailing float64      `mapstructure:"min_profit_for_trailing"`
	TrailingStopPct     float64       `mapstructure:"trailing_stop_pct"`
	TrailingTightenPeak float64       `mapstructure:"trailing_tighten_peak"` // peak above which the trail halves
}

// StoreConfig sets where engine state is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the read-only web dashboard server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// AllowedOrigins is the WebSocket origin allowlist. Empty means
	// local/same-host only.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: KALSHI_API_KEY_ID, KALSHI_PRIVATE_KEY_PATH,
// KALSHI_PRIVATE_KEY, KALSHI_ODDS_API_KEY, LIVE_ORDERS.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("KALSHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if id := os.Getenv("KALSHI_API_KEY_ID"); id != "" {
		cfg.Exchange.APIKeyID = id
	}
	if p := os.Getenv("KALSHI_PRIVATE_KEY_PATH"); p != "" {
		cfg.Exchange.PrivateKeyPath = p
	}
	if pem := os.Getenv("KALSHI_PRIVATE_KEY"); pem != "" {
		cfg.Exchange.PrivateKeyPEM = pem
	}
	if key := os.Getenv("KALSHI_ODDS_API_KEY"); key != "" {
		cfg.Odds.APIKey = key
	}
	// The live-trade toggle: anything but an explicit "yes" means dry-run.
	if lv := os.Getenv("LIVE_ORDERS"); lv != "" {
		cfg.LiveOrders = lv == "yes"
	}

	return &cfg, nil
}

// Defaults returns a Config populated with the engine's default thresholds.
// Load starts from these so a partial YAML file stays runnable.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:        "https://api.elections.kalshi.com",
			WSURL:          "wss://api.elections.kalshi.com/trade-api/ws/v2",
			StaleQuoteSecs: 30 * time.Second,
			OrderWait:      5 * time.Second,
			LimitWait:      45 * time.Second,
		},
		Odds: OddsConfig{
			Sports:      []string{"nba", "ncaam", "ncaaw"},
			MinInterval: 100 * time.Millisecond,
		},
		Engine: EngineConfig{
			StrategyTick:      12 * time.Second,
			StopLossTick:      3 * time.Second,
			UITick:            2 * time.Second,
			DiscoveryInterval: 5 * time.Minute,
			ErrorPause:        45 * time.Second,
		},
		Pricing: PricingConfig{
			Devig:                "logit",
			FillExponent:         1.5,
			WideSpreadCutoff:     0.06,
			WideSpreadPenalty:    0.5,
			NearEndMinutes:       3,
			NearEndPenalty:       0.4,
			MakerFillFloor:       0.60,
			MakerForceTakerBelow: 0.20,
			MakerEVRatio:         0.90,
		},
		Risk: RiskConfig{
			MaxSpreadAbsolute:        0.08,
			MaxSpreadEVRatio:         2.0,
			MinPrice:                 0.20,
			MaxPrice:                 0.85,
			MinVolume:                500,
			MinKelly:                 0.01,
			KellyScaler:              0.25,
			MinEV:                    0.02,
			MaxStakePct:              0.10,
			HedgeMaxStakePct:         0.15,
			MaxExposurePerGamePct:    0.20,
			MaxTotalExposurePct:      0.60,
			MaxTotalExposureHedgePct: 0.75,
			FirstEntryMinQty:         5,
			FirstTradeWindow:         20 * time.Minute,
			StopLossCooldown:         15 * time.Minute,
			HardStopPct:              0.50,
			SoftStopPct:              0.225,
			OddsDiffThresh:           0.10,
			MinHoldTime:              90 * time.Second,
			ClosingReapAfter:         5 * time.Minute,
			ClockGates: map[string]ClockGate{
				"nba":   {MinElapsedP1: 3, FinalBlockMinutes: 4},
				"ncaam": {MinElapsedP1: 4, FinalBlockMinutes: 5},
				"ncaaw": {MinElapsedP1: 2, FinalBlockMinutes: 4},
			},
			PyramidEnabled:     false,
			PyramidMinIncrease: 0.05,
			EnableNBATrading:   true,
		},
		Hedge: HedgeConfig{
			TargetROI:       0.02,
			ImbalanceRatio:  0.625,
			BalanceFraction: 0.80,
		},
		Protect: ProtectConfig{
			ExitMin:              0.02,
			ExitMax:              0.10,
			ExitTimeMin:          2,
			HedgeBalanceFloor:    0.30,
			PyramidingWindow:     5 * time.Minute,
			MaxProfitThreshold:   0.80,
			ReducedMargin:        0.01,
			AbsoluteMinProfit:    0.03,
			MinProfitForTrailing: 0.05,
			TrailingStopPct:      0.04,
			TrailingTightenPeak:  0.25,
		},
		Store:   StoreConfig{DataDir: "data"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Dashboard: DashboardConfig{
			Enabled: true,
			Port:    8090,
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.APIKeyID == "" {
		return fmt.Errorf("exchange.api_key_id is required (set KALSHI_API_KEY_ID)")
	}
	if c.Exchange.PrivateKeyPath == "" && c.Exchange.PrivateKeyPEM == "" {
		return fmt.Errorf("exchange private key is required (set KALSHI_PRIVATE_KEY_PATH or KALSHI_PRIVATE_KEY)")
	}
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required")
	}
	if c.Odds.APIKey == "" {
		return fmt.Errorf("odds.api_key is required (set KALSHI_ODDS_API_KEY)")
	}
	if c.Odds.MinInterval < 100*time.Millisecond {
		return fmt.Errorf("odds.min_interval must be at least 100ms, got %v", c.Odds.MinInterval)
	}
	switch c.Pricing.Devig {
	case "logit", "shin", "proportional":
	default:
		return fmt.Errorf("pricing.devig must be one of: logit, shin, proportional")
	}
	if c.Risk.MinPrice <= 0 || c.Risk.MaxPrice >= 1 || c.Risk.MinPrice >= c.Risk.MaxPrice {
		return fmt.Errorf("risk price range [%v, %v] must satisfy 0 < min < max < 1",
			c.Risk.MinPrice, c.Risk.MaxPrice)
	}
	if c.Risk.KellyScaler <= 0 || c.Risk.KellyScaler > 1 {
		return fmt.Errorf("risk.kelly_scaler must be in (0, 1], got %v", c.Risk.KellyScaler)
	}
	if c.Risk.SoftStopPct >= c.Risk.HardStopPct {
		return fmt.Errorf("risk.soft_stop_pct (%v) must be below hard_stop_pct (%v)",
			c.Risk.SoftStopPct, c.Risk.HardStopPct)
	}
	if c.Hedge.TargetROI < 0 {
		return fmt.Errorf("hedge.target_roi must be >= 0")
	}
	if c.Protect.ExitMin >= c.Protect.ExitMax {
		return fmt.Errorf("protect.exit_min (%v) must be below exit_max (%v)",
			c.Protect.ExitMin, c.Protect.ExitMax)
	}
	if c.Engine.StrategyTick <= 0 || c.Engine.StopLossTick <= 0 {
		return fmt.Errorf("engine tick intervals must be positive")
	}
	// The reaper must outlive the longest order wait, or a slow close would
	// be reaped mid-flight and double-evaluated.
	minReap := 3 * c.Exchange.LimitWait
	if minReap < 5*time.Minute {
		minReap = 5 * time.Minute
	}
	if c.Risk.ClosingReapAfter < minReap {
		c.Risk.ClosingReapAfter = minReap
	}
	return nil
}
