package api

import (
	"time"

	"kalshi-arb/internal/config"
	"kalshi-arb/internal/engine"
	"kalshi-arb/internal/risk"
	"kalshi-arb/pkg/types"
)

// DashboardSnapshot is the complete dashboard state.
type DashboardSnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	LiveOrders bool      `json:"live_orders"`

	Capital  float64 `json:"capital"`
	Exposure float64 `json:"exposure"`

	Positions []PositionStatus     `json:"positions"`
	Games     []engine.TrackedGame `json:"games"`
	Counters  risk.Counters        `json:"counters"`
	Config    ConfigSummary        `json:"config"`
}

// PositionStatus is one open position on the dashboard.
type PositionStatus struct {
	EventTicker  string    `json:"event_ticker"`
	MarketTicker string    `json:"market_ticker"`
	Side         string    `json:"side"`
	Stake        int       `json:"stake"`
	EntryPrice   float64   `json:"entry_price"`
	CostBasis    float64   `json:"cost_basis"`
	StopLoss     float64   `json:"stop_loss,omitempty"`
	MaxSeenBid   float64   `json:"max_seen_bid,omitempty"`
	Closing      bool      `json:"closing"`
	EntryTime    time.Time `json:"entry_time"`
}

// ConfigSummary surfaces the tunables that explain what the engine is
// doing, without credentials.
type ConfigSummary struct {
	StrategyTick string `json:"strategy_tick"`
	StopLossTick string `json:"stop_loss_tick"`

	DevigMethod string  `json:"devig_method"`
	KellyScaler float64 `json:"kelly_scaler"`
	MinEV       float64 `json:"min_ev"`

	MaxStakePct      float64 `json:"max_stake_pct"`
	HedgeMaxStakePct float64 `json:"hedge_max_stake_pct"`
	HardStopPct      float64 `json:"hard_stop_pct"`
	SoftStopPct      float64 `json:"soft_stop_pct"`

	HedgeTargetROI float64 `json:"hedge_target_roi"`
	ExitMin        float64 `json:"exit_min"`
	ExitMax        float64 `json:"exit_max"`

	DryRun bool `json:"dry_run"`
}

// NewConfigSummary builds the summary from config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		StrategyTick: cfg.Engine.StrategyTick.String(),
		StopLossTick: cfg.Engine.StopLossTick.String(),

		DevigMethod: cfg.Pricing.Devig,
		KellyScaler: cfg.Risk.KellyScaler,
		MinEV:       cfg.Risk.MinEV,

		MaxStakePct:      cfg.Risk.MaxStakePct,
		HedgeMaxStakePct: cfg.Risk.HedgeMaxStakePct,
		HardStopPct:      cfg.Risk.HardStopPct,
		SoftStopPct:      cfg.Risk.SoftStopPct,

		HedgeTargetROI: cfg.Hedge.TargetROI,
		ExitMin:        cfg.Protect.ExitMin,
		ExitMax:        cfg.Protect.ExitMax,

		DryRun: !cfg.LiveOrders,
	}
}

func positionStatus(p types.Position) PositionStatus {
	return PositionStatus{
		EventTicker:  p.EventTicker,
		MarketTicker: p.MarketTicker,
		Side:         string(p.Side),
		Stake:        p.Stake,
		EntryPrice:   p.EntryPrice,
		CostBasis:    p.CostBasis(),
		StopLoss:     p.StopLoss,
		MaxSeenBid:   p.MaxSeenBid,
		Closing:      p.ClosingInProgress,
		EntryTime:    p.EntryTime,
	}
}
