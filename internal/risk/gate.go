// Package risk is the veto layer between the strategy and the order path.
// Every prospective order passes through Gate.Check, which applies the
// full gate table and either approves the trade (possibly at a reduced
// quantity), or skips it with a reason from a closed set.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"kalshi-arb/internal/config"
	"kalshi-arb/internal/store"
	"kalshi-arb/pkg/types"
)

// Kind classifies the prospective trade. Hedge legs bypass the Kelly and
// fresh-odds gates and use the hedge exposure caps.
type Kind string

const (
	KindEntry   Kind = "entry"   // first position on an event
	KindHedge   Kind = "hedge"   // opposite side of an existing position
	KindPyramid Kind = "pyramid" // adding to a winning side
)

// Action is the gate's verdict.
type Action string

const (
	ActionEnter Action = "enter"
	ActionHedge Action = "hedge"
	ActionSkip  Action = "skip"
)

// Reason is the closed set of veto reasons. Every skip carries exactly one.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonSpreadAbsolute Reason = "spread_absolute"
	ReasonSpreadEVRatio  Reason = "spread_ev_ratio"
	ReasonPriceRange     Reason = "price_range"
	ReasonVolumeFloor    Reason = "volume_floor"
	ReasonKellyFloor     Reason = "kelly_floor"
	ReasonMinEV          Reason = "min_ev"
	ReasonSideCap        Reason = "side_exposure_cap"
	ReasonEventCap       Reason = "event_exposure_cap"
	ReasonTotalCap       Reason = "total_exposure_cap"
	ReasonHalfHedgeLock  Reason = "half_hedge_lock"
	ReasonCooldown       Reason = "stop_loss_cooldown"
	ReasonSevenPctExited Reason = "seven_pct_exited"
	ReasonEntryWindow    Reason = "entry_window"
	ReasonClockGate      Reason = "clock_gate"
	ReasonStaleOdds      Reason = "stale_odds"
	ReasonNBADisabled    Reason = "nba_disabled"
	ReasonMinQty         Reason = "below_min_qty"
)

// Request is one prospective order presented to the gate.
type Request struct {
	EventTicker  string
	MarketTicker string
	Sport        types.Sport
	Kind         Kind

	Bid, Ask  float64 // current top of book
	Price     float64 // intended limit price
	Qty       int     // desired contracts
	Volume24h float64 // event trailing 24h contract volume

	EV    float64 // expected value per contract at Price
	Kelly float64 // raw Kelly fraction for the trade

	Capital  float64 // account capital in dollars
	Snapshot types.ProbSnapshot
	Now      time.Time
}

// Decision is the gate's output. Qty may be smaller than requested when an
// exposure cap allowed only a partial size.
type Decision struct {
	Action Action
	Reason Reason
	Qty    int
	Price  float64
}

func skip(reason Reason) Decision {
	return Decision{Action: ActionSkip, Reason: reason}
}

// Gate applies the veto table. It reads exposure from the position store
// and durable flags from the state store; it never mutates positions.
type Gate struct {
	cfg       config.RiskConfig
	positions *store.PositionStore
	state     *store.StateStore
	logger    *slog.Logger

	mu        sync.Mutex
	skips     map[Reason]int
	placed    int
	filled    int
	timedOut  int
}

// NewGate creates a risk gate over the given stores.
func NewGate(cfg config.RiskConfig, positions *store.PositionStore, state *store.StateStore, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:       cfg,
		positions: positions,
		state:     state,
		skips:     make(map[Reason]int),
		logger:    logger.With("component", "risk"),
	}
}

// Check runs the full gate table against one prospective order.
func (g *Gate) Check(req Request) Decision {
	d := g.check(req)
	if d.Action == ActionSkip {
		g.mu.Lock()
		g.skips[d.Reason]++
		g.mu.Unlock()
		g.logger.Debug("entry vetoed",
			"event", req.EventTicker,
			"market", req.MarketTicker,
			"kind", req.Kind,
			"reason", d.Reason,
		)
	}
	return d
}

func (g *Gate) check(req Request) Decision {
	isHedge := req.Kind == KindHedge

	// Master switch: NBA trading off blocks everything NBA, monitoring
	// elsewhere keeps running.
	if req.Sport == types.SportNBA && !g.cfg.EnableNBATrading {
		return skip(ReasonNBADisabled)
	}

	// Permanent session block after an absolute-profit exit.
	if g.state.SevenPctExited(req.EventTicker) {
		return skip(ReasonSevenPctExited)
	}

	// Stop-loss cooldown, lifted early when price recovers to the entry
	// level at the time of the stop.
	if in, entryAtStop := g.state.InCooldown(req.EventTicker, req.Now); in {
		if req.Ask > 0 && req.Ask >= entryAtStop {
			if err := g.state.ClearCooldown(req.EventTicker); err != nil {
				g.logger.Warn("clear cooldown failed", "event", req.EventTicker, "error", err)
			}
			g.logger.Info("cooldown lifted on price recovery",
				"event", req.EventTicker, "ask", req.Ask, "entry_at_stop", entryAtStop)
		} else {
			return skip(ReasonCooldown)
		}
	}

	// Spread sanity.
	spread := req.Ask - req.Bid
	if req.Bid <= 0 || req.Ask <= 0 || spread > g.cfg.MaxSpreadAbsolute {
		return skip(ReasonSpreadAbsolute)
	}
	if req.EV > 0 && spread > g.cfg.MaxSpreadEVRatio*req.EV {
		return skip(ReasonSpreadEVRatio)
	}

	eventPositions := g.positions.ByEvent(req.EventTicker)
	firstEntry := len(eventPositions) == 0

	// Price range applies to fresh exposure, not to hedge completion.
	if !isHedge && (req.Price < g.cfg.MinPrice || req.Price > g.cfg.MaxPrice) {
		return skip(ReasonPriceRange)
	}

	if d := g.clockGates(req, firstEntry); d.Action == ActionSkip {
		return d
	}

	// Volume floor; a zero floor disables it.
	if !isHedge && req.Volume24h < g.cfg.MinVolume {
		return skip(ReasonVolumeFloor)
	}

	// Fresh-odds gate: entries need this tick's numbers; a hedge is
	// protecting a position that already exists, so it may run on stale.
	if !isHedge && !req.Snapshot.Fresh {
		return skip(ReasonStaleOdds)
	}

	// Edge floors, bypassed for hedge legs (their edge is the lock-in).
	if !isHedge {
		if req.EV < g.cfg.MinEV {
			return skip(ReasonMinEV)
		}
		if req.Kelly < g.cfg.MinKelly {
			return skip(ReasonKellyFloor)
		}
	}

	// Half-hedge lock: one side open blocks same-side adds unless the
	// pyramiding feature is on and the caller classified this as a pyramid.
	if g.state.EventLocked(req.EventTicker) && !isHedge {
		if req.Kind != KindPyramid || !g.cfg.PyramidEnabled {
			return skip(ReasonHalfHedgeLock)
		}
	}

	// Exposure caps, scaling down where headroom allows a partial size.
	qty := req.Qty
	if qty <= 0 || req.Price <= 0 {
		return skip(ReasonMinQty)
	}

	sideCapPct := g.cfg.MaxStakePct
	totalCapPct := g.cfg.MaxTotalExposurePct
	if isHedge {
		sideCapPct = g.cfg.HedgeMaxStakePct
		totalCapPct = g.cfg.MaxTotalExposureHedgePct
	}

	_, _, sideCost := store.AggregateSide(g.positions.ByMarket(req.MarketTicker), types.SideYes)
	sideExposure, _ := sideCost.Float64()
	eventExposure, _ := g.positions.EventExposure(req.EventTicker).Float64()
	totalExposure, _ := g.positions.TotalExposure().Float64()

	qty = scaleQty(qty, req.Price, sideCapPct*req.Capital-sideExposure)
	if qty == 0 {
		return skip(ReasonSideCap)
	}
	qty = scaleQty(qty, req.Price, g.cfg.MaxExposurePerGamePct*req.Capital-eventExposure)
	if qty == 0 {
		return skip(ReasonEventCap)
	}
	qty = scaleQty(qty, req.Price, totalCapPct*req.Capital-totalExposure)
	if qty == 0 {
		return skip(ReasonTotalCap)
	}

	if firstEntry && qty < g.cfg.FirstEntryMinQty {
		return skip(ReasonMinQty)
	}

	action := ActionEnter
	if isHedge {
		action = ActionHedge
	}
	return Decision{Action: action, Qty: qty, Price: req.Price}
}

// clockGates applies the entry-time and game-clock rules.
func (g *Gate) clockGates(req Request, firstEntry bool) Decision {
	clock := req.Snapshot.Clock
	gate, hasGate := g.cfg.ClockGates[string(req.Sport)]

	clockOK := true
	if hasGate && clock.Period > 0 {
		if clock.Period == 1 {
			elapsed := req.Sport.PeriodMinutes() - clock.MinutesLeft
			if elapsed < gate.MinElapsedP1 {
				clockOK = false
			}
		}
		if clock.InFinalPeriod(req.Sport) && clock.MinutesLeft <= gate.FinalBlockMinutes {
			clockOK = false
		}
	}

	// First entries must arrive inside the detection window, or the game
	// state itself must justify a late start.
	if firstEntry {
		firstSeen, err := g.state.FirstDetection(req.EventTicker, req.Now)
		if err != nil {
			g.logger.Warn("first detection lookup failed", "event", req.EventTicker, "error", err)
		}
		withinWindow := req.Now.Sub(firstSeen) <= g.cfg.FirstTradeWindow
		if !withinWindow && !clockOK {
			return skip(ReasonEntryWindow)
		}
	}

	if !clockOK {
		return skip(ReasonClockGate)
	}
	return Decision{Action: ActionEnter}
}

// scaleQty caps qty so qty·price fits in headroom dollars. Negative or
// zero headroom means no contracts fit.
func scaleQty(qty int, price, headroom float64) int {
	if headroom <= 0 {
		return 0
	}
	maxQty := int(headroom / price)
	if qty > maxQty {
		return maxQty
	}
	return qty
}

// RecordPlaced, RecordFilled, and RecordTimeout feed the order outcome
// counters surfaced on the dashboard.
func (g *Gate) RecordPlaced() { g.mu.Lock(); g.placed++; g.mu.Unlock() }

func (g *Gate) RecordFilled() { g.mu.Lock(); g.filled++; g.mu.Unlock() }

func (g *Gate) RecordTimeout() { g.mu.Lock(); g.timedOut++; g.mu.Unlock() }

// Counters is a point-in-time snapshot of gate activity.
type Counters struct {
	Skips    map[Reason]int `json:"skips"`
	Placed   int            `json:"orders_placed"`
	Filled   int            `json:"orders_filled"`
	TimedOut int            `json:"orders_timed_out"`
}

// Snapshot returns a copy of the counters.
func (g *Gate) Snapshot() Counters {
	g.mu.Lock()
	defer g.mu.Unlock()
	skips := make(map[Reason]int, len(g.skips))
	for k, v := range g.skips {
		skips[k] = v
	}
	return Counters{Skips: skips, Placed: g.placed, Filled: g.filled, TimedOut: g.timedOut}
}
