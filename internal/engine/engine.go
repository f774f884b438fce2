// Package engine runs the trading loops: a strategy worker that discovers
// games, prices both sides, and enters or hedges; a faster stop-loss and
// exit worker; and a display worker. All order flow passes the risk gate,
// and all position mutation happens under the engine's writer lock.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kalshi-arb/internal/config"
	"kalshi-arb/internal/hedge"
	"kalshi-arb/internal/match"
	"kalshi-arb/internal/odds"
	"kalshi-arb/internal/pricing"
	"kalshi-arb/internal/protect"
	"kalshi-arb/internal/risk"
	"kalshi-arb/internal/store"
	"kalshi-arb/pkg/types"
)

// Bankroll assumed in dry-run mode, where the balance endpoint is not
// consulted.
const paperBankroll = 500.0

// Exchange is the slice of the trade API the engine drives.
type Exchange interface {
	ListMarkets(ctx context.Context, eventTicker, seriesTicker string) ([]types.Market, error)
	GetMarket(ctx context.Context, ticker string) (*types.Market, error)
	PlaceOrder(ctx context.Context, order types.OrderRequest) (*types.OrderResult, error)
	WaitForFill(ctx context.Context, orderID, marketTicker string, side types.Side, timeout time.Duration) (*types.OrderResult, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	FetchLivePositions(ctx context.Context) ([]types.LivePosition, error)
	Live() bool
}

// OddsProvider lists live games and refreshes de-vigged probabilities.
type OddsProvider interface {
	ListEvents(ctx context.Context, sport types.Sport) ([]odds.GameInfo, error)
	Refresh(ctx context.Context, game odds.GameInfo) (types.ProbSnapshot, error)
	Get(eventID string) (types.ProbSnapshot, bool)
	Forget(eventID string)
}

// GameMatcher resolves a sportsbook game to exchange markets.
type GameMatcher interface {
	Match(ctx context.Context, sport types.Sport, homeTeam, awayTeam string, start time.Time) (match.Result, error)
}

// QuoteSource serves top-of-book quotes and tracks the subscription set.
type QuoteSource interface {
	Quote(marketTicker string) (types.Quote, bool)
	SyncSubscriptions(want []string) error
}

// game is one tracked event: the sportsbook view plus the matched markets.
type game struct {
	Info   odds.GameInfo
	Event  string // exchange event ticker
	Home   types.Market
	Away   types.Market
	Synced time.Time
}

// Engine owns the worker loops and the trading state they share.
type Engine struct {
	cfg       config.Config
	logger    *slog.Logger
	kernel    *pricing.Kernel
	positions *store.PositionStore
	state     *store.StateStore
	gate      *risk.Gate
	planner   *hedge.Planner
	protector *protect.Protector
	exch      Exchange
	odds      OddsProvider
	matcher   GameMatcher
	quotes    QuoteSource

	// mu is the writer lock: it brackets every submit+wait+upsert so no
	// two workers place orders on the same market at once.
	mu sync.Mutex

	gamesMu       sync.RWMutex
	games         map[string]*game // by exchange event ticker
	lastDiscovery time.Time
	lastEntry     map[string]time.Time // per event, for the pyramiding freeze

	capMu   sync.Mutex
	capital float64
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Kernel    *pricing.Kernel
	Positions *store.PositionStore
	State     *store.StateStore
	Gate      *risk.Gate
	Planner   *hedge.Planner
	Protector *protect.Protector
	Exchange  Exchange
	Odds      OddsProvider
	Matcher   GameMatcher
	Quotes    QuoteSource
}

// New assembles an engine.
func New(cfg config.Config, deps Deps, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
		kernel:    deps.Kernel,
		positions: deps.Positions,
		state:     deps.State,
		gate:      deps.Gate,
		planner:   deps.Planner,
		protector: deps.Protector,
		exch:      deps.Exchange,
		odds:      deps.Odds,
		matcher:   deps.Matcher,
		quotes:    deps.Quotes,
		games:     make(map[string]*game),
		lastEntry: make(map[string]time.Time),
	}
	if !deps.Exchange.Live() {
		e.capital = paperBankroll
	}
	return e
}

// Run starts the worker loops and blocks until ctx is cancelled, then
// persists the store and returns.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		"live_orders", e.exch.Live(),
		"strategy_tick", e.cfg.Engine.StrategyTick,
		"stop_loss_tick", e.cfg.Engine.StopLossTick,
	)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); e.strategyLoop(ctx) }()
	go func() { defer wg.Done(); e.stopLossLoop(ctx) }()
	go func() { defer wg.Done(); e.displayLoop(ctx) }()
	wg.Wait()

	if err := e.positions.Persist(); err != nil {
		e.logger.Error("final persist failed", "error", err)
		return err
	}
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) strategyLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Engine.StrategyTick)
	defer ticker.Stop()
	for {
		if err := e.strategyTick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("strategy tick failed", "error", err)
			select {
			case <-time.After(e.cfg.Engine.ErrorPause):
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) stopLossLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Engine.StopLossTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.exitTick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) displayLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Engine.UITick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			open := e.positions.OpenPositions()
			exposure, _ := e.positions.TotalExposure().Float64()
			e.logger.Info("book",
				"open_positions", len(open),
				"exposure", exposure,
				"capital", e.currentCapital(),
				"tracked_games", e.trackedGameCount(),
			)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) trackedGameCount() int {
	e.gamesMu.RLock()
	defer e.gamesMu.RUnlock()
	return len(e.games)
}

func (e *Engine) currentCapital() float64 {
	e.capMu.Lock()
	defer e.capMu.Unlock()
	return e.capital
}

func (e *Engine) setCapital(c float64) {
	e.capMu.Lock()
	e.capital = c
	e.capMu.Unlock()
}

// refreshCapital pulls the cash balance and adds the open cost basis, so
// sizing percentages track total trading capital rather than shrinking as
// cash converts to positions. Failures keep the previous value; dry-run
// mode never calls out.
func (e *Engine) refreshCapital(ctx context.Context) {
	if !e.exch.Live() {
		return
	}
	bal, err := e.exch.GetBalance(ctx)
	if err != nil {
		e.logger.Warn("balance fetch failed, keeping previous", "error", err)
		return
	}
	cash, _ := bal.Float64()
	exposure, _ := e.positions.TotalExposure().Float64()
	e.setCapital(cash + exposure)
}

// quote returns the freshest top-of-book for a market: the stream cache
// first, REST as fallback.
func (e *Engine) quote(ctx context.Context, marketTicker string) (bid, ask float64, volume float64, ok bool) {
	if q, ok := e.quotes.Quote(marketTicker); ok {
		return q.YesBid, q.YesAsk, q.Volume24h, true
	}
	m, err := e.exch.GetMarket(ctx, marketTicker)
	if err != nil {
		e.logger.Debug("quote unavailable", "market", marketTicker, "error", err)
		return 0, 0, 0, false
	}
	return m.YesBid, m.YesAsk, m.Volume24h, true
}

// Status is a point-in-time view for the dashboard.
type Status struct {
	Timestamp    time.Time        `json:"timestamp"`
	LiveOrders   bool             `json:"live_orders"`
	Capital      float64          `json:"capital"`
	Exposure     float64          `json:"exposure"`
	Positions    []types.Position `json:"positions"`
	TrackedGames []TrackedGame    `json:"tracked_games"`
	Counters     risk.Counters    `json:"counters"`
}

// TrackedGame is one matched game on the dashboard.
type TrackedGame struct {
	EventTicker string          `json:"event_ticker"`
	Sport       types.Sport     `json:"sport"`
	HomeTeam    string          `json:"home_team"`
	AwayTeam    string          `json:"away_team"`
	Clock       types.GameClock `json:"clock"`
}

// Status snapshots the engine for display. Read-only.
func (e *Engine) Status() Status {
	exposure, _ := e.positions.TotalExposure().Float64()
	st := Status{
		Timestamp:  time.Now(),
		LiveOrders: e.exch.Live(),
		Capital:    e.currentCapital(),
		Exposure:   exposure,
		Positions:  e.positions.OpenPositions(),
		Counters:   e.gate.Snapshot(),
	}
	e.gamesMu.RLock()
	for _, g := range e.games {
		st.TrackedGames = append(st.TrackedGames, TrackedGame{
			EventTicker: g.Event,
			Sport:       g.Info.Sport,
			HomeTeam:    g.Info.HomeTeam,
			AwayTeam:    g.Info.AwayTeam,
			Clock:       g.Info.Clock,
		})
	}
	e.gamesMu.RUnlock()
	return st
}
