package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"kalshi-arb/internal/exchange"
	"kalshi-arb/internal/hedge"
	"kalshi-arb/internal/match"
	"kalshi-arb/internal/odds"
	"kalshi-arb/internal/pricing"
	"kalshi-arb/internal/risk"
	"kalshi-arb/pkg/types"
)

// strategyTick is one full pass of the strategy worker: reconcile, discover
// and match games, refresh odds, evaluate both sides of every tracked game,
// reconcile again.
func (e *Engine) strategyTick(ctx context.Context) error {
	now := time.Now()
	if exchange.InMaintenanceWindow(now) {
		e.logger.Info("exchange maintenance window, skipping tick")
		return nil
	}

	e.refreshCapital(ctx)

	if err := e.reconcile(ctx); err != nil {
		e.logger.Warn("pre-tick reconcile failed", "error", err)
	}

	if err := e.discoverGames(ctx, now); err != nil {
		return err
	}
	e.syncSubscriptions()

	e.gamesMu.RLock()
	tracked := make([]*game, 0, len(e.games))
	for _, g := range e.games {
		tracked = append(tracked, g)
	}
	e.gamesMu.RUnlock()

	for _, g := range tracked {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.evaluateGameSafe(ctx, g); err != nil {
			// One bad game must not starve the rest of the slate.
			e.logger.Error("game evaluation failed",
				"event", g.Event, "home", g.Info.HomeTeam, "away", g.Info.AwayTeam, "error", err)
		}
	}

	if err := e.reconcile(ctx); err != nil {
		e.logger.Warn("post-tick reconcile failed", "error", err)
	}
	return nil
}

// discoverGames lists live games per sport, updates clocks on tracked
// games, matches new ones to exchange markets, and drops finished ones.
func (e *Engine) discoverGames(ctx context.Context, now time.Time) error {
	rematch := now.Sub(e.lastDiscovery) >= e.cfg.Engine.DiscoveryInterval
	if rematch {
		e.lastDiscovery = now
	}

	seen := make(map[string]bool)
	for _, name := range e.cfg.Odds.Sports {
		sport := types.Sport(name)
		gamesList, err := e.odds.ListEvents(ctx, sport)
		if err != nil {
			if errors.Is(err, odds.ErrThrottled) {
				e.logger.Warn("odds provider throttled during discovery", "sport", sport)
				return nil
			}
			return err
		}
		for _, info := range gamesList {
			seen[info.EventID] = true
			e.trackGame(ctx, sport, info, rematch)
		}
	}

	// Games gone from the feed are over; release their state.
	e.gamesMu.Lock()
	for evt, g := range e.games {
		if !seen[g.Info.EventID] {
			delete(e.games, evt)
			e.odds.Forget(g.Info.EventID)
			e.protector.Forget(evt)
			e.logger.Info("game ended, untracked", "event", evt)
		}
	}
	e.gamesMu.Unlock()
	return nil
}

// trackGame updates an already-matched game's clock, or matches a new one.
// Match failures retry on the discovery interval via the rematch flag.
func (e *Engine) trackGame(ctx context.Context, sport types.Sport, info odds.GameInfo, rematch bool) {
	e.gamesMu.Lock()
	for _, g := range e.games {
		if g.Info.EventID == info.EventID {
			g.Info = info
			e.gamesMu.Unlock()
			return
		}
	}
	e.gamesMu.Unlock()

	if !rematch {
		return
	}

	res, err := e.matcher.Match(ctx, sport, info.HomeTeam, info.AwayTeam, info.StartTime)
	if err != nil {
		if !errors.Is(err, match.ErrNoMatch) {
			e.logger.Warn("market match failed",
				"sport", sport, "home", info.HomeTeam, "away", info.AwayTeam, "error", err)
		}
		return
	}
	home, okH := match.MarketForTeam(res.Markets, sport, info.HomeTeam)
	away, okA := match.MarketForTeam(res.Markets, sport, info.AwayTeam)
	if !okH || !okA || home.Ticker == away.Ticker {
		e.logger.Warn("matched event has ambiguous team markets", "event", res.EventTicker)
		return
	}

	e.gamesMu.Lock()
	e.games[res.EventTicker] = &game{Info: info, Event: res.EventTicker, Home: home, Away: away, Synced: time.Now()}
	e.gamesMu.Unlock()
	e.logger.Info("game matched",
		"event", res.EventTicker, "home", info.HomeTeam, "away", info.AwayTeam, "sport", sport)
}

// syncSubscriptions points the quote stream at every market we track or
// hold.
func (e *Engine) syncSubscriptions() {
	want := make(map[string]bool)
	e.gamesMu.RLock()
	for _, g := range e.games {
		want[g.Home.Ticker] = true
		want[g.Away.Ticker] = true
	}
	e.gamesMu.RUnlock()
	for _, p := range e.positions.OpenPositions() {
		want[p.MarketTicker] = true
	}

	tickers := make([]string, 0, len(want))
	for t := range want {
		tickers = append(tickers, t)
	}
	if err := e.quotes.SyncSubscriptions(tickers); err != nil {
		e.logger.Warn("subscription sync failed", "error", err)
	}
}

// evaluateGameSafe converts a panic during one game's evaluation into an
// error so the tick loop survives it.
func (e *Engine) evaluateGameSafe(ctx context.Context, g *game) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluation panic: %v\n%s", r, debug.Stack())
		}
	}()
	return e.evaluateGame(ctx, g)
}

// evaluateGame refreshes odds for one game and considers both sides.
func (e *Engine) evaluateGame(ctx context.Context, g *game) error {
	snap, err := e.odds.Refresh(ctx, g.Info)
	if err != nil {
		return err
	}
	e.evaluateSide(ctx, g, g.Home, snap.HomeProb, snap)
	e.evaluateSide(ctx, g, g.Away, snap.AwayProb, snap)
	return nil
}

// evaluateSide prices one market against its true probability and walks the
// result through sizing, the risk gate, and order submission.
func (e *Engine) evaluateSide(ctx context.Context, g *game, market types.Market, trueProb float64, snap types.ProbSnapshot) {
	now := time.Now()
	sport := g.Info.Sport

	bid, ask, vol, ok := e.quote(ctx, market.Ticker)
	if !ok {
		return
	}
	vol = math.Max(vol, market.Volume24h)

	pos, havePos := e.positions.Get(market.Ticker, types.SideYes)
	opposite := g.Away
	if market.Ticker == g.Away.Ticker {
		opposite = g.Home
	}
	opp, haveOpp := e.positions.Get(opposite.Ticker, types.SideYes)
	sideOpen := havePos && pos.Open()
	oppOpen := haveOpp && opp.Open()

	kind := risk.KindEntry
	switch {
	case sideOpen && oppOpen:
		// Both legs on. Harvesting is the exit worker's job; the only buy
		// left here is topping up the smaller leg when a partial fill left
		// the event under-hedged.
		if pos.Stake >= opp.Stake {
			return
		}
		kind = risk.KindHedge
	case sideOpen:
		if !e.cfg.Risk.PyramidEnabled {
			return
		}
		// Pyramiding only chases a winner: price up materially since the
		// last fill and still under the entry ceiling.
		lastFill := pos.LastFillPrice
		if lastFill == 0 {
			lastFill = pos.EntryPrice
		}
		if ask < lastFill+e.cfg.Risk.PyramidMinIncrease || ask >= e.cfg.Risk.MaxPrice {
			return
		}
		kind = risk.KindPyramid
	case oppOpen:
		kind = risk.KindHedge
	}

	plan := e.kernel.ChooseMakerVsTaker(trueProb, bid, ask, snap.Clock, sport)
	if kind != risk.KindHedge && plan.ExpectedEV <= 0 {
		// A hedge leg has negative standalone EV by construction; its edge
		// is the locked ROI, which the planner prices.
		return
	}
	kelly := pricing.KellyFraction(trueProb, plan.Price, pricing.RoundTripCost(plan.Price, plan.UseMaker))
	capital := e.currentCapital()

	qty := int(kelly * e.cfg.Risk.KellyScaler * capital / plan.Price)
	if kind == risk.KindHedge {
		// Hedges cross the spread: a resting hedge that never fills leaves
		// the book one-sided exactly when it most needs neutralizing.
		plan = pricing.OrderPlan{Price: ask, ExpectedEV: plan.ExpectedEV, FillProb: 1}
		held := hedge.Leg{}
		if sideOpen {
			held = hedge.Leg{Qty: pos.Stake, AvgPrice: pos.EntryPrice}
		}
		hedgePlan, ok := e.planner.Plan(
			hedge.Leg{Qty: opp.Stake, AvgPrice: opp.EntryPrice},
			held,
			plan.Price,
			qty,
		)
		if !ok {
			return
		}
		qty = hedgePlan.Qty
	}

	decision := e.gate.Check(risk.Request{
		EventTicker:  g.Event,
		MarketTicker: market.Ticker,
		Sport:        sport,
		Kind:         kind,
		Bid:          bid,
		Ask:          ask,
		Price:        plan.Price,
		Qty:          qty,
		Volume24h:    vol,
		EV:           plan.ExpectedEV,
		Kelly:        kelly,
		Capital:      capital,
		Snapshot:     snap,
		Now:          now,
	})
	if decision.Action == risk.ActionSkip {
		return
	}

	e.submitBuy(ctx, g, market.Ticker, decision, plan.UseMaker)
}

// submitBuy places a BUY YES and folds the fill into the store. The writer
// lock brackets the whole submit+wait+upsert sequence.
func (e *Engine) submitBuy(ctx context.Context, g *game, marketTicker string, d risk.Decision, maker bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	timeout := e.cfg.Exchange.OrderWait
	if maker {
		timeout = e.cfg.Exchange.LimitWait
	}

	order := types.OrderRequest{
		MarketTicker: marketTicker,
		Side:         types.SideYes,
		Action:       types.ActionBuy,
		Price:        d.Price,
		Count:        d.Qty,
	}
	e.gate.RecordPlaced()
	res, err := e.exch.PlaceOrder(ctx, order)
	if err != nil {
		e.logger.Error("order placement failed", "market", marketTicker, "error", err)
		return
	}
	fill, err := e.exch.WaitForFill(ctx, res.OrderID, marketTicker, types.SideYes, timeout)
	if err != nil {
		e.logger.Error("fill wait failed", "market", marketTicker, "order_id", res.OrderID, "error", err)
		return
	}

	if fill.FilledCount <= 0 {
		e.gate.RecordTimeout()
		e.logger.Info("order expired unfilled", "market", marketTicker, "order_id", res.OrderID)
		return
	}

	price := fill.AvgPrice
	if price <= 0 {
		price = d.Price
	}
	now := time.Now()
	pos, err := e.positions.UpsertFill(g.Event, marketTicker, types.SideYes, fill.FilledCount, price, now)
	if err != nil {
		e.logger.Error("fill upsert failed", "market", marketTicker, "error", err)
		return
	}
	e.gate.RecordFilled()
	if fill.Status == types.OrderPartial {
		e.logger.Info("partial fill kept", "market", marketTicker, "filled", fill.FilledCount, "wanted", d.Qty)
	}

	stop := pos.EntryPrice * (1 - e.cfg.Risk.SoftStopPct)
	if err := e.positions.SetStops(marketTicker, types.SideYes, stop, 0); err != nil {
		e.logger.Warn("set stops failed", "market", marketTicker, "error", err)
	}

	e.gamesMu.Lock()
	e.lastEntry[g.Event] = now
	e.gamesMu.Unlock()

	e.updateEventLock(g.Event)
	e.logger.Info("position updated",
		"market", marketTicker, "stake", pos.Stake, "avg_price", pos.EntryPrice, "event", g.Event)
}

// updateEventLock keeps the half-hedge lock in step with the book: locked
// while exactly one side of the event is open, unlocked otherwise.
func (e *Engine) updateEventLock(eventTicker string) {
	var openMarkets int
	for _, p := range e.positions.ByEvent(eventTicker) {
		if p.Side == types.SideYes {
			openMarkets++
		}
	}
	var err error
	if openMarkets == 1 {
		err = e.state.LockEvent(eventTicker)
	} else {
		err = e.state.UnlockEvent(eventTicker)
	}
	if err != nil {
		e.logger.Warn("event lock update failed", "event", eventTicker, "error", err)
	}
}
