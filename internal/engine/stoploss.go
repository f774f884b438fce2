package engine

import (
	"context"
	"math"
	"runtime/debug"
	"time"

	"kalshi-arb/internal/pricing"
	"kalshi-arb/internal/protect"
	"kalshi-arb/pkg/types"
)

// exitTick is one pass of the fast worker: stop-losses on one-sided events,
// profit protection on hedged ones. The ledger is reconciled first so exits
// never act on positions the exchange already settled or resized.
func (e *Engine) exitTick(ctx context.Context) {
	if err := e.reconcile(ctx); err != nil {
		e.logger.Warn("exit-tick reconcile failed", "error", err)
	}

	e.gamesMu.RLock()
	tracked := make([]*game, 0, len(e.games))
	for _, g := range e.games {
		tracked = append(tracked, g)
	}
	e.gamesMu.RUnlock()

	for _, g := range tracked {
		if ctx.Err() != nil {
			return
		}
		e.exitGame(ctx, g)
	}
}

// exitGame runs one game's exit checks, containing any panic so the rest of
// the slate still gets its pass.
func (e *Engine) exitGame(ctx context.Context, g *game) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("exit check panicked",
				"event", g.Event, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	homePos, homeOK := e.openPosition(g.Home.Ticker)
	awayPos, awayOK := e.openPosition(g.Away.Ticker)
	switch {
	case homeOK && awayOK:
		e.protectHedged(ctx, g, homePos, awayPos)
	case homeOK:
		e.checkStopLoss(ctx, g, homePos, true)
	case awayOK:
		e.checkStopLoss(ctx, g, awayPos, false)
	}
}

func (e *Engine) openPosition(marketTicker string) (types.Position, bool) {
	p, ok := e.positions.Get(marketTicker, types.SideYes)
	if !ok || !p.Open() || p.ClosingInProgress {
		return types.Position{}, false
	}
	return p, true
}

// checkStopLoss applies the hard and soft stops to a one-sided position.
// The soft stop needs the sportsbook to agree the position is losing; the
// hard stop fires on price alone.
func (e *Engine) checkStopLoss(ctx context.Context, g *game, pos types.Position, isHome bool) {
	bid, _, _, ok := e.quote(ctx, pos.MarketTicker)
	if !ok || bid <= 0 {
		return
	}
	if _, err := e.positions.UpdateMaxSeenBid(pos.MarketTicker, types.SideYes, bid); err != nil {
		e.logger.Debug("max bid update failed", "market", pos.MarketTicker, "error", err)
	}

	lossPct := (pos.EntryPrice - bid) / pos.EntryPrice
	if lossPct < e.cfg.Risk.SoftStopPct {
		return
	}
	now := time.Now()

	if lossPct < e.cfg.Risk.HardStopPct {
		// Soft-stop territory: only fire when the sportsbook confirms the
		// loss is real, the position has aged past the hold floor, and the
		// paired market did not already take its absolute exit.
		snap, ok := e.odds.Get(g.Info.EventID)
		if !ok {
			return
		}
		prob := snap.AwayProb
		if isHome {
			prob = snap.HomeProb
		}
		if math.Abs(prob-bid) > e.cfg.Risk.OddsDiffThresh {
			e.logger.Info("soft stop blocked, sportsbook disagrees",
				"market", pos.MarketTicker, "bid", bid, "sportsbook_prob", prob, "loss_pct", lossPct)
			return
		}
		if now.Sub(pos.EntryTime) < e.cfg.Risk.MinHoldTime {
			return
		}
		if e.state.SevenPctExited(g.Event) {
			return
		}
	}

	price := math.Max(pricing.Tick, bid-2*pricing.Tick)
	e.logger.Warn("stop loss firing",
		"market", pos.MarketTicker, "entry", pos.EntryPrice, "bid", bid,
		"loss_pct", lossPct, "price", price)

	filled := e.submitSell(ctx, pos.MarketTicker, pos.Stake, price)
	if filled <= 0 {
		return
	}
	if err := e.state.SetCooldown(g.Event, now.Add(e.cfg.Risk.StopLossCooldown), pos.EntryPrice); err != nil {
		e.logger.Warn("cooldown set failed", "event", g.Event, "error", err)
	}
	e.updateEventLock(g.Event)
}

// protectHedged runs the exit rule chain on a fully hedged event and
// executes whatever close it queues, after revalidating against fresh
// quotes.
func (e *Engine) protectHedged(ctx context.Context, g *game, homePos, awayPos types.Position) {
	in, ok := e.protectInput(ctx, g, homePos, awayPos)
	if !ok {
		return
	}
	decision := e.protector.Evaluate(in)
	if decision.Action == protect.ActionHold {
		return
	}

	// Quotes may have moved while the decision was being made.
	fresh, ok := e.protectInput(ctx, g, homePos, awayPos)
	if !ok || !e.protector.Revalidate(decision, fresh) {
		e.logger.Info("queued exit no longer valid, cancelled", "event", g.Event, "rule", decision.Rule)
		return
	}

	for _, c := range decision.Closes {
		e.submitSell(ctx, c.MarketTicker, c.Qty, c.Price)
	}
	if decision.Rule == protect.RuleAbsoluteExit {
		if err := e.state.MarkSevenPctExited(g.Event); err != nil {
			e.logger.Warn("seven-pct mark failed", "event", g.Event, "error", err)
		}
	}
	if decision.Action == protect.ActionCloseBoth {
		e.protector.Forget(g.Event)
	}
	e.updateEventLock(g.Event)
}

func (e *Engine) protectInput(ctx context.Context, g *game, homePos, awayPos types.Position) (protect.Input, bool) {
	homeBid, _, _, okH := e.quote(ctx, g.Home.Ticker)
	awayBid, _, _, okA := e.quote(ctx, g.Away.Ticker)
	if !okH || !okA {
		return protect.Input{}, false
	}
	e.gamesMu.RLock()
	lastEntry := e.lastEntry[g.Event]
	e.gamesMu.RUnlock()

	return protect.Input{
		EventTicker: g.Event,
		Sport:       g.Info.Sport,
		A: protect.SideState{
			MarketTicker: homePos.MarketTicker,
			Qty:          homePos.Stake,
			AvgPrice:     homePos.EntryPrice,
			Bid:          homeBid,
		},
		B: protect.SideState{
			MarketTicker: awayPos.MarketTicker,
			Qty:          awayPos.Stake,
			AvgPrice:     awayPos.EntryPrice,
			Bid:          awayBid,
		},
		Clock:     g.Info.Clock,
		LastEntry: lastEntry,
		Now:       time.Now(),
	}, true
}

// submitSell closes up to qty contracts at price and decrements the store
// by what actually filled. Returns the filled count.
func (e *Engine) submitSell(ctx context.Context, marketTicker string, qty int, price float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if err := e.positions.MarkClosing(marketTicker, types.SideYes, now); err != nil {
		e.logger.Error("mark closing failed", "market", marketTicker, "error", err)
		return 0
	}

	order := types.OrderRequest{
		MarketTicker: marketTicker,
		Side:         types.SideYes,
		Action:       types.ActionSell,
		Price:        price,
		Count:        qty,
	}
	e.gate.RecordPlaced()
	res, err := e.exch.PlaceOrder(ctx, order)
	if err != nil {
		e.logger.Error("close order failed", "market", marketTicker, "error", err)
		e.clearClosing(marketTicker)
		return 0
	}
	fill, err := e.exch.WaitForFill(ctx, res.OrderID, marketTicker, types.SideYes, e.cfg.Exchange.OrderWait)
	if err != nil {
		e.logger.Error("close fill wait failed", "market", marketTicker, "order_id", res.OrderID, "error", err)
		e.clearClosing(marketTicker)
		return 0
	}
	if fill.FilledCount <= 0 {
		e.gate.RecordTimeout()
		e.clearClosing(marketTicker)
		return 0
	}

	e.gate.RecordFilled()
	if err := e.positions.DecrementStake(marketTicker, types.SideYes, fill.FilledCount); err != nil {
		e.logger.Error("stake decrement failed", "market", marketTicker, "error", err)
	}
	e.clearClosing(marketTicker)
	e.logger.Info("position closed",
		"market", marketTicker, "sold", fill.FilledCount, "price", price)
	return fill.FilledCount
}

func (e *Engine) clearClosing(marketTicker string) {
	if err := e.positions.ClearClosing(marketTicker, types.SideYes); err != nil {
		e.logger.Warn("clear closing failed", "market", marketTicker, "error", err)
	}
}
