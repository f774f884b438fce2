package engine

import (
	"context"
	"time"

	"kalshi-arb/pkg/types"
)

// reconcile makes the local ledger agree with the exchange: the exchange's
// stake and average price win. Positions mid-close are left alone until
// their order resolves or the closing flag goes stale and is reaped.
//
// In dry-run mode there is nothing to compare against — paper positions
// exist only locally — so only the stale-flag reaper runs.
func (e *Engine) reconcile(ctx context.Context) error {
	now := time.Now()
	reaped, err := e.positions.ReapStaleClosing(e.cfg.Risk.ClosingReapAfter, now)
	if err != nil {
		e.logger.Warn("closing-flag reap failed", "error", err)
	}
	for _, p := range reaped {
		e.logger.Warn("stale closing flag reaped, position active again",
			"market", p.MarketTicker, "stake", p.Stake)
	}

	if !e.exch.Live() {
		return nil
	}

	live, err := e.exch.FetchLivePositions(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	type key struct {
		Market string
		Side   types.Side
	}
	onExchange := make(map[key]bool, len(live))
	touched := make(map[string]bool)

	for _, lp := range live {
		onExchange[key{lp.MarketTicker, lp.Side}] = true
		local, ok := e.positions.Get(lp.MarketTicker, lp.Side)
		if ok && local.ClosingInProgress {
			continue
		}
		if ok && local.Stake == lp.Contracts {
			continue
		}
		if ok {
			e.logger.Warn("position drift, adopting exchange state",
				"market", lp.MarketTicker, "local_stake", local.Stake,
				"exchange_stake", lp.Contracts, "exchange_avg", lp.AvgPrice)
		} else {
			e.logger.Warn("unknown exchange position adopted",
				"market", lp.MarketTicker, "stake", lp.Contracts, "avg", lp.AvgPrice)
		}
		if _, err := e.positions.SetFromLive(lp.EventTicker, lp.MarketTicker, lp.Side, lp.Contracts, lp.AvgPrice, now); err != nil {
			e.logger.Error("reconcile update failed", "market", lp.MarketTicker, "error", err)
			continue
		}
		touched[lp.EventTicker] = true
	}

	// Local positions the exchange no longer reports were settled or sold
	// out of band.
	for _, p := range e.positions.OpenPositions() {
		if onExchange[key{p.MarketTicker, p.Side}] || p.ClosingInProgress {
			continue
		}
		e.logger.Warn("local position absent on exchange, settling",
			"market", p.MarketTicker, "stake", p.Stake)
		if err := e.positions.MarkSettled(p.MarketTicker, p.Side); err != nil {
			e.logger.Error("reconcile settle failed", "market", p.MarketTicker, "error", err)
			continue
		}
		touched[p.EventTicker] = true
	}

	// Adoptions and settlements change how many legs an event has open, so
	// the half-hedge locks for those events must be recomputed.
	for evt := range touched {
		e.updateEventLock(evt)
	}
	return nil
}
