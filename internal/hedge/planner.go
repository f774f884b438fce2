// Package hedge sizes the opposite leg of a held position so that both
// settlement outcomes return at least a target ROI on total invested
// capital.
package hedge

import (
	"log/slog"
	"math"

	"kalshi-arb/internal/config"
	"kalshi-arb/internal/pricing"
)

// Band is an inclusive integer range of opposite-side quantities. High
// below Low means no quantity locks in the target return.
type Band struct {
	Low  int
	High int
}

// Empty reports whether no quantity satisfies the band.
func (b Band) Empty() bool { return b.High < b.Low }

// Clamp pins q into the band.
func (b Band) Clamp(q int) int {
	if q < b.Low {
		return b.Low
	}
	if q > b.High {
		return b.High
	}
	return q
}

// QtyBounds returns the range of opposite-side quantity qB for which both
// settlement outcomes yield ROI of at least r on the total cost
// qA·pA + qB·pB. fA and fB are per-contract fees at the two entry prices.
//
// With PnL if A wins = qA·(1−pA−fA) − qB·(pB+fB) and PnL if B wins =
// qB·(1−pB−fB) − qA·(pA+fA), solving PnL/cost ≥ r for qB gives a closed
// form for each bound.
func QtyBounds(qA int, pA, pB, fA, fB, r float64) Band {
	lowDenom := 1 - pB - fB - r*pB
	highDenom := pB*(1+r) + fB
	if qA <= 0 || lowDenom <= 0 || highDenom <= 0 {
		return Band{Low: 1, High: 0}
	}
	low := float64(qA) * (pA*(1+r) + fA) / lowDenom
	high := float64(qA) * (1 - pA - fA - r*pA) / highDenom
	if math.IsNaN(low) || math.IsInf(low, 0) || math.IsNaN(high) || math.IsInf(high, 0) {
		return Band{Low: 1, High: 0}
	}
	return Band{Low: int(math.Ceil(low)), High: int(math.Floor(high))}
}

// Leg describes one side of the book as held: total contracts and the
// cost-weighted average entry price.
type Leg struct {
	Qty      int
	AvgPrice float64
}

func (l Leg) exposure() float64 { return float64(l.Qty) * l.AvgPrice }

// Plan is the planner's output: an order of Qty contracts at Price on the
// opposite side. Balance marks an over-leverage parity order rather than a
// band-sized hedge.
type Plan struct {
	Qty     int
	Price   float64
	Balance bool
}

// Planner turns a held leg plus the opposite side's current ask into a
// hedge order, or declines.
type Planner struct {
	cfg    config.HedgeConfig
	logger *slog.Logger
}

// NewPlanner creates a hedge planner.
func NewPlanner(cfg config.HedgeConfig, logger *slog.Logger) *Planner {
	return &Planner{cfg: cfg, logger: logger.With("component", "hedge")}
}

// Plan sizes an order on the opposite side. held is what we already hold
// there (zero Qty for a first hedge), pB its current ask, and kellyTarget
// the Kelly-suggested total opposite-side quantity used for incremental
// sizing. The second return is false when no order should go out.
func (p *Planner) Plan(pos, held Leg, pB float64, kellyTarget int) (Plan, bool) {
	if pos.Qty <= 0 || pB <= 0 || pB >= 1 {
		return Plan{}, false
	}
	fA := pricing.FeePerContract(pos.AvgPrice, true)
	fB := pricing.FeePerContract(pB, true)
	band := QtyBounds(pos.Qty, pos.AvgPrice, pB, fA, fB, p.cfg.TargetROI)

	if band.Empty() {
		return p.balanceOrder(pos, held, pB)
	}

	var target int
	if held.Qty == 0 {
		// First hedge takes the top of the band: maximum locked return.
		target = band.High
	} else {
		if held.Qty >= band.High {
			// Already at or past the band. Profit protection exits when
			// the combined book turns profitable.
			return Plan{}, false
		}
		target = band.Clamp(kellyTarget)
	}

	qty := target - held.Qty
	if qty <= 0 {
		return Plan{}, false
	}

	qty, ok := p.revalidate(pos, held, pB, qty)
	if !ok {
		return Plan{}, false
	}
	return Plan{Qty: qty, Price: pB}, true
}

// balanceOrder handles the empty-band case. When the candidate side is
// badly under-levered against the held side, a parity order keeps the book
// from being effectively one-sided even though no ROI lock exists.
func (p *Planner) balanceOrder(pos, held Leg, pB float64) (Plan, bool) {
	if held.exposure() >= p.cfg.ImbalanceRatio*pos.exposure() {
		return Plan{}, false
	}
	dollars := p.cfg.BalanceFraction*pos.exposure() - held.exposure()
	qty := int(dollars / pB)
	if qty <= 0 {
		return Plan{}, false
	}
	p.logger.Info("empty ROI band, balancing toward parity",
		"held_exposure", held.exposure(), "opposite_exposure", pos.exposure(), "qty", qty)
	return Plan{Qty: qty, Price: pB, Balance: true}, true
}

// revalidate recomputes the band against the post-fill cost-weighted entry
// on the hedge side and clamps the order into it. The weighted entry is
// what actually settles, so the pre-fill band can be optimistic when the
// existing hedge stake sits at a different price.
func (p *Planner) revalidate(pos, held Leg, pB float64, qty int) (int, bool) {
	totalQty := held.Qty + qty
	weighted := (held.exposure() + float64(qty)*pB) / float64(totalQty)

	fA := pricing.FeePerContract(pos.AvgPrice, true)
	fB := pricing.FeePerContract(weighted, true)
	band := QtyBounds(pos.Qty, pos.AvgPrice, weighted, fA, fB, p.cfg.TargetROI)
	if band.Empty() {
		return 0, false
	}
	clamped := band.Clamp(totalQty) - held.Qty
	if clamped <= 0 {
		return 0, false
	}
	return clamped, true
}
