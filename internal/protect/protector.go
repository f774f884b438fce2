// Package protect decides when a hedged event should be harvested. It
// runs rule by rule over the event's two legs and live bids; the first
// rule that matches wins.
package protect

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"kalshi-arb/internal/config"
	"kalshi-arb/pkg/types"
)

const tick = 0.01

// Rule names the clause that produced a decision.
type Rule string

const (
	RuleAbsoluteExit        Rule = "absolute_exit"
	RuleHedgeImbalance      Rule = "hedge_imbalance"
	RulePyramidFreeze       Rule = "pyramid_freeze"
	RuleSettlementDominates Rule = "settlement_dominates"
	RuleTheoreticalMax      Rule = "theoretical_max"
	RuleTrailingStop        Rule = "trailing_stop"
	RuleHold                Rule = "hold"
)

// Action is what the engine should do with the event.
type Action string

const (
	ActionHold      Action = "hold"
	ActionCloseSide Action = "close_side"
	ActionCloseBoth Action = "close_both"
)

// SideState is one leg of a hedged event as currently held and quoted.
type SideState struct {
	MarketTicker string
	Qty          int
	AvgPrice     float64
	Bid          float64
}

func (s SideState) cost() float64  { return float64(s.Qty) * s.AvgPrice }
func (s SideState) value() float64 { return float64(s.Qty) * s.Bid }

// Input is one evaluation of a hedged event.
type Input struct {
	EventTicker string
	Sport       types.Sport
	A, B        SideState
	Clock       types.GameClock
	LastEntry   time.Time
	Now         time.Time
}

// Close is one exit order the engine should submit.
type Close struct {
	MarketTicker string
	Qty          int
	Price        float64
}

// Decision carries the matched rule and the orders to emit. The absolute
// exit sets SkipRevalidation; it must execute even if the bid moves before
// the order goes out.
type Decision struct {
	Rule             Rule
	Action           Action
	Closes           []Close
	SkipRevalidation bool
}

func hold(rule Rule) Decision { return Decision{Rule: rule, Action: ActionHold} }

// Protector evaluates the exit rules. It keeps the per-event profit peak
// in memory; the peak resets naturally when the event leaves the book.
type Protector struct {
	cfg    config.ProtectConfig
	logger *slog.Logger

	mu    sync.Mutex
	peaks map[string]float64
}

// NewProtector creates a profit protector.
func NewProtector(cfg config.ProtectConfig, logger *slog.Logger) *Protector {
	return &Protector{
		cfg:    cfg,
		logger: logger.With("component", "protect"),
		peaks:  make(map[string]float64),
	}
}

// Evaluate runs the rule chain for one hedged event.
func (p *Protector) Evaluate(in Input) Decision {
	d := p.evaluate(in)
	if d.Action != ActionHold {
		p.logger.Info("exit rule fired",
			"event", in.EventTicker, "rule", d.Rule, "action", d.Action)
	}
	return d
}

// Revalidate re-runs the chain against fresh quotes and reports whether
// the queued decision still stands. The absolute exit always stands.
func (p *Protector) Revalidate(queued Decision, fresh Input) bool {
	if queued.SkipRevalidation {
		return true
	}
	d := p.evaluate(fresh)
	return d.Rule == queued.Rule && d.Action == queued.Action
}

// Forget drops the peak for an event that left the book.
func (p *Protector) Forget(eventTicker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peaks, eventTicker)
}

func (p *Protector) evaluate(in Input) Decision {
	if in.A.Qty <= 0 || in.B.Qty <= 0 {
		return hold(RuleHold)
	}

	cost := in.A.cost() + in.B.cost()
	current := (in.A.value() + in.B.value() - cost) / cost
	peak := p.bumpPeak(in.EventTicker, current)

	// Rule 1: absolute exit. In the closing minutes, a side bidding inside
	// the throwaway band gets dumped at the bid; the other side rides to
	// settlement. Bids below the band are already lottery tickets and are
	// held.
	if p.exitClockOpen(in) {
		if side, ok := p.bandSide(in); ok {
			return Decision{
				Rule:   RuleAbsoluteExit,
				Action: ActionCloseSide,
				Closes: []Close{{
					MarketTicker: side.MarketTicker,
					Qty:          side.Qty,
					Price:        side.Bid,
				}},
				SkipRevalidation: true,
			}
		}
	}

	// Rule 2: a lopsided hedge is not a harvestable book yet.
	balance := float64(min(in.A.Qty, in.B.Qty)) / float64(max(in.A.Qty, in.B.Qty))
	if balance < p.cfg.HedgeBalanceFloor {
		return hold(RuleHedgeImbalance)
	}

	// Rule 3: still building the position.
	if in.Now.Sub(in.LastEntry) < p.cfg.PyramidingWindow {
		return hold(RulePyramidFreeze)
	}

	// Rule 4: holding to settlement beats selling now in expectation.
	roiA := (float64(in.A.Qty) - cost) / cost
	roiB := (float64(in.B.Qty) - cost) / cost
	weighted := p.weightedSettlementROI(in, roiA, roiB)
	if current < weighted {
		return hold(RuleSettlementDominates)
	}

	guardsOK := current > weighted+p.cfg.ReducedMargin && current >= p.cfg.AbsoluteMinProfit

	// Rule 5: most of the theoretical maximum is already on the table.
	maxSettle := math.Max(roiA, roiB)
	if maxSettle > 0 && current/maxSettle >= p.cfg.MaxProfitThreshold && guardsOK {
		return p.closeBoth(in, RuleTheoreticalMax)
	}

	// Rule 6: give back from the peak.
	trail := p.cfg.TrailingStopPct
	if peak >= p.cfg.TrailingTightenPeak {
		trail /= 2
	}
	if current >= p.cfg.MinProfitForTrailing && peak-current >= trail && guardsOK {
		return p.closeBoth(in, RuleTrailingStop)
	}

	return hold(RuleHold)
}

// bumpPeak ratchets the stored peak up to current and returns the result.
func (p *Protector) bumpPeak(eventTicker string, current float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peak, ok := p.peaks[eventTicker]; ok && peak >= current {
		return peak
	}
	p.peaks[eventTicker] = current
	return current
}

func (p *Protector) exitClockOpen(in Input) bool {
	return in.Clock.InFinalPeriod(in.Sport) && in.Clock.MinutesLeft <= p.cfg.ExitTimeMin
}

// bandSide returns the leg whose bid sits inside [ExitMin, ExitMax].
func (p *Protector) bandSide(in Input) (SideState, bool) {
	for _, side := range []SideState{in.A, in.B} {
		if side.Bid >= p.cfg.ExitMin && side.Bid <= p.cfg.ExitMax {
			return side, true
		}
	}
	return SideState{}, false
}

// weightedSettlementROI mixes the two settlement outcomes by the market's
// own implied probability, read off the sell side.
func (p *Protector) weightedSettlementROI(in Input, roiA, roiB float64) float64 {
	denom := in.A.Bid + in.B.Bid
	if denom <= 0 {
		return math.Min(roiA, roiB)
	}
	probA := in.A.Bid / denom
	return probA*roiA + (1-probA)*roiB
}

// closeBoth exits both legs one tick under the bid, trading a cent for
// fill certainty.
func (p *Protector) closeBoth(in Input, rule Rule) Decision {
	return Decision{
		Rule:   rule,
		Action: ActionCloseBoth,
		Closes: []Close{
			{MarketTicker: in.A.MarketTicker, Qty: in.A.Qty, Price: math.Max(tick, in.A.Bid-tick)},
			{MarketTicker: in.B.MarketTicker, Qty: in.B.Qty, Price: math.Max(tick, in.B.Bid-tick)},
		},
	}
}
