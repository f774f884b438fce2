package pricing

import (
	"math"

	"kalshi-arb/internal/config"
	"kalshi-arb/pkg/types"
)

// Tick is the exchange's price granularity: one cent.
const Tick = 0.01

// Kernel bundles the tunable parts of the pricing model. All methods are
// pure; Kernel itself is just configuration.
type Kernel struct {
	cfg config.PricingConfig
}

// NewKernel creates a pricing kernel from config.
func NewKernel(cfg config.PricingConfig) *Kernel {
	return &Kernel{cfg: cfg}
}

// DeVig applies the configured de-vig method to a raw implied-probability
// pair and returns fair probabilities summing to 1.
func (k *Kernel) DeVig(p1, p2 float64) (float64, float64) {
	switch k.cfg.Devig {
	case "shin":
		return DeVigShin(p1, p2)
	case "proportional":
		return DeVigProportional(p1, p2)
	default:
		return DeVigLogit(p1, p2)
	}
}

// FillProbability estimates the chance a passive BUY YES limit order fills
// before the quote moves away.
//
//   - Crossing the book (limit ≥ ask) fills immediately: 1.0.
//   - A full spread below the bid is dead: 0.0.
//   - In between, probability decays with distance from the crossing price,
//     with multiplicative penalties for wide spreads and for the liquidity
//     collapse in the final minutes of regulation.
//
// Monotone non-decreasing in limitPrice by construction.
func (k *Kernel) FillProbability(limitPrice, bid, ask float64, clock types.GameClock, sport types.Sport) float64 {
	if ask <= 0 || bid <= 0 || ask <= bid {
		// Degenerate book: only a crossing order is credible.
		if ask > 0 && limitPrice >= ask {
			return 1
		}
		return 0
	}
	if limitPrice >= ask {
		return 1
	}

	spread := ask - bid
	// Distance from the crossing price, normalized so the estimate reaches
	// zero one full spread below the bid (limit ≤ bid − spread).
	dist := (ask - limitPrice) / (2 * spread)
	if dist >= 1 {
		return 0
	}

	p := math.Pow(1-dist, k.cfg.FillExponent)

	if spread > k.cfg.WideSpreadCutoff {
		p *= k.cfg.WideSpreadPenalty
	}
	if clock.InFinalPeriod(sport) && clock.MinutesLeft <= k.cfg.NearEndMinutes && clock.MinutesLeft > 0 {
		p *= k.cfg.NearEndPenalty
	}

	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// OrderPlan is the outcome of the maker-vs-taker decision.
type OrderPlan struct {
	UseMaker   bool
	ExpectedEV float64 // per contract, fill-probability weighted for maker
	FillProb   float64 // estimate for the chosen order
	Price      float64 // limit price to submit
}

// ChooseMakerVsTaker decides between posting inside the spread (maker) and
// crossing it (taker) for a BUY YES of the given true probability.
//
// The maker candidate improves the bid by one tick. It wins when its
// fill-weighted EV beats the taker EV, or on near-ties when its fill
// estimate clears the configured floor and it keeps most of the taker's
// edge. A fill estimate below the force-taker bound always crosses.
func (k *Kernel) ChooseMakerVsTaker(trueProb, bid, ask float64, clock types.GameClock, sport types.Sport) OrderPlan {
	taker := OrderPlan{
		UseMaker:   false,
		ExpectedEV: EVAtBuy(trueProb, ask, false),
		FillProb:   1,
		Price:      ask,
	}
	if bid <= 0 || ask <= bid {
		return taker
	}

	makerPrice := bid + Tick
	if makerPrice >= ask {
		// One-tick spread: there is no inside price to post at.
		return taker
	}

	evMaker := EVAtBuy(trueProb, makerPrice, true)
	fpMaker := k.FillProbability(makerPrice, bid, ask, clock, sport)

	if fpMaker < k.cfg.MakerForceTakerBelow {
		return taker
	}

	expMaker := evMaker * fpMaker
	useMaker := expMaker > taker.ExpectedEV
	if !useMaker && fpMaker >= k.cfg.MakerFillFloor && evMaker >= k.cfg.MakerEVRatio*taker.ExpectedEV && evMaker > 0 {
		useMaker = true
	}

	if !useMaker {
		return taker
	}
	return OrderPlan{
		UseMaker:   true,
		ExpectedEV: expMaker,
		FillProb:   fpMaker,
		Price:      makerPrice,
	}
}
