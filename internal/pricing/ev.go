package pricing

import "math"

// Fee rate constants fit to the exchange's published schedule: a concave
// bowl peaking at p=0.5, charged per contract and rounded up to the cent.
// Makers pay half the taker rate.
const (
	takerFeeRate = 0.07
	makerFeeRate = 0.035
)

// FeePerContract returns the exchange fee in dollars for one contract
// traded at the given fractional price. Symmetric about 0.5, zero at the
// extremes, maker at or below taker everywhere (cent rounding can tie
// them near the edges).
func FeePerContract(price float64, isMaker bool) float64 {
	if price <= 0 || price >= 1 {
		return 0
	}
	rate := takerFeeRate
	if isMaker {
		rate = makerFeeRate
	}
	raw := rate * price * (1 - price)
	// Round up to the next cent, as the exchange bills per contract.
	return math.Ceil(raw*100) / 100
}

// RoundTripCost returns the total fee load for entering at entryPrice and
// later exiting at roughly the same price level. Used as the cost drag in
// Kelly sizing.
func RoundTripCost(entryPrice float64, isMaker bool) float64 {
	return FeePerContract(entryPrice, isMaker) + FeePerContract(entryPrice, false)
}

// EVAtBuy is the expected value per contract of buying YES at askPrice when
// the true probability is trueProb: trueProb − ask − fee.
func EVAtBuy(trueProb, askPrice float64, isMaker bool) float64 {
	return trueProb - askPrice - FeePerContract(askPrice, isMaker)
}

// EVAtSettlement is the expected P&L per contract of holding to settlement
// from entryPrice. Entry fees are sunk; the taker fee models the cost basis
// convention the exchange applies at fill.
func EVAtSettlement(trueProb, entryPrice float64) float64 {
	return trueProb - entryPrice - FeePerContract(entryPrice, false)
}

// KellyFraction returns the growth-optimal capital fraction for buying at
// price with true win probability p, where roundtripCost is the fee drag
// folded into the effective price. Zero when the edge is non-positive.
func KellyFraction(p, price, roundtripCost float64) float64 {
	pEff := clampProb(price + roundtripCost)
	b := 1/pEff - 1
	if b <= 0 {
		return 0
	}
	f := (b*p - (1 - p)) / b
	if f < 0 {
		return 0
	}
	return f
}
