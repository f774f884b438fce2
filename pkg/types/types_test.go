package types

import (
	"testing"
	"time"
)

func TestEventTickerFromMarket(t *testing.T) {
	t.Parallel()

	cases := []struct {
		market string
		want   string
	}{
		{"KXNBAGAME-26FEB04MEMSAC-MEM", "KXNBAGAME-26FEB04MEMSAC"},
		{"KXNCAAMBB-25MAR21DUKUNC-DUK", "KXNCAAMBB-25MAR21DUKUNC"},
		{"KXNBAGAME-26FEB04MEMSAC", "KXNBAGAME-26FEB04MEMSAC"},
		{"NOHYPHEN", "NOHYPHEN"},
	}
	for _, tc := range cases {
		if got := EventTickerFromMarket(tc.market); got != tc.want {
			t.Errorf("EventTickerFromMarket(%q) = %q, want %q", tc.market, got, tc.want)
		}
	}
}

func TestMarketTradeable(t *testing.T) {
	t.Parallel()

	m := Market{Status: MarketActive, YesBid: 0.40, YesAsk: 0.45}
	if !m.Tradeable() {
		t.Error("two-sided active market should be tradeable")
	}

	m = Market{Status: MarketActive}
	if m.Tradeable() {
		t.Error("market with empty book should not be tradeable")
	}

	m = Market{Status: MarketClosed, YesBid: 0.40, YesAsk: 0.45}
	if m.Tradeable() {
		t.Error("closed market should not be tradeable")
	}
}

func TestMarketMidAndSpread(t *testing.T) {
	t.Parallel()

	m := Market{YesBid: 0.40, YesAsk: 0.50}
	if got := m.Mid(); got != 0.45 {
		t.Errorf("Mid = %v, want 0.45", got)
	}
	if got := m.Spread(); got-0.10 > 1e-12 || 0.10-got > 1e-12 {
		t.Errorf("Spread = %v, want 0.10", got)
	}

	// One-sided book: mid falls back to the present side, spread is 0.
	m = Market{YesAsk: 0.50}
	if got := m.Mid(); got != 0.50 {
		t.Errorf("Mid (ask only) = %v, want 0.50", got)
	}
	if got := m.Spread(); got != 0 {
		t.Errorf("Spread (ask only) = %v, want 0", got)
	}
}

func TestPositionOpen(t *testing.T) {
	t.Parallel()

	p := Position{Stake: 10, EntryPrice: 0.5, EntryTime: time.Now()}
	if !p.Open() {
		t.Error("position with stake should be open")
	}
	p.Settled = true
	if p.Open() {
		t.Error("settled position should not be open")
	}
	p = Position{Stake: 0}
	if p.Open() {
		t.Error("zero-stake position should not be open")
	}
}

func TestFinalPeriod(t *testing.T) {
	t.Parallel()

	if got := SportNCAAMBB.FinalPeriod(); got != 2 {
		t.Errorf("men's college final period = %d, want 2", got)
	}
	if got := SportNBA.FinalPeriod(); got != 4 {
		t.Errorf("NBA final period = %d, want 4", got)
	}

	clock := GameClock{Period: 4, MinutesLeft: 1.5}
	if !clock.InFinalPeriod(SportNBA) {
		t.Error("period 4 should be final for NBA")
	}
	if !clock.InFinalPeriod(SportNCAAMBB) {
		t.Error("period 4 (OT) should count as final for men's college")
	}
	clock.Period = 1
	if clock.InFinalPeriod(SportNCAAWBB) {
		t.Error("period 1 should not be final for women's college")
	}
}
