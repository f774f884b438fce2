package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"kalshi-arb/internal/config"
	"kalshi-arb/internal/store"
	"kalshi-arb/pkg/types"
)

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxSpreadAbsolute:        0.08,
		MaxSpreadEVRatio:         2.0,
		MinPrice:                 0.20,
		MaxPrice:                 0.85,
		MinVolume:                100,
		MinKelly:                 0.01,
		KellyScaler:              0.25,
		MinEV:                    0.01,
		MaxStakePct:              0.05,
		HedgeMaxStakePct:         0.10,
		MaxExposurePerGamePct:    0.10,
		MaxTotalExposurePct:      0.50,
		MaxTotalExposureHedgePct: 0.60,
		FirstEntryMinQty:         10,
		FirstTradeWindow:         30 * time.Minute,
		StopLossCooldown:         10 * time.Minute,
		ClockGates: map[string]config.ClockGate{
			"nba":   {MinElapsedP1: 3, FinalBlockMinutes: 2},
			"ncaam": {MinElapsedP1: 5, FinalBlockMinutes: 2},
		},
		PyramidEnabled:   true,
		EnableNBATrading: true,
	}
}

func newTestGate(t *testing.T, cfg config.RiskConfig) (*Gate, *store.PositionStore, *store.StateStore) {
	t.Helper()
	dir := t.TempDir()
	positions, err := store.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	state, err := store.OpenState(dir)
	if err != nil {
		t.Fatalf("OpenState: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewGate(cfg, positions, state, logger), positions, state
}

func baseRequest() Request {
	return Request{
		EventTicker:  "KXNBAGAME-26FEB04MEMSAC",
		MarketTicker: "KXNBAGAME-26FEB04MEMSAC-MEM",
		Sport:        types.SportNBA,
		Kind:         KindEntry,
		Bid:          0.40,
		Ask:          0.43,
		Price:        0.43,
		Qty:          50,
		Volume24h:    5000,
		EV:           0.05,
		Kelly:        0.08,
		Capital:      1000,
		Snapshot: types.ProbSnapshot{
			HomeProb: 0.55, AwayProb: 0.45, Fresh: true,
			Clock: types.GameClock{Period: 2, MinutesLeft: 6},
		},
		Now: time.Now(),
	}
}

func TestGateApprovesCleanEntry(t *testing.T) {
	t.Parallel()
	g, _, _ := newTestGate(t, testConfig())

	d := g.Check(baseRequest())
	if d.Action != ActionEnter {
		t.Fatalf("Action = %v (reason %v), want enter", d.Action, d.Reason)
	}
	if d.Qty != 50 || d.Price != 0.43 {
		t.Errorf("decision = %+v", d)
	}
}

func TestGateVetoTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Request)
		cfg    func(*config.RiskConfig)
		want   Reason
	}{
		{
			name:   "wide spread",
			mutate: func(r *Request) { r.Bid, r.Ask = 0.30, 0.43 },
			want:   ReasonSpreadAbsolute,
		},
		{
			name:   "spread large vs edge",
			mutate: func(r *Request) { r.EV = 0.01 }, // spread 0.03 > 2×0.01
			want:   ReasonSpreadEVRatio,
		},
		{
			name:   "price below floor",
			mutate: func(r *Request) { r.Bid, r.Ask, r.Price = 0.12, 0.15, 0.15 },
			want:   ReasonPriceRange,
		},
		{
			name:   "price above cap",
			mutate: func(r *Request) { r.Bid, r.Ask, r.Price = 0.87, 0.90, 0.90 },
			want:   ReasonPriceRange,
		},
		{
			name:   "thin volume",
			mutate: func(r *Request) { r.Volume24h = 10 },
			want:   ReasonVolumeFloor,
		},
		{
			name:   "kelly floor",
			mutate: func(r *Request) { r.Kelly = 0.001 },
			want:   ReasonKellyFloor,
		},
		{
			name:   "ev floor",
			mutate: func(r *Request) { r.EV = 0.005 },
			want:   ReasonMinEV,
		},
		{
			name:   "stale odds",
			mutate: func(r *Request) { r.Snapshot.Fresh = false },
			want:   ReasonStaleOdds,
		},
		{
			name:   "nba master switch",
			mutate: func(r *Request) {},
			cfg:    func(c *config.RiskConfig) { c.EnableNBATrading = false },
			want:   ReasonNBADisabled,
		},
		{
			name:   "too early in first period",
			mutate: func(r *Request) { r.Snapshot.Clock = types.GameClock{Period: 1, MinutesLeft: 11} },
			want:   ReasonClockGate,
		},
		{
			name:   "too late in final period",
			mutate: func(r *Request) { r.Snapshot.Clock = types.GameClock{Period: 4, MinutesLeft: 1.5} },
			want:   ReasonClockGate,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			if tc.cfg != nil {
				tc.cfg(&cfg)
			}
			g, _, _ := newTestGate(t, cfg)

			req := baseRequest()
			tc.mutate(&req)
			d := g.Check(req)
			if d.Action != ActionSkip || d.Reason != tc.want {
				t.Errorf("got %v/%v, want skip/%v", d.Action, d.Reason, tc.want)
			}
		})
	}
}

func TestGateHalfHedgeLock(t *testing.T) {
	t.Parallel()
	g, positions, state := newTestGate(t, testConfig())

	// One side open, event locked: same-side entry blocked, hedge allowed.
	_, _ = positions.UpsertFill("KXNBAGAME-26FEB04MEMSAC", "KXNBAGAME-26FEB04MEMSAC-MEM", types.SideYes, 50, 0.45, time.Now())
	_ = state.LockEvent("KXNBAGAME-26FEB04MEMSAC")

	req := baseRequest()
	d := g.Check(req)
	if d.Reason != ReasonHalfHedgeLock {
		t.Errorf("same-side entry: %v/%v, want half_hedge_lock", d.Action, d.Reason)
	}

	hedge := baseRequest()
	hedge.Kind = KindHedge
	hedge.MarketTicker = "KXNBAGAME-26FEB04MEMSAC-SAC"
	hedge.Price = 0.55
	hedge.Bid, hedge.Ask = 0.52, 0.55
	d = g.Check(hedge)
	if d.Action != ActionHedge {
		t.Errorf("hedge leg: %v/%v, want hedge", d.Action, d.Reason)
	}

	// Pyramiding reopens the same side when the feature is on.
	pyr := baseRequest()
	pyr.Kind = KindPyramid
	d = g.Check(pyr)
	if d.Action != ActionEnter {
		t.Errorf("pyramid: %v/%v, want enter", d.Action, d.Reason)
	}
}

func TestGateSevenPctExitedPermanentBlock(t *testing.T) {
	t.Parallel()
	g, _, state := newTestGate(t, testConfig())
	_ = state.MarkSevenPctExited("KXNBAGAME-26FEB04MEMSAC")

	d := g.Check(baseRequest())
	if d.Reason != ReasonSevenPctExited {
		t.Errorf("got %v/%v, want seven_pct_exited", d.Action, d.Reason)
	}
}

func TestGateCooldownClearsOnRecovery(t *testing.T) {
	t.Parallel()
	g, _, state := newTestGate(t, testConfig())
	now := time.Now()

	// Stopped out at entry 0.45; market still below: blocked.
	_ = state.SetCooldown("KXNBAGAME-26FEB04MEMSAC", now.Add(10*time.Minute), 0.45)
	req := baseRequest()
	req.Bid, req.Ask, req.Price = 0.38, 0.41, 0.41
	d := g.Check(req)
	if d.Reason != ReasonCooldown {
		t.Fatalf("below stop entry: %v/%v, want cooldown", d.Action, d.Reason)
	}

	// Price recovers to the stop entry level: cooldown lifts and the
	// entry proceeds.
	req = baseRequest()
	req.Bid, req.Ask, req.Price = 0.43, 0.46, 0.46
	d = g.Check(req)
	if d.Action != ActionEnter {
		t.Fatalf("after recovery: %v/%v, want enter", d.Action, d.Reason)
	}
	if in, _ := state.InCooldown("KXNBAGAME-26FEB04MEMSAC", now); in {
		t.Error("cooldown entry should be removed after recovery")
	}
}

func TestGateScalesQtyToCaps(t *testing.T) {
	t.Parallel()
	g, _, _ := newTestGate(t, testConfig())

	// Side cap is 5% of 1000 = $50; at 0.43 that is 116 contracts.
	req := baseRequest()
	req.Qty = 500
	d := g.Check(req)
	if d.Action != ActionEnter {
		t.Fatalf("got %v/%v, want enter", d.Action, d.Reason)
	}
	if d.Qty != 116 {
		t.Errorf("Qty = %d, want 116 (scaled to side cap)", d.Qty)
	}
}

func TestGateVetoesBelowFirstEntryMinQty(t *testing.T) {
	t.Parallel()
	g, _, _ := newTestGate(t, testConfig())

	// Tiny capital: the caps scale the entry under the minimum size.
	req := baseRequest()
	req.Capital = 50 // side cap $2.50 → 5 contracts < 10
	d := g.Check(req)
	if d.Action != ActionSkip || d.Reason != ReasonMinQty {
		t.Errorf("got %v/%v, want skip/below_min_qty", d.Action, d.Reason)
	}
}

func TestGateEntryWindow(t *testing.T) {
	t.Parallel()
	g, _, state := newTestGate(t, testConfig())
	now := time.Now()

	// Event first seen an hour ago, and the game clock does not excuse a
	// late first entry (mid period 1, too early).
	_, _ = state.FirstDetection("KXNBAGAME-26FEB04MEMSAC", now.Add(-time.Hour))
	req := baseRequest()
	req.Snapshot.Clock = types.GameClock{Period: 1, MinutesLeft: 11}
	d := g.Check(req)
	if d.Reason != ReasonEntryWindow {
		t.Errorf("got %v/%v, want entry_window", d.Action, d.Reason)
	}

	// Same stale detection, but a healthy mid-game clock justifies entry.
	req = baseRequest()
	d = g.Check(req)
	if d.Action != ActionEnter {
		t.Errorf("got %v/%v, want enter", d.Action, d.Reason)
	}
}

func TestGateCountsSkips(t *testing.T) {
	t.Parallel()
	g, _, _ := newTestGate(t, testConfig())

	req := baseRequest()
	req.Snapshot.Fresh = false
	_ = g.Check(req)
	_ = g.Check(req)
	g.RecordPlaced()
	g.RecordFilled()

	snap := g.Snapshot()
	if snap.Skips[ReasonStaleOdds] != 2 {
		t.Errorf("stale odds skips = %d, want 2", snap.Skips[ReasonStaleOdds])
	}
	if snap.Placed != 1 || snap.Filled != 1 {
		t.Errorf("counters = %+v", snap)
	}
}
