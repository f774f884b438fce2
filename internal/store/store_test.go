package store

import (
	"math"
	"testing"
	"time"

	"kalshi-arb/pkg/types"
)

func TestUpsertFillAveragesEntry(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Now()
	if _, err := s.UpsertFill("KXNBAGAME-26FEB04MEMSAC", "KXNBAGAME-26FEB04MEMSAC-MEM", types.SideYes, 100, 0.40, now); err != nil {
		t.Fatalf("UpsertFill: %v", err)
	}
	pos, err := s.UpsertFill("KXNBAGAME-26FEB04MEMSAC", "KXNBAGAME-26FEB04MEMSAC-MEM", types.SideYes, 100, 0.50, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpsertFill: %v", err)
	}

	if pos.Stake != 200 {
		t.Errorf("Stake = %d, want 200", pos.Stake)
	}
	if math.Abs(pos.EntryPrice-0.45) > 1e-9 {
		t.Errorf("EntryPrice = %v, want 0.45 (cost-weighted)", pos.EntryPrice)
	}
	if !pos.EntryTime.Equal(now) {
		t.Errorf("EntryTime moved on merge")
	}
	if !pos.LastFillTime.Equal(now.Add(time.Minute)) {
		t.Errorf("LastFillTime not updated")
	}
}

func TestUpsertFillTracksLastFillPrice(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Now()
	_, _ = s.UpsertFill("EVT", "EVT-HOME", types.SideYes, 40, 0.35, now)
	pos, err := s.UpsertFill("EVT", "EVT-HOME", types.SideYes, 10, 0.60, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpsertFill: %v", err)
	}

	if math.Abs(pos.EntryPrice-0.40) > 1e-9 {
		t.Errorf("EntryPrice = %v, want 0.40 (cost-weighted)", pos.EntryPrice)
	}
	if math.Abs(pos.LastFillPrice-0.60) > 1e-9 {
		t.Errorf("LastFillPrice = %v, want 0.60 (latest fill, not the average)", pos.LastFillPrice)
	}
}

func TestSetFromLiveSeedsLastFillPrice(t *testing.T) {
	t.Parallel()
	s, _ := Open(t.TempDir())
	now := time.Now()

	// Adopted positions have no fill history; the exchange average stands in.
	pos, err := s.SetFromLive("EVT", "EVT-HOME", types.SideYes, 50, 0.44, now)
	if err != nil {
		t.Fatalf("SetFromLive: %v", err)
	}
	if math.Abs(pos.LastFillPrice-0.44) > 1e-9 {
		t.Errorf("LastFillPrice = %v, want adopted average 0.44", pos.LastFillPrice)
	}

	// A later reconcile must not clobber a real last-fill record.
	_, _ = s.UpsertFill("EVT", "EVT-HOME", types.SideYes, 10, 0.52, now)
	pos, _ = s.SetFromLive("EVT", "EVT-HOME", types.SideYes, 60, 0.45, now)
	if math.Abs(pos.LastFillPrice-0.52) > 1e-9 {
		t.Errorf("LastFillPrice = %v, want 0.52 preserved across reconcile", pos.LastFillPrice)
	}
}

func TestUpsertFillSeparateSides(t *testing.T) {
	t.Parallel()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Now()
	_, _ = s.UpsertFill("EVT", "EVT-HOME", types.SideYes, 50, 0.40, now)
	_, _ = s.UpsertFill("EVT", "EVT-HOME", types.SideNo, 30, 0.55, now)

	byMarket := s.ByMarket("EVT-HOME")
	if len(byMarket) != 2 {
		t.Fatalf("ByMarket = %d positions, want 2", len(byMarket))
	}
	if len(s.ByEvent("EVT")) != 2 {
		t.Errorf("ByEvent = %d positions, want 2", len(s.ByEvent("EVT")))
	}
}

func TestUpsertFillRejectsNonPositiveQty(t *testing.T) {
	t.Parallel()
	s, _ := Open(t.TempDir())
	if _, err := s.UpsertFill("EVT", "EVT-HOME", types.SideYes, 0, 0.40, time.Now()); err == nil {
		t.Error("expected error for zero qty")
	}
}

func TestPersistAndReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	_, _ = s.UpsertFill("EVT", "EVT-HOME", types.SideYes, 120, 0.42, now)
	if err := s.MarkClosing("EVT-HOME", types.SideYes, now); err != nil {
		t.Fatalf("MarkClosing: %v", err)
	}

	// Simulate a restart.
	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	pos, ok := s2.Get("EVT-HOME", types.SideYes)
	if !ok {
		t.Fatal("position lost across restart")
	}
	if pos.Stake != 120 || math.Abs(pos.EntryPrice-0.42) > 1e-9 {
		t.Errorf("reloaded position = %+v", pos)
	}
	if !pos.ClosingInProgress {
		t.Error("closing flag lost across restart")
	}
}

func TestReapStaleClosing(t *testing.T) {
	t.Parallel()
	s, _ := Open(t.TempDir())
	now := time.Now()

	_, _ = s.UpsertFill("EVT", "EVT-HOME", types.SideYes, 10, 0.40, now)
	_, _ = s.UpsertFill("EVT", "EVT-AWAY", types.SideYes, 10, 0.40, now)
	_ = s.MarkClosing("EVT-HOME", types.SideYes, now.Add(-10*time.Minute))
	_ = s.MarkClosing("EVT-AWAY", types.SideYes, now.Add(-time.Minute))

	reaped, err := s.ReapStaleClosing(5*time.Minute, now)
	if err != nil {
		t.Fatalf("ReapStaleClosing: %v", err)
	}
	if len(reaped) != 1 || reaped[0].MarketTicker != "EVT-HOME" {
		t.Fatalf("reaped = %+v, want only EVT-HOME", reaped)
	}

	pos, _ := s.Get("EVT-HOME", types.SideYes)
	if pos.ClosingInProgress {
		t.Error("stale closing flag not cleared")
	}
	pos, _ = s.Get("EVT-AWAY", types.SideYes)
	if !pos.ClosingInProgress {
		t.Error("fresh closing flag should survive")
	}
}

func TestDecrementStakeSettlesAtZero(t *testing.T) {
	t.Parallel()
	s, _ := Open(t.TempDir())
	now := time.Now()

	_, _ = s.UpsertFill("EVT", "EVT-HOME", types.SideYes, 100, 0.40, now)
	if err := s.DecrementStake("EVT-HOME", types.SideYes, 40); err != nil {
		t.Fatalf("DecrementStake: %v", err)
	}
	pos, _ := s.Get("EVT-HOME", types.SideYes)
	if pos.Stake != 60 || pos.Settled {
		t.Errorf("after partial close: %+v", pos)
	}
	if math.Abs(pos.EntryPrice-0.40) > 1e-9 {
		t.Errorf("EntryPrice changed on decrement: %v", pos.EntryPrice)
	}

	_ = s.DecrementStake("EVT-HOME", types.SideYes, 60)
	pos, _ = s.Get("EVT-HOME", types.SideYes)
	if !pos.Settled || pos.Stake != 0 {
		t.Errorf("after full close: %+v", pos)
	}
	if len(s.OpenPositions()) != 0 {
		t.Error("settled position still counted as open")
	}
}

func TestAggregateSide(t *testing.T) {
	t.Parallel()

	positions := []types.Position{
		{MarketTicker: "M", Side: types.SideYes, Stake: 100, EntryPrice: 0.40},
		{MarketTicker: "M", Side: types.SideYes, Stake: 50, EntryPrice: 0.46},
		{MarketTicker: "M", Side: types.SideNo, Stake: 30, EntryPrice: 0.55},
		{MarketTicker: "M", Side: types.SideYes, Stake: 25, EntryPrice: 0.50, Settled: true},
	}

	qty, avg, cost := AggregateSide(positions, types.SideYes)
	if qty != 150 {
		t.Errorf("qty = %d, want 150 (settled skipped)", qty)
	}
	if math.Abs(avg-0.42) > 1e-9 {
		t.Errorf("avg = %v, want 0.42", avg)
	}
	if got, _ := cost.Float64(); math.Abs(got-63.0) > 1e-9 {
		t.Errorf("cost = %v, want 63.00", got)
	}

	qty, _, _ = AggregateSide(positions, types.SideNo)
	if qty != 30 {
		t.Errorf("NO qty = %d, want 30", qty)
	}
}

func TestExposureTotals(t *testing.T) {
	t.Parallel()
	s, _ := Open(t.TempDir())
	now := time.Now()

	_, _ = s.UpsertFill("EVT1", "EVT1-HOME", types.SideYes, 100, 0.40, now)
	_, _ = s.UpsertFill("EVT2", "EVT2-HOME", types.SideYes, 50, 0.60, now)

	if got, _ := s.TotalExposure().Float64(); math.Abs(got-70.0) > 1e-9 {
		t.Errorf("TotalExposure = %v, want 70.00", got)
	}
	if got, _ := s.EventExposure("EVT1").Float64(); math.Abs(got-40.0) > 1e-9 {
		t.Errorf("EventExposure(EVT1) = %v, want 40.00", got)
	}
}

func TestSetFromLive(t *testing.T) {
	t.Parallel()
	s, _ := Open(t.TempDir())
	now := time.Now()

	// Exchange truth overwrites local stake and price on an existing record.
	_, _ = s.UpsertFill("EVT", "EVT-HOME", types.SideYes, 100, 0.40, now)
	_ = s.MarkClosing("EVT-HOME", types.SideYes, now)
	pos, err := s.SetFromLive("EVT", "EVT-HOME", types.SideYes, 80, 0.41, now)
	if err != nil {
		t.Fatalf("SetFromLive: %v", err)
	}
	if pos.Stake != 80 || math.Abs(pos.EntryPrice-0.41) > 1e-9 {
		t.Errorf("after reconcile: %+v", pos)
	}
	if !pos.ClosingInProgress {
		t.Error("reconcile must not clear the closing flag")
	}

	// Zero contracts live means the position is gone.
	pos, _ = s.SetFromLive("EVT", "EVT-HOME", types.SideYes, 0, 0, now)
	if !pos.Settled {
		t.Error("zero live contracts should settle the record")
	}

	// An unknown live position is adopted.
	pos, _ = s.SetFromLive("EVT2", "EVT2-AWAY", types.SideNo, 40, 0.33, now)
	if pos.Stake != 40 || pos.Side != types.SideNo {
		t.Errorf("adopted position = %+v", pos)
	}
}
