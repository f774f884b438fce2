package exchange

import (
	"context"
	"log/slog"
	"math"
	"os"
	"strings"
	"testing"

	"kalshi-arb/pkg/types"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Client{
		live:     false,
		rl:       NewRateLimiter(),
		logger:   logger,
		dryFills: make(map[string]*types.OrderResult),
	}
}

func TestDryRunPlaceOrderNeverHitsNetwork(t *testing.T) {
	t.Parallel()
	c := newDryRunClient() // nil http client: any network call would panic

	res, err := c.PlaceOrder(context.Background(), types.OrderRequest{
		MarketTicker: "KXNBAGAME-26FEB04MEMSAC-MEM",
		Side:         types.SideYes,
		Action:       types.ActionBuy,
		Price:        0.42,
		Count:        100,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !strings.HasPrefix(res.OrderID, "dry-run-") {
		t.Errorf("OrderID = %q, want dry-run prefix", res.OrderID)
	}
	if res.Status != types.OrderFilled || res.FilledCount != 100 {
		t.Errorf("dry-run result = %+v, want synthetic full fill", res)
	}
	if res.AvgPrice != 0.42 {
		t.Errorf("AvgPrice = %v, want limit price", res.AvgPrice)
	}
}

func TestDryRunCancelOrder(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()
	if err := c.CancelOrder(context.Background(), "order-1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}

func TestDryRunWaitForFill(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	placed, err := c.PlaceOrder(context.Background(), types.OrderRequest{
		MarketTicker: "MKT",
		Side:         types.SideYes,
		Action:       types.ActionBuy,
		Price:        0.37,
		Count:        25,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	res, err := c.WaitForFill(context.Background(), placed.OrderID, "MKT", types.SideYes, 0)
	if err != nil {
		t.Fatalf("WaitForFill: %v", err)
	}
	if res.Status != types.OrderFilled || res.FilledCount != 25 || res.AvgPrice != 0.37 {
		t.Errorf("replayed fill = %+v, want 25 @ 0.37 filled", res)
	}
}

func TestCentsConversion(t *testing.T) {
	t.Parallel()

	cases := []struct {
		frac  float64
		cents int
	}{
		{0.01, 1},
		{0.42, 42},
		{0.99, 99},
		{0.07, 7}, // 0.07 is not exactly representable; decimal keeps it honest
		{0.29, 29},
	}
	for _, tc := range cases {
		if got := toCents(tc.frac); got != tc.cents {
			t.Errorf("toCents(%v) = %d, want %d", tc.frac, got, tc.cents)
		}
		if got := fromCents(tc.cents); math.Abs(got-tc.frac) > 1e-9 {
			t.Errorf("fromCents(%d) = %v, want %v", tc.cents, got, tc.frac)
		}
	}
}

func TestOrderResultFromWire(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		wire types.WireOrder
		want types.OrderStatus
	}{
		{"executed", types.WireOrder{Status: "executed", Count: 100, FilledCount: 100}, types.OrderFilled},
		{"full fill still resting", types.WireOrder{Status: "resting", Count: 100, FilledCount: 100}, types.OrderFilled},
		{"canceled with fills", types.WireOrder{Status: "canceled", Count: 100, FilledCount: 40}, types.OrderPartial},
		{"canceled clean", types.WireOrder{Status: "canceled", Count: 100}, types.OrderCancelled},
		{"resting", types.WireOrder{Status: "resting", Count: 100, FilledCount: 10}, types.OrderTimeout},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := orderResultFromWire(tc.wire); got.Status != tc.want {
				t.Errorf("status = %v, want %v", got.Status, tc.want)
			}
		})
	}
}

func TestNormalizePositions(t *testing.T) {
	t.Parallel()

	resp := types.WirePositionsResponse{
		MarketPositions: []types.WireMarketPosition{
			// YES position with lifetime traded value: 100 contracts at 42c.
			{Ticker: "KXNBAGAME-26FEB04MEMSAC-MEM", Position: 100, TotalTradedCents: 4200, TotalTradedCount: 100},
			// NO position reported as negative, priced off exposure.
			{Ticker: "KXNBAGAME-26FEB04MEMSAC-SAC", Position: -50, MarketExposure: 2750},
			// Flat market: skipped.
			{Ticker: "KXNBAGAME-26FEB05BOSLAL-BOS", Position: 0, TotalTradedCents: 9000, TotalTradedCount: 200},
		},
	}

	got := NormalizePositions(resp)
	if len(got) != 2 {
		t.Fatalf("got %d positions, want 2", len(got))
	}

	yes := got[0]
	if yes.Side != types.SideYes || yes.Contracts != 100 {
		t.Errorf("yes position = %+v", yes)
	}
	if math.Abs(yes.AvgPrice-0.42) > 1e-9 {
		t.Errorf("yes AvgPrice = %v, want 0.42", yes.AvgPrice)
	}
	if yes.EventTicker != "KXNBAGAME-26FEB04MEMSAC" {
		t.Errorf("EventTicker = %q", yes.EventTicker)
	}

	no := got[1]
	if no.Side != types.SideNo || no.Contracts != 50 {
		t.Errorf("no position = %+v", no)
	}
	if math.Abs(no.AvgPrice-0.55) > 1e-9 {
		t.Errorf("no AvgPrice = %v, want 0.55", no.AvgPrice)
	}
}
