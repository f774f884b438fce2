package match

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi-arb/internal/exchange"
	"kalshi-arb/pkg/types"
)

type fakeLister struct {
	byEvent    map[string][]types.Market
	bySeries   map[string][]types.Market
	calls      int
	limitFirst int // return ErrRateLimited for the first N calls
}

func (f *fakeLister) ListMarkets(ctx context.Context, eventTicker, seriesTicker string) ([]types.Market, error) {
	f.calls++
	if f.calls <= f.limitFirst {
		return nil, fmt.Errorf("list markets: %w", exchange.ErrRateLimited)
	}
	if eventTicker != "" {
		return f.byEvent[eventTicker], nil
	}
	return f.bySeries[seriesTicker], nil
}

func newTestMatcher(lister MarketLister) *Matcher {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewMatcher(lister, 30*time.Minute, time.Millisecond, logger)
}

// Start time chosen so the ET date code is 26FEB04.
var gameStart = time.Date(2026, 2, 5, 1, 30, 0, 0, time.UTC)

func TestMatchDirectTicker(t *testing.T) {
	t.Parallel()

	markets := []types.Market{
		{Ticker: "KXNBAGAME-26FEB04MEMSAC-MEM", EventTicker: "KXNBAGAME-26FEB04MEMSAC"},
		{Ticker: "KXNBAGAME-26FEB04MEMSAC-SAC", EventTicker: "KXNBAGAME-26FEB04MEMSAC"},
	}
	lister := &fakeLister{byEvent: map[string][]types.Market{
		"KXNBAGAME-26FEB04MEMSAC": markets,
	}}
	m := newTestMatcher(lister)

	res, err := m.Match(context.Background(), types.SportNBA, "Memphis Grizzlies", "Sacramento Kings", gameStart)
	require.NoError(t, err)
	assert.Equal(t, "KXNBAGAME-26FEB04MEMSAC", res.EventTicker)
	assert.Len(t, res.Markets, 2)
}

func TestMatchTriesBothOrderingsAndDates(t *testing.T) {
	t.Parallel()

	// Game listed under the away-home ordering on the previous ET day.
	lister := &fakeLister{byEvent: map[string][]types.Market{
		"KXNBAGAME-26FEB03SACMEM": {{Ticker: "KXNBAGAME-26FEB03SACMEM-MEM"}},
	}}
	m := newTestMatcher(lister)

	res, err := m.Match(context.Background(), types.SportNBA, "Memphis Grizzlies", "Sacramento Kings", gameStart)
	require.NoError(t, err)
	assert.Equal(t, "KXNBAGAME-26FEB03SACMEM", res.EventTicker)
}

func TestMatchCaches(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{byEvent: map[string][]types.Market{
		"KXNBAGAME-26FEB04MEMSAC": {{Ticker: "KXNBAGAME-26FEB04MEMSAC-MEM"}},
	}}
	m := newTestMatcher(lister)

	_, err := m.Match(context.Background(), types.SportNBA, "Memphis Grizzlies", "Sacramento Kings", gameStart)
	require.NoError(t, err)
	probes := lister.calls

	_, err = m.Match(context.Background(), types.SportNBA, "Memphis Grizzlies", "Sacramento Kings", gameStart)
	require.NoError(t, err)
	assert.Equal(t, probes, lister.calls, "second match must come from cache")
}

func TestMatchFuzzyFallback(t *testing.T) {
	t.Parallel()

	// No dictionary entry for the feed's name variant, so candidates miss
	// and the fuzzy pass scans series titles.
	lister := &fakeLister{bySeries: map[string][]types.Market{
		"KXNCAAMGAME": {
			{
				Ticker:      "KXNCAAMGAME-26FEB04ETAMTTU-ETAM",
				EventTicker: "KXNCAAMGAME-26FEB04ETAMTTU",
				Title:       "East Texas A&M at Texas Tech Winner?",
			},
			{
				Ticker:      "KXNCAAMGAME-26FEB04DUKEUNC-DUKE",
				EventTicker: "KXNCAAMGAME-26FEB04DUKEUNC",
				Title:       "Duke at North Carolina Winner?",
			},
		},
	}}
	m := newTestMatcher(lister)

	res, err := m.Match(context.Background(), types.SportNCAAMBB, "Texas Tech", "East Texas A&M", gameStart)
	require.NoError(t, err)
	assert.Equal(t, "KXNCAAMGAME-26FEB04ETAMTTU", res.EventTicker)
}

func TestMatchFuzzyGeographicGuard(t *testing.T) {
	t.Parallel()

	// "Texas" must not fuzzy-match the East Texas A&M game.
	lister := &fakeLister{bySeries: map[string][]types.Market{
		"KXNCAAMGAME": {
			{
				Ticker:      "KXNCAAMGAME-26FEB04ETAMTTU-ETAM",
				EventTicker: "KXNCAAMGAME-26FEB04ETAMTTU",
				Title:       "East Texas A&M at Texas Tech Winner?",
			},
		},
	}}
	m := newTestMatcher(lister)

	_, err := m.Match(context.Background(), types.SportNCAAMBB, "Texas", "Oklahoma", gameStart)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMarketForTeamByCode(t *testing.T) {
	t.Parallel()

	markets := []types.Market{
		{Ticker: "KXNBAGAME-26FEB04MEMSAC-MEM", Title: "Memphis"},
		{Ticker: "KXNBAGAME-26FEB04MEMSAC-SAC", Title: "Sacramento"},
	}
	m, ok := MarketForTeam(markets, types.SportNBA, "Memphis Grizzlies")
	require.True(t, ok)
	assert.Equal(t, "KXNBAGAME-26FEB04MEMSAC-MEM", m.Ticker)
}

func TestMarketForTeamTitleShorterThanName(t *testing.T) {
	t.Parallel()

	// No dictionary entry for the feed's name variant, and the market title
	// is a strict subset of the team name, so only the token-set comparison
	// can pick the side.
	markets := []types.Market{
		{Ticker: "KXNBAGAME-26FEB04MEMSAC-MEM", Title: "Memphis"},
		{Ticker: "KXNBAGAME-26FEB04MEMSAC-SAC", Title: "Sacramento"},
	}
	m, ok := MarketForTeam(markets, types.SportNBA, "Grizzlies Memphis")
	require.True(t, ok)
	assert.Equal(t, "KXNBAGAME-26FEB04MEMSAC-MEM", m.Ticker)
}

func TestMarketForTeamGeoSurplusRejected(t *testing.T) {
	t.Parallel()

	// "Texas" must not claim an East Texas A&M market even when the title
	// tokens contain it.
	markets := []types.Market{
		{Ticker: "KXNCAAMGAME-26FEB04ETAMTTU-ETAM", Title: "East Texas A&M"},
	}
	_, ok := MarketForTeam(markets, types.SportNCAAMBB, "Texas")
	assert.False(t, ok)
}

func TestMatchNoMatch(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(&fakeLister{})
	_, err := m.Match(context.Background(), types.SportNBA, "Memphis Grizzlies", "Sacramento Kings", gameStart)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMatchRateLimitRetriesOnce(t *testing.T) {
	t.Parallel()

	// First probe 429s; the retry succeeds.
	lister := &fakeLister{
		limitFirst: 1,
		byEvent: map[string][]types.Market{
			"KXNBAGAME-26FEB04MEMSAC": {{Ticker: "KXNBAGAME-26FEB04MEMSAC-MEM"}},
		},
	}
	m := newTestMatcher(lister)

	res, err := m.Match(context.Background(), types.SportNBA, "Memphis Grizzlies", "Sacramento Kings", gameStart)
	require.NoError(t, err)
	assert.Equal(t, "KXNBAGAME-26FEB04MEMSAC", res.EventTicker)
}

func TestMatchRateLimitGivesUpAfterRetry(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{limitFirst: 100}
	m := newTestMatcher(lister)

	_, err := m.Match(context.Background(), types.SportNBA, "Memphis Grizzlies", "Sacramento Kings", gameStart)
	require.Error(t, err)
	assert.ErrorIs(t, err, exchange.ErrRateLimited)
	assert.LessOrEqual(t, lister.calls, 2, "one probe plus one retry, then give up for this pass")
}
