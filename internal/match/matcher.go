// Package match resolves odds-feed events to exchange event tickers.
//
// The fast path builds candidate tickers from a static team-code
// dictionary and probes the exchange for each. When the dictionary misses
// (new school, renamed feed entry), a fuzzy pass compares normalized team
// names against the titles of every active market in the series.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"kalshi-arb/internal/exchange"
	"kalshi-arb/pkg/types"
)

// ErrNoMatch is returned when no exchange event could be resolved for the
// odds-feed event. Not an error condition for the engine; many feed events
// have no listed market.
var ErrNoMatch = errors.New("no matching market")

// MarketLister is the slice of the exchange client the matcher needs.
type MarketLister interface {
	ListMarkets(ctx context.Context, eventTicker, seriesTicker string) ([]types.Market, error)
}

// Result is a resolved event: the exchange ticker and its markets.
type Result struct {
	EventTicker string
	Markets     []types.Market
}

type cacheEntry struct {
	result  Result
	expires time.Time
}

// Matcher resolves events with a TTL cache over exchange probes.
type Matcher struct {
	lister     MarketLister
	ttl        time.Duration
	retryDelay time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewMatcher creates a matcher. ttl bounds how long a resolution is
// reused; retryDelay is the pause before the single retry after a 429.
func NewMatcher(lister MarketLister, ttl, retryDelay time.Duration, logger *slog.Logger) *Matcher {
	return &Matcher{
		lister:     lister,
		ttl:        ttl,
		retryDelay: retryDelay,
		cache:      make(map[string]cacheEntry),
		logger:     logger.With("component", "matcher"),
	}
}

// dateCodes returns the exchange date codes to try: the event's start date
// in Eastern time plus the previous day, covering timezone spill on late
// games.
func dateCodes(start time.Time) []string {
	et := start.In(time.FixedZone("ET", -5*3600))
	today := strings.ToUpper(et.Format("06Jan02"))
	prev := strings.ToUpper(et.AddDate(0, 0, -1).Format("06Jan02"))
	return []string{today, prev}
}

// Match resolves one odds-feed event to an exchange event ticker and its
// markets. Returns ErrNoMatch when nothing resolves; rate-limit errors
// surface wrapped so the caller can skip the event this pass.
func (m *Matcher) Match(ctx context.Context, sport types.Sport, homeTeam, awayTeam string, start time.Time) (Result, error) {
	key := string(sport) + "|" + dateCodes(start)[0] + "|" + normalizeName(homeTeam) + "|" + normalizeName(awayTeam)

	m.mu.Lock()
	m.sweepLocked()
	if entry, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return entry.result, nil
	}
	m.mu.Unlock()

	res, err := m.resolve(ctx, sport, homeTeam, awayTeam, start)
	if err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	m.cache[key] = cacheEntry{result: res, expires: time.Now().Add(m.ttl)}
	m.mu.Unlock()
	return res, nil
}

// sweepLocked expires stale cache entries. Caller holds mu.
func (m *Matcher) sweepLocked() {
	now := time.Now()
	for k, e := range m.cache {
		if now.After(e.expires) {
			delete(m.cache, k)
		}
	}
}

func (m *Matcher) resolve(ctx context.Context, sport types.Sport, homeTeam, awayTeam string, start time.Time) (Result, error) {
	prefix, ok := seriesPrefix[sport]
	if !ok {
		return Result{}, fmt.Errorf("match: unsupported sport %q", sport)
	}

	homeCode, homeOK := TeamCode(sport, homeTeam)
	awayCode, awayOK := TeamCode(sport, awayTeam)

	if homeOK && awayOK {
		var candidates []string
		for _, date := range dateCodes(start) {
			candidates = append(candidates,
				prefix+"-"+date+homeCode+awayCode,
				prefix+"-"+date+awayCode+homeCode,
			)
		}
		for _, ticker := range candidates {
			markets, err := m.probe(ctx, ticker)
			if err != nil {
				return Result{}, err
			}
			if len(markets) > 0 {
				return Result{EventTicker: ticker, Markets: markets}, nil
			}
		}
	} else {
		m.logger.Debug("team code missing, going straight to fuzzy match",
			"sport", sport, "home", homeTeam, "away", awayTeam)
	}

	return m.fuzzy(ctx, prefix, homeTeam, awayTeam)
}

// probe lists markets for one candidate ticker, sleeping and retrying once
// on a 429.
func (m *Matcher) probe(ctx context.Context, eventTicker string) ([]types.Market, error) {
	markets, err := m.lister.ListMarkets(ctx, eventTicker, "")
	if errors.Is(err, exchange.ErrRateLimited) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.retryDelay):
		}
		markets, err = m.lister.ListMarkets(ctx, eventTicker, "")
	}
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", eventTicker, err)
	}
	return markets, nil
}

// fuzzy scans every active market in the series and matches team names
// against market titles.
func (m *Matcher) fuzzy(ctx context.Context, seriesTicker, homeTeam, awayTeam string) (Result, error) {
	all, err := m.lister.ListMarkets(ctx, "", seriesTicker)
	if err != nil {
		return Result{}, fmt.Errorf("fuzzy scan %s: %w", seriesTicker, err)
	}

	home := normalizeName(homeTeam)
	away := normalizeName(awayTeam)

	byEvent := make(map[string][]types.Market)
	for _, mk := range all {
		evt := mk.EventTicker
		if evt == "" {
			evt = types.EventTickerFromMarket(mk.Ticker)
		}
		byEvent[evt] = append(byEvent[evt], mk)
	}

	for evt, markets := range byEvent {
		var homeHit, awayHit bool
		for _, mk := range markets {
			title := strings.Fields(normalizeName(mk.Title))
			if titleContainsTeam(title, home) {
				homeHit = true
			}
			if titleContainsTeam(title, away) {
				awayHit = true
			}
		}
		if homeHit && awayHit {
			m.logger.Info("fuzzy matched event",
				"event", evt, "home", homeTeam, "away", awayTeam)
			return Result{EventTicker: evt, Markets: markets}, nil
		}
	}
	return Result{}, fmt.Errorf("%w: %s vs %s", ErrNoMatch, homeTeam, awayTeam)
}

// titleContainsTeam reports whether the team's normalized tokens appear as
// a consecutive run in the title, not preceded by a geographic modifier.
// "texas" matches "texas beats oklahoma" but not "east texas a&m wins".
func titleContainsTeam(titleTokens []string, team string) bool {
	teamTokens := strings.Fields(team)
	if len(teamTokens) == 0 {
		return false
	}

	for i := 0; i+len(teamTokens) <= len(titleTokens); i++ {
		run := true
		for j, tok := range teamTokens {
			if titleTokens[i+j] != tok {
				run = false
				break
			}
		}
		if !run {
			continue
		}
		if i > 0 && geoModifiers[titleTokens[i-1]] && !geoModifiers[teamTokens[0]] {
			continue
		}
		// Guard the other direction too: "texas" must not claim the run
		// inside "texas state".
		if end := i + len(teamTokens); end < len(titleTokens) && geoModifiers[titleTokens[end]] {
			continue
		}
		return true
	}
	return false
}
