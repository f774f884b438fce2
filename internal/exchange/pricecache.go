package exchange

import (
	"sync"
	"time"

	"kalshi-arb/pkg/types"
)

// PriceCache holds the latest top-of-book quote per market, written by the
// feed and read by every worker. A quote older than the staleness cutoff
// is treated as missing so the caller falls back to REST.
type PriceCache struct {
	mu       sync.RWMutex
	quotes   map[string]types.Quote
	staleCut time.Duration
}

// NewPriceCache creates a cache with the given staleness cutoff.
func NewPriceCache(staleCut time.Duration) *PriceCache {
	return &PriceCache{
		quotes:   make(map[string]types.Quote),
		staleCut: staleCut,
	}
}

// Update stores a quote. Quotes with neither side are kept too: a market
// whose book emptied is information, not noise.
func (pc *PriceCache) Update(q types.Quote) {
	pc.mu.Lock()
	pc.quotes[q.MarketTicker] = q
	pc.mu.Unlock()
}

// Apply stores a stream quote, accumulating its per-trade volume delta
// onto the previous total. The stream reports increments; the trailing
// volume baseline comes from whatever REST last wrote via Update.
func (pc *PriceCache) Apply(q types.Quote, volumeDelta float64) {
	pc.mu.Lock()
	q.Volume24h = pc.quotes[q.MarketTicker].Volume24h + volumeDelta
	pc.quotes[q.MarketTicker] = q
	pc.mu.Unlock()
}

// Quote returns the cached quote and whether it is present and fresh.
func (pc *PriceCache) Quote(marketTicker string) (types.Quote, bool) {
	pc.mu.RLock()
	q, ok := pc.quotes[marketTicker]
	pc.mu.RUnlock()
	if !ok || time.Since(q.ReceivedAt) > pc.staleCut {
		return types.Quote{}, false
	}
	return q, true
}

// Drop removes a market from the cache (settled or unmatched).
func (pc *PriceCache) Drop(marketTicker string) {
	pc.mu.Lock()
	delete(pc.quotes, marketTicker)
	pc.mu.Unlock()
}

// Len returns the number of cached quotes, fresh or not.
func (pc *PriceCache) Len() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return len(pc.quotes)
}
