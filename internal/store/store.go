// Package store keeps the engine's durable state: the position ledger and
// the small auxiliary sets (event locks, stop-loss cooldowns) that must
// survive a restart.
//
// Everything is persisted as JSON in a data directory using atomic file
// replacement (write to .tmp, then rename), so a crash mid-save never
// leaves a corrupt file. Mutators write through; startup loads whatever
// the last clean write left behind.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kalshi-arb/pkg/types"
)

const positionsFile = "positions.json"

type posKey struct {
	Market string
	Side   types.Side
}

// PositionStore is the thread-safe ledger of positions, keyed by
// (market, side). At most one record exists per key; repeated fills on the
// same contract merge into it with a cost-weighted entry price.
type PositionStore struct {
	mu   sync.RWMutex
	path string
	pos  map[posKey]*types.Position
}

// Open loads the position ledger from dir, creating the directory and an
// empty ledger if nothing is there yet.
func Open(dir string) (*PositionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &PositionStore{
		path: filepath.Join(dir, positionsFile),
		pos:  make(map[posKey]*types.Position),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read positions: %w", err)
	}
	var list []types.Position
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}
	for i := range list {
		p := list[i]
		s.pos[posKey{p.MarketTicker, p.Side}] = &p
	}
	return s, nil
}

// persistLocked writes the full ledger atomically. Caller holds mu.
func (s *PositionStore) persistLocked() error {
	list := make([]types.Position, 0, len(s.pos))
	for _, p := range s.pos {
		list = append(list, *p)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Persist flushes the ledger to disk.
func (s *PositionStore) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// Snapshot returns a copy of every record, settled ones included.
func (s *PositionStore) Snapshot() []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]types.Position, 0, len(s.pos))
	for _, p := range s.pos {
		list = append(list, *p)
	}
	return list
}

// OpenPositions returns copies of the positions still counting toward
// exposure.
func (s *PositionStore) OpenPositions() []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []types.Position
	for _, p := range s.pos {
		if p.Open() {
			list = append(list, *p)
		}
	}
	return list
}

// ByEvent returns copies of the open positions in one event.
func (s *PositionStore) ByEvent(eventTicker string) []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []types.Position
	for _, p := range s.pos {
		if p.EventTicker == eventTicker && p.Open() {
			list = append(list, *p)
		}
	}
	return list
}

// ByMarket returns copies of the open positions in one market (both sides).
func (s *PositionStore) ByMarket(marketTicker string) []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []types.Position
	for _, p := range s.pos {
		if p.MarketTicker == marketTicker && p.Open() {
			list = append(list, *p)
		}
	}
	return list
}

// Get returns a copy of the record for (market, side), settled or not.
func (s *PositionStore) Get(marketTicker string, side types.Side) (types.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pos[posKey{marketTicker, side}]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// UpsertFill records a fill. An existing non-settled record for the same
// (market, side) absorbs it: stake adds, entry price becomes the
// cost-weighted average. Otherwise a fresh record is inserted. Returns a
// copy of the resulting position.
func (s *PositionStore) UpsertFill(eventTicker, marketTicker string, side types.Side, qty int, price float64, now time.Time) (types.Position, error) {
	if qty <= 0 {
		return types.Position{}, fmt.Errorf("upsert fill: qty %d", qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := posKey{marketTicker, side}
	p, ok := s.pos[key]
	if ok && !p.Settled {
		oldCost := float64(p.Stake) * p.EntryPrice
		p.Stake += qty
		p.EntryPrice = (oldCost + float64(qty)*price) / float64(p.Stake)
		p.LastFillTime = now
		p.LastFillPrice = price
	} else {
		p = &types.Position{
			EventTicker:   eventTicker,
			MarketTicker:  marketTicker,
			Side:          side,
			Stake:         qty,
			EntryPrice:    price,
			EntryTime:     now,
			LastFillTime:  now,
			LastFillPrice: price,
		}
		s.pos[key] = p
	}
	out := *p
	return out, s.persistLocked()
}

// SetFromLive overwrites a record with exchange-reported truth during
// reconciliation. Flags and entry time survive when the record already
// exists; a brand-new record is inserted for positions the ledger never
// saw (fills from a previous run, manual trades).
func (s *PositionStore) SetFromLive(eventTicker, marketTicker string, side types.Side, qty int, avgPrice float64, now time.Time) (types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := posKey{marketTicker, side}
	p, ok := s.pos[key]
	if !ok {
		p = &types.Position{
			EventTicker:  eventTicker,
			MarketTicker: marketTicker,
			Side:         side,
			EntryTime:    now,
			LastFillTime: now,
		}
		s.pos[key] = p
	}
	p.Stake = qty
	p.EntryPrice = avgPrice
	if p.LastFillPrice == 0 {
		// Adopted fills carry no per-fill breakdown; the average is the
		// best available last-entry estimate.
		p.LastFillPrice = avgPrice
	}
	p.Settled = qty <= 0
	out := *p
	return out, s.persistLocked()
}

// MarkClosing flags a position as having a live close order out, so no
// other worker double-sells it.
func (s *PositionStore) MarkClosing(marketTicker string, side types.Side, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pos[posKey{marketTicker, side}]
	if !ok {
		return fmt.Errorf("mark closing: no position %s/%s", marketTicker, side)
	}
	p.ClosingInProgress = true
	p.ClosingInitiatedAt = now
	return s.persistLocked()
}

// ClearClosing removes the closing flag after the close order resolves.
func (s *PositionStore) ClearClosing(marketTicker string, side types.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pos[posKey{marketTicker, side}]
	if !ok {
		return nil
	}
	p.ClosingInProgress = false
	p.ClosingInitiatedAt = time.Time{}
	return s.persistLocked()
}

// ReapStaleClosing clears closing flags older than maxAge and returns
// copies of the positions it unstuck. A crash between placing a close
// order and clearing the flag would otherwise freeze the position forever.
func (s *PositionStore) ReapStaleClosing(maxAge time.Duration, now time.Time) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []types.Position
	for _, p := range s.pos {
		if p.ClosingInProgress && !p.ClosingInitiatedAt.IsZero() && now.Sub(p.ClosingInitiatedAt) > maxAge {
			p.ClosingInProgress = false
			p.ClosingInitiatedAt = time.Time{}
			reaped = append(reaped, *p)
		}
	}
	if len(reaped) == 0 {
		return nil, nil
	}
	return reaped, s.persistLocked()
}

// DecrementStake reduces a position after a partial close fill. Entry
// price is untouched; reaching zero settles the record.
func (s *PositionStore) DecrementStake(marketTicker string, side types.Side, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pos[posKey{marketTicker, side}]
	if !ok {
		return fmt.Errorf("decrement stake: no position %s/%s", marketTicker, side)
	}
	p.Stake -= qty
	if p.Stake <= 0 {
		p.Stake = 0
		p.Settled = true
	}
	return s.persistLocked()
}

// MarkSettled closes out a record entirely (full exit or market
// settlement).
func (s *PositionStore) MarkSettled(marketTicker string, side types.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pos[posKey{marketTicker, side}]
	if !ok {
		return nil
	}
	p.Settled = true
	p.ClosingInProgress = false
	return s.persistLocked()
}

// SetStops records stop-loss / take-profit levels on a position.
func (s *PositionStore) SetStops(marketTicker string, side types.Side, stopLoss, takeProfit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pos[posKey{marketTicker, side}]
	if !ok {
		return fmt.Errorf("set stops: no position %s/%s", marketTicker, side)
	}
	p.StopLoss = stopLoss
	p.TakeProfit = takeProfit
	return s.persistLocked()
}

// UpdateMaxSeenBid ratchets the peak bid used by the trailing stop. The
// peak never moves down.
func (s *PositionStore) UpdateMaxSeenBid(marketTicker string, side types.Side, bid float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pos[posKey{marketTicker, side}]
	if !ok {
		return 0, fmt.Errorf("update max bid: no position %s/%s", marketTicker, side)
	}
	if bid <= p.MaxSeenBid {
		return p.MaxSeenBid, nil
	}
	p.MaxSeenBid = bid
	return bid, s.persistLocked()
}

// AggregateSide folds the given positions down to one side's totals:
// contract count, cost-weighted average entry, and total cost in dollars.
// Settled records are skipped. Cost is summed in decimal so repeated
// cent-level entries don't drift.
func AggregateSide(positions []types.Position, side types.Side) (int, float64, decimal.Decimal) {
	qty := 0
	cost := decimal.Zero
	for _, p := range positions {
		if p.Side != side || !p.Open() {
			continue
		}
		qty += p.Stake
		cost = cost.Add(decimal.NewFromFloat(p.EntryPrice).Mul(decimal.NewFromInt(int64(p.Stake))))
	}
	if qty == 0 {
		return 0, 0, decimal.Zero
	}
	avg, _ := cost.Div(decimal.NewFromInt(int64(qty))).Float64()
	return qty, avg, cost
}

// TotalExposure returns the cost basis of every open position, in dollars.
func (s *PositionStore) TotalExposure() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, p := range s.pos {
		if p.Open() {
			total = total.Add(decimal.NewFromFloat(p.EntryPrice).Mul(decimal.NewFromInt(int64(p.Stake))))
		}
	}
	return total
}

// EventExposure returns the open cost basis within one event, in dollars.
func (s *PositionStore) EventExposure(eventTicker string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, p := range s.pos {
		if p.EventTicker == eventTicker && p.Open() {
			total = total.Add(decimal.NewFromFloat(p.EntryPrice).Mul(decimal.NewFromInt(int64(p.Stake))))
		}
	}
	return total
}
