// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — markets, events,
// quotes, orders, positions, and the Kalshi wire payloads. It has no
// dependencies on internal packages, so it can be imported by any layer.
//
// Price conventions: the Kalshi API speaks integer cents (1..99); the engine
// speaks fractional dollars in [0, 1]. Conversion happens once, at the
// exchange adapter boundary. Everything above that boundary is fractional.
package types

import (
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the contract side an order or position is on. The engine is
// YES-only: exposure to the opposite outcome is held as YES on the opposite
// market of the same event.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Action is the order direction.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// OrderStatus is the terminal state of a submit-and-wait cycle.
type OrderStatus string

const (
	OrderFilled    OrderStatus = "filled"
	OrderPartial   OrderStatus = "partial"
	OrderCancelled OrderStatus = "cancelled"
	OrderTimeout   OrderStatus = "timeout"
)

// MarketStatus is the exchange's lifecycle state for a market.
type MarketStatus string

const (
	MarketActive  MarketStatus = "active"
	MarketClosed  MarketStatus = "closed"
	MarketSettled MarketStatus = "settled"
)

// Sport identifies a supported league. The matcher and the game-clock risk
// gates both key off it.
type Sport string

const (
	SportNBA     Sport = "nba"
	SportNCAAMBB Sport = "ncaam"
	SportNCAAWBB Sport = "ncaaw"
)

// FinalPeriod returns the regulation final period for the sport
// (halves for men's college, quarters for NBA and women's college).
func (s Sport) FinalPeriod() int {
	if s == SportNCAAMBB {
		return 2
	}
	return 4
}

// PeriodMinutes returns the regulation length of one period in minutes.
func (s Sport) PeriodMinutes() float64 {
	switch s {
	case SportNCAAMBB:
		return 20
	case SportNCAAWBB:
		return 10
	default:
		return 12
	}
}

// ————————————————————————————————————————————————————————————————————————
// Markets and events
// ————————————————————————————————————————————————————————————————————————

// Market is a single binary YES market on the exchange, normalized to
// fractional prices. A market with neither bid nor ask is untradeable.
type Market struct {
	Ticker      string // globally unique market ticker
	EventTicker string // parent event ticker
	Status      MarketStatus
	YesBid      float64 // best bid, fractional [0,1]; 0 = none
	YesAsk      float64 // best ask, fractional [0,1]; 0 = none
	Liquidity   float64 // resting dollar liquidity
	Volume24h   float64 // trailing 24h contract volume
	Title       string  // human-readable name, used by the fuzzy matcher
}

// Tradeable reports whether the market has at least one side of a book.
func (m Market) Tradeable() bool {
	return m.Status == MarketActive && (m.YesBid > 0 || m.YesAsk > 0)
}

// Mid returns the mid price, falling back to the single present side.
func (m Market) Mid() float64 {
	switch {
	case m.YesBid > 0 && m.YesAsk > 0:
		return (m.YesBid + m.YesAsk) / 2
	case m.YesAsk > 0:
		return m.YesAsk
	default:
		return m.YesBid
	}
}

// Spread returns ask−bid, or 0 when either side is missing.
func (m Market) Spread() float64 {
	if m.YesBid <= 0 || m.YesAsk <= 0 {
		return 0
	}
	return m.YesAsk - m.YesBid
}

// Event is one live sporting event on the exchange, carrying at most two
// binary YES markets (home win / away win).
type Event struct {
	EventTicker string
	Sport       Sport
	HomeTeam    string
	AwayTeam    string
	StartTime   time.Time
	Markets     []Market // home market first when both known
}

// GameClock is a score/clock snapshot attached to odds data.
type GameClock struct {
	Period      int     `json:"period"`       // 1-based; 0 = pregame
	MinutesLeft float64 `json:"minutes_left"` // minutes remaining in the current period
	HomeScore   int     `json:"home_score"`
	AwayScore   int     `json:"away_score"`
}

// InFinalPeriod reports whether the clock is in regulation's last period.
func (g GameClock) InFinalPeriod(sport Sport) bool {
	return g.Period >= sport.FinalPeriod()
}

// ProbSnapshot is a de-vigged probability pair for an event.
// HomeProb + AwayProb = 1. Fresh means the current strategy tick refreshed
// it; stale snapshots block new entries but not monitoring.
type ProbSnapshot struct {
	HomeProb float64
	AwayProb float64
	Clock    GameClock
	OddsTS   time.Time
	Fresh    bool
}

// ————————————————————————————————————————————————————————————————————————
// Quotes
// ————————————————————————————————————————————————————————————————————————

// Quote is a top-of-book update for one market, from the quote stream or a
// REST snapshot. Prices are fractional.
type Quote struct {
	MarketTicker string
	YesBid       float64
	YesAsk       float64
	Liquidity    float64
	Volume24h    float64
	ReceivedAt   time.Time
}

// Spread returns ask−bid, or 0 when either side is missing.
func (q Quote) Spread() float64 {
	if q.YesBid <= 0 || q.YesAsk <= 0 {
		return 0
	}
	return q.YesAsk - q.YesBid
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is the engine's high-level order intent. The exchange client
// converts it to the Kalshi wire shape (cents, client order id).
type OrderRequest struct {
	MarketTicker string
	Side         Side // always SideYes for this engine
	Action       Action
	Price        float64 // limit price, fractional
	Count        int     // contracts
}

// OrderResult is the outcome of a submit-and-wait cycle.
type OrderResult struct {
	OrderID     string
	Status      OrderStatus
	FilledCount int
	AvgPrice    float64 // volume-weighted fill price, fractional; 0 if unfilled
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// Position is the engine's fundamental unit of persistent state: an
// aggregated YES holding on one market. Multiple fills average into it.
type Position struct {
	EventTicker   string    `json:"event_ticker"`
	MarketTicker  string    `json:"market_ticker"`
	Side          Side      `json:"side"`
	Stake         int       `json:"stake"`       // contracts held
	EntryPrice    float64   `json:"entry_price"` // cost-weighted average, fractional
	EntryTime     time.Time `json:"entry_time"`
	LastFillTime  time.Time `json:"last_fill_time"`
	LastFillPrice float64   `json:"last_fill_price,omitempty"` // most recent fill, not the average

	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	MaxSeenBid float64 `json:"max_seen_bid,omitempty"`

	Settled            bool      `json:"settled"`
	ClosingInProgress  bool      `json:"closing_in_progress"`
	ClosingInitiatedAt time.Time `json:"closing_initiated_at,omitempty"`
}

// Open reports whether the position still counts toward exposure.
func (p Position) Open() bool {
	return !p.Settled && p.Stake > 0
}

// CostBasis returns stake × entry price in dollars.
func (p Position) CostBasis() float64 {
	return float64(p.Stake) * p.EntryPrice
}

// LivePosition is the canonical form of an exchange-reported position,
// produced by the adapter's normalization (see exchange.FetchLivePositions).
type LivePosition struct {
	MarketTicker string
	EventTicker  string
	Side         Side
	Contracts    int
	AvgPrice     float64 // fractional
}

// EventTickerFromMarket derives the parent event ticker from a market
// ticker when the exchange omits it: the first two hyphen-separated
// segments (e.g. "KXNBAGAME-26FEB04MEMSAC-MEM" → "KXNBAGAME-26FEB04MEMSAC").
func EventTickerFromMarket(marketTicker string) string {
	parts := strings.Split(marketTicker, "-")
	if len(parts) < 2 {
		return marketTicker
	}
	return parts[0] + "-" + parts[1]
}

// ————————————————————————————————————————————————————————————————————————
// Kalshi wire payloads
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the Kalshi trade API JSON. Prices on the wire
// are integer cents 1..99.

// WireMarket is a market as returned by GET /markets.
type WireMarket struct {
	Ticker      string  `json:"ticker"`
	EventTicker string  `json:"event_ticker"`
	Status      string  `json:"status"`
	YesBid      int     `json:"yes_bid"`
	YesAsk      int     `json:"yes_ask"`
	NoBid       int     `json:"no_bid"`
	NoAsk       int     `json:"no_ask"`
	Liquidity   float64 `json:"liquidity"`
	Volume24h   float64 `json:"volume_24h"`
	Title       string  `json:"title"`
}

// WireMarketsResponse is the body of GET /markets.
type WireMarketsResponse struct {
	Markets []WireMarket `json:"markets"`
	Cursor  string       `json:"cursor"`
}

// WireOrderRequest is the body of POST /portfolio/orders.
type WireOrderRequest struct {
	Ticker        string `json:"ticker"`
	Side          string `json:"side"`   // "yes" or "no"
	Action        string `json:"action"` // "buy" or "sell"
	Type          string `json:"type"`   // "limit"
	Count         int    `json:"count"`
	YesPrice      int    `json:"yes_price,omitempty"` // cents
	NoPrice       int    `json:"no_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

// WireOrder is an order as reported by the exchange.
type WireOrder struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // "resting", "executed", "canceled"
	Count          int    `json:"count"`
	RemainingCount int    `json:"remaining_count"`
	YesPrice       int    `json:"yes_price"`
	FilledCount    int    `json:"filled_count"`
	FilledAvgPrice int    `json:"filled_avg_price"` // cents
}

// WireOrderResponse wraps POST /portfolio/orders and GET /portfolio/orders/{id}.
type WireOrderResponse struct {
	Order WireOrder `json:"order"`
}

// WireMarketPosition is one entry of "market_positions" in
// GET /portfolio/positions. Position is signed: positive = YES contracts,
// negative = NO contracts. Exposure and traded totals are in cents.
type WireMarketPosition struct {
	Ticker             string `json:"ticker"`
	Position           int    `json:"position"`
	MarketExposure     int    `json:"market_exposure"`    // cents
	TotalTradedCents   int    `json:"total_traded"`       // cents
	TotalTradedCount   int    `json:"total_traded_count"` // contracts ever traded
	RestingOrdersCount int    `json:"resting_orders_count"`
}

// WireEventPosition is one entry of "event_positions" in the same response.
// Kalshi duplicates exposure at event granularity; the adapter uses these
// only to recover event tickers it cannot derive from a market ticker.
type WireEventPosition struct {
	EventTicker      string `json:"event_ticker"`
	EventExposure    int    `json:"event_exposure"`
	TotalCost        int    `json:"total_cost"`
	RealizedPnlCents int    `json:"realized_pnl"`
}

// WirePositionsResponse is the body of GET /portfolio/positions.
type WirePositionsResponse struct {
	MarketPositions []WireMarketPosition `json:"market_positions"`
	EventPositions  []WireEventPosition  `json:"event_positions"`
	Cursor          string               `json:"cursor"`
}

// WireBalanceResponse is the body of GET /portfolio/balance (cents).
type WireBalanceResponse struct {
	Balance int `json:"balance"`
}

// ————————————————————————————————————————————————————————————————————————
// Quote stream messages
// ————————————————————————————————————————————————————————————————————————

// WSCommand is sent to the quote stream to manage subscriptions.
type WSCommand struct {
	ID     int             `json:"id"`
	Cmd    string          `json:"cmd"` // "subscribe", "unsubscribe", "update_subscription"
	Params WSCommandParams `json:"params"`
}

// WSCommandParams carries the channel and ticker set for a WSCommand.
type WSCommandParams struct {
	Channels      []string `json:"channels,omitempty"`
	MarketTickers []string `json:"market_tickers,omitempty"`
	SIDs          []int    `json:"sids,omitempty"`
	Action        string   `json:"action,omitempty"` // "add_markets", "delete_markets"
}

// WSEnvelope is the outer frame of every stream message.
type WSEnvelope struct {
	Type string `json:"type"` // "ticker_v2", "subscribed", "error", ...
	SID  int    `json:"sid"`
}

// WSTicker is a top-of-book update on the "ticker_v2" channel (cents).
// Volume arrives as a per-trade increment, not a running total.
type WSTicker struct {
	MarketTicker string  `json:"market_ticker"`
	YesBid       int     `json:"yes_bid"`
	YesAsk       int     `json:"yes_ask"`
	VolumeDelta  float64 `json:"volume_delta"`
	Liquidity    float64 `json:"dollar_open_interest"`
	Timestamp    int64   `json:"ts"`
}

// WSTickerMsg is the full ticker_v2 frame.
type WSTickerMsg struct {
	Type string   `json:"type"`
	SID  int      `json:"sid"`
	Msg  WSTicker `json:"msg"`
}

// WSSubscribedMsg acknowledges a subscribe command.
type WSSubscribedMsg struct {
	Type string `json:"type"`
	ID   int    `json:"id"`
	Msg  struct {
		Channel string `json:"channel"`
		SID     int    `json:"sid"`
	} `json:"msg"`
}
