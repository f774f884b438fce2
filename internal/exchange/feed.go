// feed.go implements the real-time quote stream.
//
// One authenticated WebSocket connection subscribes to top-of-book updates
// ("ticker_v2") for the union of tickers the engine cares about: every
// market with an open position plus every actively matched market. Updates
// land in the price cache; workers read quotes from the cache and fall back
// to REST when an entry is stale.
//
// The feed auto-reconnects with exponential backoff (1s → 30s max) and
// re-subscribes to the full tracked set on reconnection. A read deadline
// catches silent server failures within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kalshi-arb/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
)

// Feed manages the quote stream connection: lifecycle, subscription
// tracking, and routing updates into the price cache.
type Feed struct {
	url    string
	auth   *Auth
	cache  *PriceCache
	logger *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	subMu      sync.Mutex
	subscribed map[string]bool // market tickers we want updates for
	sid        int             // subscription id assigned by the server
	nextCmdID  int
}

// NewFeed creates a quote stream feed writing into cache.
func NewFeed(wsURL string, auth *Auth, cache *PriceCache, logger *slog.Logger) *Feed {
	return &Feed{
		url:        wsURL,
		auth:       auth,
		cache:      cache,
		subscribed: make(map[string]bool),
		nextCmdID:  1,
		logger:     logger.With("component", "ws_feed"),
	}
}

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// SyncSubscriptions replaces the tracked ticker set with want, sending
// add/delete deltas on the live subscription. Safe to call every tick; a
// no-change sync sends nothing.
func (f *Feed) SyncSubscriptions(want []string) error {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	wantSet := make(map[string]bool, len(want))
	for _, t := range want {
		wantSet[t] = true
	}

	var add, del []string
	for t := range wantSet {
		if !f.subscribed[t] {
			add = append(add, t)
		}
	}
	for t := range f.subscribed {
		if !wantSet[t] {
			del = append(del, t)
		}
	}
	f.subscribed = wantSet

	if len(add) == 0 && len(del) == 0 {
		return nil
	}
	// Unconnected: the next (re)connect subscribes the full set.
	if !f.connected() {
		return nil
	}

	if len(add) > 0 {
		if err := f.updateSubscription("add_markets", add); err != nil {
			return err
		}
	}
	if len(del) > 0 {
		if err := f.updateSubscription("delete_markets", del); err != nil {
			return err
		}
	}
	return nil
}

func (f *Feed) connected() bool {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	return f.conn != nil
}

// updateSubscription sends one delta command. Caller holds subMu.
func (f *Feed) updateSubscription(action string, tickers []string) error {
	cmd := types.WSCommand{
		ID:  f.nextCmdID,
		Cmd: "update_subscription",
		Params: types.WSCommandParams{
			SIDs:          []int{f.sid},
			MarketTickers: tickers,
			Action:        action,
		},
	}
	f.nextCmdID++
	return f.writeJSON(cmd)
}

// Close gracefully closes the connection.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	// The stream authenticates with the same signed headers as REST.
	headers, err := f.auth.Headers(http.MethodGet, "/trade-api/ws/v2", time.Now())
	if err != nil {
		return fmt.Errorf("ws auth: %w", err)
	}
	hdr := http.Header{}
	for k, v := range headers {
		hdr.Set(k, v)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, hdr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if server goes silent
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *Feed) sendInitialSubscription() error {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	tickers := make([]string, 0, len(f.subscribed))
	for t := range f.subscribed {
		tickers = append(tickers, t)
	}
	if len(tickers) == 0 {
		return nil
	}

	cmd := types.WSCommand{
		ID:  f.nextCmdID,
		Cmd: "subscribe",
		Params: types.WSCommandParams{
			Channels:      []string{"ticker_v2"},
			MarketTickers: tickers,
		},
	}
	f.nextCmdID++
	return f.writeJSON(cmd)
}

func (f *Feed) dispatchMessage(data []byte) {
	var envelope types.WSEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.Type {
	case "ticker_v2", "ticker":
		var msg types.WSTickerMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Error("unmarshal ticker", "error", err)
			return
		}
		f.cache.Apply(types.Quote{
			MarketTicker: msg.Msg.MarketTicker,
			YesBid:       fromCents(msg.Msg.YesBid),
			YesAsk:       fromCents(msg.Msg.YesAsk),
			Liquidity:    msg.Msg.Liquidity,
			ReceivedAt:   time.Now(),
		}, msg.Msg.VolumeDelta)

	case "subscribed":
		var msg types.WSSubscribedMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Error("unmarshal subscribed ack", "error", err)
			return
		}
		f.subMu.Lock()
		f.sid = msg.Msg.SID
		f.subMu.Unlock()
		f.logger.Info("subscribed", "channel", msg.Msg.Channel, "sid", msg.Msg.SID)

	case "error":
		f.logger.Warn("ws error frame", "data", string(data))

	default:
		f.logger.Debug("ignoring ws event", "type", envelope.Type)
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
