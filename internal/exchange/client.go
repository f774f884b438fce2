// Package exchange implements the Kalshi trade API: REST order management
// and the WebSocket quote stream.
//
// The REST client (Client) covers:
//   - ListMarkets:   GET    /trade-api/v2/markets              — markets by event or series
//   - GetMarket:     GET    /trade-api/v2/markets/{ticker}     — single market snapshot
//   - PlaceOrder:    POST   /trade-api/v2/portfolio/orders     — limit order, cents
//   - GetOrder:      GET    /trade-api/v2/portfolio/orders/{id}
//   - CancelOrder:   DELETE /trade-api/v2/portfolio/orders/{id}
//   - GetPositions:  GET    /trade-api/v2/portfolio/positions
//   - GetBalance:    GET    /trade-api/v2/portfolio/balance
//
// Every request is rate-limited via per-category TokenBuckets, retried on
// 5xx, and signed with the account's RSA key. The API speaks integer cents;
// conversion to the engine's fractional prices happens here and nowhere
// else.
//
// The live-orders toggle is enforced at this layer: when it is off, every
// mutating method logs a preview and returns a synthetic fill without
// touching the network. No code path above this layer can place a real
// order in dry-run mode.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kalshi-arb/internal/config"
	"kalshi-arb/pkg/types"
)

const apiPrefix = "/trade-api/v2"

// ErrOrderNotFound is returned by GetOrder and CancelOrder when the
// exchange no longer knows the order id. Callers combine it with a
// positions check: a vanished order that left a position behind was filled.
var ErrOrderNotFound = errors.New("order not found")

// ErrRateLimited is returned on a 429 so callers can back off and retry
// instead of treating the response as fatal.
var ErrRateLimited = errors.New("rate limited")

// Client is the Kalshi trade API REST client.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	live   bool // when false, mutating methods preview instead of placing
	logger *slog.Logger

	dryMu    sync.Mutex
	dryFills map[string]*types.OrderResult // synthetic fills by order id
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.Exchange.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:     httpClient,
		auth:     auth,
		rl:       NewRateLimiter(),
		live:     cfg.LiveOrders,
		logger:   logger,
		dryFills: make(map[string]*types.OrderResult),
	}
}

// Live reports whether the client will place real orders.
func (c *Client) Live() bool { return c.live }

func fromCents(cents int) float64 {
	return float64(cents) / 100
}

func toCents(price float64) int {
	return int(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(100)).Round(0).IntPart())
}

func (c *Client) signed(ctx context.Context, method, path string) (*resty.Request, error) {
	headers, err := c.auth.Headers(method, path, time.Now())
	if err != nil {
		return nil, err
	}
	return c.http.R().SetContext(ctx).SetHeaders(headers), nil
}

func marketFromWire(w types.WireMarket) types.Market {
	return types.Market{
		Ticker:      w.Ticker,
		EventTicker: w.EventTicker,
		Status:      types.MarketStatus(w.Status),
		YesBid:      fromCents(w.YesBid),
		YesAsk:      fromCents(w.YesAsk),
		Liquidity:   w.Liquidity,
		Volume24h:   w.Volume24h,
		Title:       w.Title,
	}
}

// ListMarkets fetches all markets under one event or series ticker,
// following pagination cursors. Exactly one of the tickers should be set.
func (c *Client) ListMarkets(ctx context.Context, eventTicker, seriesTicker string) ([]types.Market, error) {
	path := apiPrefix + "/markets"
	var markets []types.Market
	cursor := ""

	for {
		if err := c.rl.Market.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := c.signed(ctx, http.MethodGet, path)
		if err != nil {
			return nil, fmt.Errorf("list markets: %w", err)
		}
		if eventTicker != "" {
			req.SetQueryParam("event_ticker", eventTicker)
		}
		if seriesTicker != "" {
			req.SetQueryParam("series_ticker", seriesTicker)
		}
		req.SetQueryParam("status", "open")
		req.SetQueryParam("limit", "200")
		if cursor != "" {
			req.SetQueryParam("cursor", cursor)
		}

		var result types.WireMarketsResponse
		resp, err := req.SetResult(&result).Get(path)
		if err != nil {
			return nil, fmt.Errorf("list markets: %w", err)
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			return nil, fmt.Errorf("list markets: %w", ErrRateLimited)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("list markets: status %d: %s", resp.StatusCode(), resp.String())
		}

		for _, w := range result.Markets {
			markets = append(markets, marketFromWire(w))
		}
		if result.Cursor == "" {
			return markets, nil
		}
		cursor = result.Cursor
	}
}

// GetMarket fetches one market by ticker. Used as the REST fallback when
// the quote stream has no fresh entry.
func (c *Client) GetMarket(ctx context.Context, ticker string) (*types.Market, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}
	path := apiPrefix + "/markets/" + ticker
	req, err := c.signed(ctx, http.MethodGet, path)
	if err != nil {
		return nil, fmt.Errorf("get market: %w", err)
	}

	var result struct {
		Market types.WireMarket `json:"market"`
	}
	resp, err := req.SetResult(&result).Get(path)
	if err != nil {
		return nil, fmt.Errorf("get market: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("get market %s: not found", ticker)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get market: status %d: %s", resp.StatusCode(), resp.String())
	}
	m := marketFromWire(result.Market)
	return &m, nil
}

// PlaceOrder submits one limit order. In dry-run mode it logs a preview
// and returns a synthetic immediate fill so paper trading exercises the
// full strategy path.
func (c *Client) PlaceOrder(ctx context.Context, order types.OrderRequest) (*types.OrderResult, error) {
	clientID := uuid.NewString()

	if !c.live {
		c.logger.Info("DRY-RUN: would place order",
			"market", order.MarketTicker,
			"side", order.Side,
			"action", order.Action,
			"price", order.Price,
			"count", order.Count,
		)
		res := &types.OrderResult{
			OrderID:     "dry-run-" + clientID,
			Status:      types.OrderFilled,
			FilledCount: order.Count,
			AvgPrice:    order.Price,
		}
		c.dryMu.Lock()
		c.dryFills[res.OrderID] = res
		c.dryMu.Unlock()
		return res, nil
	}

	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}
	path := apiPrefix + "/portfolio/orders"
	req, err := c.signed(ctx, http.MethodPost, path)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	wire := types.WireOrderRequest{
		Ticker:        order.MarketTicker,
		Side:          string(order.Side),
		Action:        string(order.Action),
		Type:          "limit",
		Count:         order.Count,
		ClientOrderID: clientID,
	}
	cents := toCents(order.Price)
	if order.Side == types.SideYes {
		wire.YesPrice = cents
	} else {
		wire.NoPrice = cents
	}

	var result types.WireOrderResponse
	resp, err := req.SetBody(wire).SetResult(&result).Post(path)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("order placed",
		"order_id", result.Order.OrderID,
		"market", order.MarketTicker,
		"action", order.Action,
		"price", order.Price,
		"count", order.Count,
	)
	return orderResultFromWire(result.Order), nil
}

// GetOrder fetches current order state. Returns ErrOrderNotFound on 404.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*types.OrderResult, error) {
	if err := c.rl.Portfolio.Wait(ctx); err != nil {
		return nil, err
	}
	path := apiPrefix + "/portfolio/orders/" + orderID
	req, err := c.signed(ctx, http.MethodGet, path)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	var result types.WireOrderResponse
	resp, err := req.SetResult(&result).Get(path)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("get order %s: %w", orderID, ErrOrderNotFound)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return orderResultFromWire(result.Order), nil
}

// CancelOrder cancels a resting order. Some deployments reject DELETE on
// this route; a POST to the cancel subresource is the fallback.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if !c.live {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return err
	}

	path := apiPrefix + "/portfolio/orders/" + orderID
	req, err := c.signed(ctx, http.MethodDelete, path)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	resp, err := req.Delete(path)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("cancel order %s: %w", orderID, ErrOrderNotFound)
	case http.StatusMethodNotAllowed:
		// fall through to the POST form below
	default:
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}

	cancelPath := path + "/cancel"
	req, err = c.signed(ctx, http.MethodPost, cancelPath)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	resp, err = req.Post(cancelPath)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func orderResultFromWire(w types.WireOrder) *types.OrderResult {
	res := &types.OrderResult{
		OrderID:     w.OrderID,
		FilledCount: w.FilledCount,
		AvgPrice:    fromCents(w.FilledAvgPrice),
	}
	switch {
	case w.Status == "executed" || (w.Count > 0 && w.FilledCount >= w.Count):
		res.Status = types.OrderFilled
	case w.Status == "canceled" && w.FilledCount > 0:
		res.Status = types.OrderPartial
	case w.Status == "canceled":
		res.Status = types.OrderCancelled
	default:
		// resting or pending
		res.Status = types.OrderTimeout
	}
	return res
}

// GetBalance returns available cash in dollars.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	if err := c.rl.Portfolio.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	path := apiPrefix + "/portfolio/balance"
	req, err := c.signed(ctx, http.MethodGet, path)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}

	var result types.WireBalanceResponse
	resp, err := req.SetResult(&result).Get(path)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("get balance: status %d: %s", resp.StatusCode(), resp.String())
	}
	return decimal.NewFromInt(int64(result.Balance)).Div(decimal.NewFromInt(100)), nil
}

// FetchLivePositions returns the exchange's view of every open position,
// normalized to (market, side, contracts, fractional avg price, event).
// Kalshi reports one signed contract count per market: positive is YES,
// negative is NO.
func (c *Client) FetchLivePositions(ctx context.Context) ([]types.LivePosition, error) {
	if err := c.rl.Portfolio.Wait(ctx); err != nil {
		return nil, err
	}
	path := apiPrefix + "/portfolio/positions"
	req, err := c.signed(ctx, http.MethodGet, path)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	var result types.WirePositionsResponse
	resp, err := req.SetResult(&result).Get(path)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch positions: status %d: %s", resp.StatusCode(), resp.String())
	}

	return NormalizePositions(result), nil
}

// NormalizePositions converts the wire positions payload into the canonical
// form. Average entry price prefers lifetime traded value over current
// exposure: exposure moves with the mark, traded value does not.
func NormalizePositions(w types.WirePositionsResponse) []types.LivePosition {
	var out []types.LivePosition
	for _, mp := range w.MarketPositions {
		if mp.Position == 0 {
			continue
		}
		side := types.SideYes
		contracts := mp.Position
		if contracts < 0 {
			side = types.SideNo
			contracts = -contracts
		}

		var avg float64
		switch {
		case mp.TotalTradedCount > 0:
			avg = fromCents(mp.TotalTradedCents) / float64(mp.TotalTradedCount)
		case mp.MarketExposure != 0:
			avg = fromCents(mp.MarketExposure) / float64(contracts)
		}

		out = append(out, types.LivePosition{
			MarketTicker: mp.Ticker,
			EventTicker:  types.EventTickerFromMarket(mp.Ticker),
			Side:         side,
			Contracts:    contracts,
			AvgPrice:     avg,
		})
	}
	return out
}
