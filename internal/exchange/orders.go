package exchange

import (
	"context"
	"errors"
	"strings"
	"time"

	"kalshi-arb/pkg/types"
)

const fillPollInterval = time.Second

// WaitForFill polls an order until it fills or the timeout lapses.
//
// On timeout the order is cancelled best-effort and whatever filled in the
// interim is reported (OrderPartial when nonzero). A 404 on the order id
// combined with a live position in the market means the order executed and
// aged out of the books, so it counts as filled.
func (c *Client) WaitForFill(ctx context.Context, orderID, marketTicker string, side types.Side, timeout time.Duration) (*types.OrderResult, error) {
	if strings.HasPrefix(orderID, "dry-run-") {
		// Dry-run orders fill at placement; replay the synthetic fill.
		c.dryMu.Lock()
		res, ok := c.dryFills[orderID]
		c.dryMu.Unlock()
		if ok {
			return res, nil
		}
		return &types.OrderResult{OrderID: orderID, Status: types.OrderFilled}, nil
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	var last *types.OrderResult
	for {
		res, err := c.GetOrder(ctx, orderID)
		switch {
		case errors.Is(err, ErrOrderNotFound):
			if c.positionExists(ctx, marketTicker, side) {
				c.logger.Info("order aged out with live position, treating as filled",
					"order_id", orderID, "market", marketTicker)
				return &types.OrderResult{OrderID: orderID, Status: types.OrderFilled}, nil
			}
			return &types.OrderResult{OrderID: orderID, Status: types.OrderCancelled}, nil
		case err != nil:
			return nil, err
		}
		last = res

		if res.Status == types.OrderFilled || res.Status == types.OrderCancelled || res.Status == types.OrderPartial {
			return res, nil
		}
		if time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	// Timed out resting. Cancel, then report interim fills.
	if err := c.CancelOrder(ctx, orderID); err != nil && !errors.Is(err, ErrOrderNotFound) {
		c.logger.Warn("cancel after timeout failed", "order_id", orderID, "error", err)
	}
	if res, err := c.GetOrder(ctx, orderID); err == nil {
		last = res
	}

	out := &types.OrderResult{OrderID: orderID, Status: types.OrderTimeout}
	if last != nil && last.FilledCount > 0 {
		out.Status = types.OrderPartial
		out.FilledCount = last.FilledCount
		out.AvgPrice = last.AvgPrice
	}
	return out, nil
}

func (c *Client) positionExists(ctx context.Context, marketTicker string, side types.Side) bool {
	live, err := c.FetchLivePositions(ctx)
	if err != nil {
		c.logger.Warn("position check failed", "error", err)
		return false
	}
	for _, lp := range live {
		if lp.MarketTicker == marketTicker && lp.Side == side && lp.Contracts > 0 {
			return true
		}
	}
	return false
}
