// Package odds adapts the sportsbook odds aggregator: live event
// discovery, moneyline fetches, and de-vigged probability snapshots.
//
// The aggregator meters requests hard, so every call goes through a shared
// rate limiter (one request per configured interval, 100ms floor). A
// failed or throttled fetch never destroys state: callers keep the prior
// snapshot and staleness shows in its OddsTS.
package odds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"kalshi-arb/internal/config"
	"kalshi-arb/internal/pricing"
	"kalshi-arb/pkg/types"
)

// ErrThrottled is returned when the aggregator rejects a request for rate
// or quota reasons. Callers back off and reuse their prior snapshot.
var ErrThrottled = errors.New("odds provider throttled")

// providerSportKeys maps league names to the aggregator's sport keys.
var providerSportKeys = map[types.Sport]string{
	types.SportNBA:     "basketball_nba",
	types.SportNCAAMBB: "basketball_ncaab",
	types.SportNCAAWBB: "basketball_wncaab",
}

// GameInfo is one live event as reported by the aggregator.
type GameInfo struct {
	EventID   string
	Sport     types.Sport
	HomeTeam  string
	AwayTeam  string
	StartTime time.Time
	Clock     types.GameClock
}

// Client talks to the odds aggregator REST API.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	kernel  *pricing.Kernel
	apiKey  string
	logger  *slog.Logger
}

// NewClient creates an odds client. Requests are spaced at least
// cfg.MinInterval apart (floor 100ms) regardless of how many workers call
// in.
func NewClient(cfg config.OddsConfig, kernel *pricing.Kernel, logger *slog.Logger) *Client {
	minInterval := cfg.MinInterval
	if minInterval < 100*time.Millisecond {
		minInterval = 100 * time.Millisecond
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		kernel:  kernel,
		apiKey:  cfg.APIKey,
		logger:  logger.With("component", "odds"),
	}
}

type wireScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type wireEvent struct {
	ID           string          `json:"id"`
	SportKey     string          `json:"sport_key"`
	CommenceTime time.Time       `json:"commence_time"`
	HomeTeam     string          `json:"home_team"`
	AwayTeam     string          `json:"away_team"`
	Completed    bool            `json:"completed"`
	Scores       []wireScore     `json:"scores"`
	Period       int             `json:"period"`
	MinutesLeft  float64         `json:"minutes_remaining"`
}

type wireOutcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"` // decimal odds
}

type wireBookMarket struct {
	Key      string        `json:"key"`
	Outcomes []wireOutcome `json:"outcomes"`
}

type wireBookmaker struct {
	Key     string           `json:"key"`
	Markets []wireBookMarket `json:"markets"`
}

type wireEventOdds struct {
	ID         string          `json:"id"`
	HomeTeam   string          `json:"home_team"`
	AwayTeam   string          `json:"away_team"`
	Bookmakers []wireBookmaker `json:"bookmakers"`
}

// ListEvents returns the live, uncompleted events for one sport.
func (c *Client) ListEvents(ctx context.Context, sport types.Sport) ([]GameInfo, error) {
	key, ok := providerSportKeys[sport]
	if !ok {
		return nil, fmt.Errorf("list events: unsupported sport %q", sport)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var events []wireEvent
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("apiKey", c.apiKey).
		SetQueryParam("dateFormat", "iso").
		SetResult(&events).
		Get("/v4/sports/" + key + "/scores")
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, fmt.Errorf("list events: %w", ErrThrottled)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("list events: status %d: %s", resp.StatusCode(), resp.String())
	}

	var out []GameInfo
	for _, ev := range events {
		if ev.Completed {
			continue
		}
		game := GameInfo{
			EventID:   ev.ID,
			Sport:     sport,
			HomeTeam:  ev.HomeTeam,
			AwayTeam:  ev.AwayTeam,
			StartTime: ev.CommenceTime,
			Clock: types.GameClock{
				Period:      ev.Period,
				MinutesLeft: ev.MinutesLeft,
			},
		}
		for _, s := range ev.Scores {
			switch s.Name {
			case ev.HomeTeam:
				game.Clock.HomeScore = s.Score
			case ev.AwayTeam:
				game.Clock.AwayScore = s.Score
			}
		}
		out = append(out, game)
	}
	return out, nil
}

// EventMoneyline fetches the h2h odds for one event, converts decimal odds
// to implied probabilities, and de-vigs them into a fair pair. The first
// bookmaker carrying a two-outcome h2h market wins.
func (c *Client) EventMoneyline(ctx context.Context, game GameInfo) (homeProb, awayProb float64, err error) {
	key, ok := providerSportKeys[game.Sport]
	if !ok {
		return 0, 0, fmt.Errorf("moneyline: unsupported sport %q", game.Sport)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, 0, err
	}

	var result wireEventOdds
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("apiKey", c.apiKey).
		SetQueryParam("markets", "h2h").
		SetQueryParam("oddsFormat", "decimal").
		SetResult(&result).
		Get("/v4/sports/" + key + "/events/" + game.EventID + "/odds")
	if err != nil {
		return 0, 0, fmt.Errorf("moneyline: %w", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return 0, 0, fmt.Errorf("moneyline: %w", ErrThrottled)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, 0, fmt.Errorf("moneyline: status %d: %s", resp.StatusCode(), resp.String())
	}

	homeDec, awayDec, found := moneylinePair(result, game.HomeTeam, game.AwayTeam)
	if !found {
		return 0, 0, fmt.Errorf("moneyline: no h2h odds for event %s", game.EventID)
	}
	if homeDec <= 1 || awayDec <= 1 {
		return 0, 0, fmt.Errorf("moneyline: degenerate odds %v/%v for event %s", homeDec, awayDec, game.EventID)
	}

	homeProb, awayProb = c.kernel.DeVig(1/homeDec, 1/awayDec)
	return homeProb, awayProb, nil
}

func moneylinePair(ev wireEventOdds, home, away string) (homeDec, awayDec float64, ok bool) {
	for _, bk := range ev.Bookmakers {
		for _, m := range bk.Markets {
			if m.Key != "h2h" {
				continue
			}
			var h, a float64
			for _, o := range m.Outcomes {
				switch o.Name {
				case home:
					h = o.Price
				case away:
					a = o.Price
				}
			}
			if h > 0 && a > 0 {
				return h, a, true
			}
		}
	}
	return 0, 0, false
}
