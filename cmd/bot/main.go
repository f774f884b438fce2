// Kalshi basketball arbitrage bot: prices live NBA and college basketball
// markets against de-vigged sportsbook odds and trades the mispricing.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires components, handles shutdown
//	engine/              — worker loops: strategy (discover, price, enter, hedge),
//	                       stop-loss/exit, and display
//	pricing/             — de-vig kernel, Kalshi fee model, EV, Kelly, maker-vs-taker
//	odds/                — sportsbook aggregator client and probability snapshots
//	match/               — sportsbook game → exchange event/market resolution
//	exchange/            — Kalshi trade API client, WebSocket ticker feed, auth
//	risk/                — pre-trade gate: every order passes or is vetoed with a reason
//	hedge/               — opposite-side quantity band that locks a minimum return
//	protect/             — hedged-pair profit protection and forced exits
//	store/               — JSON persistence for positions, event locks, cooldowns
//	api/                 — read-only web dashboard (snapshot endpoint + WebSocket push)
//
// Orders are dry-run unless LIVE_ORDERS=yes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kalshi-arb/internal/api"
	"kalshi-arb/internal/config"
	"kalshi-arb/internal/engine"
	"kalshi-arb/internal/exchange"
	"kalshi-arb/internal/hedge"
	"kalshi-arb/internal/match"
	"kalshi-arb/internal/odds"
	"kalshi-arb/internal/pricing"
	"kalshi-arb/internal/protect"
	"kalshi-arb/internal/risk"
	"kalshi-arb/internal/store"
)

const (
	matchCacheTTL   = 30 * time.Minute
	matchRetryDelay = 2 * time.Second
)

// oddsProvider joins the aggregator client (game listings) with the
// snapshot service (cached de-vigged probabilities).
type oddsProvider struct {
	*odds.Client
	*odds.Service
}

// quoteSource joins the price cache (reads) with the WebSocket feed
// (subscription management).
type quoteSource struct {
	*exchange.PriceCache
	*exchange.Feed
}

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfgPath := flag.String("config", defaultConfigPath(), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auth, err := exchange.NewAuth(cfg.Exchange)
	if err != nil {
		logger.Error("failed to load exchange credentials", "error", err)
		os.Exit(1)
	}
	client := exchange.NewClient(*cfg, auth, logger)

	cache := exchange.NewPriceCache(cfg.Exchange.StaleQuoteSecs)
	feed := exchange.NewFeed(cfg.Exchange.WSURL, auth, cache, logger)

	kernel := pricing.NewKernel(cfg.Pricing)
	oddsClient := odds.NewClient(cfg.Odds, kernel, logger)
	oddsService := odds.NewService(oddsClient, logger)

	matcher := match.NewMatcher(client, matchCacheTTL, matchRetryDelay, logger)

	positions, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open position store", "error", err)
		os.Exit(1)
	}
	state, err := store.OpenState(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open state store", "error", err)
		os.Exit(1)
	}

	eng := engine.New(*cfg, engine.Deps{
		Kernel:    kernel,
		Positions: positions,
		State:     state,
		Gate:      risk.NewGate(cfg.Risk, positions, state, logger),
		Planner:   hedge.NewPlanner(cfg.Hedge, logger),
		Protector: protect.NewProtector(cfg.Protect, logger),
		Exchange:  client,
		Odds:      oddsProvider{oddsClient, oddsService},
		Matcher:   matcher,
		Quotes:    quoteSource{cache, feed},
	}, logger)

	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("market feed stopped", "error", err)
		}
	}()

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(*cfg, eng, logger)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if !cfg.LiveOrders {
		logger.Warn("DRY-RUN MODE — no real orders will be placed (set LIVE_ORDERS=yes to trade)")
	}
	logger.Info("kalshi arb bot started",
		"sports", cfg.Odds.Sports,
		"devig", cfg.Pricing.Devig,
		"max_stake_pct", cfg.Risk.MaxStakePct,
		"live_orders", cfg.LiveOrders,
	)

	runErr := eng.Run(ctx)

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}
	if runErr != nil {
		logger.Error("engine exited with error", "error", runErr)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("KALSHI_CONFIG"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
