// Polymarket Market Maker — an automated market maker for a single
// Polymarket binary (YES/NO) prediction market.
//
// Architecture:
//
//	main.go                    — entry point: loads config, runs one supervised session, waits for SIGINT/SIGTERM
//	internal/supervisor        — per-round lifecycle: resolve slug, wire actors, run to deadline, rotate or exit
//	internal/market            — Gamma API slug resolution, prefix-slug window rotation
//	internal/ofi                — order-flow-imbalance toxicity engine (market data → OfiSnapshot)
//	internal/inventory         — tracks YES/NO positions, avg cost, pair-cost and exposure limits
//	internal/coordinator       — strategy coordinator: prices post-only bids from book + OFI + inventory
//	internal/executor          — places/cancels orders through the Polymarket SDK, tracks open bids
//	internal/userfeed          — authenticated user WebSocket feed, de-duplicated fill events
//	internal/exchange          — REST bootstrap client, L1/L2 auth, reconnecting WS transport, rate limiting
//
// How it makes money:
//
//	While flat, the bot posts post-only bids on both YES and NO at their
//	mids, lowered so the two bids sum to at most the configured pair target.
//	Once one side is held in excess, it bids only the other side, no higher
//	than the pair target minus the held side's average cost, so a completed
//	pair costs less than the $1 payoff. The inventory manager blocks new
//	exposure past its limits, and toxic order flow cancels both sides.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pairmm/internal/config"
	"pairmm/internal/exchange"
	"pairmm/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slogFatal("failed to load config", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		slogFatal("invalid config", "error", err)
	}

	logger := newLogger(*cfg)

	auth, err := exchange.NewAuth(*cfg)
	if err != nil {
		logger.Error("failed to build auth", "error", err)
		os.Exit(1)
	}

	sup := supervisor.New(*cfg, auth, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.CheckSafetyGates(ctx); err != nil {
		logger.Error("safety gate failed, refusing to start", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("polymarket market maker starting",
		"slug", cfg.Market.Slug,
		"pair_target", cfg.Coord.PairTarget,
		"bid_size", cfg.Coord.BidSize,
		"dry_run", cfg.DryRun,
	)

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("session exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
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

func slogFatal(msg string, args ...any) {
	slog.Default().Error(msg, args...)
	os.Exit(1)
}
