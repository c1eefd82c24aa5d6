// Package supervisor owns the per-market session lifecycle: resolving the
// current slug, wiring the five actors together with matched channels,
// running the market WebSocket loop against a wall-clock deadline, and
// tearing everything down cleanly (or rotating onto the next window, for a
// prefix slug) when the round ends.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	polymarket "github.com/GoPolymarket/polymarket-go-sdk"
	sdkauth "github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"

	"pairmm/internal/config"
	"pairmm/internal/coordinator"
	"pairmm/internal/exchange"
	"pairmm/internal/executor"
	"pairmm/internal/inventory"
	"pairmm/internal/market"
	"pairmm/internal/messages"
	"pairmm/internal/ofi"
	"pairmm/internal/userfeed"
	"pairmm/pkg/types"
)

const (
	fillFanoutBuffer = 64
	execBuffer       = 16
	resultBuffer     = 8

	// shutdownGrace is how long the supervisor waits after emitting
	// CancelAll{MarketExpired} before aborting the actor tasks outright.
	shutdownGrace = 1200 * time.Millisecond

	// resolveRetryBackoff is the fixed delay between failed slug
	// resolution attempts.
	resolveRetryBackoff = 3 * time.Second

	// prefixRoundPause separates consecutive rounds in prefix mode so the
	// next window's resolve call doesn't race the venue's own rollover.
	prefixRoundPause = 2 * time.Second
)

// Supervisor runs market-making sessions, one market round at a time.
type Supervisor struct {
	cfg      config.Config
	resolver *market.Resolver
	auth     *exchange.Auth
	client   *exchange.Client
	rl       *exchange.RateLimiter
	logger   *slog.Logger
}

// New constructs a Supervisor. auth must be fully built (private key parsed)
// before this call — NewAuth can fail on a malformed key and the caller
// should treat that as a startup safety-gate failure, not a session error.
func New(cfg config.Config, auth *exchange.Auth, logger *slog.Logger) *Supervisor {
	logger = logger.With("component", "supervisor")
	return &Supervisor{
		cfg:      cfg,
		resolver: market.NewResolver(cfg.Market.GammaURL, logger),
		auth:     auth,
		client:   exchange.NewClient(cfg, auth, logger),
		rl:       exchange.NewRateLimiter(),
		logger:   logger,
	}
}

// CheckSafetyGates enforces the live-mode startup safety requirements:
// refuse to run live without a private key, or without the ability to derive
// or already hold L2 credentials. The market slug is checked by
// config.Validate, not here.
// Running live without the authenticated fill stream would place real
// orders with no inventory updates, so credential failure is fatal here
// rather than degrading to a partially-blind session.
func (s *Supervisor) CheckSafetyGates(ctx context.Context) error {
	if s.cfg.DryRun {
		return nil
	}
	if s.cfg.Wallet.PrivateKey == "" {
		return fmt.Errorf("safety gate: no private key configured for a live session")
	}
	if !s.auth.HasL2Credentials() {
		if _, err := s.client.DeriveAPIKey(ctx); err != nil {
			return fmt.Errorf("safety gate: failed to derive L2 API credentials: %w", err)
		}
	}
	return nil
}

// Run drives sessions until ctx is cancelled. A fixed slug runs exactly one
// round and returns when the market ends; a prefix slug loops, rotating
// onto the next window after each round.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slug := s.cfg.Market.Slug
		isPrefix := market.IsPrefixSlug(slug)
		if isPrefix {
			interval := market.WindowInterval(slug)
			slug = market.CurrentWindowSlug(slug, interval, time.Now())
		}

		if err := s.runRound(ctx, slug); err != nil {
			s.logger.Error("session round failed", "slug", slug, "err", err)
			if !isPrefix {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(resolveRetryBackoff):
			}
			continue
		}

		if !isPrefix {
			s.logger.Info("fixed-slug session complete, exiting", "slug", slug)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(prefixRoundPause):
		}
	}
}

// runRound executes one complete market round: resolve, wire, run until
// deadline or ctx cancellation, then tear down.
func (s *Supervisor) runRound(ctx context.Context, slug string) error {
	info, err := s.resolveWithRetry(ctx, slug)
	if err != nil {
		return err
	}

	roundCtx, cancelRound := context.WithCancel(ctx)
	defer cancelRound()

	deadline := info.EndDate
	if deadline.IsZero() {
		deadline = time.Now().Add(24 * time.Hour)
	}
	s.logger.Info("starting session round",
		"slug", info.Slug, "condition_id", info.ConditionID, "deadline", deadline)

	fillInCh := make(chan messages.FillEvent, fillFanoutBuffer)
	fillToInventory := make(chan messages.FillEvent, fillFanoutBuffer)
	fillToExecutor := make(chan messages.FillEvent, fillFanoutBuffer)
	resultCh := make(chan messages.OrderResult, resultBuffer)

	marketFeed := exchange.NewMarketFeed(s.cfg.Market.WSBaseURL+"/market", info.YesTokenID, info.NoTokenID, s.logger)

	ofiCfg := ofi.Config{
		WindowDuration:    s.cfg.OFIWindowDuration(),
		ToxicityThreshold: s.cfg.OFI.ToxicityThreshold,
		HeartbeatInterval: s.cfg.OFIHeartbeatDuration(),
	}
	ofiEngine := ofi.New(ofiCfg, marketFeed.Trades(), s.logger)

	invCfg := inventory.Config{
		MaxNetDiff:       s.cfg.Inventory.MaxNetDiff,
		MaxPortfolioCost: s.cfg.Inventory.MaxPortfolioCost,
		MaxPositionValue: s.cfg.Inventory.MaxPositionValue,
	}
	invManager := inventory.New(invCfg, fillToInventory, s.logger)

	coordCfg := coordinator.Config{
		PairTarget:       s.cfg.Coord.PairTarget,
		MaxNetDiff:       s.cfg.Inventory.MaxNetDiff,
		BidSize:          s.cfg.Coord.BidSize,
		TickSize:         s.cfg.Coord.TickSize,
		RepriceThreshold: s.cfg.Coord.RepriceThreshold,
		DebounceInterval: s.cfg.CoordDebounceDuration(),
		DryRun:           s.cfg.DryRun,
	}
	coord := coordinator.New(coordCfg, ofiEngine.Snapshots(), invManager.States(), marketFeed.BookTicks(), resultCh, execBuffer, s.logger)

	orderClient, err := s.buildOrderClient()
	if err != nil {
		return fmt.Errorf("build order client: %w", err)
	}

	execCfg := executor.Config{
		YesTokenID: info.YesTokenID,
		NoTokenID:  info.NoTokenID,
		TickSize:   info.TickSize,
		DryRun:     s.cfg.DryRun,
	}
	exec := executor.New(execCfg, orderClient, coord.Commands(), resultCh, fillToExecutor, s.logger)

	go ofiEngine.Run(roundCtx)
	go invManager.Run(roundCtx)
	go coord.Run(roundCtx)
	go exec.Run(roundCtx)
	go fanOutFills(roundCtx, fillInCh, fillToInventory, fillToExecutor)

	var listener *userfeed.Listener
	if !s.cfg.DryRun {
		listener = userfeed.New(userfeed.Config{
			WSBaseURL: s.cfg.Market.WSBaseURL,
			MarketID:  info.ConditionID,
			YesToken:  info.YesTokenID,
			NoToken:   info.NoTokenID,
		}, s.auth, s.logger)
		go forwardFills(roundCtx, listener.Fills(), fillInCh)
		go func() {
			if err := listener.Run(roundCtx); err != nil && roundCtx.Err() == nil {
				s.logger.Error("user fill listener stopped", "err", err)
			}
		}()
	}

	marketDone := make(chan error, 1)
	go func() { marketDone <- marketFeed.Run(roundCtx) }()

	sleepTimer := time.NewTimer(time.Until(deadline))
	defer sleepTimer.Stop()

	select {
	case <-ctx.Done():
		s.shutdownRound(coord, marketFeed, listener)
		return ctx.Err()
	case <-sleepTimer.C:
		s.logger.Info("session deadline reached", "slug", info.Slug)
	case err := <-marketDone:
		s.logger.Warn("market feed loop ended before deadline", "err", err)
	}

	s.shutdownRound(coord, marketFeed, listener)
	cancelRound()
	return nil
}

// shutdownRound emits CancelAll{MarketExpired}, waits a short grace period
// for the cancels to land, then closes the transport connections. The
// actor goroutines themselves are stopped by cancelling roundCtx in the
// caller, which releases them on their next suspension point.
func (s *Supervisor) shutdownRound(coord *coordinator.Coordinator, marketFeed *exchange.MarketFeed, listener *userfeed.Listener) {
	coord.EmitCancelAll(messages.ReasonMarketExpired)
	time.Sleep(shutdownGrace)
	_ = marketFeed.Close()
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *Supervisor) resolveWithRetry(ctx context.Context, slug string) (types.MarketInfo, error) {
	for {
		info, err := s.resolver.Resolve(ctx, slug)
		if err == nil {
			return info, nil
		}
		s.logger.Warn("market resolution failed, retrying", "slug", slug, "err", err)
		select {
		case <-ctx.Done():
			return types.MarketInfo{}, ctx.Err()
		case <-time.After(resolveRetryBackoff):
		}
	}
}

// buildOrderClient constructs the SDK-backed order client in live mode. In
// dry-run mode it returns a nil client, which the Executor's own DryRun
// branch never calls.
func (s *Supervisor) buildOrderClient() (executor.OrderClient, error) {
	if s.cfg.DryRun {
		// The Executor's DryRun branch never calls into the client, so no
		// real SDK signer or CLOB client needs to exist for this round.
		return nil, nil
	}

	signer, err := sdkauth.NewPrivateKeySigner(s.cfg.Wallet.PrivateKey, s.cfg.Wallet.ChainID)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}
	// Use the credentials held by auth: configured ones, or the ones
	// CheckSafetyGates derived at startup.
	creds := s.auth.WSAuthPayload()
	apiKey := &sdkauth.APIKey{
		Key:        creds.ApiKey,
		Secret:     creds.Secret,
		Passphrase: creds.Passphrase,
	}
	sdkClient := polymarket.NewClient()
	clobClient := sdkClient.CLOB.WithAuth(signer, apiKey)
	return executor.NewSDKOrderClient(clobClient, signer, s.rl), nil
}

// fanOutFills splits the authoritative fill stream to Inventory and
// Executor in receive order, without a lock — the only way to serve two
// independent readers from one ordered stream on a channel-based pipeline.
func fanOutFills(ctx context.Context, in <-chan messages.FillEvent, toInventory, toExecutor chan<- messages.FillEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-in:
			if !ok {
				return
			}
			select {
			case toInventory <- f:
			case <-ctx.Done():
				return
			}
			select {
			case toExecutor <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

func forwardFills(ctx context.Context, src <-chan messages.FillEvent, dst chan<- messages.FillEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-src:
			if !ok {
				return
			}
			select {
			case dst <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}
