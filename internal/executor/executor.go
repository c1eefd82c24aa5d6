// Package executor owns the one source of truth for what is actually
// resting on the exchange. It never originates trading decisions — it
// only carries out ExecutionCmd instructions from the Coordinator and
// reconciles its local bookkeeping against FillEvents from the
// authenticated user fill stream.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"pairmm/internal/messages"
	"pairmm/pkg/types"
)

// OrderClient is the narrow order-management surface the Executor needs.
// The concrete implementation (sdkclient.go) wraps the Polymarket CLOB SDK;
// tests substitute a fake so executor logic is verified without a live
// exchange connection.
type OrderClient interface {
	// PlaceOrder submits a signed post-only BUY limit order and returns
	// the venue's order ID on success.
	PlaceOrder(ctx context.Context, tokenID string, price, size float64) (orderID string, err error)
	// CancelOrders cancels the given order IDs. Returns an error if the
	// remote call fails; callers must not assume partial success.
	CancelOrders(ctx context.Context, orderIDs []string) error
	// CancelAll cancels every resting order in one bulk call.
	CancelAll(ctx context.Context) error
}

// Config tunes Executor behavior.
type Config struct {
	YesTokenID string
	NoTokenID  string
	TickSize   types.TickSize // venue price precision for this market, from MarketInfo
	DryRun     bool           // when true, no network calls are made; orders are tracked locally under fake IDs
}

// Executor tracks per-side resting orders and is the only actor allowed to
// mutate that state. open_orders mirrors executor.rs's
// HashMap<Side, HashMap<order_id, remaining_size>>.
type Executor struct {
	cfg    Config
	client OrderClient

	cmdCh    <-chan messages.ExecutionCmd
	resultCh chan<- messages.OrderResult
	fillCh   <-chan messages.FillEvent

	openOrders map[messages.Side]map[string]float64

	logger *slog.Logger
}

// New constructs an Executor. cmdCh carries Coordinator instructions,
// resultCh carries feedback (ghost-slot clearing) back to the Coordinator,
// fillCh carries authoritative fills from the user feed listener.
func New(cfg Config, client OrderClient, cmdCh <-chan messages.ExecutionCmd, resultCh chan<- messages.OrderResult, fillCh <-chan messages.FillEvent, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		client:   client,
		cmdCh:    cmdCh,
		resultCh: resultCh,
		fillCh:   fillCh,
		openOrders: map[messages.Side]map[string]float64{
			messages.Yes: {},
			messages.No:  {},
		},
		logger: logger.With("component", "executor"),
	}
}

// OpenOrderCount reports how many orders are currently tracked on a side.
func (e *Executor) OpenOrderCount(side messages.Side) int {
	return len(e.openOrders[side])
}

// Run drains commands and fills until ctx is cancelled or both channels
// close.
func (e *Executor) Run(ctx context.Context) {
	e.logger.Info("executor starting", "dry_run", e.cfg.DryRun)
	defer e.logShutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-e.cmdCh:
			if !ok {
				return
			}
			e.handleCmd(ctx, cmd)
		case fill, ok := <-e.fillCh:
			if !ok {
				return
			}
			e.handleFill(fill)
		}
	}
}

func (e *Executor) logShutdown() {
	e.logger.Info("executor stopped",
		"yes_open", len(e.openOrders[messages.Yes]),
		"no_open", len(e.openOrders[messages.No]))
}

func (e *Executor) handleCmd(ctx context.Context, cmd messages.ExecutionCmd) {
	switch cmd.Kind {
	case messages.CmdPlacePostOnlyBid:
		e.handlePlaceBid(ctx, cmd)
	case messages.CmdCancelOrder:
		e.handleCancelOrder(ctx, cmd.OrderID)
	case messages.CmdCancelSide:
		e.handleCancelSide(ctx, cmd.Side)
	case messages.CmdCancelAll:
		e.handleCancelAll(ctx)
	}
}

func (e *Executor) tokenID(side messages.Side) string {
	if side == messages.Yes {
		return e.cfg.YesTokenID
	}
	return e.cfg.NoTokenID
}

// handlePlaceBid refuses to place if the side is already resting an order —
// the Coordinator marks a slot empty as soon as it emits a cancel, so a side
// that is still tracked here (a remote cancel failed, or a fill has not yet
// arrived) means the Coordinator's view has drifted and must be corrected
// via OrderFailed.
func (e *Executor) handlePlaceBid(ctx context.Context, cmd messages.ExecutionCmd) {
	if len(e.openOrders[cmd.Side]) > 0 {
		e.logger.Warn("refusing to place: side already resting an order", "side", cmd.Side)
		e.emitFailed(cmd.Side)
		return
	}

	price := roundPrice(cmd.Price, e.cfg.TickSize)
	size := roundSize(cmd.Size)

	if e.cfg.DryRun {
		orderID := fmt.Sprintf("dry-%s-%d", cmd.Side, time.Now().UnixNano())
		e.openOrders[cmd.Side][orderID] = size
		e.logger.Info("DRY-RUN placed bid", "side", cmd.Side, "price", price, "size", size, "order_id", orderID, "reason", cmd.Reason)
		return
	}

	orderID, err := e.client.PlaceOrder(ctx, e.tokenID(cmd.Side), price, size)
	if err != nil {
		e.logger.Error("place order failed", "side", cmd.Side, "price", price, "size", size, "err", err)
		e.emitFailed(cmd.Side)
		return
	}

	e.openOrders[cmd.Side][orderID] = size
	e.logger.Info("placed bid", "side", cmd.Side, "price", price, "size", size, "order_id", orderID, "reason", cmd.Reason)
}

func (e *Executor) emitFailed(side messages.Side) {
	select {
	case e.resultCh <- messages.OrderResult{Side: side}:
	default:
		e.logger.Warn("result channel full, dropping OrderFailed", "side", side)
	}
}

// handleCancelOrder cancels remotely first and only removes local tracking
// on confirmed success — a failed remote cancel must keep the order
// tracked, since it may still be resting.
func (e *Executor) handleCancelOrder(ctx context.Context, orderID string) {
	if e.cfg.DryRun {
		e.removeOrder(orderID)
		return
	}
	if err := e.client.CancelOrders(ctx, []string{orderID}); err != nil {
		e.logger.Warn("cancel order failed, keeping tracked", "order_id", orderID, "err", err)
		return
	}
	e.removeOrder(orderID)
}

// handleCancelSide snapshots tracked IDs before cancelling since
// handleCancelOrder mutates openOrders as it succeeds.
func (e *Executor) handleCancelSide(ctx context.Context, side messages.Side) {
	ids := make([]string, 0, len(e.openOrders[side]))
	for id := range e.openOrders[side] {
		ids = append(ids, id)
	}
	for _, id := range ids {
		e.handleCancelOrder(ctx, id)
	}
}

// handleCancelAll prefers the bulk endpoint; on failure it falls back to
// cancelling every tracked order individually and logs whatever remains.
func (e *Executor) handleCancelAll(ctx context.Context) {
	if e.cfg.DryRun {
		e.openOrders[messages.Yes] = map[string]float64{}
		e.openOrders[messages.No] = map[string]float64{}
		return
	}

	if err := e.client.CancelAll(ctx); err == nil {
		e.openOrders[messages.Yes] = map[string]float64{}
		e.openOrders[messages.No] = map[string]float64{}
		return
	}

	e.logger.Warn("bulk cancel-all failed, falling back to per-order cancel")
	e.handleCancelSide(ctx, messages.Yes)
	e.handleCancelSide(ctx, messages.No)

	remaining := len(e.openOrders[messages.Yes]) + len(e.openOrders[messages.No])
	if remaining > 0 {
		e.logger.Error("cancel-all fallback left orders resting", "remaining", remaining)
	}
}

func (e *Executor) removeOrder(orderID string) {
	delete(e.openOrders[messages.Yes], orderID)
	delete(e.openOrders[messages.No], orderID)
}

// handleFill applies lifecycle cleanup from the authoritative fill stream.
// The Executor never emits FillEvents itself — this is bookkeeping only.
// A FAILED fill removes the order outright; a MATCHED/CONFIRMED fill
// decrements remaining size and removes the order once fully filled.
func (e *Executor) handleFill(f messages.FillEvent) {
	book := e.openOrders[f.Side]
	remaining, tracked := book[f.OrderID]
	if !tracked {
		return
	}

	if f.Status == messages.Failed {
		delete(book, f.OrderID)
		return
	}

	remaining -= f.FilledSize
	if remaining <= 1e-9 {
		delete(book, f.OrderID)
		return
	}
	book[f.OrderID] = remaining
}

// roundPrice rounds to the market's actual venue precision rather than a
// fixed guess — a 0.1-tick market and a 0.0001-tick market round differently.
func roundPrice(p float64, tick types.TickSize) float64 {
	return decimal.NewFromFloat(p).Round(int32(tick.Decimals())).InexactFloat64()
}

func roundSize(s float64) float64 {
	return decimal.NewFromFloat(s).Round(6).InexactFloat64()
}
