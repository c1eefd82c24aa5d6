// Package coordinator implements the Strategy Coordinator actor: the
// decision loop that turns book ticks, OFI snapshots, and inventory state
// into execution commands.
//
// Three defensive rules carried from the reference strategy shape every
// decision here:
//
//  1. Lead-lag global kill switch: if EITHER side's OFI is toxic, cancel
//     BOTH sides immediately. Toxic flow on one outcome token predicts
//     arbitrage pressure on its complement.
//  2. Price boundary clamping: every bid price is floored to the tick grid
//     and clamped into [0.001, 0.999].
//  3. Anti-thrashing debounce: a side that was just placed or repriced is
//     left alone for debounce_ms before it can be touched again.
package coordinator

import (
	"context"
	"log/slog"
	"math"
	"time"

	"pairmm/internal/messages"
)

// Config tunes the coordinator's pricing and risk behavior.
type Config struct {
	PairTarget       float64       // total pair cost ceiling
	MaxNetDiff       float64       // unused directly here — enforced by inventory.Manager's CanOpen
	BidSize          float64       // order size per bid
	TickSize         float64       // CLOB minimum price increment
	RepriceThreshold float64       // reprice if drift exceeds this
	DebounceInterval time.Duration // minimum time between place/reprice on one side
	DryRun           bool
}

// DefaultConfig mirrors the reference strategy's tuning.
func DefaultConfig() Config {
	return Config{
		PairTarget:       0.99,
		MaxNetDiff:       5.0,
		BidSize:          2.0,
		TickSize:         0.001,
		RepriceThreshold: 0.005,
		DebounceInterval: 200 * time.Millisecond,
		DryRun:           true,
	}
}

type bidSlot struct {
	active     bool
	price      float64
	lastPlaced time.Time
}

func newBidSlot() bidSlot {
	// Start far in the past so the first bid on a side is never debounced.
	return bidSlot{lastPlaced: time.Now().Add(-60 * time.Second)}
}

type book struct {
	yesBid, yesAsk, noBid, noAsk float64
}

// Stats is the aggregate shutdown counters surfaced in the actor's final
// log line.
type Stats struct {
	Ticks             uint64
	Placed            uint64
	CancelToxic       uint64
	CancelInventory   uint64
	CancelReprice     uint64
	SkippedDebounce   uint64
	SkippedEmptyBook  uint64
	SkippedInvLimit   uint64
	PriceClamped      uint64
}

// Coordinator is the Strategy Coordinator actor.
type Coordinator struct {
	cfg Config

	book          book
	lastValidBook book
	yesBid        bidSlot
	noBid         bidSlot
	stats         Stats

	ofiCh       <-chan messages.OfiSnapshot
	invCh       <-chan messages.InventoryState
	bookCh      <-chan messages.BookTick
	resultCh    <-chan messages.OrderResult
	execCh      chan messages.ExecutionCmd

	latestOfi messages.OfiSnapshot
	latestInv messages.InventoryState

	logger *slog.Logger
}

// New constructs the coordinator. execBuffer sizes the outbound command
// channel; callers typically use a small buffer since the Executor drains
// it promptly.
func New(
	cfg Config,
	ofiCh <-chan messages.OfiSnapshot,
	invCh <-chan messages.InventoryState,
	bookCh <-chan messages.BookTick,
	resultCh <-chan messages.OrderResult,
	execBuffer int,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		yesBid:   newBidSlot(),
		noBid:    newBidSlot(),
		ofiCh:    ofiCh,
		invCh:    invCh,
		bookCh:   bookCh,
		resultCh: resultCh,
		execCh:   make(chan messages.ExecutionCmd, execBuffer),
		logger:   logger.With("component", "coordinator"),
	}
}

// Commands returns the channel of execution commands for the Executor.
func (c *Coordinator) Commands() <-chan messages.ExecutionCmd { return c.execCh }

// Stats returns a snapshot of the shutdown counters.
func (c *Coordinator) Stats() Stats { return c.stats }

// EmitCancelAll pushes a CancelAll command directly onto the execution
// channel, bypassing the book-tick-driven decision loop. The session
// supervisor calls this at the round deadline — winding down a session is
// its responsibility, not a decision the pricing loop itself makes.
func (c *Coordinator) EmitCancelAll(reason messages.CancelReason) {
	select {
	case c.execCh <- messages.CancelAll(reason):
	default:
		c.logger.Warn("execution channel full, dropping supervisor CancelAll", "reason", reason)
	}
}

// Run is the actor main loop. Book ticks are the primary driver; OFI and
// inventory snapshots are read as the latest known value (single-slot
// broadcast channels), not queued events.
func (c *Coordinator) Run(ctx context.Context) {
	c.logger.Info("coordinator started",
		"pair_target", c.cfg.PairTarget,
		"bid_size", c.cfg.BidSize,
		"tick_size", c.cfg.TickSize,
		"reprice_threshold", c.cfg.RepriceThreshold,
		"debounce", c.cfg.DebounceInterval,
		"dry_run", c.cfg.DryRun,
	)
	defer c.logShutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-c.ofiCh:
			if !ok {
				return
			}
			c.latestOfi = snap

		case inv, ok := <-c.invCh:
			if !ok {
				return
			}
			c.latestInv = inv

		case tick, ok := <-c.bookCh:
			if !ok {
				return
			}
			// Take any snapshot published since the last iteration so the
			// tick is evaluated against the newest OFI and inventory state.
			select {
			case snap, ok := <-c.ofiCh:
				if ok {
					c.latestOfi = snap
				}
			default:
			}
			select {
			case inv, ok := <-c.invCh:
				if ok {
					c.latestInv = inv
				}
			default:
			}
			c.updateBook(tick)
			c.stats.Ticks++
			c.tick()

		case result, ok := <-c.resultCh:
			if !ok {
				continue
			}
			c.onOrderResult(result)
		}
	}
}

func (c *Coordinator) logShutdown() {
	s := c.stats
	c.logger.Info("coordinator shutting down",
		"ticks", s.Ticks, "placed", s.Placed,
		"cancel_toxic", s.CancelToxic, "cancel_inventory", s.CancelInventory, "cancel_reprice", s.CancelReprice,
		"skipped_debounce", s.SkippedDebounce, "skipped_empty_book", s.SkippedEmptyBook, "skipped_inv_limit", s.SkippedInvLimit,
		"price_clamped", s.PriceClamped,
	)
}

func (c *Coordinator) onOrderResult(r messages.OrderResult) {
	c.logger.Warn("order failed, resetting ghost slot", "side", r.Side)
	c.slot(r.Side).active = false
	c.slot(r.Side).price = 0
}

func (c *Coordinator) slot(side messages.Side) *bidSlot {
	if side == messages.Yes {
		return &c.yesBid
	}
	return &c.noBid
}

// updateBook records the latest tick and, separately, the last known VALID
// (non-zero) book per side — the fallback used when a feed gap or a
// momentarily empty level would otherwise stall quoting entirely.
func (c *Coordinator) updateBook(t messages.BookTick) {
	c.book = book{yesBid: t.YesBid, yesAsk: t.YesAsk, noBid: t.NoBid, noAsk: t.NoAsk}

	if t.YesBid > 0 && t.YesAsk > 0 {
		c.lastValidBook.yesBid = t.YesBid
		c.lastValidBook.yesAsk = t.YesAsk
	}
	if t.NoBid > 0 && t.NoAsk > 0 {
		c.lastValidBook.noBid = t.NoBid
		c.lastValidBook.noAsk = t.NoAsk
	}
}

func (c *Coordinator) usableBook() book {
	b := book{
		yesBid: c.book.yesBid,
		yesAsk: c.book.yesAsk,
		noBid:  c.book.noBid,
		noAsk:  c.book.noAsk,
	}
	if b.yesBid <= 0 {
		b.yesBid = c.lastValidBook.yesBid
	}
	if b.yesAsk <= 0 {
		b.yesAsk = c.lastValidBook.yesAsk
	}
	if b.noBid <= 0 {
		b.noBid = c.lastValidBook.noBid
	}
	if b.noAsk <= 0 {
		b.noAsk = c.lastValidBook.noAsk
	}
	return b
}

func (c *Coordinator) tick() {
	ofi := c.latestOfi
	inv := c.latestInv

	// Priority 1: lead-lag global kill switch. Blocks ALL new orders until
	// both sides recover, even if only one side's flow is toxic.
	if ofi.Yes.IsToxic || ofi.No.IsToxic {
		c.globalKillSwitch(ofi)
		return
	}

	ub := c.usableBook()
	if ub.yesBid <= 0 || ub.noBid <= 0 {
		c.stats.SkippedEmptyBook++
		return
	}

	if math.Abs(inv.NetDiff) < 1e-9 {
		c.stateBalanced(ub, inv)
	} else {
		c.stateHedge(inv, ub)
	}
}

func (c *Coordinator) globalKillSwitch(ofi messages.OfiSnapshot) {
	if c.yesBid.active {
		c.logger.Warn("global kill switch", "side", "yes", "yes_ofi", ofi.Yes.OfiScore, "no_ofi", ofi.No.OfiScore)
		c.cancel(messages.Yes, messages.ReasonToxicFlow)
		c.stats.CancelToxic++
	}
	if c.noBid.active {
		c.logger.Warn("global kill switch", "side", "no", "yes_ofi", ofi.Yes.OfiScore, "no_ofi", ofi.No.OfiScore)
		c.cancel(messages.No, messages.ReasonToxicFlow)
		c.stats.CancelToxic++
	}
}

// stateBalanced is the passive mid-based maker state: quote both sides at
// their midpoint, capped so the pair never exceeds PairTarget.
func (c *Coordinator) stateBalanced(ub book, inv messages.InventoryState) {
	if !inv.CanOpen {
		c.stats.SkippedInvLimit++
		c.tieredInventoryCancel(inv)
		return
	}

	midYes := (ub.yesBid + ub.yesAsk) / 2
	midNo := (ub.noBid + ub.noAsk) / 2

	bidYes, bidNo := midYes, midNo
	if midYes+midNo > c.cfg.PairTarget {
		excess := (midYes + midNo) - c.cfg.PairTarget
		bidYes = midYes - excess/2
		bidNo = midNo - excess/2
	}

	c.placeOrReprice(messages.Yes, c.safePrice(bidYes), messages.ReasonProvide)
	c.placeOrReprice(messages.No, c.safePrice(bidNo), messages.ReasonProvide)
}

// tieredInventoryCancel cancels only as much as the imbalance requires:
// balanced-but-over-limit stops both sides; an active net imbalance stops
// only the side that would add more of the same risk, leaving the hedging
// side free to work off the imbalance.
func (c *Coordinator) tieredInventoryCancel(inv messages.InventoryState) {
	if math.Abs(inv.NetDiff) < 0.001 {
		if c.yesBid.active {
			c.cancel(messages.Yes, messages.ReasonInventoryLimit)
			c.stats.CancelInventory++
		}
		if c.noBid.active {
			c.cancel(messages.No, messages.ReasonInventoryLimit)
			c.stats.CancelInventory++
		}
		return
	}

	risky := messages.Yes
	if inv.NetDiff < 0 {
		risky = messages.No
	}
	if c.slot(risky).active {
		c.cancel(risky, messages.ReasonInventoryLimit)
		c.stats.CancelInventory++
	}
}

// stateHedge is the aggressive maker state: cancel the over-held side and
// chase the complement toward the pair-cost ceiling.
func (c *Coordinator) stateHedge(inv messages.InventoryState, ub book) {
	if inv.NetDiff > 0 {
		if c.yesBid.active {
			c.logger.Info("excess yes, cancelling yes bid", "net_diff", inv.NetDiff)
			c.cancel(messages.Yes, messages.ReasonInventoryLimit)
			c.stats.CancelInventory++
		}
		ceiling := c.cfg.PairTarget - inv.YesAvgCost
		price := c.aggressivePrice(ceiling, ub.noAsk)
		if price > 0 {
			c.logger.Info("hedge", "side", "no", "price", price, "ceiling", ceiling, "ask", ub.noAsk, "net_diff", inv.NetDiff)
			c.placeOrReprice(messages.No, price, messages.ReasonHedge)
		}
		return
	}

	if c.noBid.active {
		c.logger.Info("excess no, cancelling no bid", "net_diff", inv.NetDiff)
		c.cancel(messages.No, messages.ReasonInventoryLimit)
		c.stats.CancelInventory++
	}
	ceiling := c.cfg.PairTarget - inv.NoAvgCost
	price := c.aggressivePrice(ceiling, ub.yesAsk)
	if price > 0 {
		c.logger.Info("hedge", "side", "yes", "price", price, "ceiling", ceiling, "ask", ub.yesAsk, "net_diff", inv.NetDiff)
		c.placeOrReprice(messages.Yes, price, messages.ReasonHedge)
	}
}

// aggressivePrice returns min(ceiling, best_ask - tick). If best_ask is
// unavailable, it refuses to bid (returns 0) rather than falling back to
// the ceiling — bidding the maximum price into a void with no sell-side
// liquidity to validate it against is how a phantom price oscillation
// starts.
func (c *Coordinator) aggressivePrice(ceiling, bestAsk float64) float64 {
	if ceiling <= 0 || ceiling >= 1 {
		return 0
	}
	if bestAsk <= 0 {
		return 0
	}
	oneTickBelow := bestAsk - c.cfg.TickSize
	if oneTickBelow <= 0 {
		return 0
	}
	return c.safePrice(math.Min(ceiling, oneTickBelow))
}

// safePrice floors p to the tick grid and clamps it into [0.001, 0.999].
func (c *Coordinator) safePrice(p float64) float64 {
	floored := math.Floor(p/c.cfg.TickSize) * c.cfg.TickSize
	clamped := math.Max(0.001, math.Min(0.999, floored))
	if math.Abs(clamped-floored) > 1e-9 {
		c.stats.PriceClamped++
	}
	return clamped
}

// placeOrReprice debounces, then either places a fresh bid or, if drift
// from the existing resting price exceeds RepriceThreshold, cancels and
// replaces it.
func (c *Coordinator) placeOrReprice(side messages.Side, price float64, reason messages.BidReason) {
	slot := c.slot(side)

	if time.Since(slot.lastPlaced) < c.cfg.DebounceInterval {
		c.stats.SkippedDebounce++
		return
	}

	if !slot.active {
		c.place(side, price, reason)
		return
	}
	if math.Abs(slot.price-price) > c.cfg.RepriceThreshold {
		c.cancel(side, messages.ReasonReprice)
		c.stats.CancelReprice++
		c.place(side, price, reason)
	}
}

func (c *Coordinator) place(side messages.Side, price float64, reason messages.BidReason) {
	slot := c.slot(side)
	slot.active = true
	slot.price = price
	slot.lastPlaced = time.Now()
	c.stats.Placed++

	if c.cfg.DryRun {
		c.logger.Info("dry-run place", "side", side, "reason", reason, "price", price, "size", c.cfg.BidSize)
		return
	}
	c.sendCmd(messages.PlacePostOnlyBid(side, price, c.cfg.BidSize, reason))
}

func (c *Coordinator) cancel(side messages.Side, reason messages.CancelReason) {
	slot := c.slot(side)
	slot.active = false
	slot.price = 0

	if c.cfg.DryRun {
		c.logger.Info("dry-run cancel", "side", side, "reason", reason)
		return
	}
	c.sendCmd(messages.CancelSide(side, reason))
}

func (c *Coordinator) sendCmd(cmd messages.ExecutionCmd) {
	select {
	case c.execCh <- cmd:
	default:
		c.logger.Warn("execution command channel full, blocking", "kind", cmd.Kind)
		c.execCh <- cmd
	}
}
