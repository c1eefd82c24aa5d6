// Package messages defines the channel message vocabulary for the
// maker-only actor pipeline: post passive post-only bids, never take. OFI
// feeds the Coordinator's kill switch; the Coordinator never talks to the
// Executor except through ExecutionCmd, and the Executor never talks back
// except through OrderResult.
package messages

import "time"

// Side is the outcome token identity. Every order this pipeline places is
// a BUY — the SDK's order builder takes the BUY/SELL direction separately
// from which outcome token (Yes or No) the order targets.
type Side int

const (
	Yes Side = iota
	No
)

func (s Side) String() string {
	if s == Yes {
		return "YES"
	}
	return "NO"
}

// Opposite returns the other outcome side.
func (s Side) Opposite() Side {
	if s == Yes {
		return No
	}
	return Yes
}

// TakerSide is the aggressor direction of a trade tick.
type TakerSide int

const (
	TakerBuy TakerSide = iota
	TakerSell
)

// BookTick is a full top-of-book snapshot across both outcomes.
type BookTick struct {
	YesBid float64
	YesAsk float64
	NoBid  float64
	NoAsk  float64
	Ts     time.Time
}

// Ready reports whether all four prices have been observed and are
// strictly positive.
func (b BookTick) Ready() bool {
	return b.YesBid > 0 && b.YesAsk > 0 && b.NoBid > 0 && b.NoAsk > 0
}

// TradeTick is a single public trade print on one outcome token.
type TradeTick struct {
	MarketSide Side
	TakerSide  TakerSide
	Price      float64
	Size       float64
	Ts         time.Time
}

// SideOFI is the per-side order flow imbalance snapshot.
type SideOFI struct {
	OfiScore   float64
	BuyVolume  float64
	SellVolume float64
	IsToxic    bool
}

// OfiSnapshot is broadcast on a single-slot channel after every trade tick
// or heartbeat.
type OfiSnapshot struct {
	Yes SideOFI
	No  SideOFI
	Ts  time.Time
}

// InventoryState is the definitive position snapshot, broadcast on a
// single-slot channel after every committed fill.
type InventoryState struct {
	YesQty       float64
	NoQty        float64
	YesAvgCost   float64
	NoAvgCost    float64
	NetDiff      float64 // YesQty - NoQty
	PortfolioCost float64 // YesAvgCost + NoAvgCost when both sides held, else 0
	CanOpen      bool
}

// DefaultInventoryState is the zero position: no holdings, admission open.
func DefaultInventoryState() InventoryState {
	return InventoryState{CanOpen: true}
}

// BidReason explains why a bid is being placed.
type BidReason int

const (
	ReasonProvide BidReason = iota // providing liquidity on both sides (balanced)
	ReasonHedge                    // completing the pair on the deficit side
)

func (r BidReason) String() string {
	if r == ReasonHedge {
		return "hedge"
	}
	return "provide"
}

// CancelReason explains why an order is being cancelled.
type CancelReason int

const (
	ReasonToxicFlow CancelReason = iota
	ReasonInventoryLimit
	ReasonReprice
	ReasonShutdown
	ReasonMarketExpired
)

func (r CancelReason) String() string {
	switch r {
	case ReasonToxicFlow:
		return "toxic_flow"
	case ReasonInventoryLimit:
		return "inventory_limit"
	case ReasonReprice:
		return "reprice"
	case ReasonShutdown:
		return "shutdown"
	case ReasonMarketExpired:
		return "market_expired"
	default:
		return "unknown"
	}
}

// ExecutionCmd is a Coordinator -> Executor instruction. Exactly one of the
// fields below applies per command; Kind discriminates.
type ExecutionCmd struct {
	Kind CmdKind

	// PlacePostOnlyBid fields.
	Side   Side
	Price  float64
	Size   float64
	Reason BidReason

	// CancelOrder / CancelSide / CancelAll fields.
	OrderID      string
	CancelReason CancelReason
}

// CmdKind discriminates the ExecutionCmd variant.
type CmdKind int

const (
	CmdPlacePostOnlyBid CmdKind = iota
	CmdCancelOrder
	CmdCancelSide
	CmdCancelAll
)

// PlacePostOnlyBid builds a placement command.
func PlacePostOnlyBid(side Side, price, size float64, reason BidReason) ExecutionCmd {
	return ExecutionCmd{Kind: CmdPlacePostOnlyBid, Side: side, Price: price, Size: size, Reason: reason}
}

// CancelOrder builds a single-order cancel command.
func CancelOrder(orderID string, reason CancelReason) ExecutionCmd {
	return ExecutionCmd{Kind: CmdCancelOrder, OrderID: orderID, CancelReason: reason}
}

// CancelSide builds a cancel-this-side command.
func CancelSide(side Side, reason CancelReason) ExecutionCmd {
	return ExecutionCmd{Kind: CmdCancelSide, Side: side, CancelReason: reason}
}

// CancelAll builds a cancel-everything command.
func CancelAll(reason CancelReason) ExecutionCmd {
	return ExecutionCmd{Kind: CmdCancelAll, CancelReason: reason}
}

// OrderResult is Executor -> Coordinator feedback. Today the only variant
// is OrderFailed: it lets the Coordinator clear a ghost slot after a
// rejected placement.
type OrderResult struct {
	Side Side
}

// FillStatus is the lifecycle state of a fill as reported by the
// authenticated fill stream.
type FillStatus int

const (
	Matched FillStatus = iota
	Confirmed
	Failed
)

// FillEvent is a normalized fill from the authenticated User Fill Listener.
// It is the only source of inventory deltas in the pipeline.
type FillEvent struct {
	OrderID    string
	Side       Side
	FilledSize float64
	Price      float64
	Status     FillStatus
	Ts         time.Time
}
