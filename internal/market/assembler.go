// Package market resolves a session's market identity from its slug and
// assembles public order-book events into the full four-price BookTick the
// Strategy Coordinator consumes.
package market

import (
	"strconv"
	"sync"

	"pairmm/internal/messages"
	"pairmm/pkg/types"
)

// Assembler merges partial venue order-book updates (which may arrive
// asset-by-asset and in any order) into a running BookTick. A full snapshot
// is returned only once all four components have been observed at least
// once.
type Assembler struct {
	mu            sync.Mutex
	yesToken      string
	noToken       string
	tick          messages.BookTick
}

// NewAssembler constructs an assembler for one market's two outcome tokens.
func NewAssembler(yesToken, noToken string) *Assembler {
	return &Assembler{yesToken: yesToken, noToken: noToken}
}

// ApplyBookLevels merges a full book snapshot for one asset. Best bid/ask
// are computed by scanning every level for the max bid and min ask — the
// venue's array order is never assumed to be sorted.
func (a *Assembler) ApplyBookLevels(assetID string, bids, asks []types.PriceLevel) (messages.BookTick, bool) {
	bid := bestBid(bids)
	ask := bestAsk(asks)

	a.mu.Lock()
	defer a.mu.Unlock()

	switch assetID {
	case a.yesToken:
		if bid > 0 {
			a.tick.YesBid = bid
		}
		if ask > 0 {
			a.tick.YesAsk = ask
		}
	case a.noToken:
		if bid > 0 {
			a.tick.NoBid = bid
		}
		if ask > 0 {
			a.tick.NoAsk = ask
		}
	default:
		return a.tick, a.tick.Ready()
	}

	return a.tick, a.tick.Ready()
}

// ApplyBestBidAsk merges a direct best-bid/best-ask update for one asset
// (from a price_change or best_bid_ask event).
func (a *Assembler) ApplyBestBidAsk(assetID string, bestBid, bestAsk float64) (messages.BookTick, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch assetID {
	case a.yesToken:
		if bestBid > 0 {
			a.tick.YesBid = bestBid
		}
		if bestAsk > 0 {
			a.tick.YesAsk = bestAsk
		}
	case a.noToken:
		if bestBid > 0 {
			a.tick.NoBid = bestBid
		}
		if bestAsk > 0 {
			a.tick.NoAsk = bestAsk
		}
	default:
		return a.tick, a.tick.Ready()
	}

	return a.tick, a.tick.Ready()
}

// Snapshot returns the current running tick regardless of readiness.
func (a *Assembler) Snapshot() messages.BookTick {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tick
}

func bestBid(levels []types.PriceLevel) float64 {
	var best float64
	for _, lvl := range levels {
		p := parsePrice(lvl.Price)
		if p > best {
			best = p
		}
	}
	return best
}

func bestAsk(levels []types.PriceLevel) float64 {
	var best float64
	for _, lvl := range levels {
		p := parsePrice(lvl.Price)
		if p <= 0 {
			continue
		}
		if best == 0 || p < best {
			best = p
		}
	}
	return best
}

func parsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
