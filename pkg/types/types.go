// Package types defines the exchange-facing vocabulary shared across layers:
// signature type, tick-size precision, resolved market metadata, and the
// wire shapes of the venue's WebSocket feeds. It has no dependency on
// internal packages so it can be imported by any layer.
//
// Order construction and submission wire formats (signed order, REST
// request/response bodies) are no longer defined here — they live inside
// github.com/GoPolymarket/polymarket-go-sdk, which owns signing and never
// hands this codebase a raw SignedOrder to fill in by hand.
package types

import (
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize represents the price granularity for a market. Four tick sizes
// are supported; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketInfo is the resolved identity of one binary market, as returned by
// the metadata client from a slug lookup.
type MarketInfo struct {
	ConditionID string // CTF condition ID (used for the user WS subscription)
	Slug        string // resolved slug (fixed, not the prefix)
	YesTokenID  string // CLOB token ID for the YES outcome
	NoTokenID   string // CLOB token ID for the NO outcome

	TickSize     TickSize // price granularity (determines rounding)
	MinOrderSize float64  // minimum order size in tokens
	NegRisk      bool     // true if this is a neg-risk market (affects CTF exchange)

	EndDate time.Time // when the market is scheduled to resolve
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket auth
// ————————————————————————————————————————————————————————————————————————

// WSAuth contains the L2 API credentials for authenticating the user WS channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// PriceLevel is a single bid or ask level in a raw order book payload.
// Price and Size are strings because the venue returns them as strings to
// preserve decimal precision. Levels are not guaranteed to arrive sorted.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}
