package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"pairmm/internal/market"
	"pairmm/internal/messages"
	"pairmm/pkg/types"
)

const (
	bookBufferSize  = 64 // full snapshots, single-slot overwrite semantics upstream
	tradeBufferSize = 256
)

// MarketFeed is the public channel: book snapshots, incremental price
// changes, and last-trade-price prints for the two outcome tokens of one
// market. It owns a market.Assembler to fold partial per-asset updates into
// the coordinator's four-price view, and turns last_trade_price prints into
// the trade ticks the OFI Engine consumes.
type MarketFeed struct {
	conn       *WSConn
	assembler  *market.Assembler
	yesToken   string
	noToken    string
	bookCh     chan messages.BookTick
	tradeCh    chan messages.TradeTick
	logger     *slog.Logger
}

// NewMarketFeed constructs the public market feed for one market's two
// outcome tokens.
func NewMarketFeed(wsURL, yesToken, noToken string, logger *slog.Logger) *MarketFeed {
	f := &MarketFeed{
		assembler: market.NewAssembler(yesToken, noToken),
		yesToken:  yesToken,
		noToken:   noToken,
		bookCh:    make(chan messages.BookTick, bookBufferSize),
		tradeCh:   make(chan messages.TradeTick, tradeBufferSize),
		logger:    logger.With("component", "ws_market"),
	}
	f.conn = NewWSConn(wsURL, ExponentialBackoff, f.subscribePayload, f.dispatch, f.logger)
	return f
}

// Run connects and maintains the feed, blocking until ctx is cancelled.
func (f *MarketFeed) Run(ctx context.Context) error { return f.conn.Run(ctx) }

// Close tears down the active connection.
func (f *MarketFeed) Close() error { return f.conn.Close() }

// BookTicks returns full four-price snapshots, published each time a new
// component arrives once the book is ready.
func (f *MarketFeed) BookTicks() <-chan messages.BookTick { return f.bookCh }

// Trades returns parsed last-trade-price prints, feeding the OFI Engine.
func (f *MarketFeed) Trades() <-chan messages.TradeTick { return f.tradeCh }

func (f *MarketFeed) subscribePayload() interface{} {
	return wsMarketSubscribe{
		Type:                 "market",
		Operation:            "subscribe",
		Markets:              []string{},
		AssetIDs:             []string{f.yesToken, f.noToken},
		InitialDump:          true,
		CustomFeatureEnabled: true,
	}
}

type wsMarketSubscribe struct {
	Type                 string   `json:"type"`
	Operation            string   `json:"operation"`
	Markets              []string `json:"markets"`
	AssetIDs             []string `json:"assets_ids"`
	InitialDump          bool     `json:"initial_dump"`
	CustomFeatureEnabled bool     `json:"custom_feature_enabled"`
}

type wsBookEvent struct {
	EventType string              `json:"event_type"`
	AssetID   string              `json:"asset_id"`
	Bids      []types.PriceLevel  `json:"bids"`
	Asks      []types.PriceLevel  `json:"asks"`
}

type wsPriceChangeEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
}

type wsLastTradePriceEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Side      string `json:"side"` // taker side: BUY or SELL
	Size      string `json:"size"`
}

func (f *MarketFeed) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "book":
		var evt wsBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		f.publishBook(f.assembler.ApplyBookLevels(evt.AssetID, evt.Bids, evt.Asks))

	case "price_change", "best_bid_ask":
		var evt wsPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal price_change event", "error", err)
			return
		}
		f.publishBook(f.assembler.ApplyBestBidAsk(evt.AssetID, parseF64(evt.BestBid), parseF64(evt.BestAsk)))

	case "last_trade_price":
		var evt wsLastTradePriceEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal last_trade_price event", "error", err)
			return
		}
		f.publishTrade(evt)

	case "tick_size_change", "new_market", "market_resolved":
		f.logger.Debug("ignoring event", "type", envelope.EventType)

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (f *MarketFeed) publishBook(tick messages.BookTick, ready bool) {
	if !ready {
		return
	}
	select {
	case f.bookCh <- tick:
	default:
		select {
		case <-f.bookCh:
		default:
		}
		f.bookCh <- tick
	}
}

func (f *MarketFeed) publishTrade(evt wsLastTradePriceEvent) {
	var side messages.Side
	switch evt.AssetID {
	case f.yesToken:
		side = messages.Yes
	case f.noToken:
		side = messages.No
	default:
		f.logger.Debug("last_trade_price for unknown asset", "asset_id", evt.AssetID)
		return
	}

	taker := messages.TakerBuy
	if evt.Side == "SELL" {
		taker = messages.TakerSell
	}

	tick := messages.TradeTick{
		MarketSide: side,
		TakerSide:  taker,
		Price:      parseF64(evt.Price),
		Size:       parseF64(evt.Size),
		Ts:         time.Now(),
	}

	select {
	case f.tradeCh <- tick:
	default:
		f.logger.Warn("trade channel full, dropping tick", "side", side)
	}
}

func parseF64(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
