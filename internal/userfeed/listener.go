// Package userfeed implements the User Fill Listener actor: the
// authenticated channel that is the single source of truth for our own
// fills. Book and trade prints from the public market feed never update
// inventory directly — only a fill observed here does.
package userfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"pairmm/internal/exchange"
	"pairmm/internal/messages"
)

const fillBufferSize = 64

// dedupTTL bounds how long a dedup key is remembered. It must outlive a
// single reconnect cycle (3s fixed delay, plus subscribe/backfill latency)
// so a duplicate push immediately after reconnect is still caught.
const dedupTTL = 5 * time.Minute

// dedupCapacity bounds memory; the oldest entries are evicted once the
// cache grows past this size, independent of TTL.
const dedupCapacity = 4096

// Config configures the listener's connection to one market's authenticated
// user channel.
type Config struct {
	WSBaseURL string // e.g. wss://ws-subscriptions-clob.polymarket.com/ws
	MarketID  string // condition ID, used as the subscribe filter
	YesToken  string
	NoToken   string
}

// Listener is the User Fill Listener actor.
type Listener struct {
	cfg    Config
	auth   *exchange.Auth
	conn   *exchange.WSConn
	fillCh chan messages.FillEvent
	logger *slog.Logger

	// dedup spans reconnects: a function-local set would forget every key
	// on each new connection and double-count a fill replayed on resubscribe.
	dedup *dedupCache
}

// New constructs the listener. auth must already hold L2 credentials.
func New(cfg Config, auth *exchange.Auth, logger *slog.Logger) *Listener {
	l := &Listener{
		cfg:    cfg,
		auth:   auth,
		fillCh: make(chan messages.FillEvent, fillBufferSize),
		logger: logger.With("component", "userfeed"),
		dedup:  newDedupCache(dedupCapacity, dedupTTL),
	}
	l.conn = exchange.NewWSConn(cfg.WSBaseURL+"/user", exchange.FixedBackoff, l.subscribePayload, l.dispatch, l.logger)
	return l
}

// Run connects and maintains the feed, blocking until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error { return l.conn.Run(ctx) }

// Close tears down the active connection.
func (l *Listener) Close() error { return l.conn.Close() }

// Fills returns the channel of authoritative fill events.
func (l *Listener) Fills() <-chan messages.FillEvent { return l.fillCh }

func (l *Listener) subscribePayload() interface{} {
	return wsUserSubscribe{
		Type:      "user",
		Operation: "subscribe",
		Markets:   []string{l.cfg.MarketID},
		AssetIDs:  []string{l.cfg.YesToken, l.cfg.NoToken},
		Auth:      l.auth.WSAuthPayload(),
	}
}

type wsUserSubscribe struct {
	Type      string       `json:"type"`
	Operation string       `json:"operation"`
	Markets   []string     `json:"markets"`
	AssetIDs  []string     `json:"assets_ids"`
	Auth      interface{}  `json:"auth"`
}

func (l *Listener) dispatch(data []byte) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		l.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	// The user channel may batch events as a JSON array.
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		arr = []json.RawMessage{raw}
	}

	for _, item := range arr {
		l.parseTradeEvent(item)
	}
}

type tradeEnvelope struct {
	EventType   string          `json:"event_type"`
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	TraderSide  string          `json:"trader_side"`
	AssetID     string          `json:"asset_id"`
	Size        json.Number     `json:"size"`
	Price       json.Number     `json:"price"`
	OrderID     string          `json:"taker_order_id"`
	Timestamp   string          `json:"timestamp"`
	MakerOrders []makerOrderMsg `json:"maker_orders"`
}

type makerOrderMsg struct {
	Owner         string      `json:"owner"`
	OrderID       string      `json:"order_id"`
	AssetID       json.RawMessage `json:"asset_id"` // string or number
	Outcome       string      `json:"outcome"`
	MatchedAmount json.Number `json:"matched_amount"`
	Size          json.Number `json:"size"`
	Price         json.Number `json:"price"`
}

// parseTradeEvent maps one user-channel event into zero or more FillEvents.
// Maker-first: when trader_side is MAKER (or missing but maker_orders[] is
// present), the authoritative fill data lives per-order in maker_orders[],
// not the top-level taker fields. A single taker trade can match several of
// our resting orders at once.
func (l *Listener) parseTradeEvent(data json.RawMessage) {
	var env tradeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	eventType := env.EventType
	if eventType == "" {
		eventType = env.Type
	}
	if !strings.EqualFold(eventType, "trade") {
		return
	}

	status, ok := mapStatus(env.Status)
	if !ok {
		l.logger.Debug("ignoring trade with status", "status", env.Status)
		return
	}

	isMaker := strings.EqualFold(env.TraderSide, "MAKER")
	if isMaker || (env.TraderSide == "" && len(env.MakerOrders) > 0) {
		l.emitMakerFills(env, status)
		return
	}

	l.emitTakerFill(env, status)
}

func (l *Listener) emitMakerFills(env tradeEnvelope, status messages.FillStatus) {
	ourKey := strings.ToLower(strings.TrimSpace(l.auth.WSAuthPayload().ApiKey))

	for _, mo := range env.MakerOrders {
		owner := strings.ToLower(strings.TrimSpace(mo.Owner))
		if owner == "" {
			continue
		}
		if owner != ourKey {
			l.logger.Debug("skipping maker_order from other owner")
			continue
		}

		side, ok := l.sideForAsset(strings.Trim(string(mo.AssetID), `"`), mo.Outcome)
		if !ok {
			continue
		}

		size := firstNonZero(mo.MatchedAmount, mo.Size)
		price := numberToFloat(mo.Price)
		if size <= 0 || price <= 0 {
			continue
		}

		key := makerDedupKey(env.ID, mo.OrderID, status, price, size, env.Timestamp)
		if !l.dedup.insert(key) {
			continue
		}

		l.emit(messages.FillEvent{
			OrderID:    mo.OrderID,
			Side:       side,
			FilledSize: size,
			Price:      price,
			Status:     status,
			Ts:         time.Now(),
		})
	}
}

func (l *Listener) emitTakerFill(env tradeEnvelope, status messages.FillStatus) {
	side, ok := l.sideForAsset(env.AssetID, "")
	if !ok {
		return
	}

	size := numberToFloat(env.Size)
	price := numberToFloat(env.Price)
	if size <= 0 || price <= 0 {
		return
	}

	key := takerDedupKey(env.ID, env.OrderID, status, price, size, env.Timestamp)
	if !l.dedup.insert(key) {
		return
	}

	l.emit(messages.FillEvent{
		OrderID:    env.OrderID,
		Side:       side,
		FilledSize: size,
		Price:      price,
		Status:     status,
		Ts:         time.Now(),
	})
}

func (l *Listener) emit(f messages.FillEvent) {
	l.logger.Info("fill", "side", f.Side, "size", f.FilledSize, "price", f.Price, "status", f.Status)
	select {
	case l.fillCh <- f:
	default:
		l.logger.Warn("fill channel full, blocking until drained")
		l.fillCh <- f
	}
}

func (l *Listener) sideForAsset(assetID, outcome string) (messages.Side, bool) {
	switch assetID {
	case l.cfg.YesToken:
		return messages.Yes, true
	case l.cfg.NoToken:
		return messages.No, true
	}
	switch outcome {
	case "Yes", "yes", "YES":
		return messages.Yes, true
	case "No", "no", "NO":
		return messages.No, true
	}
	return 0, false
}

func mapStatus(s string) (messages.FillStatus, bool) {
	switch strings.ToUpper(s) {
	case "MATCHED":
		return messages.Matched, true
	case "MINED", "CONFIRMED":
		return messages.Confirmed, true
	case "FAILED":
		return messages.Failed, true
	case "RETRYING":
		return 0, false // transient, not a terminal status
	default:
		return 0, false
	}
}

// dedupBucket collapses MATCHED/CONFIRMED into one bucket so recovering a
// missed MATCHED push from a later CONFIRMED push does not double count,
// while FAILED is tracked separately since it reverses rather than repeats.
func dedupBucket(status messages.FillStatus) string {
	if status == messages.Failed {
		return "FAILED"
	}
	return "SUCCESS"
}

// makerDedupKey identifies one maker fill. When the venue supplies a
// trade ID, trade ID + order_id + status bucket identify the fill (one trade
// can match several of our resting orders). Without one, order_id + status +
// price is not enough — two genuine same-price partial fills on the same
// resting order (e.g. sizes 0.4 and 0.6) would collide and the second would
// be silently dropped. size and the envelope's timestamp are folded in too
// so distinct partial fills stay distinct instead of merging.
func makerDedupKey(tradeID, orderID string, status messages.FillStatus, price, size float64, ts string) string {
	if tradeID != "" {
		return "tid:" + tradeID + ":mo:" + orderID + ":" + dedupBucket(status)
	}
	return "mo:" + orderID + ":" + dedupBucket(status) + ":" +
		strconv.FormatFloat(price, 'f', -1, 64) + ":" +
		strconv.FormatFloat(size, 'f', -1, 64) + ":" + ts
}

func takerDedupKey(tradeID, orderID string, status messages.FillStatus, price, size float64, ts string) string {
	if tradeID != "" {
		return "tid:" + tradeID + ":" + dedupBucket(status)
	}
	return "oid:" + orderID + ":" + dedupBucket(status) + ":" +
		strconv.FormatFloat(price, 'f', -1, 64) + ":" +
		strconv.FormatFloat(size, 'f', -1, 64) + ":" + ts
}

func numberToFloat(n json.Number) float64 {
	if n == "" {
		return 0
	}
	v, err := n.Float64()
	if err != nil {
		return 0
	}
	return v
}

func firstNonZero(ns ...json.Number) float64 {
	for _, n := range ns {
		if v := numberToFloat(n); v > 0 {
			return v
		}
	}
	return 0
}
