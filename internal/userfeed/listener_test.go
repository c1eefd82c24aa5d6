package userfeed

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"pairmm/internal/exchange"
	"pairmm/internal/messages"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func testAuth(apiKey string) *exchange.Auth {
	a := &exchange.Auth{}
	a.SetCredentials(exchange.Credentials{ApiKey: apiKey})
	return a
}

func newTestListener() *Listener {
	cfg := Config{MarketID: "cond-1", YesToken: "yes-tok", NoToken: "no-tok"}
	// auth is only consulted for its API key (owner match) in these tests;
	// a nil-credential Auth is fine since WSAuthPayload just echoes fields.
	return &Listener{
		cfg:    cfg,
		fillCh: make(chan messages.FillEvent, fillBufferSize),
		logger: testLogger(),
		dedup:  newDedupCache(dedupCapacity, dedupTTL),
		auth:   testAuth("our-api-key"),
	}
}

func TestMakerFillOwnedIsEmitted(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	event := map[string]interface{}{
		"event_type":  "trade",
		"id":          "trade-1",
		"status":      "MATCHED",
		"trader_side": "MAKER",
		"maker_orders": []map[string]interface{}{
			{"owner": "our-api-key", "order_id": "order-1", "asset_id": "yes-tok", "matched_amount": "10", "price": "0.45"},
		},
	}
	l.parseTradeEvent(encode(t, event))

	select {
	case f := <-l.fillCh:
		if f.Side != messages.Yes || f.FilledSize != 10 || f.Price != 0.45 || f.Status != messages.Matched {
			t.Errorf("unexpected fill: %+v", f)
		}
	default:
		t.Fatal("expected an emitted fill")
	}
}

func TestMakerFillOtherOwnerSkipped(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	event := map[string]interface{}{
		"event_type":  "trade",
		"id":          "trade-2",
		"status":      "MATCHED",
		"trader_side": "MAKER",
		"maker_orders": []map[string]interface{}{
			{"owner": "someone-else", "order_id": "order-2", "asset_id": "yes-tok", "matched_amount": "10", "price": "0.45"},
		},
	}
	l.parseTradeEvent(encode(t, event))

	select {
	case f := <-l.fillCh:
		t.Fatalf("should not emit fill for another owner's maker order, got %+v", f)
	default:
	}
}

func TestTakerFillFallback(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	event := map[string]interface{}{
		"event_type":     "trade",
		"id":             "trade-3",
		"status":         "CONFIRMED",
		"asset_id":       "no-tok",
		"size":           "5",
		"price":          "0.52",
		"taker_order_id": "order-3",
	}
	l.parseTradeEvent(encode(t, event))

	select {
	case f := <-l.fillCh:
		if f.Side != messages.No || f.FilledSize != 5 || f.Status != messages.Confirmed {
			t.Errorf("unexpected fill: %+v", f)
		}
	default:
		t.Fatal("expected taker fallback fill")
	}
}

func TestRetryingStatusIgnored(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	event := map[string]interface{}{
		"event_type": "trade", "id": "trade-4", "status": "RETRYING",
		"asset_id": "yes-tok", "size": "1", "price": "0.5", "taker_order_id": "order-4",
	}
	l.parseTradeEvent(encode(t, event))

	select {
	case f := <-l.fillCh:
		t.Fatalf("RETRYING must not emit a fill, got %+v", f)
	default:
	}
}

// TestDedupAcrossReconnect verifies the dedup cache survives independent of
// any per-connection state — a fill replayed verbatim after a reconnect
// must not be double-counted into inventory.
func TestDedupAcrossReconnect(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	event := map[string]interface{}{
		"event_type":     "trade",
		"id":             "trade-5",
		"status":         "MATCHED",
		"asset_id":       "yes-tok",
		"size":           "8",
		"price":          "0.40",
		"taker_order_id": "order-5",
	}

	l.parseTradeEvent(encode(t, event))
	<-l.fillCh // drain the first, genuine fill

	// Simulate the connection dropping and the venue resending the same
	// trade on resubscribe — the listener itself is untouched, only the
	// (hypothetical) underlying WSConn would have reconnected.
	l.parseTradeEvent(encode(t, event))

	select {
	case f := <-l.fillCh:
		t.Fatalf("replayed trade must be deduped, got %+v", f)
	default:
	}
}

func TestMatchedThenConfirmedSameBucketDeduped(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	matched := map[string]interface{}{
		"event_type": "trade", "id": "trade-6", "status": "MATCHED",
		"asset_id": "yes-tok", "size": "3", "price": "0.3", "taker_order_id": "order-6",
	}
	confirmed := map[string]interface{}{
		"event_type": "trade", "id": "trade-6", "status": "CONFIRMED",
		"asset_id": "yes-tok", "size": "3", "price": "0.3", "taker_order_id": "order-6",
	}

	l.parseTradeEvent(encode(t, matched))
	<-l.fillCh

	l.parseTradeEvent(encode(t, confirmed))
	select {
	case f := <-l.fillCh:
		t.Fatalf("CONFIRMED in the same SUCCESS bucket as MATCHED must be deduped, got %+v", f)
	default:
	}
}

func TestFailedIsItsOwnDedupBucket(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	matched := map[string]interface{}{
		"event_type": "trade", "id": "trade-7", "status": "MATCHED",
		"asset_id": "yes-tok", "size": "4", "price": "0.35", "taker_order_id": "order-7",
	}
	failed := map[string]interface{}{
		"event_type": "trade", "id": "trade-7", "status": "FAILED",
		"asset_id": "yes-tok", "size": "4", "price": "0.35", "taker_order_id": "order-7",
	}

	l.parseTradeEvent(encode(t, matched))
	<-l.fillCh

	l.parseTradeEvent(encode(t, failed))
	select {
	case f := <-l.fillCh:
		if f.Status != messages.Failed {
			t.Errorf("status = %v, want Failed", f.Status)
		}
	default:
		t.Fatal("FAILED is a distinct bucket from MATCHED/CONFIRMED and must emit its own fill")
	}
}

// TestTakerFallbackDistinguishesPartialFillsBySize covers Scenario F: two
// genuine partial fills on the same order at the same price, with no
// trade_id, must both be emitted rather than the second being dropped as a
// false duplicate of the first.
func TestTakerFallbackDistinguishesPartialFillsBySize(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	first := map[string]interface{}{
		"event_type": "trade", "status": "MATCHED",
		"asset_id": "yes-tok", "size": "0.4", "price": "0.5",
		"taker_order_id": "order-8", "timestamp": "1000",
	}
	second := map[string]interface{}{
		"event_type": "trade", "status": "MATCHED",
		"asset_id": "yes-tok", "size": "0.6", "price": "0.5",
		"taker_order_id": "order-8", "timestamp": "1001",
	}

	l.parseTradeEvent(encode(t, first))
	select {
	case f := <-l.fillCh:
		if f.FilledSize != 0.4 {
			t.Fatalf("first fill size = %v, want 0.4", f.FilledSize)
		}
	default:
		t.Fatal("expected the first partial fill to be emitted")
	}

	l.parseTradeEvent(encode(t, second))
	select {
	case f := <-l.fillCh:
		if f.FilledSize != 0.6 {
			t.Fatalf("second fill size = %v, want 0.6", f.FilledSize)
		}
	default:
		t.Fatal("second genuine partial fill must not be merged with the first")
	}
}

// TestMakerFallbackDistinguishesPartialFillsBySize is the maker-side
// counterpart of Scenario F: two distinct partial fills against the same
// resting maker order, same price, no trade_id, must not collide.
func TestMakerFallbackDistinguishesPartialFillsBySize(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	first := map[string]interface{}{
		"event_type": "trade", "status": "MATCHED", "trader_side": "MAKER",
		"timestamp": "2000",
		"maker_orders": []map[string]interface{}{
			{"owner": "our-api-key", "order_id": "order-9", "asset_id": "yes-tok", "matched_amount": "0.3", "price": "0.6"},
		},
	}
	second := map[string]interface{}{
		"event_type": "trade", "status": "MATCHED", "trader_side": "MAKER",
		"timestamp": "2001",
		"maker_orders": []map[string]interface{}{
			{"owner": "our-api-key", "order_id": "order-9", "asset_id": "yes-tok", "matched_amount": "0.7", "price": "0.6"},
		},
	}

	l.parseTradeEvent(encode(t, first))
	select {
	case f := <-l.fillCh:
		if f.FilledSize != 0.3 {
			t.Fatalf("first fill size = %v, want 0.3", f.FilledSize)
		}
	default:
		t.Fatal("expected the first maker partial fill to be emitted")
	}

	l.parseTradeEvent(encode(t, second))
	select {
	case f := <-l.fillCh:
		if f.FilledSize != 0.7 {
			t.Fatalf("second fill size = %v, want 0.7", f.FilledSize)
		}
	default:
		t.Fatal("second genuine maker partial fill must not be merged with the first")
	}
}

func encode(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestDedupCacheEvictsByCapacity(t *testing.T) {
	t.Parallel()
	c := newDedupCache(2, time.Hour)

	if !c.insert("a") {
		t.Fatal("a should be new")
	}
	if !c.insert("b") {
		t.Fatal("b should be new")
	}
	if !c.insert("c") {
		t.Fatal("c should be new")
	}
	// capacity 2: "a" should have been evicted, making it insertable again.
	if !c.insert("a") {
		t.Error("a should be treated as new again after capacity eviction")
	}
}

func TestDedupCacheExpiresByTTL(t *testing.T) {
	t.Parallel()
	c := newDedupCache(10, time.Millisecond)

	c.insert("k")
	time.Sleep(5 * time.Millisecond)
	if !c.insert("k") {
		t.Error("expired key should be treated as new")
	}
}
