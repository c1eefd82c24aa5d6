package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pairmm/internal/messages"
	"pairmm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

// fakeClient is a controllable OrderClient for testing Executor logic
// without a live exchange connection.
type fakeClient struct {
	mu sync.Mutex

	placeErr     error
	cancelErr    error
	cancelAllErr error

	nextID   int
	placed   []string
	canceled []string
}

func (f *fakeClient) PlaceOrder(ctx context.Context, tokenID string, price, size float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.nextID++
	id := fmt.Sprintf("live-order-%d", f.nextID)
	f.placed = append(f.placed, id)
	return id, nil
}

func (f *fakeClient) CancelOrders(ctx context.Context, orderIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, orderIDs...)
	return nil
}

func (f *fakeClient) CancelAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelAllErr
}

func newTestExecutor(cfg Config, client OrderClient) (*Executor, chan messages.ExecutionCmd, chan messages.OrderResult, chan messages.FillEvent) {
	cmdCh := make(chan messages.ExecutionCmd, 4)
	resultCh := make(chan messages.OrderResult, 4)
	fillCh := make(chan messages.FillEvent, 4)
	e := New(cfg, client, cmdCh, resultCh, fillCh, testLogger())
	return e, cmdCh, resultCh, fillCh
}

func testConfig(dryRun bool) Config {
	return Config{YesTokenID: "yes-tok", NoTokenID: "no-tok", TickSize: types.Tick001, DryRun: dryRun}
}

func TestDryRunPlaceTracksFakeOrderAndEmitsNoFailure(t *testing.T) {
	t.Parallel()
	e, cmdCh, resultCh, _ := newTestExecutor(testConfig(true), &fakeClient{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	cmdCh <- messages.PlacePostOnlyBid(messages.Yes, 0.45, 10, messages.ReasonProvide)
	time.Sleep(20 * time.Millisecond)

	if e.OpenOrderCount(messages.Yes) != 1 {
		t.Fatalf("expected 1 tracked order, got %d", e.OpenOrderCount(messages.Yes))
	}
	select {
	case r := <-resultCh:
		t.Fatalf("dry-run placement must not fail, got %+v", r)
	default:
	}
}

func TestRefusesToPlaceWhenSideAlreadyResting(t *testing.T) {
	t.Parallel()
	e, cmdCh, resultCh, _ := newTestExecutor(testConfig(true), &fakeClient{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	cmdCh <- messages.PlacePostOnlyBid(messages.Yes, 0.45, 10, messages.ReasonProvide)
	time.Sleep(20 * time.Millisecond)
	cmdCh <- messages.PlacePostOnlyBid(messages.Yes, 0.46, 10, messages.ReasonReprice)
	time.Sleep(20 * time.Millisecond)

	if e.OpenOrderCount(messages.Yes) != 1 {
		t.Fatalf("second placement on a resting side must be refused, got %d tracked", e.OpenOrderCount(messages.Yes))
	}
	select {
	case r := <-resultCh:
		if r.Side != messages.Yes {
			t.Errorf("OrderFailed.Side = %v, want Yes", r.Side)
		}
	default:
		t.Fatal("expected an OrderFailed for the refused placement")
	}
}

func TestLivePlaceErrorEmitsOrderFailed(t *testing.T) {
	t.Parallel()
	client := &fakeClient{placeErr: errors.New("rejected")}
	e, cmdCh, resultCh, _ := newTestExecutor(testConfig(false), client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	cmdCh <- messages.PlacePostOnlyBid(messages.No, 0.5, 5, messages.ReasonProvide)
	time.Sleep(20 * time.Millisecond)

	if e.OpenOrderCount(messages.No) != 0 {
		t.Fatal("a failed placement must not be tracked")
	}
	select {
	case r := <-resultCh:
		if r.Side != messages.No {
			t.Errorf("OrderFailed.Side = %v, want No", r.Side)
		}
	default:
		t.Fatal("expected OrderFailed after a rejected live placement")
	}
}

func TestCancelOrderKeepsTrackingOnRemoteFailure(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	e, cmdCh, _, _ := newTestExecutor(testConfig(false), client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	cmdCh <- messages.PlacePostOnlyBid(messages.Yes, 0.4, 10, messages.ReasonProvide)
	time.Sleep(20 * time.Millisecond)
	if e.OpenOrderCount(messages.Yes) != 1 {
		t.Fatal("expected the order to be tracked after a successful live placement")
	}

	client.mu.Lock()
	client.cancelErr = errors.New("network blip")
	client.mu.Unlock()

	cmdCh <- messages.CancelSide(messages.Yes, messages.ReasonReprice)
	time.Sleep(20 * time.Millisecond)

	if e.OpenOrderCount(messages.Yes) != 1 {
		t.Fatal("a failed remote cancel must keep the order tracked, not remove it")
	}
}

func TestCancelAllFallsBackToPerOrderOnBulkFailure(t *testing.T) {
	t.Parallel()
	client := &fakeClient{cancelAllErr: errors.New("bulk endpoint down")}
	e, cmdCh, _, _ := newTestExecutor(testConfig(false), client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	cmdCh <- messages.PlacePostOnlyBid(messages.Yes, 0.4, 10, messages.ReasonProvide)
	time.Sleep(20 * time.Millisecond)
	cmdCh <- messages.PlacePostOnlyBid(messages.No, 0.5, 10, messages.ReasonProvide)
	time.Sleep(20 * time.Millisecond)

	cmdCh <- messages.CancelAll(messages.ReasonShutdown)
	time.Sleep(20 * time.Millisecond)

	if e.OpenOrderCount(messages.Yes) != 0 || e.OpenOrderCount(messages.No) != 0 {
		t.Fatal("per-order fallback should have cancelled every tracked order")
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.canceled) != 2 {
		t.Fatalf("expected 2 per-order cancels in the fallback, got %d", len(client.canceled))
	}
}

func TestFillFullyFilledRemovesOrder(t *testing.T) {
	t.Parallel()
	e, cmdCh, _, fillCh := newTestExecutor(testConfig(true), &fakeClient{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	cmdCh <- messages.PlacePostOnlyBid(messages.Yes, 0.4, 10, messages.ReasonProvide)
	time.Sleep(20 * time.Millisecond)

	var orderID string
	for id := range e.openOrders[messages.Yes] {
		orderID = id
	}

	fillCh <- messages.FillEvent{OrderID: orderID, Side: messages.Yes, FilledSize: 10, Price: 0.4, Status: messages.Matched, Ts: time.Now()}
	time.Sleep(20 * time.Millisecond)

	if e.OpenOrderCount(messages.Yes) != 0 {
		t.Fatal("a fill covering the full remaining size must remove the order")
	}
}

func TestFillPartialLeavesRemainder(t *testing.T) {
	t.Parallel()
	e, cmdCh, _, fillCh := newTestExecutor(testConfig(true), &fakeClient{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	cmdCh <- messages.PlacePostOnlyBid(messages.Yes, 0.4, 10, messages.ReasonProvide)
	time.Sleep(20 * time.Millisecond)

	var orderID string
	for id := range e.openOrders[messages.Yes] {
		orderID = id
	}

	fillCh <- messages.FillEvent{OrderID: orderID, Side: messages.Yes, FilledSize: 4, Price: 0.4, Status: messages.Matched, Ts: time.Now()}
	time.Sleep(20 * time.Millisecond)

	if e.OpenOrderCount(messages.Yes) != 1 {
		t.Fatal("a partial fill must keep the order tracked")
	}
	if remaining := e.openOrders[messages.Yes][orderID]; remaining != 6 {
		t.Fatalf("remaining size = %v, want 6", remaining)
	}
}

func TestFailedFillRemovesOrderOutright(t *testing.T) {
	t.Parallel()
	e, cmdCh, _, fillCh := newTestExecutor(testConfig(true), &fakeClient{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	cmdCh <- messages.PlacePostOnlyBid(messages.No, 0.5, 5, messages.ReasonProvide)
	time.Sleep(20 * time.Millisecond)

	var orderID string
	for id := range e.openOrders[messages.No] {
		orderID = id
	}

	fillCh <- messages.FillEvent{OrderID: orderID, Side: messages.No, FilledSize: 0, Price: 0, Status: messages.Failed, Ts: time.Now()}
	time.Sleep(20 * time.Millisecond)

	if e.OpenOrderCount(messages.No) != 0 {
		t.Fatal("a FAILED fill must remove the order regardless of remaining size")
	}
}

func TestFillForUntrackedOrderIsIgnored(t *testing.T) {
	t.Parallel()
	e, _, _, fillCh := newTestExecutor(testConfig(true), &fakeClient{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	fillCh <- messages.FillEvent{OrderID: "ghost", Side: messages.Yes, FilledSize: 5, Status: messages.Matched, Ts: time.Now()}
	time.Sleep(20 * time.Millisecond)

	if e.OpenOrderCount(messages.Yes) != 0 {
		t.Fatal("a fill for an order the executor never placed must not create tracking state")
	}
}

func TestPriceAndSizeRounding(t *testing.T) {
	t.Parallel()
	if got := roundPrice(0.123456, types.Tick0001); got != 0.123 {
		t.Errorf("roundPrice(0.123456, Tick0001) = %v, want 0.123", got)
	}
	if got := roundSize(1.1234567); got != 1.123457 {
		t.Errorf("roundSize(1.1234567) = %v, want 1.123457", got)
	}
}

func TestRoundPriceUsesMarketTickPrecision(t *testing.T) {
	t.Parallel()
	if got := roundPrice(0.4567, types.Tick01); got != 0.5 {
		t.Errorf("roundPrice(0.4567, Tick01) = %v, want 0.5", got)
	}
	if got := roundPrice(0.4567, types.Tick00001); got != 0.4567 {
		t.Errorf("roundPrice(0.4567, Tick00001) = %v, want 0.4567", got)
	}
}
