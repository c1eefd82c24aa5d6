package executor

import (
	"context"
	"fmt"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"

	"pairmm/internal/exchange"
)

// SDKOrderClient adapts the Polymarket CLOB SDK's order builder and client
// to the narrow OrderClient interface the Executor depends on. This is the
// only place in the codebase that imports pkg/clob and pkg/clob/clobtypes —
// everything upstream of it deals in plain token IDs, prices, and sizes.
//
// Rate limiting moved here from the old hand-rolled REST client: every order
// and cancel still crosses the same per-category Polymarket limits whether
// the request is built by hand or by the SDK, so the same token buckets
// gate the SDK calls.
type SDKOrderClient struct {
	client clob.Client
	signer auth.Signer
	rl     *exchange.RateLimiter
}

// NewSDKOrderClient wraps an authenticated CLOB client. client is typically
// obtained via polymarket.NewClient().CLOB.WithAuth(signer, apiKey).
func NewSDKOrderClient(client clob.Client, signer auth.Signer, rl *exchange.RateLimiter) *SDKOrderClient {
	return &SDKOrderClient{client: client, signer: signer, rl: rl}
}

// PlaceOrder builds and signs a GTC limit BUY order and submits it. Every
// order this pipeline places is a BUY on one outcome token. PostOnly(true)
// is set so the venue itself rejects the order rather than letting it cross
// the spread and take liquidity — the Coordinator's pricing never intends
// to cross, but the venue-side flag is what actually enforces that, not the
// quoted price alone.
func (c *SDKOrderClient) PlaceOrder(ctx context.Context, tokenID string, price, size float64) (string, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", fmt.Errorf("order rate limit: %w", err)
	}

	builder := clob.NewOrderBuilder(c.client, c.signer).
		TokenID(tokenID).
		Side("BUY").
		Price(price).
		AmountUSDC(price * size).
		OrderType(clobtypes.OrderTypeGTC).
		PostOnly(true)

	signable, err := builder.BuildSignableWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("build order: %w", err)
	}

	resp, err := c.client.CreateOrderFromSignable(ctx, signable)
	if err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	return resp.ID, nil
}

// CancelOrders cancels the given order IDs in one request.
func (c *SDKOrderClient) CancelOrders(ctx context.Context, orderIDs []string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return fmt.Errorf("cancel rate limit: %w", err)
	}
	_, err := c.client.CancelOrders(ctx, &clobtypes.CancelOrdersRequest{OrderIDs: orderIDs})
	if err != nil {
		return fmt.Errorf("cancel orders: %w", err)
	}
	return nil
}

// CancelAll cancels every order resting under this account.
func (c *SDKOrderClient) CancelAll(ctx context.Context) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return fmt.Errorf("cancel rate limit: %w", err)
	}
	_, err := c.client.CancelAll(ctx)
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	return nil
}
