// Package exchange implements the Polymarket CLOB REST bootstrap client and
// the reconnecting WebSocket transport shared by the market feed and the
// user fill listener.
//
// Order placement and cancellation are no longer hand-rolled here — they go
// through the Polymarket Go SDK (internal/executor/sdkclient.go), which
// signs orders correctly where a REST-only implementation would have had
// to reimplement CTF Exchange EIP-712 order signing from scratch. This
// client's only remaining REST responsibility is bootstrapping L2 API
// credentials from the L1 wallet signature, a one-time call made before
// any SDK client can be constructed.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"pairmm/internal/config"
)

// Client is the Polymarket CLOB REST bootstrap client.
type Client struct {
	http   *resty.Client
	auth   *Auth
	logger *slog.Logger
}

// NewClient creates the bootstrap REST client.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.Market.RESTURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient, auth: auth, logger: logger}
}

// DeriveAPIKey derives L2 API credentials via L1 EIP-712 authentication and
// stores them on the Auth instance for subsequent WS auth and SDK signer
// construction.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}
