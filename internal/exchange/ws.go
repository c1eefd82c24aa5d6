// ws.go implements a reusable reconnecting WebSocket transport shared by the
// public market feed and the authenticated user fill feed. Each feed brings
// its own subscription payload and message dispatcher; this file owns only
// connection lifecycle: dial, ping keepalive, read-deadline enforcement, and
// reconnection policy.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval   = 50 * time.Second // how often we send PING to keep alive
	readTimeout    = 90 * time.Second // ~2 missed pings triggers reconnect
	writeTimeout   = 10 * time.Second // deadline for outgoing messages
	maxBackoff     = 30 * time.Second // cap on exponential backoff (market feed)
	fixedReconnect = 3 * time.Second  // fixed delay (user feed, per venue guidance)
)

// backoffPolicy computes the delay before the next reconnect attempt, given
// the previous delay (zero on the first call).
type backoffPolicy func(prev time.Duration) time.Duration

// ExponentialBackoff doubles from 1s up to maxBackoff. Used by the public
// market feed.
func ExponentialBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return time.Second
	}
	next := prev * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// FixedBackoff always waits the same delay, matching the venue guidance for
// the authenticated user channel.
func FixedBackoff(time.Duration) time.Duration {
	return fixedReconnect
}

// WSConn is a single reconnecting WebSocket connection. Callers supply a
// subscribe payload (sent fresh on every reconnect) and a dispatch callback
// invoked per inbound message; WSConn itself never interprets message
// bodies.
type WSConn struct {
	url     string
	backoff backoffPolicy
	logger  *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subscribe func() interface{}
	dispatch  func(data []byte)
}

// NewWSConn constructs a connection. subscribe is invoked once per
// successful dial to build the subscription message; dispatch is invoked
// once per inbound text frame.
func NewWSConn(url string, backoff backoffPolicy, subscribe func() interface{}, dispatch func([]byte), logger *slog.Logger) *WSConn {
	return &WSConn{
		url:       url,
		backoff:   backoff,
		subscribe: subscribe,
		dispatch:  dispatch,
		logger:    logger,
	}
}

// Run connects and maintains the connection with automatic reconnection.
// Blocks until ctx is cancelled.
func (c *WSConn) Run(ctx context.Context) error {
	var delay time.Duration

	for {
		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay = c.backoff(delay)
		c.logger.Warn("websocket disconnected, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Close tears down the active connection, if any.
func (c *WSConn) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *WSConn) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		conn.Close()
		c.conn = nil
		c.connMu.Unlock()
	}()

	if err := c.writeJSON(c.subscribe()); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(msg)
	}
}

func (c *WSConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *WSConn) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *WSConn) writeMessage(msgType int, data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}
