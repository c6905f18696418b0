package replication

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"copytrade/internal/venue"
)

const connectTimeout = 10 * time.Second

// Connection wraps one authenticated venue session for a single credential.
// It owns the connect/authorize/subscribe/disconnect lifecycle and tracks the
// last known balance from the subscription stream.
type Connection struct {
	dialer venue.Dialer
	logger *slog.Logger

	mu        sync.Mutex
	status    Status
	transport venue.Transport
	accountID string
	balance   float64
}

// NewConnection creates a disconnected Connection.
func NewConnection(dialer venue.Dialer, logger *slog.Logger) *Connection {
	return &Connection{
		dialer: dialer,
		logger: logger,
		status: StatusDisconnected,
	}
}

// ConnectAndAuthorize opens a transport session and performs the authorize
// handshake, bounded by a fallback timeout so an ambiguous transport cannot
// hang indefinitely. On success the connection is connected, knows its account
// id and follows the balance stream until disconnect.
func (c *Connection) ConnectAndAuthorize(ctx context.Context, token string) (*venue.AuthInfo, error) {
	c.mu.Lock()
	c.status = StatusConnecting
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	transport, err := c.dialer.Dial(dialCtx)
	if err != nil {
		c.setError()
		return nil, err
	}

	info, err := transport.Authorize(dialCtx, token)
	if err != nil {
		transport.Close()
		c.setError()

		return nil, err
	}

	c.mu.Lock()
	c.transport = transport
	c.status = StatusConnected
	c.accountID = info.LoginID
	c.balance = info.Balance
	c.mu.Unlock()

	updates, err := transport.SubscribeBalance(dialCtx)
	if err != nil {
		// the session stays usable without the stream; balance just goes stale
		c.logger.Warn("balance subscription failed", slog.Any("error", err))
	} else {
		go c.followBalance(updates)
	}

	return info, nil
}

// Disconnect tears the session down. It never fails: close errors are logged
// and the connection always ends up disconnected.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	if transport != nil {
		if err := transport.Close(); err != nil {
			c.logger.Debug("transport close error", slog.Any("error", err))
		}
	}
}

// Send submits a request over the live session.
func (c *Connection) Send(ctx context.Context, req venue.Request) (json.RawMessage, error) {
	c.mu.Lock()
	transport := c.transport
	status := c.status
	c.mu.Unlock()

	if transport == nil || status != StatusConnected {
		return nil, ErrNotConnected
	}

	return transport.Send(ctx, req)
}

// Status returns the current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// AccountID returns the account id resolved by authorize, or "".
func (c *Connection) AccountID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.accountID
}

// Balance returns the last known balance.
func (c *Connection) Balance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.balance
}

func (c *Connection) setError() {
	c.mu.Lock()
	c.status = StatusError
	c.mu.Unlock()
}

// followBalance applies streamed updates until the channel closes on
// disconnect. Single writer, last value wins.
func (c *Connection) followBalance(updates <-chan venue.BalanceUpdate) {
	for u := range updates {
		c.mu.Lock()
		c.balance = u.Balance
		c.mu.Unlock()
	}
}

// AuthErrorDetails extracts a machine-readable code and message from a connect
// failure, preferring the venue's own rejection over a generic fallback.
func AuthErrorDetails(err error) (code, message string) {
	var apiErr *venue.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message
	}

	return "Error", "Authorization failed"
}
