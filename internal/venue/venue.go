// Package venue holds the connection abstraction for the remote trading venue
// and its websocket implementation. The replication engine depends only on the
// Transport and Dialer interfaces.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Request is one outgoing venue request. The engine treats payloads as opaque
// JSON objects; the session injects the correlation id before writing.
type Request map[string]any

// Clone returns a deep copy of the request so per-destination mutation cannot
// leak back into the source event.
func (r Request) Clone() Request {
	if r == nil {
		return nil
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return Request{}
	}

	var out Request
	if err := json.Unmarshal(raw, &out); err != nil {
		return Request{}
	}

	return out
}

// APIError is a machine-readable rejection returned by the venue,
// e.g. an authorize call with an invalid token.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue error %s: %s", e.Code, e.Message)
}

// AuthInfo is the result of a successful authorize handshake.
type AuthInfo struct {
	LoginID string  `json:"loginid"`
	Balance float64 `json:"balance"`
}

// BalanceUpdate is one message from the balance subscription stream.
type BalanceUpdate struct {
	Balance float64 `json:"balance"`
}

// Transport is a live session with the venue, bound to one websocket
// connection. All methods are safe for concurrent use.
type Transport interface {
	// Authorize performs the token handshake. A rejection is returned
	// as *APIError.
	Authorize(ctx context.Context, token string) (*AuthInfo, error)

	// Send submits a request and returns the raw correlated response.
	// Responses carrying a venue error are returned as *APIError.
	Send(ctx context.Context, req Request) (json.RawMessage, error)

	// SubscribeBalance opens the streaming balance subscription.
	// The returned channel closes when the session closes.
	SubscribeBalance(ctx context.Context) (<-chan BalanceUpdate, error)

	// Close tears the session down. It is idempotent and never fails
	// meaningfully; the error exists for logging only.
	Close() error
}

/// Dialer opens new Transports. One dial per credential: connections are never
// shared between accounts.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}
