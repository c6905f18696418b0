package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 5 * time.Second
	pingInterval     = 15 * time.Second
)

// WSDialer dials the venue's websocket endpoint.
type WSDialer struct {
	URL    string
	Logger *slog.Logger
}

// Dial opens a websocket session and starts its read and ping loops.
// The handshake is bounded so a slow endpoint cannot hang authorization.
func (d *WSDialer) Dial(ctx context.Context) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial error: %w", err)
	}

	s := &Session{
		conn:    conn,
		logger:  d.Logger,
		done:    make(chan struct{}),
		pending: make(map[int64]chan envelope),
	}

	go s.readMessages()
	go s.sendPings()

	return s, nil
}

type envelope struct {
	MsgType string    `json:"msg_type"`
	ReqID   int64     `json:"req_id"`
	Error   *APIError `json:"error"`

	raw json.RawMessage
}

// Session is the websocket Transport implementation. Requests carry a req_id
// and responses are correlated back to the waiting caller; subscription pushes
// are routed by msg_type.
type Session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex // gorilla allows one concurrent writer

	pendingMu sync.Mutex
	pending   map[int64]chan envelope
	nextReqID int64

	balanceMu sync.Mutex
	balanceCh chan BalanceUpdate

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

type authorizeResponse struct {
	Authorize *AuthInfo `json:"authorize"`
}

// Authorize performs the token handshake and returns the resolved account.
func (s *Session) Authorize(ctx context.Context, token string) (*AuthInfo, error) {
	raw, err := s.Send(ctx, Request{"authorize": token})
	if err != nil {
		return nil, err
	}

	var resp authorizeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed authorize response: %w", err)
	}
	if resp.Authorize == nil {
		return nil, errors.New("authorize response missing account")
	}

	return resp.Authorize, nil
}

// Send writes req with a fresh req_id and waits for the correlated response.
func (s *Session) Send(ctx context.Context, req Request) (json.RawMessage, error) {
	s.pendingMu.Lock()
	s.nextReqID++
	reqID := s.nextReqID
	ch := make(chan envelope, 1)
	s.pending[reqID] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, reqID)
		s.pendingMu.Unlock()
	}()

	out := req.Clone()
	if out == nil {
		out = Request{}
	}
	out["req_id"] = reqID

	if err := s.writeJSON(out); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	select {
	case env := <-ch:
		if env.Error != nil {
			return nil, env.Error
		}

		return env.raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errors.New("session closed")
	}
}

type balancePush struct {
	Balance *BalanceUpdate `json:"balance"`
}

// SubscribeBalance opens the streaming balance subscription and returns the
// channel balance pushes are routed to.
func (s *Session) SubscribeBalance(ctx context.Context) (<-chan BalanceUpdate, error) {
	s.balanceMu.Lock()
	if s.balanceCh == nil {
		s.balanceCh = make(chan BalanceUpdate, 16)
	}
	ch := s.balanceCh
	s.balanceMu.Unlock()

	if _, err := s.Send(ctx, Request{"balance": 1, "account": "all", "subscribe": 1}); err != nil {
		return nil, err
	}

	return ch, nil
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.writeMu.Lock()
	s.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	s.writeMu.Unlock()

	err := s.conn.Close()

	s.balanceMu.Lock()
	if s.balanceCh != nil {
		close(s.balanceCh)
		s.balanceCh = nil
	}
	s.balanceMu.Unlock()

	if s.logger != nil {
		s.logger.Debug("venue session closed")
	}

	return err
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.conn.WriteJSON(v)
}

func (s *Session) readMessages() {
	defer s.Close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()

			if !closed && s.logger != nil {
				s.logger.Error("venue read error", slog.Any("error", err))
			}

			return
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			if s.logger != nil {
				s.logger.Error("failed to unmarshal venue message", slog.Any("error", err))
			}

			continue
		}
		env.raw = message

		s.route(env)
	}
}

func (s *Session) route(env envelope) {
	if env.ReqID != 0 {
		s.pendingMu.Lock()
		ch, ok := s.pending[env.ReqID]
		s.pendingMu.Unlock()

		if ok {
			ch <- env
			return
		}
	}

	if env.MsgType == "balance" {
		var push balancePush
		if err := json.Unmarshal(env.raw, &push); err != nil || push.Balance == nil {
			return
		}

		// send under the lock so Close cannot close the channel mid-send
		s.balanceMu.Lock()
		if s.balanceCh != nil {
			select {
			case s.balanceCh <- *push.Balance:
			default: // last-value-wins consumer, dropping is fine
			}
		}
		s.balanceMu.Unlock()
	}
}

func (s *Session) sendPings() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.writeJSON(Request{"ping": 1}); err != nil {
				if s.logger != nil {
					s.logger.Error("venue ping error", slog.Any("error", err))
				}

				return
			}
		}
	}
}
