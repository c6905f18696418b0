package replication

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"copytrade/internal/venue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory Store.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (m *memStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// plainCipher stores values unchanged; vault behavior is tested in its own package.
type plainCipher struct{}

func (plainCipher) Encrypt(s string) string { return s }
func (plainCipher) Decrypt(s string) string { return s }

type sentRequest struct {
	req venue.Request
	at  time.Time
}

// fakeTransport records sends and answers authorize with canned results.
type fakeTransport struct {
	mu       sync.Mutex
	authInfo venue.AuthInfo
	authErr  error
	sendErr  error
	sent     []sentRequest
	sentCh   chan sentRequest
	closed   bool
}

func (f *fakeTransport) Authorize(_ context.Context, _ string) (*venue.AuthInfo, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}

	info := f.authInfo
	return &info, nil
}

func (f *fakeTransport) Send(_ context.Context, req venue.Request) (json.RawMessage, error) {
	f.mu.Lock()
	s := sentRequest{req: req.Clone(), at: time.Now()}
	f.sent = append(f.sent, s)
	f.mu.Unlock()

	if f.sentCh != nil {
		f.sentCh <- s
	}

	if f.sendErr != nil {
		return nil, f.sendErr
	}

	return json.RawMessage(`{"msg_type":"buy"}`), nil
}

func (f *fakeTransport) SubscribeBalance(_ context.Context) (<-chan venue.BalanceUpdate, error) {
	ch := make(chan venue.BalanceUpdate)
	close(ch)
	return ch, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer hands out one preconfigured transport per Dial call, in order.
// When the queue runs dry it creates plain transports authorizing as lastInfo.
type fakeDialer struct {
	mu       sync.Mutex
	queue    []*fakeTransport
	lastInfo venue.AuthInfo
	dialErr  error
	dialed   []*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context) (venue.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dialErr != nil {
		return nil, d.dialErr
	}

	var t *fakeTransport
	if len(d.queue) > 0 {
		t = d.queue[0]
		d.queue = d.queue[1:]
	} else {
		t = &fakeTransport{authInfo: d.lastInfo}
	}

	d.dialed = append(d.dialed, t)

	return t, nil
}

func (d *fakeDialer) enqueue(t *fakeTransport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, t)
}
