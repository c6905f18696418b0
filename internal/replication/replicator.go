package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"copytrade/internal/events"
	"copytrade/internal/venue"

	"github.com/shopspring/decimal"
)

// TopicPurchase is the bus topic the trade-execution side publishes one
// PurchaseEvent per executed master trade on.
const TopicPurchase = "replicator.purchase"

const (
	dedupWindow   = 15 * time.Second
	maxSeenKeys   = 1000 // memory bound independent of the dedup window
	tradeLogLimit = 50
	sendTimeout   = 10 * time.Second
)

// PurchaseEvent is one executed master trade to replicate.
type PurchaseEvent struct {
	ContractType string        `json:"contract_type"`
	Mode         string        `json:"mode"`
	Request      venue.Request `json:"request"`
}

// TradeLogEntry is one dispatch attempt, success or failure.
type TradeLogEntry struct {
	DestinationID string        `json:"id"`
	AccountID     string        `json:"accountId"`
	Payload       venue.Request `json:"payload"`
	TimeMs        int64         `json:"time"`
	Error         string        `json:"error,omitempty"`
}

// Journal persists dispatch attempts outside the in-memory ring. Optional.
type Journal interface {
	AppendJournal(destinationID, accountID, payload, errMsg string) error
}

// Notifier pushes dispatch results to an external channel. Optional.
type Notifier interface {
	NotifyTrade(entry TradeLogEntry)
}

// Replicator consumes purchase events and fans each one out to every enabled
// destination with inter-send spacing. Dispatch is fire-and-forget: failures
// are only observable through the trade log.
type Replicator struct {
	manager  *Manager
	logger   *slog.Logger
	journal  Journal
	notifier Notifier

	spacing time.Duration
	window  time.Duration
	dryRun  bool

	mu        sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
	logs      []TradeLogEntry // append-only ring, oldest first
}

// ReplicatorOption configures a Replicator.
type ReplicatorOption func(*Replicator)

// WithSpacing overrides the default 300ms inter-send spacing.
func WithSpacing(d time.Duration) ReplicatorOption {
	return func(r *Replicator) { r.spacing = d }
}

// WithDedupWindow overrides the default 15s duplicate window.
func WithDedupWindow(d time.Duration) ReplicatorOption {
	return func(r *Replicator) { r.window = d }
}

// WithJournal mirrors trade log entries into persistent storage.
func WithJournal(j Journal) ReplicatorOption {
	return func(r *Replicator) { r.journal = j }
}

// WithNotifier pushes trade log entries to an external notifier.
func WithNotifier(n Notifier) ReplicatorOption {
	return func(r *Replicator) { r.notifier = n }
}

// WithDryRun logs and journals dispatches without sending them.
func WithDryRun(enabled bool) ReplicatorOption {
	return func(r *Replicator) { r.dryRun = enabled }
}

// NewReplicator creates a Replicator over the manager's roster.
func NewReplicator(manager *Manager, logger *slog.Logger, opts ...ReplicatorOption) *Replicator {
	r := &Replicator{
		manager: manager,
		logger:  logger,
		spacing: 300 * time.Millisecond,
		window:  dedupWindow,
		seen:    make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// InitReplicator registers the replicator on the purchase topic and returns an
// idempotent teardown callback.
func InitReplicator(bus *events.Bus, r *Replicator) func() {
	id := bus.Register(TopicPurchase, func(payload any) {
		switch evt := payload.(type) {
		case PurchaseEvent:
			r.HandlePurchase(evt)
		case *PurchaseEvent:
			r.HandlePurchase(*evt)
		default:
			r.logger.Warn("ignoring unexpected purchase payload",
				slog.String("type", fmt.Sprintf("%T", payload)))
		}
	})

	var once sync.Once

	return func() {
		once.Do(func() {
			bus.Unregister(TopicPurchase, id)
		})
	}
}

// HandlePurchase processes one purchase event: dedup, settings check, stake
// transform, staggered fan-out.
func (r *Replicator) HandlePurchase(evt PurchaseEvent) {
	key := dedupKey(evt)
	if !r.markSeen(key) {
		return // duplicate within the window, dropped silently
	}

	settings := r.manager.Settings()
	if !settings.ReplicationEnabled {
		return // still marked seen, so a duplicate burst is not reprocessed
	}

	req := evt.Request.Clone()
	if req == nil {
		req = venue.Request{}
	}

	if evt.Mode == "parameters" {
		applyStake(req, settings)
	}

	delay := time.Duration(0)
	for _, dest := range r.manager.Destinations() {
		d := dest
		time.AfterFunc(delay, func() {
			r.dispatch(d, req)
		})
		delay += r.spacing
	}
}

// Logs returns the most recent dispatch attempts, newest first, capped at 50.
func (r *Replicator) Logs() []TradeLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TradeLogEntry, 0, len(r.logs))
	for i := len(r.logs) - 1; i >= 0; i-- {
		out = append(out, r.logs[i])
	}

	return out
}

// dispatch sends the request to one destination. Failures are isolated: they
// are logged and journaled, never propagated.
func (r *Replicator) dispatch(dest Destination, req venue.Request) {
	if r.manager.EpochOf(dest.ID) != dest.Epoch {
		r.logger.Debug("skipping retired destination", slog.String("id", dest.ID))
		return
	}

	entry := TradeLogEntry{
		DestinationID: dest.ID,
		AccountID:     dest.Conn.AccountID(),
		Payload:       req,
		TimeMs:        time.Now().UnixMilli(),
	}

	if r.dryRun {
		r.logger.Info("dry run, skipping send", slog.String("id", dest.ID))
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if _, err := dest.Conn.Send(ctx, req); err != nil {
			entry.Error = err.Error()

			r.logger.Warn("replicator send failed",
				slog.String("id", dest.ID),
				slog.Any("error", err))
		}
	}

	r.appendLog(entry)
}

func (r *Replicator) appendLog(entry TradeLogEntry) {
	r.mu.Lock()
	r.logs = append(r.logs, entry)
	if len(r.logs) > tradeLogLimit {
		r.logs = r.logs[len(r.logs)-tradeLogLimit:]
	}
	r.mu.Unlock()

	if r.journal != nil {
		payload := ""
		if b, err := json.Marshal(entry.Payload); err == nil {
			payload = string(b)
		}

		if err := r.journal.AppendJournal(entry.DestinationID, entry.AccountID, payload, entry.Error); err != nil {
			r.logger.Warn("failed to journal dispatch", slog.Any("error", err))
		}
	}

	if r.notifier != nil {
		r.notifier.NotifyTrade(entry)
	}
}

// markSeen records the dedup key. It returns false when the key was already
// seen inside the window. Keys expire on a timer, with size-based eviction of
// the oldest keys as a backstop.
func (r *Replicator) markSeen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen[key]; dup {
		return false
	}

	r.seen[key] = struct{}{}
	r.seenOrder = append(r.seenOrder, key)

	for len(r.seen) > maxSeenKeys {
		oldest := r.seenOrder[0]
		r.seenOrder = r.seenOrder[1:]
		delete(r.seen, oldest)
	}

	time.AfterFunc(r.window, func() {
		r.mu.Lock()
		delete(r.seen, key)
		r.mu.Unlock()
	})

	return true
}

// dedupKey prefers the embedded purchase reference; otherwise it synthesizes a
// key from the contract type, the buy marker and the current time.
func dedupKey(evt PurchaseEvent) string {
	if ref := purchaseReference(evt.Request); ref != "" {
		return ref
	}

	return fmt.Sprintf("%s-%v-%d", evt.ContractType, evt.Request["buy"], time.Now().UnixMilli())
}

func purchaseReference(req venue.Request) string {
	if req == nil {
		return ""
	}

	if params, ok := req["parameters"].(map[string]any); ok {
		if ref := passthroughReference(params); ref != "" {
			return ref
		}
	}

	return passthroughReference(req)
}

func passthroughReference(obj map[string]any) string {
	passthrough, ok := obj["passthrough"].(map[string]any)
	if !ok {
		return ""
	}

	ref, _ := passthrough["purchase_reference"].(string)

	return ref
}

// applyStake transforms the parameterized stake in place: amount scaled by the
// multiplier, rounded to 2 decimals, then clamped to the cap. A top-level
// price mirroring the amount is overwritten to match.
func applyStake(req venue.Request, settings Settings) {
	params, ok := req["parameters"].(map[string]any)
	if !ok {
		return
	}

	amount, ok := toFloat(params["amount"])
	if !ok {
		return
	}

	transformed := TransformStake(amount, settings.StakeMultiplier, settings.StakeCap)
	params["amount"] = transformed

	if _, hasPrice := req["price"]; hasPrice {
		req["price"] = transformed
	}
}

// TransformStake scales the amount, rounds to 2 decimal places and clamps to
// the cap when one is configured.
func TransformStake(amount, multiplier float64, limit *float64) float64 {
	d := decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(multiplier)).
		Round(2)

	if limit != nil {
		d = decimal.Min(d, decimal.NewFromFloat(*limit))
	}

	f, _ := d.Float64()

	return f
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}

	return 0, false
}
