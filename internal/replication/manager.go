package replication

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"copytrade/internal/venue"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Storage slots. The stored values are the encrypted serialization of the
// in-memory model; memory is the source of truth during a session.
const (
	slotMasterToken = "copy_trading.master_token"
	slotCopiers     = "copy_trading.copiers"
	slotSettings    = "copy_trading.settings"
)

// Store is the local key-value persistence the model is written to.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Cipher is the at-rest obfuscation layer. Both methods always return some
// string; see the vault package for the fallback contract.
type Cipher interface {
	Encrypt(plaintext string) string
	Decrypt(envelope string) string
}

// Destination is a snapshot handle the replicator dispatches to. Epoch is the
// generation of the roster entry when the snapshot was taken: a scheduled send
// re-checks it before firing so removal or disable retires in-flight sends.
type Destination struct {
	ID        string
	AccountID string
	Epoch     uint64
	Conn      *Connection
}

// Manager owns the master record, the copier roster, the replication settings
// and every live connection. All mutations go through it and persist the full
// model afterwards.
type Manager struct {
	store  Store
	cipher Cipher
	dialer venue.Dialer
	logger *slog.Logger

	mu          sync.Mutex
	master      MasterState
	copiers     []*Copier
	settings    Settings
	masterConn  *Connection
	copierConns map[string]*Connection
	epochs      map[string]uint64
}

// NewManager creates a Manager and restores any persisted state. Restore never
// fails: corrupted slots degrade to plaintext interpretation, then to empty
// defaults.
func NewManager(store Store, cipher Cipher, dialer venue.Dialer, logger *slog.Logger) *Manager {
	m := &Manager{
		store:  store,
		cipher: cipher,
		dialer: dialer,
		logger: logger,
		master: MasterState{Status: StatusDisconnected},

		settings:    DefaultSettings(),
		copierConns: make(map[string]*Connection),
		epochs:      make(map[string]uint64),
	}

	m.restore()

	return m
}

// SetMasterToken trims and stores the master token. It does not connect.
func (m *Manager) SetMasterToken(token string) {
	m.mu.Lock()
	m.master.Token = strings.TrimSpace(token)
	m.mu.Unlock()

	m.persist()
}

// ConnectMaster replaces any existing master connection with a freshly
// authorized one.
func (m *Manager) ConnectMaster(ctx context.Context) error {
	m.mu.Lock()
	token := m.master.Token
	old := m.masterConn
	m.mu.Unlock()

	if token == "" {
		return ErrMissingMasterToken
	}

	if old != nil {
		old.Disconnect()
	}

	conn := NewConnection(m.dialer, m.logger)

	info, err := conn.ConnectAndAuthorize(ctx, token)

	m.mu.Lock()
	if err != nil {
		m.master.Status = StatusError
		m.mu.Unlock()
		m.persist()

		return err
	}

	m.masterConn = conn
	m.master.Status = StatusConnected
	m.master.AccountID = info.LoginID
	m.master.Balance = info.Balance
	m.mu.Unlock()

	m.logger.Info("master connected", slog.String("account", info.LoginID))
	m.persist()

	return nil
}

// DisconnectMaster tears down the master connection.
func (m *Manager) DisconnectMaster() {
	m.mu.Lock()
	conn := m.masterConn
	m.masterConn = nil
	m.master.Status = StatusDisconnected
	m.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}

	m.persist()
}

// AddCopier validates the token and appends a new enabled roster entry.
func (m *Manager) AddCopier(token string) (Copier, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Copier{}, ErrTokenRequired
	}

	m.mu.Lock()
	for _, c := range m.copiers {
		if c.Token == trimmed {
			m.mu.Unlock()
			return Copier{}, ErrDuplicateToken
		}
	}

	copier := &Copier{
		ID:      uuid.NewString(),
		Token:   trimmed,
		Status:  StatusDisconnected,
		AddedAt: time.Now().UnixMilli(),
		Enabled: true,
	}
	m.copiers = append(m.copiers, copier)
	snapshot := *copier
	m.mu.Unlock()

	m.logger.Info("copier added", slog.String("id", copier.ID))
	m.persist()

	return snapshot, nil
}

// RemoveCopier disconnects and deletes the roster entry. Unknown ids are a
// no-op.
func (m *Manager) RemoveCopier(id string) {
	m.mu.Lock()
	idx := -1
	for i, c := range m.copiers {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return
	}

	conn := m.copierConns[id]
	delete(m.copierConns, id)
	m.copiers = append(m.copiers[:idx], m.copiers[idx+1:]...)
	m.epochs[id]++ // retire scheduled sends targeting this entry
	m.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}

	m.logger.Info("copier removed", slog.String("id", id))
	m.persist()
}

// ConnectCopier authorizes the given roster entry. An authorization failure is
// recorded on the entry and returned to the caller.
func (m *Manager) ConnectCopier(ctx context.Context, id string) error {
	m.mu.Lock()
	copier := m.findLocked(id)
	if copier == nil {
		m.mu.Unlock()
		return ErrCopierNotFound
	}
	token := copier.Token
	old := m.copierConns[id]
	m.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}

	conn := NewConnection(m.dialer, m.logger)

	info, err := conn.ConnectAndAuthorize(ctx, token)

	m.mu.Lock()
	copier = m.findLocked(id)
	if copier == nil {
		m.mu.Unlock()
		conn.Disconnect() // removed while connecting
		return ErrCopierNotFound
	}

	if err != nil {
		copier.Status = StatusError
		copier.LastErrorCode, copier.LastErrorMsg = AuthErrorDetails(err)
		m.mu.Unlock()
		m.persist()

		return err
	}

	copier.Status = StatusConnected
	copier.AccountID = info.LoginID
	copier.Balance = info.Balance
	copier.LastErrorCode = ""
	copier.LastErrorMsg = ""
	m.copierConns[id] = conn
	m.mu.Unlock()

	m.logger.Info("copier connected",
		slog.String("id", id),
		slog.String("account", info.LoginID))
	m.persist()

	return nil
}

// DisconnectCopier tears down the entry's live connection.
func (m *Manager) DisconnectCopier(id string) {
	m.mu.Lock()
	conn := m.copierConns[id]
	delete(m.copierConns, id)
	if copier := m.findLocked(id); copier != nil {
		copier.Status = StatusDisconnected
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}

	m.persist()
}

// ConnectAllCopiers connects every roster entry concurrently. Individual
// failures are recorded on their entries; the first one is returned.
func (m *Manager) ConnectAllCopiers(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.copiers))
	for _, c := range m.copiers {
		ids = append(ids, c.ID)
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return m.ConnectCopier(ctx, id)
		})
	}

	return g.Wait()
}

// EnableCopier toggles whether the entry receives replicated trades.
func (m *Manager) EnableCopier(id string, enabled bool) error {
	m.mu.Lock()
	copier := m.findLocked(id)
	if copier == nil {
		m.mu.Unlock()
		return ErrCopierNotFound
	}

	copier.Enabled = enabled
	if !enabled {
		m.epochs[id]++ // retire scheduled sends
	}
	m.mu.Unlock()

	m.persist()

	return nil
}

// EnableReplication toggles the global replication switch.
func (m *Manager) EnableReplication(enabled bool) {
	m.mu.Lock()
	m.settings.ReplicationEnabled = enabled
	m.mu.Unlock()

	m.persist()
}

// SetStakeCap sets the stake ceiling; nil removes it.
func (m *Manager) SetStakeCap(limit *float64) {
	m.mu.Lock()
	m.settings.StakeCap = limit
	m.mu.Unlock()

	m.persist()
}

// SetStakeMultiplier sets the stake scaling factor, clamped to 0.01 so a
// degenerate multiplier cannot zero out stakes.
func (m *Manager) SetStakeMultiplier(mult float64) {
	if mult < 0.01 {
		mult = 0.01
	}

	m.mu.Lock()
	m.settings.StakeMultiplier = mult
	m.mu.Unlock()

	m.persist()
}

// Settings returns a snapshot of the replication settings.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.settings
	if s.StakeCap != nil {
		v := *s.StakeCap
		s.StakeCap = &v
	}

	return s
}

// Master returns a snapshot of the master state.
func (m *Manager) Master() MasterState {
	m.mu.Lock()
	defer m.mu.Unlock()

	master := m.master
	if m.masterConn != nil {
		master.Balance = m.masterConn.Balance()
	}

	return master
}

// Copiers returns the roster in insertion order.
func (m *Manager) Copiers() []Copier {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Copier, 0, len(m.copiers))
	for _, c := range m.copiers {
		snapshot := *c
		if conn := m.copierConns[c.ID]; conn != nil {
			snapshot.Balance = conn.Balance()
		}

		out = append(out, snapshot)
	}

	return out
}

// Destinations returns the dispatch targets for one purchase event: the master
// connection when present, then every enabled copier's connection in roster
// order.
func (m *Manager) Destinations() []Destination {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dests []Destination
	if m.masterConn != nil {
		dests = append(dests, Destination{
			ID:        "master",
			AccountID: m.master.AccountID,
			Epoch:     m.epochs["master"],
			Conn:      m.masterConn,
		})
	}

	for _, c := range m.copiers {
		if !c.Enabled {
			continue
		}

		conn := m.copierConns[c.ID]
		if conn == nil {
			continue
		}

		dests = append(dests, Destination{
			ID:        c.ID,
			AccountID: c.AccountID,
			Epoch:     m.epochs[c.ID],
			Conn:      conn,
		})
	}

	return dests
}

// EpochOf returns the current generation of a roster entry.
func (m *Manager) EpochOf(id string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.epochs[id]
}

func (m *Manager) findLocked(id string) *Copier {
	for _, c := range m.copiers {
		if c.ID == id {
			return c
		}
	}

	return nil
}

// persist writes the encrypted serialization of the full model. Persistence
// failures are logged and absorbed; they never interrupt the caller.
func (m *Manager) persist() {
	m.mu.Lock()
	token := m.master.Token
	copiersJSON, err := json.Marshal(m.copiers)
	if err != nil {
		copiersJSON = []byte("[]")
	}
	settingsJSON, err := json.Marshal(m.settings)
	if err != nil {
		settingsJSON = []byte("{}")
	}
	m.mu.Unlock()

	if err := m.store.Set(slotMasterToken, m.cipher.Encrypt(token)); err != nil {
		m.logger.Warn("failed to persist master token", slog.Any("error", err))
	}
	if err := m.store.Set(slotCopiers, m.cipher.Encrypt(string(copiersJSON))); err != nil {
		m.logger.Warn("failed to persist copiers", slog.Any("error", err))
	}
	if err := m.store.Set(slotSettings, m.cipher.Encrypt(string(settingsJSON))); err != nil {
		m.logger.Warn("failed to persist settings", slog.Any("error", err))
	}
}

// restore loads the persisted model. Decrypt already degrades to the raw
// stored value, so each slot falls back from encrypted to plaintext to
// defaults independently.
func (m *Manager) restore() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if raw, err := m.store.Get(slotMasterToken); err == nil && raw != "" {
		m.master.Token = m.cipher.Decrypt(raw)
	}

	if raw, err := m.store.Get(slotCopiers); err == nil && raw != "" {
		var copiers []*Copier
		if json.Unmarshal([]byte(m.cipher.Decrypt(raw)), &copiers) == nil {
			m.copiers = copiers
		} else if json.Unmarshal([]byte(raw), &copiers) == nil {
			m.copiers = copiers
		}
	}

	if raw, err := m.store.Get(slotSettings); err == nil && raw != "" {
		var settings Settings
		if json.Unmarshal([]byte(m.cipher.Decrypt(raw)), &settings) == nil {
			m.settings = settings
		} else if json.Unmarshal([]byte(raw), &settings) == nil {
			m.settings = settings
		}
		if m.settings.StakeMultiplier <= 0 {
			m.settings.StakeMultiplier = 1
		}
	}

	// connections are transient: restored entries always start disconnected
	m.master.Status = StatusDisconnected
	for _, c := range m.copiers {
		c.Status = StatusDisconnected
	}
}
