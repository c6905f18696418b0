package replication

// Status is the lifecycle state of one account connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// MasterState is the replication source account. The token is persisted
// encrypted and never logged.
type MasterState struct {
	Token     string  `json:"token"`
	AccountID string  `json:"loginId,omitempty"`
	Balance   float64 `json:"balance,omitempty"`
	Status    Status  `json:"status"`
}

// Copier is one replication destination account in the roster.
type Copier struct {
	ID            string  `json:"id"`
	Token         string  `json:"token"`
	AccountID     string  `json:"loginId,omitempty"`
	Balance       float64 `json:"balance,omitempty"`
	Status        Status  `json:"status"`
	AddedAt       int64   `json:"addedAt"`
	Enabled       bool    `json:"enabled"`
	LastErrorCode string  `json:"lastErrorCode,omitempty"`
	LastErrorMsg  string  `json:"lastErrorMsg,omitempty"`
}

// Settings are the global replication controls.
type Settings struct {
	ReplicationEnabled bool     `json:"replicationEnabled"`
	StakeCap           *float64 `json:"stakeCap"`
	StakeMultiplier    float64  `json:"stakeMultiplier"`
}

// DefaultSettings returns the settings applied when nothing was persisted.
func DefaultSettings() Settings {
	return Settings{
		ReplicationEnabled: false,
		StakeCap:           nil,
		StakeMultiplier:    1,
	}
}
