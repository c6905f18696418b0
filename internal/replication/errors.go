package replication

import "errors"

var (
	// ErrTokenRequired rejects an empty or whitespace-only token.
	ErrTokenRequired = errors.New("token required")

	// ErrDuplicateToken rejects a token already present in the copier roster.
	ErrDuplicateToken = errors.New("token already added")

	// ErrMissingMasterToken rejects a master connect before a token was set.
	ErrMissingMasterToken = errors.New("missing master token")

	// ErrCopierNotFound is returned for operations on an unknown roster id.
	ErrCopierNotFound = errors.New("copier not found")

	// ErrNotConnected is returned when a send targets a connection that is
	// not in the connected state.
	ErrNotConnected = errors.New("not connected")
)
