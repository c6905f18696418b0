package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Storage manages the local database: the key-value slots backing the
// replication model and a persisted journal of dispatch attempts.
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

// JournalEntry is one persisted dispatch attempt.
type JournalEntry struct {
	ID            int64
	DestinationID string
	AccountID     string
	Payload       string
	Error         string
	CreatedAtMs   int64
}

// New opens the database at dbPath and initializes the schema.
func New(dbPath string, logger *slog.Logger) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		db:     db,
		logger: logger,
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS slots (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS dispatch_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			destination_id TEXT NOT NULL,
			account_id TEXT,
			payload TEXT,
			error TEXT,
			created_at_ms INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_journal_created ON dispatch_journal(created_at_ms);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	s.logger.Info("Database initialized")

	return nil
}

// Get returns the value stored under key, or "" if the slot is empty.
func (s *Storage) Get(key string) (string, error) {
	var value string

	err := s.db.QueryRow("SELECT value FROM slots WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read slot %s: %w", key, err)
	}

	return value, nil
}

// Set stores value under key, replacing any previous value.
func (s *Storage) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO slots (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write slot %s: %w", key, err)
	}

	return nil
}

// AppendJournal records one dispatch attempt.
func (s *Storage) AppendJournal(destinationID, accountID, payload, errMsg string) error {
	_, err := s.db.Exec(`
		INSERT INTO dispatch_journal (destination_id, account_id, payload, error, created_at_ms)
		VALUES (?, ?, ?, ?, ?)
	`, destinationID, accountID, payload, errMsg, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append journal: %w", err)
	}

	return nil
}

// RecentJournal returns the most recent dispatch attempts, newest first.
func (s *Storage) RecentJournal(limit int) ([]JournalEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, destination_id, COALESCE(account_id, ''), COALESCE(payload, ''),
		       COALESCE(error, ''), created_at_ms
		FROM dispatch_journal
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.DestinationID, &e.AccountID, &e.Payload, &e.Error, &e.CreatedAtMs); err != nil {
			continue
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}
