package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"krw_trader/internal/domain"
)

// StateStore persists each worker's current position in SQLite, so a restart
// does not forget an open Long. It stores only present state, one row per
// ticker; it is not a trade journal.
type StateStore struct {
	db *sql.DB
}

// NewStateStore opens (or creates) the state database with WAL mode enabled.
func NewStateStore(dbPath string) (*StateStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			ticker TEXT PRIMARY KEY,
			position TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create positions table: %w", err)
	}

	return &StateStore{db: db}, nil
}

// SavePosition upserts the current position for a ticker.
func (s *StateStore) SavePosition(ctx context.Context, ticker string, pos domain.Position, tsUnix int64) error {
	payload, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO positions (ticker, position, updated_at) VALUES (?, ?, ?) ON CONFLICT(ticker) DO UPDATE SET position=excluded.position, updated_at=excluded.updated_at",
		ticker, string(payload), tsUnix,
	)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// LoadPosition returns the stored position for a ticker. ok is false when no
// row exists; a corrupt row is an error, never a silent Flat.
func (s *StateStore) LoadPosition(ctx context.Context, ticker string) (domain.Position, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT position FROM positions WHERE ticker = ?", ticker).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.NewFlat(), false, nil
	}
	if err != nil {
		return domain.NewFlat(), false, fmt.Errorf("failed to load position: %w", err)
	}

	var pos domain.Position
	if err := json.Unmarshal([]byte(payload), &pos); err != nil {
		return domain.NewFlat(), false, fmt.Errorf("failed to decode position for %s: %w", ticker, err)
	}
	return pos, true, nil
}

// Close closes the database connection.
func (s *StateStore) Close() error {
	return s.db.Close()
}
