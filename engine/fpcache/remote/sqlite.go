package remote

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteCache is a single-file remote.Cache backend, for development and
// single-process deployments that still want the fingerprint cache to
// survive a restart.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens (creating if needed) a SQLite database at path and
// prepares its fingerprint_cache table. path may be ":memory:".
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("fpcache/remote: open sqlite: %w", err)
	}
	// SQLite permits exactly one writer; cap the pool so callers don't pile
	// up SQLITE_BUSY errors under concurrent Put.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fpcache/remote: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fpcache/remote: set busy_timeout: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS fingerprint_cache (
			fingerprint TEXT PRIMARY KEY,
			payload     BLOB NOT NULL
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fpcache/remote: create table: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

func (s *SQLiteCache) Get(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM fingerprint_cache WHERE fingerprint = ?", fingerprint,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fpcache/remote: get: %w", err)
	}
	return payload, true, nil
}

func (s *SQLiteCache) Put(ctx context.Context, fingerprint string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO fingerprint_cache (fingerprint, payload) VALUES (?, ?) ON CONFLICT(fingerprint) DO NOTHING",
		fingerprint, payload,
	)
	if err != nil {
		return fmt.Errorf("fpcache/remote: put: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *SQLiteCache) Close() error { return s.db.Close() }
