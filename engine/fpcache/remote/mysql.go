package remote

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLCache is a shared remote.Cache backend for multi-process deployments
// where several engine instances need to see each other's committed
// fingerprints.
type MySQLCache struct {
	db *sql.DB
}

// NewMySQLCache opens a MySQL connection pool using dsn (a
// go-sql-driver/mysql data source name) and prepares its fingerprint_cache
// table.
func NewMySQLCache(dsn string) (*MySQLCache, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("fpcache/remote: open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fpcache/remote: ping mysql: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS fingerprint_cache (
			fingerprint VARCHAR(64) PRIMARY KEY,
			payload     LONGBLOB NOT NULL
		) ENGINE=InnoDB
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fpcache/remote: create table: %w", err)
	}

	return &MySQLCache{db: db}, nil
}

func (m *MySQLCache) Get(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	var payload []byte
	err := m.db.QueryRowContext(ctx,
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

func (m *MySQLCache) Put(ctx context.Context, fingerprint string, payload []byte) error {
	_, err := m.db.ExecContext(ctx,
		"INSERT IGNORE INTO fingerprint_cache (fingerprint, payload) VALUES (?, ?)",
		fingerprint, payload,
	)
	if err != nil {
		return fmt.Errorf("fpcache/remote: put: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (m *MySQLCache) Close() error { return m.db.Close() }
