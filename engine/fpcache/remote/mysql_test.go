package remote

import (
	"context"
	"os"
	"testing"
)

// TestMySQLCacheRoundTrips talks to a real MySQL instance and is skipped by
// default; set TEST_MYSQL_DSN to a go-sql-driver/mysql DSN to run it
// (matching the teacher's graph/store/mysql_test.go convention).
func TestMySQLCacheRoundTrips(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("skipping MySQL cache test: TEST_MYSQL_DSN not set")
	}

	c, err := NewMySQLCache(dsn)
	if err != nil {
		t.Fatalf("NewMySQLCache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Put(ctx, "fp-mysql-test", []byte("payload")); err != nil {
		t.Fatalf("put: %v", err)
	}

	payload, found, err := c.Get(ctx, "fp-mysql-test")
	if err != nil || !found {
		t.Fatalf("expected a hit after put, got found=%v err=%v", found, err)
	}
	if string(payload) != "payload" {
		t.Fatalf("expected payload %q, got %q", "payload", payload)
	}
}

func TestNewMySQLCacheRejectsUnreachableHost(t *testing.T) {
	_, err := NewMySQLCache("nosuchuser:nosuchpass@tcp(127.0.0.1:1)/nosuchdb")
	if err == nil {
		t.Fatalf("expected an error connecting to an unreachable host")
	}
}
