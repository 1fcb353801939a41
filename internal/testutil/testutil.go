// Package testutil holds helpers shared by package tests: a migrated
// in-memory database, bounded contexts, polling and notification fixtures.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/schoolhub/schoolhub/internal/storage"
)

// DefaultTimeout bounds TestContext.
const DefaultTimeout = 30 * time.Second

// TestDB returns a migrated in-memory database closed at test end.
func TestDB(t *testing.T) *storage.DB {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

// TestContext is cancelled at test end or after DefaultTimeout.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	return TestContextWithTimeout(t, DefaultTimeout)
}

// TestContextWithTimeout is TestContext with a custom bound.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// WaitFor polls cond every few milliseconds and fails the test with msg if
// it does not hold within timeout.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(timeout)

	for !cond() {
		select {
		case <-tick.C:
		case <-deadline:
			t.Fatalf("timed out after %s: %s", timeout, msg)
		}
	}
}
