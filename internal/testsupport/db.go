// Package testsupport provides shared helpers for repository tests.
package testsupport

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/mhalvorsen/lookout/internal/database"
)

var dbCounter atomic.Int64

// NewDB opens a fresh in-memory database with the schema applied.
// Each call gets an isolated database; the connection is closed when
// the test finishes.
func NewDB(t *testing.T) *database.DB {
	t.Helper()

	n := dbCounter.Add(1)
	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", n),
		Name: "test",
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}
