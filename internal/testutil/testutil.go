// Package testutil provides shared test helpers for setting up databases,
// inbox directories and loaded item services.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/refdraft/internal/index"
	"github.com/starford/refdraft/internal/itemservice"
	"github.com/starford/refdraft/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "refdraft-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestInbox creates a temporary inbox directory with a storage.Provider.
func TestInbox(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestService returns a loaded item service over a fresh database. The view
// debounce is zero unless an option overrides it.
func TestService(t *testing.T, opts ...itemservice.Option) (*itemservice.Service, *index.DB) {
	t.Helper()
	db := TestDB(t)
	all := append([]itemservice.Option{itemservice.WithLogger(Logger())}, opts...)
	svc := itemservice.New(db, all...)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return svc, db
}
