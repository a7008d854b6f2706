// Package testutil provides shared test helpers for setting up stores and vaults.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/storage"
)

// DBPath returns a temporary SQLite file path that is removed after the test.
func DBPath(t *testing.T) string {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})
	return dbFile.Name()
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Service opens a façade on a temporary database that is closed after the test.
func Service(t *testing.T) *notestore.Service {
	t.Helper()
	return ServiceWithClock(t, nil)
}

// ServiceWithClock is Service with a fixed time source.
func ServiceWithClock(t *testing.T, clock func() time.Time) *notestore.Service {
	t.Helper()
	svc, err := notestore.Open(context.Background(), notestore.Config{
		Path:   DBPath(t),
		Logger: Logger(),
		Clock:  clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

// TestVault creates a temporary directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}
