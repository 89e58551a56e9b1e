package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"conquest/internal/adapter/sqlstore"
)

func TestOpenCreatesDirectoryAndPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "data", "conquest.db")

	store, err := Open(ctx, path, sqlstore.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.EnsureWorld(ctx, 4, 3); err != nil {
		t.Fatalf("EnsureWorld: %v", err)
	}
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.CreateUser(ctx, "alice", "salt$digest", time.Now()); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file: %v", err)
	}

	reopened, err := Open(ctx, path, sqlstore.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	meta, err := reopened.EnsureWorld(ctx, 10, 10)
	if err != nil {
		t.Fatalf("EnsureWorld: %v", err)
	}
	if meta.Width != 4 || meta.Height != 3 {
		t.Errorf("expected stored size 4x3 to win, got %dx%d", meta.Width, meta.Height)
	}
	tx, err = reopened.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()
	if u, err := tx.GetByUsername(ctx, "alice"); err != nil || u == nil {
		t.Errorf("expected alice to persist, got %v, %v", u, err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "  ", sqlstore.Options{}); err == nil {
		t.Fatal("expected error for blank path")
	}
}
