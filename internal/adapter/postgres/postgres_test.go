package postgres

import (
	"context"
	"os"
	"testing"

	"conquest/internal/adapter/sqlstore"
)

// Runs only when a scratch database is provided.
func TestOpen(t *testing.T) {
	dsn := os.Getenv("CONQUEST_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CONQUEST_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	store, err := Open(ctx, dsn, sqlstore.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	meta, err := store.EnsureWorld(ctx, 4, 4)
	if err != nil {
		t.Fatalf("EnsureWorld: %v", err)
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()
	if _, err := tx.CountUsers(ctx); err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
}
