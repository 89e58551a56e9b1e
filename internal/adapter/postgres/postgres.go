// Package postgres opens the PostgreSQL-backed store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"conquest/internal/adapter/sqlstore"

	_ "github.com/lib/pq"
)

// Open connects to PostgreSQL, pings, and runs migrations.
func Open(ctx context.Context, connStr string, opts sqlstore.Options) (*sqlstore.Store, error) {
	s, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	s.SetMaxOpenConns(10)
	s.SetMaxIdleConns(5)
	s.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.PingContext(pingCtx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store, err := sqlstore.New(ctx, s, sqlstore.Postgres, opts)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return store, nil
}
