// Package sqlstore implements domain.Store on database/sql. The sqlite and
// postgres adapters open a connection and hand it to New with their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"conquest/internal/adapter/sqlstore/migrations"
	"conquest/internal/domain"
)

// tileBatch bounds the rows per bootstrap INSERT to stay under parameter limits.
const tileBatch = 500

// Options tune schema management.
type Options struct {
	// AllowDestructive permits migrations that drop stored rows.
	AllowDestructive bool
}

// Store is a domain.Store over a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ domain.Store = (*Store)(nil)

// New applies migrations and returns the store. It takes ownership of db.
func New(ctx context.Context, db *sql.DB, d Dialect, opts Options) (*Store, error) {
	if err := ApplyMigrations(ctx, db, d, migrations.FS, opts.AllowDestructive); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, dialect: d}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx, d: s.dialect}, nil
}

// EnsureWorld bootstraps the world metadata and land grid on first run.
func (s *Store) EnsureWorld(ctx context.Context, width, height int) (*domain.WorldMeta, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	t := &Tx{tx: tx, d: s.dialect}
	meta, err := t.GetWorldMeta(ctx)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		return meta, tx.Commit()
	}

	now := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		s.dialect.Rebind("INSERT INTO world_meta (id, width, height, version, created_at, updated_at) VALUES (1, ?, ?, 0, ?, ?)"),
		width, height, now, now,
	); err != nil {
		return nil, fmt.Errorf("insert world meta: %w", err)
	}
	if err := insertTiles(ctx, tx, s.dialect, width, height); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit world: %w", err)
	}
	return &domain.WorldMeta{Width: width, Height: height}, nil
}

// insertTiles creates the all-land, unowned grid in row-major batches.
func insertTiles(ctx context.Context, tx *sql.Tx, d Dialect, width, height int) error {
	total := width * height
	for start := 0; start < total; start += tileBatch {
		end := min(start+tileBatch, total)
		var b strings.Builder
		b.WriteString("INSERT INTO land_tiles (x, y, owner_user_id, terrain) VALUES ")
		args := make([]any, 0, 2*(end-start))
		for i := start; i < end; i++ {
			if i > start {
				b.WriteString(", ")
			}
			b.WriteString("(?, ?, NULL, 'land')")
			args = append(args, i%width, i/width)
		}
		if _, err := tx.ExecContext(ctx, d.Rebind(b.String()), args...); err != nil {
			return fmt.Errorf("insert tiles: %w", err)
		}
	}
	return nil
}
