package domain

import "context"

// Tx is one unit of work against the store. Every repository call made
// through a Tx is committed or discarded together.
type Tx interface {
	UserRepository
	SessionRepository
	WorldRepository
	TileRepository
	BuildingRepository
	ResourceRepository
	EventRepository

	Commit() error
	Rollback() error
}

// Store is the persistent state of the server. It performs no cross
// transaction locking; callers serialize mutating access.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	// EnsureWorld creates the world metadata and the full land grid on first
	// run and returns the stored metadata.
	EnsureWorld(ctx context.Context, width, height int) (*WorldMeta, error)
	Close() error
}
