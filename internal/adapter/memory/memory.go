// Package memory implements an in-memory store for development and testing.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"conquest/internal/domain"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("memory: transaction already committed or rolled back")

type state struct {
	meta      *domain.WorldMeta
	tiles     []tileRow // row-major, len = width*height
	users     []domain.User
	sessions  map[string]domain.Session
	buildings map[domain.Point]domain.Building
	resources map[int64]domain.Resources
	events    []domain.WorldEvent
	userSeq   int64
}

type tileRow struct {
	owner   int64 // 0 means unowned
	terrain domain.Terrain
}

func (s *state) clone() *state {
	cp := *s
	if s.meta != nil {
		m := *s.meta
		cp.meta = &m
	}
	cp.tiles = slices.Clone(s.tiles)
	cp.users = slices.Clone(s.users)
	cp.sessions = maps.Clone(s.sessions)
	cp.buildings = maps.Clone(s.buildings)
	cp.resources = maps.Clone(s.resources)
	cp.events = slices.Clip(s.events)
	return &cp
}

// DB is an in-memory domain.Store. A transaction holds the store exclusively
// from Begin until Commit or Rollback; it works on a copy that replaces the
// live state on Commit.
type DB struct {
	mu sync.Mutex
	st *state
}

// New creates an empty in-memory store.
func New() *DB {
	return &DB{st: &state{
		sessions:  make(map[string]domain.Session),
		buildings: make(map[domain.Point]domain.Building),
		resources: make(map[int64]domain.Resources),
	}}
}

// Ensure interfaces are met.
var _ domain.Store = (*DB)(nil)
var _ domain.Tx = (*Tx)(nil)

// Begin starts a transaction. It blocks while another transaction is open.
func (db *DB) Begin(ctx context.Context) (domain.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.Lock()
	return &Tx{db: db, st: db.st.clone()}, nil
}

// EnsureWorld creates the world and its all-land grid on first use.
func (db *DB) EnsureWorld(ctx context.Context, width, height int) (*domain.WorldMeta, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.st.meta == nil {
		db.st.meta = &domain.WorldMeta{Width: width, Height: height}
		db.st.tiles = make([]tileRow, width*height)
		for i := range db.st.tiles {
			db.st.tiles[i].terrain = domain.TerrainLand
		}
	}
	meta := *db.st.meta
	return &meta, nil
}

// Close is a no-op.
func (db *DB) Close() error {
	return nil
}

// Tx is a snapshot of the store. It is not safe for concurrent use.
type Tx struct {
	db   *DB
	st   *state
	done bool
}

// Commit publishes the transaction's state and releases the store.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.db.st = tx.st
	tx.db.mu.Unlock()
	return nil
}

// Rollback discards the transaction. Calling it after Commit is a no-op.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.db.mu.Unlock()
	return nil
}

func ms(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// --- UserRepository ---

// GetByUsername retrieves a user by their username.
func (tx *Tx) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, u := range tx.st.users {
		if u.Username == username {
			ret := u
			return &ret, nil
		}
	}
	return nil, nil
}

// GetByID retrieves a user by their ID.
func (tx *Tx) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	for _, u := range tx.st.users {
		if u.ID == id {
			ret := u
			return &ret, nil
		}
	}
	return nil, nil
}

// CreateUser creates a new user.
func (tx *Tx) CreateUser(ctx context.Context, username, passwordHash string, createdAt time.Time) (*domain.User, error) {
	tx.st.userSeq++
	u := domain.User{
		ID:           tx.st.userSeq,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    ms(createdAt),
	}
	tx.st.users = append(tx.st.users, u)
	return &u, nil
}

// CountUsers returns the number of users.
func (tx *Tx) CountUsers(ctx context.Context) (int, error) {
	return len(tx.st.users), nil
}

// --- SessionRepository ---

// CreateSession stores a session.
func (tx *Tx) CreateSession(ctx context.Context, s domain.Session) error {
	s.CreatedAt = ms(s.CreatedAt)
	s.ExpiresAt = ms(s.ExpiresAt)
	tx.st.sessions[s.Token] = s
	return nil
}

// GetByToken retrieves a session by token.
func (tx *Tx) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	s, ok := tx.st.sessions[token]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// DeleteSession deletes a session by token.
func (tx *Tx) DeleteSession(ctx context.Context, token string) (bool, error) {
	if _, ok := tx.st.sessions[token]; !ok {
		return false, nil
	}
	delete(tx.st.sessions, token)
	return true, nil
}

// DeleteExpired removes every session expired at now.
func (tx *Tx) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for token, s := range tx.st.sessions {
		if s.Expired(now) {
			delete(tx.st.sessions, token)
			n++
		}
	}
	return n, nil
}

// --- WorldRepository ---

// GetWorldMeta returns the world metadata, or nil before EnsureWorld.
func (tx *Tx) GetWorldMeta(ctx context.Context) (*domain.WorldMeta, error) {
	if tx.st.meta == nil {
		return nil, nil
	}
	meta := *tx.st.meta
	return &meta, nil
}

// NextVersion bumps the world version.
func (tx *Tx) NextVersion(ctx context.Context) (int64, error) {
	if tx.st.meta == nil {
		return 0, errors.New("memory: world not bootstrapped")
	}
	tx.st.meta.Version++
	return tx.st.meta.Version, nil
}

// --- TileRepository ---

func (tx *Tx) index(x, y int) (int, bool) {
	if tx.st.meta == nil || !tx.st.meta.InBounds(x, y) {
		return 0, false
	}
	return y*tx.st.meta.Width + x, true
}

func (tx *Tx) view(i int) domain.Tile {
	w := tx.st.meta.Width
	row := tx.st.tiles[i]
	t := domain.Tile{X: i % w, Y: i / w, Terrain: row.terrain}
	if row.owner != 0 {
		owner := row.owner
		t.OwnerUserID = &owner
	}
	return t
}

// GetTile returns the tile at (x, y), or nil if out of bounds.
func (tx *Tx) GetTile(ctx context.Context, x, y int) (*domain.Tile, error) {
	i, ok := tx.index(x, y)
	if !ok {
		return nil, nil
	}
	t := tx.view(i)
	return &t, nil
}

// SetTileOwner sets or clears the owner of a tile.
func (tx *Tx) SetTileOwner(ctx context.Context, x, y int, owner *int64) error {
	i, ok := tx.index(x, y)
	if !ok {
		return nil
	}
	tx.st.tiles[i].owner = 0
	if owner != nil {
		tx.st.tiles[i].owner = *owner
	}
	return nil
}

// SetTerrain changes the terrain of a tile.
func (tx *Tx) SetTerrain(ctx context.Context, x, y int, terrain domain.Terrain) error {
	if i, ok := tx.index(x, y); ok {
		tx.st.tiles[i].terrain = terrain
	}
	return nil
}

// FirstOwnedTile returns the user's first tile in (y, x) order.
func (tx *Tx) FirstOwnedTile(ctx context.Context, userID int64) (*domain.Point, error) {
	for i, row := range tx.st.tiles {
		if row.owner == userID {
			t := tx.view(i)
			return &domain.Point{X: t.X, Y: t.Y}, nil
		}
	}
	return nil, nil
}

// FirstSpawnableTile returns the first unowned land tile in (y, x) order.
func (tx *Tx) FirstSpawnableTile(ctx context.Context) (*domain.Point, error) {
	for i, row := range tx.st.tiles {
		if row.owner == 0 && row.terrain == domain.TerrainLand {
			t := tx.view(i)
			return &domain.Point{X: t.X, Y: t.Y}, nil
		}
	}
	return nil, nil
}

// OwnedTiles lists the user's tiles in (y, x) order.
func (tx *Tx) OwnedTiles(ctx context.Context, userID int64) ([]domain.Point, error) {
	out := []domain.Point{}
	for i, row := range tx.st.tiles {
		if row.owner == userID {
			t := tx.view(i)
			out = append(out, domain.Point{X: t.X, Y: t.Y})
		}
	}
	return out, nil
}

// Region returns the tiles in the inclusive rectangle with their buildings.
func (tx *Tx) Region(ctx context.Context, minX, minY, maxX, maxY int) ([]domain.TileView, error) {
	out := []domain.TileView{}
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			i, ok := tx.index(x, y)
			if !ok {
				continue
			}
			v := domain.TileView{Tile: tx.view(i)}
			if b, ok := tx.st.buildings[domain.Point{X: x, Y: y}]; ok {
				v.Building = &b
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// --- BuildingRepository ---

// GetBuilding returns the building on (x, y), if any.
func (tx *Tx) GetBuilding(ctx context.Context, x, y int) (*domain.Building, error) {
	b, ok := tx.st.buildings[domain.Point{X: x, Y: y}]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// CreateBuilding places a building.
func (tx *Tx) CreateBuilding(ctx context.Context, b domain.Building) error {
	p := domain.Point{X: b.X, Y: b.Y}
	if _, ok := tx.st.buildings[p]; ok {
		return errors.New("memory: building already exists")
	}
	tx.st.buildings[p] = b
	return nil
}

// DeleteBuilding removes the building on (x, y).
func (tx *Tx) DeleteBuilding(ctx context.Context, x, y int) (bool, error) {
	p := domain.Point{X: x, Y: y}
	if _, ok := tx.st.buildings[p]; !ok {
		return false, nil
	}
	delete(tx.st.buildings, p)
	return true, nil
}

// --- ResourceRepository ---

// GetResources returns the user's resources, or nil.
func (tx *Tx) GetResources(ctx context.Context, userID int64) (*domain.Resources, error) {
	r, ok := tx.st.resources[userID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// CreateResourcesIfAbsent inserts r unless the user already has resources.
func (tx *Tx) CreateResourcesIfAbsent(ctx context.Context, r domain.Resources) (bool, error) {
	if _, ok := tx.st.resources[r.UserID]; ok {
		return false, nil
	}
	r.LastTick = ms(r.LastTick)
	tx.st.resources[r.UserID] = r
	return true, nil
}

// UpdateResources overwrites the user's resources.
func (tx *Tx) UpdateResources(ctx context.Context, r domain.Resources) error {
	r.LastTick = ms(r.LastTick)
	tx.st.resources[r.UserID] = r
	return nil
}

// --- EventRepository ---

// AppendEvent appends to the world log.
func (tx *Tx) AppendEvent(ctx context.Context, e domain.WorldEvent) error {
	e.CreatedAt = ms(e.CreatedAt)
	e.Payload = slices.Clone(e.Payload)
	tx.st.events = append(tx.st.events, e)
	return nil
}

// EventsSince returns events after version in ascending order.
func (tx *Tx) EventsSince(ctx context.Context, version int64) ([]domain.WorldEvent, error) {
	i := sort.Search(len(tx.st.events), func(i int) bool {
		return tx.st.events[i].Version > version
	})
	return slices.Clone(tx.st.events[i:]), nil
}
