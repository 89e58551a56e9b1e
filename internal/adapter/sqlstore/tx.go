package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"conquest/internal/domain"
)

// Tx implements domain.Tx over a *sql.Tx. Timestamps are stored as Unix
// milliseconds.
type Tx struct {
	tx *sql.Tx
	d  Dialect
}

var _ domain.Tx = (*Tx)(nil)

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction. Rolling back a committed transaction is a no-op.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.d.Rebind(query), args...)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.d.Rebind(query), args...)
}

func (t *Tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.d.Rebind(query), args...)
}

func toMillis(v time.Time) int64 {
	return v.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullOwner(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

// --- UserRepository ---

// GetByUsername retrieves a user by username.
func (t *Tx) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return t.scanUser(t.queryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = ?", username))
}

// GetByID retrieves a user by ID.
func (t *Tx) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return t.scanUser(t.queryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE id = ?", id))
}

func (t *Tx) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var createdAt int64
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

// CreateUser creates a new user.
func (t *Tx) CreateUser(ctx context.Context, username, passwordHash string, createdAt time.Time) (*domain.User, error) {
	u := domain.User{Username: username, PasswordHash: passwordHash, CreatedAt: fromMillis(toMillis(createdAt))}
	err := t.queryRow(ctx,
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?) RETURNING id",
		username, passwordHash, toMillis(createdAt),
	).Scan(&u.ID)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CountUsers returns the total number of users.
func (t *Tx) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := t.queryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// --- SessionRepository ---

// CreateSession stores a session.
func (t *Tx) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := t.exec(ctx,
		"INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)",
		s.Token, s.UserID, toMillis(s.CreatedAt), toMillis(s.ExpiresAt),
	)
	return err
}

// GetByToken retrieves a session by token.
func (t *Tx) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	var s domain.Session
	var createdAt, expiresAt int64
	err := t.queryRow(ctx,
		"SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?", token,
	).Scan(&s.Token, &s.UserID, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(createdAt)
	s.ExpiresAt = fromMillis(expiresAt)
	return &s, nil
}

// DeleteSession deletes a session by token.
func (t *Tx) DeleteSession(ctx context.Context, token string) (bool, error) {
	res, err := t.exec(ctx, "DELETE FROM sessions WHERE token = ?", token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteExpired removes every session expired at now.
func (t *Tx) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := t.exec(ctx, "DELETE FROM sessions WHERE expires_at <= ?", toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- WorldRepository ---

// GetWorldMeta returns the world metadata, or nil before bootstrap.
func (t *Tx) GetWorldMeta(ctx context.Context) (*domain.WorldMeta, error) {
	var m domain.WorldMeta
	err := t.queryRow(ctx, "SELECT width, height, version FROM world_meta WHERE id = 1").
		Scan(&m.Width, &m.Height, &m.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// NextVersion increments the world version and returns it.
func (t *Tx) NextVersion(ctx context.Context) (int64, error) {
	var v int64
	err := t.queryRow(ctx,
		"UPDATE world_meta SET version = version + 1, updated_at = ? WHERE id = 1 RETURNING version",
		toMillis(time.Now()),
	).Scan(&v)
	return v, err
}

// --- TileRepository ---

// GetTile returns the tile at (x, y), or nil if there is none.
func (t *Tx) GetTile(ctx context.Context, x, y int) (*domain.Tile, error) {
	tile := domain.Tile{X: x, Y: y}
	var owner sql.NullInt64
	var terrain string
	err := t.queryRow(ctx, "SELECT owner_user_id, terrain FROM land_tiles WHERE x = ? AND y = ?", x, y).
		Scan(&owner, &terrain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tile.OwnerUserID = nullOwner(owner)
	tile.Terrain = domain.Terrain(terrain)
	return &tile, nil
}

// SetTileOwner sets or clears a tile's owner.
func (t *Tx) SetTileOwner(ctx context.Context, x, y int, owner *int64) error {
	_, err := t.exec(ctx, "UPDATE land_tiles SET owner_user_id = ? WHERE x = ? AND y = ?", owner, x, y)
	return err
}

// SetTerrain changes a tile's terrain.
func (t *Tx) SetTerrain(ctx context.Context, x, y int, terrain domain.Terrain) error {
	_, err := t.exec(ctx, "UPDATE land_tiles SET terrain = ? WHERE x = ? AND y = ?", string(terrain), x, y)
	return err
}

func (t *Tx) point(ctx context.Context, query string, args ...any) (*domain.Point, error) {
	var p domain.Point
	err := t.queryRow(ctx, query, args...).Scan(&p.X, &p.Y)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FirstOwnedTile returns the user's first tile in (y, x) order.
func (t *Tx) FirstOwnedTile(ctx context.Context, userID int64) (*domain.Point, error) {
	return t.point(ctx,
		"SELECT x, y FROM land_tiles WHERE owner_user_id = ? ORDER BY y, x LIMIT 1", userID)
}

// FirstSpawnableTile returns the first unowned land tile in (y, x) order.
func (t *Tx) FirstSpawnableTile(ctx context.Context) (*domain.Point, error) {
	return t.point(ctx,
		"SELECT x, y FROM land_tiles WHERE owner_user_id IS NULL AND terrain = 'land' ORDER BY y, x LIMIT 1")
}

// OwnedTiles lists the user's tiles in (y, x) order.
func (t *Tx) OwnedTiles(ctx context.Context, userID int64) ([]domain.Point, error) {
	rows, err := t.query(ctx, "SELECT x, y FROM land_tiles WHERE owner_user_id = ? ORDER BY y, x", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Point{}
	for rows.Next() {
		var p domain.Point
		if err := rows.Scan(&p.X, &p.Y); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Region returns the tiles in the inclusive rectangle joined with their buildings.
func (t *Tx) Region(ctx context.Context, minX, minY, maxX, maxY int) ([]domain.TileView, error) {
	rows, err := t.query(ctx, `
SELECT t.x, t.y, t.owner_user_id, t.terrain, b.owner_user_id, b.building_type, b.level
FROM land_tiles t
LEFT JOIN buildings b ON b.x = t.x AND b.y = t.y
WHERE t.x BETWEEN ? AND ? AND t.y BETWEEN ? AND ?
ORDER BY t.y, t.x`, minX, maxX, minY, maxY)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.TileView{}
	for rows.Next() {
		var v domain.TileView
		var owner, buildingOwner, level sql.NullInt64
		var terrain string
		var buildingType sql.NullString
		if err := rows.Scan(&v.X, &v.Y, &owner, &terrain, &buildingOwner, &buildingType, &level); err != nil {
			return nil, err
		}
		v.OwnerUserID = nullOwner(owner)
		v.Terrain = domain.Terrain(terrain)
		if buildingType.Valid {
			v.Building = &domain.Building{
				X:           v.X,
				Y:           v.Y,
				OwnerUserID: buildingOwner.Int64,
				Type:        buildingType.String,
				Level:       int(level.Int64),
			}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- BuildingRepository ---

// GetBuilding returns the building on (x, y), if any.
func (t *Tx) GetBuilding(ctx context.Context, x, y int) (*domain.Building, error) {
	b := domain.Building{X: x, Y: y}
	err := t.queryRow(ctx,
		"SELECT owner_user_id, building_type, level FROM buildings WHERE x = ? AND y = ?", x, y,
	).Scan(&b.OwnerUserID, &b.Type, &b.Level)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBuilding places a building.
func (t *Tx) CreateBuilding(ctx context.Context, b domain.Building) error {
	_, err := t.exec(ctx,
		"INSERT INTO buildings (x, y, owner_user_id, building_type, level) VALUES (?, ?, ?, ?, ?)",
		b.X, b.Y, b.OwnerUserID, b.Type, b.Level,
	)
	return err
}

// DeleteBuilding removes the building on (x, y).
func (t *Tx) DeleteBuilding(ctx context.Context, x, y int) (bool, error) {
	res, err := t.exec(ctx, "DELETE FROM buildings WHERE x = ? AND y = ?", x, y)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// --- ResourceRepository ---

// GetResources returns the user's resources, or nil.
func (t *Tx) GetResources(ctx context.Context, userID int64) (*domain.Resources, error) {
	r := domain.Resources{UserID: userID}
	var lastTick int64
	err := t.queryRow(ctx,
		"SELECT power, max_power, last_tick FROM resources WHERE user_id = ?", userID,
	).Scan(&r.Power, &r.MaxPower, &lastTick)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.LastTick = fromMillis(lastTick)
	return &r, nil
}

// CreateResourcesIfAbsent inserts r unless the user already has a row.
func (t *Tx) CreateResourcesIfAbsent(ctx context.Context, r domain.Resources) (bool, error) {
	res, err := t.exec(ctx,
		"INSERT INTO resources (user_id, power, max_power, last_tick) VALUES (?, ?, ?, ?) ON CONFLICT (user_id) DO NOTHING",
		r.UserID, r.Power, r.MaxPower, toMillis(r.LastTick),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateResources overwrites the user's resources.
func (t *Tx) UpdateResources(ctx context.Context, r domain.Resources) error {
	_, err := t.exec(ctx,
		"UPDATE resources SET power = ?, max_power = ?, last_tick = ? WHERE user_id = ?",
		r.Power, r.MaxPower, toMillis(r.LastTick), r.UserID,
	)
	return err
}

// --- EventRepository ---

// AppendEvent appends to the world log.
func (t *Tx) AppendEvent(ctx context.Context, e domain.WorldEvent) error {
	_, err := t.exec(ctx,
		"INSERT INTO world_events (version, actor_user_id, event_type, payload_json, created_at) VALUES (?, ?, ?, ?, ?)",
		e.Version, e.ActorUserID, e.Type, string(e.Payload), toMillis(e.CreatedAt),
	)
	return err
}

// EventsSince returns events after version in ascending order.
func (t *Tx) EventsSince(ctx context.Context, version int64) ([]domain.WorldEvent, error) {
	rows, err := t.query(ctx, `
SELECT version, actor_user_id, event_type, payload_json, created_at
FROM world_events WHERE version > ? ORDER BY version`, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.WorldEvent{}
	for rows.Next() {
		var e domain.WorldEvent
		var actor sql.NullInt64
		var payload string
		var createdAt int64
		if err := rows.Scan(&e.Version, &actor, &e.Type, &payload, &createdAt); err != nil {
			return nil, err
		}
		e.ActorUserID = nullOwner(actor)
		e.Payload = []byte(payload)
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
