package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Terrain classifies a tile. Only land can be claimed.
type Terrain string

const (
	TerrainLand  Terrain = "land"
	TerrainWater Terrain = "water"
)

// Event types appended to the world log.
const (
	EventTileClaim         = "tile.claim"
	EventTileAttackCapture = "tile.attack_capture"
	EventBuildingPlace     = "building.place"
)

// Point addresses a tile.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Neighbors returns the four cardinal neighbours in N, E, S, W order.
// Points outside the map are included; callers filter by bounds.
func (p Point) Neighbors() [4]Point {
	return [4]Point{
		{X: p.X, Y: p.Y - 1},
		{X: p.X + 1, Y: p.Y},
		{X: p.X, Y: p.Y + 1},
		{X: p.X - 1, Y: p.Y},
	}
}

// WorldMeta is the singleton describing the map and its version counter.
type WorldMeta struct {
	Width   int
	Height  int
	Version int64
}

// InBounds reports whether (x, y) addresses a tile of the map.
func (m WorldMeta) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

// Tile is one grid cell.
type Tile struct {
	X           int
	Y           int
	OwnerUserID *int64
	Terrain     Terrain
}

// OwnedBy reports whether userID owns the tile.
func (t *Tile) OwnedBy(userID int64) bool {
	return t.OwnerUserID != nil && *t.OwnerUserID == userID
}

// Building occupies at most one tile.
type Building struct {
	X           int
	Y           int
	OwnerUserID int64
	Type        string
	Level       int
}

// TileView is a tile joined with its building, if any.
type TileView struct {
	Tile
	Building *Building
}

// Resources is a user's power pool.
type Resources struct {
	UserID   int64
	Power    int64
	MaxPower int64
	LastTick time.Time
}

// WorldEvent is one entry of the append-only world log.
type WorldEvent struct {
	Version     int64
	ActorUserID *int64
	Type        string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// WorldRepository is the port for the world metadata singleton.
type WorldRepository interface {
	// GetWorldMeta returns nil when the world has not been bootstrapped.
	GetWorldMeta(ctx context.Context) (*WorldMeta, error)
	// NextVersion increments the version counter and returns the new value.
	NextVersion(ctx context.Context) (int64, error)
}

// TileRepository is the port for tile persistence.
type TileRepository interface {
	// GetTile returns nil for coordinates outside the stored grid.
	GetTile(ctx context.Context, x, y int) (*Tile, error)
	SetTileOwner(ctx context.Context, x, y int, owner *int64) error
	SetTerrain(ctx context.Context, x, y int, terrain Terrain) error
	// FirstOwnedTile returns the owned tile with the smallest (y, x), or nil.
	FirstOwnedTile(ctx context.Context, userID int64) (*Point, error)
	// FirstSpawnableTile returns the unowned land tile with the smallest (y, x), or nil.
	FirstSpawnableTile(ctx context.Context) (*Point, error)
	OwnedTiles(ctx context.Context, userID int64) ([]Point, error)
	// Region returns tiles in the inclusive rectangle ordered by y, then x.
	Region(ctx context.Context, minX, minY, maxX, maxY int) ([]TileView, error)
}

// BuildingRepository is the port for building persistence.
type BuildingRepository interface {
	GetBuilding(ctx context.Context, x, y int) (*Building, error)
	CreateBuilding(ctx context.Context, b Building) error
	DeleteBuilding(ctx context.Context, x, y int) (bool, error)
}

// ResourceRepository is the port for per-user resources.
type ResourceRepository interface {
	GetResources(ctx context.Context, userID int64) (*Resources, error)
	// CreateResourcesIfAbsent reports whether a row was inserted.
	CreateResourcesIfAbsent(ctx context.Context, r Resources) (bool, error)
	UpdateResources(ctx context.Context, r Resources) error
}

// EventRepository is the port for the world event log.
type EventRepository interface {
	AppendEvent(ctx context.Context, e WorldEvent) error
	// EventsSince returns events with version strictly greater than version, ascending.
	EventsSince(ctx context.Context, version int64) ([]WorldEvent, error)
}
