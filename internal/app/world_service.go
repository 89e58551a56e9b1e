package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"conquest/internal/domain"
)

var (
	// ErrTileOutOfBounds indicates coordinates outside the map.
	ErrTileOutOfBounds = domain.NewError(domain.KindGameRule, domain.CodeTileOutOfBounds, "Tile out of bounds")
	// ErrInvalidTile indicates a tile whose terrain cannot be claimed.
	ErrInvalidTile = domain.NewError(domain.KindGameRule, domain.CodeInvalidTile, "Tile cannot be claimed")
	// ErrAlreadyOwned indicates the acting user already owns the tile.
	ErrAlreadyOwned = domain.NewError(domain.KindGameRule, domain.CodeAlreadyOwned, "Tile already owned by you")
	// ErrOccupied indicates another user owns the tile.
	ErrOccupied = domain.NewError(domain.KindGameRule, domain.CodeOccupied, "Tile already owned")
	// ErrNotAdjacent indicates the tile does not touch the user's territory.
	ErrNotAdjacent = domain.NewError(domain.KindGameRule, domain.CodeNotAdjacent, "Tile must be cardinal-adjacent to owned land")
	// ErrNeutralTile indicates an attack on an unowned tile.
	ErrNeutralTile = domain.NewError(domain.KindGameRule, domain.CodeNeutralTile, "Use action.claim for neutral tiles")
	// ErrInsufficientPower indicates the user cannot pay the action cost.
	ErrInsufficientPower = domain.NewError(domain.KindGameRule, domain.CodeInsufficientPower, "Not enough power")
	// ErrInvalidCost indicates a negative action cost.
	ErrInvalidCost = domain.NewError(domain.KindGameRule, domain.CodeInvalidCost, "Cost cannot be negative")
	// ErrBuildingExists indicates the tile already carries a building.
	ErrBuildingExists = domain.NewError(domain.KindGameRule, domain.CodeBuildingExists, "Building already exists on tile")
	// ErrNotOwner indicates a build on a tile the user does not own.
	ErrNotOwner = domain.NewError(domain.KindGameRule, domain.CodeNotOwner, "Can only build on your own tile")
	// ErrSpawnFailed indicates there is no unowned land left.
	ErrSpawnFailed = domain.NewError(domain.KindGameRule, domain.CodeSpawnFailed, "No spawnable land tile available")
)

// Rules are the economic constants of the world.
type Rules struct {
	DefaultPower int64
	MaxPower     int64
	RegenPerTick int64
	TickInterval time.Duration
}

// DefaultRules returns the stock economy.
func DefaultRules() Rules {
	return Rules{
		DefaultPower: 100,
		MaxPower:     100,
		RegenPerTick: 1,
		TickInterval: 2 * time.Second,
	}
}

// ActionResult is the outcome of a successful claim, attack or build.
type ActionResult struct {
	Tile         domain.Point
	PowerCost    int64
	Resources    domain.Resources
	WorldVersion int64
}

// UserState is a user's view of their own holdings.
type UserState struct {
	Resources    domain.Resources
	OwnedTiles   []domain.Point
	WorldVersion int64
}

// Region is a rectangular slice of the map.
type Region struct {
	Tiles        []domain.TileView
	WorldVersion int64
}

// Patches is the event log tail after a client's known version.
type Patches struct {
	FromVersion int64
	ToVersion   int64
	Events      []domain.WorldEvent
}

// WorldService enforces the territorial and economic rules. Every method runs
// inside the caller's transaction; a returned error means the caller must roll
// back.
type WorldService struct {
	rules Rules
	now   func() time.Time
}

// NewWorldService creates a WorldService. A nil clock uses time.Now.
func NewWorldService(rules Rules, now func() time.Time) *WorldService {
	if now == nil {
		now = time.Now
	}
	return &WorldService{rules: rules, now: now}
}

// Rules returns the configured economy.
func (s *WorldService) Rules() Rules {
	return s.rules
}

func (s *WorldService) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// CreateUserResources inserts the starting power pool if the user has none.
func (s *WorldService) CreateUserResources(ctx context.Context, tx domain.Tx, userID int64) error {
	_, err := tx.CreateResourcesIfAbsent(ctx, domain.Resources{
		UserID:   userID,
		Power:    s.rules.DefaultPower,
		MaxPower: s.rules.MaxPower,
		LastTick: s.clock(),
	})
	if err != nil {
		return fmt.Errorf("create resources: %w", err)
	}
	return nil
}

// TickUserResources settles regeneration accrued since the last tick and
// returns the settled resources, or nil if the user has no resources row.
func (s *WorldService) TickUserResources(ctx context.Context, tx domain.Tx, userID int64) (*domain.Resources, error) {
	res, err := tx.GetResources(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load resources: %w", err)
	}
	if res == nil {
		return nil, nil
	}
	if s.settle(res, s.clock()) {
		if err := tx.UpdateResources(ctx, *res); err != nil {
			return nil, fmt.Errorf("update resources: %w", err)
		}
	}
	return res, nil
}

// settle applies whole elapsed ticks to r. last_tick advances by exact tick
// multiples so the sub-tick remainder carries over.
func (s *WorldService) settle(r *domain.Resources, now time.Time) bool {
	tick := s.rules.TickInterval
	if tick <= 0 {
		return false
	}
	elapsed := now.Sub(r.LastTick)
	if elapsed < tick {
		return false
	}
	ticks := int64(elapsed / tick)
	if power := min(r.MaxPower, r.Power+ticks*s.rules.RegenPerTick); power > r.Power {
		r.Power = power
	}
	r.LastTick = r.LastTick.Add(time.Duration(ticks) * tick)
	return true
}

// SpawnForUserIfNeeded gives a user with no territory the first free land
// tile in (y, x) order. A user who already owns land keeps it.
func (s *WorldService) SpawnForUserIfNeeded(ctx context.Context, tx domain.Tx, userID int64) (domain.Point, error) {
	owned, err := tx.FirstOwnedTile(ctx, userID)
	if err != nil {
		return domain.Point{}, fmt.Errorf("find owned tile: %w", err)
	}
	if owned != nil {
		return *owned, nil
	}

	spot, err := tx.FirstSpawnableTile(ctx)
	if err != nil {
		return domain.Point{}, fmt.Errorf("find spawn tile: %w", err)
	}
	if spot == nil {
		return domain.Point{}, ErrSpawnFailed
	}

	if err := tx.SetTileOwner(ctx, spot.X, spot.Y, &userID); err != nil {
		return domain.Point{}, fmt.Errorf("assign spawn: %w", err)
	}
	if _, err := s.record(ctx, tx, &userID, domain.EventTileClaim, map[string]any{
		"x": spot.X, "y": spot.Y, "owner_user_id": userID,
	}); err != nil {
		return domain.Point{}, err
	}
	return *spot, nil
}

// ClaimTile takes an unowned land tile adjacent to the user's territory.
func (s *WorldService) ClaimTile(ctx context.Context, tx domain.Tx, userID int64, x, y int, cost int64) (*ActionResult, error) {
	res, err := s.TickUserResources(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	tile, err := s.tile(ctx, tx, x, y)
	if err != nil {
		return nil, err
	}
	switch {
	case tile.Terrain != domain.TerrainLand:
		return nil, ErrInvalidTile
	case tile.OwnedBy(userID):
		return nil, ErrAlreadyOwned
	case tile.OwnerUserID != nil:
		return nil, ErrOccupied
	}
	if err := s.requireAdjacent(ctx, tx, userID, x, y); err != nil {
		return nil, err
	}
	if err := s.spend(ctx, tx, res, cost); err != nil {
		return nil, err
	}

	if err := tx.SetTileOwner(ctx, x, y, &userID); err != nil {
		return nil, fmt.Errorf("claim tile: %w", err)
	}
	version, err := s.record(ctx, tx, &userID, domain.EventTileClaim, map[string]any{
		"x": x, "y": y, "owner_user_id": userID,
	})
	if err != nil {
		return nil, err
	}
	return &ActionResult{Tile: domain.Point{X: x, Y: y}, PowerCost: cost, Resources: *res, WorldVersion: version}, nil
}

// AttackTile captures a tile owned by another user, razing any building on it.
func (s *WorldService) AttackTile(ctx context.Context, tx domain.Tx, userID int64, x, y int, cost int64) (*ActionResult, error) {
	res, err := s.TickUserResources(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	tile, err := s.tile(ctx, tx, x, y)
	if err != nil {
		return nil, err
	}
	switch {
	case tile.OwnerUserID == nil:
		return nil, ErrNeutralTile
	case tile.OwnedBy(userID):
		return nil, ErrAlreadyOwned
	}
	previous := *tile.OwnerUserID
	if err := s.requireAdjacent(ctx, tx, userID, x, y); err != nil {
		return nil, err
	}
	if err := s.spend(ctx, tx, res, cost); err != nil {
		return nil, err
	}

	if err := tx.SetTileOwner(ctx, x, y, &userID); err != nil {
		return nil, fmt.Errorf("capture tile: %w", err)
	}
	if _, err := tx.DeleteBuilding(ctx, x, y); err != nil {
		return nil, fmt.Errorf("raze building: %w", err)
	}
	version, err := s.record(ctx, tx, &userID, domain.EventTileAttackCapture, map[string]any{
		"x": x, "y": y, "from_owner_user_id": previous, "to_owner_user_id": userID,
	})
	if err != nil {
		return nil, err
	}
	return &ActionResult{Tile: domain.Point{X: x, Y: y}, PowerCost: cost, Resources: *res, WorldVersion: version}, nil
}

// BuildOnTile places a level 1 building on a tile the user owns.
func (s *WorldService) BuildOnTile(ctx context.Context, tx domain.Tx, userID int64, x, y int, buildingType string, cost int64) (*ActionResult, error) {
	res, err := s.TickUserResources(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	tile, err := s.tile(ctx, tx, x, y)
	if err != nil {
		return nil, err
	}
	if !tile.OwnedBy(userID) {
		return nil, ErrNotOwner
	}
	existing, err := tx.GetBuilding(ctx, x, y)
	if err != nil {
		return nil, fmt.Errorf("load building: %w", err)
	}
	if existing != nil {
		return nil, ErrBuildingExists
	}
	if err := s.spend(ctx, tx, res, cost); err != nil {
		return nil, err
	}

	if err := tx.CreateBuilding(ctx, domain.Building{X: x, Y: y, OwnerUserID: userID, Type: buildingType, Level: 1}); err != nil {
		return nil, fmt.Errorf("place building: %w", err)
	}
	version, err := s.record(ctx, tx, &userID, domain.EventBuildingPlace, map[string]any{
		"x": x, "y": y, "building_type": buildingType, "level": 1,
	})
	if err != nil {
		return nil, err
	}
	return &ActionResult{Tile: domain.Point{X: x, Y: y}, PowerCost: cost, Resources: *res, WorldVersion: version}, nil
}

// WorldMeta returns the map size and current version.
func (s *WorldService) WorldMeta(ctx context.Context, tx domain.Tx) (*domain.WorldMeta, error) {
	meta, err := tx.GetWorldMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("load world meta: %w", err)
	}
	if meta == nil {
		return nil, fmt.Errorf("world not bootstrapped")
	}
	return meta, nil
}

// UserState settles the user's resources and reports their holdings.
func (s *WorldService) UserState(ctx context.Context, tx domain.Tx, userID int64) (*UserState, error) {
	res, err := s.TickUserResources(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("no resources for user %d", userID)
	}
	tiles, err := tx.OwnedTiles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned tiles: %w", err)
	}
	meta, err := s.WorldMeta(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &UserState{Resources: *res, OwnedTiles: tiles, WorldVersion: meta.Version}, nil
}

// WorldRegion returns the tiles in the inclusive rectangle clamped to the
// map. Nil max bounds extend to the map edge.
func (s *WorldService) WorldRegion(ctx context.Context, tx domain.Tx, minX, minY int, maxX, maxY *int) (*Region, error) {
	meta, err := s.WorldMeta(ctx, tx)
	if err != nil {
		return nil, err
	}
	hiX, hiY := meta.Width-1, meta.Height-1
	if maxX != nil {
		hiX = min(*maxX, hiX)
	}
	if maxY != nil {
		hiY = min(*maxY, hiY)
	}
	loX, loY := max(minX, 0), max(minY, 0)

	region := &Region{Tiles: []domain.TileView{}, WorldVersion: meta.Version}
	if loX > hiX || loY > hiY {
		return region, nil
	}
	tiles, err := tx.Region(ctx, loX, loY, hiX, hiY)
	if err != nil {
		return nil, fmt.Errorf("load region: %w", err)
	}
	if tiles != nil {
		region.Tiles = tiles
	}
	return region, nil
}

// PatchesSince returns every event after fromVersion and the current version.
func (s *WorldService) PatchesSince(ctx context.Context, tx domain.Tx, fromVersion int64) (*Patches, error) {
	events, err := tx.EventsSince(ctx, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	meta, err := s.WorldMeta(ctx, tx)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []domain.WorldEvent{}
	}
	return &Patches{FromVersion: fromVersion, ToVersion: meta.Version, Events: events}, nil
}

func (s *WorldService) tile(ctx context.Context, tx domain.Tx, x, y int) (*domain.Tile, error) {
	tile, err := tx.GetTile(ctx, x, y)
	if err != nil {
		return nil, fmt.Errorf("load tile: %w", err)
	}
	if tile == nil {
		return nil, ErrTileOutOfBounds.WithDetails(map[string]any{"x": x, "y": y})
	}
	return tile, nil
}

func (s *WorldService) requireAdjacent(ctx context.Context, tx domain.Tx, userID int64, x, y int) error {
	for _, n := range (domain.Point{X: x, Y: y}).Neighbors() {
		tile, err := tx.GetTile(ctx, n.X, n.Y)
		if err != nil {
			return fmt.Errorf("load neighbour: %w", err)
		}
		if tile != nil && tile.OwnedBy(userID) {
			return nil
		}
	}
	return ErrNotAdjacent
}

// spend debits cost from res and persists it.
func (s *WorldService) spend(ctx context.Context, tx domain.Tx, res *domain.Resources, cost int64) error {
	if cost < 0 {
		return ErrInvalidCost
	}
	if res == nil || res.Power < cost {
		return ErrInsufficientPower
	}
	res.Power -= cost
	if err := tx.UpdateResources(ctx, *res); err != nil {
		return fmt.Errorf("debit power: %w", err)
	}
	return nil
}

// record bumps the world version and appends the matching event.
func (s *WorldService) record(ctx context.Context, tx domain.Tx, actor *int64, eventType string, payload map[string]any) (int64, error) {
	version, err := tx.NextVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	err = tx.AppendEvent(ctx, domain.WorldEvent{
		Version:     version,
		ActorUserID: actor,
		Type:        eventType,
		Payload:     data,
		CreatedAt:   s.clock(),
	})
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return version, nil
}
