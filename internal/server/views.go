package server

import (
	"encoding/json"

	"conquest/internal/app"
	"conquest/internal/domain"
	"conquest/internal/protocol"
)

type resourcesView struct {
	Power    int64 `json:"power"`
	MaxPower int64 `json:"max_power"`
}

type buildingView struct {
	Type  string `json:"type"`
	Level int    `json:"level"`
}

type tileView struct {
	X           int            `json:"x"`
	Y           int            `json:"y"`
	Terrain     domain.Terrain `json:"terrain"`
	OwnerUserID *int64         `json:"owner_user_id"`
	Building    *buildingView  `json:"building"`
}

type eventView struct {
	Version     int64           `json:"version"`
	ActorUserID *int64          `json:"actor_user_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   float64         `json:"created_at"`
}

func viewResources(r domain.Resources) resourcesView {
	return resourcesView{Power: r.Power, MaxPower: r.MaxPower}
}

func viewTiles(tiles []domain.TileView) []tileView {
	out := make([]tileView, 0, len(tiles))
	for _, t := range tiles {
		v := tileView{X: t.X, Y: t.Y, Terrain: t.Terrain, OwnerUserID: t.OwnerUserID}
		if t.Building != nil {
			v.Building = &buildingView{Type: t.Building.Type, Level: t.Building.Level}
		}
		out = append(out, v)
	}
	return out
}

func viewEvents(events []domain.WorldEvent) []eventView {
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		payload := e.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		out = append(out, eventView{
			Version:     e.Version,
			ActorUserID: e.ActorUserID,
			EventType:   e.Type,
			Payload:     payload,
			CreatedAt:   protocol.Timestamp(e.CreatedAt),
		})
	}
	return out
}

func viewPoints(points []domain.Point) []domain.Point {
	if points == nil {
		return []domain.Point{}
	}
	return points
}

func viewSession(user *domain.User, session *domain.Session) map[string]any {
	return map[string]any{
		"token":      session.Token,
		"user_id":    user.ID,
		"username":   user.Username,
		"expires_at": protocol.Timestamp(session.ExpiresAt),
	}
}

func viewAction(key string, r *app.ActionResult, extra map[string]any) map[string]any {
	target := map[string]any{"x": r.Tile.X, "y": r.Tile.Y}
	for k, v := range extra {
		target[k] = v
	}
	return map[string]any{
		key:             target,
		"power_cost":    r.PowerCost,
		"resources":     viewResources(r.Resources),
		"world_version": r.WorldVersion,
	}
}
