package protocol

import (
	"encoding/json"
	"strconv"
	"strings"

	"conquest/internal/domain"
)

// Default action costs when the client omits power_cost.
const (
	DefaultClaimCost  = 5
	DefaultAttackCost = 15
	DefaultBuildCost  = 10
)

// Payload is the request payload object. Numbers are json.Number.
type Payload map[string]any

func missing(key string) *domain.Error {
	return domain.Validationf(key, "Missing '%s'", key)
}

func notInteger(key string) *domain.Error {
	return domain.Validationf(key, "'%s' must be an integer", key)
}

// Secret returns the raw string at key. Blank values are rejected but the
// value is not trimmed.
func (p Payload) Secret(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", missing(key)
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case bool:
		s = strconv.FormatBool(t)
	default:
		return "", domain.Validationf(key, "'%s' must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", domain.Validationf(key, "'%s' cannot be empty", key)
	}
	return s, nil
}

// String returns the trimmed, non-empty string at key.
func (p Payload) String(key string) (string, error) {
	s, err := p.Secret(key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// Int returns the integer at key.
func (p Payload) Int(key string) (int64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, missing(key)
	}
	n, err := asInt(v)
	if err != nil {
		return 0, notInteger(key)
	}
	return n, nil
}

// IntOr returns the integer at key, or def when the key is absent or null.
func (p Payload) IntOr(key string, def int64) (int64, error) {
	if v, ok := p[key]; !ok || v == nil {
		return def, nil
	}
	return p.Int(key)
}

// OptionalInt returns nil when key is absent or null.
func (p Payload) OptionalInt(key string) (*int64, error) {
	if v, ok := p[key]; !ok || v == nil {
		return nil, nil
	}
	n, err := p.Int(key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// AtLeast checks a value read from key against a lower bound.
func AtLeast(key string, v, minimum int64) error {
	if v < minimum {
		return domain.Validationf(key, "'%s' must be >= %d", key, minimum)
	}
	return nil
}

// Credentials is the payload of auth.register and auth.login.
type Credentials struct {
	Username string
	Password string
}

// Credentials validates a username and password payload.
func (p Payload) Credentials() (Credentials, error) {
	username, err := p.String("username")
	if err != nil {
		return Credentials{}, err
	}
	password, err := p.Secret("password")
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Username: username, Password: password}, nil
}

// Token validates the payload of auth.resume and auth.logout.
func (p Payload) Token() (string, error) {
	return p.String("token")
}

// InlineToken returns the optional bearer token sent alongside any request.
func (p Payload) InlineToken() string {
	s, _ := p["token"].(string)
	return strings.TrimSpace(s)
}

// SSO is the payload of auth.sso. Exactly one of the fields is used; an
// id_token wins over a code.
type SSO struct {
	IDToken string
	Code    string
}

// SSO validates an auth.sso payload.
func (p Payload) SSO() (SSO, error) {
	if tok, err := p.String("id_token"); err == nil {
		return SSO{IDToken: tok}, nil
	}
	code, err := p.String("code")
	if err != nil {
		return SSO{}, domain.Validationf("id_token", "Missing 'id_token' or 'code'")
	}
	return SSO{Code: code}, nil
}

// RegionQuery is the payload of world.region.
type RegionQuery struct {
	MinX, MinY int
	MaxX, MaxY *int
}

// RegionQuery validates a world.region payload.
func (p Payload) RegionQuery() (RegionQuery, error) {
	var q RegionQuery
	minX, err := p.IntOr("min_x", 0)
	if err != nil {
		return q, err
	}
	minY, err := p.IntOr("min_y", 0)
	if err != nil {
		return q, err
	}
	q.MinX, q.MinY = int(minX), int(minY)

	for _, bound := range []struct {
		key string
		dst **int
	}{{"max_x", &q.MaxX}, {"max_y", &q.MaxY}} {
		v, err := p.OptionalInt(bound.key)
		if err != nil {
			return q, err
		}
		if v != nil {
			n := int(*v)
			*bound.dst = &n
		}
	}
	return q, nil
}

// FromVersion validates a world.patch_since payload.
func (p Payload) FromVersion() (int64, error) {
	v, err := p.Int("from_version")
	if err != nil {
		return 0, err
	}
	if err := AtLeast("from_version", v, 0); err != nil {
		return 0, err
	}
	return v, nil
}

// TileAction is the payload of action.claim, action.attack and action.build.
type TileAction struct {
	X, Y         int
	PowerCost    int64
	BuildingType string
}

// TileAction validates coordinates and an optional power_cost defaulting to
// defaultCost. withBuilding additionally requires building_type.
func (p Payload) TileAction(defaultCost int64, withBuilding bool) (TileAction, error) {
	var a TileAction
	x, err := p.Int("x")
	if err != nil {
		return a, err
	}
	y, err := p.Int("y")
	if err != nil {
		return a, err
	}
	a.X, a.Y = int(x), int(y)

	if withBuilding {
		if a.BuildingType, err = p.String("building_type"); err != nil {
			return a, err
		}
	}

	if a.PowerCost, err = p.IntOr("power_cost", defaultCost); err != nil {
		return a, err
	}
	if err := AtLeast("power_cost", a.PowerCost, 1); err != nil {
		return a, err
	}
	return a, nil
}
