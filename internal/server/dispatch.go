package server

import (
	"context"
	"errors"
	"fmt"
	"log"

	"conquest/internal/app"
	"conquest/internal/domain"
	"conquest/internal/protocol"
)

var errRateLimited = domain.NewError(domain.KindProtocol, domain.CodeRateLimited, "Too many requests")

// outcome is a routed request's reply plus the identity change to apply to
// the connection once the transaction has committed.
type outcome struct {
	data   any
	login  *int64
	logout bool
}

// handle turns one request line into one response line.
func (s *Server) handle(ctx context.Context, c *conn, line []byte) []byte {
	req, err := protocol.Decode(line)
	if err != nil {
		var id *string
		if req != nil {
			id = req.RequestID
		}
		return s.reply(c, "", id, nil, err)
	}

	if v := req.ProtocolVersion; v != nil && *v != protocol.Version {
		err := domain.NewError(domain.KindProtocol, domain.CodeVersionMismatch,
			fmt.Sprintf("Unsupported protocol version %d", *v)).
			WithDetails(map[string]any{"expected": protocol.Version, "received": *v})
		return s.reply(c, req.Type, req.RequestID, nil, err)
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return s.reply(c, req.Type, req.RequestID, nil, errRateLimited)
	}
	if req.Kind == protocol.KindUnknown {
		err := domain.NewError(domain.KindProtocol, domain.CodeUnknownType,
			fmt.Sprintf("Unknown message type: %s", req.Type)).
			WithDetails(map[string]any{"type": req.Type})
		return s.reply(c, req.Type, req.RequestID, nil, err)
	}

	var ssoUser string
	if req.Kind == protocol.KindAuthSSO {
		if ssoUser, err = s.identify(ctx, c, req.Payload); err != nil {
			return s.reply(c, req.Type, req.RequestID, nil, err)
		}
	}

	out, err := s.transact(ctx, func(tx domain.Tx) (*outcome, error) {
		return s.route(ctx, tx, c, req, ssoUser)
	})
	if err != nil {
		return s.reply(c, req.Type, req.RequestID, nil, err)
	}
	switch {
	case out.logout:
		c.userID = nil
	case out.login != nil:
		c.userID = out.login
	}
	return s.reply(c, req.Type, req.RequestID, out.data, nil)
}

// identify verifies an SSO credential. It runs outside the store lock since
// it may call the identity provider.
func (s *Server) identify(ctx context.Context, c *conn, p protocol.Payload) (string, error) {
	if s.sso == nil {
		return "", app.ErrSSODisabled
	}
	cred, err := p.SSO()
	if err != nil {
		return "", err
	}
	username, err := s.sso.Identify(ctx, cred.IDToken, cred.Code)
	if err != nil {
		log.Printf("[server] conn %s: sso: %v", c.id, err)
		return "", app.ErrSSOFailed
	}
	return username, nil
}

// transact runs fn in a store transaction while holding the server lock.
// An expired session is deleted even though the request fails.
func (s *Server) transact(ctx context.Context, fn func(tx domain.Tx) (*outcome, error)) (*outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	out, err := fn(tx)
	if err != nil && !errors.Is(err, app.ErrSessionExpired) {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[server] rollback: %v", rbErr)
		}
		return nil, err
	}
	if cErr := tx.Commit(); cErr != nil {
		return nil, fmt.Errorf("commit: %w", cErr)
	}
	return out, err
}

// reply encodes a response envelope. Errors that are not domain errors are
// logged and reported as internal_error.
func (s *Server) reply(c *conn, requestType string, requestID *string, data any, err error) []byte {
	if err == nil {
		b, encErr := protocol.EncodeOK(requestType, requestID, data)
		if encErr == nil {
			return b
		}
		err = fmt.Errorf("encode %s response: %w", requestType, encErr)
	}

	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindInternal {
		log.Printf("[server] conn %s: %s failed: %v", c.id, requestType, err)
	}
	return protocol.EncodeError(domain.AsError(err), requestID)
}

// route executes one decoded request inside tx.
func (s *Server) route(ctx context.Context, tx domain.Tx, c *conn, req *protocol.Request, ssoUser string) (*outcome, error) {
	var userID int64
	if req.Kind.RequiresAuth() {
		id, err := s.identity(ctx, tx, c, req.Payload)
		if err != nil {
			return nil, err
		}
		userID = id
	}
	out, err := s.exec(ctx, tx, req, userID, ssoUser)
	if err != nil {
		return nil, err
	}
	if req.Kind.RequiresAuth() {
		out.login = &userID
	}
	return out, nil
}

func (s *Server) exec(ctx context.Context, tx domain.Tx, req *protocol.Request, userID int64, ssoUser string) (*outcome, error) {
	p := req.Payload
	switch req.Kind {
	case protocol.KindAuthRegister:
		cred, err := p.Credentials()
		if err != nil {
			return nil, err
		}
		user, spawn, err := s.auth.Register(ctx, tx, cred.Username, cred.Password)
		if err != nil {
			return nil, err
		}
		return &outcome{data: map[string]any{"username": user.Username, "spawn": spawn}}, nil

	case protocol.KindAuthLogin:
		cred, err := p.Credentials()
		if err != nil {
			return nil, err
		}
		user, session, err := s.auth.Login(ctx, tx, cred.Username, cred.Password)
		if err != nil {
			return nil, err
		}
		return &outcome{data: viewSession(user, session), login: &user.ID}, nil

	case protocol.KindAuthResume:
		token, err := p.Token()
		if err != nil {
			return nil, err
		}
		user, err := s.auth.ValidateSession(ctx, tx, token)
		if err != nil {
			return nil, err
		}
		return &outcome{data: map[string]any{"user_id": user.ID, "username": user.Username}, login: &user.ID}, nil

	case protocol.KindAuthLogout:
		token, err := p.Token()
		if err != nil {
			return nil, err
		}
		if err := s.auth.Logout(ctx, tx, token); err != nil {
			return nil, err
		}
		return &outcome{data: map[string]any{"logged_out": true}, logout: true}, nil

	case protocol.KindAuthSSO:
		user, session, err := s.auth.LoginExternal(ctx, tx, ssoUser)
		if err != nil {
			return nil, err
		}
		return &outcome{data: viewSession(user, session), login: &user.ID}, nil

	case protocol.KindWorldMeta:
		meta, err := s.world.WorldMeta(ctx, tx)
		if err != nil {
			return nil, err
		}
		return &outcome{data: map[string]any{"width": meta.Width, "height": meta.Height, "version": meta.Version}}, nil

	case protocol.KindWorldState:
		st, err := s.world.UserState(ctx, tx, userID)
		if err != nil {
			return nil, err
		}
		return &outcome{data: map[string]any{
			"resources":     viewResources(st.Resources),
			"owned_tiles":   viewPoints(st.OwnedTiles),
			"world_version": st.WorldVersion,
		}}, nil

	case protocol.KindWorldRegion:
		q, err := p.RegionQuery()
		if err != nil {
			return nil, err
		}
		region, err := s.world.WorldRegion(ctx, tx, q.MinX, q.MinY, q.MaxX, q.MaxY)
		if err != nil {
			return nil, err
		}
		return &outcome{data: map[string]any{"tiles": viewTiles(region.Tiles), "world_version": region.WorldVersion}}, nil

	case protocol.KindWorldPatchSince:
		from, err := p.FromVersion()
		if err != nil {
			return nil, err
		}
		patches, err := s.world.PatchesSince(ctx, tx, from)
		if err != nil {
			return nil, err
		}
		return &outcome{data: map[string]any{
			"from_version": patches.FromVersion,
			"to_version":   patches.ToVersion,
			"events":       viewEvents(patches.Events),
		}}, nil

	case protocol.KindActionClaim:
		a, err := p.TileAction(protocol.DefaultClaimCost, false)
		if err != nil {
			return nil, err
		}
		res, err := s.world.ClaimTile(ctx, tx, userID, a.X, a.Y, a.PowerCost)
		if err != nil {
			return nil, err
		}
		return &outcome{data: viewAction("claimed", res, nil)}, nil

	case protocol.KindActionAttack:
		a, err := p.TileAction(protocol.DefaultAttackCost, false)
		if err != nil {
			return nil, err
		}
		res, err := s.world.AttackTile(ctx, tx, userID, a.X, a.Y, a.PowerCost)
		if err != nil {
			return nil, err
		}
		return &outcome{data: viewAction("captured", res, nil)}, nil

	case protocol.KindActionBuild:
		a, err := p.TileAction(protocol.DefaultBuildCost, true)
		if err != nil {
			return nil, err
		}
		res, err := s.world.BuildOnTile(ctx, tx, userID, a.X, a.Y, a.BuildingType, a.PowerCost)
		if err != nil {
			return nil, err
		}
		return &outcome{data: viewAction("built", res, map[string]any{"building_type": a.BuildingType})}, nil

	case protocol.KindPing:
		return &outcome{data: map[string]bool{"pong": true}}, nil

	case protocol.KindUnknown:
	}
	return nil, fmt.Errorf("unroutable request kind %v", req.Kind)
}

// identity resolves the acting user: an inline payload token wins over the
// connection's logged-in user.
func (s *Server) identity(ctx context.Context, tx domain.Tx, c *conn, p protocol.Payload) (int64, error) {
	if token := p.InlineToken(); token != "" {
		user, err := s.auth.ValidateSession(ctx, tx, token)
		if err != nil {
			return 0, err
		}
		return user.ID, nil
	}
	if c.userID == nil {
		return 0, app.ErrAuthRequired
	}
	return *c.userID, nil
}
