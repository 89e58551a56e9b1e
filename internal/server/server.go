// Package server runs the authoritative game dispatcher: it accepts client
// connections, decodes protocol lines and executes each request against the
// store under a single server-wide lock.
package server

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"conquest/internal/app"
	"conquest/internal/domain"
	"conquest/internal/protocol"
)

// IdentityVerifier resolves an external SSO credential to a username.
type IdentityVerifier interface {
	Identify(ctx context.Context, idToken, code string) (string, error)
}

// Config tunes per-connection behaviour.
type Config struct {
	// RateLimit is the sustained requests per second allowed per connection.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Server owns the connection registry and the lock that serializes all
// store access.
type Server struct {
	cfg   Config
	store domain.Store
	auth  *app.AuthService
	world *app.WorldService
	sso   IdentityVerifier

	mu sync.Mutex

	connMu  sync.Mutex
	conns   map[uuid.UUID]*conn
	closing bool
	wg      sync.WaitGroup
}

// New creates a Server. sso may be nil, in which case auth.sso requests fail
// with sso_disabled.
func New(cfg Config, store domain.Store, authSvc *app.AuthService, world *app.WorldService, sso IdentityVerifier) *Server {
	return &Server{
		cfg:   cfg,
		store: store,
		auth:  authSvc,
		world: world,
		sso:   sso,
		conns: make(map[uuid.UUID]*conn),
	}
}

// conn is the per-connection session state. Fields other than t are only
// touched by the connection's own goroutine.
type conn struct {
	id      uuid.UUID
	t       Transport
	limiter *rate.Limiter
	userID  *int64
}

// Serve accepts connections on ln until ctx is cancelled or the listener
// fails. Each connection is served on its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	log.Printf("[server] listening on %s", ln.Addr())
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.ServeConn(ctx, NewLineTransport(nc))
	}
}

// ServeConn runs the request loop for one transport until the peer
// disconnects or the server shuts down. It closes t before returning.
func (s *Server) ServeConn(ctx context.Context, t Transport) {
	c, ok := s.register(t)
	if !ok {
		t.Close()
		return
	}
	defer s.unregister(c)

	log.Printf("[server] conn %s opened from %s", c.id, t.RemoteAddr())
	if err := t.WriteLine(protocol.EncodeHello()); err != nil {
		log.Printf("[server] conn %s: write hello: %v", c.id, err)
		return
	}

	for {
		line, err := t.ReadLine()
		if err != nil {
			return
		}
		if err := t.WriteLine(s.handle(ctx, c, line)); err != nil {
			log.Printf("[server] conn %s: write: %v", c.id, err)
			return
		}
	}
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

// Users returns the number of registered users. It takes the dispatch lock
// so the count never observes a half-applied request.
func (s *Server) Users(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	return tx.CountUsers(ctx)
}

// Shutdown closes every open connection and waits for their loops to exit
// or for ctx to expire. New connections are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connMu.Lock()
	s.closing = true
	for _, c := range s.conns {
		c.t.Close()
	}
	s.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) register(t Transport) (*conn, bool) {
	c := &conn{id: uuid.New(), t: t}
	if s.cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), max(s.cfg.RateBurst, 1))
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closing {
		return nil, false
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	return c, true
}

func (s *Server) unregister(c *conn) {
	s.connMu.Lock()
	delete(s.conns, c.id)
	s.connMu.Unlock()

	c.t.Close()
	log.Printf("[server] conn %s closed", c.id)
	s.wg.Done()
}
