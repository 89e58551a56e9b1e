// Package app holds the application services and business logic.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"conquest/internal/auth"
	"conquest/internal/domain"
)

var (
	// ErrInvalidCredentials indicates that the provided username or password was incorrect.
	ErrInvalidCredentials = domain.NewError(domain.KindAuth, domain.CodeInvalidCredentials, "Invalid username or password")
	// ErrUsernameTaken indicates a registration for an existing username.
	ErrUsernameTaken = domain.NewError(domain.KindAuth, domain.CodeUsernameTaken, "Username already registered")
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = domain.NewError(domain.KindAuth, domain.CodeInvalidToken, "Invalid session token")
	// ErrSessionExpired indicates that the session has expired.
	ErrSessionExpired = domain.NewError(domain.KindAuth, domain.CodeSessionExpired, "Session token expired")
	// ErrAuthRequired indicates an operation that needs an identity.
	ErrAuthRequired = domain.NewError(domain.KindAuth, domain.CodeAuthRequired, "Authentication required")
	// ErrSSODisabled is returned for auth.sso when no identity provider is configured.
	ErrSSODisabled = domain.NewError(domain.KindAuth, domain.CodeSSODisabled, "SSO is not configured")
	// ErrSSOFailed indicates the identity provider rejected the credential.
	ErrSSOFailed = domain.NewError(domain.KindAuth, domain.CodeSSOFailed, "SSO login failed")
)

// Minimum lengths are counted in characters, not bytes.
const (
	minUsernameLen = 3
	minPasswordLen = 8
)

// AuthService handles registration, authentication and session management.
type AuthService struct {
	world *WorldService
	ttl   time.Duration
	now   func() time.Time
}

// NewAuthService creates a new authentication service. Sessions live for ttl.
func NewAuthService(world *WorldService, ttl time.Duration, now func() time.Time) *AuthService {
	if now == nil {
		now = time.Now
	}
	return &AuthService{world: world, ttl: ttl, now: now}
}

// Register creates a user, their resources and their spawn tile.
func (s *AuthService) Register(ctx context.Context, tx domain.Tx, username, password string) (*domain.User, domain.Point, error) {
	username = strings.TrimSpace(username)
	if utf8.RuneCountInString(username) < minUsernameLen {
		return nil, domain.Point{}, domain.Validationf("username", "Username must be at least %d characters", minUsernameLen)
	}
	if utf8.RuneCountInString(password) < minPasswordLen {
		return nil, domain.Point{}, domain.Validationf("password", "Password must be at least %d characters", minPasswordLen)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, domain.Point{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.provision(ctx, tx, username, hash)
	if err != nil {
		return nil, domain.Point{}, err
	}
	spawn, err := s.world.SpawnForUserIfNeeded(ctx, tx, user.ID)
	if err != nil {
		return nil, domain.Point{}, err
	}
	return user, spawn, nil
}

// Login authenticates a user and creates a session. Expired sessions are
// purged on the way.
func (s *AuthService) Login(ctx context.Context, tx domain.Tx, username, password string) (*domain.User, *domain.Session, error) {
	user, err := tx.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, nil, ErrInvalidCredentials
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, nil, fmt.Errorf("verify password for user %d: %w", user.ID, err)
	}
	if !ok {
		return nil, nil, ErrInvalidCredentials
	}

	session, err := s.issue(ctx, tx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// LoginExternal creates a session for a user already authenticated by an
// external identity provider, provisioning the account on first sight.
func (s *AuthService) LoginExternal(ctx context.Context, tx domain.Tx, username string) (*domain.User, *domain.Session, error) {
	user, err := tx.GetByUsername(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		// A random password keeps the hash well formed while making password
		// login impossible for SSO accounts.
		secret, err := auth.NewSessionToken()
		if err != nil {
			return nil, nil, err
		}
		hash, err := auth.HashPassword(secret)
		if err != nil {
			return nil, nil, fmt.Errorf("hash password: %w", err)
		}
		if user, err = s.provision(ctx, tx, username, hash); err != nil {
			return nil, nil, err
		}
		if _, err := s.world.SpawnForUserIfNeeded(ctx, tx, user.ID); err != nil {
			return nil, nil, err
		}
	}

	session, err := s.issue(ctx, tx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// ValidateSession resolves a token to its user. Expired sessions are deleted.
func (s *AuthService) ValidateSession(ctx context.Context, tx domain.Tx, token string) (*domain.User, error) {
	session, err := tx.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if session.Expired(s.now()) {
		if _, err := tx.DeleteSession(ctx, token); err != nil {
			return nil, fmt.Errorf("delete expired session: %w", err)
		}
		return nil, ErrSessionExpired
	}

	user, err := tx.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, ErrSessionNotFound
	}
	return user, nil
}

// Logout invalidates a session. Unknown tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, tx domain.Tx, token string) error {
	if _, err := tx.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *AuthService) provision(ctx context.Context, tx domain.Tx, username, hash string) (*domain.User, error) {
	existing, err := tx.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}
	user, err := tx.CreateUser(ctx, username, hash, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.world.CreateUserResources(ctx, tx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) issue(ctx context.Context, tx domain.Tx, userID int64) (*domain.Session, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	if _, err := tx.DeleteExpired(ctx, now); err != nil {
		return nil, fmt.Errorf("purge sessions: %w", err)
	}

	token, err := auth.NewSessionToken()
	if err != nil {
		return nil, err
	}
	session := domain.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := tx.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &session, nil
}
