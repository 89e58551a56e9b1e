// Package config loads server settings from the environment and command-line
// flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the complete server configuration.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:"0.0.0.0:12345"`
	// HTTPAddr serves /health and /ws. Empty disables the HTTP listener.
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"data/conquest.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	AllowDestructiveMigrations bool `env:"ALLOW_DESTRUCTIVE_MIGRATIONS" envDefault:"false"`

	WorldWidth  int `env:"WORLD_WIDTH" envDefault:"100"`
	WorldHeight int `env:"WORLD_HEIGHT" envDefault:"100"`

	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"168h"`

	DefaultPower      int64         `env:"DEFAULT_POWER" envDefault:"100"`
	MaxPower          int64         `env:"MAX_POWER" envDefault:"100"`
	PowerRegenPerTick int64         `env:"POWER_REGEN_PER_TICK" envDefault:"1"`
	TickInterval      time.Duration `env:"TICK_INTERVAL" envDefault:"2s"`

	RateLimit float64 `env:"RATE_LIMIT" envDefault:"20"`
	RateBurst int     `env:"RATE_BURST" envDefault:"40"`

	OIDC OIDC `envPrefix:"OIDC_"`
}

// OIDC holds the optional OpenID Connect client settings for auth.sso.
type OIDC struct {
	Issuer       string `env:"ISSUER"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// Enabled reports whether an issuer is configured.
func (o OIDC) Enabled() bool {
	return o.Issuer != ""
}

// Load reads the environment, then applies flag overrides from args
// (normally os.Args[1:]).
func Load(args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("conquest", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.IntVar(&cfg.WorldWidth, "width", cfg.WorldWidth, "world width in tiles")
	fs.IntVar(&cfg.WorldHeight, "height", cfg.WorldHeight, "world height in tiles")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "session lifetime")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("LISTEN_ADDR is required"))
	}
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for sqlite"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver))
	}
	if c.WorldWidth <= 0 || c.WorldHeight <= 0 {
		errs = append(errs, fmt.Errorf("world size must be positive, got %dx%d", c.WorldWidth, c.WorldHeight))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.DefaultPower < 0 || c.MaxPower < 0 || c.PowerRegenPerTick < 0 {
		errs = append(errs, errors.New("power settings cannot be negative"))
	}
	if c.DefaultPower > c.MaxPower {
		errs = append(errs, fmt.Errorf("DEFAULT_POWER %d exceeds MAX_POWER %d", c.DefaultPower, c.MaxPower))
	}
	// Resource ticks are stored with millisecond precision.
	if c.TickInterval < time.Millisecond || c.TickInterval%time.Millisecond != 0 {
		errs = append(errs, fmt.Errorf("TICK_INTERVAL must be a whole number of milliseconds, got %s", c.TickInterval))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate limit settings cannot be negative"))
	}
	if c.OIDC.Issuer != "" && c.OIDC.ClientID == "" {
		errs = append(errs, errors.New("OIDC_CLIENT_ID is required when OIDC_ISSUER is set"))
	}
	return errors.Join(errs...)
}
