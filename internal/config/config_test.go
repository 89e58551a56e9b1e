package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:12345" || cfg.HTTPAddr != ":8080" {
		t.Errorf("unexpected addresses: %q %q", cfg.ListenAddr, cfg.HTTPAddr)
	}
	if cfg.DBDriver != DriverSQLite || cfg.DBPath != "data/conquest.db" {
		t.Errorf("unexpected storage: %q %q", cfg.DBDriver, cfg.DBPath)
	}
	if cfg.WorldWidth != 100 || cfg.WorldHeight != 100 {
		t.Errorf("unexpected world size %dx%d", cfg.WorldWidth, cfg.WorldHeight)
	}
	if cfg.SessionTTL != 168*time.Hour || cfg.TickInterval != 2*time.Second {
		t.Errorf("unexpected durations: %s %s", cfg.SessionTTL, cfg.TickInterval)
	}
	if cfg.DefaultPower != 100 || cfg.MaxPower != 100 || cfg.PowerRegenPerTick != 1 {
		t.Errorf("unexpected economy: %+v", cfg)
	}
	if cfg.RateLimit != 20 || cfg.RateBurst != 40 {
		t.Errorf("unexpected rate limit: %v/%d", cfg.RateLimit, cfg.RateBurst)
	}
	if cfg.AllowDestructiveMigrations || cfg.OIDC.Enabled() {
		t.Errorf("expected opt-in features off: %+v", cfg)
	}
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Setenv("WORLD_WIDTH", "16")
	t.Setenv("WORLD_HEIGHT", "12")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("OIDC_ISSUER", "https://id.example.com")
	t.Setenv("OIDC_CLIENT_ID", "conquest")
	t.Setenv("OIDC_CLIENT_SECRET", "s3cret")
	t.Setenv("OIDC_REDIRECT_URL", "https://game.example.com/callback")

	cfg, err := Load([]string{"-width", "8", "-listen", "127.0.0.1:9000", "-session-ttl", "30m"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorldWidth != 8 || cfg.WorldHeight != 12 {
		t.Errorf("expected flag to override env width, got %dx%d", cfg.WorldWidth, cfg.WorldHeight)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" || cfg.SessionTTL != 30*time.Minute {
		t.Errorf("unexpected overrides: %+v", cfg)
	}
	if cfg.DBDriver != DriverMemory {
		t.Errorf("expected memory driver, got %q", cfg.DBDriver)
	}
	want := OIDC{
		Issuer:       "https://id.example.com",
		ClientID:     "conquest",
		ClientSecret: "s3cret",
		RedirectURL:  "https://game.example.com/callback",
	}
	if !cfg.OIDC.Enabled() || cfg.OIDC != want {
		t.Errorf("unexpected oidc config: %+v", cfg.OIDC)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{"bad int", map[string]string{"WORLD_WIDTH": "wide"}, nil, "parse env:"},
		{"bad flag", nil, []string{"-bogus"}, "parse flags:"},
		{"zero width", nil, []string{"-width", "0"}, "world size must be positive"},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}, nil, "DATABASE_URL is required"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, nil, "unknown DB_DRIVER"},
		{"sub-millisecond tick", map[string]string{"TICK_INTERVAL": "1500us"}, nil, "whole number of milliseconds"},
		{"default above max", map[string]string{"DEFAULT_POWER": "200"}, nil, "exceeds MAX_POWER"},
		{"oidc without client", map[string]string{"OIDC_ISSUER": "https://id.example.com"}, nil, "OIDC_CLIENT_ID"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(tc.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected %q in %v", tc.want, err)
			}
		})
	}
}
