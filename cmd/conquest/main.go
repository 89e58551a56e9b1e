package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adapthttp "conquest/internal/adapter/http"
	"conquest/internal/adapter/memory"
	"conquest/internal/adapter/oidc"
	"conquest/internal/adapter/postgres"
	"conquest/internal/adapter/sqlite"
	"conquest/internal/adapter/sqlstore"
	"conquest/internal/app"
	"conquest/internal/config"
	"conquest/internal/domain"
	"conquest/internal/server"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer func() { _ = store.Close() }()

	meta, err := store.EnsureWorld(ctx, cfg.WorldWidth, cfg.WorldHeight)
	if err != nil {
		log.Fatalf("bootstrap world: %v", err)
	}
	if meta.Width != cfg.WorldWidth || meta.Height != cfg.WorldHeight {
		log.Printf("warning: stored world is %dx%d, ignoring configured %dx%d",
			meta.Width, meta.Height, cfg.WorldWidth, cfg.WorldHeight)
	}

	var sso server.IdentityVerifier
	if cfg.OIDC.Enabled() {
		v, err := oidc.New(ctx, oidc.Config{
			Issuer:       cfg.OIDC.Issuer,
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			RedirectURL:  cfg.OIDC.RedirectURL,
		})
		if err != nil {
			log.Fatalf("oidc: %v", err)
		}
		sso = v
	}

	world := app.NewWorldService(app.Rules{
		DefaultPower: cfg.DefaultPower,
		MaxPower:     cfg.MaxPower,
		RegenPerTick: cfg.PowerRegenPerTick,
		TickInterval: cfg.TickInterval,
	}, nil)
	authSvc := app.NewAuthService(world, cfg.SessionTTL, nil)
	game := server.New(server.Config{RateLimit: cfg.RateLimit, RateBurst: cfg.RateBurst}, store, authSvc, world, sso)

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{Addr: cfg.HTTPAddr, Handler: adapthttp.New(game).Handler()}
		go func() {
			log.Printf("[http] listening on %s", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("http: %v", err)
			}
		}()
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Printf("world %dx%d at version %d, storage %s", meta.Width, meta.Height, meta.Version, cfg.DBDriver)
	if err := game.Serve(ctx, ln); err != nil {
		log.Printf("serve: %v", err)
	}

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}
	if err := game.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (domain.Store, error) {
	opts := sqlstore.Options{AllowDestructive: cfg.AllowDestructiveMigrations}
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DatabaseURL, opts)
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return sqlite.Open(ctx, cfg.DBPath, opts)
	}
}
