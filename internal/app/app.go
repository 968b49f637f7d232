package app

import (
	"context"
	"crypto/rand"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/seed"
	"github.com/vovakirdan/chatrelay/internal/store"
	"github.com/vovakirdan/chatrelay/internal/store/badgerstore"
	"github.com/vovakirdan/chatrelay/internal/store/memory"
	"github.com/vovakirdan/chatrelay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/chatrelay/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	registry        *core.Registry
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := OpenStore(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	authService, err := NewAuthService(cfg.Auth, st, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	seeded, err := seed.FromFile(ctx, cfg.SeedFile, st, authService, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("seed identities: %w", err)
	}
	if seeded > 0 {
		logger.Info().Int("count", seeded).Str("seed_file", cfg.SeedFile).Msg("identities seeded")
	}

	registry := core.NewRegistry(authService.Tokens(), core.RegistryOptions{
		QueueSize:     cfg.Hub.OutboundQueue,
		SweepInterval: cfg.Hub.SweepInterval,
	}, logger)
	relay := core.NewRelay(st, registry, logger)
	server := transporthttp.NewServer(relay, authService, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		registry:        registry,
		store:           st,
		log:             logger,
	}, nil
}

// OpenStore opens the configured storage backend.
func OpenStore(cfg config.StorageConfig, logger *zerolog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn().Msg("using in-memory storage, data is lost on exit")
		return memory.New(), nil
	case "sqlite":
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		logger.Info().Str("db_path", cfg.SQLitePath).Msg("database initialized")
		return st, nil
	case "badger":
		st, err := badgerstore.Open(cfg.BadgerDir)
		if err != nil {
			return nil, fmt.Errorf("init badger store: %w", err)
		}
		logger.Info().Str("dir", cfg.BadgerDir).Msg("badger store opened")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewAuthService builds the credential store, token service and login flows.
// Without a configured secret a random one is generated for this process.
func NewAuthService(cfg config.AuthConfig, identities store.IdentityStore, logger *zerolog.Logger) (*auth.Service, error) {
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		logger.Warn().Msg("auth.jwt_secret not set, using an ephemeral secret; tokens will not survive a restart")
	}

	tokens, err := auth.NewTokenService(auth.JWTConfig{
		Secret:   secret,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		TTL:      cfg.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init token service: %w", err)
	}

	credentials := auth.NewCredentialStore(identities, auth.Argon2Params{
		Time:    cfg.Argon2.Time,
		Memory:  cfg.Argon2.Memory,
		Threads: cfg.Argon2.Threads,
		KeyLen:  cfg.Argon2.KeyLen,
	})
	return auth.NewService(identities, credentials, tokens), nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler { return a.server.Handler }

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	registryCtx, stopRegistry := context.WithCancel(ctx)
	registryDone := make(chan struct{})
	go func() {
		a.registry.Run(registryCtx)
		close(registryDone)
	}()

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		stopRegistry()
		<-registryDone
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Live connections are hijacked, so Shutdown does not wait for them;
		// the registry closes them once ctx is done.
		<-registryDone
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			stopRegistry()
			a.cleanup()
			return err
		}

		stopRegistry()
		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
