package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ridedispatch/internal/api"
	"ridedispatch/internal/auth"
	"ridedispatch/internal/config"
	"ridedispatch/internal/dispatch"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/metrics"
	"ridedispatch/internal/ride"
	"ridedispatch/internal/router"
	"ridedispatch/internal/session"
	"ridedispatch/internal/storage"
	"ridedispatch/internal/sweeper"
)

func main() {
	configureLogging()

	provider, err := config.NewProvider()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg := provider.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, eventLogger, idemStore := initStorage(ctx, cfg)
	geoIndex := initGeo(ctx, cfg, func() config.DispatchConfig { return provider.Snapshot().Dispatch })
	authStore, verifier, identityDB := initAuth(ctx, cfg)

	registry := session.NewRegistry()
	rt := router.New(registry, store, geoIndex,
		func() config.FareConfig { return provider.Snapshot().Fare },
		func() config.DispatchConfig { return provider.Snapshot().Dispatch },
	)
	d := dispatch.New(store, geoIndex, rt, registry, func() config.DispatchConfig { return provider.Snapshot().Dispatch })
	rt.SetDispatcher(d)

	sw := sweeper.New(store, d, geoIndex,
		func() time.Duration { return provider.Snapshot().Dispatch.SweepInterval },
		func() time.Duration { return provider.Snapshot().Dispatch.LocationStaleAfter },
	)
	go sw.Run(ctx)

	h := &api.Handler{
		Store:       store,
		Machine:     ride.NewMachine(store),
		Dispatcher:  d,
		Router:      rt,
		IdemCache:   dispatch.NewIdempotencyCache(30 * time.Minute),
		IdemStore:   idemStore,
		EventLogger: eventLogger,
		FareCfg:     func() config.FareConfig { return provider.Snapshot().Fare },
		StartTime:   time.Now(),
	}

	var issuer *api.IdentityIssuer
	if cfg.Auth.DevIssuerAllow {
		issuer = &api.IdentityIssuer{Store: authStore, DurableDB: identityDB, DefaultTTL: cfg.Auth.TokenTTL}
	}

	r := chi.NewRouter()
	api.AttachRoutes(r, h, verifier, issuer)

	srv := &http.Server{
		Addr:              cfg.Server.ServerAddr(),
		Handler:           r,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("ride dispatch core listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	waitForShutdown(ctx, cancel, srv)
}

func configureLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") != "prod" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	_ = ctx
}

// initStorage wires the Ride Store: Postgres wrapped in a circuit
// breaker when DATABASE_URL is configured, an in-process MemoryStore
// otherwise. Event and idempotency persistence degrade along with it —
// the in-memory deployment is a single-node dev/demo mode by design.
func initStorage(ctx context.Context, cfg config.Config) (ride.Store, storage.EventLogger, *storage.IdempotencyStore) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Warn().Msg("DATABASE_URL unset, using in-memory ride store")
		return ride.NewMemoryStore(), nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := storage.DefaultPool(connectCtx, dbURL)
	if err != nil {
		log.Error().Err(err).Msg("postgres connection failed, falling back to in-memory store")
		return ride.NewMemoryStore(), nil, nil
	}
	if err := storage.EnsureSchema(connectCtx, pool); err != nil {
		log.Error().Err(err).Msg("schema init failed, falling back to in-memory store")
		return ride.NewMemoryStore(), nil, nil
	}

	pg := storage.NewPostgres(pool)
	idemStore := storage.NewIdempotencyStore(pool, 30*time.Minute)
	if err := idemStore.EnsureSchema(connectCtx); err != nil {
		log.Error().Err(err).Msg("idempotency schema init failed")
		idemStore = nil
	}

	log.Info().Msg("using PostgreSQL-backed ride store behind a circuit breaker")
	return storage.NewBreakerStore(pg), pg, idemStore
}

func initGeo(ctx context.Context, cfg config.Config, dispatchCfg func() config.DispatchConfig) geo.Index {
	backend := cfg.Dispatch.GeoBackend
	if backend != "redis" {
		return geo.New(backend, nil)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Error().Err(err).Msg("redis unreachable, geo index falling back to in-memory")
		return geo.New("memory", nil)
	}
	return geo.New("redis", client)
}

// initAuth builds the dev-mode opaque-token store (kept for local use
// exactly as the teacher shipped it) and picks the request verifier: a JWT
// verifier when AUTH_DEV_ISSUER_ALLOW is false, the in-memory store
// otherwise. Identities found in Postgres at startup are loaded into the
// in-memory store so a restart doesn't strand already-issued tokens.
func initAuth(ctx context.Context, cfg config.Config) (*auth.InMemoryStore, auth.Verifier, *storage.IdentityStore) {
	authMem := auth.NewInMemoryStore()

	var identityDB *storage.IdentityStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if pool, err := storage.DefaultPool(connectCtx, dbURL); err == nil {
			identityDB = storage.NewIdentityStore(pool)
			if err := identityDB.EnsureSchema(connectCtx); err != nil {
				log.Error().Err(err).Msg("identity schema init failed")
				identityDB = nil
			} else if all, err := identityDB.All(connectCtx); err == nil {
				for _, ident := range all {
					authMem.Seed(ident)
				}
			}
		}
	}

	if !cfg.Auth.DevIssuerAllow {
		issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)
		return authMem, auth.VerifierFunc(func(token string) (auth.Identity, error) {
			return issuer.Verify(token)
		}), identityDB
	}

	return authMem, auth.FromInMemoryStore(authMem), identityDB
}

func init() {
	metrics.ActiveDispatchesGauge.Set(0)
}
