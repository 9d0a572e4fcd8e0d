// Package app wires the Courier server runtime: config, logging, HTTP routes,
// the WebSocket relay gateway and the storage backends behind it.
//
// It is intentionally small and deterministic to keep behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"courier/cmd/internal/relay"
	"courier/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow backend resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for all-in-memory dev mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Courier server runtime: it owns HTTP server wiring and the
// relay gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	rdb          *redis.Client
	redisEnabled bool

	registry *prometheus.Registry

	gateway  *relay.Gateway
	queryAPI *relay.QueryAPI
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, backends, err := newBackends(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := relay.NewMetrics(registry)

	presence := relay.NewPresence(log)
	hub := relay.NewHub(log)
	pending := relay.NewPendingStore(log, backends.lists)
	cache := relay.NewConversationCache(log, backends.lists)

	router, err := relay.NewRouter(log, relay.RouterDeps{
		Presence: presence,
		Hub:      hub,
		Pending:  pending,
		Cache:    cache,
		Archive:  backends.archive,
		Rooms:    backends.rooms,
		Metrics:  metrics,
	}, cfg.StoreTimeout)
	if err != nil {
		st.Close(context.Background())
		return nil, err
	}

	signaler := relay.NewSignaler(log, presence, metrics)

	verifier, err := newVerifier(cfg, log)
	if err != nil {
		st.Close(context.Background())
		return nil, err
	}

	gateway, err := relay.NewGateway(log, relay.GatewayDeps{
		Presence: presence,
		Hub:      hub,
		Router:   router,
		Signaler: signaler,
		Verifier: verifier,
		Metrics:  metrics,
	})
	if err != nil {
		st.Close(context.Background())
		return nil, err
	}

	queryAPI := relay.NewQueryAPI(log, cache, backends.archive, cfg.StoreTimeout)

	return &App{
		cfg:          cfg,
		log:          log,
		store:        st,
		dbPool:       backends.pool,
		dbEnabled:    backends.pool != nil,
		rdb:          backends.rdb,
		redisEnabled: backends.rdb != nil,
		registry:     registry,
		gateway:      gateway,
		queryAPI:     queryAPI,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(WithCORS(mux, a.cfg, a.log), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"redis_enabled", a.redisEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// backends groups the storage collaborators behind the relay.
type backends struct {
	pool    *pgxpool.Pool
	rdb     *redis.Client
	lists   relay.ListStore
	archive relay.Archive
	rooms   relay.RoomDirectory
}

// newBackends decides between external backends and in-memory dev fallbacks:
// - Postgres (archive + room directory) when COURIER_DATABASE_URL is set.
// - Redis (pending queues + conversation cache) when COURIER_REDIS_URL is set.
// Each backend falls back independently so a dev setup can run with any
// subset configured.
func newBackends(ctx context.Context, cfg Config, log Logger) (Store, backends, error) {
	var b backends

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_archive")
		b.archive = relay.NewMemoryArchive()
		b.rooms = relay.NewMemoryRoomDirectory()
	} else {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, backends{}, err
		}

		// Ownership model:
		// - app owns the pool lifecycle
		// - PostgresArchive.Close() is a no-op
		archive, err := relay.NewPostgresArchive(pool)
		if err != nil {
			pool.Close()
			return nil, backends{}, err
		}
		rooms, err := relay.NewPostgresRoomDirectory(pool)
		if err != nil {
			pool.Close()
			return nil, backends{}, err
		}

		log.Info("db.enabled.postgres_archive")
		b.pool = pool
		b.archive = archive
		b.rooms = rooms
	}

	if cfg.RedisURL == "" {
		log.Info("redis.disabled.inmemory_lists")
		b.lists = relay.NewMemoryListStore()
	} else {
		rdb, err := NewRedisClient(ctx, cfg)
		if err != nil {
			if b.pool != nil {
				b.pool.Close()
			}
			return nil, backends{}, err
		}
		lists, err := relay.NewRedisListStore(rdb)
		if err != nil {
			_ = rdb.Close()
			if b.pool != nil {
				b.pool.Close()
			}
			return nil, backends{}, err
		}

		log.Info("redis.enabled.list_store")
		b.rdb = rdb
		b.lists = lists
	}

	if b.pool == nil && b.rdb == nil {
		return nopStore{}, b, nil
	}
	return backendStore{pool: b.pool, rdb: b.rdb, archive: b.archive}, b, nil
}

// newVerifier picks the register-token verifier based on security policy.
func newVerifier(cfg Config, log Logger) (relay.IdentityVerifier, error) {
	if !cfg.RequireRegisterHMAC {
		log.Warn("register.verify.disabled")
		return relay.InsecureVerifier{}, nil
	}

	key, err := token.HMACKeyFromEnv(32)
	if err != nil {
		return nil, err
	}
	return relay.NewHMACVerifier(key)
}

type backendStore struct {
	pool    *pgxpool.Pool
	rdb     *redis.Client
	archive relay.Archive
}

func (s backendStore) Close(_ context.Context) error {
	if s.archive != nil {
		_ = s.archive.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	return nil
}
