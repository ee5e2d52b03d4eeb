// Package app wires the Clavero terminal runtime: config, logging, the
// credential store, the signal bus, the session manager, and the local HTTP
// surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"clavero/cmd/internal/credstore"
	"clavero/cmd/internal/guard"
	"clavero/cmd/internal/profile"
	"clavero/cmd/internal/session"
	"clavero/cmd/internal/signal"
)

// App is the Clavero terminal runtime.
type App struct {
	cfg Config
	log Logger

	pool      *pgxpool.Pool
	dbEnabled bool

	store credstore.Store
	creds *credstore.Credentials
	bus   signal.Bus

	mgr   *session.Manager
	sync  *session.Synchronizer
	guard *guard.Guard
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	pool, store, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	bus, err := newBus(ctx, cfg, pool, store, log)
	if err != nil {
		closeStore(pool, store)
		return nil, err
	}

	creds := credstore.NewCredentials(store, log)

	fetcher, err := profile.NewClient(cfg.APIBaseURL, log)
	if err != nil {
		closeStore(pool, store)
		return nil, err
	}

	nav := NewLoginNavigator(log)

	mgr, err := session.NewManager(session.Config{
		LoginURL:        cfg.LoginURL,
		HydrateMaxTries: cfg.HydrateMaxTries,
		FetchTimeout:    cfg.FetchTimeout,
	}, creds, fetcher, bus, nav, log)
	if err != nil {
		closeStore(pool, store)
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		pool:      pool,
		dbEnabled: pool != nil,
		store:     store,
		creds:     creds,
		bus:       bus,
		mgr:       mgr,
		sync:      session.NewSynchronizer(mgr, bus, log),
		guard:     guard.New(mgr, nav, log),
	}, nil
}

// Manager exposes the session manager (tests, embedding shells).
func (a *App) Manager() *session.Manager { return a.mgr }

// Run starts the synchronizer, hydrates the session, and serves the local
// HTTP surface until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	a.sync.Start()

	// Hydration needs the backend; do not block serving on it. The guard
	// answers "loading" until the pass settles.
	go func() {
		if err := a.mgr.Hydrate(ctx); err != nil {
			a.log.Warn("session.hydrate.settled_anonymous", "err", err)
		}
	}()

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbEnabled, a.pool, a.creds, a.mgr, a.guard)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	a.log.Info("terminal.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("terminal.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("terminal.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("terminal.shutdown.fail", "err", err)
		return err
	}

	a.sync.Stop()
	if err := a.bus.Close(); err != nil {
		a.log.Error("signal.close.fail", "err", err)
	}
	closeStore(a.pool, a.store)

	a.log.Info("terminal.stopped")
	return nil
}

// newStore decides between Postgres-backed shared state, a (optionally
// sealed) file store, and in-memory dev state.
func newStore(ctx context.Context, cfg Config, log Logger) (*pgxpool.Pool, credstore.Store, error) {
	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store, err := credstore.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("state.postgres_store")
		return pool, store, nil
	}

	if cfg.StateDir != "" {
		var opts []credstore.FileStoreOption
		if cfg.StateSealKeyHex != "" {
			opts = append(opts, credstore.WithSealKeyHex(cfg.StateSealKeyHex))
		}
		store, err := credstore.NewFileStore(cfg.StateDir, opts...)
		if err != nil {
			return nil, nil, err
		}
		log.Info("state.file_store", "dir", cfg.StateDir, "sealed", cfg.StateSealKeyHex != "")
		return nil, store, nil
	}

	log.Info("state.inmemory_store")
	return nil, credstore.NewMemoryStore(), nil
}

// newBus picks the signal transport. Terminals sharing a database broadcast
// through it; otherwise a websocket relay can bridge them; a lone terminal
// keeps the in-process bus.
func newBus(ctx context.Context, cfg Config, pool *pgxpool.Pool, store credstore.Store, log Logger) (signal.Bus, error) {
	if pool != nil {
		log.Info("signal.postgres_bus")
		return signal.NewPostgresBus(ctx, pool, store, log)
	}
	if cfg.SignalWSURL != "" {
		log.Info("signal.ws_bus", "url", cfg.SignalWSURL)
		return signal.NewWSBus(ctx, cfg.SignalWSURL, log)
	}
	log.Info("signal.memory_bus")
	return signal.NewMemoryBus(), nil
}

// closeStore releases store resources; pool ownership lives here.
func closeStore(pool *pgxpool.Pool, store credstore.Store) {
	if store != nil {
		_ = store.Close()
	}
	if pool != nil {
		pool.Close()
	}
}
