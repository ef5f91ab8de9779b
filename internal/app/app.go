package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"shopassist/internal/auth"
	"shopassist/internal/compare"
	"shopassist/internal/config"
	"shopassist/internal/database"
	"shopassist/internal/gateway"
	"shopassist/internal/location"
	"shopassist/internal/metrics"
	"shopassist/internal/scan"
	"shopassist/internal/shopping"
	"shopassist/internal/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// Options override collaborators that differ between the CLI and tests.
type Options struct {
	Clock            scan.Clock
	LocationProvider location.Provider
	Out              io.Writer
}

// App holds the application's services.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	out    io.Writer

	db            *database.DB
	registry      *prometheus.Registry
	metricsStore  *metrics.Store
	recorder      *metrics.Recorder
	comparer      compare.Comparer
	closeComparer func() error

	Gateway    gateway.Client
	Session    *auth.Session
	Location   *location.Cache
	Gate       *scan.Gate
	Scanner    *scan.Scanner
	Lists      *shopping.Lists
	Sync       *shopping.Synchronizer
	Aggregator *shopping.Aggregator
}

// New wires every service. Call Init before use and Close when done.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts Options) (*App, error) {
	db, err := database.NewDB(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var tokenStore storage.Store
	switch cfg.SessionStore {
	case config.SessionStoreSQLite:
		tokenStore = storage.NewSQLStore(db.SQL)
	default:
		fs, err := storage.NewFileStore(cfg.SessionDir)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create session store: %w", err)
		}
		tokenStore = fs
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metricsStore := metrics.NewStore(db.SQL)
	recorder := metrics.NewRecorder(metrics.NewCollector(registry), metricsStore, logger)

	client := gateway.NewClient(cfg, recorder, logger)

	comparer, closeComparer, err := compare.New(ctx, cfg, client, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create comparer: %w", err)
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	provider := opts.LocationProvider
	if provider == nil {
		provider = location.StaticProvider{Denied: true}
	}

	session := auth.NewSession(client, tokenStore, logger)
	loc := location.NewCache(logger)
	gate := scan.NewGate(opts.Clock, cfg.ScanCooldown)

	return &App{
		cfg:           cfg,
		logger:        logger,
		out:           out,
		db:            db,
		registry:      registry,
		metricsStore:  metricsStore,
		recorder:      recorder,
		comparer:      comparer,
		closeComparer: closeComparer,
		Gateway:       client,
		Session:       session,
		Location:      loc,
		Gate:          gate,
		Scanner:       scan.NewScanner(gate, client, session, loc, provider, recorder, logger),
		Lists:         shopping.NewLists(client, session, logger),
		Sync:          shopping.NewSynchronizer(client, logger),
		Aggregator:    shopping.NewAggregator(client, logger),
	}, nil
}

// Init restores the persisted session.
func (a *App) Init(ctx context.Context) {
	a.Session.Restore(ctx)
}

// Close releases the comparer and the database.
func (a *App) Close() error {
	if a.closeComparer != nil {
		if err := a.closeComparer(); err != nil {
			a.logger.WithError(err).Warn("Failed to close comparer")
		}
	}
	return a.db.Close()
}

// MetricsRouter serves /metrics and /health.
func (a *App) MetricsRouter() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler(a.registry)).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")
	return r
}

// ServeMetrics exposes the Prometheus registry on addr until ctx is done.
func (a *App) ServeMetrics(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.cfg.MetricsAddr
	}
	if addr == "" {
		return fmt.Errorf("METRICS_ADDR environment variable not set")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.MetricsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", addr).Info("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}
