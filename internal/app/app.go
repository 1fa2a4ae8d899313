// Package app wires the transport manager, the syncer, the state API and
// the metrics server into one runnable daemon.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deskstream/deskstream/internal/api"
	"github.com/deskstream/deskstream/internal/cache"
	"github.com/deskstream/deskstream/internal/config"
	"github.com/deskstream/deskstream/internal/metrics"
	"github.com/deskstream/deskstream/internal/stateapi"
	"github.com/deskstream/deskstream/internal/store"
	"github.com/deskstream/deskstream/internal/syncer"
	"github.com/deskstream/deskstream/internal/transport"
)

// App is the main application
type App struct {
	config *config.Config
	logger *slog.Logger

	store         *store.Store
	cache         *cache.Cache
	manager       *transport.Manager
	syncer        *syncer.Syncer
	stateServer   *stateapi.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	m := metrics.New()
	metrics.SetGlobal(m)

	st := store.New(cfg.Sync.QueueStaleAfter)

	var snapCache *cache.Cache
	if cfg.Cache.Enabled {
		var err error
		snapCache, err = cache.Open(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot cache: %w", err)
		}
		logger.Info("snapshot cache enabled", "path", cfg.Cache.Path)
	}

	manager := transport.NewManager(transport.Options{
		URL:          cfg.Socket.URL,
		Logger:       logger,
		DialTimeout:  cfg.Socket.DialTimeout,
		WriteTimeout: cfg.Socket.WriteTimeout,
		PingInterval: cfg.Socket.PingInterval,
		PongWait:     cfg.Socket.PongWait,
		ReconnectMin: cfg.Socket.ReconnectMin,
		ReconnectMax: cfg.Socket.ReconnectMax,
		SendBuffer:   cfg.Socket.SendBuffer,
	})

	client := api.NewClient(cfg.API.BaseURL, cfg.API.Key, cfg.API.Timeout)

	notifConn := manager.Get(transport.ConcernNotifications)
	presenceConn := manager.Get(transport.ConcernPresence)

	sy := syncer.New(syncer.Config{
		BusinessID:        cfg.Business.ID,
		NotificationLimit: cfg.Sync.NotificationLimit,
		FetchTimeout:      cfg.Sync.FetchTimeout,
		PersistInterval:   cfg.Sync.PersistInterval,
	}, st, client, snapCache, notifConn, presenceConn, logger)

	stateServer := stateapi.NewServer(st, notifConn, presenceConn, cfg.StateAPI.ListenAddr, logger.With("component", "stateapi"))

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
	}

	collector := metrics.NewCollector(m, st, 10*time.Second)

	return &App{
		config:        cfg,
		logger:        logger,
		store:         st,
		cache:         snapCache,
		manager:       manager,
		syncer:        sy,
		stateServer:   stateServer,
		metricsServer: metricsServer,
		collector:     collector,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting deskstream",
		"business_id", a.config.Business.ID,
		"socket_url", a.config.Socket.URL,
		"state_addr", a.config.StateAPI.ListenAddr,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.collector.Start(ctx)

	if err := a.syncer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start syncer: %w", err)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.stateServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("state api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.syncer.Close(shutdownCtx); err != nil {
		a.logger.Error("syncer close error", "error", err)
	}

	if err := a.stateServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("state api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	a.collector.Stop()
	a.manager.CloseAll()

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("cache close error", "error", err)
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
