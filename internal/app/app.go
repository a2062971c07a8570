package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"lizi/internal/alerts"
	"lizi/internal/api"
	"lizi/internal/config"
	"lizi/internal/engine"
	"lizi/internal/ingest"
	"lizi/internal/logging"
	"lizi/internal/metrics"
	"lizi/internal/poller"
	"lizi/internal/storage"
)

type App struct {
	Config  *config.Manager
	Logger  *slog.Logger
	Store   storage.Store
	Metrics *metrics.Collector
	Recent  *alerts.Store
	Poller  *poller.Poller
	Version string

	watchers *slog.Logger
	watched  *slog.Logger
	closers  []io.Closer
}

func New(configPath, version string) (*App, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	mgr, err := config.NewManager(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()

	base, logCloser, err := logging.Open(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	a := &App{
		Config:   mgr,
		Logger:   logging.Named(base, logging.Lifecycle),
		Version:  version,
		watchers: logging.Named(base, logging.Watchers),
		watched:  logging.Named(base, logging.Watched),
		closers:  []io.Closer{logCloser},
	}

	store, err := storage.NewStore(cfg.Storage, cfg.SourceLocation())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store)

	a.Metrics, err = metrics.NewCollector(nil)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.Recent = alerts.NewStore(cfg.Alerts.StoreLimit)

	reconciler := engine.NewReconciler(store, a.Recent, a.watched, engine.WithCallTimeout(cfg.Poller.CallTimeout))
	a.Poller = poller.New(store, reconciler, poller.Options{
		Interval:    cfg.Poller.Interval,
		CallTimeout: cfg.Poller.CallTimeout,
		Metrics:     a.Metrics,
		Logger:      a.watchers,
	})

	a.Logger.Info("configuration loaded",
		"config_path", mgr.Path(),
		"storage_driver", cfg.Storage.Driver,
		"dsn", redactDSN(cfg.Storage.DSN),
		"source_timezone", cfg.Poller.SourceTimezone,
	)
	return a, nil
}

func (a *App) InitStore(ctx context.Context) error {
	timeout := a.Config.Get().Poller.CallTimeout
	return engine.Bounded(ctx, timeout, func(ctx context.Context) error {
		if err := a.Store.Ping(ctx); err != nil {
			return fmt.Errorf("connect store: %w", err)
		}
		return a.Store.Init(ctx)
	})
}

func (a *App) Run(ctx context.Context) error {
	cfg := a.Config.Get()
	if err := a.InitStore(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	sink := ingest.NewSink(a.Store, a.Metrics, a.watchers, cfg.Poller.CallTimeout)
	if cfg.Ingest.MQTT.Enabled {
		g.Go(func() error { return ingest.RunMQTT(ctx, cfg.Ingest.MQTT, sink, a.watchers) })
	} else {
		a.watchers.Info("mqtt ingest disabled")
	}
	if cfg.Ingest.Kafka.Enabled {
		g.Go(func() error { return ingest.RunKafka(ctx, cfg.Ingest.Kafka, sink, a.watchers) })
	} else {
		a.watchers.Info("kafka ingest disabled")
	}
	if cfg.Ingest.REST.Enabled {
		a.watchers.Info("rest ingest enabled", "addr", cfg.Ingest.REST.Addr)
		srv := ingest.NewRESTHTTPServer(cfg.Ingest.REST.Addr, sink, a.watchers)
		g.Go(func() error { return serveHTTP(ctx, srv) })
	}
	if cfg.API.Enabled {
		a.Logger.Info("api enabled", "addr", cfg.API.Addr)
		srv := api.NewServer(a.Config, a.Metrics, a.Recent, a.Store, a.Logger, a.Version).HTTPServer(cfg.API.Addr)
		g.Go(func() error { return serveHTTP(ctx, srv) })
	}
	g.Go(func() error {
		return a.Poller.Run(ctx)
	})
	g.Go(func() error {
		a.Config.Watch(0, func(*config.Config) {
			a.Logger.Info("config file changed; restart to apply storage or poller changes", "path", a.Config.Path())
		}, nil, ctx.Done())
		return nil
	})

	a.Logger.Info("starting alert manager", "version", a.Version)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	}
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
