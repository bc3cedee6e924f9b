package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"secdash/internal/api"
	"secdash/internal/config"
	"secdash/internal/engine"
	"secdash/internal/logging"
	"secdash/internal/metrics"
	"secdash/internal/model"
	"secdash/internal/publish"
	"secdash/internal/snapshots"
	"secdash/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "secdash:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Manager, error) {
	if path == "" {
		cfg := config.DefaultConfig()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return config.NewStaticManager(cfg), nil
	}
	return config.NewManager(config.ResolvePath(path))
}

func run(configPath string) error {
	mgr, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting secdash", "version", version, "config", mgr.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	dash, err := engine.NewDashboard(cfg, engine.Deps{Logger: logger, Metrics: m})
	if err != nil {
		return fmt.Errorf("build dashboard: %w", err)
	}

	latest := snapshots.NewLatest(cfg.Snapshots.Limit)
	history := snapshots.NewHistory(cfg.History.Limit)
	dash.Subscribe(latest.Update)
	dash.Subscribe(func(u model.Update) { history.Add(snapshots.EntryOf(u)) })

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
		archive := publish.NewDispatcher(publish.SinkFunc(store.Name(), store.SaveUpdate), publish.Options{
			Buffer:  cfg.Publish.Buffer,
			Retries: cfg.Publish.Retries,
			Logger:  logger,
			Metrics: m,
		})
		go archive.Run(ctx)
		dash.Subscribe(func(u model.Update) { archive.Enqueue(u) })
		logger.Info("archive enabled", "driver", store.Name())
	}

	pub, err := publish.New(cfg.Publish)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if pub != nil {
		defer pub.Close()
		bus := publish.NewDispatcher(publish.BusSink(pub), publish.Options{
			Buffer:       cfg.Publish.Buffer,
			Retries:      cfg.Publish.Retries,
			DedupeWindow: cfg.Publish.DedupeWindow,
			Logger:       logger,
			Metrics:      m,
		})
		go bus.Run(ctx)
		dash.Subscribe(func(u model.Update) { bus.Enqueue(u) })
		logger.Info("publisher enabled", "driver", pub.Name())
	}

	if err := dash.Start(); err != nil {
		logger.Error("dashboard started with errors", "err", err)
	}
	defer dash.Stop()

	server := api.NewServer(dash, api.Options{
		Config:   mgr,
		Latest:   latest,
		History:  history,
		Gatherer: reg,
		Logger:   logger,
		Version:  version,
	})
	api.Start(ctx, server)

	if mgr.Path() != "" {
		stopWatch := make(chan struct{})
		defer close(stopWatch)
		go mgr.Watch(2*time.Second, func(next *config.Config) {
			if err := dash.ApplyConfig(next); err != nil {
				logger.Warn("config reload applied with errors", "err", err)
				return
			}
			logger.Info("config reloaded", "path", mgr.Path())
		}, func(err error) {
			logger.Warn("config watch error", "err", err)
		}, stopWatch)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
