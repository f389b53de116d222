package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cortexsoc/internal/alerts"
	"cortexsoc/internal/api"
	"cortexsoc/internal/config"
	"cortexsoc/internal/engine"
	"cortexsoc/internal/ingest"
	"cortexsoc/internal/logging"
	"cortexsoc/internal/model"
	"cortexsoc/internal/pipeline"
	"cortexsoc/internal/records"
	"cortexsoc/internal/respond"
	"cortexsoc/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "cortexsoc.yaml", "path to config file (YAML or JSON)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if err := run(*configPath); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	path := config.ResolvePath(configPath)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	mgr.SetOverlay(func(cfg *config.Config) { config.ApplyEnv(cfg, os.Getenv) })
	cfg := mgr.Get()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting", "version", version, "config", path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	eng := engine.NewEngine(cfg, logger, alertsStore, store)
	journal := records.NewJournal(records.NewStore(cfg.Records.StoreLimit), store, logger)

	notifier := respond.NewNotifier(cfg.Response.Notify, logger)
	if closer, ok := notifier.(io.Closer); ok {
		defer closer.Close()
	}
	responder, err := respond.NewResponder(ctx, cfg.Response, notifier, store, logger)
	if err != nil {
		return err
	}
	pipe := pipeline.New(mgr, journal, eng, responder, logger)

	recordsCh := make(chan model.LogRecord, cfg.Ingest.ChannelBuffer)
	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		pipe.Run(ctx, recordsCh)
	}()

	ingest.StartREST(ctx, mgr, pipe, logger)
	ingest.StartKafka(ctx, mgr, ingest.NewParser(), recordsCh, logger)
	ingest.StartSyslog(ctx, mgr, recordsCh, logger)
	ingest.StartTCPStream(ctx, mgr, recordsCh, logger)
	ingest.StartFileTail(ctx, mgr, recordsCh, logger)

	api.Start(ctx, api.NewServer(mgr, eng, pipe, journal, responder, alertsStore, logger, version))

	go mgr.Watch(3*time.Second, func(next *config.Config) {
		eng.UpdateConfig(next)
		logger.Info("config reloaded",
			"failed_login_threshold", next.Detection.FailedLoginThreshold,
			"rapid_login_window_seconds", next.Detection.RapidLoginWindowSeconds,
		)
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	logger.Info("shutting down")
	select {
	case <-pipeDone:
	case <-time.After(10 * time.Second):
		logger.Warn("pipeline did not drain in time")
	}
	return nil
}
