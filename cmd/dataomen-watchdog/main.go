package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dataomen/dataomen/internal/config"
	"github.com/dataomen/dataomen/internal/llm"
	"github.com/dataomen/dataomen/internal/narrative"
	"github.com/dataomen/dataomen/internal/observability"
	duckdbengine "github.com/dataomen/dataomen/internal/query/duckdb"
	registrypostgres "github.com/dataomen/dataomen/internal/registry/postgres"
	s3store "github.com/dataomen/dataomen/internal/storage/s3"
	"github.com/dataomen/dataomen/internal/watchdog"
)

func main() {
	cfg, err := config.LoadFromEnv("dataomen-watchdog")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	registryDB, err := registrypostgres.Open(context.Background(), registrypostgres.DBConfig{
		DSN:             cfg.Registry.DSN,
		MaxOpenConns:    cfg.Registry.MaxOpenConns,
		MaxIdleConns:    cfg.Registry.MaxIdleConns,
		ConnMaxIdleTime: cfg.Registry.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Registry.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open registry db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = registryDB.Close() }()

	objectStore, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	aiClient, err := llm.NewClient(cfg.AI, logger)
	if err != nil {
		logger.Error("failed to initialize ai client", slog.Any("error", err))
		os.Exit(1)
	}

	service := &watchdog.Service{
		Registry: registrypostgres.NewRepository(registryDB),
		Engine:   duckdbengine.NewEngine(objectStore),
		Alerter:  narrative.NewGenerator(aiClient, logger),
		Config: watchdog.Config{
			Interval:          cfg.Watchdog.Interval,
			LookbackDays:      cfg.Watchdog.LookbackDays,
			MinHistory:        cfg.Anomaly.MinHistory,
			EMASpan:           cfg.Anomaly.EMASpan,
			VarianceThreshold: cfg.Anomaly.VarianceThreshold,
			ZScoreSpan:        cfg.Anomaly.ZScoreSpan,
			ZScoreThreshold:   cfg.Anomaly.ZScoreThreshold,
		},
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting watchdog", slog.Duration("interval", cfg.Watchdog.Interval))
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("watchdog loop failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("watchdog stopped")
}
