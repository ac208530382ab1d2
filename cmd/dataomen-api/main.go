package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dataomen/dataomen/internal/answer"
	"github.com/dataomen/dataomen/internal/api"
	"github.com/dataomen/dataomen/internal/auth"
	"github.com/dataomen/dataomen/internal/compiler"
	"github.com/dataomen/dataomen/internal/config"
	"github.com/dataomen/dataomen/internal/ingest"
	"github.com/dataomen/dataomen/internal/llm"
	"github.com/dataomen/dataomen/internal/narrative"
	"github.com/dataomen/dataomen/internal/observability"
	duckdbengine "github.com/dataomen/dataomen/internal/query/duckdb"
	registrypostgres "github.com/dataomen/dataomen/internal/registry/postgres"
	"github.com/dataomen/dataomen/internal/semantic"
	s3store "github.com/dataomen/dataomen/internal/storage/s3"
	"github.com/dataomen/dataomen/internal/watchdog"
)

func main() {
	cfg, err := config.LoadFromEnv("dataomen-api")
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

	repo := registrypostgres.NewRepository(registryDB)
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

	queryEngine := duckdbengine.NewEngine(objectStore)
	router := semantic.NewRouter(repo, aiClient, cfg.Query.TopK, logger)
	planner := compiler.New(aiClient)
	answerService := answer.NewService(repo, router, planner, queryEngine,
		cfg.Query.MaxAttempts, cfg.Query.RowLimit, logger)
	narrator := narrative.NewGenerator(aiClient, logger)
	processor := &ingest.Processor{
		Registry: repo,
		Store:    objectStore,
		Indexer:  router,
		Engine:   queryEngine,
		Logger:   logger,
	}
	watchdogService := &watchdog.Service{
		Registry: repo,
		Engine:   queryEngine,
		Alerter:  narrator,
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

	deps := api.Dependencies{
		Logger:         logger,
		Registry:       repo,
		Store:          objectStore,
		Answer:         answerService,
		Watchdog:       watchdogService,
		Narrator:       narrator,
		Indexer:        router,
		Engine:         queryEngine,
		Processor:      processor,
		UploadMaxBytes: cfg.Upload.MaxBytes,
		Anomaly:        cfg.Anomaly,
		Readiness: api.CombineReadinessChecks(
			api.CheckRegistryDSN(cfg),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Watchdog.Enabled {
		go func() {
			if err := watchdogService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watchdog loop failed", slog.Any("error", err))
			}
		}()
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
