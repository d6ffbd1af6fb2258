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

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/cache"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/exporter"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	querypostgres "github.com/askdb/askdb/internal/query/postgres"
	"github.com/askdb/askdb/internal/safety"
	"github.com/askdb/askdb/internal/schema"
	s3store "github.com/askdb/askdb/internal/storage/s3"
	"github.com/askdb/askdb/internal/workflow"
)

func main() {
	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	db, err := querypostgres.Open(context.Background(), cfg.Database)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	executor, err := querypostgres.NewExecutor(db, cfg.Database.QueryTimeout, logger)
	if err != nil {
		logger.Error("failed to initialize query executor", slog.Any("error", err))
		os.Exit(1)
	}

	store := cache.New(cfg.Cache, logger)
	runner, err := query.NewCachedRunner(executor, store, cfg.Cache.QueryTTL, logger)
	if err != nil {
		logger.Error("failed to initialize cached runner", slog.Any("error", err))
		os.Exit(1)
	}

	introspector, err := schema.NewIntrospector(db, cfg.Database.Schema, logger)
	if err != nil {
		logger.Error("failed to initialize schema introspector", slog.Any("error", err))
		os.Exit(1)
	}
	provider, err := schema.NewCachedProvider(introspector, store, cfg.Database.Schema, cfg.Cache.SchemaTTL)
	if err != nil {
		logger.Error("failed to initialize schema provider", slog.Any("error", err))
		os.Exit(1)
	}

	generator, err := nl2sql.NewOpenAIGenerator(nl2sql.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize SQL generator", slog.Any("error", err))
		os.Exit(1)
	}

	classifier, err := safety.NewClassifier(cfg.Database.Schema, logger)
	if err != nil {
		logger.Error("failed to initialize safety classifier", slog.Any("error", err))
		os.Exit(1)
	}

	engine, err := workflow.NewEngine(workflow.Options{
		Schema:                provider,
		Generator:             generator,
		Runner:                runner,
		Classifier:            classifier,
		SchemaName:            cfg.Database.Schema,
		MaxCorrectionAttempts: cfg.Workflow.MaxCorrectionAttempts,
		Logger:                logger,
	})
	if err != nil {
		logger.Error("failed to initialize workflow engine", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:     logger,
		Workflow:   engine,
		Classifier: classifier,
		Runner:     runner,
		Schema:     provider,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabaseConfig(cfg),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}

	if cfg.Export.Enabled {
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
		exportService, err := exporter.NewService(objectStore, cfg.Export.TTL, logger)
		if err != nil {
			logger.Error("failed to initialize export service", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Exporter = exportService
	}

	if cfg.Auth.Required {
		validators := auth.MultiValidator{}
		static, err := auth.NewStaticKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		validators = append(validators, static)
		if cfg.Auth.JWTSecret != "" {
			jwtValidator, err := auth.NewJWTValidator(cfg.Auth.JWTSecret)
			if err != nil {
				logger.Error("failed to initialize jwt validator", slog.Any("error", err))
				os.Exit(1)
			}
			validators = append(validators, jwtValidator)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validators)
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
