package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/config"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/database"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/handlers"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/logging"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/middleware"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/queue"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/repositories"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("orchestrator exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting task orchestrator",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", cfg.Database.Host),
		zap.String("redis", cfg.Redis.Addr()))

	// Database.
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		return err
	}

	// Redis and the work queue.
	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	workQueue := queue.NewRedisQueue(redisClient, cfg.Redis.Namespace, logger)
	workQueue.StartMover(ctx)

	// Repositories and services.
	workflowRepo := repositories.NewWorkflowRepository(db)
	taskRepo := repositories.NewTaskRepository(db)

	orchestrator := services.NewOrchestrator(workflowRepo, taskRepo, workQueue, db, logger)
	creator := services.NewWorkflowCreator(workflowRepo, db, logger)
	reader := services.NewWorkflowReader(workflowRepo, logger)

	consumer := queue.NewResultConsumer(workQueue, orchestrator, cfg.Orchestrator.ResultConsumers, logger)
	consumer.Start(ctx)

	sweeper := services.NewSweeper(
		taskRepo,
		orchestrator,
		workQueue,
		time.Duration(cfg.Orchestrator.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.Orchestrator.QueuedRecoverySeconds)*time.Second,
		logger,
	)
	sweeper.Start(ctx)

	retention := services.NewRetentionJob(
		workflowRepo,
		time.Duration(cfg.Orchestrator.RetentionIntervalHours)*time.Hour,
		logger,
	)
	retention.Start(ctx)

	// Converge workflows left mid-flight by a previous instance.
	if err := orchestrator.Recover(ctx); err != nil {
		logger.Error("startup recovery failed", zap.Error(err))
	}

	// HTTP API.
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewWorkflowHandler(creator, reader, orchestrator, logger).RegisterRoutes(mux)

	handler := middleware.CorrelationID()(middleware.RequestLogger(logger)(mux))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	if err := workQueue.Shutdown(shutdownCtx); err != nil {
		logger.Warn("queue shutdown failed", zap.Error(err))
	}
	if err := sweeper.Shutdown(shutdownCtx); err != nil {
		logger.Warn("sweeper shutdown failed", zap.Error(err))
	}
	if err := retention.Shutdown(shutdownCtx); err != nil {
		logger.Warn("retention shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// runMigrations applies pending migrations through database/sql, which
// golang-migrate requires.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	return database.RunMigrations(sqlDB, logger)
}
