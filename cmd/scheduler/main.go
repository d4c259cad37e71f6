package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lessonforge/task-scheduler/config/logger"
	postgresConfig "github.com/lessonforge/task-scheduler/config/storage/postgresql"
	redisConfig "github.com/lessonforge/task-scheduler/config/storage/redis"
	config "github.com/lessonforge/task-scheduler/config/utils"
	"github.com/lessonforge/task-scheduler/internal/adapter/backend/celery"
	postgresArchive "github.com/lessonforge/task-scheduler/internal/adapter/storage/postgres"
	redisStore "github.com/lessonforge/task-scheduler/internal/adapter/storage/redis"
	"github.com/lessonforge/task-scheduler/internal/core/service"
)

// _readinessDrainDelay is time to sleep while the shutdown signal propagates
// before the scheduler stops claiming work.
const _readinessDrainDelay = 5 * time.Second

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	// Init config & logger
	appConfig := config.New()
	baseLogger := logger.Build(appConfig.Logger)
	zap.L().Info("Starting the task scheduler",
		zap.String("app", appConfig.App.Name),
		zap.String("env", appConfig.App.Env))

	// Redis: task records, stats history and the Celery result backend
	redisClient, err := redisConfig.New(rootCtx, appConfig.Redis)
	if err != nil {
		zap.L().Error("Error initializing redis connection", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("Connected to redis", zap.String("addr", appConfig.Redis.Addr))

	// Postgres: terminal task archive
	dbLogger := baseLogger.Named("DB")
	dbService, err := postgresConfig.New(rootCtx, appConfig.DB, dbLogger)
	if err != nil {
		zap.L().Error("Error initializing database connection", zap.Error(err))
		os.Exit(1)
	}
	if err := dbService.Migrate(); err != nil {
		zap.L().Error("Error migrating database", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("Connected to the archive database")

	// Celery execution backend over AMQP
	backend, err := celery.New(appConfig.AMQP.URL, redisClient, baseLogger.Named("Celery"))
	if err != nil {
		zap.L().Error("Error connecting to the task broker", zap.Error(err))
		os.Exit(1)
	}

	store := redisStore.NewTaskStore(redisClient, appConfig.Scheduler.TaskTTL, baseLogger.Named("Store"))
	archive := postgresArchive.NewTaskArchive(dbService.Pool, dbService.QueryBuilder, baseLogger.Named("Archive"))

	sched := service.NewScheduler(service.Config{
		Workers:        appConfig.Scheduler.Workers,
		Tick:           appConfig.Scheduler.Tick,
		PollInterval:   appConfig.Scheduler.PollInterval,
		StatsInterval:  appConfig.Scheduler.StatsInterval,
		RetryBaseDelay: appConfig.Scheduler.RetryBaseDelay,
		RetryMaxDelay:  appConfig.Scheduler.RetryMaxDelay,
	}, store, backend, archive, baseLogger.Named("Scheduler"))

	if err := sched.Recover(rootCtx); err != nil {
		zap.L().Error("Error recovering persisted tasks", zap.Error(err))
		os.Exit(1)
	}
	sched.Start(rootCtx)

	// Wait for ctx cancelation
	<-rootCtx.Done()
	rootCtxCancel()

	time.Sleep(_readinessDrainDelay)
	zap.L().Info("Shutdown signal propagated, draining in-flight tasks")

	sched.Stop()
	if err := backend.Close(); err != nil {
		zap.L().Warn("Error closing broker connection", zap.Error(err))
	}
	dbService.Close()

	zap.L().Info("Graceful shutdown complete.")
}
