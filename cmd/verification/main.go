package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lessonforge/task-scheduler/config/logger"
	postgresConfig "github.com/lessonforge/task-scheduler/config/storage/postgresql"
	redisConfig "github.com/lessonforge/task-scheduler/config/storage/redis"
	config "github.com/lessonforge/task-scheduler/config/utils"
	"github.com/lessonforge/task-scheduler/internal/adapter/backend/celery"
	postgresArchive "github.com/lessonforge/task-scheduler/internal/adapter/storage/postgres"
	redisStore "github.com/lessonforge/task-scheduler/internal/adapter/storage/redis"
	"github.com/lessonforge/task-scheduler/internal/core/domain"
)

func main() {
	// 1. Setup Logger & Config
	appConfig := config.New()
	log := logger.Build(appConfig.Logger)
	ctx := context.Background()

	log.Info("Starting Verification...")

	now := time.Now()
	task := &domain.Task{
		ID:        fmt.Sprintf("verify-task-%d", now.Unix()),
		Name:      "tasks.verification",
		Type:      domain.TypeMonitoring,
		Status:    domain.TaskStatusSuccess,
		Priority:  domain.PriorityNormal,
		Progress:  100,
		CreatedAt: now,
		CompletedAt: func() *time.Time {
			t := now
			return &t
		}(),
	}

	// 2. Test Redis task store
	log.Info("--- Testing Redis Store ---")
	redisClient, err := redisConfig.New(ctx, appConfig.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	store := redisStore.NewTaskStore(redisClient, time.Hour, log)
	if err := store.SaveTask(ctx, task); err != nil {
		log.Error("X Redis: Save Task Failed", zap.Error(err))
	} else if got, err := store.GetTask(ctx, task.ID); err != nil || got == nil {
		log.Error("X Redis: Get Task Failed", zap.Error(err))
	} else {
		log.Info("✓ Redis: Save/Get OK", zap.String("task_id", got.ID))
	}
	_ = store.DeleteTask(ctx, task.ID)

	// 3. Test Postgres archive
	log.Info("--- Testing Postgres Archive ---")
	dbService, err := postgresConfig.New(ctx, appConfig.DB, log.Named("DB"))
	if err != nil {
		log.Fatal("Failed to connect to DB", zap.Error(err))
	}
	if err := dbService.Migrate(); err != nil {
		log.Fatal("Failed to migrate", zap.Error(err))
	}
	archive := postgresArchive.NewTaskArchive(dbService.Pool, dbService.QueryBuilder, log)
	if err := archive.ArchiveTask(ctx, task); err != nil {
		log.Error("X Postgres: Archive Task Failed", zap.Error(err))
	} else if counts, err := archive.CountByStatus(ctx, now.Add(-time.Minute)); err != nil {
		log.Error("X Postgres: Count Failed", zap.Error(err))
	} else {
		log.Info("✓ Postgres: Archive/Count OK", zap.Int64("success_count", counts[domain.TaskStatusSuccess]))
	}

	// 4. Test AMQP broker
	log.Info("--- Testing Broker ---")
	backend, err := celery.New(appConfig.AMQP.URL, redisClient, log.Named("Celery"))
	if err != nil {
		log.Fatal("Failed to connect to broker", zap.Error(err))
	}
	if err := backend.Revoke(ctx, task.ID, false); err != nil {
		log.Error("X Broker: Control Publish Failed", zap.Error(err))
	} else {
		log.Info("✓ Broker: Connect/Publish OK")
	}
	backend.Close()

	log.Info("Verification finished")
}
