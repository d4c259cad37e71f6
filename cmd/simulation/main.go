package main

import (
	"context"
	"fmt"
	"math/rand"
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
	"github.com/lessonforge/task-scheduler/internal/core/domain"
	"github.com/lessonforge/task-scheduler/internal/core/service"
)

const (
	simulationDuration = 5 * time.Minute
	injectionInterval  = 5 * time.Second
)

var taskNames = map[domain.TaskType]string{
	domain.TypeDocumentProcessing:   "tasks.process_document",
	domain.TypeLessonPlanGeneration: "tasks.generate_lesson_plan",
	domain.TypeAITextGeneration:     "tasks.generate_text",
	domain.TypeExport:               "tasks.export_lesson_plan",
	domain.TypeCleanup:              "tasks.cleanup_uploads",
}

var taskTypes = []domain.TaskType{
	domain.TypeDocumentProcessing,
	domain.TypeLessonPlanGeneration,
	domain.TypeAITextGeneration,
	domain.TypeExport,
	domain.TypeCleanup,
}

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	appConfig := config.New()
	log := logger.Build(appConfig.Logger)

	redisClient, err := redisConfig.New(rootCtx, appConfig.Redis)
	if err != nil {
		log.Fatal("Failed to connect to redis (ensure 'make up' is running)", zap.Error(err))
	}
	dbService, err := postgresConfig.New(rootCtx, appConfig.DB, log.Named("DB"))
	if err != nil {
		log.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	if err := dbService.Migrate(); err != nil {
		log.Fatal("Failed to migrate", zap.Error(err))
	}
	backend, err := celery.New(appConfig.AMQP.URL, redisClient, log.Named("Celery"))
	if err != nil {
		log.Fatal("Failed to connect to broker", zap.Error(err))
	}

	store := redisStore.NewTaskStore(redisClient, appConfig.Scheduler.TaskTTL, log.Named("Store"))
	archive := postgresArchive.NewTaskArchive(dbService.Pool, dbService.QueryBuilder, log.Named("Archive"))
	sched := service.NewScheduler(service.Config{
		Workers: appConfig.Scheduler.Workers,
	}, store, backend, archive, log.Named("Scheduler"))

	if err := sched.Recover(rootCtx); err != nil {
		log.Fatal("Recovery failed", zap.Error(err))
	}
	sched.Start(rootCtx)
	defer sched.Stop()

	fmt.Println("🚀 Starting 5-minute Task Traffic Simulation...")
	fmt.Println("   Submitting randomized lesson-plan pipelines...")

	endTime := time.Now().Add(simulationDuration)
	ticker := time.NewTicker(injectionInterval)
	defer ticker.Stop()

	var lastBatch []string
	taskCount := 0

	for {
		select {
		case <-rootCtx.Done():
			printStats(rootCtx, sched)
			return
		case <-ticker.C:
			if time.Now().After(endTime) {
				fmt.Println("\n✅ Simulation Complete.")
				printStats(rootCtx, sched)
				return
			}

			batchSize := rand.Intn(5) + 1
			fmt.Printf("\n[Generator] Injecting %d new tasks...\n", batchSize)

			var batch []string
			for i := 0; i < batchSize; i++ {
				taskCount++
				taskType := taskTypes[rand.Intn(len(taskTypes))]
				req := service.SubmitRequest{
					Name:     taskNames[taskType],
					Type:     taskType,
					Priority: domain.TaskPriority(rand.Intn(5) + 1),
					Kwargs:   map[string]any{"sequence": taskCount},
					Timeout:  30 + rand.Intn(90),
				}
				// Roughly a third of the tasks depend on one from the
				// previous batch, forming small pipelines.
				if len(lastBatch) > 0 && rand.Float64() < 0.33 {
					req.Dependencies = []domain.TaskDependency{
						{TaskID: lastBatch[rand.Intn(len(lastBatch))]},
					}
				}

				id, err := sched.SubmitTask(rootCtx, req)
				if err != nil {
					log.Error("Submission failed", zap.Error(err))
					continue
				}
				batch = append(batch, id)
				fmt.Printf("  -> %s %s priority=%s deps=%d\n",
					id[:8], req.Name, req.Priority, len(req.Dependencies))
			}
			lastBatch = batch
		}
	}
}

func printStats(ctx context.Context, sched *service.Scheduler) {
	metrics, err := sched.GetTaskMetrics(ctx, 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read metrics: %v\n", err)
		return
	}
	stats := metrics.Current
	fmt.Println("\n--- Final Stats ---")
	fmt.Printf("total=%d completed=%d failed=%d active=%d utilization=%.2f avg_exec=%.2fs\n",
		stats.TotalTasks, stats.CompletedTasks, stats.FailedTasks,
		stats.ActiveTasks, stats.WorkerUtilization, stats.AvgExecutionTime)
	for name, size := range stats.QueueSizes {
		fmt.Printf("queue %s: %d\n", name, size)
	}
}
