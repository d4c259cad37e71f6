// Package redis implements the durable task store on a Redis key/value
// server: one JSON record per task with a retention TTL, plus a capped list
// holding the stats history.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lessonforge/task-scheduler/internal/core/domain"
	"github.com/lessonforge/task-scheduler/internal/core/port"
)

const (
	taskKeyPrefix = "enhanced_task:"
	statsKey      = "enhanced_task_stats:history"

	// statsRetention caps the history list at 24 hours of minutely snapshots.
	statsRetention = 1440
)

type taskStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *zap.Logger
}

// NewTaskStore creates a TaskStore persisting records with the given TTL.
func NewTaskStore(client redis.UniversalClient, ttl time.Duration, log *zap.Logger) port.TaskStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &taskStore{client: client, ttl: ttl, log: log}
}

func (s *taskStore) SaveTask(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, taskKeyPrefix+task.ID, data, s.ttl).Err()
}

func (s *taskStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	val, err := s.client.Get(ctx, taskKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var task domain.Task
	if err := json.Unmarshal([]byte(val), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *taskStore) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	keys, err := s.client.Keys(ctx, taskKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*domain.Task, 0, len(keys))
	for _, key := range keys {
		val, err := s.client.Get(ctx, key).Result()
		if err != nil {
			// Key expired between KEYS and GET.
			continue
		}
		var task domain.Task
		if err := json.Unmarshal([]byte(val), &task); err != nil {
			s.log.Warn("Skipping unreadable task record",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}

func (s *taskStore) DeleteTask(ctx context.Context, id string) error {
	return s.client.Del(ctx, taskKeyPrefix+id).Err()
}

func (s *taskStore) AppendStats(ctx context.Context, snapshot domain.StatsSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := s.client.LPush(ctx, statsKey, data).Err(); err != nil {
		return err
	}
	return s.client.LTrim(ctx, statsKey, 0, statsRetention).Err()
}

func (s *taskStore) StatsHistory(ctx context.Context, limit int) ([]domain.StatsSnapshot, error) {
	if limit <= 0 {
		limit = statsRetention
	}
	entries, err := s.client.LRange(ctx, statsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	history := make([]domain.StatsSnapshot, 0, len(entries))
	for _, entry := range entries {
		var snap domain.StatsSnapshot
		if err := json.Unmarshal([]byte(entry), &snap); err != nil {
			continue
		}
		history = append(history, snap)
	}
	return history, nil
}
