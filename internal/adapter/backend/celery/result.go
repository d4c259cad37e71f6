package celery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lessonforge/task-scheduler/internal/core/port"
)

const resultKeyPrefix = "celery-task-meta-"

// resultMeta is the record Celery workers write to the result backend.
type resultMeta struct {
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result"`
	Traceback string          `json:"traceback"`
	TaskID    string          `json:"task_id"`
}

// asyncResult polls the result backend until the task meta reaches a
// terminal Celery state.
type asyncResult struct {
	client redis.UniversalClient
	taskID string
	poll   time.Duration
}

func (r *asyncResult) Wait(ctx context.Context) (json.RawMessage, error) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	key := resultKeyPrefix + r.taskID
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		val, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var meta resultMeta
		if err := json.Unmarshal([]byte(val), &meta); err != nil {
			return nil, fmt.Errorf("decode result meta for %s: %w", r.taskID, err)
		}

		switch meta.Status {
		case "SUCCESS":
			return meta.Result, nil
		case "FAILURE":
			return nil, &port.ExecutionError{
				Message:   failureMessage(meta.Result),
				Traceback: meta.Traceback,
			}
		case "REVOKED":
			return nil, &port.ExecutionError{Message: "task revoked"}
		default:
			// PENDING, STARTED, RETRY: keep polling.
		}
	}
}

// failureMessage extracts a readable message from the failure payload,
// which Celery serializes as {"exc_type": ..., "exc_message": [...]}.
func failureMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "task failed"
	}
	var exc struct {
		ExcType    string `json:"exc_type"`
		ExcMessage []any  `json:"exc_message"`
	}
	if err := json.Unmarshal(raw, &exc); err != nil || exc.ExcType == "" {
		return string(raw)
	}
	if len(exc.ExcMessage) > 0 {
		return fmt.Sprintf("%s: %v", exc.ExcType, exc.ExcMessage[0])
	}
	return exc.ExcType
}
