// Package port provides the behavior interfaces that connect the scheduler
// core to its storage and execution collaborators.
package port

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lessonforge/task-scheduler/internal/core/domain"
)

// TaskStore defines how task records and stats history are persisted.
type TaskStore interface {
	SaveTask(ctx context.Context, task *domain.Task) error
	// GetTask returns (nil, nil) when the record does not exist.
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	// ListTasks enumerates every persisted task record, used for recovery.
	ListTasks(ctx context.Context) ([]*domain.Task, error)
	DeleteTask(ctx context.Context, id string) error

	AppendStats(ctx context.Context, snapshot domain.StatsSnapshot) error
	// StatsHistory returns up to limit snapshots, most recent first.
	StatsHistory(ctx context.Context, limit int) ([]domain.StatsSnapshot, error)
}

// TaskArchive records terminal tasks for reporting beyond the KV retention
// window. Archive writes are best-effort; callers log and continue on error.
type TaskArchive interface {
	ArchiveTask(ctx context.Context, task *domain.Task) error
	CountByStatus(ctx context.Context, since time.Time) (map[domain.TaskStatus]int64, error)
}

// AsyncResult is a handle to an execution in flight on the backend.
type AsyncResult interface {
	// Wait blocks until the execution reaches a terminal state or ctx is
	// done. On success it returns the raw result payload; on failure it
	// returns an *ExecutionError when the backend reported one.
	Wait(ctx context.Context) (json.RawMessage, error)
}

// ExecutionBackend defines how task work is delegated for actual execution.
type ExecutionBackend interface {
	Submit(ctx context.Context, task *domain.Task) (AsyncResult, error)
	// Revoke requests best-effort termination of an in-flight execution.
	Revoke(ctx context.Context, taskID string, terminate bool) error
}

// ExecutionError carries the failure reported by the execution backend,
// including the remote traceback when one was recorded.
type ExecutionError struct {
	Message   string
	Traceback string
}

func (e *ExecutionError) Error() string {
	return e.Message
}
