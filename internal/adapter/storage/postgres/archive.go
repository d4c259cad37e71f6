// Package postgres implements the terminal-task archive used for reporting
// beyond the key/value store's retention window.
package postgres

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lessonforge/task-scheduler/internal/core/domain"
	"github.com/lessonforge/task-scheduler/internal/core/port"
)

type taskArchive struct {
	db  *pgxpool.Pool
	qb  *squirrel.StatementBuilderType
	log *zap.Logger
}

// NewTaskArchive creates a postgres-backed task archive.
func NewTaskArchive(db *pgxpool.Pool, qb *squirrel.StatementBuilderType, log *zap.Logger) port.TaskArchive {
	return &taskArchive{db: db, qb: qb, log: log}
}

func (a *taskArchive) ArchiveTask(ctx context.Context, task *domain.Task) error {
	query, args, err := a.qb.Insert("task_archive").
		Columns("id", "name", "task_type", "status", "priority", "retries",
			"error", "execution_time", "worker_id", "created_at", "completed_at").
		Values(task.ID, task.Name, string(task.Type), string(task.Status), int(task.Priority),
			task.Retries, nullIfEmpty(task.Error), task.ExecutionTime,
			nullIfEmpty(task.WorkerID), task.CreatedAt, task.CompletedAt).
		Suffix("ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, completed_at = EXCLUDED.completed_at").
		ToSql()
	if err != nil {
		return err
	}

	if _, err := a.db.Exec(ctx, query, args...); err != nil {
		a.log.Error("Failed to archive task", zap.String("task_id", task.ID), zap.Error(err))
		return err
	}
	return nil
}

func (a *taskArchive) CountByStatus(ctx context.Context, since time.Time) (map[domain.TaskStatus]int64, error) {
	query, args, err := a.qb.Select("status", "COUNT(*)").
		From("task_archive").
		Where(squirrel.GtOrEq{"completed_at": since}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := a.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[domain.TaskStatus(status)] = count
	}
	return counts, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
