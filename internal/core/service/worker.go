package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lessonforge/task-scheduler/internal/core/domain"
	"github.com/lessonforge/task-scheduler/internal/core/port"
)

// workerLoop pulls the highest-priority ready task and executes it via the
// backend, sleeping briefly when all queues are empty.
func (s *Scheduler) workerLoop(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task := s.dequeue()
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}

		s.executeTask(ctx, task, workerID)
	}
}

// dequeue polls the queues strictly from highest priority to lowest.
// Dequeue is atomic per queue: the scheduler lock guarantees a task is
// claimed by exactly one worker.
func (s *Scheduler) dequeue() *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(domain.Priorities) - 1; i >= 0; i-- {
		if task := s.queues[domain.Priorities[i]].Get(); task != nil {
			return task
		}
	}
	return nil
}

// executeTask runs one task to a terminal state (or a retry). The task is
// finalized only if it is still RUNNING afterwards: a cancel or timeout that
// landed first owns the terminal state and the counters.
func (s *Scheduler) executeTask(ctx context.Context, task *domain.Task, workerID string) {
	start := s.now()

	s.mu.Lock()
	if err := task.Transition(domain.TaskStatusRunning); err != nil {
		// Cancelled between dequeue and claim.
		s.mu.Unlock()
		s.log.Debug("Skipping claimed task", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	task.StartedAt = &start
	task.WorkerID = workerID
	s.stats.ActiveTasks++
	claimed := task.Clone()
	s.mu.Unlock()

	s.persist(ctx, claimed)
	s.log.Info("Task started",
		zap.String("task_id", task.ID),
		zap.String("name", task.Name),
		zap.String("worker_id", workerID))

	result, execErr := s.runOnBackend(ctx, claimed)

	now := s.now()
	elapsed := now.Sub(start).Seconds()

	var saves []*domain.Task
	var archived []*domain.Task

	s.mu.Lock()
	if task.Status != domain.TaskStatusRunning {
		// Timeout or cancel won the race; its write stands.
		s.mu.Unlock()
		s.log.Debug("Execution outcome discarded, task already finalized",
			zap.String("task_id", task.ID),
			zap.String("status", string(task.Status)))
		return
	}

	if execErr == nil {
		if err := task.Transition(domain.TaskStatusSuccess); err != nil {
			s.mu.Unlock()
			s.log.Error("Success transition refused", zap.Error(err))
			return
		}
		task.CompletedAt = &now
		task.ExecutionTime = elapsed
		task.Progress = 100
		task.Result = result
		s.stats.CompletedTasks++
		s.stats.ActiveTasks--

		clone := task.Clone()
		saves = append(saves, clone)
		archived = append(archived, clone)
		s.triggerDependentsLocked(task.ID, now, &saves)
	} else {
		if err := task.Transition(domain.TaskStatusFailure); err != nil {
			s.mu.Unlock()
			s.log.Error("Failure transition refused", zap.Error(err))
			return
		}
		task.CompletedAt = &now
		task.ExecutionTime = elapsed
		task.Error = execErr.Error()
		var execFailure *port.ExecutionError
		if errors.As(execErr, &execFailure) {
			task.ErrorTrace = execFailure.Traceback
		}
		s.stats.FailedTasks++
		s.stats.ActiveTasks--

		if task.Retries < task.MaxRetries {
			s.retryTaskLocked(task, now)
			saves = append(saves, task.Clone())
		} else {
			clone := task.Clone()
			saves = append(saves, clone)
			archived = append(archived, clone)
			// Dependents requiring this failure become ready; the rest fail.
			s.triggerDependentsLocked(task.ID, now, &saves)
			s.failDependentsLocked(task.ID, "Dependency task "+task.ID+" failed", now, &saves)
		}
	}
	s.mu.Unlock()

	for _, t := range saves {
		s.persist(ctx, t)
	}
	for _, t := range archived {
		s.archiveTask(ctx, t)
	}

	if execErr == nil {
		s.log.Info("Task completed",
			zap.String("task_id", task.ID),
			zap.Float64("execution_seconds", elapsed))
	} else {
		s.log.Error("Task failed",
			zap.String("task_id", task.ID),
			zap.Error(execErr))
	}
}

// runOnBackend delegates execution and waits for the outcome. The wait gets
// a deadline slightly past the task timeout so a worker never hangs on an
// execution the scheduler loop has already expired.
func (s *Scheduler) runOnBackend(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	handle, err := s.backend.Submit(ctx, task)
	if err != nil {
		return nil, err
	}

	waitCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, task.TimeoutDuration()+2*s.cfg.Tick)
		defer cancel()
	}
	return handle.Wait(waitCtx)
}

// retryTaskLocked resets a failed task for another attempt with exponential
// backoff: delay = min(max_delay, base_delay * 2^retries), applied via the
// task's not-before time so the readiness scan re-queues it.
func (s *Scheduler) retryTaskLocked(task *domain.Task, now time.Time) {
	task.Retries++
	if err := task.Transition(domain.TaskStatusRetry); err != nil {
		s.log.Error("Retry transition refused", zap.Error(err))
		return
	}
	task.StartedAt = nil
	task.CompletedAt = nil
	task.WorkerID = ""
	task.Error = ""
	task.ErrorTrace = ""

	delay := s.cfg.RetryBaseDelay << uint(task.Retries)
	if delay > s.cfg.RetryMaxDelay {
		delay = s.cfg.RetryMaxDelay
	}
	notBefore := now.Add(delay)
	task.ScheduledAt = &notBefore

	s.log.Info("Task scheduled for retry",
		zap.String("task_id", task.ID),
		zap.Int("retry", task.Retries),
		zap.Int("max_retries", task.MaxRetries),
		zap.Duration("delay", delay))
}
