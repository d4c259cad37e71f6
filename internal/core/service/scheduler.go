// Package service implements the scheduler core: priority queues, the
// dependency graph, the coordinating loop and the worker pool.
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lessonforge/task-scheduler/internal/core/domain"
	"github.com/lessonforge/task-scheduler/internal/core/port"
)

// Config carries the scheduler tuning knobs.
type Config struct {
	Workers        int           `mapstructure:"workers"`
	Tick           time.Duration `mapstructure:"tick"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	StatsInterval  time.Duration `mapstructure:"stats_interval"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = time.Minute
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Minute
	}
	return c
}

// SubmitRequest describes a task submission.
type SubmitRequest struct {
	Name         string
	Type         domain.TaskType
	Priority     domain.TaskPriority // zero value means NORMAL
	Args         []any
	Kwargs       map[string]any
	Dependencies []domain.TaskDependency
	Metadata     map[string]any
	Tags         []string
	Timeout      int // seconds, 0 means no limit
	// MaxRetries defaults to 3 when zero; pass a negative value for no retries.
	MaxRetries   int
	NotBefore    *time.Time
	ParentTaskID string
}

// Scheduler coordinates task submission, readiness promotion, timeout
// detection and the worker pool. All shared state (task map, queues,
// dependency graph, counters) is guarded by mu; storage and backend I/O
// happen outside the lock on cloned records.
type Scheduler struct {
	cfg     Config
	store   port.TaskStore
	backend port.ExecutionBackend
	archive port.TaskArchive // optional, may be nil
	log     *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	tasks  map[string]*domain.Task
	queues map[domain.TaskPriority]*TaskQueue
	deps   *dependencyGraph
	stats  domain.SchedulerStats

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. archive may be nil to disable archiving.
func NewScheduler(
	cfg Config,
	store port.TaskStore,
	backend port.ExecutionBackend,
	archive port.TaskArchive,
	log *zap.Logger,
) *Scheduler {
	queues := make(map[domain.TaskPriority]*TaskQueue, len(domain.Priorities))
	for _, p := range domain.Priorities {
		queues[p] = NewTaskQueue("queue_" + p.String())
	}
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		store:   store,
		backend: backend,
		archive: archive,
		log:     log,
		now:     time.Now,
		tasks:   make(map[string]*domain.Task),
		queues:  queues,
		deps:    newDependencyGraph(),
	}
}

// Recover rebuilds in-memory state from the durable store. Tasks found
// RUNNING are reset to PENDING with start/worker cleared since the prior
// execution is presumed lost; QUEUED tasks are reset to PENDING so the next
// tick re-evaluates readiness. Terminal tasks are kept so dependencies on
// them still resolve.
func (s *Scheduler) Recover(ctx context.Context) error {
	records, err := s.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list persisted tasks: %w", err)
	}

	var resets []*domain.Task
	s.mu.Lock()
	for _, t := range records {
		switch t.Status {
		case domain.TaskStatusRunning:
			t.Status = domain.TaskStatusPending
			t.StartedAt = nil
			t.WorkerID = ""
			resets = append(resets, t.Clone())
		case domain.TaskStatusQueued:
			t.Status = domain.TaskStatusPending
			resets = append(resets, t.Clone())
		}
		s.tasks[t.ID] = t
		for _, dep := range t.Dependencies {
			s.deps.Add(dep.TaskID, t.ID)
		}
	}
	recovered := len(s.tasks)
	s.mu.Unlock()

	for _, t := range resets {
		s.persist(ctx, t)
	}

	s.log.Info("Recovered persisted tasks",
		zap.Int("tasks", recovered),
		zap.Int("reset", len(resets)))
	return nil
}

// Start launches the scheduler loop, the worker pool and the stats loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.schedulerLoop(ctx)
	}()

	for i := 0; i < s.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker_%d", i)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.workerLoop(ctx, workerID)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.statsLoop(ctx)
	}()

	s.log.Info("Task scheduler started", zap.Int("workers", s.cfg.Workers))
}

// Stop cancels the loops and waits for them to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Info("Task scheduler stopped")
}

// SubmitTask persists and registers a new task. The task is enqueued
// immediately when every dependency is already satisfied and no not-before
// time is pending. A store failure is surfaced and the task is not created.
func (s *Scheduler) SubmitTask(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Name == "" {
		return "", fmt.Errorf("submit: task name is required")
	}
	priority := req.Priority
	if priority == 0 {
		priority = domain.PriorityNormal
	}
	maxRetries := req.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = 3
	case maxRetries < 0:
		maxRetries = 0
	}

	task := &domain.Task{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Type:         req.Type,
		Status:       domain.TaskStatusPending,
		Priority:     priority,
		CreatedAt:    s.now(),
		ScheduledAt:  req.NotBefore,
		MaxRetries:   maxRetries,
		Timeout:      req.Timeout,
		Dependencies: req.Dependencies,
		ParentTaskID: req.ParentTaskID,
		Args:         req.Args,
		Kwargs:       req.Kwargs,
		Metadata:     req.Metadata,
		Tags:         req.Tags,
	}

	if err := s.store.SaveTask(ctx, task); err != nil {
		return "", fmt.Errorf("submit task %s: %w", req.Name, err)
	}

	var queued *domain.Task
	s.mu.Lock()
	s.tasks[task.ID] = task
	for _, dep := range task.Dependencies {
		s.deps.Add(dep.TaskID, task.ID)
	}
	if parent, ok := s.tasks[task.ParentTaskID]; ok && task.ParentTaskID != "" {
		parent.ChildTaskIDs = append(parent.ChildTaskIDs, task.ID)
	}
	if s.canScheduleLocked(task, s.now()) {
		if err := s.queueTaskLocked(task); err == nil {
			queued = task.Clone()
		}
	}
	s.stats.TotalTasks++
	s.mu.Unlock()

	if queued != nil {
		s.persist(ctx, queued)
	}

	s.log.Info("Task submitted",
		zap.String("task_id", task.ID),
		zap.String("name", task.Name),
		zap.String("priority", priority.String()))
	return task.ID, nil
}

// CancelTask cancels a task. It returns false when the task is unknown or
// already terminal. A RUNNING task gets a best-effort revoke on the backend;
// dependents still PENDING/QUEUED are failed transitively.
func (s *Scheduler) CancelTask(ctx context.Context, taskID string) bool {
	now := s.now()

	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || domain.IsTerminal(task.Status) {
		s.mu.Unlock()
		return false
	}

	wasRunning := task.Status == domain.TaskStatusRunning
	if task.Status == domain.TaskStatusQueued {
		s.queues[task.Priority].Remove(task.ID)
	}
	if wasRunning {
		s.stats.ActiveTasks--
	}
	if err := task.Transition(domain.TaskStatusCancelled); err != nil {
		s.mu.Unlock()
		s.log.Error("Cancel refused by state machine", zap.Error(err))
		return false
	}
	task.CompletedAt = &now

	saves := []*domain.Task{task.Clone()}
	s.failDependentsLocked(task.ID, fmt.Sprintf("Dependency task %s cancelled", task.ID), now, &saves)
	s.mu.Unlock()

	if wasRunning {
		if err := s.backend.Revoke(ctx, taskID, true); err != nil {
			s.log.Warn("Backend revoke failed", zap.String("task_id", taskID), zap.Error(err))
		}
	}
	for _, t := range saves {
		s.persist(ctx, t)
		s.archiveTask(ctx, t)
	}

	s.log.Info("Task cancelled", zap.String("task_id", taskID))
	return true
}

// GetTaskInfo returns a copy of the task record, or nil when unknown.
func (s *Scheduler) GetTaskInfo(taskID string) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	return task.Clone()
}

// Stats returns a copy of the current aggregate counters.
func (s *Scheduler) Stats() domain.SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsCopyLocked()
}

func (s *Scheduler) statsCopyLocked() domain.SchedulerStats {
	out := s.stats
	out.QueueSizes = make(map[string]int, len(s.queues))
	for p, q := range s.queues {
		out.QueueSizes[p.String()] = q.Size()
	}
	return out
}

// GetTaskMetrics aggregates the persisted stats history over the requested
// horizon together with the live counters and, when configured, the archive.
func (s *Scheduler) GetTaskMetrics(ctx context.Context, hours int) (domain.TaskMetrics, error) {
	if hours <= 0 {
		hours = 24
	}
	current := s.Stats()
	metrics := domain.TaskMetrics{
		Current:   current,
		QueueInfo: current.QueueSizes,
	}

	history, err := s.store.StatsHistory(ctx, hours*60)
	if err != nil {
		s.log.Error("Failed to load stats history", zap.Error(err))
		return metrics, err
	}

	var completed, failed int64
	var execTimes []float64
	for _, snap := range history {
		completed += snap.CompletedTasks
		failed += snap.FailedTasks
		if snap.AvgExecutionTime > 0 {
			execTimes = append(execTimes, snap.AvgExecutionTime)
		}
	}
	total := completed + failed
	metrics.TotalHistoricalTasks = total
	if total > 0 {
		metrics.SuccessRate = float64(completed) / float64(total)
		metrics.FailureRate = float64(failed) / float64(total)
	}
	if len(execTimes) > 0 {
		var sum float64
		for _, v := range execTimes {
			sum += v
		}
		metrics.AvgHistoricalExecutionTime = sum / float64(len(execTimes))
	}

	if s.archive != nil {
		since := s.now().Add(-time.Duration(hours) * time.Hour)
		counts, err := s.archive.CountByStatus(ctx, since)
		if err != nil {
			s.log.Warn("Archive counts unavailable", zap.Error(err))
		} else {
			metrics.ArchivedByStatus = counts
		}
	}
	return metrics, nil
}

// schedulerLoop runs the readiness/timeout/stats tick until ctx is done.
// Per-tick errors never escape; a panicking tick is logged and the loop
// resumes after a backoff.
func (s *Scheduler) schedulerLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Stopping scheduler loop")
			return
		case <-ticker.C:
			if ok := s.safeTick(ctx); !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * s.cfg.Tick):
				}
			}
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Scheduler tick panicked", zap.Any("panic", r))
			ok = false
		}
	}()
	s.runTick(ctx)
	return true
}

// runTick promotes ready tasks, expires timed-out RUNNING tasks and
// refreshes the aggregate counters.
func (s *Scheduler) runTick(ctx context.Context) {
	now := s.now()

	var saves []*domain.Task
	var revoke []string
	var archived []*domain.Task

	s.mu.Lock()

	// Readiness scan. Map iteration order is random, so sort candidates by
	// submission time to keep the FIFO tie-break within a priority level.
	var ready []*domain.Task
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusPending && t.Status != domain.TaskStatusRetry {
			continue
		}
		if s.canScheduleLocked(t, now) {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].ID < ready[j].ID
	})
	for _, t := range ready {
		if err := s.queueTaskLocked(t); err != nil {
			s.log.Error("Failed to queue ready task", zap.Error(err))
			continue
		}
		saves = append(saves, t.Clone())
	}

	// Timeout scan. Timeouts are terminal and never retried.
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusRunning || t.Timeout <= 0 || t.StartedAt == nil {
			continue
		}
		if now.Sub(*t.StartedAt) <= t.TimeoutDuration() {
			continue
		}
		if err := t.Transition(domain.TaskStatusTimeout); err != nil {
			s.log.Error("Timeout transition refused", zap.Error(err))
			continue
		}
		t.CompletedAt = &now
		t.Error = fmt.Sprintf("Task timeout after %d seconds", t.Timeout)
		s.stats.FailedTasks++
		s.stats.ActiveTasks--
		clone := t.Clone()
		saves = append(saves, clone)
		archived = append(archived, clone)
		revoke = append(revoke, t.ID)
		s.log.Warn("Task timed out",
			zap.String("task_id", t.ID),
			zap.Int("timeout_seconds", t.Timeout))
	}

	s.refreshStatsLocked()
	s.mu.Unlock()

	for _, id := range revoke {
		if err := s.backend.Revoke(ctx, id, true); err != nil {
			s.log.Warn("Backend revoke failed", zap.String("task_id", id), zap.Error(err))
		}
	}
	for _, t := range saves {
		s.persist(ctx, t)
	}
	for _, t := range archived {
		s.archiveTask(ctx, t)
	}
}

// canScheduleLocked is the readiness predicate: every dependency's
// predecessor exists with exactly the required status, and the not-before
// time (if any) has elapsed.
func (s *Scheduler) canScheduleLocked(t *domain.Task, now time.Time) bool {
	for _, dep := range t.Dependencies {
		pred, ok := s.tasks[dep.TaskID]
		if !ok || pred.Status != dep.Required() {
			return false
		}
	}
	if t.ScheduledAt != nil && t.ScheduledAt.After(now) {
		return false
	}
	return true
}

func (s *Scheduler) queueTaskLocked(t *domain.Task) error {
	if err := t.Transition(domain.TaskStatusQueued); err != nil {
		return err
	}
	s.queues[t.Priority].Put(t)
	return nil
}

// triggerDependentsLocked promotes dependents of a completed task whose
// full readiness predicate now holds. Clones of promoted tasks are appended
// to saves for persistence outside the lock.
func (s *Scheduler) triggerDependentsLocked(completedID string, now time.Time, saves *[]*domain.Task) {
	for _, depID := range s.deps.Dependents(completedID) {
		t, ok := s.tasks[depID]
		if !ok || t.Status != domain.TaskStatusPending {
			continue
		}
		if !s.canScheduleLocked(t, now) {
			continue
		}
		if err := s.queueTaskLocked(t); err != nil {
			s.log.Error("Failed to queue dependent task", zap.Error(err))
			continue
		}
		*saves = append(*saves, t.Clone())
	}
}

// failDependentsLocked marks every PENDING/QUEUED dependent of id as
// DEPENDENCY_FAILED, transitively. QUEUED dependents are removed from their
// priority queue so they never run. Dependents that declared the
// predecessor's current status as their required status are spared: their
// requirement is met, not broken, and the readiness scan picks them up.
func (s *Scheduler) failDependentsLocked(id, cause string, now time.Time, saves *[]*domain.Task) {
	pred := s.tasks[id]
	for _, depID := range s.deps.Dependents(id) {
		t, ok := s.tasks[depID]
		if !ok {
			continue
		}
		if t.Status != domain.TaskStatusPending && t.Status != domain.TaskStatusQueued {
			continue
		}
		if pred != nil && dependencySatisfied(t, id, pred.Status) {
			continue
		}
		if t.Status == domain.TaskStatusQueued {
			s.queues[t.Priority].Remove(t.ID)
		}
		if err := t.Transition(domain.TaskStatusDependencyFailed); err != nil {
			s.log.Error("Dependency-failure transition refused", zap.Error(err))
			continue
		}
		t.CompletedAt = &now
		t.Error = cause
		*saves = append(*saves, t.Clone())
		s.failDependentsLocked(depID, fmt.Sprintf("Dependency task %s failed", depID), now, saves)
	}
}

// dependencySatisfied reports whether t's dependency on predID is met by
// the predecessor's current status.
func dependencySatisfied(t *domain.Task, predID string, status domain.TaskStatus) bool {
	for _, dep := range t.Dependencies {
		if dep.TaskID == predID && dep.Required() == status {
			return true
		}
	}
	return false
}

func (s *Scheduler) refreshStatsLocked() {
	sizes := make(map[string]int, len(s.queues))
	for p, q := range s.queues {
		sizes[p.String()] = q.Size()
	}
	s.stats.QueueSizes = sizes
	s.stats.WorkerUtilization = float64(s.stats.ActiveTasks) / float64(s.cfg.Workers)

	var sum float64
	var n int
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusSuccess && t.ExecutionTime > 0 {
			sum += t.ExecutionTime
			n++
		}
	}
	if n > 0 {
		s.stats.AvgExecutionTime = sum / float64(n)
	}
}

// statsLoop snapshots the counters to the durable store once per interval.
func (s *Scheduler) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.snapshotStats(ctx)
		}
	}
}

func (s *Scheduler) snapshotStats(ctx context.Context) {
	s.mu.Lock()
	snap := domain.StatsSnapshot{
		SchedulerStats: s.statsCopyLocked(),
		Timestamp:      s.now(),
	}
	s.mu.Unlock()

	if err := s.store.AppendStats(ctx, snap); err != nil {
		s.log.Error("Failed to persist stats snapshot", zap.Error(err))
	}
}

// persist writes a cloned task record, logging failures. Submission is the
// only path where a store error is surfaced to the caller.
func (s *Scheduler) persist(ctx context.Context, t *domain.Task) {
	if err := s.store.SaveTask(ctx, t); err != nil {
		s.log.Error("Failed to save task",
			zap.String("task_id", t.ID),
			zap.Error(err))
	}
}

// archiveTask records a terminal task in the archive, best-effort.
func (s *Scheduler) archiveTask(ctx context.Context, t *domain.Task) {
	if s.archive == nil || !domain.IsTerminal(t.Status) {
		return
	}
	if err := s.archive.ArchiveTask(ctx, t); err != nil {
		s.log.Warn("Failed to archive task",
			zap.String("task_id", t.ID),
			zap.Error(err))
	}
}
