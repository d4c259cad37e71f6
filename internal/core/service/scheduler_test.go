package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lessonforge/task-scheduler/internal/core/domain"
	"github.com/lessonforge/task-scheduler/internal/core/port"
)

// fakeClock gives tests control over the scheduler's notion of now.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memStore is an in-memory TaskStore.
type memStore struct {
	mu      sync.Mutex
	records map[string]*domain.Task
	history []domain.StatsSnapshot
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*domain.Task)}
}

func (s *memStore) SaveTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records[task.ID] = task.Clone()
	return nil
}

func (s *memStore) GetTask(_ context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (s *memStore) ListTasks(_ context.Context) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Task, 0, len(s.records))
	for _, t := range s.records {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (s *memStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *memStore) AppendStats(_ context.Context, snap domain.StatsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]domain.StatsSnapshot{snap}, s.history...)
	return nil
}

func (s *memStore) StatsHistory(_ context.Context, limit int) ([]domain.StatsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.history) {
		limit = len(s.history)
	}
	return append([]domain.StatsSnapshot(nil), s.history[:limit]...), nil
}

func (s *memStore) record(id string) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.records[id]
	if !ok {
		return nil
	}
	return t.Clone()
}

type resultFunc func(context.Context) (json.RawMessage, error)

func (f resultFunc) Wait(ctx context.Context) (json.RawMessage, error) { return f(ctx) }

// fakeBackend scripts execution outcomes and records submissions/revokes.
type fakeBackend struct {
	mu        sync.Mutex
	outcome   func(task *domain.Task) (json.RawMessage, error)
	submitted []string
	revoked   []string
}

func (b *fakeBackend) Submit(_ context.Context, task *domain.Task) (port.AsyncResult, error) {
	b.mu.Lock()
	b.submitted = append(b.submitted, task.ID)
	fn := b.outcome
	b.mu.Unlock()

	if fn == nil {
		fn = func(*domain.Task) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		}
	}
	return resultFunc(func(ctx context.Context) (json.RawMessage, error) {
		return fn(task)
	}), nil
}

func (b *fakeBackend) Revoke(_ context.Context, taskID string, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked = append(b.revoked, taskID)
	return nil
}

func (b *fakeBackend) submissions(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.submitted {
		if s == id {
			n++
		}
	}
	return n
}

func (b *fakeBackend) wasRevoked(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.revoked {
		if s == id {
			return true
		}
	}
	return false
}

func newTestScheduler(cfg Config) (*Scheduler, *memStore, *fakeBackend, *fakeClock) {
	store := newMemStore()
	backend := &fakeBackend{}
	s := NewScheduler(cfg, store, backend, nil, zap.NewNop())
	clock := newFakeClock()
	s.now = clock.Now
	return s, store, backend, clock
}

func TestSubmit_NoDependencies_ImmediatelyQueued(t *testing.T) {
	s, store, _, _ := newTestScheduler(Config{})
	ctx := context.Background()

	id, err := s.SubmitTask(ctx, SubmitRequest{
		Name: "tasks.process_document",
		Type: domain.TypeDocumentProcessing,
	})
	require.NoError(t, err)

	info := s.GetTaskInfo(id)
	require.NotNil(t, info)
	assert.Equal(t, domain.TaskStatusQueued, info.Status)
	assert.Equal(t, domain.PriorityNormal, info.Priority, "priority defaults to NORMAL")
	assert.Equal(t, 3, info.MaxRetries, "retry budget defaults to 3")

	persisted := store.record(id)
	require.NotNil(t, persisted)
	assert.Equal(t, domain.TaskStatusQueued, persisted.Status)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.TotalTasks)
	assert.Equal(t, 1, stats.QueueSizes["NORMAL"])
}

func TestSubmit_NotBefore_HeldUntilElapsed(t *testing.T) {
	s, _, _, clock := newTestScheduler(Config{})
	ctx := context.Background()

	notBefore := clock.Now().Add(30 * time.Second)
	id, err := s.SubmitTask(ctx, SubmitRequest{
		Name:      "tasks.cleanup_uploads",
		Type:      domain.TypeCleanup,
		NotBefore: &notBefore,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, s.GetTaskInfo(id).Status)

	s.runTick(ctx)
	assert.Equal(t, domain.TaskStatusPending, s.GetTaskInfo(id).Status, "not-before has not elapsed")

	clock.Advance(31 * time.Second)
	s.runTick(ctx)
	assert.Equal(t, domain.TaskStatusQueued, s.GetTaskInfo(id).Status)
}

func TestSubmit_StoreFailureSurfaced(t *testing.T) {
	s, store, _, _ := newTestScheduler(Config{})
	store.saveErr = errors.New("redis: connection refused")

	id, err := s.SubmitTask(context.Background(), SubmitRequest{Name: "tasks.x"})
	require.Error(t, err)
	assert.Empty(t, id)
	assert.Equal(t, int64(0), s.Stats().TotalTasks, "task must not be created")
}

func TestDequeue_PriorityThenFIFO(t *testing.T) {
	s, _, _, _ := newTestScheduler(Config{})
	ctx := context.Background()

	low, _ := s.SubmitTask(ctx, SubmitRequest{Name: "tasks.low", Priority: domain.PriorityLow})
	first, _ := s.SubmitTask(ctx, SubmitRequest{Name: "tasks.n1", Priority: domain.PriorityNormal})
	second, _ := s.SubmitTask(ctx, SubmitRequest{Name: "tasks.n2", Priority: domain.PriorityNormal})
	high, _ := s.SubmitTask(ctx, SubmitRequest{Name: "tasks.high", Priority: domain.PriorityHigh})

	assert.Equal(t, high, s.dequeue().ID, "higher priority preempts regardless of submit order")
	assert.Equal(t, first, s.dequeue().ID, "FIFO within a priority level")
	assert.Equal(t, second, s.dequeue().ID)
	assert.Equal(t, low, s.dequeue().ID)
	assert.Nil(t, s.dequeue())
}

func TestDependency_GatesUntilPredecessorSucceeds(t *testing.T) {
	s, _, _, _ := newTestScheduler(Config{})
	ctx := context.Background()

	a, err := s.SubmitTask(ctx, SubmitRequest{Name: "tasks.a"})
	require.NoError(t, err)
	b, err := s.SubmitTask(ctx, SubmitRequest{
		Name:         "tasks.b",
		Dependencies: []domain.TaskDependency{{TaskID: a}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusPending, s.GetTaskInfo(b).Status)
	s.runTick(ctx)
	assert.Equal(t, domain.TaskStatusPending, s.GetTaskInfo(b).Status,
		"dependent must not queue before the predecessor finishes")

	task := s.dequeue()
	require.Equal(t, a, task.ID, "only the predecessor is dequeueable")
	s.executeTask(ctx, task, "worker_0")

	assert.Equal(t, domain.TaskStatusSuccess, s.GetTaskInfo(a).Status)
	assert.Equal(t, domain.TaskStatusQueued, s.GetTaskInfo(b).Status,
		"dependent queues as soon as its dependency is satisfied")
}

func TestDependency_RequiredFailureTriggersOnFailure(t *testing.T) {
	s, _, backend, _ := newTestScheduler(Config{})
	ctx := context.Background()
	backend.outcome = func(*domain.Task) (json.RawMessage, error) {
		return nil, &port.ExecutionError{Message: "OCR failed", Traceback: "Traceback..."}
	}

	a, _ := s.SubmitTask(ctx, SubmitRequest{Name: "tasks.a", MaxRetries: -1})
	onFailure, _ := s.SubmitTask(ctx, SubmitRequest{
		Name:         "tasks.compensate",
		Dependencies: []domain.TaskDependency{{TaskID: a, RequiredStatus: domain.TaskStatusFailure}},
	})
	onSuccess, _ := s.SubmitTask(ctx, SubmitRequest{
		Name:         "tasks.export",
		Dependencies: []domain.TaskDependency{{TaskID: a}},
	})

	task := s.dequeue()
	require.Equal(t, a, task.ID)
	s.executeTask(ctx, task, "worker_0")

	info := s.GetTaskInfo(a)
	assert.Equal(t, domain.TaskStatusFailure, info.Status)
	assert.Equal(t, "OCR failed", info.Error)
	assert.Equal(t, "Traceback...", info.ErrorTrace)

	assert.Equal(t, domain.TaskStatusQueued, s.GetTaskInfo(onFailure).Status,
		"a dependent requiring FAILURE becomes ready")
	assert.Equal(t, domain.TaskStatusDependencyFailed, s.GetTaskInfo(onSuccess).Status,
		"a dependent requiring SUCCESS can never run")
}

func TestRetry_ExponentialBackoffAndBudget(t *testing.T) {
	s, _, backend, clock := newTestScheduler(Config{})
	ctx := context.Background()
	backend.outcome = func(*domain.Task) (json.RawMessage, error) {
		return nil, errors.New("transient failure")
	}

	id, err := s.SubmitTask(ctx, SubmitRequest{Name: "tasks.flaky", MaxRetries: 3})
	require.NoError(t, err)

	var notBefores []time.Time
	for attempt := 1; attempt <= 4; attempt++ {
		task := s.dequeue()
		require.NotNil(t, task, "attempt %d should be dequeueable", attempt)
		s.executeTask(ctx, task, "worker_0")

		if attempt < 4 {
			info := s.GetTaskInfo(id)
			require.Equal(t, domain.TaskStatusRetry, info.Status)
			require.NotNil(t, info.ScheduledAt)
			notBefores = append(notBefores, *info.ScheduledAt)
			assert.Empty(t, info.Error, "retry clears the recorded error")
			assert.Empty(t, info.WorkerID)
			assert.Nil(t, info.StartedAt)
			assert.Equal(t, attempt, info.Retries)

			s.runTick(ctx)
			require.Equal(t, domain.TaskStatusRetry, s.GetTaskInfo(id).Status,
				"backoff delay must hold the task out of the queue")

			clock.Advance(2 * time.Minute)
			s.runTick(ctx)
			require.Equal(t, domain.TaskStatusQueued, s.GetTaskInfo(id).Status)
		}
	}

	assert.Equal(t, 4, backend.submissions(id), "1 initial attempt + 3 retries, no more")
	assert.Equal(t, domain.TaskStatusFailure, s.GetTaskInfo(id).Status)
	for i := 1; i < len(notBefores); i++ {
		assert.True(t, notBefores[i].After(notBefores[i-1]),
			"each retry's not-before must strictly increase")
	}

	clock.Advance(time.Hour)
	s.runTick(ctx)
	assert.Equal(t, domain.TaskStatusFailure, s.GetTaskInfo(id).Status,
		"an exhausted task is terminal")
	assert.Nil(t, s.dequeue())
}

func TestTimeout_TerminalAndNeverRetried(t *testing.T) {
	s, _, backend, clock := newTestScheduler(Config{})
	ctx := context.Background()

	release := make(chan struct{})
	backend.outcome = func(*domain.Task) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{}`), nil
	}

	id, err := s.SubmitTask(ctx, SubmitRequest{Name: "tasks.hung", Timeout: 5})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if task := s.dequeue(); task != nil {
			s.executeTask(ctx, task, "worker_0")
		}
	}()

	require.Eventually(t, func() bool {
		info := s.GetTaskInfo(id)
		return info != nil && info.Status == domain.TaskStatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	clock.Advance(6 * time.Second)
	s.runTick(ctx)

	info := s.GetTaskInfo(id)
	assert.Equal(t, domain.TaskStatusTimeout, info.Status)
	assert.NotNil(t, info.CompletedAt)
	assert.True(t, backend.wasRevoked(id))

	close(release)
	wg.Wait()

	// The late completion must not overwrite the timeout.
	info = s.GetTaskInfo(id)
	assert.Equal(t, domain.TaskStatusTimeout, info.Status)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.FailedTasks)
	assert.Equal(t, int64(0), stats.CompletedTasks)
	assert.Equal(t, int64(0), stats.ActiveTasks)

	clock.Advance(time.Hour)
	s.runTick(ctx)
	assert.Equal(t, domain.TaskStatusTimeout, s.GetTaskInfo(id).Status, "timeouts are never retried")
	assert.Nil(t, s.dequeue())
}

func TestCancel_CascadesToTransitiveDependents(t *testing.T) {
	s, _, backend, clock := newTestScheduler(Config{})
	ctx := context.Background()

	notBefore := clock.Now().Add(time.Hour)
	a, _ := s.SubmitTask(ctx, SubmitRequest{Name: "tasks.a", NotBefore: &notBefore})
	b, _ := s.SubmitTask(ctx, SubmitRequest{
		Name:         "tasks.b",
		Dependencies: []domain.TaskDependency{{TaskID: a}},
	})
	c, _ := s.SubmitTask(ctx, SubmitRequest{
		Name:         "tasks.c",
		Dependencies: []domain.TaskDependency{{TaskID: b}},
	})

	require.True(t, s.CancelTask(ctx, a))

	assert.Equal(t, domain.TaskStatusCancelled, s.GetTaskInfo(a).Status)
	assert.Equal(t, domain.TaskStatusDependencyFailed, s.GetTaskInfo(b).Status)
	assert.Equal(t, domain.TaskStatusDependencyFailed, s.GetTaskInfo(c).Status,
		"dependency failure cascades transitively")
	assert.Empty(t, backend.submitted, "no cancelled task ever reaches the backend")

	assert.False(t, s.CancelTask(ctx, a), "cancelling a terminal task is a no-op")
	assert.False(t, s.CancelTask(ctx, b))
	assert.False(t, s.CancelTask(ctx, "unknown-id"))
}

func TestCancel_QueuedTaskRemovedFromQueue(t *testing.T) {
	s, _, _, _ := newTestScheduler(Config{})
	ctx := context.Background()

	id, _ := s.SubmitTask(ctx, SubmitRequest{Name: "tasks.a", Priority: domain.PriorityHigh})
	require.Equal(t, domain.TaskStatusQueued, s.GetTaskInfo(id).Status)

	require.True(t, s.CancelTask(ctx, id))
	assert.Nil(t, s.dequeue(), "cancelled task must not be claimable")
	assert.Equal(t, 0, s.Stats().QueueSizes["HIGH"])
}

func TestCancel_RunningTaskRevokedOnBackend(t *testing.T) {
	s, _, backend, _ := newTestScheduler(Config{})
	ctx := context.Background()

	release := make(chan struct{})
	backend.outcome = func(*domain.Task) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{}`), nil
	}

	id, _ := s.SubmitTask(ctx, SubmitRequest{Name: "tasks.slow"})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if task := s.dequeue(); task != nil {
			s.executeTask(ctx, task, "worker_0")
		}
	}()

	require.Eventually(t, func() bool {
		return s.GetTaskInfo(id).Status == domain.TaskStatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, s.CancelTask(ctx, id))
	assert.True(t, backend.wasRevoked(id))

	close(release)
	wg.Wait()

	assert.Equal(t, domain.TaskStatusCancelled, s.GetTaskInfo(id).Status,
		"the cancel write stands; the late completion is discarded")
	stats := s.Stats()
	assert.Equal(t, int64(0), stats.ActiveTasks)
	assert.Equal(t, int64(0), stats.CompletedTasks)
}

func TestRecovery_ResetsInterruptedWork(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	running := &domain.Task{
		ID: "t-running", Name: "tasks.a", Status: domain.TaskStatusRunning,
		Priority: domain.PriorityNormal, CreatedAt: started,
		StartedAt: &started, WorkerID: "worker_2", MaxRetries: 3,
	}
	queued := &domain.Task{
		ID: "t-queued", Name: "tasks.b", Status: domain.TaskStatusQueued,
		Priority: domain.PriorityHigh, CreatedAt: started, MaxRetries: 3,
	}
	done := &domain.Task{
		ID: "t-done", Name: "tasks.c", Status: domain.TaskStatusSuccess,
		Priority: domain.PriorityNormal, CreatedAt: started, Progress: 100,
	}
	blocked := &domain.Task{
		ID: "t-blocked", Name: "tasks.d", Status: domain.TaskStatusPending,
		Priority: domain.PriorityNormal, CreatedAt: started, MaxRetries: 3,
		Dependencies: []domain.TaskDependency{{TaskID: "t-done"}},
	}
	for _, task := range []*domain.Task{running, queued, done, blocked} {
		require.NoError(t, store.SaveTask(ctx, task))
	}

	backend := &fakeBackend{}
	s := NewScheduler(Config{}, store, backend, nil, zap.NewNop())
	clock := newFakeClock()
	s.now = clock.Now
	require.NoError(t, s.Recover(ctx))

	info := s.GetTaskInfo("t-running")
	require.NotNil(t, info)
	assert.Equal(t, domain.TaskStatusPending, info.Status)
	assert.Nil(t, info.StartedAt, "presumed-lost execution clears the start time")
	assert.Empty(t, info.WorkerID)

	assert.Equal(t, domain.TaskStatusPending, s.GetTaskInfo("t-queued").Status,
		"queued records re-enter the readiness scan")
	assert.Equal(t, domain.TaskStatusSuccess, s.GetTaskInfo("t-done").Status,
		"terminal records are kept, not re-activated")

	// The reset must also land in the durable store.
	assert.Equal(t, domain.TaskStatusPending, store.record("t-running").Status)

	s.runTick(ctx)
	assert.Equal(t, domain.TaskStatusQueued, s.GetTaskInfo("t-blocked").Status,
		"a dependency on a recovered terminal task still resolves")
	assert.Equal(t, domain.TaskStatusQueued, s.GetTaskInfo("t-running").Status)
}

func TestStats_SnapshotAndMetrics(t *testing.T) {
	s, store, _, clock := newTestScheduler(Config{Workers: 4})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.SubmitTask(ctx, SubmitRequest{Name: "tasks.a", Priority: domain.PriorityUrgent})
		require.NoError(t, err)
	}
	s.runTick(ctx)
	s.snapshotStats(ctx)

	history, err := store.StatsHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(3), history[0].TotalTasks)
	assert.Equal(t, 3, history[0].QueueSizes["URGENT"])
	assert.True(t, history[0].Timestamp.Equal(clock.Now()))

	// Seed older snapshots and aggregate.
	require.NoError(t, store.AppendStats(ctx, domain.StatsSnapshot{
		SchedulerStats: domain.SchedulerStats{CompletedTasks: 8, FailedTasks: 2, AvgExecutionTime: 1.5},
		Timestamp:      clock.Now(),
	}))

	metrics, err := s.GetTaskMetrics(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, int64(10), metrics.TotalHistoricalTasks)
	assert.InDelta(t, 0.8, metrics.SuccessRate, 1e-9)
	assert.InDelta(t, 0.2, metrics.FailureRate, 1e-9)
	assert.InDelta(t, 1.5, metrics.AvgHistoricalExecutionTime, 1e-9)
	assert.Equal(t, 3, metrics.QueueInfo["URGENT"])
}

func TestEndToEnd_DependentPipelineCompletes(t *testing.T) {
	s, store, backend, _ := newTestScheduler(Config{
		Workers:       2,
		Tick:          10 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
		StatsInterval: 25 * time.Millisecond,
	})
	s.now = time.Now // the loops run on real time here
	ctx := context.Background()

	backend.outcome = func(*domain.Task) (json.RawMessage, error) {
		time.Sleep(10 * time.Millisecond)
		return json.RawMessage(`{"pages": 12}`), nil
	}

	a, err := s.SubmitTask(ctx, SubmitRequest{
		Name:     "tasks.process_document",
		Type:     domain.TypeDocumentProcessing,
		Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)
	b, err := s.SubmitTask(ctx, SubmitRequest{
		Name:         "tasks.generate_lesson_plan",
		Type:         domain.TypeLessonPlanGeneration,
		Priority:     domain.PriorityHigh,
		Dependencies: []domain.TaskDependency{{TaskID: a, RequiredStatus: domain.TaskStatusSuccess}},
	})
	require.NoError(t, err)

	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		ia, ib := s.GetTaskInfo(a), s.GetTaskInfo(b)
		return ia.Status == domain.TaskStatusSuccess && ib.Status == domain.TaskStatusSuccess
	}, 5*time.Second, 10*time.Millisecond)

	ia, ib := s.GetTaskInfo(a), s.GetTaskInfo(b)
	assert.EqualValues(t, 100, ia.Progress)
	assert.JSONEq(t, `{"pages": 12}`, string(ib.Result))
	assert.NotEmpty(t, ib.WorkerID)
	assert.False(t, ib.StartedAt.Before(*ia.CompletedAt),
		"the dependent must not start before its predecessor completed")

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.TotalTasks)
	assert.Equal(t, int64(2), stats.CompletedTasks)
	assert.Equal(t, int64(0), stats.FailedTasks)
	assert.Equal(t, int64(0), stats.ActiveTasks)

	require.Eventually(t, func() bool {
		history, err := store.StatsHistory(ctx, 10)
		return err == nil && len(history) > 0
	}, 2*time.Second, 10*time.Millisecond, "the stats loop persists snapshots")

	assert.Equal(t, domain.TaskStatusSuccess, store.record(a).Status)
	assert.Equal(t, domain.TaskStatusSuccess, store.record(b).Status)
}

func TestStartStop_Idempotent(t *testing.T) {
	s, _, _, _ := newTestScheduler(Config{
		Tick:         5 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	s.now = time.Now
	ctx := context.Background()

	s.Start(ctx)
	s.Start(ctx) // second start is a no-op
	s.Stop()
	s.Stop() // second stop is a no-op
}
