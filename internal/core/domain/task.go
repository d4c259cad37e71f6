package domain

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending          TaskStatus = "pending"
	TaskStatusQueued           TaskStatus = "queued"
	TaskStatusRunning          TaskStatus = "running"
	TaskStatusSuccess          TaskStatus = "success"
	TaskStatusFailure          TaskStatus = "failure"
	TaskStatusRetry            TaskStatus = "retry"
	TaskStatusCancelled        TaskStatus = "cancelled"
	TaskStatusTimeout          TaskStatus = "timeout"
	TaskStatusDependencyFailed TaskStatus = "dependency_failed"
)

// TaskPriority orders tasks for dequeue. Higher value dequeues first.
type TaskPriority int

const (
	PriorityLow TaskPriority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
	PriorityUrgent
)

// Priorities lists all priority levels in ascending order.
var Priorities = []TaskPriority{
	PriorityLow,
	PriorityNormal,
	PriorityHigh,
	PriorityCritical,
	PriorityUrgent,
}

func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	case PriorityUrgent:
		return "URGENT"
	default:
		return "UNKNOWN"
	}
}

type TaskType string

const (
	TypeDocumentProcessing   TaskType = "document_processing"
	TypeLessonPlanGeneration TaskType = "lesson_plan_generation"
	TypeAITextGeneration     TaskType = "ai_text_generation"
	TypeBatchProcessing      TaskType = "batch_processing"
	TypeCleanup              TaskType = "cleanup"
	TypeMonitoring           TaskType = "monitoring"
	TypeExport               TaskType = "export"
)

// TaskDependency names a predecessor task and the terminal status it must
// reach before the dependent becomes schedulable. An empty RequiredStatus
// means TaskStatusSuccess.
type TaskDependency struct {
	TaskID         string     `json:"task_id"`
	RequiredStatus TaskStatus `json:"required_status,omitempty"`
}

// Required returns the effective required status.
func (d TaskDependency) Required() TaskStatus {
	if d.RequiredStatus == "" {
		return TaskStatusSuccess
	}
	return d.RequiredStatus
}

// Task is the unit of schedulable work tracked by the scheduler.
// The JSON shape is the durable persistence format.
type Task struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Type     TaskType     `json:"task_type"`
	Status   TaskStatus   `json:"status"`
	Priority TaskPriority `json:"priority"`

	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"` // not-before time; also carries the retry backoff
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Progress   float64 `json:"progress"`
	Retries    int     `json:"retries"`
	MaxRetries int     `json:"max_retries"`
	Timeout    int     `json:"timeout,omitempty"` // seconds, 0 means no limit

	Dependencies []TaskDependency `json:"dependencies,omitempty"`
	ParentTaskID string           `json:"parent_task_id,omitempty"`
	ChildTaskIDs []string         `json:"child_task_ids,omitempty"`

	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`

	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorTrace string          `json:"error_trace,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Tags     []string       `json:"tags,omitempty"`

	WorkerID      string         `json:"worker_id,omitempty"`
	ExecutionTime float64        `json:"execution_time,omitempty"` // seconds
	ResourceUsage map[string]any `json:"resource_usage,omitempty"`
}

// Clone returns a copy safe to hand outside the scheduler's lock.
// Slices and maps are copied one level deep; payload values are opaque
// and never mutated after submission.
func (t *Task) Clone() *Task {
	c := *t
	if t.ScheduledAt != nil {
		v := *t.ScheduledAt
		c.ScheduledAt = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.Dependencies != nil {
		c.Dependencies = append([]TaskDependency(nil), t.Dependencies...)
	}
	if t.ChildTaskIDs != nil {
		c.ChildTaskIDs = append([]string(nil), t.ChildTaskIDs...)
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.Args != nil {
		c.Args = append([]any(nil), t.Args...)
	}
	if t.Kwargs != nil {
		c.Kwargs = make(map[string]any, len(t.Kwargs))
		for k, v := range t.Kwargs {
			c.Kwargs[k] = v
		}
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.ResourceUsage != nil {
		c.ResourceUsage = make(map[string]any, len(t.ResourceUsage))
		for k, v := range t.ResourceUsage {
			c.ResourceUsage[k] = v
		}
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	return &c
}

// TimeoutDuration returns the task timeout as a duration, zero when unset.
func (t *Task) TimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
