package domain

import "time"

// SchedulerStats holds the rolling aggregate counters the scheduler loop
// refreshes every tick.
type SchedulerStats struct {
	TotalTasks        int64          `json:"total_tasks"`
	CompletedTasks    int64          `json:"completed_tasks"`
	FailedTasks       int64          `json:"failed_tasks"`
	ActiveTasks       int64          `json:"active_tasks"`
	QueueSizes        map[string]int `json:"queue_sizes"`
	WorkerUtilization float64        `json:"worker_utilization"`
	AvgExecutionTime  float64        `json:"avg_execution_time"` // seconds
}

// StatsSnapshot is one timestamped entry in the persisted stats history.
type StatsSnapshot struct {
	SchedulerStats
	Timestamp time.Time `json:"timestamp"`
}

// TaskMetrics is the aggregate view returned to callers, combining the live
// counters with the persisted history and, when available, archive counts.
type TaskMetrics struct {
	Current SchedulerStats `json:"current"`

	TotalHistoricalTasks       int64   `json:"total_historical_tasks"`
	SuccessRate                float64 `json:"success_rate"`
	FailureRate                float64 `json:"failure_rate"`
	AvgHistoricalExecutionTime float64 `json:"avg_historical_execution_time"` // seconds

	QueueInfo map[string]int `json:"queue_info"`

	// ArchivedByStatus counts terminal tasks recorded in the archive within
	// the requested window. Empty when no archive is configured.
	ArchivedByStatus map[TaskStatus]int64 `json:"archived_by_status,omitempty"`
}
