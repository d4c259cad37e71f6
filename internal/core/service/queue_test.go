package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lessonforge/task-scheduler/internal/core/domain"
)

func queuedTask(id string, p domain.TaskPriority) *domain.Task {
	return &domain.Task{ID: id, Name: "tasks." + id, Priority: p, Status: domain.TaskStatusQueued}
}

func TestTaskQueue_PriorityOrder(t *testing.T) {
	q := NewTaskQueue("test")
	q.Put(queuedTask("low", domain.PriorityLow))
	q.Put(queuedTask("urgent", domain.PriorityUrgent))
	q.Put(queuedTask("normal", domain.PriorityNormal))

	// The queue itself is a max-heap over all inserted tasks.
	assert.Equal(t, "urgent", q.Get().ID)
	assert.Equal(t, "normal", q.Get().ID)
	assert.Equal(t, "low", q.Get().ID)
	assert.Nil(t, q.Get())
}

func TestTaskQueue_FIFOWithinPriority(t *testing.T) {
	q := NewTaskQueue("test")
	for i := 0; i < 10; i++ {
		q.Put(queuedTask(fmt.Sprintf("t%d", i), domain.PriorityNormal))
	}
	for i := 0; i < 10; i++ {
		got := q.Get()
		require.NotNil(t, got)
		assert.Equal(t, fmt.Sprintf("t%d", i), got.ID)
	}
}

func TestTaskQueue_RemoveTombstonesEntry(t *testing.T) {
	q := NewTaskQueue("test")
	q.Put(queuedTask("a", domain.PriorityNormal))
	q.Put(queuedTask("b", domain.PriorityNormal))
	q.Put(queuedTask("c", domain.PriorityNormal))

	assert.True(t, q.Remove("b"))
	assert.False(t, q.Remove("b"), "double remove reports absent")
	assert.False(t, q.Remove("nope"))
	assert.Equal(t, 2, q.Size())

	assert.Equal(t, "a", q.Get().ID)
	assert.Equal(t, "c", q.Get().ID, "removed entry is skipped")
	assert.Nil(t, q.Get())
}

func TestTaskQueue_SizeAndEmpty(t *testing.T) {
	q := NewTaskQueue("test")
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Size())

	q.Put(queuedTask("a", domain.PriorityHigh))
	assert.False(t, q.IsEmpty())
	assert.Equal(t, 1, q.Size())

	q.Remove("a")
	assert.True(t, q.IsEmpty())

	// Get over a fully tombstoned heap still reports empty.
	assert.Nil(t, q.Get())
}
