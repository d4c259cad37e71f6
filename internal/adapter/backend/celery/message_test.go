package celery

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lessonforge/task-scheduler/internal/core/domain"
)

func TestTaskHeaders(t *testing.T) {
	task := &domain.Task{
		ID:      "4f9c2a",
		Name:    "tasks.generate_lesson_plan",
		Retries: 2,
		Timeout: 120,
		Args:    []any{"doc-7"},
		Kwargs:  map[string]any{"grade": 5},
	}

	headers := taskHeaders(task)
	assert.Equal(t, "py", headers["lang"])
	assert.Equal(t, "tasks.generate_lesson_plan", headers["task"])
	assert.Equal(t, "4f9c2a", headers["id"])
	assert.Equal(t, "4f9c2a", headers["root_id"])
	assert.Equal(t, int64(2), headers["retries"])

	limits, ok := headers["timelimit"].([]any)
	require.True(t, ok)
	require.Len(t, limits, 2)
	assert.Nil(t, limits[0], "soft limit is never set")
	assert.Equal(t, int64(120), limits[1])

	assert.Equal(t, `{"grade":5}`, headers["kwargsrepr"])
}

func TestTaskHeaders_NoTimeout(t *testing.T) {
	headers := taskHeaders(&domain.Task{ID: "x", Name: "tasks.cleanup"})

	limits, ok := headers["timelimit"].([]any)
	require.True(t, ok)
	assert.Nil(t, limits[0])
	assert.Nil(t, limits[1])
}

func TestEncodeTaskBody(t *testing.T) {
	task := &domain.Task{
		ID:     "x",
		Name:   "tasks.process_document",
		Args:   []any{"doc-7", true},
		Kwargs: map[string]any{"ocr": true},
	}

	body, err := encodeTaskBody(task)
	require.NoError(t, err)

	var decoded []json.RawMessage
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Len(t, decoded, 3)

	assert.JSONEq(t, `["doc-7", true]`, string(decoded[0]))
	assert.JSONEq(t, `{"ocr": true}`, string(decoded[1]))
	assert.JSONEq(t, `{"callbacks": null, "errbacks": null, "chain": null, "chord": null}`,
		string(decoded[2]))
}

func TestEncodeTaskBody_NilArgsBecomeEmpty(t *testing.T) {
	body, err := encodeTaskBody(&domain.Task{ID: "x", Name: "tasks.noop"})
	require.NoError(t, err)

	var decoded []json.RawMessage
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Len(t, decoded, 3)
	assert.JSONEq(t, `[]`, string(decoded[0]))
	assert.JSONEq(t, `{}`, string(decoded[1]))
}
