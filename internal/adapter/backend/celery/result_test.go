package celery

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultMeta_Decode(t *testing.T) {
	raw := `{
		"status": "SUCCESS",
		"result": {"lesson_plan_id": 42},
		"traceback": null,
		"task_id": "4f9c2a",
		"children": []
	}`

	var meta resultMeta
	require.NoError(t, json.Unmarshal([]byte(raw), &meta))
	assert.Equal(t, "SUCCESS", meta.Status)
	assert.Equal(t, "4f9c2a", meta.TaskID)
	assert.JSONEq(t, `{"lesson_plan_id": 42}`, string(meta.Result))
	assert.Empty(t, meta.Traceback)
}

func TestFailureMessage(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "typed exception with message",
			raw:  `{"exc_type": "ValueError", "exc_message": ["document not found"], "exc_module": "builtins"}`,
			want: "ValueError: document not found",
		},
		{
			name: "typed exception without message",
			raw:  `{"exc_type": "TimeoutError", "exc_message": []}`,
			want: "TimeoutError",
		},
		{
			name: "unstructured payload falls through verbatim",
			raw:  `"worker lost"`,
			want: `"worker lost"`,
		},
		{
			name: "empty payload",
			raw:  "",
			want: "task failed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, failureMessage(json.RawMessage(tc.raw)))
		})
	}
}
