package celery

import (
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lessonforge/task-scheduler/internal/core/domain"
)

// taskHeaders builds the protocol v2 message headers. The soft time limit
// is left unset; the hard limit carries the task timeout when present.
func taskHeaders(task *domain.Task) amqp.Table {
	var hardLimit any
	if task.Timeout > 0 {
		hardLimit = int64(task.Timeout)
	}
	return amqp.Table{
		"lang":      "py",
		"task":      task.Name,
		"id":        task.ID,
		"root_id":   task.ID,
		"parent_id": nil,
		"group":     nil,
		"retries":   int64(task.Retries),
		"timelimit": []any{nil, hardLimit},
		"argsrepr":  fmt.Sprintf("%v", task.Args),
		"kwargsrepr": func() string {
			data, _ := json.Marshal(task.Kwargs)
			return string(data)
		}(),
	}
}

// encodeTaskBody builds the protocol v2 body: [args, kwargs, embed].
func encodeTaskBody(task *domain.Task) ([]byte, error) {
	args := task.Args
	if args == nil {
		args = []any{}
	}
	kwargs := task.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	embed := map[string]any{
		"callbacks": nil,
		"errbacks":  nil,
		"chain":     nil,
		"chord":     nil,
	}
	return json.Marshal([]any{args, kwargs, embed})
}
