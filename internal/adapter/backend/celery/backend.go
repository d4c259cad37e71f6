// Package celery implements the execution backend against a Celery worker
// fleet: task messages are published over AMQP in protocol v2 and outcomes
// are read from the Redis result backend.
package celery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lessonforge/task-scheduler/internal/core/domain"
	"github.com/lessonforge/task-scheduler/internal/core/port"
)

const (
	defaultQueue    = "celery"
	controlExchange = "celery.pidbox"
)

type Backend struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	results redis.UniversalClient
	queue   string
	poll    time.Duration
	log     *zap.Logger
}

// New connects to the broker, retrying with incremental backoff, and
// declares the task queue. results is the Redis client the Celery workers
// write their task metadata to.
func New(url string, results redis.UniversalClient, log *zap.Logger) (*Backend, error) {
	var conn *amqp.Connection
	var err error

	maxRetries := 10
	for i := 1; i <= maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			ch, chErr := conn.Channel()
			if chErr == nil {
				b := &Backend{
					conn:    conn,
					ch:      ch,
					results: results,
					queue:   defaultQueue,
					poll:    200 * time.Millisecond,
					log:     log,
				}
				if err := b.declare(); err != nil {
					conn.Close()
					return nil, err
				}
				return b, nil
			}
			err = chErr
			conn.Close()
		}

		log.Warn("Failed to connect to broker, retrying...",
			zap.Int("attempt", i),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))
		time.Sleep(time.Duration(i*2) * time.Second)
	}

	return nil, fmt.Errorf("failed to connect to broker after %d attempts: %w", maxRetries, err)
}

func (b *Backend) declare() error {
	if _, err := b.ch.QueueDeclare(
		b.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	); err != nil {
		return err
	}
	return b.ch.ExchangeDeclare(
		controlExchange, // name
		"fanout",        // kind
		false,           // durable
		false,           // auto-delete
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	)
}

// Submit publishes the task message and returns a handle polling the result
// backend for the outcome.
func (b *Backend) Submit(ctx context.Context, task *domain.Task) (port.AsyncResult, error) {
	body, err := encodeTaskBody(task)
	if err != nil {
		return nil, err
	}

	err = b.ch.PublishWithContext(ctx,
		"",      // default exchange
		b.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			Headers:       taskHeaders(task),
			ContentType:   "application/json",
			Body:          body,
			CorrelationId: task.ID,
			DeliveryMode:  amqp.Persistent,
			Priority:      uint8(task.Priority),
		})
	if err != nil {
		b.log.Error("Failed to publish task", zap.String("task_id", task.ID), zap.Error(err))
		return nil, err
	}

	b.log.Debug("Published task to broker",
		zap.String("task_id", task.ID),
		zap.String("name", task.Name))

	return &asyncResult{
		client: b.results,
		taskID: task.ID,
		poll:   b.poll,
	}, nil
}

// Revoke broadcasts a revoke control message to the worker fleet. Delivery
// is best-effort: a worker already finishing the task may complete anyway.
func (b *Backend) Revoke(ctx context.Context, taskID string, terminate bool) error {
	msg := map[string]any{
		"method": "revoke",
		"arguments": map[string]any{
			"task_id":   taskID,
			"terminate": terminate,
			"signal":    "SIGTERM",
		},
		"destination": nil,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return b.ch.PublishWithContext(ctx,
		controlExchange,
		"", // fanout ignores the routing key
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
}

func (b *Backend) Close() error {
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}
