package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intake/internal/database"
	"intake/internal/events"
	"intake/internal/logging"
	"intake/internal/metrics"
	"intake/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrTaskNotFound   = database.ErrTaskNotFound
	ErrInvalidType    = errors.New("invalid task type")
	ErrMissingPayload = errors.New("task payload is required")
)

// Store is the persistence the queue needs; *database.DB satisfies it.
type Store interface {
	InsertTask(ctx context.Context, task *models.Task) error
	ListTasks(ctx context.Context) ([]models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	CountTasks(ctx context.Context) (int, error)
	IncrementTaskRetry(ctx context.Context, id, lastErr string, at time.Time) (models.Task, bool, error)
	MoveToDeadLetter(ctx context.Context, id, reason string, at time.Time) error
	ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error)
}

// Queue is the durable offline task queue.
type Queue struct {
	store  Store
	policy RetryPolicy
	bus    *events.EventBus
	logger *zerolog.Logger
	now    func() time.Time
}

func New(store Store, policy RetryPolicy, bus *events.EventBus, logger *zerolog.Logger) *Queue {
	return &Queue{
		store:  store,
		policy: policy.withDefaults(),
		bus:    bus,
		logger: logging.Component(logger, "queue"),
		now:    time.Now,
	}
}

// Policy returns the effective retry policy.
func (q *Queue) Policy() RetryPolicy {
	return q.policy
}

// Enqueue appends a new task with a fresh id and a zero retry count.
func (q *Queue) Enqueue(ctx context.Context, nt models.NewTask) (models.Task, error) {
	if !nt.Type.Valid() {
		return models.Task{}, fmt.Errorf("%w: %q", ErrInvalidType, nt.Type)
	}
	if nt.Payload == nil {
		return models.Task{}, ErrMissingPayload
	}
	payload, err := models.EncodePayload(nt.Payload)
	if err != nil {
		return models.Task{}, err
	}

	task := models.Task{
		ID:            uuid.NewString(),
		Type:          nt.Type,
		CorrelationID: nt.CorrelationID,
		Payload:       payload,
		MaxRetries:    q.policy.MaxRetries,
		CreatedAt:     q.now(),
	}
	if err := q.store.InsertTask(ctx, &task); err != nil {
		return models.Task{}, fmt.Errorf("enqueue %s: %w", nt.Type, err)
	}

	metrics.IncEnqueued(string(task.Type))
	q.refreshDepth(ctx)
	if err := q.bus.PublishJSON(events.EventTaskEnqueued, events.TaskEventPayload{
		TaskID:        task.ID,
		Type:          task.Type,
		CorrelationID: task.CorrelationID,
	}); err != nil {
		q.logger.Warn().Err(err).Msg("publish enqueue event")
	}

	q.logger.Debug().
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Str("correlation_id", task.CorrelationID).
		Msg("task enqueued")
	return task, nil
}

// GetQueue returns all pending tasks in insertion order.
func (q *Queue) GetQueue(ctx context.Context) ([]models.Task, error) {
	return q.store.ListTasks(ctx)
}

// RemoveTask deletes a task by id; unknown ids are a no-op.
func (q *Queue) RemoveTask(ctx context.Context, id string) error {
	if err := q.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	q.refreshDepth(ctx)
	return nil
}

// IncrementRetries records a failed attempt and reports whether the task
// should still be retried. At the ceiling the task leaves the queue.
func (q *Queue) IncrementRetries(ctx context.Context, id string, cause error) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	task, removed, err := q.store.IncrementTaskRetry(ctx, id, msg, q.now())
	if err != nil {
		return false, err
	}
	if removed {
		q.refreshDepth(ctx)
		q.logger.Warn().
			Str("task_id", id).
			Str("type", string(task.Type)).
			Int("retry_count", task.RetryCount).
			Msg("task exceeded retry limit, moved to dead letters")
	}
	return !removed, nil
}

// Drop removes a task immediately without further attempts.
func (q *Queue) Drop(ctx context.Context, id string, cause error) error {
	reason := "dropped"
	if cause != nil {
		reason = cause.Error()
	}
	if err := q.store.MoveToDeadLetter(ctx, id, reason, q.now()); err != nil {
		return err
	}
	q.refreshDepth(ctx)
	return nil
}

// DeadLetters lists tasks that will not be retried automatically.
func (q *Queue) DeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	return q.store.ListDeadLetters(ctx)
}

func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.store.CountTasks(ctx)
}

func (q *Queue) refreshDepth(ctx context.Context) {
	n, err := q.store.CountTasks(ctx)
	if err != nil {
		q.logger.Warn().Err(err).Msg("count tasks")
		return
	}
	metrics.SetQueueDepth(n)
}
