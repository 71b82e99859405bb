package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"intake/internal/models"
)

const taskColumns = `id, task_type, correlation_id, payload, retry_count, max_retries, last_error, created_at, last_attempt_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var (
		t           models.Task
		payload     string
		lastError   sql.NullString
		lastAttempt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Type, &t.CorrelationID, &payload, &t.RetryCount, &t.MaxRetries, &lastError, &t.CreatedAt, &lastAttempt)
	if err != nil {
		return t, err
	}
	t.Payload = []byte(payload)
	if lastError.Valid {
		msg := lastError.String
		t.LastError = &msg
	}
	if lastAttempt.Valid {
		at := lastAttempt.Time
		t.LastAttemptAt = &at
	}
	return t, nil
}

// InsertTask appends a task to the end of the queue.
func (db *DB) InsertTask(ctx context.Context, task *models.Task) error {
	query := `INSERT INTO tasks (id, task_type, correlation_id, payload, retry_count, max_retries, last_error, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		task.ID,
		task.Type,
		task.CorrelationID,
		string(task.Payload),
		task.RetryCount,
		task.MaxRetries,
		task.LastError,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// ListTasks returns every pending task in insertion order.
func (db *DB) ListTasks(ctx context.Context) ([]models.Task, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) GetTask(ctx context.Context, id string) (models.Task, error) {
	t, err := scanTask(db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrTaskNotFound
	}
	if err != nil {
		return t, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// DeleteTask removes a task; unknown ids are a no-op.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (db *DB) CountTasks(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

// IncrementTaskRetry records a failed attempt. When the retry ceiling is
// reached the task is moved to dead_letters in the same transaction and
// removed is true.
func (db *DB) IncrementTaskRetry(ctx context.Context, id, lastErr string, at time.Time) (task models.Task, removed bool, err error) {
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET retry_count = retry_count + 1, last_error = ?, last_attempt_at = ? WHERE id = ?`,
			lastErr, at, id)
		if err != nil {
			return fmt.Errorf("failed to increment retry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrTaskNotFound
		}

		task, err = scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("failed to read task: %w", err)
		}
		if task.ShouldRetry() {
			return nil
		}

		removed = true
		return moveToDeadLetter(ctx, tx, task, at)
	})
	return task, removed, err
}

// MoveToDeadLetter drops a task from the queue without further attempts.
func (db *DB) MoveToDeadLetter(ctx context.Context, id, reason string, at time.Time) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		task, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read task: %w", err)
		}
		task.LastError = &reason
		return moveToDeadLetter(ctx, tx, task, at)
	})
}

func moveToDeadLetter(ctx context.Context, tx *sql.Tx, task models.Task, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO dead_letters (id, task_type, correlation_id, payload, retry_count, max_retries, last_error, created_at, failed_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Type, task.CorrelationID, string(task.Payload), task.RetryCount, task.MaxRetries, task.LastError, task.CreatedAt, at)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, task.ID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// ListDeadLetters returns permanently failed tasks, most recent first.
func (db *DB) ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, task_type, correlation_id, payload, retry_count, max_retries, last_error, created_at, failed_at
         FROM dead_letters ORDER BY failed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	letters := []models.DeadLetter{}
	for rows.Next() {
		var (
			d         models.DeadLetter
			payload   string
			lastError sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Type, &d.CorrelationID, &payload, &d.RetryCount, &d.MaxRetries, &lastError, &d.CreatedAt, &d.FailedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		d.Payload = []byte(payload)
		if lastError.Valid {
			msg := lastError.String
			d.LastError = &msg
		}
		letters = append(letters, d)
	}
	return letters, rows.Err()
}
