package database

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"intake/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(id string, maxRetries int) *models.Task {
	return &models.Task{
		ID:            id,
		Type:          models.TaskUpdateDraft,
		CorrelationID: "SCO_100001",
		Payload:       json.RawMessage(`{"record":{"correlation_id":"SCO_100001"}}`),
		MaxRetries:    maxRetries,
		CreatedAt:     time.Now(),
	}
}

func TestTaskInsertListDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, db.InsertTask(ctx, newTestTask(fmt.Sprintf("task-%d", i), 3)))
	}

	tasks, err := db.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, fmt.Sprintf("task-%d", i), task.ID)
		assert.Equal(t, models.TaskUpdateDraft, task.Type)
		assert.Equal(t, 0, task.RetryCount)
		assert.Nil(t, task.LastError)
		assert.JSONEq(t, `{"record":{"correlation_id":"SCO_100001"}}`, string(task.Payload))
	}

	require.NoError(t, db.DeleteTask(ctx, "task-1"))
	// Removing an unknown id is a no-op.
	require.NoError(t, db.DeleteTask(ctx, "task-1"))

	n, err := db.CountTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = db.GetTask(ctx, "task-1")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	got, err := db.GetTask(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, "SCO_100001", got.CorrelationID)
}

func TestIncrementTaskRetry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.InsertTask(ctx, newTestTask("flaky", 3)))

	for attempt := 1; attempt <= 2; attempt++ {
		task, removed, err := db.IncrementTaskRetry(ctx, "flaky", "connection refused", time.Now())
		require.NoError(t, err)
		assert.False(t, removed)
		assert.Equal(t, attempt, task.RetryCount)
		require.NotNil(t, task.LastError)
		assert.Equal(t, "connection refused", *task.LastError)
		require.NotNil(t, task.LastAttemptAt)
	}

	task, removed, err := db.IncrementTaskRetry(ctx, "flaky", "still down", time.Now())
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 3, task.RetryCount)

	tasks, err := db.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	letters, err := db.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "flaky", letters[0].ID)
	assert.Equal(t, 3, letters[0].RetryCount)
	assert.Equal(t, "still down", *letters[0].LastError)

	_, _, err = db.IncrementTaskRetry(ctx, "flaky", "x", time.Now())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMoveToDeadLetter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.InsertTask(ctx, newTestTask("doomed", 3)))

	require.NoError(t, db.MoveToDeadLetter(ctx, "doomed", "permission denied", time.Now()))

	n, err := db.CountTasks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	letters, err := db.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, 0, letters[0].RetryCount)
	assert.Equal(t, "permission denied", *letters[0].LastError)

	err = db.MoveToDeadLetter(ctx, "doomed", "again", time.Now())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestBlobs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	blob := &models.StagedBlob{
		Key:         "blob-1",
		FileName:    "payslip.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4"),
		CreatedAt:   time.Now(),
	}
	require.NoError(t, db.PutBlob(ctx, blob))

	got, err := db.GetBlob(ctx, "blob-1")
	require.NoError(t, err)
	assert.Equal(t, "payslip.pdf", got.FileName)
	assert.Equal(t, []byte("%PDF-1.4"), got.Data)

	require.NoError(t, db.DeleteBlob(ctx, "blob-1"))
	require.NoError(t, db.DeleteBlob(ctx, "blob-1"))

	_, err = db.GetBlob(ctx, "blob-1")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
