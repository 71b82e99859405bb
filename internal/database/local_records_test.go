package database

import (
	"context"
	"testing"
	"time"

	"intake/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRecordUpsertAndList(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	rec := &models.LocalRecord{
		Record: models.Record{
			CorrelationID: "SCO_100001",
			OwnerID:       "agent-1",
			Kind:          models.KindDraft,
			Step:          2,
			SubStep:       1,
			Data:          map[string]any{"amount": 1500.0, "name": "Ana"},
			Status:        models.StatusDraft,
			UpdatedAt:     now,
		},
		Pending: true,
	}
	require.NoError(t, db.UpsertLocalRecord(ctx, rec))

	rec.Data["amount"] = 2000.0
	rec.Step = 3
	rec.UpdatedAt = now.Add(time.Second)
	require.NoError(t, db.UpsertLocalRecord(ctx, rec))

	got, err := db.GetLocalRecord(ctx, "SCO_100001")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Step)
	assert.Equal(t, 2000.0, got.Data["amount"])
	assert.True(t, got.Pending)
	assert.False(t, got.Deleted)
	assert.WithinDuration(t, now, got.CreatedAt, time.Millisecond)

	require.NoError(t, db.UpsertLocalRecord(ctx, &models.LocalRecord{
		Record: models.Record{CorrelationID: "SCO_100002", OwnerID: "agent-2", Kind: models.KindDraft, UpdatedAt: now},
	}))

	list, err := db.ListLocalRecords(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "SCO_100001", list[0].CorrelationID)

	require.NoError(t, db.DeleteLocalRecord(ctx, "SCO_100001"))
	_, err = db.GetLocalRecord(ctx, "SCO_100001")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMarkLocalRecordSynced(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	queuedAt := time.Now()

	rec := &models.LocalRecord{
		Record:  models.Record{CorrelationID: "SCO_200001", OwnerID: "agent-1", Kind: models.KindDraft, UpdatedAt: queuedAt},
		Pending: true,
	}
	require.NoError(t, db.UpsertLocalRecord(ctx, rec))

	t.Run("edited after queueing stays pending", func(t *testing.T) {
		rec.UpdatedAt = queuedAt.Add(time.Minute)
		require.NoError(t, db.UpsertLocalRecord(ctx, rec))

		synced, err := db.MarkLocalRecordSynced(ctx, "SCO_200001", queuedAt)
		require.NoError(t, err)
		assert.False(t, synced)

		got, err := db.GetLocalRecord(ctx, "SCO_200001")
		require.NoError(t, err)
		assert.True(t, got.Pending)
	})

	t.Run("unchanged since queueing is cleared", func(t *testing.T) {
		synced, err := db.MarkLocalRecordSynced(ctx, "SCO_200001", rec.UpdatedAt)
		require.NoError(t, err)
		assert.True(t, synced)

		got, err := db.GetLocalRecord(ctx, "SCO_200001")
		require.NoError(t, err)
		assert.False(t, got.Pending)
	})

	t.Run("missing record is ignored", func(t *testing.T) {
		synced, err := db.MarkLocalRecordSynced(ctx, "SCO_999999", time.Now())
		require.NoError(t, err)
		assert.False(t, synced)
	})
}

func TestSetLocalVerification(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertLocalRecord(ctx, &models.LocalRecord{
		Record: models.Record{CorrelationID: "SCO_300001", OwnerID: "agent-1", Kind: models.KindApplication, UpdatedAt: time.Now()},
	}))
	require.NoError(t, db.SetLocalVerification(ctx, "SCO_300001", models.VerificationVerified))

	got, err := db.GetLocalRecord(ctx, "SCO_300001")
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, got.VerificationStatus)
}

func TestDeleteLocalTombstone(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	live := &models.LocalRecord{Record: models.Record{CorrelationID: "SCO_400001", OwnerID: "agent-1", Kind: models.KindDraft, UpdatedAt: time.Now()}}
	dead := &models.LocalRecord{Record: models.Record{CorrelationID: "SCO_400002", OwnerID: "agent-1", Kind: models.KindDraft, UpdatedAt: time.Now()}, Deleted: true, Pending: true}
	require.NoError(t, db.UpsertLocalRecord(ctx, live))
	require.NoError(t, db.UpsertLocalRecord(ctx, dead))

	require.NoError(t, db.DeleteLocalTombstone(ctx, "SCO_400001"))
	require.NoError(t, db.DeleteLocalTombstone(ctx, "SCO_400002"))

	_, err := db.GetLocalRecord(ctx, "SCO_400001")
	assert.NoError(t, err)
	_, err = db.GetLocalRecord(ctx, "SCO_400002")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
