package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"intake/internal/models"
	"intake/internal/remote/remotetest"
	"intake/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *env) seedRemoteDraft(t *testing.T, cid string, updated time.Time) {
	t.Helper()
	require.NoError(t, e.remote.UpsertDraft(context.Background(), models.Record{
		CorrelationID: cid,
		OwnerID:       "agent-1",
		Data:          map[string]any{"source": "remote"},
		Status:        models.StatusDraft,
		UpdatedAt:     updated,
	}))
}

func (e *env) seedLocal(t *testing.T, cid string, updated time.Time, pending bool) {
	t.Helper()
	require.NoError(t, e.db.UpsertLocalRecord(context.Background(), &models.LocalRecord{
		Record: models.Record{
			CorrelationID: cid,
			OwnerID:       "agent-1",
			Kind:          models.KindDraft,
			Data:          map[string]any{"source": "local"},
			Status:        models.StatusDraft,
			UpdatedAt:     updated,
		},
		Pending: pending,
	}))
}

func TestListEntriesDeduplicatesPendingCopy(t *testing.T) {
	e := newEnv(t, true)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	e.seedRemoteDraft(t, "SCO_100001", base)
	e.seedLocal(t, "SCO_100001", base.Add(time.Minute), true)

	entries, err := e.list.ListEntries(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "SCO_100001", entries[0].CorrelationID)
	assert.Equal(t, models.OriginLocal, entries[0].Origin)
	assert.True(t, entries[0].Pending)
	assert.Equal(t, "local", entries[0].Data["source"])
}

func TestListEntriesPrefersConfirmedCopy(t *testing.T) {
	e := newEnv(t, true)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	e.seedRemoteDraft(t, "SCO_100001", base)
	e.seedLocal(t, "SCO_100001", base, false)

	entries, err := e.list.ListEntries(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OriginRemote, entries[0].Origin)
	assert.False(t, entries[0].Pending)
}

func TestListEntriesOfflineIsLocalOnly(t *testing.T) {
	e := newEnv(t, false)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	e.seedRemoteDraft(t, "SCO_100001", base)
	e.seedLocal(t, "SCO_100002", base, true)

	entries, err := e.list.ListEntries(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "SCO_100002", entries[0].CorrelationID)
	assert.Zero(t, e.remote.Calls(remotetest.OpListByOwner))
}

func TestListEntriesRemoteFailureDegrades(t *testing.T) {
	e := newEnv(t, true)
	e.remote.FailNext(remotetest.OpListByOwner, 1, errors.New("connection refused"))
	e.seedLocal(t, "SCO_100002", time.Now(), true)

	entries, err := e.list.ListEntries(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OriginLocal, entries[0].Origin)
}

func TestListEntriesOrdering(t *testing.T) {
	e := newEnv(t, true)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	e.seedRemoteDraft(t, "SCO_100003", base)
	e.seedRemoteDraft(t, "SCO_100001", base.Add(time.Hour))
	e.seedLocal(t, "SCO_100002", base.Add(2*time.Hour), true)
	e.seedLocal(t, "SCO_100004", base, true)

	entries, err := e.list.ListEntries(context.Background(), "agent-1")
	require.NoError(t, err)

	var ids []string
	for _, en := range entries {
		ids = append(ids, en.CorrelationID)
	}
	assert.Equal(t, []string{"SCO_100002", "SCO_100001", "SCO_100003", "SCO_100004"}, ids)
}

func TestListEntriesReconstructsFromQueue(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	_, err := e.intake.SaveDraft(ctx, models.FormData{models.FieldCorrelationID: "SCO_100001", "name": "Ana"}, 1, 0, false, nil)
	require.NoError(t, err)
	require.NoError(t, e.db.DeleteLocalRecord(ctx, "SCO_100001"))

	entries, err := e.list.ListEntries(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Pending)
	assert.Equal(t, models.TaskUpdateDraft, entries[0].PendingOp)
	assert.Equal(t, "Ana", entries[0].Data["name"])
}

func TestListEntriesUsesCache(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	e.seedRemoteDraft(t, "SCO_100001", time.Now())

	_, err := e.list.ListEntries(ctx, "agent-1")
	require.NoError(t, err)
	_, err = e.list.ListEntries(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, e.remote.Calls(remotetest.OpListByOwner))

	require.NoError(t, e.cache.Invalidate(ctx, models.CollectionDrafts))
	_, err = e.list.ListEntries(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, e.remote.Calls(remotetest.OpListByOwner))
}

func TestListEntriesWithoutOwnerOrActor(t *testing.T) {
	e := newEnv(t, true)
	e.session.End()

	_, err := e.list.ListEntries(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoActor)
}

// An application created offline survives two failed inserts and shows up
// as a confirmed remote entry after the third pass.
func TestOfflineApplicationReplayScenario(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	res, err := e.intake.CreateApplication(ctx, models.FormData{models.FieldCorrelationID: "SCO_500001", "name": "Ana"}, 5, 0)
	require.NoError(t, err)
	require.True(t, res.Queued)

	e.remote.FailNext(remotetest.OpInsertApplication, 2, errors.New("connection refused"))
	e.net.on.Store(true)

	replayer := worker.NewReplayer(worker.Deps{
		Queue:   e.queue,
		Remote:  e.remote,
		Blobs:   e.db,
		Local:   e.db,
		Cache:   e.cache,
		Session: e.session,
		Network: e.net,
	})

	for pass := 0; pass < 3; pass++ {
		_, ran := replayer.ProcessQueue(ctx)
		require.True(t, ran)
	}

	assert.Empty(t, e.tasks(t))
	assert.Equal(t, 1, replayer.Totals().Succeeded)
	assert.Equal(t, 3, e.remote.Calls(remotetest.OpInsertApplication))

	entries, err := e.list.ListEntries(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "SCO_500001", entries[0].CorrelationID)
	assert.Equal(t, models.OriginRemote, entries[0].Origin)
	assert.False(t, entries[0].Pending)
}
