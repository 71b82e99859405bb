package remote

import (
	"context"
	"fmt"
	"testing"
	"time"

	"intake/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "intake",
				"POSTGRES_PASSWORD": "intake",
				"POSTGRES_DB":       "intake",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://intake:intake@%s:%s/intake?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewPostgresStoreFromPool(pool, 10*time.Second, nil)
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func TestPostgresStore(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	draft := models.Record{
		CorrelationID: "SCO_100001",
		OwnerID:       "agent-1",
		Step:          1,
		Data:          map[string]any{"amount": 1000.0},
		Status:        models.StatusDraft,
	}

	t.Run("upsert draft is idempotent", func(t *testing.T) {
		require.NoError(t, store.UpsertDraft(ctx, draft))
		draft.Step = 2
		draft.Data["amount"] = 1500.0
		require.NoError(t, store.UpsertDraft(ctx, draft))
		require.NoError(t, store.UpsertDraft(ctx, draft))

		got, err := store.GetDraft(ctx, "SCO_100001")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Step)
		assert.Equal(t, 1500.0, got.Data["amount"])
		assert.Equal(t, models.KindDraft, got.Kind)
	})

	t.Run("foreign owner is rejected", func(t *testing.T) {
		other := draft
		other.OwnerID = "agent-2"
		err := store.UpsertDraft(ctx, other)
		assert.ErrorIs(t, err, ErrPermission)
		assert.True(t, IsPermanent(err))

		err = store.DeleteDraft(ctx, "SCO_100001", "agent-2")
		assert.ErrorIs(t, err, ErrPermission)
	})

	t.Run("application replaces draft once", func(t *testing.T) {
		app := draft
		app.Status = models.StatusSubmitted
		require.NoError(t, store.InsertApplication(ctx, app))
		require.NoError(t, store.InsertApplication(ctx, app))

		records, err := store.ListByOwner(ctx, "agent-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, models.KindApplication, records[0].Kind)

		_, err = store.GetDraft(ctx, "SCO_100001")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("verification write back", func(t *testing.T) {
		require.NoError(t, store.UpdateVerification(ctx, "SCO_100001", models.VerificationRejected, "score too low"))
		records, err := store.ListByOwner(ctx, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, models.VerificationRejected, records[0].VerificationStatus)
		assert.Equal(t, "score too low", records[0].VerificationMessage)

		assert.ErrorIs(t, store.UpdateVerification(ctx, "SCO_999999", models.VerificationVerified, ""), ErrNotFound)
	})

	t.Run("delete missing draft succeeds", func(t *testing.T) {
		assert.NoError(t, store.DeleteDraft(ctx, "SCO_424242", "agent-1"))
	})

	t.Run("documents and prequalifications", func(t *testing.T) {
		doc := models.DocumentRef{CorrelationID: "SCO_100001", OwnerID: "agent-1", FileName: "id.png", FileID: "f1"}
		require.NoError(t, store.RecordDocument(ctx, doc))
		doc.FileID = "f2"
		require.NoError(t, store.RecordDocument(ctx, doc))

		pre := models.Record{CorrelationID: "SCO_200001", OwnerID: "agent-1"}
		require.NoError(t, store.InsertPrequalification(ctx, pre))
		require.NoError(t, store.InsertPrequalification(ctx, pre))

		records, err := store.ListByOwner(ctx, "agent-1")
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})
}
