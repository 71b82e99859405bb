package repository

import (
	"context"
	"testing"
	"time"

	"intake/internal/config"
	"intake/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords(owner string) []models.Record {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []models.Record{
		{CorrelationID: "SCO_100001", OwnerID: owner, Kind: models.KindApplication, UpdatedAt: now},
		{CorrelationID: "SCO_100002", OwnerID: owner, Kind: models.KindDraft, Data: map[string]any{"name": "Ana"}, UpdatedAt: now},
	}
}

func TestRedisListCache(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer Close(client)
	require.NoError(t, Ping(context.Background(), client))

	cache := NewRedisListCache(client, time.Hour)
	ctx := context.Background()

	t.Run("MissBeforeSet", func(t *testing.T) {
		got, ok, err := cache.GetList(ctx, "agent-1")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, cache.SetList(ctx, "agent-1", sampleRecords("agent-1")))

		got, ok, err := cache.GetList(ctx, "agent-1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, got, 2)
		assert.Equal(t, "SCO_100001", got[0].CorrelationID)
		assert.Equal(t, "Ana", got[1].Data["name"])
		assert.True(t, s.Exists(listKey(models.CollectionPrequalifications, "agent-1")), "empty collections are cached too")
	})

	t.Run("EmptyListIsAHit", func(t *testing.T) {
		require.NoError(t, cache.SetList(ctx, "agent-2", nil))
		got, ok, err := cache.GetList(ctx, "agent-2")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, got)
	})

	t.Run("InvalidateCollection", func(t *testing.T) {
		require.NoError(t, cache.Invalidate(ctx, models.CollectionDrafts))

		_, ok, err := cache.GetList(ctx, "agent-1")
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, _ = cache.GetList(ctx, "agent-2")
		assert.False(t, ok)
		assert.True(t, s.Exists(listKey(models.CollectionApplications, "agent-1")))
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		require.NoError(t, cache.SetList(ctx, "agent-3", sampleRecords("agent-3")))
		s.FastForward(2 * time.Hour)
		_, ok, err := cache.GetList(ctx, "agent-3")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ServerDown", func(t *testing.T) {
		down := NewRedisListCache(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}), time.Hour)
		_, _, err := down.GetList(ctx, "agent-1")
		assert.Error(t, err)
	})
}

func TestRedisListCacheNilClient(t *testing.T) {
	cache := NewRedisListCache(nil, time.Minute)
	ctx := context.Background()

	_, _, err := cache.GetList(ctx, "agent-1")
	assert.Error(t, err)
	assert.Error(t, cache.SetList(ctx, "agent-1", nil))
	assert.Error(t, cache.Invalidate(ctx, models.CollectionDrafts))
}
