package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"intake/internal/config"
	"intake/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "intake:list:"

func listKey(collection, ownerID string) string {
	return keyPrefix + collection + ":" + ownerID
}

// RedisListCache keeps remote list reads in Redis, one key per
// (collection, owner) pair.
type RedisListCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisListCache(client *redis.Client, ttl time.Duration) *RedisListCache {
	return &RedisListCache{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisListCache) GetList(ctx context.Context, ownerID string) ([]models.Record, bool, error) {
	if r.client == nil {
		return nil, false, errors.New("redis client is nil")
	}
	keys := make([]string, len(models.ListedCollections))
	for i, c := range models.ListedCollections {
		keys[i] = listKey(c, ownerID)
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get list from redis: %w", err)
	}

	records := []models.Record{}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			// one collection expired or was invalidated
			return nil, false, nil
		}
		var part []models.Record
		if err := json.Unmarshal([]byte(s), &part); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal list: %w", err)
		}
		records = append(records, part...)
	}
	return records, true, nil
}

func (r *RedisListCache) SetList(ctx context.Context, ownerID string, records []models.Record) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	grouped := groupByCollection(records)

	pipe := r.client.TxPipeline()
	for _, c := range models.ListedCollections {
		data, err := json.Marshal(grouped[c])
		if err != nil {
			return fmt.Errorf("failed to marshal list: %w", err)
		}
		pipe.Set(ctx, listKey(c, ownerID), data, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set list in redis: %w", err)
	}
	return nil
}

// Invalidate drops every cached list of the given collections.
func (r *RedisListCache) Invalidate(ctx context.Context, collections ...string) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	for _, c := range collections {
		var keys []string
		iter := r.client.Scan(ctx, 0, keyPrefix+c+":*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan %s keys: %w", c, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete %s keys: %w", c, err)
		}
	}
	return nil
}

func groupByCollection(records []models.Record) map[string][]models.Record {
	grouped := make(map[string][]models.Record, len(models.ListedCollections))
	for _, c := range models.ListedCollections {
		grouped[c] = []models.Record{}
	}
	for _, rec := range records {
		c := models.CollectionForKind(rec.Kind)
		if c == "" {
			continue
		}
		grouped[c] = append(grouped[c], rec)
	}
	return grouped
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
