package repository

import (
	"context"
	"sync"
	"time"

	"intake/internal/models"
)

type memoryEntry struct {
	records   []models.Record
	expiresAt time.Time
}

// MemoryListCache is the in-process fallback used when Redis is down or
// not configured.
type MemoryListCache struct {
	mu      sync.Mutex
	entries map[string]map[string]memoryEntry // collection -> owner -> entry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryListCache(ttl time.Duration) *MemoryListCache {
	return &MemoryListCache{
		entries: make(map[string]map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *MemoryListCache) GetList(ctx context.Context, ownerID string) ([]models.Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	records := []models.Record{}
	for _, c := range models.ListedCollections {
		entry, ok := r.entries[c][ownerID]
		if !ok {
			return nil, false, nil
		}
		if r.ttl > 0 && now.After(entry.expiresAt) {
			delete(r.entries[c], ownerID)
			return nil, false, nil
		}
		records = append(records, entry.records...)
	}
	return records, true, nil
}

func (r *MemoryListCache) SetList(ctx context.Context, ownerID string, records []models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt := r.now().Add(r.ttl)
	for c, part := range groupByCollection(records) {
		if r.entries[c] == nil {
			r.entries[c] = make(map[string]memoryEntry)
		}
		copied := make([]models.Record, len(part))
		copy(copied, part)
		r.entries[c][ownerID] = memoryEntry{records: copied, expiresAt: expiresAt}
	}
	return nil
}

func (r *MemoryListCache) Invalidate(ctx context.Context, collections ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range collections {
		delete(r.entries, c)
	}
	return nil
}
