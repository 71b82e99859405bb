package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"intake/internal/domain"
	"intake/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverListCache serves from the primary cache and switches to the
// fallback when the primary errors, probing the primary again after
// recoveryInterval.
type FailoverListCache struct {
	primary  domain.ListCache
	fallback domain.ListCache
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverListCache(primary, fallback domain.ListCache, logger *zerolog.Logger) *FailoverListCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverListCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverListCache) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary list cache failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// usePrimary reports whether the next call should go to the primary.
func (r *FailoverListCache) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverListCache) GetList(ctx context.Context, ownerID string) ([]models.Record, bool, error) {
	if r.usePrimary() {
		records, ok, err := r.primary.GetList(ctx, ownerID)
		if err == nil {
			r.isDown.Store(false)
			return records, ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetList(ctx, ownerID)
}

func (r *FailoverListCache) SetList(ctx context.Context, ownerID string, records []models.Record) error {
	if r.usePrimary() {
		err := r.primary.SetList(ctx, ownerID, records)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetList(ctx, ownerID, records)
}

// Invalidate always clears the fallback, since it may hold entries written
// while the primary was down.
func (r *FailoverListCache) Invalidate(ctx context.Context, collections ...string) error {
	fallbackErr := r.fallback.Invalidate(ctx, collections...)
	if r.usePrimary() {
		if err := r.primary.Invalidate(ctx, collections...); err != nil {
			r.markDown(err)
		} else {
			r.isDown.Store(false)
		}
	}
	return fallbackErr
}
