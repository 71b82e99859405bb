package domain

import (
	"context"

	"intake/internal/models"
)

// ListCache caches the remote records of an owner, one slot per collection.
// A miss is reported with ok=false and a nil error.
type ListCache interface {
	GetList(ctx context.Context, ownerID string) (records []models.Record, ok bool, err error)
	SetList(ctx context.Context, ownerID string, records []models.Record) error
	Invalidate(ctx context.Context, collections ...string) error
}

// ActorProvider supplies the authenticated agent of the running session.
type ActorProvider interface {
	Actor() (string, bool)
}
