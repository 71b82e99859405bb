package remote

import (
	"context"

	"intake/internal/models"
)

// Store is the server side of the intake flow. Every write is keyed by
// correlation id and safe to repeat.
type Store interface {
	// InsertApplication creates the submitted application once and removes
	// the draft it was promoted from.
	InsertApplication(ctx context.Context, rec models.Record) error
	UpsertDraft(ctx context.Context, rec models.Record) error
	// DeleteDraft succeeds when the draft is already gone.
	DeleteDraft(ctx context.Context, correlationID, ownerID string) error
	InsertPrequalification(ctx context.Context, rec models.Record) error
	RecordDocument(ctx context.Context, doc models.DocumentRef) error

	GetDraft(ctx context.Context, correlationID string) (*models.Record, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Record, error)
	UpdateVerification(ctx context.Context, correlationID, status, message string) error
}
