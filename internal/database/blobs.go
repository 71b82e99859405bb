package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"intake/internal/models"
)

// PutBlob stages binary data under key, replacing any previous content.
func (db *DB) PutBlob(ctx context.Context, blob *models.StagedBlob) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO blobs (key, file_name, content_type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		blob.Key, blob.FileName, blob.ContentType, blob.Data, blob.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to stage blob: %w", err)
	}
	return nil
}

func (db *DB) GetBlob(ctx context.Context, key string) (*models.StagedBlob, error) {
	var b models.StagedBlob
	err := db.QueryRowContext(ctx,
		`SELECT key, file_name, content_type, data, created_at FROM blobs WHERE key = ?`, key).
		Scan(&b.Key, &b.FileName, &b.ContentType, &b.Data, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return &b, nil
}

// DeleteBlob removes a staged blob; unknown keys are a no-op.
func (db *DB) DeleteBlob(ctx context.Context, key string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
