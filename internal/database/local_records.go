package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"intake/internal/models"
)

const localRecordColumns = `correlation_id, owner_id, kind, step, sub_step, data, status, verification_status, pending, deleted, created_at, updated_at`

func scanLocalRecord(row rowScanner) (models.LocalRecord, error) {
	var (
		r    models.LocalRecord
		data string
	)
	err := row.Scan(&r.CorrelationID, &r.OwnerID, &r.Kind, &r.Step, &r.SubStep, &data,
		&r.Status, &r.VerificationStatus, &r.Pending, &r.Deleted, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
		return r, fmt.Errorf("decode record data: %w", err)
	}
	return r, nil
}

// UpsertLocalRecord stores the device copy of a record keyed by correlation id.
func (db *DB) UpsertLocalRecord(ctx context.Context, rec *models.LocalRecord) error {
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode record data: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	query := `INSERT INTO local_records (` + localRecordColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(correlation_id) DO UPDATE SET
                owner_id = excluded.owner_id,
                kind = excluded.kind,
                step = excluded.step,
                sub_step = excluded.sub_step,
                data = excluded.data,
                status = excluded.status,
                verification_status = excluded.verification_status,
                pending = excluded.pending,
                deleted = excluded.deleted,
                updated_at = excluded.updated_at`
	_, err = db.ExecContext(ctx, query,
		rec.CorrelationID, rec.OwnerID, rec.Kind, rec.Step, rec.SubStep, string(data),
		rec.Status, rec.VerificationStatus, rec.Pending, rec.Deleted, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert local record: %w", err)
	}
	return nil
}

func (db *DB) GetLocalRecord(ctx context.Context, correlationID string) (*models.LocalRecord, error) {
	r, err := scanLocalRecord(db.QueryRowContext(ctx,
		`SELECT `+localRecordColumns+` FROM local_records WHERE correlation_id = ?`, correlationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get local record: %w", err)
	}
	return &r, nil
}

// ListLocalRecords returns every local record of an owner, tombstones included.
func (db *DB) ListLocalRecords(ctx context.Context, ownerID string) ([]models.LocalRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+localRecordColumns+` FROM local_records WHERE owner_id = ? ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list local records: %w", err)
	}
	defer rows.Close()

	records := []models.LocalRecord{}
	for rows.Next() {
		r, err := scanLocalRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan local record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (db *DB) DeleteLocalRecord(ctx context.Context, correlationID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM local_records WHERE correlation_id = ?`, correlationID); err != nil {
		return fmt.Errorf("failed to delete local record: %w", err)
	}
	return nil
}

// MarkLocalRecordSynced clears the pending flag unless the record was edited
// after asOf. It reports whether the flag was cleared.
func (db *DB) MarkLocalRecordSynced(ctx context.Context, correlationID string, asOf time.Time) (bool, error) {
	var synced bool
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var updatedAt time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT updated_at FROM local_records WHERE correlation_id = ?`, correlationID).Scan(&updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read local record: %w", err)
		}
		if updatedAt.After(asOf) {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE local_records SET pending = 0 WHERE correlation_id = ?`, correlationID); err != nil {
			return fmt.Errorf("failed to mark local record synced: %w", err)
		}
		synced = true
		return nil
	})
	return synced, err
}

// SetLocalVerification mirrors a verification outcome onto the local copy.
func (db *DB) SetLocalVerification(ctx context.Context, correlationID, status string) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE local_records SET verification_status = ? WHERE correlation_id = ?`, status, correlationID); err != nil {
		return fmt.Errorf("failed to update local verification: %w", err)
	}
	return nil
}

// DeleteLocalTombstone removes the local copy only if it is still marked
// deleted, leaving records recreated in the meantime untouched.
func (db *DB) DeleteLocalTombstone(ctx context.Context, correlationID string) error {
	if _, err := db.ExecContext(ctx,
		`DELETE FROM local_records WHERE correlation_id = ? AND deleted = 1`, correlationID); err != nil {
		return fmt.Errorf("failed to delete local tombstone: %w", err)
	}
	return nil
}
