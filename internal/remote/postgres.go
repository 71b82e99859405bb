package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"intake/internal/config"
	"intake/internal/logging"
	"intake/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	tableApplications      = "applications"
	tableDrafts            = "drafts"
	tablePrequalifications = "prequalifications"
)

var recordTables = []struct {
	table string
	kind  string
}{
	{tableApplications, models.KindApplication},
	{tableDrafts, models.KindDraft},
	{tablePrequalifications, models.KindPrequalification},
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *zerolog.Logger
	// schemaReady is set once EnsureSchema has succeeded.
	schemaReady atomic.Bool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore builds a pool for cfg. The pool connects lazily, so an
// unreachable server is not an error here: the schema is created now if
// possible and otherwise on the first call that reaches the server.
func NewPostgresStore(ctx context.Context, cfg config.RemoteConfig, logger *zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, classify("connect", err)
	}
	s := NewPostgresStoreFromPool(pool, cfg.StatementTimeout, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("remote schema not ready, will retry on first use")
	}
	return s, nil
}

func NewPostgresStoreFromPool(pool *pgxpool.Pool, timeout time.Duration, logger *zerolog.Logger) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		timeout: timeout,
		logger:  logging.Component(logger, "remote"),
	}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return classify("ping", s.pool.Ping(ctx))
}

// bound applies the per-call statement timeout.
func (s *PostgresStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var queries []string
	for _, t := range recordTables {
		queries = append(queries,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
                correlation_id TEXT PRIMARY KEY,
                owner_id TEXT NOT NULL,
                step INTEGER NOT NULL DEFAULT 0,
                sub_step INTEGER NOT NULL DEFAULT 0,
                data JSONB NOT NULL DEFAULT '{}',
                status TEXT NOT NULL DEFAULT '',
                verification_status TEXT NOT NULL DEFAULT '',
                verification_message TEXT NOT NULL DEFAULT '',
                created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
                updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
            )`, t.table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s(owner_id)`, t.table, t.table),
		)
	}
	queries = append(queries, `CREATE TABLE IF NOT EXISTS documents (
            correlation_id TEXT NOT NULL,
            file_name TEXT NOT NULL,
            owner_id TEXT NOT NULL,
            file_id TEXT NOT NULL,
            content_type TEXT NOT NULL DEFAULT '',
            document_type TEXT NOT NULL DEFAULT '',
            uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (correlation_id, file_name)
        )`)

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return classify("ensure schema", err)
		}
	}
	s.schemaReady.Store(true)
	s.logger.Debug().Msg("remote schema ready")
	return nil
}

// prepare creates the schema if an earlier attempt failed.
func (s *PostgresStore) prepare(ctx context.Context) error {
	if s.schemaReady.Load() {
		return nil
	}
	return s.EnsureSchema(ctx)
}

func recordArgs(rec models.Record) ([]any, error) {
	data := rec.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode record data: %w", err)
	}
	now := time.Now()
	created, updated := rec.CreatedAt, rec.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	if created.IsZero() {
		created = updated
	}
	return []any{rec.CorrelationID, rec.OwnerID, rec.Step, rec.SubStep, raw, rec.Status, created, updated}, nil
}

// insertOnce writes rec unless the correlation id already exists. An
// existing row owned by someone else is a permission error.
func insertOnce(ctx context.Context, tx pgx.Tx, table string, rec models.Record) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf(`
        INSERT INTO %s (correlation_id, owner_id, step, sub_step, data, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (correlation_id) DO NOTHING`, table), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var owner string
	if err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT owner_id FROM %s WHERE correlation_id = $1`, table), rec.CorrelationID).Scan(&owner); err != nil {
		return err
	}
	if owner != rec.OwnerID {
		return fmt.Errorf("%w: %s belongs to another owner", ErrPermission, rec.CorrelationID)
	}
	return nil
}

func (s *PostgresStore) InsertApplication(ctx context.Context, rec models.Record) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.prepare(ctx); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insertOnce(ctx, tx, tableApplications, rec); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM drafts WHERE correlation_id = $1 AND owner_id = $2`, rec.CorrelationID, rec.OwnerID)
		return err
	})
	return classify("insert application", err)
}

func (s *PostgresStore) InsertPrequalification(ctx context.Context, rec models.Record) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.prepare(ctx); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return insertOnce(ctx, tx, tablePrequalifications, rec)
	})
	return classify("insert prequalification", err)
}

func (s *PostgresStore) UpsertDraft(ctx context.Context, rec models.Record) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.prepare(ctx); err != nil {
		return err
	}

	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
        INSERT INTO drafts (correlation_id, owner_id, step, sub_step, data, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (correlation_id) DO UPDATE SET
            step = EXCLUDED.step,
            sub_step = EXCLUDED.sub_step,
            data = EXCLUDED.data,
            status = EXCLUDED.status,
            updated_at = EXCLUDED.updated_at
        WHERE drafts.owner_id = EXCLUDED.owner_id`, args...)
	if err != nil {
		return classify("upsert draft", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upsert draft: %w: %s belongs to another owner", ErrPermission, rec.CorrelationID)
	}
	return nil
}

func (s *PostgresStore) DeleteDraft(ctx context.Context, correlationID, ownerID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.prepare(ctx); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var owner string
		err := tx.QueryRow(ctx, `SELECT owner_id FROM drafts WHERE correlation_id = $1 FOR UPDATE`, correlationID).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if owner != ownerID {
			return fmt.Errorf("%w: %s belongs to another owner", ErrPermission, correlationID)
		}
		_, err = tx.Exec(ctx, `DELETE FROM drafts WHERE correlation_id = $1`, correlationID)
		return err
	})
	return classify("delete draft", err)
}

func (s *PostgresStore) RecordDocument(ctx context.Context, doc models.DocumentRef) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.prepare(ctx); err != nil {
		return err
	}

	uploadedAt := doc.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO documents (correlation_id, file_name, owner_id, file_id, content_type, document_type, uploaded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (correlation_id, file_name) DO UPDATE SET
            file_id = EXCLUDED.file_id,
            content_type = EXCLUDED.content_type,
            document_type = EXCLUDED.document_type`,
		doc.CorrelationID, doc.FileName, doc.OwnerID, doc.FileID, doc.ContentType, doc.DocumentType, uploadedAt)
	return classify("record document", err)
}

const recordSelect = `correlation_id, owner_id, step, sub_step, data, status, verification_status, verification_message, created_at, updated_at`

func scanRecord(row pgx.Row, kind string) (models.Record, error) {
	var (
		rec models.Record
		raw []byte
	)
	err := row.Scan(&rec.CorrelationID, &rec.OwnerID, &rec.Step, &rec.SubStep, &raw, &rec.Status,
		&rec.VerificationStatus, &rec.VerificationMessage, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return rec, err
	}
	rec.Kind = kind
	if err := json.Unmarshal(raw, &rec.Data); err != nil {
		return rec, fmt.Errorf("decode record data: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, correlationID string) (*models.Record, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.prepare(ctx); err != nil {
		return nil, err
	}

	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordSelect+` FROM drafts WHERE correlation_id = $1`, correlationID), models.KindDraft)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify("get draft", err)
	}
	return &rec, nil
}

// ListByOwner returns applications, drafts and pre-qualifications of an owner.
func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]models.Record, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.prepare(ctx); err != nil {
		return nil, err
	}

	records := []models.Record{}
	for _, t := range recordTables {
		rows, err := s.pool.Query(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = $1`, recordSelect, t.table), ownerID)
		if err != nil {
			return nil, classify("list "+t.table, err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows, t.kind)
			if err != nil {
				rows.Close()
				return nil, classify("scan "+t.table, err)
			}
			records = append(records, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, classify("list "+t.table, err)
		}
	}
	return records, nil
}

func (s *PostgresStore) UpdateVerification(ctx context.Context, correlationID, status, message string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.prepare(ctx); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
        UPDATE applications SET verification_status = $2, verification_message = $3, updated_at = now()
        WHERE correlation_id = $1`, correlationID, status, message)
	if err != nil {
		return classify("update verification", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
