// Package remotetest provides an in-memory remote.Store with failure
// injection for tests.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"intake/internal/models"
	"intake/internal/remote"
)

const (
	OpInsertApplication      = "InsertApplication"
	OpUpsertDraft            = "UpsertDraft"
	OpDeleteDraft            = "DeleteDraft"
	OpInsertPrequalification = "InsertPrequalification"
	OpRecordDocument         = "RecordDocument"
	OpGetDraft               = "GetDraft"
	OpListByOwner            = "ListByOwner"
	OpUpdateVerification     = "UpdateVerification"
)

type failure struct {
	remaining int
	err       error
}

// Store is a goroutine-safe in-memory remote.Store.
type Store struct {
	mu                sync.Mutex
	applications      map[string]models.Record
	drafts            map[string]models.Record
	prequalifications map[string]models.Record
	documents         map[string]models.DocumentRef
	failures          map[string]*failure
	calls             map[string]int
}

var _ remote.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		applications:      make(map[string]models.Record),
		drafts:            make(map[string]models.Record),
		prequalifications: make(map[string]models.Record),
		documents:         make(map[string]models.DocumentRef),
		failures:          make(map[string]*failure),
		calls:             make(map[string]int),
	}
}

// FailNext makes the next n calls of op return err. n < 0 fails forever.
func (s *Store) FailNext(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = &failure{remaining: n, err: err}
}

// Calls reports how many times op was invoked, failed calls included.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Application returns the stored application for cid.
func (s *Store) Application(cid string) (models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.applications[cid]
	return rec, ok
}

// Draft returns the stored draft for cid.
func (s *Store) Draft(cid string) (models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.drafts[cid]
	return rec, ok
}

// Documents returns every recorded document reference.
func (s *Store) Documents() []models.DocumentRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DocumentRef, 0, len(s.documents))
	for _, d := range s.documents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out
}

// Count returns the number of stored records across all collections.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applications) + len(s.drafts) + len(s.prequalifications)
}

// enter records a call and returns the injected failure, if any. Caller holds mu.
func (s *Store) enter(ctx context.Context, op string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	f, ok := s.failures[op]
	if !ok || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

func clone(rec models.Record) models.Record {
	rec.Data = models.CloneData(rec.Data)
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	return rec
}

func insertOnce(m map[string]models.Record, kind string, rec models.Record) error {
	if existing, ok := m[rec.CorrelationID]; ok {
		if existing.OwnerID != rec.OwnerID {
			return fmt.Errorf("%w: %s belongs to another owner", remote.ErrPermission, rec.CorrelationID)
		}
		return nil
	}
	rec = clone(rec)
	rec.Kind = kind
	m[rec.CorrelationID] = rec
	return nil
}

func (s *Store) InsertApplication(ctx context.Context, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpInsertApplication); err != nil {
		return err
	}
	if err := insertOnce(s.applications, models.KindApplication, rec); err != nil {
		return err
	}
	if d, ok := s.drafts[rec.CorrelationID]; ok && d.OwnerID == rec.OwnerID {
		delete(s.drafts, rec.CorrelationID)
	}
	return nil
}

func (s *Store) InsertPrequalification(ctx context.Context, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpInsertPrequalification); err != nil {
		return err
	}
	return insertOnce(s.prequalifications, models.KindPrequalification, rec)
}

func (s *Store) UpsertDraft(ctx context.Context, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpUpsertDraft); err != nil {
		return err
	}
	existing, ok := s.drafts[rec.CorrelationID]
	if ok && existing.OwnerID != rec.OwnerID {
		return fmt.Errorf("%w: %s belongs to another owner", remote.ErrPermission, rec.CorrelationID)
	}
	rec = clone(rec)
	rec.Kind = models.KindDraft
	if ok {
		rec.CreatedAt = existing.CreatedAt
	}
	s.drafts[rec.CorrelationID] = rec
	return nil
}

func (s *Store) DeleteDraft(ctx context.Context, correlationID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpDeleteDraft); err != nil {
		return err
	}
	existing, ok := s.drafts[correlationID]
	if !ok {
		return nil
	}
	if existing.OwnerID != ownerID {
		return fmt.Errorf("%w: %s belongs to another owner", remote.ErrPermission, correlationID)
	}
	delete(s.drafts, correlationID)
	return nil
}

func (s *Store) RecordDocument(ctx context.Context, doc models.DocumentRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpRecordDocument); err != nil {
		return err
	}
	s.documents[doc.CorrelationID+"/"+doc.FileName] = doc
	return nil
}

func (s *Store) GetDraft(ctx context.Context, correlationID string) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpGetDraft); err != nil {
		return nil, err
	}
	rec, ok := s.drafts[correlationID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	rec = clone(rec)
	return &rec, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpListByOwner); err != nil {
		return nil, err
	}
	out := []models.Record{}
	for _, m := range []map[string]models.Record{s.applications, s.drafts, s.prequalifications} {
		for _, rec := range m {
			if rec.OwnerID == ownerID {
				out = append(out, clone(rec))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CorrelationID < out[j].CorrelationID })
	return out, nil
}

func (s *Store) UpdateVerification(ctx context.Context, correlationID, status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpUpdateVerification); err != nil {
		return err
	}
	rec, ok := s.applications[correlationID]
	if !ok {
		return remote.ErrNotFound
	}
	rec.VerificationStatus = status
	rec.VerificationMessage = message
	s.applications[correlationID] = rec
	return nil
}
