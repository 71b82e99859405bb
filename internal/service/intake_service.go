package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intake/internal/database"
	"intake/internal/domain"
	"intake/internal/google"
	"intake/internal/logging"
	"intake/internal/models"
	"intake/internal/remote"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNoActor means no agent is signed in; nothing is queued.
	ErrNoActor = errors.New("no authenticated actor")
	// ErrInvalidCorrelationID rejects ids that are not SCO_<digits>.
	ErrInvalidCorrelationID = errors.New("invalid correlation id")
	ErrEmptyDocument        = errors.New("document is empty")
)

// TaskQueue is the offline queue as seen by the intake flows.
type TaskQueue interface {
	Enqueue(ctx context.Context, nt models.NewTask) (models.Task, error)
	GetQueue(ctx context.Context) ([]models.Task, error)
}

// LocalStore is the device-side record and blob storage.
type LocalStore interface {
	UpsertLocalRecord(ctx context.Context, rec *models.LocalRecord) error
	GetLocalRecord(ctx context.Context, correlationID string) (*models.LocalRecord, error)
	ListLocalRecords(ctx context.Context, ownerID string) ([]models.LocalRecord, error)
	DeleteLocalRecord(ctx context.Context, correlationID string) error
	PutBlob(ctx context.Context, blob *models.StagedBlob) error
}

type Connectivity interface {
	Online() bool
}

type DocumentUploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
}

type Verifier interface {
	Dispatch(ctx context.Context, rec models.Record)
}

type Deps struct {
	Remote   remote.Store
	Queue    TaskQueue
	Local    LocalStore
	Session  domain.ActorProvider
	Network  Connectivity
	Uploader DocumentUploader
	Verifier Verifier
	Cache    domain.ListCache
	Logger   *zerolog.Logger
}

// Result tells the caller whether a write reached the remote store or was
// queued for replay.
type Result struct {
	Record models.Record `json:"record"`
	Queued bool          `json:"queued"`
	TaskID string        `json:"task_id,omitempty"`
}

// IntakeService is the entry point for every intake write. Online writes go
// straight to the remote store; offline writes, and online writes that fail
// transiently, are queued for the replayer.
type IntakeService struct {
	deps   Deps
	logger *zerolog.Logger
	now    func() time.Time
}

func NewIntakeService(deps Deps) *IntakeService {
	return &IntakeService{
		deps:   deps,
		logger: logging.Component(deps.Logger, "intake"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *IntakeService) actor() (string, error) {
	if s.deps.Session == nil {
		return "", ErrNoActor
	}
	id, ok := s.deps.Session.Actor()
	if !ok || id == "" {
		return "", ErrNoActor
	}
	return id, nil
}

func (s *IntakeService) online() bool {
	if s.deps.Remote == nil {
		return false
	}
	return s.deps.Network == nil || s.deps.Network.Online()
}

// correlationID returns the id carried by form, generating one when absent.
func correlationID(form models.FormData) (string, error) {
	cid := form.CorrelationID()
	if cid == "" {
		return models.NewCorrelationID()
	}
	if !models.ValidCorrelationID(cid) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCorrelationID, cid)
	}
	return cid, nil
}

// SaveDraft stores the current state of an intake form. With incremental
// set, changed is merged field by field onto the last known full record;
// when none exists the changed fields become the record. A nil changed
// falls back to form.
func (s *IntakeService) SaveDraft(ctx context.Context, form models.FormData, step, subStep int, incremental bool, changed models.FormData) (Result, error) {
	actor, err := s.actor()
	if err != nil {
		return Result{}, err
	}
	cid, err := correlationID(form)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	rec := models.Record{
		CorrelationID: cid,
		OwnerID:       actor,
		Kind:          models.KindDraft,
		Step:          step,
		SubStep:       subStep,
		Status:        models.StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if incremental {
		if changed == nil {
			changed = form
		}
		base := s.lastKnown(ctx, cid)
		if base != nil {
			rec.Data = models.CloneData(base.Data)
			if !base.CreatedAt.IsZero() {
				rec.CreatedAt = base.CreatedAt
			}
		} else {
			rec.Data = map[string]any{}
		}
		for k, v := range changed {
			rec.Data[k] = v
		}
	} else {
		rec.Data = models.CloneData(form)
	}
	rec.Data[models.FieldCorrelationID] = cid

	return s.commit(ctx, models.TaskUpdateDraft, rec, func(ctx context.Context) error {
		return s.deps.Remote.UpsertDraft(ctx, rec)
	})
}

// lastKnown returns the most recent full copy of a draft. A local copy with
// unreplayed edits is newer than anything remote; otherwise the remote copy
// wins when reachable.
func (s *IntakeService) lastKnown(ctx context.Context, cid string) *models.Record {
	var local *models.Record
	if s.deps.Local != nil {
		lr, err := s.deps.Local.GetLocalRecord(ctx, cid)
		switch {
		case err == nil && !lr.Deleted:
			if lr.Pending {
				return &lr.Record
			}
			local = &lr.Record
		case err != nil && !errors.Is(err, database.ErrRecordNotFound):
			s.logger.Warn().Err(err).Str("correlation_id", cid).Msg("read local draft")
		}
	}

	if s.online() {
		rec, err := s.deps.Remote.GetDraft(ctx, cid)
		if err == nil {
			return rec
		}
		if !errors.Is(err, remote.ErrNotFound) {
			s.logger.Warn().Err(err).Str("correlation_id", cid).Msg("read remote draft, using local copy")
		}
	}
	return local
}

// CreateApplication submits a completed intake form. Verification starts
// in the background once the remote insert succeeds.
func (s *IntakeService) CreateApplication(ctx context.Context, form models.FormData, step, subStep int) (Result, error) {
	rec, err := s.newRecord(form, models.KindApplication, models.StatusSubmitted, step, subStep)
	if err != nil {
		return Result{}, err
	}
	rec.VerificationStatus = models.VerificationPending

	res, err := s.commit(ctx, models.TaskCreateApplication, rec, func(ctx context.Context) error {
		return s.deps.Remote.InsertApplication(ctx, rec)
	})
	if err == nil && !res.Queued && s.deps.Verifier != nil {
		s.deps.Verifier.Dispatch(ctx, rec)
	}
	return res, err
}

func (s *IntakeService) CreatePrequalification(ctx context.Context, form models.FormData) (Result, error) {
	rec, err := s.newRecord(form, models.KindPrequalification, models.StatusSubmitted, 0, 0)
	if err != nil {
		return Result{}, err
	}
	return s.commit(ctx, models.TaskCreatePrequalification, rec, func(ctx context.Context) error {
		return s.deps.Remote.InsertPrequalification(ctx, rec)
	})
}

func (s *IntakeService) newRecord(form models.FormData, kind, status string, step, subStep int) (models.Record, error) {
	actor, err := s.actor()
	if err != nil {
		return models.Record{}, err
	}
	cid, err := correlationID(form)
	if err != nil {
		return models.Record{}, err
	}
	now := s.now()
	data := models.CloneData(form)
	data[models.FieldCorrelationID] = cid
	return models.Record{
		CorrelationID: cid,
		OwnerID:       actor,
		Kind:          kind,
		Step:          step,
		SubStep:       subStep,
		Data:          data,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// DeleteDraft removes a draft. Offline, a local tombstone hides it from the
// list until the delete is replayed.
func (s *IntakeService) DeleteDraft(ctx context.Context, cid string) (Result, error) {
	actor, err := s.actor()
	if err != nil {
		return Result{}, err
	}
	if !models.ValidCorrelationID(cid) {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidCorrelationID, cid)
	}
	rec := models.Record{CorrelationID: cid, OwnerID: actor, Kind: models.KindDraft, Status: models.StatusDraft, UpdatedAt: s.now()}

	if s.online() && !s.hasQueued(ctx, cid) {
		err := s.deps.Remote.DeleteDraft(ctx, cid, actor)
		if err == nil {
			if s.deps.Local != nil {
				if err := s.deps.Local.DeleteLocalRecord(ctx, cid); err != nil {
					s.logger.Warn().Err(err).Str("correlation_id", cid).Msg("drop local draft")
				}
			}
			s.invalidate(ctx, models.CollectionDrafts)
			return Result{Record: rec}, nil
		}
		if remote.IsPermanent(err) {
			return Result{}, fmt.Errorf("delete draft %s: %w", cid, err)
		}
		s.logger.Warn().Err(err).Str("correlation_id", cid).Msg("remote delete failed, queueing")
	}

	if s.deps.Local != nil {
		tomb := &models.LocalRecord{Record: rec, Pending: true, Deleted: true}
		if existing, err := s.deps.Local.GetLocalRecord(ctx, cid); err == nil {
			tomb.Record = existing.Record
			tomb.UpdatedAt = rec.UpdatedAt
		}
		if err := s.deps.Local.UpsertLocalRecord(ctx, tomb); err != nil {
			return Result{}, err
		}
	}
	task, err := s.deps.Queue.Enqueue(ctx, models.NewTask{
		Type:          models.TaskDeleteDraft,
		CorrelationID: cid,
		Payload:       models.DeletePayload{CorrelationID: cid, OwnerID: actor},
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Record: rec, Queued: true, TaskID: task.ID}, nil
}

// Document is a file attached to an intake record.
type Document struct {
	CorrelationID string
	FileName      string
	ContentType   string
	DocumentType  string
	Data          []byte
}

// DocumentResult reports where an uploaded document ended up.
type DocumentResult struct {
	Document models.DocumentRef `json:"document"`
	Queued   bool               `json:"queued"`
	TaskID   string             `json:"task_id,omitempty"`
}

// UploadDocument uploads a document, or stages it locally for the replayer
// when the upload cannot happen now.
func (s *IntakeService) UploadDocument(ctx context.Context, doc Document) (DocumentResult, error) {
	actor, err := s.actor()
	if err != nil {
		return DocumentResult{}, err
	}
	if !models.ValidCorrelationID(doc.CorrelationID) {
		return DocumentResult{}, fmt.Errorf("%w: %q", ErrInvalidCorrelationID, doc.CorrelationID)
	}
	if len(doc.Data) == 0 {
		return DocumentResult{}, ErrEmptyDocument
	}

	ref := models.DocumentRef{
		CorrelationID: doc.CorrelationID,
		OwnerID:       actor,
		FileName:      doc.FileName,
		ContentType:   doc.ContentType,
		DocumentType:  doc.DocumentType,
	}

	if s.online() && s.deps.Uploader != nil && !s.hasQueued(ctx, doc.CorrelationID) {
		err := s.uploadNow(ctx, &ref, doc.Data)
		if err == nil {
			return DocumentResult{Document: ref}, nil
		}
		if remote.IsPermanent(err) || google.IsPermanent(err) {
			return DocumentResult{}, fmt.Errorf("upload %s: %w", doc.FileName, err)
		}
		s.logger.Warn().Err(err).Str("correlation_id", doc.CorrelationID).Msg("upload failed, staging document")
	}

	blob := &models.StagedBlob{
		Key:         uuid.NewString(),
		FileName:    doc.FileName,
		ContentType: doc.ContentType,
		Data:        doc.Data,
		CreatedAt:   s.now(),
	}
	if err := s.deps.Local.PutBlob(ctx, blob); err != nil {
		return DocumentResult{}, err
	}
	task, err := s.deps.Queue.Enqueue(ctx, models.NewTask{
		Type:          models.TaskUploadDocument,
		CorrelationID: doc.CorrelationID,
		Payload: models.UploadPayload{
			CorrelationID: doc.CorrelationID,
			OwnerID:       actor,
			BlobKey:       blob.Key,
			FileName:      doc.FileName,
			ContentType:   doc.ContentType,
			DocumentType:  doc.DocumentType,
		},
	})
	if err != nil {
		return DocumentResult{}, err
	}
	return DocumentResult{Document: ref, Queued: true, TaskID: task.ID}, nil
}

func (s *IntakeService) uploadNow(ctx context.Context, ref *models.DocumentRef, data []byte) error {
	fileID, err := s.deps.Uploader.Upload(ctx, ref.CorrelationID+"_"+ref.FileName, ref.ContentType, data)
	if err != nil {
		return err
	}
	ref.FileID = fileID
	ref.UploadedAt = s.now()
	return s.deps.Remote.RecordDocument(ctx, *ref)
}

// commit applies a record write online, or queues it. Writes for an entity
// that already has queued tasks are always queued so replay order holds.
func (s *IntakeService) commit(ctx context.Context, typ models.TaskType, rec models.Record, call func(context.Context) error) (Result, error) {
	log := s.logger.With().Str("type", string(typ)).Str("correlation_id", rec.CorrelationID).Logger()

	if s.online() && !s.hasQueued(ctx, rec.CorrelationID) {
		err := call(ctx)
		if err == nil {
			s.storeLocal(ctx, rec, false)
			s.invalidate(ctx, typ.Collection())
			log.Debug().Msg("written to remote store")
			return Result{Record: rec}, nil
		}
		if remote.IsPermanent(err) {
			return Result{}, fmt.Errorf("%s %s: %w", typ, rec.CorrelationID, err)
		}
		log.Warn().Err(err).Msg("remote write failed, queueing")
	}

	if err := s.storeLocal(ctx, rec, true); err != nil {
		return Result{}, err
	}
	task, err := s.deps.Queue.Enqueue(ctx, models.NewTask{
		Type:          typ,
		CorrelationID: rec.CorrelationID,
		Payload:       models.RecordPayload{Record: rec},
	})
	if err != nil {
		return Result{}, err
	}
	log.Info().Str("task_id", task.ID).Msg("queued for replay")
	return Result{Record: rec, Queued: true, TaskID: task.ID}, nil
}

func (s *IntakeService) storeLocal(ctx context.Context, rec models.Record, pending bool) error {
	if s.deps.Local == nil {
		return nil
	}
	err := s.deps.Local.UpsertLocalRecord(ctx, &models.LocalRecord{Record: rec, Pending: pending})
	if err != nil && !pending {
		// the remote copy is authoritative once written
		s.logger.Warn().Err(err).Str("correlation_id", rec.CorrelationID).Msg("store local copy")
		return nil
	}
	return err
}

func (s *IntakeService) hasQueued(ctx context.Context, cid string) bool {
	tasks, err := s.deps.Queue.GetQueue(ctx)
	if err != nil {
		// unknown queue state: keep ordering by queueing
		s.logger.Warn().Err(err).Msg("read queue")
		return true
	}
	for _, t := range tasks {
		if t.CorrelationID == cid {
			return true
		}
	}
	return false
}

func (s *IntakeService) invalidate(ctx context.Context, collections ...string) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Invalidate(ctx, collections...); err != nil {
		s.logger.Warn().Err(err).Strs("collections", collections).Msg("cache invalidation failed")
	}
}
