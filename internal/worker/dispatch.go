package worker

import (
	"context"
	"errors"
	"fmt"

	"intake/internal/database"
	"intake/internal/models"
)

// dispatch applies one task to the remote store. The returned cleanup runs
// only after the task has been removed from the queue.
func (r *Replayer) dispatch(ctx context.Context, actor string, task models.Task) (func(), error) {
	switch task.Type {
	case models.TaskCreateApplication:
		return nil, r.createApplication(ctx, task)
	case models.TaskUpdateDraft:
		return nil, r.updateDraft(ctx, task)
	case models.TaskDeleteDraft:
		return nil, r.deleteDraft(ctx, actor, task)
	case models.TaskCreatePrequalification:
		return nil, r.createPrequalification(ctx, task)
	case models.TaskUploadDocument:
		return r.uploadDocument(ctx, actor, task)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, task.Type)
	}
}

func (r *Replayer) createApplication(ctx context.Context, task models.Task) error {
	p, err := task.RecordPayload()
	if err != nil {
		return badPayload(err)
	}
	if err := r.deps.Remote.InsertApplication(ctx, p.Record); err != nil {
		return err
	}
	r.markSynced(ctx, p.Record)
	if r.deps.Verifier != nil {
		r.deps.Verifier.Dispatch(ctx, p.Record)
	}
	return nil
}

func (r *Replayer) updateDraft(ctx context.Context, task models.Task) error {
	p, err := task.RecordPayload()
	if err != nil {
		return badPayload(err)
	}
	if err := r.deps.Remote.UpsertDraft(ctx, p.Record); err != nil {
		return err
	}
	r.markSynced(ctx, p.Record)
	return nil
}

func (r *Replayer) deleteDraft(ctx context.Context, actor string, task models.Task) error {
	p, err := task.DeletePayload()
	if err != nil {
		return badPayload(err)
	}
	owner := p.OwnerID
	if owner == "" {
		owner = actor
	}
	if err := r.deps.Remote.DeleteDraft(ctx, p.CorrelationID, owner); err != nil {
		return err
	}
	if r.deps.Local != nil {
		if err := r.deps.Local.DeleteLocalTombstone(ctx, p.CorrelationID); err != nil {
			r.logger.Warn().Err(err).Str("correlation_id", p.CorrelationID).Msg("drop local tombstone")
		}
	}
	return nil
}

func (r *Replayer) createPrequalification(ctx context.Context, task models.Task) error {
	p, err := task.RecordPayload()
	if err != nil {
		return badPayload(err)
	}
	if err := r.deps.Remote.InsertPrequalification(ctx, p.Record); err != nil {
		return err
	}
	r.markSynced(ctx, p.Record)
	return nil
}

func (r *Replayer) uploadDocument(ctx context.Context, actor string, task models.Task) (func(), error) {
	p, err := task.UploadPayload()
	if err != nil {
		return nil, badPayload(err)
	}
	if r.deps.Uploader == nil {
		return nil, ErrNoUploader
	}
	blob, err := r.deps.Blobs.GetBlob(ctx, p.BlobKey)
	if errors.Is(err, database.ErrBlobNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBlobMissing, p.BlobKey)
	}
	if err != nil {
		return nil, err
	}

	fileName := p.FileName
	if fileName == "" {
		fileName = blob.FileName
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = blob.ContentType
	}

	fileID, err := r.deps.Uploader.Upload(ctx, p.CorrelationID+"_"+fileName, contentType, blob.Data)
	if err != nil {
		return nil, err
	}

	owner := p.OwnerID
	if owner == "" {
		owner = actor
	}
	err = r.deps.Remote.RecordDocument(ctx, models.DocumentRef{
		CorrelationID: p.CorrelationID,
		OwnerID:       owner,
		FileName:      fileName,
		FileID:        fileID,
		ContentType:   contentType,
		DocumentType:  p.DocumentType,
		UploadedAt:    r.now(),
	})
	if err != nil {
		return nil, err
	}

	cleanup := func() {
		if err := r.deps.Blobs.DeleteBlob(ctx, p.BlobKey); err != nil {
			r.logger.Warn().Err(err).Str("blob_key", p.BlobKey).Msg("delete staged blob")
		}
	}
	return cleanup, nil
}

func (r *Replayer) markSynced(ctx context.Context, rec models.Record) {
	if r.deps.Local == nil {
		return
	}
	if _, err := r.deps.Local.MarkLocalRecordSynced(ctx, rec.CorrelationID, rec.UpdatedAt); err != nil {
		r.logger.Warn().Err(err).Str("correlation_id", rec.CorrelationID).Msg("mark local record synced")
	}
}
