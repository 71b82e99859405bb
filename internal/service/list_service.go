package service

import (
	"context"
	"sort"

	"intake/internal/logging"
	"intake/internal/models"

	"github.com/rs/zerolog"
)

// ListService builds the applications list from remote records, local
// copies and queued tasks.
type ListService struct {
	deps   Deps
	logger *zerolog.Logger
}

func NewListService(deps Deps) *ListService {
	return &ListService{
		deps:   deps,
		logger: logging.Component(deps.Logger, "list"),
	}
}

// ListEntries returns one entry per correlation id for ownerID, most
// recently updated first. An empty ownerID means the signed-in agent.
// Remote failures degrade to local data without an error.
func (s *ListService) ListEntries(ctx context.Context, ownerID string) ([]models.ListEntry, error) {
	if ownerID == "" {
		if s.deps.Session == nil {
			return nil, ErrNoActor
		}
		id, ok := s.deps.Session.Actor()
		if !ok || id == "" {
			return nil, ErrNoActor
		}
		ownerID = id
	}

	merged := make(map[string]models.ListEntry)
	for _, rec := range s.remoteRecords(ctx, ownerID) {
		if prev, ok := merged[rec.CorrelationID]; ok && prev.UpdatedAt.After(rec.UpdatedAt) {
			continue
		}
		merged[rec.CorrelationID] = entryFromRecord(rec, models.OriginRemote)
	}

	pendingOps := make(map[string]models.TaskType)
	var queued []models.Task
	if s.deps.Queue != nil {
		tasks, err := s.deps.Queue.GetQueue(ctx)
		if err != nil {
			return nil, err
		}
		queued = tasks
		for _, t := range tasks {
			pendingOps[t.CorrelationID] = t.Type
		}
	}

	hidden := make(map[string]bool)
	haveLocal := make(map[string]bool)
	if s.deps.Local != nil {
		locals, err := s.deps.Local.ListLocalRecords(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		for _, lr := range locals {
			haveLocal[lr.CorrelationID] = true
			if lr.Deleted {
				hidden[lr.CorrelationID] = true
				continue
			}
			_, onRemote := merged[lr.CorrelationID]
			if !lr.Pending && onRemote {
				// confirmed copy already shown
				continue
			}
			entry := entryFromRecord(lr.Record, models.OriginLocal)
			entry.Pending = lr.Pending
			entry.PendingOp = pendingOps[lr.CorrelationID]
			merged[lr.CorrelationID] = entry
		}
	}

	// Queued writes whose local copy is gone still show up.
	for _, t := range queued {
		if haveLocal[t.CorrelationID] {
			continue
		}
		switch t.Type {
		case models.TaskDeleteDraft:
			hidden[t.CorrelationID] = true
		case models.TaskCreateApplication, models.TaskUpdateDraft, models.TaskCreatePrequalification:
			p, err := t.RecordPayload()
			if err != nil || p.Record.OwnerID != ownerID {
				continue
			}
			entry := entryFromRecord(p.Record, models.OriginLocal)
			entry.Pending = true
			entry.PendingOp = t.Type
			merged[t.CorrelationID] = entry
		}
	}

	entries := make([]models.ListEntry, 0, len(merged))
	for cid, e := range merged {
		if hidden[cid] {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		}
		return entries[i].CorrelationID < entries[j].CorrelationID
	})
	return entries, nil
}

// remoteRecords reads through the list cache. It returns nil when the
// remote side is offline or failing.
func (s *ListService) remoteRecords(ctx context.Context, ownerID string) []models.Record {
	if s.deps.Remote == nil || (s.deps.Network != nil && !s.deps.Network.Online()) {
		return nil
	}
	log := s.logger.With().Str("owner_id", ownerID).Logger()

	if s.deps.Cache != nil {
		records, ok, err := s.deps.Cache.GetList(ctx, ownerID)
		if err != nil {
			log.Warn().Err(err).Msg("read list cache")
		} else if ok {
			return records
		}
	}

	records, err := s.deps.Remote.ListByOwner(ctx, ownerID)
	if err != nil {
		log.Warn().Err(err).Msg("remote list unavailable, showing local entries")
		return nil
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.SetList(ctx, ownerID, records); err != nil {
			log.Warn().Err(err).Msg("fill list cache")
		}
	}
	return records
}

func entryFromRecord(rec models.Record, origin models.Origin) models.ListEntry {
	return models.ListEntry{
		CorrelationID:      rec.CorrelationID,
		OwnerID:            rec.OwnerID,
		Kind:               rec.Kind,
		Origin:             origin,
		Step:               rec.Step,
		SubStep:            rec.SubStep,
		Data:               rec.Data,
		Status:             rec.Status,
		VerificationStatus: rec.VerificationStatus,
		UpdatedAt:          rec.UpdatedAt,
	}
}
