package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskType is the closed set of mutations that can be queued while offline.
type TaskType string

const (
	TaskCreateApplication      TaskType = "create_application"
	TaskUpdateDraft            TaskType = "update_draft"
	TaskDeleteDraft            TaskType = "delete_draft"
	TaskCreatePrequalification TaskType = "create_prequalification"
	TaskUploadDocument         TaskType = "upload_document"
)

// AllTaskTypes returns every task kind in declaration order.
func AllTaskTypes() []TaskType {
	return []TaskType{
		TaskCreateApplication,
		TaskUpdateDraft,
		TaskDeleteDraft,
		TaskCreatePrequalification,
		TaskUploadDocument,
	}
}

// Valid reports whether t is one of the known task kinds.
func (t TaskType) Valid() bool {
	for _, known := range AllTaskTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Collection names the remote collection a task of this type mutates.
func (t TaskType) Collection() string {
	switch t {
	case TaskCreateApplication:
		return CollectionApplications
	case TaskUpdateDraft, TaskDeleteDraft:
		return CollectionDrafts
	case TaskCreatePrequalification:
		return CollectionPrequalifications
	case TaskUploadDocument:
		return CollectionDocuments
	default:
		return ""
	}
}

// Task is a queued unit of work waiting to be replayed against the remote store.
type Task struct {
	ID            string          `json:"id"`
	Type          TaskType        `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
}

// ShouldRetry reports whether the task is still under its retry ceiling.
func (t Task) ShouldRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// DeadLetter is a task dropped after exceeding its retry ceiling or failing terminally.
type DeadLetter struct {
	Task
	FailedAt time.Time `json:"failed_at"`
}

// RecordPayload carries a full record for create and update tasks.
type RecordPayload struct {
	Record Record `json:"record"`
}

// DeletePayload identifies the draft to delete.
type DeletePayload struct {
	CorrelationID string `json:"correlation_id"`
	OwnerID       string `json:"owner_id"`
}

// UploadPayload references a staged blob that must be uploaded.
type UploadPayload struct {
	CorrelationID string `json:"correlation_id"`
	OwnerID       string `json:"owner_id"`
	BlobKey       string `json:"blob_key"`
	FileName      string `json:"file_name"`
	ContentType   string `json:"content_type"`
	DocumentType  string `json:"document_type,omitempty"`
}

// NewTask describes a task to enqueue; the queue fills in id, counters and timestamps.
type NewTask struct {
	Type          TaskType
	CorrelationID string
	Payload       any
}

// EncodePayload marshals a payload variant for persistence.
func EncodePayload(payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

// RecordPayload decodes the payload of a record-carrying task.
func (t Task) RecordPayload() (RecordPayload, error) {
	var p RecordPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", t.Type, err)
	}
	if p.Record.CorrelationID == "" {
		return p, fmt.Errorf("decode %s payload: correlation id missing", t.Type)
	}
	return p, nil
}

// DeletePayload decodes the payload of a delete task.
func (t Task) DeletePayload() (DeletePayload, error) {
	var p DeletePayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", t.Type, err)
	}
	if p.CorrelationID == "" {
		return p, fmt.Errorf("decode %s payload: correlation id missing", t.Type)
	}
	return p, nil
}

// UploadPayload decodes the payload of an upload task.
func (t Task) UploadPayload() (UploadPayload, error) {
	var p UploadPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", t.Type, err)
	}
	if p.BlobKey == "" {
		return p, fmt.Errorf("decode %s payload: blob key missing", t.Type)
	}
	return p, nil
}

// StagedBlob is a binary payload held locally until its upload task succeeds.
type StagedBlob struct {
	Key         string    `json:"key"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}
