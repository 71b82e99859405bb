package models

const (
	CollectionApplications      = "applications"
	CollectionDrafts            = "drafts"
	CollectionPrequalifications = "prequalifications"
	CollectionDocuments         = "documents"
)

const (
	KindApplication      = "application"
	KindDraft            = "draft"
	KindPrequalification = "prequalification"
)

const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
)

const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationRejected = "rejected"
	VerificationError    = "verification_error"
)

const (
	// DefaultMaxRetries attempts before a task is dropped from the queue.
	DefaultMaxRetries = 3

	// CorrelationPrefix precedes the numeric part of every correlation id.
	CorrelationPrefix = "SCO_"

	// FieldCorrelationID is the form field that carries the correlation id.
	FieldCorrelationID = "correlationId"
)

// ListedCollections are the record collections shown in the list view.
var ListedCollections = []string{CollectionApplications, CollectionDrafts, CollectionPrequalifications}

// CollectionForKind maps a record kind to the collection it lives in.
func CollectionForKind(kind string) string {
	switch kind {
	case KindApplication:
		return CollectionApplications
	case KindDraft:
		return CollectionDrafts
	case KindPrequalification:
		return CollectionPrequalifications
	default:
		return ""
	}
}
