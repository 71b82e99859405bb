package models

import (
	"fmt"
	"time"
)

// Origin tells where the displayed copy of a list entry came from.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// ListEntry is the read-only projection shown in the applications list.
type ListEntry struct {
	CorrelationID      string         `json:"correlation_id"`
	OwnerID            string         `json:"owner_id"`
	Kind               string         `json:"kind"`
	Origin             Origin         `json:"origin"`
	Pending            bool           `json:"pending"`
	PendingOp          TaskType       `json:"pending_op,omitempty"`
	Step               int            `json:"step"`
	SubStep            int            `json:"sub_step"`
	Data               map[string]any `json:"data,omitempty"`
	Status             string         `json:"status"`
	VerificationStatus string         `json:"verification_status,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// ReplaySummary aggregates the outcome of one drain pass.
type ReplaySummary struct {
	Attempted         int           `json:"attempted"`
	Succeeded         int           `json:"succeeded"`
	PermanentFailures int           `json:"permanent_failures"`
	Retrying          int           `json:"retrying"`
	Deferred          int           `json:"deferred"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
}

// Failed counts tasks that did not succeed in this pass.
func (s ReplaySummary) Failed() int {
	return s.PermanentFailures + s.Retrying
}

// Message renders the single user-visible notification for a pass.
func (s ReplaySummary) Message() string {
	switch {
	case s.Failed() == 0:
		return fmt.Sprintf("%d synced", s.Succeeded)
	case s.Retrying > 0:
		return fmt.Sprintf("%d synced, %d failed, will retry automatically", s.Succeeded, s.Failed())
	default:
		return fmt.Sprintf("%d synced, %d failed permanently", s.Succeeded, s.PermanentFailures)
	}
}

// VerificationKind discriminates the secondary integration outcome.
type VerificationKind string

const (
	VerificationKindSuccess        VerificationKind = "success"
	VerificationKindBusinessError  VerificationKind = "business_error"
	VerificationKindTransportError VerificationKind = "transport_error"
)

// VerificationResult is the outcome of a secondary integration call.
type VerificationResult struct {
	Kind    VerificationKind `json:"kind"`
	Code    string           `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`
}

// Status maps the result onto the record's verification status field.
func (r VerificationResult) Status() string {
	switch r.Kind {
	case VerificationKindSuccess:
		return VerificationVerified
	case VerificationKindBusinessError:
		return VerificationRejected
	default:
		return VerificationError
	}
}
