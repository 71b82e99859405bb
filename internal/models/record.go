package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"
)

// Record is a business entity (application, draft or pre-qualification) keyed
// by a client-generated correlation id.
type Record struct {
	CorrelationID       string         `json:"correlation_id"`
	OwnerID             string         `json:"owner_id"`
	Kind                string         `json:"kind"`
	Step                int            `json:"step"`
	SubStep             int            `json:"sub_step"`
	Data                map[string]any `json:"data"`
	Status              string         `json:"status"`
	VerificationStatus  string         `json:"verification_status,omitempty"`
	VerificationMessage string         `json:"verification_message,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// LocalRecord is the device-side copy of a record.
type LocalRecord struct {
	Record
	// Pending is set while the latest local edit has not reached the remote store.
	Pending bool `json:"pending"`
	// Deleted marks a tombstone for a delete that has not been replayed yet.
	Deleted bool `json:"deleted"`
}

var correlationPattern = regexp.MustCompile(`^SCO_[0-9]{6,}$`)

// ValidCorrelationID reports whether id has the SCO_<digits> shape.
func ValidCorrelationID(id string) bool {
	return correlationPattern.MatchString(id)
}

// NewCorrelationID generates a client-side correlation id such as SCO_482913.
func NewCorrelationID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate correlation id: %w", err)
	}
	return fmt.Sprintf("%s%06d", CorrelationPrefix, n.Int64()+100000), nil
}

// CloneData returns a shallow copy of a record data map.
func CloneData(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// DocumentRef links an uploaded document to the record it belongs to.
type DocumentRef struct {
	CorrelationID string    `json:"correlation_id"`
	OwnerID       string    `json:"owner_id"`
	FileName      string    `json:"file_name"`
	FileID        string    `json:"file_id"`
	ContentType   string    `json:"content_type"`
	DocumentType  string    `json:"document_type,omitempty"`
	UploadedAt    time.Time `json:"uploaded_at"`
}
