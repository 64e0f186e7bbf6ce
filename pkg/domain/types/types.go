// Package types defines the identifiers shared by the decision flow domain.
package types

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned when a subject or flow identifier is unusable.
var ErrInvalidKey = errors.New("invalid execution key")

// ExecutionKey identifies one execution: a flow running against a subject.
type ExecutionKey struct {
	SubjectID string
	FlowID    string
}

// NewExecutionKey builds a key, rejecting empty identifiers and identifiers
// containing ':' (the storage key separator).
func NewExecutionKey(subjectID, flowID string) (ExecutionKey, error) {
	key := ExecutionKey{SubjectID: subjectID, FlowID: flowID}
	if err := key.Validate(); err != nil {
		return ExecutionKey{}, err
	}
	return key, nil
}

// Validate checks both identifiers.
func (k ExecutionKey) Validate() error {
	if strings.TrimSpace(k.SubjectID) == "" {
		return errors.Join(ErrInvalidKey, errors.New("empty subject id"))
	}
	if strings.TrimSpace(k.FlowID) == "" {
		return errors.Join(ErrInvalidKey, errors.New("empty flow id"))
	}
	if strings.Contains(k.SubjectID, ":") || strings.Contains(k.FlowID, ":") {
		return errors.Join(ErrInvalidKey, errors.New("identifiers must not contain ':'"))
	}
	return nil
}

// String returns "subject:flow".
func (k ExecutionKey) String() string {
	return k.SubjectID + ":" + k.FlowID
}

// AuditEntryID is a unique identifier for an audit entry.
type AuditEntryID string

// NewAuditEntryID generates a new unique audit entry ID.
func NewAuditEntryID() AuditEntryID {
	return AuditEntryID(uuid.NewString())
}

// String returns the string representation of an AuditEntryID.
func (id AuditEntryID) String() string {
	return string(id)
}
