// Package errors holds the error kinds shared by the engine and its stores.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel error kinds. Match with errors.Is.
var (
	// ErrStorage marks a failure of the durable store. Fatal for the call.
	ErrStorage = errors.New("storage failure")

	// ErrConcurrentModification is returned when another writer saved the
	// execution state between our load and our save.
	ErrConcurrentModification = errors.New("execution state was modified concurrently")

	// ErrNodeNotFound is returned when a submission names a node the flow
	// does not contain.
	ErrNodeNotFound = errors.New("node not found in flow")

	// ErrNotAwaitingNode is returned in strict mode when a submission names
	// a node other than the one the execution is waiting on.
	ErrNotAwaitingNode = errors.New("execution is not awaiting this node")
)

// OperationalError wraps a failure with the execution it happened in.
type OperationalError struct {
	Operation  string                 // What operation was being performed
	SubjectID  string                 // Which subject
	FlowID     string                 // Which flow
	NodeID     string                 // Which node (if applicable)
	Timestamp  time.Time              // When error occurred
	Attributes map[string]interface{} // Additional context (optional)
	Cause      error                  // Underlying error
}

// NewOperationalError creates an OperationalError wrapping cause.
//
// Returns nil if cause is nil (no error to wrap).
//
// Example:
//
//	if err != nil {
//	    return NewOperationalError("loading flow", subjectID, flowID, "", err)
//	}
func NewOperationalError(operation, subjectID, flowID, nodeID string, cause error) *OperationalError {
	if cause == nil {
		return nil
	}
	return &OperationalError{
		Operation: operation,
		SubjectID: subjectID,
		FlowID:    flowID,
		NodeID:    nodeID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// WithAttrs attaches additional context and returns e.
func (e *OperationalError) WithAttrs(attrs map[string]interface{}) *OperationalError {
	if e == nil {
		return nil
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]interface{}, len(attrs))
	}
	for k, v := range attrs {
		e.Attributes[k] = v
	}
	return e
}

// Wrap is NewOperationalError returning a plain error, so a nil cause
// yields an untyped nil.
func Wrap(operation, subjectID, flowID, nodeID string, cause error) error {
	if cause == nil {
		return nil
	}
	return NewOperationalError(operation, subjectID, flowID, nodeID, cause)
}

// Storage wraps a store failure so it matches both ErrStorage and cause.
func Storage(operation, subjectID, flowID string, cause error) error {
	if cause == nil {
		return nil
	}
	if !errors.Is(cause, ErrStorage) {
		cause = fmt.Errorf("%w: %w", ErrStorage, cause)
	}
	return NewOperationalError(operation, subjectID, flowID, "", cause)
}

// Error implements the error interface.
//
// Format: "[timestamp] operation: subject={id} flow={id} node={id}: {cause}"
// Empty identifiers are omitted.
func (e *OperationalError) Error() string {
	if e == nil {
		return "<nil OperationalError>"
	}

	var scope []string
	if e.SubjectID != "" {
		scope = append(scope, "subject="+e.SubjectID)
	}
	if e.FlowID != "" {
		scope = append(scope, "flow="+e.FlowID)
	}
	if e.NodeID != "" {
		scope = append(scope, "node="+e.NodeID)
	}

	timestamp := e.Timestamp.Format(time.RFC3339)
	if len(scope) == 0 {
		return fmt.Sprintf("[%s] %s: %v", timestamp, e.Operation, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s: %v", timestamp, e.Operation, strings.Join(scope, " "), e.Cause)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
