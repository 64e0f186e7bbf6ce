package flow

import (
	"errors"
)

// Edge is a directed, optionally labeled connection between two nodes.
// Labels route branch nodes ("true"/"false") and single-choice questions
// (the choice text); they are ignored elsewhere.
type Edge struct {
	ID           string `json:"id" yaml:"id,omitempty"`
	SourceNodeID string `json:"source_node_id" yaml:"from"`
	TargetNodeID string `json:"target_node_id" yaml:"to"`
	Label        string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Validate checks if the edge is valid
func (e *Edge) Validate() error {
	if e.ID == "" {
		return errors.New("edge: empty edge ID")
	}
	if e.SourceNodeID == "" {
		return errors.New("edge: empty source node")
	}
	if e.TargetNodeID == "" {
		return errors.New("edge: empty target node")
	}
	return nil
}

// HasLabel reports whether the edge carries exactly the given label.
func (e *Edge) HasLabel(label string) bool {
	return e.Label == label
}
