// Package execution defines the durable records of a flow execution: the
// traversal state and the audit entries of executed effects.
package execution

import (
	"time"

	"github.com/dshills/decisionflow/pkg/value"
)

// Halt records why the last advance stopped.
type Halt string

const (
	// HaltNone is the halt of a state that was never advanced.
	HaltNone Halt = ""
	// HaltAwaitingInput means the cursor rests on a question.
	HaltAwaitingInput Halt = "awaiting_input"
	// HaltEffectExecuted means an effect ran and the flow is complete.
	HaltEffectExecuted Halt = "effect_executed"
	// HaltDeadEnd means no next node could be resolved.
	HaltDeadEnd Halt = "dead_end"
)

// State is the traversal cursor and accumulated answers of one
// (subject, flow) pair.
type State struct {
	// Completed is true once an effect node has been reached. It stays true
	// even when the effect failed; see LastActionSucceeded.
	Completed bool `json:"completed"`

	// CurrentNodeID is the node awaiting input, or the executed effect once
	// completed.
	CurrentNodeID string `json:"current_node_id"`

	// Answers maps question (and start) node IDs to the submitted answer.
	Answers map[string]value.Value `json:"answers"`

	// Path lists every visited node in order, duplicates included.
	Path []string `json:"path"`

	// ReachedTerminal mirrors Completed under an unambiguous name.
	ReachedTerminal bool `json:"reached_terminal"`

	// LastActionSucceeded is nil until an effect runs.
	LastActionSucceeded *bool `json:"last_action_succeeded,omitempty"`

	// Halt explains why the last advance stopped.
	Halt Halt `json:"halt,omitempty"`

	// Version counts saves; 0 means the state was never stored.
	Version int64 `json:"version"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Default returns the state of an execution that has not started.
func Default(startNodeID string) *State {
	return &State{
		Completed:     false,
		CurrentNodeID: startNodeID,
		Answers:       make(map[string]value.Value),
		Path:          make([]string, 0),
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Answers = s.AnswersSnapshot()
	cp.Path = make([]string, len(s.Path))
	copy(cp.Path, s.Path)
	if s.LastActionSucceeded != nil {
		ok := *s.LastActionSucceeded
		cp.LastActionSucceeded = &ok
	}
	return &cp
}

// AnswersSnapshot returns a copy of the answers map.
func (s *State) AnswersSnapshot() map[string]value.Value {
	cp := make(map[string]value.Value, len(s.Answers))
	for k, v := range s.Answers {
		cp[k] = v
	}
	return cp
}

// RecordAnswer stores an answer for nodeID and appends nodeID to the path.
func (s *State) RecordAnswer(nodeID string, answer value.Value) {
	if s.Answers == nil {
		s.Answers = make(map[string]value.Value)
	}
	s.Answers[nodeID] = answer
	s.Visit(nodeID)
}

// Visit appends nodeID to the path.
func (s *State) Visit(nodeID string) {
	s.Path = append(s.Path, nodeID)
}

// AwaitInput parks the cursor on a question.
func (s *State) AwaitInput(nodeID string) {
	s.CurrentNodeID = nodeID
	s.Halt = HaltAwaitingInput
}

// CompleteWithEffect marks the execution complete at the given effect node,
// whatever the outcome of the effect.
func (s *State) CompleteWithEffect(nodeID string, succeeded bool) {
	s.CurrentNodeID = nodeID
	s.Completed = true
	s.ReachedTerminal = true
	s.LastActionSucceeded = &succeeded
	s.Halt = HaltEffectExecuted
}

// HaltAtDeadEnd records that traversal stopped with no next node. The
// cursor is left where it was.
func (s *State) HaltAtDeadEnd() {
	s.Halt = HaltDeadEnd
}

// Answer returns the stored answer for nodeID.
func (s *State) Answer(nodeID string) (value.Value, bool) {
	v, ok := s.Answers[nodeID]
	return v, ok
}
