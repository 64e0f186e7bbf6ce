package flow

import (
	"errors"

	"github.com/google/uuid"
)

// Common flow errors
var (
	// ErrFlowNotFound is returned when a flow cannot be found
	ErrFlowNotFound = errors.New("flow not found")

	// ErrInvalidFlow is returned when a flow fails structural validation
	ErrInvalidFlow = errors.New("invalid flow")
)

// NodeType discriminates the node variants.
type NodeType string

const (
	NodeTypeStart    NodeType = "start"
	NodeTypeQuestion NodeType = "question"
	NodeTypeBranch   NodeType = "branch"
	NodeTypeEffect   NodeType = "effect"
)

// AnswerKind is the kind of answer a question collects.
type AnswerKind string

const (
	AnswerSingleChoice   AnswerKind = "single_choice"
	AnswerMultipleChoice AnswerKind = "multiple_choice"
	AnswerDate           AnswerKind = "date"
	AnswerNumber         AnswerKind = "number"
)

// HasChoices reports whether answers of this kind are picked from a list.
func (k AnswerKind) HasChoices() bool {
	return k == AnswerSingleChoice || k == AnswerMultipleChoice
}

// ComparisonSource selects where a branch takes its expected operand from.
type ComparisonSource string

const (
	SourceStatic      ComparisonSource = "static"
	SourcePriorAnswer ComparisonSource = "prior_answer"
)

// EffectKind is the side effect an effect node performs.
type EffectKind string

const (
	EffectSetField   EffectKind = "set_field"
	EffectAddLabel   EffectKind = "add_label"
	EffectAddComment EffectKind = "add_comment"
)

// Branch edge labels.
const (
	LabelTrue  = "true"
	LabelFalse = "false"
)

// NewFlowID generates a new unique flow identifier.
func NewFlowID() string {
	return uuid.New().String()
}

// NewEdgeID generates a new unique edge identifier.
func NewEdgeID() string {
	return uuid.New().String()
}
