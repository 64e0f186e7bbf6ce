package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/dshills/decisionflow/pkg/condition"
	"github.com/dshills/decisionflow/pkg/value"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Node is a vertex in a flow graph. The set of implementations is closed:
// *StartNode, *QuestionNode, *BranchNode and *EffectNode.
type Node interface {
	GetID() string
	Type() NodeType
	Validate() error
	MarshalJSON() ([]byte, error)

	sealed()
}

// StartNode is the single entry point of a flow.
type StartNode struct {
	ID string `json:"id" yaml:"id" validate:"required"`
}

// GetID returns the node ID
func (n *StartNode) GetID() string { return n.ID }

// Type returns the node type
func (n *StartNode) Type() NodeType { return NodeTypeStart }

// Validate checks the node configuration
func (n *StartNode) Validate() error {
	return structError(n.ID, structValidator().Struct(n))
}

// MarshalJSON implements custom JSON marshaling for StartNode
func (n *StartNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(documentOf(n))
}

func (n *StartNode) sealed() {}

// QuestionNode waits for a human answer.
type QuestionNode struct {
	ID         string     `json:"id" yaml:"id" validate:"required"`
	Prompt     string     `json:"prompt" yaml:"prompt" validate:"required"`
	AnswerKind AnswerKind `json:"answer_kind" yaml:"answer_kind" validate:"required,oneof=single_choice multiple_choice date number"`
	Choices    []string   `json:"choices,omitempty" yaml:"choices,omitempty" validate:"dive,required"`
}

// GetID returns the node ID
func (n *QuestionNode) GetID() string { return n.ID }

// Type returns the node type
func (n *QuestionNode) Type() NodeType { return NodeTypeQuestion }

// Validate checks the node configuration. Choices are required exactly when
// the answer kind is a choice kind.
func (n *QuestionNode) Validate() error {
	if err := structError(n.ID, structValidator().Struct(n)); err != nil {
		return err
	}
	if n.AnswerKind.HasChoices() && len(n.Choices) == 0 {
		return fmt.Errorf("question %s: %s requires at least one choice", n.ID, n.AnswerKind)
	}
	if !n.AnswerKind.HasChoices() && len(n.Choices) > 0 {
		return fmt.Errorf("question %s: %s does not take choices", n.ID, n.AnswerKind)
	}
	seen := make(map[string]bool, len(n.Choices))
	for _, c := range n.Choices {
		if seen[c] {
			return fmt.Errorf("question %s: duplicate choice %q", n.ID, c)
		}
		seen[c] = true
	}
	return nil
}

// HasChoice reports whether s is one of the question's choices.
func (n *QuestionNode) HasChoice(s string) bool {
	for _, c := range n.Choices {
		if c == s {
			return true
		}
	}
	return false
}

// MarshalJSON implements custom JSON marshaling for QuestionNode
func (n *QuestionNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(documentOf(n))
}

func (n *QuestionNode) sealed() {}

// BranchNode compares a live subject field against a static value or a
// prior answer and follows the "true" or "false" edge.
type BranchNode struct {
	ID                       string             `json:"id" yaml:"id" validate:"required"`
	FieldKey                 string             `json:"field_key" yaml:"field_key" validate:"required"`
	Operator                 condition.Operator `json:"operator" yaml:"operator" validate:"required,oneof=equals not_equals contains greater_than less_than is_empty is_not_empty"`
	ComparisonSource         ComparisonSource   `json:"comparison_source,omitempty" yaml:"comparison_source,omitempty" validate:"omitempty,oneof=static prior_answer"`
	ComparisonValue          value.Value        `json:"comparison_value" yaml:"comparison_value"`
	ReferencedQuestionNodeID string             `json:"referenced_question_node_id,omitempty" yaml:"referenced_question_node_id,omitempty" validate:"required_if=ComparisonSource prior_answer"`
}

// GetID returns the node ID
func (n *BranchNode) GetID() string { return n.ID }

// Type returns the node type
func (n *BranchNode) Type() NodeType { return NodeTypeBranch }

// Source returns the comparison source, defaulting to static.
func (n *BranchNode) Source() ComparisonSource {
	if n.ComparisonSource == "" {
		return SourceStatic
	}
	return n.ComparisonSource
}

// Validate checks the node configuration
func (n *BranchNode) Validate() error {
	return structError(n.ID, structValidator().Struct(n))
}

// MarshalJSON implements custom JSON marshaling for BranchNode
func (n *BranchNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(documentOf(n))
}

func (n *BranchNode) sealed() {}

// EffectNode performs one side effect on the subject and ends the
// submission that reached it.
type EffectNode struct {
	ID          string      `json:"id" yaml:"id" validate:"required"`
	EffectKind  EffectKind  `json:"effect_kind" yaml:"effect_kind" validate:"required,oneof=set_field add_label add_comment"`
	FieldKey    string      `json:"field_key,omitempty" yaml:"field_key,omitempty" validate:"required_if=EffectKind set_field"`
	FieldValue  value.Value `json:"field_value" yaml:"field_value"`
	LabelText   string      `json:"label_text,omitempty" yaml:"label_text,omitempty" validate:"required_if=EffectKind add_label"`
	CommentBody string      `json:"comment_body,omitempty" yaml:"comment_body,omitempty" validate:"required_if=EffectKind add_comment"`
}

// GetID returns the node ID
func (n *EffectNode) GetID() string { return n.ID }

// Type returns the node type
func (n *EffectNode) Type() NodeType { return NodeTypeEffect }

// Validate checks the node configuration
func (n *EffectNode) Validate() error {
	return structError(n.ID, structValidator().Struct(n))
}

// Snapshot returns a copy of the effect configuration.
func (n *EffectNode) Snapshot() EffectNode {
	return *n
}

// MarshalJSON implements custom JSON marshaling for EffectNode
func (n *EffectNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(documentOf(n))
}

func (n *EffectNode) sealed() {}

// structError flattens validator errors into one readable message.
func structError(nodeID string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("node %s: %w", nodeID, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s %q must be one of [%s]", fe.Field(), fmt.Sprint(fe.Value()), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	if nodeID == "" {
		nodeID = "<empty id>"
	}
	return fmt.Errorf("node %s: %s", nodeID, strings.Join(msgs, ", "))
}

// nodeDocument is the flat wire shape shared by every node variant in JSON
// and YAML flow documents.
type nodeDocument struct {
	ID   string   `json:"id" yaml:"id"`
	Type NodeType `json:"type" yaml:"type"`

	// QuestionNode fields
	Prompt     string     `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	AnswerKind AnswerKind `json:"answer_kind,omitempty" yaml:"answer_kind,omitempty"`
	Choices    []string   `json:"choices,omitempty" yaml:"choices,omitempty"`

	// BranchNode fields; FieldKey is shared with set_field effects
	FieldKey                 string             `json:"field_key,omitempty" yaml:"field_key,omitempty"`
	Operator                 condition.Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
	ComparisonSource         ComparisonSource   `json:"comparison_source,omitempty" yaml:"comparison_source,omitempty"`
	ComparisonValue          *value.Value       `json:"comparison_value,omitempty" yaml:"comparison_value,omitempty"`
	ReferencedQuestionNodeID string             `json:"referenced_question_node_id,omitempty" yaml:"referenced_question_node_id,omitempty"`

	// EffectNode fields
	EffectKind  EffectKind   `json:"effect_kind,omitempty" yaml:"effect_kind,omitempty"`
	FieldValue  *value.Value `json:"field_value,omitempty" yaml:"field_value,omitempty"`
	LabelText   string       `json:"label_text,omitempty" yaml:"label_text,omitempty"`
	CommentBody string       `json:"comment_body,omitempty" yaml:"comment_body,omitempty"`
}

func documentOf(node Node) nodeDocument {
	switch n := node.(type) {
	case *StartNode:
		return nodeDocument{ID: n.ID, Type: NodeTypeStart}
	case *QuestionNode:
		return nodeDocument{
			ID:         n.ID,
			Type:       NodeTypeQuestion,
			Prompt:     n.Prompt,
			AnswerKind: n.AnswerKind,
			Choices:    n.Choices,
		}
	case *BranchNode:
		doc := nodeDocument{
			ID:                       n.ID,
			Type:                     NodeTypeBranch,
			FieldKey:                 n.FieldKey,
			Operator:                 n.Operator,
			ComparisonSource:         n.ComparisonSource,
			ReferencedQuestionNodeID: n.ReferencedQuestionNodeID,
		}
		if !n.ComparisonValue.IsNull() {
			v := n.ComparisonValue
			doc.ComparisonValue = &v
		}
		return doc
	case *EffectNode:
		doc := nodeDocument{
			ID:          n.ID,
			Type:        NodeTypeEffect,
			EffectKind:  n.EffectKind,
			FieldKey:    n.FieldKey,
			LabelText:   n.LabelText,
			CommentBody: n.CommentBody,
		}
		if !n.FieldValue.IsNull() {
			v := n.FieldValue
			doc.FieldValue = &v
		}
		return doc
	}
	return nodeDocument{}
}

func (d nodeDocument) toNode() (Node, error) {
	switch d.Type {
	case NodeTypeStart:
		return &StartNode{ID: d.ID}, nil
	case NodeTypeQuestion:
		return &QuestionNode{
			ID:         d.ID,
			Prompt:     d.Prompt,
			AnswerKind: d.AnswerKind,
			Choices:    d.Choices,
		}, nil
	case NodeTypeBranch:
		n := &BranchNode{
			ID:                       d.ID,
			FieldKey:                 d.FieldKey,
			Operator:                 d.Operator,
			ComparisonSource:         d.ComparisonSource,
			ReferencedQuestionNodeID: d.ReferencedQuestionNodeID,
		}
		if d.ComparisonValue != nil {
			n.ComparisonValue = *d.ComparisonValue
		}
		return n, nil
	case NodeTypeEffect:
		n := &EffectNode{
			ID:          d.ID,
			EffectKind:  d.EffectKind,
			FieldKey:    d.FieldKey,
			LabelText:   d.LabelText,
			CommentBody: d.CommentBody,
		}
		if d.FieldValue != nil {
			n.FieldValue = *d.FieldValue
		}
		return n, nil
	case "":
		return nil, fmt.Errorf("node %s: missing type", d.ID)
	default:
		return nil, fmt.Errorf("node %s: unknown node type %q", d.ID, d.Type)
	}
}

// UnmarshalNode decodes a single JSON node document.
func UnmarshalNode(data []byte) (Node, error) {
	var doc nodeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode node: %w", err)
	}
	return doc.toNode()
}
