package flow

import (
	"github.com/dshills/decisionflow/pkg/value"
)

// NextNode returns the target of the first edge leaving fromID. With a
// label it takes the first edge carrying exactly that label; without one
// it takes the first edge regardless of label. The boolean is false when no
// edge matches.
func NextNode(f *Flow, fromID string, label *string) (string, bool) {
	if f == nil {
		return "", false
	}
	for _, edge := range f.Edges {
		if edge.SourceNodeID != fromID {
			continue
		}
		if label != nil && edge.Label != *label {
			continue
		}
		return edge.TargetNodeID, true
	}
	return "", false
}

// Label returns a pointer to s, for use with NextNode.
func Label(s string) *string {
	return &s
}

// BranchLabel maps a branch outcome to its edge label.
func BranchLabel(result bool) string {
	if result {
		return LabelTrue
	}
	return LabelFalse
}

// NextAfterSubmit resolves where a submission on fromID continues.
//
// A single-choice question prefers the edge labeled with the answer text
// and falls back to its first edge. Every other node, including questions
// of other answer kinds, continues along its first edge.
func NextAfterSubmit(f *Flow, fromID string, answer value.Value) (string, bool) {
	if f == nil {
		return "", false
	}
	node, ok := f.Node(fromID)
	if !ok {
		return NextNode(f, fromID, nil)
	}
	if q, isQuestion := node.(*QuestionNode); isQuestion && q.AnswerKind == AnswerSingleChoice {
		if !answer.IsNull() {
			if next, found := NextNode(f, fromID, Label(value.ToText(answer))); found {
				return next, true
			}
		}
	}
	return NextNode(f, fromID, nil)
}
