package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/decisionflow/pkg/validation"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one problem found by the validation pass.
type Issue struct {
	Severity Severity `json:"severity"`
	NodeID   string   `json:"node_id,omitempty"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	if i.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", i.Severity, i.NodeID, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Severity, i.Message)
}

// Validate runs the full validation pass and returns every error-level
// issue joined with "; ". Warnings are not reported; use Analyze for them.
func (f *Flow) Validate() error {
	if err := joinIssues(f.Analyze(), SeverityError); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlow, err)
	}
	return nil
}

// ValidateStructure checks only what every stored flow must satisfy:
// a usable flow ID, exactly one start node, unique non-empty node IDs and
// valid per-node configuration. Graph-shape problems (missing branch edges, unreachable
// nodes) are left to Validate so incomplete flows can still be saved.
func (f *Flow) ValidateStructure() error {
	issues := f.structureIssues()
	if err := joinIssues(issues, SeverityError); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlow, err)
	}
	return nil
}

// Analyze runs the validation pass and returns every issue found, errors
// first in the order they were detected.
func (f *Flow) Analyze() []Issue {
	issues := f.structureIssues()
	issues = append(issues, f.graphIssues()...)
	return issues
}

func (f *Flow) structureIssues() []Issue {
	var issues []Issue
	errorf := func(nodeID, format string, args ...interface{}) {
		issues = append(issues, Issue{Severity: SeverityError, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(f.ID) == "" {
		errorf("", "flow must have an id")
	} else if err := validation.ValidateIdentifier("flow id", f.ID); err != nil {
		// the id becomes part of storage keys; ':' would split them
		errorf("", "%v", err)
	}
	if len(f.BoundSubjectGroups) == 0 {
		issues = append(issues, Issue{Severity: SeverityWarning, Message: "flow is not bound to any subject group"})
	}

	startCount := 0
	for _, node := range f.Nodes {
		if node.Type() == NodeTypeStart {
			startCount++
		}
	}
	if startCount != 1 {
		errorf("", "flow must have exactly one start node (found %d)", startCount)
	}

	seen := make(map[string]bool, len(f.Nodes))
	for _, node := range f.Nodes {
		id := node.GetID()
		if id == "" {
			errorf("", "found node with empty node ID")
			continue
		}
		if seen[id] {
			errorf(id, "duplicate node ID")
		}
		seen[id] = true

		if err := node.Validate(); err != nil {
			errorf(id, "%v", err)
		}
	}

	return issues
}

func (f *Flow) graphIssues() []Issue {
	var issues []Issue
	errorf := func(nodeID, format string, args ...interface{}) {
		issues = append(issues, Issue{Severity: SeverityError, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(nodeID, format string, args ...interface{}) {
		issues = append(issues, Issue{Severity: SeverityWarning, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
	}

	for _, edge := range f.Edges {
		if err := edge.Validate(); err != nil {
			errorf("", "%v", err)
			continue
		}
		if _, ok := f.Node(edge.SourceNodeID); !ok {
			errorf(edge.SourceNodeID, "edge %s starts at a missing node", edge.ID)
		}
		if _, ok := f.Node(edge.TargetNodeID); !ok {
			errorf(edge.SourceNodeID, "edge %s points to missing node %s", edge.ID, edge.TargetNodeID)
		}
	}

	for _, node := range f.Nodes {
		id := node.GetID()
		out := f.Outgoing(id)

		switch n := node.(type) {
		case *StartNode:
			if len(out) != 1 {
				errorf(id, "start node must have exactly one outgoing edge (found %d)", len(out))
			}
		case *QuestionNode:
			if len(out) == 0 {
				warnf(id, "question has no outgoing edge; answering it ends the flow without an effect")
			}
			if n.AnswerKind == AnswerSingleChoice {
				for _, edge := range out {
					if edge.Label != "" && !n.HasChoice(edge.Label) {
						warnf(id, "edge %s label %q does not match any choice", edge.ID, edge.Label)
					}
				}
			} else if len(out) > 1 {
				warnf(id, "%s question only follows its first edge; %d edges found", n.AnswerKind, len(out))
			}
		case *BranchNode:
			trueCount, falseCount := 0, 0
			for _, edge := range out {
				switch edge.Label {
				case LabelTrue:
					trueCount++
				case LabelFalse:
					falseCount++
				default:
					errorf(id, "branch edge %s has label %q, want \"true\" or \"false\"", edge.ID, edge.Label)
				}
			}
			if trueCount != 1 {
				errorf(id, "branch must have exactly one \"true\" edge (found %d)", trueCount)
			}
			if falseCount != 1 {
				errorf(id, "branch must have exactly one \"false\" edge (found %d)", falseCount)
			}
			if n.Source() == SourcePriorAnswer {
				ref, ok := f.Node(n.ReferencedQuestionNodeID)
				if !ok {
					errorf(id, "referenced question %s does not exist", n.ReferencedQuestionNodeID)
				} else if ref.Type() != NodeTypeQuestion {
					errorf(id, "referenced node %s is a %s, not a question", n.ReferencedQuestionNodeID, ref.Type())
				}
			}
		case *EffectNode:
			if len(out) > 0 {
				warnf(id, "effect ends the submission; its %d outgoing edge(s) are never followed", len(out))
			}
		}
	}

	if start := f.StartID(); start != "" {
		reachable := f.reachableFrom(start)
		for _, node := range f.Nodes {
			if id := node.GetID(); id != "" && !reachable[id] {
				errorf(id, "node is not reachable from start")
			}
		}
	}

	return issues
}

// reachableFrom walks edges breadth-first from the given node.
func (f *Flow) reachableFrom(start string) map[string]bool {
	adjacency := make(map[string][]string)
	for _, edge := range f.Edges {
		adjacency[edge.SourceNodeID] = append(adjacency[edge.SourceNodeID], edge.TargetNodeID)
	}

	reachable := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[current] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	return reachable
}

func joinIssues(issues []Issue, severity Severity) error {
	var msgs []string
	for _, issue := range issues {
		if issue.Severity == severity {
			msgs = append(msgs, issue.String())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(msgs, "; "))
}
