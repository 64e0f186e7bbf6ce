// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/decisionflow/pkg/condition"
	"github.com/dshills/decisionflow/pkg/flow"
	"github.com/dshills/decisionflow/pkg/value"
)

// Node IDs of TriageFlow.
const (
	TriageFlowID = "triage"
	StartID      = "start"
	QuestionID   = "q1"
	BranchID     = "is-done"
	DoneEffectID = "done-effect"
	OpenEffectID = "open-effect"
)

// Edge is a (from, to, label) triple for BuildFlow.
type Edge struct {
	From, To, Label string
}

// BuildFlow assembles a flow with the given ID from nodes and edges.
func BuildFlow(t testing.TB, id string, nodes []flow.Node, edges []Edge) *flow.Flow {
	t.Helper()
	f, err := flow.New(id, "")
	require.NoError(t, err)
	f.ID = id
	f.BoundSubjectGroups = []string{"TEST"}
	for _, n := range nodes {
		require.NoError(t, f.AddNode(n))
	}
	for _, e := range edges {
		require.NoError(t, f.Connect(e.From, e.To, e.Label))
	}
	return f
}

// TriageFlow is Start -> q1(single choice A/B) -> branch(status equals
// Done) -[true]-> add label done-path, -[false]-> add label open-path.
func TriageFlow(t testing.TB) *flow.Flow {
	t.Helper()
	return BuildFlow(t, TriageFlowID,
		[]flow.Node{
			&flow.StartNode{ID: StartID},
			&flow.QuestionNode{ID: QuestionID, Prompt: "Which queue?", AnswerKind: flow.AnswerSingleChoice, Choices: []string{"A", "B"}},
			&flow.BranchNode{ID: BranchID, FieldKey: "status", Operator: condition.Equals, ComparisonValue: value.String("Done")},
			&flow.EffectNode{ID: DoneEffectID, EffectKind: flow.EffectAddLabel, LabelText: "done-path"},
			&flow.EffectNode{ID: OpenEffectID, EffectKind: flow.EffectAddLabel, LabelText: "open-path"},
		},
		[]Edge{
			{StartID, QuestionID, ""},
			{QuestionID, BranchID, ""},
			{BranchID, DoneEffectID, flow.LabelTrue},
			{BranchID, OpenEffectID, flow.LabelFalse},
		},
	)
}

// RepoPath returns the absolute path of a file relative to the repository
// root, for tests that load checked-in fixtures.
func RepoPath(elem ...string) string {
	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(filename), "..", "..")
	return filepath.Join(append([]string{root}, elem...)...)
}
