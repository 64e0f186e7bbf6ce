package flow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/decisionflow/pkg/condition"
	"github.com/dshills/decisionflow/pkg/value"
)

func exampleNodes() []Node {
	return []Node{
		&StartNode{ID: "start"},
		&QuestionNode{ID: "q1", Prompt: "Queue?", AnswerKind: AnswerSingleChoice, Choices: []string{"A", "B"}},
		&BranchNode{ID: "is-done", FieldKey: "status", Operator: condition.Equals, ComparisonValue: value.String("Done")},
		&EffectNode{ID: "done", EffectKind: EffectAddLabel, LabelText: "done-path"},
		&EffectNode{ID: "open", EffectKind: EffectAddLabel, LabelText: "open-path"},
	}
}

func exampleEdges() [][3]string {
	return [][3]string{
		{"start", "q1", ""},
		{"q1", "is-done", ""},
		{"is-done", "done", LabelTrue},
		{"is-done", "open", LabelFalse},
	}
}

func TestNew(t *testing.T) {
	f, err := New("triage", "desc")
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, "triage", f.Name)
	assert.Empty(t, f.Nodes)

	_, err = New("", "")
	assert.Error(t, err)
}

func TestFlow_AddEdge(t *testing.T) {
	f := buildFlow(t, exampleNodes(), nil)

	edge := &Edge{SourceNodeID: "start", TargetNodeID: "q1"}
	require.NoError(t, f.AddEdge(edge))
	assert.NotEmpty(t, edge.ID)

	err := f.AddEdge(&Edge{SourceNodeID: "start", TargetNodeID: "q1"})
	assert.Error(t, err, "duplicate edge must be rejected")

	assert.Error(t, f.AddEdge(nil))
}

func TestFlow_RemoveNode(t *testing.T) {
	f := buildFlow(t, exampleNodes(), exampleEdges())

	require.NoError(t, f.RemoveNode("is-done"))
	_, ok := f.Node("is-done")
	assert.False(t, ok)
	for _, edge := range f.Edges {
		assert.NotEqual(t, "is-done", edge.SourceNodeID)
		assert.NotEqual(t, "is-done", edge.TargetNodeID)
	}

	assert.Error(t, f.RemoveNode("is-done"))
}

func TestFlow_Lookups(t *testing.T) {
	f := buildFlow(t, exampleNodes(), exampleEdges())

	assert.Equal(t, "start", f.StartID())
	node, ok := f.Node("q1")
	require.True(t, ok)
	assert.Equal(t, NodeTypeQuestion, node.Type())
	assert.Len(t, f.Outgoing("is-done"), 2)
	assert.Empty(t, f.Outgoing("done"))
}

func TestFlow_Validate(t *testing.T) {
	tests := []struct {
		name        string
		nodes       []Node
		edges       [][3]string
		wantErr     bool
		errContains string
	}{
		{
			name:  "well formed",
			nodes: exampleNodes(),
			edges: exampleEdges(),
		},
		{
			name:        "branch missing false edge",
			nodes:       exampleNodes(),
			edges:       [][3]string{{"start", "q1", ""}, {"q1", "is-done", ""}, {"is-done", "done", LabelTrue}, {"q1", "open", "B"}},
			wantErr:     true,
			errContains: `exactly one "false" edge`,
		},
		{
			name:        "unreachable node",
			nodes:       append(exampleNodes(), &EffectNode{ID: "orphan", EffectKind: EffectAddLabel, LabelText: "x"}),
			edges:       exampleEdges(),
			wantErr:     true,
			errContains: "node orphan: node is not reachable from start",
		},
		{
			name:        "dangling edge",
			nodes:       exampleNodes(),
			edges:       append(exampleEdges(), [3]string{"done", "ghost", ""}),
			wantErr:     true,
			errContains: "points to missing node ghost",
		},
		{
			name:        "two start nodes",
			nodes:       append(exampleNodes(), &StartNode{ID: "start2"}),
			edges:       append(exampleEdges(), [3]string{"start2", "q1", ""}),
			wantErr:     true,
			errContains: "exactly one start node (found 2)",
		},
		{
			name:        "duplicate node id",
			nodes:       append(exampleNodes(), &EffectNode{ID: "done", EffectKind: EffectAddLabel, LabelText: "dup"}),
			edges:       exampleEdges(),
			wantErr:     true,
			errContains: "duplicate node ID",
		},
		{
			name: "prior answer references missing question",
			nodes: []Node{
				&StartNode{ID: "start"},
				&BranchNode{ID: "b", FieldKey: "x", Operator: condition.Equals, ComparisonSource: SourcePriorAnswer, ReferencedQuestionNodeID: "nope"},
				&EffectNode{ID: "t", EffectKind: EffectAddLabel, LabelText: "t"},
				&EffectNode{ID: "f", EffectKind: EffectAddLabel, LabelText: "f"},
			},
			edges:       [][3]string{{"start", "b", ""}, {"b", "t", LabelTrue}, {"b", "f", LabelFalse}},
			wantErr:     true,
			errContains: "referenced question nope does not exist",
		},
		{
			name: "start without edge",
			nodes: []Node{
				&StartNode{ID: "start"},
			},
			wantErr:     true,
			errContains: "start node must have exactly one outgoing edge",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := buildFlow(t, tt.nodes, tt.edges)
			err := f.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidFlow)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestFlow_AnalyzeWarnings(t *testing.T) {
	f := buildFlow(t,
		[]Node{
			&StartNode{ID: "start"},
			&QuestionNode{ID: "q", Prompt: "?", AnswerKind: AnswerSingleChoice, Choices: []string{"A"}},
			&EffectNode{ID: "e", EffectKind: EffectAddLabel, LabelText: "x"},
			&EffectNode{ID: "e2", EffectKind: EffectAddLabel, LabelText: "y"},
		},
		[][3]string{{"start", "q", ""}, {"q", "e", "Z"}, {"e", "e2", ""}},
	)
	f.BoundSubjectGroups = nil

	issues := f.Analyze()
	var warnings []string
	for _, issue := range issues {
		if issue.Severity == SeverityWarning {
			warnings = append(warnings, issue.String())
		}
	}
	require.Len(t, warnings, 3)
	assert.Contains(t, warnings[0], "not bound to any subject group")
	assert.Contains(t, warnings[1], `label "Z" does not match any choice`)
	assert.Contains(t, warnings[2], "never followed")
	assert.NoError(t, f.Validate(), "warnings alone do not fail validation")
}

func TestFlow_ValidateStructure(t *testing.T) {
	f := buildFlow(t, exampleNodes(), [][3]string{{"start", "q1", ""}, {"q1", "is-done", ""}, {"is-done", "done", LabelTrue}})
	assert.NoError(t, f.ValidateStructure(), "graph-shape problems are not structural")
	assert.Error(t, f.Validate())

	f.Nodes = append(f.Nodes, &BranchNode{ID: "bad", FieldKey: "x", Operator: "matches"})
	err := f.ValidateStructure()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFlow)
	assert.Contains(t, err.Error(), "Operator")
}

func TestFlow_ValidateStructure_FlowID(t *testing.T) {
	f := buildFlow(t, exampleNodes(), exampleEdges())
	for _, id := range []string{"team:triage", "has space", "..", "a/b"} {
		f.ID = id
		err := f.ValidateStructure()
		require.Error(t, err, id)
		assert.ErrorIs(t, err, ErrInvalidFlow, id)
		assert.Contains(t, err.Error(), "flow id", id)
	}

	f.ID = "release-readiness_v2.1"
	assert.NoError(t, f.ValidateStructure())
}

func TestNode_Validate(t *testing.T) {
	tests := []struct {
		name        string
		node        Node
		errContains string
	}{
		{"start ok", &StartNode{ID: "s"}, ""},
		{"start without id", &StartNode{}, "ID is required"},
		{"question ok", &QuestionNode{ID: "q", Prompt: "?", AnswerKind: AnswerNumber}, ""},
		{"question without prompt", &QuestionNode{ID: "q", AnswerKind: AnswerNumber}, "Prompt is required"},
		{"question bad kind", &QuestionNode{ID: "q", Prompt: "?", AnswerKind: "free_text"}, "AnswerKind"},
		{"single choice without choices", &QuestionNode{ID: "q", Prompt: "?", AnswerKind: AnswerSingleChoice}, "requires at least one choice"},
		{"number with choices", &QuestionNode{ID: "q", Prompt: "?", AnswerKind: AnswerNumber, Choices: []string{"1"}}, "does not take choices"},
		{"duplicate choice", &QuestionNode{ID: "q", Prompt: "?", AnswerKind: AnswerMultipleChoice, Choices: []string{"a", "a"}}, "duplicate choice"},
		{"branch ok", &BranchNode{ID: "b", FieldKey: "f", Operator: condition.IsEmpty}, ""},
		{"branch without field", &BranchNode{ID: "b", Operator: condition.IsEmpty}, "FieldKey is required"},
		{"branch prior answer without reference", &BranchNode{ID: "b", FieldKey: "f", Operator: condition.Equals, ComparisonSource: SourcePriorAnswer}, "ReferencedQuestionNodeID is required"},
		{"effect set field ok", &EffectNode{ID: "e", EffectKind: EffectSetField, FieldKey: "priority", FieldValue: value.String("High")}, ""},
		{"effect set field without key", &EffectNode{ID: "e", EffectKind: EffectSetField}, "FieldKey is required"},
		{"effect label without text", &EffectNode{ID: "e", EffectKind: EffectAddLabel}, "LabelText is required"},
		{"effect comment without body", &EffectNode{ID: "e", EffectKind: EffectAddComment}, "CommentBody is required"},
		{"effect unknown kind", &EffectNode{ID: "e", EffectKind: "transition"}, "EffectKind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestFlow_JSONRoundTrip(t *testing.T) {
	f := buildFlow(t, exampleNodes(), exampleEdges())
	f.Description = "example"

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var decoded Flow
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, f.ID, decoded.ID)
	assert.Equal(t, f.Name, decoded.Name)
	assert.Equal(t, f.BoundSubjectGroups, decoded.BoundSubjectGroups)
	require.Len(t, decoded.Nodes, len(f.Nodes))
	for i := range f.Nodes {
		assert.Equal(t, f.Nodes[i], decoded.Nodes[i])
	}
	assert.Equal(t, f.Edges, decoded.Edges)
}

func TestUnmarshalNode(t *testing.T) {
	node, err := UnmarshalNode([]byte(`{"id":"b","type":"branch","field_key":"points","operator":"greater_than","comparison_value":3}`))
	require.NoError(t, err)
	b, ok := node.(*BranchNode)
	require.True(t, ok)
	assert.True(t, b.ComparisonValue.Equal(value.Number(3)))
	assert.Equal(t, SourceStatic, b.Source())

	_, err = UnmarshalNode([]byte(`{"id":"x","type":"loop"}`))
	assert.ErrorContains(t, err, `unknown node type "loop"`)

	_, err = UnmarshalNode([]byte(`{"id":"x"}`))
	assert.ErrorContains(t, err, "missing type")
}
