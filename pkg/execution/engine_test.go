package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/decisionflow/internal/testutil"
	"github.com/dshills/decisionflow/internal/testutil/mocks"
	"github.com/dshills/decisionflow/pkg/condition"
	domain "github.com/dshills/decisionflow/pkg/domain/execution"
	"github.com/dshills/decisionflow/pkg/domain/types"
	errs "github.com/dshills/decisionflow/pkg/errors"
	"github.com/dshills/decisionflow/pkg/flow"
	"github.com/dshills/decisionflow/pkg/storage"
	"github.com/dshills/decisionflow/pkg/value"
)

const subjectID = "ISSUE-1"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// countingKV counts writes so read-only operations can be checked.
type countingKV struct {
	storage.KV
	mu     sync.Mutex
	writes int
}

func (c *countingKV) count() {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
}

func (c *countingKV) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *countingKV) Put(ctx context.Context, key string, v []byte) error {
	c.count()
	return c.KV.Put(ctx, key, v)
}

func (c *countingKV) Delete(ctx context.Context, key string) error {
	c.count()
	return c.KV.Delete(ctx, key)
}

func (c *countingKV) Update(ctx context.Context, key string, fn func([]byte, bool) ([]byte, error)) error {
	c.count()
	return c.KV.Update(ctx, key, fn)
}

func (c *countingKV) Append(ctx context.Context, key string, v []byte) error {
	c.count()
	return c.KV.Append(ctx, key, v)
}

type harness struct {
	engine   *Engine
	provider *mocks.Provider
	kv       *countingKV
	flows    *storage.FlowStore
	states   *storage.StateStore
	audit    *storage.AuditLog
}

func newHarness(t *testing.T, flows []*flow.Flow, opts ...Option) *harness {
	t.Helper()
	kv := &countingKV{KV: storage.NewMemoryKV()}
	h := &harness{
		provider: mocks.NewProvider(),
		kv:       kv,
		flows:    storage.NewFlowStore(kv, nil),
		states:   storage.NewStateStore(kv),
		audit:    storage.NewAuditLog(kv),
	}
	for _, f := range flows {
		require.NoError(t, h.flows.SaveFlow(context.Background(), f))
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	h.engine = New(h.flows, h.states, h.audit, h.provider, opts...)
	return h
}

func (h *harness) submit(t *testing.T, flowID, nodeID string, answer value.Value) *domain.State {
	t.Helper()
	state, err := h.engine.SubmitAnswer(context.Background(), subjectID, flowID, nodeID, answer)
	require.NoError(t, err)
	return state
}

func (h *harness) entries(t *testing.T, flowID string) []*domain.AuditEntry {
	t.Helper()
	entries, err := h.engine.ListAuditEntries(context.Background(), subjectID, flowID)
	require.NoError(t, err)
	return entries
}

func TestSubmitAnswer_ExampleScenario(t *testing.T) {
	h := newHarness(t, []*flow.Flow{testutil.TriageFlow(t)})
	h.provider.SetField(subjectID, "status", value.String("Done"))

	state := h.submit(t, testutil.TriageFlowID, testutil.QuestionID, value.String("A"))

	assert.True(t, state.Completed)
	assert.Equal(t, testutil.DoneEffectID, state.CurrentNodeID)
	assert.Equal(t, []string{testutil.QuestionID, testutil.BranchID, testutil.DoneEffectID}, state.Path)
	require.Len(t, state.Answers, 1)
	assert.True(t, state.Answers[testutil.QuestionID].Equal(value.String("A")))
	assert.True(t, state.ReachedTerminal)
	require.NotNil(t, state.LastActionSucceeded)
	assert.True(t, *state.LastActionSucceeded)
	assert.Equal(t, domain.HaltEffectExecuted, state.Halt)

	labels := h.provider.CallsTo("AddLabel")
	require.Len(t, labels, 1)
	assert.Equal(t, "done-path", labels[0].Key)

	entries := h.entries(t, testutil.TriageFlowID)
	require.Len(t, entries, 1)
	assert.Equal(t, testutil.DoneEffectID, entries[0].NodeID)
	assert.True(t, entries[0].Result.Success)
	assert.Equal(t, fixedNow, entries[0].Timestamp)
	assert.True(t, entries[0].AnswersSnapshot[testutil.QuestionID].Equal(value.String("A")))

	stored, err := h.engine.GetExecutionState(context.Background(), subjectID, testutil.TriageFlowID)
	require.NoError(t, err)
	assert.Equal(t, state.Path, stored.Path)
	assert.True(t, stored.Completed)
}

func TestSubmitAnswer_StartThenQuestion(t *testing.T) {
	h := newHarness(t, []*flow.Flow{testutil.TriageFlow(t)})
	h.provider.SetField(subjectID, "status", value.String("In Progress"))

	state := h.submit(t, testutil.TriageFlowID, testutil.StartID, value.Null())
	assert.False(t, state.Completed)
	assert.Equal(t, testutil.QuestionID, state.CurrentNodeID)
	assert.Equal(t, []string{testutil.StartID}, state.Path)
	assert.Equal(t, domain.HaltAwaitingInput, state.Halt)
	answer, ok := state.Answer(testutil.StartID)
	require.True(t, ok, "start submission records a null answer")
	assert.True(t, answer.IsNull())
	assert.Empty(t, h.entries(t, testutil.TriageFlowID))

	state = h.submit(t, testutil.TriageFlowID, testutil.QuestionID, value.String("B"))
	assert.True(t, state.Completed)
	assert.Equal(t, testutil.OpenEffectID, state.CurrentNodeID)
	assert.Equal(t, []string{testutil.StartID, testutil.QuestionID, testutil.BranchID, testutil.OpenEffectID}, state.Path)
	assert.Equal(t, int64(2), state.Version)

	labels := h.provider.CallsTo("AddLabel")
	require.Len(t, labels, 1)
	assert.Equal(t, "open-path", labels[0].Key)
}

func TestGetExecutionState_DefaultIsIdempotent(t *testing.T) {
	h := newHarness(t, []*flow.Flow{testutil.TriageFlow(t)})
	ctx := context.Background()
	writes := h.kv.Writes()

	first, err := h.engine.GetExecutionState(ctx, subjectID, testutil.TriageFlowID)
	require.NoError(t, err)
	second, err := h.engine.GetExecutionState(ctx, subjectID, testutil.TriageFlowID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, domain.Default(testutil.StartID), first)
	assert.Equal(t, writes, h.kv.Writes(), "reading state must not write")

	_, found, err := h.states.Load(ctx, types.ExecutionKey{SubjectID: subjectID, FlowID: testutil.TriageFlowID})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSubmitAnswer_SingleChoicePrefersLabeledEdge(t *testing.T) {
	f := testutil.BuildFlow(t, "choice",
		[]flow.Node{
			&flow.StartNode{ID: "s"},
			&flow.QuestionNode{ID: "q", Prompt: "Pick", AnswerKind: flow.AnswerSingleChoice, Choices: []string{"A", "B"}},
			&flow.QuestionNode{ID: "qa", Prompt: "After A", AnswerKind: flow.AnswerNumber},
			&flow.QuestionNode{ID: "qb", Prompt: "After B", AnswerKind: flow.AnswerNumber},
		},
		[]testutil.Edge{{From: "s", To: "q", Label: ""}, {From: "q", To: "qa", Label: "A"}, {From: "q", To: "qb", Label: "B"}},
	)
	h := newHarness(t, []*flow.Flow{f})

	state := h.submit(t, "choice", "q", value.String("B"))
	assert.Equal(t, "qb", state.CurrentNodeID)

	state = h.submit(t, "choice", "q", value.String("C"))
	assert.Equal(t, "qa", state.CurrentNodeID, "unmatched answer falls back to the first edge")
}

func TestSubmitAnswer_SinglePathQuestionsNeverFork(t *testing.T) {
	kinds := []struct {
		kind    flow.AnswerKind
		choices []string
		answers []value.Value
	}{
		{flow.AnswerNumber, nil, []value.Value{value.String("second"), value.Number(2), value.String("7")}},
		{flow.AnswerDate, nil, []value.Value{value.String("second"), value.String("2024-01-01")}},
		{flow.AnswerMultipleChoice, []string{"first", "second"}, []value.Value{value.String("second"), value.List("second")}},
	}
	for _, tc := range kinds {
		t.Run(string(tc.kind), func(t *testing.T) {
			f := testutil.BuildFlow(t, "fork",
				[]flow.Node{
					&flow.StartNode{ID: "s"},
					&flow.QuestionNode{ID: "q", Prompt: "Value?", AnswerKind: tc.kind, Choices: tc.choices},
					&flow.QuestionNode{ID: "first", Prompt: "first", AnswerKind: flow.AnswerNumber},
					&flow.QuestionNode{ID: "second", Prompt: "second", AnswerKind: flow.AnswerNumber},
				},
				[]testutil.Edge{{From: "s", To: "q", Label: ""}, {From: "q", To: "first", Label: "first"}, {From: "q", To: "second", Label: "second"}},
			)
			h := newHarness(t, []*flow.Flow{f})
			for _, answer := range tc.answers {
				state := h.submit(t, "fork", "q", answer)
				assert.Equal(t, "first", state.CurrentNodeID, "answer %v", answer)
			}
		})
	}
}

func branchOnlyTrueFlow(t *testing.T) *flow.Flow {
	return testutil.BuildFlow(t, "half",
		[]flow.Node{
			&flow.StartNode{ID: "s"},
			&flow.QuestionNode{ID: "q", Prompt: "Go?", AnswerKind: flow.AnswerSingleChoice, Choices: []string{"yes"}},
			&flow.BranchNode{ID: "b", FieldKey: "status", Operator: condition.Equals, ComparisonValue: value.String("Done")},
			&flow.EffectNode{ID: "e", EffectKind: flow.EffectAddLabel, LabelText: "done"},
		},
		[]testutil.Edge{{From: "s", To: "q", Label: ""}, {From: "q", To: "b", Label: ""}, {From: "b", To: "e", Label: flow.LabelTrue}},
	)
}

func TestSubmitAnswer_BranchWithoutMatchingEdgeDeadEnds(t *testing.T) {
	h := newHarness(t, []*flow.Flow{branchOnlyTrueFlow(t)})
	h.provider.SetField(subjectID, "status", value.String("Open"))

	h.submit(t, "half", "s", value.Null())
	state := h.submit(t, "half", "q", value.String("yes"))

	assert.False(t, state.Completed)
	assert.Equal(t, "q", state.CurrentNodeID, "cursor stays on the node before the branch")
	assert.Equal(t, domain.HaltDeadEnd, state.Halt)
	assert.Equal(t, []string{"s", "q", "b"}, state.Path)
	assert.Nil(t, state.LastActionSucceeded)
	assert.Empty(t, h.entries(t, "half"))
	assert.Empty(t, h.provider.CallsTo("AddLabel"))

	stored, err := h.engine.GetExecutionState(context.Background(), subjectID, "half")
	require.NoError(t, err)
	assert.Equal(t, domain.HaltDeadEnd, stored.Halt, "dead end is persisted")
}

func TestSubmitAnswer_QuestionWithoutEdgesDeadEnds(t *testing.T) {
	f := testutil.BuildFlow(t, "short",
		[]flow.Node{
			&flow.StartNode{ID: "s"},
			&flow.QuestionNode{ID: "q", Prompt: "Last?", AnswerKind: flow.AnswerNumber},
		},
		[]testutil.Edge{{From: "s", To: "q", Label: ""}},
	)
	h := newHarness(t, []*flow.Flow{f})

	h.submit(t, "short", "s", value.Null())
	state := h.submit(t, "short", "q", value.String("3"))

	assert.False(t, state.Completed)
	assert.Equal(t, "q", state.CurrentNodeID)
	assert.Equal(t, domain.HaltDeadEnd, state.Halt)
	assert.True(t, state.Answers["q"].Equal(value.Number(3)))
}

func TestSubmitAnswer_MissingTargetDeadEnds(t *testing.T) {
	f := testutil.BuildFlow(t, "dangling",
		[]flow.Node{&flow.StartNode{ID: "s"}},
		[]testutil.Edge{{From: "s", To: "ghost", Label: ""}},
	)
	h := newHarness(t, []*flow.Flow{f})

	state := h.submit(t, "dangling", "s", value.Null())
	assert.Equal(t, "s", state.CurrentNodeID)
	assert.Equal(t, domain.HaltDeadEnd, state.Halt)
	assert.Equal(t, []string{"s"}, state.Path)
}

func TestSubmitAnswer_BranchCycleIsBounded(t *testing.T) {
	f := testutil.BuildFlow(t, "cycle",
		[]flow.Node{
			&flow.StartNode{ID: "s"},
			&flow.BranchNode{ID: "b1", FieldKey: "x", Operator: condition.IsEmpty},
			&flow.BranchNode{ID: "b2", FieldKey: "x", Operator: condition.IsEmpty},
		},
		[]testutil.Edge{
			{From: "s", To: "b1", Label: ""},
			{From: "b1", To: "b2", Label: flow.LabelTrue}, {From: "b1", To: "b2", Label: flow.LabelFalse},
			{From: "b2", To: "b1", Label: flow.LabelTrue}, {From: "b2", To: "b1", Label: flow.LabelFalse},
		},
	)
	h := newHarness(t, []*flow.Flow{f}, WithMaxAutoSteps(10))

	state := h.submit(t, "cycle", "s", value.Null())
	assert.Equal(t, domain.HaltDeadEnd, state.Halt)
	assert.Equal(t, "s", state.CurrentNodeID)
	assert.Len(t, state.Path, 11)
	assert.Len(t, h.provider.CallsTo("ReadField"), 10)
}

func TestSubmitAnswer_PathOnlyGrows(t *testing.T) {
	h := newHarness(t, []*flow.Flow{testutil.TriageFlow(t)})
	h.provider.SetField(subjectID, "status", value.String("Done"))

	var previous []string
	submissions := []struct {
		node   string
		answer value.Value
	}{
		{testutil.StartID, value.Null()},
		{testutil.QuestionID, value.String("A")},
		{testutil.QuestionID, value.String("B")},
		{testutil.StartID, value.Null()},
	}
	for _, s := range submissions {
		state := h.submit(t, testutil.TriageFlowID, s.node, s.answer)
		require.Greater(t, len(state.Path), len(previous))
		assert.Equal(t, previous, state.Path[:len(previous)])
		previous = append([]string(nil), state.Path...)
	}
}

func TestResetExecution_RestoresDefaultAndKeepsAudit(t *testing.T) {
	h := newHarness(t, []*flow.Flow{testutil.TriageFlow(t)})
	h.provider.SetField(subjectID, "status", value.String("Done"))
	ctx := context.Background()

	h.submit(t, testutil.TriageFlowID, testutil.StartID, value.Null())
	h.submit(t, testutil.TriageFlowID, testutil.QuestionID, value.String("A"))
	before := h.entries(t, testutil.TriageFlowID)
	require.Len(t, before, 1)

	reset, err := h.engine.ResetExecution(ctx, subjectID, testutil.TriageFlowID)
	require.NoError(t, err)
	assert.Equal(t, domain.Default(testutil.StartID), reset)

	state, err := h.engine.GetExecutionState(ctx, subjectID, testutil.TriageFlowID)
	require.NoError(t, err)
	untouched, err := h.engine.GetExecutionState(ctx, "ISSUE-2", testutil.TriageFlowID)
	require.NoError(t, err)
	assert.Equal(t, untouched, state)

	after := h.entries(t, testutil.TriageFlowID)
	assert.Equal(t, before, after)

	state = h.submit(t, testutil.TriageFlowID, testutil.StartID, value.Null())
	assert.Equal(t, int64(1), state.Version, "a reset execution starts over")
}

func TestSubmitAnswer_FailedEffectStillCompletes(t *testing.T) {
	tests := []struct {
		name      string
		configure func(p *mocks.Provider)
		wantError string
	}{
		{"provider error", func(p *mocks.Provider) { p.FailWrites = true; p.WriteErr = errors.New("permission denied") }, "permission denied"},
		{"provider panic", func(p *mocks.Provider) { p.PanicOnWrite = true }, "provider panic: provider exploded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []*flow.Flow{testutil.TriageFlow(t)})
			h.provider.SetField(subjectID, "status", value.String("Done"))
			tt.configure(h.provider)

			h.submit(t, testutil.TriageFlowID, testutil.StartID, value.Null())
			state := h.submit(t, testutil.TriageFlowID, testutil.QuestionID, value.String("A"))

			assert.True(t, state.Completed)
			assert.True(t, state.ReachedTerminal)
			assert.Equal(t, testutil.DoneEffectID, state.CurrentNodeID)
			require.NotNil(t, state.LastActionSucceeded)
			assert.False(t, *state.LastActionSucceeded)

			entries := h.entries(t, testutil.TriageFlowID)
			require.Len(t, entries, 1)
			assert.False(t, entries[0].Result.Success)
			assert.Equal(t, tt.wantError, entries[0].Result.Error)
		})
	}
}

func TestSubmitAnswer_BranchReadFailureEvaluatesFalse(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	h := newHarness(t, []*flow.Flow{testutil.TriageFlow(t)}, WithLogger(zap.New(core)))
	h.provider.SetField(subjectID, "status", value.String("Done"))
	h.provider.FailReads = true

	state := h.submit(t, testutil.TriageFlowID, testutil.QuestionID, value.String("A"))

	assert.Equal(t, testutil.OpenEffectID, state.CurrentNodeID)
	entries := h.entries(t, testutil.TriageFlowID)
	require.Len(t, entries, 1, "only the effect is audited")
	assert.Equal(t, testutil.OpenEffectID, entries[0].NodeID)
	assert.Equal(t, 1, logs.FilterMessage("branch field read failed, evaluating false").Len())
}

func TestSubmitAnswer_PriorAnswerBranch(t *testing.T) {
	f := testutil.BuildFlow(t, "prior",
		[]flow.Node{
			&flow.StartNode{ID: "s"},
			&flow.QuestionNode{ID: "q", Prompt: "Expected assignee?", AnswerKind: flow.AnswerSingleChoice, Choices: []string{"alice", "bob"}},
			&flow.BranchNode{ID: "b", FieldKey: "assignee.name", Operator: condition.Equals, ComparisonSource: flow.SourcePriorAnswer, ReferencedQuestionNodeID: "q"},
			&flow.EffectNode{ID: "match", EffectKind: flow.EffectSetField, FieldKey: "resolution", FieldValue: value.String("confirmed by ${answers.q}")},
			&flow.EffectNode{ID: "mismatch", EffectKind: flow.EffectAddComment, CommentBody: "Assignee is not ${answers.q}."},
		},
		[]testutil.Edge{{From: "s", To: "q", Label: ""}, {From: "q", To: "b", Label: ""}, {From: "b", To: "match", Label: flow.LabelTrue}, {From: "b", To: "mismatch", Label: flow.LabelFalse}},
	)
	h := newHarness(t, []*flow.Flow{f})
	h.provider.SetField(subjectID, "assignee.name", value.String("alice"))

	state := h.submit(t, "prior", "q", value.String("alice"))
	assert.Equal(t, "match", state.CurrentNodeID)
	writes := h.provider.CallsTo("WriteField")
	require.Len(t, writes, 1)
	assert.Equal(t, "resolution", writes[0].Key)
	assert.True(t, writes[0].Value.Equal(value.String("confirmed by alice")))

	state = h.submit(t, "prior", "q", value.String("bob"))
	assert.Equal(t, "mismatch", state.CurrentNodeID)
	comments := h.provider.CallsTo("AddComment")
	require.Len(t, comments, 1)
	assert.Equal(t, "Assignee is not bob.", comments[0].Comment.String())

	entries := h.entries(t, "prior")
	require.Len(t, entries, 2)
	assert.Equal(t, "match", entries[0].NodeID)
	assert.Equal(t, "mismatch", entries[1].NodeID)
}

func TestSubmitAnswer_NormalizesAnswers(t *testing.T) {
	f := testutil.BuildFlow(t, "kinds",
		[]flow.Node{
			&flow.StartNode{ID: "s"},
			&flow.QuestionNode{ID: "n", Prompt: "How many?", AnswerKind: flow.AnswerNumber},
			&flow.QuestionNode{ID: "d", Prompt: "When?", AnswerKind: flow.AnswerDate},
			&flow.QuestionNode{ID: "m", Prompt: "Which?", AnswerKind: flow.AnswerMultipleChoice, Choices: []string{"a", "b"}},
		},
		[]testutil.Edge{{From: "s", To: "n", Label: ""}, {From: "n", To: "d", Label: ""}, {From: "d", To: "m", Label: ""}},
	)
	h := newHarness(t, []*flow.Flow{f})

	state := h.submit(t, "kinds", "n", value.String(" 42 "))
	assert.True(t, state.Answers["n"].Equal(value.Number(42)))

	state = h.submit(t, "kinds", "n", value.String("lots"))
	assert.True(t, state.Answers["n"].Equal(value.String("lots")), "unparsable answers are kept")

	state = h.submit(t, "kinds", "d", value.String("2024-06-30"))
	assert.Equal(t, value.KindDate, state.Answers["d"].Kind())

	state = h.submit(t, "kinds", "m", value.String("a, b"))
	assert.True(t, state.Answers["m"].Equal(value.List("a", "b")))
}

func TestSubmitAnswer_ReturnedAnswersMatchReloadedState(t *testing.T) {
	f := testutil.BuildFlow(t, "slot",
		[]flow.Node{
			&flow.StartNode{ID: "s"},
			&flow.QuestionNode{ID: "q", Prompt: "Which release?", AnswerKind: flow.AnswerSingleChoice, Choices: []string{"2024-05-01", "later"}},
			&flow.QuestionNode{ID: "early", Prompt: "Owner?", AnswerKind: flow.AnswerNumber},
			&flow.QuestionNode{ID: "late", Prompt: "Owner?", AnswerKind: flow.AnswerNumber},
		},
		[]testutil.Edge{{From: "s", To: "q", Label: ""}, {From: "q", To: "late", Label: "later"}, {From: "q", To: "early", Label: "2024-05-01"}},
	)
	h := newHarness(t, []*flow.Flow{f})

	submitted := h.submit(t, "slot", "q", value.String("2024-05-01"))
	assert.Equal(t, "early", submitted.CurrentNodeID, "date-like choices still match their edge label")

	loaded, err := h.engine.GetExecutionState(context.Background(), subjectID, "slot")
	require.NoError(t, err)
	assert.Equal(t, submitted.Answers, loaded.Answers)
	assert.Equal(t, loaded.Answers["q"].Kind(), submitted.Answers["q"].Kind())
	assert.True(t, value.LooseEqual(submitted.Answers["q"], value.String("2024-05-01")))
}

func TestSubmitAnswer_FlowNotFound(t *testing.T) {
	h := newHarness(t, nil)
	writes := h.kv.Writes()

	_, err := h.engine.SubmitAnswer(context.Background(), subjectID, "missing", "s", value.Null())
	require.Error(t, err)
	assert.ErrorIs(t, err, flow.ErrFlowNotFound)
	assert.NotErrorIs(t, err, errs.ErrStorage)

	var opErr *errs.OperationalError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "submit_answer", opErr.Operation)
	assert.Equal(t, "missing", opErr.FlowID)
	assert.Equal(t, writes, h.kv.Writes())

	_, err = h.engine.GetExecutionState(context.Background(), subjectID, "missing")
	assert.ErrorIs(t, err, flow.ErrFlowNotFound)
	_, err = h.engine.ResetExecution(context.Background(), subjectID, "missing")
	assert.ErrorIs(t, err, flow.ErrFlowNotFound)
}

func TestSubmitAnswer_RejectsBadInput(t *testing.T) {
	h := newHarness(t, []*flow.Flow{testutil.TriageFlow(t)})
	ctx := context.Background()

	_, err := h.engine.SubmitAnswer(ctx, subjectID, testutil.TriageFlowID, "nope", value.Null())
	assert.ErrorIs(t, err, errs.ErrNodeNotFound)

	_, err = h.engine.SubmitAnswer(ctx, "", testutil.TriageFlowID, testutil.StartID, value.Null())
	assert.ErrorIs(t, err, types.ErrInvalidKey)

	_, err = h.engine.GetExecutionState(ctx, subjectID, "a:b")
	assert.ErrorIs(t, err, types.ErrInvalidKey)
}

func TestSubmitAnswer_StrictCursor(t *testing.T) {
	h := newHarness(t, []*flow.Flow{testutil.TriageFlow(t)}, WithStrictCursor(true))
	h.provider.SetField(subjectID, "status", value.String("Done"))
	ctx := context.Background()

	_, err := h.engine.SubmitAnswer(ctx, subjectID, testutil.TriageFlowID, testutil.QuestionID, value.String("A"))
	assert.ErrorIs(t, err, errs.ErrNotAwaitingNode)

	h.submit(t, testutil.TriageFlowID, testutil.StartID, value.Null())
	_, err = h.engine.SubmitAnswer(ctx, subjectID, testutil.TriageFlowID, testutil.StartID, value.Null())
	assert.ErrorIs(t, err, errs.ErrNotAwaitingNode)

	state := h.submit(t, testutil.TriageFlowID, testutil.QuestionID, value.String("A"))
	require.True(t, state.Completed)

	_, err = h.engine.SubmitAnswer(ctx, subjectID, testutil.TriageFlowID, testutil.DoneEffectID, value.Null())
	assert.ErrorIs(t, err, errs.ErrNotAwaitingNode, "a completed execution takes no more answers")
}

func TestSubmitAnswer_ConcurrentSubmissionsAreSerialized(t *testing.T) {
	h := newHarness(t, []*flow.Flow{testutil.TriageFlow(t)})

	const submitters = 20
	var wg sync.WaitGroup
	errCh := make(chan error, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.SubmitAnswer(context.Background(), subjectID, testutil.TriageFlowID, testutil.StartID, value.Null())
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		assert.NoError(t, err)
	}

	state, err := h.engine.GetExecutionState(context.Background(), subjectID, testutil.TriageFlowID)
	require.NoError(t, err)
	assert.Len(t, state.Path, submitters)
	assert.Equal(t, int64(submitters), state.Version)
	assert.Equal(t, 0, h.engine.locks.size())
}

// stubStates lets a test inject store failures.
type stubStates struct {
	loadErr, saveErr, deleteErr error
	saved                       int
}

func (s *stubStates) Load(context.Context, types.ExecutionKey) (*domain.State, bool, error) {
	return nil, false, s.loadErr
}

func (s *stubStates) Save(context.Context, types.ExecutionKey, *domain.State) error {
	if s.saveErr == nil {
		s.saved++
	}
	return s.saveErr
}

func (s *stubStates) Delete(context.Context, types.ExecutionKey) error { return s.deleteErr }

type failingAudit struct{ err error }

func (a failingAudit) Append(context.Context, types.ExecutionKey, *domain.AuditEntry) error {
	return a.err
}

func (a failingAudit) List(context.Context, types.ExecutionKey) ([]*domain.AuditEntry, error) {
	return nil, a.err
}

func TestSubmitAnswer_StorageFailures(t *testing.T) {
	ctx := context.Background()
	flows := storage.NewFlowStore(storage.NewMemoryKV(), nil)
	require.NoError(t, flows.SaveFlow(ctx, testutil.TriageFlow(t)))
	provider := mocks.NewProvider()
	provider.SetField(subjectID, "status", value.String("Done"))
	diskErr := errors.New("disk on fire")

	t.Run("load", func(t *testing.T) {
		e := New(flows, &stubStates{loadErr: diskErr}, storage.NewAuditLog(storage.NewMemoryKV()), provider)
		_, err := e.SubmitAnswer(ctx, subjectID, testutil.TriageFlowID, testutil.StartID, value.Null())
		assert.ErrorIs(t, err, errs.ErrStorage)
		assert.ErrorIs(t, err, diskErr)
		_, err = e.GetExecutionState(ctx, subjectID, testutil.TriageFlowID)
		assert.ErrorIs(t, err, errs.ErrStorage)
	})

	t.Run("save", func(t *testing.T) {
		e := New(flows, &stubStates{saveErr: diskErr}, storage.NewAuditLog(storage.NewMemoryKV()), provider)
		_, err := e.SubmitAnswer(ctx, subjectID, testutil.TriageFlowID, testutil.StartID, value.Null())
		assert.ErrorIs(t, err, errs.ErrStorage)
	})

	t.Run("version conflict", func(t *testing.T) {
		e := New(flows, &stubStates{saveErr: storage.ErrVersionConflict}, storage.NewAuditLog(storage.NewMemoryKV()), provider)
		_, err := e.SubmitAnswer(ctx, subjectID, testutil.TriageFlowID, testutil.StartID, value.Null())
		assert.ErrorIs(t, err, errs.ErrConcurrentModification)
		assert.NotErrorIs(t, err, errs.ErrStorage)
	})

	t.Run("audit append", func(t *testing.T) {
		states := &stubStates{}
		e := New(flows, states, failingAudit{err: diskErr}, provider)
		_, err := e.SubmitAnswer(ctx, subjectID, testutil.TriageFlowID, testutil.QuestionID, value.String("A"))
		assert.ErrorIs(t, err, errs.ErrStorage)
		assert.Equal(t, 0, states.saved, "state is not saved when the audit append fails")

		_, err = e.ListAuditEntries(ctx, subjectID, testutil.TriageFlowID)
		assert.ErrorIs(t, err, errs.ErrStorage)
	})

	t.Run("delete", func(t *testing.T) {
		e := New(flows, &stubStates{deleteErr: diskErr}, storage.NewAuditLog(storage.NewMemoryKV()), provider)
		_, err := e.ResetExecution(ctx, subjectID, testutil.TriageFlowID)
		assert.ErrorIs(t, err, errs.ErrStorage)
	})
}

func TestEngine_Events(t *testing.T) {
	h := newHarness(t, []*flow.Flow{testutil.TriageFlow(t)}, WithTracer(noop.NewTracerProvider().Tracer("test")))
	h.provider.SetField(subjectID, "status", value.String("Done"))

	all := h.engine.Subscribe()
	effects := h.engine.SubscribeFiltered(EventFilter{Types: []EventType{EventEffectExecuted}})
	otherSubject := h.engine.SubscribeFiltered(EventFilter{SubjectID: "ISSUE-2"})

	h.submit(t, testutil.TriageFlowID, testutil.StartID, value.Null())
	h.submit(t, testutil.TriageFlowID, testutil.QuestionID, value.String("A"))
	_, err := h.engine.ResetExecution(context.Background(), subjectID, testutil.TriageFlowID)
	require.NoError(t, err)
	h.engine.Close()

	var got []EventType
	for ev := range all {
		assert.Equal(t, subjectID, ev.SubjectID)
		assert.Equal(t, fixedNow, ev.Timestamp)
		got = append(got, ev.Type)
	}
	assert.Equal(t, []EventType{
		EventAnswerRecorded, EventAwaitingInput,
		EventAnswerRecorded, EventBranchEvaluated, EventEffectExecuted,
		EventReset,
	}, got)

	var effectEvents []Event
	for ev := range effects {
		effectEvents = append(effectEvents, ev)
	}
	require.Len(t, effectEvents, 1)
	assert.Equal(t, testutil.DoneEffectID, effectEvents[0].NodeID)
	assert.Equal(t, true, effectEvents[0].Metadata["success"])

	_, open := <-otherSubject
	assert.False(t, open)

	closed := h.engine.Subscribe()
	_, open = <-closed
	assert.False(t, open, "subscribing after Close yields a closed channel")
}

func TestEngine_Unsubscribe(t *testing.T) {
	h := newHarness(t, []*flow.Flow{testutil.TriageFlow(t)})
	ch := h.engine.Subscribe()
	h.engine.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	h.submit(t, testutil.TriageFlowID, testutil.StartID, value.Null())
}

func TestKeyedMutex(t *testing.T) {
	var k keyedMutex
	var mu sync.Mutex
	active := map[string]int{}
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i%3)
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock(key)
			defer unlock()

			mu.Lock()
			active[key]++
			assert.Equal(t, 1, active[key], "two holders of %s", key)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active[key]--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, k.size())
}
