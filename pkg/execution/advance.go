package execution

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/decisionflow/pkg/condition"
	domain "github.com/dshills/decisionflow/pkg/domain/execution"
	"github.com/dshills/decisionflow/pkg/domain/types"
	errs "github.com/dshills/decisionflow/pkg/errors"
	"github.com/dshills/decisionflow/pkg/flow"
	"github.com/dshills/decisionflow/pkg/value"
)

// advance walks from next until the flow needs input, runs an effect or
// runs out of edges. Only an audit append failure is returned; every other
// problem ends in a dead end.
func (e *Engine) advance(ctx context.Context, f *flow.Flow, key types.ExecutionKey, state *domain.State, next string, found bool) error {
	logger := e.logger.With(zap.String("subject", key.SubjectID), zap.String("flow", key.FlowID))

	for steps := 0; found; steps++ {
		if steps >= e.maxAutoSteps {
			logger.Warn("automatic advance limit reached", zap.Int("limit", e.maxAutoSteps), zap.String("node", next))
			e.deadEnd(key, state, next, "step limit reached")
			return nil
		}

		node, ok := f.Node(next)
		if !ok {
			logger.Warn("edge points at a missing node", zap.String("node", next))
			e.deadEnd(key, state, next, "missing node")
			return nil
		}

		switch n := node.(type) {
		case *flow.BranchNode:
			state.Visit(n.ID)
			result := e.evaluateBranch(ctx, logger, key, state, n)
			e.emit(EventBranchEvaluated, key, n.ID, map[string]interface{}{"result": result})
			next, found = flow.NextNode(f, n.ID, flow.Label(flow.BranchLabel(result)))
			if !found {
				logger.Warn("branch has no edge for outcome", zap.String("node", n.ID), zap.Bool("result", result))
				e.deadEnd(key, state, n.ID, "no "+flow.BranchLabel(result)+" edge")
				return nil
			}

		case *flow.EffectNode:
			state.Visit(n.ID)
			return e.runEffect(ctx, key, state, n)

		case *flow.QuestionNode, *flow.StartNode:
			state.AwaitInput(n.GetID())
			e.emit(EventAwaitingInput, key, n.GetID(), nil)
			return nil

		default:
			// Node is sealed; this only guards against a nil entry.
			logger.Warn("unexpected node", zap.String("node", next), zap.String("type", fmt.Sprintf("%T", node)))
			e.deadEnd(key, state, next, "unexpected node")
			return nil
		}
	}

	logger.Warn("no next node", zap.String("current_node", state.CurrentNodeID))
	e.deadEnd(key, state, state.CurrentNodeID, "no outgoing edge")
	return nil
}

func (e *Engine) deadEnd(key types.ExecutionKey, state *domain.State, nodeID, reason string) {
	state.HaltAtDeadEnd()
	e.emit(EventDeadEnd, key, nodeID, map[string]interface{}{"reason": reason})
}

// runEffect dispatches the effect, audits it and completes the state.
func (e *Engine) runEffect(ctx context.Context, key types.ExecutionKey, state *domain.State, n *flow.EffectNode) error {
	result := e.dispatcher.Execute(ctx, n, key.SubjectID, state.AnswersSnapshot())
	state.CompleteWithEffect(n.ID, result.Success)

	entry := domain.NewAuditEntry(key, n, result, state.Answers, e.now())
	if err := e.audit.Append(ctx, key, entry); err != nil {
		return errs.Storage("append_audit", key.SubjectID, key.FlowID, err)
	}

	e.emit(EventEffectExecuted, key, n.ID, map[string]interface{}{
		"success": result.Success,
		"error":   result.Error,
	})
	return nil
}

// evaluateBranch compares the live field against the branch operand. A
// failed field read evaluates to false.
func (e *Engine) evaluateBranch(ctx context.Context, logger *zap.Logger, key types.ExecutionKey, state *domain.State, n *flow.BranchNode) bool {
	logger = logger.With(zap.String("node", n.ID), zap.String("field", n.FieldKey))

	actual, err := e.readField(ctx, key.SubjectID, n.FieldKey)
	if err != nil {
		logger.Warn("branch field read failed, evaluating false", zap.Error(err))
		return false
	}

	expected := n.ComparisonValue
	if n.Source() == flow.SourcePriorAnswer {
		answer, ok := state.Answer(n.ReferencedQuestionNodeID)
		if !ok {
			logger.Debug("referenced question has no answer", zap.String("question", n.ReferencedQuestionNodeID))
		}
		expected = answer
	}

	if !n.Operator.Valid() {
		logger.Warn("unknown operator, evaluating false", zap.String("operator", n.Operator.String()))
	}
	return condition.Evaluate(actual, n.Operator, expected)
}

func (e *Engine) readField(ctx context.Context, subjectID, fieldKey string) (v value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	return e.provider.ReadField(ctx, subjectID, fieldKey)
}

// normalizeAnswer coerces a textual answer to the question's kind and to
// the form it has once loaded back from the state store. Answers that do
// not parse are otherwise stored unchanged.
func normalizeAnswer(node flow.Node, answer value.Value) value.Value {
	return value.Canonical(coerceAnswer(node, answer))
}

func coerceAnswer(node flow.Node, answer value.Value) value.Value {
	q, ok := node.(*flow.QuestionNode)
	if !ok {
		return answer
	}
	s, isString := answer.Str()
	if !isString || answer.Kind() != value.KindString {
		return answer
	}

	switch q.AnswerKind {
	case flow.AnswerNumber:
		if n, err := value.ParseNumber(s); err == nil {
			return n
		}
	case flow.AnswerDate:
		if d, err := value.Date(s); err == nil {
			return d
		}
	case flow.AnswerMultipleChoice:
		parts := strings.Split(s, ",")
		items := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		return value.List(items...)
	}
	return answer
}
