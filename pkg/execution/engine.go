// Package execution runs decision flows against subjects one submission at
// a time. Each submission records an answer, walks branches automatically,
// runs at most one effect and persists the resulting state.
package execution

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dshills/decisionflow/pkg/action"
	domain "github.com/dshills/decisionflow/pkg/domain/execution"
	"github.com/dshills/decisionflow/pkg/domain/types"
	errs "github.com/dshills/decisionflow/pkg/errors"
	"github.com/dshills/decisionflow/pkg/flow"
	"github.com/dshills/decisionflow/pkg/log"
	"github.com/dshills/decisionflow/pkg/subject"
	"github.com/dshills/decisionflow/pkg/value"
)

// DefaultMaxAutoSteps bounds the nodes one submission may auto-advance
// through.
const DefaultMaxAutoSteps = 1000

const tracerName = "github.com/dshills/decisionflow/pkg/execution"

// FlowSource loads flow definitions.
type FlowSource interface {
	GetFlow(ctx context.Context, flowID string) (*flow.Flow, error)
}

// StateRepository persists execution state. Save must fail with an error
// matching errs.ErrConcurrentModification when the stored version differs
// from state.Version.
type StateRepository interface {
	Load(ctx context.Context, key types.ExecutionKey) (*domain.State, bool, error)
	Save(ctx context.Context, key types.ExecutionKey, state *domain.State) error
	Delete(ctx context.Context, key types.ExecutionKey) error
}

// AuditRepository is the append-only log of executed effects.
type AuditRepository interface {
	Append(ctx context.Context, key types.ExecutionKey, entry *domain.AuditEntry) error
	List(ctx context.Context, key types.ExecutionKey) ([]*domain.AuditEntry, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = log.OrNop(logger) }
}

// WithTracer sets the tracer used for operation spans. The default comes
// from the global OpenTelemetry provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithClock replaces time.Now for audit timestamps and state updates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithStrictCursor rejects submissions for any node other than the one the
// execution is waiting on.
func WithStrictCursor(strict bool) Option {
	return func(e *Engine) { e.strictCursor = strict }
}

// WithMaxAutoSteps overrides DefaultMaxAutoSteps. Values below 1 are
// ignored.
func WithMaxAutoSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAutoSteps = n
		}
	}
}

// Engine is the flow execution state machine. It is safe for concurrent
// use; submissions for the same (subject, flow) pair are serialized.
type Engine struct {
	flows      FlowSource
	states     StateRepository
	audit      AuditRepository
	provider   subject.Provider
	dispatcher *action.Dispatcher

	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
	strictCursor bool
	maxAutoSteps int

	locks   keyedMutex
	monitor monitor
}

// New creates an engine reading flows from flows, persisting through states
// and audit, and acting on subjects through provider.
func New(flows FlowSource, states StateRepository, audit AuditRepository, provider subject.Provider, opts ...Option) *Engine {
	e := &Engine{
		flows:        flows,
		states:       states,
		audit:        audit,
		provider:     provider,
		logger:       zap.NewNop(),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
		maxAutoSteps: DefaultMaxAutoSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine")
	e.dispatcher = action.NewDispatcher(provider, e.logger)
	return e
}

// Subscribe returns a channel receiving every event the engine emits.
func (e *Engine) Subscribe() <-chan Event {
	return e.monitor.subscribe(nil)
}

// SubscribeFiltered returns a channel receiving only matching events.
func (e *Engine) SubscribeFiltered(filter EventFilter) <-chan Event {
	return e.monitor.subscribe(&filter)
}

// Unsubscribe closes and removes a subscription.
func (e *Engine) Unsubscribe(ch <-chan Event) {
	e.monitor.unsubscribe(ch)
}

// Close closes every subscription. The engine stays usable.
func (e *Engine) Close() {
	e.monitor.close()
}

// SubmitAnswer records answer for nodeID, advances through branches until a
// question, an effect or a dead end, persists the state and returns it.
//
// Submitting to the start node with a null answer begins the execution.
// Reaching an effect completes the execution even when the effect fails;
// the failure is visible in the audit log and in LastActionSucceeded.
func (e *Engine) SubmitAnswer(ctx context.Context, subjectID, flowID, nodeID string, answer value.Value) (state *domain.State, err error) {
	const op = "submit_answer"
	ctx, span := e.startSpan(ctx, op, subjectID, flowID, nodeID)
	defer func() { endSpan(span, err) }()

	key, err := types.NewExecutionKey(subjectID, flowID)
	if err != nil {
		return nil, errs.Wrap(op, subjectID, flowID, nodeID, err)
	}

	unlock := e.locks.lock(key.String())
	defer unlock()

	f, err := e.loadFlow(ctx, op, key)
	if err != nil {
		return nil, err
	}

	node, ok := f.Node(nodeID)
	if !ok {
		return nil, errs.Wrap(op, subjectID, flowID, nodeID, errs.ErrNodeNotFound)
	}

	state, err = e.loadState(ctx, op, key, f)
	if err != nil {
		return nil, err
	}

	if e.strictCursor && (state.Completed || state.CurrentNodeID != nodeID) {
		return nil, errs.NewOperationalError(op, subjectID, flowID, nodeID, errs.ErrNotAwaitingNode).
			WithAttrs(map[string]interface{}{"current_node": state.CurrentNodeID, "completed": state.Completed})
	}

	answer = normalizeAnswer(node, answer)
	state.RecordAnswer(nodeID, answer)
	e.emit(EventAnswerRecorded, key, nodeID, map[string]interface{}{"answer": answer.Interface()})

	next, found := flow.NextAfterSubmit(f, nodeID, answer)
	if err := e.advance(ctx, f, key, state, next, found); err != nil {
		return nil, err
	}

	state.UpdatedAt = e.now().UTC()
	if err := e.states.Save(ctx, key, state); err != nil {
		if errors.Is(err, errs.ErrConcurrentModification) {
			e.logger.Warn("execution state changed concurrently",
				zap.String("subject", subjectID), zap.String("flow", flowID), zap.Error(err))
			return nil, errs.Wrap(op, subjectID, flowID, nodeID, err)
		}
		return nil, errs.Storage(op, subjectID, flowID, err)
	}

	span.SetAttributes(
		attribute.String(HaltKey, string(state.Halt)),
		attribute.Bool(CompletedKey, state.Completed),
	)
	e.logger.Debug("answer submitted",
		zap.String("subject", subjectID),
		zap.String("flow", flowID),
		zap.String("node", nodeID),
		zap.String("current_node", state.CurrentNodeID),
		zap.String("halt", string(state.Halt)),
		zap.Bool("completed", state.Completed),
	)
	return state, nil
}

// ResetExecution deletes the stored state and returns the default state.
// The audit log is kept.
func (e *Engine) ResetExecution(ctx context.Context, subjectID, flowID string) (state *domain.State, err error) {
	const op = "reset_execution"
	ctx, span := e.startSpan(ctx, op, subjectID, flowID, "")
	defer func() { endSpan(span, err) }()

	key, err := types.NewExecutionKey(subjectID, flowID)
	if err != nil {
		return nil, errs.Wrap(op, subjectID, flowID, "", err)
	}

	unlock := e.locks.lock(key.String())
	defer unlock()

	f, err := e.loadFlow(ctx, op, key)
	if err != nil {
		return nil, err
	}
	if err := e.states.Delete(ctx, key); err != nil {
		return nil, errs.Storage(op, subjectID, flowID, err)
	}

	e.logger.Info("execution reset", zap.String("subject", subjectID), zap.String("flow", flowID))
	e.emit(EventReset, key, "", nil)
	return domain.Default(f.StartID()), nil
}

// GetExecutionState returns the stored state, or the default state when
// none is stored. It never writes.
func (e *Engine) GetExecutionState(ctx context.Context, subjectID, flowID string) (state *domain.State, err error) {
	const op = "get_execution_state"
	ctx, span := e.startSpan(ctx, op, subjectID, flowID, "")
	defer func() { endSpan(span, err) }()

	key, err := types.NewExecutionKey(subjectID, flowID)
	if err != nil {
		return nil, errs.Wrap(op, subjectID, flowID, "", err)
	}
	f, err := e.loadFlow(ctx, op, key)
	if err != nil {
		return nil, err
	}
	return e.loadState(ctx, op, key, f)
}

// ListAuditEntries returns the audit log of one execution in insertion
// order. Entries survive resets and flow deletion.
func (e *Engine) ListAuditEntries(ctx context.Context, subjectID, flowID string) (entries []*domain.AuditEntry, err error) {
	const op = "list_audit_entries"
	ctx, span := e.startSpan(ctx, op, subjectID, flowID, "")
	defer func() { endSpan(span, err) }()

	key, err := types.NewExecutionKey(subjectID, flowID)
	if err != nil {
		return nil, errs.Wrap(op, subjectID, flowID, "", err)
	}
	entries, err = e.audit.List(ctx, key)
	if err != nil {
		return nil, errs.Storage(op, subjectID, flowID, err)
	}
	return entries, nil
}

func (e *Engine) loadFlow(ctx context.Context, op string, key types.ExecutionKey) (*flow.Flow, error) {
	f, err := e.flows.GetFlow(ctx, key.FlowID)
	if errors.Is(err, flow.ErrFlowNotFound) {
		return nil, errs.Wrap(op, key.SubjectID, key.FlowID, "", err)
	}
	if err != nil {
		return nil, errs.Storage(op, key.SubjectID, key.FlowID, err)
	}
	return f, nil
}

func (e *Engine) loadState(ctx context.Context, op string, key types.ExecutionKey, f *flow.Flow) (*domain.State, error) {
	state, found, err := e.states.Load(ctx, key)
	if err != nil {
		return nil, errs.Storage(op, key.SubjectID, key.FlowID, err)
	}
	if !found {
		return domain.Default(f.StartID()), nil
	}
	return state, nil
}

func (e *Engine) emit(t EventType, key types.ExecutionKey, nodeID string, metadata map[string]interface{}) {
	e.monitor.emit(Event{
		Type:      t,
		Timestamp: e.now().UTC(),
		SubjectID: key.SubjectID,
		FlowID:    key.FlowID,
		NodeID:    nodeID,
		Metadata:  metadata,
	})
}
