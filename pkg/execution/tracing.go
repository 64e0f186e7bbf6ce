package execution

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	SubjectIDKey = "decisionflow.subject.id"
	FlowIDKey    = "decisionflow.flow.id"
	NodeIDKey    = "decisionflow.node.id"
	HaltKey      = "decisionflow.execution.halt"
	CompletedKey = "decisionflow.execution.completed"
)

func (e *Engine) startSpan(ctx context.Context, op, subjectID, flowID, nodeID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String(SubjectIDKey, subjectID),
		attribute.String(FlowIDKey, flowID),
	}
	if nodeID != "" {
		attrs = append(attrs, attribute.String(NodeIDKey, nodeID))
	}
	return e.tracer.Start(ctx, "decisionflow."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
