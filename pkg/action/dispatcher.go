// Package action executes effect nodes against a subject provider.
package action

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/decisionflow/pkg/domain/execution"
	"github.com/dshills/decisionflow/pkg/flow"
	"github.com/dshills/decisionflow/pkg/log"
	"github.com/dshills/decisionflow/pkg/subject"
	"github.com/dshills/decisionflow/pkg/transform"
	"github.com/dshills/decisionflow/pkg/value"
)

// ErrUnknownEffect is reported for effect kinds the dispatcher cannot run.
var ErrUnknownEffect = errors.New("unknown effect kind")

// Dispatcher runs one effect and reports its outcome. It never returns an
// error: every failure, including a provider panic, becomes a failed
// ActionResult.
type Dispatcher struct {
	provider subject.Provider
	renderer *transform.Renderer
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher writing through provider.
func NewDispatcher(provider subject.Provider, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		renderer: transform.NewRenderer(),
		logger:   log.OrNop(logger).Named("action"),
	}
}

// Execute performs effect on subjectID. answers feed ${...} placeholders
// in comment bodies and string field values.
func (d *Dispatcher) Execute(ctx context.Context, effect *flow.EffectNode, subjectID string, answers map[string]value.Value) (result execution.ActionResult) {
	if effect == nil {
		return execution.Failed(fmt.Errorf("nil effect"))
	}

	logger := d.logger.With(
		zap.String("subject", subjectID),
		zap.String("node", effect.ID),
		zap.String("effect", string(effect.EffectKind)),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("provider panicked", zap.Any("panic", r))
			result = execution.Failed(fmt.Errorf("provider panic: %v", r))
		}
	}()

	data, err := d.run(ctx, logger, effect, subjectID, answers)
	if err != nil {
		logger.Warn("effect failed", zap.Error(err))
		return execution.Failed(err)
	}
	logger.Debug("effect succeeded")
	return execution.Succeeded(data)
}

func (d *Dispatcher) run(ctx context.Context, logger *zap.Logger, effect *flow.EffectNode, subjectID string, answers map[string]value.Value) (interface{}, error) {
	switch effect.EffectKind {
	case flow.EffectSetField:
		v := effect.FieldValue
		if s, ok := v.Str(); ok && v.Kind() == value.KindString {
			v = value.String(d.render(ctx, logger, s, subjectID, answers))
		}
		if err := d.provider.WriteField(ctx, subjectID, effect.FieldKey, v); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"fieldKey": effect.FieldKey,
			"value":    v.Interface(),
		}, nil

	case flow.EffectAddLabel:
		if err := d.provider.AddLabel(ctx, subjectID, effect.LabelText); err != nil {
			return nil, err
		}
		return map[string]interface{}{"label": effect.LabelText}, nil

	case flow.EffectAddComment:
		text := d.render(ctx, logger, effect.CommentBody, subjectID, answers)
		return d.provider.AddComment(ctx, subjectID, subject.PlainText(text))

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEffect, effect.EffectKind)
	}
}

// render expands placeholders, keeping failed ones verbatim.
func (d *Dispatcher) render(ctx context.Context, logger *zap.Logger, text, subjectID string, answers map[string]value.Value) string {
	plain := make(map[string]interface{}, len(answers))
	for k, v := range answers {
		plain[k] = v.Interface()
	}
	env := map[string]interface{}{
		"subject": subjectID,
		"answers": plain,
	}
	rendered, err := d.renderer.Render(ctx, text, env)
	if err != nil {
		logger.Warn("placeholder rendering failed", zap.Error(err))
	}
	return rendered
}
