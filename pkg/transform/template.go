// Package transform renders ${...} placeholders in effect text.
package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/decisionflow/pkg/value"
)

// Renderer expands ${expression} placeholders using an Evaluator. A
// backslash before the dollar sign ("\${") emits the placeholder literally.
type Renderer struct {
	evaluator *Evaluator
}

// NewRenderer creates a renderer with its own program cache.
func NewRenderer() *Renderer {
	return &Renderer{evaluator: NewEvaluator()}
}

// Render replaces every placeholder in template with the text form of its
// result. Placeholders that fail to evaluate are kept verbatim and their
// errors are joined into the returned error; the rendered text is always
// returned. Nil results render as the empty string.
func (r *Renderer) Render(ctx context.Context, template string, env map[string]interface{}) (string, error) {
	if !strings.Contains(template, "${") {
		return template, nil
	}

	var (
		out  strings.Builder
		errs []error
	)
	n := len(template)
	for i := 0; i < n; {
		if i < n-2 && template[i] == '\\' && template[i+1] == '$' && template[i+2] == '{' {
			out.WriteString("${")
			i += 3
			continue
		}
		if i < n-1 && template[i] == '$' && template[i+1] == '{' {
			end := strings.IndexByte(template[i+2:], '}')
			if end == -1 {
				out.WriteString(template[i:])
				errs = append(errs, fmt.Errorf("%w: unclosed placeholder at offset %d", ErrInvalidTemplate, i))
				break
			}
			end += i + 2
			placeholder := template[i : end+1]
			expression := strings.TrimSpace(template[i+2 : end])

			text, err := r.evaluate(ctx, expression, env)
			if err != nil {
				out.WriteString(placeholder)
				errs = append(errs, fmt.Errorf("placeholder %s: %w", placeholder, err))
			} else {
				out.WriteString(text)
			}
			i = end + 1
			continue
		}
		out.WriteByte(template[i])
		i++
	}
	return out.String(), errors.Join(errs...)
}

func (r *Renderer) evaluate(ctx context.Context, expression string, env map[string]interface{}) (string, error) {
	if expression == "" {
		return "", fmt.Errorf("%w: empty placeholder", ErrInvalidTemplate)
	}
	result, err := r.evaluator.Evaluate(ctx, expression, env)
	if err != nil {
		return "", err
	}
	return value.ToText(value.FromAny(result)), nil
}
