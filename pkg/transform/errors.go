package transform

import "errors"

// Sentinel errors for template rendering
var (
	ErrInvalidTemplate   = errors.New("invalid template syntax")
	ErrInvalidExpression = errors.New("invalid expression syntax")
	ErrEvaluationFailed  = errors.New("expression evaluation failed")
)
