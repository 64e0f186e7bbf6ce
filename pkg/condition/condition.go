// Package condition evaluates the comparison operators used by branch nodes.
package condition

import (
	"math"
	"strings"

	"github.com/dshills/decisionflow/pkg/value"
)

// Operator is a comparison operator.
type Operator string

const (
	Equals      Operator = "equals"
	NotEquals   Operator = "not_equals"
	Contains    Operator = "contains"
	GreaterThan Operator = "greater_than"
	LessThan    Operator = "less_than"
	IsEmpty     Operator = "is_empty"
	IsNotEmpty  Operator = "is_not_empty"
)

// Operators lists every supported operator.
var Operators = []Operator{Equals, NotEquals, Contains, GreaterThan, LessThan, IsEmpty, IsNotEmpty}

// Valid reports whether op is one of the supported operators.
func (op Operator) Valid() bool {
	switch op {
	case Equals, NotEquals, Contains, GreaterThan, LessThan, IsEmpty, IsNotEmpty:
		return true
	}
	return false
}

// Unary reports whether op ignores the expected operand.
func (op Operator) Unary() bool {
	return op == IsEmpty || op == IsNotEmpty
}

func (op Operator) String() string { return string(op) }

// Evaluate applies op to (actual, expected). It never fails: an unknown
// operator evaluates to false.
//
// Equals and NotEquals use coercive equality ("5" equals 5). Contains is a
// substring test on the text of both operands. GreaterThan and LessThan
// compare numerically and are false when either side is not a number.
func Evaluate(actual value.Value, op Operator, expected value.Value) bool {
	switch op {
	case Equals:
		return value.LooseEqual(actual, expected)
	case NotEquals:
		return !value.LooseEqual(actual, expected)
	case Contains:
		return strings.Contains(value.ToText(actual), value.ToText(expected))
	case GreaterThan:
		a, e := value.ToNumber(actual), value.ToNumber(expected)
		if math.IsNaN(a) || math.IsNaN(e) {
			return false
		}
		return a > e
	case LessThan:
		a, e := value.ToNumber(actual), value.ToNumber(expected)
		if math.IsNaN(a) || math.IsNaN(e) {
			return false
		}
		return a < e
	case IsEmpty:
		return value.IsEmpty(actual)
	case IsNotEmpty:
		return isNotEmpty(actual)
	default:
		return false
	}
}

// isNotEmpty is spelled out rather than negating value.IsEmpty so that a
// change to one definition has to be made to the other on purpose.
func isNotEmpty(v value.Value) bool {
	switch v.Kind() {
	case value.KindNull:
		return false
	case value.KindString:
		s, _ := v.Str()
		return s != ""
	case value.KindList:
		items, _ := v.Items()
		return len(items) > 0
	default:
		return true
	}
}
