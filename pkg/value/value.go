// Package value models the loosely-typed values that flow through a decision
// flow: answers given to questions, live subject fields and static
// comparison operands.
//
// A Value is one of Null, String, Number, Bool, Date or List (of strings).
// The coercions in convert.go define how values of different kinds compare.
package value

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindDate
	KindList
)

// DateLayout is the calendar-date format used for Date values.
const DateLayout = "2006-01-02"

var kindNames = map[Kind]string{
	KindNull:   "null",
	KindString: "string",
	KindNumber: "number",
	KindBool:   "bool",
	KindDate:   "date",
	KindList:   "list",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is an immutable tagged value. The zero Value is Null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []string
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns a list value. The items are copied.
func List(items ...string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Date returns a date value for a YYYY-MM-DD string.
func Date(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(DateLayout, s); err != nil {
		return Value{}, fmt.Errorf("invalid date %q: %w", s, ErrInvalidDate)
	}
	return Value{kind: KindDate, str: s}, nil
}

// DateOf returns the date value for t, truncated to the calendar day.
func DateOf(t time.Time) Value {
	return Value{kind: KindDate, str: t.Format(DateLayout)}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload of a String or Date value.
func (v Value) Str() (string, bool) {
	if v.kind == KindString || v.kind == KindDate {
		return v.str, true
	}
	return "", false
}

// Num returns the payload of a Number value.
func (v Value) Num() (float64, bool) {
	if v.kind == KindNumber {
		return v.num, true
	}
	return 0, false
}

// BoolVal returns the payload of a Bool value.
func (v Value) BoolVal() (bool, bool) {
	if v.kind == KindBool {
		return v.b, true
	}
	return false, false
}

// Items returns a copy of the items of a List value.
func (v Value) Items() ([]string, bool) {
	if v.kind != KindList {
		return nil, false
	}
	cp := make([]string, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// Interface returns v as a plain Go value: nil, string, float64, bool or
// []string. Dates are returned as their string form.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString, KindDate:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		items, _ := v.Items()
		return items
	default:
		return nil
	}
}

// String implements fmt.Stringer using the text coercion.
func (v Value) String() string {
	return ToText(v)
}

// FromAny converts a decoded JSON/YAML value or a Go scalar into a Value.
// Maps and other composite values are kept as their JSON-like text.
func FromAny(x interface{}) Value {
	switch val := x.(type) {
	case nil:
		return Null()
	case Value:
		return val
	case *Value:
		if val == nil {
			return Null()
		}
		return *val
	case string:
		return String(val)
	case bool:
		return Bool(val)
	case float64:
		return Number(val)
	case float32:
		return Number(float64(val))
	case int:
		return Number(float64(val))
	case int8:
		return Number(float64(val))
	case int16:
		return Number(float64(val))
	case int32:
		return Number(float64(val))
	case int64:
		return Number(float64(val))
	case uint:
		return Number(float64(val))
	case uint8:
		return Number(float64(val))
	case uint16:
		return Number(float64(val))
	case uint32:
		return Number(float64(val))
	case uint64:
		return Number(float64(val))
	case time.Time:
		return DateOf(val)
	case []string:
		return List(val...)
	case []interface{}:
		items := make([]string, 0, len(val))
		for _, item := range val {
			items = append(items, ToText(FromAny(item)))
		}
		return List(items...)
	default:
		return String(fmt.Sprintf("%v", val))
	}
}

// Equal reports strict structural equality: same kind and same payload.
// NaN numbers are never equal. See LooseEqual for coercive comparison.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString, KindDate:
		return v.str == other.str
	case KindNumber:
		return v.num == other.num && !math.IsNaN(v.num)
	case KindBool:
		return v.b == other.b
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != other.list[i] {
				return false
			}
		}
		return true
	}
	return false
}
