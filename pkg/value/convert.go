package value

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// decimalPattern is the only numeric text accepted: an optionally signed
// decimal with optional fraction and exponent. Go literal forms such as
// "0x1A", "1_000" and "inf" are not numbers here.
var decimalPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

var (
	// ErrInvalidDate is returned when a date string is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date value")
	// ErrTypeMismatch is returned when a value cannot be parsed as the requested kind.
	ErrTypeMismatch = errors.New("type mismatch")
)

// ToText converts v to its textual form.
//
//	Null   -> ""
//	Number -> shortest decimal form (5, 0.25, -3)
//	Bool   -> "true" / "false"
//	List   -> items joined with ","
func ToText(v Value) string {
	switch v.kind {
	case KindString, KindDate:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		return strings.Join(v.list, ",")
	default:
		return ""
	}
}

// ToNumber converts v to a float64. Values with no numeric reading
// produce NaN: Null, Date, unparsable strings and lists whose joined text
// is not a number. A blank string reads as 0.
func ToNumber(v Value) float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindString:
		return parseNumeric(v.str)
	case KindList:
		return parseNumeric(strings.Join(v.list, ","))
	default:
		return math.NaN()
	}
}

// LooseEqual compares two values with coercion, so that the string "5"
// equals the number 5.
//
// Null only equals Null. Values of the same kind compare by payload. A
// Number or Bool on either side makes the comparison numeric. Anything
// else compares by text.
func LooseEqual(a, b Value) bool {
	if a.kind == KindNull || b.kind == KindNull {
		return a.kind == b.kind
	}
	if a.kind == b.kind {
		if a.kind == KindNumber {
			return a.num == b.num
		}
		return a.Equal(b)
	}
	if a.kind == KindNumber || b.kind == KindNumber || a.kind == KindBool || b.kind == KindBool {
		x, y := ToNumber(a), ToNumber(b)
		return x == y
	}
	return ToText(a) == ToText(b)
}

// IsEmpty reports whether v is Null, an empty string or an empty list.
func IsEmpty(v Value) bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == ""
	case KindList:
		return len(v.list) == 0
	default:
		return false
	}
}

// ParseNumber parses s as a Number value. Only decimal text and the
// spellings Infinity and -Infinity are accepted.
func ParseNumber(s string) (Value, error) {
	f, ok := parseDecimal(strings.TrimSpace(s))
	if !ok {
		return Value{}, fmt.Errorf("%w: %q is not a decimal number", ErrTypeMismatch, s)
	}
	return Number(f), nil
}

func parseNumeric(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, ok := parseDecimal(s)
	if !ok {
		return math.NaN()
	}
	return f
}

func parseDecimal(s string) (float64, bool) {
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1), true
	case "-Infinity":
		return math.Inf(-1), true
	}
	if !decimalPattern.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// out of range: ParseFloat still returns ±Inf
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return f, true
		}
		return 0, false
	}
	return f, true
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
