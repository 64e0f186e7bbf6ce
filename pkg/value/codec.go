package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"

	"gopkg.in/yaml.v3"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// MarshalJSON encodes v as a plain JSON value. Dates are encoded as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return json.Marshal(formatNumber(v.num))
		}
		return json.Marshal(v.num)
	case KindList:
		items := v.list
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	default:
		return json.Marshal(v.Interface())
	}
}

// UnmarshalJSON decodes any JSON value. Strings shaped like YYYY-MM-DD that
// name a real calendar day decode as Date, so a String holding such text
// comes back as a Date after a round trip (see Canonical). Objects decode
// as their raw text.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch val := raw.(type) {
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return fmt.Errorf("decode number %q: %w", val, err)
		}
		*v = Number(f)
	case string:
		*v = fromString(val)
	case []interface{}:
		items := make([]string, 0, len(val))
		for _, item := range val {
			if n, ok := item.(json.Number); ok {
				items = append(items, n.String())
				continue
			}
			items = append(items, ToText(FromAny(item)))
		}
		*v = List(items...)
	case map[string]interface{}:
		*v = String(string(bytes.TrimSpace(data)))
	default:
		*v = FromAny(val)
	}
	return nil
}

// MarshalYAML encodes v as a plain YAML scalar or sequence.
func (v Value) MarshalYAML() (interface{}, error) {
	if v.kind == KindList {
		items := v.list
		if items == nil {
			items = []string{}
		}
		return items, nil
	}
	return v.Interface(), nil
}

// UnmarshalYAML decodes a YAML scalar or sequence.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!str" || node.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) != 0 {
			*v = fromString(node.Value)
			return nil
		}
		var raw interface{}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		if s, ok := raw.(string); ok {
			*v = fromString(s)
			return nil
		}
		*v = FromAny(raw)
		return nil
	case yaml.SequenceNode:
		var raw []interface{}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*v = FromAny(raw)
		return nil
	case yaml.AliasNode:
		return v.UnmarshalYAML(node.Alias)
	default:
		return fmt.Errorf("line %d: cannot decode YAML %s into a value", node.Line, kindOfNode(node))
	}
}

// Canonical returns v as it reads back after encoding: a String holding a
// calendar day becomes a Date, every other value is returned unchanged.
// Dates and Strings compare by text, so the result is LooseEqual to v.
func Canonical(v Value) Value {
	if v.kind != KindString {
		return v
	}
	return fromString(v.str)
}

func fromString(s string) Value {
	if datePattern.MatchString(s) {
		if d, err := Date(s); err == nil {
			return d
		}
	}
	return String(s)
}

func kindOfNode(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.DocumentNode:
		return "document"
	default:
		return "node"
	}
}
