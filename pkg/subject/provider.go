// Package subject defines how the engine reads and writes the external
// record a flow runs against, and ships adapters for in-memory, on-disk and
// REST-backed subjects.
package subject

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/decisionflow/pkg/value"
)

var (
	// ErrSubjectNotFound is returned when the subject does not exist.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrInvalidField is returned for an empty or malformed field key.
	ErrInvalidField = errors.New("invalid field key")
)

// Provider reads and writes fields on subjects. Implementations must be
// safe for concurrent use. A field that does not exist reads as Null.
type Provider interface {
	ReadField(ctx context.Context, subjectID, fieldKey string) (value.Value, error)
	WriteField(ctx context.Context, subjectID, fieldKey string, v value.Value) error
	AddLabel(ctx context.Context, subjectID, label string) error
	// AddComment posts a rich-text comment and returns the provider's raw
	// response.
	AddComment(ctx context.Context, subjectID string, body RichText) (interface{}, error)
}

// FromResult converts a gjson lookup into a Value. Arrays become lists of
// the items' text. Objects carrying a "name" or "value" member (statuses,
// priorities, option fields) read as that member; other objects read as
// their raw JSON text.
func FromResult(r gjson.Result) value.Value {
	if !r.Exists() {
		return value.Null()
	}
	switch r.Type {
	case gjson.Null:
		return value.Null()
	case gjson.True:
		return value.Bool(true)
	case gjson.False:
		return value.Bool(false)
	case gjson.Number:
		return value.Number(r.Num)
	case gjson.String:
		if d, err := value.Date(r.Str); err == nil && len(r.Str) == len(value.DateLayout) {
			return d
		}
		return value.String(r.Str)
	case gjson.JSON:
		if r.IsArray() {
			items := make([]string, 0)
			r.ForEach(func(_, item gjson.Result) bool {
				if named := namedValue(item); named.Exists() {
					items = append(items, named.String())
					return true
				}
				items = append(items, item.String())
				return true
			})
			return value.List(items...)
		}
		if named := namedValue(r); named.Exists() {
			return FromResult(named)
		}
		return value.String(r.Raw)
	}
	return value.String(r.String())
}

func namedValue(r gjson.Result) gjson.Result {
	if !r.IsObject() {
		return gjson.Result{}
	}
	if name := r.Get("name"); name.Exists() {
		return name
	}
	return r.Get("value")
}

// validFieldKey rejects keys gjson would interpret as queries or modifiers.
func validFieldKey(fieldKey string) error {
	if strings.TrimSpace(fieldKey) == "" {
		return errors.Join(ErrInvalidField, errors.New("empty field key"))
	}
	if strings.ContainsAny(fieldKey, "#@*?|\\") {
		return errors.Join(ErrInvalidField, errors.New("field key "+fieldKey+" contains a path operator"))
	}
	return nil
}
