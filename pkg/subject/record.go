package subject

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/dshills/decisionflow/pkg/value"
)

// Record is the stored shape of a subject for the local providers: a bag
// of fields addressed with dotted paths plus labels and comments.
type Record struct {
	ID       string                 `json:"id"`
	Fields   map[string]interface{} `json:"fields"`
	Labels   []string               `json:"labels"`
	Comments []Comment              `json:"comments"`
}

// Comment is a comment appended to a Record.
type Comment struct {
	ID      string    `json:"id"`
	Body    RichText  `json:"body"`
	Created time.Time `json:"created"`
}

// NewRecord creates a record with the given fields.
func NewRecord(id string, fields map[string]interface{}) *Record {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return &Record{ID: id, Fields: fields, Labels: []string{}, Comments: []Comment{}}
}

// Read looks up fieldKey, a gjson dotted path into Fields. The pseudo field
// "labels" reads the record's labels unless a real field shadows it.
func (r *Record) Read(fieldKey string) (value.Value, error) {
	if err := validFieldKey(fieldKey); err != nil {
		return value.Null(), err
	}
	data, err := json.Marshal(r.Fields)
	if err != nil {
		return value.Null(), fmt.Errorf("failed to encode fields of %s: %w", r.ID, err)
	}
	res := gjson.GetBytes(data, fieldKey)
	if !res.Exists() && fieldKey == "labels" {
		return value.List(r.Labels...), nil
	}
	return FromResult(res), nil
}

// Write sets fieldKey, creating intermediate objects along a dotted path.
func (r *Record) Write(fieldKey string, v value.Value) error {
	if err := validFieldKey(fieldKey); err != nil {
		return err
	}
	if r.Fields == nil {
		r.Fields = map[string]interface{}{}
	}
	parts := strings.Split(fieldKey, ".")
	current := r.Fields
	for i, part := range parts[:len(parts)-1] {
		next, exists := current[part]
		if !exists || next == nil {
			child := map[string]interface{}{}
			current[part] = child
			current = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("field %s is not an object", strings.Join(parts[:i+1], "."))
		}
		current = child
	}
	current[parts[len(parts)-1]] = v.Interface()
	return nil
}

// AddLabel appends label unless already present and reports whether it was
// added.
func (r *Record) AddLabel(label string) bool {
	for _, existing := range r.Labels {
		if existing == label {
			return false
		}
	}
	r.Labels = append(r.Labels, label)
	return true
}

// AddComment appends a comment and returns it.
func (r *Record) AddComment(body RichText, at time.Time) Comment {
	c := Comment{ID: uuid.New().String(), Body: body, Created: at.UTC()}
	r.Comments = append(r.Comments, c)
	return c
}

// Clone returns a deep copy through the record's JSON form.
func (r *Record) Clone() (*Record, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var cp Record
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	if cp.Fields == nil {
		cp.Fields = map[string]interface{}{}
	}
	return &cp, nil
}

// commentResponse is the payload local providers return from AddComment.
func commentResponse(subjectID string, c Comment) map[string]interface{} {
	return map[string]interface{}{
		"id":      c.ID,
		"subject": subjectID,
		"created": c.Created.Format(time.RFC3339),
		"body":    c.Body,
	}
}
