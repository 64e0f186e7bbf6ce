// Package mocks provides a scriptable subject provider for engine tests.
package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/dshills/decisionflow/pkg/subject"
	"github.com/dshills/decisionflow/pkg/value"
)

// ErrInjected is the default error returned by failing calls.
var ErrInjected = errors.New("injected provider failure")

// Call records one provider invocation.
type Call struct {
	Method    string
	SubjectID string
	Key       string // field key or label
	Value     value.Value
	Comment   subject.RichText
}

// Provider is an in-memory subject.Provider that records calls and can be
// told to fail. Fields are keyed by subject then field.
type Provider struct {
	mu     sync.Mutex
	fields map[string]map[string]value.Value
	calls  []Call

	// FailReads makes ReadField fail with ReadErr (ErrInjected if nil).
	FailReads bool
	ReadErr   error
	// FailWrites makes every write fail with WriteErr (ErrInjected if nil).
	FailWrites bool
	WriteErr   error
	// PanicOnWrite makes every write panic.
	PanicOnWrite bool
}

// NewProvider creates an empty provider.
func NewProvider() *Provider {
	return &Provider{fields: make(map[string]map[string]value.Value)}
}

// SetField seeds a field value.
func (p *Provider) SetField(subjectID, fieldKey string, v value.Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fields[subjectID] == nil {
		p.fields[subjectID] = make(map[string]value.Value)
	}
	p.fields[subjectID][fieldKey] = v
}

// Calls returns the recorded calls in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsTo returns the recorded calls of one method.
func (p *Provider) CallsTo(method string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (p *Provider) ReadField(_ context.Context, subjectID, fieldKey string) (value.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "ReadField", SubjectID: subjectID, Key: fieldKey})
	if p.FailReads {
		return value.Null(), orInjected(p.ReadErr)
	}
	return p.fields[subjectID][fieldKey], nil
}

func (p *Provider) WriteField(_ context.Context, subjectID, fieldKey string, v value.Value) error {
	if err := p.write(Call{Method: "WriteField", SubjectID: subjectID, Key: fieldKey, Value: v}); err != nil {
		return err
	}
	p.SetField(subjectID, fieldKey, v)
	return nil
}

func (p *Provider) AddLabel(_ context.Context, subjectID, label string) error {
	return p.write(Call{Method: "AddLabel", SubjectID: subjectID, Key: label})
}

func (p *Provider) AddComment(_ context.Context, subjectID string, body subject.RichText) (interface{}, error) {
	if err := p.write(Call{Method: "AddComment", SubjectID: subjectID, Comment: body}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": "comment-1"}, nil
}

func (p *Provider) write(c Call) error {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	failWrites, panicOnWrite, writeErr := p.FailWrites, p.PanicOnWrite, p.WriteErr
	p.mu.Unlock()

	if panicOnWrite {
		panic("provider exploded")
	}
	if failWrites {
		return orInjected(writeErr)
	}
	return nil
}

func orInjected(err error) error {
	if err == nil {
		return ErrInjected
	}
	return err
}
