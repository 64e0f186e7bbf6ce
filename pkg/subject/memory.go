package subject

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/decisionflow/pkg/value"
)

// MemoryProvider keeps subjects in process memory.
type MemoryProvider struct {
	mu       sync.RWMutex
	subjects map[string]*Record
	now      func() time.Time
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		subjects: make(map[string]*Record),
		now:      time.Now,
	}
}

// Put stores a copy of rec, replacing any subject with the same ID.
func (p *MemoryProvider) Put(rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("subject record must have an ID")
	}
	cp, err := rec.Clone()
	if err != nil {
		return fmt.Errorf("failed to copy subject %s: %w", rec.ID, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects[rec.ID] = cp
	return nil
}

// Get returns a copy of the stored subject.
func (p *MemoryProvider) Get(subjectID string) (*Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.subjects[subjectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, subjectID)
	}
	return rec.Clone()
}

func (p *MemoryProvider) ReadField(ctx context.Context, subjectID, fieldKey string) (value.Value, error) {
	if err := ctx.Err(); err != nil {
		return value.Null(), err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.subjects[subjectID]
	if !ok {
		return value.Null(), fmt.Errorf("%w: %s", ErrSubjectNotFound, subjectID)
	}
	return rec.Read(fieldKey)
}

func (p *MemoryProvider) WriteField(ctx context.Context, subjectID, fieldKey string, v value.Value) error {
	return p.update(ctx, subjectID, func(rec *Record) error {
		return rec.Write(fieldKey, v)
	})
}

func (p *MemoryProvider) AddLabel(ctx context.Context, subjectID, label string) error {
	return p.update(ctx, subjectID, func(rec *Record) error {
		rec.AddLabel(label)
		return nil
	})
}

func (p *MemoryProvider) AddComment(ctx context.Context, subjectID string, body RichText) (interface{}, error) {
	var resp map[string]interface{}
	err := p.update(ctx, subjectID, func(rec *Record) error {
		resp = commentResponse(subjectID, rec.AddComment(body, p.now()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *MemoryProvider) update(ctx context.Context, subjectID string, fn func(*Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.subjects[subjectID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubjectNotFound, subjectID)
	}
	return fn(rec)
}
