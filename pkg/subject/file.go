package subject

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dshills/decisionflow/pkg/validation"
	"github.com/dshills/decisionflow/pkg/value"
)

// FileProvider stores one JSON document per subject in a directory. Writes
// go through a temp file and rename so readers never see partial files.
type FileProvider struct {
	paths *validation.PathValidator
	mu    sync.Mutex
	now   func() time.Time
}

// NewFileProvider creates a provider rooted at dir, creating it if needed.
func NewFileProvider(dir string) (*FileProvider, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subjects directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create subjects directory: %w", err)
	}
	paths, err := validation.NewPathValidator(abs)
	if err != nil {
		return nil, err
	}
	return &FileProvider{paths: paths, now: time.Now}, nil
}

// Dir returns the directory subjects are stored in.
func (p *FileProvider) Dir() string {
	return p.paths.Base()
}

// Put writes rec to disk, replacing any existing document.
func (p *FileProvider) Put(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("cannot save nil subject")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.save(rec)
}

// Get loads a subject document.
func (p *FileProvider) Get(subjectID string) (*Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(subjectID)
}

// List returns the IDs of all stored subjects, sorted.
func (p *FileProvider) List() ([]string, error) {
	entries, err := os.ReadDir(p.paths.Base())
	if err != nil {
		return nil, fmt.Errorf("failed to read subjects directory: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *FileProvider) ReadField(ctx context.Context, subjectID, fieldKey string) (value.Value, error) {
	if err := ctx.Err(); err != nil {
		return value.Null(), err
	}
	rec, err := p.Get(subjectID)
	if err != nil {
		return value.Null(), err
	}
	return rec.Read(fieldKey)
}

func (p *FileProvider) WriteField(ctx context.Context, subjectID, fieldKey string, v value.Value) error {
	return p.update(ctx, subjectID, func(rec *Record) error {
		return rec.Write(fieldKey, v)
	})
}

func (p *FileProvider) AddLabel(ctx context.Context, subjectID, label string) error {
	return p.update(ctx, subjectID, func(rec *Record) error {
		rec.AddLabel(label)
		return nil
	})
}

func (p *FileProvider) AddComment(ctx context.Context, subjectID string, body RichText) (interface{}, error) {
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

func (p *FileProvider) update(ctx context.Context, subjectID string, fn func(*Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, err := p.load(subjectID)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	return p.save(rec)
}

func (p *FileProvider) path(subjectID string) (string, error) {
	if err := validation.ValidateIdentifier("subject ID", subjectID); err != nil {
		return "", err
	}
	return p.paths.Validate(subjectID + ".json")
}

func (p *FileProvider) load(subjectID string) (*Record, error) {
	path, err := p.path(subjectID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read subject file: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse subject %s: %w", subjectID, err)
	}
	if rec.ID == "" {
		rec.ID = subjectID
	}
	if rec.Fields == nil {
		rec.Fields = map[string]interface{}{}
	}
	return &rec, nil
}

func (p *FileProvider) save(rec *Record) error {
	path, err := p.path(rec.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal subject %s: %w", rec.ID, err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write subject file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to save subject file: %w", err)
	}
	return nil
}
