package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathValidator resolves user-supplied relative paths inside a base
// directory. Safe for concurrent use; it holds no mutable state.
type PathValidator struct {
	basePath     string
	resolvedBase string
	maxPathLen   int
}

// PathError describes a rejected path.
type PathError struct {
	UserPath     string
	Reason       string
	ResolvedPath string
}

func (e *PathError) Error() string {
	if e.ResolvedPath != "" {
		return fmt.Sprintf("path validation failed: %s (input: %s, resolved: %s)",
			e.Reason, e.UserPath, e.ResolvedPath)
	}
	return fmt.Sprintf("path validation failed: %s (input: %s)", e.Reason, e.UserPath)
}

// NewPathValidator creates a validator rooted at basePath, which must be an
// existing absolute directory.
func NewPathValidator(basePath string) (*PathValidator, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if !filepath.IsAbs(basePath) {
		return nil, fmt.Errorf("base path must be absolute: %s", basePath)
	}
	info, err := os.Stat(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("base path does not exist: %s", basePath)
		}
		return nil, fmt.Errorf("cannot access base path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path is not a directory: %s", basePath)
	}
	resolvedBase, err := filepath.EvalSymlinks(basePath)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve symbolic links in base path: %w", err)
	}
	return &PathValidator{
		basePath:     basePath,
		resolvedBase: resolvedBase,
		maxPathLen:   1024,
	}, nil
}

// Base returns the directory the validator is rooted at.
func (v *PathValidator) Base() string {
	return v.basePath
}

// Validate returns the absolute resolved path for userPath, or a
// *PathError if the path is empty, too long, absolute, or escapes the base
// directory lexically or through a symlink. The target need not exist.
func (v *PathValidator) Validate(userPath string) (string, error) {
	reject := func(reason, resolved string) (string, error) {
		return "", &PathError{UserPath: userPath, Reason: reason, ResolvedPath: resolved}
	}

	if userPath == "" {
		return reject("path cannot be empty", "")
	}
	if len(userPath) > v.maxPathLen {
		return reject(fmt.Sprintf("path length exceeds maximum of %d bytes", v.maxPathLen), "")
	}
	if !filepath.IsLocal(userPath) {
		return reject("path escapes allowed directory", "")
	}

	fullPath := filepath.Join(v.basePath, filepath.Clean(userPath))
	resolved, err := resolveExisting(fullPath)
	if err != nil {
		return reject("cannot resolve path", "")
	}

	rel, err := filepath.Rel(v.resolvedBase, resolved)
	if err != nil {
		return reject("path is not relative to base", resolved)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return reject("resolved path escapes base directory", resolved)
	}
	return resolved, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of path
// and re-appends the missing tail.
func resolveExisting(path string) (string, error) {
	var tail []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			parts := append([]string{resolved}, tail...)
			return filepath.Join(parts...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
	}
}

// ValidateSecurePath validates a single path without keeping a validator.
func ValidateSecurePath(basePath, userPath string) (string, error) {
	v, err := NewPathValidator(basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}
	return v.Validate(userPath)
}
