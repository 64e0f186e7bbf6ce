package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/decisionflow/pkg/execution"
	"github.com/dshills/decisionflow/pkg/log"
	"github.com/dshills/decisionflow/pkg/storage"
	"github.com/dshills/decisionflow/pkg/subject"
)

// Subject provider names accepted in config.yaml.
const (
	ProviderFile = "file"
	ProviderREST = "rest"
)

// FileConfig is the content of config.yaml.
type FileConfig struct {
	Version  string         `yaml:"version"`
	Storage  storage.Config `yaml:"storage"`
	Subjects SubjectConfig  `yaml:"subjects"`
	Engine   EngineConfig   `yaml:"engine,omitempty"`
}

// SubjectConfig selects where subjects live.
type SubjectConfig struct {
	Provider string `yaml:"provider"`

	// file provider; relative to the config directory
	Dir string `yaml:"dir,omitempty"`

	// rest provider
	BaseURL       string        `yaml:"base_url,omitempty"`
	CredentialKey string        `yaml:"credential_key,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	StrictCursor bool `yaml:"strict_cursor,omitempty"`
	MaxAutoSteps int  `yaml:"max_auto_steps,omitempty"`
}

func defaultFileConfig() *FileConfig {
	return &FileConfig{
		Version: "1.0",
		Storage: storage.Config{
			Backend: storage.BackendSQLite,
			Path:    "decisionflow.db",
		},
		Subjects: SubjectConfig{
			Provider: ProviderFile,
			Dir:      "subjects",
		},
	}
}

func loadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultFileConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := defaultFileConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

func writeFileConfig(path string, cfg *FileConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// runtime is everything a command needs, opened from config.yaml.
type runtime struct {
	kv       storage.KV
	flows    *storage.FlowStore
	states   *storage.StateStore
	audit    *storage.AuditLog
	provider subject.Provider
	engine   *execution.Engine
}

func (r *runtime) Close() error {
	r.engine.Close()
	return r.kv.Close()
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadFileConfig(GetConfigPath())
	if err != nil {
		return nil, err
	}

	logger := log.L()
	kv, err := storage.Open(ctx, cfg.Storage, GetConfigDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	provider, err := openProvider(cfg.Subjects)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	r := &runtime{
		kv:       kv,
		flows:    storage.NewFlowStore(kv, logger),
		states:   storage.NewStateStore(kv),
		audit:    storage.NewAuditLog(kv),
		provider: provider,
	}
	r.engine = execution.New(r.flows, r.states, r.audit, provider,
		execution.WithLogger(logger),
		execution.WithStrictCursor(cfg.Engine.StrictCursor),
		execution.WithMaxAutoSteps(cfg.Engine.MaxAutoSteps),
	)
	return r, nil
}

func openProvider(cfg SubjectConfig) (subject.Provider, error) {
	switch cfg.Provider {
	case "", ProviderFile:
		return openFileProvider(cfg)
	case ProviderREST:
		if cfg.CredentialKey == "" {
			return nil, fmt.Errorf("rest subject provider requires credential_key")
		}
		return subject.NewRESTProvider(subject.RESTConfig{
			BaseURL:       cfg.BaseURL,
			CredentialKey: cfg.CredentialKey,
			Credentials:   storage.NewKeyringCredentialStore(log.L()),
			Timeout:       cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown subject provider %q", cfg.Provider)
	}
}

func openFileProvider(cfg SubjectConfig) (*subject.FileProvider, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "subjects"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(GetConfigDir(), dir)
	}
	return subject.NewFileProvider(dir)
}
