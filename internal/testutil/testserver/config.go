// Package testserver emulates the subset of an issue tracker's REST v3 API
// that the REST subject provider uses. It serves subjects from a local
// record store and is meant for development and integration tests.
package testserver

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Environment variables read by LoadConfig.
const (
	EnvAddr        = "DECISIONFLOW_TESTSERVER_ADDR"
	EnvSubjectsDir = "DECISIONFLOW_TESTSERVER_SUBJECTS_DIR"
	EnvToken       = "DECISIONFLOW_TESTSERVER_TOKEN"
	EnvMaxBodySize = "DECISIONFLOW_TESTSERVER_MAX_BODY_SIZE"
)

// ServerConfig configures the test tracker.
type ServerConfig struct {
	// Addr is the listen address of the standalone server.
	Addr string

	// SubjectsDir holds one JSON record per issue (must be absolute).
	SubjectsDir string

	// Token, when set, must be presented as "Authorization: Bearer <token>".
	Token string

	// MaxBodySize caps request bodies in bytes.
	MaxBodySize int64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the defaults: listen on localhost:8089, subjects
// under the temp directory, no token and a 1MB body limit.
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Addr:         "127.0.0.1:8089",
		SubjectsDir:  filepath.Join(os.TempDir(), "decisionflow-tracker"),
		MaxBodySize:  1 << 20,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// LoadConfig applies DECISIONFLOW_TESTSERVER_* overrides to DefaultConfig.
// Unparseable numeric overrides are ignored.
func LoadConfig() *ServerConfig {
	config := DefaultConfig()

	if addr := os.Getenv(EnvAddr); addr != "" {
		config.Addr = addr
	}
	if dir := os.Getenv(EnvSubjectsDir); dir != "" {
		config.SubjectsDir = dir
	}
	if token := os.Getenv(EnvToken); token != "" {
		config.Token = token
	}
	if sizeStr := os.Getenv(EnvMaxBodySize); sizeStr != "" {
		if size, err := strconv.ParseInt(sizeStr, 10, 64); err == nil && size > 0 {
			config.MaxBodySize = size
		}
	}

	return config
}

// Validate checks the configuration.
func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.SubjectsDir == "" {
		return fmt.Errorf("subjects directory cannot be empty")
	}
	if !filepath.IsAbs(c.SubjectsDir) {
		return fmt.Errorf("subjects directory must be an absolute path: %s", c.SubjectsDir)
	}
	if c.MaxBodySize <= 0 {
		return fmt.Errorf("max body size must be positive, got %d", c.MaxBodySize)
	}
	return nil
}
