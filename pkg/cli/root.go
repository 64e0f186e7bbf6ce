// Package cli implements the decisionflow command line: flow management,
// answer submission and execution inspection.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/decisionflow/pkg/log"
)

const (
	// Version is the current version of decisionflow
	Version = "1.0.0"

	configDirEnv = "DECISIONFLOW_CONFIG_DIR"
)

// Config holds the global configuration for the CLI
type Config struct {
	ConfigDir string
	Debug     bool
}

// GlobalConfig is the shared configuration instance
var GlobalConfig = &Config{}

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisionflow",
		Short: "decisionflow - guided decision flows for tracked work items",
		Long: `decisionflow walks a subject (an issue, a ticket) through a stored decision flow.
Each answer is recorded, branches are evaluated against the subject's live fields,
and the effect at the end of the path is applied and written to an audit log.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			level := zapcore.WarnLevel
			if GlobalConfig.Debug {
				level = zapcore.DebugLevel
			}
			log.Init(level)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Sync()
		},
	}

	cmd.PersistentFlags().BoolVar(&GlobalConfig.Debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&GlobalConfig.ConfigDir, "config-dir", "", "Configuration directory (default: ~/.decisionflow)")

	cmd.AddCommand(NewFlowCommand())
	cmd.AddCommand(NewSubjectCommand())
	cmd.AddCommand(NewStartCommand())
	cmd.AddCommand(NewAnswerCommand())
	cmd.AddCommand(NewResetCommand())
	cmd.AddCommand(NewStateCommand())
	cmd.AddCommand(NewAuditCommand())
	cmd.AddCommand(NewCredentialCommand())

	return cmd
}

// initConfig creates the configuration directory and a default config file
func initConfig() error {
	GlobalConfig.ConfigDir = GetConfigDir()

	if err := os.MkdirAll(GlobalConfig.ConfigDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := GetConfigPath()
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err := writeFileConfig(configFile, defaultFileConfig()); err != nil {
			return err
		}
	}

	return nil
}

// GetConfigDir returns the configuration directory path
// Priority order: 1) DECISIONFLOW_CONFIG_DIR env var, 2) --config-dir, 3) ~/.decisionflow
func GetConfigDir() string {
	if envDir := os.Getenv(configDirEnv); envDir != "" {
		return envDir
	}
	if GlobalConfig.ConfigDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ".decisionflow"
		}
		return filepath.Join(homeDir, ".decisionflow")
	}
	return GlobalConfig.ConfigDir
}

// GetConfigPath returns the path to config.yaml
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}
