package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/decisionflow/pkg/subject"
)

// subjectDocument is the import format of a local subject.
type subjectDocument struct {
	ID     string                 `yaml:"id"`
	Fields map[string]interface{} `yaml:"fields"`
	Labels []string               `yaml:"labels"`
}

// NewSubjectCommand creates the command managing local subjects
func NewSubjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subject",
		Short: "Manage local subjects",
		Long: `Manage subjects kept by the file subject provider. Each subject is a JSON
document in the subjects directory. These commands are unavailable when
config.yaml selects the rest provider.`,
	}

	cmd.AddCommand(newSubjectImportCommand())
	cmd.AddCommand(newSubjectListCommand())
	cmd.AddCommand(newSubjectShowCommand())

	return cmd
}

func localSubjects() (*subject.FileProvider, error) {
	cfg, err := loadFileConfig(GetConfigPath())
	if err != nil {
		return nil, err
	}
	if cfg.Subjects.Provider != "" && cfg.Subjects.Provider != ProviderFile {
		return nil, fmt.Errorf("subject commands need the file provider, config uses %q", cfg.Subjects.Provider)
	}
	return openFileProvider(cfg.Subjects)
}

func newSubjectImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or replace a subject from YAML or JSON",
		Long: `Create or replace a local subject. The file holds an id, a map of fields and
an optional list of labels:

  id: ISSUE-1
  fields:
    status: Open
    assignee: {name: alice}
  labels: [backend]

Without an id the file name (minus extension) is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			var doc subjectDocument
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}
			if doc.ID == "" {
				base := filepath.Base(args[0])
				doc.ID = strings.TrimSuffix(base, filepath.Ext(base))
			}

			provider, err := localSubjects()
			if err != nil {
				return err
			}
			rec := subject.NewRecord(doc.ID, doc.Fields)
			for _, l := range doc.Labels {
				rec.AddLabel(l)
			}
			if err := provider.Put(rec); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Subject '%s' saved\n", doc.ID)
			return nil
		},
	}
}

func newSubjectListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local subjects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := localSubjects()
			if err != nil {
				return err
			}
			ids, err := provider.List()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No subjects in %s.\n", provider.Dir())
				return nil
			}
			for _, id := range ids {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newSubjectShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <subject-id>",
		Short: "Print a local subject as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := localSubjects()
			if err != nil {
				return err
			}
			rec, err := provider.Get(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}
