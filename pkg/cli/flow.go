package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/decisionflow/pkg/flow"
)

// NewFlowCommand creates the flow management command
func NewFlowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage decision flows",
	}

	cmd.AddCommand(newFlowImportCommand())
	cmd.AddCommand(newFlowListCommand())
	cmd.AddCommand(newFlowShowCommand())
	cmd.AddCommand(newFlowDeleteCommand())
	cmd.AddCommand(newFlowValidateCommand())

	return cmd
}

// loadFlowFile reads a YAML flow, checks it against the schema and parses it.
func loadFlowFile(path string) (*flow.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := flow.ValidateDocument(data); err != nil {
		return nil, err
	}
	return flow.Parse(data)
}

func printIssues(cmd *cobra.Command, issues []flow.Issue) (errorsFound int) {
	for _, issue := range issues {
		if issue.Severity == flow.SeverityError {
			errorsFound++
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", issue)
	}
	return errorsFound
}

func newFlowImportCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import a flow from YAML",
		Long: `Import a decision flow from a YAML file. The document is checked against the
flow schema, then structurally validated. Graph warnings (unreachable nodes,
branches without both edges) are printed but do not block the import unless
they are errors. Use --force to store a flow with graph errors; executions
of such a flow halt at a dead end where the graph is incomplete.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadFlowFile(args[0])
			if err != nil {
				return err
			}

			issues := f.Analyze()
			if len(issues) > 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Flow '%s' has %d issue(s):\n", f.Name, len(issues))
			}
			if n := printIssues(cmd, issues); n > 0 && !force {
				return fmt.Errorf("flow has %d error(s); use --force to import anyway", n)
			}

			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if err := rt.flows.SaveFlow(cmd.Context(), f); err != nil {
				return fmt.Errorf("failed to save flow: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Flow '%s' imported as %s\n", f.Name, f.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Import even when the graph has errors")
	return cmd
}

func newFlowListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			flows, err := rt.flows.ListFlows(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list flows: %w", err)
			}
			if len(flows) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No flows stored.")
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "\nImport one with: decisionflow flow import <file.yaml>")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tVERSION\tNODES\tGROUPS")
			for _, f := range flows {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					f.ID, f.Name, f.Version, len(f.Nodes), strings.Join(f.BoundSubjectGroups, ","))
			}
			return w.Flush()
		},
	}
}

func newFlowShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <flow-id>",
		Short: "Print a stored flow as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			f, err := rt.flows.GetFlow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := flow.ToYAML(f)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newFlowDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <flow-id>",
		Short: "Delete a flow and its execution states",
		Long: `Delete a stored flow together with every execution state bound to it.
Audit entries are kept and remain visible through 'decisionflow audit'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			subjects, err := rt.flows.Subjects(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := rt.flows.DeleteFlow(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, flow.ErrFlowNotFound) {
					return fmt.Errorf("flow not found: %s", args[0])
				}
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Flow '%s' deleted (%d execution(s) removed)\n", args[0], len(subjects))
			return nil
		},
	}
}

func newFlowValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.yaml>",
		Short: "Validate a flow file without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadFlowFile(args[0])
			if err != nil {
				return err
			}

			issues := f.Analyze()
			if len(issues) == 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Flow '%s' is valid (%d nodes, %d edges)\n", f.Name, len(f.Nodes), len(f.Edges))
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Flow '%s':\n", f.Name)
			if n := printIssues(cmd, issues); n > 0 {
				return fmt.Errorf("flow has %d error(s)", n)
			}
			return nil
		},
	}
}
