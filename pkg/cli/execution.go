package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	domain "github.com/dshills/decisionflow/pkg/domain/execution"
	"github.com/dshills/decisionflow/pkg/execution"
	"github.com/dshills/decisionflow/pkg/value"
)

// NewStartCommand creates the command that begins an execution
func NewStartCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "start <subject-id> <flow-id>",
		Short: "Begin a flow for a subject",
		Long: `Submit the start node of a flow for a subject. The execution advances to the
first question (or through branches to an effect) and the resulting state is
printed. Starting an execution that is already under way restarts traversal
from the start node but keeps recorded answers; use 'reset' to clear them.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			f, err := rt.flows.GetFlow(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			return submit(cmd, rt, args[0], args[1], f.StartID(), value.Null(), verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print engine events")
	return cmd
}

// NewAnswerCommand creates the command submitting an answer
func NewAnswerCommand() *cobra.Command {
	var (
		verbose bool
		null    bool
	)

	cmd := &cobra.Command{
		Use:   "answer <subject-id> <flow-id> <node-id> [value]",
		Short: "Submit an answer to a question",
		Long: `Submit an answer for a question node. The value is converted to the
question's kind: numbers for number questions, YYYY-MM-DD dates for date
questions and comma separated lists for multiple choice questions. Omit the
value or pass --null to submit no answer.

Examples:
  decisionflow answer ISSUE-1 triage q1 A
  decisionflow answer ISSUE-1 triage components "api, web"
  decisionflow answer ISSUE-1 triage due 2024-06-30`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			answer := value.Null()
			if len(args) == 4 && !null {
				answer = value.String(args[3])
			}

			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			return submit(cmd, rt, args[0], args[1], args[2], answer, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print engine events")
	cmd.Flags().BoolVar(&null, "null", false, "Submit a null answer")
	return cmd
}

func submit(cmd *cobra.Command, rt *runtime, subjectID, flowID, nodeID string, answer value.Value, verbose bool) error {
	var events <-chan execution.Event
	if verbose {
		events = rt.engine.SubscribeFiltered(execution.EventFilter{SubjectID: subjectID, FlowID: flowID})
	}

	state, err := rt.engine.SubmitAnswer(cmd.Context(), subjectID, flowID, nodeID, answer)

	if events != nil {
		rt.engine.Unsubscribe(events)
		for ev := range events {
			printEvent(cmd.OutOrStdout(), ev)
		}
	}
	if err != nil {
		return err
	}
	return printState(cmd.OutOrStdout(), state)
}

// NewResetCommand creates the command clearing an execution
func NewResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <subject-id> <flow-id>",
		Short: "Clear the state of an execution",
		Long: `Delete the stored state of an execution. The next 'start' begins from scratch.
The audit log of the execution is kept.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			state, err := rt.engine.ResetExecution(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Execution of '%s' for '%s' reset\n", args[1], args[0])
			return printState(cmd.OutOrStdout(), state)
		},
	}
}

// NewStateCommand creates the command printing an execution state
func NewStateCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "state <subject-id> <flow-id>",
		Short: "Show the state of an execution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			state, err := rt.engine.GetExecutionState(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), state)
			}
			return printState(cmd.OutOrStdout(), state)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the state as JSON")
	return cmd
}

// NewAuditCommand creates the command listing executed effects
func NewAuditCommand() *cobra.Command {
	var (
		asJSON bool
		tail   int
	)

	cmd := &cobra.Command{
		Use:   "audit <subject-id> <flow-id>",
		Short: "List the effects executed for a subject",
		Long: `List the audit entries of an execution, newest first. Entries survive
resets and flow deletion.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tail < 0 {
				return fmt.Errorf("--tail must not be negative")
			}

			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			entries, err := rt.engine.ListAuditEntries(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			entries = domain.NewestFirst(entries)
			if tail > 0 && len(entries) > tail {
				entries = entries[:tail]
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No effects executed.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TIMESTAMP\tNODE\tEFFECT\tRESULT")
			for _, e := range entries {
				result := "ok"
				if !e.Result.Success {
					result = "failed: " + e.Result.Error
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.Timestamp.Format(time.RFC3339), e.NodeID, e.Effect.EffectKind, result)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	cmd.Flags().IntVar(&tail, "tail", 0, "Show only the N newest entries")
	return cmd
}

func printState(w io.Writer, state *domain.State) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Current node:\t%s\n", state.CurrentNodeID)
	_, _ = fmt.Fprintf(tw, "Completed:\t%t\n", state.Completed)
	if state.Halt != domain.HaltNone {
		_, _ = fmt.Fprintf(tw, "Halt:\t%s\n", state.Halt)
	}
	if state.LastActionSucceeded != nil {
		_, _ = fmt.Fprintf(tw, "Last action succeeded:\t%t\n", *state.LastActionSucceeded)
	}
	if len(state.Path) > 0 {
		_, _ = fmt.Fprintf(tw, "Path:\t%s\n", strings.Join(state.Path, " → "))
	}
	if len(state.Answers) > 0 {
		nodes := make([]string, 0, len(state.Answers))
		for id := range state.Answers {
			nodes = append(nodes, id)
		}
		sort.Strings(nodes)
		_, _ = fmt.Fprintln(tw, "Answers:")
		for _, id := range nodes {
			_, _ = fmt.Fprintf(tw, "  %s\t%s\n", id, state.Answers[id])
		}
	}
	return tw.Flush()
}

func printEvent(w io.Writer, ev execution.Event) {
	line := fmt.Sprintf("[%s] %s", ev.Type, ev.NodeID)
	if len(ev.Metadata) > 0 {
		keys := make([]string, 0, len(ev.Metadata))
		for k := range ev.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			line += fmt.Sprintf(" %s=%v", k, ev.Metadata[k])
		}
	}
	_, _ = fmt.Fprintln(w, strings.TrimSpace(line))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
