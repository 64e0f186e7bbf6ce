package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/decisionflow/pkg/log"
	"github.com/dshills/decisionflow/pkg/storage"
)

const maxCredentialSize = 1 << 20 // 1MB limit for all credential inputs

func newCredentialStore() storage.CredentialStore {
	return storage.NewKeyringCredentialStore(log.L())
}

// isOnlyWhitespace checks if a byte slice contains only Unicode whitespace
// characters without allocating strings.
func isOnlyWhitespace(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return false
		}
		if !unicode.IsSpace(r) {
			return false
		}
		i += size
	}
	return true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// NewCredentialCommand creates the credential management command
func NewCredentialCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage tracker credentials",
		Long: `Manage API tokens for the REST subject provider in the system keyring.
Credentials are stored in your system's native credential store (Keychain on macOS,
Credential Manager on Windows, Secret Service on Linux) and never in plain text files.
config.yaml refers to a token by name through subjects.credential_key.`,
	}

	cmd.AddCommand(newCredentialSetCommand())
	cmd.AddCommand(newCredentialDeleteCommand())
	cmd.AddCommand(newCredentialListCommand())

	return cmd
}

func newCredentialSetCommand() *cobra.Command {
	var (
		val      string
		useStdin bool
	)

	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Store a credential",
		Long: `Store a credential in the system keyring under <key>.

Examples:
  # Prompt for the value without echo
  decisionflow credential set tracker-token

  # Read the value from stdin (automation)
  printf '%s' "$TRACKER_TOKEN" | decisionflow credential set tracker-token --stdin

Note:
  - Values are limited to 1MB
  - --stdin reads until EOF; only trailing CR/LF characters are removed
  - Whitespace-only values are rejected
  - Values are never displayed by decisionflow commands`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if strings.TrimSpace(key) == "" {
				return fmt.Errorf("credential key cannot be empty")
			}

			var secret string
			switch {
			case useStdin:
				input, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxCredentialSize+1))
				defer zero(input)
				if err != nil {
					return fmt.Errorf("failed to read from stdin: %w", err)
				}
				if len(input) > maxCredentialSize {
					return fmt.Errorf("credential value exceeds maximum size of %d bytes", maxCredentialSize)
				}
				trimmed := bytes.TrimRight(input, "\r\n")
				if len(trimmed) == 0 {
					return fmt.Errorf("credential value cannot be empty")
				}
				if isOnlyWhitespace(trimmed) {
					return fmt.Errorf("credential cannot contain only whitespace characters")
				}
				secret = string(trimmed)

			case val != "":
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Warning: Using --value flag exposes credential in shell history.")
				if len(val) > maxCredentialSize {
					return fmt.Errorf("credential value exceeds maximum size of %d bytes", maxCredentialSize)
				}
				if strings.TrimSpace(val) == "" {
					return fmt.Errorf("credential cannot contain only whitespace characters")
				}
				secret = val

			default:
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Enter value for '%s': ", key)
				password, err := term.ReadPassword(int(os.Stdin.Fd()))
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
				defer zero(password)
				if err != nil {
					return fmt.Errorf("failed to read credential value: %w", err)
				}
				if len(password) > maxCredentialSize {
					return fmt.Errorf("credential value exceeds maximum size of %d bytes", maxCredentialSize)
				}
				if isOnlyWhitespace(password) {
					return fmt.Errorf("credential cannot contain only whitespace characters")
				}
				secret = string(password)
			}

			if err := newCredentialStore().Set(key, secret); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Credential '%s' stored\n", key)
			return nil
		},
	}

	cmd.Flags().StringVar(&val, "value", "", "Credential value (prompted securely if omitted)")
	cmd.Flags().BoolVar(&useStdin, "stdin", false, "Read the credential value from stdin")
	cmd.MarkFlagsMutuallyExclusive("stdin", "value")

	return cmd
}

func newCredentialDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := newCredentialStore().Delete(args[0])
			if errors.Is(err, storage.ErrCredentialNotFound) {
				return fmt.Errorf("no credential named '%s'", args[0])
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Credential '%s' deleted\n", args[0])
			return nil
		},
	}
}

func newCredentialListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credential names",
		Long:  `List the names of stored credentials. Values are never shown.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := newCredentialStore().List()
			if err != nil {
				return fmt.Errorf("failed to list credentials: %w", err)
			}
			if len(keys) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No credentials configured.")
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "\nAdd one with: decisionflow credential set <key>")
				return nil
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "CREDENTIAL KEY\tSTATUS")
			_, _ = fmt.Fprintln(w, "──────────────\t──────")
			for _, k := range keys {
				_, _ = fmt.Fprintf(w, "%s\tset\n", k)
			}
			return w.Flush()
		},
	}
}
