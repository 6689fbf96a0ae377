package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fyreflow/engine/internal/secrets"
)

// newSecretsCommand manages OS-keyring-backed provider credentials on the
// machine fyreflowd runs on. It operates on the local keyring directly
// rather than through --server, since the keyring it writes to is the same
// one fyreflowd reads "keyring:<name>" references from at startup.
func newSecretsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage OS-keyring-backed provider credentials",
		Long: `Store and delete provider credentials in the OS keyring that
fyreflowd resolves "keyring:<name>" references against.

This operates on the local machine's keyring directly; it does not talk to
--server. Run it on the same host fyreflowd runs on.`,
	}

	cmd.AddCommand(newSecretsSetCommand())
	cmd.AddCommand(newSecretsDeleteCommand())
	return cmd
}

func newSecretsSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a credential in the OS keyring under <name>",
		Long: `Store a credential in the OS keyring under <name>, for later
reference in fyreflowd's config as "keyring:<name>".

The value is read from stdin if piped, otherwise prompted for with input
hidden from the terminal.

Example:
  fyreflow secrets set anthropic
  echo "sk-ant-..." | fyreflow secrets set anthropic`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			value, err := readSecretValue(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read secret value: %w", err)
			}
			if value == "" {
				return errors.New("secret value cannot be empty")
			}

			store := secrets.NewKeyringStore("fyreflow")
			if !store.Available() {
				return errors.New("OS keyring unavailable on this machine")
			}
			if err := store.Set(name, value); err != nil {
				return fmt.Errorf("failed to store secret: %w", err)
			}
			cmd.Printf("Stored %q; reference it as \"keyring:%s\" in config\n", name, name)
			return nil
		},
	}
}

func newSecretsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a credential from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			store := secrets.NewKeyringStore("fyreflow")
			if !store.Available() {
				return errors.New("OS keyring unavailable on this machine")
			}
			if err := store.Delete(name); err != nil {
				return fmt.Errorf("failed to delete secret: %w", err)
			}
			cmd.Printf("Deleted %q\n", name)
			return nil
		},
	}
}

// readSecretValue reads a piped value verbatim, or prompts with masked
// input when stdin is an interactive terminal.
func readSecretValue(stdin io.Reader) (string, error) {
	f, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	fmt.Print("Enter secret value (hidden): ")
	bytePassword, err := term.ReadPassword(int(f.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(bytePassword)), nil
}
