package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moltbunker/solverbond/internal/identity"
)

// PasswordEnv unlocks the wallet without a prompt when set.
const PasswordEnv = "SOLVERBOND_WALLET_PASSWORD"

// NewWalletCmd creates the wallet command group
func NewWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the solver operator key",
		Long: `Manage the operator key used to sign intent receipts.

The key is stored as an encrypted keystore file (geth V3 format).
These commands operate directly on keystore files, no daemon needed.

Examples:
  solverbond wallet create   # Generate a new key
  solverbond wallet import   # Import from a private key
  solverbond wallet show     # Show address and keystore path`,
	}

	cmd.AddCommand(newWalletCreateCmd())
	cmd.AddCommand(newWalletImportCmd())
	cmd.AddCommand(newWalletShowCmd())
	return cmd
}

// newPassword prompts twice and retries up to three times.
func newPassword() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		password, err := readPassword("Enter wallet password: ")
		if err != nil {
			return "", err
		}
		if len(password) < identity.MinPasswordLength {
			fmt.Fprintf(os.Stderr, "Password must be at least %d characters. Try again.\n", identity.MinPasswordLength)
			continue
		}
		confirm, err := readPassword("Confirm wallet password: ")
		if err != nil {
			return "", err
		}
		if password != confirm {
			fmt.Fprintln(os.Stderr, "Passwords do not match. Try again.")
			continue
		}
		return password, nil
	}
	return "", fmt.Errorf("too many failed attempts")
}

// walletPassword returns the unlock password from the environment or a prompt.
func walletPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	return readPassword("Enter wallet password: ")
}

func newWalletCreateCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new operator key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if w, err := identity.LoadWallet(keystoreDir); err != nil {
				return fmt.Errorf("failed to check keystore: %w", err)
			} else if w != nil {
				return fmt.Errorf("wallet already exists at %s (address: %s)", keystoreDir, w.Address().Hex())
			}

			password, err := newPassword()
			if err != nil {
				return err
			}
			w, err := identity.CreateWallet(keystoreDir, password)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Address:  %s\n", w.Address().Hex())
			fmt.Fprintf(out, "Keystore: %s\n", w.Dir())
			fmt.Fprintln(os.Stderr, "Back up your keystore directory and remember your password.")
			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", GetKeystoreDir(), "Path to keystore directory")
	return cmd
}

func newWalletImportCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an operator key from a private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if w, err := identity.LoadWallet(keystoreDir); err != nil {
				return fmt.Errorf("failed to check keystore: %w", err)
			} else if w != nil {
				return fmt.Errorf("wallet already exists at %s (address: %s)", keystoreDir, w.Address().Hex())
			}

			privKey, err := readPassword("Enter private key (hex, with or without 0x prefix): ")
			if err != nil {
				return err
			}
			password, err := newPassword()
			if err != nil {
				return err
			}
			w, err := identity.ImportWallet(keystoreDir, privKey, password)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Address:  %s\n", w.Address().Hex())
			fmt.Fprintf(out, "Keystore: %s\n", w.Dir())
			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", GetKeystoreDir(), "Path to keystore directory")
	return cmd
}

func newWalletShowCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show operator address and keystore path",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := identity.LoadWallet(keystoreDir)
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}
			out := cmd.OutOrStdout()
			if w == nil {
				fmt.Fprintln(out, "No wallet found. Create one with: solverbond wallet create")
				return nil
			}
			fmt.Fprintf(out, "Address:  %s\n", w.Address().Hex())
			fmt.Fprintf(out, "Keystore: %s\n", w.Dir())
			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", GetKeystoreDir(), "Path to keystore directory")
	return cmd
}
