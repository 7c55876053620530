package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/moltbunker/solverbond/internal/hub"
	"github.com/moltbunker/solverbond/internal/identity"
	"github.com/moltbunker/solverbond/pkg/types"
)

// NewReceiptCmd creates the receipt command group
func NewReceiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Compute, sign and verify intent receipts",
		Long: `Work with intent receipts offline. Receipts are JSON files; use - for stdin.

Examples:
  solverbond receipt id receipt.json
  solverbond receipt sign receipt.json --hub 0x... --nonce 0 > signed.json
  solverbond receipt verify signed.json --hub 0x... --nonce 0 --signer 0x...`,
	}
	cmd.AddCommand(newReceiptIDCmd())
	cmd.AddCommand(newReceiptSignCmd())
	cmd.AddCommand(newReceiptVerifyCmd())
	return cmd
}

// domain is the signing domain shared by sign and verify.
type domain struct {
	chainID int64
	hub     string
	nonce   uint64
}

func (d *domain) register(cmd *cobra.Command) {
	chainID := int64(31337)
	if cfg := loadConfigQuiet(); cfg != nil {
		chainID = cfg.Chain.ChainID
	}
	cmd.Flags().Int64Var(&d.chainID, "chain-id", chainID, "Chain id of the hub")
	cmd.Flags().StringVar(&d.hub, "hub", "", "Hub contract address (required)")
	cmd.Flags().Uint64Var(&d.nonce, "nonce", 0, "Solver nonce the receipt is signed under")
	cmd.MarkFlagRequired("hub")
}

func (d *domain) resolve() (*big.Int, common.Address, error) {
	if !common.IsHexAddress(d.hub) {
		return nil, common.Address{}, fmt.Errorf("invalid hub address %q", d.hub)
	}
	return big.NewInt(d.chainID), common.HexToAddress(d.hub), nil
}

func readReceipt(cmd *cobra.Command, path string) (*types.IntentReceipt, error) {
	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open receipt: %w", err)
		}
		defer f.Close()
		in = f
	}
	var r types.IntentReceipt
	if err := json.NewDecoder(in).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &r, nil
}

func newReceiptIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id <receipt.json>",
		Short: "Print the receipt id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := readReceipt(cmd, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hub.ReceiptID(r).Hex())
			return nil
		},
	}
}

func newReceiptSignCmd() *cobra.Command {
	var (
		d           domain
		keystoreDir string
	)

	cmd := &cobra.Command{
		Use:   "sign <receipt.json>",
		Short: "Sign a receipt with the operator key",
		Long: fmt.Sprintf(`Sign a receipt with the operator key and print the signed receipt.

The wallet password is read from %s or prompted for.`, PasswordEnv),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, hubAddr, err := d.resolve()
			if err != nil {
				return err
			}
			r, err := readReceipt(cmd, args[0])
			if err != nil {
				return err
			}
			w, err := identity.LoadWallet(keystoreDir)
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}
			if w == nil {
				return fmt.Errorf("no wallet found at %s", keystoreDir)
			}
			defer w.Lock()

			password, err := walletPassword()
			if err != nil {
				return err
			}
			if err := w.SignReceipt(r, chainID, hubAddr, d.nonce, password); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		},
	}

	d.register(cmd)
	cmd.Flags().StringVar(&keystoreDir, "keystore", GetKeystoreDir(), "Path to keystore directory")
	return cmd
}

func newReceiptVerifyCmd() *cobra.Command {
	var (
		d      domain
		signer string
	)

	cmd := &cobra.Command{
		Use:   "verify <receipt.json>",
		Short: "Recover a receipt's signer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, hubAddr, err := d.resolve()
			if err != nil {
				return err
			}
			r, err := readReceipt(cmd, args[0])
			if err != nil {
				return err
			}
			got, err := hub.RecoverSigner(r, chainID, hubAddr, d.nonce)
			if err != nil {
				return err
			}
			if signer != "" {
				if !common.IsHexAddress(signer) {
					return fmt.Errorf("invalid signer address %q", signer)
				}
				if want := common.HexToAddress(signer); got != want {
					return fmt.Errorf("signed by %s, want %s", got.Hex(), want.Hex())
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Receipt: %s\n", hub.ReceiptID(r).Hex())
			fmt.Fprintf(out, "Signer:  %s\n", got.Hex())
			return nil
		},
	}

	d.register(cmd)
	cmd.Flags().StringVar(&signer, "signer", "", "Fail unless the receipt was signed by this address")
	return cmd
}
