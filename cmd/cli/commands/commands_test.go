package commands

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/moltbunker/solverbond/internal/hub"
	"github.com/moltbunker/solverbond/pkg/types"
)

const testHub = "0x00000000000000000000000000000000000000aa"

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandNames(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		want string
		subs []string
	}{
		{NewConfigCmd(), "config", []string{"init", "validate"}},
		{NewWalletCmd(), "wallet", []string{"create", "import", "show"}},
		{NewReceiptCmd(), "receipt", []string{"id", "sign", "verify"}},
		{NewVersionCmd(), "version", nil},
	}
	for _, tt := range tests {
		if tt.cmd.Name() != tt.want {
			t.Errorf("Name() = %s, want %s", tt.cmd.Name(), tt.want)
		}
		for _, sub := range tt.subs {
			if found, _, err := tt.cmd.Find([]string{sub}); err != nil || found.Name() != sub {
				t.Errorf("%s has no %s subcommand", tt.want, sub)
			}
		}
	}
}

func writeReceipt(t *testing.T, r types.IntentReceipt) string {
	t.Helper()
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal receipt: %v", err)
	}
	path := filepath.Join(t.TempDir(), "receipt.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write receipt: %v", err)
	}
	return path
}

func signedReceipt(t *testing.T) (types.IntentReceipt, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	r := types.IntentReceipt{
		IntentHash: common.HexToHash("0x01"),
		RouteHash:  common.HexToHash("0x03"),
		CreatedAt:  1_700_000_000,
		Expiry:     1_700_001_800,
		SolverID:   common.HexToHash("0x5017e7"),
	}
	if err := hub.SignReceipt(&r, key, big.NewInt(31337), common.HexToAddress(testHub), 2); err != nil {
		t.Fatalf("SignReceipt: %v", err)
	}
	return r, crypto.PubkeyToAddress(key.PublicKey)
}

func TestReceiptID(t *testing.T) {
	r, _ := signedReceipt(t)
	out, err := execute(t, NewReceiptCmd(), "id", writeReceipt(t, r))
	if err != nil {
		t.Fatalf("receipt id: %v", err)
	}
	if got, want := strings.TrimSpace(out), hub.ReceiptID(&r).Hex(); got != want {
		t.Errorf("id = %s, want %s", got, want)
	}
}

func TestReceiptVerify(t *testing.T) {
	r, signer := signedReceipt(t)
	path := writeReceipt(t, r)

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"matching signer", []string{"--chain-id", "31337", "--hub", testHub, "--nonce", "2", "--signer", signer.Hex()}, false},
		{"no expected signer", []string{"--chain-id", "31337", "--hub", testHub, "--nonce", "2"}, false},
		{"wrong nonce", []string{"--chain-id", "31337", "--hub", testHub, "--nonce", "3", "--signer", signer.Hex()}, true},
		{"wrong chain", []string{"--chain-id", "1", "--hub", testHub, "--nonce", "2", "--signer", signer.Hex()}, true},
		{"bad hub", []string{"--hub", "nope"}, true},
		{"missing hub", []string{"--nonce", "2"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"verify", path}, tt.args...)
			out, err := execute(t, NewReceiptCmd(), args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("verify error = %v, wantErr %v (output %q)", err, tt.wantErr, out)
			}
			if !tt.wantErr && !strings.Contains(out, signer.Hex()) {
				t.Errorf("output %q missing signer %s", out, signer.Hex())
			}
		})
	}
}

func TestReceiptVerify_Unsigned(t *testing.T) {
	path := writeReceipt(t, types.IntentReceipt{SolverID: common.HexToHash("0x01")})
	if _, err := execute(t, NewReceiptCmd(), "verify", path, "--hub", testHub); err == nil {
		t.Error("verify accepted an unsigned receipt")
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	ConfigPath = filepath.Join(home, "config.yaml")
	t.Cleanup(func() { ConfigPath = "" })

	owner := "0x1111111111111111111111111111111111111111"
	arbitrator := "0x2222222222222222222222222222222222222222"

	if _, err := execute(t, NewConfigCmd(), "init", "--owner", owner, "--arbitrator", arbitrator); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(ConfigPath); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := execute(t, NewConfigCmd(), "init", "--owner", owner, "--arbitrator", arbitrator); err == nil {
		t.Error("second init without --force succeeded")
	}

	out, err := execute(t, NewConfigCmd(), "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "is valid") {
		t.Errorf("validate output = %q", out)
	}
}

func TestConfigInit_RejectsInvalid(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	ConfigPath = filepath.Join(home, "config.yaml")
	t.Cleanup(func() { ConfigPath = "" })

	_, err := execute(t, NewConfigCmd(), "init", "--owner", "0x1111111111111111111111111111111111111111", "--arbitrator", "bogus")
	if err == nil {
		t.Fatal("init accepted an invalid arbitrator")
	}
	if _, err := os.Stat(ConfigPath); !os.IsNotExist(err) {
		t.Errorf("config file written despite invalid input: %v", err)
	}
}

func TestConfigValidate_MissingFile(t *testing.T) {
	if _, err := execute(t, NewConfigCmd(), "validate", filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("validate accepted a missing file")
	}
}
