// Package identity holds the solver operator's signing key in an encrypted
// go-ethereum keystore and signs receipts with it.
package identity

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/moltbunker/solverbond/internal/hub"
	"github.com/moltbunker/solverbond/pkg/types"
)

// MinPasswordLength is enforced when a wallet is created or imported.
const MinPasswordLength = 8

// scrypt cost for new keys
var (
	scryptN = keystore.StandardScryptN
	scryptP = keystore.StandardScryptP
)

// Wallet is an operator key stored in a keystore directory. The first
// account in the directory is the operator.
type Wallet struct {
	keystore *keystore.KeyStore
	dir      string
	account  common.Address
	key      *ecdsa.PrivateKey
}

func openKeystore(dir string) (*keystore.KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return keystore.NewKeyStore(dir, scryptN, scryptP), nil
}

// LoadWallet opens the operator wallet in dir. It returns (nil, nil) when
// the directory holds no key.
func LoadWallet(dir string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	accounts := ks.Accounts()
	if len(accounts) == 0 {
		return nil, nil
	}
	return &Wallet{keystore: ks, dir: dir, account: accounts[0].Address}, nil
}

// CreateWallet generates a new operator key in dir.
func CreateWallet(dir, password string) (*Wallet, error) {
	ks, err := newKeystore(dir, password)
	if err != nil {
		return nil, err
	}
	account, err := ks.NewAccount(password)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &Wallet{keystore: ks, dir: dir, account: account.Address}, nil
}

// ImportWallet stores privKeyHex (with or without 0x) as the operator key in dir.
func ImportWallet(dir, privKeyHex, password string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(trimHex(privKeyHex))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	ks, err := newKeystore(dir, password)
	if err != nil {
		return nil, err
	}
	account, err := ks.ImportECDSA(key, password)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	return &Wallet{keystore: ks, dir: dir, account: account.Address}, nil
}

func newKeystore(dir, password string) (*keystore.KeyStore, error) {
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", dir)
	}
	return ks, nil
}

func trimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Address returns the operator address.
func (w *Wallet) Address() common.Address {
	return w.account
}

// Dir returns the keystore directory.
func (w *Wallet) Dir() string {
	return w.dir
}

// Unlock decrypts the key. Later calls reuse the decrypted key until Lock.
func (w *Wallet) Unlock(password string) (*ecdsa.PrivateKey, error) {
	if w.key != nil {
		return w.key, nil
	}
	accounts := w.keystore.Accounts()
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in %s", w.dir)
	}
	keyJSON, err := os.ReadFile(accounts[0].URL.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}
	w.key = key.PrivateKey
	return w.key, nil
}

// Lock zeros and drops the decrypted key.
func (w *Wallet) Lock() {
	if w.key != nil {
		w.key.D.SetUint64(0)
		w.key = nil
	}
}

// SignReceipt signs r in place for the hub at hubAddr on chainID.
func (w *Wallet) SignReceipt(r *types.IntentReceipt, chainID *big.Int, hubAddr common.Address, nonce uint64, password string) error {
	key, err := w.Unlock(password)
	if err != nil {
		return err
	}
	return hub.SignReceipt(r, key, chainID, hubAddr, nonce)
}
