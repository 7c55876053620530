package engine

import (
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/moltbunker/solverbond/internal/config"
	"github.com/moltbunker/solverbond/internal/hub"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/pkg/types"
)

var (
	owner      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	arbitrator = common.HexToAddress("0x2222222222222222222222222222222222222222")
	treasury   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	challenger = common.HexToAddress("0x4444444444444444444444444444444444444444")
	user       = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

const (
	minBond  = 10_000
	bondUnit = 100
	fee      = 50
	funding  = 1_000_000
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Chain.Owner = owner.Hex()
	cfg.Chain.Arbitrator = arbitrator.Hex()
	cfg.Chain.Treasury = treasury.Hex()
	cfg.Policy.MinimumBond = "10000"
	cfg.Policy.ChallengerBondMinimum = "100"
	cfg.Policy.ArbitrationFee = "50"
	cfg.Policy.JailOnSlash = false
	cfg.Genesis = []config.GenesisAccount{
		{Address: challenger.Hex(), Balance: "1000000"},
		{Address: user.Hex(), Balance: "1000000"},
	}
	return cfg
}

type env struct {
	t        *testing.T
	clock    *ledger.ManualClock
	eng      *Engine
	key      *ecdsa.PrivateKey
	operator common.Address
	solverID types.SolverID
	seed     byte
}

func newEnv(t *testing.T, cfg *config.Config) *env {
	t.Helper()
	clock := ledger.NewManualClock(time.Unix(1_700_000_000, 0))
	chain := ledger.New(big.NewInt(cfg.Chain.ChainID), clock)
	Fund(chain, cfg.Genesis)

	eng, err := Deploy(cfg, chain)
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	t.Cleanup(eng.Close)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	operator := crypto.PubkeyToAddress(key.PublicKey)
	chain.Fund(operator, big.NewInt(funding))

	solverID, err := eng.Registry.RegisterSolver(&ledger.TxOpts{From: operator}, "ipfs://solver", operator)
	if err != nil {
		t.Fatalf("RegisterSolver failed: %v", err)
	}
	if err := eng.Registry.DepositBond(&ledger.TxOpts{From: operator, Value: big.NewInt(minBond)}, solverID); err != nil {
		t.Fatalf("DepositBond failed: %v", err)
	}
	return &env{t: t, clock: clock, eng: eng, key: key, operator: operator, solverID: solverID}
}

// post signs and posts a fresh receipt expiring in 30 minutes.
func (e *env) post() types.ReceiptID {
	e.t.Helper()
	id, err := e.tryPost()
	if err != nil {
		e.t.Fatalf("PostReceipt failed: %v", err)
	}
	return id
}

func (e *env) tryPost() (types.ReceiptID, error) {
	e.seed++
	now := e.eng.Chain.Now()
	r := types.IntentReceipt{
		IntentHash:      common.BytesToHash([]byte{e.seed, 1}),
		ConstraintsHash: common.BytesToHash([]byte{e.seed, 2}),
		RouteHash:       common.BytesToHash([]byte{e.seed, 3}),
		OutcomeHash:     common.BytesToHash([]byte{e.seed, 4}),
		EvidenceHash:    common.BytesToHash([]byte{e.seed, 5}),
		CreatedAt:       uint64(now.Unix()),
		Expiry:          uint64(now.Add(30 * time.Minute).Unix()),
		SolverID:        e.solverID,
	}
	h := e.eng.Hub
	if err := hub.SignReceipt(&r, e.key, h.ChainID(), h.Address(), h.Nonce(nil, e.solverID)); err != nil {
		return types.ReceiptID{}, err
	}
	return h.PostReceipt(&ledger.TxOpts{From: e.operator}, r)
}

// escrow deposits amount from user against id.
func (e *env) escrow(id types.ReceiptID, amount int64) common.Hash {
	e.t.Helper()
	escrowID := crypto.Keccak256Hash(id.Bytes(), []byte("escrow"))
	err := e.eng.Vault.CreateEscrow(&ledger.TxOpts{From: user, Value: big.NewInt(amount)},
		escrowID, id, user, common.Address{}, big.NewInt(amount), e.eng.Chain.Now().Add(48*time.Hour))
	if err != nil {
		e.t.Fatalf("CreateEscrow failed: %v", err)
	}
	return escrowID
}

func (e *env) dispute(id types.ReceiptID, reason types.DisputeReason) {
	e.t.Helper()
	opts := &ledger.TxOpts{From: challenger, Value: big.NewInt(bondUnit)}
	if err := e.eng.Hub.OpenDispute(opts, id, reason, common.HexToHash("0xe1d")); err != nil {
		e.t.Fatalf("OpenDispute failed: %v", err)
	}
}

func (e *env) balance(addr common.Address) int64 {
	return e.eng.Chain.BalanceOf(nil, addr).Int64()
}

func (e *env) status(id types.ReceiptID) types.ReceiptStatus {
	e.t.Helper()
	r, err := e.eng.Hub.Receipt(nil, id)
	if err != nil {
		e.t.Fatalf("Receipt failed: %v", err)
	}
	return r.Status
}
