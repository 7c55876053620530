package dispute

import (
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/moltbunker/solverbond/internal/hub"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/internal/registry"
	"github.com/moltbunker/solverbond/pkg/types"
)

var (
	owner      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	challenger = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	arbitrator = common.HexToAddress("0x00000000000000000000000000000000000000a7")
	treasury   = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	stranger   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

const (
	minBond  = 10_000
	bondUnit = 100
	fee      = 50
	funding  = 1_000_000
)

type env struct {
	t        *testing.T
	chain    *ledger.Ledger
	clock    *ledger.ManualClock
	reg      *registry.Registry
	hub      *hub.Hub
	key      *ecdsa.PrivateKey
	operator common.Address
	solverID types.SolverID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := ledger.NewManualClock(time.Unix(1_700_000_000, 0))
	chain := ledger.New(big.NewInt(31337), clock)
	reg := registry.New(chain, owner, registry.Params{
		MinimumBond:        big.NewInt(minBond),
		WithdrawalCooldown: 7 * 24 * time.Hour,
		MaxJailCount:       3,
	})
	params := hub.DefaultParams()
	params.ChallengerBondMinimum = big.NewInt(bondUnit)
	params.Treasury = treasury
	params.JailOnSlash = false
	h, err := hub.New(chain, owner, reg, nil, params)
	if err != nil {
		t.Fatalf("hub.New failed: %v", err)
	}
	if err := reg.SetAuthorizedCaller(&ledger.TxOpts{From: owner}, h.Address(), true); err != nil {
		t.Fatalf("authorize hub: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	operator := crypto.PubkeyToAddress(key.PublicKey)
	for _, addr := range []common.Address{operator, challenger, stranger} {
		chain.Fund(addr, big.NewInt(funding))
	}
	solverID, err := reg.RegisterSolver(&ledger.TxOpts{From: operator}, "ipfs://solver", operator)
	if err != nil {
		t.Fatalf("RegisterSolver failed: %v", err)
	}
	if err := reg.DepositBond(&ledger.TxOpts{From: operator, Value: big.NewInt(minBond)}, solverID); err != nil {
		t.Fatalf("DepositBond failed: %v", err)
	}
	return &env{t: t, chain: chain, clock: clock, reg: reg, hub: h, key: key, operator: operator, solverID: solverID}
}

func (e *env) useModule(addr common.Address) {
	e.t.Helper()
	if err := e.hub.SetDisputeModule(&ledger.TxOpts{From: owner}, addr); err != nil {
		e.t.Fatalf("SetDisputeModule failed: %v", err)
	}
}

func (e *env) arbitration() *Arbitration {
	e.t.Helper()
	params := DefaultArbitrationParams()
	params.Fee = big.NewInt(fee)
	a, err := NewArbitration(e.chain, owner, arbitrator, e.hub, e.reg, params)
	if err != nil {
		e.t.Fatalf("NewArbitration failed: %v", err)
	}
	e.useModule(a.Address())
	return a
}

func (e *env) optimistic() *OptimisticModule {
	e.t.Helper()
	m, err := NewOptimistic(e.chain, owner, arbitrator, e.hub, e.reg, DefaultOptimisticParams())
	if err != nil {
		e.t.Fatalf("NewOptimistic failed: %v", err)
	}
	e.useModule(m.Address())
	return m
}

// disputed posts a receipt and opens a hub dispute with reason.
func (e *env) disputed(seed byte, reason types.DisputeReason) types.ReceiptID {
	e.t.Helper()
	now := e.chain.Now()
	r := types.IntentReceipt{
		IntentHash:      common.BytesToHash([]byte{seed, 1}),
		ConstraintsHash: common.BytesToHash([]byte{seed, 2}),
		RouteHash:       common.BytesToHash([]byte{seed, 3}),
		OutcomeHash:     common.BytesToHash([]byte{seed, 4}),
		EvidenceHash:    common.BytesToHash([]byte{seed, 5}),
		CreatedAt:       uint64(now.Unix()),
		Expiry:          uint64(now.Add(30 * time.Minute).Unix()),
		SolverID:        e.solverID,
	}
	if err := hub.SignReceipt(&r, e.key, e.chain.ChainID(), e.hub.Address(), e.hub.Nonce(nil, e.solverID)); err != nil {
		e.t.Fatalf("SignReceipt failed: %v", err)
	}
	id, err := e.hub.PostReceipt(&ledger.TxOpts{From: e.operator}, r)
	if err != nil {
		e.t.Fatalf("PostReceipt failed: %v", err)
	}
	opts := &ledger.TxOpts{From: challenger, Value: big.NewInt(bondUnit)}
	if err := e.hub.OpenDispute(opts, id, reason, common.HexToHash("0xe1d")); err != nil {
		e.t.Fatalf("OpenDispute failed: %v", err)
	}
	return id
}

func (e *env) status(id types.ReceiptID) types.ReceiptStatus {
	e.t.Helper()
	r, err := e.hub.Receipt(nil, id)
	if err != nil {
		e.t.Fatalf("Receipt failed: %v", err)
	}
	return r.Status
}

func (e *env) solver() registry.Solver {
	e.t.Helper()
	s, err := e.reg.Solver(nil, e.solverID)
	if err != nil {
		e.t.Fatalf("Solver failed: %v", err)
	}
	return s
}

func (e *env) balance(addr common.Address) int64 {
	return e.chain.BalanceOf(nil, addr).Int64()
}

func pay(from common.Address, v int64) *ledger.TxOpts {
	return &ledger.TxOpts{From: from, Value: big.NewInt(v)}
}

func from(addr common.Address) *ledger.TxOpts {
	return &ledger.TxOpts{From: addr}
}
