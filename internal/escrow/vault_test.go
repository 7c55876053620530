package escrow

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/pkg/types"
)

var (
	owner     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	hubAddr   = common.HexToAddress("0x0000000000000000000000000000000000000002")
	depositor = common.HexToAddress("0x0000000000000000000000000000000000000003")
	solver    = common.HexToAddress("0x0000000000000000000000000000000000000004")
	stranger  = common.HexToAddress("0x0000000000000000000000000000000000000005")
	usdc      = common.HexToAddress("0x000000000000000000000000000000000000000c")

	escrowID  = common.HexToHash("0xe5c0")
	receiptID = common.HexToHash("0x4ec1")
)

func newTestVault(t *testing.T) (*Vault, *ledger.Ledger, *ledger.ManualClock) {
	t.Helper()
	clock := ledger.NewManualClock(time.Unix(1_700_000_000, 0))
	chain := ledger.New(big.NewInt(31337), clock)
	chain.Fund(depositor, big.NewInt(10_000))
	v := NewVault(chain, owner)
	if err := v.SetAuthorizedHub(&ledger.TxOpts{From: owner}, hubAddr, true); err != nil {
		t.Fatalf("SetAuthorizedHub failed: %v", err)
	}
	return v, chain, clock
}

func createNative(t *testing.T, v *Vault, chain *ledger.Ledger, amount int64) {
	t.Helper()
	deadline := chain.Now().Add(time.Hour)
	opts := &ledger.TxOpts{From: depositor, Value: big.NewInt(amount)}
	if err := v.CreateEscrow(opts, escrowID, receiptID, depositor, types.NativeToken, big.NewInt(amount), deadline); err != nil {
		t.Fatalf("CreateEscrow failed: %v", err)
	}
}

func TestCreateEscrow_Native(t *testing.T) {
	v, chain, _ := newTestVault(t)
	createNative(t, v, chain, 500)

	e, err := v.Escrow(nil, escrowID)
	if err != nil {
		t.Fatalf("Escrow failed: %v", err)
	}
	if e.Status != types.EscrowActive || e.Amount.Int64() != 500 {
		t.Errorf("escrow = %s/%s, want active/500", e.Status, e.Amount)
	}
	if got := chain.BalanceOf(nil, v.Address()); got.Int64() != 500 {
		t.Errorf("vault balance = %s, want 500", got)
	}
	byReceipt, ok := v.EscrowForReceipt(nil, receiptID)
	if !ok || byReceipt.ID != escrowID {
		t.Errorf("EscrowForReceipt = %s, %v", byReceipt.ID.Hex(), ok)
	}
}

func TestCreateEscrow_Rejections(t *testing.T) {
	v, chain, _ := newTestVault(t)
	future := chain.Now().Add(time.Hour)

	tests := []struct {
		name     string
		value    int64
		escrow   common.Hash
		receipt  common.Hash
		amount   int64
		deadline time.Time
		want     error
	}{
		{"zero amount", 0, escrowID, receiptID, 0, future, ErrZeroAmount},
		{"zero receipt", 10, escrowID, common.Hash{}, 10, future, ErrZeroID},
		{"zero escrow id", 10, common.Hash{}, receiptID, 10, future, ErrZeroID},
		{"deadline now", 10, escrowID, receiptID, 10, chain.Now(), ErrDeadlineInPast},
		{"value short", 9, escrowID, receiptID, 10, future, ErrValueMismatch},
		{"value over", 11, escrowID, receiptID, 10, future, ErrValueMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &ledger.TxOpts{From: depositor, Value: big.NewInt(tt.value)}
			err := v.CreateEscrow(opts, tt.escrow, tt.receipt, depositor, types.NativeToken, big.NewInt(tt.amount), tt.deadline)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
	if got := chain.BalanceOf(nil, depositor); got.Int64() != 10_000 {
		t.Errorf("depositor balance = %s, rejected creates must not move value", got)
	}
}

func TestCreateEscrow_Collisions(t *testing.T) {
	v, chain, _ := newTestVault(t)
	createNative(t, v, chain, 100)
	deadline := chain.Now().Add(time.Hour)

	opts := &ledger.TxOpts{From: depositor, Value: big.NewInt(1)}
	if err := v.CreateEscrow(opts, escrowID, common.HexToHash("0x02"), depositor, types.NativeToken, big.NewInt(1), deadline); !errors.Is(err, ErrDuplicateEscrow) {
		t.Errorf("duplicate escrow id: got %v, want ErrDuplicateEscrow", err)
	}
	if err := v.CreateEscrow(opts, common.HexToHash("0x03"), receiptID, depositor, types.NativeToken, big.NewInt(1), deadline); !errors.Is(err, ErrReceiptEscrowed) {
		t.Errorf("second escrow for receipt: got %v, want ErrReceiptEscrowed", err)
	}
}

func TestReleaseAndRefund_SingleFire(t *testing.T) {
	v, chain, _ := newTestVault(t)
	createNative(t, v, chain, 300)
	hub := &ledger.TxOpts{From: hubAddr}

	if err := v.Release(&ledger.TxOpts{From: stranger}, escrowID, stranger); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("stranger release: got %v, want ErrNotAuthorized", err)
	}
	if err := v.Release(hub, escrowID, solver); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if got := chain.BalanceOf(nil, solver); got.Int64() != 300 {
		t.Errorf("solver balance = %s, want 300", got)
	}

	e, _ := v.Escrow(nil, escrowID)
	if e.Status != types.EscrowReleased || e.Amount.Sign() != 0 {
		t.Errorf("escrow = %s/%s, want released/0", e.Status, e.Amount)
	}
	if err := v.Release(hub, escrowID, solver); !errors.Is(err, ErrNotActive) {
		t.Errorf("second release: got %v, want ErrNotActive", err)
	}
	if err := v.Refund(hub, escrowID); !errors.Is(err, ErrNotActive) {
		t.Errorf("refund after release: got %v, want ErrNotActive", err)
	}
	if err := v.Refund(hub, common.HexToHash("0x99")); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown escrow: got %v, want ErrNotFound", err)
	}
}

func TestRefund_OwnerMayRefund(t *testing.T) {
	v, chain, _ := newTestVault(t)
	createNative(t, v, chain, 300)

	if err := v.Refund(&ledger.TxOpts{From: owner}, escrowID); err != nil {
		t.Fatalf("owner Refund failed: %v", err)
	}
	if got := chain.BalanceOf(nil, depositor); got.Int64() != 10_000 {
		t.Errorf("depositor balance = %s, want 10000", got)
	}
}

func TestRefundExpired(t *testing.T) {
	v, chain, clock := newTestVault(t)
	createNative(t, v, chain, 300)
	anyone := &ledger.TxOpts{From: stranger}

	clock.Advance(time.Hour)
	if err := v.RefundExpired(anyone, escrowID); !errors.Is(err, ErrDeadlineNotPassed) {
		t.Fatalf("at deadline: got %v, want ErrDeadlineNotPassed", err)
	}
	clock.Advance(time.Second)
	if err := v.RefundExpired(anyone, escrowID); err != nil {
		t.Fatalf("RefundExpired failed: %v", err)
	}
	if got := chain.BalanceOf(nil, depositor); got.Int64() != 10_000 {
		t.Errorf("depositor balance = %s, want 10000", got)
	}
	if err := v.RefundExpired(anyone, escrowID); !errors.Is(err, ErrNotActive) {
		t.Errorf("second refund: got %v, want ErrNotActive", err)
	}
}

type receiptTracker map[types.ReceiptID]bool

func (r receiptTracker) ReceiptOpen(_ context.Context, id types.ReceiptID) bool { return r[id] }

func TestRefundExpired_OpenReceipt(t *testing.T) {
	v, chain, clock := newTestVault(t)
	createNative(t, v, chain, 300)
	tracker := receiptTracker{receiptID: true}

	if err := v.SetReceiptTracker(&ledger.TxOpts{From: stranger}, tracker); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("stranger SetReceiptTracker: got %v, want ErrNotOwner", err)
	}
	if err := v.SetReceiptTracker(&ledger.TxOpts{From: owner}, tracker); err != nil {
		t.Fatalf("SetReceiptTracker failed: %v", err)
	}

	clock.Advance(2 * time.Hour)
	anyone := &ledger.TxOpts{From: stranger}
	if err := v.RefundExpired(anyone, escrowID); !errors.Is(err, ErrReceiptOpen) {
		t.Fatalf("open receipt: got %v, want ErrReceiptOpen", err)
	}
	if e, _ := v.Escrow(nil, escrowID); e.Status != types.EscrowActive {
		t.Errorf("status = %s, want active", e.Status)
	}

	tracker[receiptID] = false
	if err := v.RefundExpired(anyone, escrowID); err != nil {
		t.Fatalf("RefundExpired failed: %v", err)
	}
	if got := chain.BalanceOf(nil, depositor); got.Int64() != 10_000 {
		t.Errorf("depositor balance = %s, want 10000", got)
	}
}

func TestRelease_ReentrantRecipientPaidOnce(t *testing.T) {
	v, chain, clock := newTestVault(t)
	createNative(t, v, chain, 300)
	clock.Advance(2 * time.Hour)

	var reentryErr error
	calls := 0
	chain.SetReceiver(solver, ledger.ReceiverFunc(func(opts *ledger.TxOpts, from common.Address, amount *big.Int) error {
		calls++
		reentryErr = v.RefundExpired(opts, escrowID)
		return nil
	}))

	if err := v.Release(&ledger.TxOpts{From: hubAddr}, escrowID, solver); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("receiver ran %d times, want 1", calls)
	}
	if !errors.Is(reentryErr, ledger.ErrReentrantCall) {
		t.Errorf("reentrant refund: got %v, want ErrReentrantCall", reentryErr)
	}
	if got := chain.BalanceOf(nil, solver); got.Int64() != 300 {
		t.Errorf("solver balance = %s, want 300", got)
	}
	if got := chain.BalanceOf(nil, depositor); got.Int64() != 9_700 {
		t.Errorf("depositor balance = %s, want 9700", got)
	}
	if got := chain.BalanceOf(nil, v.Address()); got.Sign() != 0 {
		t.Errorf("vault balance = %s, want 0", got)
	}
}

func TestRelease_RejectingRecipientRevertsEverything(t *testing.T) {
	v, chain, _ := newTestVault(t)
	createNative(t, v, chain, 300)
	chain.SetReceiver(solver, ledger.ReceiverFunc(func(*ledger.TxOpts, common.Address, *big.Int) error {
		return errors.New("no")
	}))

	if err := v.Release(&ledger.TxOpts{From: hubAddr}, escrowID, solver); !errors.Is(err, ledger.ErrTransferRejected) {
		t.Fatalf("got %v, want ErrTransferRejected", err)
	}
	e, _ := v.Escrow(nil, escrowID)
	if e.Status != types.EscrowActive || e.Amount.Int64() != 300 {
		t.Errorf("escrow = %s/%s, want active/300 after revert", e.Status, e.Amount)
	}
}

func TestTokenEscrow(t *testing.T) {
	v, chain, _ := newTestVault(t)
	chain.MintToken(usdc, depositor, big.NewInt(1_000))
	deadline := chain.Now().Add(time.Hour)
	opts := &ledger.TxOpts{From: depositor}

	if err := v.CreateEscrow(opts, escrowID, receiptID, depositor, usdc, big.NewInt(400), deadline); !errors.Is(err, ledger.ErrInsufficientAllowance) {
		t.Fatalf("without approval: got %v, want ErrInsufficientAllowance", err)
	}
	if err := chain.ApproveToken(opts, usdc, v.Address(), big.NewInt(400)); err != nil {
		t.Fatalf("ApproveToken failed: %v", err)
	}
	withValue := &ledger.TxOpts{From: depositor, Value: big.NewInt(1)}
	if err := v.CreateEscrow(withValue, escrowID, receiptID, depositor, usdc, big.NewInt(400), deadline); !errors.Is(err, ErrValueMismatch) {
		t.Fatalf("native value on token escrow: got %v, want ErrValueMismatch", err)
	}
	if err := v.CreateEscrow(opts, escrowID, receiptID, depositor, usdc, big.NewInt(400), deadline); err != nil {
		t.Fatalf("CreateEscrow failed: %v", err)
	}
	if got := chain.TokenBalanceOf(nil, usdc, v.Address()); got.Int64() != 400 {
		t.Errorf("vault token balance = %s, want 400", got)
	}

	if err := v.Release(&ledger.TxOpts{From: hubAddr}, escrowID, solver); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if got := chain.TokenBalanceOf(nil, usdc, solver); got.Int64() != 400 {
		t.Errorf("solver token balance = %s, want 400", got)
	}
	if got := chain.BalanceOf(nil, solver); got.Sign() != 0 {
		t.Errorf("solver native balance = %s, want 0", got)
	}
}
