package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	contract = common.HexToAddress("0x00000000000000000000000000000000c0ffee01")
	token    = common.HexToAddress("0x000000000000000000000000000000000000700c")
)

func newTestLedger() (*Ledger, *ManualClock) {
	clock := NewManualClock(time.Unix(1_700_000_000, 0))
	return New(big.NewInt(31337), clock), clock
}

func TestTransact_AttachedValueMovesToContract(t *testing.T) {
	l, _ := newTestLedger()
	l.Fund(alice, big.NewInt(100))

	err := l.Transact(&TxOpts{From: alice, Value: big.NewInt(40)}, contract, func(c *Call) error {
		if c.Value().Cmp(big.NewInt(40)) != 0 {
			t.Errorf("Value() = %s, want 40", c.Value())
		}
		if c.Sender() != alice || c.Self() != contract {
			t.Errorf("frame = %s -> %s, want alice -> contract", c.Sender().Hex(), c.Self().Hex())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transact failed: %v", err)
	}

	if got := l.BalanceOf(nil, alice); got.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("alice balance = %s, want 60", got)
	}
	if got := l.BalanceOf(nil, contract); got.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("contract balance = %s, want 40", got)
	}
}

func TestTransact_InsufficientValue(t *testing.T) {
	l, _ := newTestLedger()
	l.Fund(alice, big.NewInt(10))

	err := l.Transact(&TxOpts{From: alice, Value: big.NewInt(11)}, contract, func(c *Call) error {
		t.Fatal("fn must not run when the attached value cannot be paid")
		return nil
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestTransact_ErrorRevertsEverything(t *testing.T) {
	l, _ := newTestLedger()
	l.Fund(alice, big.NewInt(100))

	state := 1
	var events []Event
	l.Subscribe(func(ev Event) { events = append(events, ev) })

	boom := errors.New("boom")
	err := l.Transact(&TxOpts{From: alice, Value: big.NewInt(50)}, contract, func(c *Call) error {
		prev := state
		state = 2
		c.Journal(func() { state = prev })
		if err := c.Transfer(bob, big.NewInt(20)); err != nil {
			return err
		}
		c.Emit("Changed", nil)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if state != 1 {
		t.Errorf("journaled state = %d, want 1", state)
	}
	if got := l.BalanceOf(nil, alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("alice balance = %s, want 100", got)
	}
	if got := l.BalanceOf(nil, bob); got.Sign() != 0 {
		t.Errorf("bob balance = %s, want 0", got)
	}
	if len(events) != 0 {
		t.Errorf("reverted transaction published %d events", len(events))
	}
}

func TestTransact_NestedFailureOnlyRevertsFrame(t *testing.T) {
	l, _ := newTestLedger()
	l.Fund(contract, big.NewInt(100))
	inner := common.HexToAddress("0x00000000000000000000000000000000c0ffee02")

	var events []string
	l.Subscribe(func(ev Event) { events = append(events, ev.Name) })

	err := l.Transact(&TxOpts{From: alice}, contract, func(c *Call) error {
		if err := c.Transfer(bob, big.NewInt(10)); err != nil {
			return err
		}
		c.Emit("Outer", nil)

		nestedErr := l.Transact(c.OptsWithValue(big.NewInt(30)), inner, func(ic *Call) error {
			if ic.Sender() != contract {
				t.Errorf("nested sender = %s, want contract", ic.Sender().Hex())
			}
			ic.Emit("Inner", nil)
			return errors.New("inner failed")
		})
		if nestedErr == nil {
			t.Error("expected nested failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer Transact failed: %v", err)
	}

	if got := l.BalanceOf(nil, inner); got.Sign() != 0 {
		t.Errorf("inner balance = %s, want 0 after nested revert", got)
	}
	if got := l.BalanceOf(nil, bob); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("bob balance = %s, want 10", got)
	}
	if len(events) != 1 || events[0] != "Outer" {
		t.Errorf("events = %v, want [Outer]", events)
	}
}

func TestTransact_PanicReverts(t *testing.T) {
	l, _ := newTestLedger()
	l.Fund(alice, big.NewInt(5))

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = l.Transact(&TxOpts{From: alice, Value: big.NewInt(5)}, contract, func(c *Call) error {
			panic("contract bug")
		})
	}()

	if got := l.BalanceOf(nil, alice); got.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("alice balance = %s, want 5", got)
	}
	// the lock must have been released
	if err := l.Transact(&TxOpts{From: alice}, contract, func(c *Call) error { return nil }); err != nil {
		t.Errorf("ledger unusable after panic: %v", err)
	}
}

func TestTransact_CanceledContext(t *testing.T) {
	l, _ := newTestLedger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Transact(&TxOpts{Context: ctx, From: alice}, contract, func(c *Call) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTransfer_ReceiverHookErrorUndoesPayment(t *testing.T) {
	l, _ := newTestLedger()
	l.Fund(contract, big.NewInt(100))
	l.SetReceiver(bob, ReceiverFunc(func(opts *TxOpts, from common.Address, amount *big.Int) error {
		return errors.New("no thanks")
	}))

	err := l.Transact(&TxOpts{From: alice}, contract, func(c *Call) error {
		return c.Transfer(bob, big.NewInt(10))
	})
	if !errors.Is(err, ErrTransferRejected) {
		t.Fatalf("expected ErrTransferRejected, got %v", err)
	}
	if got := l.BalanceOf(nil, contract); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("contract balance = %s, want 100", got)
	}
}

func TestGuard_BlocksReentryThroughReceiver(t *testing.T) {
	l, _ := newTestLedger()
	l.Fund(contract, big.NewInt(100))

	var guard Guard
	payouts := 0
	var withdraw func(opts *TxOpts) error
	withdraw = func(opts *TxOpts) error {
		return l.Transact(opts, contract, func(c *Call) error {
			if err := guard.Enter(); err != nil {
				return err
			}
			defer guard.Exit()
			payouts++
			return c.Transfer(c.Sender(), big.NewInt(10))
		})
	}

	var reentryErr error
	l.SetReceiver(bob, ReceiverFunc(func(opts *TxOpts, from common.Address, amount *big.Int) error {
		reentryErr = withdraw(opts)
		return nil
	}))

	if err := withdraw(&TxOpts{From: bob}); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if !errors.Is(reentryErr, ErrReentrantCall) {
		t.Errorf("reentrant withdraw err = %v, want ErrReentrantCall", reentryErr)
	}
	if payouts != 1 {
		t.Errorf("payouts = %d, want 1", payouts)
	}
	if got := l.BalanceOf(nil, bob); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("bob balance = %s, want 10", got)
	}
	if guard.Held() {
		t.Error("guard still held after call returned")
	}
}

func TestTokenAllowanceFlow(t *testing.T) {
	l, _ := newTestLedger()
	l.MintToken(token, alice, big.NewInt(1000))

	pull := func(amount int64) error {
		return l.Transact(&TxOpts{From: bob}, contract, func(c *Call) error {
			return c.TransferTokenFrom(token, alice, contract, big.NewInt(amount))
		})
	}

	if err := pull(10); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := l.ApproveToken(&TxOpts{From: alice}, token, contract, big.NewInt(300)); err != nil {
		t.Fatalf("ApproveToken failed: %v", err)
	}
	if err := pull(200); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	if got := l.TokenBalanceOf(nil, token, contract); got.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("contract token balance = %s, want 200", got)
	}
	if got := l.Allowance(nil, token, alice, contract); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("remaining allowance = %s, want 100", got)
	}
	if err := pull(101); !errors.Is(err, ErrInsufficientAllowance) {
		t.Errorf("expected ErrInsufficientAllowance for over-pull, got %v", err)
	}
}

func TestTransact_BlockTimeIsFixedPerTransaction(t *testing.T) {
	l, clock := newTestLedger()
	start := clock.Now()

	err := l.Transact(&TxOpts{From: alice}, contract, func(c *Call) error {
		clock.Advance(time.Hour)
		if !c.Now().Equal(start) {
			t.Errorf("Now() moved inside a transaction: %v", c.Now())
		}
		return l.Transact(c.Opts(), bob, func(ic *Call) error {
			if !ic.Now().Equal(start) {
				t.Errorf("nested Now() = %v, want %v", ic.Now(), start)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("Transact failed: %v", err)
	}
}

func TestDeployAddressUnique(t *testing.T) {
	l, _ := newTestLedger()
	seen := make(map[common.Address]bool)
	for i := 0; i < 8; i++ {
		addr := l.DeployAddress()
		if seen[addr] {
			t.Fatalf("duplicate deploy address %s", addr.Hex())
		}
		seen[addr] = true
	}
}
