package escrow

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/internal/authz"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/pkg/types"
)

// Privileged operations.
const (
	OpRelease authz.Operation = "escrow.release"
	OpRefund  authz.Operation = "escrow.refund"
)

// Vault holds escrows keyed by id and indexed by receipt.
type Vault struct {
	chain *ledger.Ledger
	addr  common.Address
	acl   *authz.ACL
	guard ledger.Guard

	escrows   map[common.Hash]*Escrow
	byReceipt map[types.ReceiptID]common.Hash
	receipts  ReceiptTracker
}

// NewVault deploys a vault owned by owner.
func NewVault(chain *ledger.Ledger, owner common.Address) *Vault {
	return &Vault{
		chain:     chain,
		addr:      chain.DeployAddress(),
		acl:       authz.NewACL(owner),
		escrows:   make(map[common.Hash]*Escrow),
		byReceipt: make(map[types.ReceiptID]common.Hash),
	}
}

// Address is the vault's ledger address; escrowed value is held there.
func (v *Vault) Address() common.Address { return v.addr }

// SetAuthorizedHub grants or revokes release and refund rights.
func (v *Vault) SetAuthorizedHub(opts *ledger.TxOpts, hub common.Address, allowed bool) error {
	return v.chain.Transact(opts, v.addr, func(c *ledger.Call) error {
		if !v.acl.IsOwner(c.Sender()) {
			return ErrNotOwner
		}
		if hub == (common.Address{}) {
			return ErrZeroAddress
		}
		prev := v.acl.Set(hub, authz.AnyOperation, allowed)
		c.Journal(func() { v.acl.Set(hub, authz.AnyOperation, prev) })
		c.Emit(EventHubAuthorized, HubAuthorized{Hub: hub, Allowed: allowed})
		return nil
	})
}

// SetReceiptTracker installs the source RefundExpired consults before
// refunding. A nil tracker refunds on the deadline alone.
func (v *Vault) SetReceiptTracker(opts *ledger.TxOpts, tracker ReceiptTracker) error {
	return v.chain.Transact(opts, v.addr, func(c *ledger.Call) error {
		if !v.acl.IsOwner(c.Sender()) {
			return ErrNotOwner
		}
		prev := v.receipts
		v.receipts = tracker
		c.Journal(func() { v.receipts = prev })
		return nil
	})
}

// IsAuthorizedHub reports whether hub may release and refund.
func (v *Vault) IsAuthorizedHub(ctx context.Context, hub common.Address) bool {
	var ok bool
	v.chain.Read(ctx, func() { ok = v.acl.Permits(hub, OpRelease) })
	return ok
}

// CreateEscrow takes amount into custody from the caller. For the native
// token the attached value must equal amount; for other tokens the caller
// must have approved the vault. The depositor receives refunds.
func (v *Vault) CreateEscrow(opts *ledger.TxOpts, escrowID common.Hash, receiptID types.ReceiptID,
	depositor, token common.Address, amount *big.Int, deadline time.Time) error {
	return v.chain.Transact(opts, v.addr, func(c *ledger.Call) error {
		if amount == nil || amount.Sign() <= 0 {
			return ErrZeroAmount
		}
		if escrowID == (common.Hash{}) || receiptID == (types.ReceiptID{}) {
			return ErrZeroID
		}
		if depositor == (common.Address{}) {
			return ErrZeroAddress
		}
		if !deadline.After(c.Now()) {
			return ErrDeadlineInPast
		}
		if _, exists := v.escrows[escrowID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateEscrow, escrowID.Hex())
		}
		if _, exists := v.byReceipt[receiptID]; exists {
			return fmt.Errorf("%w: %s", ErrReceiptEscrowed, receiptID.Hex())
		}

		if types.IsNative(token) {
			if c.Value().Cmp(amount) != 0 {
				return fmt.Errorf("%w: attached %s, amount %s", ErrValueMismatch, c.Value(), amount)
			}
		} else {
			if c.Value().Sign() != 0 {
				return fmt.Errorf("%w: native value attached to a token escrow", ErrValueMismatch)
			}
			if err := c.TransferTokenFrom(token, c.Sender(), v.addr, amount); err != nil {
				return err
			}
		}

		e := &Escrow{
			ID:        escrowID,
			ReceiptID: receiptID,
			Depositor: depositor,
			Token:     token,
			Amount:    new(big.Int).Set(amount),
			Deposited: new(big.Int).Set(amount),
			Deadline:  deadline,
			CreatedAt: c.Now(),
		}
		next, err := types.NextEscrowStatus(types.EscrowNone, types.EscrowCreate)
		if err != nil {
			return err
		}
		e.Status = next
		v.escrows[escrowID] = e
		v.byReceipt[receiptID] = escrowID
		c.Journal(func() {
			delete(v.escrows, escrowID)
			delete(v.byReceipt, receiptID)
		})

		c.Emit(EventEscrowCreated, Created{
			EscrowID:  escrowID,
			ReceiptID: receiptID,
			Depositor: depositor,
			Token:     token,
			Amount:    new(big.Int).Set(amount),
			Deadline:  deadline,
		})
		return nil
	})
}

// Release pays the escrow to recipient.
func (v *Vault) Release(opts *ledger.TxOpts, escrowID common.Hash, recipient common.Address) error {
	return v.chain.Transact(opts, v.addr, func(c *ledger.Call) error {
		if !v.acl.Permits(c.Sender(), OpRelease) {
			return ErrNotAuthorized
		}
		if recipient == (common.Address{}) {
			return ErrZeroAddress
		}
		return v.settle(c, escrowID, types.EscrowRelease, recipient)
	})
}

// Refund returns the escrow to its depositor.
func (v *Vault) Refund(opts *ledger.TxOpts, escrowID common.Hash) error {
	return v.chain.Transact(opts, v.addr, func(c *ledger.Call) error {
		if !v.acl.Permits(c.Sender(), OpRefund) {
			return ErrNotAuthorized
		}
		return v.settle(c, escrowID, types.EscrowRefund, common.Address{})
	})
}

// RefundExpired lets anyone return an escrow to its depositor once its
// deadline has passed and its receipt can no longer be finalized or slashed.
func (v *Vault) RefundExpired(opts *ledger.TxOpts, escrowID common.Hash) error {
	return v.chain.Transact(opts, v.addr, func(c *ledger.Call) error {
		e, ok := v.escrows[escrowID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, escrowID.Hex())
		}
		if !c.Now().After(e.Deadline) {
			return ErrDeadlineNotPassed
		}
		if v.receipts != nil && v.receipts.ReceiptOpen(c.Context(), e.ReceiptID) {
			return fmt.Errorf("%w: %s", ErrReceiptOpen, e.ReceiptID.Hex())
		}
		return v.settle(c, escrowID, types.EscrowRefund, common.Address{})
	})
}

// settle moves the escrow to its terminal status, zeroes the stored amount
// and only then pays out. A zero to means the depositor.
func (v *Vault) settle(c *ledger.Call, escrowID common.Hash, ev types.EscrowEvent, to common.Address) error {
	if err := v.guard.Enter(); err != nil {
		return err
	}
	defer v.guard.Exit()

	e, ok := v.escrows[escrowID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, escrowID.Hex())
	}
	next, err := types.NextEscrowStatus(e.Status, ev)
	if err != nil {
		return fmt.Errorf("%w: %s is %s", ErrNotActive, escrowID.Hex(), e.Status)
	}
	if to == (common.Address{}) {
		to = e.Depositor
	}

	prev := e.copy()
	c.Journal(func() { *e = prev })
	amount := new(big.Int).Set(e.Amount)
	e.Amount.SetInt64(0)
	e.Status = next
	e.SettledAt = c.Now()
	e.PaidTo = to

	name := EventEscrowReleased
	if ev == types.EscrowRefund {
		name = EventEscrowRefunded
	}
	c.Emit(name, Settled{EscrowID: escrowID, ReceiptID: e.ReceiptID, Token: e.Token, Amount: amount, To: to})

	if types.IsNative(e.Token) {
		return c.Transfer(to, amount)
	}
	return c.TransferToken(e.Token, to, amount)
}

// Escrow returns a copy of the escrow.
func (v *Vault) Escrow(ctx context.Context, escrowID common.Hash) (Escrow, error) {
	var (
		out Escrow
		err error
	)
	v.chain.Read(ctx, func() {
		e, ok := v.escrows[escrowID]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrNotFound, escrowID.Hex())
			return
		}
		out = e.copy()
	})
	return out, err
}

// EscrowForReceipt returns the escrow attached to receiptID, if any.
func (v *Vault) EscrowForReceipt(ctx context.Context, receiptID types.ReceiptID) (Escrow, bool) {
	var (
		out Escrow
		ok  bool
	)
	v.chain.Read(ctx, func() {
		id, exists := v.byReceipt[receiptID]
		if !exists {
			return
		}
		out, ok = v.escrows[id].copy(), true
	})
	return out, ok
}
