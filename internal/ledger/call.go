package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Call is one execution frame: a contract running on behalf of a sender.
type Call struct {
	ledger *Ledger
	tx     *tx
	ctx    context.Context
	sender common.Address
	self   common.Address
	value  *big.Int
}

// Context returns the frame's context. Passing it to another contract call
// joins the running transaction.
func (c *Call) Context() context.Context { return c.ctx }

// Sender is the immediate caller.
func (c *Call) Sender() common.Address { return c.sender }

// Self is the address of the running contract.
func (c *Call) Self() common.Address { return c.self }

// Value returns a copy of the attached native value.
func (c *Call) Value() *big.Int { return new(big.Int).Set(c.value) }

// Now is the block time of the transaction.
func (c *Call) Now() time.Time { return c.tx.now }

// Opts returns options for a nested call made by the running contract.
func (c *Call) Opts() *TxOpts {
	return &TxOpts{Context: c.ctx, From: c.self}
}

// OptsWithValue is Opts with attached value paid from the running contract.
func (c *Call) OptsWithValue(v *big.Int) *TxOpts {
	return &TxOpts{Context: c.ctx, From: c.self, Value: v}
}

// Journal records undo, run if the enclosing call fails.
func (c *Call) Journal(undo func()) {
	c.tx.journal = append(c.tx.journal, undo)
}

// Emit appends an event for publication when the transaction commits.
func (c *Call) Emit(name string, data any) {
	c.tx.events = append(c.tx.events, Event{
		Contract: c.self,
		Name:     name,
		Time:     c.tx.now,
		Data:     data,
	})
}

// Balance returns the native balance of addr as seen by this transaction.
func (c *Call) Balance(addr common.Address) *big.Int {
	return new(big.Int).Set(c.ledger.balanceLocked(addr))
}

// Transfer pays amount of native value from the running contract to to.
// A zero amount is a no-op. If to has a Receiver hook it runs before
// Transfer returns; a hook error undoes the payment and everything the hook did.
func (c *Call) Transfer(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeValue
	}
	journalMark, eventMark := c.tx.mark()
	if err := c.ledger.move(c.tx, c.self, to, amount); err != nil {
		return err
	}
	hook := c.ledger.receivers[to]
	if hook == nil {
		return nil
	}
	opts := &TxOpts{Context: c.ctx, From: to}
	if err := hook.OnReceive(opts, c.self, new(big.Int).Set(amount)); err != nil {
		c.tx.revertTo(journalMark, eventMark)
		return fmt.Errorf("%w: %s: %v", ErrTransferRejected, to.Hex(), err)
	}
	return nil
}

// TransferToken pays amount of token from the running contract to to.
func (c *Call) TransferToken(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeValue
	}
	return c.ledger.moveToken(c.tx, token, c.self, to, amount)
}

// TransferTokenFrom pulls amount of token from owner to to, spending the
// allowance owner granted the running contract.
func (c *Call) TransferTokenFrom(token, owner, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeValue
	}
	key := allowanceKey{token, owner, c.self}
	allowed := c.ledger.allowances[key]
	if allowed == nil || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved %v for %s", ErrInsufficientAllowance, owner.Hex(), allowed, c.self.Hex())
	}
	if err := c.ledger.moveToken(c.tx, token, owner, to, amount); err != nil {
		return err
	}
	c.ledger.allowances[key] = new(big.Int).Sub(allowed, amount)
	c.Journal(func() { c.ledger.restoreAllowance(key, allowed) })
	return nil
}
