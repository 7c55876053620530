package registry

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/internal/authz"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/pkg/types"
)

// DepositBond adds the attached value to the solver's available bond.
func (r *Registry) DepositBond(opts *ledger.TxOpts, id types.SolverID) error {
	return r.chain.Transact(opts, r.addr, func(c *ledger.Call) error {
		amount := c.Value()
		if amount.Sign() == 0 {
			return ErrZeroAmount
		}
		s, err := r.load(c, id)
		if err != nil {
			return err
		}
		if s.Status == types.SolverBanned {
			return fmt.Errorf("%w: %s", ErrSolverBanned, id.Hex())
		}

		s.Bond.Available.Add(s.Bond.Available, amount)
		s.TotalDeposited.Add(s.TotalDeposited, amount)
		if total := s.Bond.Total(); total.Cmp(s.Bond.Peak) > 0 {
			s.Bond.Peak = total
		}
		s.LastActivityAt = c.Now()

		c.Emit(EventBondDeposited, BondChanged{SolverID: id, Amount: amount, Total: s.Bond.Total()})
		return r.transition(c, s, r.bondEvent(s))
	})
}

// InitiateWithdrawal starts the withdrawal cooldown. Calling it again restarts
// the cooldown.
func (r *Registry) InitiateWithdrawal(opts *ledger.TxOpts, id types.SolverID) error {
	return r.chain.Transact(opts, r.addr, func(c *ledger.Call) error {
		s, err := r.load(c, id)
		if err != nil {
			return err
		}
		if c.Sender() != s.Operator {
			return ErrNotOperator
		}
		s.WithdrawalRequestedAt = c.Now()
		c.Emit(EventWithdrawalInitiated, BondChanged{SolverID: id, Amount: new(big.Int), Total: s.Bond.Total()})
		return nil
	})
}

// WithdrawalAvailableAt returns the first instant WithdrawBond succeeds, or
// the zero time if no withdrawal is pending.
func (r *Registry) WithdrawalAvailableAt(s Solver) time.Time {
	if s.WithdrawalRequestedAt.IsZero() {
		return time.Time{}
	}
	return s.WithdrawalRequestedAt.Add(r.params.WithdrawalCooldown).Add(time.Second)
}

// WithdrawBond pays amount of available bond to the operator once the
// cooldown has strictly elapsed.
func (r *Registry) WithdrawBond(opts *ledger.TxOpts, id types.SolverID, amount *big.Int) error {
	return r.chain.Transact(opts, r.addr, func(c *ledger.Call) error {
		if amount == nil || amount.Sign() <= 0 {
			return ErrZeroAmount
		}
		s, err := r.load(c, id)
		if err != nil {
			return err
		}
		if c.Sender() != s.Operator {
			return ErrNotOperator
		}
		if s.WithdrawalRequestedAt.IsZero() {
			return ErrNoWithdrawalPending
		}
		if !c.Now().After(s.WithdrawalRequestedAt.Add(r.params.WithdrawalCooldown)) {
			return fmt.Errorf("%w: available after %s", ErrCooldownActive,
				s.WithdrawalRequestedAt.Add(r.params.WithdrawalCooldown).UTC().Format(time.RFC3339))
		}
		if amount.Cmp(s.Bond.Available) > 0 {
			return fmt.Errorf("%w: withdraw %s, available %s", ErrInsufficientBond, amount, s.Bond.Available)
		}

		s.Bond.Available.Sub(s.Bond.Available, amount)
		s.TotalWithdrawn.Add(s.TotalWithdrawn, amount)
		s.WithdrawalRequestedAt = time.Time{}
		s.LastActivityAt = c.Now()
		if err := r.transition(c, s, r.bondEvent(s)); err != nil {
			return err
		}
		c.Emit(EventBondWithdrawn, BondChanged{SolverID: id, Amount: new(big.Int).Set(amount), Total: s.Bond.Total()})

		return c.Transfer(s.Operator, amount)
	})
}

// LockBond moves amount from available to locked.
func (r *Registry) LockBond(opts *ledger.TxOpts, id types.SolverID, amount *big.Int) error {
	return r.chain.Transact(opts, r.addr, func(c *ledger.Call) error {
		if err := authz.Require(r.acl, c.Sender(), OpLockBond); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrZeroAmount
		}
		s, err := r.load(c, id)
		if err != nil {
			return err
		}
		if amount.Cmp(s.Bond.Available) > 0 {
			return fmt.Errorf("%w: lock %s, available %s", ErrInsufficientBond, amount, s.Bond.Available)
		}
		s.Bond.Available.Sub(s.Bond.Available, amount)
		s.Bond.Locked.Add(s.Bond.Locked, amount)
		c.Emit(EventBondLocked, BondChanged{SolverID: id, Amount: new(big.Int).Set(amount), Total: s.Bond.Total()})
		return nil
	})
}

// UnlockBond moves amount from locked back to available.
func (r *Registry) UnlockBond(opts *ledger.TxOpts, id types.SolverID, amount *big.Int) error {
	return r.chain.Transact(opts, r.addr, func(c *ledger.Call) error {
		if err := authz.Require(r.acl, c.Sender(), OpUnlockBond); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrZeroAmount
		}
		s, err := r.load(c, id)
		if err != nil {
			return err
		}
		if amount.Cmp(s.Bond.Locked) > 0 {
			return fmt.Errorf("%w: unlock %s, locked %s", ErrInsufficientBond, amount, s.Bond.Locked)
		}
		s.Bond.Locked.Sub(s.Bond.Locked, amount)
		s.Bond.Available.Add(s.Bond.Available, amount)
		c.Emit(EventBondUnlocked, BondChanged{SolverID: id, Amount: new(big.Int).Set(amount), Total: s.Bond.Total()})
		return nil
	})
}

// Slash takes amount from the solver's bond, locked first, and pays it to
// recipient.
func (r *Registry) Slash(opts *ledger.TxOpts, id types.SolverID, amount *big.Int, receiptRef common.Hash, reason string, recipient common.Address) error {
	return r.chain.Transact(opts, r.addr, func(c *ledger.Call) error {
		if err := authz.Require(r.acl, c.Sender(), OpSlash); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrZeroAmount
		}
		if recipient == (common.Address{}) {
			return ErrZeroAddress
		}
		s, err := r.load(c, id)
		if err != nil {
			return err
		}
		if amount.Cmp(s.Bond.Total()) > 0 {
			return fmt.Errorf("%w: slash %s, bond %s", ErrInsufficientBond, amount, s.Bond.Total())
		}

		fromLocked := new(big.Int).Set(amount)
		if fromLocked.Cmp(s.Bond.Locked) > 0 {
			fromLocked.Set(s.Bond.Locked)
		}
		s.Bond.Locked.Sub(s.Bond.Locked, fromLocked)
		s.Bond.Available.Sub(s.Bond.Available, new(big.Int).Sub(amount, fromLocked))
		s.Score.TotalSlashed.Add(s.Score.TotalSlashed, amount)
		s.LastActivityAt = c.Now()

		if err := r.transition(c, s, r.bondEvent(s)); err != nil {
			return err
		}
		c.Emit(EventSolverSlashed, SolverSlashed{
			SolverID:   id,
			Amount:     new(big.Int).Set(amount),
			ReceiptRef: receiptRef,
			Reason:     reason,
			Recipient:  recipient,
		})

		return c.Transfer(recipient, amount)
	})
}
