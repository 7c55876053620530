package registry

import (
	"fmt"

	"github.com/moltbunker/solverbond/internal/authz"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/pkg/types"
)

// JailSolver jails the solver and increments its jail count. Reaching the
// jail limit bans it instead.
func (r *Registry) JailSolver(opts *ledger.TxOpts, id types.SolverID) error {
	return r.chain.Transact(opts, r.addr, func(c *ledger.Call) error {
		if err := authz.Require(r.acl, c.Sender(), OpJail); err != nil {
			return err
		}
		s, err := r.load(c, id)
		if err != nil {
			return err
		}
		if s.Status == types.SolverBanned {
			return fmt.Errorf("%w: %s", ErrSolverBanned, id.Hex())
		}

		s.JailCount++
		if s.JailCount >= r.params.MaxJailCount {
			if err := r.transition(c, s, types.SolverBan); err != nil {
				return err
			}
			c.Emit(EventSolverBanned, JailChanged{SolverID: id, JailCount: s.JailCount})
			return nil
		}
		if err := r.transition(c, s, types.SolverJail); err != nil {
			return err
		}
		c.Emit(EventSolverJailed, JailChanged{SolverID: id, JailCount: s.JailCount})
		return nil
	})
}

// UnjailSolver releases a jailed solver; its status is then derived from its
// bond again.
func (r *Registry) UnjailSolver(opts *ledger.TxOpts, id types.SolverID) error {
	return r.chain.Transact(opts, r.addr, func(c *ledger.Call) error {
		if err := authz.Require(r.acl, c.Sender(), OpUnjail); err != nil {
			return err
		}
		s, err := r.load(c, id)
		if err != nil {
			return err
		}
		switch s.Status {
		case types.SolverBanned:
			return fmt.Errorf("%w: %s", ErrSolverBanned, id.Hex())
		case types.SolverJailed:
		default:
			return fmt.Errorf("%w: %s is %s", ErrNotJailed, id.Hex(), s.Status)
		}

		if err := r.transition(c, s, types.SolverUnjail); err != nil {
			return err
		}
		if err := r.transition(c, s, r.bondEvent(s)); err != nil {
			return err
		}
		c.Emit(EventSolverUnjailed, JailChanged{SolverID: id, JailCount: s.JailCount})
		return nil
	})
}

// BanSolver bans the solver permanently.
func (r *Registry) BanSolver(opts *ledger.TxOpts, id types.SolverID) error {
	return r.chain.Transact(opts, r.addr, func(c *ledger.Call) error {
		if err := authz.Require(r.acl, c.Sender(), OpBan); err != nil {
			return err
		}
		s, err := r.load(c, id)
		if err != nil {
			return err
		}
		if s.Status == types.SolverBanned {
			return fmt.Errorf("%w: %s", ErrSolverBanned, id.Hex())
		}
		if err := r.transition(c, s, types.SolverBan); err != nil {
			return err
		}
		c.Emit(EventSolverBanned, JailChanged{SolverID: id, JailCount: s.JailCount})
		return nil
	})
}
