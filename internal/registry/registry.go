// Package registry is the solver registry: identities, bond accounting and
// the bond-driven status machine, slashing and jailing.
package registry

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/moltbunker/solverbond/internal/authz"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/pkg/types"
)

// Privileged operations.
const (
	OpLockBond      authz.Operation = "registry.lock_bond"
	OpUnlockBond    authz.Operation = "registry.unlock_bond"
	OpSlash         authz.Operation = "registry.slash"
	OpJail          authz.Operation = "registry.jail"
	OpUnjail        authz.Operation = "registry.unjail"
	OpBan           authz.Operation = "registry.ban"
	OpRecordOutcome authz.Operation = "registry.record_outcome"
)

// Params are the registry's policy constants.
type Params struct {
	MinimumBond        *big.Int
	WithdrawalCooldown time.Duration
	MaxJailCount       uint8
}

// DefaultParams returns 0.1 native units, a 7 day cooldown and a jail limit of 3.
func DefaultParams() Params {
	return Params{
		MinimumBond:        big.NewInt(100_000_000_000_000_000),
		WithdrawalCooldown: 7 * 24 * time.Hour,
		MaxJailCount:       3,
	}
}

// Registry is the solver registry contract.
type Registry struct {
	chain  *ledger.Ledger
	addr   common.Address
	acl    *authz.ACL
	params Params

	solvers    map[types.SolverID]*Solver
	byOperator map[common.Address]types.SolverID
	count      uint64
}

// New deploys a registry owned by owner.
func New(chain *ledger.Ledger, owner common.Address, params Params) *Registry {
	if params.MinimumBond == nil {
		params.MinimumBond = DefaultParams().MinimumBond
	}
	if params.MaxJailCount == 0 {
		params.MaxJailCount = DefaultParams().MaxJailCount
	}
	params.MinimumBond = new(big.Int).Set(params.MinimumBond)
	return &Registry{
		chain:      chain,
		addr:       chain.DeployAddress(),
		acl:        authz.NewACL(owner),
		params:     params,
		solvers:    make(map[types.SolverID]*Solver),
		byOperator: make(map[common.Address]types.SolverID),
	}
}

// Address is the registry's ledger address; bonds are held there.
func (r *Registry) Address() common.Address { return r.addr }

// Owner returns the registry owner.
func (r *Registry) Owner() common.Address { return r.acl.Owner() }

// MinimumBond returns the bond needed to become Active.
func (r *Registry) MinimumBond() *big.Int { return new(big.Int).Set(r.params.MinimumBond) }

// WithdrawalCooldown returns the delay between initiating and executing a withdrawal.
func (r *Registry) WithdrawalCooldown() time.Duration { return r.params.WithdrawalCooldown }

// MaxJailCount returns the number of jailings that ban a solver.
func (r *Registry) MaxJailCount() uint8 { return r.params.MaxJailCount }

// Permits implements authz.AuthorizationPolicy.
func (r *Registry) Permits(principal common.Address, op authz.Operation) bool {
	return r.acl.Permits(principal, op)
}

// SetAuthorizedCaller grants or revokes every privileged operation for caller.
func (r *Registry) SetAuthorizedCaller(opts *ledger.TxOpts, caller common.Address, allowed bool) error {
	return r.chain.Transact(opts, r.addr, func(c *ledger.Call) error {
		if !r.acl.IsOwner(c.Sender()) {
			return ErrNotOwner
		}
		if caller == (common.Address{}) {
			return ErrZeroAddress
		}
		prev := r.acl.Set(caller, authz.AnyOperation, allowed)
		c.Journal(func() { r.acl.Set(caller, authz.AnyOperation, prev) })
		c.Emit(EventAuthorizedCaller, AuthorizedCallerSet{Caller: caller, Allowed: allowed})
		return nil
	})
}

// IsAuthorizedCaller reports whether caller is on the allow-list.
func (r *Registry) IsAuthorizedCaller(ctx context.Context, caller common.Address) bool {
	var ok bool
	r.chain.Read(ctx, func() { ok = r.acl.Granted(caller, authz.AnyOperation) })
	return ok
}

// RegisterSolver creates a solver for operator with status Inactive and no bond.
func (r *Registry) RegisterSolver(opts *ledger.TxOpts, metadataURI string, operator common.Address) (types.SolverID, error) {
	var id types.SolverID
	err := r.chain.Transact(opts, r.addr, func(c *ledger.Call) error {
		if operator == (common.Address{}) {
			return ErrZeroAddress
		}
		if _, exists := r.byOperator[operator]; exists {
			return fmt.Errorf("%w: %s", ErrOperatorRegistered, operator.Hex())
		}

		var n [8]byte
		binary.BigEndian.PutUint64(n[:], r.count)
		id = crypto.Keccak256Hash(r.addr.Bytes(), operator.Bytes(), n[:])

		r.solvers[id] = newSolver(id, operator, metadataURI, c.Now())
		r.byOperator[operator] = id
		r.count++
		c.Journal(func() {
			delete(r.solvers, id)
			delete(r.byOperator, operator)
			r.count--
		})

		c.Emit(EventSolverRegistered, SolverRegistered{SolverID: id, Operator: operator, MetadataURI: metadataURI})
		return nil
	})
	if err != nil {
		return types.SolverID{}, err
	}
	return id, nil
}

// Solver returns a copy of the solver.
func (r *Registry) Solver(ctx context.Context, id types.SolverID) (Solver, error) {
	var (
		out Solver
		err error
	)
	r.chain.Read(ctx, func() {
		s, ok := r.solvers[id]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrSolverNotFound, id.Hex())
			return
		}
		out = s.Copy()
	})
	return out, err
}

// SolverByOperator returns the solver owned by operator.
func (r *Registry) SolverByOperator(ctx context.Context, operator common.Address) (Solver, error) {
	var (
		out Solver
		err error
	)
	r.chain.Read(ctx, func() {
		id, ok := r.byOperator[operator]
		if !ok {
			err = fmt.Errorf("%w: operator %s", ErrSolverNotFound, operator.Hex())
			return
		}
		out = r.solvers[id].Copy()
	})
	return out, err
}

// IsActive reports whether the solver may post receipts.
func (r *Registry) IsActive(ctx context.Context, id types.SolverID) bool {
	var active bool
	r.chain.Read(ctx, func() {
		if s, ok := r.solvers[id]; ok {
			active = s.Status == types.SolverActive
		}
	})
	return active
}

// Solvers lists all solvers in registration order.
func (r *Registry) Solvers(ctx context.Context) []Solver {
	var out []Solver
	r.chain.Read(ctx, func() {
		out = make([]Solver, 0, len(r.solvers))
		for _, s := range r.solvers {
			out = append(out, s.Copy())
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

// RecordOutcome updates the solver's score. volume may be nil.
func (r *Registry) RecordOutcome(opts *ledger.TxOpts, id types.SolverID, ev ScoreEvent, volume *big.Int) error {
	return r.chain.Transact(opts, r.addr, func(c *ledger.Call) error {
		if err := authz.Require(r.acl, c.Sender(), OpRecordOutcome); err != nil {
			return err
		}
		s, err := r.load(c, id)
		if err != nil {
			return err
		}
		switch ev {
		case ScoreFill:
			s.Score.TotalFills++
		case ScoreSuccess:
			s.Score.SuccessfulFills++
		case ScoreDisputeOpened:
			s.Score.DisputesOpened++
		case ScoreDisputeLost:
			s.Score.DisputesLost++
		default:
			return fmt.Errorf("%w: unknown score event %d", types.ErrInvalidValue, ev)
		}
		if volume != nil && volume.Sign() > 0 {
			s.Score.Volume.Add(s.Score.Volume, volume)
		}
		s.LastActivityAt = c.Now()
		return nil
	})
}

// load returns the solver for mutation and journals its current state.
func (r *Registry) load(c *ledger.Call, id types.SolverID) (*Solver, error) {
	s, ok := r.solvers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSolverNotFound, id.Hex())
	}
	prev := s.Copy()
	c.Journal(func() { *s = prev })
	return s, nil
}

// transition applies ev to the solver's status and emits the change.
func (r *Registry) transition(c *ledger.Call, s *Solver, ev types.SolverEvent) error {
	next, err := types.NextSolverStatus(s.Status, ev)
	if err != nil {
		return err
	}
	if next != s.Status {
		c.Emit(EventStatusChanged, StatusChanged{SolverID: s.ID, From: s.Status, To: next})
		s.Status = next
	}
	return nil
}

// bondEvent is the status event implied by the solver's current bond.
func (r *Registry) bondEvent(s *Solver) types.SolverEvent {
	if s.Bond.Total().Cmp(r.params.MinimumBond) >= 0 {
		return types.SolverBondSufficient
	}
	return types.SolverBondInsufficient
}
