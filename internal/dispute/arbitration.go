package dispute

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

// ArbitrationParams are the arbitration module's policy values.
type ArbitrationParams struct {
	Fee            *big.Int
	Timeout        time.Duration
	EvidenceWindow time.Duration
}

// DefaultArbitrationParams returns a 0.01 native unit fee, a 7 day ruling
// timeout and a 24h evidence window.
func DefaultArbitrationParams() ArbitrationParams {
	return ArbitrationParams{
		Fee:            big.NewInt(10_000_000_000_000_000),
		Timeout:        7 * 24 * time.Hour,
		EvidenceWindow: 24 * time.Hour,
	}
}

// Validate checks the policy bounds.
func (p ArbitrationParams) Validate() error {
	if p.Fee == nil || p.Fee.Sign() < 0 {
		return fmt.Errorf("%w: arbitration fee", types.ErrInvalidValue)
	}
	if p.Timeout <= 0 || p.EvidenceWindow <= 0 {
		return fmt.Errorf("%w: arbitration windows must be positive", types.ErrInvalidValue)
	}
	return nil
}

// Case is an escalated dispute awaiting or past an arbitration ruling.
type Case struct {
	ReceiptID   types.ReceiptID `json:"receipt_id"`
	Escalator   common.Address  `json:"escalator"`
	Fee         *big.Int        `json:"fee"`
	EscalatedAt time.Time       `json:"escalated_at"`
	// Deadline is when the case may be closed by timeout.
	Deadline         time.Time `json:"deadline"`
	EvidenceDeadline time.Time `json:"evidence_deadline"`

	Resolved     bool      `json:"resolved"`
	TimedOut     bool      `json:"timed_out,omitempty"`
	SolverFault  bool      `json:"solver_fault,omitempty"`
	SlashPercent uint8     `json:"slash_percent,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	ResolvedAt   time.Time `json:"resolved_at,omitempty"`

	challenger common.Address
	operator   common.Address
}

func (k *Case) copy() Case {
	out := *k
	out.Fee = new(big.Int).Set(k.Fee)
	return out
}

// Arbitration escalates subjective disputes to a fixed-fee arbitrator.
type Arbitration struct {
	chain   *ledger.Ledger
	addr    common.Address
	acl     *authz.ACL
	hub     Hub
	solvers Solvers
	guard   ledger.Guard

	params     ArbitrationParams
	arbitrator common.Address

	cases    map[types.ReceiptID]*Case
	evidence map[common.Hash][]Evidence
}

// NewArbitration deploys an arbitration module owned by owner.
func NewArbitration(chain *ledger.Ledger, owner, arbitrator common.Address, h Hub, solvers Solvers, params ArbitrationParams) (*Arbitration, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if arbitrator == (common.Address{}) {
		return nil, fmt.Errorf("%w: arbitrator", ErrZeroAddress)
	}
	params.Fee = new(big.Int).Set(params.Fee)
	return &Arbitration{
		chain:      chain,
		addr:       chain.DeployAddress(),
		acl:        authz.NewACL(owner),
		hub:        h,
		solvers:    solvers,
		params:     params,
		arbitrator: arbitrator,
		cases:      make(map[types.ReceiptID]*Case),
		evidence:   make(map[common.Hash][]Evidence),
	}, nil
}

// Address is the module's ledger address; fees are held there.
func (a *Arbitration) Address() common.Address { return a.addr }

// Arbitrator returns the address allowed to rule.
func (a *Arbitration) Arbitrator(ctx context.Context) common.Address {
	var out common.Address
	a.chain.Read(ctx, func() { out = a.arbitrator })
	return out
}

// Params returns the current policy.
func (a *Arbitration) Params(ctx context.Context) ArbitrationParams {
	var out ArbitrationParams
	a.chain.Read(ctx, func() {
		out = a.params
		out.Fee = new(big.Int).Set(a.params.Fee)
	})
	return out
}

// SetArbitrator replaces the arbitrator.
func (a *Arbitration) SetArbitrator(opts *ledger.TxOpts, arbitrator common.Address) error {
	return a.chain.Transact(opts, a.addr, func(c *ledger.Call) error {
		if !a.acl.IsOwner(c.Sender()) {
			return ErrNotOwner
		}
		if arbitrator == (common.Address{}) {
			return ErrZeroAddress
		}
		prev := a.arbitrator
		a.arbitrator = arbitrator
		c.Journal(func() { a.arbitrator = prev })
		c.Emit(EventArbitratorSet, arbitrator)
		return nil
	})
}

// SetParams replaces the policy. Open cases keep their deadlines and fee.
func (a *Arbitration) SetParams(opts *ledger.TxOpts, params ArbitrationParams) error {
	return a.chain.Transact(opts, a.addr, func(c *ledger.Call) error {
		if !a.acl.IsOwner(c.Sender()) {
			return ErrNotOwner
		}
		if err := params.Validate(); err != nil {
			return err
		}
		prev := a.params
		a.params = params
		a.params.Fee = new(big.Int).Set(params.Fee)
		c.Journal(func() { a.params = prev })
		return nil
	})
}

// Escalate hands a subjective hub dispute to the arbitrator. Only the
// challenger or the solver operator may escalate, paying at least the fee.
func (a *Arbitration) Escalate(opts *ledger.TxOpts, receiptID types.ReceiptID) error {
	return a.chain.Transact(opts, a.addr, func(c *ledger.Call) error {
		if _, exists := a.cases[receiptID]; exists {
			return ErrAlreadyEscalated
		}
		r, d, err := subjectiveDispute(c.Context(), a.hub, receiptID)
		if err != nil {
			return err
		}
		if d.Escalated {
			return ErrAlreadyEscalated
		}
		solver, err := a.solvers.Solver(c.Context(), r.Receipt.SolverID)
		if err != nil {
			return err
		}
		sender := c.Sender()
		if sender != d.Challenger && sender != solver.Operator {
			return ErrNotParty
		}
		fee := c.Value()
		if fee.Cmp(a.params.Fee) < 0 {
			return fmt.Errorf("%w: paid %s, fee %s", ErrInsufficientFee, fee, a.params.Fee)
		}

		now := c.Now()
		k := &Case{
			ReceiptID:        receiptID,
			Escalator:        sender,
			Fee:              fee,
			EscalatedAt:      now,
			Deadline:         now.Add(a.params.Timeout),
			EvidenceDeadline: now.Add(a.params.EvidenceWindow),
			challenger:       d.Challenger,
			operator:         solver.Operator,
		}
		a.cases[receiptID] = k
		c.Journal(func() { delete(a.cases, receiptID) })

		if err := a.hub.EscalateDispute(c.Opts(), receiptID); err != nil {
			return err
		}
		c.Emit(EventEscalated, Escalated{ReceiptID: receiptID, Escalator: sender, Fee: new(big.Int).Set(fee), Deadline: k.Deadline})
		return nil
	})
}

// SubmitEvidence appends to the case's evidence log. Either party may
// submit until the evidence window closes.
func (a *Arbitration) SubmitEvidence(opts *ledger.TxOpts, receiptID types.ReceiptID, hash common.Hash) error {
	return a.chain.Transact(opts, a.addr, func(c *ledger.Call) error {
		if hash == (common.Hash{}) {
			return ErrZeroHash
		}
		k, err := a.load(receiptID)
		if err != nil {
			return err
		}
		if c.Sender() != k.challenger && c.Sender() != k.operator {
			return ErrNotParty
		}
		if k.Resolved {
			return ErrResolved
		}
		if c.Now().After(k.EvidenceDeadline) {
			return ErrEvidenceClosed
		}
		appendEvidence(c, a.evidence, receiptID, hash)
		c.Emit(EventEvidenceSubmitted, EvidenceSubmitted{Key: receiptID, Hash: hash, Submitter: c.Sender()})
		return nil
	})
}

// Resolve applies the arbitrator's ruling. On fault the hub slashes
// slashPercent of the solver's bond and the fee goes to the arbitrator;
// otherwise the receipt is finalized and the fee is refunded.
func (a *Arbitration) Resolve(opts *ledger.TxOpts, receiptID types.ReceiptID, solverFault bool, slashPercent uint8, reason string) error {
	return a.chain.Transact(opts, a.addr, func(c *ledger.Call) error {
		if err := a.guard.Enter(); err != nil {
			return err
		}
		defer a.guard.Exit()

		if c.Sender() != a.arbitrator {
			return ErrNotArbitrator
		}
		if slashPercent > 100 {
			return ErrInvalidPercent
		}
		k, err := a.open(receiptID)
		if err != nil {
			return err
		}
		if !solverFault {
			slashPercent = 0
		}
		feeTo := k.Escalator
		if solverFault {
			feeTo = a.arbitrator
		}
		a.close(c, k, solverFault, slashPercent, reason, false)

		if err := a.hub.ResolveEscalatedDispute(c.Opts(), receiptID, solverFault, slashPercent, common.Address{}); err != nil {
			return err
		}
		c.Emit(EventArbitrationRuling, ArbitrationResolved{
			ReceiptID:    receiptID,
			SolverFault:  solverFault,
			SlashPercent: slashPercent,
			Reason:       reason,
			FeeTo:        feeTo,
		})
		return c.Transfer(feeTo, k.Fee)
	})
}

// ResolveByTimeout closes a case the arbitrator left unruled past its
// deadline. Anyone may call it; the solver is held not at fault and the
// escalator's fee is refunded.
func (a *Arbitration) ResolveByTimeout(opts *ledger.TxOpts, receiptID types.ReceiptID) error {
	return a.chain.Transact(opts, a.addr, func(c *ledger.Call) error {
		if err := a.guard.Enter(); err != nil {
			return err
		}
		defer a.guard.Exit()

		k, err := a.open(receiptID)
		if err != nil {
			return err
		}
		if c.Now().Before(k.Deadline) {
			return ErrDeadlineNotPassed
		}
		a.close(c, k, false, 0, "arbitration timeout", true)

		if err := a.hub.ResolveEscalatedDispute(c.Opts(), receiptID, false, 0, common.Address{}); err != nil {
			return err
		}
		c.Emit(EventArbitrationTimeout, ArbitrationResolved{
			ReceiptID: receiptID,
			Reason:    k.Reason,
			FeeTo:     k.Escalator,
		})
		return c.Transfer(k.Escalator, k.Fee)
	})
}

// Case returns an arbitration case.
func (a *Arbitration) Case(ctx context.Context, receiptID types.ReceiptID) (Case, error) {
	var (
		out Case
		err error
	)
	a.chain.Read(ctx, func() {
		var k *Case
		if k, err = a.load(receiptID); err == nil {
			out = k.copy()
		}
	})
	return out, err
}

// Evidence returns a case's evidence log in submission order.
func (a *Arbitration) Evidence(ctx context.Context, receiptID types.ReceiptID) []Evidence {
	var out []Evidence
	a.chain.Read(ctx, func() { out = append(out, a.evidence[receiptID]...) })
	return out
}

func (a *Arbitration) load(receiptID types.ReceiptID) (*Case, error) {
	k, ok := a.cases[receiptID]
	if !ok {
		return nil, fmt.Errorf("%w: no case for %s", ErrNotFound, receiptID.Hex())
	}
	return k, nil
}

func (a *Arbitration) open(receiptID types.ReceiptID) (*Case, error) {
	k, err := a.load(receiptID)
	if err != nil {
		return nil, err
	}
	if k.Resolved {
		return nil, ErrResolved
	}
	return k, nil
}

// close records the ruling on k before any value moves.
func (a *Arbitration) close(c *ledger.Call, k *Case, fault bool, pct uint8, reason string, timedOut bool) {
	prev := *k
	k.Resolved = true
	k.TimedOut = timedOut
	k.SolverFault = fault
	k.SlashPercent = pct
	k.Reason = reason
	k.ResolvedAt = c.Now()
	c.Journal(func() { *k = prev })
}
