package dispute

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/moltbunker/solverbond/internal/authz"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/pkg/types"
)

// OptimisticParams are the counter-bond protocol's policy values.
type OptimisticParams struct {
	CounterBondWindow  time.Duration
	CounterBondBps     uint16
	ArbitrationTimeout time.Duration
	EvidenceWindow     time.Duration
	// UncontestedSlashPercent is slashed when the solver never posts a
	// counter-bond.
	UncontestedSlashPercent uint8
	// ContestedTimeoutSlashPercent is slashed when the arbitrator never rules.
	ContestedTimeoutSlashPercent uint8
}

// DefaultOptimisticParams returns a symmetric counter-bond due within 24h,
// a 7 day arbitration timeout and a 48h evidence window.
func DefaultOptimisticParams() OptimisticParams {
	return OptimisticParams{
		CounterBondWindow:            24 * time.Hour,
		CounterBondBps:               10_000,
		ArbitrationTimeout:           7 * 24 * time.Hour,
		EvidenceWindow:               48 * time.Hour,
		UncontestedSlashPercent:      100,
		ContestedTimeoutSlashPercent: 0,
	}
}

// Validate checks the policy bounds.
func (p OptimisticParams) Validate() error {
	if p.CounterBondWindow <= 0 || p.ArbitrationTimeout <= 0 || p.EvidenceWindow <= 0 {
		return fmt.Errorf("%w: optimistic windows must be positive", types.ErrInvalidValue)
	}
	if p.CounterBondBps == 0 {
		return fmt.Errorf("%w: counter-bond bps", types.ErrInvalidValue)
	}
	if p.UncontestedSlashPercent > 100 || p.ContestedTimeoutSlashPercent > 100 {
		return ErrInvalidPercent
	}
	return nil
}

// Optimistic is a counter-bond dispute over a subjective hub dispute.
type Optimistic struct {
	ID             types.DisputeID        `json:"id"`
	ReceiptID      types.ReceiptID        `json:"receipt_id"`
	SolverID       types.SolverID         `json:"solver_id"`
	Challenger     common.Address         `json:"challenger"`
	Operator       common.Address         `json:"operator"`
	EvidenceHash   common.Hash            `json:"evidence_hash"`
	ChallengerBond *big.Int               `json:"challenger_bond"`
	RequiredBond   *big.Int               `json:"required_counter_bond"`
	CounterBond    *big.Int               `json:"counter_bond"`
	Status         types.OptimisticStatus `json:"status"`
	OpenedAt       time.Time              `json:"opened_at"`

	CounterBondDeadline time.Time `json:"counter_bond_deadline"`
	// ArbitrationDeadline is zero until the dispute is contested.
	ArbitrationDeadline time.Time `json:"arbitration_deadline,omitempty"`
	EvidenceDeadline    time.Time `json:"evidence_deadline"`

	SlashPercent uint8     `json:"slash_percent,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	ResolvedAt   time.Time `json:"resolved_at,omitempty"`
}

func (o *Optimistic) copy() Optimistic {
	out := *o
	out.ChallengerBond = new(big.Int).Set(o.ChallengerBond)
	out.RequiredBond = new(big.Int).Set(o.RequiredBond)
	out.CounterBond = new(big.Int).Set(o.CounterBond)
	return out
}

// OptimisticModule runs the counter-bond protocol: the solver either
// matches the challenger's stake and goes to arbitration, or loses by
// default. Every deadline has a permissionless timeout path.
type OptimisticModule struct {
	chain   *ledger.Ledger
	addr    common.Address
	acl     *authz.ACL
	hub     Hub
	solvers Solvers
	guard   ledger.Guard

	params     OptimisticParams
	arbitrator common.Address

	disputes  map[types.DisputeID]*Optimistic
	byReceipt map[types.ReceiptID]types.DisputeID
	evidence  map[common.Hash][]Evidence
	count     uint64
}

// NewOptimistic deploys an optimistic dispute module owned by owner.
func NewOptimistic(chain *ledger.Ledger, owner, arbitrator common.Address, h Hub, solvers Solvers, params OptimisticParams) (*OptimisticModule, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if arbitrator == (common.Address{}) {
		return nil, fmt.Errorf("%w: arbitrator", ErrZeroAddress)
	}
	return &OptimisticModule{
		chain:      chain,
		addr:       chain.DeployAddress(),
		acl:        authz.NewACL(owner),
		hub:        h,
		solvers:    solvers,
		params:     params,
		arbitrator: arbitrator,
		disputes:   make(map[types.DisputeID]*Optimistic),
		byReceipt:  make(map[types.ReceiptID]types.DisputeID),
		evidence:   make(map[common.Hash][]Evidence),
	}, nil
}

// Address is the module's ledger address; counter-bonds are held there.
func (m *OptimisticModule) Address() common.Address { return m.addr }

// Params returns the current policy.
func (m *OptimisticModule) Params(ctx context.Context) OptimisticParams {
	var out OptimisticParams
	m.chain.Read(ctx, func() { out = m.params })
	return out
}

// SetParams replaces the policy. Open disputes keep their deadlines and
// counter-bond requirement.
func (m *OptimisticModule) SetParams(opts *ledger.TxOpts, params OptimisticParams) error {
	return m.chain.Transact(opts, m.addr, func(c *ledger.Call) error {
		if !m.acl.IsOwner(c.Sender()) {
			return ErrNotOwner
		}
		if err := params.Validate(); err != nil {
			return err
		}
		prev := m.params
		m.params = params
		c.Journal(func() { m.params = prev })
		return nil
	})
}

// SetArbitrator replaces the arbitrator.
func (m *OptimisticModule) SetArbitrator(opts *ledger.TxOpts, arbitrator common.Address) error {
	return m.chain.Transact(opts, m.addr, func(c *ledger.Call) error {
		if !m.acl.IsOwner(c.Sender()) {
			return ErrNotOwner
		}
		if arbitrator == (common.Address{}) {
			return ErrZeroAddress
		}
		prev := m.arbitrator
		m.arbitrator = arbitrator
		c.Journal(func() { m.arbitrator = prev })
		c.Emit(EventArbitratorSet, arbitrator)
		return nil
	})
}

// OpenOptimisticDispute takes over the hub's subjective dispute on a
// receipt. Only the hub dispute's challenger may open it; the challenger
// bond already held by the hub is the stake.
func (m *OptimisticModule) OpenOptimisticDispute(opts *ledger.TxOpts, receiptID types.ReceiptID, evidenceHash common.Hash) (types.DisputeID, error) {
	var id types.DisputeID
	err := m.chain.Transact(opts, m.addr, func(c *ledger.Call) error {
		if c.Value().Sign() != 0 {
			return ErrUnexpectedValue
		}
		if _, exists := m.byReceipt[receiptID]; exists {
			return ErrAlreadyEscalated
		}
		r, d, err := subjectiveDispute(c.Context(), m.hub, receiptID)
		if err != nil {
			return err
		}
		if d.Escalated {
			return ErrAlreadyEscalated
		}
		if c.Sender() != d.Challenger {
			return ErrNotChallenger
		}
		solver, err := m.solvers.Solver(c.Context(), r.Receipt.SolverID)
		if err != nil {
			return err
		}

		now := c.Now()
		id = m.disputeID(receiptID)
		o := &Optimistic{
			ID:                  id,
			ReceiptID:           receiptID,
			SolverID:            r.Receipt.SolverID,
			Challenger:          d.Challenger,
			Operator:            solver.Operator,
			EvidenceHash:        evidenceHash,
			ChallengerBond:      new(big.Int).Set(d.Bond),
			RequiredBond:        types.Bps(d.Bond, uint64(m.params.CounterBondBps)),
			CounterBond:         new(big.Int),
			Status:              types.OptimisticOpen,
			OpenedAt:            now,
			CounterBondDeadline: now.Add(m.params.CounterBondWindow),
			EvidenceDeadline:    now.Add(m.params.EvidenceWindow),
		}
		m.disputes[id] = o
		m.byReceipt[receiptID] = id
		m.count++
		c.Journal(func() {
			delete(m.disputes, id)
			delete(m.byReceipt, receiptID)
			m.count--
		})
		if evidenceHash != (common.Hash{}) {
			appendEvidence(c, m.evidence, id, evidenceHash)
		}

		if err := m.hub.EscalateDispute(c.Opts(), receiptID); err != nil {
			return err
		}
		c.Emit(EventOptimisticOpened, OptimisticOpened{
			DisputeID:           id,
			ReceiptID:           receiptID,
			Challenger:          d.Challenger,
			ChallengerBond:      new(big.Int).Set(o.ChallengerBond),
			RequiredCounter:     new(big.Int).Set(o.RequiredBond),
			CounterBondDeadline: o.CounterBondDeadline,
		})
		return nil
	})
	if err != nil {
		return types.DisputeID{}, err
	}
	return id, nil
}

// PostCounterBond contests the dispute. The operator must attach exactly
// the required counter-bond before the counter-bond deadline.
func (m *OptimisticModule) PostCounterBond(opts *ledger.TxOpts, id types.DisputeID) error {
	return m.chain.Transact(opts, m.addr, func(c *ledger.Call) error {
		o, err := m.load(id)
		if err != nil {
			return err
		}
		if c.Sender() != o.Operator {
			return ErrNotOperator
		}
		if o.Status != types.OptimisticOpen {
			return fmt.Errorf("%w: %s", ErrNotOpen, o.Status)
		}
		if !c.Now().Before(o.CounterBondDeadline) {
			return ErrDeadlinePassed
		}
		if c.Value().Cmp(o.RequiredBond) != 0 {
			return fmt.Errorf("%w: attached %s, required %s", ErrCounterBond, c.Value(), o.RequiredBond)
		}
		prev := o.copy()
		if err := m.transition(o, types.OptimisticCounterBond); err != nil {
			return err
		}
		o.CounterBond = c.Value()
		o.ArbitrationDeadline = c.Now().Add(m.params.ArbitrationTimeout)
		c.Journal(func() { *o = prev })

		c.Emit(EventCounterBondPosted, CounterBondPosted{
			DisputeID:           id,
			Amount:              new(big.Int).Set(o.CounterBond),
			ArbitrationDeadline: o.ArbitrationDeadline,
		})
		return nil
	})
}

// ResolveByTimeout decides an uncontested dispute for the challenger once
// the counter-bond deadline has passed. Anyone may call it.
func (m *OptimisticModule) ResolveByTimeout(opts *ledger.TxOpts, id types.DisputeID) error {
	return m.resolve(opts, id, func(c *ledger.Call, o *Optimistic) error {
		if o.Status != types.OptimisticOpen {
			return fmt.Errorf("%w: %s", ErrNotOpen, o.Status)
		}
		if c.Now().Before(o.CounterBondDeadline) {
			return ErrDeadlineNotPassed
		}
		return m.decide(c, o, types.OptimisticCounterBondTimeout, m.params.UncontestedSlashPercent, "no counter-bond")
	})
}

// ResolveByArbitration applies the arbitrator's ruling on a contested
// dispute. The winner takes the counter-bond and the challenger bond; a
// challenger win also slashes slashPercent of the solver's bond.
func (m *OptimisticModule) ResolveByArbitration(opts *ledger.TxOpts, id types.DisputeID, challengerWins bool, slashPercent uint8, reason string) error {
	return m.resolve(opts, id, func(c *ledger.Call, o *Optimistic) error {
		if c.Sender() != m.arbitrator {
			return ErrNotArbitrator
		}
		if slashPercent > 100 {
			return ErrInvalidPercent
		}
		if o.Status != types.OptimisticContested {
			return fmt.Errorf("%w: %s", ErrNotContested, o.Status)
		}
		if challengerWins {
			return m.decide(c, o, types.OptimisticRuledForChallenger, slashPercent, reason)
		}
		return m.decide(c, o, types.OptimisticRuledForSolver, 0, reason)
	})
}

// ResolveContestedByTimeout decides a contested dispute for the challenger
// once the arbitration deadline has passed without a ruling. Anyone may
// call it.
func (m *OptimisticModule) ResolveContestedByTimeout(opts *ledger.TxOpts, id types.DisputeID) error {
	return m.resolve(opts, id, func(c *ledger.Call, o *Optimistic) error {
		if o.Status != types.OptimisticContested {
			return fmt.Errorf("%w: %s", ErrNotContested, o.Status)
		}
		if c.Now().Before(o.ArbitrationDeadline) {
			return ErrDeadlineNotPassed
		}
		return m.decide(c, o, types.OptimisticArbitrationTimeout, m.params.ContestedTimeoutSlashPercent, "arbitration timeout")
	})
}

func (m *OptimisticModule) resolve(opts *ledger.TxOpts, id types.DisputeID, fn func(c *ledger.Call, o *Optimistic) error) error {
	return m.chain.Transact(opts, m.addr, func(c *ledger.Call) error {
		if err := m.guard.Enter(); err != nil {
			return err
		}
		defer m.guard.Exit()

		o, err := m.load(id)
		if err != nil {
			return err
		}
		if o.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrResolved, o.Status)
		}
		return fn(c, o)
	})
}

// decide moves o to its terminal state, hands the ruling to the hub and
// pays the counter-bond to the winner.
func (m *OptimisticModule) decide(c *ledger.Call, o *Optimistic, ev types.OptimisticEvent, pct uint8, reason string) error {
	prev := o.copy()
	if err := m.transition(o, ev); err != nil {
		return err
	}
	o.SlashPercent = pct
	o.Reason = reason
	o.ResolvedAt = c.Now()
	c.Journal(func() { *o = prev })

	challengerWins := o.Status == types.OptimisticChallengerWins
	winner := o.Operator
	if challengerWins {
		winner = o.Challenger
	}
	c.Emit(EventOptimisticResolved, OptimisticResolved{
		DisputeID:    o.ID,
		ReceiptID:    o.ReceiptID,
		Status:       o.Status,
		SlashPercent: pct,
		Reason:       reason,
	})

	if err := m.hub.ResolveEscalatedDispute(c.Opts(), o.ReceiptID, challengerWins, pct, winner); err != nil {
		return err
	}
	return c.Transfer(winner, o.CounterBond)
}

// SubmitEvidence appends to the dispute's evidence log. Either party may
// submit until the evidence window closes or the dispute is decided.
func (m *OptimisticModule) SubmitEvidence(opts *ledger.TxOpts, id types.DisputeID, hash common.Hash) error {
	return m.chain.Transact(opts, m.addr, func(c *ledger.Call) error {
		if hash == (common.Hash{}) {
			return ErrZeroHash
		}
		o, err := m.load(id)
		if err != nil {
			return err
		}
		if c.Sender() != o.Challenger && c.Sender() != o.Operator {
			return ErrNotParty
		}
		if o.Status.IsTerminal() {
			return ErrResolved
		}
		if c.Now().After(o.EvidenceDeadline) {
			return ErrEvidenceClosed
		}
		appendEvidence(c, m.evidence, id, hash)
		c.Emit(EventEvidenceSubmitted, EvidenceSubmitted{Key: id, Hash: hash, Submitter: c.Sender()})
		return nil
	})
}

// Dispute returns an optimistic dispute.
func (m *OptimisticModule) Dispute(ctx context.Context, id types.DisputeID) (Optimistic, error) {
	var (
		out Optimistic
		err error
	)
	m.chain.Read(ctx, func() {
		var o *Optimistic
		if o, err = m.load(id); err == nil {
			out = o.copy()
		}
	})
	return out, err
}

// DisputeForReceipt returns the optimistic dispute opened on a receipt.
func (m *OptimisticModule) DisputeForReceipt(ctx context.Context, receiptID types.ReceiptID) (Optimistic, bool) {
	var (
		out Optimistic
		ok  bool
	)
	m.chain.Read(ctx, func() {
		id, exists := m.byReceipt[receiptID]
		if !exists {
			return
		}
		out, ok = m.disputes[id].copy(), true
	})
	return out, ok
}

// Evidence returns a dispute's evidence log in submission order.
func (m *OptimisticModule) Evidence(ctx context.Context, id types.DisputeID) []Evidence {
	var out []Evidence
	m.chain.Read(ctx, func() { out = append(out, m.evidence[id]...) })
	return out
}

func (m *OptimisticModule) load(id types.DisputeID) (*Optimistic, error) {
	o, ok := m.disputes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
	}
	return o, nil
}

func (m *OptimisticModule) transition(o *Optimistic, ev types.OptimisticEvent) error {
	next, err := types.NextOptimisticStatus(o.Status, ev)
	if err != nil {
		return err
	}
	o.Status = next
	return nil
}

// disputeID derives a dispute id from the module address, the receipt and
// a running count.
func (m *OptimisticModule) disputeID(receiptID types.ReceiptID) types.DisputeID {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], m.count)
	return crypto.Keccak256Hash(m.addr.Bytes(), receiptID.Bytes(), n[:])
}
