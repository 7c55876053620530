// Package hub is the receipt hub: it accepts signed receipts from active
// solvers, runs the challenge window, resolves deterministic disputes and
// finalizes receipts, driving bond slashing through the solver registry.
package hub

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/internal/authz"
	"github.com/moltbunker/solverbond/internal/escrow"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/internal/registry"
	"github.com/moltbunker/solverbond/pkg/types"
)

// Challenge window bounds.
const (
	MinChallengeWindow = 15 * time.Minute
	MaxChallengeWindow = 24 * time.Hour
)

// Bonds is the part of the solver registry the hub drives.
type Bonds interface {
	IsActive(ctx context.Context, id types.SolverID) bool
	Solver(ctx context.Context, id types.SolverID) (registry.Solver, error)
	LockBond(opts *ledger.TxOpts, id types.SolverID, amount *big.Int) error
	UnlockBond(opts *ledger.TxOpts, id types.SolverID, amount *big.Int) error
	Slash(opts *ledger.TxOpts, id types.SolverID, amount *big.Int, receiptRef common.Hash, reason string, recipient common.Address) error
	JailSolver(opts *ledger.TxOpts, id types.SolverID) error
	RecordOutcome(opts *ledger.TxOpts, id types.SolverID, ev registry.ScoreEvent, volume *big.Int) error
}

// Escrows is the part of the escrow vault the hub settles.
type Escrows interface {
	EscrowForReceipt(ctx context.Context, receiptID types.ReceiptID) (escrow.Escrow, bool)
	Release(opts *ledger.TxOpts, escrowID common.Hash, recipient common.Address) error
	Refund(opts *ledger.TxOpts, escrowID common.Hash) error
}

// Params are the hub's policy values.
type Params struct {
	ChallengeWindow       time.Duration
	ChallengerBondMinimum *big.Int
	MaxBatchSize          int
	SlashSplit            types.SlashSplit
	// ProofWindow is how long an objective dispute waits for a settlement
	// proof before it is slashed.
	ProofWindow time.Duration
	// EscalationWindow is how long a subjective dispute waits for a dispute
	// module before it is rejected.
	EscalationWindow          time.Duration
	DeterministicSlashPercent uint8
	JailOnSlash               bool
	Treasury                  common.Address
}

// DefaultParams returns the stock policy: a 1h challenge window, 0.01 native
// units of challenger bond, batches of 50, an 80/15/5 split.
func DefaultParams() Params {
	return Params{
		ChallengeWindow:           time.Hour,
		ChallengerBondMinimum:     big.NewInt(10_000_000_000_000_000),
		MaxBatchSize:              50,
		SlashSplit:                types.DefaultSlashSplit(),
		ProofWindow:               24 * time.Hour,
		EscalationWindow:          24 * time.Hour,
		DeterministicSlashPercent: 100,
		JailOnSlash:               true,
	}
}

// Validate checks the policy bounds.
func (p Params) Validate() error {
	if p.ChallengeWindow < MinChallengeWindow || p.ChallengeWindow > MaxChallengeWindow {
		return fmt.Errorf("%w: %s", ErrWindowOutOfBounds, p.ChallengeWindow)
	}
	if p.ChallengerBondMinimum == nil || p.ChallengerBondMinimum.Sign() <= 0 {
		return fmt.Errorf("%w: challenger bond minimum", ErrZeroValue)
	}
	if p.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max batch size %d", types.ErrInvalidValue, p.MaxBatchSize)
	}
	if err := p.SlashSplit.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidValue, err)
	}
	if p.DeterministicSlashPercent > 100 {
		return ErrInvalidPercent
	}
	if p.ProofWindow <= 0 || p.EscalationWindow <= 0 {
		return fmt.Errorf("%w: proof and escalation windows must be positive", types.ErrInvalidValue)
	}
	return nil
}

// Record is a stored receipt with its hub-side bookkeeping.
type Record struct {
	ID      types.ReceiptID     `json:"id"`
	Receipt types.IntentReceipt `json:"receipt"`
	Status  types.ReceiptStatus `json:"status"`
	Nonce   uint64              `json:"nonce"`
	Poster  common.Address      `json:"poster"`
	// PostedAt starts the challenge window.
	PostedAt         time.Time   `json:"posted_at"`
	SettlementProof  common.Hash `json:"settlement_proof,omitempty"`
	ProofSubmittedAt time.Time   `json:"proof_submitted_at,omitempty"`
	SettledAt        time.Time   `json:"settled_at,omitempty"`
}

// HasProof reports whether the operator submitted a settlement proof.
func (r *Record) HasProof() bool { return r.SettlementProof != (common.Hash{}) }

func (r *Record) copy() Record {
	out := *r
	out.Receipt = r.Receipt.Copy()
	return out
}

// Dispute is the deterministic dispute attached to a receipt.
type Dispute struct {
	ReceiptID    types.ReceiptID     `json:"receipt_id"`
	Challenger   common.Address      `json:"challenger"`
	Reason       types.DisputeReason `json:"reason"`
	EvidenceHash common.Hash         `json:"evidence_hash"`
	OpenedAt     time.Time           `json:"opened_at"`
	Bond         *big.Int            `json:"bond"`
	// LockedBond is the solver bond locked when the dispute opened.
	LockedBond  *big.Int       `json:"locked_bond"`
	Escalated   bool           `json:"escalated"`
	EscalatedBy common.Address `json:"escalated_by,omitempty"`
	Resolved    bool           `json:"resolved"`
}

func (d *Dispute) copy() Dispute {
	out := *d
	out.Bond = new(big.Int).Set(d.Bond)
	out.LockedBond = new(big.Int).Set(d.LockedBond)
	return out
}

// Hub is the receipt hub contract.
type Hub struct {
	chain   *ledger.Ledger
	addr    common.Address
	acl     *authz.ACL
	bonds   Bonds
	escrows Escrows
	guard   ledger.Guard

	params        Params
	disputeModule common.Address
	paused        bool

	receipts map[types.ReceiptID]*Record
	disputes map[types.ReceiptID]*Dispute
	nonces   map[types.SolverID]uint64
	bySolver map[types.SolverID][]types.ReceiptID
	byIntent map[common.Hash][]types.ReceiptID

	heldBonds *big.Int
	forfeited *big.Int
}

// New deploys a hub owned by owner. escrows may be nil.
func New(chain *ledger.Ledger, owner common.Address, bonds Bonds, escrows Escrows, params Params) (*Hub, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params.ChallengerBondMinimum = new(big.Int).Set(params.ChallengerBondMinimum)
	return &Hub{
		chain:     chain,
		addr:      chain.DeployAddress(),
		acl:       authz.NewACL(owner),
		bonds:     bonds,
		escrows:   escrows,
		params:    params,
		receipts:  make(map[types.ReceiptID]*Record),
		disputes:  make(map[types.ReceiptID]*Dispute),
		nonces:    make(map[types.SolverID]uint64),
		bySolver:  make(map[types.SolverID][]types.ReceiptID),
		byIntent:  make(map[common.Hash][]types.ReceiptID),
		heldBonds: new(big.Int),
		forfeited: new(big.Int),
	}, nil
}

// Address is the hub's ledger address; challenger bonds are held there.
func (h *Hub) Address() common.Address { return h.addr }

// Owner returns the hub owner.
func (h *Hub) Owner() common.Address { return h.acl.Owner() }

// ChainID returns the chain identity bound into receipt signatures.
func (h *Hub) ChainID() *big.Int { return h.chain.ChainID() }

// owned runs fn as an owner-only transaction.
func (h *Hub) owned(opts *ledger.TxOpts, fn func(c *ledger.Call) error) error {
	return h.chain.Transact(opts, h.addr, func(c *ledger.Call) error {
		if !h.acl.IsOwner(c.Sender()) {
			return ErrNotOwner
		}
		return fn(c)
	})
}

// SetChallengeWindow sets the challenge window within [15m, 24h].
func (h *Hub) SetChallengeWindow(opts *ledger.TxOpts, window time.Duration) error {
	return h.owned(opts, func(c *ledger.Call) error {
		if window < MinChallengeWindow || window > MaxChallengeWindow {
			return fmt.Errorf("%w: %s", ErrWindowOutOfBounds, window)
		}
		prev := h.params.ChallengeWindow
		h.params.ChallengeWindow = window
		c.Journal(func() { h.params.ChallengeWindow = prev })
		c.Emit(EventChallengeWindowSet, DurationSet{Old: prev, New: window})
		return nil
	})
}

// SetChallengerBondMinimum sets the minimum challenger bond.
func (h *Hub) SetChallengerBondMinimum(opts *ledger.TxOpts, minimum *big.Int) error {
	return h.owned(opts, func(c *ledger.Call) error {
		if minimum == nil || minimum.Sign() <= 0 {
			return ErrZeroValue
		}
		prev := h.params.ChallengerBondMinimum
		h.params.ChallengerBondMinimum = new(big.Int).Set(minimum)
		c.Journal(func() { h.params.ChallengerBondMinimum = prev })
		c.Emit(EventBondMinimumSet, new(big.Int).Set(minimum))
		return nil
	})
}

// SetSlashSplit sets the slash distribution table.
func (h *Hub) SetSlashSplit(opts *ledger.TxOpts, split types.SlashSplit) error {
	return h.owned(opts, func(c *ledger.Call) error {
		if err := split.Validate(); err != nil {
			return fmt.Errorf("%w: %v", types.ErrInvalidValue, err)
		}
		prev := h.params.SlashSplit
		h.params.SlashSplit = split
		c.Journal(func() { h.params.SlashSplit = prev })
		c.Emit(EventSlashSplitSet, split)
		return nil
	})
}

// SetDeterministicSlashPercent sets the share of bond taken by a
// deterministic slash.
func (h *Hub) SetDeterministicSlashPercent(opts *ledger.TxOpts, pct uint8) error {
	return h.owned(opts, func(c *ledger.Call) error {
		if pct > 100 {
			return ErrInvalidPercent
		}
		prev := h.params.DeterministicSlashPercent
		h.params.DeterministicSlashPercent = pct
		c.Journal(func() { h.params.DeterministicSlashPercent = prev })
		c.Emit(EventSlashPercentSet, pct)
		return nil
	})
}

// SetDisputeModule registers the active dispute module. The zero address
// disables escalation.
func (h *Hub) SetDisputeModule(opts *ledger.TxOpts, module common.Address) error {
	return h.owned(opts, func(c *ledger.Call) error {
		prev := h.disputeModule
		h.disputeModule = module
		c.Journal(func() { h.disputeModule = prev })
		c.Emit(EventDisputeModuleSet, AddressSet{Old: prev, New: module})
		return nil
	})
}

// SetTreasury sets the recipient of the treasury share.
func (h *Hub) SetTreasury(opts *ledger.TxOpts, treasury common.Address) error {
	return h.owned(opts, func(c *ledger.Call) error {
		if treasury == (common.Address{}) {
			return ErrZeroAddress
		}
		prev := h.params.Treasury
		h.params.Treasury = treasury
		c.Journal(func() { h.params.Treasury = prev })
		c.Emit(EventTreasurySet, AddressSet{Old: prev, New: treasury})
		return nil
	})
}

// SetEscrowVault sets the vault consulted on finalization and slashing.
func (h *Hub) SetEscrowVault(opts *ledger.TxOpts, vault Escrows, addr common.Address) error {
	return h.owned(opts, func(c *ledger.Call) error {
		prev := h.escrows
		h.escrows = vault
		c.Journal(func() { h.escrows = prev })
		c.Emit(EventEscrowVaultSet, AddressSet{New: addr})
		return nil
	})
}

// Pause stops receipt posting and new disputes. Resolution stays open.
func (h *Hub) Pause(opts *ledger.TxOpts) error {
	return h.setPaused(opts, true)
}

// Unpause reverses Pause.
func (h *Hub) Unpause(opts *ledger.TxOpts) error {
	return h.setPaused(opts, false)
}

func (h *Hub) setPaused(opts *ledger.TxOpts, paused bool) error {
	return h.owned(opts, func(c *ledger.Call) error {
		prev := h.paused
		h.paused = paused
		c.Journal(func() { h.paused = prev })
		if paused {
			c.Emit(EventPaused, nil)
		} else {
			c.Emit(EventUnpaused, nil)
		}
		return nil
	})
}

// Settings is a snapshot of the hub's policy and admin state.
type Settings struct {
	Params
	DisputeModule common.Address
	Paused        bool
}

// Settings returns the current policy.
func (h *Hub) Settings(ctx context.Context) Settings {
	var out Settings
	h.chain.Read(ctx, func() {
		out = Settings{Params: h.params, DisputeModule: h.disputeModule, Paused: h.paused}
		out.ChallengerBondMinimum = new(big.Int).Set(h.params.ChallengerBondMinimum)
	})
	return out
}

// DisputeModule returns the active dispute module.
func (h *Hub) DisputeModule(ctx context.Context) common.Address {
	var out common.Address
	h.chain.Read(ctx, func() { out = h.disputeModule })
	return out
}

// Receipt returns the stored receipt.
func (h *Hub) Receipt(ctx context.Context, id types.ReceiptID) (Record, error) {
	var (
		out Record
		err error
	)
	h.chain.Read(ctx, func() {
		r, ok := h.receipts[id]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrReceiptNotFound, id.Hex())
			return
		}
		out = r.copy()
	})
	return out, err
}

// ReceiptOpen reports whether id is posted and not yet finalized or slashed.
func (h *Hub) ReceiptOpen(ctx context.Context, id types.ReceiptID) bool {
	var open bool
	h.chain.Read(ctx, func() {
		r, ok := h.receipts[id]
		open = ok && !r.Status.IsTerminal()
	})
	return open
}

// Dispute returns the current or last dispute on a receipt.
func (h *Hub) Dispute(ctx context.Context, id types.ReceiptID) (Dispute, bool) {
	var (
		out Dispute
		ok  bool
	)
	h.chain.Read(ctx, func() {
		if d, exists := h.disputes[id]; exists {
			out, ok = d.copy(), true
		}
	})
	return out, ok
}

// ReceiptsBySolver lists a solver's receipt ids in posting order.
func (h *Hub) ReceiptsBySolver(ctx context.Context, id types.SolverID) []types.ReceiptID {
	var out []types.ReceiptID
	h.chain.Read(ctx, func() { out = append(out, h.bySolver[id]...) })
	return out
}

// ReceiptsByIntent lists the receipt ids posted for an intent.
func (h *Hub) ReceiptsByIntent(ctx context.Context, intent common.Hash) []types.ReceiptID {
	var out []types.ReceiptID
	h.chain.Read(ctx, func() { out = append(out, h.byIntent[intent]...) })
	return out
}

// Nonce returns the nonce the solver's next receipt must be signed with.
func (h *Hub) Nonce(ctx context.Context, id types.SolverID) uint64 {
	var n uint64
	h.chain.Read(ctx, func() { n = h.nonces[id] })
	return n
}

// ForfeitedBonds returns the sweepable pool.
func (h *Hub) ForfeitedBonds(ctx context.Context) *big.Int {
	var out *big.Int
	h.chain.Read(ctx, func() { out = new(big.Int).Set(h.forfeited) })
	return out
}

// HeldBonds returns the challenger bonds of unresolved disputes.
func (h *Hub) HeldBonds(ctx context.Context) *big.Int {
	var out *big.Int
	h.chain.Read(ctx, func() { out = new(big.Int).Set(h.heldBonds) })
	return out
}

// ChallengeDeadline returns the end of a receipt's challenge window.
func (h *Hub) ChallengeDeadline(ctx context.Context, id types.ReceiptID) (time.Time, error) {
	var (
		out time.Time
		err error
	)
	h.chain.Read(ctx, func() {
		r, ok := h.receipts[id]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrReceiptNotFound, id.Hex())
			return
		}
		out = r.PostedAt.Add(h.params.ChallengeWindow)
	})
	return out, err
}

// SweepForfeitedBonds pays the forfeited pool to to. Bonds of open disputes
// are never touched.
func (h *Hub) SweepForfeitedBonds(opts *ledger.TxOpts, to common.Address) error {
	return h.owned(opts, func(c *ledger.Call) error {
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if h.forfeited.Sign() == 0 {
			return ErrNothingToSweep
		}
		amount := h.forfeited
		h.forfeited = new(big.Int)
		c.Journal(func() { h.forfeited = amount })
		c.Emit(EventBondsSwept, BondsSwept{To: to, Amount: new(big.Int).Set(amount)})
		return c.Transfer(to, amount)
	})
}

// load returns a receipt for mutation and journals its state.
func (h *Hub) load(c *ledger.Call, id types.ReceiptID) (*Record, error) {
	r, ok := h.receipts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, id.Hex())
	}
	prev := r.copy()
	c.Journal(func() { *r = prev })
	return r, nil
}

// loadDispute returns the receipt's dispute for mutation and journals it.
func (h *Hub) loadDispute(c *ledger.Call, id types.ReceiptID) (*Dispute, error) {
	d, ok := h.disputes[id]
	if !ok || d.Resolved {
		return nil, fmt.Errorf("%w: %s", ErrNotDisputed, id.Hex())
	}
	prev := d.copy()
	c.Journal(func() { *d = prev })
	return d, nil
}

func (h *Hub) transition(r *Record, ev types.ReceiptEvent) error {
	next, err := types.NextReceiptStatus(r.Status, ev)
	if err != nil {
		if r.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrReceiptTerminal, r.ID.Hex(), r.Status)
		}
		return err
	}
	r.Status = next
	return nil
}

// adjust journals a change to one of the hub's running totals.
func (h *Hub) adjust(c *ledger.Call, total **big.Int, delta *big.Int) {
	prev := *total
	*total = new(big.Int).Add(prev, delta)
	c.Journal(func() { *total = prev })
}
