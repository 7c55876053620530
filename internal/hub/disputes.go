package hub

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/internal/registry"
	"github.com/moltbunker/solverbond/pkg/types"
)

// OpenDispute challenges a pending receipt inside its challenge window. The
// attached value is the challenger bond. The solver's available bond is
// locked for the life of the dispute.
func (h *Hub) OpenDispute(opts *ledger.TxOpts, id types.ReceiptID, reason types.DisputeReason, evidenceHash common.Hash) error {
	return h.chain.Transact(opts, h.addr, func(c *ledger.Call) error {
		if h.paused {
			return ErrPaused
		}
		if !reason.IsValid() {
			return fmt.Errorf("%w: %s", ErrInvalidReason, reason)
		}
		r, err := h.load(c, id)
		if err != nil {
			return err
		}
		if r.Status != types.ReceiptPending {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, id.Hex(), r.Status)
		}
		if !c.Now().Before(r.PostedAt.Add(h.params.ChallengeWindow)) {
			return ErrWindowClosed
		}
		bond := c.Value()
		if bond.Sign() == 0 || bond.Cmp(h.params.ChallengerBondMinimum) < 0 {
			return fmt.Errorf("%w: got %s, minimum %s", ErrBondTooLow, bond, h.params.ChallengerBondMinimum)
		}
		if err := h.transition(r, types.ReceiptOpenDispute); err != nil {
			return err
		}

		solverID := r.Receipt.SolverID
		solver, err := h.bonds.Solver(c.Context(), solverID)
		if err != nil {
			return err
		}
		locked := new(big.Int).Set(solver.Bond.Available)
		if locked.Sign() > 0 {
			if err := h.bonds.LockBond(c.Opts(), solverID, locked); err != nil {
				return err
			}
		}

		prev, hadPrev := h.disputes[id]
		h.disputes[id] = &Dispute{
			ReceiptID:    id,
			Challenger:   c.Sender(),
			Reason:       reason,
			EvidenceHash: evidenceHash,
			OpenedAt:     c.Now(),
			Bond:         bond,
			LockedBond:   locked,
		}
		c.Journal(func() {
			if hadPrev {
				h.disputes[id] = prev
			} else {
				delete(h.disputes, id)
			}
		})
		h.adjust(c, &h.heldBonds, bond)

		if err := h.bonds.RecordOutcome(c.Opts(), solverID, registry.ScoreDisputeOpened, nil); err != nil {
			return err
		}
		c.Emit(EventDisputeOpened, DisputeOpened{
			ReceiptID:    id,
			SolverID:     solverID,
			Challenger:   c.Sender(),
			Reason:       reason,
			EvidenceHash: evidenceHash,
			Bond:         new(big.Int).Set(bond),
		})
		return nil
	})
}

// SubmitSettlementProof attaches the operator's proof of settlement to a
// receipt that is not yet final. It can be submitted once.
func (h *Hub) SubmitSettlementProof(opts *ledger.TxOpts, id types.ReceiptID, proofHash common.Hash) error {
	return h.chain.Transact(opts, h.addr, func(c *ledger.Call) error {
		if proofHash == (common.Hash{}) {
			return fmt.Errorf("%w: zero proof hash", types.ErrInvalidValue)
		}
		r, err := h.load(c, id)
		if err != nil {
			return err
		}
		solver, err := h.bonds.Solver(c.Context(), r.Receipt.SolverID)
		if err != nil {
			return err
		}
		if c.Sender() != solver.Operator {
			return ErrNotOperator
		}
		if r.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrReceiptTerminal, id.Hex(), r.Status)
		}
		if r.HasProof() {
			return ErrProofSubmitted
		}
		r.SettlementProof = proofHash
		r.ProofSubmittedAt = c.Now()
		c.Emit(EventSettlementProof, SettlementProof{ReceiptID: id, ProofHash: proofHash})
		return nil
	})
}

// ResolveDeterministic applies the automatic rules to a disputed receipt.
// Anyone may call it once a rule applies:
//
//   - Timeout: a settlement proof rejects the dispute; otherwise the receipt
//     is slashed once its expiry has passed.
//   - Other objective reasons: a settlement proof rejects the dispute;
//     otherwise the receipt is slashed once the proof window has passed.
//   - Subjective: rejected if no dispute module took it within the
//     escalation window.
func (h *Hub) ResolveDeterministic(opts *ledger.TxOpts, id types.ReceiptID) error {
	return h.chain.Transact(opts, h.addr, func(c *ledger.Call) error {
		if err := h.guard.Enter(); err != nil {
			return err
		}
		defer h.guard.Exit()

		r, err := h.load(c, id)
		if err != nil {
			return err
		}
		if r.Status != types.ReceiptDisputed {
			if r.Status.IsTerminal() {
				return fmt.Errorf("%w: %s is %s", ErrReceiptTerminal, id.Hex(), r.Status)
			}
			return fmt.Errorf("%w: %s is %s", ErrNotDisputed, id.Hex(), r.Status)
		}
		d, err := h.loadDispute(c, id)
		if err != nil {
			return err
		}
		if d.Escalated {
			return ErrEscalated
		}

		now := c.Now()
		switch {
		case d.Reason == types.ReasonTimeout:
			if r.HasProof() {
				return h.reject(c, r, d, common.Address{})
			}
			if now.After(r.Receipt.ExpiryTime()) {
				return h.slash(c, r, d, h.params.DeterministicSlashPercent, common.Address{})
			}
			return fmt.Errorf("%w: intent expires at %d", ErrNotResolvable, r.Receipt.Expiry)

		case d.Reason.IsSubjective():
			if now.After(d.OpenedAt.Add(h.params.EscalationWindow)) {
				return h.reject(c, r, d, common.Address{})
			}
			return fmt.Errorf("%w: awaiting escalation", ErrNotResolvable)

		default:
			if r.HasProof() {
				return h.reject(c, r, d, common.Address{})
			}
			if now.After(d.OpenedAt.Add(h.params.ProofWindow)) {
				return h.slash(c, r, d, h.params.DeterministicSlashPercent, common.Address{})
			}
			return fmt.Errorf("%w: proof window open", ErrNotResolvable)
		}
	})
}

// EscalateDispute hands a subjective dispute to the dispute module, which
// from then on is the only path that resolves it.
func (h *Hub) EscalateDispute(opts *ledger.TxOpts, id types.ReceiptID) error {
	return h.chain.Transact(opts, h.addr, func(c *ledger.Call) error {
		if err := h.requireModule(c); err != nil {
			return err
		}
		r, err := h.load(c, id)
		if err != nil {
			return err
		}
		if r.Status != types.ReceiptDisputed {
			return fmt.Errorf("%w: %s is %s", ErrNotDisputed, id.Hex(), r.Status)
		}
		d, err := h.loadDispute(c, id)
		if err != nil {
			return err
		}
		if !d.Reason.IsSubjective() {
			return ErrNotSubjective
		}
		if d.Escalated {
			return ErrEscalated
		}
		d.Escalated = true
		d.EscalatedBy = c.Sender()
		c.Emit(EventDisputeEscalated, DisputeEscalated{ReceiptID: id, Module: c.Sender()})
		return nil
	})
}

// ResolveEscalatedDispute applies a dispute module's ruling. On fault the
// receipt is slashed by slashPercent of the solver's bond; otherwise it is
// finalized. The challenger bond goes to bondRecipient when set; by default
// it returns to the challenger on fault and is forfeited otherwise.
func (h *Hub) ResolveEscalatedDispute(opts *ledger.TxOpts, id types.ReceiptID, solverFault bool, slashPercent uint8, bondRecipient common.Address) error {
	return h.chain.Transact(opts, h.addr, func(c *ledger.Call) error {
		if err := h.guard.Enter(); err != nil {
			return err
		}
		defer h.guard.Exit()

		moduleErr := h.requireModule(c)
		if moduleErr != nil && !h.escalatedBySender(c, id) {
			return moduleErr
		}
		if slashPercent > 100 {
			return ErrInvalidPercent
		}
		r, err := h.load(c, id)
		if err != nil {
			return err
		}
		if r.Status != types.ReceiptDisputed {
			if r.Status.IsTerminal() {
				return fmt.Errorf("%w: %s is %s", ErrReceiptTerminal, id.Hex(), r.Status)
			}
			return fmt.Errorf("%w: %s is %s", ErrNotDisputed, id.Hex(), r.Status)
		}
		d, err := h.loadDispute(c, id)
		if err != nil {
			return err
		}
		if !d.Escalated {
			return ErrNotEscalated
		}

		if solverFault {
			return h.slash(c, r, d, slashPercent, bondRecipient)
		}
		return h.acquit(c, r, d, bondRecipient)
	})
}

func (h *Hub) requireModule(c *ledger.Call) error {
	sender := c.Sender()
	if h.acl.IsOwner(sender) {
		return nil
	}
	if h.disputeModule == (common.Address{}) || sender != h.disputeModule {
		return ErrNotDisputeModule
	}
	return nil
}

// escalatedBySender reports whether the caller is the module that took the
// dispute on id. Rulings from it are accepted after the hub switches modules.
func (h *Hub) escalatedBySender(c *ledger.Call, id types.ReceiptID) bool {
	d, ok := h.disputes[id]
	return ok && d.Escalated && !d.Resolved && d.EscalatedBy == c.Sender()
}

// closeDispute marks d resolved, releases the solver bond it locked and
// removes its challenger bond from the held total.
func (h *Hub) closeDispute(c *ledger.Call, r *Record, d *Dispute) error {
	d.Resolved = true
	h.adjust(c, &h.heldBonds, new(big.Int).Neg(d.Bond))
	return h.unlock(c, r.Receipt.SolverID, d.LockedBond)
}

// unlock releases up to owed of the solver's locked bond.
func (h *Hub) unlock(c *ledger.Call, solverID types.SolverID, owed *big.Int) error {
	if owed.Sign() == 0 {
		return nil
	}
	solver, err := h.bonds.Solver(c.Context(), solverID)
	if err != nil {
		return err
	}
	amount := new(big.Int).Set(owed)
	if amount.Cmp(solver.Bond.Locked) > 0 {
		amount.Set(solver.Bond.Locked)
	}
	if amount.Sign() == 0 {
		return nil
	}
	return h.bonds.UnlockBond(c.Opts(), solverID, amount)
}

// reject returns the receipt to Pending. The challenger bond goes to
// recipient, or to the forfeited pool when recipient is zero.
func (h *Hub) reject(c *ledger.Call, r *Record, d *Dispute, recipient common.Address) error {
	if err := h.transition(r, types.ReceiptRejectDispute); err != nil {
		return err
	}
	if err := h.closeDispute(c, r, d); err != nil {
		return err
	}
	forfeited := new(big.Int)
	if recipient == (common.Address{}) {
		forfeited.Set(d.Bond)
		h.adjust(c, &h.forfeited, d.Bond)
	}
	c.Emit(EventDisputeRejected, DisputeRejected{ReceiptID: r.ID, SolverID: r.Receipt.SolverID, Forfeited: forfeited})
	if recipient != (common.Address{}) {
		return c.Transfer(recipient, d.Bond)
	}
	return nil
}

// acquit finalizes a disputed receipt after a ruling for the solver.
func (h *Hub) acquit(c *ledger.Call, r *Record, d *Dispute, bondRecipient common.Address) error {
	if err := h.closeDispute(c, r, d); err != nil {
		return err
	}
	forfeited := new(big.Int)
	if bondRecipient == (common.Address{}) {
		forfeited.Set(d.Bond)
		h.adjust(c, &h.forfeited, d.Bond)
	}
	c.Emit(EventDisputeRejected, DisputeRejected{ReceiptID: r.ID, SolverID: r.Receipt.SolverID, Forfeited: forfeited})
	if err := h.finalize(c, r, true); err != nil {
		return err
	}
	if bondRecipient != (common.Address{}) {
		return c.Transfer(bondRecipient, d.Bond)
	}
	return nil
}

// slash marks the receipt Slashed, takes pct of the solver's bond and splits
// it between user, challenger and treasury. The user share goes to the
// escrow depositor when the receipt is escrowed, otherwise to the
// challenger. The challenger bond goes back to bondRecipient, or the
// challenger when unset. All hub state is final before any value moves.
func (h *Hub) slash(c *ledger.Call, r *Record, d *Dispute, pct uint8, bondRecipient common.Address) error {
	if err := h.transition(r, types.ReceiptSlash); err != nil {
		return err
	}
	r.SettledAt = c.Now()
	d.Resolved = true
	h.adjust(c, &h.heldBonds, new(big.Int).Neg(d.Bond))

	solverID := r.Receipt.SolverID
	solver, err := h.bonds.Solver(c.Context(), solverID)
	if err != nil {
		return err
	}
	amount := types.Percent(solver.Bond.Total(), pct)
	// the slash drains locked bond first; whatever of this dispute's lock
	// survives it is released afterwards
	remainingLock := new(big.Int).Sub(d.LockedBond, minBig(amount, solver.Bond.Locked))
	if remainingLock.Sign() < 0 {
		remainingLock.SetInt64(0)
	}
	userShare, reward, treasuryShare := h.params.SlashSplit.Divide(amount)

	user := d.Challenger
	escrowed, hasEscrow := h.activeEscrow(c, r.ID)
	if hasEscrow {
		user = escrowed.Depositor
	}
	treasury := h.params.Treasury
	if treasury == (common.Address{}) && treasuryShare.Sign() > 0 {
		h.adjust(c, &h.forfeited, treasuryShare)
	}
	if bondRecipient == (common.Address{}) {
		bondRecipient = d.Challenger
	}

	c.Emit(EventReceiptSlashed, ReceiptSlashed{
		ReceiptID:  r.ID,
		SolverID:   solverID,
		Reason:     d.Reason,
		Amount:     amount,
		User:       user,
		UserShare:  userShare,
		Challenger: d.Challenger,
		Reward:     reward,
		Treasury:   treasuryShare,
	})

	if err := h.bonds.RecordOutcome(c.Opts(), solverID, registry.ScoreDisputeLost, nil); err != nil {
		return err
	}
	if h.params.JailOnSlash && amount.Sign() > 0 && solver.Status != types.SolverBanned {
		if err := h.bonds.JailSolver(c.Opts(), solverID); err != nil {
			return err
		}
	}
	if amount.Sign() > 0 {
		if err := h.bonds.Slash(c.Opts(), solverID, amount, r.ID, d.Reason.String(), h.addr); err != nil {
			return err
		}
	}
	if err := h.unlock(c, solverID, remainingLock); err != nil {
		return err
	}
	if hasEscrow {
		if err := h.escrows.Refund(c.Opts(), escrowed.ID); err != nil {
			return err
		}
	}

	if err := c.Transfer(user, userShare); err != nil {
		return err
	}
	if err := c.Transfer(d.Challenger, reward); err != nil {
		return err
	}
	if treasury != (common.Address{}) {
		if err := c.Transfer(treasury, treasuryShare); err != nil {
			return err
		}
	}
	return c.Transfer(bondRecipient, d.Bond)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return a
	}
	return b
}
