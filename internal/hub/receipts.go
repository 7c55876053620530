package hub

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/internal/registry"
	"github.com/moltbunker/solverbond/pkg/types"
)

// PostReceipt stores a receipt signed by the solver's operator over the
// solver's current nonce. Anyone may relay it.
func (h *Hub) PostReceipt(opts *ledger.TxOpts, receipt types.IntentReceipt) (types.ReceiptID, error) {
	var id types.ReceiptID
	err := h.chain.Transact(opts, h.addr, func(c *ledger.Call) error {
		if h.paused {
			return ErrPaused
		}
		var err error
		id, err = h.post(c, receipt)
		return err
	})
	if err != nil {
		return types.ReceiptID{}, err
	}
	return id, nil
}

// BatchPostReceipts posts each receipt in order. A receipt already posted,
// or repeated within the batch, yields a zero id in its slot; any other
// failure rejects the whole batch.
func (h *Hub) BatchPostReceipts(opts *ledger.TxOpts, receipts []types.IntentReceipt) ([]types.ReceiptID, error) {
	var ids []types.ReceiptID
	err := h.chain.Transact(opts, h.addr, func(c *ledger.Call) error {
		if h.paused {
			return ErrPaused
		}
		if len(receipts) == 0 {
			return ErrEmptyBatch
		}
		if len(receipts) > h.params.MaxBatchSize {
			return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(receipts), h.params.MaxBatchSize)
		}
		ids = make([]types.ReceiptID, len(receipts))
		for i := range receipts {
			id, err := h.post(c, receipts[i])
			if errors.Is(err, ErrDuplicateReceipt) {
				continue
			}
			if err != nil {
				return fmt.Errorf("receipt %d: %w", i, err)
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (h *Hub) post(c *ledger.Call, receipt types.IntentReceipt) (types.ReceiptID, error) {
	if receipt.Expiry < receipt.CreatedAt {
		return types.ReceiptID{}, ErrInvalidReceipt
	}
	id := ReceiptID(&receipt)
	if _, exists := h.receipts[id]; exists {
		return types.ReceiptID{}, fmt.Errorf("%w: %s", ErrDuplicateReceipt, id.Hex())
	}

	solverID := receipt.SolverID
	if !h.bonds.IsActive(c.Context(), solverID) {
		return types.ReceiptID{}, fmt.Errorf("%w: %s", ErrSolverNotActive, solverID.Hex())
	}
	solver, err := h.bonds.Solver(c.Context(), solverID)
	if err != nil {
		return types.ReceiptID{}, err
	}

	nonce := h.nonces[solverID]
	signer, err := RecoverSigner(&receipt, h.chain.ChainID(), h.addr, nonce)
	if err != nil {
		return types.ReceiptID{}, err
	}
	if signer != solver.Operator {
		return types.ReceiptID{}, fmt.Errorf("%w: signed by %s, operator is %s", ErrInvalidSignature, signer.Hex(), solver.Operator.Hex())
	}

	h.receipts[id] = &Record{
		ID:       id,
		Receipt:  receipt.Copy(),
		Status:   types.ReceiptPending,
		Nonce:    nonce,
		Poster:   c.Sender(),
		PostedAt: c.Now(),
	}
	h.nonces[solverID] = nonce + 1
	h.bySolver[solverID] = append(h.bySolver[solverID], id)
	h.byIntent[receipt.IntentHash] = append(h.byIntent[receipt.IntentHash], id)
	c.Journal(func() {
		delete(h.receipts, id)
		h.nonces[solverID] = nonce
		h.bySolver[solverID] = h.bySolver[solverID][:len(h.bySolver[solverID])-1]
		h.byIntent[receipt.IntentHash] = h.byIntent[receipt.IntentHash][:len(h.byIntent[receipt.IntentHash])-1]
	})

	if err := h.bonds.RecordOutcome(c.Opts(), solverID, registry.ScoreFill, nil); err != nil {
		return types.ReceiptID{}, err
	}
	c.Emit(EventReceiptPosted, ReceiptPosted{
		ReceiptID:  id,
		SolverID:   solverID,
		IntentHash: receipt.IntentHash,
		Nonce:      nonce,
		Poster:     c.Sender(),
	})
	return id, nil
}

// Finalize closes an undisputed receipt once its challenge window has
// elapsed. An active escrow is released to the solver operator.
func (h *Hub) Finalize(opts *ledger.TxOpts, id types.ReceiptID) error {
	return h.chain.Transact(opts, h.addr, func(c *ledger.Call) error {
		r, err := h.load(c, id)
		if err != nil {
			return err
		}
		if r.Status != types.ReceiptPending {
			if r.Status.IsTerminal() {
				return fmt.Errorf("%w: %s is %s", ErrReceiptTerminal, id.Hex(), r.Status)
			}
			return fmt.Errorf("%w: %s is %s", ErrNotPending, id.Hex(), r.Status)
		}
		if c.Now().Before(r.PostedAt.Add(h.params.ChallengeWindow)) {
			return ErrWindowOpen
		}
		return h.finalize(c, r, false)
	})
}

// finalize moves r to Finalized, credits the solver and releases escrow.
func (h *Hub) finalize(c *ledger.Call, r *Record, disputed bool) error {
	if err := h.transition(r, types.ReceiptFinalize); err != nil {
		return err
	}
	r.SettledAt = c.Now()
	c.Emit(EventReceiptFinalized, ReceiptFinalized{ReceiptID: r.ID, SolverID: r.Receipt.SolverID, Disputed: disputed})

	solverID := r.Receipt.SolverID
	if err := h.bonds.RecordOutcome(c.Opts(), solverID, registry.ScoreSuccess, nil); err != nil {
		return err
	}
	if e, ok := h.activeEscrow(c, r.ID); ok {
		solver, err := h.bonds.Solver(c.Context(), solverID)
		if err != nil {
			return err
		}
		return h.escrows.Release(c.Opts(), e.ID, solver.Operator)
	}
	return nil
}

// activeEscrow returns the receipt's escrow if one is still active.
func (h *Hub) activeEscrow(c *ledger.Call, id types.ReceiptID) (escrowRef, bool) {
	if h.escrows == nil {
		return escrowRef{}, false
	}
	e, ok := h.escrows.EscrowForReceipt(c.Context(), id)
	if !ok || e.Status != types.EscrowActive {
		return escrowRef{}, false
	}
	return escrowRef{ID: e.ID, Depositor: e.Depositor}, true
}

type escrowRef struct {
	ID        common.Hash
	Depositor common.Address
}
