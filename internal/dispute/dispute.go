// Package dispute holds the two escalation paths for subjective disputes:
// fee-based arbitration and the optimistic counter-bond protocol. Both take
// a dispute over from the receipt hub and hand the ruling back to it.
package dispute

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/internal/hub"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/internal/registry"
	"github.com/moltbunker/solverbond/pkg/types"
)

var (
	ErrNotOwner          = types.NewError(types.ErrUnauthorized, "dispute: caller is not the owner")
	ErrNotArbitrator     = types.NewError(types.ErrUnauthorized, "dispute: caller is not the arbitrator")
	ErrNotParty          = types.NewError(types.ErrUnauthorized, "dispute: caller is not a dispute party")
	ErrNotChallenger     = types.NewError(types.ErrUnauthorized, "dispute: caller is not the challenger")
	ErrNotOperator       = types.NewError(types.ErrUnauthorized, "dispute: caller is not the solver operator")
	ErrNotDisputed       = types.NewError(types.ErrPrecondition, "dispute: receipt is not disputed")
	ErrNotSubjective     = types.NewError(types.ErrPrecondition, "dispute: dispute is not subjective")
	ErrAlreadyEscalated  = types.NewError(types.ErrPrecondition, "dispute: already escalated")
	ErrNotFound          = types.NewError(types.ErrPrecondition, "dispute: not found")
	ErrResolved          = types.NewError(types.ErrPrecondition, "dispute: already resolved")
	ErrNotOpen           = types.NewError(types.ErrPrecondition, "dispute: not open")
	ErrNotContested      = types.NewError(types.ErrPrecondition, "dispute: not contested")
	ErrDeadlinePassed    = types.NewError(types.ErrPrecondition, "dispute: deadline has passed")
	ErrDeadlineNotPassed = types.NewError(types.ErrPrecondition, "dispute: deadline has not passed")
	ErrEvidenceClosed    = types.NewError(types.ErrPrecondition, "dispute: evidence window closed")
	ErrInsufficientFee   = types.NewError(types.ErrInvalidValue, "dispute: arbitration fee not covered")
	ErrCounterBond       = types.NewError(types.ErrInvalidValue, "dispute: counter-bond does not match requirement")
	ErrInvalidPercent    = types.NewError(types.ErrInvalidValue, "dispute: percentage above 100")
	ErrZeroHash          = types.NewError(types.ErrInvalidValue, "dispute: zero evidence hash")
	ErrZeroAddress       = types.NewError(types.ErrInvalidValue, "dispute: zero address")
	ErrUnexpectedValue   = types.NewError(types.ErrInvalidValue, "dispute: call takes no value")
)

// Hub is the part of the receipt hub a dispute module drives.
type Hub interface {
	Receipt(ctx context.Context, id types.ReceiptID) (hub.Record, error)
	Dispute(ctx context.Context, id types.ReceiptID) (hub.Dispute, bool)
	EscalateDispute(opts *ledger.TxOpts, id types.ReceiptID) error
	ResolveEscalatedDispute(opts *ledger.TxOpts, id types.ReceiptID, solverFault bool, slashPercent uint8, bondRecipient common.Address) error
}

// Solvers resolves a solver's operator.
type Solvers interface {
	Solver(ctx context.Context, id types.SolverID) (registry.Solver, error)
}

// Evidence is one entry of a dispute's append-only evidence log.
type Evidence struct {
	Hash        common.Hash    `json:"hash"`
	Submitter   common.Address `json:"submitter"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// subjectiveDispute loads the hub's open, subjective dispute on a receipt.
func subjectiveDispute(ctx context.Context, h Hub, receiptID types.ReceiptID) (hub.Record, hub.Dispute, error) {
	r, err := h.Receipt(ctx, receiptID)
	if err != nil {
		return hub.Record{}, hub.Dispute{}, err
	}
	if r.Status != types.ReceiptDisputed {
		return hub.Record{}, hub.Dispute{}, ErrNotDisputed
	}
	d, ok := h.Dispute(ctx, receiptID)
	if !ok || d.Resolved {
		return hub.Record{}, hub.Dispute{}, ErrNotDisputed
	}
	if !d.Reason.IsSubjective() {
		return hub.Record{}, hub.Dispute{}, ErrNotSubjective
	}
	return r, d, nil
}

// appendEvidence records an entry and journals its removal.
func appendEvidence(c *ledger.Call, log map[common.Hash][]Evidence, key, hash common.Hash) {
	log[key] = append(log[key], Evidence{Hash: hash, Submitter: c.Sender(), SubmittedAt: c.Now()})
	c.Journal(func() { log[key] = log[key][:len(log[key])-1] })
}
