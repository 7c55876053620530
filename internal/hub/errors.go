package hub

import "github.com/moltbunker/solverbond/pkg/types"

var (
	ErrNotOwner          = types.NewError(types.ErrUnauthorized, "hub: caller is not the owner")
	ErrNotOperator       = types.NewError(types.ErrUnauthorized, "hub: caller is not the solver operator")
	ErrNotDisputeModule  = types.NewError(types.ErrUnauthorized, "hub: caller is not the dispute module")
	ErrPaused            = types.NewError(types.ErrPrecondition, "hub: paused")
	ErrSolverNotActive   = types.NewError(types.ErrPrecondition, "hub: solver is not active")
	ErrReceiptNotFound   = types.NewError(types.ErrPrecondition, "hub: receipt not found")
	ErrNotPending        = types.NewError(types.ErrPrecondition, "hub: receipt is not pending")
	ErrNotDisputed       = types.NewError(types.ErrPrecondition, "hub: receipt is not disputed")
	ErrWindowClosed      = types.NewError(types.ErrPrecondition, "hub: challenge window has closed")
	ErrWindowOpen        = types.NewError(types.ErrPrecondition, "hub: challenge window still open")
	ErrNotResolvable     = types.NewError(types.ErrPrecondition, "hub: dispute cannot be resolved yet")
	ErrEscalated         = types.NewError(types.ErrPrecondition, "hub: dispute is escalated")
	ErrNotEscalated      = types.NewError(types.ErrPrecondition, "hub: dispute is not escalated")
	ErrNotSubjective     = types.NewError(types.ErrPrecondition, "hub: dispute is not subjective")
	ErrProofSubmitted    = types.NewError(types.ErrPrecondition, "hub: settlement proof already submitted")
	ErrReceiptTerminal   = types.NewError(types.ErrPrecondition, "hub: receipt is finalized or slashed")
	ErrNothingToSweep    = types.NewError(types.ErrPrecondition, "hub: no forfeited bonds")
	ErrInvalidReason     = types.NewError(types.ErrInvalidValue, "hub: invalid dispute reason")
	ErrBondTooLow        = types.NewError(types.ErrInvalidValue, "hub: challenger bond below minimum")
	ErrInvalidPercent    = types.NewError(types.ErrInvalidValue, "hub: percentage above 100")
	ErrWindowOutOfBounds = types.NewError(types.ErrInvalidValue, "hub: challenge window out of bounds")
	ErrZeroAddress       = types.NewError(types.ErrInvalidValue, "hub: zero address")
	ErrZeroValue         = types.NewError(types.ErrInvalidValue, "hub: value must be positive")
	ErrEmptyBatch        = types.NewError(types.ErrInvalidValue, "hub: empty batch")
	ErrBatchTooLarge     = types.NewError(types.ErrInvalidValue, "hub: batch exceeds maximum size")
	ErrInvalidReceipt    = types.NewError(types.ErrInvalidValue, "hub: expiry before creation")
	ErrInvalidSignature  = types.NewError(types.ErrIntegrity, "hub: invalid receipt signature")
	ErrDuplicateReceipt  = types.NewError(types.ErrIntegrity, "hub: receipt already posted")
)
