// Package escrow is the escrow vault: conditional native or token value
// tied to one receipt, released or refunded exactly once.
package escrow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/pkg/types"
)

var (
	ErrNotOwner          = types.NewError(types.ErrUnauthorized, "escrow: caller is not the owner")
	ErrNotAuthorized     = types.NewError(types.ErrUnauthorized, "escrow: caller is not an authorized hub")
	ErrNotFound          = types.NewError(types.ErrPrecondition, "escrow: not found")
	ErrNotActive         = types.NewError(types.ErrPrecondition, "escrow: not active")
	ErrDeadlineNotPassed = types.NewError(types.ErrPrecondition, "escrow: deadline has not passed")
	ErrReceiptOpen       = types.NewError(types.ErrPrecondition, "escrow: receipt is still open")
	ErrZeroAmount        = types.NewError(types.ErrInvalidValue, "escrow: amount must be positive")
	ErrZeroID            = types.NewError(types.ErrInvalidValue, "escrow: zero escrow or receipt id")
	ErrZeroAddress       = types.NewError(types.ErrInvalidValue, "escrow: zero address")
	ErrDeadlineInPast    = types.NewError(types.ErrInvalidValue, "escrow: deadline must be in the future")
	ErrValueMismatch     = types.NewError(types.ErrInvalidValue, "escrow: attached value does not match amount")
	ErrDuplicateEscrow   = types.NewError(types.ErrIntegrity, "escrow: escrow id already used")
	ErrReceiptEscrowed   = types.NewError(types.ErrIntegrity, "escrow: receipt already has an escrow")
)

// Event names emitted by the vault.
const (
	EventEscrowCreated  = "EscrowCreated"
	EventEscrowReleased = "EscrowReleased"
	EventEscrowRefunded = "EscrowRefunded"
	EventHubAuthorized  = "HubAuthorized"
)

// ReceiptTracker reports whether a receipt can still be finalized or
// slashed. While it can, an expired escrow is left for the hub to settle.
type ReceiptTracker interface {
	ReceiptOpen(ctx context.Context, id types.ReceiptID) bool
}

// Escrow is one escrowed amount.
type Escrow struct {
	ID        common.Hash        `json:"id"`
	ReceiptID types.ReceiptID    `json:"receipt_id"`
	Depositor common.Address     `json:"depositor"`
	Token     common.Address     `json:"token"`
	Amount    *big.Int           `json:"amount"`
	Deposited *big.Int           `json:"deposited"`
	Deadline  time.Time          `json:"deadline"`
	Status    types.EscrowStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	SettledAt time.Time          `json:"settled_at,omitempty"`
	PaidTo    common.Address     `json:"paid_to,omitempty"`
}

func (e *Escrow) copy() Escrow {
	out := *e
	out.Amount = new(big.Int).Set(e.Amount)
	out.Deposited = new(big.Int).Set(e.Deposited)
	return out
}

// IsNative reports whether the escrow holds the ledger's native asset.
func (e Escrow) IsNative() bool { return types.IsNative(e.Token) }

// Settled is the payload of release and refund events.
type Settled struct {
	EscrowID  common.Hash
	ReceiptID types.ReceiptID
	Token     common.Address
	Amount    *big.Int
	To        common.Address
}

// Created is the payload of EventEscrowCreated.
type Created struct {
	EscrowID  common.Hash
	ReceiptID types.ReceiptID
	Depositor common.Address
	Token     common.Address
	Amount    *big.Int
	Deadline  time.Time
}

// HubAuthorized is the payload of EventHubAuthorized.
type HubAuthorized struct {
	Hub     common.Address
	Allowed bool
}
