package ledger

import "github.com/moltbunker/solverbond/pkg/types"

var (
	ErrNilOpts               = types.NewError(types.ErrInvalidValue, "ledger: nil transaction options")
	ErrNegativeValue         = types.NewError(types.ErrInvalidValue, "ledger: negative value")
	ErrZeroAddress           = types.NewError(types.ErrInvalidValue, "ledger: transfer to the zero address")
	ErrInsufficientBalance   = types.NewError(types.ErrInvalidValue, "ledger: insufficient balance")
	ErrInsufficientAllowance = types.NewError(types.ErrInvalidValue, "ledger: insufficient allowance")
	ErrTransferRejected      = types.NewError(types.ErrPrecondition, "ledger: transfer rejected by recipient")
	ErrReentrantCall         = types.NewError(types.ErrPrecondition, "ledger: reentrant call")
)
