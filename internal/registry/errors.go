package registry

import "github.com/moltbunker/solverbond/pkg/types"

var (
	ErrNotOwner            = types.NewError(types.ErrUnauthorized, "registry: caller is not the owner")
	ErrNotOperator         = types.NewError(types.ErrUnauthorized, "registry: caller is not the solver operator")
	ErrSolverNotFound      = types.NewError(types.ErrPrecondition, "registry: solver not found")
	ErrSolverBanned        = types.NewError(types.ErrPrecondition, "registry: solver is banned")
	ErrNotJailed           = types.NewError(types.ErrPrecondition, "registry: solver is not jailed")
	ErrNoWithdrawalPending = types.NewError(types.ErrPrecondition, "registry: no withdrawal initiated")
	ErrCooldownActive      = types.NewError(types.ErrPrecondition, "registry: withdrawal cooldown has not elapsed")
	ErrZeroAmount          = types.NewError(types.ErrInvalidValue, "registry: amount must be positive")
	ErrZeroAddress         = types.NewError(types.ErrInvalidValue, "registry: zero address")
	ErrInsufficientBond    = types.NewError(types.ErrInvalidValue, "registry: amount exceeds bond")
	ErrOperatorRegistered  = types.NewError(types.ErrIntegrity, "registry: operator already owns a solver")
)
