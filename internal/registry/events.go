package registry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/pkg/types"
)

// Event names emitted by the registry.
const (
	EventSolverRegistered    = "SolverRegistered"
	EventBondDeposited       = "BondDeposited"
	EventWithdrawalInitiated = "WithdrawalInitiated"
	EventBondWithdrawn       = "BondWithdrawn"
	EventBondLocked          = "BondLocked"
	EventBondUnlocked        = "BondUnlocked"
	EventSolverSlashed       = "SolverSlashed"
	EventSolverJailed        = "SolverJailed"
	EventSolverUnjailed      = "SolverUnjailed"
	EventSolverBanned        = "SolverBanned"
	EventStatusChanged       = "StatusChanged"
	EventAuthorizedCaller    = "AuthorizedCallerSet"
)

// SolverRegistered is the payload of EventSolverRegistered.
type SolverRegistered struct {
	SolverID    types.SolverID
	Operator    common.Address
	MetadataURI string
}

// BondChanged is the payload of deposit, withdrawal, lock and unlock events.
type BondChanged struct {
	SolverID types.SolverID
	Amount   *big.Int
	Total    *big.Int
}

// SolverSlashed is the payload of EventSolverSlashed.
type SolverSlashed struct {
	SolverID   types.SolverID
	Amount     *big.Int
	ReceiptRef common.Hash
	Reason     string
	Recipient  common.Address
}

// StatusChanged is the payload of EventStatusChanged.
type StatusChanged struct {
	SolverID types.SolverID
	From     types.SolverStatus
	To       types.SolverStatus
}

// JailChanged is the payload of jail, unjail and ban events.
type JailChanged struct {
	SolverID  types.SolverID
	JailCount uint8
}

// AuthorizedCallerSet is the payload of EventAuthorizedCaller.
type AuthorizedCallerSet struct {
	Caller  common.Address
	Allowed bool
}
