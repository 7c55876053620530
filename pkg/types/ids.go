package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// SolverID identifies a registered solver.
type SolverID = common.Hash

// ReceiptID is the content hash of an IntentReceipt.
type ReceiptID = common.Hash

// DisputeID identifies an optimistic dispute.
type DisputeID = common.Hash

// NativeToken is the token sentinel for the ledger's native asset.
var NativeToken = common.Address{}

// IsNative reports whether token denotes the native asset.
func IsNative(token common.Address) bool {
	return token == NativeToken
}
