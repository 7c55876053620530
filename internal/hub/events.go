package hub

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/pkg/types"
)

// Event names emitted by the hub.
const (
	EventReceiptPosted      = "ReceiptPosted"
	EventDisputeOpened      = "DisputeOpened"
	EventSettlementProof    = "SettlementProofSubmitted"
	EventDisputeRejected    = "DisputeRejected"
	EventDisputeEscalated   = "DisputeEscalated"
	EventReceiptSlashed     = "ReceiptSlashed"
	EventReceiptFinalized   = "ReceiptFinalized"
	EventBondsSwept         = "ForfeitedBondsSwept"
	EventChallengeWindowSet = "ChallengeWindowSet"
	EventBondMinimumSet     = "ChallengerBondMinimumSet"
	EventDisputeModuleSet   = "DisputeModuleSet"
	EventTreasurySet        = "TreasurySet"
	EventEscrowVaultSet     = "EscrowVaultSet"
	EventSlashSplitSet      = "SlashSplitSet"
	EventSlashPercentSet    = "DeterministicSlashPercentSet"
	EventPaused             = "Paused"
	EventUnpaused           = "Unpaused"
)

// ReceiptPosted is the payload of EventReceiptPosted.
type ReceiptPosted struct {
	ReceiptID  types.ReceiptID
	SolverID   types.SolverID
	IntentHash common.Hash
	Nonce      uint64
	Poster     common.Address
}

// DisputeOpened is the payload of EventDisputeOpened.
type DisputeOpened struct {
	ReceiptID    types.ReceiptID
	SolverID     types.SolverID
	Challenger   common.Address
	Reason       types.DisputeReason
	EvidenceHash common.Hash
	Bond         *big.Int
}

// SettlementProof is the payload of EventSettlementProof.
type SettlementProof struct {
	ReceiptID types.ReceiptID
	ProofHash common.Hash
}

// DisputeRejected is the payload of EventDisputeRejected. Forfeited is the
// challenger bond added to the sweepable pool; it is zero when the bond was
// paid to a named recipient.
type DisputeRejected struct {
	ReceiptID types.ReceiptID
	SolverID  types.SolverID
	Forfeited *big.Int
}

// DisputeEscalated is the payload of EventDisputeEscalated.
type DisputeEscalated struct {
	ReceiptID types.ReceiptID
	Module    common.Address
}

// ReceiptSlashed is the payload of EventReceiptSlashed.
type ReceiptSlashed struct {
	ReceiptID  types.ReceiptID
	SolverID   types.SolverID
	Reason     types.DisputeReason
	Amount     *big.Int
	User       common.Address
	UserShare  *big.Int
	Challenger common.Address
	Reward     *big.Int
	Treasury   *big.Int
}

// ReceiptFinalized is the payload of EventReceiptFinalized.
type ReceiptFinalized struct {
	ReceiptID types.ReceiptID
	SolverID  types.SolverID
	// Disputed is set when the receipt was finalized by an escalated ruling.
	Disputed bool
}

// BondsSwept is the payload of EventBondsSwept.
type BondsSwept struct {
	To     common.Address
	Amount *big.Int
}

// DurationSet is the payload of window setters.
type DurationSet struct {
	Old, New time.Duration
}

// AddressSet is the payload of address setters.
type AddressSet struct {
	Old, New common.Address
}
