package dispute

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/pkg/types"
)

// Event names emitted by the dispute modules.
const (
	EventEscalated          = "DisputeEscalatedToArbitration"
	EventEvidenceSubmitted  = "EvidenceSubmitted"
	EventArbitrationRuling  = "ArbitrationResolved"
	EventArbitrationTimeout = "ArbitrationTimedOut"
	EventArbitratorSet      = "ArbitratorSet"
	EventOptimisticOpened   = "OptimisticDisputeOpened"
	EventCounterBondPosted  = "CounterBondPosted"
	EventOptimisticResolved = "OptimisticDisputeResolved"
)

// Escalated is the payload of EventEscalated.
type Escalated struct {
	ReceiptID types.ReceiptID
	Escalator common.Address
	Fee       *big.Int
	Deadline  time.Time
}

// EvidenceSubmitted is the payload of EventEvidenceSubmitted. Key is the
// receipt id for arbitration cases and the dispute id for optimistic ones.
type EvidenceSubmitted struct {
	Key       common.Hash
	Hash      common.Hash
	Submitter common.Address
}

// ArbitrationResolved is the payload of EventArbitrationRuling and
// EventArbitrationTimeout.
type ArbitrationResolved struct {
	ReceiptID    types.ReceiptID
	SolverFault  bool
	SlashPercent uint8
	Reason       string
	FeeTo        common.Address
}

// OptimisticOpened is the payload of EventOptimisticOpened.
type OptimisticOpened struct {
	DisputeID           types.DisputeID
	ReceiptID           types.ReceiptID
	Challenger          common.Address
	ChallengerBond      *big.Int
	RequiredCounter     *big.Int
	CounterBondDeadline time.Time
}

// CounterBondPosted is the payload of EventCounterBondPosted.
type CounterBondPosted struct {
	DisputeID           types.DisputeID
	Amount              *big.Int
	ArbitrationDeadline time.Time
}

// OptimisticResolved is the payload of EventOptimisticResolved.
type OptimisticResolved struct {
	DisputeID    types.DisputeID
	ReceiptID    types.ReceiptID
	Status       types.OptimisticStatus
	SlashPercent uint8
	Reason       string
}
