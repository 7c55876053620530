package registry

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/pkg/types"
)

// Bond is a solver's collateral.
type Bond struct {
	Available *big.Int `json:"available"`
	Locked    *big.Int `json:"locked"`
	// Peak is the highest total the bond has ever reached.
	Peak *big.Int `json:"peak"`
}

// Total returns available + locked.
func (b Bond) Total() *big.Int {
	return new(big.Int).Add(b.Available, b.Locked)
}

// Score counts a solver's recorded outcomes.
type Score struct {
	TotalFills      uint64   `json:"total_fills"`
	SuccessfulFills uint64   `json:"successful_fills"`
	DisputesOpened  uint64   `json:"disputes_opened"`
	DisputesLost    uint64   `json:"disputes_lost"`
	Volume          *big.Int `json:"volume"`
	TotalSlashed    *big.Int `json:"total_slashed"`
}

// Solver is a registered solver identity with its bond and score.
type Solver struct {
	ID             types.SolverID     `json:"id"`
	Operator       common.Address     `json:"operator"`
	MetadataURI    string             `json:"metadata_uri"`
	RegisteredAt   time.Time          `json:"registered_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	Status         types.SolverStatus `json:"status"`
	JailCount      uint8              `json:"jail_count"`
	Bond           Bond               `json:"bond"`
	Score          Score              `json:"score"`

	// WithdrawalRequestedAt is zero when no withdrawal is pending.
	WithdrawalRequestedAt time.Time `json:"withdrawal_requested_at,omitempty"`

	TotalDeposited *big.Int `json:"total_deposited"`
	TotalWithdrawn *big.Int `json:"total_withdrawn"`
}

func newSolver(id types.SolverID, operator common.Address, metadataURI string, now time.Time) *Solver {
	return &Solver{
		ID:             id,
		Operator:       operator,
		MetadataURI:    metadataURI,
		RegisteredAt:   now,
		LastActivityAt: now,
		Status:         types.SolverInactive,
		Bond: Bond{
			Available: new(big.Int),
			Locked:    new(big.Int),
			Peak:      new(big.Int),
		},
		Score: Score{
			Volume:       new(big.Int),
			TotalSlashed: new(big.Int),
		},
		TotalDeposited: new(big.Int),
		TotalWithdrawn: new(big.Int),
	}
}

// Copy returns a deep copy.
func (s *Solver) Copy() Solver {
	out := *s
	out.Bond = Bond{
		Available: new(big.Int).Set(s.Bond.Available),
		Locked:    new(big.Int).Set(s.Bond.Locked),
		Peak:      new(big.Int).Set(s.Bond.Peak),
	}
	out.Score.Volume = new(big.Int).Set(s.Score.Volume)
	out.Score.TotalSlashed = new(big.Int).Set(s.Score.TotalSlashed)
	out.TotalDeposited = new(big.Int).Set(s.TotalDeposited)
	out.TotalWithdrawn = new(big.Int).Set(s.TotalWithdrawn)
	return out
}

// AccountingDrift returns (available + locked) - (deposited - withdrawn - slashed).
// It is zero for every solver at all times.
func (s *Solver) AccountingDrift() *big.Int {
	expected := new(big.Int).Sub(s.TotalDeposited, s.TotalWithdrawn)
	expected.Sub(expected, s.Score.TotalSlashed)
	return new(big.Int).Sub(s.Bond.Total(), expected)
}

// ScoreEvent names a recorded outcome.
type ScoreEvent uint8

const (
	ScoreFill ScoreEvent = iota
	ScoreSuccess
	ScoreDisputeOpened
	ScoreDisputeLost
)

func (e ScoreEvent) String() string {
	switch e {
	case ScoreFill:
		return "fill"
	case ScoreSuccess:
		return "success"
	case ScoreDisputeOpened:
		return "dispute_opened"
	case ScoreDisputeLost:
		return "dispute_lost"
	default:
		return "unknown"
	}
}
