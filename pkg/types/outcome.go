package types

import (
	"fmt"
	"math/big"
	"time"
)

// OutcomeKind is the notification class sent to external adapters.
type OutcomeKind uint8

const (
	OutcomeFinalized OutcomeKind = iota + 1
	OutcomeSlashed
	// OutcomeDisputeWon: the solver defeated a dispute.
	OutcomeDisputeWon
	// OutcomeDisputeLost: a dispute was decided against the solver.
	OutcomeDisputeLost
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFinalized:
		return "finalized"
	case OutcomeSlashed:
		return "slashed"
	case OutcomeDisputeWon:
		return "dispute_won"
	case OutcomeDisputeLost:
		return "dispute_lost"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k OutcomeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OutcomeKind) UnmarshalText(text []byte) error {
	parsed, err := parseEnum("outcome kind", string(text), OutcomeFinalized, OutcomeDisputeLost)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Outcome is a recorded result of the receipt lifecycle.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	ReceiptID ReceiptID   `json:"receipt_id"`
	SolverID  SolverID    `json:"solver_id"`
	Amount    *big.Int    `json:"amount,omitempty"`
	Time      time.Time   `json:"time"`
}
