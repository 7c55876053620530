package types

import (
	"fmt"
	"strings"
)

type enum interface {
	~uint8
	String() string
}

// parseEnum maps the String form back to a value in [first, last].
func parseEnum[T enum](kind, text string, first, last T) (T, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	for v := first; v <= last; v++ {
		if v.String() == text {
			return v, nil
		}
	}
	return first, fmt.Errorf("unknown %s: %q", kind, text)
}

// SolverStatus is the bond-derived status of a solver.
type SolverStatus uint8

const (
	SolverInactive SolverStatus = iota
	SolverActive
	SolverJailed
	SolverBanned
)

func (s SolverStatus) String() string {
	switch s {
	case SolverInactive:
		return "inactive"
	case SolverActive:
		return "active"
	case SolverJailed:
		return "jailed"
	case SolverBanned:
		return "banned"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SolverStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SolverStatus) UnmarshalText(text []byte) error {
	parsed, err := parseEnum("solver status", string(text), SolverInactive, SolverBanned)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether no further transitions are possible.
func (s SolverStatus) IsTerminal() bool { return s == SolverBanned }

// SolverEvent drives SolverStatus transitions.
type SolverEvent uint8

const (
	// SolverBondSufficient: total bond is at or above the minimum after a change.
	SolverBondSufficient SolverEvent = iota
	// SolverBondInsufficient: total bond is below the minimum after a change.
	SolverBondInsufficient
	SolverJail
	SolverUnjail
	SolverBan
)

func (e SolverEvent) String() string {
	switch e {
	case SolverBondSufficient:
		return "bond_sufficient"
	case SolverBondInsufficient:
		return "bond_insufficient"
	case SolverJail:
		return "jail"
	case SolverUnjail:
		return "unjail"
	case SolverBan:
		return "ban"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// NextSolverStatus is the solver transition table. Bond events never move a
// jailed or banned solver; unjail lands on Inactive and the caller re-applies
// the bond event.
func NextSolverStatus(s SolverStatus, e SolverEvent) (SolverStatus, error) {
	switch s {
	case SolverInactive, SolverActive:
		switch e {
		case SolverBondSufficient:
			return SolverActive, nil
		case SolverBondInsufficient:
			return SolverInactive, nil
		case SolverJail:
			return SolverJailed, nil
		case SolverBan:
			return SolverBanned, nil
		}
	case SolverJailed:
		switch e {
		case SolverBondSufficient, SolverBondInsufficient, SolverJail:
			return SolverJailed, nil
		case SolverUnjail:
			return SolverInactive, nil
		case SolverBan:
			return SolverBanned, nil
		}
	case SolverBanned:
		switch e {
		case SolverBondSufficient, SolverBondInsufficient:
			return SolverBanned, nil
		}
	}
	return s, fmt.Errorf("%w: solver %s on %s", ErrInvalidTransition, s, e)
}

// ReceiptStatus is the lifecycle status of a receipt.
type ReceiptStatus uint8

const (
	ReceiptPending ReceiptStatus = iota
	ReceiptDisputed
	ReceiptFinalized
	ReceiptSlashed
)

func (s ReceiptStatus) String() string {
	switch s {
	case ReceiptPending:
		return "pending"
	case ReceiptDisputed:
		return "disputed"
	case ReceiptFinalized:
		return "finalized"
	case ReceiptSlashed:
		return "slashed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ReceiptStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ReceiptStatus) UnmarshalText(text []byte) error {
	parsed, err := parseEnum("receipt status", string(text), ReceiptPending, ReceiptSlashed)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether the receipt can no longer change.
func (s ReceiptStatus) IsTerminal() bool {
	return s == ReceiptFinalized || s == ReceiptSlashed
}

// ReceiptEvent drives ReceiptStatus transitions.
type ReceiptEvent uint8

const (
	ReceiptOpenDispute ReceiptEvent = iota
	ReceiptRejectDispute
	ReceiptSlash
	ReceiptFinalize
)

func (e ReceiptEvent) String() string {
	switch e {
	case ReceiptOpenDispute:
		return "open_dispute"
	case ReceiptRejectDispute:
		return "reject_dispute"
	case ReceiptSlash:
		return "slash"
	case ReceiptFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// NextReceiptStatus is the receipt transition table.
func NextReceiptStatus(s ReceiptStatus, e ReceiptEvent) (ReceiptStatus, error) {
	switch s {
	case ReceiptPending:
		switch e {
		case ReceiptOpenDispute:
			return ReceiptDisputed, nil
		case ReceiptFinalize:
			return ReceiptFinalized, nil
		}
	case ReceiptDisputed:
		switch e {
		case ReceiptRejectDispute:
			return ReceiptPending, nil
		case ReceiptSlash:
			return ReceiptSlashed, nil
		case ReceiptFinalize:
			// escalated dispute resolved in the solver's favour
			return ReceiptFinalized, nil
		}
	}
	return s, fmt.Errorf("%w: receipt %s on %s", ErrInvalidTransition, s, e)
}

// OptimisticStatus is the status of a counter-bond dispute.
type OptimisticStatus uint8

const (
	OptimisticOpen OptimisticStatus = iota
	OptimisticContested
	OptimisticChallengerWins
	OptimisticSolverWins
)

func (s OptimisticStatus) String() string {
	switch s {
	case OptimisticOpen:
		return "open"
	case OptimisticContested:
		return "contested"
	case OptimisticChallengerWins:
		return "challenger_wins"
	case OptimisticSolverWins:
		return "solver_wins"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s OptimisticStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OptimisticStatus) UnmarshalText(text []byte) error {
	parsed, err := parseEnum("optimistic status", string(text), OptimisticOpen, OptimisticSolverWins)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether the dispute has been decided.
func (s OptimisticStatus) IsTerminal() bool {
	return s == OptimisticChallengerWins || s == OptimisticSolverWins
}

// OptimisticEvent drives OptimisticStatus transitions.
type OptimisticEvent uint8

const (
	OptimisticCounterBond OptimisticEvent = iota
	OptimisticCounterBondTimeout
	OptimisticRuledForChallenger
	OptimisticRuledForSolver
	OptimisticArbitrationTimeout
)

func (e OptimisticEvent) String() string {
	switch e {
	case OptimisticCounterBond:
		return "counter_bond"
	case OptimisticCounterBondTimeout:
		return "counter_bond_timeout"
	case OptimisticRuledForChallenger:
		return "ruled_for_challenger"
	case OptimisticRuledForSolver:
		return "ruled_for_solver"
	case OptimisticArbitrationTimeout:
		return "arbitration_timeout"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// NextOptimisticStatus is the optimistic dispute transition table.
func NextOptimisticStatus(s OptimisticStatus, e OptimisticEvent) (OptimisticStatus, error) {
	switch s {
	case OptimisticOpen:
		switch e {
		case OptimisticCounterBond:
			return OptimisticContested, nil
		case OptimisticCounterBondTimeout:
			return OptimisticChallengerWins, nil
		}
	case OptimisticContested:
		switch e {
		case OptimisticRuledForChallenger, OptimisticArbitrationTimeout:
			return OptimisticChallengerWins, nil
		case OptimisticRuledForSolver:
			return OptimisticSolverWins, nil
		}
	}
	return s, fmt.Errorf("%w: optimistic dispute %s on %s", ErrInvalidTransition, s, e)
}

// EscrowStatus is the status of an escrow.
type EscrowStatus uint8

const (
	EscrowNone EscrowStatus = iota
	EscrowActive
	EscrowReleased
	EscrowRefunded
)

func (s EscrowStatus) String() string {
	switch s {
	case EscrowNone:
		return "none"
	case EscrowActive:
		return "active"
	case EscrowReleased:
		return "released"
	case EscrowRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s EscrowStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *EscrowStatus) UnmarshalText(text []byte) error {
	parsed, err := parseEnum("escrow status", string(text), EscrowNone, EscrowRefunded)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether the escrow has paid out.
func (s EscrowStatus) IsTerminal() bool {
	return s == EscrowReleased || s == EscrowRefunded
}

// EscrowEvent drives EscrowStatus transitions.
type EscrowEvent uint8

const (
	EscrowCreate EscrowEvent = iota
	EscrowRelease
	EscrowRefund
)

func (e EscrowEvent) String() string {
	switch e {
	case EscrowCreate:
		return "create"
	case EscrowRelease:
		return "release"
	case EscrowRefund:
		return "refund"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// NextEscrowStatus is the escrow transition table.
func NextEscrowStatus(s EscrowStatus, e EscrowEvent) (EscrowStatus, error) {
	switch s {
	case EscrowNone:
		if e == EscrowCreate {
			return EscrowActive, nil
		}
	case EscrowActive:
		switch e {
		case EscrowRelease:
			return EscrowReleased, nil
		case EscrowRefund:
			return EscrowRefunded, nil
		}
	}
	return s, fmt.Errorf("%w: escrow %s on %s", ErrInvalidTransition, s, e)
}
