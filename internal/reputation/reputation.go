// Package reputation derives a solver credibility score from recorded
// receipt outcomes. Scores are advisory; nothing in the engine reads them.
package reputation

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/moltbunker/solverbond/internal/logging"
	"github.com/moltbunker/solverbond/pkg/types"
)

const (
	InitialScore = 500
	MaxScore     = 1000
	// MinEligibleScore is the score below which a solver is flagged untrusted.
	MinEligibleScore = 250
)

// Tier buckets a score.
type Tier string

const (
	TierUntrusted   Tier = "untrusted"
	TierNewcomer    Tier = "newcomer"
	TierReliable    Tier = "reliable"
	TierEstablished Tier = "established"
	TierElite       Tier = "elite"
)

// TierFromScore maps a score to its tier.
func TierFromScore(score int) Tier {
	switch {
	case score >= 900:
		return TierElite
	case score >= 700:
		return TierEstablished
	case score >= 500:
		return TierReliable
	case score >= MinEligibleScore:
		return TierNewcomer
	default:
		return TierUntrusted
	}
}

// Weights are the score deltas applied per outcome.
type Weights struct {
	Finalized   int
	DisputeWon  int
	DisputeLost int
	// SlashPenalty is the base penalty of a slash. Each SlashScale of
	// slashed value adds SlashPenalty again, up to MaxDelta.
	SlashPenalty int
	SlashScale   *big.Int
	MaxDelta     int
}

// DefaultWeights scales slash penalties by the default minimum bond.
func DefaultWeights() Weights {
	return Weights{
		Finalized:    10,
		DisputeWon:   5,
		DisputeLost:  -50,
		SlashPenalty: 100,
		SlashScale:   big.NewInt(100_000_000_000_000_000),
		MaxDelta:     200,
	}
}

// Reputation is one solver's derived record.
type Reputation struct {
	SolverID     types.SolverID `json:"solver_id"`
	Score        int            `json:"score"`
	Tier         Tier           `json:"tier"`
	Finalized    uint64         `json:"finalized"`
	DisputesWon  uint64         `json:"disputes_won"`
	DisputesLost uint64         `json:"disputes_lost"`
	SlashEvents  uint64         `json:"slash_events"`
	Slashed      *big.Int       `json:"slashed"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (r *Reputation) copy() Reputation {
	out := *r
	out.Slashed = new(big.Int).Set(r.Slashed)
	out.Tier = TierFromScore(r.Score)
	return out
}

// Scorer keeps reputations in memory. It is safe for concurrent use.
type Scorer struct {
	weights Weights

	mu      sync.RWMutex
	solvers map[types.SolverID]*Reputation
}

// NewScorer creates a scorer with weights.
func NewScorer(weights Weights) *Scorer {
	if weights.SlashScale == nil || weights.SlashScale.Sign() <= 0 {
		weights.SlashScale = DefaultWeights().SlashScale
	}
	if weights.MaxDelta <= 0 {
		weights.MaxDelta = DefaultWeights().MaxDelta
	}
	return &Scorer{weights: weights, solvers: make(map[types.SolverID]*Reputation)}
}

// Name implements signal.Sink.
func (s *Scorer) Name() string { return "reputation" }

// Deliver implements signal.Sink.
func (s *Scorer) Deliver(_ context.Context, o types.Outcome) error {
	s.Record(o)
	return nil
}

// Record applies one outcome.
func (s *Scorer) Record(o types.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep, ok := s.solvers[o.SolverID]
	if !ok {
		rep = &Reputation{SolverID: o.SolverID, Score: InitialScore, Slashed: new(big.Int)}
		s.solvers[o.SolverID] = rep
	}

	delta := 0
	switch o.Kind {
	case types.OutcomeFinalized:
		rep.Finalized++
		delta = s.weights.Finalized
	case types.OutcomeDisputeWon:
		rep.DisputesWon++
		delta = s.weights.DisputeWon
	case types.OutcomeDisputeLost:
		rep.DisputesLost++
		delta = s.weights.DisputeLost
	case types.OutcomeSlashed:
		rep.SlashEvents++
		if o.Amount != nil {
			rep.Slashed.Add(rep.Slashed, o.Amount)
		}
		delta = -s.slashPenalty(o.Amount)
	default:
		return
	}

	rep.Score = clamp(rep.Score+clampDelta(delta, s.weights.MaxDelta), 0, MaxScore)
	rep.UpdatedAt = o.Time
	logging.Debug("reputation updated",
		logging.Component("reputation"),
		logging.SolverID(o.SolverID),
		"kind", o.Kind.String(),
		"delta", delta,
		"score", rep.Score)
}

func (s *Scorer) slashPenalty(amount *big.Int) int {
	penalty := s.weights.SlashPenalty
	if amount == nil || amount.Sign() <= 0 {
		return penalty
	}
	units := new(big.Int).Quo(amount, s.weights.SlashScale)
	if !units.IsInt64() || units.Int64() > int64(s.weights.MaxDelta) {
		return s.weights.MaxDelta
	}
	return penalty + int(units.Int64())*s.weights.SlashPenalty
}

// Get returns the reputation of id. Unknown solvers report the initial score.
func (s *Scorer) Get(id types.SolverID) Reputation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rep, ok := s.solvers[id]; ok {
		return rep.copy()
	}
	return Reputation{SolverID: id, Score: InitialScore, Tier: TierFromScore(InitialScore), Slashed: new(big.Int)}
}

// Eligible reports whether id's score clears MinEligibleScore.
func (s *Scorer) Eligible(id types.SolverID) bool {
	return s.Get(id).Score >= MinEligibleScore
}

// Top returns up to n reputations, highest score first.
func (s *Scorer) Top(n int) []Reputation {
	s.mu.RLock()
	out := make([]Reputation, 0, len(s.solvers))
	for _, rep := range s.solvers {
		out = append(out, rep.copy())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SolverID.Hex() < out[j].SolverID.Hex()
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func clampDelta(delta, max int) int {
	return clamp(delta, -max, max)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
