package types

import (
	"fmt"
	"math/big"
)

// BasisPoints is the denominator of every bps value.
const BasisPoints = 10_000

// SlashSplit is the distribution table for slashed value.
type SlashSplit struct {
	UserBps       uint16 `yaml:"user_bps" json:"user_bps"`
	ChallengerBps uint16 `yaml:"challenger_bps" json:"challenger_bps"`
	TreasuryBps   uint16 `yaml:"treasury_bps" json:"treasury_bps"`
}

// DefaultSlashSplit is 80% user, 15% challenger, 5% treasury.
func DefaultSlashSplit() SlashSplit {
	return SlashSplit{UserBps: 8000, ChallengerBps: 1500, TreasuryBps: 500}
}

// Validate checks that the shares add up to the whole.
func (s SlashSplit) Validate() error {
	sum := int(s.UserBps) + int(s.ChallengerBps) + int(s.TreasuryBps)
	if sum != BasisPoints {
		return fmt.Errorf("slash split must sum to %d bps, got %d", BasisPoints, sum)
	}
	return nil
}

// Divide splits amount exactly; rounding dust goes to the treasury share.
func (s SlashSplit) Divide(amount *big.Int) (user, challenger, treasury *big.Int) {
	user = Bps(amount, uint64(s.UserBps))
	challenger = Bps(amount, uint64(s.ChallengerBps))
	treasury = new(big.Int).Sub(amount, user)
	treasury.Sub(treasury, challenger)
	return user, challenger, treasury
}

// Bps returns amount * bps / 10000, rounded down.
func Bps(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, big.NewInt(BasisPoints))
}

// Percent returns amount * pct / 100, rounded down.
func Percent(amount *big.Int, pct uint8) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(pct)))
	return out.Quo(out, big.NewInt(100))
}
