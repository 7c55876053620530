package types

import (
	"math/big"
	"testing"
)

func TestSlashSplit_Validate(t *testing.T) {
	tests := []struct {
		name    string
		split   SlashSplit
		wantErr bool
	}{
		{"default", DefaultSlashSplit(), false},
		{"all to treasury", SlashSplit{TreasuryBps: 10000}, false},
		{"short", SlashSplit{UserBps: 8000, ChallengerBps: 1500}, true},
		{"over", SlashSplit{UserBps: 9000, ChallengerBps: 1500, TreasuryBps: 500}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.split.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSlashSplit_DivideIsExact(t *testing.T) {
	split := DefaultSlashSplit()
	for _, n := range []int64{0, 1, 7, 99, 10000, 123456789} {
		amount := big.NewInt(n)
		user, challenger, treasury := split.Divide(amount)
		sum := new(big.Int).Add(user, challenger)
		sum.Add(sum, treasury)
		if sum.Cmp(amount) != 0 {
			t.Errorf("Divide(%d) sums to %s", n, sum)
		}
		if treasury.Sign() < 0 {
			t.Errorf("Divide(%d) treasury negative: %s", n, treasury)
		}
	}

	user, challenger, treasury := split.Divide(big.NewInt(1000))
	if user.Int64() != 800 || challenger.Int64() != 150 || treasury.Int64() != 50 {
		t.Errorf("Divide(1000) = %s/%s/%s, want 800/150/50", user, challenger, treasury)
	}

	// 80% and 15% of 7 round down to 5 and 1; the unit of dust lands in the treasury
	user, challenger, treasury = split.Divide(big.NewInt(7))
	if user.Int64() != 5 || challenger.Int64() != 1 || treasury.Int64() != 1 {
		t.Errorf("Divide(7) = %s/%s/%s, want 5/1/1", user, challenger, treasury)
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(big.NewInt(999), 50); got.Int64() != 499 {
		t.Errorf("Percent(999, 50) = %s, want 499", got)
	}
	if got := Percent(big.NewInt(999), 100); got.Int64() != 999 {
		t.Errorf("Percent(999, 100) = %s, want 999", got)
	}
}

func TestParseDisputeReason(t *testing.T) {
	for r := ReasonTimeout; r <= ReasonSubjective; r++ {
		got, err := ParseDisputeReason(r.String())
		if err != nil || got != r {
			t.Errorf("ParseDisputeReason(%q) = %s, %v", r.String(), got, err)
		}
	}
	if _, err := ParseDisputeReason("bogus"); err == nil {
		t.Error("expected error for unknown reason")
	}
	if ReasonNone.IsValid() {
		t.Error("none must not be a valid dispute reason")
	}
	if !ReasonSubjective.IsSubjective() || ReasonTimeout.IsSubjective() {
		t.Error("IsSubjective misclassifies")
	}
}
