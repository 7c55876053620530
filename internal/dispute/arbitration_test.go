package dispute

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/pkg/types"
)

func TestEscalate_Rejections(t *testing.T) {
	e := newEnv(t)
	a := e.arbitration()
	subjective := e.disputed(1, types.ReasonSubjective)
	objective := e.disputed(2, types.ReasonMinOutViolation)

	tests := []struct {
		name    string
		caller  common.Address
		value   int64
		receipt types.ReceiptID
		want    error
	}{
		{"third party", stranger, fee, subjective, ErrNotParty},
		{"fee too low", challenger, fee - 1, subjective, ErrInsufficientFee},
		{"objective reason", challenger, fee, objective, ErrNotSubjective},
		{"unknown receipt", challenger, fee, common.HexToHash("0x404"), types.ErrPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.Escalate(pay(tt.caller, tt.value), tt.receipt); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
	if got := e.balance(a.Address()); got != 0 {
		t.Errorf("module holds %d after rejected escalations", got)
	}
}

func TestEscalate_ByEitherParty(t *testing.T) {
	e := newEnv(t)
	a := e.arbitration()
	first := e.disputed(1, types.ReasonSubjective)
	second := e.disputed(2, types.ReasonSubjective)

	if err := a.Escalate(pay(challenger, fee), first); err != nil {
		t.Fatalf("challenger escalation failed: %v", err)
	}
	if err := a.Escalate(pay(e.operator, fee+10), second); err != nil {
		t.Fatalf("operator escalation failed: %v", err)
	}
	if err := a.Escalate(pay(challenger, fee), first); !errors.Is(err, ErrAlreadyEscalated) {
		t.Errorf("repeat escalation: got %v, want ErrAlreadyEscalated", err)
	}

	d, ok := e.hub.Dispute(nil, first)
	if !ok || !d.Escalated || d.EscalatedBy != a.Address() {
		t.Errorf("hub dispute not escalated by the module: %+v", d)
	}
	k, err := a.Case(nil, second)
	if err != nil {
		t.Fatalf("Case failed: %v", err)
	}
	if k.Escalator != e.operator || k.Fee.Int64() != fee+10 {
		t.Errorf("case = %s/%s, want operator/%d", k.Escalator.Hex(), k.Fee, fee+10)
	}
	if want := k.EscalatedAt.Add(7 * 24 * time.Hour); !k.Deadline.Equal(want) {
		t.Errorf("deadline = %s, want %s", k.Deadline, want)
	}
}

func TestArbitration_SubmitEvidence(t *testing.T) {
	e := newEnv(t)
	a := e.arbitration()
	id := e.disputed(1, types.ReasonSubjective)
	if err := a.Escalate(pay(challenger, fee), id); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	if err := a.SubmitEvidence(from(challenger), id, common.HexToHash("0x01")); err != nil {
		t.Fatalf("challenger evidence failed: %v", err)
	}
	if err := a.SubmitEvidence(from(e.operator), id, common.HexToHash("0x02")); err != nil {
		t.Fatalf("operator evidence failed: %v", err)
	}
	if err := a.SubmitEvidence(from(stranger), id, common.HexToHash("0x03")); !errors.Is(err, ErrNotParty) {
		t.Errorf("stranger: got %v, want ErrNotParty", err)
	}
	if err := a.SubmitEvidence(from(challenger), id, common.Hash{}); !errors.Is(err, ErrZeroHash) {
		t.Errorf("zero hash: got %v, want ErrZeroHash", err)
	}

	e.clock.Advance(24 * time.Hour)
	if err := a.SubmitEvidence(from(challenger), id, common.HexToHash("0x04")); err != nil {
		t.Errorf("at window end: %v", err)
	}
	e.clock.Advance(time.Second)
	if err := a.SubmitEvidence(from(challenger), id, common.HexToHash("0x05")); !errors.Is(err, ErrEvidenceClosed) {
		t.Errorf("after window: got %v, want ErrEvidenceClosed", err)
	}

	log := a.Evidence(nil, id)
	if len(log) != 3 {
		t.Fatalf("len(evidence) = %d, want 3", len(log))
	}
	if log[0].Submitter != challenger || log[1].Submitter != e.operator {
		t.Errorf("evidence order = %s, %s", log[0].Submitter.Hex(), log[1].Submitter.Hex())
	}
}

func TestArbitration_ResolveFault(t *testing.T) {
	e := newEnv(t)
	a := e.arbitration()
	id := e.disputed(1, types.ReasonSubjective)
	if err := a.Escalate(pay(challenger, fee), id); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	if err := a.Resolve(from(stranger), id, true, 50, "bad route"); !errors.Is(err, ErrNotArbitrator) {
		t.Errorf("stranger: got %v, want ErrNotArbitrator", err)
	}
	if err := a.Resolve(from(arbitrator), id, true, 101, "bad route"); !errors.Is(err, ErrInvalidPercent) {
		t.Errorf("101%%: got %v, want ErrInvalidPercent", err)
	}

	before := e.balance(challenger)
	if err := a.Resolve(from(arbitrator), id, true, 50, "bad route"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if e.status(id) != types.ReceiptSlashed {
		t.Errorf("status = %s, want slashed", e.status(id))
	}
	if got := e.solver().Bond.Total().Int64(); got != minBond/2 {
		t.Errorf("bond = %d, want %d", got, minBond/2)
	}
	// 80% + 15% of the 5000 slashed, plus the challenger bond
	if got := e.balance(challenger) - before; got != 4000+750+bondUnit {
		t.Errorf("challenger received %d, want %d", got, 4000+750+bondUnit)
	}
	if got := e.balance(arbitrator); got != fee {
		t.Errorf("arbitrator received %d, want fee %d", got, fee)
	}
	k, _ := a.Case(nil, id)
	if !k.Resolved || !k.SolverFault || k.SlashPercent != 50 || k.Reason != "bad route" {
		t.Errorf("case = %+v", k)
	}
	if err := a.Resolve(from(arbitrator), id, false, 0, "again"); !errors.Is(err, ErrResolved) {
		t.Errorf("second ruling: got %v, want ErrResolved", err)
	}
	if err := a.ResolveByTimeout(from(stranger), id); !errors.Is(err, ErrResolved) {
		t.Errorf("timeout after ruling: got %v, want ErrResolved", err)
	}
}

func TestArbitration_ResolveNoFault(t *testing.T) {
	e := newEnv(t)
	a := e.arbitration()
	id := e.disputed(1, types.ReasonSubjective)
	if err := a.Escalate(pay(challenger, fee), id); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	before := e.balance(challenger)
	if err := a.Resolve(from(arbitrator), id, false, 80, "route was fine"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if e.status(id) != types.ReceiptFinalized {
		t.Errorf("status = %s, want finalized", e.status(id))
	}
	if got := e.balance(challenger) - before; got != fee {
		t.Errorf("challenger refund = %d, want fee %d", got, fee)
	}
	if got := e.hub.ForfeitedBonds(nil).Int64(); got != bondUnit {
		t.Errorf("forfeited = %d, want challenger bond %d", got, bondUnit)
	}
	s := e.solver()
	if s.Bond.Available.Int64() != minBond || s.Bond.Locked.Sign() != 0 {
		t.Errorf("bond = %s/%s, want fully available", s.Bond.Available, s.Bond.Locked)
	}
	k, _ := a.Case(nil, id)
	if k.SlashPercent != 0 {
		t.Errorf("slash percent recorded as %d on a no-fault ruling", k.SlashPercent)
	}
}

func TestArbitration_NoFaultRefundsEscalator(t *testing.T) {
	e := newEnv(t)
	a := e.arbitration()
	id := e.disputed(1, types.ReasonSubjective)
	if err := a.Escalate(pay(e.operator, fee), id); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	operatorBefore, challengerBefore := e.balance(e.operator), e.balance(challenger)
	if err := a.Resolve(from(arbitrator), id, false, 0, "route was fine"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := e.balance(e.operator) - operatorBefore; got != fee {
		t.Errorf("operator refund = %d, want fee %d", got, fee)
	}
	if got := e.balance(challenger) - challengerBefore; got != 0 {
		t.Errorf("challenger received %d, want 0", got)
	}
}

func TestArbitration_ResolveByTimeout(t *testing.T) {
	e := newEnv(t)
	a := e.arbitration()
	id := e.disputed(1, types.ReasonSubjective)
	if err := a.Escalate(pay(e.operator, fee), id); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	e.clock.Advance(7*24*time.Hour - time.Second)
	if err := a.ResolveByTimeout(from(stranger), id); !errors.Is(err, ErrDeadlineNotPassed) {
		t.Fatalf("before deadline: got %v, want ErrDeadlineNotPassed", err)
	}
	e.clock.Advance(time.Second)
	before := e.balance(e.operator)
	if err := a.ResolveByTimeout(from(stranger), id); err != nil {
		t.Fatalf("ResolveByTimeout failed: %v", err)
	}
	if e.status(id) != types.ReceiptFinalized {
		t.Errorf("status = %s, want finalized", e.status(id))
	}
	if got := e.balance(e.operator) - before; got != fee {
		t.Errorf("escalator refund = %d, want %d", got, fee)
	}
	k, _ := a.Case(nil, id)
	if !k.TimedOut || k.SolverFault {
		t.Errorf("case = %+v, want timed out without fault", k)
	}
	if got := e.balance(a.Address()); got != 0 {
		t.Errorf("module retains %d", got)
	}
}

func TestArbitration_Admin(t *testing.T) {
	e := newEnv(t)
	a := e.arbitration()
	next := common.HexToAddress("0x00000000000000000000000000000000000000a8")

	if err := a.SetArbitrator(from(stranger), next); !errors.Is(err, ErrNotOwner) {
		t.Errorf("stranger: got %v, want ErrNotOwner", err)
	}
	if err := a.SetArbitrator(from(owner), common.Address{}); !errors.Is(err, ErrZeroAddress) {
		t.Errorf("zero: got %v, want ErrZeroAddress", err)
	}
	if err := a.SetArbitrator(from(owner), next); err != nil {
		t.Fatalf("SetArbitrator failed: %v", err)
	}
	if got := a.Arbitrator(nil); got != next {
		t.Errorf("arbitrator = %s, want %s", got.Hex(), next.Hex())
	}

	params := DefaultArbitrationParams()
	params.Timeout = 0
	if err := a.SetParams(from(owner), params); !errors.Is(err, types.ErrInvalidValue) {
		t.Errorf("zero timeout: got %v, want ErrInvalidValue class", err)
	}
}
