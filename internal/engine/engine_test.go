package engine

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/internal/config"
	"github.com/moltbunker/solverbond/internal/escrow"
	"github.com/moltbunker/solverbond/internal/hub"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/internal/metrics"
	"github.com/moltbunker/solverbond/internal/signal"
	"github.com/moltbunker/solverbond/pkg/types"
)

func TestDeploy_WiresContracts(t *testing.T) {
	e := newEnv(t, testConfig())
	eng := e.eng

	for name, addr := range map[string]common.Address{
		"hub":         eng.Hub.Address(),
		"arbitration": eng.Arbitration.Address(),
		"optimistic":  eng.Optimistic.Address(),
	} {
		if !eng.Registry.IsAuthorizedCaller(nil, addr) {
			t.Errorf("%s is not an authorized registry caller", name)
		}
	}
	if !eng.Vault.IsAuthorizedHub(nil, eng.Hub.Address()) {
		t.Error("hub is not authorized on the vault")
	}
	if got := eng.Hub.DisputeModule(nil); got != eng.Arbitration.Address() {
		t.Errorf("dispute module = %s, want arbitration %s", got.Hex(), eng.Arbitration.Address().Hex())
	}
	settings := eng.Hub.Settings(nil)
	if settings.Treasury != treasury {
		t.Errorf("treasury = %s, want %s", settings.Treasury.Hex(), treasury.Hex())
	}
	if settings.ChallengeWindow != time.Hour {
		t.Errorf("challenge window = %s, want 1h", settings.ChallengeWindow)
	}

	addrs := map[common.Address]bool{}
	for _, a := range []common.Address{eng.Registry.Address(), eng.Vault.Address(), eng.Hub.Address(),
		eng.Arbitration.Address(), eng.Optimistic.Address()} {
		if addrs[a] {
			t.Fatalf("contract address %s deployed twice", a.Hex())
		}
		addrs[a] = true
	}
}

func TestDeploy_OptimisticMode(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.DisputeMode = config.DisputeModeOptimistic
	e := newEnv(t, cfg)
	if got := e.eng.Hub.DisputeModule(nil); got != e.eng.Optimistic.Address() {
		t.Errorf("dispute module = %s, want optimistic %s", got.Hex(), e.eng.Optimistic.Address().Hex())
	}
}

func TestDeploy_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing owner", func(c *config.Config) { c.Chain.Owner = "" }},
		{"missing arbitrator", func(c *config.Config) { c.Chain.Arbitrator = "" }},
		{"window too short", func(c *config.Config) { c.Policy.ChallengeWindow = time.Minute }},
		{"bad split", func(c *config.Config) { c.Policy.SlashSplit.UserBps = 1 }},
		{"unknown mode", func(c *config.Config) { c.Policy.DisputeMode = "jury" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			chain := ledger.New(big.NewInt(cfg.Chain.ChainID), ledger.NewManualClock(time.Unix(1_700_000_000, 0)))
			if _, err := Deploy(cfg, chain); err == nil {
				t.Fatal("expected Deploy to fail")
			}
		})
	}
}

func TestFinalize_ReleasesEscrowToOperator(t *testing.T) {
	e := newEnv(t, testConfig())
	id := e.post()
	e.escrow(id, 500)
	before := e.balance(e.operator)

	if err := e.eng.Hub.Finalize(&ledger.TxOpts{From: user}, id); err == nil {
		t.Fatal("expected Finalize to fail inside the challenge window")
	}
	e.clock.Advance(time.Hour)
	if err := e.eng.Hub.Finalize(&ledger.TxOpts{From: user}, id); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if got := e.status(id); got != types.ReceiptFinalized {
		t.Errorf("status = %s, want finalized", got)
	}
	if got := e.balance(e.operator) - before; got != 500 {
		t.Errorf("operator received %d, want 500", got)
	}
	if got := e.balance(e.eng.Vault.Address()); got != 0 {
		t.Errorf("vault balance = %d, want 0", got)
	}

	c := e.eng.Metrics.Collector()
	checks := []struct {
		family, label string
		want          uint64
	}{
		{metrics.FamilyReceipts, "all", 1},
		{metrics.FamilyEscrow, types.EscrowActive.String(), 1},
		{metrics.FamilyEscrow, types.EscrowReleased.String(), 1},
		{metrics.FamilyResolutions, ResolutionAcquitted, 0},
	}
	for _, tt := range checks {
		if got := c.Count(tt.family, tt.label); got != tt.want {
			t.Errorf("%s{%s} = %d, want %d", tt.family, tt.label, got, tt.want)
		}
	}
}

func TestArbitration_FaultSlashesAndSplits(t *testing.T) {
	e := newEnv(t, testConfig())
	id := e.post()
	e.escrow(id, 1000)
	e.dispute(id, types.ReasonSubjective)

	if err := e.eng.Arbitration.Escalate(&ledger.TxOpts{From: challenger, Value: big.NewInt(fee)}, id); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if err := e.eng.Arbitration.Resolve(&ledger.TxOpts{From: arbitrator}, id, true, 50, "route mismatch"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got := e.status(id); got != types.ReceiptSlashed {
		t.Fatalf("status = %s, want slashed", got)
	}
	// 50% of a 10000 bond split 80/15/5
	balances := []struct {
		name string
		addr common.Address
		want int64
	}{
		{"user", user, funding - 1000 + 1000 + 4000},
		{"challenger", challenger, funding - fee + 750},
		{"treasury", treasury, 250},
		{"arbitrator", arbitrator, fee},
		{"hub", e.eng.Hub.Address(), 0},
		{"vault", e.eng.Vault.Address(), 0},
		{"registry", e.eng.Registry.Address(), minBond - 5000},
	}
	for _, tt := range balances {
		if got := e.balance(tt.addr); got != tt.want {
			t.Errorf("%s balance = %d, want %d", tt.name, got, tt.want)
		}
	}

	s, err := e.eng.Registry.Solver(nil, e.solverID)
	if err != nil {
		t.Fatalf("Solver failed: %v", err)
	}
	if drift := s.AccountingDrift(); drift.Sign() != 0 {
		t.Errorf("accounting drift = %s, want 0", drift)
	}
	if s.Bond.Locked.Sign() != 0 {
		t.Errorf("locked bond = %s, want 0", s.Bond.Locked)
	}

	c := e.eng.Metrics.Collector()
	if got := c.Count(metrics.FamilyDisputes, types.ReasonSubjective.String()); got != 1 {
		t.Errorf("subjective disputes = %d, want 1", got)
	}
	if got := c.Count(metrics.FamilyResolutions, ResolutionSlashed); got != 1 {
		t.Errorf("slashed resolutions = %d, want 1", got)
	}
	if got := c.GetMetrics().SlashedWei; got != "5000" {
		t.Errorf("slashed wei = %s, want 5000", got)
	}
}

func TestOptimistic_UncontestedTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.DisputeMode = config.DisputeModeOptimistic
	e := newEnv(t, cfg)
	id := e.post()
	e.dispute(id, types.ReasonSubjective)

	disputeID, err := e.eng.Optimistic.OpenOptimisticDispute(&ledger.TxOpts{From: challenger}, id, common.HexToHash("0xe2"))
	if err != nil {
		t.Fatalf("OpenOptimisticDispute failed: %v", err)
	}
	e.clock.Advance(cfg.Policy.CounterBondWindow + time.Second)
	if err := e.eng.Optimistic.ResolveByTimeout(&ledger.TxOpts{From: user}, disputeID); err != nil {
		t.Fatalf("ResolveByTimeout failed: %v", err)
	}

	if got := e.status(id); got != types.ReceiptSlashed {
		t.Errorf("status = %s, want slashed", got)
	}
	label := types.OptimisticChallengerWins.String()
	if got := e.eng.Metrics.Collector().Count(metrics.FamilyResolutions, label); got != 1 {
		t.Errorf("%s resolutions = %d, want 1", label, got)
	}
}

func TestOutcomes_FollowCommittedEvents(t *testing.T) {
	e := newEnv(t, testConfig())
	var got []types.Outcome
	unsubscribe := e.eng.Chain.Subscribe(func(ev ledger.Event) {
		got = append(got, signal.Outcomes(ev)...)
	})
	defer unsubscribe()

	finalized := e.post()
	slashed := e.post()
	e.dispute(slashed, types.ReasonTimeout)
	e.clock.Advance(time.Hour)
	if err := e.eng.Hub.Finalize(&ledger.TxOpts{From: user}, finalized); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := e.eng.Hub.ResolveDeterministic(&ledger.TxOpts{From: user}, slashed); err != nil {
		t.Fatalf("ResolveDeterministic failed: %v", err)
	}
	// a rejected call publishes nothing
	if err := e.eng.Hub.Finalize(&ledger.TxOpts{From: user}, finalized); err == nil {
		t.Fatal("expected second Finalize to fail")
	}

	want := []struct {
		kind types.OutcomeKind
		id   types.ReceiptID
	}{
		{types.OutcomeFinalized, finalized},
		{types.OutcomeDisputeLost, slashed},
		{types.OutcomeSlashed, slashed},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d outcomes, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Kind != w.kind || got[i].ReceiptID != w.id {
			t.Errorf("outcome %d = %s %s, want %s %s", i, got[i].Kind, got[i].ReceiptID.Hex(), w.kind, w.id.Hex())
		}
		if got[i].SolverID != e.solverID {
			t.Errorf("outcome %d solver = %s, want %s", i, got[i].SolverID.Hex(), e.solverID.Hex())
		}
	}
}

func TestApplyPolicy(t *testing.T) {
	e := newEnv(t, testConfig())
	newArbitrator := common.HexToAddress("0x6666666666666666666666666666666666666666")

	cfg := testConfig()
	cfg.Chain.Arbitrator = newArbitrator.Hex()
	cfg.Policy.ChallengeWindow = 2 * time.Hour
	cfg.Policy.ChallengerBondMinimum = "200"
	cfg.Policy.ArbitrationFee = "75"
	cfg.Policy.DisputeMode = config.DisputeModeOptimistic
	cfg.Policy.CounterBondBps = 5000
	if err := e.eng.ApplyPolicy(cfg); err != nil {
		t.Fatalf("ApplyPolicy failed: %v", err)
	}

	settings := e.eng.Hub.Settings(nil)
	if settings.ChallengeWindow != 2*time.Hour {
		t.Errorf("challenge window = %s, want 2h", settings.ChallengeWindow)
	}
	if settings.ChallengerBondMinimum.Int64() != 200 {
		t.Errorf("challenger bond minimum = %s, want 200", settings.ChallengerBondMinimum)
	}
	if settings.DisputeModule != e.eng.Optimistic.Address() {
		t.Errorf("dispute module = %s, want optimistic", settings.DisputeModule.Hex())
	}
	if got := e.eng.Arbitration.Params(nil).Fee.Int64(); got != 75 {
		t.Errorf("arbitration fee = %d, want 75", got)
	}
	if got := e.eng.Optimistic.Params(nil).CounterBondBps; got != 5000 {
		t.Errorf("counter-bond bps = %d, want 5000", got)
	}
	if got := e.eng.Arbitration.Arbitrator(nil); got != newArbitrator {
		t.Errorf("arbitrator = %s, want %s", got.Hex(), newArbitrator.Hex())
	}
}

func TestApplyPolicy_InvalidLeavesPolicyUntouched(t *testing.T) {
	e := newEnv(t, testConfig())
	cfg := testConfig()
	cfg.Policy.ChallengeWindow = 48 * time.Hour
	if err := e.eng.ApplyPolicy(cfg); err == nil {
		t.Fatal("expected ApplyPolicy to reject a 48h window")
	}
	if got := e.eng.Hub.Settings(nil).ChallengeWindow; got != time.Hour {
		t.Errorf("challenge window = %s, want 1h", got)
	}
}

func TestApplyPolicy_RegistryFixedAtDeployment(t *testing.T) {
	e := newEnv(t, testConfig())
	cfg := testConfig()
	cfg.Policy.MinimumBond = "1"
	if err := e.eng.ApplyPolicy(cfg); err != nil {
		t.Fatalf("ApplyPolicy failed: %v", err)
	}
	if got := e.eng.Registry.MinimumBond().Int64(); got != minBond {
		t.Errorf("minimum bond = %d, want %d", got, minBond)
	}
}

func TestApplyPolicy_NoChangesIsQuiet(t *testing.T) {
	e := newEnv(t, testConfig())
	var events int
	unsubscribe := e.eng.Chain.Subscribe(func(ledger.Event) { events++ })
	defer unsubscribe()

	if err := e.eng.ApplyPolicy(testConfig()); err != nil {
		t.Fatalf("ApplyPolicy failed: %v", err)
	}
	if events != 0 {
		t.Errorf("unchanged policy emitted %d events, want 0", events)
	}
}

func TestApplyPolicy_NotOwner(t *testing.T) {
	e := newEnv(t, testConfig())
	e.eng.Owner = user
	cfg := testConfig()
	cfg.Policy.ChallengeWindow = 2 * time.Hour
	err := e.eng.ApplyPolicy(cfg)
	if !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("ApplyPolicy error = %v, want ErrUnauthorized", err)
	}
}

func TestModuleSwitch_EscalatedCaseStillTimesOut(t *testing.T) {
	cfg := testConfig()
	e := newEnv(t, cfg)
	id := e.post()
	e.dispute(id, types.ReasonSubjective)
	if err := e.eng.Arbitration.Escalate(&ledger.TxOpts{From: challenger, Value: big.NewInt(fee)}, id); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	switched := testConfig()
	switched.Policy.DisputeMode = config.DisputeModeOptimistic
	if err := e.eng.ApplyPolicy(switched); err != nil {
		t.Fatalf("ApplyPolicy failed: %v", err)
	}
	if got := e.eng.Hub.DisputeModule(nil); got != e.eng.Optimistic.Address() {
		t.Fatalf("dispute module = %s, want optimistic", got.Hex())
	}

	err := e.eng.Hub.ResolveEscalatedDispute(&ledger.TxOpts{From: challenger}, id, true, 100, common.Address{})
	if !errors.Is(err, hub.ErrNotDisputeModule) {
		t.Errorf("ruling from a party: got %v, want ErrNotDisputeModule", err)
	}

	e.clock.Advance(cfg.Policy.ArbitrationTimeout + time.Second)
	if err := e.eng.Arbitration.ResolveByTimeout(&ledger.TxOpts{From: user}, id); err != nil {
		t.Fatalf("ResolveByTimeout after module switch failed: %v", err)
	}

	if got := e.status(id); got != types.ReceiptFinalized {
		t.Errorf("status = %s, want finalized", got)
	}
	if got := e.balance(e.eng.Arbitration.Address()); got != 0 {
		t.Errorf("arbitration balance = %d, want 0", got)
	}
	if got := e.eng.Hub.HeldBonds(nil).Int64(); got != 0 {
		t.Errorf("held challenger bonds = %d, want 0", got)
	}
	s, err := e.eng.Registry.Solver(nil, e.solverID)
	if err != nil {
		t.Fatalf("Solver failed: %v", err)
	}
	if s.Bond.Locked.Sign() != 0 {
		t.Errorf("locked bond = %s, want 0", s.Bond.Locked)
	}
	if got := e.balance(challenger); got != funding-bondUnit {
		t.Errorf("challenger balance = %d, want %d", got, funding-bondUnit)
	}
}

func TestRefundExpired_WaitsForOpenReceipt(t *testing.T) {
	e := newEnv(t, testConfig())
	id := e.post()
	escrowID := e.escrow(id, 500)
	e.clock.Advance(49 * time.Hour)

	anyone := &ledger.TxOpts{From: challenger}
	if err := e.eng.Vault.RefundExpired(anyone, escrowID); !errors.Is(err, escrow.ErrReceiptOpen) {
		t.Fatalf("refund of a pending receipt's escrow: got %v, want ErrReceiptOpen", err)
	}

	before := e.balance(e.operator)
	if err := e.eng.Hub.Finalize(anyone, id); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if got := e.balance(e.operator) - before; got != 500 {
		t.Errorf("operator received %d, want 500", got)
	}
	if err := e.eng.Vault.RefundExpired(anyone, escrowID); !errors.Is(err, escrow.ErrNotActive) {
		t.Errorf("refund after release: got %v, want ErrNotActive", err)
	}
}

func TestRefundExpired_UnpostedReceipt(t *testing.T) {
	e := newEnv(t, testConfig())
	unposted := common.HexToHash("0xabcdef")
	escrowID := e.escrow(unposted, 300)
	e.clock.Advance(49 * time.Hour)

	if err := e.eng.Vault.RefundExpired(&ledger.TxOpts{From: challenger}, escrowID); err != nil {
		t.Fatalf("RefundExpired failed: %v", err)
	}
	if got := e.balance(user); got != funding {
		t.Errorf("user balance = %d, want %d", got, funding)
	}
}
