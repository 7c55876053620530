// Package engine deploys and wires the accountability contracts on one
// ledger: the solver registry, the escrow vault, the receipt hub and both
// dispute modules.
package engine

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/solverbond/internal/config"
	"github.com/moltbunker/solverbond/internal/dispute"
	"github.com/moltbunker/solverbond/internal/escrow"
	"github.com/moltbunker/solverbond/internal/hub"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/internal/logging"
	"github.com/moltbunker/solverbond/internal/metrics"
	"github.com/moltbunker/solverbond/internal/registry"
)

// Engine holds the deployed contracts.
type Engine struct {
	Chain       *ledger.Ledger
	Owner       common.Address
	Registry    *registry.Registry
	Vault       *escrow.Vault
	Hub         *hub.Hub
	Arbitration *dispute.Arbitration
	Optimistic  *dispute.OptimisticModule
	Metrics     *metrics.PrometheusCollector

	mu          sync.Mutex
	policy      config.PolicyConfig
	unsubscribe func()
}

// Deploy validates cfg and deploys every contract owned by the configured
// owner. The hub and both dispute modules are authorized registry callers,
// the hub is authorized on the vault, and the module named by the dispute
// mode is registered on the hub.
func Deploy(cfg *config.Config, chain *ledger.Ledger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	owner := common.HexToAddress(cfg.Chain.Owner)
	arbitrator := common.HexToAddress(cfg.Chain.Arbitrator)

	reg := registry.New(chain, owner, registryParams(cfg.Policy))
	vault := escrow.NewVault(chain, owner)

	hp := hubParams(cfg.Policy)
	if cfg.Chain.Treasury != "" {
		hp.Treasury = common.HexToAddress(cfg.Chain.Treasury)
	}
	h, err := hub.New(chain, owner, reg, vault, hp)
	if err != nil {
		return nil, fmt.Errorf("deploy hub: %w", err)
	}
	arb, err := dispute.NewArbitration(chain, owner, arbitrator, h, reg, arbitrationParams(cfg.Policy))
	if err != nil {
		return nil, fmt.Errorf("deploy arbitration module: %w", err)
	}
	opt, err := dispute.NewOptimistic(chain, owner, arbitrator, h, reg, optimisticParams(cfg.Policy))
	if err != nil {
		return nil, fmt.Errorf("deploy optimistic module: %w", err)
	}

	e := &Engine{
		Chain:       chain,
		Owner:       owner,
		Registry:    reg,
		Vault:       vault,
		Hub:         h,
		Arbitration: arb,
		Optimistic:  opt,
		Metrics:     metrics.NewPrometheusCollector(nil),
		policy:      cfg.Policy,
	}
	e.unsubscribe = chain.Subscribe(e.observe)

	opts := e.ownerOpts()
	steps := []struct {
		op     string
		target common.Address
		fn     func() error
	}{
		{"registry.authorize", h.Address(), func() error { return reg.SetAuthorizedCaller(opts, h.Address(), true) }},
		{"registry.authorize", arb.Address(), func() error { return reg.SetAuthorizedCaller(opts, arb.Address(), true) }},
		{"registry.authorize", opt.Address(), func() error { return reg.SetAuthorizedCaller(opts, opt.Address(), true) }},
		{"escrow.authorize_hub", h.Address(), func() error { return vault.SetAuthorizedHub(opts, h.Address(), true) }},
		{"escrow.set_receipt_tracker", h.Address(), func() error { return vault.SetReceiptTracker(opts, h) }},
		{"hub.set_dispute_module", e.moduleFor(cfg.Policy.DisputeMode), func() error {
			return h.SetDisputeModule(opts, e.moduleFor(cfg.Policy.DisputeMode))
		}},
	}
	for _, step := range steps {
		err := step.fn()
		logging.Audit(logging.AuditEvent{
			Operation: step.op,
			Actor:     owner,
			Target:    step.target.Hex(),
			Err:       err,
		})
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("%s: %w", step.op, err)
		}
	}

	logging.Info("engine deployed",
		logging.Component("engine"),
		logging.Address("registry", reg.Address()),
		logging.Address("vault", vault.Address()),
		logging.Address("hub", h.Address()),
		logging.Address("arbitration", arb.Address()),
		logging.Address("optimistic", opt.Address()),
		"dispute_mode", cfg.Policy.DisputeMode)
	return e, nil
}

// Close detaches the engine's event subscriber.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// moduleFor returns the module registered for mode.
func (e *Engine) moduleFor(mode string) common.Address {
	if mode == config.DisputeModeOptimistic {
		return e.Optimistic.Address()
	}
	return e.Arbitration.Address()
}

// ApplyPolicy re-applies the admin-tunable policy in cfg through owner
// transactions. Values that did not change are skipped. Registry policy is
// fixed at deployment; a changed registry value is reported and ignored.
// Every setter is attempted; the returned error joins the failures.
func (e *Engine) ApplyPolicy(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := cfg.Policy
	if registryChanged(e.policy, p) {
		logging.Warn("registry policy is fixed at deployment, restart to apply",
			logging.Component("engine"))
	}

	opts := e.ownerOpts()
	current := e.Hub.Settings(nil)
	want := hubParams(p)
	var errs []error
	apply := func(op, details string, fn func() error) {
		err := fn()
		logging.Audit(logging.AuditEvent{Operation: op, Actor: e.Owner, Details: details, Err: err})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", op, err))
		}
	}

	if current.ChallengeWindow != want.ChallengeWindow {
		apply("hub.set_challenge_window", want.ChallengeWindow.String(), func() error {
			return e.Hub.SetChallengeWindow(opts, want.ChallengeWindow)
		})
	}
	if current.ChallengerBondMinimum.Cmp(want.ChallengerBondMinimum) != 0 {
		apply("hub.set_challenger_bond_minimum", want.ChallengerBondMinimum.String(), func() error {
			return e.Hub.SetChallengerBondMinimum(opts, want.ChallengerBondMinimum)
		})
	}
	if current.SlashSplit != want.SlashSplit {
		apply("hub.set_slash_split", fmt.Sprintf("%+v", want.SlashSplit), func() error {
			return e.Hub.SetSlashSplit(opts, want.SlashSplit)
		})
	}
	if current.DeterministicSlashPercent != want.DeterministicSlashPercent {
		apply("hub.set_deterministic_slash_percent", fmt.Sprint(want.DeterministicSlashPercent), func() error {
			return e.Hub.SetDeterministicSlashPercent(opts, want.DeterministicSlashPercent)
		})
	}
	if cfg.Chain.Treasury != "" {
		treasury := common.HexToAddress(cfg.Chain.Treasury)
		if current.Treasury != treasury {
			apply("hub.set_treasury", treasury.Hex(), func() error {
				return e.Hub.SetTreasury(opts, treasury)
			})
		}
	}
	if module := e.moduleFor(p.DisputeMode); current.DisputeModule != module {
		apply("hub.set_dispute_module", p.DisputeMode, func() error {
			return e.Hub.SetDisputeModule(opts, module)
		})
	}

	if ap := arbitrationParams(p); !sameArbitration(e.Arbitration.Params(nil), ap) {
		apply("arbitration.set_params", "", func() error {
			return e.Arbitration.SetParams(opts, ap)
		})
	}
	if op := optimisticParams(p); e.Optimistic.Params(nil) != op {
		apply("optimistic.set_params", "", func() error {
			return e.Optimistic.SetParams(opts, op)
		})
	}
	if arbitrator := common.HexToAddress(cfg.Chain.Arbitrator); e.Arbitration.Arbitrator(nil) != arbitrator {
		apply("arbitration.set_arbitrator", arbitrator.Hex(), func() error {
			return e.Arbitration.SetArbitrator(opts, arbitrator)
		})
		apply("optimistic.set_arbitrator", arbitrator.Hex(), func() error {
			return e.Optimistic.SetArbitrator(opts, arbitrator)
		})
	}

	// Keep the deployed registry values so the warning repeats until restart.
	registryPolicy := e.policy
	e.policy = p
	e.policy.MinimumBond = registryPolicy.MinimumBond
	e.policy.WithdrawalCooldown = registryPolicy.WithdrawalCooldown
	e.policy.MaxJailCount = registryPolicy.MaxJailCount
	return errors.Join(errs...)
}

func (e *Engine) ownerOpts() *ledger.TxOpts {
	return &ledger.TxOpts{From: e.Owner}
}

func registryParams(p config.PolicyConfig) registry.Params {
	return registry.Params{
		MinimumBond:        config.MustAmount(p.MinimumBond),
		WithdrawalCooldown: p.WithdrawalCooldown,
		MaxJailCount:       p.MaxJailCount,
	}
}

func hubParams(p config.PolicyConfig) hub.Params {
	return hub.Params{
		ChallengeWindow:           p.ChallengeWindow,
		ChallengerBondMinimum:     config.MustAmount(p.ChallengerBondMinimum),
		MaxBatchSize:              p.MaxBatchSize,
		SlashSplit:                p.SlashSplit.Split(),
		ProofWindow:               p.ProofWindow,
		EscalationWindow:          p.EscalationWindow,
		DeterministicSlashPercent: p.DeterministicSlashPercent,
		JailOnSlash:               p.JailOnSlash,
	}
}

func arbitrationParams(p config.PolicyConfig) dispute.ArbitrationParams {
	return dispute.ArbitrationParams{
		Fee:            config.MustAmount(p.ArbitrationFee),
		Timeout:        p.ArbitrationTimeout,
		EvidenceWindow: p.ArbitrationEvidence,
	}
}

func optimisticParams(p config.PolicyConfig) dispute.OptimisticParams {
	return dispute.OptimisticParams{
		CounterBondWindow:            p.CounterBondWindow,
		CounterBondBps:               p.CounterBondBps,
		ArbitrationTimeout:           p.OptimisticTimeout,
		EvidenceWindow:               p.OptimisticEvidence,
		UncontestedSlashPercent:      p.UncontestedSlashPct,
		ContestedTimeoutSlashPercent: p.ContestedTimeoutSlashPct,
	}
}

func sameArbitration(a, b dispute.ArbitrationParams) bool {
	return a.Timeout == b.Timeout && a.EvidenceWindow == b.EvidenceWindow && a.Fee.Cmp(b.Fee) == 0
}

func registryChanged(old, cur config.PolicyConfig) bool {
	oldBond, curBond := config.MustAmount(old.MinimumBond), config.MustAmount(cur.MinimumBond)
	return oldBond.Cmp(curBond) != 0 ||
		old.WithdrawalCooldown != cur.WithdrawalCooldown ||
		old.MaxJailCount != cur.MaxJailCount
}

// Fund credits every genesis account in cfg.
func Fund(chain *ledger.Ledger, accounts []config.GenesisAccount) {
	for _, acct := range accounts {
		amount := config.MustAmount(acct.Balance)
		if amount.Sign() == 0 {
			continue
		}
		chain.Fund(common.HexToAddress(acct.Address), new(big.Int).Set(amount))
	}
}
