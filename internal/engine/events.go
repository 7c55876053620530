package engine

import (
	"github.com/moltbunker/solverbond/internal/dispute"
	"github.com/moltbunker/solverbond/internal/escrow"
	"github.com/moltbunker/solverbond/internal/hub"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/internal/logging"
	"github.com/moltbunker/solverbond/internal/registry"
	"github.com/moltbunker/solverbond/pkg/types"
)

// Resolution labels recorded for closed disputes.
const (
	ResolutionRejected           = "rejected"
	ResolutionSlashed            = "slashed"
	ResolutionAcquitted          = "acquitted"
	ResolutionArbitrationTimeout = "arbitration_timeout"
)

// observe logs committed state changes and feeds the metrics collector. It
// runs after commit, so nothing here can affect the transition.
func (e *Engine) observe(ev ledger.Event) {
	m := e.Metrics
	switch data := ev.Data.(type) {
	case hub.ReceiptPosted:
		m.RecordReceiptPosted()
		logging.Info("receipt posted",
			logging.Component("hub"),
			logging.ReceiptID(data.ReceiptID),
			logging.SolverID(data.SolverID),
			"nonce", data.Nonce)

	case hub.DisputeOpened:
		m.RecordDisputeOpened(data.Reason)
		logging.Info("dispute opened",
			logging.Component("hub"),
			logging.ReceiptID(data.ReceiptID),
			logging.SolverID(data.SolverID),
			logging.Address("challenger", data.Challenger),
			"reason", data.Reason.String(),
			logging.Amount("bond", data.Bond))

	case hub.DisputeRejected:
		m.RecordResolution(ResolutionRejected)
		logging.Info("dispute rejected",
			logging.Component("hub"),
			logging.ReceiptID(data.ReceiptID),
			logging.SolverID(data.SolverID),
			logging.Amount("forfeited", data.Forfeited))

	case hub.ReceiptSlashed:
		m.RecordResolution(ResolutionSlashed)
		m.RecordSlash(data.Amount)
		if data.Amount == nil || data.Amount.Sign() == 0 {
			logging.Warn("receipt slashed with no bond to take",
				logging.Component("hub"),
				logging.ReceiptID(data.ReceiptID),
				logging.SolverID(data.SolverID),
				"reason", data.Reason.String())
			return
		}
		logging.Info("receipt slashed",
			logging.Component("hub"),
			logging.ReceiptID(data.ReceiptID),
			logging.SolverID(data.SolverID),
			"reason", data.Reason.String(),
			logging.Amount("amount", data.Amount),
			logging.Amount("user_share", data.UserShare),
			logging.Amount("challenger_reward", data.Reward),
			logging.Amount("treasury_share", data.Treasury))

	case hub.ReceiptFinalized:
		if data.Disputed {
			m.RecordResolution(ResolutionAcquitted)
		}
		logging.Info("receipt finalized",
			logging.Component("hub"),
			logging.ReceiptID(data.ReceiptID),
			logging.SolverID(data.SolverID),
			"disputed", data.Disputed)

	case hub.DisputeEscalated:
		logging.Info("dispute escalated",
			logging.Component("hub"),
			logging.ReceiptID(data.ReceiptID),
			logging.Address("module", data.Module))

	case hub.BondsSwept:
		logging.Info("forfeited bonds swept",
			logging.Component("hub"),
			logging.Address("to", data.To),
			logging.Amount("amount", data.Amount))

	case dispute.ArbitrationResolved:
		if ev.Name == dispute.EventArbitrationTimeout {
			m.RecordResolution(ResolutionArbitrationTimeout)
		}
		logging.Info("arbitration resolved",
			logging.Component("arbitration"),
			logging.ReceiptID(data.ReceiptID),
			"solver_fault", data.SolverFault,
			"slash_percent", data.SlashPercent,
			"timed_out", ev.Name == dispute.EventArbitrationTimeout)

	case dispute.OptimisticOpened:
		logging.Info("optimistic dispute opened",
			logging.Component("optimistic"),
			logging.DisputeID(data.DisputeID),
			logging.ReceiptID(data.ReceiptID),
			logging.Amount("required_counter_bond", data.RequiredCounter))

	case dispute.CounterBondPosted:
		logging.Info("counter-bond posted",
			logging.Component("optimistic"),
			logging.DisputeID(data.DisputeID),
			logging.Amount("amount", data.Amount))

	case dispute.OptimisticResolved:
		m.RecordResolution(data.Status.String())
		logging.Info("optimistic dispute resolved",
			logging.Component("optimistic"),
			logging.DisputeID(data.DisputeID),
			logging.ReceiptID(data.ReceiptID),
			"status", data.Status.String(),
			"slash_percent", data.SlashPercent)

	case escrow.Created:
		m.RecordEscrow(types.EscrowActive)
		logging.Info("escrow created",
			logging.Component("escrow"),
			logging.ReceiptID(data.ReceiptID),
			logging.Amount("amount", data.Amount))

	case escrow.Settled:
		status := types.EscrowReleased
		if ev.Name == escrow.EventEscrowRefunded {
			status = types.EscrowRefunded
		}
		m.RecordEscrow(status)
		logging.Info("escrow settled",
			logging.Component("escrow"),
			logging.ReceiptID(data.ReceiptID),
			"status", status.String(),
			logging.Address("to", data.To),
			logging.Amount("amount", data.Amount))

	case registry.SolverRegistered:
		logging.Info("solver registered",
			logging.Component("registry"),
			logging.SolverID(data.SolverID),
			logging.Address("operator", data.Operator))

	case registry.SolverSlashed:
		logging.Info("solver bond slashed",
			logging.Component("registry"),
			logging.SolverID(data.SolverID),
			logging.Amount("amount", data.Amount))

	case registry.JailChanged:
		logging.Info("solver jail status changed",
			logging.Component("registry"),
			logging.SolverID(data.SolverID),
			"event", ev.Name)

	default:
		logging.Debug("ledger event",
			logging.Component("engine"),
			"event", ev.Name,
			logging.Address("contract", ev.Contract))
	}
}
