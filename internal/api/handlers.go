package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/moltbunker/solverbond/internal/dispute"
	"github.com/moltbunker/solverbond/internal/escrow"
	"github.com/moltbunker/solverbond/internal/hub"
	"github.com/moltbunker/solverbond/internal/metrics"
	"github.com/moltbunker/solverbond/internal/registry"
	"github.com/moltbunker/solverbond/internal/reputation"
	"github.com/moltbunker/solverbond/internal/signal"
	"github.com/moltbunker/solverbond/pkg/types"
)

// startTime records when the package was initialized for uptime calculation.
var startTime = time.Now()

// HealthResponse is the JSON response for /healthz
type HealthResponse struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime"`
	ChainID   string    `json:"chain_id"`
	LedgerNow time.Time `json:"ledger_time"`
	Paused    bool      `json:"paused"`
}

// SolverResponse is a solver with its derived state
type SolverResponse struct {
	registry.Solver
	Active                bool                   `json:"active"`
	Receipts              int                    `json:"receipts"`
	WithdrawalAvailableAt *time.Time             `json:"withdrawal_available_at,omitempty"`
	Reputation            *reputation.Reputation `json:"reputation,omitempty"`
}

// ReceiptResponse is a stored receipt with its challenge deadline and dispute
type ReceiptResponse struct {
	hub.Record
	ChallengeDeadline time.Time      `json:"challenge_deadline"`
	Dispute           *hub.Dispute   `json:"dispute,omitempty"`
	Escrow            *escrow.Escrow `json:"escrow,omitempty"`
}

// ReceiptListResponse lists a solver's receipts in posting order
type ReceiptListResponse struct {
	SolverID types.SolverID    `json:"solver_id"`
	Nonce    uint64            `json:"nonce"`
	Receipts []types.ReceiptID `json:"receipts"`
}

// CaseResponse is an arbitration case with its evidence log
type CaseResponse struct {
	dispute.Case
	Evidence []dispute.Evidence `json:"evidence"`
}

// OptimisticResponse is an optimistic dispute with its evidence log
type OptimisticResponse struct {
	dispute.Optimistic
	Evidence []dispute.Evidence `json:"evidence"`
}

// SettingsResponse is the live policy of every contract
type SettingsResponse struct {
	Registry    RegistrySettings    `json:"registry"`
	Hub         HubSettings         `json:"hub"`
	Arbitration ArbitrationSettings `json:"arbitration"`
	Optimistic  OptimisticSettings  `json:"optimistic"`
	Contracts   map[string]string   `json:"contracts"`
}

// RegistrySettings mirrors registry.Params
type RegistrySettings struct {
	MinimumBond        *big.Int `json:"minimum_bond"`
	WithdrawalCooldown string   `json:"withdrawal_cooldown"`
	MaxJailCount       uint8    `json:"max_jail_count"`
}

// HubSettings mirrors hub.Settings
type HubSettings struct {
	ChallengeWindow           string           `json:"challenge_window"`
	ChallengerBondMinimum     *big.Int         `json:"challenger_bond_minimum"`
	MaxBatchSize              int              `json:"max_batch_size"`
	SlashSplit                types.SlashSplit `json:"slash_split"`
	ProofWindow               string           `json:"proof_window"`
	EscalationWindow          string           `json:"escalation_window"`
	DeterministicSlashPercent uint8            `json:"deterministic_slash_percent"`
	JailOnSlash               bool             `json:"jail_on_slash"`
	Treasury                  common.Address   `json:"treasury"`
	DisputeModule             common.Address   `json:"dispute_module"`
	Paused                    bool             `json:"paused"`
}

// ArbitrationSettings mirrors dispute.ArbitrationParams
type ArbitrationSettings struct {
	Arbitrator     common.Address `json:"arbitrator"`
	Fee            *big.Int       `json:"fee"`
	Timeout        string         `json:"timeout"`
	EvidenceWindow string         `json:"evidence_window"`
}

// OptimisticSettings mirrors dispute.OptimisticParams
type OptimisticSettings struct {
	CounterBondWindow            string `json:"counter_bond_window"`
	CounterBondBps               uint16 `json:"counter_bond_bps"`
	ArbitrationTimeout           string `json:"arbitration_timeout"`
	EvidenceWindow               string `json:"evidence_window"`
	UncontestedSlashPercent      uint8  `json:"uncontested_slash_percent"`
	ContestedTimeoutSlashPercent uint8  `json:"contested_timeout_slash_percent"`
}

// StatsResponse is the JSON stats view
type StatsResponse struct {
	Metrics        *metrics.Metrics `json:"metrics"`
	Notifier       *signal.Stats    `json:"notifier,omitempty"`
	Subscribers    int              `json:"websocket_subscribers"`
	Solvers        int              `json:"solvers"`
	HeldBonds      *big.Int         `json:"held_challenger_bonds"`
	ForfeitedBonds *big.Int         `json:"forfeited_bonds"`
}

// handleHealthz handles GET /healthz for load balancer probes
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	eng := s.engine
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		ChainID:   eng.Chain.ChainID().String(),
		LedgerNow: eng.Chain.Now(),
		Paused:    eng.Hub.Settings(r.Context()).Paused,
	})
}

// handleSolvers handles GET /v1/solvers
func (s *Server) handleSolvers(w http.ResponseWriter, r *http.Request) {
	solvers := s.engine.Registry.Solvers(r.Context())
	out := make([]SolverResponse, 0, len(solvers))
	for _, solver := range solvers {
		out = append(out, s.solverResponse(r, solver))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleSolverByID routes /v1/solvers/{id}[/receipts|/reputation]
func (s *Server) handleSolverByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/solvers/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusBadRequest, "solver id required")
		return
	}
	id, err := parseHash(parts[0])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	solver, err := s.engine.Registry.Solver(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	if len(parts) > 1 {
		switch parts[1] {
		case "receipts":
			receipts := s.engine.Hub.ReceiptsBySolver(r.Context(), id)
			if receipts == nil {
				receipts = []types.ReceiptID{}
			}
			s.writeJSON(w, http.StatusOK, ReceiptListResponse{
				SolverID: id,
				Nonce:    s.engine.Hub.Nonce(r.Context(), id),
				Receipts: receipts,
			})
		case "reputation":
			if s.scorer == nil {
				s.writeError(w, http.StatusNotFound, "reputation scoring disabled")
				return
			}
			s.writeJSON(w, http.StatusOK, s.scorer.Get(id))
		default:
			s.writeError(w, http.StatusNotFound, "not found")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, s.solverResponse(r, solver))
}

func (s *Server) solverResponse(r *http.Request, solver registry.Solver) SolverResponse {
	resp := SolverResponse{
		Solver:   solver,
		Active:   s.engine.Registry.IsActive(r.Context(), solver.ID),
		Receipts: len(s.engine.Hub.ReceiptsBySolver(r.Context(), solver.ID)),
	}
	if !solver.WithdrawalRequestedAt.IsZero() {
		at := s.engine.Registry.WithdrawalAvailableAt(solver)
		resp.WithdrawalAvailableAt = &at
	}
	if s.scorer != nil {
		rep := s.scorer.Get(solver.ID)
		resp.Reputation = &rep
	}
	return resp
}

// handleReceiptByID routes /v1/receipts/{id}[/dispute|/escrow]
func (s *Server) handleReceiptByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/receipts/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusBadRequest, "receipt id required")
		return
	}
	id, err := parseHash(parts[0])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	record, err := s.engine.Hub.Receipt(ctx, id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	if len(parts) > 1 {
		switch parts[1] {
		case "dispute":
			d, ok := s.engine.Hub.Dispute(ctx, id)
			if !ok {
				s.writeError(w, http.StatusNotFound, "receipt has no dispute")
				return
			}
			s.writeJSON(w, http.StatusOK, d)
		case "escrow":
			e, ok := s.engine.Vault.EscrowForReceipt(ctx, id)
			if !ok {
				s.writeError(w, http.StatusNotFound, "receipt has no escrow")
				return
			}
			s.writeJSON(w, http.StatusOK, e)
		default:
			s.writeError(w, http.StatusNotFound, "not found")
		}
		return
	}

	resp := ReceiptResponse{Record: record}
	resp.ChallengeDeadline, _ = s.engine.Hub.ChallengeDeadline(ctx, id)
	if d, ok := s.engine.Hub.Dispute(ctx, id); ok {
		resp.Dispute = &d
	}
	if e, ok := s.engine.Vault.EscrowForReceipt(ctx, id); ok {
		resp.Escrow = &e
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleEscrowByID handles GET /v1/escrows/{id}
func (s *Server) handleEscrowByID(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathHash(w, r, "/v1/escrows/", "escrow id")
	if !ok {
		return
	}
	e, err := s.engine.Vault.Escrow(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

// handleArbitrationCase handles GET /v1/arbitration/{receiptID}
func (s *Server) handleArbitrationCase(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathHash(w, r, "/v1/arbitration/", "receipt id")
	if !ok {
		return
	}
	k, err := s.engine.Arbitration.Case(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CaseResponse{
		Case:     k,
		Evidence: nonNil(s.engine.Arbitration.Evidence(r.Context(), id)),
	})
}

// handleOptimisticDispute handles GET /v1/optimistic/{disputeID}. A receipt
// id is accepted as well and resolves to the receipt's dispute.
func (s *Server) handleOptimisticDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathHash(w, r, "/v1/optimistic/", "dispute id")
	if !ok {
		return
	}
	ctx := r.Context()
	m := s.engine.Optimistic
	o, err := m.Dispute(ctx, id)
	if err != nil {
		byReceipt, found := m.DisputeForReceipt(ctx, id)
		if !found {
			s.writeLookupError(w, err)
			return
		}
		o = byReceipt
	}
	s.writeJSON(w, http.StatusOK, OptimisticResponse{
		Optimistic: o,
		Evidence:   nonNil(m.Evidence(ctx, o.ID)),
	})
}

// handleLeaderboard handles GET /v1/reputation?limit=n
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.scorer == nil {
		s.writeError(w, http.StatusNotFound, "reputation scoring disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, s.scorer.Top(limit))
}

// handleSettings handles GET /v1/settings
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eng := s.engine
	hs := eng.Hub.Settings(ctx)
	ap := eng.Arbitration.Params(ctx)
	op := eng.Optimistic.Params(ctx)

	s.writeJSON(w, http.StatusOK, SettingsResponse{
		Registry: RegistrySettings{
			MinimumBond:        eng.Registry.MinimumBond(),
			WithdrawalCooldown: eng.Registry.WithdrawalCooldown().String(),
			MaxJailCount:       eng.Registry.MaxJailCount(),
		},
		Hub: HubSettings{
			ChallengeWindow:           hs.ChallengeWindow.String(),
			ChallengerBondMinimum:     hs.ChallengerBondMinimum,
			MaxBatchSize:              hs.MaxBatchSize,
			SlashSplit:                hs.SlashSplit,
			ProofWindow:               hs.ProofWindow.String(),
			EscalationWindow:          hs.EscalationWindow.String(),
			DeterministicSlashPercent: hs.DeterministicSlashPercent,
			JailOnSlash:               hs.JailOnSlash,
			Treasury:                  hs.Treasury,
			DisputeModule:             hs.DisputeModule,
			Paused:                    hs.Paused,
		},
		Arbitration: ArbitrationSettings{
			Arbitrator:     eng.Arbitration.Arbitrator(ctx),
			Fee:            ap.Fee,
			Timeout:        ap.Timeout.String(),
			EvidenceWindow: ap.EvidenceWindow.String(),
		},
		Optimistic: OptimisticSettings{
			CounterBondWindow:            op.CounterBondWindow.String(),
			CounterBondBps:               op.CounterBondBps,
			ArbitrationTimeout:           op.ArbitrationTimeout.String(),
			EvidenceWindow:               op.EvidenceWindow.String(),
			UncontestedSlashPercent:      op.UncontestedSlashPercent,
			ContestedTimeoutSlashPercent: op.ContestedTimeoutSlashPercent,
		},
		Contracts: map[string]string{
			"registry":    eng.Registry.Address().Hex(),
			"vault":       eng.Vault.Address().Hex(),
			"hub":         eng.Hub.Address().Hex(),
			"arbitration": eng.Arbitration.Address().Hex(),
			"optimistic":  eng.Optimistic.Address().Hex(),
		},
	})
}

// handleStats handles GET /v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatsResponse{
		Metrics:        s.engine.Metrics.Collector().GetMetrics(),
		Solvers:        len(s.engine.Registry.Solvers(ctx)),
		HeldBonds:      s.engine.Hub.HeldBonds(ctx),
		ForfeitedBonds: s.engine.Hub.ForfeitedBonds(ctx),
	}
	if s.notifier != nil {
		stats := s.notifier.Stats()
		resp.Notifier = &stats
	}
	if s.broadcaster != nil {
		resp.Subscribers = s.broadcaster.ClientCount()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// pathHash parses the single id segment after prefix
func (s *Server) pathHash(w http.ResponseWriter, r *http.Request, prefix, what string) (common.Hash, bool) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if rest == "" {
		s.writeError(w, http.StatusBadRequest, what+" required")
		return common.Hash{}, false
	}
	if strings.Contains(rest, "/") {
		s.writeError(w, http.StatusNotFound, "not found")
		return common.Hash{}, false
	}
	id, err := parseHash(rest)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return common.Hash{}, false
	}
	return id, true
}

// parseHash accepts a 0x-prefixed 32 byte hex id
func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid id %q: %v", s, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid id %q: want %d bytes, got %d", s, common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// writeLookupError maps a view error to a status code
func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrSolverNotFound),
		errors.Is(err, hub.ErrReceiptNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrInvalidValue):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func nonNil(ev []dispute.Evidence) []dispute.Evidence {
	if ev == nil {
		return []dispute.Evidence{}
	}
	return ev
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
