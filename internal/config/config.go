package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moltbunker/solverbond/pkg/types"
	"gopkg.in/yaml.v3"
)

// Dispute modes select which module the hub escalates to.
const (
	DisputeModeArbitration = "arbitration"
	DisputeModeOptimistic  = "optimistic"
)

// Challenge window bounds enforced by the hub.
const (
	MinChallengeWindow = 15 * time.Minute
	MaxChallengeWindow = 24 * time.Hour
)

// Config represents the complete daemon configuration
type Config struct {
	Daemon   DaemonConfig     `yaml:"daemon"`
	Chain    ChainConfig      `yaml:"chain"`
	Policy   PolicyConfig     `yaml:"policy"`
	API      APIConfig        `yaml:"api"`
	Notifier NotifierConfig   `yaml:"notifier"`
	Genesis  []GenesisAccount `yaml:"genesis,omitempty"`
}

// DaemonConfig contains daemon settings
type DaemonConfig struct {
	DataDir     string `yaml:"data_dir"`
	KeystoreDir string `yaml:"keystore_dir"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // "json" or "text"
}

// ChainConfig names the ledger and its privileged accounts.
type ChainConfig struct {
	ChainID    int64  `yaml:"chain_id"`
	Owner      string `yaml:"owner"`      // Owner of every deployed contract
	Treasury   string `yaml:"treasury"`   // Treasury share recipient; empty sends it to the forfeited pool
	Arbitrator string `yaml:"arbitrator"` // Rules on escalated disputes
}

// PolicyConfig holds the admin-tunable policy. Amounts are decimal wei.
type PolicyConfig struct {
	// Registry
	MinimumBond        string        `yaml:"minimum_bond"`
	WithdrawalCooldown time.Duration `yaml:"withdrawal_cooldown"`
	MaxJailCount       uint8         `yaml:"max_jail_count"`

	// Hub
	ChallengeWindow           time.Duration `yaml:"challenge_window"` // 15m to 24h
	ChallengerBondMinimum     string        `yaml:"challenger_bond_minimum"`
	MaxBatchSize              int           `yaml:"max_batch_size"`
	SlashSplit                SlashSplit    `yaml:"slash_split"`
	ProofWindow               time.Duration `yaml:"proof_window"`
	EscalationWindow          time.Duration `yaml:"escalation_window"`
	DeterministicSlashPercent uint8         `yaml:"deterministic_slash_percent"`
	JailOnSlash               bool          `yaml:"jail_on_slash"`

	// Dispute modules
	DisputeMode              string        `yaml:"dispute_mode"` // arbitration or optimistic
	ArbitrationFee           string        `yaml:"arbitration_fee"`
	ArbitrationTimeout       time.Duration `yaml:"arbitration_timeout"`
	ArbitrationEvidence      time.Duration `yaml:"arbitration_evidence_window"`
	CounterBondWindow        time.Duration `yaml:"counter_bond_window"`
	CounterBondBps           uint16        `yaml:"counter_bond_bps"`
	OptimisticTimeout        time.Duration `yaml:"optimistic_arbitration_timeout"`
	OptimisticEvidence       time.Duration `yaml:"optimistic_evidence_window"`
	UncontestedSlashPct      uint8         `yaml:"uncontested_slash_percent"`
	ContestedTimeoutSlashPct uint8         `yaml:"contested_timeout_slash_percent"`
}

// SlashSplit is the slash distribution in basis points.
type SlashSplit struct {
	UserBps       uint16 `yaml:"user_bps"`
	ChallengerBps uint16 `yaml:"challenger_bps"`
	TreasuryBps   uint16 `yaml:"treasury_bps"`
}

// Split converts to the ledger type.
func (s SlashSplit) Split() types.SlashSplit {
	return types.SlashSplit{UserBps: s.UserBps, ChallengerBps: s.ChallengerBps, TreasuryBps: s.TreasuryBps}
}

// APIConfig contains read API server settings
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`

	// Rate limiting
	RateLimitRequests   int `yaml:"rate_limit_requests"`    // Max requests per window (default: 100)
	RateLimitWindowSecs int `yaml:"rate_limit_window_secs"` // Window duration in seconds (default: 60)

	// Timeouts
	ReadTimeoutSecs int `yaml:"read_timeout_secs"` // Header read timeout (default: 30)
	IdleTimeoutSecs int `yaml:"idle_timeout_secs"` // Idle connection timeout (default: 120)
}

// DefaultAPIConfig returns the default API configuration
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Enabled:             true,
		ListenAddr:          "127.0.0.1:8545",
		RateLimitRequests:   100,
		RateLimitWindowSecs: 60,
		ReadTimeoutSecs:     30,
		IdleTimeoutSecs:     120,
	}
}

// NotifierConfig controls outcome delivery to external adapters.
type NotifierConfig struct {
	BufferSize     int    `yaml:"buffer_size"`
	MaxRetries     int    `yaml:"max_retries"`
	WebhookURL     string `yaml:"webhook_url"` // Empty disables the webhook sink
	WebhookTimeout int    `yaml:"webhook_timeout_secs"`
}

// GenesisAccount funds an address when the daemon starts a fresh ledger.
type GenesisAccount struct {
	Address string `yaml:"address"`
	Balance string `yaml:"balance"` // decimal wei
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".solverbond")

	return &Config{
		Daemon: DaemonConfig{
			DataDir:     dataDir,
			KeystoreDir: filepath.Join(dataDir, "keystore"),
			LogLevel:    "info",
			LogFormat:   "text",
		},
		Chain: ChainConfig{
			ChainID: 31337,
		},
		Policy: DefaultPolicy(),
		API:    DefaultAPIConfig(),
		Notifier: NotifierConfig{
			BufferSize:     1024,
			MaxRetries:     3,
			WebhookTimeout: 10,
		},
	}
}

// DefaultPolicy returns the stock policy values.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		MinimumBond:               "100000000000000000", // 0.1
		WithdrawalCooldown:        7 * 24 * time.Hour,
		MaxJailCount:              3,
		ChallengeWindow:           time.Hour,
		ChallengerBondMinimum:     "10000000000000000", // 0.01
		MaxBatchSize:              50,
		SlashSplit:                SlashSplit{UserBps: 8000, ChallengerBps: 1500, TreasuryBps: 500},
		ProofWindow:               24 * time.Hour,
		EscalationWindow:          24 * time.Hour,
		DeterministicSlashPercent: 100,
		JailOnSlash:               true,
		DisputeMode:               DisputeModeArbitration,
		ArbitrationFee:            "10000000000000000", // 0.01
		ArbitrationTimeout:        7 * 24 * time.Hour,
		ArbitrationEvidence:       24 * time.Hour,
		CounterBondWindow:         24 * time.Hour,
		CounterBondBps:            10000,
		OptimisticTimeout:         7 * 24 * time.Hour,
		OptimisticEvidence:        48 * time.Hour,
		UncontestedSlashPct:       100,
		ContestedTimeoutSlashPct:  0,
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("invalid chain_id: %d", c.Chain.ChainID)
	}
	if err := validateEthAddress("owner", c.Chain.Owner); err != nil {
		return err
	}
	if err := validateEthAddress("arbitrator", c.Chain.Arbitrator); err != nil {
		return err
	}
	if c.Chain.Treasury != "" {
		if err := validateEthAddress("treasury", c.Chain.Treasury); err != nil {
			return err
		}
	}

	if err := c.Policy.Validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.Daemon.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.Daemon.LogLevel)
	}
	if c.Daemon.LogFormat != "json" && c.Daemon.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s", c.Daemon.LogFormat)
	}

	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api listen_addr is required when the API is enabled")
	}
	if c.API.RateLimitRequests < 1 || c.API.RateLimitWindowSecs < 1 {
		return fmt.Errorf("api rate limit must be positive")
	}

	if c.Notifier.BufferSize < 1 {
		return fmt.Errorf("notifier buffer_size must be at least 1")
	}
	if c.Notifier.MaxRetries < 0 {
		return fmt.Errorf("notifier max_retries must not be negative")
	}
	if c.Notifier.WebhookURL != "" &&
		!strings.HasPrefix(c.Notifier.WebhookURL, "http://") && !strings.HasPrefix(c.Notifier.WebhookURL, "https://") {
		return fmt.Errorf("notifier webhook_url must be http(s), got %q", c.Notifier.WebhookURL)
	}

	for i, acct := range c.Genesis {
		if err := validateEthAddress(fmt.Sprintf("genesis[%d].address", i), acct.Address); err != nil {
			return err
		}
		if _, err := ParseAmount(acct.Balance); err != nil {
			return fmt.Errorf("genesis[%d].balance: %w", i, err)
		}
	}
	return nil
}

// Validate checks the policy bounds.
func (p *PolicyConfig) Validate() error {
	amounts := map[string]string{
		"minimum_bond":            p.MinimumBond,
		"challenger_bond_minimum": p.ChallengerBondMinimum,
	}
	for name, v := range amounts {
		amount, err := ParseAmount(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if amount.Sign() == 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if _, err := ParseAmount(p.ArbitrationFee); err != nil {
		return fmt.Errorf("arbitration_fee: %w", err)
	}

	if p.ChallengeWindow < MinChallengeWindow || p.ChallengeWindow > MaxChallengeWindow {
		return fmt.Errorf("challenge_window must be between %s and %s, got %s",
			MinChallengeWindow, MaxChallengeWindow, p.ChallengeWindow)
	}
	if p.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size must be at least 1")
	}
	if p.MaxJailCount < 1 {
		return fmt.Errorf("max_jail_count must be at least 1")
	}
	if err := p.SlashSplit.Split().Validate(); err != nil {
		return fmt.Errorf("slash_split: %w", err)
	}
	if p.CounterBondBps == 0 {
		return fmt.Errorf("counter_bond_bps must be positive")
	}

	percents := map[string]uint8{
		"deterministic_slash_percent":     p.DeterministicSlashPercent,
		"uncontested_slash_percent":       p.UncontestedSlashPct,
		"contested_timeout_slash_percent": p.ContestedTimeoutSlashPct,
	}
	for name, v := range percents {
		if v > 100 {
			return fmt.Errorf("%s must be at most 100, got %d", name, v)
		}
	}

	windows := map[string]time.Duration{
		"withdrawal_cooldown":            p.WithdrawalCooldown,
		"proof_window":                   p.ProofWindow,
		"escalation_window":              p.EscalationWindow,
		"arbitration_timeout":            p.ArbitrationTimeout,
		"arbitration_evidence_window":    p.ArbitrationEvidence,
		"counter_bond_window":            p.CounterBondWindow,
		"optimistic_arbitration_timeout": p.OptimisticTimeout,
		"optimistic_evidence_window":     p.OptimisticEvidence,
	}
	for name, d := range windows {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if p.DisputeMode != DisputeModeArbitration && p.DisputeMode != DisputeModeOptimistic {
		return fmt.Errorf("invalid dispute_mode: %s", p.DisputeMode)
	}
	return nil
}

// ParseAmount parses a non-negative decimal wei amount.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative, got %s", v)
	}
	return v, nil
}

// MustAmount parses a field that Validate has already checked.
func MustAmount(s string) *big.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// validateEthAddress checks that an Ethereum address is 0x-prefixed, 40 hex chars, and non-zero.
func validateEthAddress(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", name)
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s contains invalid hex characters: %w", name, err)
	}
	if strings.Trim(hexPart, "0") == "" {
		return fmt.Errorf("%s must not be the zero address", name)
	}
	return nil
}

// expandPaths expands ~ in all path fields
func (c *Config) expandPaths() {
	c.Daemon.DataDir = expandPath(c.Daemon.DataDir)
	c.Daemon.KeystoreDir = expandPath(c.Daemon.KeystoreDir)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".solverbond", "config.yaml")
}

// EnsureDirectories creates all necessary directories
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Daemon.DataDir, c.Daemon.KeystoreDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
