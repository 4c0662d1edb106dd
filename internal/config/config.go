package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"mixrelay/internal/models"
)

// Config holds all configuration for the relayer
type Config struct {
	Server ServerConfig
	Ledger LedgerConfig
	Retry  RetryConfig
	Chains map[string]ChainConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// LedgerConfig holds the embedded ledger configuration
type LedgerConfig struct {
	Path string
}

// RetryConfig holds the backoff policy shared by all network operations
type RetryConfig struct {
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	MaxElapsedTime time.Duration
}

// ChainConfig holds configuration for one EVM chain
type ChainConfig struct {
	ChainID           string // decimal chain id, e.g. "5" for Goerli
	Name              string
	RPCEndpoint       string
	PrivateKey        string // relayer account key, hex encoded
	Beneficiary       string // address receiving relay fees
	ConfirmationDepth uint64 // blocks after inclusion before a tx is final
	StuckTimeout      time.Duration
	GasBumpPercent    int           // gas price bump for replacement txs
	MaxRelayTime      time.Duration // per-request wall clock ceiling
	Contracts         map[string]ContractProfile
}

// ContractProfile describes one contract the relayer serves on a chain.
// Profiles are produced externally (deployment metadata) and consumed
// read-only by the engine.
type ContractProfile struct {
	Kind             models.ContractKind `json:"kind"`
	Address          string              `json:"address"`
	DeployedAt       uint64              `json:"deployedAt"`
	WithdrawFee      float64             `json:"withdrawFeePercent"`
	Denomination     string              `json:"denomination"` // smallest units, decimal string
	WithdrawGasLimit uint64              `json:"withdrawGasLimit"`
	SignerBackend    string              `json:"signerBackend,omitempty"` // "local" (default) or "remote"
	RemoteSignerURL  string              `json:"remoteSignerUrl,omitempty"`
	LinkedAnchors    map[string]string   `json:"linkedAnchors,omitempty"` // chain id -> anchor address
}

// DenominationInt parses the profile denomination into a big integer
func (p *ContractProfile) DenominationInt() (*big.Int, error) {
	if p.Denomination == "" {
		return big.NewInt(0), nil
	}
	d, ok := new(big.Int).SetString(p.Denomination, 10)
	if !ok {
		return nil, fmt.Errorf("invalid denomination %q for contract %s", p.Denomination, p.Address)
	}
	return d, nil
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 9955),
		},
		Ledger: LedgerConfig{
			Path: getEnv("LEDGER_PATH", "relayer.db"),
		},
		Retry: RetryConfig{
			BaseDelay:      getEnvDuration("RETRY_BASE_DELAY", time.Second),
			Multiplier:     getEnvFloat("RETRY_MULTIPLIER", 2.0),
			MaxDelay:       getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
			MaxElapsedTime: getEnvDuration("RETRY_MAX_ELAPSED", 2*time.Minute),
		},
		Chains: make(map[string]ChainConfig),
	}

	if err := loadChainConfigs(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadChainConfigs loads every chain named in RELAY_CHAINS. Each chain reads
// its settings from envs prefixed with the upper-cased chain name, e.g.
// GOERLI_RPC_ENDPOINT, GOERLI_CHAIN_ID, GOERLI_PRIVATE_KEY,
// GOERLI_CONTRACTS (JSON array of contract profiles).
func loadChainConfigs(cfg *Config) error {
	names := splitAndTrim(getEnv("RELAY_CHAINS", ""), ",")
	if len(names) == 0 {
		return fmt.Errorf("RELAY_CHAINS is required")
	}

	for _, name := range names {
		prefix := strings.ToUpper(name) + "_"

		chainID := getEnv(prefix+"CHAIN_ID", "")
		if chainID == "" {
			return fmt.Errorf("%sCHAIN_ID is required", prefix)
		}

		chain := ChainConfig{
			ChainID:           chainID,
			Name:              name,
			RPCEndpoint:       getEnv(prefix+"RPC_ENDPOINT", ""),
			PrivateKey:        getEnv(prefix+"PRIVATE_KEY", ""),
			Beneficiary:       getEnv(prefix+"BENEFICIARY", ""),
			ConfirmationDepth: uint64(getEnvInt(prefix+"CONFIRMATION_DEPTH", 6)),
			StuckTimeout:      getEnvDuration(prefix+"STUCK_TIMEOUT", 5*time.Minute),
			GasBumpPercent:    getEnvInt(prefix+"GAS_BUMP_PERCENT", 13),
			MaxRelayTime:      getEnvDuration(prefix+"MAX_RELAY_TIME", 30*time.Minute),
			Contracts:         make(map[string]ContractProfile),
		}

		if raw := getEnv(prefix+"CONTRACTS", ""); raw != "" {
			var profiles []ContractProfile
			if err := json.Unmarshal([]byte(raw), &profiles); err != nil {
				return fmt.Errorf("failed to parse %sCONTRACTS: %w", prefix, err)
			}
			for _, p := range profiles {
				if p.Kind == "" {
					p.Kind = models.ContractKindAnchor
				}
				chain.Contracts[strings.ToLower(p.Address)] = p
			}
		}

		cfg.Chains[chainID] = chain
	}

	return nil
}

// Validate checks if the configuration is valid. Fee percentage and
// credential errors are fatal here so the process never serves a
// misconfigured chain.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required")
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	for chainID, chain := range c.Chains {
		if chain.RPCEndpoint == "" {
			return fmt.Errorf("chain %s: RPC endpoint is required", chainID)
		}
		if chain.PrivateKey == "" {
			return fmt.Errorf("chain %s: relayer private key is required", chainID)
		}
		if _, err := strconv.ParseUint(chain.ChainID, 10, 64); err != nil {
			return fmt.Errorf("chain %s: chain id must be a decimal integer", chainID)
		}

		for addr, profile := range chain.Contracts {
			if profile.WithdrawFee < 0 || profile.WithdrawFee >= 1 {
				return fmt.Errorf("chain %s contract %s: withdraw fee percent %v out of range [0, 1)",
					chainID, addr, profile.WithdrawFee)
			}
			if profile.SignerBackend == "remote" && profile.RemoteSignerURL == "" {
				return fmt.Errorf("chain %s contract %s: remote signer backend requires a URL",
					chainID, addr)
			}
			if _, err := profile.DenominationInt(); err != nil {
				return err
			}
		}
	}

	return nil
}

// Contract looks up a contract profile by chain id and address
func (c *Config) Contract(chainID, address string) (*ContractProfile, bool) {
	chain, ok := c.Chains[chainID]
	if !ok {
		return nil, false
	}
	profile, ok := chain.Contracts[strings.ToLower(address)]
	if !ok {
		return nil, false
	}
	return &profile, true
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// splitAndTrim splits a comma-separated string and trims whitespace
func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
