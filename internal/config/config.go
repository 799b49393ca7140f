// Package config loads and validates the relayer configuration.
//
// Configuration comes from a JSON file, with a small set of environment
// overrides for the values operators rotate without touching the file
// (signer secret, log level, state store path, metrics address). Every
// validation failure
// here is fatal at boot.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment overrides.
const (
	EnvConfigPath   = "BRIDGE_RELAYER_CONFIG"
	EnvSignerSecret = "BRIDGE_SIGNER_SECRET"
	EnvLogLevel     = "BRIDGE_LOG_LEVEL"
	EnvStateStore   = "BRIDGE_STATE_STORE"
	EnvMetricsAddr  = "BRIDGE_METRICS_ADDR"
)

// Defaults per the relayer's operational contract.
const (
	DefaultConfirmations  = 12
	DefaultPollIntervalMs = 5_000
	DefaultMaxBlockRange  = 500
	DefaultSlippageBps    = 100
	MaxSlippageBps        = 1_000
	DefaultWorkerPool     = 4
	DefaultShutdownMs     = 60_000
	DefaultCallTimeoutMs  = 30_000
)

// ChainKind selects the gateway implementation for a chain.
type ChainKind string

const (
	ChainEVM     ChainKind = "evm"
	ChainStellar ChainKind = "stellar"
	ChainSolana  ChainKind = "solana"
)

// Chain describes one chain endpoint.
type Chain struct {
	Kind                  ChainKind `json:"kind"`
	Endpoint              string    `json:"endpoint"`
	BridgeAddress         string    `json:"bridgeAddress"`
	RequiredConfirmations uint64    `json:"requiredConfirmations"`
	PollIntervalMs        int       `json:"pollIntervalMs"`
	MaxBlockRange         uint64    `json:"maxBlockRange"`
}

// PollInterval returns the poll cadence as a duration.
func (c *Chain) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Direction wires a source chain's event kind to a destination chain.
type Direction struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Dest   string `json:"dest"`
	Kind   string `json:"kind"` // "Lock" or "Burn"
}

// Config is the full relayer configuration.
type Config struct {
	Chains     map[string]*Chain `json:"chains"`
	Directions []Direction       `json:"directions"`

	SignerSecret    string `json:"signerSecret"`
	SlippageBps     int64  `json:"slippageBps"`
	WorkerPoolSize  int    `json:"workerPoolSize"`
	StateStorePath  string `json:"stateStorePath"` // empty means in-memory
	ShutdownGraceMs int    `json:"shutdownGraceMs"`
	CallTimeoutMs   int    `json:"callTimeoutMs"`
	MetricsAddr     string `json:"metricsAddr"`
	LogLevel        string `json:"logLevel"`
}

// ShutdownGrace returns the drain window as a duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceMs) * time.Millisecond
}

// CallTimeout returns the per-call deadline as a duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

// Load reads, defaults, overrides, and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for _, chain := range c.Chains {
		if chain.RequiredConfirmations == 0 {
			chain.RequiredConfirmations = DefaultConfirmations
		}
		if chain.PollIntervalMs == 0 {
			chain.PollIntervalMs = DefaultPollIntervalMs
		}
		if chain.MaxBlockRange == 0 {
			chain.MaxBlockRange = DefaultMaxBlockRange
		}
		if chain.Kind == "" {
			chain.Kind = ChainEVM
		}
	}
	if c.SlippageBps == 0 {
		c.SlippageBps = DefaultSlippageBps
	}
	if c.WorkerPoolSize == 0 {
		c.WorkerPoolSize = DefaultWorkerPool
	}
	if c.ShutdownGraceMs == 0 {
		c.ShutdownGraceMs = DefaultShutdownMs
	}
	if c.CallTimeoutMs == 0 {
		c.CallTimeoutMs = DefaultCallTimeoutMs
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvSignerSecret); v != "" {
		c.SignerSecret = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvStateStore); v != "" {
		c.StateStorePath = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.MetricsAddr = v
	}
}

// Validate enforces the boot-time invariants.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("config: no chains defined")
	}
	if len(c.Directions) == 0 {
		return fmt.Errorf("config: no directions defined")
	}
	for id, chain := range c.Chains {
		if chain.Endpoint == "" {
			return fmt.Errorf("config: chain %s has no endpoint", id)
		}
		if chain.BridgeAddress == "" {
			return fmt.Errorf("config: chain %s has no bridge address", id)
		}
		switch chain.Kind {
		case ChainEVM, ChainStellar, ChainSolana:
		default:
			return fmt.Errorf("config: chain %s has unknown kind %q", id, chain.Kind)
		}
	}
	for _, dir := range c.Directions {
		if dir.Name == "" {
			return fmt.Errorf("config: direction with empty name")
		}
		src, ok := c.Chains[dir.Source]
		if !ok {
			return fmt.Errorf("config: direction %s references unknown source chain %q", dir.Name, dir.Source)
		}
		dest, ok := c.Chains[dir.Dest]
		if !ok {
			return fmt.Errorf("config: direction %s references unknown dest chain %q", dir.Name, dir.Dest)
		}
		if dest.Kind != ChainEVM {
			return fmt.Errorf("config: direction %s: %s destinations are not supported", dir.Name, dest.Kind)
		}
		switch dir.Kind {
		case "Lock", "Burn":
		default:
			return fmt.Errorf("config: direction %s has unknown event kind %q", dir.Name, dir.Kind)
		}
		if dir.Kind == "Burn" && src.Kind != ChainEVM {
			return fmt.Errorf("config: direction %s: burn events only exist on evm chains", dir.Name)
		}
	}
	if strings.TrimSpace(c.SignerSecret) == "" {
		return fmt.Errorf("config: signer secret not set (field signerSecret or %s)", EnvSignerSecret)
	}
	if c.SlippageBps < 0 || c.SlippageBps > MaxSlippageBps {
		return fmt.Errorf("config: slippageBps %d out of range [0, %d]", c.SlippageBps, MaxSlippageBps)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("config: workerPoolSize must be positive")
	}
	return nil
}
