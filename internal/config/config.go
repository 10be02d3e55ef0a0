package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chainsync/syncengine/internal/constants"
	"github.com/chainsync/syncengine/multichain"
)

// Config holds all configuration for the sync engine.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	MultiChain MultiChainConfig `yaml:"multichain"`
}

// DatabaseConfig holds the persistent store configuration.
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"readonly"`
	// CacheMB is the Pebble block cache size in MB.
	CacheMB int `yaml:"cache_mb,omitempty"`
	// MaxOpenFiles bounds Pebble's open file handles.
	MaxOpenFiles int `yaml:"max_open_files,omitempty"`
	// WriteBufferMB is the Pebble memtable size in MB.
	WriteBufferMB int `yaml:"write_buffer_mb,omitempty"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// MultiChainConfig holds the set of chains this engine runs.
type MultiChainConfig struct {
	// Enabled indicates whether any chain pipeline is active.
	Enabled bool `yaml:"enabled"`
	// Chains is the list of chain configurations.
	Chains []ChainConfig `yaml:"chains"`
	// HealthCheckInterval is how often to check chain health.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	// MaxUnhealthyDuration is how long a chain can be unhealthy before stopping.
	MaxUnhealthyDuration time.Duration `yaml:"max_unhealthy_duration"`
	// AutoRestart indicates whether to automatically restart failed chains.
	AutoRestart bool `yaml:"auto_restart"`
	// AutoRestartDelay is the delay before auto-restarting a failed chain.
	AutoRestartDelay time.Duration `yaml:"auto_restart_delay"`
}

// ChainConfig defines the YAML-expressible part of a single chain's pipeline.
// Sources and an ABIResolver are not expressible here: wiring a filter to a
// decode.Source and registering contract ABIs is the embedding
// application's job, not this config layer's. Build them in code and set
// them on the multichain.ChainConfig that ToMultichainConfig returns.
type ChainConfig struct {
	// ID is a unique identifier for this chain instance.
	ID string `yaml:"id"`
	// Name is a human-readable name for the chain.
	Name string `yaml:"name"`
	// RPCEndpoint is the HTTP(S) JSON-RPC endpoint URL.
	RPCEndpoint string `yaml:"rpc_endpoint"`
	// ChainID is the numeric chain ID.
	ChainID uint64 `yaml:"chain_id"`
	// Enabled indicates whether this chain should be active.
	Enabled bool `yaml:"enabled"`
	// PageLimit is handed to the historical driver's PageLimit, which its
	// Next does not apply: a page covers the whole window up to finalized.
	PageLimit uint64 `yaml:"page_limit,omitempty"`
	// FinalityBlockCount is how many blocks behind tip are considered final.
	FinalityBlockCount uint64 `yaml:"finality_block_count,omitempty"`
	// PollInterval is how often the realtime driver polls for a new tip.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	// RPCTimeout is handed to multichain.ChainConfig.RPCTimeout; no RPC
	// call in the chain pipeline applies it.
	RPCTimeout time.Duration `yaml:"rpc_timeout,omitempty"`
}

// ToManagerConfig builds a multichain.ManagerConfig from this configuration.
// The Sources and Resolver fields of each resulting ChainConfig are left
// zero; a caller that needs to decode events attaches them by ID before
// starting the manager.
func (c *MultiChainConfig) ToManagerConfig() *multichain.ManagerConfig {
	mc := &multichain.ManagerConfig{
		Enabled:              c.Enabled,
		HealthCheckInterval:  c.HealthCheckInterval,
		MaxUnhealthyDuration: c.MaxUnhealthyDuration,
		AutoRestart:          c.AutoRestart,
		AutoRestartDelay:     c.AutoRestartDelay,
	}
	for _, cc := range c.Chains {
		mc.Chains = append(mc.Chains, cc.ToMultichainConfig())
	}
	return mc
}

// ToMultichainConfig builds the multichain.ChainConfig subset this config
// section can express. Sources and Resolver are left zero; the caller fills
// them in before starting the chain.
func (c *ChainConfig) ToMultichainConfig() multichain.ChainConfig {
	return multichain.ChainConfig{
		ID:                 c.ID,
		Name:               c.Name,
		RPCEndpoint:        c.RPCEndpoint,
		ChainID:            c.ChainID,
		Enabled:            c.Enabled,
		PageLimit:          c.PageLimit,
		FinalityBlockCount: c.FinalityBlockCount,
		PollInterval:       c.PollInterval,
		RPCTimeout:         c.RPCTimeout,
	}
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration.
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "syncengine"
	}
	if c.Database.CacheMB == 0 {
		c.Database.CacheMB = constants.DefaultCacheSize
	}
	if c.Database.MaxOpenFiles == 0 {
		c.Database.MaxOpenFiles = constants.DefaultMaxOpenFiles
	}
	if c.Database.WriteBufferMB == 0 {
		c.Database.WriteBufferMB = constants.DefaultWriteBuffer
	}

	if c.MultiChain.HealthCheckInterval == 0 {
		c.MultiChain.HealthCheckInterval = constants.DefaultHealthCheckInterval
	}
	if c.MultiChain.MaxUnhealthyDuration == 0 {
		c.MultiChain.MaxUnhealthyDuration = constants.DefaultMaxUnhealthyDuration
	}
	if c.MultiChain.AutoRestartDelay == 0 {
		c.MultiChain.AutoRestartDelay = constants.DefaultAutoRestartDelay
	}
	for i := range c.MultiChain.Chains {
		cc := &c.MultiChain.Chains[i]
		if cc.PageLimit == 0 {
			cc.PageLimit = constants.DefaultPageLimit
		}
		if cc.FinalityBlockCount == 0 {
			cc.FinalityBlockCount = constants.DefaultFinalityBlockCount
		}
		if cc.PollInterval == 0 {
			cc.PollInterval = constants.DefaultPollInterval
		}
		if cc.RPCTimeout == 0 {
			cc.RPCTimeout = constants.DefaultRPCTimeout
		}
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over file configuration. Besides
// the process-wide settings, they can override one chain's RPC endpoint by
// chain ID (see parseChainEndpointOverrides); other per-chain settings come
// from the file only.
func (c *Config) LoadFromEnv() error {
	if path := os.Getenv("SYNCENGINE_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if readonly := os.Getenv("SYNCENGINE_DB_READONLY"); readonly != "" {
		val, err := strconv.ParseBool(readonly)
		if err != nil {
			return fmt.Errorf("invalid SYNCENGINE_DB_READONLY: %w", err)
		}
		c.Database.ReadOnly = val
	}

	if level := os.Getenv("SYNCENGINE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("SYNCENGINE_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	if enabled := os.Getenv("SYNCENGINE_METRICS_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid SYNCENGINE_METRICS_ENABLED: %w", err)
		}
		c.Metrics.Enabled = val
	}
	if ns := os.Getenv("SYNCENGINE_METRICS_NAMESPACE"); ns != "" {
		c.Metrics.Namespace = ns
	}

	if enabled := os.Getenv("SYNCENGINE_MULTICHAIN_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid SYNCENGINE_MULTICHAIN_ENABLED: %w", err)
		}
		c.MultiChain.Enabled = val
	}
	if interval := os.Getenv("SYNCENGINE_MULTICHAIN_HEALTH_CHECK_INTERVAL"); interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid SYNCENGINE_MULTICHAIN_HEALTH_CHECK_INTERVAL: %w", err)
		}
		c.MultiChain.HealthCheckInterval = duration
	}
	if autoRestart := os.Getenv("SYNCENGINE_MULTICHAIN_AUTO_RESTART"); autoRestart != "" {
		val, err := strconv.ParseBool(autoRestart)
		if err != nil {
			return fmt.Errorf("invalid SYNCENGINE_MULTICHAIN_AUTO_RESTART: %w", err)
		}
		c.MultiChain.AutoRestart = val
	}

	// A single chain's RPC endpoint can be overridden by ID, since rotating
	// a node URL without touching the rest of the file is the common case.
	for envKey, rpcEndpoint := range parseChainEndpointOverrides(os.Environ()) {
		for i := range c.MultiChain.Chains {
			if c.MultiChain.Chains[i].ID == envKey {
				c.MultiChain.Chains[i].RPCEndpoint = rpcEndpoint
			}
		}
	}

	return nil
}

// parseChainEndpointOverrides scans SYNCENGINE_CHAIN_<ID>_RPC_ENDPOINT
// variables and returns a map from chain ID to its overridden endpoint.
func parseChainEndpointOverrides(environ []string) map[string]string {
	const prefix = "SYNCENGINE_CHAIN_"
	const suffix = "_RPC_ENDPOINT"
	overrides := make(map[string]string)
	for _, kv := range environ {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix)
		overrides[strings.ToLower(id)] = val
	}
	return overrides
}

// LoadFromFile loads configuration from a YAML file.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	if c.MultiChain.Enabled && len(c.MultiChain.Chains) == 0 {
		return fmt.Errorf("multichain enabled but no chains configured")
	}
	seen := make(map[string]bool, len(c.MultiChain.Chains))
	for i, cc := range c.MultiChain.Chains {
		if cc.ID == "" {
			return fmt.Errorf("chain[%d]: id is required", i)
		}
		if seen[cc.ID] {
			return fmt.Errorf("chain[%d]: duplicate chain id %q", i, cc.ID)
		}
		seen[cc.ID] = true
		if cc.RPCEndpoint == "" {
			return fmt.Errorf("chain[%d] (%s): rpc_endpoint is required", i, cc.ID)
		}
		if cc.ChainID == 0 {
			return fmt.Errorf("chain[%d] (%s): chain_id is required", i, cc.ID)
		}
	}

	return nil
}

// Load is a convenience method that loads configuration in the following order:
// 1. Set defaults
// 2. Load from file (if provided)
// 3. Load from environment variables (override file)
// 4. Set defaults again for anything the file/env left unset
// 5. Validate
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
