package multichain

import (
	"errors"
	"fmt"
	"time"

	"github.com/chainsync/syncengine/decode"
	"github.com/chainsync/syncengine/historical"
)

// ChainConfig configures one chain's sync pipeline.
type ChainConfig struct {
	// ID is a unique identifier for this pipeline (e.g. "ethereum-mainnet").
	ID string
	// Name is a human-readable label.
	Name string
	// RPCEndpoint is the JSON-RPC HTTP(S) endpoint.
	RPCEndpoint string
	// ChainID is the chain's numeric ID.
	ChainID uint64
	// Sources are the filter/decode pairs this chain watches.
	Sources []historical.Source
	// Resolver resolves ABI events/methods for the configured Sources. If
	// nil, an empty decode.StaticResolver is used, which decodes nothing.
	Resolver decode.ABIResolver
	// Enabled indicates whether this chain should be started.
	Enabled bool
	// PageLimit is handed to historical.Config.PageLimit, which the
	// historical driver's Next does not apply: a page covers the whole
	// window up to the finalized block.
	PageLimit uint64
	// FinalityBlockCount is how many blocks behind tip are considered final.
	FinalityBlockCount uint64
	// PollInterval is how often the realtime driver polls for a new tip.
	PollInterval time.Duration
	// RPCTimeout is validated and defaulted to 30s; no RPC call in the
	// chain pipeline applies it.
	RPCTimeout time.Duration
}

// ManagerConfig configures the set of chains a Manager runs.
type ManagerConfig struct {
	Enabled              bool
	Chains               []ChainConfig
	HealthCheckInterval  time.Duration
	MaxUnhealthyDuration time.Duration
	AutoRestart          bool
	AutoRestartDelay     time.Duration
}

func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		Enabled:              false,
		HealthCheckInterval:  30 * time.Second,
		MaxUnhealthyDuration: 5 * time.Minute,
		AutoRestart:          true,
		AutoRestartDelay:     30 * time.Second,
	}
}

func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		Enabled:            true,
		PageLimit:          2000,
		FinalityBlockCount: 64,
		PollInterval:       3 * time.Second,
		RPCTimeout:         30 * time.Second,
	}
}

func (c *ManagerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Chains) == 0 {
		return errors.New("multichain enabled but no chains configured")
	}
	seen := make(map[string]bool, len(c.Chains))
	for i := range c.Chains {
		if err := c.Chains[i].Validate(); err != nil {
			return fmt.Errorf("chain[%d] (%s): %w", i, c.Chains[i].ID, err)
		}
		if seen[c.Chains[i].ID] {
			return fmt.Errorf("duplicate chain ID: %s", c.Chains[i].ID)
		}
		seen[c.Chains[i].ID] = true
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.MaxUnhealthyDuration <= 0 {
		c.MaxUnhealthyDuration = 5 * time.Minute
	}
	if c.AutoRestartDelay <= 0 {
		c.AutoRestartDelay = 30 * time.Second
	}
	return nil
}

func (c *ChainConfig) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if c.RPCEndpoint == "" {
		return errors.New("rpc_endpoint is required")
	}
	if c.ChainID == 0 {
		return errors.New("chain_id is required")
	}
	if c.PageLimit == 0 {
		c.PageLimit = 2000
	}
	if c.FinalityBlockCount == 0 {
		c.FinalityBlockCount = 64
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = 30 * time.Second
	}
	return nil
}

func (c *ManagerConfig) GetEnabledChains() []ChainConfig {
	var enabled []ChainConfig
	for _, cc := range c.Chains {
		if cc.Enabled {
			enabled = append(enabled, cc)
		}
	}
	return enabled
}

func (c *ManagerConfig) GetChainByID(id string) *ChainConfig {
	for i := range c.Chains {
		if c.Chains[i].ID == id {
			return &c.Chains[i]
		}
	}
	return nil
}
