// Package multichain orchestrates one historical+realtime sync pipeline per
// chain and feeds their output into the omnichain merger, coordinating
// lifecycle and health across every configured chain.
package multichain

import (
	"time"
)

// ChainStatus is the operational state of one chain's pipeline.
type ChainStatus string

const (
	StatusRegistered ChainStatus = "registered"
	StatusStarting   ChainStatus = "starting"
	StatusSyncing    ChainStatus = "syncing"
	StatusActive     ChainStatus = "active"
	StatusStopping   ChainStatus = "stopping"
	StatusStopped    ChainStatus = "stopped"
	StatusError      ChainStatus = "error"
)

// HealthStatus reports one chain's current sync health.
type HealthStatus struct {
	ChainID       string        `json:"chainId"`
	Status        ChainStatus   `json:"status"`
	IsHealthy     bool          `json:"isHealthy"`
	LatestHeight  uint64        `json:"latestHeight"`
	FinalizedHeight uint64      `json:"finalizedHeight"`
	LastError     string        `json:"lastError,omitempty"`
	LastErrorTime *time.Time    `json:"lastErrorTime,omitempty"`
	RPCLatency    time.Duration `json:"rpcLatency"`
	Uptime        time.Duration `json:"uptime"`
	CheckedAt     time.Time     `json:"checkedAt"`
}

// ChainInfo is read-only metadata about a registered chain.
type ChainInfo struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	ChainID     uint64      `json:"chainId"`
	RPCEndpoint string      `json:"rpcEndpoint"`
	Status      ChainStatus `json:"status"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
}

// ChainCounters holds cheap atomic operational counters for a chain.
type ChainCounters struct {
	ChainID          string `json:"chainId"`
	BlocksSynced     uint64 `json:"blocksSynced"`
	EventsDecoded    uint64 `json:"eventsDecoded"`
	ReorgsDetected   uint64 `json:"reorgsDetected"`
	RPCErrors        uint64 `json:"rpcErrors"`
}
