// Package metrics exposes Prometheus instrumentation for the sync engine's
// components: RPC traffic, per-chain sync progress, reorgs, and the
// omnichain merger's barrier lag.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter, gauge and histogram the sync engine records.
// One instance is shared across all chains; per-chain and per-source values
// carry a "chain_id" (and where relevant "source") label.
type Metrics struct {
	RPCRequestsTotal    *prometheus.CounterVec
	RPCRequestDuration  *prometheus.HistogramVec
	RPCRetriesTotal     *prometheus.CounterVec
	RPCCacheHitsTotal   *prometheus.CounterVec
	RPCCacheMissesTotal *prometheus.CounterVec

	HistoricalBlocksSynced  *prometheus.CounterVec
	HistoricalEventsDecoded *prometheus.CounterVec
	HistoricalCachedBlocks  *prometheus.GaugeVec

	RealtimeTipBlock       *prometheus.GaugeVec
	RealtimeFinalizedBlock *prometheus.GaugeVec
	RealtimeReorgsTotal    *prometheus.CounterVec
	RealtimeReorgDepth     *prometheus.HistogramVec
	RealtimeTickDuration   *prometheus.HistogramVec

	MergeRoundsTotal   prometheus.Counter
	MergeEventsTotal   *prometheus.CounterVec
	MergeBarrierLag    *prometheus.GaugeVec
}

// New creates and registers every metric under the given namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "syncengine"
	}

	return &Metrics{
		RPCRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of RPC requests issued, by method and outcome",
		}, []string{"chain_id", "method", "outcome"}),
		RPCRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "RPC request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain_id", "method"}),
		RPCRetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "retries_total",
			Help:      "Total number of RPC request retries after a failed attempt",
		}, []string{"chain_id", "method"}),
		RPCCacheHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "cache_hits_total",
			Help:      "Total number of RPC response cache hits",
		}, []string{"chain_id", "method"}),
		RPCCacheMissesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "cache_misses_total",
			Help:      "Total number of RPC response cache misses",
		}, []string{"chain_id", "method"}),

		HistoricalBlocksSynced: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "historical",
			Name:      "blocks_synced_total",
			Help:      "Total number of blocks fetched and persisted by the historical driver",
		}, []string{"chain_id"}),
		HistoricalEventsDecoded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "historical",
			Name:      "events_decoded_total",
			Help:      "Total number of events decoded during historical sync, by source",
		}, []string{"chain_id", "source"}),
		HistoricalCachedBlocks: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "historical",
			Name:      "cached_blocks",
			Help:      "Total number of blocks currently covered by the cached interval, per fragment",
		}, []string{"chain_id", "fragment"}),

		RealtimeTipBlock: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "tip_block_number",
			Help:      "Block number of the realtime driver's current local tip",
		}, []string{"chain_id"}),
		RealtimeFinalizedBlock: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "finalized_block_number",
			Help:      "Block number of the realtime driver's current finalized block",
		}, []string{"chain_id"}),
		RealtimeReorgsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reorgs_total",
			Help:      "Total number of reorganizations detected",
		}, []string{"chain_id"}),
		RealtimeReorgDepth: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reorg_depth_blocks",
			Help:      "Depth, in blocks, of resolved reorganizations",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}, []string{"chain_id"}),
		RealtimeTickDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one realtime driver poll tick",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain_id"}),

		MergeRoundsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "rounds_total",
			Help:      "Total number of omnichain merge rounds produced",
		}),
		MergeEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "events_total",
			Help:      "Total number of events emitted by the omnichain merger, by source chain",
		}, []string{"chain_id"}),
		MergeBarrierLag: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "barrier_lag_blocks",
			Help:      "Per-chain gap between its marker checkpoint's block number and the round barrier's",
		}, []string{"chain_id"}),
	}
}

// ObserveRPCRequest records one completed RPC call.
func (m *Metrics) ObserveRPCRequest(chainID, method, outcome string, d time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(chainID, method, outcome).Inc()
	m.RPCRequestDuration.WithLabelValues(chainID, method).Observe(d.Seconds())
}
