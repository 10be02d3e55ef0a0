// Package merge implements C9: interleaving multiple per-chain event
// generators into one totally ordered stream with bounded memory, per
// spec.md §4.8.
package merge

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/chainsync/syncengine/checkpoint"
	"github.com/chainsync/syncengine/decode"
	"github.com/chainsync/syncengine/historical"
	"github.com/chainsync/syncengine/internal/metrics"
)

// Generator is anything that yields successive checkpoint-ordered pages for
// one chain. historical.Driver already satisfies this; realtime notifications
// are adapted onto it via NotificationGenerator.
type Generator interface {
	Next(ctx context.Context) (historical.Page, bool, error)
}

// ChainMarker is the per-chain progress watermark attached to every round.
type ChainMarker struct {
	ChainID    uint64
	Checkpoint checkpoint.Checkpoint
}

// Round is one output record: a checkpoint-ordered batch of events drawn
// from one or more chains, plus a marker per chain still in play.
type Round struct {
	Events  []decode.Event
	Markers []ChainMarker
}

type chainState struct {
	chainID    uint64
	gen        Generator
	pending    []decode.Event
	checkpoint checkpoint.Checkpoint
	done       bool
}

// Merger interleaves N per-chain generators under the barrier algorithm
// described in §4.8: never emit an event before every other chain has
// proven (via its own checkpoint) that nothing earlier remains to arrive.
type Merger struct {
	chains  []*chainState
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// SetMetrics attaches a metrics sink. Optional; a merger with none attached
// simply skips instrumentation.
func (m *Merger) SetMetrics(mx *metrics.Metrics) {
	m.metrics = mx
}

// New constructs a merger over one generator per chain. The map key is the
// chain ID the generator produces events for.
func New(logger *zap.Logger, gens map[uint64]Generator) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	chains := make([]*chainState, 0, len(gens))
	for chainID, g := range gens {
		chains = append(chains, &chainState{chainID: chainID, gen: g})
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].chainID < chains[j].chainID })
	return &Merger{chains: chains, logger: logger}
}

// Next produces the next round, or (Round{}, false, nil) once every chain's
// generator is exhausted and every pending buffer has drained.
func (m *Merger) Next(ctx context.Context) (Round, bool, error) {
	if err := m.fillPending(ctx); err != nil {
		return Round{}, false, err
	}

	alive := m.aliveChains()
	if len(alive) == 0 {
		return Round{}, false, nil
	}

	barrier := checkpoint.MaxCheckpoint
	for _, c := range alive {
		bound := c.checkpoint
		if c.done {
			bound = checkpoint.MaxCheckpoint
		}
		if checkpoint.Less(bound, barrier) {
			barrier = bound
		}
	}

	var events []decode.Event
	markers := make([]ChainMarker, 0, len(alive))
	for _, c := range alive {
		kept := c.pending[:0]
		var delivered []decode.Event
		maxDelivered := barrier
		sawDelivery := false
		for _, ev := range c.pending {
			if checkpoint.Less(ev.Checkpoint, barrier) || ev.Checkpoint == barrier {
				delivered = append(delivered, ev)
				if !sawDelivery || checkpoint.Less(maxDelivered, ev.Checkpoint) {
					maxDelivered = ev.Checkpoint
				}
				sawDelivery = true
				continue
			}
			kept = append(kept, ev)
		}
		c.pending = kept
		events = append(events, delivered...)

		marker := barrier
		if sawDelivery && checkpoint.Less(maxDelivered, barrier) {
			marker = maxDelivered
		}
		markers = append(markers, ChainMarker{ChainID: c.chainID, Checkpoint: marker})

		if len(c.pending) == 0 && !c.done {
			if err := m.advance(ctx, c); err != nil {
				return Round{}, false, err
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return checkpoint.Less(events[i].Checkpoint, events[j].Checkpoint) })

	m.recordMetrics(events, markers, barrier)

	return Round{Events: events, Markers: markers}, true, nil
}

func (m *Merger) recordMetrics(events []decode.Event, markers []ChainMarker, barrier checkpoint.Checkpoint) {
	if m.metrics == nil {
		return
	}
	m.metrics.MergeRoundsTotal.Inc()

	counts := make(map[uint64]int, len(markers))
	for _, ev := range events {
		counts[ev.ChainID]++
	}
	barrierFields, err := checkpoint.Decode(barrier)
	if err != nil {
		return
	}
	for _, marker := range markers {
		chainID := fmt.Sprintf("%d", marker.ChainID)
		m.metrics.MergeEventsTotal.WithLabelValues(chainID).Add(float64(counts[marker.ChainID]))

		if fields, err := checkpoint.Decode(marker.Checkpoint); err == nil && barrierFields.BlockNumber >= fields.BlockNumber {
			m.metrics.MergeBarrierLag.WithLabelValues(chainID).Set(float64(barrierFields.BlockNumber - fields.BlockNumber))
		}
	}
}

// fillPending ensures every non-done chain with an empty buffer has pulled
// at least one page before the barrier for this round is computed.
func (m *Merger) fillPending(ctx context.Context) error {
	for _, c := range m.chains {
		if c.done || len(c.pending) > 0 {
			continue
		}
		if err := m.advance(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Merger) advance(ctx context.Context, c *chainState) error {
	page, ok, err := c.gen.Next(ctx)
	if err != nil {
		return fmt.Errorf("merge: chain %d generator: %w", c.chainID, err)
	}
	if !ok {
		c.done = true
		m.logger.Debug("chain generator exhausted", zap.Uint64("chainId", c.chainID))
		return nil
	}
	c.pending = append(c.pending, page.Events...)
	c.checkpoint = page.Checkpoint
	return nil
}

func (m *Merger) aliveChains() []*chainState {
	alive := make([]*chainState, 0, len(m.chains))
	for _, c := range m.chains {
		if !c.done || len(c.pending) > 0 {
			alive = append(alive, c)
		}
	}
	return alive
}
