package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsync/syncengine/checkpoint"
	"github.com/chainsync/syncengine/decode"
	"github.com/chainsync/syncengine/historical"
	"github.com/chainsync/syncengine/interval"
)

// pageGenerator replays a fixed sequence of pages, then reports done.
type pageGenerator struct {
	pages []historical.Page
	next  int
}

func (g *pageGenerator) Next(ctx context.Context) (historical.Page, bool, error) {
	if g.next >= len(g.pages) {
		return historical.Page{}, false, nil
	}
	p := g.pages[g.next]
	g.next++
	return p, true, nil
}

func cp(n uint64) checkpoint.Checkpoint {
	return checkpoint.EncodeBlock(0, 1, n, 0)
}

func evs(chainID uint64, nums ...uint64) []decode.Event {
	out := make([]decode.Event, len(nums))
	for i, n := range nums {
		out[i] = decode.Event{ChainID: chainID, Checkpoint: cp(n)}
	}
	return out
}

func checkpointNums(events []decode.Event) []uint64 {
	out := make([]uint64, len(events))
	for i, e := range events {
		f, _ := checkpoint.Decode(e.Checkpoint)
		out[i] = f.BlockNumber
	}
	return out
}

// TestMergeProducesSpecifiedRounds reproduces the two-chain barrier scenario:
// chain 1 yields checkpoints {1,7,8,13} behind page barriers {10,20}, chain 2
// yields {2,5,8,11} behind barriers {6,20}. Expected rounds: {1,2,5},
// {7,8-chain2}, {8-chain1,11,13}.
func TestMergeProducesSpecifiedRounds(t *testing.T) {
	chain1 := &pageGenerator{pages: []historical.Page{
		{ChainID: 1, Events: evs(1, 1, 7), Checkpoint: cp(10), BlockRange: interval.Range{Lo: 1, Hi: 10}},
		{ChainID: 1, Events: evs(1, 8, 13), Checkpoint: cp(20), BlockRange: interval.Range{Lo: 11, Hi: 20}},
	}}
	chain2 := &pageGenerator{pages: []historical.Page{
		{ChainID: 2, Events: evs(2, 2, 5), Checkpoint: cp(6), BlockRange: interval.Range{Lo: 1, Hi: 6}},
		{ChainID: 2, Events: evs(2, 8, 11), Checkpoint: cp(20), BlockRange: interval.Range{Lo: 7, Hi: 20}},
	}}

	m := New(nil, map[uint64]Generator{1: chain1, 2: chain2})
	ctx := context.Background()

	round1, ok, err := m.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []uint64{1, 2, 5}, checkpointNums(round1.Events))

	round2, ok, err := m.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []uint64{7, 8}, checkpointNums(round2.Events))
	assert.Equal(t, uint64(2), round2.Events[1].ChainID, "checkpoint 8 in round 2 must come from chain 2")

	round3, ok, err := m.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []uint64{8, 11, 13}, checkpointNums(round3.Events))
	assert.Equal(t, uint64(1), round3.Events[0].ChainID, "checkpoint 8 in round 3 must come from chain 1")

	_, ok, err = m.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "both generators are exhausted, merger must terminate")
}

func TestMergeSingleChainPassesThroughInOrder(t *testing.T) {
	chain := &pageGenerator{pages: []historical.Page{
		{ChainID: 1, Events: evs(1, 1, 2, 3), Checkpoint: cp(5)},
	}}
	m := New(nil, map[uint64]Generator{1: chain})
	round, ok, err := m.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []uint64{1, 2, 3}, checkpointNums(round.Events))
	require.Len(t, round.Markers, 1)
	assert.Equal(t, uint64(1), round.Markers[0].ChainID)
}

func TestMergeEmptyChainSetTerminatesImmediately(t *testing.T) {
	m := New(nil, map[uint64]Generator{})
	_, ok, err := m.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
