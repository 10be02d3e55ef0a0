package memstore

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsync/syncengine/chainrow"
	"github.com/chainsync/syncengine/filter"
	"github.com/chainsync/syncengine/fragment"
	"github.com/chainsync/syncengine/interval"
)

func factoryForTest() filter.Factory {
	return filter.Factory{
		Address:              common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"),
		EventSelector:        common.HexToHash("0x3333333333333333333333333333333333333333333333333333333333333"),
		ChildAddressLocation: filter.ChildAddressLocation{Topic: 1},
	}
}

func TestPutAndRangeLogsOrderedWithinBlock(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.PutLogs(ctx, []chainrow.Log{
		{ChainID: 1, BlockNumber: 2, TransactionIndex: 1, LogIndex: 0},
		{ChainID: 1, BlockNumber: 2, TransactionIndex: 0, LogIndex: 0},
		{ChainID: 1, BlockNumber: 1, TransactionIndex: 0, LogIndex: 0},
	}))

	got, err := s.LogsInRange(ctx, 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(1), got[0].BlockNumber)
	assert.Equal(t, uint64(2), got[1].BlockNumber)
	assert.Equal(t, uint64(0), got[1].TransactionIndex)
	assert.Equal(t, uint64(1), got[2].TransactionIndex)
}

func TestCachedIntervalExtendAndFetch(t *testing.T) {
	ctx := context.Background()
	s := New()
	frag := fragment.Fragment("block_1_1_0")

	require.NoError(t, s.ExtendCachedInterval(ctx, 1, frag, interval.Set{{Lo: 0, Hi: 24}}))
	got, err := s.GetCachedInterval(ctx, 1, frag)
	require.NoError(t, err)
	assert.Equal(t, interval.Set{{Lo: 0, Hi: 24}}, got)

	require.NoError(t, s.ExtendCachedInterval(ctx, 1, frag, interval.Set{{Lo: 25, Hi: 26}}))
	got, err = s.GetCachedInterval(ctx, 1, frag)
	require.NoError(t, err)
	assert.Equal(t, interval.Set{{Lo: 0, Hi: 26}}, got)
}

func TestDeleteAfterRemovesTailAndShrinksIntervals(t *testing.T) {
	ctx := context.Background()
	s := New()
	frag := fragment.Fragment("block_1_1_0")

	require.NoError(t, s.PutBlock(ctx, chainrow.Block{ChainID: 1, Number: 9}))
	require.NoError(t, s.PutBlock(ctx, chainrow.Block{ChainID: 1, Number: 10}))
	require.NoError(t, s.ExtendCachedInterval(ctx, 1, frag, interval.Set{{Lo: 0, Hi: 10}}))

	require.NoError(t, s.DeleteAfter(ctx, 1, 9))

	_, ok, err := s.GetBlockByNumber(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.GetBlockByNumber(ctx, 1, 9)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetCachedInterval(ctx, 1, frag)
	require.NoError(t, err)
	assert.Equal(t, interval.Set{{Lo: 0, Hi: 9}}, got)
}

func TestFactoryAddressesEmptyPutReturnsNone(t *testing.T) {
	ctx := context.Background()
	s := New()
	frag := fragment.FactoryFragment(1, factoryForTest())

	require.NoError(t, s.PutFactoryAddresses(ctx, frag, nil))
	got, err := s.FactoryAddresses(ctx, frag, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}
