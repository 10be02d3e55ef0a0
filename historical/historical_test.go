package historical

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsync/syncengine/chainrow"
	"github.com/chainsync/syncengine/decode"
	"github.com/chainsync/syncengine/filter"
	"github.com/chainsync/syncengine/rpcclient"
	"github.com/chainsync/syncengine/syncstore/memstore"
)

type fakeRPC struct {
	chainID   uint64
	blocks    map[uint64]chainrow.Block
	logs      []chainrow.Log
	getLogsN  int
	blockCall int
}

func (f *fakeRPC) ChainID(ctx context.Context) (uint64, error) { return f.chainID, nil }

func (f *fakeRPC) BlockByNumber(ctx context.Context, chainID, number uint64) (chainrow.Block, []chainrow.Transaction, error) {
	f.blockCall++
	return f.blocks[number], nil, nil
}

func (f *fakeRPC) GetLogs(ctx context.Context, chainID uint64, q rpcclient.LogsQuery) ([]chainrow.Log, error) {
	f.getLogsN++
	var out []chainrow.Log
	for _, l := range f.logs {
		if q.FromBlock != nil && l.BlockNumber < *q.FromBlock {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > *q.ToBlock {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeRPC) TracesByBlockNumber(ctx context.Context, chainID, number uint64) ([]chainrow.Trace, error) {
	return nil, nil
}

func (f *fakeRPC) TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (chainrow.TransactionReceipt, error) {
	return chainrow.TransactionReceipt{}, nil
}

type noopResolver struct{}

func (noopResolver) EventBySelector(sourceName string, topic0 common.Hash) (abi.Event, bool) {
	return abi.Event{}, false
}
func (noopResolver) FunctionBySelector(sourceName string, selector [4]byte) (abi.Method, bool) {
	return abi.Method{}, false
}

func alwaysFinal(n uint64) func() (chainrow.LightBlock, bool) {
	return func() (chainrow.LightBlock, bool) { return chainrow.LightBlock{Number: n}, true }
}

func TestHistoricalSyncLogFilterAcrossTwoBlocks(t *testing.T) {
	addr := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	topic := common.HexToHash("0x01")

	store := memstore.New()
	rpc := &fakeRPC{
		chainID: 1,
		blocks: map[uint64]chainrow.Block{
			1: {ChainID: 1, Number: 1, Hash: common.HexToHash("0xb1"), Timestamp: 100},
			2: {ChainID: 1, Number: 2, Hash: common.HexToHash("0xb2"), ParentHash: common.HexToHash("0xb1"), Timestamp: 110},
		},
		logs: []chainrow.Log{
			{ChainID: 1, BlockNumber: 1, BlockHash: common.HexToHash("0xb1"), TransactionHash: common.HexToHash("0xt1"), Address: addr, Topics: []common.Hash{topic}},
			{ChainID: 1, BlockNumber: 2, BlockHash: common.HexToHash("0xb2"), TransactionHash: common.HexToHash("0xt2"), Address: addr, Topics: []common.Hash{topic}},
		},
	}

	f := filter.LogFilter{
		Common:  filter.Common{ChainID: 1, FromBlock: 1, ToBlock: 2},
		Address: filter.AddressMatch{Address: &addr},
		Topic0:  filter.MatchAnyTopic(),
		Topic1:  filter.MatchAnyTopic(),
		Topic2:  filter.MatchAnyTopic(),
		Topic3:  filter.MatchAnyTopic(),
	}

	d := New(Config{
		ChainID:   1,
		Sources:   []Source{{Name: "erc20", Filter: f, Decode: decode.Source{Name: "erc20", Kind: decode.SourceContractLog}}},
		Store:     store,
		RPC:       rpc,
		Resolver:  noopResolver{},
		Finalized: alwaysFinal(2),
	})

	require.NoError(t, d.Start(context.Background()))

	page, ok, err := d.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, d.Done())
	_ = page

	blocks, err := store.BlocksInRange(context.Background(), 1, 1, 2)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
	logs, err := store.LogsInRange(context.Background(), 1, 1, 2)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestHistoricalSyncFullCacheRerunIssuesNoRPC(t *testing.T) {
	addr := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	store := memstore.New()
	rpc := &fakeRPC{
		chainID: 1,
		blocks: map[uint64]chainrow.Block{
			1: {ChainID: 1, Number: 1, Hash: common.HexToHash("0xb1"), Timestamp: 100},
		},
	}
	f := filter.LogFilter{
		Common:  filter.Common{ChainID: 1, FromBlock: 1, ToBlock: 1},
		Address: filter.AddressMatch{Address: &addr},
		Topic0:  filter.MatchAnyTopic(),
		Topic1:  filter.MatchAnyTopic(),
		Topic2:  filter.MatchAnyTopic(),
		Topic3:  filter.MatchAnyTopic(),
	}
	src := Source{Name: "erc20", Filter: f, Decode: decode.Source{Name: "erc20", Kind: decode.SourceContractLog}}

	d1 := New(Config{ChainID: 1, Sources: []Source{src}, Store: store, RPC: rpc, Resolver: noopResolver{}, Finalized: alwaysFinal(1)})
	require.NoError(t, d1.Start(context.Background()))
	_, _, err := d1.Next(context.Background())
	require.NoError(t, err)
	firstGetLogs := rpc.getLogsN
	firstBlockCalls := rpc.blockCall
	assert.Greater(t, firstGetLogs, 0)

	d2 := New(Config{ChainID: 1, Sources: []Source{src}, Store: store, RPC: rpc, Resolver: noopResolver{}, Finalized: alwaysFinal(1)})
	require.NoError(t, d2.Start(context.Background()))
	_, _, err = d2.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, d2.Done(), "cached interval already covers [1,1]; driver should have nothing left to do")
	assert.Equal(t, firstGetLogs, rpc.getLogsN, "fully cached re-run must issue zero eth_getLogs calls")
	assert.Equal(t, firstBlockCalls, rpc.blockCall, "fully cached re-run must issue zero block fetches")
}
