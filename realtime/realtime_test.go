package realtime

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsync/syncengine/chainrow"
	"github.com/chainsync/syncengine/checkpoint"
	"github.com/chainsync/syncengine/rpcclient"
	"github.com/chainsync/syncengine/syncstore/memstore"
)

type fakeChainRPC struct {
	byNum  map[uint64]chainrow.Block
	byHash map[common.Hash]chainrow.Block
	latest uint64
}

func (f *fakeChainRPC) LatestBlockNumber(ctx context.Context) (uint64, error) { return f.latest, nil }

func (f *fakeChainRPC) BlockByNumber(ctx context.Context, chainID, number uint64) (chainrow.Block, []chainrow.Transaction, error) {
	return f.byNum[number], nil, nil
}

func (f *fakeChainRPC) BlockByHash(ctx context.Context, chainID uint64, hash common.Hash) (chainrow.Block, []chainrow.Transaction, error) {
	return f.byHash[hash], nil, nil
}

func (f *fakeChainRPC) GetLogs(ctx context.Context, chainID uint64, q rpcclient.LogsQuery) ([]chainrow.Log, error) {
	return nil, nil
}

func (f *fakeChainRPC) TracesByBlockNumber(ctx context.Context, chainID, number uint64) ([]chainrow.Trace, error) {
	return nil, nil
}

func (f *fakeChainRPC) TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (chainrow.TransactionReceipt, error) {
	return chainrow.TransactionReceipt{}, nil
}

type noopResolver struct{}

func (noopResolver) EventBySelector(sourceName string, topic0 common.Hash) (abi.Event, bool) {
	return abi.Event{}, false
}
func (noopResolver) FunctionBySelector(sourceName string, selector [4]byte) (abi.Method, bool) {
	return abi.Method{}, false
}

func mkBlock(number uint64, hash, parent common.Hash) chainrow.Block {
	return chainrow.Block{ChainID: 1, Number: number, Hash: hash, ParentHash: parent, Timestamp: 1000 + number}
}

func TestIngestAppendsToLocalChainInOrder(t *testing.T) {
	h0 := common.HexToHash("0xb0")
	h1 := common.HexToHash("0xb1")
	store := memstore.New()
	rpc := &fakeChainRPC{
		byNum: map[uint64]chainrow.Block{
			0: mkBlock(0, h0, common.Hash{}),
			1: mkBlock(1, h1, h0),
		},
		latest: 1,
	}
	d := New(Config{ChainID: 1, Store: store, RPC: rpc, Resolver: noopResolver{}})
	d.Seed(chainrow.LightBlock{Number: 0, Hash: h0})

	out := make(chan Notification, 4)
	require.NoError(t, d.tick(context.Background(), out))

	tip, ok := d.tip()
	require.True(t, ok)
	assert.Equal(t, uint64(1), tip.Number)
	assert.Equal(t, h1, tip.Hash)

	select {
	case n := <-out:
		assert.Equal(t, EventIngest, n.Kind)
		assert.Equal(t, uint64(1), n.Page.BlockRange.Lo)
	default:
		t.Fatal("expected an ingest notification")
	}
}

func TestReorgDepthOneFindsCommonAncestor(t *testing.T) {
	h0 := common.HexToHash("0xb0")
	h1old := common.HexToHash("0xb1old")
	h1new := common.HexToHash("0xb1new")

	store := memstore.New()
	rpc := &fakeChainRPC{
		byNum: map[uint64]chainrow.Block{
			1: mkBlock(1, h1new, h0),
		},
		byHash: map[common.Hash]chainrow.Block{
			h0: mkBlock(0, h0, common.Hash{}),
		},
		latest: 1,
	}
	d := New(Config{ChainID: 1, Store: store, RPC: rpc, Resolver: noopResolver{}})
	d.Seed(chainrow.LightBlock{Number: 0, Hash: h0})
	d.localChain = append(d.localChain, chainrow.LightBlock{Number: 1, Hash: h1old, ParentHash: h0})

	out := make(chan Notification, 8)
	require.NoError(t, d.tick(context.Background(), out))

	var sawReorg, sawIngest bool
	var safeCp checkpoint.Checkpoint
	for i := 0; i < 2; i++ {
		select {
		case n := <-out:
			switch n.Kind {
			case EventReorg:
				sawReorg = true
				safeCp = n.SafeCheckpoint
			case EventIngest:
				sawIngest = true
			}
		default:
		}
	}
	assert.True(t, sawReorg, "expected a reorg notification")
	assert.True(t, sawIngest, "expected the probe to be re-ingested after the reorg resolved")
	assert.NotEmpty(t, safeCp)

	tip, ok := d.tip()
	require.True(t, ok)
	assert.Equal(t, h1new, tip.Hash)
}

func TestReorgCrossingFinalizedBoundaryIsFatal(t *testing.T) {
	h0 := common.HexToHash("0xb0")
	hRogue := common.HexToHash("0xrogue")

	store := memstore.New()
	rpc := &fakeChainRPC{
		byNum: map[uint64]chainrow.Block{
			0: mkBlock(0, hRogue, common.Hash{}),
		},
		latest: 0,
	}
	d := New(Config{ChainID: 1, Store: store, RPC: rpc, Resolver: noopResolver{}})
	d.Seed(chainrow.LightBlock{Number: 0, Hash: h0})

	out := make(chan Notification, 4)
	err := d.tick(context.Background(), out)
	require.Error(t, err)

	select {
	case n := <-out:
		assert.Equal(t, EventFatal, n.Kind)
	default:
		t.Fatal("expected a fatal notification")
	}
}
