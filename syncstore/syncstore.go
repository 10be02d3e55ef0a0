// Package syncstore defines the persistence contract the historical and
// realtime drivers write raw chain rows and cached-interval bookkeeping
// through, independent of the backing engine (see pebblestore for the
// pebble-backed implementation and memstore for the in-memory test double).
package syncstore

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsync/syncengine/chainrow"
	"github.com/chainsync/syncengine/fragment"
	"github.com/chainsync/syncengine/interval"
)

// BlockKey identifies a block row by its primary key (chainId, hash).
type BlockKey struct {
	ChainID uint64
	Hash    common.Hash
}

// FactoryAddress is one child address discovered by a factory, along with
// the block at which it first became visible.
type FactoryAddress struct {
	ChainID     uint64
	Address     common.Address
	FirstBlock  uint64
}

// Store is the full persistence contract. Every write method is expected
// to be transactional at the granularity documented on the method; a
// failed write is retried by the caller at that same boundary (spec.md §7).
type Store interface {
	PutBlock(ctx context.Context, b chainrow.Block) error
	GetBlock(ctx context.Context, key BlockKey) (chainrow.Block, bool, error)
	GetBlockByNumber(ctx context.Context, chainID, number uint64) (chainrow.Block, bool, error)

	PutTransactions(ctx context.Context, txs []chainrow.Transaction) error
	PutReceipts(ctx context.Context, receipts []chainrow.TransactionReceipt) error
	PutLogs(ctx context.Context, logs []chainrow.Log) error
	PutTraces(ctx context.Context, traces []chainrow.Trace) error

	// The *InRange methods return the rows of one kind for chainID within
	// [fromBlock, toBlock], ordered by block number and, within a block, in
	// onchain execution order: by (transactionIndex, logIndex-or-traceIndex)
	// (spec.md §3).
	TransactionsInRange(ctx context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.Transaction, error)
	ReceiptsInRange(ctx context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.TransactionReceipt, error)
	LogsInRange(ctx context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.Log, error)
	TracesInRange(ctx context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.Trace, error)
	BlocksInRange(ctx context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.Block, error)

	// Interval bookkeeping, keyed by fragment id.
	GetCachedInterval(ctx context.Context, chainID uint64, frag fragment.Fragment) (interval.Set, error)
	ExtendCachedInterval(ctx context.Context, chainID uint64, frag fragment.Fragment, add interval.Set) error
	// ShrinkCachedInterval removes a tail of cached coverage, used when a
	// reorg invalidates previously-cached blocks above a safe checkpoint.
	ShrinkCachedInterval(ctx context.Context, chainID uint64, frag fragment.Fragment, remove interval.Range) error

	// Factory child addresses.
	PutFactoryAddresses(ctx context.Context, factoryFrag fragment.Fragment, addrs []FactoryAddress) error
	FactoryAddresses(ctx context.Context, factoryFrag fragment.Fragment, chainID uint64) ([]FactoryAddress, error)

	// DeleteAfter removes every persisted row and cached-interval tail
	// strictly above blockNumber for chainID — the reorg rollback primitive.
	DeleteAfter(ctx context.Context, chainID uint64, blockNumber uint64) error

	// RPC response cache, optional (nil result, false, nil error is a miss).
	GetRPCResult(ctx context.Context, requestHash string) ([]byte, bool, error)
	PutRPCResult(ctx context.Context, requestHash string, chainID uint64, blockNumber *uint64, result []byte) error

	Close() error
}

// ChildAddressIndex adapts a Store's factory-address table into the
// filter.ChildAddresses lookup the matcher needs, scoped to one factory
// fragment and chain.
type ChildAddressIndex struct {
	byAddress map[common.Address]uint64
}

func NewChildAddressIndex(addrs []FactoryAddress) *ChildAddressIndex {
	idx := &ChildAddressIndex{byAddress: make(map[common.Address]uint64, len(addrs))}
	for _, a := range addrs {
		if existing, ok := idx.byAddress[a.Address]; !ok || a.FirstBlock < existing {
			idx.byAddress[a.Address] = a.FirstBlock
		}
	}
	return idx
}

func (idx *ChildAddressIndex) FirstSeenBlock(addr common.Address) (uint64, bool) {
	b, ok := idx.byAddress[addr]
	return b, ok
}

func (idx *ChildAddressIndex) Insert(addr common.Address, block uint64) {
	if existing, ok := idx.byAddress[addr]; !ok || block < existing {
		idx.byAddress[addr] = block
	}
}
