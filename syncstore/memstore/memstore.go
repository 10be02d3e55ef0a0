// Package memstore is an in-memory syncstore.Store used by tests. It keeps
// the same cached-interval bookkeeping as pebblestore.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/chainsync/syncengine/chainrow"
	"github.com/chainsync/syncengine/fragment"
	"github.com/chainsync/syncengine/interval"
	"github.com/chainsync/syncengine/syncstore"
)

type Store struct {
	mu sync.RWMutex

	blocksByKey    map[syncstore.BlockKey]chainrow.Block
	blocksByNumber map[uint64]map[uint64]chainrow.Block // chainID -> number -> block
	transactions   map[uint64][]chainrow.Transaction
	receipts       map[uint64][]chainrow.TransactionReceipt
	logs           map[uint64][]chainrow.Log
	traces         map[uint64][]chainrow.Trace

	intervals map[uint64]map[fragment.Fragment]interval.Set
	factories map[fragment.Fragment][]syncstore.FactoryAddress

	rpcCache map[string][]byte
}

func New() *Store {
	return &Store{
		blocksByKey:    make(map[syncstore.BlockKey]chainrow.Block),
		blocksByNumber: make(map[uint64]map[uint64]chainrow.Block),
		transactions:   make(map[uint64][]chainrow.Transaction),
		receipts:       make(map[uint64][]chainrow.TransactionReceipt),
		logs:           make(map[uint64][]chainrow.Log),
		traces:         make(map[uint64][]chainrow.Trace),
		intervals:      make(map[uint64]map[fragment.Fragment]interval.Set),
		factories:      make(map[fragment.Fragment][]syncstore.FactoryAddress),
		rpcCache:       make(map[string][]byte),
	}
}

func (s *Store) PutBlock(_ context.Context, b chainrow.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocksByKey[syncstore.BlockKey{ChainID: b.ChainID, Hash: b.Hash}] = b
	if s.blocksByNumber[b.ChainID] == nil {
		s.blocksByNumber[b.ChainID] = make(map[uint64]chainrow.Block)
	}
	s.blocksByNumber[b.ChainID][b.Number] = b
	return nil
}

func (s *Store) GetBlock(_ context.Context, key syncstore.BlockKey) (chainrow.Block, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocksByKey[key]
	return b, ok, nil
}

func (s *Store) GetBlockByNumber(_ context.Context, chainID, number uint64) (chainrow.Block, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byNum, ok := s.blocksByNumber[chainID]
	if !ok {
		return chainrow.Block{}, false, nil
	}
	b, ok := byNum[number]
	return b, ok, nil
}

func (s *Store) PutTransactions(_ context.Context, txs []chainrow.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		s.transactions[tx.ChainID] = append(s.transactions[tx.ChainID], tx)
	}
	return nil
}

func (s *Store) PutReceipts(_ context.Context, receipts []chainrow.TransactionReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range receipts {
		s.receipts[r.ChainID] = append(s.receipts[r.ChainID], r)
	}
	return nil
}

func (s *Store) PutLogs(_ context.Context, logs []chainrow.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range logs {
		s.logs[l.ChainID] = append(s.logs[l.ChainID], l)
	}
	return nil
}

func (s *Store) PutTraces(_ context.Context, traces []chainrow.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range traces {
		s.traces[t.ChainID] = append(s.traces[t.ChainID], t)
	}
	return nil
}

func (s *Store) TransactionsInRange(_ context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chainrow.Transaction
	for _, tx := range s.transactions[chainID] {
		if tx.BlockNumber >= fromBlock && tx.BlockNumber <= toBlock {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].TransactionIndex < out[j].TransactionIndex
	})
	return out, nil
}

func (s *Store) ReceiptsInRange(_ context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.TransactionReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chainrow.TransactionReceipt
	for _, r := range s.receipts[chainID] {
		if r.BlockNumber >= fromBlock && r.BlockNumber <= toBlock {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].TransactionIndex < out[j].TransactionIndex
	})
	return out, nil
}

func (s *Store) LogsInRange(_ context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chainrow.Log
	for _, l := range s.logs[chainID] {
		if l.BlockNumber >= fromBlock && l.BlockNumber <= toBlock {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		if out[i].TransactionIndex != out[j].TransactionIndex {
			return out[i].TransactionIndex < out[j].TransactionIndex
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}

func (s *Store) TracesInRange(_ context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chainrow.Trace
	for _, t := range s.traces[chainID] {
		if t.BlockNumber >= fromBlock && t.BlockNumber <= toBlock {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		if out[i].TransactionIndex != out[j].TransactionIndex {
			return out[i].TransactionIndex < out[j].TransactionIndex
		}
		return out[i].TraceIndex < out[j].TraceIndex
	})
	return out, nil
}

func (s *Store) BlocksInRange(_ context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chainrow.Block
	for num, b := range s.blocksByNumber[chainID] {
		if num >= fromBlock && num <= toBlock {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) GetCachedInterval(_ context.Context, chainID uint64, frag fragment.Fragment) (interval.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byFrag, ok := s.intervals[chainID]
	if !ok {
		return interval.Set{}, nil
	}
	return append(interval.Set{}, byFrag[frag]...), nil
}

func (s *Store) ExtendCachedInterval(_ context.Context, chainID uint64, frag fragment.Fragment, add interval.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intervals[chainID] == nil {
		s.intervals[chainID] = make(map[fragment.Fragment]interval.Set)
	}
	s.intervals[chainID][frag] = interval.Union(s.intervals[chainID][frag], add)
	return nil
}

func (s *Store) ShrinkCachedInterval(_ context.Context, chainID uint64, frag fragment.Fragment, remove interval.Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byFrag, ok := s.intervals[chainID]
	if !ok {
		return nil
	}
	byFrag[frag] = interval.Difference(byFrag[frag], interval.Set{remove})
	return nil
}

func (s *Store) PutFactoryAddresses(_ context.Context, factoryFrag fragment.Fragment, addrs []syncstore.FactoryAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[factoryFrag] = append(s.factories[factoryFrag], addrs...)
	return nil
}

func (s *Store) FactoryAddresses(_ context.Context, factoryFrag fragment.Fragment, chainID uint64) ([]syncstore.FactoryAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []syncstore.FactoryAddress
	for _, a := range s.factories[factoryFrag] {
		if a.ChainID == chainID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) DeleteAfter(_ context.Context, chainID uint64, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := func(n uint64) bool { return n <= blockNumber }

	for num := range s.blocksByNumber[chainID] {
		if !keep(num) {
			delete(s.blocksByKey, syncstore.BlockKey{ChainID: chainID, Hash: s.blocksByNumber[chainID][num].Hash})
			delete(s.blocksByNumber[chainID], num)
		}
	}
	s.transactions[chainID] = filterTxs(s.transactions[chainID], keep)
	s.receipts[chainID] = filterReceipts(s.receipts[chainID], keep)
	s.logs[chainID] = filterLogs(s.logs[chainID], keep)
	s.traces[chainID] = filterTraces(s.traces[chainID], keep)

	for frag, set := range s.intervals[chainID] {
		s.intervals[chainID][frag] = interval.Difference(set, interval.Set{{Lo: blockNumber + 1, Hi: math.MaxUint64}})
	}
	for frag, addrs := range s.factories {
		var kept []syncstore.FactoryAddress
		for _, a := range addrs {
			if a.ChainID != chainID || keep(a.FirstBlock) {
				kept = append(kept, a)
			}
		}
		s.factories[frag] = kept
	}
	return nil
}

func filterTxs(in []chainrow.Transaction, keep func(uint64) bool) []chainrow.Transaction {
	var out []chainrow.Transaction
	for _, tx := range in {
		if keep(tx.BlockNumber) {
			out = append(out, tx)
		}
	}
	return out
}

func filterReceipts(in []chainrow.TransactionReceipt, keep func(uint64) bool) []chainrow.TransactionReceipt {
	var out []chainrow.TransactionReceipt
	for _, r := range in {
		if keep(r.BlockNumber) {
			out = append(out, r)
		}
	}
	return out
}

func filterLogs(in []chainrow.Log, keep func(uint64) bool) []chainrow.Log {
	var out []chainrow.Log
	for _, l := range in {
		if keep(l.BlockNumber) {
			out = append(out, l)
		}
	}
	return out
}

func filterTraces(in []chainrow.Trace, keep func(uint64) bool) []chainrow.Trace {
	var out []chainrow.Trace
	for _, t := range in {
		if keep(t.BlockNumber) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) GetRPCResult(_ context.Context, requestHash string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rpcCache[requestHash]
	return v, ok, nil
}

func (s *Store) PutRPCResult(_ context.Context, requestHash string, _ uint64, _ *uint64, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpcCache[requestHash] = result
	return nil
}

func (s *Store) Close() error { return nil }
