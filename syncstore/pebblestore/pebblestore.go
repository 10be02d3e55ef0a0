// Package pebblestore implements syncstore.Store on top of CockroachDB's
// Pebble, following the teacher's key-prefix-plus-zero-padded-decimal
// scheme so range scans over block-ordered data stay in byte order.
package pebblestore

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/chainsync/syncengine/chainrow"
	"github.com/chainsync/syncengine/fragment"
	"github.com/chainsync/syncengine/interval"
	"github.com/chainsync/syncengine/syncstore"
)

// Config mirrors the teacher's pebble-backed storage configuration.
type Config struct {
	Path         string
	CacheMB      int
	MaxOpenFiles int
	WriteBufferMB int
	ReadOnly     bool
}

type Store struct {
	db     *pebble.DB
	logger *zap.Logger
	closed atomic.Bool
}

func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &pebble.Options{
		MaxOpenFiles: cfg.MaxOpenFiles,
		ReadOnly:     cfg.ReadOnly,
	}
	if cfg.CacheMB > 0 {
		opts.Cache = pebble.NewCache(int64(cfg.CacheMB) << 20)
	}
	if cfg.WriteBufferMB > 0 {
		opts.MemTableSize = uint64(cfg.WriteBufferMB) << 20
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble store at %s: %w", cfg.Path, err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func mustNotClosed(s *Store) error {
	if s.closed.Load() {
		return fmt.Errorf("pebblestore: store is closed")
	}
	return nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

func (s *Store) PutBlock(_ context.Context, b chainrow.Block) error {
	if err := mustNotClosed(s); err != nil {
		return err
	}
	data, err := encode(b)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(blockByHashKey(b.ChainID, b.Hash), data, nil); err != nil {
		return err
	}
	if err := batch.Set(blockByNumberKey(b.ChainID, b.Number), data, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) GetBlock(_ context.Context, key syncstore.BlockKey) (chainrow.Block, bool, error) {
	if err := mustNotClosed(s); err != nil {
		return chainrow.Block{}, false, err
	}
	val, closer, err := s.db.Get(blockByHashKey(key.ChainID, key.Hash))
	if err == pebble.ErrNotFound {
		return chainrow.Block{}, false, nil
	}
	if err != nil {
		return chainrow.Block{}, false, fmt.Errorf("get block %s: %w", key.Hash, err)
	}
	defer closer.Close()
	var b chainrow.Block
	if err := decode(val, &b); err != nil {
		return chainrow.Block{}, false, err
	}
	return b, true, nil
}

func (s *Store) GetBlockByNumber(_ context.Context, chainID, number uint64) (chainrow.Block, bool, error) {
	if err := mustNotClosed(s); err != nil {
		return chainrow.Block{}, false, err
	}
	val, closer, err := s.db.Get(blockByNumberKey(chainID, number))
	if err == pebble.ErrNotFound {
		return chainrow.Block{}, false, nil
	}
	if err != nil {
		return chainrow.Block{}, false, fmt.Errorf("get block #%d: %w", number, err)
	}
	defer closer.Close()
	var b chainrow.Block
	if err := decode(val, &b); err != nil {
		return chainrow.Block{}, false, err
	}
	return b, true, nil
}

func (s *Store) PutTransactions(_ context.Context, txs []chainrow.Transaction) error {
	if err := mustNotClosed(s); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, tx := range txs {
		data, err := encode(tx)
		if err != nil {
			return err
		}
		if err := batch.Set(txKey(tx.ChainID, tx.BlockNumber, tx.TransactionIndex), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) PutReceipts(_ context.Context, receipts []chainrow.TransactionReceipt) error {
	if err := mustNotClosed(s); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, r := range receipts {
		data, err := encode(r)
		if err != nil {
			return err
		}
		if err := batch.Set(receiptKey(r.ChainID, r.BlockNumber, r.TransactionIndex), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) PutLogs(_ context.Context, logs []chainrow.Log) error {
	if err := mustNotClosed(s); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, l := range logs {
		data, err := encode(l)
		if err != nil {
			return err
		}
		if err := batch.Set(logKey(l.ChainID, l.BlockNumber, l.TransactionIndex, l.LogIndex), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) PutTraces(_ context.Context, traces []chainrow.Trace) error {
	if err := mustNotClosed(s); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, t := range traces {
		data, err := encode(t)
		if err != nil {
			return err
		}
		if err := batch.Set(traceKey(t.ChainID, t.BlockNumber, t.TransactionIndex, t.TraceIndex), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func scanRange[T any](db *pebble.DB, prefix []byte, inRange func(T) bool) ([]T, error) {
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close()

	var out []T
	for iter.First(); iter.Valid(); iter.Next() {
		var v T
		if err := decode(iter.Value(), &v); err != nil {
			return nil, err
		}
		if inRange(v) {
			out = append(out, v)
		}
	}
	return out, iter.Error()
}

func (s *Store) TransactionsInRange(_ context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.Transaction, error) {
	if err := mustNotClosed(s); err != nil {
		return nil, err
	}
	return scanRange[chainrow.Transaction](s.db, txRangePrefix(chainID), func(tx chainrow.Transaction) bool {
		return tx.BlockNumber >= fromBlock && tx.BlockNumber <= toBlock
	})
}

func (s *Store) ReceiptsInRange(_ context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.TransactionReceipt, error) {
	if err := mustNotClosed(s); err != nil {
		return nil, err
	}
	return scanRange[chainrow.TransactionReceipt](s.db, receiptRangePrefix(chainID), func(r chainrow.TransactionReceipt) bool {
		return r.BlockNumber >= fromBlock && r.BlockNumber <= toBlock
	})
}

func (s *Store) LogsInRange(_ context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.Log, error) {
	if err := mustNotClosed(s); err != nil {
		return nil, err
	}
	return scanRange[chainrow.Log](s.db, logRangePrefix(chainID), func(l chainrow.Log) bool {
		return l.BlockNumber >= fromBlock && l.BlockNumber <= toBlock
	})
}

func (s *Store) TracesInRange(_ context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.Trace, error) {
	if err := mustNotClosed(s); err != nil {
		return nil, err
	}
	return scanRange[chainrow.Trace](s.db, traceRangePrefix(chainID), func(t chainrow.Trace) bool {
		return t.BlockNumber >= fromBlock && t.BlockNumber <= toBlock
	})
}

func (s *Store) BlocksInRange(_ context.Context, chainID, fromBlock, toBlock uint64) ([]chainrow.Block, error) {
	if err := mustNotClosed(s); err != nil {
		return nil, err
	}
	return scanRange[chainrow.Block](s.db, blockByNumberPrefix(chainID), func(b chainrow.Block) bool {
		return b.Number >= fromBlock && b.Number <= toBlock
	})
}

func (s *Store) GetCachedInterval(_ context.Context, chainID uint64, frag fragment.Fragment) (interval.Set, error) {
	if err := mustNotClosed(s); err != nil {
		return nil, err
	}
	val, closer, err := s.db.Get(intervalKey(chainID, frag))
	if err == pebble.ErrNotFound {
		return interval.Set{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached interval %s: %w", frag, err)
	}
	defer closer.Close()
	var set interval.Set
	if err := decode(val, &set); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *Store) putInterval(chainID uint64, frag fragment.Fragment, set interval.Set) error {
	data, err := encode(set)
	if err != nil {
		return err
	}
	return s.db.Set(intervalKey(chainID, frag), data, pebble.Sync)
}

func (s *Store) ExtendCachedInterval(ctx context.Context, chainID uint64, frag fragment.Fragment, add interval.Set) error {
	if err := mustNotClosed(s); err != nil {
		return err
	}
	cur, err := s.GetCachedInterval(ctx, chainID, frag)
	if err != nil {
		return err
	}
	return s.putInterval(chainID, frag, interval.Union(cur, add))
}

func (s *Store) ShrinkCachedInterval(ctx context.Context, chainID uint64, frag fragment.Fragment, remove interval.Range) error {
	if err := mustNotClosed(s); err != nil {
		return err
	}
	cur, err := s.GetCachedInterval(ctx, chainID, frag)
	if err != nil {
		return err
	}
	return s.putInterval(chainID, frag, interval.Difference(cur, interval.Set{remove}))
}

func (s *Store) PutFactoryAddresses(_ context.Context, factoryFrag fragment.Fragment, addrs []syncstore.FactoryAddress) error {
	if err := mustNotClosed(s); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, a := range addrs {
		data, err := encode(a)
		if err != nil {
			return err
		}
		if err := batch.Set(factoryAddrKey(factoryFrag, a.ChainID, a.Address), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) FactoryAddresses(_ context.Context, factoryFrag fragment.Fragment, chainID uint64) ([]syncstore.FactoryAddress, error) {
	if err := mustNotClosed(s); err != nil {
		return nil, err
	}
	prefix := factoryAddrRangePrefix(factoryFrag, chainID)
	return scanRange[syncstore.FactoryAddress](s.db, prefix, func(syncstore.FactoryAddress) bool { return true })
}

func (s *Store) DeleteAfter(ctx context.Context, chainID uint64, blockNumber uint64) error {
	if err := mustNotClosed(s); err != nil {
		return err
	}
	blocks, err := s.BlocksInRange(ctx, chainID, blockNumber+1, ^uint64(0))
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, b := range blocks {
		if err := batch.Delete(blockByHashKey(chainID, b.Hash), nil); err != nil {
			return err
		}
		if err := batch.Delete(blockByNumberKey(chainID, b.Number), nil); err != nil {
			return err
		}
	}
	if err := deleteRangeAbove(batch, txRangePrefix(chainID), blockNumber+1); err != nil {
		return err
	}
	if err := deleteRangeAbove(batch, receiptRangePrefix(chainID), blockNumber+1); err != nil {
		return err
	}
	if err := deleteRangeAbove(batch, logRangePrefix(chainID), blockNumber+1); err != nil {
		return err
	}
	if err := deleteRangeAbove(batch, traceRangePrefix(chainID), blockNumber+1); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return err
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: []byte(prefixInterval + fmt.Sprintf("%020d/", chainID)), UpperBound: prefixUpperBound([]byte(prefixInterval + fmt.Sprintf("%020d/", chainID)))})
	if err != nil {
		return err
	}
	defer iter.Close()
	var frags []fragment.Fragment
	for iter.First(); iter.Valid(); iter.Next() {
		parts := bytes.SplitN(iter.Key()[len(prefixInterval):], []byte("/"), 2)
		if len(parts) == 2 {
			frags = append(frags, fragment.Fragment(parts[1]))
		}
	}
	for _, f := range frags {
		if err := s.ShrinkCachedInterval(ctx, chainID, f, interval.Range{Lo: blockNumber + 1, Hi: ^uint64(0)}); err != nil {
			return err
		}
	}
	return nil
}

// deleteRangeAbove deletes every row under chainPrefix whose block number
// component is >= fromBlock. Every row kind's key is
// <prefix><chainID>/<blockNumber>/..., so the zero-padded block number
// gives a clean lower bound for the range delete.
func deleteRangeAbove(batch *pebble.Batch, chainPrefix []byte, fromBlock uint64) error {
	lower := append(append([]byte{}, chainPrefix...), []byte(fmt.Sprintf("%020d/", fromBlock))...)
	return batch.DeleteRange(lower, prefixUpperBound(chainPrefix), nil)
}

func (s *Store) GetRPCResult(_ context.Context, requestHash string) ([]byte, bool, error) {
	if err := mustNotClosed(s); err != nil {
		return nil, false, err
	}
	val, closer, err := s.db.Get(rpcCacheKey(requestHash))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get rpc cache %s: %w", requestHash, err)
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

func (s *Store) PutRPCResult(_ context.Context, requestHash string, _ uint64, _ *uint64, result []byte) error {
	if err := mustNotClosed(s); err != nil {
		return err
	}
	return s.db.Set(rpcCacheKey(requestHash), result, pebble.Sync)
}
