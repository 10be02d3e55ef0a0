// Package historical implements C7: per-chain historical sync, computing
// the block ranges a source still needs, fanning out RPC calls to fill
// them, persisting the results, and reading them back in checkpoint order
// through the event assembler.
package historical

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsync/syncengine/chainrow"
	"github.com/chainsync/syncengine/checkpoint"
	"github.com/chainsync/syncengine/decode"
	"github.com/chainsync/syncengine/filter"
	"github.com/chainsync/syncengine/fragment"
	"github.com/chainsync/syncengine/interval"
	"github.com/chainsync/syncengine/rpcclient"
	"github.com/chainsync/syncengine/syncstore"
)

// RPC is the subset of rpcclient.Client the driver depends on.
type RPC interface {
	ChainID(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, chainID, number uint64) (chainrow.Block, []chainrow.Transaction, error)
	GetLogs(ctx context.Context, chainID uint64, q rpcclient.LogsQuery) ([]chainrow.Log, error)
	TracesByBlockNumber(ctx context.Context, chainID, number uint64) ([]chainrow.Trace, error)
	TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (chainrow.TransactionReceipt, error)
}

// Source binds a user subscription to its decode identity.
type Source struct {
	Name   string
	Filter filter.Filter
	Decode decode.Source
}

// Config is everything a chain's historical driver needs to run.
type Config struct {
	ChainID uint64
	Sources []Source
	Store   syncstore.Store
	RPC     RPC
	Resolver decode.ABIResolver
	// PageLimit defaults to 500 when unset. Next does not apply it: each
	// Page covers the whole window up to the finalized block, however many
	// events that window holds.
	PageLimit int
	// Finalized reports the current finalized tip, as tracked by the
	// realtime driver (§4.8). The historical loop never advances past it.
	Finalized func() (chainrow.LightBlock, bool)
	Logger    *zap.Logger
}

// Driver runs one chain's historical catch-up.
type Driver struct {
	cfg      Config
	logger   *zap.Logger
	current  uint64
	end      uint64
	children map[fragment.Fragment]*syncstore.ChildAddressIndex
}

func New(cfg Config) *Driver {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 500
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg, logger: logger, children: make(map[fragment.Fragment]*syncstore.ChildAddressIndex)}
}

// Page is one batch of assembled, checkpoint-ordered events plus the
// upper-bound checkpoint consumers may treat as fully delivered.
type Page struct {
	ChainID    uint64
	Events     []decode.Event
	Checkpoint checkpoint.Checkpoint
	BlockRange interval.Range
}

// factoriesOf collects every Factory referenced by a filter's address
// fields, deduplicated by its fragment id.
func factoriesOf(chainID uint64, f filter.Filter) map[fragment.Fragment]filter.Factory {
	out := make(map[fragment.Fragment]filter.Factory)
	add := func(m filter.AddressMatch) {
		if m.Factory != nil {
			out[fragment.FactoryFragment(chainID, *m.Factory)] = *m.Factory
		}
	}
	switch v := f.(type) {
	case filter.LogFilter:
		add(v.Address)
	case filter.TransactionFilter:
		add(v.FromAddress)
		add(v.ToAddress)
	case filter.TraceFilter:
		add(v.FromAddress)
		add(v.ToAddress)
	case filter.TransferFilter:
		add(v.FromAddress)
		add(v.ToAddress)
	}
	return out
}

// Start performs the §4.5 startup sequence: load cached intervals and
// factory child addresses, determine the fetch window, and check chain id.
func (d *Driver) Start(ctx context.Context) error {
	var minFrom uint64 = ^uint64(0)
	var maxTo uint64
	unboundedTo := false

	for _, src := range d.cfg.Sources {
		base := src.Filter.Base()
		if base.FromBlock < minFrom {
			minFrom = base.FromBlock
		}
		if base.ToBlock == 0 {
			unboundedTo = true
		} else if base.ToBlock > maxTo {
			maxTo = base.ToBlock
		}
		for frag, fac := range factoriesOf(d.cfg.ChainID, src.Filter) {
			if fac.FromBlock < minFrom {
				minFrom = fac.FromBlock
			}
			addrs, err := d.cfg.Store.FactoryAddresses(ctx, frag, d.cfg.ChainID)
			if err != nil {
				return fmt.Errorf("historical: load factory addresses for %s: %w", frag, err)
			}
			d.children[frag] = syncstore.NewChildAddressIndex(addrs)
		}
	}
	if minFrom == ^uint64(0) {
		minFrom = 0
	}
	if minFrom > 0 {
		d.current = minFrom - 1
	} else {
		d.current = 0
	}

	if unboundedTo {
		d.end = ^uint64(0)
	} else {
		d.end = maxTo
	}

	remoteChainID, err := d.cfg.RPC.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("historical: fetch chain id: %w", err)
	}
	if remoteChainID != d.cfg.ChainID {
		d.logger.Warn("configured chain id disagrees with node",
			zap.Uint64("configured", d.cfg.ChainID), zap.Uint64("node", remoteChainID))
	}
	return nil
}

// Done reports whether the chain is beyond its explicit end and will
// produce no further output.
func (d *Driver) Done() bool {
	return d.current >= d.end
}

// Next advances the window by one step bounded by the current finalized
// block, persisting and reading back one Page. It returns (Page{}, false,
// nil) when there is nothing further to do this tick (caught up to
// finalized, or the chain has ended).
func (d *Driver) Next(ctx context.Context) (Page, bool, error) {
	if d.Done() {
		return Page{}, false, nil
	}
	finalized, ok := d.cfg.Finalized()
	if !ok {
		return Page{}, false, nil
	}
	target := min64(finalized.Number, d.end)
	if d.current >= target {
		return Page{}, false, nil
	}

	window := interval.Range{Lo: d.current + 1, Hi: target}
	if err := d.fillFactoryGaps(ctx, window); err != nil {
		return Page{}, false, err
	}

	for _, src := range d.cfg.Sources {
		gap, err := d.requiredInterval(ctx, src.Filter, window)
		if err != nil {
			return Page{}, false, err
		}
		if len(gap) == 0 {
			continue
		}
		if err := d.fillFilterGaps(ctx, src, gap); err != nil {
			return Page{}, false, err
		}
	}

	events, err := d.assembleWindow(ctx, window)
	if err != nil {
		return Page{}, false, err
	}
	d.current = window.Hi

	var cp checkpoint.Checkpoint
	if len(events) > 0 {
		cp = events[len(events)-1].Checkpoint
	} else {
		blk, found, err := d.cfg.Store.GetBlockByNumber(ctx, d.cfg.ChainID, window.Hi)
		if err != nil {
			return Page{}, false, err
		}
		if found {
			cp = checkpoint.EncodeBlock(blk.Timestamp, d.cfg.ChainID, blk.Number, 0)
		}
	}

	return Page{ChainID: d.cfg.ChainID, Events: events, Checkpoint: cp, BlockRange: window}, true, nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// requiredInterval computes the portion of window a filter still needs,
// per spec.md §4.5's getRequiredIntervals: cached coverage is the union,
// across every fragment the filter decomposes to, of that fragment's own
// interval plus every adjacent id's interval.
func (d *Driver) requiredInterval(ctx context.Context, f filter.Filter, window interval.Range) (interval.Set, error) {
	decompositions := fragment.Decompose(f)
	var covered interval.Set
	for _, dec := range decompositions {
		ids := append([]fragment.Fragment{dec.Fragment}, dec.AdjacentIds...)
		var perFragment []interval.Set
		for _, id := range ids {
			s, err := d.cfg.Store.GetCachedInterval(ctx, d.cfg.ChainID, id)
			if err != nil {
				return nil, fmt.Errorf("historical: cached interval for %s: %w", id, err)
			}
			perFragment = append(perFragment, s)
		}
		covered = interval.Union(covered, interval.Union(perFragment...))
	}
	return interval.Difference(interval.Set{window}, covered), nil
}

func (d *Driver) fillFactoryGaps(ctx context.Context, window interval.Range) error {
	for _, src := range d.cfg.Sources {
		for frag, fac := range factoriesOf(d.cfg.ChainID, src.Filter) {
			lo := maxU64(window.Lo, fac.FromBlock)
			hi := window.Hi
			if fac.ToBlock != 0 {
				hi = min64(hi, fac.ToBlock)
			}
			if lo > hi {
				continue
			}
			cached, err := d.cfg.Store.GetCachedInterval(ctx, d.cfg.ChainID, frag)
			if err != nil {
				return err
			}
			gaps := interval.Difference(interval.Set{{Lo: lo, Hi: hi}}, cached)
			for _, g := range gaps {
				fromB, toB := g.Lo, g.Hi
				logs, err := d.cfg.RPC.GetLogs(ctx, d.cfg.ChainID, rpcclient.LogsQuery{
					FromBlock: &fromB,
					ToBlock:   &toB,
					Addresses: []common.Address{fac.Address},
					Topics:    [][]common.Hash{{fac.EventSelector}},
				})
				if err != nil {
					return fmt.Errorf("historical: getLogs for factory %s: %w", frag, err)
				}
				var discovered []syncstore.FactoryAddress
				for _, l := range logs {
					addr, ok := childAddressFromLog(fac, l)
					if !ok {
						continue
					}
					discovered = append(discovered, syncstore.FactoryAddress{ChainID: d.cfg.ChainID, Address: addr, FirstBlock: l.BlockNumber})
				}
				if len(discovered) > 0 {
					if err := d.cfg.Store.PutFactoryAddresses(ctx, frag, discovered); err != nil {
						return fmt.Errorf("historical: persist factory addresses for %s: %w", frag, err)
					}
				}
				if err := d.cfg.Store.ExtendCachedInterval(ctx, d.cfg.ChainID, frag, interval.Set{g}); err != nil {
					return fmt.Errorf("historical: extend cached interval for %s: %w", frag, err)
				}
				idx, ok := d.children[frag]
				if !ok {
					idx = syncstore.NewChildAddressIndex(nil)
					d.children[frag] = idx
				}
				for _, fa := range discovered {
					idx.Insert(fa.Address, fa.FirstBlock)
				}
			}
		}
	}
	return nil
}

func childAddressFromLog(fac filter.Factory, l chainrow.Log) (common.Address, bool) {
	loc := fac.ChildAddressLocation
	if loc.Topic != 0 {
		topic, ok := l.Topic(loc.Topic)
		if !ok {
			return common.Address{}, false
		}
		return common.BytesToAddress(topic.Bytes()), true
	}
	off := loc.DataOffset
	if off+32 > len(l.Data) {
		return common.Address{}, false
	}
	return common.BytesToAddress(l.Data[off : off+32]), true
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// fillFilterGaps fans out the RPC calls a filter kind requires to cover
// gap, persists the rows, and records the newly-covered interval against
// the filter's exact fragment (the narrowest key — adjacents still read
// through the looser cached range next time).
func (d *Driver) fillFilterGaps(ctx context.Context, src Source, gap interval.Set) error {
	for _, g := range gap {
		switch f := src.Filter.(type) {
		case filter.LogFilter:
			if err := d.fillLogGap(ctx, f, g); err != nil {
				return err
			}
		case filter.BlockFilter, filter.TransactionFilter:
			if err := d.fillBlockRangeGap(ctx, g); err != nil {
				return err
			}
		case filter.TraceFilter, filter.TransferFilter:
			if err := d.fillBlockRangeGap(ctx, g); err != nil {
				return err
			}
			if err := d.fillTraceGap(ctx, g); err != nil {
				return err
			}
		}
		for _, dec := range fragment.Decompose(src.Filter) {
			if err := d.cfg.Store.ExtendCachedInterval(ctx, d.cfg.ChainID, dec.Fragment, interval.Set{g}); err != nil {
				return fmt.Errorf("historical: extend cached interval for %s: %w", dec.Fragment, err)
			}
		}
	}
	return nil
}

func (d *Driver) fillLogGap(ctx context.Context, f filter.LogFilter, g interval.Range) error {
	fromB, toB := g.Lo, g.Hi
	q := rpcclient.LogsQuery{FromBlock: &fromB, ToBlock: &toB}
	if f.Address.Address != nil {
		q.Addresses = []common.Address{*f.Address.Address}
	} else if len(f.Address.Set) > 0 {
		q.Addresses = f.Address.Set
	}
	logs, err := d.cfg.RPC.GetLogs(ctx, d.cfg.ChainID, q)
	if err != nil {
		return fmt.Errorf("historical: getLogs: %w", err)
	}
	if len(logs) == 0 {
		return nil
	}
	if err := d.cfg.Store.PutLogs(ctx, logs); err != nil {
		return fmt.Errorf("historical: put logs: %w", err)
	}
	fetched := make(map[uint64]bool)
	for _, l := range logs {
		if fetched[l.BlockNumber] {
			continue
		}
		fetched[l.BlockNumber] = true
		if err := d.fillBlockRangeGap(ctx, interval.Range{Lo: l.BlockNumber, Hi: l.BlockNumber}); err != nil {
			return err
		}
	}
	if filter.ShouldGetTransactionReceipt(f) {
		return d.fillReceiptsForLogs(ctx, logs)
	}
	return nil
}

func (d *Driver) fillReceiptsForLogs(ctx context.Context, logs []chainrow.Log) error {
	seen := make(map[common.Hash]bool)
	var receipts []chainrow.TransactionReceipt
	for _, l := range logs {
		if seen[l.TransactionHash] {
			continue
		}
		seen[l.TransactionHash] = true
		r, err := d.cfg.RPC.TransactionReceipt(ctx, d.cfg.ChainID, l.TransactionHash)
		if err != nil {
			return fmt.Errorf("historical: transaction receipt %s: %w", l.TransactionHash, err)
		}
		receipts = append(receipts, r)
	}
	if len(receipts) == 0 {
		return nil
	}
	return d.cfg.Store.PutReceipts(ctx, receipts)
}

func (d *Driver) fillBlockRangeGap(ctx context.Context, g interval.Range) error {
	for n := g.Lo; n <= g.Hi; n++ {
		_, found, err := d.cfg.Store.GetBlockByNumber(ctx, d.cfg.ChainID, n)
		if err != nil {
			return fmt.Errorf("historical: check existing block %d: %w", n, err)
		}
		if found {
			continue
		}
		blk, txs, err := d.cfg.RPC.BlockByNumber(ctx, d.cfg.ChainID, n)
		if err != nil {
			return fmt.Errorf("historical: block by number %d: %w", n, err)
		}
		if err := d.cfg.Store.PutBlock(ctx, blk); err != nil {
			return fmt.Errorf("historical: put block %d: %w", n, err)
		}
		if len(txs) > 0 {
			if err := d.cfg.Store.PutTransactions(ctx, txs); err != nil {
				return fmt.Errorf("historical: put transactions for block %d: %w", n, err)
			}
		}
	}
	return nil
}

func (d *Driver) fillTraceGap(ctx context.Context, g interval.Range) error {
	for n := g.Lo; n <= g.Hi; n++ {
		traces, err := d.cfg.RPC.TracesByBlockNumber(ctx, d.cfg.ChainID, n)
		if err != nil {
			return fmt.Errorf("historical: traces for block %d: %w", n, err)
		}
		if len(traces) == 0 {
			continue
		}
		if err := d.cfg.Store.PutTraces(ctx, traces); err != nil {
			return fmt.Errorf("historical: put traces for block %d: %w", n, err)
		}
	}
	return nil
}

// assembleWindow reads the window back in onchain execution order and
// runs every source's matcher + decoder over it, emitting in checkpoint
// order by construction (spec.md §4.5's event assembly).
func (d *Driver) assembleWindow(ctx context.Context, window interval.Range) ([]decode.Event, error) {
	blocks, err := d.cfg.Store.BlocksInRange(ctx, d.cfg.ChainID, window.Lo, window.Hi)
	if err != nil {
		return nil, fmt.Errorf("historical: blocks in range: %w", err)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Number < blocks[j].Number })

	txs, err := d.cfg.Store.TransactionsInRange(ctx, d.cfg.ChainID, window.Lo, window.Hi)
	if err != nil {
		return nil, err
	}
	receipts, err := d.cfg.Store.ReceiptsInRange(ctx, d.cfg.ChainID, window.Lo, window.Hi)
	if err != nil {
		return nil, err
	}
	logs, err := d.cfg.Store.LogsInRange(ctx, d.cfg.ChainID, window.Lo, window.Hi)
	if err != nil {
		return nil, err
	}
	traces, err := d.cfg.Store.TracesInRange(ctx, d.cfg.ChainID, window.Lo, window.Hi)
	if err != nil {
		return nil, err
	}

	receiptByTx := make(map[common.Hash]chainrow.TransactionReceipt, len(receipts))
	for _, r := range receipts {
		receiptByTx[r.TransactionHash] = r
	}
	txsByBlock := groupByBlock(txs, func(t chainrow.Transaction) uint64 { return t.BlockNumber })
	logsByTx := groupByTx(logs, func(l chainrow.Log) common.Hash { return l.TransactionHash })
	tracesByTx := groupByTx(traces, func(t chainrow.Trace) common.Hash { return t.TransactionHash })

	var out []decode.Event
	for _, blk := range blocks {
		light := blk.Light()
		blockTxs := txsByBlock[blk.Number]
		sort.Slice(blockTxs, func(i, j int) bool { return blockTxs[i].TransactionIndex < blockTxs[j].TransactionIndex })

		for _, tx := range blockTxs {
			receipt, hasReceipt := receiptByTx[tx.Hash]
			var receiptPtr *chainrow.TransactionReceipt
			if hasReceipt {
				receiptPtr = &receipt
			}
			for _, src := range d.cfg.Sources {
				d.emitForTransaction(src, tx, receiptPtr, light, &out)
			}

			txLogs := logsByTx[tx.Hash]
			sort.Slice(txLogs, func(i, j int) bool { return txLogs[i].LogIndex < txLogs[j].LogIndex })
			txTraces := tracesByTx[tx.Hash]
			sort.Slice(txTraces, func(i, j int) bool { return txTraces[i].TraceIndex < txTraces[j].TraceIndex })

			for _, l := range txLogs {
				d.emitForLog(d.cfg.Sources, l, light, &out)
			}
			for _, tr := range txTraces {
				d.emitForTraceAndTransfer(tr, light, &out)
			}
		}

		for _, src := range d.cfg.Sources {
			if bf, ok := src.Filter.(filter.BlockFilter); ok && filter.MatchBlock(bf, blk.Number) {
				cp := checkpoint.EncodeBlock(blk.Timestamp, d.cfg.ChainID, blk.Number, 0)
				out = append(out, decode.AssembleBlock(src.Decode, blk, cp))
			}
		}
	}
	return out, nil
}

// childrenFor resolves the factory child-address index for an address
// field, if any. Returning the typed nil interface (rather than a
// *ChildAddressIndex missing-key zero value boxed as non-nil) matters
// here: the matcher treats "no children known" as "never matches".
func (d *Driver) childrenFor(m filter.AddressMatch) filter.ChildAddresses {
	if m.Factory == nil {
		return nil
	}
	idx, ok := d.children[fragment.FactoryFragment(d.cfg.ChainID, *m.Factory)]
	if !ok {
		return nil
	}
	return idx
}

func (d *Driver) emitForTransaction(src Source, tx chainrow.Transaction, receipt *chainrow.TransactionReceipt, block chainrow.LightBlock, out *[]decode.Event) {
	f, ok := src.Filter.(filter.TransactionFilter)
	if !ok {
		return
	}
	var children filter.ChildAddresses
	if f.FromAddress.Factory != nil {
		children = d.childrenFor(f.FromAddress)
	} else {
		children = d.childrenFor(f.ToAddress)
	}
	if !filter.MatchTransaction(f, tx, receipt, children) {
		return
	}
	eventIdx := uint64(len(*out))
	cp := checkpoint.Encode(checkpoint.Fields{
		BlockTimestamp: block.Timestamp, ChainID: d.cfg.ChainID, BlockNumber: block.Number,
		TransactionIndex: tx.TransactionIndex, EventType: checkpoint.EventTypeTransaction, EventIndex: eventIdx,
	})
	*out = append(*out, decode.AssembleTransaction(src.Decode, tx, receipt, cp, block))
}

func (d *Driver) emitForLog(sources []Source, l chainrow.Log, block chainrow.LightBlock, out *[]decode.Event) {
	for _, src := range sources {
		f, ok := src.Filter.(filter.LogFilter)
		if !ok {
			continue
		}
		children := d.childrenFor(f.Address)
		if !filter.MatchLog(f, l, children) {
			continue
		}
		eventIdx := uint64(len(*out))
		cp := checkpoint.Encode(checkpoint.Fields{
			BlockTimestamp: block.Timestamp, ChainID: d.cfg.ChainID, BlockNumber: block.Number,
			TransactionIndex: l.TransactionIndex, EventType: checkpoint.EventTypeLog, EventIndex: eventIdx,
		})
		event, err := decode.DecodeLog(d.cfg.Resolver, src.Decode, l, cp, block)
		if err != nil {
			if f.Address.Address != nil || len(f.Address.Set) > 0 {
				d.logger.Warn("log decode failed for address-scoped filter", zap.String("source", src.Name), zap.Error(err))
			} else {
				d.logger.Debug("log decode failed", zap.String("source", src.Name), zap.Error(err))
			}
			continue
		}
		*out = append(*out, event)
	}
}

func (d *Driver) emitForTraceAndTransfer(tr chainrow.Trace, block chainrow.LightBlock, out *[]decode.Event) {
	for _, src := range d.cfg.Sources {
		switch f := src.Filter.(type) {
		case filter.TraceFilter:
			children := d.childrenFor(f.ToAddress)
			if !filter.MatchTrace(f, tr, children) {
				continue
			}
			eventIdx := uint64(len(*out))
			cp := checkpoint.Encode(checkpoint.Fields{
				BlockTimestamp: block.Timestamp, ChainID: d.cfg.ChainID, BlockNumber: block.Number,
				TransactionIndex: tr.TransactionIndex, EventType: checkpoint.EventTypeTrace, EventIndex: eventIdx,
			})
			event, err := decode.DecodeTrace(d.cfg.Resolver, src.Decode, tr, cp, block)
			if err != nil {
				d.logger.Debug("trace decode failed", zap.String("source", src.Name), zap.Error(err))
				continue
			}
			*out = append(*out, event)
		case filter.TransferFilter:
			children := d.childrenFor(f.ToAddress)
			if !filter.MatchTransfer(f, tr, children) {
				continue
			}
			eventIdx := uint64(len(*out))
			cp := checkpoint.Encode(checkpoint.Fields{
				BlockTimestamp: block.Timestamp, ChainID: d.cfg.ChainID, BlockNumber: block.Number,
				TransactionIndex: tr.TransactionIndex, EventType: checkpoint.EventTypeTrace, EventIndex: eventIdx,
			})
			*out = append(*out, decode.AssembleTransfer(src.Decode, tr, cp, block))
		}
	}
}

func groupByBlock[T any](rows []T, key func(T) uint64) map[uint64][]T {
	out := make(map[uint64][]T)
	for _, r := range rows {
		k := key(r)
		out[k] = append(out[k], r)
	}
	return out
}

func groupByTx[T any](rows []T, key func(T) common.Hash) map[common.Hash][]T {
	out := make(map[common.Hash][]T)
	for _, r := range rows {
		k := key(r)
		out[k] = append(out[k], r)
	}
	return out
}
