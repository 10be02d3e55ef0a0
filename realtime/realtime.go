// Package realtime implements C8: following a chain's tip, detecting
// reorganizations, and advancing finality, per spec.md §4.6.
package realtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainsync/syncengine/chainrow"
	"github.com/chainsync/syncengine/checkpoint"
	"github.com/chainsync/syncengine/decode"
	"github.com/chainsync/syncengine/filter"
	"github.com/chainsync/syncengine/fragment"
	"github.com/chainsync/syncengine/historical"
	"github.com/chainsync/syncengine/interval"
	"github.com/chainsync/syncengine/rpcclient"
	"github.com/chainsync/syncengine/rpcclient/rpcqueue"
	"github.com/chainsync/syncengine/syncstore"
)

// RPC is the subset of rpcclient.Client the driver depends on.
type RPC interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, chainID, number uint64) (chainrow.Block, []chainrow.Transaction, error)
	BlockByHash(ctx context.Context, chainID uint64, hash common.Hash) (chainrow.Block, []chainrow.Transaction, error)
	GetLogs(ctx context.Context, chainID uint64, q rpcclient.LogsQuery) ([]chainrow.Log, error)
	TracesByBlockNumber(ctx context.Context, chainID, number uint64) ([]chainrow.Trace, error)
	TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (chainrow.TransactionReceipt, error)
}

// EventKind tags a Notification's payload.
type EventKind int

const (
	EventIngest EventKind = iota
	EventReorg
	EventFatal
)

// Notification is what the driver emits per tick. Exactly one of Page,
// SafeCheckpoint, Err is meaningful, selected by Kind.
type Notification struct {
	Kind           EventKind
	Page           historical.Page
	SafeCheckpoint checkpoint.Checkpoint
	Err            error
}

// Config configures one chain's realtime follower.
type Config struct {
	ChainID             uint64
	Sources             []historical.Source
	Store               syncstore.Store
	RPC                 RPC
	Resolver            decode.ABIResolver
	FinalityBlockCount  uint64
	Logger              *zap.Logger
}

const maxTickAttempts = 6

// Driver holds one chain's unfinalized local view and drives it forward.
type Driver struct {
	cfg        Config
	logger     *zap.Logger
	localChain []chainrow.LightBlock
	finalized  chainrow.LightBlock
	seeded     bool
	children   map[fragment.Fragment]*syncstore.ChildAddressIndex
}

func New(cfg Config) *Driver {
	if cfg.FinalityBlockCount == 0 {
		cfg.FinalityBlockCount = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg, logger: logger, children: make(map[fragment.Fragment]*syncstore.ChildAddressIndex)}
}

// Seed primes the local chain and finalized block from a known starting
// point (typically where historical sync left off).
func (d *Driver) Seed(finalized chainrow.LightBlock) {
	d.finalized = finalized
	d.localChain = []chainrow.LightBlock{finalized}
	d.seeded = true
}

// Finalized satisfies historical.Config.Finalized's shape, letting the
// historical driver for the same chain read this driver's advancing tip
// directly.
func (d *Driver) Finalized() (chainrow.LightBlock, bool) {
	if !d.seeded {
		return chainrow.LightBlock{}, false
	}
	return d.finalized, true
}

func (d *Driver) tip() (chainrow.LightBlock, bool) {
	if len(d.localChain) == 0 {
		return chainrow.LightBlock{}, false
	}
	return d.localChain[len(d.localChain)-1], true
}

// Run polls at the given interval until ctx is cancelled or a tick fails
// unrecoverably, streaming notifications to out.
func (d *Driver) Run(ctx context.Context, pollInterval time.Duration, out chan<- Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := d.tickWithRetry(ctx, out); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (d *Driver) tickWithRetry(ctx context.Context, out chan<- Notification) error {
	var lastErr error
	for attempt := 0; attempt < maxTickAttempts; attempt++ {
		if err := d.tick(ctx, out); err == nil {
			return nil
		} else {
			lastErr = err
			d.logger.Warn("realtime tick failed, retrying",
				zap.Uint64("chainId", d.cfg.ChainID), zap.Int("attempt", attempt+1), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rpcqueue.BackoffFor(attempt)):
		}
	}
	err := fmt.Errorf("realtime: chain %d tick failed after %d attempts: %w", d.cfg.ChainID, maxTickAttempts, lastErr)
	out <- Notification{Kind: EventFatal, Err: err}
	return err
}

// tick implements the §4.6 polling-tick state machine.
func (d *Driver) tick(ctx context.Context, out chan<- Notification) error {
	latestNum, err := d.cfg.RPC.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("realtime: latest block number: %w", err)
	}
	latestBlk, _, err := d.cfg.RPC.BlockByNumber(ctx, d.cfg.ChainID, latestNum)
	if err != nil {
		return fmt.Errorf("realtime: fetch latest block: %w", err)
	}
	latest := latestBlk.Light()

	for {
		tip, hasTip := d.tip()
		if !hasTip {
			// Unseeded driver: bootstrap the local chain from the current
			// tip rather than requiring a separate warm-up call.
			d.finalized = latest
			d.seeded = true
			return d.ingestBlock(ctx, latest, out)
		}
		if latest.Hash == tip.Hash {
			return d.maybeAdvanceFinality(ctx, latest, out)
		}
		if latest.Number <= tip.Number {
			if err := d.reorg(ctx, latest, out); err != nil {
				return err
			}
			return d.maybeAdvanceFinality(ctx, latest, out)
		}
		if latest.Number > tip.Number+1 {
			next, _, err := d.cfg.RPC.BlockByNumber(ctx, d.cfg.ChainID, tip.Number+1)
			if err != nil {
				return fmt.Errorf("realtime: fetch intermediate block %d: %w", tip.Number+1, err)
			}
			if err := d.ingestOrReorg(ctx, next.Light(), out); err != nil {
				return err
			}
			continue
		}
		if err := d.ingestOrReorg(ctx, latest, out); err != nil {
			return err
		}
		return d.maybeAdvanceFinality(ctx, latest, out)
	}
}

func (d *Driver) ingestOrReorg(ctx context.Context, blk chainrow.LightBlock, out chan<- Notification) error {
	tip, hasTip := d.tip()
	if hasTip && blk.ParentHash != tip.Hash {
		return d.reorg(ctx, blk, out)
	}
	return d.ingestBlock(ctx, blk, out)
}

// reorg walks the local chain and the remote canonical chain backward in
// lockstep, by block number, until they reference the same hash — the
// common ancestor both chains share, per spec.md §4.6.
func (d *Driver) reorg(ctx context.Context, originalProbe chainrow.LightBlock, out chan<- Notification) error {
	remote := originalProbe
	for {
		if len(d.localChain) == 0 {
			err := fmt.Errorf("realtime: reorg crossed the finalized boundary for chain %d", d.cfg.ChainID)
			out <- Notification{Kind: EventFatal, Err: err}
			return err
		}
		local := d.localChain[len(d.localChain)-1]

		if local.Number > remote.Number {
			d.localChain = d.localChain[:len(d.localChain)-1]
			continue
		}
		if remote.Number > local.Number {
			parentBlk, _, err := d.cfg.RPC.BlockByHash(ctx, d.cfg.ChainID, remote.ParentHash)
			if err != nil {
				return fmt.Errorf("realtime: fetch block by hash during reorg walk-back: %w", err)
			}
			remote = parentBlk.Light()
			continue
		}
		if local.Hash == remote.Hash {
			break
		}
		d.localChain = d.localChain[:len(d.localChain)-1]
		parentBlk, _, err := d.cfg.RPC.BlockByHash(ctx, d.cfg.ChainID, remote.ParentHash)
		if err != nil {
			return fmt.Errorf("realtime: fetch block by hash during reorg walk-back: %w", err)
		}
		remote = parentBlk.Light()
	}

	ancestor := d.localChain[len(d.localChain)-1]
	if err := d.cfg.Store.DeleteAfter(ctx, d.cfg.ChainID, ancestor.Number); err != nil {
		return fmt.Errorf("realtime: delete after ancestor %d: %w", ancestor.Number, err)
	}
	out <- Notification{
		Kind:           EventReorg,
		SafeCheckpoint: checkpoint.EncodeBlock(ancestor.Timestamp, d.cfg.ChainID, ancestor.Number, 0),
	}
	return d.ingestOrReorg(ctx, originalProbe, out)
}

// maybeAdvanceFinality implements §4.6's finality advance: once the tip
// is far enough ahead, nominate a new finalized block, soft-reconcile its
// logs, record the newly finalized range as cached for every source's
// fragments, and evict now-finalized history from localChain.
func (d *Driver) maybeAdvanceFinality(ctx context.Context, latest chainrow.LightBlock, out chan<- Notification) error {
	fbc := d.cfg.FinalityBlockCount
	if latest.Number < d.finalized.Number+2*fbc {
		return nil
	}
	newFinalizedNum := latest.Number - fbc

	newFinalizedBlk, found := d.findInLocalChain(newFinalizedNum)
	if !found {
		blk, _, err := d.cfg.RPC.BlockByNumber(ctx, d.cfg.ChainID, newFinalizedNum)
		if err != nil {
			return fmt.Errorf("realtime: fetch new finalized block %d: %w", newFinalizedNum, err)
		}
		newFinalizedBlk = blk.Light()
	}

	if err := d.reconcileFinalizedLogs(ctx, d.finalized.Number+1, newFinalizedNum); err != nil {
		d.logger.Warn("finalized log reconciliation disagreed with stored logs",
			zap.Uint64("chainId", d.cfg.ChainID), zap.Error(err))
	}

	finalizedRange := interval.Set{{Lo: d.finalized.Number + 1, Hi: newFinalizedNum}}
	for _, src := range d.cfg.Sources {
		for _, dec := range fragment.Decompose(src.Filter) {
			if err := d.cfg.Store.ExtendCachedInterval(ctx, d.cfg.ChainID, dec.Fragment, finalizedRange); err != nil {
				return fmt.Errorf("realtime: extend cached interval for %s: %w", dec.Fragment, err)
			}
		}
	}

	kept := d.localChain[:0]
	for _, b := range d.localChain {
		if b.Number > newFinalizedNum {
			kept = append(kept, b)
		}
	}
	d.localChain = kept
	d.finalized = newFinalizedBlk
	return nil
}

func (d *Driver) findInLocalChain(number uint64) (chainrow.LightBlock, bool) {
	for _, b := range d.localChain {
		if b.Number == number {
			return b, true
		}
	}
	return chainrow.LightBlock{}, false
}

// reconcileFinalizedLogs re-fetches the raw log set for a just-finalized
// range and checks that every log any source's filter matches is present
// in the store. The store only ever persists matched logs (see
// matchAndAssembleLogs), so the remote side must be narrowed by the same
// filters before comparing. Comparing the unscoped remote count against
// the matched-only store count would flag a mismatch on every chain that
// emits logs no source cares about.
func (d *Driver) reconcileFinalizedLogs(ctx context.Context, from, to uint64) error {
	if from > to {
		return nil
	}
	stored, err := d.cfg.Store.LogsInRange(ctx, d.cfg.ChainID, from, to)
	if err != nil {
		return err
	}
	fromB, toB := from, to
	remote, err := d.cfg.RPC.GetLogs(ctx, d.cfg.ChainID, rpcclient.LogsQuery{FromBlock: &fromB, ToBlock: &toB})
	if err != nil {
		return err
	}
	storedSet := make(map[[2]any]bool, len(stored))
	for _, l := range stored {
		storedSet[[2]any{l.BlockHash, l.LogIndex}] = true
	}
	for _, l := range remote {
		if !d.logMatchesAnySource(l) {
			continue
		}
		if !storedSet[[2]any{l.BlockHash, l.LogIndex}] {
			return fmt.Errorf("remote log (block %s, index %d) not found in stored matched logs", l.BlockHash, l.LogIndex)
		}
	}
	return nil
}

// logMatchesAnySource reports whether l passes at least one configured
// LogFilter source, mirroring the match step matchAndAssembleLogs applies
// per ingested block.
func (d *Driver) logMatchesAnySource(l chainrow.Log) bool {
	for _, src := range d.cfg.Sources {
		lf, ok := src.Filter.(filter.LogFilter)
		if !ok {
			continue
		}
		if filter.MatchLog(lf, l, d.childrenFor(lf.Address)) {
			return true
		}
	}
	return false
}

// ingestBlock implements §4.6's Ingest step for one new block.
func (d *Driver) ingestBlock(ctx context.Context, light chainrow.LightBlock, out chan<- Notification) error {
	blk, txs, err := d.cfg.RPC.BlockByNumber(ctx, d.cfg.ChainID, light.Number)
	if err != nil {
		return fmt.Errorf("realtime: fetch block %d: %w", light.Number, err)
	}

	logs, err := d.fetchRelevantLogs(ctx, blk)
	if err != nil {
		return fmt.Errorf("realtime: fetch logs for block %d: %w", light.Number, err)
	}

	matchedLogs, events := d.matchAndAssembleLogs(blk, logs)
	d.discoverFactoryChildren(matchedLogs)

	var traces []chainrow.Trace
	if d.hasTraceOrTransferSources() {
		traces, err = d.cfg.RPC.TracesByBlockNumber(ctx, d.cfg.ChainID, light.Number)
		if err != nil {
			return fmt.Errorf("realtime: fetch traces for block %d: %w", light.Number, err)
		}
	}

	receiptByTx := make(map[common.Hash]chainrow.TransactionReceipt)
	if d.anySourceWantsReceipts() {
		for _, tx := range txs {
			r, err := d.cfg.RPC.TransactionReceipt(ctx, d.cfg.ChainID, tx.Hash)
			if err != nil {
				return fmt.Errorf("realtime: fetch receipt %s: %w", tx.Hash, err)
			}
			receiptByTx[tx.Hash] = r
		}
	}

	if err := d.cfg.Store.PutBlock(ctx, blk); err != nil {
		return fmt.Errorf("realtime: put block %d: %w", light.Number, err)
	}
	if len(txs) > 0 {
		if err := d.cfg.Store.PutTransactions(ctx, txs); err != nil {
			return err
		}
	}
	if len(matchedLogs) > 0 {
		if err := d.cfg.Store.PutLogs(ctx, matchedLogs); err != nil {
			return err
		}
	}
	if len(traces) > 0 {
		if err := d.cfg.Store.PutTraces(ctx, traces); err != nil {
			return err
		}
	}
	if len(receiptByTx) > 0 {
		receipts := make([]chainrow.TransactionReceipt, 0, len(receiptByTx))
		for _, r := range receiptByTx {
			receipts = append(receipts, r)
		}
		if err := d.cfg.Store.PutReceipts(ctx, receipts); err != nil {
			return err
		}
	}

	events = append(events, d.assembleTxAndTraceEvents(blk, txs, receiptByTx, traces)...)
	events = append(events, d.assembleBlockEvents(blk)...)
	sort.Slice(events, func(i, j int) bool { return checkpoint.Less(events[i].Checkpoint, events[j].Checkpoint) })

	d.localChain = append(d.localChain, light)

	out <- Notification{
		Kind: EventIngest,
		Page: historical.Page{
			ChainID:    d.cfg.ChainID,
			Events:     events,
			Checkpoint: checkpoint.EncodeBlock(blk.Timestamp, d.cfg.ChainID, blk.Number, 0),
			BlockRange: interval.Range{Lo: blk.Number, Hi: blk.Number},
		},
	}
	return nil
}

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

func (d *Driver) hasTraceOrTransferSources() bool {
	for _, src := range d.cfg.Sources {
		switch src.Filter.(type) {
		case filter.TraceFilter, filter.TransferFilter:
			return true
		}
	}
	return false
}

func (d *Driver) anySourceWantsReceipts() bool {
	for _, src := range d.cfg.Sources {
		if filter.ShouldGetTransactionReceipt(src.Filter) {
			return true
		}
	}
	return false
}

func (d *Driver) hasFactorySources() bool {
	for _, src := range d.cfg.Sources {
		if len(factoriesOf(d.cfg.ChainID, src.Filter)) > 0 {
			return true
		}
	}
	return false
}

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

func (d *Driver) discoverFactoryChildren(logs []chainrow.Log) {
	for _, src := range d.cfg.Sources {
		for frag, fac := range factoriesOf(d.cfg.ChainID, src.Filter) {
			idx, ok := d.children[frag]
			if !ok {
				idx = syncstore.NewChildAddressIndex(nil)
				d.children[frag] = idx
			}
			for _, l := range logs {
				if l.Address != fac.Address || (len(l.Topics) == 0 || l.Topics[0] != fac.EventSelector) {
					continue
				}
				addr, ok := childAddressFromLog(fac, l)
				if !ok {
					continue
				}
				idx.Insert(addr, l.BlockNumber)
			}
		}
	}
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

// fetchRelevantLogs implements §4.6's optional bloom pre-filter: if no
// factory sources exist and the block's protocol logsBloom is all zeros or
// cannot contain any address a log filter declares, the eth_getLogs round
// trip is skipped entirely. Only addresses are tested against the bloom;
// topics are not.
func (d *Driver) fetchRelevantLogs(ctx context.Context, blk chainrow.Block) ([]chainrow.Log, error) {
	if d.canSkipLogsFetch(blk) {
		return nil, nil
	}
	return d.cfg.RPC.GetLogs(ctx, d.cfg.ChainID, rpcclient.LogsQuery{BlockHash: &blk.Hash})
}

func (d *Driver) canSkipLogsFetch(blk chainrow.Block) bool {
	if d.hasFactorySources() {
		return false
	}
	if isZeroBloom(blk.LogsBloom) {
		return true
	}
	return !d.bloomMightMatch(blk.LogsBloom)
}

func isZeroBloom(b types.Bloom) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func (d *Driver) bloomMightMatch(bloom types.Bloom) bool {
	for _, src := range d.cfg.Sources {
		lf, ok := src.Filter.(filter.LogFilter)
		if !ok {
			continue
		}
		if lf.Address.Any || lf.Address.Factory != nil {
			return true // unconstrained or factory-discovered addresses can't be bloom-tested up front
		}
		if lf.Address.Address != nil && !types.BloomLookup(bloom, *lf.Address.Address) {
			continue
		}
		if len(lf.Address.Set) > 0 {
			anyPresent := false
			for _, a := range lf.Address.Set {
				if types.BloomLookup(bloom, a) {
					anyPresent = true
					break
				}
			}
			if !anyPresent {
				continue
			}
		}
		return true
	}
	return false
}

func (d *Driver) matchAndAssembleLogs(blk chainrow.Block, logs []chainrow.Log) ([]chainrow.Log, []decode.Event) {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].TransactionIndex != logs[j].TransactionIndex {
			return logs[i].TransactionIndex < logs[j].TransactionIndex
		}
		return logs[i].LogIndex < logs[j].LogIndex
	})

	light := blk.Light()
	seen := make(map[[2]any]bool)
	var matched []chainrow.Log
	var events []decode.Event
	for _, l := range logs {
		for _, src := range d.cfg.Sources {
			lf, ok := src.Filter.(filter.LogFilter)
			if !ok {
				continue
			}
			if !filter.MatchLog(lf, l, d.childrenFor(lf.Address)) {
				continue
			}
			key := [2]any{l.BlockHash, l.LogIndex}
			if !seen[key] {
				seen[key] = true
				matched = append(matched, l)
			}
			cp := checkpoint.Encode(checkpoint.Fields{
				BlockTimestamp: blk.Timestamp, ChainID: d.cfg.ChainID, BlockNumber: blk.Number,
				TransactionIndex: l.TransactionIndex, EventType: checkpoint.EventTypeLog, EventIndex: uint64(len(events)),
			})
			event, err := decode.DecodeLog(d.cfg.Resolver, src.Decode, l, cp, light)
			if err != nil {
				if lf.Address.Address != nil || len(lf.Address.Set) > 0 {
					d.logger.Warn("log decode failed for address-scoped filter", zap.String("source", src.Name), zap.Error(err))
				} else {
					d.logger.Debug("log decode failed", zap.String("source", src.Name), zap.Error(err))
				}
				continue
			}
			events = append(events, event)
		}
	}
	return matched, events
}

func (d *Driver) assembleTxAndTraceEvents(blk chainrow.Block, txs []chainrow.Transaction, receipts map[common.Hash]chainrow.TransactionReceipt, traces []chainrow.Trace) []decode.Event {
	light := blk.Light()
	var events []decode.Event

	sort.Slice(txs, func(i, j int) bool { return txs[i].TransactionIndex < txs[j].TransactionIndex })
	for _, tx := range txs {
		var receiptPtr *chainrow.TransactionReceipt
		if r, ok := receipts[tx.Hash]; ok {
			receiptPtr = &r
		}
		for _, src := range d.cfg.Sources {
			f, ok := src.Filter.(filter.TransactionFilter)
			if !ok {
				continue
			}
			var children filter.ChildAddresses
			if f.FromAddress.Factory != nil {
				children = d.childrenFor(f.FromAddress)
			} else {
				children = d.childrenFor(f.ToAddress)
			}
			if !filter.MatchTransaction(f, tx, receiptPtr, children) {
				continue
			}
			cp := checkpoint.Encode(checkpoint.Fields{
				BlockTimestamp: blk.Timestamp, ChainID: d.cfg.ChainID, BlockNumber: blk.Number,
				TransactionIndex: tx.TransactionIndex, EventType: checkpoint.EventTypeTransaction, EventIndex: uint64(len(events)),
			})
			events = append(events, decode.AssembleTransaction(src.Decode, tx, receiptPtr, cp, light))
		}
	}

	sort.Slice(traces, func(i, j int) bool {
		if traces[i].TransactionIndex != traces[j].TransactionIndex {
			return traces[i].TransactionIndex < traces[j].TransactionIndex
		}
		return traces[i].TraceIndex < traces[j].TraceIndex
	})
	for _, tr := range traces {
		for _, src := range d.cfg.Sources {
			switch f := src.Filter.(type) {
			case filter.TraceFilter:
				if !filter.MatchTrace(f, tr, d.childrenFor(f.ToAddress)) {
					continue
				}
				cp := checkpoint.Encode(checkpoint.Fields{
					BlockTimestamp: blk.Timestamp, ChainID: d.cfg.ChainID, BlockNumber: blk.Number,
					TransactionIndex: tr.TransactionIndex, EventType: checkpoint.EventTypeTrace, EventIndex: uint64(len(events)),
				})
				event, err := decode.DecodeTrace(d.cfg.Resolver, src.Decode, tr, cp, light)
				if err != nil {
					d.logger.Debug("trace decode failed", zap.String("source", src.Name), zap.Error(err))
					continue
				}
				events = append(events, event)
			case filter.TransferFilter:
				if !filter.MatchTransfer(f, tr, d.childrenFor(f.ToAddress)) {
					continue
				}
				cp := checkpoint.Encode(checkpoint.Fields{
					BlockTimestamp: blk.Timestamp, ChainID: d.cfg.ChainID, BlockNumber: blk.Number,
					TransactionIndex: tr.TransactionIndex, EventType: checkpoint.EventTypeTrace, EventIndex: uint64(len(events)),
				})
				events = append(events, decode.AssembleTransfer(src.Decode, tr, cp, light))
			}
		}
	}
	return events
}

func (d *Driver) assembleBlockEvents(blk chainrow.Block) []decode.Event {
	var events []decode.Event
	for _, src := range d.cfg.Sources {
		if bf, ok := src.Filter.(filter.BlockFilter); ok && filter.MatchBlock(bf, blk.Number) {
			cp := checkpoint.EncodeBlock(blk.Timestamp, d.cfg.ChainID, blk.Number, 0)
			events = append(events, decode.AssembleBlock(src.Decode, blk, cp))
		}
	}
	return events
}
