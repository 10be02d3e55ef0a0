package multichain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsync/syncengine/chainrow"
	"github.com/chainsync/syncengine/internal/metrics"
	"github.com/chainsync/syncengine/rpcclient"
	"github.com/chainsync/syncengine/rpcclient/rpcqueue"
)

// queuedRPC routes every call through a chain's rpcqueue.Queue so historical
// backfill and realtime polling share one bounded-concurrency, retrying
// front door to the node, per spec.md §5's per-chain request queue.
type queuedRPC struct {
	client  *rpcclient.Client
	queue   *rpcqueue.Queue
	chainID string
	metrics *metrics.Metrics
}

func (r *queuedRPC) do(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := r.queue.Do(ctx, rpcqueue.Request{Priority: rpcqueue.PriorityNormal, MaxAttempts: 6, Do: fn})
	if r.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		r.metrics.ObserveRPCRequest(r.chainID, method, outcome, time.Since(start))
	}
	return err
}

func (r *queuedRPC) ChainID(ctx context.Context) (uint64, error) {
	var out uint64
	err := r.do(ctx, "ChainID", func(ctx context.Context) error {
		var err error
		out, err = r.client.ChainID(ctx)
		return err
	})
	return out, err
}

func (r *queuedRPC) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var out uint64
	err := r.do(ctx, "LatestBlockNumber", func(ctx context.Context) error {
		var err error
		out, err = r.client.LatestBlockNumber(ctx)
		return err
	})
	return out, err
}

func (r *queuedRPC) BlockByNumber(ctx context.Context, chainID, number uint64) (chainrow.Block, []chainrow.Transaction, error) {
	var blk chainrow.Block
	var txs []chainrow.Transaction
	err := r.do(ctx, "BlockByNumber", func(ctx context.Context) error {
		var err error
		blk, txs, err = r.client.BlockByNumber(ctx, chainID, number)
		return err
	})
	return blk, txs, err
}

func (r *queuedRPC) BlockByHash(ctx context.Context, chainID uint64, hash common.Hash) (chainrow.Block, []chainrow.Transaction, error) {
	var blk chainrow.Block
	var txs []chainrow.Transaction
	err := r.do(ctx, "BlockByHash", func(ctx context.Context) error {
		var err error
		blk, txs, err = r.client.BlockByHash(ctx, chainID, hash)
		return err
	})
	return blk, txs, err
}

func (r *queuedRPC) GetLogs(ctx context.Context, chainID uint64, q rpcclient.LogsQuery) ([]chainrow.Log, error) {
	var out []chainrow.Log
	err := r.do(ctx, "GetLogs", func(ctx context.Context) error {
		var err error
		out, err = r.client.GetLogs(ctx, chainID, q)
		return err
	})
	return out, err
}

func (r *queuedRPC) TracesByBlockNumber(ctx context.Context, chainID, number uint64) ([]chainrow.Trace, error) {
	var out []chainrow.Trace
	err := r.do(ctx, "TracesByBlockNumber", func(ctx context.Context) error {
		var err error
		out, err = r.client.TracesByBlockNumber(ctx, chainID, number)
		return err
	})
	return out, err
}

func (r *queuedRPC) TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (chainrow.TransactionReceipt, error) {
	var out chainrow.TransactionReceipt
	err := r.do(ctx, "TransactionReceipt", func(ctx context.Context) error {
		var err error
		out, err = r.client.TransactionReceipt(ctx, chainID, hash)
		return err
	})
	return out, err
}
