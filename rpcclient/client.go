// Package rpcclient wraps the subset of Ethereum JSON-RPC methods the
// historical and realtime drivers need (spec.md §6): chain id, block
// lookup by number/hash, log queries, transaction receipts, and a trace
// call. It normalizes results into chainrow's row shapes so the rest of
// the sync engine never touches go-ethereum's execution-oriented types
// directly.
package rpcclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/chainsync/syncengine/chainrow"
)

type Config struct {
	Endpoint string
	Logger   *zap.Logger
}

// Client is a thin, typed JSON-RPC adapter. It holds no retry or rate
// limiting logic itself — that belongs to rpcqueue.Queue, which wraps a
// Client's methods as scheduled requests.
type Client struct {
	eth    *ethclient.Client
	rpc    *rpc.Client
	logger *zap.Logger
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rpcclient: endpoint cannot be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial rpc endpoint %s: %w", cfg.Endpoint, err)
	}
	return &Client{eth: ethclient.NewClient(rpcClient), rpc: rpcClient, logger: logger}, nil
}

func (c *Client) Close() { c.rpc.Close() }

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth_chainId: %w", err)
	}
	return id.Uint64(), nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return n, nil
}

// BlockByNumber fetches a full block and its transactions, converted to
// chainrow shapes.
func (c *Client) BlockByNumber(ctx context.Context, chainID, number uint64) (chainrow.Block, []chainrow.Transaction, error) {
	blk, err := c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return chainrow.Block{}, nil, fmt.Errorf("eth_getBlockByNumber(%d): %w", number, err)
	}
	return convertBlock(chainID, blk)
}

func (c *Client) BlockByHash(ctx context.Context, chainID uint64, hash common.Hash) (chainrow.Block, []chainrow.Transaction, error) {
	blk, err := c.eth.BlockByHash(ctx, hash)
	if err != nil {
		return chainrow.Block{}, nil, fmt.Errorf("eth_getBlockByHash(%s): %w", hash, err)
	}
	return convertBlock(chainID, blk)
}

func convertBlock(chainID uint64, blk *types.Block) (chainrow.Block, []chainrow.Transaction, error) {
	header := blk.Header()
	row := chainrow.Block{
		ChainID:       chainID,
		Number:        header.Number.Uint64(),
		Timestamp:     header.Time,
		Hash:          blk.Hash(),
		ParentHash:    header.ParentHash,
		LogsBloom:     header.Bloom,
		Miner:         header.Coinbase,
		GasUsed:       header.GasUsed,
		GasLimit:      header.GasLimit,
		BaseFeePerGas: header.BaseFee,
		Size:          blk.Size(),
		ExtraData:     header.Extra,
	}

	txs := make([]chainrow.Transaction, 0, len(blk.Transactions()))
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
	for i, tx := range blk.Transactions() {
		from, err := types.Sender(signer, tx)
		if err != nil {
			from = common.Address{}
		}
		txs = append(txs, chainrow.Transaction{
			ChainID:          chainID,
			BlockNumber:      row.Number,
			BlockHash:        row.Hash,
			TransactionIndex: uint64(i),
			Hash:             tx.Hash(),
			From:             from,
			To:               tx.To(),
			Input:            tx.Data(),
			Value:            tx.Value(),
			Nonce:            tx.Nonce(),
			Type:             tx.Type(),
			Gas:              tx.Gas(),
			GasPrice:         tx.GasPrice(),
		})
	}
	return row, txs, nil
}

func (c *Client) TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (chainrow.TransactionReceipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return chainrow.TransactionReceipt{}, fmt.Errorf("eth_getTransactionReceipt(%s): %w", hash, err)
	}
	return chainrow.TransactionReceipt{
		ChainID:           chainID,
		BlockNumber:       r.BlockNumber.Uint64(),
		BlockHash:         r.BlockHash,
		TransactionIndex:  uint64(r.TransactionIndex),
		TransactionHash:   r.TxHash,
		ContractAddress:   addrOrNil(r.ContractAddress),
		LogsBloom:         r.Bloom,
		GasUsed:           r.GasUsed,
		CumulativeGasUsed: r.CumulativeGasUsed,
		EffectiveGasPrice: r.EffectiveGasPrice,
		Status:            r.Status,
	}, nil
}

func addrOrNil(a common.Address) *common.Address {
	if a == (common.Address{}) {
		return nil
	}
	return &a
}

// LogsQuery mirrors eth_getLogs' filter argument shape.
type LogsQuery struct {
	FromBlock *uint64
	ToBlock   *uint64
	BlockHash *common.Hash
	Addresses []common.Address
	Topics    [][]common.Hash
}

func (c *Client) GetLogs(ctx context.Context, chainID uint64, q LogsQuery) ([]chainrow.Log, error) {
	query := ethereum.FilterQuery{Addresses: q.Addresses, Topics: q.Topics}
	if q.BlockHash != nil {
		query.BlockHash = q.BlockHash
	} else {
		if q.FromBlock != nil {
			query.FromBlock = new(big.Int).SetUint64(*q.FromBlock)
		}
		if q.ToBlock != nil {
			query.ToBlock = new(big.Int).SetUint64(*q.ToBlock)
		}
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs: %w", err)
	}

	out := make([]chainrow.Log, 0, len(logs))
	for _, l := range logs {
		out = append(out, chainrow.Log{
			ChainID:          chainID,
			BlockNumber:      l.BlockNumber,
			BlockHash:        l.BlockHash,
			TransactionHash:  l.TxHash,
			TransactionIndex: uint64(l.TxIndex),
			LogIndex:         uint64(l.Index),
			Address:          l.Address,
			Topics:           l.Topics,
			Data:             l.Data,
		})
	}
	return out, nil
}

// traceCallResult is the shape a debug_traceBlockByNumber/ByHash call with
// callTracer returns; it is recursive, mirroring the EVM call tree.
type traceCallResult struct {
	Type    string             `json:"type"`
	From    common.Address     `json:"from"`
	To      *common.Address    `json:"to"`
	Input   string             `json:"input"`
	Output  string             `json:"output"`
	Value   string             `json:"value"`
	Gas     string             `json:"gas"`
	GasUsed string             `json:"gasUsed"`
	Error   string             `json:"error"`
	Calls   []traceCallResult  `json:"calls"`
}

type txTraceResult struct {
	TxHash common.Hash     `json:"txHash"`
	Result traceCallResult `json:"result"`
}

// TracesByBlockNumber fetches the per-transaction call trees for a block
// via debug_traceBlockByNumber with the callTracer, flattened into Trace
// rows in pre-order (matching the on-chain call order within a
// transaction).
func (c *Client) TracesByBlockNumber(ctx context.Context, chainID, number uint64) ([]chainrow.Trace, error) {
	var results []txTraceResult
	err := c.rpc.CallContext(ctx, &results, "debug_traceBlockByNumber",
		fmt.Sprintf("0x%x", number),
		map[string]any{"tracer": "callTracer"})
	if err != nil {
		return nil, fmt.Errorf("debug_traceBlockByNumber(%d): %w", number, err)
	}

	var out []chainrow.Trace
	for txIndex, r := range results {
		flattenTrace(chainID, number, r.TxHash, uint64(txIndex), r.Result, &out, new(uint64))
	}
	return out, nil
}

func flattenTrace(chainID, blockNumber uint64, txHash common.Hash, txIndex uint64, node traceCallResult, out *[]chainrow.Trace, traceIndex *uint64) {
	idx := *traceIndex
	*traceIndex++

	*out = append(*out, chainrow.Trace{
		ChainID:          chainID,
		BlockNumber:      blockNumber,
		TransactionHash:  txHash,
		TransactionIndex: txIndex,
		TraceIndex:       idx,
		From:             node.From,
		To:               node.To,
		Input:            decodeHexOrNil(node.Input),
		Output:           decodeHexOrNil(node.Output),
		Value:            decodeBigOrNil(node.Value),
		Type:             chainrow.TraceCallType(node.Type),
		Gas:              decodeUintOrZero(node.Gas),
		GasUsed:          decodeUintOrZero(node.GasUsed),
		Error:            node.Error,
		Reverted:         node.Error != "",
	})

	for _, child := range node.Calls {
		flattenTrace(chainID, blockNumber, txHash, txIndex, child, out, traceIndex)
	}
}

func decodeHexOrNil(s string) []byte {
	if s == "" || s == "0x" {
		return nil
	}
	b := common.FromHex(s)
	return b
}

func decodeBigOrNil(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(trimHexPrefix(s), 16)
	if !ok {
		return nil
	}
	return v
}

func decodeUintOrZero(s string) uint64 {
	v := decodeBigOrNil(s)
	if v == nil {
		return 0
	}
	return v.Uint64()
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
