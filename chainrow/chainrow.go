// Package chainrow defines the raw, pre-decode row shapes the sync store
// persists and the filter matcher and event assembler operate over: blocks,
// transactions, receipts, logs and traces. These mirror go-ethereum's wire
// types where one exists (types.Log, types.Receipt) and add the shapes
// go-ethereum has no equivalent for (Trace, lightweight Block/Transaction
// views sized for storage rather than execution).
package chainrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Block is the subset of block header fields the sync store persists and
// the matcher/assembler need. It intentionally omits consensus fields
// (mixHash, nonce, ...) the spec's storage contract lists as
// implementation-indicative rather than required for matching.
type Block struct {
	ChainID      uint64
	Number       uint64
	Timestamp    uint64
	Hash         common.Hash
	ParentHash   common.Hash
	LogsBloom    types.Bloom
	Miner        common.Address
	GasUsed      uint64
	GasLimit     uint64
	BaseFeePerGas *big.Int
	Size          uint64
	ExtraData     []byte
}

// LightBlock is the minimal record sufficient to maintain chain linkage,
// used by the realtime driver's local chain view.
type LightBlock struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
}

func (b Block) Light() LightBlock {
	return LightBlock{Number: b.Number, Hash: b.Hash, ParentHash: b.ParentHash, Timestamp: b.Timestamp}
}

// Transaction is the persisted transaction row.
type Transaction struct {
	ChainID          uint64
	BlockNumber      uint64
	BlockHash        common.Hash
	TransactionIndex uint64
	Hash             common.Hash
	From             common.Address
	To               *common.Address // nil for contract creation
	Input            []byte
	Value            *big.Int
	Nonce            uint64
	Type             uint8
	Gas              uint64
	GasPrice         *big.Int
}

// TransactionReceipt is the persisted receipt row.
type TransactionReceipt struct {
	ChainID           uint64
	BlockNumber       uint64
	BlockHash         common.Hash
	TransactionIndex  uint64
	TransactionHash   common.Hash
	From              common.Address
	To                *common.Address
	ContractAddress   *common.Address
	LogsBloom         types.Bloom
	GasUsed           uint64
	CumulativeGasUsed uint64
	EffectiveGasPrice *big.Int
	Status            uint64 // 1 success, 0 reverted
}

func (r TransactionReceipt) Reverted() bool { return r.Status == 0 }

// Log is the persisted log row.
type Log struct {
	ChainID          uint64
	BlockNumber      uint64
	BlockHash        common.Hash
	TransactionHash  common.Hash
	TransactionIndex uint64
	LogIndex         uint64
	Address          common.Address
	Topics           []common.Hash
	Data             []byte
}

func (l Log) Topic(n int) (common.Hash, bool) {
	if n < 0 || n >= len(l.Topics) {
		return common.Hash{}, false
	}
	return l.Topics[n], true
}

// TraceCallType enumerates the EVM call-tree node kinds a trace RPC
// reports. Retained on the row for output tagging even though the matcher
// never consults it (spec.md §4.3 / §9 open question on callType).
type TraceCallType string

const (
	CallTypeCall         TraceCallType = "CALL"
	CallTypeDelegateCall TraceCallType = "DELEGATECALL"
	CallTypeStaticCall   TraceCallType = "STATICCALL"
	CallTypeCreate       TraceCallType = "CREATE"
	CallTypeCreate2      TraceCallType = "CREATE2"
)

// Trace is a single node of a transaction's call tree.
type Trace struct {
	ChainID          uint64
	BlockNumber      uint64
	TransactionHash  common.Hash
	TransactionIndex uint64
	TraceIndex       uint64
	From             common.Address
	To               *common.Address
	Input            []byte
	Output           []byte
	Value            *big.Int
	Type             TraceCallType
	Gas              uint64
	GasUsed          uint64
	Error            string
	Reverted         bool
}

// FunctionSelector returns the first four bytes of Input, or the zero
// selector if Input is too short (e.g. a plain value transfer).
func (t Trace) FunctionSelector() (sel [4]byte, ok bool) {
	if len(t.Input) < 4 {
		return sel, false
	}
	copy(sel[:], t.Input[:4])
	return sel, true
}
