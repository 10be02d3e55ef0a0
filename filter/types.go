// Package filter defines the tagged Filter variants the sync engine
// subscribes with (log, transaction, trace, transfer, block) and the pure
// predicates that decide whether a given chain row matches one.
package filter

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AddressMatch is the shape shared by every address-like filter field: it is
// either unconstrained, a single address, a set of addresses, or a Factory
// whose child-address set is resolved at sync time.
type AddressMatch struct {
	Any     bool
	Address *common.Address
	Set     []common.Address
	Factory *Factory
}

// MatchAnyAddress returns an AddressMatch that imposes no constraint.
func MatchAnyAddress() AddressMatch { return AddressMatch{Any: true} }

// TopicMatch is the shape of a single topic position: null (wildcard), a
// single hash, or a set of hashes (OR semantics).
type TopicMatch struct {
	Any bool
	Set []common.Hash
}

func MatchAnyTopic() TopicMatch { return TopicMatch{Any: true} }

// ChildAddressLocation names where a factory's child address is carried in
// its emitted log.
type ChildAddressLocation struct {
	// Topic is set (1..3) when the child address lives in an indexed topic.
	Topic int
	// DataOffset is set when the child address lives at a byte offset in
	// the unindexed data blob. Topic == 0 selects this form.
	DataOffset int
}

// Factory names a log-emitting contract whose matching logs enumerate
// addresses to be tracked by other filters.
type Factory struct {
	Address              common.Address
	EventSelector        common.Hash
	ChildAddressLocation ChildAddressLocation
	FromBlock            uint64
	ToBlock              uint64 // 0 means unbounded
}

// CallType optionally restricts trace filters by call type (CALL,
// DELEGATECALL, STATICCALL, ...). Per spec.md §4.3 it is advisory: retained
// for output tagging, never consulted by the matcher or the fragment
// decomposer.
type CallType string

// Common is embedded by every filter variant.
type Common struct {
	ChainID               uint64
	FromBlock             uint64 // default 0
	ToBlock               uint64 // 0 means unbounded (+inf)
	HasTransactionReceipt bool
	Include               map[string]struct{}
}

func (c Common) InRange(blockNumber uint64) bool {
	if blockNumber < c.FromBlock {
		return false
	}
	if c.ToBlock != 0 && blockNumber > c.ToBlock {
		return false
	}
	return true
}

// Filter is the closed sum type over the five subscription kinds. Each
// concrete type below implements it via an unexported marker method so the
// set of variants can never grow outside this package.
type Filter interface {
	isFilter()
	Base() Common
}

// LogFilter subscribes to EVM logs.
type LogFilter struct {
	Common
	Address            AddressMatch
	Topic0, Topic1     TopicMatch
	Topic2, Topic3     TopicMatch
}

func (LogFilter) isFilter()      {}
func (f LogFilter) Base() Common { return f.Common }

// TransactionFilter subscribes to top-level transactions.
type TransactionFilter struct {
	Common
	FromAddress     AddressMatch
	ToAddress       AddressMatch
	IncludeReverted bool
}

func (TransactionFilter) isFilter()      {}
func (f TransactionFilter) Base() Common { return f.Common }

// TraceFilter subscribes to internal call-tree entries.
type TraceFilter struct {
	Common
	FromAddress      AddressMatch
	ToAddress        AddressMatch
	FunctionSelector TopicMatch // reuses TopicMatch's Any/Set shape over 4-byte selectors
	CallType         CallType   // advisory only; see CallType doc
	IncludeReverted  bool
}

func (TraceFilter) isFilter()      {}
func (f TraceFilter) Base() Common { return f.Common }

// TransferFilter subscribes to native-value transfers observed in traces.
type TransferFilter struct {
	Common
	FromAddress     AddressMatch
	ToAddress       AddressMatch
	IncludeReverted bool
}

func (TransferFilter) isFilter()      {}
func (f TransferFilter) Base() Common { return f.Common }

// BlockFilter subscribes to a periodic subset of blocks.
type BlockFilter struct {
	Common
	Interval uint64
	Offset   uint64
}

func (BlockFilter) isFilter()      {}
func (f BlockFilter) Base() Common { return f.Common }

// ShouldGetTransactionReceipt implements spec.md §6's
// shouldGetTransactionReceipt contract.
func ShouldGetTransactionReceipt(f Filter) bool {
	switch v := f.(type) {
	case TransactionFilter:
		return true
	case BlockFilter:
		return false
	case LogFilter:
		return wantsReceiptInclude(v.Include)
	case TraceFilter:
		return wantsReceiptInclude(v.Include)
	case TransferFilter:
		return wantsReceiptInclude(v.Include)
	default:
		return false
	}
}

func wantsReceiptInclude(include map[string]struct{}) bool {
	if len(include) == 0 {
		return true
	}
	for key := range include {
		if len(key) >= len("transactionReceipt.") && key[:len("transactionReceipt.")] == "transactionReceipt." {
			return true
		}
	}
	return false
}

// transferValue reports whether value is both non-nil and non-zero, the
// extra condition transferFilter imposes over traceFilter per spec.md §4.3.
func transferValue(v *big.Int) bool {
	return v != nil && v.Sign() != 0
}
