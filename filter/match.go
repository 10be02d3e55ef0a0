package filter

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsync/syncengine/chainrow"
)

// ChildAddresses answers "is addr a factory child address, and if so at
// which block was it first observed" — the visible-by-block semantics spec
// §4.3 requires: an address emitted by a factory at block N must not match
// events at block < N, even if the same address also appears in a static
// address list.
type ChildAddresses interface {
	FirstSeenBlock(addr common.Address) (block uint64, ok bool)
}

// matchAddress evaluates a non-Factory AddressMatch against a concrete
// address. Factory-typed fields are never passed here — callers must
// dispatch those through isAddressMatched instead (spec §4.3 step 2).
func matchAddress(m AddressMatch, addr common.Address) bool {
	if m.Any {
		return true
	}
	if m.Address != nil {
		return *m.Address == addr
	}
	for _, a := range m.Set {
		if a == addr {
			return true
		}
	}
	return len(m.Set) == 0 && m.Address == nil && m.Factory == nil
}

// isAddressMatched implements spec §4.3's visible-by-block semantics for
// Factory-typed address fields: addr must be a known child of the factory
// and have been first observed at or before blockNumber.
func isAddressMatched(addr common.Address, blockNumber uint64, children ChildAddresses) bool {
	firstSeen, ok := children.FirstSeenBlock(addr)
	if !ok {
		return false
	}
	return firstSeen <= blockNumber
}

// matchAddressField dispatches either the static or factory-aware match
// depending on the field's shape.
func matchAddressField(m AddressMatch, addr common.Address, blockNumber uint64, children ChildAddresses) bool {
	if m.Factory != nil {
		if children == nil {
			return false
		}
		return isAddressMatched(addr, blockNumber, children)
	}
	return matchAddress(m, addr)
}

func matchTopic(m TopicMatch, topic common.Hash) bool {
	if m.Any {
		return true
	}
	for _, t := range m.Set {
		if t == topic {
			return true
		}
	}
	return false
}

// MatchLog evaluates a LogFilter against a log row. children may be nil if
// the filter's Address field is not a Factory.
func MatchLog(f LogFilter, l chainrow.Log, children ChildAddresses) bool {
	if !f.Common.InRange(l.BlockNumber) {
		return false
	}
	if !matchAddressField(f.Address, l.Address, l.BlockNumber, children) {
		return false
	}

	topics := []TopicMatch{f.Topic0, f.Topic1, f.Topic2, f.Topic3}
	for i, tm := range topics {
		if tm.Any {
			continue
		}
		topic, ok := l.Topic(i)
		if !ok {
			return false
		}
		if !matchTopic(tm, topic) {
			return false
		}
	}
	return true
}

// MatchTransaction evaluates a TransactionFilter against a transaction row.
// includeReverted is honored here (not at the matcher-as-cache-filter
// layer, per spec §4.3's "advisory at the matcher layer" rule about
// includeReverted/callType/functionSelector — but MatchTransaction IS the
// event-assembly-time check, so it enforces it).
func MatchTransaction(f TransactionFilter, tx chainrow.Transaction, receipt *chainrow.TransactionReceipt, children ChildAddresses) bool {
	if !f.Common.InRange(tx.BlockNumber) {
		return false
	}
	if !matchAddressField(f.FromAddress, tx.From, tx.BlockNumber, children) {
		return false
	}
	if f.ToAddress.Factory != nil || f.ToAddress.Address != nil || len(f.ToAddress.Set) > 0 {
		if tx.To == nil {
			return false
		}
		if !matchAddressField(f.ToAddress, *tx.To, tx.BlockNumber, children) {
			return false
		}
	}
	if !f.IncludeReverted && receipt != nil && receipt.Reverted() {
		return false
	}
	return true
}

// MatchTrace evaluates a TraceFilter against a trace row. FunctionSelector
// and CallType are advisory per spec §4.3 and are never consulted here;
// they are only used at output-tagging time by the event assembler.
func MatchTrace(f TraceFilter, t chainrow.Trace, children ChildAddresses) bool {
	if !f.Common.InRange(t.BlockNumber) {
		return false
	}
	if !matchAddressField(f.FromAddress, t.From, t.BlockNumber, children) {
		return false
	}
	if f.ToAddress.Factory != nil || f.ToAddress.Address != nil || len(f.ToAddress.Set) > 0 {
		if t.To == nil {
			return false
		}
		if !matchAddressField(f.ToAddress, *t.To, t.BlockNumber, children) {
			return false
		}
	}
	if !f.IncludeReverted && t.Reverted {
		return false
	}
	return true
}

// MatchTransfer evaluates a TransferFilter against a trace row — transfers
// are native-value movements observed via traces (spec §3/§4.3), so in
// addition to the trace address/revert checks, the trace's value must be
// non-nil and non-zero.
func MatchTransfer(f TransferFilter, t chainrow.Trace, children ChildAddresses) bool {
	if !transferValue(t.Value) {
		return false
	}
	if !f.Common.InRange(t.BlockNumber) {
		return false
	}
	if !matchAddressField(f.FromAddress, t.From, t.BlockNumber, children) {
		return false
	}
	if f.ToAddress.Factory != nil || f.ToAddress.Address != nil || len(f.ToAddress.Set) > 0 {
		if t.To == nil {
			return false
		}
		if !matchAddressField(f.ToAddress, *t.To, t.BlockNumber, children) {
			return false
		}
	}
	if !f.IncludeReverted && t.Reverted {
		return false
	}
	return true
}

// MatchBlock evaluates a BlockFilter against a block number: it matches iff
// (blockNumber - offset) mod interval == 0.
func MatchBlock(f BlockFilter, blockNumber uint64) bool {
	if !f.Common.InRange(blockNumber) {
		return false
	}
	if f.Interval == 0 {
		return blockNumber == f.Offset
	}
	if blockNumber < f.Offset {
		return false
	}
	return (blockNumber-f.Offset)%f.Interval == 0
}
