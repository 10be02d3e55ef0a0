// Package decode implements C10: resolving an ABI item for a raw row by
// selector and assembling the decoded Event shape spec.md §4.7 names.
package decode

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsync/syncengine/chainrow"
	"github.com/chainsync/syncengine/checkpoint"
)

// ABIResolver looks up a decodable item by its 4-byte (function) or
// 32-byte (event) selector for a given source. Concrete ABI management
// (loading, registry, per-contract overrides) is out of scope here: the
// resolver is supplied by the caller wiring sources to their ABIs.
type ABIResolver interface {
	EventBySelector(sourceName string, topic0 common.Hash) (abi.Event, bool)
	FunctionBySelector(sourceName string, selector [4]byte) (abi.Method, bool)
}

// SourceKind tags which raw row shape a Source wraps.
type SourceKind int

const (
	SourceContractLog SourceKind = iota
	SourceContractTrace
	SourceAccountTransaction
	SourceAccountTransfer
	SourceBlock
)

// Source names the decoding context for one filter: which kind of row it
// decodes and the user-assigned name events are namespaced under.
type Source struct {
	Name string
	Kind SourceKind
	// AddressDirection records which of from/to was the constrained
	// field on an account-kind filter, for tx/transfer name direction.
	AddressDirection string // "from" or "to"
}

// Event is the fully assembled, named output record.
type Event struct {
	ID         checkpoint.Checkpoint
	Name       string
	Checkpoint checkpoint.Checkpoint
	ChainID    uint64
	Block      chainrow.LightBlock
	Transaction *chainrow.Transaction
	Receipt     *chainrow.TransactionReceipt
	Log         *chainrow.Log
	Trace       *chainrow.Trace
	Args        map[string]any
	Transfer    *TransferInfo
}

// TransferInfo is lifted onto transfer-kind events per spec.md §4.7.
type TransferInfo struct {
	From  common.Address
	To    common.Address
	Value string
}

func safeName(s string) string {
	return strings.ReplaceAll(s, " ", "_")
}

// DecodeLog decodes a matched log row against its source's ABI event, per
// spec.md §4.7's "{sourceName}:{safeEventName}" naming. A decode failure
// is reported to the caller so it can apply the warn/debug logging policy
// §4.5 specifies (address-scoped filters warn, others log at debug) and
// skip the event.
func DecodeLog(resolver ABIResolver, src Source, l chainrow.Log, cp checkpoint.Checkpoint, block chainrow.LightBlock) (Event, error) {
	topic0, ok := l.Topic(0)
	if !ok {
		return Event{}, fmt.Errorf("decode: log has no topic0")
	}
	event, ok := resolver.EventBySelector(src.Name, topic0)
	if !ok {
		return Event{}, fmt.Errorf("decode: no ABI event for selector %s on source %q", topic0, src.Name)
	}

	args, err := unpackLogArgs(event, l)
	if err != nil {
		return Event{}, fmt.Errorf("decode: unpack log args for %s: %w", event.Name, err)
	}

	return Event{
		ID:         cp,
		Name:       fmt.Sprintf("%s:%s", src.Name, safeName(event.Name)),
		Checkpoint: cp,
		ChainID:    l.ChainID,
		Block:      block,
		Log:        &l,
		Args:       args,
	}, nil
}

func unpackLogArgs(event abi.Event, l chainrow.Log) (map[string]any, error) {
	args := make(map[string]any)

	var indexed, nonIndexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		} else {
			nonIndexed = append(nonIndexed, input)
		}
	}

	if len(nonIndexed) > 0 {
		values, err := nonIndexed.Unpack(l.Data)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			if i < len(nonIndexed) {
				args[nonIndexed[i].Name] = v
			}
		}
	}

	for i, input := range indexed {
		if i+1 >= len(l.Topics) {
			break
		}
		args[input.Name] = l.Topics[i+1]
	}
	return args, nil
}

// DecodeTrace decodes a matched trace row against its source's ABI
// function, per spec.md §4.7's "{sourceName}.{safeFunctionName()}" naming.
func DecodeTrace(resolver ABIResolver, src Source, t chainrow.Trace, cp checkpoint.Checkpoint, block chainrow.LightBlock) (Event, error) {
	sel, ok := t.FunctionSelector()
	if !ok {
		return Event{}, fmt.Errorf("decode: trace input too short for a selector")
	}
	method, ok := resolver.FunctionBySelector(src.Name, sel)
	if !ok {
		return Event{}, fmt.Errorf("decode: no ABI function for selector %x on source %q", sel, src.Name)
	}

	var args map[string]any
	if len(t.Input) > 4 {
		values, err := method.Inputs.Unpack(t.Input[4:])
		if err != nil {
			return Event{}, fmt.Errorf("decode: unpack trace input for %s: %w", method.Name, err)
		}
		args = make(map[string]any, len(values))
		for i, v := range values {
			if i < len(method.Inputs) {
				args[method.Inputs[i].Name] = v
			}
		}
	}

	return Event{
		ID:         cp,
		Name:       fmt.Sprintf("%s.%s()", src.Name, safeName(method.Name)),
		Checkpoint: cp,
		ChainID:    t.ChainID,
		Block:      block,
		Trace:      &t,
		Args:       args,
	}, nil
}

// AssembleTransaction builds a tx-kind event; account tx filters carry no
// ABI, so there is nothing to decode.
func AssembleTransaction(src Source, tx chainrow.Transaction, receipt *chainrow.TransactionReceipt, cp checkpoint.Checkpoint, block chainrow.LightBlock) Event {
	return Event{
		ID:          cp,
		Name:        fmt.Sprintf("%s:transaction:%s", src.Name, src.AddressDirection),
		Checkpoint:  cp,
		ChainID:     tx.ChainID,
		Block:       block,
		Transaction: &tx,
		Receipt:     receipt,
	}
}

// AssembleTransfer builds a transfer-kind event, lifting {from, to, value}
// into the Transfer sub-object per spec.md §4.7.
func AssembleTransfer(src Source, tr chainrow.Trace, cp checkpoint.Checkpoint, block chainrow.LightBlock) Event {
	var to common.Address
	if tr.To != nil {
		to = *tr.To
	}
	value := "0"
	if tr.Value != nil {
		value = tr.Value.String()
	}
	return Event{
		ID:         cp,
		Name:       fmt.Sprintf("%s:transfer:%s", src.Name, src.AddressDirection),
		Checkpoint: cp,
		ChainID:    tr.ChainID,
		Block:      block,
		Trace:      &tr,
		Transfer:   &TransferInfo{From: tr.From, To: to, Value: value},
	}
}

// AssembleBlock builds a block-kind event.
func AssembleBlock(src Source, b chainrow.Block, cp checkpoint.Checkpoint) Event {
	return Event{
		ID:         cp,
		Name:       fmt.Sprintf("%s:block", src.Name),
		Checkpoint: cp,
		ChainID:    b.ChainID,
		Block:      b.Light(),
	}
}

// Page groups a sorted event stream by block hash, attaching a per-group
// checkpoint equal to MAX_CHECKPOINT with that block's (timestamp,
// chainId, number) — the upper-bound marker a downstream consumer can
// commit at (spec.md §4.7's splitEvents).
type Page struct {
	BlockHash  common.Hash
	Events     []Event
	Checkpoint checkpoint.Checkpoint
}

func SplitEvents(events []Event) []Page {
	var pages []Page
	var cur *Page
	for _, e := range events {
		hash := blockHash(e)
		if cur == nil || cur.BlockHash != hash {
			if cur != nil {
				pages = append(pages, *cur)
			}
			cur = &Page{BlockHash: hash}
		}
		cur.Events = append(cur.Events, e)
	}
	if cur != nil {
		pages = append(pages, *cur)
	}

	for i := range pages {
		last := pages[i].Events[len(pages[i].Events)-1]
		upper, _ := checkpoint.Decode(checkpoint.MaxCheckpoint)
		upper.BlockTimestamp = last.Block.Timestamp
		upper.ChainID = last.ChainID
		upper.BlockNumber = last.Block.Number
		pages[i].Checkpoint = checkpoint.Encode(upper)
	}
	return pages
}

func blockHash(e Event) common.Hash {
	switch {
	case e.Log != nil:
		return e.Log.BlockHash
	case e.Transaction != nil:
		return e.Transaction.BlockHash
	case e.Trace != nil:
		return e.Block.Hash
	default:
		return e.Block.Hash
	}
}
