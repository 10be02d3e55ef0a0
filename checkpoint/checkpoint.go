// Package checkpoint implements the fixed-width, lexicographically-ordered
// position string used to totally order events across chains.
package checkpoint

import "fmt"

// EventType identifies which kind of row produced an event, for ordering
// purposes only. Blocks use the maximum transaction index so that a block's
// synthetic "block" event always sorts after every tx/log/trace in that
// block.
type EventType uint8

const (
	EventTypeTransaction EventType = 2
	EventTypeLog         EventType = 5
	EventTypeTrace       EventType = 7
	EventTypeBlock       EventType = 5
)

// Field widths, in characters, fixed per spec.md §3.
const (
	widthTimestamp       = 10
	widthChainID         = 16
	widthBlockNumber     = 16
	widthTransactionIdx  = 16
	widthEventType       = 1
	widthEventIndex      = 16
	TotalWidth           = widthTimestamp + widthChainID + widthBlockNumber + widthTransactionIdx + widthEventType + widthEventIndex
	maxTransactionIndex  = 1<<53 - 1 // well above any real tx count; used by block events
)

// Fields is the decomposed form of a checkpoint.
type Fields struct {
	BlockTimestamp   uint64
	ChainID          uint64
	BlockNumber      uint64
	TransactionIndex uint64
	EventType        EventType
	EventIndex       uint64
}

// Checkpoint is the fixed-width encoded string. Byte-wise comparison on this
// string equals semantic ordering over Fields.
type Checkpoint string

// maxUint64Digits is the number of base-10 digits in the largest uint64.
const maxUint64Digits = 20

func mustFit(value uint64, width int, field string) {
	// A field's encoded width is fixed; a value whose decimal form would
	// overflow it is a programming error, not a data error.
	if width >= maxUint64Digits {
		return
	}
	limit := uint64(1)
	for i := 0; i < width; i++ {
		limit *= 10
	}
	if value >= limit {
		panic(fmt.Sprintf("checkpoint: field %s value %d exceeds width %d", field, value, width))
	}
}

// Encode renders fields into their fixed-width checkpoint string.
// It panics if any field's value cannot be represented within its fixed
// width — this is always a programming invariant violation, never a
// reachable runtime condition for honestly-sourced chain data.
func Encode(f Fields) Checkpoint {
	mustFit(f.BlockTimestamp, widthTimestamp, "blockTimestamp")
	mustFit(f.ChainID, widthChainID, "chainId")
	mustFit(f.BlockNumber, widthBlockNumber, "blockNumber")
	mustFit(f.TransactionIndex, widthTransactionIdx, "transactionIndex")
	mustFit(uint64(f.EventType), widthEventType, "eventType")
	mustFit(f.EventIndex, widthEventIndex, "eventIndex")

	return Checkpoint(fmt.Sprintf(
		"%0*d%0*d%0*d%0*d%0*d%0*d",
		widthTimestamp, f.BlockTimestamp,
		widthChainID, f.ChainID,
		widthBlockNumber, f.BlockNumber,
		widthTransactionIdx, f.TransactionIndex,
		widthEventType, uint8(f.EventType),
		widthEventIndex, f.EventIndex,
	))
}

// EncodeBlock is a convenience for the block-event case, which always sorts
// last within its block by construction (transactionIndex pinned to max).
func EncodeBlock(timestamp, chainID, blockNumber, eventIndex uint64) Checkpoint {
	return Encode(Fields{
		BlockTimestamp:   timestamp,
		ChainID:          chainID,
		BlockNumber:      blockNumber,
		TransactionIndex: maxTransactionIndex,
		EventType:        EventTypeBlock,
		EventIndex:       eventIndex,
	})
}

// Decode parses a checkpoint string back into its fields. It returns an
// error rather than panicking because malformed input can legitimately
// arrive over the wire or from a corrupted store.
func Decode(c Checkpoint) (Fields, error) {
	s := string(c)
	if len(s) != TotalWidth {
		return Fields{}, fmt.Errorf("checkpoint: expected length %d, got %d", TotalWidth, len(s))
	}

	offsets := []int{widthTimestamp, widthChainID, widthBlockNumber, widthTransactionIdx, widthEventType, widthEventIndex}
	parts := make([]uint64, len(offsets))
	pos := 0
	for i, w := range offsets {
		var v uint64
		if _, err := fmt.Sscanf(s[pos:pos+w], "%d", &v); err != nil {
			return Fields{}, fmt.Errorf("checkpoint: invalid field %d: %w", i, err)
		}
		parts[i] = v
		pos += w
	}

	return Fields{
		BlockTimestamp:   parts[0],
		ChainID:          parts[1],
		BlockNumber:      parts[2],
		TransactionIndex: parts[3],
		EventType:        EventType(parts[4]),
		EventIndex:       parts[5],
	}, nil
}

// ZeroCheckpoint is the all-zero sentinel: no event can precede it.
var ZeroCheckpoint = Encode(Fields{})

// MaxCheckpoint is the all-nines sentinel: no event can follow it. It is
// built directly from width-sized runs of '9' rather than by encoding
// numeric maxima, so every field, the transaction index included, sits at
// the top of its fixed width (above the maxTransactionIndex that block
// events use).
var MaxCheckpoint = Checkpoint(
	repeat9(widthTimestamp) + repeat9(widthChainID) + repeat9(widthBlockNumber) +
		repeat9(widthTransactionIdx) + repeat9(widthEventType) + repeat9(widthEventIndex),
)

func repeat9(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '9'
	}
	return string(b)
}

// Less reports whether a sorts strictly before b. Byte-wise string
// comparison already implements this; Less exists only to spell the
// invariant out at call sites that compare checkpoints.
func Less(a, b Checkpoint) bool {
	return a < b
}
