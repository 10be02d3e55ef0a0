package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Fields{
		{},
		{BlockTimestamp: 1700000000, ChainID: 1, BlockNumber: 123456, TransactionIndex: 4, EventType: EventTypeLog, EventIndex: 2},
		{BlockTimestamp: 1, ChainID: 8453, BlockNumber: 0, TransactionIndex: maxTransactionIndex, EventType: EventTypeBlock, EventIndex: 0},
		{BlockTimestamp: 9999999999, ChainID: 9999999999999999, BlockNumber: 9999999999999999, TransactionIndex: 9999999999999999, EventType: 9, EventIndex: 9999999999999999},
	}

	for _, f := range cases {
		enc := Encode(f)
		require.Len(t, string(enc), TotalWidth)
		got, err := Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestLexicographicOrderMatchesSemanticOrder(t *testing.T) {
	lower := Fields{BlockTimestamp: 100, ChainID: 1, BlockNumber: 1, TransactionIndex: 0, EventType: EventTypeLog, EventIndex: 0}
	higher := Fields{BlockTimestamp: 100, ChainID: 1, BlockNumber: 1, TransactionIndex: 0, EventType: EventTypeLog, EventIndex: 1}

	assert.True(t, Less(Encode(lower), Encode(higher)))
	assert.False(t, Less(Encode(higher), Encode(lower)))

	byBlockNumber := Fields{BlockTimestamp: 100, ChainID: 1, BlockNumber: 2, TransactionIndex: 0, EventType: EventTypeLog, EventIndex: 0}
	assert.True(t, Less(Encode(lower), Encode(byBlockNumber)))
}

func TestBlockEventSortsLastWithinBlock(t *testing.T) {
	logField := Fields{BlockTimestamp: 100, ChainID: 1, BlockNumber: 5, TransactionIndex: 3, EventType: EventTypeLog, EventIndex: 0}
	blockCp := EncodeBlock(100, 1, 5, 0)

	assert.True(t, Less(Encode(logField), blockCp))
}

func TestSentinels(t *testing.T) {
	assert.True(t, Less(ZeroCheckpoint, MaxCheckpoint))

	f := Fields{BlockTimestamp: 1, ChainID: 1, BlockNumber: 1, TransactionIndex: 1, EventType: EventTypeLog, EventIndex: 1}
	enc := Encode(f)
	assert.True(t, Less(ZeroCheckpoint, enc))
	assert.True(t, Less(enc, MaxCheckpoint))
}

func TestEncodeOverflowPanics(t *testing.T) {
	assert.Panics(t, func() {
		Encode(Fields{EventType: 200}) // widthEventType is 1 char, max digit 9
	})
}

func TestDecodeMalformedLength(t *testing.T) {
	_, err := Decode(Checkpoint("short"))
	require.Error(t, err)
}
