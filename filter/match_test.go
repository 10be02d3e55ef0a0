package filter

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/chainsync/syncengine/chainrow"
)

var (
	addrA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	addrB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	topic0 = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111")
)

type fakeChildren map[common.Address]uint64

func (f fakeChildren) FirstSeenBlock(addr common.Address) (uint64, bool) {
	b, ok := f[addr]
	return b, ok
}

func TestMatchLogAddressAndTopic(t *testing.T) {
	f := LogFilter{
		Common: Common{FromBlock: 0},
		Address: AddressMatch{Address: &addrA},
		Topic0:  TopicMatch{Set: []common.Hash{topic0}},
		Topic1:  MatchAnyTopic(),
		Topic2:  MatchAnyTopic(),
		Topic3:  MatchAnyTopic(),
	}
	log := chainrow.Log{Address: addrA, BlockNumber: 5, Topics: []common.Hash{topic0}}
	assert.True(t, MatchLog(f, log, nil))

	other := chainrow.Log{Address: addrB, BlockNumber: 5, Topics: []common.Hash{topic0}}
	assert.False(t, MatchLog(f, other, nil))
}

func TestMatchLogMissingTopicFailsClosed(t *testing.T) {
	f := LogFilter{
		Common:  Common{},
		Address: MatchAnyAddress(),
		Topic0:  MatchAnyTopic(),
		Topic1:  TopicMatch{Set: []common.Hash{topic0}},
		Topic2:  MatchAnyTopic(),
		Topic3:  MatchAnyTopic(),
	}
	log := chainrow.Log{Address: addrA, Topics: []common.Hash{topic0}} // no topic[1]
	assert.False(t, MatchLog(f, log, nil))
}

func TestMatchLogOutOfRange(t *testing.T) {
	f := LogFilter{
		Common:  Common{FromBlock: 100, ToBlock: 200},
		Address: MatchAnyAddress(),
		Topic0:  MatchAnyTopic(), Topic1: MatchAnyTopic(), Topic2: MatchAnyTopic(), Topic3: MatchAnyTopic(),
	}
	assert.False(t, MatchLog(f, chainrow.Log{BlockNumber: 50}, nil))
	assert.False(t, MatchLog(f, chainrow.Log{BlockNumber: 250}, nil))
	assert.True(t, MatchLog(f, chainrow.Log{BlockNumber: 150}, nil))
}

func TestFactoryVisibleByBlockInvariant(t *testing.T) {
	f := LogFilter{
		Common:  Common{},
		Address: AddressMatch{Factory: &Factory{Address: addrB, EventSelector: topic0}},
		Topic0:  MatchAnyTopic(), Topic1: MatchAnyTopic(), Topic2: MatchAnyTopic(), Topic3: MatchAnyTopic(),
	}
	children := fakeChildren{addrA: 100}

	before := chainrow.Log{Address: addrA, BlockNumber: 99}
	assert.False(t, MatchLog(f, before, children), "event before first-observed block must not match")

	at := chainrow.Log{Address: addrA, BlockNumber: 100}
	assert.True(t, MatchLog(f, at, children))

	after := chainrow.Log{Address: addrA, BlockNumber: 150}
	assert.True(t, MatchLog(f, after, children))

	unknown := chainrow.Log{Address: addrB, BlockNumber: 150}
	assert.False(t, MatchLog(f, unknown, children))
}

func TestFactoryWithNilChildrenNeverMatches(t *testing.T) {
	f := LogFilter{
		Common:  Common{},
		Address: AddressMatch{Factory: &Factory{Address: addrB}},
		Topic0:  MatchAnyTopic(), Topic1: MatchAnyTopic(), Topic2: MatchAnyTopic(), Topic3: MatchAnyTopic(),
	}
	assert.False(t, MatchLog(f, chainrow.Log{Address: addrA, BlockNumber: 1}, nil))
}

func TestMatchTransactionToAddressAndRevert(t *testing.T) {
	f := TransactionFilter{
		Common:      Common{},
		FromAddress: MatchAnyAddress(),
		ToAddress:   AddressMatch{Address: &addrB},
	}
	tx := chainrow.Transaction{From: addrA, To: &addrB, BlockNumber: 1}
	reverted := &chainrow.TransactionReceipt{Status: 0}
	success := &chainrow.TransactionReceipt{Status: 1}

	assert.False(t, MatchTransaction(f, tx, reverted, nil), "reverted excluded by default")
	assert.True(t, MatchTransaction(f, tx, success, nil))

	f.IncludeReverted = true
	assert.True(t, MatchTransaction(f, tx, reverted, nil))
}

func TestMatchTransactionContractCreationToAddressNeverMatchesConstraint(t *testing.T) {
	f := TransactionFilter{
		Common:      Common{},
		FromAddress: MatchAnyAddress(),
		ToAddress:   AddressMatch{Address: &addrB},
	}
	tx := chainrow.Transaction{From: addrA, To: nil, BlockNumber: 1}
	assert.False(t, MatchTransaction(f, tx, nil, nil))
}

func TestMatchTransferRequiresNonZeroValue(t *testing.T) {
	f := TransferFilter{Common: Common{}, FromAddress: MatchAnyAddress(), ToAddress: MatchAnyAddress()}
	zero := chainrow.Trace{From: addrA, To: &addrB, Value: big.NewInt(0)}
	assert.False(t, MatchTransfer(f, zero, nil))

	nilValue := chainrow.Trace{From: addrA, To: &addrB, Value: nil}
	assert.False(t, MatchTransfer(f, nilValue, nil))

	nonZero := chainrow.Trace{From: addrA, To: &addrB, Value: big.NewInt(1)}
	assert.True(t, MatchTransfer(f, nonZero, nil))
}

func TestMatchTraceIgnoresCallTypeAndSelector(t *testing.T) {
	f := TraceFilter{
		Common:           Common{},
		FromAddress:      MatchAnyAddress(),
		ToAddress:        MatchAnyAddress(),
		CallType:         "DELEGATECALL",
		FunctionSelector: TopicMatch{Set: []common.Hash{topic0}},
	}
	tr := chainrow.Trace{From: addrA, To: &addrB, Type: chainrow.CallTypeCall, Input: []byte{0xde, 0xad, 0xbe, 0xef}}
	assert.True(t, MatchTrace(f, tr, nil), "callType and selector are advisory, must not gate matching")
}

func TestMatchBlockIntervalAndOffset(t *testing.T) {
	f := BlockFilter{Common: Common{}, Interval: 10, Offset: 3}
	assert.True(t, MatchBlock(f, 3))
	assert.True(t, MatchBlock(f, 13))
	assert.True(t, MatchBlock(f, 23))
	assert.False(t, MatchBlock(f, 14))
	assert.False(t, MatchBlock(f, 2))
}

func TestMatchBlockZeroIntervalMeansExactOffset(t *testing.T) {
	f := BlockFilter{Common: Common{}, Interval: 0, Offset: 42}
	assert.True(t, MatchBlock(f, 42))
	assert.False(t, MatchBlock(f, 43))
}
