package fragment

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsync/syncengine/filter"
)

var (
	addrA  = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	topicT0 = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111")
	topicT1 = common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222")
)

func TestDecomposeBlockFilter(t *testing.T) {
	f := filter.BlockFilter{Common: filter.Common{ChainID: 1}, Interval: 10, Offset: 3}
	got := Decompose(f)
	require.Len(t, got, 1)
	assert.Equal(t, Fragment("block_1_10_3"), got[0].Fragment)
	assert.Equal(t, []Fragment{"block_1_10_3"}, got[0].AdjacentIds)
}

func TestDecomposeLogFilterAdjacentsIncludeLooserCombos(t *testing.T) {
	f := filter.LogFilter{
		Common:  filter.Common{ChainID: 1},
		Address: filter.AddressMatch{Address: &addrA},
		Topic0:  filter.TopicMatch{Set: []common.Hash{topicT0}},
		Topic1:  filter.TopicMatch{Set: []common.Hash{topicT1}},
		Topic2:  filter.MatchAnyTopic(),
		Topic3:  filter.MatchAnyTopic(),
	}
	decs := Decompose(f)
	require.Len(t, decs, 1)
	d := decs[0]

	// Exact fragment names every field concretely.
	assert.Contains(t, string(d.Fragment), "log_1_")
	assert.Contains(t, string(d.Fragment), "_1") // wantsReceipt=1 (no include set => default true)

	// Adjacent ids must include the fully-loosened address/topic combo.
	allNull := false
	for _, adj := range d.AdjacentIds {
		if adj == Fragment("log_1_null_null_null_null_null_1") {
			allNull = true
		}
	}
	assert.True(t, allNull, "adjacents must include the fully-loosened combination")

	// A fragment must appear among its own adjacents (reflexive).
	selfCovered := false
	for _, adj := range d.AdjacentIds {
		if adj == d.Fragment {
			selfCovered = true
		}
	}
	assert.True(t, selfCovered, "a fragment's adjacents must include itself")
}

func TestWantsReceiptZeroIsAdjacentToOne(t *testing.T) {
	f := filter.LogFilter{
		Common:  filter.Common{ChainID: 1},
		Address: filter.MatchAnyAddress(),
		Topic0:  filter.MatchAnyTopic(), Topic1: filter.MatchAnyTopic(), Topic2: filter.MatchAnyTopic(), Topic3: filter.MatchAnyTopic(),
	}
	decs := Decompose(f)
	require.Len(t, decs, 1)
	found := false
	for _, adj := range decs[0].AdjacentIds {
		if adj == "log_1_null_null_null_null_null_1" {
			found = true
		}
	}
	assert.True(t, found, "wantsReceipt=0 fragment's adjacents must include the wantsReceipt=1 cache entry")
}

func TestDecomposeLogFilterSetExpandsPerValue(t *testing.T) {
	addrB := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	f := filter.LogFilter{
		Common:  filter.Common{ChainID: 1},
		Address: filter.AddressMatch{Set: []common.Address{addrA, addrB}},
		Topic0:  filter.MatchAnyTopic(), Topic1: filter.MatchAnyTopic(), Topic2: filter.MatchAnyTopic(), Topic3: filter.MatchAnyTopic(),
	}
	decs := Decompose(f)
	assert.Len(t, decs, 2, "a 2-element address set must decompose into 2 fragments, one per value")
}

func TestDecomposeTransactionFilterAddressPair(t *testing.T) {
	f := filter.TransactionFilter{
		Common:      filter.Common{ChainID: 5},
		FromAddress: filter.AddressMatch{Address: &addrA},
		ToAddress:   filter.MatchAnyAddress(),
	}
	decs := Decompose(f)
	require.Len(t, decs, 1)
	assert.Contains(t, string(decs[0].Fragment), "transaction_5_")
}

func TestFactoryFragmentStableGrammar(t *testing.T) {
	fac := filter.Factory{
		Address:       addrA,
		EventSelector: topicT0,
		ChildAddressLocation: filter.ChildAddressLocation{Topic: 1},
		FromBlock:     100,
		ToBlock:       0,
	}
	got := FactoryFragment(1, fac)
	assert.Contains(t, string(got), "factory_log_1_")
	assert.Contains(t, string(got), "_topic1_100_0")
}

func TestRecoverFilterDeduplicatesAddresses(t *testing.T) {
	f := filter.LogFilter{Common: filter.Common{ChainID: 1}}
	frags := []Fragment{
		Fragment("log_1_" + addrA.Hex() + "_null_null_null_null_1"),
		Fragment("log_1_" + addrA.Hex() + "_null_null_null_null_0"),
	}
	addrs, _ := RecoverFilter(f, frags)
	assert.Len(t, addrs, 1, "the same address across two fragments must de-duplicate")
}
