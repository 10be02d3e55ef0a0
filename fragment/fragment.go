// Package fragment decomposes filters into cacheable fragment keys and the
// looser "adjacent" ids whose cached intervals also cover them, per the
// stable grammar spec.md §6 fixes as compatibility-critical.
package fragment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsync/syncengine/filter"
)

const nullToken = "null"

// Fragment is the minimal exact cache key for a filter.
type Fragment string

// Decomposition is one filter's fragment plus every looser id whose cached
// interval also covers it.
type Decomposition struct {
	Fragment    Fragment
	AdjacentIds []Fragment
}

func addrToken(a *common.Address) string {
	if a == nil {
		return nullToken
	}
	return strings.ToLower(a.Hex())
}

func factoryToken(f *filter.Factory) string {
	loc := f.ChildAddressLocation
	var locToken string
	if loc.Topic != 0 {
		locToken = fmt.Sprintf("topic%d", loc.Topic)
	} else {
		locToken = fmt.Sprintf("data%d", loc.DataOffset)
	}
	return fmt.Sprintf("%s_%s_%s", strings.ToLower(f.Address.Hex()), strings.ToLower(f.EventSelector.Hex()), locToken)
}

// addressFieldToken renders an AddressMatch as its fragment grammar token:
// a concrete address, "null" for unconstrained/set-valued fields (a set
// cannot be represented by a single exact token so it decomposes into one
// fragment per address — see decomposeAddressValues), or the factory
// triple form.
func addressFieldToken(m filter.AddressMatch, single *common.Address) string {
	if m.Factory != nil {
		return factoryToken(m.Factory)
	}
	return addrToken(single)
}

func topicToken(h *common.Hash) string {
	if h == nil {
		return nullToken
	}
	return strings.ToLower(h.Hex())
}

func receiptToken(want bool) string {
	if want {
		return "1"
	}
	return "0"
}

// decomposeAddressValues expands an AddressMatch into the list of concrete
// single-address values (nil meaning "unconstrained") that each need their
// own fragment, since the grammar has no multi-value token.
func decomposeAddressValues(m filter.AddressMatch) []*common.Address {
	if m.Factory != nil {
		return []*common.Address{nil} // factory token carries its own identity; see addressFieldToken
	}
	if m.Any {
		return []*common.Address{nil}
	}
	if m.Address != nil {
		a := *m.Address
		return []*common.Address{&a}
	}
	if len(m.Set) == 0 {
		return []*common.Address{nil}
	}
	out := make([]*common.Address, len(m.Set))
	for i := range m.Set {
		a := m.Set[i]
		out[i] = &a
	}
	return out
}

func decomposeTopicValues(m filter.TopicMatch) []*common.Hash {
	if m.Any || len(m.Set) == 0 {
		return []*common.Hash{nil}
	}
	out := make([]*common.Hash, len(m.Set))
	for i := range m.Set {
		h := m.Set[i]
		out[i] = &h
	}
	return out
}

// Decompose yields one Decomposition per concrete value combination a
// multi-valued filter field expands to (spec.md §4.4's "minimal exact
// key" requirement forces the split: a fragment can only name single
// values, never a set).
func Decompose(f filter.Filter) []Decomposition {
	switch v := f.(type) {
	case filter.BlockFilter:
		return []Decomposition{decomposeBlock(v)}
	case filter.LogFilter:
		return decomposeLog(v)
	case filter.TransactionFilter:
		return decomposeTransaction(v)
	case filter.TraceFilter:
		return decomposeTrace(v)
	case filter.TransferFilter:
		return decomposeTransfer(v)
	default:
		return nil
	}
}

func decomposeBlock(f filter.BlockFilter) Decomposition {
	key := Fragment(fmt.Sprintf("block_%d_%d_%d", f.ChainID, f.Interval, f.Offset))
	return Decomposition{Fragment: key, AdjacentIds: []Fragment{key}}
}

// decomposeLog cross-products address/topic1/topic2/topic3 but, per
// spec.md §3, never explodes topic0: topic0's alternatives are recovered
// at read time by the matcher scanning looser cached fragments, so the
// fragment key always carries "null" in the topic0 position regardless of
// what the filter actually requests there.
func decomposeLog(f filter.LogFilter) []Decomposition {
	wantsReceipt := filter.ShouldGetTransactionReceipt(f)
	addrs := decomposeAddressValues(f.Address)
	t1s := decomposeTopicValues(f.Topic1)
	t2s := decomposeTopicValues(f.Topic2)
	t3s := decomposeTopicValues(f.Topic3)

	var out []Decomposition
	for _, a := range addrs {
		for _, t1 := range t1s {
			for _, t2 := range t2s {
				for _, t3 := range t3s {
					addrTok := addressFieldToken(f.Address, a)
					key := Fragment(fmt.Sprintf("log_%d_%s_%s_%s_%s_%s_%s",
						f.ChainID, addrTok, nullToken, topicToken(t1), topicToken(t2), topicToken(t3), receiptToken(wantsReceipt)))
					adj := logAdjacents(f.ChainID, addrTok, t1, t2, t3, wantsReceipt)
					out = append(out, Decomposition{Fragment: key, AdjacentIds: adj})
				}
			}
		}
	}
	return out
}

// logAdjacents enumerates every looser log fragment id whose cached
// interval also covers the given concrete combination: address/topic1..3
// each independently loosened to "null" (topic0 is always "null", never
// exploded), and wantsReceipt=0 additionally loosened to 1 (a
// receipt-bearing cache entry is a superset of one without receipts) per
// spec.md §4.4.
func logAdjacents(chainID uint64, addrTok string, t1, t2, t3 *common.Hash, wantsReceipt bool) []Fragment {
	addrOptions := []string{addrTok}
	if addrTok != nullToken {
		addrOptions = append(addrOptions, nullToken)
	}
	topicOptions := func(h *common.Hash) []string {
		tok := topicToken(h)
		if tok == nullToken {
			return []string{nullToken}
		}
		return []string{tok, nullToken}
	}
	t1Opts, t2Opts, t3Opts := topicOptions(t1), topicOptions(t2), topicOptions(t3)

	receiptOptions := []string{receiptToken(wantsReceipt)}
	if !wantsReceipt {
		receiptOptions = append(receiptOptions, receiptToken(true))
	}

	var ids []Fragment
	for _, a := range addrOptions {
		for _, o1 := range t1Opts {
			for _, o2 := range t2Opts {
				for _, o3 := range t3Opts {
					for _, r := range receiptOptions {
						ids = append(ids, Fragment(fmt.Sprintf("log_%d_%s_%s_%s_%s_%s_%s", chainID, a, nullToken, o1, o2, o3, r)))
					}
				}
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func decomposeTransaction(f filter.TransactionFilter) []Decomposition {
	froms := decomposeAddressValues(f.FromAddress)
	tos := decomposeAddressValues(f.ToAddress)

	var out []Decomposition
	for _, fr := range froms {
		for _, to := range tos {
			frTok := addressFieldToken(f.FromAddress, fr)
			toTok := addressFieldToken(f.ToAddress, to)
			key := Fragment(fmt.Sprintf("transaction_%d_%s_%s", f.ChainID, frTok, toTok))
			out = append(out, Decomposition{Fragment: key, AdjacentIds: addressPairAdjacents("transaction", f.ChainID, frTok, toTok, nil)})
		}
	}
	return out
}

func decomposeTrace(f filter.TraceFilter) []Decomposition {
	wantsReceipt := filter.ShouldGetTransactionReceipt(f)
	froms := decomposeAddressValues(f.FromAddress)
	tos := decomposeAddressValues(f.ToAddress)
	sels := decomposeTopicValues(f.FunctionSelector)

	var out []Decomposition
	for _, fr := range froms {
		for _, to := range tos {
			for _, sel := range sels {
				frTok := addressFieldToken(f.FromAddress, fr)
				toTok := addressFieldToken(f.ToAddress, to)
				selTok := topicToken(sel)
				key := Fragment(fmt.Sprintf("trace_%d_%s_%s_%s_%s", f.ChainID, frTok, toTok, selTok, receiptToken(wantsReceipt)))
				adj := addressPairAdjacents("trace", f.ChainID, frTok, toTok, func(chainID uint64, a, b string) []Fragment {
					selOptions := []string{selTok}
					if selTok != nullToken {
						selOptions = append(selOptions, nullToken)
					}
					receiptOptions := []string{receiptToken(wantsReceipt)}
					if wantsReceipt {
						receiptOptions = append(receiptOptions, receiptToken(false))
					}
					var ids []Fragment
					for _, s := range selOptions {
						for _, r := range receiptOptions {
							ids = append(ids, Fragment(fmt.Sprintf("trace_%d_%s_%s_%s_%s", chainID, a, b, s, r)))
						}
					}
					return ids
				})
				out = append(out, Decomposition{Fragment: key, AdjacentIds: adj})
			}
		}
	}
	return out
}

func decomposeTransfer(f filter.TransferFilter) []Decomposition {
	wantsReceipt := filter.ShouldGetTransactionReceipt(f)
	froms := decomposeAddressValues(f.FromAddress)
	tos := decomposeAddressValues(f.ToAddress)

	var out []Decomposition
	for _, fr := range froms {
		for _, to := range tos {
			frTok := addressFieldToken(f.FromAddress, fr)
			toTok := addressFieldToken(f.ToAddress, to)
			key := Fragment(fmt.Sprintf("transfer_%d_%s_%s_%s", f.ChainID, frTok, toTok, receiptToken(wantsReceipt)))
			adj := addressPairAdjacents("transfer", f.ChainID, frTok, toTok, func(chainID uint64, a, b string) []Fragment {
				receiptOptions := []string{receiptToken(wantsReceipt)}
				if wantsReceipt {
					receiptOptions = append(receiptOptions, receiptToken(false))
				}
				var ids []Fragment
				for _, r := range receiptOptions {
					ids = append(ids, Fragment(fmt.Sprintf("transfer_%d_%s_%s_%s", chainID, a, b, r)))
				}
				return ids
			})
			out = append(out, Decomposition{Fragment: key, AdjacentIds: adj})
		}
	}
	return out
}

// addressPairAdjacents loosens a from/to address pair to "null"
// independently, then lets extra (kind-specific trailing fields) append
// further adjacent ids for each loosened pair. extra is nil for
// transaction fragments, which have no trailing fields.
func addressPairAdjacents(kind string, chainID uint64, frTok, toTok string, extra func(chainID uint64, a, b string) []Fragment) []Fragment {
	frOptions := []string{frTok}
	if frTok != nullToken {
		frOptions = append(frOptions, nullToken)
	}
	toOptions := []string{toTok}
	if toTok != nullToken {
		toOptions = append(toOptions, nullToken)
	}

	var ids []Fragment
	for _, a := range frOptions {
		for _, b := range toOptions {
			if extra != nil {
				ids = append(ids, extra(chainID, a, b)...)
				continue
			}
			ids = append(ids, Fragment(fmt.Sprintf("%s_%d_%s_%s", kind, chainID, a, b)))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FactoryFragment builds the cache key factories are stored under,
// identifying the (factoryAddress, eventSelector, childAddressLocation,
// fromBlock, toBlock) tuple independent of any filter that references it.
func FactoryFragment(chainID uint64, f filter.Factory) Fragment {
	loc := f.ChildAddressLocation
	var locToken string
	if loc.Topic != 0 {
		locToken = fmt.Sprintf("topic%d", loc.Topic)
	} else {
		locToken = fmt.Sprintf("data%d", loc.DataOffset)
	}
	return Fragment(fmt.Sprintf("factory_log_%d_%s_%s_%s_%d_%d",
		chainID, strings.ToLower(f.Address.Hex()), strings.ToLower(f.EventSelector.Hex()), locToken, f.FromBlock, f.ToBlock))
}

// RecoverFilter inverts a split, de-duplicating the concrete address/topic
// values present across a group of fragments that all decomposed from
// baseFilter, reporting which of the base filter's multi-valued members
// the given fragments actually cover. No other package in this module
// calls it.
func RecoverFilter(baseFilter filter.Filter, fragments []Fragment) (coveredAddresses []common.Address, coveredTopics [][]common.Hash) {
	seenAddr := map[string]common.Address{}
	seenTopics := make([]map[string]common.Hash, 4)
	for i := range seenTopics {
		seenTopics[i] = map[string]common.Hash{}
	}

	for _, frag := range fragments {
		parts := strings.Split(string(frag), "_")
		if len(parts) < 2 {
			continue
		}
		switch parts[0] {
		case "log":
			if len(parts) < 8 {
				continue
			}
			recordAddr(seenAddr, parts[2])
			for i := 0; i < 4; i++ {
				recordTopic(seenTopics[i], parts[3+i])
			}
		case "transaction", "transfer":
			if len(parts) < 4 {
				continue
			}
			recordAddr(seenAddr, parts[2])
			recordAddr(seenAddr, parts[3])
		case "trace":
			if len(parts) < 5 {
				continue
			}
			recordAddr(seenAddr, parts[2])
			recordAddr(seenAddr, parts[3])
		}
	}

	_ = baseFilter
	for _, a := range seenAddr {
		coveredAddresses = append(coveredAddresses, a)
	}
	for i := 0; i < 4; i++ {
		var hs []common.Hash
		for _, h := range seenTopics[i] {
			hs = append(hs, h)
		}
		coveredTopics = append(coveredTopics, hs)
	}
	return coveredAddresses, coveredTopics
}

func recordAddr(dst map[string]common.Address, tok string) {
	if tok == nullToken || tok == "" || strings.Count(tok, "_") > 0 {
		return // null, empty, or a factory triple — nothing concrete to recover
	}
	dst[tok] = common.HexToAddress(tok)
}

func recordTopic(dst map[string]common.Hash, tok string) {
	if tok == nullToken || tok == "" {
		return
	}
	dst[tok] = common.HexToHash(tok)
}
