package pebblestore

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsync/syncengine/fragment"
)

// Key layout mirrors the teacher's fixed-width, prefix-scoped scheme:
// zero-padded decimal block numbers so a range scan over a byte-ordered
// key space matches numeric block order.
const (
	prefixBlockByHash   = "/block/byhash/"
	prefixBlockByNumber = "/block/bynum/"
	prefixTx            = "/tx/"
	prefixReceipt       = "/receipt/"
	prefixLog           = "/log/"
	prefixTrace         = "/trace/"
	prefixInterval      = "/interval/"
	prefixFactoryAddr   = "/factoryaddr/"
	prefixRPCCache      = "/rpccache/"
)

func blockByHashKey(chainID uint64, hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixBlockByHash, chainID, hash.Hex()))
}

func blockByNumberKey(chainID, number uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d", prefixBlockByNumber, chainID, number))
}

func blockByNumberPrefix(chainID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/", prefixBlockByNumber, chainID))
}

func txKey(chainID, blockNumber, txIndex uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d/%020d", prefixTx, chainID, blockNumber, txIndex))
}

func txRangePrefix(chainID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/", prefixTx, chainID))
}

func receiptKey(chainID, blockNumber, txIndex uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d/%020d", prefixReceipt, chainID, blockNumber, txIndex))
}

func receiptRangePrefix(chainID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/", prefixReceipt, chainID))
}

func logKey(chainID, blockNumber, txIndex, logIndex uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d/%020d/%020d", prefixLog, chainID, blockNumber, txIndex, logIndex))
}

func logRangePrefix(chainID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/", prefixLog, chainID))
}

func traceKey(chainID, blockNumber, txIndex, traceIndex uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d/%020d/%020d", prefixTrace, chainID, blockNumber, txIndex, traceIndex))
}

func traceRangePrefix(chainID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/", prefixTrace, chainID))
}

func intervalKey(chainID uint64, frag fragment.Fragment) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixInterval, chainID, frag))
}

func factoryAddrKey(frag fragment.Fragment, chainID uint64, addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", prefixFactoryAddr, frag, chainID, addr.Hex()))
}

func factoryAddrRangePrefix(frag fragment.Fragment, chainID uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/", prefixFactoryAddr, frag, chainID))
}

func rpcCacheKey(requestHash string) []byte {
	return []byte(prefixRPCCache + requestHash)
}

// prefixUpperBound returns the exclusive upper bound for an iterator scan
// over all keys sharing prefix p, by incrementing its last byte.
func prefixUpperBound(p []byte) []byte {
	end := make([]byte, len(p))
	copy(end, p)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix was all 0xff, unbounded scan
}
