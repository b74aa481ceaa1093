package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	nonce:<maker>                 -> uint64 big-endian
//	status:<orderHash>            -> 1 byte order.Status
//	appr:<orderHash>              -> 1 byte flag
//	wl:<token>                    -> 1 byte flag
//	params                        -> JSON Params
//	settle:<time>:<firstOrderHash> -> JSON Settlement
const (
	prefixNonce      = "nonce:"
	prefixStatus     = "status:"
	prefixApproved   = "appr:"
	prefixWhitelist  = "wl:"
	prefixSettlement = "settle:"
	keyParams        = "params"
)

func nonceKey(maker common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, maker.Hex()))
}

func statusKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixStatus, hash.Hex()))
}

func approvedKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixApproved, hash.Hex()))
}

func whitelistKey(token common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixWhitelist, token.Hex()))
}

// settlementKey zero-pads the timestamp (20 digits) for lexicographic ordering.
func settlementKey(s Settlement) []byte {
	var first common.Hash
	if len(s.Orders) > 0 {
		first = s.Orders[0]
	}
	return []byte(fmt.Sprintf("%s%020d:%s", prefixSettlement, s.Time, first.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
