// Package storage persists the exchange registries: maker nonces, order
// status, on-chain approvals, the token allow-list, protocol parameters and
// a journal of completed settlements.
package storage

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/order"
)

// Params are the owner-controlled protocol settings.
type Params struct {
	Owner          common.Address                 `json:"owner"`
	FeeSink        common.Address                 `json:"feeSink"`
	FeeBps         uint64                         `json:"feeBps"`
	Intermediaries map[asset.Class]common.Address `json:"intermediaries"`
}

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	out := p
	out.Intermediaries = make(map[asset.Class]common.Address, len(p.Intermediaries))
	for c, addr := range p.Intermediaries {
		out.Intermediaries[c] = addr
	}
	return out
}

// Settlement is the journal entry of one successful attempt.
type Settlement struct {
	Kind      string         `json:"kind"`
	Orders    []common.Hash  `json:"orders"`
	Caller    common.Address `json:"caller"`
	Time      uint64         `json:"time"`
	Transfers int            `json:"transfers"`
}

// Reader exposes single-entry registry lookups. Missing entries read as zero
// values, never as errors.
type Reader interface {
	Nonce(maker common.Address) (uint64, error)
	Status(hash common.Hash) (order.Status, error)
	Approved(hash common.Hash) (bool, error)
	Whitelisted(token common.Address) (bool, error)
	Params() (Params, error)
}

// Writer stages registry mutations.
type Writer interface {
	SetNonce(maker common.Address, nonce uint64) error
	SetStatus(hash common.Hash, status order.Status) error
	SetApproved(hash common.Hash, approved bool) error
	SetWhitelisted(token common.Address, ok bool) error
	SetParams(p Params) error
	RecordSettlement(s Settlement) error
}

// Batch reads through its own staged writes.
type Batch interface {
	Reader
	Writer
}

// Store is a registry backend. Update applies every write staged by fn
// atomically, or none of them if fn returns an error.
type Store interface {
	Reader
	Update(fn func(Batch) error) error
	RecentSettlements(limit int) ([]Settlement, error)
	Close() error
}
