package storage

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/order"
)

// MemStore is an in-memory Store for tests and ephemeral nodes.
type MemStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	nonces      map[common.Address]uint64
	status      map[common.Hash]order.Status
	approved    map[common.Hash]bool
	whitelist   map[common.Address]bool
	params      *Params
	settlements []Settlement
}

func NewMemStore() *MemStore {
	return &MemStore{state: memState{
		nonces:    make(map[common.Address]uint64),
		status:    make(map[common.Hash]order.Status),
		approved:  make(map[common.Hash]bool),
		whitelist: make(map[common.Address]bool),
	}}
}

func (s *MemStore) Nonce(maker common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.nonces[maker], nil
}

func (s *MemStore) Status(hash common.Hash) (order.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.status[hash], nil
}

func (s *MemStore) Approved(hash common.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.approved[hash], nil
}

func (s *MemStore) Whitelisted(token common.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.whitelist[token], nil
}

func (s *MemStore) Params() (Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.readParams(), nil
}

func (st *memState) readParams() Params {
	if st.params == nil {
		return Params{}.Clone()
	}
	return st.params.Clone()
}

// Update runs fn against an overlay and applies it only if fn succeeds.
func (s *MemStore) Update(fn func(Batch) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &memBatch{
		base:      &s.state,
		nonces:    make(map[common.Address]uint64),
		status:    make(map[common.Hash]order.Status),
		approved:  make(map[common.Hash]bool),
		whitelist: make(map[common.Address]bool),
	}
	if err := fn(b); err != nil {
		return err
	}
	b.apply()
	return nil
}

func (s *MemStore) RecentSettlements(limit int) ([]Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append([]Settlement(nil), s.state.settlements...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Time > all[j].Time })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)

type memBatch struct {
	base        *memState
	nonces      map[common.Address]uint64
	status      map[common.Hash]order.Status
	approved    map[common.Hash]bool
	whitelist   map[common.Address]bool
	params      *Params
	settlements []Settlement
}

func (b *memBatch) Nonce(maker common.Address) (uint64, error) {
	if n, ok := b.nonces[maker]; ok {
		return n, nil
	}
	return b.base.nonces[maker], nil
}

func (b *memBatch) Status(hash common.Hash) (order.Status, error) {
	if st, ok := b.status[hash]; ok {
		return st, nil
	}
	return b.base.status[hash], nil
}

func (b *memBatch) Approved(hash common.Hash) (bool, error) {
	if ok, staged := b.approved[hash]; staged {
		return ok, nil
	}
	return b.base.approved[hash], nil
}

func (b *memBatch) Whitelisted(token common.Address) (bool, error) {
	if ok, staged := b.whitelist[token]; staged {
		return ok, nil
	}
	return b.base.whitelist[token], nil
}

func (b *memBatch) Params() (Params, error) {
	if b.params != nil {
		return b.params.Clone(), nil
	}
	return b.base.readParams(), nil
}

func (b *memBatch) SetNonce(maker common.Address, nonce uint64) error {
	b.nonces[maker] = nonce
	return nil
}

func (b *memBatch) SetStatus(hash common.Hash, status order.Status) error {
	b.status[hash] = status
	return nil
}

func (b *memBatch) SetApproved(hash common.Hash, approved bool) error {
	b.approved[hash] = approved
	return nil
}

func (b *memBatch) SetWhitelisted(token common.Address, ok bool) error {
	b.whitelist[token] = ok
	return nil
}

func (b *memBatch) SetParams(p Params) error {
	cp := p.Clone()
	b.params = &cp
	return nil
}

func (b *memBatch) RecordSettlement(s Settlement) error {
	b.settlements = append(b.settlements, s)
	return nil
}

func (b *memBatch) apply() {
	for k, v := range b.nonces {
		b.base.nonces[k] = v
	}
	for k, v := range b.status {
		b.base.status[k] = v
	}
	for k, v := range b.approved {
		b.base.approved[k] = v
	}
	for k, v := range b.whitelist {
		b.base.whitelist[k] = v
	}
	if b.params != nil {
		b.base.params = b.params
	}
	b.base.settlements = append(b.base.settlements, b.settlements...)
}
