package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/order"
)

// PebbleStore keeps the registries in a Pebble database.
type PebbleStore struct {
	pebbleReader
	db *pebble.DB
	mu sync.Mutex // serialises Update
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{pebbleReader: pebbleReader{g: db}, db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Update stages fn's writes in an indexed batch and commits them with one sync.
func (s *PebbleStore) Update(fn func(Batch) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewIndexedBatch()
	defer b.Close()

	if err := fn(&pebbleBatch{pebbleReader: pebbleReader{g: b}, b: b}); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// RecentSettlements returns up to limit journal entries, newest first.
func (s *PebbleStore) RecentSettlements(limit int) ([]Settlement, error) {
	prefix := []byte(prefixSettlement)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []Settlement
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var rec Settlement
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ Store = (*PebbleStore)(nil)

// getter is satisfied by both *pebble.DB and an indexed *pebble.Batch.
type getter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

type pebbleReader struct {
	g getter
}

func (r pebbleReader) get(key []byte) ([]byte, bool, error) {
	val, closer, err := r.g.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

func (r pebbleReader) Nonce(maker common.Address) (uint64, error) {
	val, ok, err := r.get(nonceKey(maker))
	if err != nil || !ok {
		return 0, err
	}
	return decodeUint64(val)
}

func (r pebbleReader) Status(hash common.Hash) (order.Status, error) {
	val, ok, err := r.get(statusKey(hash))
	if err != nil || !ok {
		return order.StatusUnset, err
	}
	if len(val) != 1 {
		return order.StatusUnset, fmt.Errorf("corrupt status for %s", hash.Hex())
	}
	return order.Status(val[0]), nil
}

func (r pebbleReader) Approved(hash common.Hash) (bool, error) {
	val, ok, err := r.get(approvedKey(hash))
	if err != nil || !ok {
		return false, err
	}
	return decodeFlag(val), nil
}

func (r pebbleReader) Whitelisted(token common.Address) (bool, error) {
	val, ok, err := r.get(whitelistKey(token))
	if err != nil || !ok {
		return false, err
	}
	return decodeFlag(val), nil
}

func (r pebbleReader) Params() (Params, error) {
	val, ok, err := r.get([]byte(keyParams))
	if err != nil {
		return Params{}, err
	}
	p := Params{}
	if ok {
		if err := json.Unmarshal(val, &p); err != nil {
			return Params{}, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	return p.Clone(), nil
}

type pebbleBatch struct {
	pebbleReader
	b *pebble.Batch
}

func (w *pebbleBatch) set(key, val []byte) error {
	if err := w.b.Set(key, val, nil); err != nil {
		return fmt.Errorf("failed to stage %q: %w", key, err)
	}
	return nil
}

func (w *pebbleBatch) del(key []byte) error {
	if err := w.b.Delete(key, nil); err != nil {
		return fmt.Errorf("failed to stage delete %q: %w", key, err)
	}
	return nil
}

func (w *pebbleBatch) SetNonce(maker common.Address, nonce uint64) error {
	return w.set(nonceKey(maker), encodeUint64(nonce))
}

func (w *pebbleBatch) SetStatus(hash common.Hash, status order.Status) error {
	if status == order.StatusUnset {
		return w.del(statusKey(hash))
	}
	return w.set(statusKey(hash), []byte{byte(status)})
}

func (w *pebbleBatch) SetApproved(hash common.Hash, approved bool) error {
	if !approved {
		return w.del(approvedKey(hash))
	}
	return w.set(approvedKey(hash), encodeFlag(true))
}

func (w *pebbleBatch) SetWhitelisted(token common.Address, ok bool) error {
	if !ok {
		return w.del(whitelistKey(token))
	}
	return w.set(whitelistKey(token), encodeFlag(true))
}

func (w *pebbleBatch) SetParams(p Params) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	return w.set([]byte(keyParams), data)
}

func (w *pebbleBatch) RecordSettlement(s Settlement) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return w.set(settlementKey(s), data)
}
