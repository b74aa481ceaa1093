package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/order"
)

var (
	maker = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	token = common.HexToAddress("0x0000000000000000000000000000000000000020")
	hashA = common.HexToHash("0x0a")
	hashB = common.HexToHash("0x0b")
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	ps, err := NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { ps.Close() })
	return map[string]Store{
		"mem":    NewMemStore(),
		"pebble": ps,
	}
}

func TestZeroValues(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if n, err := s.Nonce(maker); err != nil || n != 0 {
				t.Errorf("Nonce = %d, %v; want 0, nil", n, err)
			}
			if st, err := s.Status(hashA); err != nil || st != order.StatusUnset {
				t.Errorf("Status = %s, %v; want unset", st, err)
			}
			if ok, err := s.Approved(hashA); err != nil || ok {
				t.Errorf("Approved = %v, %v; want false", ok, err)
			}
			if ok, err := s.Whitelisted(token); err != nil || ok {
				t.Errorf("Whitelisted = %v, %v; want false", ok, err)
			}
			p, err := s.Params()
			if err != nil {
				t.Fatalf("Params: %v", err)
			}
			if p.Owner != (common.Address{}) || p.Intermediaries == nil {
				t.Errorf("unexpected zero params %+v", p)
			}
		})
	}
}

func TestUpdateCommits(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			params := Params{
				Owner:          maker,
				FeeSink:        common.HexToAddress("0xfee"),
				FeeBps:         250,
				Intermediaries: map[asset.Class]common.Address{asset.ClassFungible: common.HexToAddress("0x77")},
			}
			err := s.Update(func(b Batch) error {
				if err := b.SetNonce(maker, 3); err != nil {
					return err
				}
				// Reads inside the batch see staged writes.
				if n, _ := b.Nonce(maker); n != 3 {
					t.Errorf("staged nonce = %d, want 3", n)
				}
				if err := b.SetStatus(hashA, order.StatusCancelled); err != nil {
					return err
				}
				if err := b.SetApproved(hashB, true); err != nil {
					return err
				}
				if err := b.SetWhitelisted(token, true); err != nil {
					return err
				}
				return b.SetParams(params)
			})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}

			if n, _ := s.Nonce(maker); n != 3 {
				t.Errorf("Nonce = %d, want 3", n)
			}
			if st, _ := s.Status(hashA); st != order.StatusCancelled {
				t.Errorf("Status = %s, want cancelled", st)
			}
			if ok, _ := s.Approved(hashB); !ok {
				t.Error("approval not persisted")
			}
			if ok, _ := s.Whitelisted(token); !ok {
				t.Error("whitelist not persisted")
			}
			got, err := s.Params()
			if err != nil {
				t.Fatalf("Params: %v", err)
			}
			if got.Owner != maker || got.FeeBps != 250 || got.Intermediaries[asset.ClassFungible] != common.HexToAddress("0x77") {
				t.Errorf("Params = %+v", got)
			}

			// Flags can be cleared again.
			if err := s.Update(func(b Batch) error { return b.SetWhitelisted(token, false) }); err != nil {
				t.Fatalf("Update: %v", err)
			}
			if ok, _ := s.Whitelisted(token); ok {
				t.Error("whitelist flag not cleared")
			}
		})
	}
}

func TestUpdateRollsBack(t *testing.T) {
	errBoom := errors.New("boom")
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Update(func(b Batch) error {
				b.SetNonce(maker, 9)
				b.SetStatus(hashA, order.StatusExecuted)
				return errBoom
			})
			if !errors.Is(err, errBoom) {
				t.Fatalf("Update err = %v, want boom", err)
			}
			if n, _ := s.Nonce(maker); n != 0 {
				t.Errorf("Nonce = %d after failed update, want 0", n)
			}
			if st, _ := s.Status(hashA); st != order.StatusUnset {
				t.Errorf("Status = %s after failed update, want unset", st)
			}
		})
	}
}

func TestParamsAreCopies(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			p := Params{Owner: maker, Intermediaries: map[asset.Class]common.Address{}}
			if err := s.Update(func(b Batch) error { return b.SetParams(p) }); err != nil {
				t.Fatalf("Update: %v", err)
			}
			p.Intermediaries[asset.ClassNative] = common.HexToAddress("0x01")

			got, _ := s.Params()
			if _, ok := got.Intermediaries[asset.ClassNative]; ok {
				t.Error("store shares the caller's map")
			}
			got.Intermediaries[asset.ClassNative] = common.HexToAddress("0x02")
			again, _ := s.Params()
			if _, ok := again.Intermediaries[asset.ClassNative]; ok {
				t.Error("store shares the returned map")
			}
		})
	}
}

func TestRecentSettlements(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for i, h := range []common.Hash{hashA, hashB, common.HexToHash("0x0c")} {
				rec := Settlement{Kind: "buy", Orders: []common.Hash{h}, Caller: maker, Time: uint64(100 + i)}
				if err := s.Update(func(b Batch) error { return b.RecordSettlement(rec) }); err != nil {
					t.Fatalf("Update: %v", err)
				}
			}

			got, err := s.RecentSettlements(2)
			if err != nil {
				t.Fatalf("RecentSettlements: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("got %d entries, want 2", len(got))
			}
			if got[0].Time != 102 || got[1].Time != 101 {
				t.Errorf("times = %d, %d; want 102, 101", got[0].Time, got[1].Time)
			}
			if got[0].Orders[0] != common.HexToHash("0x0c") {
				t.Errorf("newest order = %s", got[0].Orders[0].Hex())
			}
		})
	}
}

func TestPebbleReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Update(func(b Batch) error { return b.SetNonce(maker, 41) }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if n, _ := s.Nonce(maker); n != 41 {
		t.Errorf("Nonce after reopen = %d, want 41", n)
	}
}
