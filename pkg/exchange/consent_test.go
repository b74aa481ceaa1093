package exchange

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/order"
)

func TestCancelIsPermanent(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.alice.Address(), f.bob.Address()
	o := nftForTokens(alice, 7, 100)
	sig := f.sign(f.alice, o)

	if _, err := f.x.Cancel(bob, o); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("cancel by non-maker: err = %v, want ErrUnauthorized", err)
	}
	h, err := f.x.Cancel(alice, o)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if h != f.hash(o) {
		t.Errorf("cancel returned %s, want the order hash", h.Hex())
	}
	if _, err := f.x.Cancel(alice, o); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("re-cancel: err = %v, want ErrAlreadyConsumed", err)
	}
	if _, err := f.x.Approve(alice, o); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("approve cancelled: err = %v, want ErrAlreadyConsumed", err)
	}

	for _, at := range []uint64{now, now + 1_000_000} {
		if v := f.x.ValidateOrder(o, sig, at); !errors.Is(v.Err, ErrAlreadyConsumed) {
			t.Errorf("at %d: err = %v, want ErrAlreadyConsumed", at, v.Err)
		}
	}
}

func TestCancelExecutedOrderFails(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.alice.Address(), f.bob.Address()
	f.l.MintUnit(asset.ClassNonFungible, apes, big.NewInt(7), alice)
	f.l.MintToken(usdc, bob, big.NewInt(100))

	o := nftForTokens(alice, 7, 100)
	if _, err := f.x.BuyNow(context.Background(), Call{Caller: bob, Now: now}, o, f.sign(f.alice, o)); err != nil {
		t.Fatalf("buy now: %v", err)
	}
	if _, err := f.x.Cancel(alice, o); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("cancel executed: err = %v, want ErrAlreadyConsumed", err)
	}
	if st, _ := f.x.StatusOf(f.hash(o)); st != order.StatusExecuted {
		t.Errorf("status = %s, want executed", st)
	}
}

func TestCancelUnsignedGarbage(t *testing.T) {
	f := newFixture(t)
	// A maker can burn any hash, even one that would never validate.
	o := &order.Order{Maker: f.alice.Address(), Salt: big.NewInt(1)}
	if _, err := f.x.Cancel(f.alice.Address(), o); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestAdvanceNonceInvalidatesOutstandingOrders(t *testing.T) {
	f := newFixture(t)
	alice := f.alice.Address()

	old := nftForTokens(alice, 7, 100)
	oldSig := f.sign(f.alice, old)
	if v := f.x.ValidateOrder(old, oldSig, now); !v.Valid {
		t.Fatalf("order at nonce 0 rejected: %v", v.Err)
	}

	n, err := f.x.AdvanceNonce(alice)
	if err != nil {
		t.Fatalf("advance nonce: %v", err)
	}
	if n != 1 {
		t.Errorf("nonce = %d, want 1", n)
	}
	if v := f.x.ValidateOrder(old, oldSig, now); !errors.Is(v.Err, ErrStaleNonce) {
		t.Errorf("old order: err = %v, want ErrStaleNonce", v.Err)
	}

	fresh := nftForTokens(alice, 7, 100)
	fresh.Nonce = 1
	if v := f.x.ValidateOrder(fresh, f.sign(f.alice, fresh), now); !v.Valid {
		t.Errorf("order at nonce 1 rejected: %v", v.Err)
	}

	// Other makers are unaffected.
	if got, _ := f.x.NonceOf(f.bob.Address()); got != 0 {
		t.Errorf("bob nonce = %d, want 0", got)
	}
}

func TestApproveRequiresValidShape(t *testing.T) {
	f := newFixture(t)
	o := nftForTokens(f.alice.Address(), 7, 100)
	o.BuyAssets = nil
	if _, err := f.x.Approve(f.alice.Address(), o); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("err = %v, want ErrInvalidOrder", err)
	}
}
