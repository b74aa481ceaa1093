package exchange

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/order"
)

func TestBuyNowFixedPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.alice.Address(), f.bob.Address()

	f.l.MintUnit(asset.ClassNonFungible, apes, big.NewInt(7), alice)
	f.l.MintToken(usdc, bob, big.NewInt(1_000))

	o := nftForTokens(alice, 7, 100)
	sig := f.sign(f.alice, o)

	rcpt, err := f.x.BuyNow(ctx, Call{Caller: bob, Now: now}, o, sig)
	if err != nil {
		t.Fatalf("buy now: %v", err)
	}

	if owner, _ := f.l.OwnerOf(asset.ClassNonFungible, apes, big.NewInt(7)); owner != bob {
		t.Errorf("unit owner = %s, want bob", owner.Hex())
	}
	// 2.5% of 100, floored.
	if got := f.l.TokenBalance(usdc, alice); got.Int64() != 98 {
		t.Errorf("maker balance = %s, want 98", got)
	}
	if got := f.l.TokenBalance(usdc, sink); got.Int64() != 2 {
		t.Errorf("sink balance = %s, want 2", got)
	}
	if got := f.l.TokenBalance(usdc, bob); got.Int64() != 900 {
		t.Errorf("buyer balance = %s, want 900", got)
	}

	if len(rcpt.Transfers) != 2 {
		t.Fatalf("transfers = %d, want 2", len(rcpt.Transfers))
	}
	pay := rcpt.Transfers[0]
	if sum := new(big.Int).Add(pay.Amount, pay.Fee); sum.Int64() != 100 {
		t.Errorf("net + fee = %s, want 100", sum)
	}
	if st, _ := f.x.StatusOf(f.hash(o)); st != order.StatusExecuted {
		t.Errorf("status = %s, want executed", st)
	}

	_, err = f.x.BuyNow(ctx, Call{Caller: bob, Now: now}, o, sig)
	if !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("second fill: err = %v, want ErrAlreadyConsumed", err)
	}

	recent, _ := f.x.RecentSettlements(5)
	if len(recent) != 1 || recent[0].Kind != "buy" || recent[0].Caller != bob {
		t.Errorf("journal = %+v", recent)
	}
}

func TestBuyNowNative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.alice.Address(), f.bob.Address()

	f.l.MintUnit(asset.ClassCollectible, punks, big.NewInt(3), alice)
	f.l.Deposit(bob, big.NewInt(5_000))

	o := &order.Order{
		Maker:      alice,
		SellAssets: []asset.Asset{asset.Collectible(punks, big.NewInt(3))},
		BuyAssets:  []asset.Asset{asset.Native(big.NewInt(1_000), big.NewInt(1_000))},
		Salt:       big.NewInt(5),
	}
	sig := f.sign(f.alice, o)

	// Attached value short of the price: nothing moves.
	_, err := f.x.BuyNow(ctx, Call{Caller: bob, Value: big.NewInt(999), Now: now}, o, sig)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("short value: err = %v, want ErrTransferFailed", err)
	}
	if got := f.l.NativeBalance(bob); got.Int64() != 5_000 {
		t.Errorf("buyer balance after failed attempt = %s, want 5000", got)
	}
	if st, _ := f.x.StatusOf(f.hash(o)); st != order.StatusUnset {
		t.Errorf("status after failed attempt = %s, want unset", st)
	}

	rcpt, err := f.x.BuyNow(ctx, Call{Caller: bob, Value: big.NewInt(1_500), Now: now}, o, sig)
	if err != nil {
		t.Fatalf("buy now: %v", err)
	}
	if rcpt.Refund.Int64() != 500 {
		t.Errorf("refund = %s, want 500", rcpt.Refund)
	}
	if got := f.l.NativeBalance(bob); got.Int64() != 4_000 {
		t.Errorf("buyer balance = %s, want 4000", got)
	}
	if got := f.l.NativeBalance(alice); got.Int64() != 975 {
		t.Errorf("maker balance = %s, want 975", got)
	}
	if got := f.l.NativeBalance(sink); got.Int64() != 25 {
		t.Errorf("sink balance = %s, want 25", got)
	}
	if got := f.l.NativeBalance(core); got.Sign() != 0 {
		t.Errorf("engine kept %s", got)
	}
	if owner, _ := f.l.OwnerOf(asset.ClassCollectible, punks, big.NewInt(3)); owner != bob {
		t.Errorf("collectible owner = %s, want bob", owner.Hex())
	}
}

func TestBuyNowDecreasingPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.alice.Address(), f.bob.Address()

	f.l.MintUnit(asset.ClassNonFungible, apes, big.NewInt(1), alice)
	f.l.MintToken(usdc, bob, big.NewInt(10_000))

	o := &order.Order{
		Maker:      alice,
		SellAssets: []asset.Asset{asset.NonFungible(apes, big.NewInt(1), true)},
		BuyAssets:  []asset.Asset{asset.Fungible(usdc, big.NewInt(2_000), big.NewInt(1_000))},
		Start:      now - 50,
		End:        now + 50,
		Salt:       big.NewInt(1),
		Mode:       order.ModeDecreasing,
	}
	if _, err := f.x.BuyNow(ctx, Call{Caller: bob, Now: now}, o, f.sign(f.alice, o)); err != nil {
		t.Fatalf("buy now: %v", err)
	}
	// Midpoint: 1500, fee 37.
	if got := f.l.TokenBalance(usdc, bob); got.Int64() != 8_500 {
		t.Errorf("buyer balance = %s, want 8500", got)
	}
	if got := f.l.TokenBalance(usdc, alice); got.Int64() != 1_463 {
		t.Errorf("maker balance = %s, want 1463", got)
	}
}

func TestBuyNowRestrictions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.alice.Address(), f.bob.Address(), f.carol.Address()
	f.l.MintUnit(asset.ClassNonFungible, apes, big.NewInt(7), alice)
	f.l.MintToken(usdc, carol, big.NewInt(1_000))

	reserved := nftForTokens(alice, 7, 100)
	reserved.Taker = bob
	_, err := f.x.BuyNow(ctx, Call{Caller: carol, Now: now}, reserved, f.sign(f.alice, reserved))
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("reserved order: err = %v, want ErrUnauthorized", err)
	}

	wildcard := &order.Order{
		Maker:      alice,
		SellAssets: []asset.Asset{asset.Fungible(usdc, big.NewInt(10), big.NewInt(10))},
		BuyAssets:  []asset.Asset{asset.Collection(apes)},
		Salt:       big.NewInt(2),
	}
	_, err = f.x.BuyNow(ctx, Call{Caller: carol, Now: now}, wildcard, f.sign(f.alice, wildcard))
	if !errors.Is(err, ErrMatchMismatch) {
		t.Errorf("wildcard order: err = %v, want ErrMatchMismatch", err)
	}

	nativeOffer := &order.Order{
		Maker:      alice,
		SellAssets: []asset.Asset{asset.Native(big.NewInt(10), big.NewInt(10))},
		BuyAssets:  []asset.Asset{asset.Fungible(usdc, big.NewInt(10), big.NewInt(10))},
		Salt:       big.NewInt(3),
	}
	_, err = f.x.BuyNow(ctx, Call{Caller: carol, Now: now}, nativeOffer, f.sign(f.alice, nativeOffer))
	if !errors.Is(err, ErrMatchMismatch) {
		t.Errorf("native offer: err = %v, want ErrMatchMismatch", err)
	}
}

func TestBuyNowRollsBackOnTransferFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.alice.Address(), f.bob.Address()

	// Bob can pay, but Alice does not own the unit she offers.
	f.l.MintToken(usdc, bob, big.NewInt(1_000))
	o := nftForTokens(alice, 7, 100)

	_, err := f.x.BuyNow(ctx, Call{Caller: bob, Now: now}, o, f.sign(f.alice, o))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if got := f.l.TokenBalance(usdc, bob); got.Int64() != 1_000 {
		t.Errorf("buyer balance = %s, want 1000", got)
	}
	if got := f.l.TokenBalance(usdc, alice); got.Sign() != 0 {
		t.Errorf("maker balance = %s, want 0", got)
	}
	if got := f.l.TokenBalance(usdc, sink); got.Sign() != 0 {
		t.Errorf("sink balance = %s, want 0", got)
	}
	if st, _ := f.x.StatusOf(f.hash(o)); st != order.StatusUnset {
		t.Errorf("status = %s, want unset", st)
	}
}

func TestExecuteSwapEnglish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.alice.Address(), f.bob.Address()

	f.l.MintUnit(asset.ClassNonFungible, apes, big.NewInt(7), alice)
	f.l.MintToken(usdc, bob, big.NewInt(600))

	sell := &order.Order{
		Maker:      alice,
		SellAssets: []asset.Asset{asset.NonFungible(apes, big.NewInt(7), true)},
		BuyAssets:  []asset.Asset{asset.Fungible(usdc, big.NewInt(10), big.NewInt(10))},
		Salt:       big.NewInt(1),
		Mode:       order.ModeEnglish,
	}
	buy := &order.Order{
		Maker:      bob,
		SellAssets: []asset.Asset{asset.Fungible(usdc, big.NewInt(500), big.NewInt(500))},
		BuyAssets:  []asset.Asset{asset.NonFungible(apes, big.NewInt(7), true)},
		Salt:       big.NewInt(2),
		Mode:       order.ModeEnglish,
	}
	sellSig, buySig := f.sign(f.alice, sell), f.sign(f.bob, buy)

	// Anyone may relay a swap without native legs.
	relayer := f.carol.Address()
	rcpt, err := f.x.ExecuteSwap(ctx, Call{Caller: relayer, Now: now}, sell, buy, [2][]byte{sellSig, buySig})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if len(rcpt.Orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(rcpt.Orders))
	}

	if owner, _ := f.l.OwnerOf(asset.ClassNonFungible, apes, big.NewInt(7)); owner != bob {
		t.Errorf("unit owner = %s, want bob", owner.Hex())
	}
	if got := f.l.TokenBalance(usdc, alice); got.Int64() != 488 {
		t.Errorf("seller balance = %s, want 488", got)
	}
	if got := f.l.TokenBalance(usdc, sink); got.Int64() != 12 {
		t.Errorf("sink balance = %s, want 12", got)
	}
	if got := f.l.TokenBalance(usdc, bob); got.Int64() != 100 {
		t.Errorf("buyer balance = %s, want 100", got)
	}

	for name, pair := range map[string]struct {
		o   *order.Order
		sig []byte
	}{"sell": {sell, sellSig}, "buy": {buy, buySig}} {
		if v := f.x.ValidateOrder(pair.o, pair.sig, now); !errors.Is(v.Err, ErrAlreadyConsumed) {
			t.Errorf("%s re-validation: err = %v, want ErrAlreadyConsumed", name, v.Err)
		}
	}
}

func TestExecuteSwapNativeDoubleClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.alice.Address(), f.bob.Address()

	f.l.Deposit(alice, big.NewInt(1_000))
	f.l.Deposit(bob, big.NewInt(1_000))
	f.l.MintUnit(asset.ClassNonFungible, apes, big.NewInt(1), alice)
	f.l.MintUnit(asset.ClassNonFungible, apes, big.NewInt(2), bob)

	sell := &order.Order{
		Maker:      alice,
		SellAssets: []asset.Asset{asset.Native(big.NewInt(100), big.NewInt(100)), asset.NonFungible(apes, big.NewInt(1), true)},
		BuyAssets:  []asset.Asset{asset.NonFungible(apes, big.NewInt(2), true)},
		Salt:       big.NewInt(1),
	}
	buy := &order.Order{
		Maker:      bob,
		SellAssets: []asset.Asset{asset.Native(big.NewInt(100), big.NewInt(100)), asset.NonFungible(apes, big.NewInt(2), true)},
		BuyAssets:  []asset.Asset{asset.NonFungible(apes, big.NewInt(1), true)},
		Salt:       big.NewInt(2),
	}

	if _, err := ValidateMatch(sell, buy, now); !errors.Is(err, ErrMatchMismatch) {
		t.Errorf("ValidateMatch err = %v, want ErrMatchMismatch", err)
	}

	_, err := f.x.ExecuteSwap(ctx, Call{Caller: bob, Value: big.NewInt(100), Now: now}, sell, buy,
		[2][]byte{f.sign(f.alice, sell), f.sign(f.bob, buy)})
	if !errors.Is(err, ErrMatchMismatch) {
		t.Fatalf("ExecuteSwap err = %v, want ErrMatchMismatch", err)
	}

	for _, who := range []common.Address{alice, bob} {
		if got := f.l.NativeBalance(who); got.Int64() != 1_000 {
			t.Errorf("%s native = %s, want 1000", who.Hex(), got)
		}
	}
	if o1, _ := f.l.OwnerOf(asset.ClassNonFungible, apes, big.NewInt(1)); o1 != alice {
		t.Error("unit 1 moved")
	}
	if o2, _ := f.l.OwnerOf(asset.ClassNonFungible, apes, big.NewInt(2)); o2 != bob {
		t.Error("unit 2 moved")
	}
	if st, _ := f.x.StatusOf(f.hash(sell)); st != order.StatusUnset {
		t.Errorf("sell status = %s, want unset", st)
	}
}

func TestExecuteSwapNativeCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.alice.Address(), f.bob.Address()

	f.l.MintMulti(shoes, big.NewInt(4), alice, big.NewInt(10))
	f.l.Deposit(bob, big.NewInt(1_000))

	sell := &order.Order{
		Maker:      alice,
		SellAssets: []asset.Asset{asset.SemiFungible(shoes, big.NewInt(4), true, big.NewInt(3), big.NewInt(3))},
		BuyAssets:  []asset.Asset{asset.Native(big.NewInt(300), big.NewInt(300))},
		Salt:       big.NewInt(1),
	}
	buy := &order.Order{
		Maker:      bob,
		SellAssets: []asset.Asset{asset.Native(big.NewInt(320), big.NewInt(320))},
		BuyAssets:  []asset.Asset{asset.SemiFungible(shoes, big.NewInt(4), false, big.NewInt(2), big.NewInt(2))},
		Salt:       big.NewInt(2),
	}
	sigs := [2][]byte{f.sign(f.alice, sell), f.sign(f.bob, buy)}

	_, err := f.x.ExecuteSwap(ctx, Call{Caller: f.carol.Address(), Value: big.NewInt(320), Now: now}, sell, buy, sigs)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("relayed native swap: err = %v, want ErrUnauthorized", err)
	}

	rcpt, err := f.x.ExecuteSwap(ctx, Call{Caller: bob, Value: big.NewInt(400), Now: now}, sell, buy, sigs)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	// Bob offered 320 and attached 400: 80 comes back.
	if rcpt.Refund.Int64() != 80 {
		t.Errorf("refund = %s, want 80", rcpt.Refund)
	}
	if got := f.l.NativeBalance(bob); got.Int64() != 680 {
		t.Errorf("buyer native = %s, want 680", got)
	}
	if got := f.l.NativeBalance(alice); got.Int64() != 312 {
		t.Errorf("seller native = %s, want 312", got)
	}
	if got := f.l.NativeBalance(sink); got.Int64() != 8 {
		t.Errorf("sink native = %s, want 8", got)
	}
	if got := f.l.MultiBalance(shoes, big.NewInt(4), bob); got.Int64() != 3 {
		t.Errorf("buyer shoes = %s, want 3", got)
	}
}

func TestConcurrentFillsSettleOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.alice.Address()

	f.l.MintUnit(asset.ClassNonFungible, apes, big.NewInt(7), alice)
	buyers := []common.Address{f.bob.Address(), f.carol.Address()}
	for _, b := range buyers {
		f.l.MintToken(usdc, b, big.NewInt(1_000))
	}

	o := nftForTokens(alice, 7, 100)
	sig := f.sign(f.alice, o)

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	for i, b := range buyers {
		wg.Add(1)
		go func(i int, b common.Address) {
			defer wg.Done()
			_, errs[i] = f.x.BuyNow(ctx, Call{Caller: b, Now: now}, o, sig)
		}(i, b)
	}
	wg.Wait()

	ok, consumed := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyConsumed):
			consumed++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || consumed != 1 {
		t.Errorf("successes = %d, consumed = %d; want 1 and 1", ok, consumed)
	}
	if got := f.l.TokenBalance(usdc, alice); got.Int64() != 98 {
		t.Errorf("maker paid %s times over", got)
	}
}

func TestFeeConservation(t *testing.T) {
	for _, bps := range []uint64{0, 1, 250, 999, MaxFeeBps} {
		for _, amt := range []int64{0, 1, 7, 9_999, 10_001, 123_456_789} {
			a := big.NewInt(amt)
			fee := Fee(a, bps)
			net := new(big.Int).Sub(a, fee)
			if fee.Sign() < 0 || net.Sign() < 0 {
				t.Fatalf("bps %d amount %d: negative split %s/%s", bps, amt, net, fee)
			}
			if new(big.Int).Add(net, fee).Cmp(a) != 0 {
				t.Errorf("bps %d amount %d: %s + %s != amount", bps, amt, net, fee)
			}
			want := amt * int64(bps) / 10_000
			if fee.Int64() != want {
				t.Errorf("bps %d amount %d: fee = %s, want %d", bps, amt, fee, want)
			}
		}
	}
}

func TestSettlementUsesConfiguredIntermediary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.alice.Address(), f.bob.Address()

	f.l.MintUnit(asset.ClassNonFungible, apes, big.NewInt(7), alice)
	f.l.MintToken(usdc, bob, big.NewInt(1_000))

	// Route non-fungible units to an address nothing is registered at.
	if err := f.x.SetIntermediary(owner, asset.ClassNonFungible, common.HexToAddress("0xdead")); err != nil {
		t.Fatalf("set intermediary: %v", err)
	}
	o := nftForTokens(alice, 7, 100)
	_, err := f.x.BuyNow(ctx, Call{Caller: bob, Now: now}, o, f.sign(f.alice, o))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if got := f.l.TokenBalance(usdc, bob); got.Int64() != 1_000 {
		t.Errorf("payment not reverted: buyer balance = %s", got)
	}

	// An intermediary that does not trust the engine refuses the transfer.
	f.items.Allow(core, false)
	if err := f.x.SetIntermediary(owner, asset.ClassNonFungible, itemProxy); err != nil {
		t.Fatalf("restore intermediary: %v", err)
	}
	_, err = f.x.BuyNow(ctx, Call{Caller: bob, Now: now}, o, f.sign(f.alice, o))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("untrusted engine: err = %v, want ErrTransferFailed", err)
	}

	f.items.Allow(core, true)
	if _, err := f.x.BuyNow(ctx, Call{Caller: bob, Now: now}, o, f.sign(f.alice, o)); err != nil {
		t.Fatalf("buy now: %v", err)
	}
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.alice.Address(), f.bob.Address()

	var events []Event
	f.x.OnEvent(func(ev Event) { events = append(events, ev) })

	f.l.MintUnit(asset.ClassNonFungible, apes, big.NewInt(7), alice)
	f.l.MintToken(usdc, bob, big.NewInt(50))

	o := nftForTokens(alice, 7, 100)
	sig := f.sign(f.alice, o)
	if _, err := f.x.BuyNow(ctx, Call{Caller: bob, Now: now}, o, sig); err == nil {
		t.Fatal("underfunded buyer settled")
	}
	if len(events) != 0 {
		t.Fatalf("failed attempt published %d events", len(events))
	}

	f.l.MintToken(usdc, bob, big.NewInt(50))
	if _, err := f.x.BuyNow(ctx, Call{Caller: bob, Now: now}, o, sig); err != nil {
		t.Fatalf("buy now: %v", err)
	}
	if _, err := f.x.AdvanceNonce(alice); err != nil {
		t.Fatalf("advance nonce: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if ev := events[0]; ev.Kind != "buy" || ev.Orders[0] != f.hash(o) || ev.Caller != bob || ev.Time != now {
		t.Errorf("buy event = %+v", ev)
	}
	if ev := events[1]; ev.Kind != "nonce" || ev.Nonce != 1 || ev.Makers[0] != alice {
		t.Errorf("nonce event = %+v", ev)
	}
}

func TestBuyNowEnglishChargesFloor(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.alice.Address(), f.bob.Address()
	f.l.MintUnit(asset.ClassNonFungible, apes, big.NewInt(7), alice)
	f.l.MintToken(usdc, bob, big.NewInt(1_000))

	o := nftForTokens(alice, 7, 0)
	o.Mode = order.ModeEnglish
	o.BuyAssets = []asset.Asset{asset.Fungible(usdc, big.NewInt(200), big.NewInt(400))}
	if _, err := f.x.BuyNow(context.Background(), Call{Caller: bob, Now: now}, o, f.sign(f.alice, o)); err != nil {
		t.Fatalf("buy now: %v", err)
	}
	if got := f.l.TokenBalance(usdc, bob); got.Int64() != 800 {
		t.Errorf("buyer balance = %s, want 800 (floor 200 paid)", got)
	}
}
