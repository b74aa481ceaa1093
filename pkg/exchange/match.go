package exchange

import (
	"fmt"
	"math/big"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/order"
)

// Fill is one offered leg and the amount that moves to the counterparty.
type Fill struct {
	Leg asset.Asset `json:"leg"`
	// Amount is the leg resolved against the offering order.
	Amount *big.Int `json:"amount"`
	// Wanted is the index of the counterparty's wanted leg this fill covers,
	// or -1 when the leg is surplus.
	Wanted int `json:"wanted"`
}

// Match pairs the legs of two complementary orders.
type Match struct {
	SellToBuy []Fill `json:"sellToBuy"` // sell.SellAssets, paid to buy.Maker
	BuyToSell []Fill `json:"buyToSell"` // buy.SellAssets, paid to sell.Maker
}

// ValidateMatch checks that sell and buy reconcile at now and returns the
// pairing settlement uses. Each wanted leg of either side must be covered by
// a distinct offered leg of the other side worth at least as much.
func ValidateMatch(sell, buy *order.Order, now uint64) (*Match, error) {
	for _, o := range []*order.Order{sell, buy} {
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
	}

	if !sell.Open() && sell.Taker != buy.Maker {
		return nil, fmt.Errorf("%w: sell order reserved for %s", ErrMatchMismatch, sell.Taker.Hex())
	}
	if !buy.Open() && buy.Taker != sell.Maker {
		return nil, fmt.Errorf("%w: buy order reserved for %s", ErrMatchMismatch, buy.Taker.Hex())
	}
	if sell.Offers(asset.ClassNative) && buy.Offers(asset.ClassNative) {
		return nil, fmt.Errorf("%w: native value claimed twice", ErrMatchMismatch)
	}

	sellToBuy, err := pair(sell, buy, now)
	if err != nil {
		return nil, fmt.Errorf("sell -> buy: %w", err)
	}
	buyToSell, err := pair(buy, sell, now)
	if err != nil {
		return nil, fmt.Errorf("buy -> sell: %w", err)
	}
	return &Match{SellToBuy: sellToBuy, BuyToSell: buyToSell}, nil
}

// pair covers every leg wanter wants with one of offerer's offered legs.
// The assignment succeeds whenever one exists, whatever order the legs are
// listed in. Exact wants are placed first.
func pair(offerer, wanter *order.Order, now uint64) ([]Fill, error) {
	offered := offerer.SellAssets
	fills := make([]Fill, len(offered))
	seen := make(map[string]int)
	for i, leg := range offered {
		fills[i] = Fill{Leg: leg, Amount: offerer.Price(leg, now), Wanted: -1}

		if leg.Class == asset.ClassNonFungible || leg.Class == asset.ClassCollectible {
			it, err := leg.Item()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
			}
			key := fmt.Sprintf("%s:%s:%s", leg.Class, it.Contract.Hex(), it.ID)
			if j, dup := seen[key]; dup {
				return nil, fmt.Errorf("%w: unit offered twice (legs %d and %d)", ErrMatchMismatch, j, i)
			}
			seen[key] = i
		}
	}

	var exact, open []int
	for wi, want := range wanter.BuyAssets {
		if isOpenEnded(want) {
			open = append(open, wi)
		} else {
			exact = append(exact, wi)
		}
	}

	// Bipartite assignment by augmenting paths: a wanted leg may displace an
	// earlier assignment when that leg can be reassigned elsewhere.
	candidates := make(map[int][]int, len(wanter.BuyAssets))
	needs := make(map[int]*big.Int, len(wanter.BuyAssets))
	for wi, want := range wanter.BuyAssets {
		need := wanter.Price(want, now)
		needs[wi] = need
		for i := range offered {
			if covers(offered[i], want) && fills[i].Amount.Cmp(need) >= 0 {
				candidates[wi] = append(candidates[wi], i)
			}
		}
	}

	var assign func(wi int, visited []bool) bool
	assign = func(wi int, visited []bool) bool {
		for _, i := range candidates[wi] {
			if visited[i] {
				continue
			}
			visited[i] = true
			if prev := fills[i].Wanted; prev < 0 || assign(prev, visited) {
				fills[i].Wanted = wi
				return true
			}
		}
		return false
	}

	for _, wi := range append(exact, open...) {
		if !assign(wi, make([]bool, len(offered))) {
			want := wanter.BuyAssets[wi]
			return nil, fmt.Errorf("%w: wanted leg %d %s (need %s) not covered", ErrMatchMismatch, wi, want, needs[wi])
		}
	}
	return fills, nil
}

func isOpenEnded(want asset.Asset) bool {
	if want.Class == asset.ClassCollection {
		return true
	}
	if !want.Class.IsUnit() {
		return false
	}
	it, err := want.Item()
	return err == nil && !it.ExactID
}

// covers reports whether offered satisfies want, ignoring quantity. The
// exact-id flag is only read on the wanted side.
func covers(offered, want asset.Asset) bool {
	switch want.Class {
	case asset.ClassNative:
		return offered.Class == asset.ClassNative
	case asset.ClassFungible:
		if offered.Class != asset.ClassFungible {
			return false
		}
		a, errA := offered.Token()
		b, errB := want.Token()
		return errA == nil && errB == nil && a == b
	case asset.ClassCollection:
		if offered.Class != asset.ClassNonFungible && offered.Class != asset.ClassCollectible {
			return false
		}
		a, errA := offered.Contract()
		b, errB := want.Token()
		return errA == nil && errB == nil && a == b
	case asset.ClassNonFungible, asset.ClassSemiFungible, asset.ClassCollectible:
		if offered.Class != want.Class {
			return false
		}
		off, errA := offered.Item()
		w, errB := want.Item()
		if errA != nil || errB != nil || off.Contract != w.Contract {
			return false
		}
		return !w.ExactID || off.ID.Cmp(w.ID) == 0
	default:
		return false
	}
}
