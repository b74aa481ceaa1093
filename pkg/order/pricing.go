package order

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/uhyunpark/hyperswap/pkg/asset"
)

// ErrNoPriceLeg is returned when an order wants no currency leg to price.
var ErrNoPriceLeg = errors.New("order wants no currency leg")

// LegPrice resolves the value of leg at now. Fixed and English orders read the
// lower bound. Decreasing orders decay linearly from lower at start to upper
// at end, clamped outside the window; the decay term is floor-divided so the
// result never drops below the interpolated price.
//
// Without a usable window (start or end zero, or end <= start) there is
// nothing to interpolate over: the price is lower until end has passed.
func LegPrice(mode AuctionMode, leg asset.Asset, start, end, now uint64) *big.Int {
	lower, upper := bound(leg.Lower), bound(leg.Upper)
	if mode != ModeDecreasing {
		return lower
	}

	if start == 0 || end == 0 || end <= start {
		if end != 0 && now > end {
			return upper
		}
		return lower
	}
	if now <= start {
		return lower
	}
	if now >= end {
		return upper
	}

	drop := new(big.Int).Sub(lower, upper)
	drop.Mul(drop, new(big.Int).SetUint64(now-start))
	drop.Quo(drop, new(big.Int).SetUint64(end-start))
	return lower.Sub(lower, drop)
}

// bound copies x; a missing bound reads as zero.
func bound(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// Price resolves leg against o's own mode and window.
func (o *Order) Price(leg asset.Asset, now uint64) *big.Int {
	return LegPrice(o.Mode, leg, o.Start, o.End, now)
}

// CurrentDecreasingPrice returns the resolved price of the designated leg:
// the first native or fungible leg of BuyAssets.
func CurrentDecreasingPrice(o *Order, now uint64) (*big.Int, error) {
	for _, leg := range o.BuyAssets {
		if leg.Class.IsCurrency() {
			return o.Price(leg, now), nil
		}
	}
	return nil, ErrNoPriceLeg
}

// CheckBounds enforces the auction-mode invariants on every leg:
// Fixed needs lower == upper, Decreasing needs upper <= lower.
func CheckBounds(o *Order) error {
	check := func(side string, legs []asset.Asset) error {
		for i, leg := range legs {
			if leg.Lower == nil || leg.Upper == nil {
				return fmt.Errorf("%s[%d]: %w: missing bounds", side, i, ErrBoundViolation)
			}
			switch o.Mode {
			case ModeFixed:
				if leg.Lower.Cmp(leg.Upper) != 0 {
					return fmt.Errorf("%s[%d]: %w: fixed price needs lower == upper", side, i, ErrBoundViolation)
				}
			case ModeDecreasing:
				if leg.Upper.Cmp(leg.Lower) > 0 {
					return fmt.Errorf("%s[%d]: %w: decreasing price needs upper <= lower", side, i, ErrBoundViolation)
				}
			}
		}
		return nil
	}
	if err := check("sellAssets", o.SellAssets); err != nil {
		return err
	}
	return check("buyAssets", o.BuyAssets)
}
