// Package order defines signed swap orders: their fields, EIP-712 digest and
// auction pricing.
package order

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperswap/pkg/asset"
)

// AuctionMode selects how the (lower, upper) bounds of a leg are read.
type AuctionMode uint8

const (
	ModeFixed      AuctionMode = iota // lower == upper, the price
	ModeEnglish                       // lower is a floor
	ModeDecreasing                    // linear decay from lower to upper over [start, end]
)

var modeNames = [...]string{"fixed", "english", "decreasing"}

func (m AuctionMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

func (m AuctionMode) MarshalText() ([]byte, error) {
	if int(m) >= len(modeNames) {
		return nil, fmt.Errorf("unknown auction mode %d", uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *AuctionMode) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	for i, name := range modeNames {
		if name == s {
			*m = AuctionMode(i)
			return nil
		}
	}
	return fmt.Errorf("unknown auction mode %q", string(text))
}

// Status is the per-hash lifecycle record. Cancelled and Executed are terminal.
type Status uint8

const (
	StatusUnset Status = iota
	StatusCancelled
	StatusExecuted
)

func (s Status) String() string {
	switch s {
	case StatusUnset:
		return "unset"
	case StatusCancelled:
		return "cancelled"
	case StatusExecuted:
		return "executed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s Status) Terminal() bool { return s == StatusCancelled || s == StatusExecuted }

// Order is a maker's signed offer to swap SellAssets for BuyAssets.
type Order struct {
	Maker      common.Address `json:"maker"`
	SellAssets []asset.Asset  `json:"sellAssets"`
	Taker      common.Address `json:"taker"` // zero: anyone may fill
	BuyAssets  []asset.Asset  `json:"buyAssets"`
	Start      uint64         `json:"start"` // unix seconds, 0 = no lower bound
	End        uint64         `json:"end"`   // unix seconds, 0 = no expiry
	Nonce      uint64         `json:"nonce"`
	Salt       *big.Int       `json:"salt"`
	Mode       AuctionMode    `json:"mode"`
	Data       hexutil.Bytes  `json:"data,omitempty"`
}

var (
	ErrNoLegs         = errors.New("order has no legs")
	ErrWildcardOffer  = errors.New("collection wildcard can only be wanted")
	ErrBoundViolation = errors.New("value bounds violate auction mode")
)

// Validate checks the structural shape of the order: legs decode, wildcards
// only appear on the wanted side, bounds fit the auction mode.
func (o *Order) Validate() error {
	if o.Maker == (common.Address{}) {
		return errors.New("missing maker")
	}
	if o.Salt == nil || o.Salt.Sign() < 0 || o.Salt.BitLen() > 256 {
		return errors.New("salt must be a uint256")
	}
	if int(o.Mode) >= len(modeNames) {
		return fmt.Errorf("unknown auction mode %d", uint8(o.Mode))
	}
	if len(o.SellAssets) == 0 || len(o.BuyAssets) == 0 {
		return ErrNoLegs
	}
	for i, leg := range o.SellAssets {
		if err := leg.Validate(); err != nil {
			return fmt.Errorf("sellAssets[%d]: %w", i, err)
		}
		if leg.Class == asset.ClassCollection {
			return fmt.Errorf("sellAssets[%d]: %w", i, ErrWildcardOffer)
		}
	}
	for i, leg := range o.BuyAssets {
		if err := leg.Validate(); err != nil {
			return fmt.Errorf("buyAssets[%d]: %w", i, err)
		}
	}
	return CheckBounds(o)
}

// DataHash commits the auction mode and auxiliary data: keccak256(mode || data).
func (o *Order) DataHash() common.Hash {
	return ethCrypto.Keccak256Hash([]byte{byte(o.Mode)}, o.Data)
}

// Open reports whether anyone may take the order.
func (o *Order) Open() bool { return o.Taker == (common.Address{}) }

// Offers reports whether the order offers a leg of class c.
func (o *Order) Offers(c asset.Class) bool { return hasClass(o.SellAssets, c) }

// Wants reports whether the order wants a leg of class c.
func (o *Order) Wants(c asset.Class) bool { return hasClass(o.BuyAssets, c) }

func hasClass(legs []asset.Asset, c asset.Class) bool {
	for _, leg := range legs {
		if leg.Class == c {
			return true
		}
	}
	return false
}
