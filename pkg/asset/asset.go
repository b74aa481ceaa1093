// Package asset encodes and hashes the tradable legs of an order.
//
// A leg is a tagged union: a Class plus ABI-encoded parameters, with a
// (Lower, Upper) value pair whose meaning depends on the order's auction mode.
// Two hashes exist per leg:
//
//	IdentityHash = keccak256(classTag || keccak256(data))   price-independent, used for matching
//	LegHash      = keccak256(IdentityHash || lower || upper) price-bound, used in order digests
package asset

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// Asset is one leg of an order.
type Asset struct {
	Class Class         `json:"class"`
	Data  hexutil.Bytes `json:"data"`
	Lower *big.Int      `json:"lower"`
	Upper *big.Int      `json:"upper"`
}

// Native is a leg of chain currency attached to the settlement call.
func Native(lower, upper *big.Int) Asset {
	return Asset{Class: ClassNative, Lower: lower, Upper: upper}
}

// Fungible is a leg of an allow-listed token.
func Fungible(token common.Address, lower, upper *big.Int) Asset {
	return Asset{Class: ClassFungible, Data: EncodeToken(token), Lower: lower, Upper: upper}
}

// NonFungible is a single unit of a non-fungible contract.
func NonFungible(contract common.Address, id *big.Int, exactID bool) Asset {
	return Asset{
		Class: ClassNonFungible,
		Data:  EncodeItem(Item{Contract: contract, ID: id, ExactID: exactID}),
		Lower: big.NewInt(1),
		Upper: big.NewInt(1),
	}
}

// SemiFungible is a quantity of one unit id of a multi-token contract.
func SemiFungible(contract common.Address, id *big.Int, exactID bool, lower, upper *big.Int) Asset {
	return Asset{
		Class: ClassSemiFungible,
		Data:  EncodeItem(Item{Contract: contract, ID: id, ExactID: exactID}),
		Lower: lower,
		Upper: upper,
	}
}

// Collectible is a unit of the pre-standard collectible market. Ids are always exact.
func Collectible(contract common.Address, id *big.Int) Asset {
	return Asset{
		Class: ClassCollectible,
		Data:  EncodeItem(Item{Contract: contract, ID: id, ExactID: true}),
		Lower: big.NewInt(1),
		Upper: big.NewInt(1),
	}
}

// Collection wants any one unit of a non-fungible contract.
func Collection(contract common.Address) Asset {
	return Asset{Class: ClassCollection, Data: EncodeToken(contract), Lower: big.NewInt(1), Upper: big.NewInt(1)}
}

// Token returns the contract of a fungible or collection leg.
func (a Asset) Token() (common.Address, error) {
	if a.Class != ClassFungible && a.Class != ClassCollection {
		return common.Address{}, fmt.Errorf("%s leg has no token parameter", a.Class)
	}
	return DecodeToken(a.Data)
}

// Item returns the decoded unit parameters of a unit leg.
func (a Asset) Item() (Item, error) {
	if !a.Class.IsUnit() {
		return Item{}, fmt.Errorf("%s leg has no item parameter", a.Class)
	}
	return DecodeItem(a.Data)
}

// Contract returns the contract any non-native leg refers to.
func (a Asset) Contract() (common.Address, error) {
	switch {
	case a.Class == ClassFungible || a.Class == ClassCollection:
		return a.Token()
	case a.Class.IsUnit():
		it, err := a.Item()
		if err != nil {
			return common.Address{}, err
		}
		return it.Contract, nil
	default:
		return common.Address{}, fmt.Errorf("%s leg has no contract", a.Class)
	}
}

// Validate checks the class tag, parameter encoding and value bounds.
func (a Asset) Validate() error {
	if a.Lower == nil || a.Upper == nil {
		return fmt.Errorf("%s leg: missing value bounds", a.Class)
	}
	if a.Lower.Sign() < 0 || a.Upper.Sign() < 0 {
		return fmt.Errorf("%s leg: negative value bound", a.Class)
	}
	if a.Lower.BitLen() > 256 || a.Upper.BitLen() > 256 {
		return fmt.Errorf("%s leg: value bound exceeds 256 bits", a.Class)
	}

	switch a.Class {
	case ClassNative:
		if len(a.Data) != 0 {
			return fmt.Errorf("ETH leg: unexpected parameters")
		}
	case ClassFungible:
		if _, err := a.Token(); err != nil {
			return err
		}
	case ClassCollection:
		if _, err := a.Token(); err != nil {
			return err
		}
		if !isOne(a.Lower) || !isOne(a.Upper) {
			return fmt.Errorf("COLLECTION leg: quantity must be 1")
		}
	case ClassNonFungible, ClassCollectible:
		if _, err := a.Item(); err != nil {
			return err
		}
		if !isOne(a.Lower) || !isOne(a.Upper) {
			return fmt.Errorf("%s leg: quantity must be 1", a.Class)
		}
	case ClassSemiFungible:
		if _, err := a.Item(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown asset class %d", uint8(a.Class))
	}
	return nil
}

// IdentityHash identifies the logical asset regardless of the value attached to it.
func (a Asset) IdentityHash() common.Hash {
	tag := a.Class.Tag()
	return crypto.Keccak256Hash(tag[:], crypto.Keccak256(a.Data))
}

// LegHash binds the identity to its value bounds.
func (a Asset) LegHash() common.Hash {
	id := a.IdentityHash()
	return crypto.Keccak256Hash(id[:], word(a.Lower), word(a.Upper))
}

// HashList hashes an ordered list of legs: keccak256(LegHash_0 || ... || LegHash_n).
func HashList(legs []Asset) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, leg := range legs {
		lh := leg.LegHash()
		h.Write(lh[:])
	}
	return common.BytesToHash(h.Sum(nil))
}

func (a Asset) String() string {
	switch {
	case a.Class == ClassNative:
		return fmt.Sprintf("ETH[%s..%s]", a.Lower, a.Upper)
	case a.Class.IsUnit():
		it, err := a.Item()
		if err != nil {
			return fmt.Sprintf("%s<malformed>", a.Class)
		}
		if !it.ExactID {
			return fmt.Sprintf("%s(%s:*)[%s..%s]", a.Class, it.Contract.Hex(), a.Lower, a.Upper)
		}
		return fmt.Sprintf("%s(%s:%s)[%s..%s]", a.Class, it.Contract.Hex(), it.ID, a.Lower, a.Upper)
	default:
		token, err := DecodeToken(a.Data)
		if err != nil {
			return fmt.Sprintf("%s<malformed>", a.Class)
		}
		return fmt.Sprintf("%s(%s)[%s..%s]", a.Class, token.Hex(), a.Lower, a.Upper)
	}
}

func word(x *big.Int) []byte {
	if x == nil {
		return make([]byte, 32)
	}
	return math.PaddedBigBytes(x, 32)
}

func isOne(x *big.Int) bool {
	return x.IsInt64() && x.Int64() == 1
}
