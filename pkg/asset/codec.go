package asset

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Leg parameters are ABI-encoded so they hash the same way a contract would:
//
//	ERC20, COLLECTION              abi.encode(address token)
//	ERC721, ERC1155, CRYPTO_PUNKS  abi.encode(address contract, uint256 id, bool exactId)
// ErrNonCanonical is returned for parameters that decode but differ from
// their own re-encoding (dirty address padding, bool words other than 0/1).
var ErrNonCanonical = errors.New("non-canonical parameter encoding")

var (
	tokenArgs abi.Arguments
	itemArgs  abi.Arguments
)

func init() {
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uintTy, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	boolTy, err := abi.NewType("bool", "", nil)
	if err != nil {
		panic(err)
	}

	tokenArgs = abi.Arguments{{Name: "token", Type: addressTy}}
	itemArgs = abi.Arguments{
		{Name: "contract", Type: addressTy},
		{Name: "id", Type: uintTy},
		{Name: "exactId", Type: boolTy},
	}
}

// Item is the decoded payload of a unit leg.
type Item struct {
	Contract common.Address
	ID       *big.Int
	// ExactID false means any unit of Contract satisfies a wanted leg.
	ExactID bool
}

// EncodeToken packs the parameters of a fungible or collection leg.
func EncodeToken(token common.Address) []byte {
	data, err := tokenArgs.Pack(token)
	if err != nil {
		panic(fmt.Errorf("pack token params: %w", err))
	}
	return data
}

// DecodeToken unpacks the parameters of a fungible or collection leg.
func DecodeToken(data []byte) (common.Address, error) {
	if len(data) != 32 {
		return common.Address{}, fmt.Errorf("decode token params: want 32 bytes, got %d", len(data))
	}
	vals, err := tokenArgs.Unpack(data)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode token params: %w", err)
	}
	token, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("decode token params: unexpected type %T", vals[0])
	}
	if !bytes.Equal(EncodeToken(token), data) {
		return common.Address{}, fmt.Errorf("decode token params: %w", ErrNonCanonical)
	}
	return token, nil
}

// EncodeItem packs the parameters of a unit leg. A nil ID encodes as zero.
func EncodeItem(it Item) []byte {
	id := it.ID
	if id == nil {
		id = new(big.Int)
	}
	data, err := itemArgs.Pack(it.Contract, id, it.ExactID)
	if err != nil {
		panic(fmt.Errorf("pack item params: %w", err))
	}
	return data
}

// DecodeItem unpacks the parameters of a unit leg.
func DecodeItem(data []byte) (Item, error) {
	if len(data) != 96 {
		return Item{}, fmt.Errorf("decode item params: want 96 bytes, got %d", len(data))
	}
	vals, err := itemArgs.Unpack(data)
	if err != nil {
		return Item{}, fmt.Errorf("decode item params: %w", err)
	}
	contract, ok := vals[0].(common.Address)
	if !ok {
		return Item{}, fmt.Errorf("decode item params: contract has type %T", vals[0])
	}
	id, ok := vals[1].(*big.Int)
	if !ok {
		return Item{}, fmt.Errorf("decode item params: id has type %T", vals[1])
	}
	exact, ok := vals[2].(bool)
	if !ok {
		return Item{}, fmt.Errorf("decode item params: exactId has type %T", vals[2])
	}
	it := Item{Contract: contract, ID: id, ExactID: exact}
	if !bytes.Equal(EncodeItem(it), data) {
		return Item{}, fmt.Errorf("decode item params: %w", ErrNonCanonical)
	}
	return it, nil
}
