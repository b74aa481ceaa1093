package order

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// TypedStruct is the EIP-712 layout of an order. Leg lists are committed
// through asset.HashList, mode and data through DataHash.
var TypedStruct = crypto.Struct{
	Name: "Order",
	Fields: []apitypes.Type{
		{Name: "maker", Type: "address"},
		{Name: "sellAssets", Type: "bytes32"},
		{Name: "taker", Type: "address"},
		{Name: "buyAssets", Type: "bytes32"},
		{Name: "salt", Type: "uint256"},
		{Name: "start", Type: "uint256"},
		{Name: "end", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "data", Type: "bytes32"},
	},
}

// Message builds the typed-data message for o.
func (o *Order) Message() apitypes.TypedDataMessage {
	salt := "0"
	if o.Salt != nil {
		salt = o.Salt.String()
	}
	return apitypes.TypedDataMessage{
		"maker":      o.Maker.Hex(),
		"sellAssets": asset.HashList(o.SellAssets).Hex(),
		"taker":      o.Taker.Hex(),
		"buyAssets":  asset.HashList(o.BuyAssets).Hex(),
		"salt":       salt,
		"start":      strconv.FormatUint(o.Start, 10),
		"end":        strconv.FormatUint(o.End, 10),
		"nonce":      strconv.FormatUint(o.Nonce, 10),
		"data":       o.DataHash().Hex(),
	}
}

// Hash returns the EIP-712 digest of o under the signer's domain.
func Hash(e *crypto.EIP712Signer, o *Order) (common.Hash, error) {
	return e.Hash(TypedStruct, o.Message())
}

// Sign signs o with the maker key.
func Sign(e *crypto.EIP712Signer, signer *crypto.Signer, o *Order) ([]byte, error) {
	return e.Sign(signer, TypedStruct, o.Message())
}

// RecoverSigner returns the address that produced signature over o.
func RecoverSigner(e *crypto.EIP712Signer, o *Order, signature []byte) (common.Address, error) {
	return e.Recover(TypedStruct, o.Message(), signature)
}

// TypedDataJSON renders o for wallet signing (eth_signTypedData_v4).
func TypedDataJSON(e *crypto.EIP712Signer, o *Order) (string, error) {
	return e.TypedDataJSON(TypedStruct, o.Message())
}
