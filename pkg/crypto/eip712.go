package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator input.
// It binds signatures to one deployment so they cannot be replayed elsewhere.
type Domain struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ChainID           *big.Int       `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

// DefaultDomain returns the local devnet domain.
func DefaultDomain() Domain {
	return Domain{
		Name:              "Hyperswap",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func (d Domain) typed() apitypes.TypedDataDomain {
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(chainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Struct describes one EIP-712 struct type: its name and ordered fields.
type Struct struct {
	Name   string
	Fields []apitypes.Type
}

// EIP712Signer hashes and signs typed structs under a fixed domain.
type EIP712Signer struct {
	domain Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() Domain { return e.domain }

func (e *EIP712Signer) typedData(s Struct, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			s.Name:         s.Fields,
		},
		PrimaryType: s.Name,
		Domain:      e.domain.typed(),
		Message:     msg,
	}
}

// Separator returns the domain separator hash.
func (e *EIP712Signer) Separator() (common.Hash, error) {
	td := e.typedData(Struct{}, nil)
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}

// Hash returns keccak256("\x19\x01" || domainSeparator || hashStruct(msg)).
func (e *EIP712Signer) Hash(s Struct, msg apitypes.TypedDataMessage) (common.Hash, error) {
	td := e.typedData(s, msg)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash %s: %w", s.Name, err)
	}

	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator, structHash), nil
}

// Sign hashes msg and signs the digest.
func (e *EIP712Signer) Sign(signer *Signer, s Struct, msg apitypes.TypedDataMessage) ([]byte, error) {
	digest, err := e.Hash(s, msg)
	if err != nil {
		return nil, err
	}
	return signer.Sign(digest.Bytes())
}

// Recover returns the address that signed msg.
func (e *EIP712Signer) Recover(s Struct, msg apitypes.TypedDataMessage, signature []byte) (common.Address, error) {
	digest, err := e.Hash(s, msg)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(digest.Bytes(), signature)
}

// TypedDataJSON renders the payload wallets expect for eth_signTypedData_v4.
func (e *EIP712Signer) TypedDataJSON(s Struct, msg apitypes.TypedDataMessage) (string, error) {
	td := e.typedData(s, msg)
	out, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}
