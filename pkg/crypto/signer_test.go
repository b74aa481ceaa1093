package crypto

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if len(signer.PrivateKeyHex()) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(signer.PrivateKeyHex()))
	}
	if len(signer.PublicKeyHex()) != 130 {
		t.Errorf("public key hex length = %d, want 130", len(signer.PublicKeyHex()))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key %q: %v", in, err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	message := []byte("Hello, Hyperswap!")

	signature, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != SignatureLength {
		t.Fatalf("signature length = %d, want 65", len(signature))
	}
	if v := signature[64]; v != 27 && v != 28 {
		t.Errorf("v = %d, want 27 or 28", v)
	}

	hash := eth_crypto.Keccak256Hash(message).Bytes()
	if !VerifySignature(signer.Address(), hash, signature) {
		t.Error("signature verification failed")
	}

	// Same signature with v in {0, 1} recovers the same address.
	raw := append([]byte(nil), signature...)
	raw[64] -= 27
	addr, err := RecoverAddress(hash, raw)
	if err != nil {
		t.Fatalf("recover with raw v: %v", err)
	}
	if addr != signer.Address() {
		t.Errorf("recovered %s, want %s", addr.Hex(), signer.Address().Hex())
	}

	wrong := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrong, hash, signature) {
		t.Error("signature should not verify with wrong address")
	}
}

func TestRecoverRejectsBadV(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("v"))
	sig, _ := signer.Sign(hash)
	sig[64] = 5

	if _, err := RecoverAddress(hash, sig); err == nil {
		t.Error("recovery id 5 should be rejected")
	}
}

func TestPackUnpackSignature(t *testing.T) {
	signer, _ := GenerateKey()
	sig, _ := signer.SignMessage([]byte("pack"))

	v, r, s, err := UnpackSignature(sig)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	packed := PackSignature(v, r, s)
	if !bytes.Equal(packed[:], sig) {
		t.Errorf("packed = %x, want %x", packed, sig)
	}
}

func TestUnpackSignatureLength(t *testing.T) {
	for _, n := range []int{0, 64, 66, 130} {
		_, _, _, err := UnpackSignature(make([]byte, n))
		if !errors.Is(err, ErrSignatureLength) {
			t.Errorf("len %d: err = %v, want ErrSignatureLength", n, err)
		}
		if _, err := RecoverAddress(make([]byte, 32), make([]byte, n)); !errors.Is(err, ErrSignatureLength) {
			t.Errorf("recover len %d: err = %v, want ErrSignatureLength", n, err)
		}
	}
}

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}
	b, _ := GenerateSalt()
	if a.Cmp(b) == 0 {
		t.Error("generated identical salts")
	}
	if a.BitLen() > 256 {
		t.Errorf("salt has %d bits", a.BitLen())
	}
}

var mailStruct = Struct{
	Name: "Mail",
	Fields: []apitypes.Type{
		{Name: "to", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "memo", Type: "bytes32"},
	},
}

func mail(amount int64) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"to":     common.HexToAddress("0x00000000000000000000000000000000000000b0").Hex(),
		"amount": big.NewInt(amount).String(),
		"memo":   eth_crypto.Keccak256Hash([]byte("memo")).Hex(),
	}
}

func TestEIP712SignRecover(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())

	sig, err := e.Sign(signer, mailStruct, mail(10))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	addr, err := e.Recover(mailStruct, mail(10), sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if addr != signer.Address() {
		t.Errorf("recovered %s, want %s", addr.Hex(), signer.Address().Hex())
	}

	// A different message recovers some other address.
	addr, err = e.Recover(mailStruct, mail(11), sig)
	if err == nil && addr == signer.Address() {
		t.Error("signature should not cover a modified message")
	}
}

func TestEIP712DomainBinding(t *testing.T) {
	local := NewEIP712Signer(DefaultDomain())

	other := DefaultDomain()
	other.ChainID = big.NewInt(1)
	mainnet := NewEIP712Signer(other)

	h1, err := local.Hash(mailStruct, mail(1))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := mainnet.Hash(mailStruct, mail(1))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 == h2 {
		t.Error("digest should depend on the chain id")
	}

	s1, _ := local.Separator()
	s2, _ := mainnet.Separator()
	if s1 == s2 {
		t.Error("separator should depend on the chain id")
	}
}

func TestTypedDataJSON(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain())
	out, err := e.TypedDataJSON(mailStruct, mail(3))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	for _, want := range []string{`"primaryType": "Mail"`, `"EIP712Domain"`, `"Hyperswap"`} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("payload missing %s", want)
		}
	}
}
