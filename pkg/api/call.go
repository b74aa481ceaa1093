package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/order"
)

// CallType names the exchange operation a signed call invokes.
type CallType string

const (
	CallBuy          CallType = "buy"
	CallSwap         CallType = "swap"
	CallCancel       CallType = "cancel"
	CallApprove      CallType = "approve"
	CallAdvanceNonce CallType = "advance_nonce"
	CallWhitelist    CallType = "whitelist"
	CallFeeRate      CallType = "fee_rate"
	CallIntermediary CallType = "intermediary"
	CallFeeSink      CallType = "fee_sink"
	CallOwnership    CallType = "ownership"
)

// MaxCallLifetime bounds how far in the future a call deadline may lie.
const MaxCallLifetime = 3600

var (
	ErrCallSignature = errors.New("call signature does not match caller")
	ErrCallExpired   = errors.New("call deadline passed or too far ahead")
	ErrCallReplayed  = errors.New("call already submitted")
)

// SignedCall is the envelope for every state-changing request. The caller
// signs CallDigest with its own key; the recovered address is the caller the
// exchange sees.
type SignedCall struct {
	Type      CallType        `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Caller    string          `json:"caller"`
	Value     string          `json:"value,omitempty"` // decimal, native value attached
	Deadline  uint64          `json:"deadline"`        // unix seconds
	Signature string          `json:"signature"`
}

type BuyPayload struct {
	Order     *order.Order  `json:"order"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
}

type SwapPayload struct {
	Sell          *order.Order  `json:"sell"`
	Buy           *order.Order  `json:"buy"`
	SellSignature hexutil.Bytes `json:"sellSignature,omitempty"`
	BuySignature  hexutil.Bytes `json:"buySignature,omitempty"`
}

// OrderPayload carries the order for cancel and approve.
type OrderPayload struct {
	Order *order.Order `json:"order"`
}

type WhitelistPayload struct {
	Token       common.Address `json:"token"`
	Whitelisted bool           `json:"whitelisted"`
}

type FeeRatePayload struct {
	FeeBps uint64 `json:"feeBps"`
}

type IntermediaryPayload struct {
	Class   asset.Class    `json:"class"`
	Address common.Address `json:"address"`
}

// AddressPayload carries the new fee sink or owner.
type AddressPayload struct {
	Address common.Address `json:"address"`
}

// CallDigest is the hash a caller signs: the call fields joined with the
// chain id and exchange address, so a call is only valid on one deployment.
func CallDigest(chainID *big.Int, exchange common.Address, c *SignedCall) common.Hash {
	payloadHash := ethCrypto.Keccak256Hash(c.Payload)
	value := c.Value
	if value == "" {
		value = "0"
	}
	message := fmt.Sprintf("HYPERSWAP_CALL:%s:%s:%s:%s:%s:%d:%s",
		chainID, strings.ToLower(exchange.Hex()), c.Type,
		strings.ToLower(c.Caller), value, c.Deadline, payloadHash.Hex())
	return ethCrypto.Keccak256Hash([]byte(message))
}

// NewSignedCall marshals payload and signs the envelope as signer.
func NewSignedCall(signer *crypto.Signer, chainID *big.Int, exchange common.Address, typ CallType, payload interface{}, value *big.Int, deadline uint64) (*SignedCall, error) {
	c := &SignedCall{Type: typ, Caller: signer.Address().Hex(), Deadline: deadline}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		c.Payload = raw
	}
	if value != nil && value.Sign() > 0 {
		c.Value = value.String()
	}
	digest := CallDigest(chainID, exchange, c)
	sig, err := signer.Sign(digest.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign call: %w", err)
	}
	c.Signature = hexutil.Encode(sig)
	return c, nil
}

// Validate checks envelope shape only.
func (c *SignedCall) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("missing call type")
	}
	if c.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	if !common.IsHexAddress(c.Caller) {
		return fmt.Errorf("invalid caller %q", c.Caller)
	}
	switch c.Type {
	case CallBuy, CallSwap, CallCancel, CallApprove, CallWhitelist,
		CallFeeRate, CallIntermediary, CallFeeSink, CallOwnership:
		if len(c.Payload) == 0 {
			return fmt.Errorf("%s call requires a payload", c.Type)
		}
	case CallAdvanceNonce:
	default:
		return fmt.Errorf("unknown call type: %s", c.Type)
	}
	if _, err := c.AttachedValue(); err != nil {
		return err
	}
	return nil
}

// AttachedValue parses Value; empty means zero.
func (c *SignedCall) AttachedValue() (*big.Int, error) {
	if c.Value == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(c.Value, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid value: %s", c.Value)
	}
	return v, nil
}

// Verify recovers the signer of c and checks it is the declared caller.
func (c *SignedCall) Verify(chainID *big.Int, exchange common.Address) (common.Address, error) {
	sig, err := decodeSignature(c.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrCallSignature, err)
	}
	caller := common.HexToAddress(c.Caller)
	digest := CallDigest(chainID, exchange, c)
	if !crypto.VerifySignature(caller, digest.Bytes(), sig) {
		return common.Address{}, ErrCallSignature
	}
	return caller, nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(b) != crypto.SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(b))
	}
	return b, nil
}

// replayGuard remembers accepted call digests until their deadline passes.
type replayGuard struct {
	mu   sync.Mutex
	seen map[common.Hash]uint64
}

func newReplayGuard() *replayGuard {
	return &replayGuard{seen: make(map[common.Hash]uint64)}
}

// admit records digest, failing if it was already admitted. Entries whose
// deadline is before now are pruned first.
func (g *replayGuard) admit(digest common.Hash, deadline, now uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for h, d := range g.seen {
		if d < now {
			delete(g.seen, h)
		}
	}
	if _, ok := g.seen[digest]; ok {
		return ErrCallReplayed
	}
	g.seen[digest] = deadline
	return nil
}

// forget releases digest so a call that failed validation can be resubmitted.
func (g *replayGuard) forget(digest common.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, digest)
}

func checkDeadline(deadline, now uint64) error {
	if deadline < now || deadline > now+MaxCallLifetime {
		return fmt.Errorf("%w: deadline %d, now %d", ErrCallExpired, deadline, now)
	}
	return nil
}
