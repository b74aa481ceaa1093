package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hyperswap/pkg/exchange"
	"github.com/uhyunpark/hyperswap/pkg/order"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// OrderRequest is the body of the read-only order endpoints. Now defaults
// to the server clock.
type OrderRequest struct {
	Order     *order.Order  `json:"order"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
	Now       uint64        `json:"now,omitempty"`
}

type MatchRequest struct {
	Sell *order.Order `json:"sell"`
	Buy  *order.Order `json:"buy"`
	Now  uint64       `json:"now,omitempty"`
}

// ==============================
// REST Response Types
// ==============================

type HashResponse struct {
	Hash      common.Hash `json:"hash"`
	TypedData string      `json:"typedData"` // eth_signTypedData_v4 payload
}

type ValidationResponse struct {
	Valid    bool           `json:"valid"`
	Hash     common.Hash    `json:"hash"`
	Signer   common.Address `json:"signer"`
	Approved bool           `json:"approved"`
	Reason   string         `json:"reason"`
	Message  string         `json:"message,omitempty"`
}

type PriceResponse struct {
	Price *big.Int `json:"price"`
	Now   uint64   `json:"now"`
}

type NonceResponse struct {
	Maker common.Address `json:"maker"`
	Nonce uint64         `json:"nonce"`
}

type StatusResponse struct {
	Hash   common.Hash `json:"hash"`
	Status string      `json:"status"`
}

type ParamsResponse struct {
	Owner          common.Address            `json:"owner"`
	FeeSink        common.Address            `json:"feeSink"`
	FeeBps         uint64                    `json:"feeBps"`
	MaxFeeBps      uint64                    `json:"maxFeeBps"`
	Intermediaries map[string]common.Address `json:"intermediaries"`
	Exchange       common.Address            `json:"exchange"`
	ChainID        *big.Int                  `json:"chainId"`
}

// CallResponse reports the outcome of a signed call. Exactly one of the
// optional fields is set, depending on the call type.
type CallResponse struct {
	Status  string            `json:"status"` // "ok"
	Type    CallType          `json:"type"`
	Caller  common.Address    `json:"caller"`
	Receipt *exchange.Receipt `json:"receipt,omitempty"`
	Order   *common.Hash      `json:"order,omitempty"`
	Nonce   *uint64           `json:"nonce,omitempty"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "orders", "maker:0x..."
}

// WSAck confirms a subscription change.
type WSAck struct {
	Type     string   `json:"type"` // "subscribed" or "unsubscribed"
	Channels []string `json:"channels"`
}

// EventUpdate is broadcast after every committed registry change.
type EventUpdate struct {
	Type    string         `json:"type"` // "event"
	Channel string         `json:"channel"`
	Event   exchange.Event `json:"event"`
}
