// Package exchange validates signed swap orders and settles them atomically
// through per-class transfer intermediaries.
//
// Every mutating call runs under one mutex, so attempts are strictly serial:
// of two conflicting attempts the second always observes the first's
// registry writes and fails with ErrAlreadyConsumed.
package exchange

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/order"
	"github.com/uhyunpark/hyperswap/pkg/storage"
)

// Host runs one settlement attempt all-or-nothing.
type Host interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}

// FungibleIntermediary moves allow-listed tokens between holders.
type FungibleIntermediary interface {
	TransferFrom(ctx context.Context, caller, token, from, to common.Address, amount *big.Int) error
}

// ItemIntermediary moves non-fungible, semi-fungible and collectible units.
type ItemIntermediary interface {
	TransferFrom(ctx context.Context, caller common.Address, class asset.Class, contract common.Address, id *big.Int, from, to common.Address, amount *big.Int) error
}

// NativeVault holds the native value attached to a call during one attempt.
type NativeVault interface {
	Collect(ctx context.Context, from common.Address, amount *big.Int) error
	Send(ctx context.Context, to common.Address, amount *big.Int) error
}

// Intermediaries maps deployed intermediary addresses to implementations.
// Which address serves which class is a protocol parameter (SetIntermediary).
type Intermediaries struct {
	mu       sync.RWMutex
	fungible map[common.Address]FungibleIntermediary
	items    map[common.Address]ItemIntermediary
}

func NewIntermediaries() *Intermediaries {
	return &Intermediaries{
		fungible: make(map[common.Address]FungibleIntermediary),
		items:    make(map[common.Address]ItemIntermediary),
	}
}

func (r *Intermediaries) RegisterFungible(addr common.Address, fi FungibleIntermediary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fungible[addr] = fi
}

func (r *Intermediaries) RegisterItems(addr common.Address, ii ItemIntermediary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[addr] = ii
}

func (r *Intermediaries) lookupFungible(addr common.Address) (FungibleIntermediary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fi, ok := r.fungible[addr]
	return fi, ok
}

func (r *Intermediaries) lookupItems(addr common.Address) (ItemIntermediary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ii, ok := r.items[addr]
	return ii, ok
}

// Event is published after every committed registry change.
type Event struct {
	Kind   string           `json:"kind"` // buy, swap, cancel, approve, nonce
	Orders []common.Hash    `json:"orders,omitempty"`
	Makers []common.Address `json:"makers"`
	Caller common.Address   `json:"caller"`
	Nonce  uint64           `json:"nonce,omitempty"`
	Time   uint64           `json:"time"`
}

type Config struct {
	Domain         crypto.Domain
	Store          storage.Store
	Host           Host
	Vault          NativeVault
	Intermediaries *Intermediaries
	// Genesis seeds the protocol parameters of an empty store.
	Genesis storage.Params
	Logger  *zap.SugaredLogger
	Metrics *Metrics
}

// Exchange is the matching and settlement core.
type Exchange struct {
	mu sync.Mutex

	signer  *crypto.EIP712Signer
	self    common.Address
	store   storage.Store
	host    Host
	vault   NativeVault
	routes  *Intermediaries
	log     *zap.SugaredLogger
	metrics *Metrics

	hookMu   sync.RWMutex
	onEvents []func(Event)
}

// New builds an Exchange. The verifying contract of the domain is the
// engine's own address: the caller it presents to intermediaries and the
// holder of attached native value.
func New(cfg Config) (*Exchange, error) {
	if cfg.Store == nil || cfg.Host == nil {
		return nil, fmt.Errorf("exchange: store and host are required")
	}
	if cfg.Domain.ChainID == nil {
		return nil, fmt.Errorf("exchange: domain chain id is required")
	}
	x := &Exchange{
		signer:  crypto.NewEIP712Signer(cfg.Domain),
		self:    cfg.Domain.VerifyingContract,
		store:   cfg.Store,
		host:    cfg.Host,
		vault:   cfg.Vault,
		routes:  cfg.Intermediaries,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
	if x.routes == nil {
		x.routes = NewIntermediaries()
	}
	if x.log == nil {
		x.log = zap.NewNop().Sugar()
	}

	p, err := cfg.Store.Params()
	if err != nil {
		return nil, fmt.Errorf("exchange: load params: %w", err)
	}
	if p.Owner == (common.Address{}) && len(p.Intermediaries) == 0 && !emptyParams(cfg.Genesis) {
		if cfg.Genesis.FeeBps > MaxFeeBps {
			return nil, fmt.Errorf("exchange: genesis fee %d bps: %w", cfg.Genesis.FeeBps, ErrFeeCapExceeded)
		}
		if err := cfg.Store.Update(func(b storage.Batch) error { return b.SetParams(cfg.Genesis) }); err != nil {
			return nil, fmt.Errorf("exchange: seed params: %w", err)
		}
		x.log.Infow("params_seeded", "owner", cfg.Genesis.Owner.Hex(), "fee_bps", cfg.Genesis.FeeBps)
	}
	return x, nil
}

func emptyParams(p storage.Params) bool {
	return p.Owner == (common.Address{}) && p.FeeSink == (common.Address{}) && p.FeeBps == 0 && len(p.Intermediaries) == 0
}

// Address is the engine's own address.
func (x *Exchange) Address() common.Address { return x.self }

func (x *Exchange) Domain() crypto.Domain { return x.signer.Domain() }

// Signer exposes the EIP-712 signer bound to the exchange domain.
func (x *Exchange) Signer() *crypto.EIP712Signer { return x.signer }

// HashOrder returns the EIP-712 digest of o under the exchange domain.
func (x *Exchange) HashOrder(o *order.Order) (common.Hash, error) {
	return order.Hash(x.signer, o)
}

// NonceOf returns the maker's current registry nonce.
func (x *Exchange) NonceOf(maker common.Address) (uint64, error) {
	return x.store.Nonce(maker)
}

// StatusOf returns the lifecycle status recorded for an order hash.
func (x *Exchange) StatusOf(hash common.Hash) (order.Status, error) {
	return x.store.Status(hash)
}

func (x *Exchange) Params() (storage.Params, error) {
	return x.store.Params()
}

// RecentSettlements returns the newest journal entries.
func (x *Exchange) RecentSettlements(limit int) ([]storage.Settlement, error) {
	return x.store.RecentSettlements(limit)
}

// OnEvent registers fn to be called after each committed change.
func (x *Exchange) OnEvent(fn func(Event)) {
	x.hookMu.Lock()
	defer x.hookMu.Unlock()
	x.onEvents = append(x.onEvents, fn)
}

func (x *Exchange) publish(ev Event) {
	x.hookMu.RLock()
	hooks := append([]func(Event){}, x.onEvents...)
	x.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(ev)
	}
}
