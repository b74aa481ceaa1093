package exchange

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/storage"
)

// Transfer records one executed leg movement.
type Transfer struct {
	Leg    asset.Asset    `json:"leg"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"` // received by To
	Fee    *big.Int       `json:"fee"`    // received by the fee sink
}

// Fee returns floor(amount * bps / 10000).
func Fee(amount *big.Int, bps uint64) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return fee.Quo(fee, big.NewInt(10_000))
}

// mover executes leg transfers within one attempt and tracks how much of
// the attached native value is left in the vault.
type mover struct {
	x         *Exchange
	params    storage.Params
	value     *big.Int
	transfers []Transfer
}

func (x *Exchange) newMover(p storage.Params, value *big.Int) *mover {
	if value == nil {
		value = new(big.Int)
	}
	return &mover{x: x, params: p, value: new(big.Int).Set(value)}
}

// move sends amount of leg from -> to. Currency legs are split into the net
// amount for to and the fee for the sink.
func (m *mover) move(ctx context.Context, leg asset.Asset, from, to common.Address, amount *big.Int) error {
	fee := new(big.Int)
	if leg.Class.IsCurrency() {
		fee = Fee(amount, m.params.FeeBps)
	}
	net := new(big.Int).Sub(amount, fee)

	var err error
	switch leg.Class {
	case asset.ClassNative:
		err = m.moveNative(ctx, to, net, fee, amount)
	case asset.ClassFungible:
		err = m.moveFungible(ctx, leg, from, to, net, fee)
	case asset.ClassNonFungible, asset.ClassSemiFungible, asset.ClassCollectible:
		err = m.moveItem(ctx, leg, from, to, amount)
	default:
		return fmt.Errorf("%w: %s legs cannot be transferred", ErrInvalidOrder, leg.Class)
	}
	if err != nil {
		return err
	}

	m.transfers = append(m.transfers, Transfer{Leg: leg, From: from, To: to, Amount: net, Fee: fee})
	return nil
}

func (m *mover) moveNative(ctx context.Context, to common.Address, net, fee, amount *big.Int) error {
	if m.x.vault == nil {
		return fmt.Errorf("%w: no native vault configured", ErrTransferFailed)
	}
	if m.value.Cmp(amount) < 0 {
		return fmt.Errorf("%w: attached value %s short of %s", ErrTransferFailed, m.value, amount)
	}
	m.value.Sub(m.value, amount)

	if err := m.x.vault.Send(ctx, to, net); err != nil {
		return fmt.Errorf("%w: native to %s: %v", ErrTransferFailed, to.Hex(), err)
	}
	if fee.Sign() > 0 {
		if err := m.x.vault.Send(ctx, m.params.FeeSink, fee); err != nil {
			return fmt.Errorf("%w: native fee: %v", ErrTransferFailed, err)
		}
	}
	return nil
}

func (m *mover) moveFungible(ctx context.Context, leg asset.Asset, from, to common.Address, net, fee *big.Int) error {
	addr := m.params.Intermediaries[asset.ClassFungible]
	fi, ok := m.x.routes.lookupFungible(addr)
	if !ok {
		return fmt.Errorf("%w: no fungible intermediary at %s", ErrTransferFailed, addr.Hex())
	}
	token, err := leg.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	if err := fi.TransferFrom(ctx, m.x.self, token, from, to, net); err != nil {
		return fmt.Errorf("%w: %s %s -> %s: %v", ErrTransferFailed, leg, from.Hex(), to.Hex(), err)
	}
	if fee.Sign() > 0 {
		if err := fi.TransferFrom(ctx, m.x.self, token, from, m.params.FeeSink, fee); err != nil {
			return fmt.Errorf("%w: %s fee: %v", ErrTransferFailed, leg, err)
		}
	}
	return nil
}

func (m *mover) moveItem(ctx context.Context, leg asset.Asset, from, to common.Address, amount *big.Int) error {
	addr := m.params.Intermediaries[leg.Class]
	ii, ok := m.x.routes.lookupItems(addr)
	if !ok {
		return fmt.Errorf("%w: no %s intermediary at %s", ErrTransferFailed, leg.Class, addr.Hex())
	}
	it, err := leg.Item()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	if err := ii.TransferFrom(ctx, m.x.self, leg.Class, it.Contract, it.ID, from, to, amount); err != nil {
		return fmt.Errorf("%w: %s %s -> %s: %v", ErrTransferFailed, leg, from.Hex(), to.Hex(), err)
	}
	return nil
}

// refund returns unspent attached value to the caller.
func (m *mover) refund(ctx context.Context, caller common.Address) (*big.Int, error) {
	left := new(big.Int).Set(m.value)
	if left.Sign() == 0 {
		return left, nil
	}
	if err := m.x.vault.Send(ctx, caller, left); err != nil {
		return nil, fmt.Errorf("%w: refund: %v", ErrTransferFailed, err)
	}
	m.value.SetUint64(0)
	return left, nil
}
