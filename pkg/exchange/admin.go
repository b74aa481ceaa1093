package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/storage"
)

// SetWhitelisted adds or removes a fungible token from the allow-list.
func (x *Exchange) SetWhitelisted(caller, token common.Address, ok bool) error {
	return x.admin(caller, "whitelist", func(b storage.Batch, _ *storage.Params) (bool, error) {
		return false, b.SetWhitelisted(token, ok)
	}, "token", token.Hex(), "whitelisted", ok)
}

// SetFeeRate sets the protocol fee in basis points, at most MaxFeeBps.
func (x *Exchange) SetFeeRate(caller common.Address, bps uint64) error {
	return x.admin(caller, "fee_rate", func(_ storage.Batch, p *storage.Params) (bool, error) {
		if bps > MaxFeeBps {
			return false, fmt.Errorf("%w: %d > %d bps", ErrFeeCapExceeded, bps, MaxFeeBps)
		}
		p.FeeBps = bps
		return true, nil
	}, "fee_bps", bps)
}

// SetIntermediary routes transfers of class through the intermediary at addr.
func (x *Exchange) SetIntermediary(caller common.Address, class asset.Class, addr common.Address) error {
	return x.admin(caller, "intermediary", func(_ storage.Batch, p *storage.Params) (bool, error) {
		switch class {
		case asset.ClassFungible, asset.ClassNonFungible, asset.ClassSemiFungible, asset.ClassCollectible:
		default:
			return false, fmt.Errorf("%w: %s has no intermediary", ErrInvalidOrder, class)
		}
		p.Intermediaries[class] = addr
		return true, nil
	}, "class", class.String(), "addr", addr.Hex())
}

func (x *Exchange) SetFeeSink(caller, sink common.Address) error {
	return x.admin(caller, "fee_sink", func(_ storage.Batch, p *storage.Params) (bool, error) {
		p.FeeSink = sink
		return true, nil
	}, "sink", sink.Hex())
}

func (x *Exchange) TransferOwnership(caller, newOwner common.Address) error {
	return x.admin(caller, "ownership", func(_ storage.Batch, p *storage.Params) (bool, error) {
		if newOwner == (common.Address{}) {
			return false, fmt.Errorf("%w: zero owner", ErrUnauthorized)
		}
		p.Owner = newOwner
		return true, nil
	}, "owner", newOwner.Hex())
}

// admin runs an owner-gated update. fn reports whether it changed params.
func (x *Exchange) admin(caller common.Address, op string, fn func(storage.Batch, *storage.Params) (bool, error), kv ...interface{}) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	err := x.store.Update(func(b storage.Batch) error {
		p, err := b.Params()
		if err != nil {
			return err
		}
		if caller != p.Owner || p.Owner == (common.Address{}) {
			return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
		}
		changed, err := fn(b, &p)
		if err != nil {
			return err
		}
		if changed {
			return b.SetParams(p)
		}
		return nil
	})
	x.metrics.recordUpdate(op, err)
	fields := append([]interface{}{"op", op, "caller", caller.Hex()}, kv...)
	if err != nil {
		x.log.Warnw("admin_failed", append(fields, "err", err)...)
		return err
	}
	x.log.Infow("admin_updated", fields...)
	return nil
}
