package exchange

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/order"
	"github.com/uhyunpark/hyperswap/pkg/storage"
)

// Approve records the maker's on-chain consent to o, which then validates
// without a signature.
func (x *Exchange) Approve(caller common.Address, o *order.Order) (common.Hash, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	hash, err := x.approve(caller, o)
	x.metrics.recordUpdate("approve", err)
	if err != nil {
		x.log.Warnw("approve_failed", "maker", o.Maker.Hex(), "caller", caller.Hex(), "err", err)
		return common.Hash{}, err
	}
	x.log.Infow("order_approved", "order", hash.Hex(), "maker", o.Maker.Hex())
	x.publish(Event{Kind: "approve", Orders: []common.Hash{hash}, Makers: []common.Address{o.Maker}, Caller: caller})
	return hash, nil
}

func (x *Exchange) approve(caller common.Address, o *order.Order) (common.Hash, error) {
	if err := o.Validate(); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if caller != o.Maker {
		return common.Hash{}, fmt.Errorf("%w: only the maker may approve", ErrUnauthorized)
	}
	hash, err := x.HashOrder(o)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	err = x.store.Update(func(b storage.Batch) error {
		st, err := b.Status(hash)
		if err != nil {
			return err
		}
		if st.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyConsumed, hash.Hex(), st)
		}
		ok, err := b.Approved(hash)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%w: %s", ErrAlreadyApproved, hash.Hex())
		}
		return b.SetApproved(hash, true)
	})
	return hash, err
}

// Cancel permanently invalidates o. Cancelling an order that is already
// cancelled or executed fails.
func (x *Exchange) Cancel(caller common.Address, o *order.Order) (common.Hash, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	hash, err := x.cancel(caller, o)
	x.metrics.recordUpdate("cancel", err)
	if err != nil {
		x.log.Warnw("cancel_failed", "maker", o.Maker.Hex(), "caller", caller.Hex(), "err", err)
		return common.Hash{}, err
	}
	x.log.Infow("order_cancelled", "order", hash.Hex(), "maker", o.Maker.Hex())
	x.publish(Event{Kind: "cancel", Orders: []common.Hash{hash}, Makers: []common.Address{o.Maker}, Caller: caller})
	return hash, nil
}

func (x *Exchange) cancel(caller common.Address, o *order.Order) (common.Hash, error) {
	if caller != o.Maker {
		return common.Hash{}, fmt.Errorf("%w: only the maker may cancel", ErrUnauthorized)
	}
	hash, err := x.HashOrder(o)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	err = x.store.Update(func(b storage.Batch) error {
		st, err := b.Status(hash)
		if err != nil {
			return err
		}
		if st != order.StatusUnset {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyConsumed, hash.Hex(), st)
		}
		return b.SetStatus(hash, order.StatusCancelled)
	})
	return hash, err
}

// AdvanceNonce bumps the caller's nonce by one, invalidating every order
// signed against the previous value. It returns the new nonce.
func (x *Exchange) AdvanceNonce(caller common.Address) (uint64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var next uint64
	err := x.store.Update(func(b storage.Batch) error {
		cur, err := b.Nonce(caller)
		if err != nil {
			return err
		}
		if cur == math.MaxUint64 {
			return fmt.Errorf("%w: nonce of %s exhausted", ErrStaleNonce, caller.Hex())
		}
		next = cur + 1
		return b.SetNonce(caller, next)
	})
	x.metrics.recordUpdate("nonce", err)
	if err != nil {
		x.log.Warnw("nonce_advance_failed", "maker", caller.Hex(), "err", err)
		return 0, err
	}
	x.log.Infow("nonce_advanced", "maker", caller.Hex(), "nonce", next)
	x.publish(Event{Kind: "nonce", Makers: []common.Address{caller}, Caller: caller, Nonce: next})
	return next, nil
}
