package exchange

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/order"
	"github.com/uhyunpark/hyperswap/pkg/storage"
)

// Call carries the context of one external invocation: who is calling, the
// native value attached, and the block time to validate against.
type Call struct {
	Caller common.Address `json:"caller"`
	Value  *big.Int       `json:"value,omitempty"`
	Now    uint64         `json:"now"`
}

// Receipt describes a committed settlement.
type Receipt struct {
	Orders    []common.Hash `json:"orders"`
	Transfers []Transfer    `json:"transfers"`
	Refund    *big.Int      `json:"refund"`
}

// BuyNow fills sell directly: the caller pays every wanted leg at its current
// price and receives every offered leg.
func (x *Exchange) BuyNow(ctx context.Context, call Call, sell *order.Order, sig []byte) (*Receipt, error) {
	started := time.Now()
	x.mu.Lock()
	defer x.mu.Unlock()

	rcpt, err := x.buyNow(ctx, call, sell, sig)
	x.metrics.recordAttempt("buy", time.Since(started), err)
	if err != nil {
		x.log.Warnw("settlement_failed", "kind", "buy", "maker", sell.Maker.Hex(), "caller", call.Caller.Hex(), "err", err)
		return nil, err
	}
	x.metrics.recordTransfers(rcpt.Transfers)
	x.log.Infow("order_settled", "kind", "buy", "order", rcpt.Orders[0].Hex(), "maker", sell.Maker.Hex(),
		"caller", call.Caller.Hex(), "transfers", len(rcpt.Transfers), "refund", rcpt.Refund.String())
	x.publish(Event{Kind: "buy", Orders: rcpt.Orders, Makers: []common.Address{sell.Maker}, Caller: call.Caller, Time: call.Now})
	return rcpt, nil
}

func (x *Exchange) buyNow(ctx context.Context, call Call, sell *order.Order, sig []byte) (*Receipt, error) {
	v := x.validate(x.store, sell, sig, call.Now)
	if v.Err != nil {
		return nil, v.Err
	}
	if !sell.Open() && sell.Taker != call.Caller {
		return nil, fmt.Errorf("%w: order reserved for %s", ErrUnauthorized, sell.Taker.Hex())
	}
	for i, leg := range sell.BuyAssets {
		if isOpenEnded(leg) {
			return nil, fmt.Errorf("%w: open-ended wanted leg %d needs a matching order", ErrMatchMismatch, i)
		}
	}
	if sell.Offers(asset.ClassNative) {
		return nil, fmt.Errorf("%w: native value can only come from the caller", ErrMatchMismatch)
	}

	p, err := x.store.Params()
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}

	rcpt := &Receipt{Orders: []common.Hash{v.Hash}}
	err = x.host.Atomic(ctx, func(ctx context.Context) error {
		m := x.newMover(p, call.Value)
		if err := x.collect(ctx, call); err != nil {
			return err
		}
		for _, leg := range sell.BuyAssets {
			if err := m.move(ctx, leg, call.Caller, sell.Maker, sell.Price(leg, call.Now)); err != nil {
				return err
			}
		}
		for _, leg := range sell.SellAssets {
			if err := m.move(ctx, leg, sell.Maker, call.Caller, sell.Price(leg, call.Now)); err != nil {
				return err
			}
		}
		refund, err := m.refund(ctx, call.Caller)
		if err != nil {
			return err
		}
		rcpt.Transfers, rcpt.Refund = m.transfers, refund

		return x.commit(storage.Settlement{
			Kind:      "buy",
			Orders:    rcpt.Orders,
			Caller:    call.Caller,
			Time:      call.Now,
			Transfers: len(m.transfers),
		})
	})
	if err != nil {
		return nil, err
	}
	return rcpt, nil
}

// ExecuteSwap settles two complementary orders against each other. sigs
// holds the sell and buy signatures in that order; an empty entry relies on
// the maker's on-chain approval.
func (x *Exchange) ExecuteSwap(ctx context.Context, call Call, sell, buy *order.Order, sigs [2][]byte) (*Receipt, error) {
	started := time.Now()
	x.mu.Lock()
	defer x.mu.Unlock()

	rcpt, err := x.executeSwap(ctx, call, sell, buy, sigs)
	x.metrics.recordAttempt("swap", time.Since(started), err)
	if err != nil {
		x.log.Warnw("settlement_failed", "kind", "swap", "seller", sell.Maker.Hex(), "buyer", buy.Maker.Hex(),
			"caller", call.Caller.Hex(), "err", err)
		return nil, err
	}
	x.metrics.recordTransfers(rcpt.Transfers)
	x.log.Infow("order_settled", "kind", "swap", "sell", rcpt.Orders[0].Hex(), "buy", rcpt.Orders[1].Hex(),
		"caller", call.Caller.Hex(), "transfers", len(rcpt.Transfers), "refund", rcpt.Refund.String())
	x.publish(Event{Kind: "swap", Orders: rcpt.Orders, Makers: []common.Address{sell.Maker, buy.Maker}, Caller: call.Caller, Time: call.Now})
	return rcpt, nil
}

func (x *Exchange) executeSwap(ctx context.Context, call Call, sell, buy *order.Order, sigs [2][]byte) (*Receipt, error) {
	vs := x.validate(x.store, sell, sigs[0], call.Now)
	if vs.Err != nil {
		return nil, fmt.Errorf("sell order: %w", vs.Err)
	}
	vb := x.validate(x.store, buy, sigs[1], call.Now)
	if vb.Err != nil {
		return nil, fmt.Errorf("buy order: %w", vb.Err)
	}
	if vs.Hash == vb.Hash {
		return nil, fmt.Errorf("%w: order matched against itself", ErrMatchMismatch)
	}

	match, err := ValidateMatch(sell, buy, call.Now)
	if err != nil {
		return nil, err
	}

	native := sell.Offers(asset.ClassNative) || sell.Wants(asset.ClassNative) ||
		buy.Offers(asset.ClassNative) || buy.Wants(asset.ClassNative)
	if native && call.Caller != buy.Maker {
		return nil, fmt.Errorf("%w: native legs require the buyer %s to call", ErrUnauthorized, buy.Maker.Hex())
	}
	if sell.Offers(asset.ClassNative) {
		return nil, fmt.Errorf("%w: native value offered by %s who is not paying", ErrMatchMismatch, sell.Maker.Hex())
	}

	p, err := x.store.Params()
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}

	rcpt := &Receipt{Orders: []common.Hash{vs.Hash, vb.Hash}}
	err = x.host.Atomic(ctx, func(ctx context.Context) error {
		m := x.newMover(p, call.Value)
		if err := x.collect(ctx, call); err != nil {
			return err
		}
		for _, f := range match.SellToBuy {
			if err := m.move(ctx, f.Leg, sell.Maker, buy.Maker, f.Amount); err != nil {
				return err
			}
		}
		for _, f := range match.BuyToSell {
			if err := m.move(ctx, f.Leg, buy.Maker, sell.Maker, f.Amount); err != nil {
				return err
			}
		}
		refund, err := m.refund(ctx, call.Caller)
		if err != nil {
			return err
		}
		rcpt.Transfers, rcpt.Refund = m.transfers, refund

		return x.commit(storage.Settlement{
			Kind:      "swap",
			Orders:    rcpt.Orders,
			Caller:    call.Caller,
			Time:      call.Now,
			Transfers: len(m.transfers),
		})
	})
	if err != nil {
		return nil, err
	}
	return rcpt, nil
}

// collect moves the attached value into the vault.
func (x *Exchange) collect(ctx context.Context, call Call) error {
	if call.Value == nil || call.Value.Sign() == 0 {
		return nil
	}
	if call.Value.Sign() < 0 {
		return fmt.Errorf("%w: negative attached value", ErrTransferFailed)
	}
	if x.vault == nil {
		return fmt.Errorf("%w: no native vault configured", ErrTransferFailed)
	}
	if err := x.vault.Collect(ctx, call.Caller, call.Value); err != nil {
		return fmt.Errorf("%w: collect attached value: %v", ErrTransferFailed, err)
	}
	return nil
}

// commit marks every settled order executed and journals the attempt in one
// batch. It re-reads status inside the batch.
func (x *Exchange) commit(rec storage.Settlement) error {
	return x.store.Update(func(b storage.Batch) error {
		for _, h := range rec.Orders {
			st, err := b.Status(h)
			if err != nil {
				return fmt.Errorf("read status: %w", err)
			}
			if st.Terminal() {
				return fmt.Errorf("%w: %s is %s", ErrAlreadyConsumed, h.Hex(), st)
			}
			if err := b.SetStatus(h, order.StatusExecuted); err != nil {
				return err
			}
		}
		return b.RecordSettlement(rec)
	})
}
