package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/order"
	"github.com/uhyunpark/hyperswap/pkg/storage"
)

// Validation is the outcome of a read-only order check. Signer is the
// recovered signer, or the maker when on-chain approval was used.
type Validation struct {
	Valid    bool           `json:"valid"`
	Hash     common.Hash    `json:"hash"`
	Signer   common.Address `json:"signer"`
	Approved bool           `json:"approved"`
	Err      error          `json:"-"`
}

// ValidateOrder checks o against the registries at time now. It never writes.
func (x *Exchange) ValidateOrder(o *order.Order, sig []byte, now uint64) Validation {
	v := x.validate(x.store, o, sig, now)
	x.metrics.recordValidation(v.Err)
	return v
}

func (x *Exchange) validate(r storage.Reader, o *order.Order, sig []byte, now uint64) Validation {
	var v Validation
	if err := o.Validate(); err != nil {
		v.Err = fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		return v
	}

	hash, err := x.HashOrder(o)
	if err != nil {
		v.Err = fmt.Errorf("%w: hash: %v", ErrInvalidOrder, err)
		return v
	}
	v.Hash = hash

	if err := x.checkConsent(r, &v, o, sig); err != nil {
		v.Err = err
		return v
	}
	if err := checkWindow(o, now); err != nil {
		v.Err = err
		return v
	}

	nonce, err := r.Nonce(o.Maker)
	if err != nil {
		v.Err = fmt.Errorf("read nonce: %w", err)
		return v
	}
	if o.Nonce != nonce {
		v.Err = fmt.Errorf("%w: order nonce %d, maker nonce %d", ErrStaleNonce, o.Nonce, nonce)
		return v
	}

	status, err := r.Status(hash)
	if err != nil {
		v.Err = fmt.Errorf("read status: %w", err)
		return v
	}
	if status.Terminal() {
		v.Err = fmt.Errorf("%w: %s is %s", ErrAlreadyConsumed, hash.Hex(), status)
		return v
	}

	if err := checkWhitelist(r, o); err != nil {
		v.Err = err
		return v
	}

	v.Valid = true
	return v
}

// checkConsent accepts a signature recovering to the maker or the maker's
// on-chain approval of the hash. A signature blob of the wrong length is
// rejected even when the hash is approved.
func (x *Exchange) checkConsent(r storage.Reader, v *Validation, o *order.Order, sig []byte) error {
	if len(sig) != 0 {
		if _, _, _, err := crypto.UnpackSignature(sig); err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
		}
	}

	approved, err := r.Approved(v.Hash)
	if err != nil {
		return fmt.Errorf("read approval: %w", err)
	}
	if approved {
		v.Approved = true
		v.Signer = o.Maker
		return nil
	}

	if len(sig) == 0 {
		return fmt.Errorf("%w: no signature and no approval", ErrSignatureMismatch)
	}
	signer, err := crypto.RecoverAddress(v.Hash.Bytes(), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	v.Signer = signer
	if signer != o.Maker {
		return fmt.Errorf("%w: signed by %s, maker %s", ErrSignatureMismatch, signer.Hex(), o.Maker.Hex())
	}
	return nil
}

func checkWindow(o *order.Order, now uint64) error {
	if o.Start != 0 && now < o.Start {
		return fmt.Errorf("%w: starts at %d, now %d", ErrOutOfWindow, o.Start, now)
	}
	if o.End != 0 && now > o.End {
		return fmt.Errorf("%w: ended at %d, now %d", ErrOutOfWindow, o.End, now)
	}
	return nil
}

func checkWhitelist(r storage.Reader, o *order.Order) error {
	for _, legs := range [][]asset.Asset{o.SellAssets, o.BuyAssets} {
		for _, leg := range legs {
			if leg.Class != asset.ClassFungible {
				continue
			}
			token, err := leg.Token()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
			}
			ok, err := r.Whitelisted(token)
			if err != nil {
				return fmt.Errorf("read whitelist: %w", err)
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnwhitelistedAsset, token.Hex())
			}
		}
	}
	return nil
}
