package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/asset"
)

// allowlist is the set of callers an intermediary accepts transfer requests from.
type allowlist struct {
	mu      sync.RWMutex
	callers map[common.Address]bool
}

func (a *allowlist) Allow(caller common.Address, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.callers == nil {
		a.callers = make(map[common.Address]bool)
	}
	a.callers[caller] = ok
}

func (a *allowlist) check(caller common.Address) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.callers[caller] {
		return fmt.Errorf("%w: %s", ErrCallerNotAllowed, caller.Hex())
	}
	return nil
}

// FungibleProxy moves tokens on behalf of holders that approved it.
type FungibleProxy struct {
	allowlist
	l    *Ledger
	addr common.Address
}

func NewFungibleProxy(l *Ledger, addr common.Address) *FungibleProxy {
	return &FungibleProxy{l: l, addr: addr}
}

func (p *FungibleProxy) Address() common.Address { return p.addr }

func (p *FungibleProxy) TransferFrom(ctx context.Context, caller, token, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.check(caller); err != nil {
		return err
	}
	if !p.l.isApproved(from, p.addr) {
		return fmt.Errorf("%w: %s", ErrNotApproved, from.Hex())
	}
	return p.l.moveToken(token, from, to, amount)
}

// ItemProxy moves non-fungible, semi-fungible and collectible units.
type ItemProxy struct {
	allowlist
	l    *Ledger
	addr common.Address
}

func NewItemProxy(l *Ledger, addr common.Address) *ItemProxy {
	return &ItemProxy{l: l, addr: addr}
}

func (p *ItemProxy) Address() common.Address { return p.addr }

func (p *ItemProxy) TransferFrom(ctx context.Context, caller common.Address, class asset.Class, contract common.Address, id *big.Int, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.check(caller); err != nil {
		return err
	}
	if !p.l.isApproved(from, p.addr) {
		return fmt.Errorf("%w: %s", ErrNotApproved, from.Hex())
	}
	return p.l.moveUnit(class, contract, id, from, to, amount)
}

// Vault holds native currency attached to a call for the length of one attempt.
type Vault struct {
	l      *Ledger
	holder common.Address
}

func NewVault(l *Ledger, holder common.Address) *Vault {
	return &Vault{l: l, holder: holder}
}

// Collect pulls the attached value from the caller into the vault.
func (v *Vault) Collect(ctx context.Context, from common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return v.l.MoveNative(from, v.holder, amount)
}

// Send pays out of the vault.
func (v *Vault) Send(ctx context.Context, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return v.l.MoveNative(v.holder, to, amount)
}
