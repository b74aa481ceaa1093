// Package ledger is an in-memory host ledger for devnets and tests: native
// balances, fungible token balances, unit ownership and operator approvals,
// with all-or-nothing attempts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/asset"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotOwner            = errors.New("not the unit owner")
	ErrNotApproved         = errors.New("operator not approved by holder")
	ErrCallerNotAllowed    = errors.New("caller not allowed")
	ErrUnsupportedClass    = errors.New("unsupported asset class")
)

type unitKey struct {
	class    asset.Class
	contract common.Address
	id       string
}

type holding struct {
	unit   unitKey
	holder common.Address
}

type state struct {
	native    map[common.Address]*big.Int
	tokens    map[common.Address]map[common.Address]*big.Int // token -> holder -> balance
	owners    map[unitKey]common.Address                     // single-owner units
	multi     map[holding]*big.Int                           // semi-fungible balances
	operators map[common.Address]map[common.Address]bool     // holder -> operator -> approved
}

func newState() state {
	return state{
		native:    make(map[common.Address]*big.Int),
		tokens:    make(map[common.Address]map[common.Address]*big.Int),
		owners:    make(map[unitKey]common.Address),
		multi:     make(map[holding]*big.Int),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.native {
		out.native[k] = new(big.Int).Set(v)
	}
	for tok, bals := range s.tokens {
		m := make(map[common.Address]*big.Int, len(bals))
		for k, v := range bals {
			m[k] = new(big.Int).Set(v)
		}
		out.tokens[tok] = m
	}
	for k, v := range s.owners {
		out.owners[k] = v
	}
	for k, v := range s.multi {
		out.multi[k] = new(big.Int).Set(v)
	}
	for holder, ops := range s.operators {
		m := make(map[common.Address]bool, len(ops))
		for k, v := range ops {
			m[k] = v
		}
		out.operators[holder] = m
	}
	return out
}

// Ledger holds all balances. Reads and transfers take mu. Atomic holds
// attempt for the whole attempt, and so do the direct credits (Deposit,
// Mint*, SetApprovalForAll), so a rolled-back attempt never discards them.
type Ledger struct {
	attempt sync.Mutex
	mu      sync.Mutex
	st      state
}

func New() *Ledger {
	return &Ledger{st: newState()}
}

// Atomic runs fn as one attempt. If fn fails every balance change made
// during it is reverted.
func (l *Ledger) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	l.attempt.Lock()
	defer l.attempt.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	snapshot := l.st.clone()
	l.mu.Unlock()

	if err := fn(ctx); err != nil {
		l.mu.Lock()
		l.st = snapshot
		l.mu.Unlock()
		return err
	}
	return nil
}

// Deposit credits native currency to addr.
func (l *Ledger) Deposit(addr common.Address, amount *big.Int) {
	l.attempt.Lock()
	defer l.attempt.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	addTo(l.st.native, addr, amount)
}

func (l *Ledger) NativeBalance(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return balanceOf(l.st.native, addr)
}

// MoveNative transfers native currency between two accounts.
func (l *Ledger) MoveNative(from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := subFrom(l.st.native, from, amount); err != nil {
		return fmt.Errorf("native %s: %w", from.Hex(), err)
	}
	addTo(l.st.native, to, amount)
	return nil
}

// MintToken credits amount of token to holder.
func (l *Ledger) MintToken(token, holder common.Address, amount *big.Int) {
	l.attempt.Lock()
	defer l.attempt.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	addTo(l.tokenBook(token), holder, amount)
}

func (l *Ledger) TokenBalance(token, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return balanceOf(l.st.tokens[token], holder)
}

func (l *Ledger) tokenBook(token common.Address) map[common.Address]*big.Int {
	book, ok := l.st.tokens[token]
	if !ok {
		book = make(map[common.Address]*big.Int)
		l.st.tokens[token] = book
	}
	return book
}

func (l *Ledger) moveToken(token, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	book := l.tokenBook(token)
	if err := subFrom(book, from, amount); err != nil {
		return fmt.Errorf("token %s holder %s: %w", token.Hex(), from.Hex(), err)
	}
	addTo(book, to, amount)
	return nil
}

// MintUnit assigns a single-owner unit (ERC721 or collectible) to owner.
func (l *Ledger) MintUnit(class asset.Class, contract common.Address, id *big.Int, owner common.Address) {
	l.attempt.Lock()
	defer l.attempt.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.owners[unitKey{class, contract, id.String()}] = owner
}

// OwnerOf returns the owner of a single-owner unit.
func (l *Ledger) OwnerOf(class asset.Class, contract common.Address, id *big.Int) (common.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.st.owners[unitKey{class, contract, id.String()}]
	return owner, ok
}

// MintMulti credits amount of a semi-fungible unit id to holder.
func (l *Ledger) MintMulti(contract common.Address, id *big.Int, holder common.Address, amount *big.Int) {
	l.attempt.Lock()
	defer l.attempt.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	k := holding{unitKey{asset.ClassSemiFungible, contract, id.String()}, holder}
	if cur, ok := l.st.multi[k]; ok {
		cur.Add(cur, amount)
		return
	}
	l.st.multi[k] = new(big.Int).Set(amount)
}

func (l *Ledger) MultiBalance(contract common.Address, id *big.Int, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := holding{unitKey{asset.ClassSemiFungible, contract, id.String()}, holder}
	if cur, ok := l.st.multi[k]; ok {
		return new(big.Int).Set(cur)
	}
	return new(big.Int)
}

func (l *Ledger) moveUnit(class asset.Class, contract common.Address, id *big.Int, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := unitKey{class, contract, id.String()}
	switch class {
	case asset.ClassNonFungible, asset.ClassCollectible:
		if amount.Cmp(big.NewInt(1)) != 0 {
			return fmt.Errorf("%s %s#%s: quantity %s", class, contract.Hex(), id, amount)
		}
		if owner, ok := l.st.owners[key]; !ok || owner != from {
			return fmt.Errorf("%s %s#%s: %w", class, contract.Hex(), id, ErrNotOwner)
		}
		l.st.owners[key] = to
		return nil
	case asset.ClassSemiFungible:
		src := holding{key, from}
		cur, ok := l.st.multi[src]
		if !ok || cur.Cmp(amount) < 0 {
			return fmt.Errorf("%s %s#%s holder %s: %w", class, contract.Hex(), id, from.Hex(), ErrInsufficientBalance)
		}
		cur.Sub(cur, amount)
		dst := holding{key, to}
		if d, ok := l.st.multi[dst]; ok {
			d.Add(d, amount)
		} else {
			l.st.multi[dst] = new(big.Int).Set(amount)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedClass, class)
	}
}

// SetApprovalForAll lets operator move any of holder's assets.
func (l *Ledger) SetApprovalForAll(holder, operator common.Address, approved bool) {
	l.attempt.Lock()
	defer l.attempt.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	ops, ok := l.st.operators[holder]
	if !ok {
		ops = make(map[common.Address]bool)
		l.st.operators[holder] = ops
	}
	ops[operator] = approved
}

func (l *Ledger) isApproved(holder, operator common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.operators[holder][operator]
}

func balanceOf(book map[common.Address]*big.Int, addr common.Address) *big.Int {
	if v, ok := book[addr]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func addTo(book map[common.Address]*big.Int, addr common.Address, amount *big.Int) {
	if cur, ok := book[addr]; ok {
		cur.Add(cur, amount)
		return
	}
	book[addr] = new(big.Int).Set(amount)
}

func subFrom(book map[common.Address]*big.Int, addr common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative amount %s", amount)
	}
	cur, ok := book[addr]
	if !ok {
		if amount.Sign() == 0 {
			return nil
		}
		return ErrInsufficientBalance
	}
	if cur.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	cur.Sub(cur, amount)
	return nil
}
