// Package token is an in-process fungible asset ledger. It backs both the
// collateral asset in devnet deployments and the outcome tokens created by
// the market ledger.
package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// Token is a fungible balance table with allowances.
type Token struct {
	address  common.Address
	symbol   string
	decimals uint8

	mu         sync.Mutex
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// MintBurnHandle is the capability to change a Token's supply. It is only
// handed out at creation time.
type MintBurnHandle struct {
	t *Token
}

// NewMintable creates a token and the handle that controls its supply.
func NewMintable(addr common.Address, symbol string, decimals uint8) (*Token, *MintBurnHandle) {
	t := &Token{
		address:    addr,
		symbol:     symbol,
		decimals:   decimals,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
	return t, &MintBurnHandle{t: t}
}

var _ domain.Asset = (*Token)(nil)

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

// BalanceOf returns owner's balance.
func (t *Token) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(owner)), nil
}

// TotalSupply returns the outstanding supply.
func (t *Token) TotalSupply(_ context.Context) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.supply), nil
}

// Allowance returns how much spender may move from owner.
func (t *Token) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.allowance(owner, spender)), nil
}

// Transfer moves amount from from to to.
func (t *Token) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// TransferFrom moves amount from from to to using spender's allowance.
func (t *Token) TransferFrom(_ context.Context, spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.allowance(from, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("token %s: transfer %s from %s by %s: %w",
			t.symbol, amount, from.Hex(), spender.Hex(), domain.ErrInsufficientAllowance)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

// Approve sets spender's allowance over owner's balance.
func (t *Token) Approve(_ context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token %s: approve: %w", t.symbol, domain.ErrInvalidAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		t.allowances[owner] = m
	}
	m[spender] = new(big.Int).Set(amount)
	return nil
}

// Token returns the token controlled by h.
func (h *MintBurnHandle) Token() *Token { return h.t }

// Mint credits amount to to and grows the supply.
func (h *MintBurnHandle) Mint(_ context.Context, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balance(to)
	bal.Add(bal, amount)
	t.supply.Add(t.supply, amount)
	return nil
}

// Burn debits amount from from and shrinks the supply.
func (h *MintBurnHandle) Burn(_ context.Context, from common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("token %s: burn %s from %s: %w", t.symbol, amount, from.Hex(), domain.ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	t.supply.Sub(t.supply, amount)
	return nil
}

// move requires t.mu held.
func (t *Token) move(from, to common.Address, amount *big.Int) error {
	src := t.balance(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("token %s: transfer %s from %s: %w", t.symbol, amount, from.Hex(), domain.ErrInsufficientBalance)
	}
	src.Sub(src, amount)
	dst := t.balance(to)
	dst.Add(dst, amount)
	return nil
}

func (t *Token) balance(owner common.Address) *big.Int {
	b, ok := t.balances[owner]
	if !ok {
		b = new(big.Int)
		t.balances[owner] = b
	}
	return b
}

func (t *Token) allowance(owner, spender common.Address) *big.Int {
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		t.allowances[owner] = m
	}
	a, ok := m[spender]
	if !ok {
		a = new(big.Int)
		m[spender] = a
	}
	return a
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}
