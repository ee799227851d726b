package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrBalanceTooLow = errors.New("account balance too low")

// Vault moves native value between accounts and the ledger's custody.
type Vault interface {
	// Deposit moves amount from the account into custody.
	Deposit(ctx context.Context, from common.Address, amount *big.Int) error
	// Pay moves amount from custody to the account. It fails with
	// ErrInsufficientFunds when custody cannot cover it.
	Pay(ctx context.Context, to common.Address, amount *big.Int) error
	Custody() *big.Int
}

// MemoryVault keeps account balances and custody in process.
type MemoryVault struct {
	mu       sync.Mutex
	custody  *big.Int
	balances map[common.Address]*big.Int
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		custody:  new(big.Int),
		balances: make(map[common.Address]*big.Int),
	}
}

// Fund credits an account from outside the ledger (dev faucet, test setup).
func (v *MemoryVault) Fund(account common.Address, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance(account).Add(v.balance(account), amount)
}

func (v *MemoryVault) BalanceOf(account common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return copyAmount(v.balances[account])
}

func (v *MemoryVault) Deposit(_ context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("deposit amount must not be negative")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrBalanceTooLow, from.Hex(), bal, amount)
	}
	bal.Sub(bal, amount)
	v.custody.Add(v.custody, amount)
	return nil
}

func (v *MemoryVault) Pay(_ context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("payment amount must not be negative")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.custody.Cmp(amount) < 0 {
		return fmt.Errorf("%w: custody holds %s, needs %s", ErrInsufficientFunds, v.custody, amount)
	}
	v.custody.Sub(v.custody, amount)
	bal := v.balance(to)
	bal.Add(bal, amount)
	return nil
}

func (v *MemoryVault) Custody() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return copyAmount(v.custody)
}

// SetCustody resets custody after the ledger is reloaded from a store.
func (v *MemoryVault) SetCustody(amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.custody = copyAmount(amount)
}

func (v *MemoryVault) balance(account common.Address) *big.Int {
	bal, ok := v.balances[account]
	if !ok {
		bal = new(big.Int)
		v.balances[account] = bal
	}
	return bal
}
