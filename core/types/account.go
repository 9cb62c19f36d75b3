package types

import "math/big"

// Account tracks the fungible balance held by an address. The escrow vault is
// itself an account, so custodied value is always visible on the same ledger
// as depositor and beneficiary balances.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// EnsureAccount returns a usable account value, replacing nil pointers with
// zeroed balances so callers never have to nil-check big.Int fields.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
