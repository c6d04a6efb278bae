package types

import "math/big"

// Account holds the balances the asset-movement collaborator settles against.
// BalanceNative is the base currency; token balances are keyed by their
// normalised symbol.
type Account struct {
	Nonce          uint64              `json:"nonce"`
	BalanceNative  *big.Int            `json:"balanceNative"`
	TokenBalances  map[string]*big.Int `json:"tokenBalances,omitempty"`
	TokenAllowance map[string]*big.Int `json:"tokenAllowance,omitempty"`
}

// EnsureBalances replaces nil balance fields with zero values so arithmetic
// never has to nil-check.
func (a *Account) EnsureBalances() *Account {
	if a == nil {
		return &Account{BalanceNative: big.NewInt(0)}
	}
	if a.BalanceNative == nil {
		a.BalanceNative = big.NewInt(0)
	}
	if a.TokenBalances == nil {
		a.TokenBalances = make(map[string]*big.Int)
	}
	if a.TokenAllowance == nil {
		a.TokenAllowance = make(map[string]*big.Int)
	}
	return a
}

// TokenBalance returns the balance for a token symbol, zero when absent.
func (a *Account) TokenBalance(asset string) *big.Int {
	if a == nil || a.TokenBalances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.TokenBalances[asset]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}
