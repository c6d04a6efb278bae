package bank

import (
	"errors"
	"fmt"
	"math/big"

	"payflow/core/types"
	"payflow/native/payments"
)

var (
	ErrInsufficientFunds     = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	errNilState              = errors.New("bank: account state not configured")
)

// accountState is the slice of ledger state the mover needs.
type accountState interface {
	AccountGet(addr [20]byte) (*types.Account, error)
	AccountPut(addr [20]byte, acc *types.Account) error
}

// Mover settles direct transfers against stored account balances. It
// implements the engine's AssetMover collaborator: native transfers spend the
// payer's base-currency balance, token transfers consume a prior allowance.
type Mover struct {
	state accountState
}

func NewMover(state accountState) *Mover {
	return &Mover{state: state}
}

// SendNative moves amount of the base currency from payer to recipient.
func (m *Mover) SendNative(from, to [20]byte, amount *big.Int) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	amt := cloneAmount(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("bank: transfer amount must be positive")
	}
	fromAcc, err := m.state.AccountGet(from)
	if err != nil {
		return err
	}
	toAcc, err := m.state.AccountGet(to)
	if err != nil {
		return err
	}
	if fromAcc.BalanceNative.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.BalanceNative = new(big.Int).Sub(fromAcc.BalanceNative, amt)
	toAcc.BalanceNative = new(big.Int).Add(toAcc.BalanceNative, amt)
	if err := m.state.AccountPut(from, fromAcc); err != nil {
		return err
	}
	return m.state.AccountPut(to, toAcc)
}

// TransferFrom moves amount of a token from payer to recipient, consuming the
// payer's standing allowance for the payments module.
func (m *Mover) TransferFrom(asset string, from, to [20]byte, amount *big.Int) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	normalized := payments.NormalizeAsset(asset)
	if payments.IsNativeAsset(normalized) {
		return fmt.Errorf("bank: token transfer requires a token asset")
	}
	amt := cloneAmount(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("bank: transfer amount must be positive")
	}
	fromAcc, err := m.state.AccountGet(from)
	if err != nil {
		return err
	}
	toAcc, err := m.state.AccountGet(to)
	if err != nil {
		return err
	}
	allowance := fromAcc.TokenAllowance[normalized]
	if allowance == nil || allowance.Cmp(amt) < 0 {
		return ErrInsufficientAllowance
	}
	balance := fromAcc.TokenBalance(normalized)
	if balance.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.TokenAllowance[normalized] = new(big.Int).Sub(allowance, amt)
	fromAcc.TokenBalances[normalized] = new(big.Int).Sub(balance, amt)
	toAcc.TokenBalances[normalized] = new(big.Int).Add(toAcc.TokenBalance(normalized), amt)
	if err := m.state.AccountPut(from, fromAcc); err != nil {
		return err
	}
	return m.state.AccountPut(to, toAcc)
}

// Approve grants the payments module a standing allowance to pull amount of
// the asset from owner.
func (m *Mover) Approve(owner [20]byte, asset string, amount *big.Int) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	normalized := payments.NormalizeAsset(asset)
	if payments.IsNativeAsset(normalized) {
		return fmt.Errorf("bank: allowance requires a token asset")
	}
	acc, err := m.state.AccountGet(owner)
	if err != nil {
		return err
	}
	acc.TokenAllowance[normalized] = cloneAmount(amount)
	return m.state.AccountPut(owner, acc)
}

// Credit funds an account directly. Used for genesis balances and tests.
func (m *Mover) Credit(addr [20]byte, asset string, amount *big.Int) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("bank: credit amount must be non-negative")
	}
	acc, err := m.state.AccountGet(addr)
	if err != nil {
		return err
	}
	normalized := payments.NormalizeAsset(asset)
	if payments.IsNativeAsset(normalized) {
		acc.BalanceNative = new(big.Int).Add(acc.BalanceNative, amt)
	} else {
		acc.TokenBalances[normalized] = new(big.Int).Add(acc.TokenBalance(normalized), amt)
	}
	return m.state.AccountPut(addr, acc)
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
