package types

import "math/big"

// Account tracks the ledger balance and replay-protection counter for a
// single address. Engines mutate accounts exclusively through the state
// manager so balance invariants hold across concurrent entry points.
type Account struct {
	Sequence uint64   `json:"sequence"`
	Balance  *big.Int `json:"balance"`
}

// EnsureDefaults normalises nil balance pointers so arithmetic never
// dereferences a nil big.Int.
func (a *Account) EnsureDefaults() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}
