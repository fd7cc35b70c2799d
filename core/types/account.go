package types

import "github.com/holiman/uint256"

// Account is the balance sheet of a single party on the ledger.
type Account struct {
	Address Address      `json:"address"`
	Balance *uint256.Int `json:"balance"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := &Account{Address: a.Address, Balance: new(uint256.Int)}
	if a.Balance != nil {
		out.Balance.Set(a.Balance)
	}
	return out
}
