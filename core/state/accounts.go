package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"commitvault/core/types"
)

// ErrInsufficientFunds is returned when a debit exceeds the account balance.
var ErrInsufficientFunds = errors.New("state: insufficient funds")

type storedAccount struct {
	Balance *big.Int
}

func accountKey(addr types.Address) []byte { return prefixedKey(accountPrefix, addr[:]) }

// GetAccount loads the account for addr. Missing accounts have a zero
// balance.
func (tx *Tx) GetAccount(addr types.Address) (*types.Account, error) {
	account := &types.Account{Address: addr, Balance: new(uint256.Int)}
	data, ok, err := tx.get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return account, nil
	}
	stored := new(storedAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", addr, err)
	}
	if stored.Balance != nil {
		balance, overflow := uint256.FromBig(stored.Balance)
		if overflow {
			return nil, fmt.Errorf("account %s: balance overflow", addr)
		}
		account.Balance = balance
	}
	return account, nil
}

// PutAccount stages the account state.
func (tx *Tx) PutAccount(account *types.Account) error {
	if account == nil {
		return fmt.Errorf("nil account")
	}
	balance := new(big.Int)
	if account.Balance != nil {
		balance = account.Balance.ToBig()
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{Balance: balance})
	if err != nil {
		return err
	}
	tx.put(accountKey(account.Address), encoded)
	return nil
}

// Credit adds amount to the balance of addr.
func (tx *Tx) Credit(addr types.Address, amount *uint256.Int) error {
	account, err := tx.GetAccount(addr)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(account.Balance, amount)
	if overflow {
		return fmt.Errorf("account %s: balance overflow", addr)
	}
	account.Balance = sum
	return tx.PutAccount(account)
}

// Debit removes amount from the balance of addr.
func (tx *Tx) Debit(addr types.Address, amount *uint256.Int) error {
	account, err := tx.GetAccount(addr)
	if err != nil {
		return err
	}
	if account.Balance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, addr, account.Balance.Dec(), amount.Dec())
	}
	account.Balance = new(uint256.Int).Sub(account.Balance, amount)
	return tx.PutAccount(account)
}

// Balance returns the committed balance of addr.
func (m *Manager) Balance(addr types.Address) (*uint256.Int, error) {
	var balance *uint256.Int
	err := m.View(func(tx *Tx) error {
		account, err := tx.GetAccount(addr)
		if err != nil {
			return err
		}
		balance = account.Balance
		return nil
	})
	return balance, err
}

// Credit mints amount into addr. It is used for genesis allocations and test
// fixtures.
func (m *Manager) Credit(addr types.Address, amount *uint256.Int) error {
	return m.update(func(tx *Tx) error { return tx.Credit(addr, amount) })
}

// GenesisAlloc is an initial balance assignment.
type GenesisAlloc struct {
	Address types.Address
	Balance *uint256.Int
}

// ApplyGenesis credits allocs exactly once per database. It reports whether
// the allocations were applied by this call.
func (m *Manager) ApplyGenesis(allocs []GenesisAlloc) (bool, error) {
	applied := false
	err := m.update(func(tx *Tx) error {
		_, done, err := tx.get(genesisKey)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		for _, alloc := range allocs {
			if alloc.Balance == nil {
				continue
			}
			if err := tx.Credit(alloc.Address, alloc.Balance); err != nil {
				return err
			}
		}
		tx.put(genesisKey, []byte{1})
		applied = true
		return nil
	})
	return applied, err
}
