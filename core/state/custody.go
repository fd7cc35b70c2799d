package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"commitvault/core/types"
	"commitvault/native/commitment"
)

var (
	ErrCustodyExists   = errors.New("custody: stake already locked")
	ErrCustodyNotFound = errors.New("custody: no stake locked")
	ErrCustodyReleased = errors.New("custody: stake already released")
	ErrCustodyMismatch = errors.New("custody: handle does not match locked stake")
)

// CustodyEntry is the vault record of one locked stake.
type CustodyEntry struct {
	ID          commitment.ID
	Depositor   types.Address
	Amount      uint64
	Released    bool
	Destination types.Address
}

type storedCustody struct {
	ID          [32]byte
	Depositor   [32]byte
	Amount      uint64
	Released    bool
	Destination [32]byte
}

func custodyKey(id commitment.ID) []byte { return prefixedKey(custodyPrefix, id[:]) }

func (tx *Tx) custodyGet(id commitment.ID) (*CustodyEntry, bool, error) {
	data, ok, err := tx.get(custodyKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	stored := new(storedCustody)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("decode custody entry: %w", err)
	}
	return &CustodyEntry{
		ID:          stored.ID,
		Depositor:   stored.Depositor,
		Amount:      stored.Amount,
		Released:    stored.Released,
		Destination: stored.Destination,
	}, true, nil
}

func (tx *Tx) custodyPut(entry *CustodyEntry) error {
	encoded, err := rlp.EncodeToBytes(&storedCustody{
		ID:          entry.ID,
		Depositor:   entry.Depositor,
		Amount:      entry.Amount,
		Released:    entry.Released,
		Destination: entry.Destination,
	})
	if err != nil {
		return err
	}
	tx.put(custodyKey(entry.ID), encoded)
	return nil
}

// Lock implements commitment.Custody. It moves amount from the depositor's
// balance into the vault.
func (tx *Tx) Lock(id commitment.ID, from types.Address, amount uint64) (commitment.CustodyHandle, error) {
	if amount == 0 {
		return commitment.CustodyHandle{}, commitment.ErrInvalidAmount
	}
	if _, ok, err := tx.custodyGet(id); err != nil {
		return commitment.CustodyHandle{}, err
	} else if ok {
		return commitment.CustodyHandle{}, ErrCustodyExists
	}
	if err := tx.Debit(from, uint256.NewInt(amount)); err != nil {
		return commitment.CustodyHandle{}, err
	}
	if err := tx.custodyPut(&CustodyEntry{ID: id, Depositor: from, Amount: amount}); err != nil {
		return commitment.CustodyHandle{}, err
	}
	return commitment.CustodyHandle{ID: id, Amount: amount}, nil
}

// Release implements commitment.Custody. The entire locked amount moves to
// the destination; releases to the burn address also grow the burned supply.
func (tx *Tx) Release(handle commitment.CustodyHandle, to types.Address) error {
	entry, ok, err := tx.custodyGet(handle.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCustodyNotFound
	}
	if entry.Released {
		return ErrCustodyReleased
	}
	if entry.Amount != handle.Amount {
		return fmt.Errorf("%w: locked %d, handle %d", ErrCustodyMismatch, entry.Amount, handle.Amount)
	}
	amount := uint256.NewInt(entry.Amount)
	if err := tx.Credit(to, amount); err != nil {
		return err
	}
	if to.IsBurn() {
		if err := tx.addBurned(amount); err != nil {
			return err
		}
	}
	entry.Released = true
	entry.Destination = to
	return tx.custodyPut(entry)
}

func (tx *Tx) burned() (*uint256.Int, error) {
	data, ok, err := tx.get(burnedSupplyKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	total := new(big.Int)
	if err := rlp.DecodeBytes(data, total); err != nil {
		return nil, err
	}
	out, overflow := uint256.FromBig(total)
	if overflow {
		return nil, fmt.Errorf("burned supply overflow")
	}
	return out, nil
}

func (tx *Tx) addBurned(amount *uint256.Int) error {
	total, err := tx.burned()
	if err != nil {
		return err
	}
	total = new(uint256.Int).Add(total, amount)
	encoded, err := rlp.EncodeToBytes(total.ToBig())
	if err != nil {
		return err
	}
	tx.put(burnedSupplyKey, encoded)
	return nil
}

// CustodyGet returns the committed vault entry for id.
func (m *Manager) CustodyGet(id commitment.ID) (*CustodyEntry, bool, error) {
	var (
		entry *CustodyEntry
		ok    bool
	)
	err := m.View(func(tx *Tx) error {
		var err error
		entry, ok, err = tx.custodyGet(id)
		return err
	})
	return entry, ok, err
}

// BurnedSupply returns the total amount routed to the burn address.
func (m *Manager) BurnedSupply() (*uint256.Int, error) {
	var total *uint256.Int
	err := m.View(func(tx *Tx) error {
		var err error
		total, err = tx.burned()
		return err
	})
	return total, err
}

// LockedStake sums the stakes still held in custody.
func (m *Manager) LockedStake() (*uint256.Int, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	total := new(uint256.Int)
	var iterErr error
	err := m.db.Iterate(custodyPrefix, func(_, value []byte) bool {
		stored := new(storedCustody)
		if err := rlp.DecodeBytes(value, stored); err != nil {
			iterErr = fmt.Errorf("decode custody entry: %w", err)
			return false
		}
		if !stored.Released {
			total.Add(total, uint256.NewInt(stored.Amount))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return total, iterErr
}
