package commitment

import (
	"errors"
	"sync"

	"commitvault/core/types"
)

var errMockInsufficient = errors.New("mock: insufficient funds")

type mockCustody struct {
	depositor types.Address
	amount    uint64
	released  bool
	to        types.Address
}

// mockStore is an in-memory Store whose updates stage writes on copies of
// the maps and swap them in only when the callback succeeds.
type mockStore struct {
	mu          sync.Mutex
	balances    map[types.Address]uint64
	commitments map[ID]*Commitment
	custody     map[ID]mockCustody
	failRelease error
}

func newMockStore() *mockStore {
	return &mockStore{
		balances:    make(map[types.Address]uint64),
		commitments: make(map[ID]*Commitment),
		custody:     make(map[ID]mockCustody),
	}
}

func (s *mockStore) fund(addr types.Address, amount uint64) {
	s.mu.Lock()
	s.balances[addr] += amount
	s.mu.Unlock()
}

func (s *mockStore) balance(addr types.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[addr]
}

func (s *mockStore) locked() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint64
	for _, entry := range s.custody {
		if !entry.released {
			total += entry.amount
		}
	}
	return total
}

func (s *mockStore) Update(fn func(Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &mockTx{
		balances:    make(map[types.Address]uint64, len(s.balances)),
		commitments: make(map[ID]*Commitment, len(s.commitments)),
		custody:     make(map[ID]mockCustody, len(s.custody)),
		failRelease: s.failRelease,
	}
	for k, v := range s.balances {
		tx.balances[k] = v
	}
	for k, v := range s.commitments {
		tx.commitments[k] = v.Clone()
	}
	for k, v := range s.custody {
		tx.custody[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.balances = tx.balances
	s.commitments = tx.commitments
	s.custody = tx.custody
	return nil
}

func (s *mockStore) CommitmentGet(id ID) (*Commitment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commitments[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

type mockTx struct {
	balances    map[types.Address]uint64
	commitments map[ID]*Commitment
	custody     map[ID]mockCustody
	failRelease error
}

func (tx *mockTx) Lock(id ID, from types.Address, amount uint64) (CustodyHandle, error) {
	if tx.balances[from] < amount {
		return CustodyHandle{}, errMockInsufficient
	}
	tx.balances[from] -= amount
	tx.custody[id] = mockCustody{depositor: from, amount: amount}
	return CustodyHandle{ID: id, Amount: amount}, nil
}

func (tx *mockTx) Release(handle CustodyHandle, to types.Address) error {
	if tx.failRelease != nil {
		return tx.failRelease
	}
	entry, ok := tx.custody[handle.ID]
	if !ok || entry.released || entry.amount != handle.Amount {
		return errors.New("mock: bad release")
	}
	entry.released = true
	entry.to = to
	tx.custody[handle.ID] = entry
	tx.balances[to] += entry.amount
	return nil
}

func (tx *mockTx) CommitmentGet(id ID) (*Commitment, bool, error) {
	c, ok := tx.commitments[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

func (tx *mockTx) CommitmentPut(c *Commitment) error {
	tx.commitments[c.ID] = c.Clone()
	return nil
}
