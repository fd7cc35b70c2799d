package state

import (
	"errors"
	"fmt"
	"sync"

	"commitvault/native/commitment"
	"commitvault/storage"
)

// Manager owns the persistent ledger: account balances, commitment records
// and the custody vault. All writes go through Update, which is single-writer
// and commits one atomic batch.
type Manager struct {
	db storage.Database
	mu sync.Mutex
}

// NewManager wraps db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Update runs fn against a staged transaction. Nothing fn writes becomes
// visible unless fn returns nil and the batch commits.
func (m *Manager) Update(fn func(commitment.Ledger) error) error {
	return m.update(func(tx *Tx) error { return fn(tx) })
}

func (m *Manager) update(fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state manager unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := newTx(m.db)
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.order) == 0 {
		return nil
	}
	batch := m.db.NewBatch()
	for _, key := range tx.order {
		batch.Put([]byte(key), tx.writes[key])
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("commit state batch: %w", err)
	}
	return nil
}

// View runs fn against a read-only snapshot of committed state.
func (m *Manager) View(fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state manager unavailable")
	}
	return fn(newTx(m.db))
}

// CommitmentGet returns the committed record for id.
func (m *Manager) CommitmentGet(id commitment.ID) (*commitment.Commitment, bool, error) {
	var (
		c  *commitment.Commitment
		ok bool
	)
	err := m.View(func(tx *Tx) error {
		var err error
		c, ok, err = tx.CommitmentGet(id)
		return err
	})
	return c, ok, err
}

// Tx is a staged view over the database. Reads see the transaction's own
// writes first.
type Tx struct {
	db     storage.Database
	writes map[string][]byte
	order  []string
}

func newTx(db storage.Database) *Tx {
	return &Tx{db: db, writes: make(map[string][]byte)}
}

func (tx *Tx) get(key []byte) ([]byte, bool, error) {
	if v, ok := tx.writes[string(key)]; ok {
		return v, true, nil
	}
	v, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (tx *Tx) put(key, value []byte) {
	k := string(key)
	if _, ok := tx.writes[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = append([]byte(nil), value...)
}
