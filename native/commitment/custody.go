package commitment

import "commitvault/core/types"

// CustodyHandle references the stake locked for one commitment.
type CustodyHandle struct {
	ID     ID
	Amount uint64
}

// HandleFor returns the custody handle of a stored commitment.
func HandleFor(c *Commitment) CustodyHandle {
	return CustodyHandle{ID: c.ID, Amount: c.StakeAmount}
}

// Custody holds stakes for the lifetime of pending commitments. Release moves
// the whole amount to one destination and may succeed at most once per
// handle.
type Custody interface {
	Lock(id ID, from types.Address, amount uint64) (CustodyHandle, error)
	Release(handle CustodyHandle, to types.Address) error
}

// Ledger is the transactional view handed to the engine inside one atomic
// update. Nothing written through it is visible until the update commits.
type Ledger interface {
	Custody
	CommitmentGet(id ID) (*Commitment, bool, error)
	CommitmentPut(c *Commitment) error
}

// Store is the persistent backend of the engine.
type Store interface {
	// Update runs fn inside a single-writer transaction. When fn returns an
	// error no write performed through the Ledger is applied.
	Update(fn func(Ledger) error) error
	CommitmentGet(id ID) (*Commitment, bool, error)
}
