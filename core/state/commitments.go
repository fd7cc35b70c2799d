package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"commitvault/core/types"
	"commitvault/native/commitment"
)

type storedCommitment struct {
	ID               [32]byte
	Owner            [32]byte
	Arbiter          [32]byte
	PenaltyRecipient [32]byte
	Description      string
	StakeAmount      uint64
	Deadline         uint64
	CreatedAt        uint64
	Nonce            uint64
	Status           uint8
	ResolvedAt       uint64
	ResolvedBy       [32]byte
}

func newStoredCommitment(c *commitment.Commitment) (*storedCommitment, error) {
	if c.Deadline < 0 || c.CreatedAt < 0 || c.ResolvedAt < 0 {
		return nil, fmt.Errorf("commitment %s: negative timestamp", c.ID)
	}
	return &storedCommitment{
		ID:               c.ID,
		Owner:            c.Owner,
		Arbiter:          c.Arbiter,
		PenaltyRecipient: c.PenaltyRecipient,
		Description:      c.Description,
		StakeAmount:      c.StakeAmount,
		Deadline:         uint64(c.Deadline),
		CreatedAt:        uint64(c.CreatedAt),
		Nonce:            c.Nonce,
		Status:           uint8(c.Status),
		ResolvedAt:       uint64(c.ResolvedAt),
		ResolvedBy:       c.ResolvedBy,
	}, nil
}

func (s *storedCommitment) toCommitment() (*commitment.Commitment, error) {
	return commitment.SanitizeCommitment(&commitment.Commitment{
		ID:               s.ID,
		Owner:            s.Owner,
		Arbiter:          s.Arbiter,
		PenaltyRecipient: s.PenaltyRecipient,
		Description:      s.Description,
		StakeAmount:      s.StakeAmount,
		Deadline:         int64(s.Deadline),
		CreatedAt:        int64(s.CreatedAt),
		Nonce:            s.Nonce,
		Status:           commitment.Status(s.Status),
		ResolvedAt:       int64(s.ResolvedAt),
		ResolvedBy:       s.ResolvedBy,
	})
}

func commitmentKey(id commitment.ID) []byte { return prefixedKey(commitmentPrefix, id[:]) }

// CommitmentGet implements commitment.Ledger.
func (tx *Tx) CommitmentGet(id commitment.ID) (*commitment.Commitment, bool, error) {
	data, ok, err := tx.get(commitmentKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	return decodeCommitment(data)
}

func decodeCommitment(data []byte) (*commitment.Commitment, bool, error) {
	stored := new(storedCommitment)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("decode commitment: %w", err)
	}
	c, err := stored.toCommitment()
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// CommitmentPut implements commitment.Ledger. Terminal records are immutable:
// once stored with a terminal status they cannot be overwritten.
func (tx *Tx) CommitmentPut(c *commitment.Commitment) error {
	sanitized, err := commitment.SanitizeCommitment(c)
	if err != nil {
		return err
	}
	existing, ok, err := tx.CommitmentGet(sanitized.ID)
	if err != nil {
		return err
	}
	if ok && existing.Status.Terminal() {
		return fmt.Errorf("commitment %s: %w", sanitized.ID, commitment.ErrAlreadyResolved)
	}
	record, err := newStoredCommitment(sanitized)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	tx.put(commitmentKey(sanitized.ID), encoded)
	return nil
}

// CommitmentFilter selects commitments by party. Zero fields match anything.
type CommitmentFilter struct {
	Owner   types.Address
	Arbiter types.Address
	Status  *commitment.Status
}

func (f CommitmentFilter) match(c *commitment.Commitment) bool {
	if f.Owner != (types.Address{}) && c.Owner != f.Owner {
		return false
	}
	if f.Arbiter != (types.Address{}) && c.Arbiter != f.Arbiter {
		return false
	}
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	return true
}

// Commitments returns up to limit committed records matching filter in
// identifier order. A non-positive limit returns every match.
func (m *Manager) Commitments(filter CommitmentFilter, limit int) ([]*commitment.Commitment, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	var (
		out     []*commitment.Commitment
		iterErr error
	)
	err := m.db.Iterate(commitmentPrefix, func(_, value []byte) bool {
		c, _, err := decodeCommitment(value)
		if err != nil {
			iterErr = err
			return false
		}
		if filter.match(c) {
			out = append(out, c)
		}
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, iterErr
}
