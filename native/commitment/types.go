package commitment

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"commitvault/core/types"
)

// Status represents the lifecycle states of a commitment.
type Status uint8

const (
	StatusPending Status = iota
	StatusCompleted
	StatusFailed
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Label returns the human readable status shown to end users.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Waiting for confirmation"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ParseStatus converts the String form back into a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	default:
		return 0, fmt.Errorf("unknown commitment status %q", s)
	}
}

// ID identifies a commitment. It shares the textual shape of types.Address.
type ID [32]byte

// ParseID decodes the "0x" + 64 hex character form.
func ParseID(s string) (ID, error) {
	addr, err := types.ParseAddress(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid commitment id: %w", err)
	}
	return ID(addr), nil
}

func (id ID) Hex() string { return hexutil.Encode(id[:]) }

func (id ID) String() string { return id.Hex() }

func (id ID) MarshalText() ([]byte, error) { return []byte(id.Hex()), nil }

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// DeriveID computes the deterministic identifier of a commitment from its
// owner, arbiter and the creator-chosen nonce.
func DeriveID(owner, arbiter types.Address, nonce uint64) ID {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	return ID(ethcrypto.Keccak256Hash(owner[:], arbiter[:], nonceBytes[:]))
}

// Commitment is the escrow record binding a stake, a task description and a
// deadline to the owner, arbiter and penalty recipient roles. Times are unix
// milliseconds as supplied by the ledger clock.
type Commitment struct {
	ID               ID
	Owner            types.Address
	Arbiter          types.Address
	PenaltyRecipient types.Address
	Description      string
	StakeAmount      uint64
	Deadline         int64
	CreatedAt        int64
	Nonce            uint64
	Status           Status
	ResolvedAt       int64
	ResolvedBy       types.Address
}

// Clone returns a copy of the commitment so callers can mutate it without
// affecting the stored instance.
func (c *Commitment) Clone() *Commitment {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// DeadlineTime returns the deadline as a time.Time.
func (c *Commitment) DeadlineTime() time.Time { return time.UnixMilli(c.Deadline).UTC() }

// CreatedTime returns the creation instant as a time.Time.
func (c *Commitment) CreatedTime() time.Time { return time.UnixMilli(c.CreatedAt).UTC() }

// SameDefinition reports whether two records describe the same commitment,
// ignoring lifecycle fields.
func (c *Commitment) SameDefinition(other *Commitment) bool {
	if c == nil || other == nil {
		return false
	}
	return c.ID == other.ID &&
		c.Owner == other.Owner &&
		c.Arbiter == other.Arbiter &&
		c.PenaltyRecipient == other.PenaltyRecipient &&
		c.Description == other.Description &&
		c.StakeAmount == other.StakeAmount &&
		c.Deadline == other.Deadline &&
		c.Nonce == other.Nonce
}

// SanitizeCommitment checks a record loaded from storage and returns a clone.
func SanitizeCommitment(c *Commitment) (*Commitment, error) {
	if c == nil {
		return nil, fmt.Errorf("nil commitment")
	}
	if !c.Status.Valid() {
		return nil, fmt.Errorf("invalid commitment status: %d", c.Status)
	}
	if c.StakeAmount == 0 {
		return nil, ErrInvalidAmount
	}
	if c.Status == StatusPending && c.ResolvedAt != 0 {
		return nil, fmt.Errorf("pending commitment carries resolution time")
	}
	return c.Clone(), nil
}
