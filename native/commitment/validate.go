package commitment

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"commitvault/core/types"
)

// MaxDescriptionLength bounds the task statement in bytes.
const MaxDescriptionLength = 1024

// MaxDeadlineHorizon is the furthest a deadline may sit from creation, in
// milliseconds; beyond it the remaining time no longer fits a time.Duration.
const MaxDeadlineHorizon = math.MaxInt64 / int64(time.Millisecond)

// CreateParams carries the owner-submitted definition of a new commitment.
// PenaltyRecipient is optional; nil resolves to types.BurnAddress.
type CreateParams struct {
	Arbiter          types.Address
	PenaltyRecipient *types.Address
	Description      string
	StakeAmount      uint64
	Deadline         int64
	Nonce            uint64
}

// ResolvePenaltyRecipient returns the configured penalty destination or the
// burn address when none was supplied.
func (p CreateParams) ResolvePenaltyRecipient() types.Address {
	if p.PenaltyRecipient == nil {
		return types.BurnAddress
	}
	return *p.PenaltyRecipient
}

// ValidateCreate is the creator-side validator. It checks the definition
// against the creation instant and returns the Pending record that would be
// stored.
func ValidateCreate(owner types.Address, params CreateParams, now int64) (*Commitment, error) {
	if params.StakeAmount == 0 {
		return nil, ErrInvalidAmount
	}
	if params.Arbiter == (types.Address{}) {
		return nil, ErrInvalidArbiter
	}
	description := strings.TrimSpace(params.Description)
	if description == "" {
		return nil, fmt.Errorf("%w: description required", ErrInvalidDescription)
	}
	if len(description) > MaxDescriptionLength {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrInvalidDescription, MaxDescriptionLength)
	}
	if !utf8.ValidString(description) {
		return nil, fmt.Errorf("%w: not valid utf-8", ErrInvalidDescription)
	}
	if params.Deadline <= now {
		return nil, ErrInvalidDeadline
	}
	if params.Deadline-now > MaxDeadlineHorizon {
		return nil, fmt.Errorf("%w: more than %s away", ErrInvalidDeadline, time.Duration(math.MaxInt64).Truncate(time.Hour))
	}
	return &Commitment{
		ID:               DeriveID(owner, params.Arbiter, params.Nonce),
		Owner:            owner,
		Arbiter:          params.Arbiter,
		PenaltyRecipient: params.ResolvePenaltyRecipient(),
		Description:      description,
		StakeAmount:      params.StakeAmount,
		Deadline:         params.Deadline,
		CreatedAt:        now,
		Nonce:            params.Nonce,
		Status:           StatusPending,
	}, nil
}
