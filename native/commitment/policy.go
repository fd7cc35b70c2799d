package commitment

import (
	"fmt"
	"strings"

	"commitvault/core/types"
)

// Action names a terminal transition a caller may request.
type Action uint8

const (
	ActionConfirmCompleted Action = iota + 1
	ActionConfirmFailed
	ActionClaimExpired
)

// Actions lists every terminal action in a stable order.
var Actions = []Action{ActionConfirmCompleted, ActionConfirmFailed, ActionClaimExpired}

func (a Action) String() string {
	switch a {
	case ActionConfirmCompleted:
		return "confirm_completed"
	case ActionConfirmFailed:
		return "confirm_failed"
	case ActionClaimExpired:
		return "claim_expired"
	default:
		return "unknown"
	}
}

// ParseAction accepts the snake_case names returned by String.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirm_completed":
		return ActionConfirmCompleted, nil
	case "confirm_failed":
		return ActionConfirmFailed, nil
	case "claim_expired":
		return ActionClaimExpired, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

// Outcome returns the terminal status the action produces.
func (a Action) Outcome() (Status, error) {
	r, ok := rules[a]
	if !ok {
		return 0, ErrInvalidAction
	}
	return r.outcome, nil
}

// rule is the guard and effect of one action. Authorization is a predicate
// over (record, caller) so the single permissionless action is data, not a
// special case in the engine.
type rule struct {
	authorize func(c *Commitment, caller types.Address) bool
	window    func(c *Commitment, now int64) error
	outcome   Status
}

var rules = map[Action]rule{
	ActionConfirmCompleted: {
		authorize: arbiterOnly,
		window:    beforeDeadline,
		outcome:   StatusCompleted,
	},
	ActionConfirmFailed: {
		authorize: arbiterOnly,
		window:    anyTime,
		outcome:   StatusFailed,
	},
	ActionClaimExpired: {
		authorize: anyone,
		window:    afterDeadline,
		outcome:   StatusFailed,
	},
}

func arbiterOnly(c *Commitment, caller types.Address) bool { return caller == c.Arbiter }

func anyone(*Commitment, types.Address) bool { return true }

func anyTime(*Commitment, int64) error { return nil }

func beforeDeadline(c *Commitment, now int64) error {
	if IsExpired(c, now) {
		return ErrDeadlinePassed
	}
	return nil
}

func afterDeadline(c *Commitment, now int64) error {
	if !IsExpired(c, now) {
		return ErrNotExpiredYet
	}
	return nil
}

// Decision is the effect of an authorized transition.
type Decision struct {
	Action      Action
	Status      Status
	Destination types.Address
	Amount      uint64
}

// Evaluate decides whether caller may apply action to c at instant now. It
// has no side effects. Checks run in a fixed order: role, then status, then
// time window.
func Evaluate(c *Commitment, action Action, caller types.Address, now int64) (Decision, error) {
	r, ok := rules[action]
	if !ok {
		return Decision{}, ErrInvalidAction
	}
	if c == nil {
		return Decision{}, ErrNotFound
	}
	if !r.authorize(c, caller) {
		return Decision{}, ErrUnauthorized
	}
	if c.Status != StatusPending {
		return Decision{}, ErrAlreadyResolved
	}
	if err := r.window(c, now); err != nil {
		return Decision{}, err
	}
	return Decision{
		Action:      action,
		Status:      r.outcome,
		Destination: Destination(c, r.outcome),
		Amount:      c.StakeAmount,
	}, nil
}

// Destination returns where the stake goes for a terminal status.
func Destination(c *Commitment, status Status) types.Address {
	if status == StatusCompleted {
		return c.Owner
	}
	return c.PenaltyRecipient
}
