package commitment

import (
	"strconv"

	"commitvault/core/types"
)

const (
	EventTypeCommitmentCreated   = "commitment.created"
	EventTypeCommitmentCompleted = "commitment.completed"
	EventTypeCommitmentFailed    = "commitment.failed"
)

type commitmentEvent struct {
	evt *types.Event
}

func (e commitmentEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e commitmentEvent) Event() *types.Event { return e.evt }

// NewCreatedEvent returns the canonical event payload for a newly created
// commitment.
func NewCreatedEvent(c *Commitment) *types.Event {
	return newCommitmentEvent(EventTypeCommitmentCreated, c, nil)
}

// NewResolvedEvent returns the canonical payload for a terminal transition.
// The event type follows the resulting status.
func NewResolvedEvent(r *Resolution) *types.Event {
	if r == nil || r.Commitment == nil {
		return &types.Event{Type: EventTypeCommitmentFailed, Attributes: map[string]string{}}
	}
	eventType := EventTypeCommitmentFailed
	if r.Commitment.Status == StatusCompleted {
		eventType = EventTypeCommitmentCompleted
	}
	return newCommitmentEvent(eventType, r.Commitment, r)
}

func newCommitmentEvent(eventType string, c *Commitment, r *Resolution) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = c.ID.Hex()
	attrs["owner"] = c.Owner.Hex()
	attrs["arbiter"] = c.Arbiter.Hex()
	attrs["penaltyRecipient"] = c.PenaltyRecipient.Hex()
	attrs["stakeAmount"] = strconv.FormatUint(c.StakeAmount, 10)
	attrs["deadline"] = strconv.FormatInt(c.Deadline, 10)
	attrs["createdAt"] = strconv.FormatInt(c.CreatedAt, 10)
	attrs["status"] = c.Status.String()
	if r != nil {
		attrs["action"] = r.Action.String()
		attrs["destination"] = r.Destination.Hex()
		attrs["resolvedBy"] = c.ResolvedBy.Hex()
		attrs["resolvedAt"] = strconv.FormatInt(c.ResolvedAt, 10)
		if r.Destination.IsBurn() {
			attrs["burned"] = "true"
		}
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
