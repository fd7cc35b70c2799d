package commitment

import (
	"fmt"
	"math"
	"time"

	"commitvault/core/types"
)

// IsExpired reports whether the deadline has been reached. The instant equal
// to the deadline counts as expired; every time gate uses this predicate.
func IsExpired(c *Commitment, now int64) bool {
	return now >= c.Deadline
}

// TimeRemaining returns the time left until the deadline, or zero once
// expired. Horizons past the largest Duration saturate.
func TimeRemaining(c *Commitment, now int64) time.Duration {
	if IsExpired(c, now) {
		return 0
	}
	left := c.Deadline - now
	if left <= 0 || left > MaxDeadlineHorizon {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(left) * time.Millisecond
}

// FormatTimeRemaining renders a remaining duration for display: days and
// hours past one day, otherwise hours and minutes.
func FormatTimeRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	hours := int64(d / time.Hour)
	minutes := int64((d % time.Hour) / time.Minute)
	if hours > 24 {
		return fmt.Sprintf("%dd %dh", hours/24, hours%24)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// Roles reports whether caller is the owner and/or arbiter of c.
func Roles(c *Commitment, caller types.Address) (isOwner, isArbiter bool) {
	if c == nil {
		return false, false
	}
	return caller == c.Owner, caller == c.Arbiter
}

// AvailableActions lists the actions whose guard would pass for caller now.
func AvailableActions(c *Commitment, caller types.Address, now int64) []Action {
	if c == nil {
		return nil
	}
	var out []Action
	for _, action := range Actions {
		if _, err := Evaluate(c, action, caller, now); err == nil {
			out = append(out, action)
		}
	}
	return out
}
