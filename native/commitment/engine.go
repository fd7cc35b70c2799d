package commitment

import (
	"errors"
	"fmt"

	"commitvault/core/events"
	"commitvault/core/types"
	"commitvault/observability/metrics"
)

var errNilStore = errors.New("commitment engine: store not configured")

// Resolution reports the outcome of a committed terminal transition.
type Resolution struct {
	Commitment  *Commitment
	Action      Action
	Destination types.Address
	Amount      uint64
}

// Engine applies commitment transitions against a Store. Each transition
// evaluates its guard, releases custody and stores the terminal record in a
// single atomic update while holding the commitment's lock.
type Engine struct {
	store   Store
	emitter events.Emitter
	clock   Clock
	metrics *metrics.CommitmentMetrics
	locks   keyedMutex
}

// NewEngine creates an engine backed by store, using the system clock and a
// no-op emitter.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:   store,
		emitter: events.NoopEmitter{},
		clock:   SystemClock{},
	}
}

// SetClock overrides the time source. Passing nil restores the system clock.
func (e *Engine) SetClock(clock Clock) {
	if clock == nil {
		e.clock = SystemClock{}
		return
	}
	e.clock = clock
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMetrics enables metric reporting. Nil disables it.
func (e *Engine) SetMetrics(m *metrics.CommitmentMetrics) { e.metrics = m }

// Now returns the engine clock reading in unix milliseconds.
func (e *Engine) Now() int64 {
	if e == nil || e.clock == nil {
		return SystemClock{}.Now().UnixMilli()
	}
	return e.clock.Now().UnixMilli()
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(commitmentEvent{evt: event})
}

// Get returns a snapshot of the commitment.
func (e *Engine) Get(id ID) (*Commitment, error) {
	if e == nil || e.store == nil {
		return nil, errNilStore
	}
	c, ok, err := e.store.CommitmentGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Create validates the definition, locks the stake from the owner and stores
// a Pending record. Submitting an identical definition again returns the
// stored record without locking a second time.
func (e *Engine) Create(owner types.Address, params CreateParams) (*Commitment, error) {
	if e == nil || e.store == nil {
		return nil, errNilStore
	}
	now := e.Now()
	candidate, err := ValidateCreate(owner, params, now)
	if err != nil {
		return nil, err
	}
	unlock := e.locks.lock(candidate.ID)
	defer unlock()

	var (
		stored  *Commitment
		created bool
	)
	err = e.store.Update(func(l Ledger) error {
		existing, ok, err := l.CommitmentGet(candidate.ID)
		if err != nil {
			return err
		}
		if ok {
			if !existing.SameDefinition(candidate) {
				return ErrDefinitionMismatch
			}
			stored = existing
			return nil
		}
		if _, err := l.Lock(candidate.ID, owner, candidate.StakeAmount); err != nil {
			return fmt.Errorf("lock stake: %w", err)
		}
		if err := l.CommitmentPut(candidate); err != nil {
			return err
		}
		stored = candidate.Clone()
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		e.metrics.ObserveCreated(stored.StakeAmount)
		e.emit(NewCreatedEvent(stored))
	}
	return stored, nil
}

// ConfirmCompleted lets the arbiter attest success before the deadline. The
// stake returns to the owner.
func (e *Engine) ConfirmCompleted(id ID, caller types.Address) (*Resolution, error) {
	return e.Apply(id, ActionConfirmCompleted, caller)
}

// ConfirmFailed lets the arbiter attest failure at any time. The stake goes
// to the penalty recipient.
func (e *Engine) ConfirmFailed(id ID, caller types.Address) (*Resolution, error) {
	return e.Apply(id, ActionConfirmFailed, caller)
}

// ClaimExpired lets anyone fail a commitment once its deadline has been
// reached. The stake goes to the penalty recipient.
func (e *Engine) ClaimExpired(id ID, caller types.Address) (*Resolution, error) {
	return e.Apply(id, ActionClaimExpired, caller)
}

// Apply runs a terminal transition. Guard evaluation, custody release and the
// status write commit together or not at all; the first transition to commit
// wins and later ones observe ErrAlreadyResolved.
func (e *Engine) Apply(id ID, action Action, caller types.Address) (*Resolution, error) {
	if e == nil || e.store == nil {
		return nil, errNilStore
	}
	unlock := e.locks.lock(id)
	defer unlock()

	now := e.Now()
	var res *Resolution
	err := e.store.Update(func(l Ledger) error {
		c, ok, err := l.CommitmentGet(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		decision, err := Evaluate(c, action, caller, now)
		if err != nil {
			return err
		}
		if err := l.Release(HandleFor(c), decision.Destination); err != nil {
			return fmt.Errorf("release stake: %w", err)
		}
		c.Status = decision.Status
		c.ResolvedAt = now
		c.ResolvedBy = caller
		if err := l.CommitmentPut(c); err != nil {
			return err
		}
		res = &Resolution{
			Commitment:  c.Clone(),
			Action:      action,
			Destination: decision.Destination,
			Amount:      decision.Amount,
		}
		return nil
	})
	if err != nil {
		e.metrics.ObserveRejected(action.String(), rejectReason(err))
		return nil, err
	}
	e.metrics.ObserveResolved(action.String(), res.Commitment.Status.String(), res.Amount)
	e.emit(NewResolvedEvent(res))
	return res, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, ErrDeadlinePassed):
		return "deadline_passed"
	case errors.Is(err, ErrNotExpiredYet):
		return "not_expired_yet"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidAction):
		return "invalid_action"
	default:
		return "internal"
	}
}
