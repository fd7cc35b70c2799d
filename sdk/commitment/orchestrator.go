package commitment

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"commitvault/core/types"
	core "commitvault/native/commitment"
	"commitvault/rpc"
)

// RetryPolicy bounds resubmission of requests that failed for
// infrastructure reasons.
type RetryPolicy struct {
	MaxAttempts    uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy retries up to four times starting at 200ms.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialBackoff
	exp.MaxInterval = p.MaxBackoff
	exp.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, attempts-1), ctx)
}

// View is a commitment as seen by the orchestrator's caller at a given
// instant.
type View struct {
	Commitment       *core.Commitment
	IsOwner          bool
	IsArbiter        bool
	Expired          bool
	TimeRemaining    time.Duration
	AvailableActions []core.Action
}

// CreateRequest carries the user-facing create parameters. StakeAmount is in
// base units; PenaltyRecipient is optional and defaults to the burn address.
type CreateRequest struct {
	Arbiter          string
	PenaltyRecipient string
	Description      string
	StakeAmount      uint64
	Deadline         time.Time
}

// Orchestrator drives the commitment lifecycle for one caller on top of a
// Client, adding identifier validation, idempotent retries and view
// derivation.
type Orchestrator struct {
	client *Client
	retry  RetryPolicy
	now    func() time.Time
	nonce  func() (uint64, error)
}

// NewOrchestrator wraps client. The client must carry credentials for the
// mutating operations.
func NewOrchestrator(client *Client, retry RetryPolicy) *Orchestrator {
	return &Orchestrator{client: client, retry: retry, now: time.Now, nonce: randomNonce}
}

func randomNonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func (o *Orchestrator) do(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, o.retry.backOff(ctx))
}

// Load fetches a commitment and derives the caller's view of it.
func (o *Orchestrator) Load(ctx context.Context, id core.ID) (*View, error) {
	var out *rpc.CommitmentJSON
	err := o.do(ctx, func() error {
		var err error
		out, err = o.client.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	c, err := decodeCommitment(out)
	if err != nil {
		return nil, err
	}
	return o.view(c), nil
}

func (o *Orchestrator) view(c *core.Commitment) *View {
	now := o.now().UnixMilli()
	caller := o.client.Caller()
	isOwner, isArbiter := core.Roles(c, caller)
	return &View{
		Commitment:       c,
		IsOwner:          isOwner,
		IsArbiter:        isArbiter,
		Expired:          core.IsExpired(c, now),
		TimeRemaining:    core.TimeRemaining(c, now),
		AvailableActions: core.AvailableActions(c, caller, now),
	}
}

// Create validates the request locally and submits it. The nonce is drawn
// once, so retries resubmit the identical definition and the server returns
// the stored record instead of locking a second stake.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*core.Commitment, error) {
	arbiter, err := types.ParseAddress(strings.TrimSpace(req.Arbiter))
	if err != nil {
		return nil, fmt.Errorf("arbiter: %w", err)
	}
	recipient := types.BurnAddress
	if trimmed := strings.TrimSpace(req.PenaltyRecipient); trimmed != "" {
		if recipient, err = types.ParseAddress(trimmed); err != nil {
			return nil, fmt.Errorf("penalty recipient: %w", err)
		}
	}
	if req.StakeAmount == 0 {
		return nil, core.ErrInvalidAmount
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("%w: description required", core.ErrInvalidDescription)
	}
	if !req.Deadline.After(o.now()) {
		return nil, core.ErrInvalidDeadline
	}
	nonce, err := o.nonce()
	if err != nil {
		return nil, fmt.Errorf("draw nonce: %w", err)
	}
	params := rpc.CreateParams{
		Arbiter:          arbiter.Hex(),
		PenaltyRecipient: recipient.Hex(),
		Description:      req.Description,
		StakeAmount:      req.StakeAmount,
		Deadline:         req.Deadline.UnixMilli(),
		Nonce:            nonce,
	}
	var out *rpc.CommitmentJSON
	err = o.do(ctx, func() error {
		var err error
		out, err = o.client.Create(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return decodeCommitment(out)
}

// ConfirmCompleted attests success as the arbiter.
func (o *Orchestrator) ConfirmCompleted(ctx context.Context, id core.ID) (*core.Commitment, error) {
	return o.apply(ctx, id, core.ActionConfirmCompleted)
}

// ConfirmFailed attests failure as the arbiter.
func (o *Orchestrator) ConfirmFailed(ctx context.Context, id core.ID) (*core.Commitment, error) {
	return o.apply(ctx, id, core.ActionConfirmFailed)
}

// ClaimExpired fails an expired commitment on anyone's behalf.
func (o *Orchestrator) ClaimExpired(ctx context.Context, id core.ID) (*core.Commitment, error) {
	return o.apply(ctx, id, core.ActionClaimExpired)
}

// apply submits action. An already_resolved reply that arrives after an
// infrastructure failure may be the echo of this caller's own earlier
// attempt; it is reported as success when the committed status is the
// requested outcome.
func (o *Orchestrator) apply(ctx context.Context, id core.ID, action core.Action) (*core.Commitment, error) {
	want, err := action.Outcome()
	if err != nil {
		return nil, err
	}
	var (
		out       *rpc.ResolutionJSON
		attempted bool
	)
	err = o.do(ctx, func() error {
		retry := attempted
		attempted = true
		var err error
		out, err = o.client.Apply(ctx, id, action)
		if retry && errors.Is(err, core.ErrAlreadyResolved) {
			return errAlreadyResolvedOnRetry
		}
		return err
	})
	if errors.Is(err, errAlreadyResolvedOnRetry) {
		return o.foldResolved(ctx, id, want)
	}
	if err != nil {
		return nil, err
	}
	return decodeCommitment(&out.Commitment)
}

var errAlreadyResolvedOnRetry = errors.New("already resolved on retry")

func (o *Orchestrator) foldResolved(ctx context.Context, id core.ID, want core.Status) (*core.Commitment, error) {
	view, err := o.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if view.Commitment.Status != want {
		return nil, fmt.Errorf("%w: committed status is %s", core.ErrAlreadyResolved, view.Commitment.Status)
	}
	return view.Commitment, nil
}

func decodeCommitment(in *rpc.CommitmentJSON) (*core.Commitment, error) {
	if in == nil {
		return nil, fmt.Errorf("empty commitment payload")
	}
	var (
		c   core.Commitment
		err error
	)
	if c.ID, err = core.ParseID(in.ID); err != nil {
		return nil, err
	}
	fields := []struct {
		dst *types.Address
		src string
	}{
		{&c.Owner, in.Owner},
		{&c.Arbiter, in.Arbiter},
		{&c.PenaltyRecipient, in.PenaltyRecipient},
	}
	for _, f := range fields {
		if *f.dst, err = types.ParseAddress(f.src); err != nil {
			return nil, err
		}
	}
	if in.ResolvedBy != "" {
		if c.ResolvedBy, err = types.ParseAddress(in.ResolvedBy); err != nil {
			return nil, err
		}
	}
	if c.Status, err = core.ParseStatus(in.Status); err != nil {
		return nil, err
	}
	c.Description = in.Description
	c.StakeAmount = in.StakeAmount
	c.Deadline = in.Deadline
	c.CreatedAt = in.CreatedAt
	c.Nonce = in.Nonce
	c.ResolvedAt = in.ResolvedAt
	return &c, nil
}
