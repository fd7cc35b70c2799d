package commitment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"commitvault/core/state"
	"commitvault/core/types"
	core "commitvault/native/commitment"
	"commitvault/rpc"
	"commitvault/storage"
)

const (
	testSecret = "sdk-secret"
	testIssuer = "sdk-tests"
)

var (
	owner     = types.MustParseAddress("0x00000000000000000000000000000000000000000000000000000000000000b1")
	arbiter   = types.MustParseAddress("0x00000000000000000000000000000000000000000000000000000000000000b2")
	stranger  = types.MustParseAddress("0x00000000000000000000000000000000000000000000000000000000000000b3")
	recipient = types.MustParseAddress("0x00000000000000000000000000000000000000000000000000000000000000b4")
	start     = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	fastRetry = RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
)

// faultInjector sits in front of the server. throttle requests get a
// rate_limited reply and failBefore requests a 503, neither reaching the
// server; dropAfter requests are processed but their replies replaced by a
// 502.
type faultInjector struct {
	next       http.Handler
	throttle   atomic.Int32
	failBefore atomic.Int32
	dropAfter  atomic.Int32
	requests   atomic.Int32
}

func (f *faultInjector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if f.throttle.Add(-1) >= 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32040,"message":"rate_limited"}}`))
		return
	}
	if f.failBefore.Add(-1) >= 0 {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}
	if f.dropAfter.Add(-1) >= 0 {
		f.next.ServeHTTP(httptest.NewRecorder(), r)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	f.next.ServeHTTP(w, r)
}

type env struct {
	t       *testing.T
	clock   *core.ManualClock
	manager *state.Manager
	faults  *faultInjector
	url     string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	_, err := manager.ApplyGenesis([]state.GenesisAlloc{{Address: owner, Balance: uint256.NewInt(10_000_000_000)}})
	require.NoError(t, err)
	clock := core.NewManualClock(start)
	engine := core.NewEngine(manager)
	engine.SetClock(clock)
	srv, err := rpc.NewServer(engine, manager, nil, nil, rpc.ServerConfig{
		Auth: rpc.AuthConfig{HMACSecret: testSecret, Issuer: testIssuer, Now: clock.Now},
	}, nil)
	require.NoError(t, err)
	faults := &faultInjector{next: srv.Handler()}
	ts := httptest.NewServer(faults)
	t.Cleanup(ts.Close)
	return &env{t: t, clock: clock, manager: manager, faults: faults, url: ts.URL}
}

func (e *env) orchestrator(caller types.Address) *Orchestrator {
	e.t.Helper()
	client, err := New(e.url, WithCredentials(caller, testSecret, testIssuer), WithClock(e.clock.Now))
	require.NoError(e.t, err)
	o := NewOrchestrator(client, fastRetry)
	o.now = e.clock.Now
	return o
}

func (e *env) create(o *Orchestrator) *core.Commitment {
	e.t.Helper()
	c, err := o.Create(context.Background(), CreateRequest{
		Arbiter:          arbiter.Hex(),
		PenaltyRecipient: recipient.Hex(),
		Description:      "daily standup notes",
		StakeAmount:      1_500_000_000,
		Deadline:         start.Add(48 * time.Hour),
	})
	require.NoError(e.t, err)
	return c
}

func TestLoadDerivesView(t *testing.T) {
	e := newEnv(t)
	c := e.create(e.orchestrator(owner))

	view, err := e.orchestrator(arbiter).Load(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, view.IsArbiter)
	require.False(t, view.IsOwner)
	require.False(t, view.Expired)
	require.Equal(t, 48*time.Hour, view.TimeRemaining)
	require.Equal(t, []core.Action{core.ActionConfirmCompleted, core.ActionConfirmFailed}, view.AvailableActions)
	require.Equal(t, "2d 0h", core.FormatTimeRemaining(view.TimeRemaining))

	e.clock.Advance(48 * time.Hour)
	view, err = e.orchestrator(stranger).Load(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, view.Expired)
	require.Equal(t, []core.Action{core.ActionClaimExpired}, view.AvailableActions)
}

func TestCreateDefaultsToBurnAndValidatesIdentifiers(t *testing.T) {
	e := newEnv(t)
	o := e.orchestrator(owner)
	c, err := o.Create(context.Background(), CreateRequest{
		Arbiter:     arbiter.Hex(),
		Description: "no recipient",
		StakeAmount: 1,
		Deadline:    start.Add(time.Hour),
	})
	require.NoError(t, err)
	require.True(t, c.PenaltyRecipient.IsBurn())

	before := e.faults.requests.Load()
	_, err = o.Create(context.Background(), CreateRequest{Arbiter: "0xnothex", Description: "x", StakeAmount: 1, Deadline: start.Add(time.Hour)})
	require.Error(t, err)
	require.Equal(t, before, e.faults.requests.Load(), "invalid identifiers must not reach the server")
}

func TestCreateRetryIsIdempotent(t *testing.T) {
	e := newEnv(t)
	o := e.orchestrator(owner)
	e.faults.dropAfter.Store(1)

	c := e.create(o)
	balance, err := e.manager.Balance(owner)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000_000-1_500_000_000), balance.Uint64(), "stake must be locked once")
	require.Equal(t, int32(2), e.faults.requests.Load())
	require.Equal(t, core.StatusPending, c.Status)
}

func TestTransportFailuresRetried(t *testing.T) {
	e := newEnv(t)
	c := e.create(e.orchestrator(owner))
	e.faults.failBefore.Store(2)

	out, err := e.orchestrator(arbiter).ConfirmCompleted(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusCompleted, out.Status)
}

func TestRateLimitedRetried(t *testing.T) {
	e := newEnv(t)
	c := e.create(e.orchestrator(owner))
	e.faults.requests.Store(0)
	e.faults.throttle.Store(2)

	out, err := e.orchestrator(arbiter).ConfirmFailed(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, out.Status)
	require.Equal(t, int32(3), e.faults.requests.Load())

	require.True(t, Retryable(&RPCError{HTTPStatus: http.StatusTooManyRequests, Code: rpc.CodeRateLimited}))
	require.False(t, Retryable(&RPCError{HTTPStatus: http.StatusConflict, Code: rpc.CodeAlreadyResolved}))
}

func TestRetryExhaustion(t *testing.T) {
	e := newEnv(t)
	c := e.create(e.orchestrator(owner))
	e.faults.failBefore.Store(10)

	_, err := e.orchestrator(arbiter).ConfirmFailed(context.Background(), c.ID)
	require.Error(t, err)
	require.True(t, Retryable(err))
}

func TestAlreadyResolvedFoldedOnRetry(t *testing.T) {
	e := newEnv(t)
	c := e.create(e.orchestrator(owner))
	e.faults.dropAfter.Store(1)

	out, err := e.orchestrator(arbiter).ConfirmFailed(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, out.Status)
	balance, err := e.manager.Balance(recipient)
	require.NoError(t, err)
	require.Equal(t, uint64(1_500_000_000), balance.Uint64())
}

func TestAlreadyResolvedNotFoldedForOtherOutcome(t *testing.T) {
	e := newEnv(t)
	c := e.create(e.orchestrator(owner))
	arb := e.orchestrator(arbiter)
	_, err := arb.ConfirmFailed(context.Background(), c.ID)
	require.NoError(t, err)

	_, err = arb.ConfirmCompleted(context.Background(), c.ID)
	require.ErrorIs(t, err, core.ErrAlreadyResolved)

	e.faults.failBefore.Store(1)
	_, err = arb.ConfirmCompleted(context.Background(), c.ID)
	require.ErrorIs(t, err, core.ErrAlreadyResolved)
}

func TestProtocolErrorsSurfaceVerbatim(t *testing.T) {
	e := newEnv(t)
	c := e.create(e.orchestrator(owner))

	_, err := e.orchestrator(stranger).ConfirmFailed(context.Background(), c.ID)
	require.ErrorIs(t, err, core.ErrUnauthorized)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, rpc.CodeUnauthorized, rpcErr.Code)
	require.False(t, Retryable(err))

	_, err = e.orchestrator(stranger).ClaimExpired(context.Background(), c.ID)
	require.ErrorIs(t, err, core.ErrNotExpiredYet)

	e.clock.Advance(48 * time.Hour)
	_, err = e.orchestrator(arbiter).ConfirmCompleted(context.Background(), c.ID)
	require.ErrorIs(t, err, core.ErrDeadlinePassed)

	_, err = e.orchestrator(stranger).Load(context.Background(), core.DeriveID(owner, arbiter, 1))
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestAnonymousLoadWithCaller(t *testing.T) {
	e := newEnv(t)
	c := e.create(e.orchestrator(owner))

	client, err := New(e.url, WithCaller(owner))
	require.NoError(t, err)
	view, err := NewOrchestrator(client, fastRetry).Load(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, view.IsOwner)
	require.Empty(t, view.AvailableActions)

	_, err = NewOrchestrator(client, fastRetry).ClaimExpired(context.Background(), c.ID)
	require.ErrorIs(t, err, core.ErrUnauthorized)
}
