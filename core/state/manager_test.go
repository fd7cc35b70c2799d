package state

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"commitvault/core/types"
	"commitvault/native/commitment"
	"commitvault/storage"
)

func testAddr(b byte) types.Address {
	var a types.Address
	a[0] = 0xc0
	a[31] = b
	return a
}

var (
	owner     = testAddr(1)
	arbiter   = testAddr(2)
	recipient = testAddr(3)
)

func newLevelManager(t *testing.T) *Manager {
	t.Helper()
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return NewManager(db)
}

func fundedEngine(t *testing.T, m *Manager, clock *commitment.ManualClock) *commitment.Engine {
	t.Helper()
	applied, err := m.ApplyGenesis([]GenesisAlloc{{Address: owner, Balance: uint256.NewInt(1_000)}})
	require.NoError(t, err)
	require.True(t, applied)
	engine := commitment.NewEngine(m)
	engine.SetClock(clock)
	return engine
}

func requireBalance(t *testing.T, m *Manager, addr types.Address, want uint64) {
	t.Helper()
	balance, err := m.Balance(addr)
	require.NoError(t, err)
	require.Equal(t, want, balance.Uint64(), "balance of %s", addr)
}

func TestGenesisAppliedOnce(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	allocs := []GenesisAlloc{{Address: owner, Balance: uint256.NewInt(500)}}
	applied, err := m.ApplyGenesis(allocs)
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = m.ApplyGenesis(allocs)
	require.NoError(t, err)
	require.False(t, applied)
	requireBalance(t, m, owner, 500)
}

func TestCreateAndCompleteRoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := commitment.NewManualClock(start)
	m := newLevelManager(t)
	engine := fundedEngine(t, m, clock)

	c, err := engine.Create(owner, commitment.CreateParams{
		Arbiter:          arbiter,
		PenaltyRecipient: &recipient,
		Description:      "finish the audit",
		StakeAmount:      250,
		Deadline:         start.Add(24 * time.Hour).UnixMilli(),
		Nonce:            9,
	})
	require.NoError(t, err)
	requireBalance(t, m, owner, 750)

	entry, ok, err := m.CustodyGet(c.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(250), entry.Amount)
	require.False(t, entry.Released)

	stored, ok, err := m.CommitmentGet(c.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c, stored)

	clock.Advance(time.Hour)
	res, err := engine.ConfirmCompleted(c.ID, arbiter)
	require.NoError(t, err)
	require.Equal(t, commitment.StatusCompleted, res.Commitment.Status)
	requireBalance(t, m, owner, 1_000)

	entry, _, err = m.CustodyGet(c.ID)
	require.NoError(t, err)
	require.True(t, entry.Released)
	require.Equal(t, owner, entry.Destination)
}

func TestBurnTallied(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := commitment.NewManualClock(start)
	m := NewManager(storage.NewMemDB())
	engine := fundedEngine(t, m, clock)

	c, err := engine.Create(owner, commitment.CreateParams{
		Arbiter:     arbiter,
		Description: "run every day",
		StakeAmount: 40,
		Deadline:    start.Add(time.Minute).UnixMilli(),
	})
	require.NoError(t, err)
	clock.Set(c.DeadlineTime())
	_, err = engine.ClaimExpired(c.ID, recipient)
	require.NoError(t, err)

	burned, err := m.BurnedSupply()
	require.NoError(t, err)
	require.Equal(t, uint64(40), burned.Uint64())
	requireBalance(t, m, types.BurnAddress, 40)
	requireBalance(t, m, owner, 960)
}

func TestLockedStakeSurvivesReopen(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := commitment.NewManualClock(start)
	path := filepath.Join(t.TempDir(), "state")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	m := NewManager(db)
	engine := fundedEngine(t, m, clock)

	var ids []commitment.ID
	for nonce, stake := range []uint64{30, 70} {
		c, err := engine.Create(owner, commitment.CreateParams{
			Arbiter:     arbiter,
			Description: "ship it",
			StakeAmount: stake,
			Deadline:    start.Add(time.Hour).UnixMilli(),
			Nonce:       uint64(nonce),
		})
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	_, err = engine.ConfirmCompleted(ids[0], arbiter)
	require.NoError(t, err)
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	t.Cleanup(reopened.Close)
	locked, err := NewManager(reopened).LockedStake()
	require.NoError(t, err)
	require.Equal(t, uint64(70), locked.Uint64())
}

func TestInsufficientFundsRollsBack(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	clock := commitment.NewManualClock(time.Unix(1_700_000_000, 0))
	engine := fundedEngine(t, m, clock)

	_, err := engine.Create(owner, commitment.CreateParams{
		Arbiter:     arbiter,
		Description: "overcommit",
		StakeAmount: 1_001,
		Deadline:    clock.Now().Add(time.Hour).UnixMilli(),
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	requireBalance(t, m, owner, 1_000)

	list, err := m.Commitments(CommitmentFilter{}, 0)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestUpdateErrorDiscardsWrites(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	boom := errors.New("boom")
	err := m.Update(func(l commitment.Ledger) error {
		tx := l.(*Tx)
		require.NoError(t, tx.Credit(owner, uint256.NewInt(10)))
		return boom
	})
	require.ErrorIs(t, err, boom)
	requireBalance(t, m, owner, 0)
}

func TestCustodyReleaseOnce(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.NoError(t, m.Credit(owner, uint256.NewInt(100)))
	id := commitment.DeriveID(owner, arbiter, 1)

	require.NoError(t, m.Update(func(l commitment.Ledger) error {
		handle, err := l.Lock(id, owner, 60)
		if err != nil {
			return err
		}
		if _, err := l.Lock(id, owner, 10); !errors.Is(err, ErrCustodyExists) {
			t.Fatalf("expected ErrCustodyExists, got %v", err)
		}
		if err := l.Release(commitment.CustodyHandle{ID: id, Amount: 59}, recipient); !errors.Is(err, ErrCustodyMismatch) {
			t.Fatalf("expected ErrCustodyMismatch, got %v", err)
		}
		return l.Release(handle, recipient)
	}))
	err := m.Update(func(l commitment.Ledger) error {
		return l.Release(commitment.CustodyHandle{ID: id, Amount: 60}, owner)
	})
	require.ErrorIs(t, err, ErrCustodyReleased)
	requireBalance(t, m, owner, 40)
	requireBalance(t, m, recipient, 60)
}

func TestTerminalRecordImmutable(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	c := &commitment.Commitment{
		ID:          commitment.DeriveID(owner, arbiter, 3),
		Owner:       owner,
		Arbiter:     arbiter,
		Description: "done",
		StakeAmount: 5,
		Deadline:    10,
		Status:      commitment.StatusFailed,
		ResolvedAt:  9,
	}
	require.NoError(t, m.Update(func(l commitment.Ledger) error { return l.CommitmentPut(c) }))
	c.Status = commitment.StatusCompleted
	err := m.Update(func(l commitment.Ledger) error { return l.CommitmentPut(c) })
	require.ErrorIs(t, err, commitment.ErrAlreadyResolved)
}

func TestCommitmentsFilter(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := commitment.NewManualClock(start)
	m := NewManager(storage.NewMemDB())
	engine := fundedEngine(t, m, clock)

	for nonce := uint64(0); nonce < 3; nonce++ {
		_, err := engine.Create(owner, commitment.CreateParams{
			Arbiter:     arbiter,
			Description: "task",
			StakeAmount: 10,
			Deadline:    start.Add(time.Hour).UnixMilli(),
			Nonce:       nonce,
		})
		require.NoError(t, err)
	}
	all, err := m.Commitments(CommitmentFilter{Owner: owner}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	_, err = engine.ConfirmFailed(all[0].ID, arbiter)
	require.NoError(t, err)
	pending := commitment.StatusPending
	open, err := m.Commitments(CommitmentFilter{Arbiter: arbiter, Status: &pending}, 0)
	require.NoError(t, err)
	require.Len(t, open, 2)

	limited, err := m.Commitments(CommitmentFilter{}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	none, err := m.Commitments(CommitmentFilter{Owner: recipient}, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestConcurrentResolutionPersistsOneOutcome(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := commitment.NewManualClock(start)
	m := newLevelManager(t)
	engine := fundedEngine(t, m, clock)

	c, err := engine.Create(owner, commitment.CreateParams{
		Arbiter:          arbiter,
		PenaltyRecipient: &recipient,
		Description:      "race",
		StakeAmount:      100,
		Deadline:         start.Add(time.Minute).UnixMilli(),
	})
	require.NoError(t, err)
	clock.Set(c.DeadlineTime())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = engine.ConfirmFailed(c.ID, arbiter)
			} else {
				_, err = engine.ClaimExpired(c.ID, testAddr(byte(10+i)))
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, wins)
	requireBalance(t, m, recipient, 100)
	requireBalance(t, m, owner, 900)
}
