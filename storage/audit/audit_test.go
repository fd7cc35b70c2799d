package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAndQuery(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	seq, err := store.Record(ctx, Entry{
		OccurredAt:   at,
		Method:       "commitment_create",
		Caller:       "0xaa",
		CommitmentID: "0x01",
		Digest:       Digest([]byte(`{"nonce":1}`)),
		Outcome:      "ok",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)

	_, err = store.Record(ctx, Entry{Method: "commitment_claimExpired", CommitmentID: "0x01", Digest: Digest(nil), Code: -32034, Outcome: "not_expired_yet"})
	require.NoError(t, err)
	_, err = store.Record(ctx, Entry{Method: "commitment_create", CommitmentID: "0x02", Digest: Digest(nil), Outcome: "ok"})
	require.NoError(t, err)

	history, err := store.ByCommitment(ctx, "0x01")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, at, history[0].OccurredAt)
	require.Equal(t, "0xaa", history[0].Caller)
	require.Equal(t, -32034, history[1].Code)

	recent, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "0x02", recent[0].CommitmentID)
}

func TestRecordRequiresMethod(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	_, err = store.Record(context.Background(), Entry{})
	require.Error(t, err)
}

func TestDigestStable(t *testing.T) {
	require.Equal(t, Digest([]byte("a")), Digest([]byte("a")))
	require.NotEqual(t, Digest([]byte("a")), Digest([]byte("b")))
	require.Len(t, Digest(nil), 64)
}
