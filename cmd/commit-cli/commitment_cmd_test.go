package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"commitvault/core/state"
	"commitvault/core/types"
	core "commitvault/native/commitment"
	"commitvault/rpc"
	sdk "commitvault/sdk/commitment"
	"commitvault/storage"
	"commitvault/storage/audit"
)

const (
	ownerHex   = "0x00000000000000000000000000000000000000000000000000000000000000d1"
	arbiterHex = "0x00000000000000000000000000000000000000000000000000000000000000d2"
	testSecret = "cli-secret"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func stubGlobals(t *testing.T, endpoint string, secretFn func() (string, error)) {
	t.Helper()
	origEndpoint, origNow, origSecret, origRetry := rpcEndpoint, cliNow, authSecret, cliRetry
	rpcEndpoint = endpoint
	cliNow = func() time.Time { return fixedNow }
	authSecret = secretFn
	cliRetry = sdk.RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	t.Cleanup(func() {
		rpcEndpoint, cliNow, authSecret, cliRetry = origEndpoint, origNow, origSecret, origRetry
	})
}

func TestArgValidation(t *testing.T) {
	stubGlobals(t, "http://127.0.0.1:1", func() (string, error) {
		t.Fatalf("secret requested during argument validation")
		return "", nil
	})

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"usage", nil, "Usage:"},
		{"unknown", []string{"bogus"}, "Unknown command: bogus"},
		{"create_missing_caller", []string{"create", "--arbiter", arbiterHex}, "--caller is required"},
		{"create_bad_caller", []string{"create", "--caller", "0x12"}, "--caller:"},
		{"create_missing_stake", []string{"create", "--caller", ownerHex, "--arbiter", arbiterHex, "--description", "x", "--deadline", "+1h"}, "--stake is required"},
		{"create_precision", []string{"create", "--caller", ownerHex, "--arbiter", arbiterHex, "--description", "x", "--stake", "0.0000000001", "--deadline", "+1h"}, "decimal places"},
		{"create_zero_stake", []string{"create", "--caller", ownerHex, "--arbiter", arbiterHex, "--description", "x", "--stake", "0", "--deadline", "+1h"}, "--stake must be positive"},
		{"create_past_deadline", []string{"create", "--caller", ownerHex, "--arbiter", arbiterHex, "--description", "x", "--stake", "1", "--deadline", "2020-01-01T00:00:00Z"}, "deadline must be in the future"},
		{"get_missing_id", []string{"get"}, "--id is required"},
		{"get_bad_id", []string{"get", "--id", "0x1234"}, "32-byte hex"},
		{"complete_missing_caller", []string{"complete", "--id", "0x" + strings.Repeat("ab", 32)}, "--caller is required"},
		{"history_missing_id", []string{"history"}, "--id is required"},
		{"list_bad_status", []string{"list", "--status", "archived"}, "--status must be"},
		{"positional", []string{"balance", "extra"}, "unexpected positional arguments"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tc.args, &stdout, &stderr); code != 1 {
				t.Fatalf("expected exit 1, got %d", code)
			}
			if !strings.Contains(stderr.String(), tc.want) {
				t.Fatalf("stderr %q does not contain %q", stderr.String(), tc.want)
			}
		})
	}
}

func TestParseDeadline(t *testing.T) {
	cases := map[string]time.Time{
		"+72h":                 fixedNow.Add(72 * time.Hour),
		"+3d":                  fixedNow.Add(72 * time.Hour),
		"+1.5D":                fixedNow.Add(36 * time.Hour),
		"2026-03-02T00:00:00Z": time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := parseDeadline(in, fixedNow)
		if err != nil {
			t.Fatalf("parseDeadline(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parseDeadline(%q) = %s, want %s", in, got, want)
		}
	}
	for _, bad := range []string{"", "+", "+d", "+-1h", "+soon", "tomorrow"} {
		if _, err := parseDeadline(bad, fixedNow); err == nil {
			t.Fatalf("parseDeadline(%q): expected error", bad)
		}
	}
}

func TestApplyGlobalFlags(t *testing.T) {
	orig := rpcEndpoint
	defer func() { rpcEndpoint = orig }()

	rest, err := applyGlobalFlags([]string{"--rpc", "http://node:1", "get", "--id", "x"})
	if err != nil {
		t.Fatalf("applyGlobalFlags: %v", err)
	}
	if rpcEndpoint != "http://node:1" || strings.Join(rest, " ") != "get --id x" {
		t.Fatalf("unexpected result endpoint=%s rest=%v", rpcEndpoint, rest)
	}
	if _, err := applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatalf("expected error for dangling --rpc")
	}
}

func TestFormatBalance(t *testing.T) {
	if got := formatBalance("2500000000"); got != "2.5" {
		t.Fatalf("formatBalance = %q", got)
	}
	huge := "1" + strings.Repeat("0", 30)
	if got := formatBalance(huge); got != huge+" (base units)" {
		t.Fatalf("formatBalance(huge) = %q", got)
	}
}

func startNode(t *testing.T) (string, *state.Manager) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	if _, err := manager.ApplyGenesis([]state.GenesisAlloc{{Address: types.MustParseAddress(ownerHex), Balance: uint256.NewInt(10_000_000_000)}}); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	engine := core.NewEngine(manager)
	engine.SetClock(core.NewManualClock(fixedNow))
	journal, err := audit.Open(":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	srv, err := rpc.NewServer(engine, manager, journal, nil, rpc.ServerConfig{
		Auth: rpc.AuthConfig{HMACSecret: testSecret, Issuer: defaultIssuer, Now: func() time.Time { return fixedNow }},
	}, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, manager
}

func TestCommitmentLifecycle(t *testing.T) {
	endpoint, _ := startNode(t)
	stubGlobals(t, endpoint, func() (string, error) { return testSecret, nil })

	var stdout, stderr bytes.Buffer
	code := run([]string{"create", "--caller", ownerHex, "--arbiter", arbiterHex,
		"--description", "ship the release notes", "--stake", "1.5", "--deadline", "+2d", "--json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("create exit %d: %s", code, stderr.String())
	}
	var created commitmentOutput
	if err := json.Unmarshal(stdout.Bytes(), &created); err != nil {
		t.Fatalf("decode create output: %v", err)
	}
	if created.Status != "pending" || created.Stake != "1.5" || created.PenaltyRecipient != "burn" {
		t.Fatalf("unexpected create output %+v", created)
	}

	stdout.Reset()
	if code := run([]string{"get", "--id", created.ID, "--caller", arbiterHex}, &stdout, &stderr); code != 0 {
		t.Fatalf("get exit %d: %s", code, stderr.String())
	}
	for _, want := range []string{"Waiting for confirmation", "Time remaining:    2d 0h", "confirm_completed, confirm_failed"} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("get output missing %q:\n%s", want, stdout.String())
		}
	}

	stderr.Reset()
	if code := run([]string{"complete", "--id", created.ID, "--caller", ownerHex}, &stdout, &stderr); code != 1 {
		t.Fatalf("owner completion should fail, exit %d", code)
	}
	if !strings.Contains(stderr.String(), "RPC error") {
		t.Fatalf("expected RPC error, got %q", stderr.String())
	}

	stdout.Reset()
	if code := run([]string{"complete", "--id", created.ID, "--caller", arbiterHex}, &stdout, &stderr); code != 0 {
		t.Fatalf("complete exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Status:            Completed") {
		t.Fatalf("unexpected complete output:\n%s", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"balance", "--address", ownerHex}, &stdout, &stderr); code != 0 {
		t.Fatalf("balance exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), ": 10\n") {
		t.Fatalf("stake not returned, got %q", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"list", "--owner", ownerHex, "--status", "completed"}, &stdout, &stderr); code != 0 {
		t.Fatalf("list exit %d: %s", code, stderr.String())
	}
	var listed []rpc.CommitmentJSON
	if err := json.Unmarshal(stdout.Bytes(), &listed); err != nil || len(listed) != 1 {
		t.Fatalf("list output %q: %v", stdout.String(), err)
	}

	stdout.Reset()
	if code := run([]string{"history", "--id", created.ID}, &stdout, &stderr); code != 0 {
		t.Fatalf("history exit %d: %s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected create, rejected and accepted completion, got:\n%s", stdout.String())
	}
	if !strings.Contains(lines[1], "commitment_confirmCompleted") || !strings.Contains(lines[1], "unauthorized") {
		t.Fatalf("rejected completion not journaled: %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], "ok") {
		t.Fatalf("accepted completion not journaled: %q", lines[2])
	}
}
